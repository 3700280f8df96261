package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/sibylhq/sibyl/internal/domain/models"
	"github.com/sibylhq/sibyl/internal/ports"
)

// handlerTimeout bounds one delivery in log mode; ingestion of a large
// document embeds many batches, so this is generous.
const handlerTimeout = 10 * time.Minute

// KafkaBus is the durable backend. Produce writes with acks=all keyed by
// document UUID so one document always lands on one partition. Offsets
// auto-commit on read: a failed handler is logged, not redelivered, except
// across a group rebalance (at-least-once), which the idempotent ingest
// handler tolerates.
type KafkaBus struct {
	writer         *kafka.Writer
	brokers        []string
	topic          string
	groupID        string
	numConsumers   int
	produceTimeout time.Duration

	mu      sync.Mutex
	readers []*kafka.Reader
	started bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewKafkaBus creates the Kafka-backed bus. The connection is lazy; the
// first Produce or Consume touches the brokers.
func NewKafkaBus(brokers []string, topic, groupID string, numConsumers int, produceTimeout time.Duration) *KafkaBus {
	if numConsumers < 1 {
		numConsumers = 1
	}
	if produceTimeout <= 0 {
		produceTimeout = DefaultProduceTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &KafkaBus{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			WriteTimeout: produceTimeout,
		},
		brokers:        brokers,
		topic:          topic,
		groupID:        groupID,
		numConsumers:   numConsumers,
		produceTimeout: produceTimeout,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Produce publishes a task, keyed by document UUID for partition affinity.
func (b *KafkaBus) Produce(ctx context.Context, task *models.Task) error {
	if task == nil {
		return fmt.Errorf("task is required")
	}

	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.produceTimeout)
	defer cancel()

	if err := b.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.DocumentUUID),
		Value: payload,
	}); err != nil {
		return fmt.Errorf("produce task: %w", err)
	}
	return nil
}

// Consume starts one consumer-group reader per configured consumer.
func (b *KafkaBus) Consume(handler ports.TaskHandler) error {
	if handler == nil {
		return fmt.Errorf("handler is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return fmt.Errorf("consumers already started")
	}
	b.started = true

	for i := 0; i < b.numConsumers; i++ {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:  b.brokers,
			GroupID:  b.groupID,
			Topic:    b.topic,
			MinBytes: 1,
			MaxBytes: 10 << 20,
		})
		b.readers = append(b.readers, reader)
		b.wg.Add(1)
		go b.consumeLoop(i, reader, handler)
	}
	log.Printf("kafka bus: started %d consumers on topic %s (group %s)", b.numConsumers, b.topic, b.groupID)
	return nil
}

func (b *KafkaBus) consumeLoop(id int, reader *kafka.Reader, handler ports.TaskHandler) {
	defer b.wg.Done()
	for {
		// ReadMessage commits the offset as part of the read; handler
		// failures surface in document status rather than as redelivery.
		msg, err := reader.ReadMessage(b.ctx)
		if err != nil {
			if b.ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return
			}
			log.Printf("bus reader %d: read failed: %v", id, err)
			time.Sleep(time.Second)
			continue
		}
		b.dispatch(id, handler, msg)
	}
}

func (b *KafkaBus) dispatch(id int, handler ports.TaskHandler, msg kafka.Message) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: panic recovered in bus reader %d: %v", id, r)
		}
	}()

	var task models.Task
	if err := json.Unmarshal(msg.Value, &task); err != nil {
		log.Printf("bus reader %d: dropping undecodable task at offset %d: %v", id, msg.Offset, err)
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, handlerTimeout)
	defer cancel()

	if err := handler(ctx, &task); err != nil {
		log.Printf("bus reader %d: task %s/%s failed: %v", id, task.TaskType, task.DocumentUUID, err)
	}
}

// Stop closes the readers, waits for in-flight handlers, then closes the
// writer.
func (b *KafkaBus) Stop(ctx context.Context) error {
	b.mu.Lock()
	readers := b.readers
	b.readers = nil
	b.mu.Unlock()

	var errs []string
	for _, reader := range readers {
		if err := reader.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Sprintf("drain interrupted: %v", ctx.Err()))
	}
	b.cancel()

	if err := b.writer.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return fmt.Errorf("bus stop: %s", strings.Join(errs, "; "))
	}
	return nil
}
