package bus

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sibylhq/sibyl/internal/adapters/metrics"
	"github.com/sibylhq/sibyl/internal/domain/models"
	"github.com/sibylhq/sibyl/internal/ports"
)

const (
	// DefaultMaxSize bounds the in-process queue
	DefaultMaxSize = 100
	// DefaultNumConsumers is the worker count draining the queue
	DefaultNumConsumers = 2
	// DefaultProduceTimeout is how long Produce blocks on a full queue
	DefaultProduceTimeout = 5 * time.Second
)

// ChannelBus is the in-process backend: a bounded queue drained by N
// workers. Delivery is at-most-once; a handler panic is recovered and
// the task is gone.
type ChannelBus struct {
	queue          chan *models.Task
	numConsumers   int
	produceTimeout time.Duration

	mu      sync.Mutex
	started bool
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewChannelBus creates the in-process bus. Non-positive sizes fall back
// to the defaults.
func NewChannelBus(maxSize, numConsumers int, produceTimeout time.Duration) *ChannelBus {
	if maxSize < 1 {
		maxSize = DefaultMaxSize
	}
	if numConsumers < 1 {
		numConsumers = DefaultNumConsumers
	}
	if produceTimeout <= 0 {
		produceTimeout = DefaultProduceTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &ChannelBus{
		queue:          make(chan *models.Task, maxSize),
		numConsumers:   numConsumers,
		produceTimeout: produceTimeout,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Produce enqueues a task, blocking up to the produce timeout when the
// queue is full.
func (b *ChannelBus) Produce(ctx context.Context, task *models.Task) (err error) {
	if task == nil {
		return fmt.Errorf("task is required")
	}

	// Stop may close the queue between our check and the send; recover
	// turns that into an error instead of a crash.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("bus is stopped")
		}
	}()

	b.mu.Lock()
	stopped := b.stopped
	b.mu.Unlock()
	if stopped {
		return fmt.Errorf("bus is stopped")
	}

	timer := time.NewTimer(b.produceTimeout)
	defer timer.Stop()

	select {
	case b.queue <- task:
		metrics.BusQueueDepth.Set(float64(len(b.queue)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("queue full: produce timed out after %s", b.produceTimeout)
	}
}

// Consume starts the workers. It returns immediately; workers run until
// Stop closes the queue.
func (b *ChannelBus) Consume(handler ports.TaskHandler) error {
	if handler == nil {
		return fmt.Errorf("handler is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return fmt.Errorf("consumers already started")
	}
	if b.stopped {
		return fmt.Errorf("bus is stopped")
	}
	b.started = true

	for i := 0; i < b.numConsumers; i++ {
		b.wg.Add(1)
		go b.worker(i, handler)
	}
	log.Printf("channel bus: started %d consumers (queue size %d)", b.numConsumers, cap(b.queue))
	return nil
}

func (b *ChannelBus) worker(id int, handler ports.TaskHandler) {
	defer b.wg.Done()
	for task := range b.queue {
		metrics.BusQueueDepth.Set(float64(len(b.queue)))
		b.handle(id, handler, task)
	}
}

func (b *ChannelBus) handle(id int, handler ports.TaskHandler, task *models.Task) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: panic recovered in bus worker %d: %v", id, r)
		}
	}()

	if err := handler(b.ctx, task); err != nil {
		// At-most-once: the task is not requeued, the failure lives in
		// the document status.
		log.Printf("bus worker %d: task %s/%s failed: %v", id, task.TaskType, task.DocumentUUID, err)
	}
}

// Stop closes the intake and waits for in-flight tasks to drain. When the
// context expires first, running handlers are cancelled.
func (b *ChannelBus) Stop(ctx context.Context) error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil
	}
	b.stopped = true
	close(b.queue)
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.cancel()
		return nil
	case <-ctx.Done():
		b.cancel()
		return fmt.Errorf("bus stop: drain interrupted: %w", ctx.Err())
	}
}
