package ports

import (
	"context"

	"github.com/sibylhq/sibyl/internal/domain/models"
)

// TaskHandler processes one dequeued task. Returning an error marks the
// task failed; the bus itself never retries within a delivery.
type TaskHandler func(ctx context.Context, task *models.Task) error

// MessageBus is the pluggable ingestion queue. The channel backend gives
// at-most-once delivery, the log backend at-least-once; handlers are
// written idempotent on document_uuid to be safe under either.
type MessageBus interface {
	// Produce enqueues a task, blocking up to the configured timeout.
	Produce(ctx context.Context, task *models.Task) error
	// Consume starts the configured number of workers dispatching to the
	// handler. It returns immediately; workers run until Stop.
	Consume(handler TaskHandler) error
	// Stop drains in-flight messages within the grace period, then
	// releases the backend.
	Stop(ctx context.Context) error
}
