package store

import (
	"context"
	"errors"
	"time"

	"github.com/jfeld/orderdesk/pkg/models"
)

// Error taxonomy for the coordinator. Wrapped errors are classified with
// errors.Is; the HTTP layer maps each sentinel to a status code.
var (
	ErrNotFound              = errors.New("not found")
	ErrInvalidTransition     = errors.New("invalid transition")
	ErrInvalidHandshakeState = errors.New("invalid handshake state")
	ErrValidation            = errors.New("validation failed")
	ErrTransient             = errors.New("transient store failure")
)

type OrderFilter struct {
	ID          string
	RequesterID string
	FulfillerID string
}

// OrderStore is the durable record of orders. Mutate is the only write
// path after creation: it runs fn under per-order serialization, so two
// transitions on the same order can never interleave. Writes to distinct
// orders are independent.
type OrderStore interface {
	Create(ctx context.Context, o *models.Order) error
	Get(ctx context.Context, id string) (*models.Order, error)
	List(ctx context.Context, f OrderFilter) ([]*models.Order, error)
	Mutate(ctx context.Context, id string, fn func(o *models.Order) error) (*models.Order, error)

	// Delete is administrative only; no lifecycle code path reaches it.
	Delete(ctx context.Context, id string) error
}

// MessageStore is the append-only conversation log. Append assigns the
// Seq insertion id; entries are never edited or deleted. List returns
// the full log ordered by (created_at, seq), a total stable order, so
// repeated reads are prefix-consistent.
type MessageStore interface {
	Append(ctx context.Context, m *models.Message) error
	List(ctx context.Context, orderID string) ([]models.Message, error)
}

type QueueStatus string

const (
	QueuePending   QueueStatus = "PENDING"
	QueueFailed    QueueStatus = "FAILED"
	QueueExhausted QueueStatus = "EXHAUSTED"
)

// Notification is an outbox entry for a system message whose initial
// append failed. The notifier worker drains these asynchronously; the
// triggering transition has already committed and is never rolled back.
type Notification struct {
	ID            int64
	OrderID       string
	Body          string
	PrevStatus    models.Status
	NewStatus     models.Status
	Status        QueueStatus
	AttemptCount  int
	NextAttemptAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type NotificationQueue interface {
	Enqueue(ctx context.Context, n *Notification) error
	Pending(ctx context.Context, limit, maxAttempts int, now time.Time) ([]*Notification, error)
	MarkDone(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, attempts int, status QueueStatus, nextAttempt time.Time) error
}
