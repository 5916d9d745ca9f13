// Package notify turns committed order transitions into system messages
// in the conversation log, so the log reads as a complete narrative of
// the order. A notification must never fail its triggering transition:
// the order write has already committed, so failures here are logged,
// queued and retried asynchronously by the Worker.
package notify

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/jfeld/orderdesk/internal/conversation"
	"github.com/jfeld/orderdesk/internal/events"
	"github.com/jfeld/orderdesk/internal/store"
	"github.com/jfeld/orderdesk/pkg/models"
)

// SenderID is the synthetic sender of every system message.
const SenderID = "system"

type edge struct {
	from, to models.Status
}

// templates holds the narrative line per transition. Edges without an
// entry emit no system message: accepted → payment_pending is narrated
// by the payment_info message the handshake already appended.
var templates = map[edge]string{
	{models.StatusPending, models.StatusAccepted}:         "request accepted",
	{models.StatusPending, models.StatusRejected}:         "request rejected",
	{models.StatusPaymentPending, models.StatusAccepted}:  "payment confirmed",
	{models.StatusAccepted, models.StatusShipped}:         "marked as shipped",
	{models.StatusShipped, models.StatusCompleted}:        "marked as completed",
	{models.StatusAccepted, models.StatusCancelled}:       "request cancelled",
	{models.StatusPaymentPending, models.StatusCancelled}: "request cancelled",
	{models.StatusRejected, models.StatusPending}:         "request restored",
	{models.StatusCancelled, models.StatusPending}:        "request restored",
}

// Template returns the system message body for a transition, if any.
func Template(prev, next models.Status) (string, bool) {
	body, ok := templates[edge{prev, next}]
	return body, ok
}

type EventPublisher interface {
	PublishStatusChanged(event events.StatusChangedEvent) error
}

// Generator implements lifecycle.Notifier.
type Generator struct {
	conversations *conversation.Service
	queue         store.NotificationQueue
	publisher     EventPublisher
	logger        *logrus.Logger
}

// NewGenerator builds a Generator. publisher may be nil when no broker
// is configured; the conversation-log side is unaffected.
func NewGenerator(conversations *conversation.Service, queue store.NotificationQueue, publisher EventPublisher, logger *logrus.Logger) *Generator {
	return &Generator{
		conversations: conversations,
		queue:         queue,
		publisher:     publisher,
		logger:        logger,
	}
}

func (g *Generator) StatusChanged(ctx context.Context, o *models.Order, prev, next models.Status, actor models.Role) {
	if g.publisher != nil {
		err := g.publisher.PublishStatusChanged(events.StatusChangedEvent{
			OrderID:    o.ID,
			PrevStatus: prev,
			NewStatus:  next,
			Actor:      actor,
			OccurredAt: o.UpdatedAt,
		})
		if err != nil {
			g.logger.WithError(err).WithField("order_id", o.ID).
				Error("Failed to publish status changed event")
		}
	}

	body, ok := Template(prev, next)
	if !ok {
		return
	}

	_, err := g.conversations.Append(ctx, conversation.AppendRequest{
		OrderID:    o.ID,
		SenderID:   SenderID,
		SenderRole: models.RoleSystem,
		Type:       models.MessageSystem,
		Body:       body,
	})
	if err == nil {
		return
	}

	g.logger.WithError(err).WithFields(logrus.Fields{
		"order_id": o.ID,
		"from":     prev,
		"to":       next,
	}).Error("Failed to append system message, queueing for retry")

	n := &store.Notification{
		OrderID:    o.ID,
		Body:       body,
		PrevStatus: prev,
		NewStatus:  next,
	}
	if err := g.queue.Enqueue(ctx, n); err != nil {
		// Status correctness takes precedence over narrative
		// completeness; nothing more to do than record the loss.
		g.logger.WithError(err).WithField("order_id", o.ID).
			Error("Failed to queue system message")
	}
}
