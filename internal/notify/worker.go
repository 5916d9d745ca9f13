package notify

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jfeld/orderdesk/internal/conversation"
	"github.com/jfeld/orderdesk/internal/store"
	"github.com/jfeld/orderdesk/pkg/models"
)

// Worker drains the notification outbox, re-appending system messages
// whose first insert failed. Entries that exhaust their attempts are
// marked and left for inspection.
type Worker struct {
	queue         store.NotificationQueue
	conversations *conversation.Service
	logger        *logrus.Logger

	pollInterval time.Duration
	batchLimit   int
	maxAttempts  int
	retryDelay   time.Duration
}

func NewWorker(queue store.NotificationQueue, conversations *conversation.Service, logger *logrus.Logger, pollInterval time.Duration) *Worker {
	return &Worker{
		queue:         queue,
		conversations: conversations,
		logger:        logger,
		pollInterval:  pollInterval,
		batchLimit:    50,
		maxAttempts:   3,
		retryDelay:    2 * time.Second,
	}
}

// Start blocks until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.Drain(ctx)
		}
	}
}

// Drain runs one delivery pass over the pending entries.
func (w *Worker) Drain(ctx context.Context) {
	pending, err := w.queue.Pending(ctx, w.batchLimit, w.maxAttempts, time.Now().UTC())
	if err != nil {
		w.logger.WithError(err).Error("Failed to fetch pending notifications")
		return
	}

	for _, n := range pending {
		_, err := w.conversations.Append(ctx, conversation.AppendRequest{
			OrderID:    n.OrderID,
			SenderID:   SenderID,
			SenderRole: models.RoleSystem,
			Type:       models.MessageSystem,
			Body:       n.Body,
		})
		if err != nil {
			w.recordFailure(ctx, n, err)
			continue
		}
		if err := w.queue.MarkDone(ctx, n.ID); err != nil {
			w.logger.WithError(err).WithField("notification_id", n.ID).
				Error("Failed to remove delivered notification")
			continue
		}
		w.logger.WithFields(logrus.Fields{
			"notification_id": n.ID,
			"order_id":        n.OrderID,
		}).Info("Queued system message delivered")
	}
}

func (w *Worker) recordFailure(ctx context.Context, n *store.Notification, cause error) {
	attempts := n.AttemptCount + 1
	status := store.QueueFailed
	if attempts >= w.maxAttempts {
		status = store.QueueExhausted
	}
	next := time.Now().UTC().Add(w.retryDelay)
	if err := w.queue.MarkFailed(ctx, n.ID, attempts, status, next); err != nil {
		w.logger.WithError(err).WithField("notification_id", n.ID).
			Error("Failed to update notification after delivery failure")
	}
	w.logger.WithError(cause).WithFields(logrus.Fields{
		"notification_id": n.ID,
		"order_id":        n.OrderID,
		"attempts":        attempts,
		"status":          status,
	}).Warn("System message delivery failed")
}
