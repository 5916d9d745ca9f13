// Package conversation manages the append-only message log attached to
// each order. Messages are never edited or deleted; the store decides
// log order, not client arrival order.
package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jfeld/orderdesk/internal/store"
	"github.com/jfeld/orderdesk/pkg/models"
)

type Service struct {
	orders   store.OrderStore
	messages store.MessageStore
	logger   *logrus.Logger
	now      func() time.Time
}

func NewService(orders store.OrderStore, messages store.MessageStore, logger *logrus.Logger) *Service {
	return &Service{
		orders:   orders,
		messages: messages,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type AppendRequest struct {
	OrderID    string
	SenderID   string
	SenderRole models.Role
	Type       models.MessageType
	Body       string
}

// Append validates and persists one message. Text and payment_info
// messages must carry a body; system and payment_confirmed messages
// arrive with templated bodies from their producers. Safe under
// concurrent appends from both actors.
func (s *Service) Append(ctx context.Context, req AppendRequest) (*models.Message, error) {
	switch req.Type {
	case models.MessageText, models.MessagePaymentInfo:
		if req.Body == "" {
			return nil, fmt.Errorf("message body is required for type %s: %w",
				req.Type, store.ErrValidation)
		}
	case models.MessageSystem, models.MessagePaymentConfirmed:
		// templated bodies, no further checks
	default:
		return nil, fmt.Errorf("unknown message type %q: %w", req.Type, store.ErrValidation)
	}
	if req.SenderID == "" {
		return nil, fmt.Errorf("sender id is required: %w", store.ErrValidation)
	}

	if _, err := s.orders.Get(ctx, req.OrderID); err != nil {
		return nil, err
	}

	m := &models.Message{
		ID:         uuid.New().String(),
		OrderID:    req.OrderID,
		SenderID:   req.SenderID,
		SenderRole: req.SenderRole,
		Type:       req.Type,
		Body:       req.Body,
		CreatedAt:  s.now(),
	}
	if err := s.messages.Append(ctx, m); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"order_id":   m.OrderID,
		"message_id": m.ID,
		"type":       m.Type,
		"role":       m.SenderRole,
	}).Info("Message appended")
	return m, nil
}

// List returns the full log for an order in (created_at, seq) order.
// Repeated calls are prefix-consistent: earlier results only ever grow
// at the tail.
func (s *Service) List(ctx context.Context, orderID string) ([]models.Message, error) {
	if _, err := s.orders.Get(ctx, orderID); err != nil {
		return nil, err
	}
	return s.messages.List(ctx, orderID)
}
