// Package handshake implements the two-message payment exchange layered
// on the conversation log. Representing the handshake as messages keeps
// the negotiation auditable in the same channel both parties already
// use, instead of a silent status flip.
package handshake

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/jfeld/orderdesk/internal/conversation"
	"github.com/jfeld/orderdesk/internal/lifecycle"
	"github.com/jfeld/orderdesk/internal/store"
	"github.com/jfeld/orderdesk/pkg/models"
)

// ConfirmationBody is the fixed acknowledgement carried by every
// payment_confirmed message.
const ConfirmationBody = "Payment received, thank you."

type Service struct {
	orders        store.OrderStore
	conversations *conversation.Service
	lifecycle     *lifecycle.Service
	logger        *logrus.Logger
}

func NewService(orders store.OrderStore, conversations *conversation.Service, lc *lifecycle.Service, logger *logrus.Logger) *Service {
	return &Service{
		orders:        orders,
		conversations: conversations,
		lifecycle:     lc,
		logger:        logger,
	}
}

// SendPaymentInfo appends a payment_info message with the fulfiller's
// instructions, persists the instructions on the order and moves it to
// payment_pending. The order must currently be accepted.
func (s *Service) SendPaymentInfo(ctx context.Context, orderID, fulfillerID, instructions string) (*models.Order, error) {
	if instructions == "" {
		return nil, fmt.Errorf("payment instructions are required: %w", store.ErrValidation)
	}

	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != models.StatusAccepted {
		return nil, fmt.Errorf("payment info requires status %s, order is %s: %w",
			models.StatusAccepted, o.Status, store.ErrInvalidHandshakeState)
	}

	if _, err := s.conversations.Append(ctx, conversation.AppendRequest{
		OrderID:    orderID,
		SenderID:   fulfillerID,
		SenderRole: models.RoleFulfiller,
		Type:       models.MessagePaymentInfo,
		Body:       instructions,
	}); err != nil {
		return nil, err
	}

	updated, err := s.lifecycle.TransitionWith(ctx, orderID,
		models.StatusPaymentPending, models.RoleFulfiller,
		func(o *models.Order) error {
			o.PaymentInstructions = instructions
			return nil
		})
	if err != nil {
		return nil, asHandshakeError(err)
	}

	s.logger.WithField("order_id", orderID).Info("Payment info sent")
	return updated, nil
}

// ConfirmPayment appends the fixed payment_confirmed acknowledgement
// and moves the order back to accepted. The order must currently be
// payment_pending.
func (s *Service) ConfirmPayment(ctx context.Context, orderID, fulfillerID string) (*models.Order, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != models.StatusPaymentPending {
		return nil, fmt.Errorf("payment confirmation requires status %s, order is %s: %w",
			models.StatusPaymentPending, o.Status, store.ErrInvalidHandshakeState)
	}

	if _, err := s.conversations.Append(ctx, conversation.AppendRequest{
		OrderID:    orderID,
		SenderID:   fulfillerID,
		SenderRole: models.RoleFulfiller,
		Type:       models.MessagePaymentConfirmed,
		Body:       ConfirmationBody,
	}); err != nil {
		return nil, err
	}

	updated, err := s.lifecycle.Transition(ctx, orderID, models.StatusAccepted, models.RoleFulfiller)
	if err != nil {
		return nil, asHandshakeError(err)
	}

	s.logger.WithField("order_id", orderID).Info("Payment confirmed")
	return updated, nil
}

// asHandshakeError reclassifies an edge rejection that slipped past the
// precondition check (a concurrent transition won the row lock) as a
// handshake-state error, which is what the caller attempted.
func asHandshakeError(err error) error {
	if errors.Is(err, store.ErrInvalidTransition) {
		return fmt.Errorf("%v: %w", err, store.ErrInvalidHandshakeState)
	}
	return err
}
