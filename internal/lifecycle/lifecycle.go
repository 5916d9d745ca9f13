// Package lifecycle implements the order state machine. All transition
// policy lives in the edge table below; nothing else in the repository
// compares statuses to decide what an actor may do.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jfeld/orderdesk/internal/store"
	"github.com/jfeld/orderdesk/pkg/models"
)

type edge struct {
	from, to models.Status
}

// transitions maps each legal edge to the roles allowed to take it.
// There are no self-edges, so replaying an already-applied transition
// always fails and never duplicates a system message.
var transitions = map[edge][]models.Role{
	{models.StatusPending, models.StatusAccepted}:         {models.RoleFulfiller},
	{models.StatusPending, models.StatusRejected}:         {models.RoleFulfiller},
	{models.StatusAccepted, models.StatusPaymentPending}:  {models.RoleFulfiller},
	{models.StatusPaymentPending, models.StatusAccepted}:  {models.RoleFulfiller},
	{models.StatusAccepted, models.StatusShipped}:         {models.RoleFulfiller},
	{models.StatusAccepted, models.StatusCancelled}:       {models.RoleFulfiller},
	{models.StatusPaymentPending, models.StatusCancelled}: {models.RoleFulfiller},
	{models.StatusShipped, models.StatusCompleted}:        {models.RoleFulfiller},

	// Restore: the requester may re-open a closed order from history.
	{models.StatusRejected, models.StatusPending}:  {models.RoleRequester},
	{models.StatusCancelled, models.StatusPending}: {models.RoleRequester},
}

// CanTransition reports whether actor may move an order from one status
// to another.
func CanTransition(from, to models.Status, actor models.Role) bool {
	for _, role := range transitions[edge{from, to}] {
		if role == actor {
			return true
		}
	}
	return false
}

// Notifier receives every committed transition. Implementations must
// not fail the transition: the order write has already committed by the
// time the notifier runs.
type Notifier interface {
	StatusChanged(ctx context.Context, o *models.Order, prev, next models.Status, actor models.Role)
}

type Service struct {
	orders   store.OrderStore
	notifier Notifier
	logger   *logrus.Logger
	now      func() time.Time
}

func NewService(orders store.OrderStore, notifier Notifier, logger *logrus.Logger) *Service {
	return &Service{
		orders:   orders,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type CreateRequest struct {
	RequesterID         string
	FulfillerID         string
	Items               []models.LineItem
	Total               float64
	SpecialInstructions string
	ShippingAddress     string
}

// Create opens a new transaction in status pending. A zero total is
// computed from the line items.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Order, error) {
	if req.RequesterID == "" {
		return nil, fmt.Errorf("requester id is required: %w", store.ErrValidation)
	}
	if req.FulfillerID == "" {
		return nil, fmt.Errorf("fulfiller id is required: %w", store.ErrValidation)
	}
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("at least one line item is required: %w", store.ErrValidation)
	}
	total := req.Total
	if total == 0 {
		for _, item := range req.Items {
			total += item.UnitPrice
		}
	}

	now := s.now()
	o := &models.Order{
		ID:                  uuid.New().String(),
		RequesterID:         req.RequesterID,
		FulfillerID:         req.FulfillerID,
		Items:               req.Items,
		Total:               total,
		SpecialInstructions: req.SpecialInstructions,
		ShippingAddress:     req.ShippingAddress,
		Status:              models.StatusPending,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"order_id":     o.ID,
		"requester_id": o.RequesterID,
		"fulfiller_id": o.FulfillerID,
		"total":        o.Total,
	}).Info("Order created")
	return o, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Order, error) {
	return s.orders.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, f store.OrderFilter) ([]*models.Order, error) {
	return s.orders.List(ctx, f)
}

// ListPartition splits orders into the active and history views. The
// partition is derived from status, never stored.
func (s *Service) ListPartition(ctx context.Context, f store.OrderFilter) (active, history []*models.Order, err error) {
	orders, err := s.orders.List(ctx, f)
	if err != nil {
		return nil, nil, err
	}
	for _, o := range orders {
		if o.Status.Active() {
			active = append(active, o)
		} else {
			history = append(history, o)
		}
	}
	return active, history, nil
}

// Transition moves an order to target if the edge table allows it for
// actor. The status and updated_at change commit atomically under the
// store's per-order serialization; the notifier runs only after the
// commit, so its system message can never predate the status it
// describes.
func (s *Service) Transition(ctx context.Context, orderID string, target models.Status, actor models.Role) (*models.Order, error) {
	return s.TransitionWith(ctx, orderID, target, actor, nil)
}

// TransitionWith additionally applies extra to the order inside the
// same atomic mutation. The payment handshake uses it to persist
// payment instructions together with the status change.
func (s *Service) TransitionWith(ctx context.Context, orderID string, target models.Status, actor models.Role, extra func(o *models.Order) error) (*models.Order, error) {
	var prev models.Status
	updated, err := s.orders.Mutate(ctx, orderID, func(o *models.Order) error {
		if !CanTransition(o.Status, target, actor) {
			return fmt.Errorf("%s may not move order from %s to %s: %w",
				actor, o.Status, target, store.ErrInvalidTransition)
		}
		prev = o.Status
		o.Status = target
		o.UpdatedAt = s.now()
		if extra != nil {
			return extra(o)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"order_id": orderID,
		"from":     prev,
		"to":       target,
		"actor":    actor,
	}).Info("Order transitioned")

	s.notifier.StatusChanged(ctx, updated, prev, target, actor)
	return updated, nil
}

// Delete is administrative only.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.orders.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.WithField("order_id", id).Warn("Order deleted by administrator")
	return nil
}
