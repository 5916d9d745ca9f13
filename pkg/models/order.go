package models

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of an order. The set is closed: unknown
// values are rejected at the API boundary by ParseStatus.
type Status string

const (
	StatusPending        Status = "pending"
	StatusAccepted       Status = "accepted"
	StatusPaymentPending Status = "payment_pending"
	StatusShipped        Status = "shipped"
	StatusCompleted      Status = "completed"
	StatusRejected       Status = "rejected"
	StatusCancelled      Status = "cancelled"
)

func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusAccepted, StatusPaymentPending, StatusShipped,
		StatusCompleted, StatusRejected, StatusCancelled:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown order status %q", s)
}

// Active reports whether the order is still progressing. Completed,
// rejected and cancelled orders belong to the history partition. This is
// a derived view, not stored state.
func (s Status) Active() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusPaymentPending, StatusShipped:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusRejected || s == StatusCancelled
}

// Role identifies who is acting on an order. System is a reserved
// pseudo-role used only for generated notification messages.
type Role string

const (
	RoleRequester Role = "requester"
	RoleFulfiller Role = "fulfiller"
	RoleSystem    Role = "system"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleRequester, RoleFulfiller, RoleSystem:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown sender role %q", s)
}

type LineItem struct {
	Name      string  `json:"name"`
	UnitPrice float64 `json:"unit_price"`
	Assignee  string  `json:"assignee,omitempty"`
}

type Order struct {
	ID                  string     `json:"id"`
	RequesterID         string     `json:"requester_id"`
	FulfillerID         string     `json:"fulfiller_id"`
	Items               []LineItem `json:"items"`
	Total               float64    `json:"total"`
	SpecialInstructions string     `json:"special_instructions,omitempty"`
	ShippingAddress     string     `json:"shipping_address,omitempty"`
	PaymentInstructions string     `json:"payment_instructions,omitempty"`
	Status              Status     `json:"status"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// OrderResponse is the wire envelope returned by the order endpoints.
type OrderResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Order   *Order `json:"order,omitempty"`
}

type OrderListResponse struct {
	Success bool     `json:"success"`
	Orders  []*Order `json:"orders"`
	Count   int      `json:"count"`
}
