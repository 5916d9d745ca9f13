package models

import (
	"fmt"
	"time"
)

// MessageType tags an entry in an order's conversation log. The set is
// closed: unknown values are rejected at the API boundary.
type MessageType string

const (
	MessageText             MessageType = "text"
	MessagePaymentInfo      MessageType = "payment_info"
	MessagePaymentConfirmed MessageType = "payment_confirmed"
	MessageSystem           MessageType = "system"
)

func ParseMessageType(s string) (MessageType, error) {
	switch MessageType(s) {
	case MessageText, MessagePaymentInfo, MessagePaymentConfirmed, MessageSystem:
		return MessageType(s), nil
	}
	return "", fmt.Errorf("unknown message type %q", s)
}

// Message is one append-only entry in an order's conversation log.
// Seq is the store-assigned insertion id; together with CreatedAt it
// forms the total log order (CreatedAt first, Seq breaks ties).
type Message struct {
	ID         string      `json:"id"`
	OrderID    string      `json:"order_id"`
	SenderID   string      `json:"sender_id"`
	SenderRole Role        `json:"sender_role"`
	Type       MessageType `json:"type"`
	Body       string      `json:"body"`
	Seq        int64       `json:"seq"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Before reports whether m precedes other in log order.
func (m Message) Before(other Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.Seq < other.Seq
	}
	return m.CreatedAt.Before(other.CreatedAt)
}

type MessageResponse struct {
	Success bool     `json:"success"`
	Message string   `json:"message,omitempty"`
	Entry   *Message `json:"entry,omitempty"`
}

type MessageListResponse struct {
	Success  bool      `json:"success"`
	Messages []Message `json:"messages"`
	Count    int       `json:"count"`
}
