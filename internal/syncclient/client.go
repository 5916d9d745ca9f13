// Package syncclient is the client side of the coordinator: an HTTP
// client for the order and message endpoints plus a polling session
// that keeps a conversation view current without a push channel.
package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jfeld/orderdesk/internal/store"
	"github.com/jfeld/orderdesk/pkg/models"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewClient builds a client with a hard request timeout. A timed-out
// call is a retryable failure, never an implicit state change: callers
// must re-fetch before retrying a transition.
func NewClient(baseURL string, timeout time.Duration, logger *logrus.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

func (c *Client) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	var resp models.OrderResponse
	if err := c.do(ctx, http.MethodGet, "/orders/"+orderID, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Order == nil {
		return nil, fmt.Errorf("order %s missing from response: %w", orderID, store.ErrTransient)
	}
	return resp.Order, nil
}

func (c *Client) ListMessages(ctx context.Context, orderID string) ([]models.Message, error) {
	var resp models.MessageListResponse
	if err := c.do(ctx, http.MethodGet, "/orders/"+orderID+"/messages", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (c *Client) SendMessage(ctx context.Context, orderID, senderID string, role models.Role, body string) (*models.Message, error) {
	payload := map[string]string{
		"sender_id":   senderID,
		"sender_role": string(role),
		"type":        string(models.MessageText),
		"body":        body,
	}
	var resp models.MessageResponse
	if err := c.do(ctx, http.MethodPost, "/orders/"+orderID+"/messages", payload, &resp); err != nil {
		return nil, err
	}
	if resp.Entry == nil {
		return nil, fmt.Errorf("message missing from response: %w", store.ErrTransient)
	}
	return resp.Entry, nil
}

func (c *Client) UpdateStatus(ctx context.Context, orderID string, target models.Status, actor models.Role, actorID string) (*models.Order, error) {
	payload := map[string]string{
		"status":   string(target),
		"actor":    string(actor),
		"actor_id": actorID,
	}
	var resp models.OrderResponse
	if err := c.do(ctx, http.MethodPut, "/orders/"+orderID+"/status", payload, &resp); err != nil {
		return nil, err
	}
	return resp.Order, nil
}

func (c *Client) SendPaymentInfo(ctx context.Context, orderID, senderID, instructions string) (*models.Order, error) {
	payload := map[string]string{
		"sender_id":    senderID,
		"instructions": instructions,
	}
	var resp models.OrderResponse
	if err := c.do(ctx, http.MethodPost, "/orders/"+orderID+"/payment-info", payload, &resp); err != nil {
		return nil, err
	}
	return resp.Order, nil
}

func (c *Client) ConfirmPayment(ctx context.Context, orderID, senderID string) (*models.Order, error) {
	payload := map[string]string{"sender_id": senderID}
	var resp models.OrderResponse
	if err := c.do(ctx, http.MethodPost, "/orders/"+orderID+"/confirm-payment", payload, &resp); err != nil {
		return nil, err
	}
	return resp.Order, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}) error {
	var body *bytes.Buffer
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewBuffer(data)
	} else {
		body = &bytes.Buffer{}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network failures and timeouts are retryable; the caller must
		// re-fetch state before retrying a transition.
		return fmt.Errorf("%s %s: %v: %w", method, path, err, store.ErrTransient)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var failure struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&failure)
		return classifyStatus(resp.StatusCode, failure.Message)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %v: %w", err, store.ErrTransient)
		}
	}
	return nil
}

// classifyStatus folds HTTP status codes back into the error taxonomy
// so client code classifies with errors.Is, same as on the server.
func classifyStatus(code int, message string) error {
	if message == "" {
		message = http.StatusText(code)
	}
	switch code {
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", message, store.ErrNotFound)
	case http.StatusConflict:
		return fmt.Errorf("%s: %w", message, store.ErrInvalidTransition)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return fmt.Errorf("%s: %w", message, store.ErrValidation)
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return fmt.Errorf("%s: %w", message, store.ErrTransient)
	default:
		return errors.New(message)
	}
}
