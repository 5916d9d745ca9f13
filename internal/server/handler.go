// Package server exposes the order and message APIs over HTTP. All
// exchanges are plain request/response pairs; there is no push channel,
// clients poll.
package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/jfeld/orderdesk/internal/conversation"
	"github.com/jfeld/orderdesk/internal/handshake"
	"github.com/jfeld/orderdesk/internal/lifecycle"
	"github.com/jfeld/orderdesk/internal/store"
	"github.com/jfeld/orderdesk/pkg/models"
)

type Handler struct {
	lifecycle     *lifecycle.Service
	conversations *conversation.Service
	handshake     *handshake.Service
	logger        *logrus.Logger
}

func NewHandler(lc *lifecycle.Service, conversations *conversation.Service, hs *handshake.Service, logger *logrus.Logger) *Handler {
	return &Handler{
		lifecycle:     lc,
		conversations: conversations,
		handshake:     hs,
		logger:        logger,
	}
}

func (h *Handler) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
	router.HandleFunc("/orders", h.CreateOrder).Methods("POST")
	router.HandleFunc("/orders", h.ListOrders).Methods("GET")
	router.HandleFunc("/orders/{id}", h.GetOrder).Methods("GET")
	router.HandleFunc("/orders/{id}", h.DeleteOrder).Methods("DELETE")
	router.HandleFunc("/orders/{id}/status", h.UpdateStatus).Methods("PUT")
	router.HandleFunc("/orders/{id}/payment-info", h.SendPaymentInfo).Methods("POST")
	router.HandleFunc("/orders/{id}/confirm-payment", h.ConfirmPayment).Methods("POST")
	router.HandleFunc("/orders/{id}/messages", h.CreateMessage).Methods("POST")
	router.HandleFunc("/orders/{id}/messages", h.ListMessages).Methods("GET")
	router.Use(loggingMiddleware(h.logger))
	return router
}

type createOrderRequest struct {
	RequesterID         string            `json:"requester_id"`
	FulfillerID         string            `json:"fulfiller_id"`
	Items               []models.LineItem `json:"items"`
	Total               float64           `json:"total"`
	SpecialInstructions string            `json:"special_instructions"`
	ShippingAddress     string            `json:"shipping_address"`
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WithError(err).Error("Failed to decode order request")
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	order, err := h.lifecycle.Create(r.Context(), lifecycle.CreateRequest{
		RequesterID:         req.RequesterID,
		FulfillerID:         req.FulfillerID,
		Items:               req.Items,
		Total:               req.Total,
		SpecialInstructions: req.SpecialInstructions,
		ShippingAddress:     req.ShippingAddress,
	})
	if err != nil {
		h.respondWithTaxonomy(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusCreated, models.OrderResponse{
		Success: true,
		Message: "Order created",
		Order:   order,
	})
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.OrderFilter{
		RequesterID: q.Get("requester_id"),
		FulfillerID: q.Get("fulfiller_id"),
	}

	switch q.Get("partition") {
	case "":
		orders, err := h.lifecycle.List(r.Context(), filter)
		if err != nil {
			h.respondWithTaxonomy(w, err)
			return
		}
		h.respondWithJSON(w, http.StatusOK, models.OrderListResponse{
			Success: true, Orders: orders, Count: len(orders),
		})
	case "active", "history":
		active, history, err := h.lifecycle.ListPartition(r.Context(), filter)
		if err != nil {
			h.respondWithTaxonomy(w, err)
			return
		}
		orders := active
		if q.Get("partition") == "history" {
			orders = history
		}
		h.respondWithJSON(w, http.StatusOK, models.OrderListResponse{
			Success: true, Orders: orders, Count: len(orders),
		})
	default:
		h.respondWithError(w, http.StatusBadRequest, "partition must be active or history")
	}
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]
	order, err := h.lifecycle.Get(r.Context(), orderID)
	if err != nil {
		h.respondWithTaxonomy(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, models.OrderResponse{Success: true, Order: order})
}

func (h *Handler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]
	if err := h.lifecycle.Delete(r.Context(), orderID); err != nil {
		h.respondWithTaxonomy(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type updateStatusRequest struct {
	Status              string `json:"status"`
	Actor               string `json:"actor"`
	ActorID             string `json:"actor_id"`
	PaymentInstructions string `json:"payment_instructions"`
}

// UpdateStatus applies a transition. Payment handshake targets are
// routed through the handshake service so the typed messages land in
// the conversation log; everything else goes straight to the state
// machine.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WithError(err).Error("Failed to decode status update request")
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	target, err := models.ParseStatus(req.Status)
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	actor, err := models.ParseRole(req.Actor)
	if err != nil || actor == models.RoleSystem {
		h.respondWithError(w, http.StatusBadRequest, "actor must be requester or fulfiller")
		return
	}

	var order *models.Order
	switch {
	case target == models.StatusPaymentPending:
		order, err = h.handshake.SendPaymentInfo(r.Context(), orderID, req.ActorID, req.PaymentInstructions)
	case target == models.StatusAccepted && h.isPaymentPending(r, orderID):
		order, err = h.handshake.ConfirmPayment(r.Context(), orderID, req.ActorID)
	default:
		order, err = h.lifecycle.Transition(r.Context(), orderID, target, actor)
	}
	if err != nil {
		h.respondWithTaxonomy(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, models.OrderResponse{
		Success: true,
		Message: "Order updated",
		Order:   order,
	})
}

// isPaymentPending peeks at the current status to tell a plain accept
// from a payment confirmation. The read is advisory only: the chosen
// path revalidates under the order's row lock.
func (h *Handler) isPaymentPending(r *http.Request, orderID string) bool {
	o, err := h.lifecycle.Get(r.Context(), orderID)
	return err == nil && o.Status == models.StatusPaymentPending
}

type paymentInfoRequest struct {
	SenderID     string `json:"sender_id"`
	Instructions string `json:"instructions"`
}

func (h *Handler) SendPaymentInfo(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]

	var req paymentInfoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	order, err := h.handshake.SendPaymentInfo(r.Context(), orderID, req.SenderID, req.Instructions)
	if err != nil {
		h.respondWithTaxonomy(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, models.OrderResponse{
		Success: true,
		Message: "Payment info sent",
		Order:   order,
	})
}

type confirmPaymentRequest struct {
	SenderID string `json:"sender_id"`
}

func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]

	var req confirmPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	order, err := h.handshake.ConfirmPayment(r.Context(), orderID, req.SenderID)
	if err != nil {
		h.respondWithTaxonomy(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, models.OrderResponse{
		Success: true,
		Message: "Payment confirmed",
		Order:   order,
	})
}

type createMessageRequest struct {
	SenderID   string `json:"sender_id"`
	SenderRole string `json:"sender_role"`
	Type       string `json:"type"`
	Body       string `json:"body"`
}

func (h *Handler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]

	var req createMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	role, err := models.ParseRole(req.SenderRole)
	if err != nil || role == models.RoleSystem {
		h.respondWithError(w, http.StatusBadRequest, "sender_role must be requester or fulfiller")
		return
	}
	msgType := models.MessageText
	if req.Type != "" {
		msgType, err = models.ParseMessageType(req.Type)
		if err != nil {
			h.respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	// The typed handshake messages have their own endpoints; the message
	// API only accepts free-form text.
	if msgType != models.MessageText {
		h.respondWithError(w, http.StatusBadRequest, "only text messages may be posted directly")
		return
	}

	msg, err := h.conversations.Append(r.Context(), conversation.AppendRequest{
		OrderID:    orderID,
		SenderID:   req.SenderID,
		SenderRole: role,
		Type:       msgType,
		Body:       req.Body,
	})
	if err != nil {
		h.respondWithTaxonomy(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusCreated, models.MessageResponse{
		Success: true,
		Entry:   msg,
	})
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]
	messages, err := h.conversations.List(r.Context(), orderID)
	if err != nil {
		h.respondWithTaxonomy(w, err)
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}
	h.respondWithJSON(w, http.StatusOK, models.MessageListResponse{
		Success:  true,
		Messages: messages,
		Count:    len(messages),
	})
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "orderdesk",
	})
}

// respondWithTaxonomy maps the coordinator's error taxonomy onto HTTP
// status codes. Client errors surface as-is with no retry hint;
// transient store failures come back as 502 so pollers retry.
func (h *Handler) respondWithTaxonomy(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		h.respondWithError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrInvalidHandshakeState):
		h.respondWithError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrInvalidTransition):
		h.respondWithError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrValidation):
		h.respondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrTransient):
		h.logger.WithError(err).Error("Transient store failure")
		h.respondWithError(w, http.StatusBadGateway, "temporary store failure, retry")
	default:
		h.logger.WithError(err).Error("Unhandled error")
		h.respondWithError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func (h *Handler) respondWithError(w http.ResponseWriter, code int, message string) {
	h.respondWithJSON(w, code, map[string]interface{}{
		"success": false,
		"message": message,
	})
}
