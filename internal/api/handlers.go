package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/agrilink/marketplace/internal/api/middleware"
	"github.com/agrilink/marketplace/internal/command"
	"github.com/agrilink/marketplace/internal/domain/order"
	"github.com/agrilink/marketplace/internal/infrastructure/paystack"
	"github.com/agrilink/marketplace/internal/query"
	"github.com/go-chi/chi/v5"
)

const maxWebhookBody = 1 << 20

type Handlers struct {
	cmdHandler    *command.Handler
	queryHandler  *query.Handler
	webhookSecret string
}

func NewHandlers(cmdHandler *command.Handler, queryHandler *query.Handler, webhookSecret string) *Handlers {
	return &Handlers{
		cmdHandler:    cmdHandler,
		queryHandler:  queryHandler,
		webhookSecret: webhookSecret,
	}
}

// Order Handlers

func (h *Handlers) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var cmd command.PlaceOrder
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}
	cmd.Buyer, _ = middleware.GetPrincipal(r.Context())

	o, err := h.cmdHandler.PlaceOrder(r.Context(), cmd)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"message": "Order created successfully",
		"order":   o,
	})
}

func (h *Handlers) GetOrders(w http.ResponseWriter, r *http.Request) {
	viewer, _ := middleware.GetPrincipal(r.Context())
	q := r.URL.Query()

	page, err := h.queryHandler.ListOrders(r.Context(), viewer, q.Get("status"), q.Get("page"), q.Get("limit"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	viewer, _ := middleware.GetPrincipal(r.Context())

	o, err := h.queryHandler.GetOrder(r.Context(), chi.URLParam(r, "id"), viewer)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (h *Handlers) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status order.Status `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}
	actor, _ := middleware.GetPrincipal(r.Context())

	o, err := h.cmdHandler.UpdateOrderStatus(r.Context(), command.UpdateOrderStatus{
		OrderID: chi.URLParam(r, "id"),
		Status:  req.Status,
		Actor:   actor,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"message": "Order status updated",
		"order":   o,
	})
}

// Payment Handlers

func (h *Handlers) InitializePayment(w http.ResponseWriter, r *http.Request) {
	var cmd command.InitializePayment
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}
	cmd.Payer, _ = middleware.GetPrincipal(r.Context())

	authz, err := h.cmdHandler.InitializePayment(r.Context(), cmd)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, authz)
}

// VerifyPayment is where the payer lands after checkout. With a redirect
// query parameter the payer is sent on to that local path with the outcome
// appended; otherwise the settled order is returned as JSON.
func (h *Handlers) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")
	if p, ok := middleware.GetPrincipal(r.Context()); ok {
		log.Printf("[API] Payment %s verification requested by %s", reference, p.ID)
	}

	res, err := h.cmdHandler.VerifyPayment(r.Context(), command.VerifyPayment{Reference: reference})
	if err != nil {
		respondError(w, r, err)
		return
	}

	if target, ok := localRedirect(r.URL.Query().Get("redirect")); ok {
		q := target.Query()
		q.Set("payment", string(res.Order.Payment.Status))
		q.Set("order", res.Order.ID)
		target.RawQuery = q.Encode()
		http.Redirect(w, r, target.String(), http.StatusSeeOther)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":  res.Order.Payment.Status,
		"applied": res.Applied,
		"order":   res.Order,
	})
}

func (h *Handlers) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	viewer, _ := middleware.GetPrincipal(r.Context())

	view, err := h.queryHandler.PaymentStatus(r.Context(), chi.URLParam(r, "orderId"), viewer)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// PaystackWebhook accepts signed charge notifications. Unknown references
// are acknowledged so the gateway stops retrying them; gateway errors are
// not, so the notification is redelivered.
func (h *Handlers) PaystackWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		respondBadRequest(w, "unreadable body")
		return
	}

	ev, err := paystack.ParseWebhook(h.webhookSecret, body, r.Header.Get(paystack.SignatureHeader))
	if err != nil {
		if errors.Is(err, paystack.ErrInvalidSignature) {
			log.Printf("[API] Rejected webhook with invalid signature from %s", r.RemoteAddr)
			respondJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error(), Code: "invalid_signature"})
			return
		}
		respondBadRequest(w, "invalid webhook payload")
		return
	}

	if !strings.HasPrefix(ev.Event, "charge.") || ev.Data.Reference == "" {
		w.WriteHeader(http.StatusOK)
		return
	}

	if _, err := h.cmdHandler.HandleWebhook(r.Context(), ev.Event, ev.Data.Reference); err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			w.WriteHeader(http.StatusOK)
			return
		}
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// localRedirect accepts only same-origin paths such as /customer/orders.
func localRedirect(raw string) (*url.URL, bool) {
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return nil, false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return nil, false
	}
	return u, true
}
