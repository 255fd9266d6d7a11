package query

import (
	"context"
	"log"
	"strconv"

	"github.com/agrilink/marketplace/internal/auth"
	"github.com/agrilink/marketplace/internal/domain/order"
	"github.com/agrilink/marketplace/internal/domain/settlement"
)

// Handler serves reads. Every read is scoped to what the viewer may see.
type Handler struct {
	ledger   *order.Ledger
	payments *settlement.Service
}

func NewHandler(ledger *order.Ledger, payments *settlement.Service) *Handler {
	return &Handler{ledger: ledger, payments: payments}
}

// Orders
func (h *Handler) GetOrder(ctx context.Context, id string, viewer auth.Principal) (*order.Order, error) {
	o, err := h.ledger.Get(ctx, id, viewer)
	if err != nil {
		log.Printf("[Query] Error getting order %s for %s: %v", id, viewer.ID, err)
		return nil, err
	}
	return o, nil
}

// ListOrders accepts the raw query-string values; unparsable page and limit
// fall back to the ledger's defaults.
func (h *Handler) ListOrders(ctx context.Context, viewer auth.Principal, status, page, limit string) (*order.Page, error) {
	opts := order.ListOptions{
		Status: order.Status(status),
		Page:   atoiOrZero(page),
		Limit:  atoiOrZero(limit),
	}
	result, err := h.ledger.ListForPrincipal(ctx, viewer, opts)
	if err != nil {
		log.Printf("[Query] Error listing orders for %s: %v", viewer.ID, err)
		return nil, err
	}
	return result, nil
}

// Payments
func (h *Handler) PaymentStatus(ctx context.Context, orderID string, viewer auth.Principal) (*settlement.StatusView, error) {
	return h.payments.PaymentStatus(ctx, orderID, viewer)
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
