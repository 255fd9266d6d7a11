package command

import (
	"context"
	"log"

	"github.com/agrilink/marketplace/internal/apperr"
	"github.com/agrilink/marketplace/internal/domain/order"
	"github.com/agrilink/marketplace/internal/domain/payment"
	"github.com/agrilink/marketplace/internal/domain/pricing"
	"github.com/agrilink/marketplace/internal/domain/settlement"
)

var ErrBuyerRequired = apperr.New(apperr.NotAuthorized, "buyer_required", "only buyers can place orders")

type Handler struct {
	engine   *pricing.Engine
	ledger   *order.Ledger
	payments *settlement.Service
}

func NewHandler(engine *pricing.Engine, ledger *order.Ledger, payments *settlement.Service) *Handler {
	return &Handler{
		engine:   engine,
		ledger:   ledger,
		payments: payments,
	}
}

// PlaceOrder validates the cart against the catalog and records the order
// in payment_pending. No stock is taken until payment settles.
func (h *Handler) PlaceOrder(ctx context.Context, cmd PlaceOrder) (*order.Order, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	if cmd.Buyer.IsFarmer() || cmd.Buyer.IsAdmin() || cmd.Buyer.Role == "" {
		return nil, ErrBuyerRequired
	}

	// 1. Price and validate the cart (no side effects)
	quote, err := h.engine.Validate(ctx, cmd.Items, cmd.Buyer)
	if err != nil {
		log.Printf("[Command] Cart rejected for buyer %s: %v", cmd.Buyer.ID, err)
		return nil, err
	}

	// 2. Persist the order with its OrderPlaced event
	return h.ledger.Create(ctx, order.CreateParams{
		BuyerID:         cmd.Buyer.ID,
		FarmerID:        quote.FarmerID,
		Items:           quote.Items,
		DeliveryAddress: cmd.DeliveryAddress,
		Notes:           cmd.Notes,
		Shipping: order.Shipping{
			Method: cmd.ShippingMethod,
			Cost:   cmd.ShippingCost,
		},
	})
}

// UpdateOrderStatus moves an order one step along fulfillment
func (h *Handler) UpdateOrderStatus(ctx context.Context, cmd UpdateOrderStatus) (*order.Order, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	return h.ledger.UpdateStatus(ctx, cmd.OrderID, cmd.Status, cmd.Actor)
}

// InitializePayment starts a gateway charge for the order total. The payer's
// account email is used when the request does not name one.
func (h *Handler) InitializePayment(ctx context.Context, cmd InitializePayment) (*payment.Authorization, error) {
	if cmd.Email == "" {
		cmd.Email = cmd.Payer.Email
	}
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	return h.payments.InitializePayment(ctx, cmd.OrderID, cmd.Email, cmd.Payer)
}

// VerifyPayment settles the order behind reference from the gateway's answer
func (h *Handler) VerifyPayment(ctx context.Context, cmd VerifyPayment) (*settlement.Result, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	return h.payments.VerifyPayment(ctx, cmd.Reference)
}

// HandleWebhook re-verifies the reference named by a signed gateway event
func (h *Handler) HandleWebhook(ctx context.Context, event, reference string) (*settlement.Result, error) {
	if err := (VerifyPayment{Reference: reference}).Validate(); err != nil {
		return nil, err
	}
	return h.payments.HandleWebhook(ctx, event, reference)
}

