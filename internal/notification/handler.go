package notification

import (
	"context"
	"encoding/json"
	"log"

	"github.com/agrilink/marketplace/internal/domain/order"
	"github.com/agrilink/marketplace/internal/email"
	"github.com/agrilink/marketplace/internal/infrastructure/store"
)

// Mailer is the subset of email.Service the notifier uses
type Mailer interface {
	SendPaymentReceipt(to string, r email.Receipt) error
	SendPaymentFailed(to, orderNumber, reason string) error
	SendOrderExpired(to, orderNumber string) error
	SendFulfillmentUpdate(to, orderNumber, status string) error
}

// Handler processes order lifecycle events for sending buyer notifications
type Handler struct {
	mailer Mailer
}

// NewHandler creates a new notification handler
func NewHandler(mailer Mailer) *Handler {
	return &Handler{mailer: mailer}
}

// HandleEvent processes an event from Kafka. Send failures are returned so
// the consumer retries the message.
func (h *Handler) HandleEvent(ctx context.Context, key, value []byte) error {
	var event store.Event
	if err := json.Unmarshal(value, &event); err != nil {
		// A malformed message will never decode; skip it.
		log.Printf("[Notifier] Failed to unmarshal event: %v", err)
		return nil
	}

	switch event.EventType {
	case order.EventPaymentSucceeded:
		return h.handlePaymentSucceeded(event)
	case order.EventPaymentFailed:
		return h.handlePaymentFailed(event)
	case order.EventOrderExpired:
		return h.handleOrderExpired(event)
	case order.EventOrderStatusChanged:
		return h.handleStatusChanged(event)
	}
	return nil
}

func (h *Handler) handlePaymentSucceeded(event store.Event) error {
	var e order.PaymentSucceededEvent
	if !decode(event, &e) {
		return nil
	}
	if e.PayerEmail == "" {
		log.Printf("[Notifier] No payer email for order %s", e.OrderNumber)
		return nil
	}

	items := make([]email.ReceiptItem, len(e.Items))
	for i, item := range e.Items {
		items[i] = email.ReceiptItem{
			Name:      item.ProductName,
			Quantity:  item.Quantity,
			Unit:      item.Unit,
			UnitPrice: item.UnitPrice,
		}
	}

	err := h.mailer.SendPaymentReceipt(e.PayerEmail, email.Receipt{
		OrderNumber:   e.OrderNumber,
		Reference:     e.Reference,
		TransactionID: e.TransactionID,
		Currency:      e.Currency,
		Amount:        e.Amount,
		Items:         items,
	})
	return h.sent(err, "payment receipt", e.PayerEmail, e.OrderNumber)
}

func (h *Handler) handlePaymentFailed(event store.Event) error {
	var e order.PaymentFailedEvent
	if !decode(event, &e) || e.PayerEmail == "" {
		return nil
	}
	err := h.mailer.SendPaymentFailed(e.PayerEmail, e.OrderNumber, e.Reason)
	return h.sent(err, "payment failure notice", e.PayerEmail, e.OrderNumber)
}

func (h *Handler) handleOrderExpired(event store.Event) error {
	var e order.OrderExpired
	if !decode(event, &e) {
		return nil
	}
	// Orders that never started a payment have no address to write to.
	if e.PayerEmail == "" {
		return nil
	}
	err := h.mailer.SendOrderExpired(e.PayerEmail, e.OrderNumber)
	return h.sent(err, "expiry notice", e.PayerEmail, e.OrderNumber)
}

func (h *Handler) handleStatusChanged(event store.Event) error {
	var e order.OrderStatusChanged
	if !decode(event, &e) {
		return nil
	}
	if e.To != order.StatusShipped && e.To != order.StatusDelivered {
		return nil
	}
	if e.PayerEmail == "" {
		return nil
	}
	err := h.mailer.SendFulfillmentUpdate(e.PayerEmail, e.OrderNumber, string(e.To))
	return h.sent(err, string(e.To)+" notice", e.PayerEmail, e.OrderNumber)
}

func decode(event store.Event, v any) bool {
	if err := json.Unmarshal(event.Data, v); err != nil {
		log.Printf("[Notifier] Failed to unmarshal %s event %s: %v", event.EventType, event.ID, err)
		return false
	}
	return true
}

func (h *Handler) sent(err error, what, to, orderNumber string) error {
	if err != nil {
		log.Printf("[Notifier] Failed to send %s to %s for order %s: %v", what, to, orderNumber, err)
		return err
	}
	log.Printf("[Notifier] Sent %s to %s for order %s", what, to, orderNumber)
	return nil
}
