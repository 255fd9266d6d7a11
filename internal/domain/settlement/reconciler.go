package settlement

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/agrilink/marketplace/internal/apperr"
	"github.com/agrilink/marketplace/internal/domain/order"
	"github.com/agrilink/marketplace/internal/domain/payment"
)

// InventoryPolicy decides what happens when stock has run out between
// validation and settlement.
type InventoryPolicy string

const (
	// PolicyStrict rejects the settlement with order.ErrInventoryExhausted
	// and leaves the order payment_pending.
	PolicyStrict InventoryPolicy = "strict"
	// PolicyPermissive deducts regardless and lets available stock go negative.
	PolicyPermissive InventoryPolicy = "permissive"
)

func (p InventoryPolicy) Valid() bool {
	return p == PolicyStrict || p == PolicyPermissive
}

const ReasonExpired = "expired"

var ErrUnknownOutcome = apperr.New(apperr.Validation, "unknown_outcome", "unknown payment outcome")

// Result reports the order after reconciliation and whether this call was
// the one that settled it.
type Result struct {
	Order   *order.Order
	Applied bool
}

// Reconciler applies gateway outcomes to orders exactly once. It is the only
// writer of inventory and the only path into confirmed and payment_failed.
type Reconciler struct {
	store  order.Store
	policy InventoryPolicy
	now    func() time.Time
}

func NewReconciler(store order.Store, policy InventoryPolicy) *Reconciler {
	if !policy.Valid() {
		policy = PolicyStrict
	}
	return &Reconciler{store: store, policy: policy, now: time.Now}
}

// Reconcile applies outcome to the order holding reference. Repeated calls
// with an already settled order return it unchanged with Applied false.
func (r *Reconciler) Reconcile(ctx context.Context, reference string, outcome payment.Outcome) (*Result, error) {
	if reference == "" {
		return nil, payment.ErrInvalidReference
	}

	o, err := r.store.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}

	if o.Payment.Settled() {
		if outcome.Status != payment.StatusPending && string(outcome.Status) != string(o.Payment.Status) {
			log.Printf("[Reconciler] Order %s already settled as %s, gateway now reports %s for %s",
				o.OrderNumber, o.Payment.Status, outcome.Status, reference)
		}
		return &Result{Order: o}, nil
	}

	var (
		s  order.Settlement
		ev order.Event
	)
	switch outcome.Status {
	case payment.StatusPending:
		log.Printf("[Reconciler] Payment %s for order %s still pending at gateway", reference, o.OrderNumber)
		return &Result{Order: o}, nil
	case payment.StatusSuccess:
		s, ev = r.success(o, outcome)
	case payment.StatusFailed:
		s, ev = r.failure(o, outcome)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOutcome, outcome.Status)
	}

	return r.settle(ctx, o, s, ev)
}

// Expire cancels an order whose payment never resolved. Inventory is not
// touched since nothing was deducted.
func (r *Reconciler) Expire(ctx context.Context, o *order.Order) (*Result, error) {
	now := r.now()
	p := o.Payment
	p.Status = order.PaymentFailed
	p.FailureReason = ReasonExpired

	s := order.Settlement{
		OrderID: o.ID,
		Status:  order.StatusCancelled,
		Payment: p,
		At:      now,
	}
	ev := order.Event{
		Type:    order.EventOrderExpired,
		OrderID: o.ID,
		Data: order.OrderExpired{
			OrderID:     o.ID,
			OrderNumber: o.OrderNumber,
			BuyerID:     o.BuyerID,
			PayerEmail:  o.Payment.PayerEmail,
			ExpiredAt:   now,
		},
	}
	return r.settle(ctx, o, s, ev)
}

func (r *Reconciler) success(o *order.Order, outcome payment.Outcome) (order.Settlement, order.Event) {
	now := r.now()
	paidAt := outcome.PaidAt
	if paidAt.IsZero() {
		paidAt = now
	}

	amount := outcome.Amount()
	if amount.LessThan(o.Total) {
		log.Printf("[Reconciler] Underpayment on order %s: paid %s, total %s",
			o.OrderNumber, amount.StringFixed(2), o.Total.StringFixed(2))
	}

	p := o.Payment
	p.Status = order.PaymentSuccess
	p.Amount = amount
	if outcome.Currency != "" {
		p.Currency = outcome.Currency
	}
	p.PaidAt = &paidAt
	p.TransactionID = outcome.TransactionID
	p.GatewayResponse = outcome.GatewayResponse
	p.FailureReason = ""

	s := order.Settlement{
		OrderID:      o.ID,
		Status:       order.StatusConfirmed,
		Payment:      p,
		Deductions:   o.Deductions(),
		RequireStock: r.policy == PolicyStrict,
		At:           now,
	}
	ev := order.Event{
		Type:    order.EventPaymentSucceeded,
		OrderID: o.ID,
		Data: order.PaymentSucceededEvent{
			OrderID:       o.ID,
			OrderNumber:   o.OrderNumber,
			BuyerID:       o.BuyerID,
			Reference:     p.Reference,
			PayerEmail:    p.PayerEmail,
			Items:         o.Items,
			Amount:        amount,
			Currency:      p.Currency,
			TransactionID: p.TransactionID,
			PaidAt:        paidAt,
		},
	}
	return s, ev
}

func (r *Reconciler) failure(o *order.Order, outcome payment.Outcome) (order.Settlement, order.Event) {
	now := r.now()
	reason := outcome.GatewayResponse
	if reason == "" {
		reason = "payment failed"
	}

	p := o.Payment
	p.Status = order.PaymentFailed
	p.FailureReason = reason
	p.GatewayResponse = outcome.GatewayResponse
	if outcome.TransactionID != "" {
		p.TransactionID = outcome.TransactionID
	}

	s := order.Settlement{
		OrderID: o.ID,
		Status:  order.StatusPaymentFailed,
		Payment: p,
		At:      now,
	}
	ev := order.Event{
		Type:    order.EventPaymentFailed,
		OrderID: o.ID,
		Data: order.PaymentFailedEvent{
			OrderID:     o.ID,
			OrderNumber: o.OrderNumber,
			BuyerID:     o.BuyerID,
			Reference:   p.Reference,
			PayerEmail:  p.PayerEmail,
			Reason:      reason,
			FailedAt:    now,
		},
	}
	return s, ev
}

func (r *Reconciler) settle(ctx context.Context, o *order.Order, s order.Settlement, ev order.Event) (*Result, error) {
	updated, applied, err := r.store.Settle(ctx, s, ev)
	if err != nil {
		log.Printf("[Reconciler] Failed to settle order %s (ref %s) as %s: %v",
			o.OrderNumber, o.Payment.Reference, s.Status, err)
		return nil, err
	}
	if !applied {
		log.Printf("[Reconciler] Order %s was settled concurrently as %s", o.OrderNumber, updated.Payment.Status)
		return &Result{Order: updated}, nil
	}

	log.Printf("[Reconciler] Order %s: %s -> %s (payment %s)", o.OrderNumber, o.Status, updated.Status, updated.Payment.Status)
	return &Result{Order: updated, Applied: true}, nil
}
