package order

import (
	"context"
	"time"
)

// Deduction moves Quantity of a product from available to reserved stock.
type Deduction struct {
	ProductID string
	Quantity  int
}

// Settlement is the single terminal effect reconciliation applies to an
// order whose payment is still pending.
type Settlement struct {
	OrderID string
	// Status is the order status written together with Payment.
	Status  Status
	Payment Payment
	// Deductions are applied all-or-nothing with the status write.
	Deductions []Deduction
	// RequireStock rejects the settlement with ErrInventoryExhausted when any
	// product's available quantity is below the deduction.
	RequireStock bool
	At           time.Time
}

// ListFilter scopes an order listing. Empty BuyerID and FarmerID list all.
type ListFilter struct {
	BuyerID  string
	FarmerID string
	Status   Status
	Offset   int
	Limit    int
}

// Store persists orders. Implementations must make each method a single
// atomic unit and write the accompanying event in the same unit.
//
// Methods returning an applied flag are conditional updates: when the
// precondition no longer holds nothing is written, applied is false and the
// current order is returned.
type Store interface {
	Create(ctx context.Context, o *Order, ev Event) error
	Get(ctx context.Context, id string) (*Order, error)
	GetByReference(ctx context.Context, reference string) (*Order, error)
	List(ctx context.Context, f ListFilter) ([]*Order, int, error)

	// TransitionStatus writes to when the stored status still equals from.
	TransitionStatus(ctx context.Context, id string, from, to Status, at time.Time, ev Event) (*Order, bool, error)

	// AttachPayment records the payment method, payer and reference when the
	// order is payment_pending with a pending payment and no reference yet.
	AttachPayment(ctx context.Context, id string, p Payment, at time.Time, ev Event) (*Order, bool, error)

	// RecordAuthorization stores the checkout handle the gateway returned for
	// reference while the payment is still pending. It writes no event.
	RecordAuthorization(ctx context.Context, id, reference, authorizationURL, accessCode string, at time.Time) error

	// Settle applies s when the order's payment status is still pending.
	Settle(ctx context.Context, s Settlement, ev Event) (*Order, bool, error)

	// ListStalePending returns payment_pending orders created before the cutoff.
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]*Order, error)
}
