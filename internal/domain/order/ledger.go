package order

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/agrilink/marketplace/internal/auth"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
	maxPage          = 1 << 20 // keeps (page-1)*limit far from overflow
	createAttempts   = 3
)

// CreateParams carries an already validated cart into the ledger.
type CreateParams struct {
	BuyerID         string
	FarmerID        string
	Items           []Item
	DeliveryAddress Address
	Notes           string
	Shipping        Shipping
}

type ListOptions struct {
	Status Status
	Page   int
	Limit  int
}

type Page struct {
	Orders      []*Order `json:"orders"`
	Total       int      `json:"total"`
	CurrentPage int      `json:"current_page"`
	TotalPages  int      `json:"total_pages"`
}

// Ledger is the source of truth for orders: creation, reads and fulfillment
// status changes. It never touches inventory.
type Ledger struct {
	store    Store
	currency string
	now      func() time.Time
}

func NewLedger(store Store, currency string) *Ledger {
	return &Ledger{store: store, currency: currency, now: time.Now}
}

// Create persists a new order in payment_pending with a zeroed payment.
func (l *Ledger) Create(ctx context.Context, p CreateParams) (*Order, error) {
	if len(p.Items) == 0 {
		return nil, ErrEmptyOrder
	}
	if p.BuyerID == "" || p.FarmerID == "" {
		return nil, fmt.Errorf("%w: buyer and farmer are required", ErrInvalidOrder)
	}
	if err := p.DeliveryAddress.Validate(); err != nil {
		return nil, err
	}
	if p.Shipping.Cost.IsNegative() {
		return nil, fmt.Errorf("%w: shipping cost cannot be negative", ErrInvalidOrder)
	}
	if p.Shipping.Method == "" {
		p.Shipping.Method = "standard"
	}

	items := make([]Item, len(p.Items))
	copy(items, p.Items)

	subtotal := Subtotal(items)
	total := subtotal.Add(p.Shipping.Cost)
	now := l.now()

	o := &Order{
		ID:              uuid.New().String(),
		BuyerID:         p.BuyerID,
		FarmerID:        p.FarmerID,
		Items:           items,
		Subtotal:        subtotal,
		Shipping:        p.Shipping,
		Total:           total,
		DeliveryAddress: p.DeliveryAddress,
		Notes:           p.Notes,
		Status:          StatusPaymentPending,
		Payment: Payment{
			Status:   PaymentPending,
			Amount:   total,
			Currency: l.currency,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	var err error
	for attempt := 0; attempt < createAttempts; attempt++ {
		o.OrderNumber = NewOrderNumber(now)
		err = l.store.Create(ctx, o, Event{
			Type:    EventOrderPlaced,
			OrderID: o.ID,
			Data: OrderPlaced{
				OrderID:     o.ID,
				OrderNumber: o.OrderNumber,
				BuyerID:     o.BuyerID,
				FarmerID:    o.FarmerID,
				Items:       o.Items,
				Total:       o.Total,
				PlacedAt:    now,
			},
		})
		if !errors.Is(err, ErrDuplicateOrderNumber) {
			break
		}
	}
	if err != nil {
		log.Printf("[Ledger] Failed to create order for buyer %s: %v", p.BuyerID, err)
		return nil, err
	}

	log.Printf("[Ledger] Created order %s (%s) total=%s", o.OrderNumber, o.ID, o.Total.StringFixed(2))
	return o, nil
}

// Get returns the order if viewer is its buyer, its farmer or an admin.
func (l *Ledger) Get(ctx context.Context, id string, viewer auth.Principal) (*Order, error) {
	o, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !o.CanView(viewer) {
		return nil, ErrNotAuthorized
	}
	return o, nil
}

// ListForPrincipal returns buyers their purchases, farmers their sales and
// admins everything, newest first.
func (l *Ledger) ListForPrincipal(ctx context.Context, viewer auth.Principal, opts ListOptions) (*Page, error) {
	if opts.Status != "" && !opts.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidOrder, opts.Status)
	}
	page := opts.Page
	if page < 1 {
		page = 1
	}
	if page > maxPage {
		page = maxPage
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	f := ListFilter{Status: opts.Status, Offset: (page - 1) * limit, Limit: limit}
	switch {
	case viewer.IsAdmin():
	case viewer.IsFarmer():
		f.FarmerID = viewer.ID
	default:
		f.BuyerID = viewer.ID
	}

	orders, total, err := l.store.List(ctx, f)
	if err != nil {
		return nil, err
	}
	if orders == nil {
		orders = []*Order{}
	}

	return &Page{
		Orders:      orders,
		Total:       total,
		CurrentPage: page,
		TotalPages:  int(decimal.NewFromInt(int64(total)).Div(decimal.NewFromInt(int64(limit))).Ceil().IntPart()),
	}, nil
}

// UpdateStatus is the fulfillment tracker: it authorizes actor and applies
// one forward step of the fulfillment table.
func (l *Ledger) UpdateStatus(ctx context.Context, id string, target Status, actor auth.Principal) (*Order, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, target)
	}

	o, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !o.CanManage(actor) {
		return nil, ErrNotAuthorized
	}
	if !o.CanTransitionTo(target) {
		return nil, o.transitionError(target)
	}

	now := l.now()
	updated, applied, err := l.store.TransitionStatus(ctx, o.ID, o.Status, target, now, Event{
		Type:    EventOrderStatusChanged,
		OrderID: o.ID,
		Data: OrderStatusChanged{
			OrderID:     o.ID,
			OrderNumber: o.OrderNumber,
			BuyerID:     o.BuyerID,
			PayerEmail:  o.Payment.PayerEmail,
			From:        o.Status,
			To:          target,
			ActorID:     actor.ID,
			ChangedAt:   now,
		},
	})
	if err != nil {
		log.Printf("[Ledger] Failed to move order %s to %s: %v", o.OrderNumber, target, err)
		return nil, err
	}
	if !applied {
		return nil, fmt.Errorf("%w: order %s is now %s", ErrStatusConflict, o.OrderNumber, updated.Status)
	}

	log.Printf("[Ledger] Order %s: %s -> %s by %s", o.OrderNumber, o.Status, target, actor.ID)
	return updated, nil
}
