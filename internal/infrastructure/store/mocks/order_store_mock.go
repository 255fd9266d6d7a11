package mocks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/agrilink/marketplace/internal/apperr"
	"github.com/agrilink/marketplace/internal/domain/catalog"
	"github.com/agrilink/marketplace/internal/domain/order"
)

// MockOrderStore is an in-memory order.Store. Settle deducts from the
// attached MockCatalog under both locks so tests observe the same
// all-or-nothing behaviour as the Postgres store.
type MockOrderStore struct {
	mu      sync.Mutex
	orders  map[string]*order.Order
	catalog *MockCatalog

	// Events records every event written alongside a state change
	Events []order.Event

	CreateErr   func(o *order.Order) error
	SettleErr   error
	AttachErr   error
	RecordErr   error
	GetErr      error
	SettleCalls int
}

func NewMockOrderStore(c *MockCatalog) *MockOrderStore {
	if c == nil {
		c = NewMockCatalog()
	}
	return &MockOrderStore{
		orders:  make(map[string]*order.Order),
		catalog: c,
		Events:  make([]order.Event, 0),
	}
}

func (m *MockOrderStore) Create(ctx context.Context, o *order.Order, ev order.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CreateErr != nil {
		if err := m.CreateErr(o); err != nil {
			return err
		}
	}
	for _, existing := range m.orders {
		if existing.OrderNumber == o.OrderNumber {
			return order.ErrDuplicateOrderNumber
		}
	}

	m.orders[o.ID] = copyOrder(o)
	m.Events = append(m.Events, ev)
	return nil
}

func (m *MockOrderStore) Get(ctx context.Context, id string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.GetErr != nil {
		return nil, m.GetErr
	}
	o, ok := m.orders[id]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	return copyOrder(o), nil
}

func (m *MockOrderStore) GetByReference(ctx context.Context, reference string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.GetErr != nil {
		return nil, m.GetErr
	}
	for _, o := range m.orders {
		if o.Payment.Reference != "" && o.Payment.Reference == reference {
			return copyOrder(o), nil
		}
	}
	return nil, order.ErrOrderNotFound
}

func (m *MockOrderStore) List(ctx context.Context, f order.ListFilter) ([]*order.Order, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*order.Order
	for _, o := range m.orders {
		if f.BuyerID != "" && o.BuyerID != f.BuyerID {
			continue
		}
		if f.FarmerID != "" && o.FarmerID != f.FarmerID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		matched = append(matched, copyOrder(o))
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if f.Offset >= total {
		return []*order.Order{}, total, nil
	}
	end := total
	if f.Limit > 0 && f.Offset+f.Limit < end {
		end = f.Offset + f.Limit
	}
	return matched[f.Offset:end], total, nil
}

func (m *MockOrderStore) TransitionStatus(ctx context.Context, id string, from, to order.Status, at time.Time, ev order.Event) (*order.Order, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, false, order.ErrOrderNotFound
	}
	if o.Status != from {
		return copyOrder(o), false, nil
	}
	o.Status = to
	o.UpdatedAt = at
	m.Events = append(m.Events, ev)
	return copyOrder(o), true, nil
}

func (m *MockOrderStore) AttachPayment(ctx context.Context, id string, p order.Payment, at time.Time, ev order.Event) (*order.Order, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.AttachErr != nil {
		return nil, false, m.AttachErr
	}
	o, ok := m.orders[id]
	if !ok {
		return nil, false, order.ErrOrderNotFound
	}
	if o.Status != order.StatusPaymentPending || o.Payment.Status != order.PaymentPending || o.Payment.Reference != "" {
		return copyOrder(o), false, nil
	}
	for _, other := range m.orders {
		if other.Payment.Reference == p.Reference {
			return nil, false, apperr.New(apperr.Conflict, "duplicate_reference", "payment reference already in use")
		}
	}

	o.Payment.Method = p.Method
	o.Payment.Reference = p.Reference
	o.Payment.PayerEmail = p.PayerEmail
	o.UpdatedAt = at
	m.Events = append(m.Events, ev)
	return copyOrder(o), true, nil
}

func (m *MockOrderStore) RecordAuthorization(ctx context.Context, id, reference, authorizationURL, accessCode string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.RecordErr != nil {
		return m.RecordErr
	}
	o, ok := m.orders[id]
	if !ok || o.Payment.Reference != reference || o.Payment.Status != order.PaymentPending {
		return nil
	}
	o.Payment.AuthorizationURL = authorizationURL
	o.Payment.AccessCode = accessCode
	o.UpdatedAt = at
	return nil
}

func (m *MockOrderStore) Settle(ctx context.Context, s order.Settlement, ev order.Event) (*order.Order, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.catalog.lock()
	defer m.catalog.unlock()

	m.SettleCalls++
	if m.SettleErr != nil {
		return nil, false, m.SettleErr
	}

	o, ok := m.orders[s.OrderID]
	if !ok {
		return nil, false, order.ErrOrderNotFound
	}
	if o.Payment.Status != order.PaymentPending {
		return copyOrder(o), false, nil
	}

	// Validate every deduction before touching any product.
	totals := make(map[string]int, len(s.Deductions))
	for _, d := range s.Deductions {
		totals[d.ProductID] += d.Quantity
	}
	for productID, qty := range totals {
		p, ok := m.catalog.product(productID)
		if !ok {
			return nil, false, fmt.Errorf("%w: %s", catalog.ErrProductNotFound, productID)
		}
		if s.RequireStock && p.Inventory.AvailableQuantity < qty {
			return nil, false, fmt.Errorf("%w: %s has %d available, needs %d",
				order.ErrInventoryExhausted, productID, p.Inventory.AvailableQuantity, qty)
		}
	}
	for productID, qty := range totals {
		p, _ := m.catalog.product(productID)
		p.Inventory.AvailableQuantity -= qty
		p.Inventory.ReservedQuantity += qty
	}

	o.Status = s.Status
	o.Payment = s.Payment
	o.UpdatedAt = s.At
	m.Events = append(m.Events, ev)
	return copyOrder(o), true, nil
}

func (m *MockOrderStore) ListStalePending(ctx context.Context, before time.Time, limit int) ([]*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stale []*order.Order
	for _, o := range m.orders {
		if o.Status == order.StatusPaymentPending && o.Payment.Status == order.PaymentPending && o.CreatedAt.Before(before) {
			stale = append(stale, copyOrder(o))
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		return stale[i].CreatedAt.Before(stale[j].CreatedAt)
	})
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

// Put stores an order directly for testing
func (m *MockOrderStore) Put(o *order.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = copyOrder(o)
}

// EventTypes returns the recorded event types in write order
func (m *MockOrderStore) EventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]string, len(m.Events))
	for i, ev := range m.Events {
		types[i] = ev.Type
	}
	return types
}

func copyOrder(o *order.Order) *order.Order {
	cp := *o
	cp.Items = append([]order.Item(nil), o.Items...)
	if o.Payment.PaidAt != nil {
		paidAt := *o.Payment.PaidAt
		cp.Payment.PaidAt = &paidAt
	}
	return &cp
}
