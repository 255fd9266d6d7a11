package mocks

import (
	"context"
	"sync"

	"github.com/agrilink/marketplace/internal/domain/catalog"
	"github.com/shopspring/decimal"
)

// MockCatalog is an in-memory catalog.Reader whose inventory is shared with
// MockOrderStore so settlement deductions are observable in tests.
type MockCatalog struct {
	mu       sync.RWMutex
	products map[string]*catalog.Product

	GetCalls []string
	GetErr   error
}

func NewMockCatalog() *MockCatalog {
	return &MockCatalog{
		products: make(map[string]*catalog.Product),
		GetCalls: make([]string, 0),
	}
}

// GetProduct returns a copy of the stored product
func (m *MockCatalog) GetProduct(ctx context.Context, id string) (*catalog.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.GetCalls = append(m.GetCalls, id)
	if m.GetErr != nil {
		return nil, m.GetErr
	}

	p, ok := m.products[id]
	if !ok {
		return nil, catalog.ErrProductNotFound
	}
	return copyProduct(p), nil
}

// Put adds or replaces a product
func (m *MockCatalog) Put(p *catalog.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = copyProduct(p)
}

// SetB2CPrice changes a product's consumer price in place
func (m *MockCatalog) SetB2CPrice(id string, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.products[id]; ok && p.Pricing.B2C != nil {
		p.Pricing.B2C.Price = price
	}
}

// Inventory returns the current stock counters for a product
func (m *MockCatalog) Inventory(id string) catalog.Inventory {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.products[id]; ok {
		return p.Inventory
	}
	return catalog.Inventory{}
}

func (m *MockCatalog) lock()   { m.mu.Lock() }
func (m *MockCatalog) unlock() { m.mu.Unlock() }

// product returns the stored pointer; callers must hold the lock.
func (m *MockCatalog) product(id string) (*catalog.Product, bool) {
	p, ok := m.products[id]
	return p, ok
}

func copyProduct(p *catalog.Product) *catalog.Product {
	cp := *p
	if p.Pricing.B2B != nil {
		b2b := *p.Pricing.B2B
		cp.Pricing.B2B = &b2b
	}
	if p.Pricing.B2C != nil {
		b2c := *p.Pricing.B2C
		cp.Pricing.B2C = &b2c
	}
	return &cp
}
