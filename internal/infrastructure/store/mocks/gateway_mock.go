package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/agrilink/marketplace/internal/domain/payment"
)

// MockGateway is a scripted payment.Gateway for tests. Like Paystack it
// accepts each reference once.
type MockGateway struct {
	mu          sync.Mutex
	outcomes    map[string]payment.Outcome
	initialized map[string]bool

	InitializeCalls []payment.ChargeRequest
	VerifyCalls     []string
	InitializeErr   error
	VerifyErr       error
}

func NewMockGateway() *MockGateway {
	return &MockGateway{
		outcomes:    make(map[string]payment.Outcome),
		initialized: make(map[string]bool),
	}
}

func (m *MockGateway) InitializeCharge(ctx context.Context, req payment.ChargeRequest) (*payment.Authorization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.InitializeCalls = append(m.InitializeCalls, req)
	if m.InitializeErr != nil {
		return nil, m.InitializeErr
	}
	if m.initialized[req.Reference] {
		return nil, fmt.Errorf("%w: %s", payment.ErrDuplicateCharge, req.Reference)
	}
	m.initialized[req.Reference] = true
	return &payment.Authorization{
		URL:        "https://checkout.test/" + req.Reference,
		AccessCode: "access-" + req.Reference,
		Reference:  req.Reference,
	}, nil
}

func (m *MockGateway) VerifyCharge(ctx context.Context, reference string) (*payment.Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.VerifyCalls = append(m.VerifyCalls, reference)
	if m.VerifyErr != nil {
		return nil, m.VerifyErr
	}
	outcome, ok := m.outcomes[reference]
	if !ok {
		return nil, fmt.Errorf("%w: %s", payment.ErrChargeNotFound, reference)
	}
	return &outcome, nil
}

// SetOutcome scripts the verification result for a reference
func (m *MockGateway) SetOutcome(reference string, outcome payment.Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[reference] = outcome
}
