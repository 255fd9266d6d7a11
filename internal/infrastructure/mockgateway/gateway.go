package mockgateway

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/agrilink/marketplace/internal/domain/payment"
	"github.com/go-chi/chi/v5"
)

type charge struct {
	request payment.ChargeRequest
	status  payment.Status
	paidAt  time.Time
	txID    string
}

// Gateway is an in-process payment.Gateway for local runs. Charges stay
// pending until completed through Complete or the checkout handler.
type Gateway struct {
	mu       sync.RWMutex
	charges  map[string]*charge
	baseURL  string
	sequence int
}

func New(baseURL string) *Gateway {
	return &Gateway{
		charges: make(map[string]*charge),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// InitializeCharge accepts each reference once, as Paystack does.
func (g *Gateway) InitializeCharge(ctx context.Context, req payment.ChargeRequest) (*payment.Authorization, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	if _, exists := g.charges[req.Reference]; exists {
		g.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", payment.ErrDuplicateCharge, req.Reference)
	}
	g.charges[req.Reference] = &charge{request: req, status: payment.StatusPending}
	g.mu.Unlock()

	log.Printf("[MockGateway] Charge %s for %d minor units", req.Reference, req.AmountMinor)
	return &payment.Authorization{
		URL:        g.baseURL + "/mock-checkout/" + req.Reference,
		AccessCode: "mock_" + req.Reference,
		Reference:  req.Reference,
	}, nil
}

func (g *Gateway) VerifyCharge(ctx context.Context, reference string) (*payment.Outcome, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	c, ok := g.charges[reference]
	if !ok {
		return nil, fmt.Errorf("%w: %s", payment.ErrChargeNotFound, reference)
	}

	outcome := &payment.Outcome{
		Status:        c.status,
		AmountMinor:   c.request.AmountMinor,
		Currency:      c.request.Currency,
		PaidAt:        c.paidAt,
		TransactionID: c.txID,
	}
	switch c.status {
	case payment.StatusSuccess:
		outcome.GatewayResponse = "Approved"
	case payment.StatusFailed:
		outcome.GatewayResponse = "Declined"
	}
	return outcome, nil
}

// Complete settles a pending charge. Completing a charge twice keeps the
// first result.
func (g *Gateway) Complete(reference string, success bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	c, ok := g.charges[reference]
	if !ok {
		return fmt.Errorf("%w: %s", payment.ErrChargeNotFound, reference)
	}
	if c.status != payment.StatusPending {
		return nil
	}

	g.sequence++
	c.txID = fmt.Sprintf("mock-%d", g.sequence)
	if success {
		c.status = payment.StatusSuccess
		c.paidAt = time.Now()
	} else {
		c.status = payment.StatusFailed
	}
	return nil
}

// CheckoutHandler completes a charge from the browser and redirects to the
// charge's callback URL. Mounted at /mock-checkout/{reference}; ?result=failed
// declines the charge.
func (g *Gateway) CheckoutHandler(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")
	success := r.URL.Query().Get("result") != "failed"

	if err := g.Complete(reference, success); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	g.mu.RLock()
	callback := g.charges[reference].request.CallbackURL
	g.mu.RUnlock()

	if callback == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, callback, http.StatusFound)
}
