package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/agrilink/marketplace/internal/apperr"
	"github.com/shopspring/decimal"
)

// Status is the normalized outcome of a charge as reported by the gateway.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusPending Status = "pending"
)

var (
	ErrGateway          = apperr.New(apperr.Gateway, "gateway_error", "payment gateway error")
	ErrChargeNotFound   = apperr.New(apperr.Gateway, "charge_not_found", "charge not found at gateway")
	ErrDuplicateCharge  = apperr.New(apperr.Conflict, "duplicate_charge", "a charge with this reference already exists at the gateway")
	ErrAmountTooSmall   = apperr.New(apperr.Validation, "amount_too_small", "amount is below the gateway minimum")
	ErrInvalidReference = apperr.New(apperr.Validation, "invalid_reference", "payment reference is required")
)

// MinimumMinor is the smallest chargeable amount in minor units (1.00).
const MinimumMinor int64 = 100

var hundred = decimal.NewFromInt(100)

// ToMinorUnits converts a major-unit amount to minor units, rounding half
// away from zero.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

type ChargeRequest struct {
	Reference   string
	AmountMinor int64
	Currency    string
	Email       string
	CallbackURL string
	Metadata    map[string]string
}

func (r ChargeRequest) Validate() error {
	if r.Reference == "" {
		return ErrInvalidReference
	}
	if r.AmountMinor < MinimumMinor {
		return fmt.Errorf("%w: %d minor units", ErrAmountTooSmall, r.AmountMinor)
	}
	if r.Email == "" {
		return apperr.New(apperr.Validation, "email_required", "payer email is required")
	}
	return nil
}

// Authorization is what the payer needs to complete the charge.
type Authorization struct {
	URL        string `json:"authorization_url"`
	AccessCode string `json:"access_code"`
	Reference  string `json:"reference"`
}

// Outcome is the gateway's authoritative view of a charge.
type Outcome struct {
	Status          Status
	AmountMinor     int64
	Currency        string
	PaidAt          time.Time
	TransactionID   string
	GatewayResponse string
}

func (o Outcome) Amount() decimal.Decimal {
	return FromMinorUnits(o.AmountMinor)
}

// Gateway is the external payment processor.
type Gateway interface {
	InitializeCharge(ctx context.Context, req ChargeRequest) (*Authorization, error)
	VerifyCharge(ctx context.Context, reference string) (*Outcome, error)
}

// NewReference derives the gateway reference for an order. It is generated
// once and persisted before the first gateway call.
func NewReference(orderNumber string, now time.Time) string {
	return fmt.Sprintf("AGR-%s-%d", orderNumber, now.UnixMilli())
}
