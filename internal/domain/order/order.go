package order

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/agrilink/marketplace/internal/apperr"
	"github.com/agrilink/marketplace/internal/domain/catalog"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPaymentPending Status = "payment_pending"
	StatusConfirmed      Status = "confirmed"
	StatusProcessing     Status = "processing"
	StatusShipped        Status = "shipped"
	StatusDelivered      Status = "delivered"
	StatusCancelled      Status = "cancelled"
	StatusPaymentFailed  Status = "payment_failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPaymentPending, StatusConfirmed, StatusProcessing, StatusShipped,
		StatusDelivered, StatusCancelled, StatusPaymentFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition can leave s.
func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled || s == StatusPaymentFailed
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentSuccess PaymentStatus = "success"
	PaymentFailed  PaymentStatus = "failed"
)

var (
	ErrOrderNotFound        = apperr.New(apperr.NotFound, "order_not_found", "order not found")
	ErrEmptyOrder           = apperr.New(apperr.Validation, "empty_order", "order must have at least one item")
	ErrInvalidOrder         = apperr.New(apperr.Validation, "invalid_order", "invalid order")
	ErrInvalidTransition    = apperr.New(apperr.InvalidTransition, "invalid_transition", "invalid order status transition")
	ErrNotAuthorized        = apperr.New(apperr.NotAuthorized, "not_authorized", "not authorized for this order")
	ErrStatusConflict       = apperr.New(apperr.Conflict, "status_conflict", "order was modified concurrently")
	ErrDuplicateOrderNumber = apperr.New(apperr.Conflict, "duplicate_order_number", "order number already exists")
	ErrInventoryExhausted   = apperr.New(apperr.Conflict, "inventory_exhausted", "insufficient stock remains to confirm order")
)

// Item is a line of an order. Name and price are snapshots taken at
// creation and never re-read from the catalog.
type Item struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Unit        string          `json:"unit"`
	Segment     catalog.Segment `json:"marketplace"`
}

func (i Item) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Address struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	Region     string `json:"region"`
	PostalCode string `json:"postal_code,omitempty"`
	Phone      string `json:"phone,omitempty"`
}

func (a Address) Validate() error {
	var missing []string
	if strings.TrimSpace(a.Street) == "" {
		missing = append(missing, "street")
	}
	if strings.TrimSpace(a.City) == "" {
		missing = append(missing, "city")
	}
	if strings.TrimSpace(a.Region) == "" {
		missing = append(missing, "region")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: delivery address requires %s", ErrInvalidOrder, strings.Join(missing, ", "))
	}
	return nil
}

type Shipping struct {
	Method string          `json:"method"`
	Cost   decimal.Decimal `json:"cost"`
}

type Payment struct {
	Method           string          `json:"method,omitempty"`
	Status           PaymentStatus   `json:"status"`
	Reference        string          `json:"reference,omitempty"`
	PayerEmail       string          `json:"payer_email,omitempty"`
	AuthorizationURL string          `json:"authorization_url,omitempty"`
	AccessCode       string          `json:"access_code,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	PaidAt           *time.Time      `json:"paid_at,omitempty"`
	TransactionID    string          `json:"transaction_id,omitempty"`
	FailureReason    string          `json:"failure_reason,omitempty"`
	GatewayResponse  string          `json:"gateway_response,omitempty"`
}

// Settled reports whether reconciliation already ran to completion.
func (p Payment) Settled() bool {
	return p.Status == PaymentSuccess || p.Status == PaymentFailed
}

type Order struct {
	ID              string          `json:"id"`
	OrderNumber     string          `json:"order_number"`
	BuyerID         string          `json:"buyer_id"`
	FarmerID        string          `json:"farmer_id"`
	Items           []Item          `json:"items"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Shipping        Shipping        `json:"shipping"`
	Total           decimal.Decimal `json:"total"`
	DeliveryAddress Address         `json:"delivery_address"`
	Notes           string          `json:"notes,omitempty"`
	Status          Status          `json:"status"`
	Payment         Payment         `json:"payment"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Subtotal sums the snapshotted line totals.
func Subtotal(items []Item) decimal.Decimal {
	sum := decimal.Zero
	for _, item := range items {
		sum = sum.Add(item.LineTotal())
	}
	return sum
}

// Deductions lists the inventory movements a successful settlement applies.
func (o *Order) Deductions() []Deduction {
	out := make([]Deduction, 0, len(o.Items))
	for _, item := range o.Items {
		out = append(out, Deduction{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return out
}

const orderNumberAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// NewOrderNumber returns a human readable reference: AGR-<unix millis>-<9 chars>.
func NewOrderNumber(now time.Time) string {
	var b strings.Builder
	for i := 0; i < 9; i++ {
		b.WriteByte(orderNumberAlphabet[rand.IntN(len(orderNumberAlphabet))])
	}
	return fmt.Sprintf("AGR-%d-%s", now.UnixMilli(), b.String())
}
