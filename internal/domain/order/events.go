package order

import (
	"time"

	"github.com/shopspring/decimal"
)

const AggregateType = "Order"

const (
	EventOrderPlaced        = "OrderPlaced"
	EventPaymentInitialized = "PaymentInitialized"
	EventPaymentSucceeded   = "PaymentSucceeded"
	EventPaymentFailed      = "PaymentFailed"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventOrderExpired       = "OrderExpired"
)

// Event is written by the store in the same transaction as the state change
// it describes and relayed to Kafka afterwards.
type Event struct {
	Type    string
	OrderID string
	Data    any
}

type OrderPlaced struct {
	OrderID     string          `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	BuyerID     string          `json:"buyer_id"`
	FarmerID    string          `json:"farmer_id"`
	Items       []Item          `json:"items"`
	Total       decimal.Decimal `json:"total"`
	PlacedAt    time.Time       `json:"placed_at"`
}

type PaymentInitializedEvent struct {
	OrderID       string          `json:"order_id"`
	OrderNumber   string          `json:"order_number"`
	Reference     string          `json:"reference"`
	PayerEmail    string          `json:"payer_email"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	InitializedAt time.Time       `json:"initialized_at"`
}

type PaymentSucceededEvent struct {
	OrderID       string          `json:"order_id"`
	OrderNumber   string          `json:"order_number"`
	BuyerID       string          `json:"buyer_id"`
	Reference     string          `json:"reference"`
	PayerEmail    string          `json:"payer_email"`
	Items         []Item          `json:"items"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	TransactionID string          `json:"transaction_id"`
	PaidAt        time.Time       `json:"paid_at"`
}

type PaymentFailedEvent struct {
	OrderID     string    `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	BuyerID     string    `json:"buyer_id"`
	Reference   string    `json:"reference"`
	PayerEmail  string    `json:"payer_email"`
	Reason      string    `json:"reason"`
	FailedAt    time.Time `json:"failed_at"`
}

type OrderStatusChanged struct {
	OrderID     string    `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	BuyerID     string    `json:"buyer_id"`
	PayerEmail  string    `json:"payer_email,omitempty"`
	From        Status    `json:"from"`
	To          Status    `json:"to"`
	ActorID     string    `json:"actor_id"`
	ChangedAt   time.Time `json:"changed_at"`
}

type OrderExpired struct {
	OrderID     string    `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	BuyerID     string    `json:"buyer_id"`
	PayerEmail  string    `json:"payer_email,omitempty"`
	ExpiredAt   time.Time `json:"expired_at"`
}
