package command

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/agrilink/marketplace/internal/apperr"
	"github.com/agrilink/marketplace/internal/auth"
	"github.com/agrilink/marketplace/internal/domain/order"
	"github.com/agrilink/marketplace/internal/domain/pricing"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var ErrInvalidCommand = apperr.New(apperr.Validation, "invalid_request", "invalid request")

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validateStruct(cmd any) error {
	err := validate.Struct(cmd)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			fields = append(fields, fmt.Sprintf("%s must satisfy %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
			continue
		}
		fields = append(fields, fmt.Sprintf("%s must satisfy %s", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidCommand, strings.Join(fields, "; "))
}

// Order Commands
type PlaceOrder struct {
	Buyer           auth.Principal     `json:"-"`
	Items           []pricing.CartLine `json:"items" validate:"required,min=1,max=100"`
	DeliveryAddress order.Address      `json:"delivery_address"`
	Notes           string             `json:"notes" validate:"max=1000"`
	ShippingMethod  string             `json:"shipping_method" validate:"omitempty,oneof=standard express pickup"`
	ShippingCost    decimal.Decimal    `json:"shipping_cost"`
}

func (c PlaceOrder) Validate() error {
	if c.Buyer.ID == "" {
		return fmt.Errorf("%w: buyer is required", ErrInvalidCommand)
	}
	if err := validateStruct(c); err != nil {
		return err
	}
	if c.ShippingCost.IsNegative() {
		return fmt.Errorf("%w: shipping_cost cannot be negative", ErrInvalidCommand)
	}
	return c.DeliveryAddress.Validate()
}

type UpdateOrderStatus struct {
	OrderID string         `json:"order_id" validate:"required"`
	Status  order.Status   `json:"status" validate:"required"`
	Actor   auth.Principal `json:"-"`
}

func (c UpdateOrderStatus) Validate() error {
	return validateStruct(c)
}

// Payment Commands
type InitializePayment struct {
	OrderID string         `json:"order_id" validate:"required"`
	Email   string         `json:"email" validate:"omitempty,email"`
	Payer   auth.Principal `json:"-"`
}

func (c InitializePayment) Validate() error {
	return validateStruct(c)
}

type VerifyPayment struct {
	Reference string `json:"reference" validate:"required,max=100"`
}

func (c VerifyPayment) Validate() error {
	return validateStruct(c)
}
