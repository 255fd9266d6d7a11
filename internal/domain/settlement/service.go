package settlement

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/agrilink/marketplace/internal/apperr"
	"github.com/agrilink/marketplace/internal/auth"
	"github.com/agrilink/marketplace/internal/domain/order"
	"github.com/agrilink/marketplace/internal/domain/payment"
)

var (
	ErrPaymentNotPending = apperr.New(apperr.Conflict, "payment_not_pending", "order is not awaiting payment")
	ErrChargeInProgress  = apperr.New(apperr.Conflict, "charge_in_progress", "a checkout for this order is already open at the gateway")
)

const paymentMethodCard = "paystack"

// StatusView is the payment state of an order as shown to its buyer.
type StatusView struct {
	OrderID     string        `json:"order_id"`
	OrderNumber string        `json:"order_number"`
	OrderStatus order.Status  `json:"order_status"`
	Payment     order.Payment `json:"payment"`
}

// Service runs the payment side of the order lifecycle: starting a charge,
// verifying it and feeding the outcome to the Reconciler.
type Service struct {
	store       order.Store
	gateway     payment.Gateway
	reconciler  *Reconciler
	callbackURL string
	now         func() time.Time
}

func NewService(store order.Store, gateway payment.Gateway, reconciler *Reconciler, callbackURL string) *Service {
	return &Service{
		store:       store,
		gateway:     gateway,
		reconciler:  reconciler,
		callbackURL: callbackURL,
		now:         time.Now,
	}
}

// InitializePayment starts a charge for the order's total. The reference is
// persisted before the gateway is called and reused by later attempts, so a
// failed or repeated initialization never produces a second reference. Once
// the gateway has issued a checkout for the reference, retries return it
// without calling the gateway again.
func (s *Service) InitializePayment(ctx context.Context, orderID, email string, payer auth.Principal) (*payment.Authorization, error) {
	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.BuyerID != payer.ID {
		return nil, order.ErrNotAuthorized
	}
	if o.Status != order.StatusPaymentPending || o.Payment.Settled() {
		return nil, fmt.Errorf("%w: order %s is %s", ErrPaymentNotPending, o.OrderNumber, o.Status)
	}
	if authz := storedAuthorization(o); authz != nil {
		log.Printf("[Settlement] Reusing checkout for payment %s of order %s", authz.Reference, o.OrderNumber)
		return authz, nil
	}

	req := payment.ChargeRequest{
		Reference:   o.Payment.Reference,
		AmountMinor: payment.ToMinorUnits(o.Total),
		Currency:    o.Payment.Currency,
		Email:       email,
		Metadata: map[string]string{
			"order_id":     o.ID,
			"order_number": o.OrderNumber,
			"buyer_id":     o.BuyerID,
		},
	}
	if req.Reference == "" {
		req.Reference = payment.NewReference(o.OrderNumber, s.now())
	}
	req.CallbackURL = s.callbackFor(req.Reference)
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if o.Payment.Reference == "" {
		ref, err := s.attachReference(ctx, o, req)
		if err != nil {
			return nil, err
		}
		req.Reference = ref
		req.CallbackURL = s.callbackFor(ref)
	}

	authz, err := s.gateway.InitializeCharge(ctx, req)
	if errors.Is(err, payment.ErrDuplicateCharge) {
		return s.recoverCharge(ctx, o.ID, req.Reference)
	}
	if err != nil {
		log.Printf("[Settlement] Failed to initialize payment %s for order %s: %v", req.Reference, o.OrderNumber, err)
		return nil, asGatewayError(err)
	}

	if err := s.store.RecordAuthorization(ctx, o.ID, req.Reference, authz.URL, authz.AccessCode, s.now()); err != nil {
		// The charge exists at the gateway; a later retry recovers it.
		log.Printf("[Settlement] Failed to record checkout for payment %s: %v", req.Reference, err)
	}

	log.Printf("[Settlement] Initialized payment %s for order %s (%d minor units)", req.Reference, o.OrderNumber, req.AmountMinor)
	return authz, nil
}

// recoverCharge handles a gateway that already knows reference, either
// from a concurrent initialization or one whose response was lost. A
// recorded checkout is returned; otherwise the charge is verified and a
// final outcome reconciled.
func (s *Service) recoverCharge(ctx context.Context, orderID, reference string) (*payment.Authorization, error) {
	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if authz := storedAuthorization(o); authz != nil && authz.Reference == reference {
		return authz, nil
	}

	outcome, err := s.gateway.VerifyCharge(ctx, reference)
	if err != nil {
		log.Printf("[Settlement] Failed to recover payment %s for order %s: %v", reference, o.OrderNumber, err)
		return nil, asGatewayError(err)
	}
	if outcome.Status == payment.StatusPending {
		log.Printf("[Settlement] Payment %s for order %s is open at the gateway without a recorded checkout", reference, o.OrderNumber)
		return nil, fmt.Errorf("%w: %s", ErrChargeInProgress, reference)
	}

	res, err := s.reconciler.Reconcile(ctx, reference, *outcome)
	if err != nil {
		return nil, err
	}
	log.Printf("[Settlement] Recovered payment %s for order %s as %s", reference, o.OrderNumber, outcome.Status)
	return nil, fmt.Errorf("%w: order %s is %s", ErrPaymentNotPending, res.Order.OrderNumber, res.Order.Status)
}

func storedAuthorization(o *order.Order) *payment.Authorization {
	if o.Payment.Reference == "" || o.Payment.AuthorizationURL == "" {
		return nil
	}
	return &payment.Authorization{
		URL:        o.Payment.AuthorizationURL,
		AccessCode: o.Payment.AccessCode,
		Reference:  o.Payment.Reference,
	}
}

func (s *Service) attachReference(ctx context.Context, o *order.Order, req payment.ChargeRequest) (string, error) {
	now := s.now()
	p := order.Payment{
		Method:     paymentMethodCard,
		Reference:  req.Reference,
		PayerEmail: req.Email,
	}
	updated, applied, err := s.store.AttachPayment(ctx, o.ID, p, now, order.Event{
		Type:    order.EventPaymentInitialized,
		OrderID: o.ID,
		Data: order.PaymentInitializedEvent{
			OrderID:       o.ID,
			OrderNumber:   o.OrderNumber,
			Reference:     req.Reference,
			PayerEmail:    req.Email,
			Amount:        o.Total,
			Currency:      o.Payment.Currency,
			InitializedAt: now,
		},
	})
	if err != nil {
		log.Printf("[Settlement] Failed to record reference %s for order %s: %v", req.Reference, o.OrderNumber, err)
		return "", err
	}
	if applied {
		return req.Reference, nil
	}
	// Lost the race with another initialization: reuse its reference.
	if updated.Status == order.StatusPaymentPending && !updated.Payment.Settled() && updated.Payment.Reference != "" {
		return updated.Payment.Reference, nil
	}
	return "", fmt.Errorf("%w: order %s is %s", ErrPaymentNotPending, o.OrderNumber, updated.Status)
}

// VerifyPayment asks the gateway for the authoritative outcome of reference
// and reconciles it. Already settled orders are returned without a gateway
// call.
func (s *Service) VerifyPayment(ctx context.Context, reference string) (*Result, error) {
	if reference == "" {
		return nil, payment.ErrInvalidReference
	}

	o, err := s.store.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if o.Payment.Settled() {
		return &Result{Order: o}, nil
	}

	outcome, err := s.gateway.VerifyCharge(ctx, reference)
	if err != nil {
		log.Printf("[Settlement] Failed to verify payment %s for order %s: %v", reference, o.OrderNumber, err)
		return nil, asGatewayError(err)
	}

	return s.reconciler.Reconcile(ctx, reference, *outcome)
}

// HandleWebhook processes a signed gateway notification. The payload is only
// a trigger; the outcome is always re-read from the gateway.
func (s *Service) HandleWebhook(ctx context.Context, event, reference string) (*Result, error) {
	log.Printf("[Settlement] Webhook %s for %s", event, reference)
	res, err := s.VerifyPayment(ctx, reference)
	if errors.Is(err, order.ErrOrderNotFound) {
		log.Printf("[Settlement] Webhook for unknown reference %s ignored", reference)
	}
	return res, err
}

// PaymentStatus returns the payment record of an order to its buyer, its
// farmer or an admin.
func (s *Service) PaymentStatus(ctx context.Context, orderID string, viewer auth.Principal) (*StatusView, error) {
	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !o.CanView(viewer) {
		return nil, order.ErrNotAuthorized
	}
	return &StatusView{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		OrderStatus: o.Status,
		Payment:     o.Payment,
	}, nil
}

// callbackFor is where the gateway sends the payer back after checkout.
// An empty base leaves the choice to the gateway's dashboard settings.
func (s *Service) callbackFor(reference string) string {
	if s.callbackURL == "" {
		return ""
	}
	q := url.Values{"payment": {"verify"}, "reference": {reference}}
	return strings.TrimRight(s.callbackURL, "/") + "/customer?" + q.Encode()
}

// asGatewayError keeps classified errors and marks everything else as a
// retryable gateway failure.
func asGatewayError(err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return fmt.Errorf("%w: %v", payment.ErrGateway, err)
}
