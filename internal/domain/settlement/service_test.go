package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/agrilink/marketplace/internal/apperr"
	"github.com/agrilink/marketplace/internal/auth"
	"github.com/agrilink/marketplace/internal/domain/catalog"
	"github.com/agrilink/marketplace/internal/domain/order"
	"github.com/agrilink/marketplace/internal/domain/payment"
	"github.com/agrilink/marketplace/internal/infrastructure/paystack"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (e *testEnv) createOrder(t *testing.T) *order.Order {
	t.Helper()
	o, err := e.ledger.Create(context.Background(), order.CreateParams{
		BuyerID:  testBuyer.ID,
		FarmerID: "farmer-1",
		Items: []order.Item{{
			ProductID: "P1", ProductName: "Tomatoes", Quantity: 5,
			UnitPrice: decimal.NewFromInt(20), Unit: "kg", Segment: catalog.SegmentB2C,
		}},
		DeliveryAddress: order.Address{Street: "12 Market St", City: "Accra", Region: "Greater Accra"},
		Shipping:        order.Shipping{Cost: decimal.RequireFromString("10.25")},
	})
	require.NoError(t, err)
	return o
}

// ============================================
// InitializePayment Tests
// ============================================

func TestService_InitializePayment_Success(t *testing.T) {
	env := newTestEnv(PolicyStrict)
	ctx := context.Background()
	o := env.createOrder(t)

	authz, err := env.service.InitializePayment(ctx, o.ID, "payer@example.com", testBuyer)

	require.NoError(t, err)
	assert.Contains(t, authz.Reference, "AGR-"+o.OrderNumber+"-")
	assert.NotEmpty(t, authz.URL)
	assert.NotEmpty(t, authz.AccessCode)

	require.Len(t, env.gateway.InitializeCalls, 1)
	req := env.gateway.InitializeCalls[0]
	assert.Equal(t, int64(11025), req.AmountMinor)
	assert.Equal(t, "GHS", req.Currency)
	assert.Equal(t, "payer@example.com", req.Email)
	assert.Equal(t, o.ID, req.Metadata["order_id"])
	assert.Equal(t, "https://shop.test/customer?payment=verify&reference="+authz.Reference, req.CallbackURL)

	stored, err := env.store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, authz.Reference, stored.Payment.Reference)
	assert.Equal(t, "payer@example.com", stored.Payment.PayerEmail)
	assert.Equal(t, order.StatusPaymentPending, stored.Status)
	assert.Contains(t, env.store.EventTypes(), order.EventPaymentInitialized)
}

func TestService_InitializePayment_ReusesReference(t *testing.T) {
	env := newTestEnv(PolicyStrict)
	ctx := context.Background()
	o := env.createOrder(t)

	first, err := env.service.InitializePayment(ctx, o.ID, testBuyer.Email, testBuyer)
	require.NoError(t, err)
	second, err := env.service.InitializePayment(ctx, o.ID, testBuyer.Email, testBuyer)
	require.NoError(t, err)

	assert.Equal(t, first.Reference, second.Reference)
	assert.Equal(t, first.URL, second.URL)
	assert.Equal(t, first.AccessCode, second.AccessCode)
	assert.Len(t, env.gateway.InitializeCalls, 1)

	stored, err := env.store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, first.URL, stored.Payment.AuthorizationURL)
}

func TestService_InitializePayment_UnrecordedCheckoutStillOpen(t *testing.T) {
	env := newTestEnv(PolicyStrict)
	ctx := context.Background()
	o := env.createOrder(t)
	env.store.RecordErr = errors.New("connection reset")

	first, err := env.service.InitializePayment(ctx, o.ID, testBuyer.Email, testBuyer)
	require.NoError(t, err)

	env.store.RecordErr = nil
	env.gateway.SetOutcome(first.Reference, payment.Outcome{Status: payment.StatusPending})
	_, err = env.service.InitializePayment(ctx, o.ID, testBuyer.Email, testBuyer)

	assert.ErrorIs(t, err, ErrChargeInProgress)
	assert.Len(t, env.gateway.InitializeCalls, 2)
	assert.Equal(t, []string{first.Reference}, env.gateway.VerifyCalls)

	stored, err := env.store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Reference, stored.Payment.Reference)
	assert.Equal(t, order.StatusPaymentPending, stored.Status)
}

func TestService_InitializePayment_RecoversPaidCharge(t *testing.T) {
	env := newTestEnv(PolicyStrict)
	ctx := context.Background()
	o := env.createOrder(t)
	env.store.RecordErr = errors.New("connection reset")

	first, err := env.service.InitializePayment(ctx, o.ID, testBuyer.Email, testBuyer)
	require.NoError(t, err)

	env.store.RecordErr = nil
	env.gateway.SetOutcome(first.Reference, successOutcome(11025))
	_, err = env.service.InitializePayment(ctx, o.ID, testBuyer.Email, testBuyer)

	assert.ErrorIs(t, err, ErrPaymentNotPending)

	stored, err := env.store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusConfirmed, stored.Status)
	assert.Equal(t, order.PaymentSuccess, stored.Payment.Status)
}

func TestService_InitializePayment_PaystackRetry(t *testing.T) {
	var (
		mu    sync.Mutex
		seen  = map[string]bool{}
		inits int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path != "/transaction/initialize" {
			json.NewEncoder(w).Encode(map[string]any{"status": true, "message": "ok", "data": map[string]any{"status": "abandoned"}})
			return
		}
		var body struct {
			Reference string `json:"reference"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		mu.Lock()
		defer mu.Unlock()
		inits++
		if seen[body.Reference] {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]any{"status": false, "message": "Duplicate Transaction Reference"})
			return
		}
		seen[body.Reference] = true
		json.NewEncoder(w).Encode(map[string]any{
			"status":  true,
			"message": "Authorization URL created",
			"data": map[string]any{
				"authorization_url": "https://checkout.paystack.com/x",
				"access_code":       "x",
				"reference":         body.Reference,
			},
		})
	}))
	defer srv.Close()

	env := newTestEnv(PolicyStrict)
	gw := paystack.NewClient(paystack.Config{SecretKey: "sk_test", BaseURL: srv.URL, MaxRetryElapsed: time.Second})
	service := NewService(env.store, gw, env.reconciler, "https://shop.test")
	ctx := context.Background()
	o := env.createOrder(t)

	first, err := service.InitializePayment(ctx, o.ID, testBuyer.Email, testBuyer)
	require.NoError(t, err)
	second, err := service.InitializePayment(ctx, o.ID, testBuyer.Email, testBuyer)
	require.NoError(t, err)

	assert.Equal(t, "https://checkout.paystack.com/x", second.URL)
	assert.Equal(t, first.Reference, second.Reference)
	mu.Lock()
	assert.Equal(t, 1, inits)
	mu.Unlock()
}

func TestService_InitializePayment_GatewayFailureKeepsReference(t *testing.T) {
	env := newTestEnv(PolicyStrict)
	ctx := context.Background()
	o := env.createOrder(t)
	env.gateway.InitializeErr = errors.New("dial tcp: i/o timeout")

	_, err := env.service.InitializePayment(ctx, o.ID, testBuyer.Email, testBuyer)

	assert.ErrorIs(t, err, payment.ErrGateway)
	assert.True(t, apperr.Retryable(err))

	stored, err := env.store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaymentPending, stored.Status)
	ref := stored.Payment.Reference
	require.NotEmpty(t, ref)

	env.gateway.InitializeErr = nil
	authz, err := env.service.InitializePayment(ctx, o.ID, testBuyer.Email, testBuyer)
	require.NoError(t, err)
	assert.Equal(t, ref, authz.Reference)
}

func TestService_InitializePayment_OnlyBuyer(t *testing.T) {
	env := newTestEnv(PolicyStrict)
	o := env.createOrder(t)

	_, err := env.service.InitializePayment(context.Background(), o.ID, "x@example.com",
		auth.Principal{ID: "intruder", Role: auth.RoleConsumer})

	assert.ErrorIs(t, err, order.ErrNotAuthorized)
	assert.Empty(t, env.gateway.InitializeCalls)
}

func TestService_InitializePayment_SettledOrder(t *testing.T) {
	env := newTestEnv(PolicyStrict)
	ctx := context.Background()
	o, ref := env.placeOrder(t)
	_, err := env.reconciler.Reconcile(ctx, ref, successOutcome(10000))
	require.NoError(t, err)

	_, err = env.service.InitializePayment(ctx, o.ID, testBuyer.Email, testBuyer)

	assert.ErrorIs(t, err, ErrPaymentNotPending)
}

func TestService_InitializePayment_BelowGatewayMinimum(t *testing.T) {
	env := newTestEnv(PolicyStrict)
	ctx := context.Background()
	o, err := env.ledger.Create(ctx, order.CreateParams{
		BuyerID:         testBuyer.ID,
		FarmerID:        "farmer-1",
		Items:           []order.Item{{ProductID: "P2", Quantity: 1, UnitPrice: decimal.RequireFromString("0.50")}},
		DeliveryAddress: order.Address{Street: "1", City: "Tamale", Region: "Northern"},
	})
	require.NoError(t, err)

	_, err = env.service.InitializePayment(ctx, o.ID, testBuyer.Email, testBuyer)

	assert.ErrorIs(t, err, payment.ErrAmountTooSmall)
	assert.Empty(t, env.gateway.InitializeCalls)
}

func TestService_InitializePayment_OrderNotFound(t *testing.T) {
	env := newTestEnv(PolicyStrict)

	_, err := env.service.InitializePayment(context.Background(), "missing", testBuyer.Email, testBuyer)

	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

// ============================================
// VerifyPayment Tests
// ============================================

func TestService_VerifyPayment_Success(t *testing.T) {
	env := newTestEnv(PolicyStrict)
	ctx := context.Background()
	_, ref := env.placeOrder(t)
	env.gateway.SetOutcome(ref, successOutcome(10000))

	res, err := env.service.VerifyPayment(ctx, ref)

	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, order.StatusConfirmed, res.Order.Status)
	assert.Equal(t, 95, env.catalog.Inventory("P1").AvailableQuantity)
}

func TestService_VerifyPayment_SettledSkipsGateway(t *testing.T) {
	env := newTestEnv(PolicyStrict)
	ctx := context.Background()
	_, ref := env.placeOrder(t)
	env.gateway.SetOutcome(ref, successOutcome(10000))

	_, err := env.service.VerifyPayment(ctx, ref)
	require.NoError(t, err)
	res, err := env.service.VerifyPayment(ctx, ref)
	require.NoError(t, err)

	assert.False(t, res.Applied)
	assert.Len(t, env.gateway.VerifyCalls, 1)
	assert.Equal(t, 95, env.catalog.Inventory("P1").AvailableQuantity)
}

func TestService_VerifyPayment_GatewayError(t *testing.T) {
	env := newTestEnv(PolicyStrict)
	ctx := context.Background()
	_, ref := env.placeOrder(t)
	env.gateway.VerifyErr = errors.New("502 bad gateway")

	_, err := env.service.VerifyPayment(ctx, ref)

	assert.ErrorIs(t, err, payment.ErrGateway)
	o, err := env.store.GetByReference(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaymentPending, o.Status)
}

func TestService_VerifyPayment_UnknownReference(t *testing.T) {
	env := newTestEnv(PolicyStrict)

	_, err := env.service.VerifyPayment(context.Background(), "AGR-unknown")

	assert.ErrorIs(t, err, order.ErrOrderNotFound)
	assert.Empty(t, env.gateway.VerifyCalls)
}

func TestService_HandleWebhook_ConvergesWithVerify(t *testing.T) {
	env := newTestEnv(PolicyStrict)
	ctx := context.Background()
	_, ref := env.placeOrder(t)
	env.gateway.SetOutcome(ref, successOutcome(10000))

	hook, err := env.service.HandleWebhook(ctx, "charge.success", ref)
	require.NoError(t, err)
	poll, err := env.service.VerifyPayment(ctx, ref)
	require.NoError(t, err)

	assert.True(t, hook.Applied)
	assert.False(t, poll.Applied)
	assert.Equal(t, 95, env.catalog.Inventory("P1").AvailableQuantity)
	assert.Equal(t, 5, env.catalog.Inventory("P1").ReservedQuantity)
}

// ============================================
// PaymentStatus Tests
// ============================================

func TestService_PaymentStatus(t *testing.T) {
	env := newTestEnv(PolicyStrict)
	ctx := context.Background()
	o, ref := env.placeOrder(t)

	view, err := env.service.PaymentStatus(ctx, o.ID, testBuyer)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaymentPending, view.OrderStatus)
	assert.Equal(t, ref, view.Payment.Reference)

	_, err = env.service.PaymentStatus(ctx, o.ID, auth.Principal{ID: "other", Role: auth.RoleConsumer})
	assert.ErrorIs(t, err, order.ErrNotAuthorized)
}

// ============================================
// Scenarios
// ============================================

func TestScenario_PaidOrder(t *testing.T) {
	env := newTestEnv(PolicyStrict)
	ctx := context.Background()

	o, ref := env.placeOrder(t)
	assert.Equal(t, "100.00", o.Subtotal.StringFixed(2))
	assert.Equal(t, order.StatusPaymentPending, o.Status)
	assert.Equal(t, 100, env.catalog.Inventory("P1").AvailableQuantity)

	res, err := env.reconciler.Reconcile(ctx, ref, payment.Outcome{Status: payment.StatusSuccess, AmountMinor: 10000})
	require.NoError(t, err)

	assert.Equal(t, order.StatusConfirmed, res.Order.Status)
	assert.Equal(t, 95, env.catalog.Inventory("P1").AvailableQuantity)
	assert.Equal(t, 5, env.catalog.Inventory("P1").ReservedQuantity)
}

func TestScenario_FailedPayment(t *testing.T) {
	env := newTestEnv(PolicyStrict)
	ctx := context.Background()

	_, ref := env.placeOrder(t)
	res, err := env.reconciler.Reconcile(ctx, ref, payment.Outcome{Status: payment.StatusFailed})
	require.NoError(t, err)

	assert.Equal(t, order.StatusPaymentFailed, res.Order.Status)
	assert.Equal(t, 100, env.catalog.Inventory("P1").AvailableQuantity)
}
