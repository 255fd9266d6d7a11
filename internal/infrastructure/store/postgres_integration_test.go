//go:build integration

package store

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/agrilink/marketplace/internal/auth"
	"github.com/agrilink/marketplace/internal/domain/catalog"
	"github.com/agrilink/marketplace/internal/domain/order"
	"github.com/agrilink/marketplace/internal/domain/payment"
	"github.com/agrilink/marketplace/internal/domain/settlement"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("marketplace"),
		postgres.WithUsername("marketplace"),
		postgres.WithPassword("marketplace"),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := ConnectPostgres(connStr)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, Migrate(ctx, db))
	return db
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(ctx context.Context, key string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event.(Event))
	return nil
}

func seedTomatoes(t *testing.T, cat *PostgresCatalog, available int) {
	t.Helper()
	require.NoError(t, cat.SaveProduct(context.Background(), &catalog.Product{
		ID:       "P1",
		FarmerID: "farmer-1",
		Name:     "Tomatoes",
		Status:   catalog.StatusActive,
		Pricing: catalog.Pricing{
			B2B: &catalog.B2BPricing{Price: decimal.NewFromInt(15), MinQuantity: 50, Unit: "kg"},
			B2C: &catalog.B2CPricing{Price: decimal.NewFromInt(20), Unit: "kg"},
		},
		Inventory: catalog.Inventory{TotalQuantity: available, AvailableQuantity: available},
	}))
}

func createPaidOrder(t *testing.T, ledger *order.Ledger, orders *PostgresOrderStore, qty int) (*order.Order, string) {
	t.Helper()
	ctx := context.Background()

	o, err := ledger.Create(ctx, order.CreateParams{
		BuyerID:  "buyer-1",
		FarmerID: "farmer-1",
		Items: []order.Item{{
			ProductID: "P1", ProductName: "Tomatoes", Quantity: qty,
			UnitPrice: decimal.NewFromInt(20), Unit: "kg", Segment: catalog.SegmentB2C,
		}},
		DeliveryAddress: order.Address{Street: "12 Market St", City: "Accra", Region: "Greater Accra"},
	})
	require.NoError(t, err)

	ref := payment.NewReference(o.OrderNumber, time.Now())
	_, applied, err := orders.AttachPayment(ctx, o.ID, order.Payment{Method: "paystack", Reference: ref, PayerEmail: "ama@example.com"},
		time.Now(), order.Event{Type: order.EventPaymentInitialized, OrderID: o.ID, Data: map[string]string{"reference": ref}})
	require.NoError(t, err)
	require.True(t, applied)
	return o, ref
}

func TestPostgres_CatalogRoundTrip(t *testing.T) {
	db := newTestDB(t)
	cat := NewPostgresCatalog(db)
	seedTomatoes(t, cat, 100)

	p, err := cat.GetProduct(context.Background(), "P1")
	require.NoError(t, err)
	require.NotNil(t, p.Pricing.B2B)
	assert.Equal(t, 50, p.Pricing.B2B.MinQuantity)
	assert.Equal(t, "20", p.Pricing.B2C.Price.String())
	assert.Equal(t, 100, p.Inventory.AvailableQuantity)

	_, err = cat.GetProduct(context.Background(), "missing")
	assert.ErrorIs(t, err, catalog.ErrProductNotFound)
}

func TestPostgres_OrderLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	cat := NewPostgresCatalog(db)
	orders := NewPostgresOrderStore(db)
	ledger := order.NewLedger(orders, "GHS")
	reconciler := settlement.NewReconciler(orders, settlement.PolicyStrict)
	seedTomatoes(t, cat, 100)

	o, ref := createPaidOrder(t, ledger, orders, 5)

	p, err := cat.GetProduct(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, 100, p.Inventory.AvailableQuantity)

	loaded, err := orders.GetByReference(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, o.ID, loaded.ID)
	require.Len(t, loaded.Items, 1)
	assert.Equal(t, "Accra", loaded.DeliveryAddress.City)

	outcome := payment.Outcome{Status: payment.StatusSuccess, AmountMinor: 10000, Currency: "GHS", TransactionID: "txn-1"}
	res, err := reconciler.Reconcile(ctx, ref, outcome)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, order.StatusConfirmed, res.Order.Status)
	require.NotNil(t, res.Order.Payment.PaidAt)

	again, err := reconciler.Reconcile(ctx, ref, outcome)
	require.NoError(t, err)
	assert.False(t, again.Applied)

	p, err = cat.GetProduct(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, 95, p.Inventory.AvailableQuantity)
	assert.Equal(t, 5, p.Inventory.ReservedQuantity)

	farmer := auth.Principal{ID: "farmer-1", Role: auth.RoleFarmer}
	_, err = ledger.UpdateStatus(ctx, o.ID, order.StatusProcessing, farmer)
	require.NoError(t, err)

	page, err := ledger.ListForPrincipal(ctx, farmer, order.ListOptions{Status: order.StatusProcessing})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
}

func TestPostgres_ConcurrentSettlementDeductsOnce(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	cat := NewPostgresCatalog(db)
	orders := NewPostgresOrderStore(db)
	ledger := order.NewLedger(orders, "GHS")
	reconciler := settlement.NewReconciler(orders, settlement.PolicyStrict)
	seedTomatoes(t, cat, 100)

	_, ref := createPaidOrder(t, ledger, orders, 5)

	var wg sync.WaitGroup
	applied := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := reconciler.Reconcile(ctx, ref, payment.Outcome{Status: payment.StatusSuccess, AmountMinor: 10000})
			if assert.NoError(t, err) {
				applied <- res.Applied
			}
		}()
	}
	wg.Wait()
	close(applied)

	count := 0
	for a := range applied {
		if a {
			count++
		}
	}
	assert.Equal(t, 1, count)

	p, err := cat.GetProduct(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, 95, p.Inventory.AvailableQuantity)
	assert.Equal(t, 5, p.Inventory.ReservedQuantity)
}

func TestPostgres_StrictSettlementRollsBack(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	cat := NewPostgresCatalog(db)
	orders := NewPostgresOrderStore(db)
	ledger := order.NewLedger(orders, "GHS")
	reconciler := settlement.NewReconciler(orders, settlement.PolicyStrict)
	seedTomatoes(t, cat, 8)

	_, first := createPaidOrder(t, ledger, orders, 6)
	_, second := createPaidOrder(t, ledger, orders, 6)

	_, err := reconciler.Reconcile(ctx, first, payment.Outcome{Status: payment.StatusSuccess, AmountMinor: 12000})
	require.NoError(t, err)

	_, err = reconciler.Reconcile(ctx, second, payment.Outcome{Status: payment.StatusSuccess, AmountMinor: 12000})
	assert.ErrorIs(t, err, order.ErrInventoryExhausted)

	o, err := orders.GetByReference(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaymentPending, o.Status)
	assert.Equal(t, order.PaymentPending, o.Payment.Status)

	p, err := cat.GetProduct(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, 2, p.Inventory.AvailableQuantity)
}

func TestPostgres_ReferenceIsImmutable(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	orders := NewPostgresOrderStore(db)
	ledger := order.NewLedger(orders, "GHS")
	seedTomatoes(t, NewPostgresCatalog(db), 10)

	o, ref := createPaidOrder(t, ledger, orders, 1)

	current, applied, err := orders.AttachPayment(ctx, o.ID, order.Payment{Reference: "another"}, time.Now(),
		order.Event{Type: order.EventPaymentInitialized, OrderID: o.ID})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, ref, current.Payment.Reference)
}

func TestPostgres_RecordAuthorization(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	orders := NewPostgresOrderStore(db)
	ledger := order.NewLedger(orders, "GHS")
	seedTomatoes(t, NewPostgresCatalog(db), 100)

	o, ref := createPaidOrder(t, ledger, orders, 5)

	require.NoError(t, orders.RecordAuthorization(ctx, o.ID, "AGR-other", "https://checkout.paystack.com/stale", "stale", time.Now()))
	require.NoError(t, orders.RecordAuthorization(ctx, o.ID, ref, "https://checkout.paystack.com/abc", "abc", time.Now()))

	stored, err := orders.GetByReference(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.paystack.com/abc", stored.Payment.AuthorizationURL)
	assert.Equal(t, "abc", stored.Payment.AccessCode)
}

func TestPostgres_OutboxRelay(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	orders := NewPostgresOrderStore(db)
	ledger := order.NewLedger(orders, "GHS")
	seedTomatoes(t, NewPostgresCatalog(db), 10)

	o, _ := createPaidOrder(t, ledger, orders, 1)

	pub := &recordingPublisher{}
	relay := NewOutboxRelay(db, pub, time.Second)

	n, err := relay.RelayOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, pub.events, 2)
	assert.Equal(t, order.EventOrderPlaced, pub.events[0].EventType)
	assert.Equal(t, order.EventPaymentInitialized, pub.events[1].EventType)
	assert.Equal(t, o.ID, pub.events[0].AggregateID)

	n, err = relay.RelayOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
