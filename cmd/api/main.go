package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/agrilink/marketplace/internal/api"
	"github.com/agrilink/marketplace/internal/auth"
	"github.com/agrilink/marketplace/internal/command"
	"github.com/agrilink/marketplace/internal/config"
	"github.com/agrilink/marketplace/internal/domain/order"
	"github.com/agrilink/marketplace/internal/domain/payment"
	"github.com/agrilink/marketplace/internal/domain/pricing"
	"github.com/agrilink/marketplace/internal/domain/settlement"
	"github.com/agrilink/marketplace/internal/infrastructure/kafka"
	"github.com/agrilink/marketplace/internal/infrastructure/mockgateway"
	"github.com/agrilink/marketplace/internal/infrastructure/paystack"
	"github.com/agrilink/marketplace/internal/infrastructure/store"
	"github.com/agrilink/marketplace/internal/query"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[API] Invalid configuration: %v", err)
	}
	if err := cfg.ValidateAPI(); err != nil {
		log.Fatalf("[API] %v", err)
	}

	log.Println("[API] ========================================")
	log.Println("[API] AgriLink Marketplace - Orders & Payments")
	log.Println("[API] ========================================")
	log.Printf("[API] Kafka: %v", cfg.KafkaBrokers)
	log.Printf("[API] Topic: %s", cfg.KafkaTopic)
	log.Printf("[API] Payment gateway: %s (%s)", cfg.PaymentGateway, cfg.Currency)
	log.Printf("[API] Inventory policy: %s", cfg.InventoryPolicy)

	// Initialize Kafka producer (outbox relay target)
	producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer producer.Close()

	// Initialize PostgreSQL connection
	db, err := store.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("[API] Failed to connect to PostgreSQL: %v", err)
	}
	defer db.Close()
	log.Println("[API] Connected to PostgreSQL")

	if err := store.Migrate(ctx, db); err != nil {
		log.Fatalf("[API] Failed to apply schema: %v", err)
	}

	// Initialize stores
	orderStore := store.NewPostgresOrderStore(db)
	catalogReader := store.NewPostgresCatalog(db)

	// Initialize payment gateway
	var gateway payment.Gateway
	var checkout http.HandlerFunc
	switch cfg.PaymentGateway {
	case config.GatewayMock:
		mock := mockgateway.New(cfg.PublicURL)
		gateway = mock
		checkout = mock.CheckoutHandler
		log.Println("[API] Using in-process mock gateway at /mock-checkout/{reference}")
	default:
		gateway = paystack.NewClient(paystack.Config{
			SecretKey: cfg.PaystackSecretKey,
			BaseURL:   cfg.PaystackBaseURL,
		})
	}

	// Initialize domain services
	engine := pricing.NewEngine(catalogReader)
	ledger := order.NewLedger(orderStore, cfg.Currency)
	reconciler := settlement.NewReconciler(orderStore, settlement.InventoryPolicy(cfg.InventoryPolicy))
	payments := settlement.NewService(orderStore, gateway, reconciler, cfg.CallbackURL())
	sweeper := settlement.NewSweeper(orderStore, payments, reconciler, settlement.SweeperConfig{
		Interval:    cfg.SweepInterval,
		StaleAfter:  cfg.PaymentStaleAfter,
		ExpireAfter: cfg.PaymentExpireAfter,
	})
	relay := store.NewOutboxRelay(db, producer, cfg.OutboxInterval)

	// Initialize JWT service (tokens are issued by the session service)
	jwtService := auth.NewJWTService(cfg.JWTSecret, 15*time.Minute)

	// Initialize handlers
	cmdHandler := command.NewHandler(engine, ledger, payments)
	queryHandler := query.NewHandler(ledger, payments)

	// Background workers
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Println("[API] Starting outbox relay...")
		relay.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Println("[API] Starting stale payment sweeper...")
		sweeper.Run(ctx)
	}()

	// Initialize API
	handlers := api.NewHandlers(cmdHandler, queryHandler, cfg.PaystackSecretKey)
	router := api.NewRouter(handlers, jwtService, checkout)

	// Start HTTP server
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Println("[API] ========================================")
		log.Printf("[API] Server started on %s", cfg.HTTPAddr)
		log.Println("[API] ========================================")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[API] Server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[API] Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[API] Shutdown error: %v", err)
	}

	cancel() // Stop relay and sweeper after in-flight requests finish
	wg.Wait()
}
