// Devseed prepares a local environment: it loads a product catalog from a
// JSON file into Postgres and mints access tokens signed with JWT_SECRET, so
// the API can be exercised against the mock gateway without the catalog and
// session services.
//
//	go run ./cmd/devseed -products products.json
//	go run ./cmd/devseed -user buyer-1 -email ama@example.com -role consumer
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/agrilink/marketplace/internal/auth"
	"github.com/agrilink/marketplace/internal/config"
	"github.com/agrilink/marketplace/internal/domain/catalog"
	"github.com/agrilink/marketplace/internal/infrastructure/store"
)

func main() {
	var (
		productsFile string
		userID       string
		email        string
		role         string
		ttl          time.Duration
	)
	flag.StringVar(&productsFile, "products", "", "JSON file with an array of products to upsert")
	flag.StringVar(&userID, "user", "", "user id to mint an access token for")
	flag.StringVar(&email, "email", "", "email claim of the minted token")
	flag.StringVar(&role, "role", string(auth.RoleConsumer), "role claim of the minted token")
	flag.DurationVar(&ttl, "ttl", 24*time.Hour, "lifetime of the minted token")
	flag.Parse()

	if productsFile == "" && userID == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[Seed] Invalid configuration: %v", err)
	}

	if productsFile != "" {
		if err := seedProducts(context.Background(), cfg.DatabaseURL, productsFile); err != nil {
			log.Fatalf("[Seed] %v", err)
		}
	}

	if userID != "" {
		if cfg.JWTSecret == "" {
			log.Fatal("[Seed] JWT_SECRET is required to mint tokens")
		}
		if !auth.Role(role).Valid() {
			log.Fatalf("[Seed] Unknown role %q", role)
		}
		token, expiresAt, err := auth.NewJWTService(cfg.JWTSecret, ttl).GenerateAccessToken(userID, email, auth.Role(role))
		if err != nil {
			log.Fatalf("[Seed] Failed to mint token: %v", err)
		}
		log.Printf("[Seed] Token for %s (%s) expires %s", userID, role, expiresAt.Format(time.RFC3339))
		fmt.Println(token)
	}
}

func seedProducts(ctx context.Context, databaseURL, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	var products []catalog.Product
	if err := json.Unmarshal(raw, &products); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}

	db, err := store.ConnectPostgres(databaseURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer db.Close()
	if err := store.Migrate(ctx, db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	cat := store.NewPostgresCatalog(db)
	for i := range products {
		p := &products[i]
		if p.Status == "" {
			p.Status = catalog.StatusActive
		}
		if err := cat.SaveProduct(ctx, p); err != nil {
			return fmt.Errorf("save product %s: %w", p.ID, err)
		}
		log.Printf("[Seed] Saved product %s (%s) available=%d", p.ID, p.Name, p.Inventory.AvailableQuantity)
	}
	log.Printf("[Seed] Seeded %d products", len(products))
	return nil
}
