package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/agrilink/marketplace/internal/domain/catalog"
	"github.com/shopspring/decimal"
)

// PostgresCatalog reads products owned by the catalog service from the
// shared products table.
type PostgresCatalog struct {
	db *sql.DB
}

func NewPostgresCatalog(db *sql.DB) *PostgresCatalog {
	return &PostgresCatalog{db: db}
}

func (c *PostgresCatalog) GetProduct(ctx context.Context, id string) (*catalog.Product, error) {
	var (
		p              catalog.Product
		b2bPrice       decimal.NullDecimal
		b2bMinQuantity sql.NullInt64
		b2bUnit        sql.NullString
		b2cPrice       decimal.NullDecimal
		b2cUnit        sql.NullString
	)
	err := c.db.QueryRowContext(ctx, `
		SELECT id, farmer_id, name, status, b2b_price, b2b_min_quantity, b2b_unit, b2c_price, b2c_unit,
			total_quantity, available_quantity, reserved_quantity
		FROM products WHERE id = $1`, id,
	).Scan(
		&p.ID, &p.FarmerID, &p.Name, &p.Status, &b2bPrice, &b2bMinQuantity, &b2bUnit, &b2cPrice, &b2cUnit,
		&p.Inventory.TotalQuantity, &p.Inventory.AvailableQuantity, &p.Inventory.ReservedQuantity,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.ErrProductNotFound
	}
	if err != nil {
		return nil, persistenceError(err)
	}

	if b2bPrice.Valid {
		p.Pricing.B2B = &catalog.B2BPricing{
			Price:       b2bPrice.Decimal,
			MinQuantity: int(b2bMinQuantity.Int64),
			Unit:        b2bUnit.String,
		}
	}
	if b2cPrice.Valid {
		p.Pricing.B2C = &catalog.B2CPricing{
			Price: b2cPrice.Decimal,
			Unit:  b2cUnit.String,
		}
	}
	return &p, nil
}

// SaveProduct upserts a product. Used by devseed and tests; the catalog
// service owns these rows in production.
func (c *PostgresCatalog) SaveProduct(ctx context.Context, p *catalog.Product) error {
	var (
		b2bPrice       decimal.NullDecimal
		b2bMinQuantity sql.NullInt64
		b2bUnit        sql.NullString
		b2cPrice       decimal.NullDecimal
		b2cUnit        sql.NullString
	)
	if b2b := p.Pricing.B2B; b2b != nil {
		b2bPrice = decimal.NewNullDecimal(b2b.Price)
		b2bMinQuantity = sql.NullInt64{Int64: int64(b2b.MinQuantity), Valid: true}
		b2bUnit = sql.NullString{String: b2b.Unit, Valid: true}
	}
	if b2c := p.Pricing.B2C; b2c != nil {
		b2cPrice = decimal.NewNullDecimal(b2c.Price)
		b2cUnit = sql.NullString{String: b2c.Unit, Valid: true}
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO products (id, farmer_id, name, status, b2b_price, b2b_min_quantity, b2b_unit,
			b2c_price, b2c_unit, total_quantity, available_quantity, reserved_quantity, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		ON CONFLICT (id) DO UPDATE SET
			farmer_id = EXCLUDED.farmer_id,
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			b2b_price = EXCLUDED.b2b_price,
			b2b_min_quantity = EXCLUDED.b2b_min_quantity,
			b2b_unit = EXCLUDED.b2b_unit,
			b2c_price = EXCLUDED.b2c_price,
			b2c_unit = EXCLUDED.b2c_unit,
			total_quantity = EXCLUDED.total_quantity,
			available_quantity = EXCLUDED.available_quantity,
			reserved_quantity = EXCLUDED.reserved_quantity,
			updated_at = EXCLUDED.updated_at`,
		p.ID, p.FarmerID, p.Name, p.Status, b2bPrice, b2bMinQuantity, b2bUnit,
		b2cPrice, b2cUnit, p.Inventory.TotalQuantity, p.Inventory.AvailableQuantity, p.Inventory.ReservedQuantity,
	)
	return persistenceError(err)
}
