package catalog

import (
	"context"

	"github.com/agrilink/marketplace/internal/apperr"
	"github.com/agrilink/marketplace/internal/auth"
	"github.com/shopspring/decimal"
)

// Segment is the marketplace view a buyer purchases through.
type Segment string

const (
	SegmentB2B Segment = "b2b"
	SegmentB2C Segment = "b2c"
)

// SegmentFor selects the pricing segment from the buyer's role.
func SegmentFor(role auth.Role) Segment {
	if role == auth.RoleInstitutionalBuyer {
		return SegmentB2B
	}
	return SegmentB2C
}

type Status string

const (
	StatusActive     Status = "active"
	StatusInactive   Status = "inactive"
	StatusOutOfStock Status = "out_of_stock"
)

var ErrProductNotFound = apperr.New(apperr.NotFound, "product_not_found", "product not found")

// B2BPricing is the institutional price list entry.
type B2BPricing struct {
	Price       decimal.Decimal `json:"price"`
	MinQuantity int             `json:"min_quantity"`
	Unit        string          `json:"unit"`
}

// B2CPricing is the consumer price list entry.
type B2CPricing struct {
	Price decimal.Decimal `json:"price"`
	Unit  string          `json:"unit"`
}

// Pricing holds at most one entry per segment; a nil entry means the
// product is not sold in that segment.
type Pricing struct {
	B2B *B2BPricing `json:"b2b,omitempty"`
	B2C *B2CPricing `json:"b2c,omitempty"`
}

type Inventory struct {
	TotalQuantity     int `json:"total_quantity"`
	AvailableQuantity int `json:"available_quantity"`
	ReservedQuantity  int `json:"reserved_quantity"`
}

type Product struct {
	ID        string    `json:"id"`
	FarmerID  string    `json:"farmer_id"`
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	Pricing   Pricing   `json:"pricing"`
	Inventory Inventory `json:"inventory"`
}

// Offer is the segment-resolved view of a product's pricing.
type Offer struct {
	Segment     Segment
	Price       decimal.Decimal
	MinQuantity int
	Unit        string
}

// Offer returns the pricing for segment, or false when the product has none.
func (p *Product) Offer(segment Segment) (Offer, bool) {
	switch segment {
	case SegmentB2B:
		if p.Pricing.B2B == nil {
			return Offer{}, false
		}
		return Offer{
			Segment:     SegmentB2B,
			Price:       p.Pricing.B2B.Price,
			MinQuantity: p.Pricing.B2B.MinQuantity,
			Unit:        p.Pricing.B2B.Unit,
		}, true
	case SegmentB2C:
		if p.Pricing.B2C == nil {
			return Offer{}, false
		}
		return Offer{
			Segment: SegmentB2C,
			Price:   p.Pricing.B2C.Price,
			Unit:    p.Pricing.B2C.Unit,
		}, true
	}
	return Offer{}, false
}

// Reader is the read-only catalog lookup the core depends on.
type Reader interface {
	GetProduct(ctx context.Context, id string) (*Product, error)
}
