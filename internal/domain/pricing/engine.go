package pricing

import (
	"context"
	"fmt"

	"github.com/agrilink/marketplace/internal/apperr"
	"github.com/agrilink/marketplace/internal/auth"
	"github.com/agrilink/marketplace/internal/domain/catalog"
	"github.com/agrilink/marketplace/internal/domain/order"
	"github.com/shopspring/decimal"
)

var (
	ErrEmptyCart                     = apperr.New(apperr.Validation, "empty_cart", "cart is empty")
	ErrInvalidQuantity               = apperr.New(apperr.Validation, "invalid_quantity", "quantity must be positive")
	ErrProductRequired               = apperr.New(apperr.Validation, "product_required", "product id is required")
	ErrProductNotAvailableForSegment = apperr.New(apperr.Validation, "product_not_available", "product is not available for this marketplace")
	ErrBelowMinimumQuantity          = apperr.New(apperr.Validation, "below_minimum_quantity", "quantity is below the minimum order")
	ErrInsufficientInventory         = apperr.New(apperr.Validation, "insufficient_inventory", "insufficient inventory")
	ErrMixedFarmerCart               = apperr.New(apperr.Validation, "mixed_farmer_cart", "all items must be from the same farmer")
)

type CartLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Quote is a validated cart: snapshotted items and their subtotal.
type Quote struct {
	FarmerID string
	Segment  catalog.Segment
	Items    []order.Item
	Subtotal decimal.Decimal
}

// Engine validates carts against the catalog. It has no side effects.
type Engine struct {
	catalog catalog.Reader
}

func NewEngine(reader catalog.Reader) *Engine {
	return &Engine{catalog: reader}
}

// Validate resolves every cart line to the buyer's segment, enforces
// segment availability, minimum quantity, stock on hand and single-farmer
// carts, and snapshots unit prices.
//
// The stock check reads available quantity without reserving it; settlement
// is where stock is actually taken.
func (e *Engine) Validate(ctx context.Context, cart []CartLine, buyer auth.Principal) (*Quote, error) {
	lines, err := mergeLines(cart)
	if err != nil {
		return nil, err
	}

	segment := catalog.SegmentFor(buyer.Role)
	quote := &Quote{
		Segment:  segment,
		Items:    make([]order.Item, 0, len(lines)),
		Subtotal: decimal.Zero,
	}

	for _, line := range lines {
		p, err := e.catalog.GetProduct(ctx, line.ProductID)
		if err != nil {
			return nil, err
		}

		if p.Status != catalog.StatusActive {
			return nil, fmt.Errorf("%w: %s is %s", ErrProductNotAvailableForSegment, p.Name, p.Status)
		}

		offer, ok := p.Offer(segment)
		if !ok {
			return nil, fmt.Errorf("%w: %s is not sold in the %s marketplace", ErrProductNotAvailableForSegment, p.Name, segment)
		}

		if segment == catalog.SegmentB2B && line.Quantity < offer.MinQuantity {
			return nil, fmt.Errorf("%w: minimum order for %s is %d %s", ErrBelowMinimumQuantity, p.Name, offer.MinQuantity, offer.Unit)
		}

		if line.Quantity > p.Inventory.AvailableQuantity {
			return nil, fmt.Errorf("%w: only %d %s of %s available", ErrInsufficientInventory, p.Inventory.AvailableQuantity, offer.Unit, p.Name)
		}

		if quote.FarmerID == "" {
			quote.FarmerID = p.FarmerID
		} else if quote.FarmerID != p.FarmerID {
			return nil, ErrMixedFarmerCart
		}

		item := order.Item{
			ProductID:   p.ID,
			ProductName: p.Name,
			Quantity:    line.Quantity,
			UnitPrice:   offer.Price,
			Unit:        offer.Unit,
			Segment:     segment,
		}
		quote.Items = append(quote.Items, item)
		quote.Subtotal = quote.Subtotal.Add(item.LineTotal())
	}

	return quote, nil
}

// mergeLines rejects empty carts and non-positive quantities and folds
// repeated products into one line, keeping first-seen order.
func mergeLines(cart []CartLine) ([]CartLine, error) {
	if len(cart) == 0 {
		return nil, ErrEmptyCart
	}

	merged := make([]CartLine, 0, len(cart))
	index := make(map[string]int, len(cart))
	for _, line := range cart {
		if line.ProductID == "" {
			return nil, ErrProductRequired
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: got %d for product %s", ErrInvalidQuantity, line.Quantity, line.ProductID)
		}
		if i, ok := index[line.ProductID]; ok {
			merged[i].Quantity += line.Quantity
			continue
		}
		index[line.ProductID] = len(merged)
		merged = append(merged, line)
	}
	return merged, nil
}
