package readmodel

import (
	"sort"

	"github.com/shopspring/decimal"
)

// UnitPrice returns the effective price of a variant of this product
func (p *Product) UnitPrice(v Variant) decimal.Decimal {
	return p.BasePrice.Add(v.ExtraPrice)
}

// Variant looks up a variant by id
func (p *Product) Variant(id int64) (Variant, bool) {
	for _, v := range p.Variants {
		if v.ID == id {
			return v, true
		}
	}
	return Variant{}, false
}

// SelectVariant returns the variant matching the given color and size.
// An empty color or size matches any value.
func (p *Product) SelectVariant(color, size string) (Variant, bool) {
	for _, v := range p.Variants {
		if (color == "" || v.Color == color) && (size == "" || v.Size == size) {
			return v, true
		}
	}
	return Variant{}, false
}

// Colors lists the distinct variant colors in sorted order
func (p *Product) Colors() []string {
	return distinct(p.Variants, func(v Variant) string { return v.Color })
}

// Sizes lists the distinct variant sizes in sorted order
func (p *Product) Sizes() []string {
	return distinct(p.Variants, func(v Variant) string { return v.Size })
}

// InStock reports whether any variant has stock left
func (p *Product) InStock() bool {
	for _, v := range p.Variants {
		if v.StockQty > 0 {
			return true
		}
	}
	return false
}

func distinct(variants []Variant, field func(Variant) string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, v := range variants {
		f := field(v)
		if f == "" {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Clone returns a deep copy of the product
func (p Product) Clone() Product {
	if p.Variants != nil {
		p.Variants = append([]Variant(nil), p.Variants...)
	}
	return p
}

// Clone returns a deep copy of the page
func (pg *ProductsPage) Clone() *ProductsPage {
	if pg == nil {
		return nil
	}
	out := *pg
	out.Products = make([]Product, len(pg.Products))
	for i, p := range pg.Products {
		out.Products[i] = p.Clone()
	}
	return &out
}

// Subtotal is the line total at the snapshotted unit price
func (i CartItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Qty)))
}

// Item looks up a cart line by id
func (c *Cart) Item(id int64) (CartItem, bool) {
	if c == nil {
		return CartItem{}, false
	}
	for _, it := range c.Items {
		if it.ID == id {
			return it, true
		}
	}
	return CartItem{}, false
}

// CanIncrement reports whether the line is still below the last known stock.
// The server remains the only authority on stock.
func (c *Cart) CanIncrement(itemID int64) bool {
	it, ok := c.Item(itemID)
	if !ok {
		return false
	}
	return it.Qty < it.Variant.StockQty
}

// Clone returns a deep copy of the cart
func (c *Cart) Clone() *Cart {
	if c == nil {
		return nil
	}
	out := *c
	if c.Items != nil {
		out.Items = append([]CartItem(nil), c.Items...)
	}
	return &out
}
