package readmodel

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProduct() *Product {
	return &Product{
		ID:        1,
		Name:      "Aviator Classic",
		BasePrice: decimal.RequireFromString("120.00"),
		Variants: []Variant{
			{ID: 10, ProductID: 1, Color: "GOLD", Size: "M", ExtraPrice: decimal.RequireFromString("15.00"), StockQty: 3},
			{ID: 11, ProductID: 1, Color: "SILVER", Size: "L", ExtraPrice: decimal.Zero, StockQty: 0},
			{ID: 12, ProductID: 1, Color: "GOLD", Size: "L", ExtraPrice: decimal.RequireFromString("20.00"), StockQty: 1},
		},
	}
}

func TestProduct_UnitPrice(t *testing.T) {
	p := testProduct()

	v, ok := p.Variant(10)
	require.True(t, ok)

	assert.True(t, decimal.RequireFromString("135.00").Equal(p.UnitPrice(v)))
}

func TestProduct_SelectVariant(t *testing.T) {
	p := testProduct()

	tests := []struct {
		name   string
		color  string
		size   string
		wantID int64
		found  bool
	}{
		{"exact match", "GOLD", "L", 12, true},
		{"color only", "SILVER", "", 11, true},
		{"no match", "RED", "M", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, ok := p.SelectVariant(tt.color, tt.size)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.wantID, v.ID)
		})
	}
}

func TestProduct_ColorsAndSizes(t *testing.T) {
	p := testProduct()

	assert.Equal(t, []string{"GOLD", "SILVER"}, p.Colors())
	assert.Equal(t, []string{"L", "M"}, p.Sizes())
	assert.True(t, p.InStock())
}

func TestProductsPage_CloneIsDeep(t *testing.T) {
	page := &ProductsPage{Products: []Product{*testProduct()}, Total: 1, Page: 1, Limit: 12, TotalPages: 1}

	clone := page.Clone()
	clone.Products[0].Name = "changed"
	clone.Products[0].Variants[0].StockQty = 99

	assert.Equal(t, "Aviator Classic", page.Products[0].Name)
	assert.Equal(t, 3, page.Products[0].Variants[0].StockQty)
}

func TestCart_CanIncrement(t *testing.T) {
	cart := &Cart{Items: []CartItem{
		{ID: 1, Qty: 2, Variant: VariantRef{StockQty: 3}},
		{ID: 2, Qty: 3, Variant: VariantRef{StockQty: 3}},
	}}

	assert.True(t, cart.CanIncrement(1))
	assert.False(t, cart.CanIncrement(2))
	assert.False(t, cart.CanIncrement(404))

	var empty *Cart
	assert.False(t, empty.CanIncrement(1))
}

func TestCartItem_Subtotal(t *testing.T) {
	item := CartItem{Qty: 2, UnitPrice: decimal.RequireFromString("135.00")}
	assert.True(t, decimal.RequireFromString("270.00").Equal(item.Subtotal()))
}

func TestCart_Clone(t *testing.T) {
	cart := &Cart{ID: 1, Items: []CartItem{{ID: 10, Qty: 2}}, TotalItems: 2}

	clone := cart.Clone()
	clone.Items[0].Qty = 5
	clone.TotalItems = 5

	assert.Equal(t, 2, cart.Items[0].Qty)
	assert.Equal(t, 2, cart.TotalItems)

	var empty *Cart
	assert.Nil(t, empty.Clone())
}
