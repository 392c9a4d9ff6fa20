package readmodel

import (
	"time"

	"github.com/shopspring/decimal"
)

// Variant is a purchasable SKU of a product
type Variant struct {
	ID         int64           `json:"id" validate:"gt=0"`
	ProductID  int64           `json:"product_id" validate:"gte=0"`
	SKU        string          `json:"sku"`
	Color      string          `json:"color"`
	Size       string          `json:"size"`
	ExtraPrice decimal.Decimal `json:"extra_price"`
	StockQty   int             `json:"stock_qty" validate:"gte=0"`
	ImageURL   string          `json:"image_url"`
}

// Product is a catalog entry with its variants
type Product struct {
	ID          int64           `json:"id" validate:"gt=0"`
	Name        string          `json:"name" validate:"required"`
	Description string          `json:"description"`
	BasePrice   decimal.Decimal `json:"base_price" validate:"gte=0"`
	CategoryID  int64           `json:"category_id" validate:"gte=0"`
	Image       string          `json:"image"`
	Variants    []Variant       `json:"variants" validate:"dive"`
}

// ProductsPage is one page of a filtered catalog listing
type ProductsPage struct {
	Products   []Product `json:"products" validate:"dive"`
	Total      int       `json:"total" validate:"gte=0"`
	Page       int       `json:"page" validate:"gte=1"`
	Limit      int       `json:"limit" validate:"gte=1"`
	TotalPages int       `json:"total_pages" validate:"gte=0"`
}

// CartProduct is the product summary embedded in a cart line
type CartProduct struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Image     string          `json:"image"`
	BasePrice decimal.Decimal `json:"base_price"`
}

// VariantRef is the variant summary embedded in a cart line
type VariantRef struct {
	ID         int64           `json:"id"`
	SKU        string          `json:"sku"`
	Color      string          `json:"color"`
	Size       string          `json:"size"`
	StockQty   int             `json:"stock_qty" validate:"gte=0"`
	ExtraPrice decimal.Decimal `json:"extra_price"`
	Product    CartProduct     `json:"product"`
}

// CartItem is one line of the remote cart
type CartItem struct {
	ID        int64           `json:"id" validate:"gt=0"`
	CartID    int64           `json:"cart_id"`
	VariantID int64           `json:"product_variant_id" validate:"gt=0"`
	Qty       int             `json:"qty" validate:"gte=1"`
	UnitPrice decimal.Decimal `json:"unit_price" validate:"gte=0"`
	Variant   VariantRef      `json:"variant"`
}

// Cart is the local mirror of the remote cart. A Cart value handed out by the
// cart store is a snapshot and is never modified after publication.
type Cart struct {
	ID         int64           `json:"id" validate:"gte=0"`
	UserID     int64           `json:"user_id"`
	Status     string          `json:"status"`
	Items      []CartItem      `json:"items" validate:"dive"`
	TotalItems int             `json:"total_items" validate:"gte=0"`
	TotalPrice decimal.Decimal `json:"total_price" validate:"gte=0"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}
