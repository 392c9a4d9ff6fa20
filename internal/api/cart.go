package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/example/optical-storefront/internal/readmodel"
)

type addToCartRequest struct {
	ProductVariantID int64 `json:"product_variant_id"`
	Quantity         int   `json:"quantity"`
}

type updateCartItemRequest struct {
	Quantity int `json:"quantity"`
}

// GetCart returns the authenticated user's active cart
func (c *Client) GetCart(ctx context.Context, token string) (*readmodel.Cart, error) {
	return c.cartRequest(ctx, request{
		op:       "get cart",
		method:   http.MethodGet,
		path:     "/api/cart",
		token:    token,
		fallback: "Failed to load cart",
		required: true,
	})
}

// AddToCart adds quantity units of a variant and returns the whole cart
func (c *Client) AddToCart(ctx context.Context, token string, variantID int64, quantity int) (*readmodel.Cart, error) {
	return c.cartRequest(ctx, request{
		op:       "add to cart",
		method:   http.MethodPost,
		path:     "/api/cart/add",
		token:    token,
		body:     addToCartRequest{ProductVariantID: variantID, Quantity: quantity},
		fallback: "Failed to add item to cart",
		required: true,
	})
}

// UpdateCartItem sets the quantity of a line; the server removes it at 0
func (c *Client) UpdateCartItem(ctx context.Context, token string, itemID int64, quantity int) (*readmodel.Cart, error) {
	return c.cartRequest(ctx, request{
		op:       "update cart item",
		method:   http.MethodPut,
		path:     "/api/cart/items/" + strconv.FormatInt(itemID, 10),
		token:    token,
		body:     updateCartItemRequest{Quantity: quantity},
		fallback: "Failed to update cart item",
		required: true,
	})
}

// RemoveCartItem deletes a line. The endpoint answers 204 without a cart.
func (c *Client) RemoveCartItem(ctx context.Context, token string, itemID int64) error {
	_, err := c.do(ctx, request{
		op:       "remove cart item",
		method:   http.MethodDelete,
		path:     "/api/cart/items/" + strconv.FormatInt(itemID, 10),
		token:    token,
		fallback: "Failed to remove item from cart",
	}, nil)
	return err
}

func (c *Client) ClearCart(ctx context.Context, token string) error {
	_, err := c.do(ctx, request{
		op:       "clear cart",
		method:   http.MethodDelete,
		path:     "/api/cart/clear",
		token:    token,
		fallback: "Failed to clear cart",
	}, nil)
	return err
}

// cartRequest decodes the cart the endpoint answers with. A 2xx without a
// body is a malformed response, never an empty cart.
func (c *Client) cartRequest(ctx context.Context, req request) (*readmodel.Cart, error) {
	var cart readmodel.Cart
	if _, err := c.do(ctx, req, &cart); err != nil {
		return nil, err
	}
	return &cart, nil
}
