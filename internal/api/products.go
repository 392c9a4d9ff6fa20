package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/example/optical-storefront/internal/readmodel"
)

// ListProducts fetches one page of the catalog for the given filter query
func (c *Client) ListProducts(ctx context.Context, query url.Values) (*readmodel.ProductsPage, error) {
	var page readmodel.ProductsPage
	_, err := c.do(ctx, request{
		op:       "list products",
		method:   http.MethodGet,
		path:     "/api/products",
		query:    query,
		fallback: "erro ao carregar produtos",
		required: true,
	}, &page)
	if err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) GetProduct(ctx context.Context, id int64) (*readmodel.Product, error) {
	var product readmodel.Product
	_, err := c.do(ctx, request{
		op:       "get product",
		method:   http.MethodGet,
		path:     "/api/products/" + strconv.FormatInt(id, 10),
		fallback: "erro ao carregar produto",
		required: true,
	}, &product)
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// ImageURL resolves a product image reference. Absolute URLs are returned
// unchanged, anything else is served from /api/uploads.
func (c *Client) ImageURL(image string) string {
	if image == "" {
		return ""
	}
	if strings.HasPrefix(image, "http://") || strings.HasPrefix(image, "https://") {
		return image
	}
	return c.baseURL + "/api/uploads/" + url.PathEscape(strings.TrimPrefix(image, "/"))
}

// FetchImage downloads an uploaded product image
func (c *Client) FetchImage(ctx context.Context, filename string) ([]byte, error) {
	return c.fetchRaw(ctx, request{
		op:       "fetch image",
		method:   http.MethodGet,
		path:     "/api/uploads/" + url.PathEscape(filename),
		fallback: "failed to fetch image",
	})
}

func (c *Client) fetchRaw(ctx context.Context, req request) ([]byte, error) {
	raw, _, err := c.send(ctx, req, "*/*")
	return raw, err
}
