package catalog

import (
	"context"

	"github.com/example/optical-storefront/internal/api"
	"github.com/example/optical-storefront/internal/logger"
	"github.com/example/optical-storefront/internal/readmodel"
)

// ProductAdmin is the part of the API behind the admin dashboard.
// api.Client satisfies it.
type ProductAdmin interface {
	CreateProduct(ctx context.Context, token string, form api.ProductForm) (*readmodel.Product, error)
	UpdateProduct(ctx context.Context, token string, id int64, form api.ProductForm) (*readmodel.Product, error)
	DeleteProduct(ctx context.Context, token string, id int64) error
}

// TokenSource hands out the bearer token of the signed-in user.
// auth.Session satisfies it.
type TokenSource interface {
	BearerToken(ctx context.Context) (string, error)
}

// Admin runs catalog mutations. Every one that succeeds empties the query
// cache, since any cached listing may now be wrong.
type Admin struct {
	api    ProductAdmin
	tokens TokenSource
	cache  *QueryCache
}

func NewAdmin(api ProductAdmin, tokens TokenSource, cache *QueryCache) *Admin {
	return &Admin{api: api, tokens: tokens, cache: cache}
}

func (a *Admin) CreateProduct(ctx context.Context, form api.ProductForm) (*readmodel.Product, error) {
	token, err := a.tokens.BearerToken(ctx)
	if err != nil {
		return nil, err
	}
	p, err := a.api.CreateProduct(ctx, token, form)
	if err != nil {
		return nil, err
	}
	a.invalidate("create", p.ID)
	return p, nil
}

func (a *Admin) UpdateProduct(ctx context.Context, id int64, form api.ProductForm) (*readmodel.Product, error) {
	token, err := a.tokens.BearerToken(ctx)
	if err != nil {
		return nil, err
	}
	p, err := a.api.UpdateProduct(ctx, token, id, form)
	if err != nil {
		return nil, err
	}
	a.invalidate("update", id)
	return p, nil
}

func (a *Admin) DeleteProduct(ctx context.Context, id int64) error {
	token, err := a.tokens.BearerToken(ctx)
	if err != nil {
		return err
	}
	if err := a.api.DeleteProduct(ctx, token, id); err != nil {
		return err
	}
	a.invalidate("delete", id)
	return nil
}

func (a *Admin) invalidate(op string, productID int64) {
	if a.cache == nil {
		return
	}
	a.cache.InvalidateAll()
	logger.Info("[Catalog] product changed, query cache cleared", "op", op, "product_id", productID)
}
