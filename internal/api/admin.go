package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/example/optical-storefront/internal/readmodel"
	"github.com/shopspring/decimal"
)

var ErrInvalidProductForm = errors.New("invalid product form")

// ProductForm is what the admin dashboard submits for a product. It travels
// as multipart/form-data so an image can ride along.
type ProductForm struct {
	Name        string          `validate:"required"`
	Description string          `validate:"max=2000"`
	BasePrice   decimal.Decimal `validate:"gt=0"`
	CategoryID  int64           `validate:"gt=0"`

	// Image is optional. Without one an update keeps the current image.
	Image     []byte
	ImageName string
}

func (f ProductForm) encode() ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := [][2]string{
		{"name", f.Name},
		{"description", f.Description},
		{"base_price", f.BasePrice.String()},
		{"category_id", strconv.FormatInt(f.CategoryID, 10)},
	}
	for _, field := range fields {
		if err := w.WriteField(field[0], field[1]); err != nil {
			return nil, "", err
		}
	}

	if len(f.Image) > 0 {
		name := f.ImageName
		if name == "" {
			name = "image.jpg"
		}
		part, err := w.CreateFormFile("image", name)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(f.Image); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// CreateProduct requires an admin token
func (c *Client) CreateProduct(ctx context.Context, token string, form ProductForm) (*readmodel.Product, error) {
	return c.submitProduct(ctx, request{
		op:       "create product",
		method:   http.MethodPost,
		path:     "/api/products",
		token:    token,
		fallback: "Erro ao criar produto",
		required: true,
	}, form)
}

// UpdateProduct replaces every field of a product, and its image when the
// form carries one
func (c *Client) UpdateProduct(ctx context.Context, token string, id int64, form ProductForm) (*readmodel.Product, error) {
	return c.submitProduct(ctx, request{
		op:       "update product",
		method:   http.MethodPut,
		path:     "/api/products/" + strconv.FormatInt(id, 10),
		token:    token,
		fallback: "Erro ao atualizar produto",
		required: true,
	}, form)
}

func (c *Client) DeleteProduct(ctx context.Context, token string, id int64) error {
	_, err := c.do(ctx, request{
		op:       "delete product",
		method:   http.MethodDelete,
		path:     "/api/products/" + strconv.FormatInt(id, 10),
		token:    token,
		fallback: "Erro ao excluir produto",
	}, nil)
	return err
}

func (c *Client) submitProduct(ctx context.Context, req request, form ProductForm) (*readmodel.Product, error) {
	if err := c.validate.Struct(form); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProductForm, err)
	}
	data, contentType, err := form.encode()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to encode form: %w", req.op, err)
	}
	req.form, req.contentType = data, contentType

	var product readmodel.Product
	if _, err := c.do(ctx, req, &product); err != nil {
		return nil, err
	}
	return &product, nil
}
