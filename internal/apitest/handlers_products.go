package apitest

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/example/optical-storefront/internal/infrastructure/kafka"
	"github.com/example/optical-storefront/internal/readmodel"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

const maxFormBytes = 10 << 20

type productForm struct {
	name        string
	description string
	basePrice   decimal.Decimal
	categoryID  int64
	imageName   string
	image       []byte
}

// parseProductForm reads the multipart body of the admin product routes and
// answers 400 itself when it is unusable
func parseProductForm(w http.ResponseWriter, r *http.Request) (productForm, bool) {
	if err := r.ParseMultipartForm(maxFormBytes); err != nil {
		http.Error(w, "Unable to parse form", http.StatusBadRequest)
		return productForm{}, false
	}

	form := productForm{
		name:        r.FormValue("name"),
		description: r.FormValue("description"),
	}
	if form.name == "" {
		http.Error(w, "Name is required", http.StatusBadRequest)
		return productForm{}, false
	}
	price, err := decimal.NewFromString(r.FormValue("base_price"))
	if err != nil || !price.IsPositive() {
		http.Error(w, "Valid base price is required", http.StatusBadRequest)
		return productForm{}, false
	}
	form.basePrice = price
	if form.categoryID, err = strconv.ParseInt(r.FormValue("category_id"), 10, 64); err != nil {
		http.Error(w, "Valid category ID is required", http.StatusBadRequest)
		return productForm{}, false
	}

	file, header, err := r.FormFile("image")
	switch {
	case errors.Is(err, http.ErrMissingFile):
	case err != nil:
		http.Error(w, "Unable to parse form", http.StatusBadRequest)
		return productForm{}, false
	default:
		defer file.Close()
		if form.image, err = io.ReadAll(file); err != nil {
			http.Error(w, "Failed to save image", http.StatusInternalServerError)
			return productForm{}, false
		}
		form.imageName = fmt.Sprintf("%d_%s%s", time.Now().Unix(),
			strings.ReplaceAll(form.name, " ", "_"), filepath.Ext(header.Filename))
	}
	return form, true
}

func productID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id, err == nil
}

func (s *Server) nextProductIDLocked() int64 {
	var last int64
	for _, p := range s.products {
		if p.ID > last {
			last = p.ID
		}
	}
	return last + 1
}

// dropImageLocked forgets an uploaded image; absolute URLs are not ours
func (s *Server) dropImageLocked(image string) {
	if image != "" && !isAbsoluteURL(image) {
		delete(s.images, image)
	}
}

func (s *Server) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	form, ok := parseProductForm(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	p := readmodel.Product{
		ID:          s.nextProductIDLocked(),
		Name:        form.name,
		Description: form.description,
		BasePrice:   form.basePrice,
		CategoryID:  form.categoryID,
		Image:       form.imageName,
		Variants:    []readmodel.Variant{},
	}
	if form.imageName != "" {
		s.images[form.imageName] = form.image
	}
	s.products = append(s.products, p)
	created := p.Clone()
	s.mu.Unlock()

	s.publish(r.Context(), kafka.AggregateProduct, strconv.FormatInt(created.ID, 10), "ProductCreated", created)
	respondJSON(w, created, http.StatusCreated)
}

func (s *Server) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(r)
	if !ok {
		http.Error(w, "Invalid product ID", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	_, err := s.productLocked(id)
	s.mu.Unlock()
	if err != nil {
		http.Error(w, "Product not found", http.StatusNotFound)
		return
	}

	form, ok := parseProductForm(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	p, err := s.productLocked(id)
	if err != nil {
		s.mu.Unlock()
		http.Error(w, "Product not found", http.StatusNotFound)
		return
	}
	p.Name = form.name
	p.Description = form.description
	p.BasePrice = form.basePrice
	p.CategoryID = form.categoryID
	if form.imageName != "" {
		s.dropImageLocked(p.Image)
		p.Image = form.imageName
		s.images[form.imageName] = form.image
	}
	updated := p.Clone()
	s.mu.Unlock()

	s.publish(r.Context(), kafka.AggregateProduct, strconv.FormatInt(id, 10), "ProductUpdated", updated)
	respondJSON(w, updated, http.StatusOK)
}

func (s *Server) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(r)
	if !ok {
		http.Error(w, "Invalid product ID", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	idx := -1
	for i := range s.products {
		if s.products[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		http.Error(w, "Product not found", http.StatusNotFound)
		return
	}
	s.dropImageLocked(s.products[idx].Image)
	s.products = append(s.products[:idx], s.products[idx+1:]...)
	s.mu.Unlock()

	s.publish(r.Context(), kafka.AggregateProduct, strconv.FormatInt(id, 10), "ProductDeleted",
		map[string]any{"product_id": id})
	w.WriteHeader(http.StatusNoContent)
}
