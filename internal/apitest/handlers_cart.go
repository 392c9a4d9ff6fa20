package apitest

import (
	"net/http"
	"strconv"
	"time"

	"github.com/example/optical-storefront/internal/readmodel"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

const cartStatusActive = "active"

// cartLocked returns the user's cart, creating it when create is set
func (s *Server) cartLocked(userID int64, create bool) *cartRecord {
	c, ok := s.carts[userID]
	if !ok && create {
		s.nextCartID++
		now := time.Now().UTC()
		c = &cartRecord{id: s.nextCartID, userID: userID, createdAt: now, updatedAt: now}
		s.carts[userID] = c
	}
	return c
}

// renderLocked builds the wire cart. Lines keep the unit price they were
// added at; names and stock come from the current catalog.
func (s *Server) renderLocked(c *cartRecord) readmodel.Cart {
	out := readmodel.Cart{
		ID:         c.id,
		UserID:     c.userID,
		Status:     cartStatusActive,
		Items:      []readmodel.CartItem{},
		TotalPrice: decimal.Zero,
		CreatedAt:  c.createdAt,
		UpdatedAt:  c.updatedAt,
	}
	for _, it := range c.items {
		p, v, err := s.variantLocked(it.variantID)
		if err != nil {
			continue
		}
		unit := it.unitPrice
		out.Items = append(out.Items, readmodel.CartItem{
			ID:        it.id,
			CartID:    c.id,
			VariantID: it.variantID,
			Qty:       it.qty,
			UnitPrice: unit,
			Variant: readmodel.VariantRef{
				ID:         v.ID,
				SKU:        v.SKU,
				Color:      v.Color,
				Size:       v.Size,
				StockQty:   v.StockQty,
				ExtraPrice: v.ExtraPrice,
				Product: readmodel.CartProduct{
					ID:        p.ID,
					Name:      p.Name,
					Image:     p.Image,
					BasePrice: p.BasePrice,
				},
			},
		})
		out.TotalItems += it.qty
		out.TotalPrice = out.TotalPrice.Add(unit.Mul(decimal.NewFromInt(int64(it.qty))))
	}
	return out
}

func findItem(c *cartRecord, id int64) (int, bool) {
	if c == nil {
		return -1, false
	}
	for i, it := range c.items {
		if it.id == id {
			return i, true
		}
	}
	return -1, false
}

func itemID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id, err == nil
}

func (s *Server) handleGetCart(w http.ResponseWriter, r *http.Request) {
	userID := GetUserID(r.Context())

	s.mu.Lock()
	cart := s.renderLocked(s.cartLocked(userID, true))
	s.mu.Unlock()

	respondJSON(w, cart, http.StatusOK)
}

func (s *Server) handleAddToCart(w http.ResponseWriter, r *http.Request) {
	userID := GetUserID(r.Context())

	var req struct {
		ProductVariantID int64 `json:"product_variant_id"`
		Quantity         int   `json:"quantity"`
	}
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ProductVariantID <= 0 || req.Quantity <= 0 {
		http.Error(w, "Valid product variant ID and quantity are required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	product, variant, err := s.variantLocked(req.ProductVariantID)
	if err != nil {
		http.Error(w, "Product variant not found", http.StatusNotFound)
		return
	}

	c := s.cartLocked(userID, true)
	var existing *cartItemRecord
	for _, it := range c.items {
		if it.variantID == req.ProductVariantID {
			existing = it
			break
		}
	}

	total := req.Quantity
	if existing != nil {
		total += existing.qty
	}
	if total > variant.StockQty {
		http.Error(w, "Insufficient stock available", http.StatusBadRequest)
		return
	}

	// adding again picks up the current price
	unit := product.UnitPrice(*variant)
	if existing != nil {
		existing.qty = total
		existing.unitPrice = unit
	} else {
		s.nextItemID++
		c.items = append(c.items, &cartItemRecord{id: s.nextItemID, variantID: req.ProductVariantID, qty: total, unitPrice: unit})
	}
	c.updatedAt = time.Now().UTC()

	respondJSON(w, s.renderLocked(c), http.StatusOK)
}

// handleUpdateCartItem sets a line's quantity; zero removes the line
func (s *Server) handleUpdateCartItem(w http.ResponseWriter, r *http.Request) {
	userID := GetUserID(r.Context())

	id, ok := itemID(r)
	if !ok {
		http.Error(w, "Invalid item ID", http.StatusBadRequest)
		return
	}
	var req struct {
		Quantity int `json:"quantity"`
	}
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.cartLocked(userID, false)
	idx, found := findItem(c, id)
	if !found {
		http.Error(w, "Cart item not found", http.StatusNotFound)
		return
	}

	switch {
	case req.Quantity == 0:
		c.items = append(c.items[:idx], c.items[idx+1:]...)
	case req.Quantity < 0:
		http.Error(w, "Quantity must be positive", http.StatusBadRequest)
		return
	default:
		_, variant, err := s.variantLocked(c.items[idx].variantID)
		if err != nil {
			http.Error(w, "Product variant not found", http.StatusInternalServerError)
			return
		}
		if req.Quantity > variant.StockQty {
			http.Error(w, "Insufficient stock available", http.StatusBadRequest)
			return
		}
		c.items[idx].qty = req.Quantity
	}
	c.updatedAt = time.Now().UTC()

	respondJSON(w, s.renderLocked(c), http.StatusOK)
}

func (s *Server) handleRemoveCartItem(w http.ResponseWriter, r *http.Request) {
	userID := GetUserID(r.Context())

	id, ok := itemID(r)
	if !ok {
		http.Error(w, "Invalid item ID", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.cartLocked(userID, false)
	idx, found := findItem(c, id)
	if !found {
		http.Error(w, "Cart item not found", http.StatusNotFound)
		return
	}
	c.items = append(c.items[:idx], c.items[idx+1:]...)
	c.updatedAt = time.Now().UTC()

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearCart(w http.ResponseWriter, r *http.Request) {
	userID := GetUserID(r.Context())

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.cartLocked(userID, false)
	if c == nil {
		http.Error(w, "Cart not found", http.StatusNotFound)
		return
	}
	c.items = nil
	c.updatedAt = time.Now().UTC()

	w.WriteHeader(http.StatusNoContent)
}
