package apitest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/example/optical-storefront/internal/infrastructure/kafka"
	"github.com/example/optical-storefront/internal/readmodel"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrVariantNotFound = errors.New("product variant not found")
)

// Seeded category ids
const (
	CategoryPrescription int64 = 1
	CategorySunglasses   int64 = 2
	CategoryContactLens  int64 = 3
)

var seedModels = []struct {
	name        string
	description string
	category    int64
}{
	{"Ray-Ban Aviator Classic", "Óculos de sol aviador com lentes G-15", CategorySunglasses},
	{"Ray-Ban RX5154 Clubmaster", "Armação de grau em acetato e metal", CategoryPrescription},
	{"Oakley Holbrook", "Óculos de sol esportivo com lentes Prizm", CategorySunglasses},
	{"Oakley Pitchman", "Armação de grau leve em O Matter", CategoryPrescription},
	{"Acuvue Oasys", "Lente de contato quinzenal com hidraclear", CategoryContactLens},
	{"Prada Linea Rossa", "Óculos de sol com lentes polarizadas", CategorySunglasses},
	{"Vogue VO5051", "Armação de grau feminina em acetato", CategoryPrescription},
	{"Biofinity Toric", "Lente de contato mensal para astigmatismo", CategoryContactLens},
	{"Carrera 8035", "Óculos de sol quadrado em metal", CategorySunglasses},
	{"Tom Ford FT5401", "Armação de grau masculina em acetato", CategoryPrescription},
}

var seedColors = []string{"Preto", "Tartaruga", "Dourado"}

// SeedProducts returns the default catalog: 30 products, two variants each.
// Every seventh product is out of stock and every fifth uses an absolute
// image URL.
func SeedProducts() []readmodel.Product {
	products := make([]readmodel.Product, 0, 30)
	for i := 1; i <= 30; i++ {
		m := seedModels[(i-1)%len(seedModels)]
		id := int64(i)
		name := m.name
		if i > len(seedModels) {
			name = fmt.Sprintf("%s %d", m.name, (i-1)/len(seedModels)+1)
		}

		image := fmt.Sprintf("product-%d.jpg", i)
		if i%5 == 0 {
			image = fmt.Sprintf("https://cdn.example.com/products/%d.jpg", i)
		}

		stock := 5 + i%4
		if i%7 == 0 {
			stock = 0
		}

		p := readmodel.Product{
			ID:          id,
			Name:        name,
			Description: m.description,
			BasePrice:   decimal.NewFromFloat(199.90).Add(decimal.NewFromInt(int64(i * 25))),
			CategoryID:  m.category,
			Image:       image,
		}
		for v := 0; v < 2; v++ {
			size := "M"
			extra := decimal.Zero
			if v == 1 {
				size = "G"
				extra = decimal.NewFromInt(20)
			}
			p.Variants = append(p.Variants, readmodel.Variant{
				ID:         id*10 + int64(v+1),
				ProductID:  id,
				SKU:        fmt.Sprintf("SKU-%03d-%s", i, size),
				Color:      seedColors[(i+v)%len(seedColors)],
				Size:       size,
				ExtraPrice: extra,
				StockQty:   stock,
			})
		}
		products = append(products, p)
	}
	return products
}

func cloneProducts(products []readmodel.Product) []readmodel.Product {
	out := make([]readmodel.Product, len(products))
	for i := range products {
		out[i] = products[i].Clone()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Products returns a copy of the current catalog
func (s *Server) Products() []readmodel.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneProducts(s.products)
}

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, limit := 1, defaultLimit
	if p, err := strconv.Atoi(q.Get("page")); err == nil && p > 0 {
		page = p
	}
	if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 && l <= maxLimit {
		limit = l
	}

	search := strings.ToLower(q.Get("search"))
	category, hasCategory := int64(0), false
	if c, err := strconv.ParseInt(q.Get("category"), 10, 64); err == nil {
		category, hasCategory = c, true
	}
	priceMin, hasMin := parsePrice(q.Get("price_min"))
	priceMax, hasMax := parsePrice(q.Get("price_max"))
	stockOnly := q.Get("stock") == "available" || q.Get("stock") == "true"

	s.mu.Lock()
	var matched []readmodel.Product
	for _, p := range s.products {
		if search != "" &&
			!strings.Contains(strings.ToLower(p.Name), search) &&
			!strings.Contains(strings.ToLower(p.Description), search) {
			continue
		}
		if hasCategory && p.CategoryID != category {
			continue
		}
		if hasMin && p.BasePrice.LessThan(priceMin) {
			continue
		}
		if hasMax && p.BasePrice.GreaterThan(priceMax) {
			continue
		}
		if stockOnly && !p.InStock() {
			continue
		}
		matched = append(matched, p.Clone())
	}
	s.mu.Unlock()

	total := len(matched)
	offset := (page - 1) * limit
	end := offset + limit
	if offset > total {
		offset = total
	}
	if end > total {
		end = total
	}

	respondJSON(w, readmodel.ProductsPage{
		Products:   append([]readmodel.Product{}, matched[offset:end]...),
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: (total + limit - 1) / limit,
	}, http.StatusOK)
}

func parsePrice(raw string) (decimal.Decimal, bool) {
	if raw == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || d.IsNegative() {
		return decimal.Zero, false
	}
	return d, true
}

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid product ID", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	p, err := s.productLocked(id)
	var product readmodel.Product
	if err == nil {
		product = p.Clone()
	}
	s.mu.Unlock()

	if err != nil {
		http.Error(w, "Product not found", http.StatusNotFound)
		return
	}
	respondJSON(w, product, http.StatusOK)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	data, ok := s.images[mux.Vars(r)["filename"]]
	s.mu.Unlock()

	if !ok {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	_, _ = w.Write(data)
}

func (s *Server) productLocked(id int64) (*readmodel.Product, error) {
	for i := range s.products {
		if s.products[i].ID == id {
			return &s.products[i], nil
		}
	}
	return nil, ErrProductNotFound
}

func (s *Server) variantLocked(id int64) (*readmodel.Product, *readmodel.Variant, error) {
	for i := range s.products {
		for j := range s.products[i].Variants {
			if s.products[i].Variants[j].ID == id {
				return &s.products[i], &s.products[i].Variants[j], nil
			}
		}
	}
	return nil, nil, ErrVariantNotFound
}

// SetStock changes a variant's stock and publishes an inventory event
func (s *Server) SetStock(ctx context.Context, variantID int64, qty int) error {
	if qty < 0 {
		return fmt.Errorf("stock must not be negative: %d", qty)
	}
	s.mu.Lock()
	_, v, err := s.variantLocked(variantID)
	if err == nil {
		v.StockQty = qty
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.publish(ctx, kafka.AggregateInventory, strconv.FormatInt(variantID, 10), "StockUpdated",
		map[string]any{"variant_id": variantID, "stock_qty": qty})
	return nil
}

// SetPrice changes a product's base price and publishes a product event
func (s *Server) SetPrice(ctx context.Context, productID int64, price decimal.Decimal) error {
	if price.IsNegative() {
		return fmt.Errorf("price must not be negative: %s", price)
	}
	s.mu.Lock()
	p, err := s.productLocked(productID)
	if err == nil {
		p.BasePrice = price
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.publish(ctx, kafka.AggregateProduct, strconv.FormatInt(productID, 10), "ProductPriceChanged",
		map[string]any{"product_id": productID, "base_price": price})
	return nil
}

func (s *Server) handleSetStock(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, "invalid variant id", http.StatusBadRequest)
		return
	}
	var req struct {
		StockQty *int `json:"stock_qty"`
	}
	if err := decodeBody(r, &req); err != nil || req.StockQty == nil {
		respondError(w, "stock_qty is required", http.StatusBadRequest)
		return
	}

	if err := s.SetStock(r.Context(), id, *req.StockQty); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, ErrVariantNotFound) {
			status = http.StatusNotFound
		}
		respondError(w, err.Error(), status)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetPrice(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, "invalid product id", http.StatusBadRequest)
		return
	}
	var req struct {
		BasePrice *decimal.Decimal `json:"base_price"`
	}
	if err := decodeBody(r, &req); err != nil || req.BasePrice == nil {
		respondError(w, "base_price is required", http.StatusBadRequest)
		return
	}

	if err := s.SetPrice(r.Context(), id, *req.BasePrice); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, ErrProductNotFound) {
			status = http.StatusNotFound
		}
		respondError(w, err.Error(), status)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func isAbsoluteURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// placeholderImage returns a minimal JPEG-marked payload unique per product
func placeholderImage(id int64) []byte {
	return append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, []byte(fmt.Sprintf("product-%d", id))...)
}
