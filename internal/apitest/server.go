// Package apitest is an in-memory stand-in for the storefront REST API. It
// backs the client tests and the mockapi development server.
package apitest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/example/optical-storefront/internal/logger"
	"github.com/example/optical-storefront/internal/readmodel"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultSecret = "storefront-dev-secret"
	defaultLimit  = 10
	maxLimit      = 100
)

// Publisher receives catalog change events. kafka.Producer satisfies it.
type Publisher interface {
	PublishEvent(ctx context.Context, aggregateType, aggregateID, eventType string, data any) error
}

// Stub replaces the response of one method and path
type Stub struct {
	Status      int
	Body        string
	ContentType string
	// Wait holds the response until the channel is closed or the request
	// is cancelled
	Wait <-chan struct{}
}

type Option func(*Server)

func WithJWTService(j *JWTService) Option {
	return func(s *Server) { s.jwt = j }
}

func WithPasswordCost(cost int) Option {
	return func(s *Server) { s.hasher = NewPasswordHasher(cost) }
}

func WithPublisher(p Publisher) Option {
	return func(s *Server) { s.publisher = p }
}

// WithProducts replaces the seeded catalog
func WithProducts(products []readmodel.Product) Option {
	return func(s *Server) { s.products = cloneProducts(products) }
}

type user struct {
	id           int64
	email        string
	passwordHash string
	role         string
}

type cartItemRecord struct {
	id        int64
	variantID int64
	qty       int
	// unitPrice is fixed when the variant is added
	unitPrice decimal.Decimal
}

type cartRecord struct {
	id        int64
	userID    int64
	items     []*cartItemRecord
	createdAt time.Time
	updatedAt time.Time
}

// Server is the fake API. It is safe for concurrent use.
type Server struct {
	router    *mux.Router
	jwt       *JWTService
	hasher    *PasswordHasher
	publisher Publisher

	mu            sync.Mutex
	products      []readmodel.Product
	images        map[string][]byte
	users         map[string]*user
	refreshTokens map[string]int64
	carts         map[int64]*cartRecord
	nextUserID    int64
	nextCartID    int64
	nextItemID    int64
	stubs         map[string]Stub
	hits          map[string]int
}

func NewServer(opts ...Option) *Server {
	s := &Server{
		jwt:           NewJWTService(defaultSecret, 15*time.Minute, 7*24*time.Hour),
		hasher:        NewPasswordHasher(bcrypt.DefaultCost),
		products:      SeedProducts(),
		images:        map[string][]byte{},
		users:         map[string]*user{},
		refreshTokens: map[string]int64{},
		carts:         map[int64]*cartRecord{},
		stubs:         map[string]Stub{},
		hits:          map[string]int{},
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, p := range s.products {
		if p.Image != "" && !isAbsoluteURL(p.Image) {
			s.images[p.Image] = placeholderImage(p.ID)
		}
	}
	s.router = s.routes()
	return s
}

// NewTestServer starts s on a loopback listener closed at test cleanup.
// Tests default to the cheapest bcrypt cost.
func NewTestServer(t testing.TB, opts ...Option) (*Server, *httptest.Server) {
	t.Helper()
	opts = append([]Option{WithPasswordCost(bcrypt.MinCost)}, opts...)
	s := NewServer(opts...)
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)
	return s, ts
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/register", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/api/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/api/refresh-token", s.handleRefreshToken).Methods(http.MethodPost)
	r.HandleFunc("/api/products", s.handleListProducts).Methods(http.MethodGet)
	r.HandleFunc("/api/products/{id}", s.handleGetProduct).Methods(http.MethodGet)
	r.HandleFunc("/api/uploads/{filename}", s.handleUpload).Methods(http.MethodGet)

	products := r.PathPrefix("/api/products").Subrouter()
	products.Use(AuthMiddleware(s.jwt), RequireRole("admin"))
	products.HandleFunc("", s.handleCreateProduct).Methods(http.MethodPost)
	products.HandleFunc("/{id}", s.handleUpdateProduct).Methods(http.MethodPut)
	products.HandleFunc("/{id}", s.handleDeleteProduct).Methods(http.MethodDelete)

	cart := r.PathPrefix("/api/cart").Subrouter()
	cart.Use(AuthMiddleware(s.jwt))
	cart.HandleFunc("", s.handleGetCart).Methods(http.MethodGet)
	cart.HandleFunc("/add", s.handleAddToCart).Methods(http.MethodPost)
	cart.HandleFunc("/items/{id}", s.handleUpdateCartItem).Methods(http.MethodPut)
	cart.HandleFunc("/items/{id}", s.handleRemoveCartItem).Methods(http.MethodDelete)
	cart.HandleFunc("/clear", s.handleClearCart).Methods(http.MethodDelete)

	admin := r.PathPrefix("/api/admin").Subrouter()
	admin.Use(AuthMiddleware(s.jwt), RequireRole("admin"))
	admin.HandleFunc("/variants/{id}/stock", s.handleSetStock).Methods(http.MethodPut)
	admin.HandleFunc("/products/{id}/price", s.handleSetPrice).Methods(http.MethodPut)

	return r
}

// ServeHTTP counts the request, applies any stub, then routes
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := r.Method + " " + r.URL.Path

	s.mu.Lock()
	s.hits[key]++
	stub, stubbed := s.stubs[key]
	s.mu.Unlock()

	if !stubbed {
		s.router.ServeHTTP(w, r)
		return
	}

	if stub.Wait != nil {
		select {
		case <-stub.Wait:
		case <-r.Context().Done():
			return
		}
	}
	contentType := stub.ContentType
	if contentType == "" {
		contentType = "text/plain; charset=utf-8"
	}
	w.Header().Set("Content-Type", contentType)
	status := stub.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(stub.Body))
}

// Stub makes every request for method and path answer with stub until
// ClearStubs is called
func (s *Server) Stub(method, path string, stub Stub) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stubs[method+" "+path] = stub
}

func (s *Server) ClearStubs() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stubs = map[string]Stub{}
}

// Hits returns how many requests reached method and path
func (s *Server) Hits(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[method+" "+path]
}

// JWT exposes the token service so tests can mint tokens directly
func (s *Server) JWT() *JWTService {
	return s.jwt
}

func (s *Server) publish(ctx context.Context, aggregateType, aggregateID, eventType string, data any) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishEvent(ctx, aggregateType, aggregateID, eventType, data); err != nil {
		logger.Warn("[MockAPI] failed to publish event", "event_type", eventType, "error", err)
	}
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("[MockAPI] failed to encode response", "error", err)
	}
}

// respondError writes the {"error": message} envelope used by the admin routes
func respondError(w http.ResponseWriter, message string, status int) {
	respondJSON(w, map[string]string{"error": message}, status)
}
