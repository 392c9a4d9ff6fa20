package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/example/optical-storefront/internal/logger"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	DefaultTimeout = 15 * time.Second
	maxBodyBytes   = 10 << 20
)

type Config struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64 // requests per second, 0 disables throttling
	RateBurst int
	Transport http.RoundTripper
}

// Client talks to the storefront REST API
type Client struct {
	baseURL  string
	http     *http.Client
	limiter  *rate.Limiter
	validate *validator.Validate
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 1
	}

	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		http:     &http.Client{Timeout: cfg.Timeout, Transport: cfg.Transport},
		limiter:  rate.NewLimiter(limit, cfg.RateBurst),
		validate: newValidator(),
	}
}

// newValidator teaches the validator to compare decimals numerically
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return v
}

// BaseURL returns the API root without a trailing slash
func (c *Client) BaseURL() string {
	return c.baseURL
}

type request struct {
	op       string
	method   string
	path     string
	query    url.Values
	token    string
	body     any
	fallback string

	// form is sent as is instead of a JSON body
	form        []byte
	contentType string

	// required makes an empty 2xx body a malformed response
	required bool
}

// do performs req and decodes a JSON body into out. It reports false when
// the server answered 2xx without a body.
func (c *Client) do(ctx context.Context, req request, out any) (bool, error) {
	raw, status, err := c.send(ctx, req, "application/json")
	if err != nil {
		return false, err
	}
	if status == http.StatusNoContent || len(bytes.TrimSpace(raw)) == 0 {
		if req.required {
			return false, malformed(req.op, status, errors.New("empty body"))
		}
		return false, nil
	}
	if out == nil {
		return true, nil
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return false, malformed(req.op, status, err)
	}
	if err := c.validateBody(out); err != nil {
		return false, malformed(req.op, status, err)
	}
	return true, nil
}

func (c *Client) validateBody(out any) error {
	v := reflect.ValueOf(out)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}
	return c.validate.Struct(out)
}

// send performs the round trip and returns the raw 2xx body
func (c *Client) send(ctx context.Context, req request, accept string) ([]byte, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, &NetworkError{Op: req.op, Err: err}
	}

	u := c.baseURL + req.path
	if len(req.query) > 0 {
		u += "?" + req.query.Encode()
	}

	var body io.Reader
	contentType := req.contentType
	switch {
	case req.form != nil:
		body = bytes.NewReader(req.form)
	case req.body != nil:
		data, err := json.Marshal(req.body)
		if err != nil {
			return nil, 0, fmt.Errorf("%s: failed to encode request: %w", req.op, err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, u, body)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: failed to build request: %w", req.op, err)
	}
	requestID := uuid.New().String()
	httpReq.Header.Set("Accept", accept)
	httpReq.Header.Set("X-Request-ID", requestID)
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if req.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.token)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		logger.Debug("[API] request failed", "op", req.op, "request_id", requestID, "error", err)
		return nil, 0, &NetworkError{Op: req.op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, &NetworkError{Op: req.op, Err: err}
	}
	logger.Debug("[API] request completed",
		"op", req.op, "method", req.method, "path", req.path,
		"status", resp.StatusCode, "request_id", requestID, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode, &RemoteError{
			Op:      req.op,
			Status:  resp.StatusCode,
			Message: errorMessage(raw, req.fallback),
		}
	}
	return raw, resp.StatusCode, nil
}

// errorMessage passes the server's text through, unwrapping the
// {"error": "..."} envelope some endpoints use
func errorMessage(body []byte, fallback string) string {
	text := strings.TrimSpace(string(body))
	if text == "" {
		return fallback
	}
	var envelope struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &envelope) == nil {
		if envelope.Error != "" {
			return envelope.Error
		}
		if envelope.Message != "" {
			return envelope.Message
		}
	}
	return text
}

func malformed(op string, status int, err error) error {
	return &RemoteError{
		Op:      op,
		Status:  status,
		Message: "malformed response: " + err.Error(),
		Err:     ErrMalformedResponse,
	}
}
