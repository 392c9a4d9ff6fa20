// Package catalog holds the product listing state: the filter model and its
// URL projection, the query cache, and the Browser that ties them to a fetcher.
package catalog

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrUnknownField = errors.New("unknown filter field")
	ErrInvalidValue = errors.New("invalid filter value")
)

// Filter fields, also used as URL and API parameter names
const (
	FieldSearch   = "search"
	FieldCategory = "category"
	FieldPriceMin = "price_min"
	FieldPriceMax = "price_max"
	FieldStock    = "stock"
	FieldPage     = "page"
	FieldLimit    = "limit"

	DefaultLimit = 12
	stockToken   = "available"
)

// AllowedLimits are the selectable page sizes
var AllowedLimits = []int{12, 24, 48}

// FilterState is the canonical catalog query. It is a value type; every
// mutation returns a new state.
type FilterState struct {
	Search      string
	Category    string
	PriceMin    string
	PriceMax    string
	InStockOnly bool
	Page        int
	Limit       int
}

func DefaultFilterState() FilterState {
	return FilterState{Page: 1, Limit: DefaultLimit}
}

// Set returns a copy of s with key set to value. Any key other than page
// resets the page to 1.
func (s FilterState) Set(key, value string) (FilterState, error) {
	next := s
	switch key {
	case FieldSearch:
		next.Search = value
	case FieldCategory:
		v, ok := normalizeCategory(value)
		if !ok {
			return s, fmt.Errorf("%w: category %q", ErrInvalidValue, value)
		}
		next.Category = v
	case FieldPriceMin, FieldPriceMax:
		v, ok := normalizePrice(value)
		if !ok {
			return s, fmt.Errorf("%w: %s %q", ErrInvalidValue, key, value)
		}
		if key == FieldPriceMin {
			next.PriceMin = v
		} else {
			next.PriceMax = v
		}
	case FieldStock:
		switch strings.ToLower(value) {
		case "true", "1", stockToken:
			next.InStockOnly = true
		case "false", "0", "":
			next.InStockOnly = false
		default:
			return s, fmt.Errorf("%w: stock %q", ErrInvalidValue, value)
		}
	case FieldPage:
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return s, fmt.Errorf("%w: page %q", ErrInvalidValue, value)
		}
		next.Page = n
		return next, nil
	case FieldLimit:
		n, err := strconv.Atoi(value)
		if err != nil || !allowedLimit(n) {
			return s, fmt.Errorf("%w: limit %q", ErrInvalidValue, value)
		}
		next.Limit = n
	default:
		return s, fmt.Errorf("%w: %q", ErrUnknownField, key)
	}
	next.Page = 1
	return next, nil
}

// Clear returns the default state
func (s FilterState) Clear() FilterState {
	return DefaultFilterState()
}

// IsDefault reports whether no filter is applied
func (s FilterState) IsDefault() bool {
	return s == DefaultFilterState()
}

// ToQueryString projects s onto a URL query, omitting default fields, with
// keys in a fixed order
func ToQueryString(s FilterState) string {
	var parts []string
	add := func(key, value string) {
		parts = append(parts, url.QueryEscape(key)+"="+url.QueryEscape(value))
	}
	if s.Search != "" {
		add(FieldSearch, s.Search)
	}
	if s.Category != "" {
		add(FieldCategory, s.Category)
	}
	if s.PriceMin != "" {
		add(FieldPriceMin, s.PriceMin)
	}
	if s.PriceMax != "" {
		add(FieldPriceMax, s.PriceMax)
	}
	if s.InStockOnly {
		add(FieldStock, stockToken)
	}
	if s.Page != 1 {
		add(FieldPage, strconv.Itoa(s.Page))
	}
	if s.Limit != DefaultLimit {
		add(FieldLimit, strconv.Itoa(s.Limit))
	}
	return strings.Join(parts, "&")
}

// FromQueryString parses a URL query. Missing or invalid fields take their
// default; a leading "?" is accepted.
func FromQueryString(qs string) FilterState {
	s := DefaultFilterState()
	values, err := url.ParseQuery(strings.TrimPrefix(qs, "?"))
	if err != nil {
		return s
	}

	s.Search = values.Get(FieldSearch)
	if v, ok := normalizeCategory(values.Get(FieldCategory)); ok {
		s.Category = v
	}
	if v, ok := normalizePrice(values.Get(FieldPriceMin)); ok {
		s.PriceMin = v
	}
	if v, ok := normalizePrice(values.Get(FieldPriceMax)); ok {
		s.PriceMax = v
	}
	s.InStockOnly = values.Get(FieldStock) == stockToken
	if n, err := strconv.Atoi(values.Get(FieldPage)); err == nil && n >= 1 {
		s.Page = n
	}
	if n, err := strconv.Atoi(values.Get(FieldLimit)); err == nil && allowedLimit(n) {
		s.Limit = n
	}
	return s
}

// APIValues is the products endpoint query for s. Page and limit are
// always sent.
func (s FilterState) APIValues() url.Values {
	v := url.Values{}
	if s.Search != "" {
		v.Set(FieldSearch, s.Search)
	}
	if s.Category != "" {
		v.Set(FieldCategory, s.Category)
	}
	if s.PriceMin != "" {
		v.Set(FieldPriceMin, s.PriceMin)
	}
	if s.PriceMax != "" {
		v.Set(FieldPriceMax, s.PriceMax)
	}
	if s.InStockOnly {
		v.Set(FieldStock, stockToken)
	}
	v.Set(FieldPage, strconv.Itoa(s.Page))
	v.Set(FieldLimit, strconv.Itoa(s.Limit))
	return v
}

// CacheKey is the sorted encoding of the API query for s
func CacheKey(s FilterState) string {
	return s.APIValues().Encode()
}

// PageWindow returns up to five page numbers starting two before page.
// A single page needs no pager.
func PageWindow(page, totalPages int) []int {
	if totalPages <= 1 {
		return nil
	}
	start := page - 2
	if start < 1 {
		start = 1
	}
	var window []int
	for n := start; n < start+5 && n <= totalPages; n++ {
		window = append(window, n)
	}
	return window
}

func allowedLimit(n int) bool {
	for _, l := range AllowedLimits {
		if l == n {
			return true
		}
	}
	return false
}

// normalizeCategory accepts empty or a positive integer id
func normalizeCategory(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return "", false
	}
	return strconv.FormatInt(id, 10), true
}

// normalizePrice accepts empty or a non-negative decimal
func normalizePrice(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", true
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || d.IsNegative() {
		return "", false
	}
	return d.String(), true
}
