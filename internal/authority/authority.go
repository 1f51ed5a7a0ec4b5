// Package authority looks items up in trusted catalog and price sources.
//
// Every Fetcher is a pure function of the query: it holds no per-request
// state, bounds each call with a hard timeout and reports "not found" or
// "unavailable" as typed errors instead of guessing.
package authority

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound means the source answered but does not know the item
	// (HTTP 400/404). Cascades move on to the next source.
	ErrNotFound = errors.New("authority: item not found")
	// ErrUnavailable means the source could not be asked: missing
	// identifier, transport failure or server error.
	ErrUnavailable = errors.New("authority: unavailable")
)

// DefaultTimeout bounds every authority request.
const DefaultTimeout = 8 * time.Second

// ConditionPrices maps item conditions to prices.
type ConditionPrices struct {
	Mint      float64 `json:"mint,omitempty"`
	NearMint  float64 `json:"nearMint,omitempty"`
	Excellent float64 `json:"excellent,omitempty"`
	Good      float64 `json:"good,omitempty"`
	Fair      float64 `json:"fair,omitempty"`
	Poor      float64 `json:"poor,omitempty"`
	Average   float64 `json:"average,omitempty"`
}

// IsZero reports whether no price is set.
func (p ConditionPrices) IsZero() bool {
	return p == ConditionPrices{}
}

// Data is a trust-rated fact about an item from an authority source.
type Data struct {
	Source        string          `json:"source"`
	Verified      bool            `json:"verified"`
	Confidence    float64         `json:"confidence"`
	MarketValue   ConditionPrices `json:"marketValue"`
	ItemDetails   map[string]any  `json:"itemDetails,omitempty"`
	CatalogNumber string          `json:"catalogNumber,omitempty"`
	SampleSize    int             `json:"sampleSize,omitempty"`
	LastUpdated   time.Time       `json:"lastUpdated"`
}

// Query is what a fetcher is asked about.
type Query struct {
	ItemName    string
	Category    string
	Identifiers map[string]string
}

// Identifier returns the first present identifier among keys.
func (q Query) Identifier(keys ...string) (string, bool) {
	for _, k := range keys {
		if v := strings.TrimSpace(q.Identifiers[k]); v != "" {
			return v, true
		}
	}
	return "", false
}

// InCategory reports whether the query category mentions any of words.
func (q Query) InCategory(words ...string) bool {
	c := strings.ToLower(q.Category)
	for _, w := range words {
		if strings.Contains(c, w) {
			return true
		}
	}
	return false
}

// Fetcher is one authority source.
type Fetcher interface {
	Name() string
	// Covers reports whether the query carries what the source needs.
	Covers(q Query) bool
	Lookup(ctx context.Context, q Query) (*Data, error)
	Health(ctx context.Context) Health
}

// Status is the result of a health check.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// DegradedLatency is the latency above which a responding source is degraded.
const DegradedLatency = 3 * time.Second

// Health is the outcome of a health check.
type Health struct {
	Source    string        `json:"source"`
	Status    Status        `json:"status"`
	Latency   time.Duration `json:"latency"`
	Error     string        `json:"error,omitempty"`
	CheckedAt time.Time     `json:"checkedAt"`
}

// healthFrom classifies a probe result. A source that answers "not found"
// is up.
func healthFrom(source string, start time.Time, err error) Health {
	h := Health{Source: source, Latency: time.Since(start), CheckedAt: time.Now(), Status: StatusHealthy}
	switch {
	case err != nil && !errors.Is(err, ErrNotFound):
		h.Status = StatusUnhealthy
		h.Error = err.Error()
	case h.Latency > DegradedLatency:
		h.Status = StatusDegraded
	}
	return h
}
