// Package market samples asking or sold prices for an item from
// marketplaces. Each source yields one Sample; the price blender reduces
// each sample to its median.
package market

import (
	"context"
	"errors"
)

// ErrInsufficientSamples is returned when a source found too few priced
// listings to be useful.
var ErrInsufficientSamples = errors.New("market: insufficient samples")

// Sample is the price observations of one market source.
type Sample struct {
	Source string    `json:"source"`
	Prices []float64 `json:"prices"`
}

// Query is what a sampler searches for.
type Query struct {
	ItemName string
	Category string
}

// Sampler is one market price source.
type Sampler interface {
	Name() string
	Sample(ctx context.Context, q Query) (Sample, error)
}
