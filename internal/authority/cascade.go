package authority

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Cascade asks its fetchers in order and falls through to the next one when
// a source does not know the item (ErrNotFound) or does not cover the query.
// Any other failure ends the cascade. The barcode cascade is UPCitemdb
// followed by the regional EAN-Search database.
type Cascade struct {
	name     string
	fetchers []Fetcher
}

// NewCascade creates a cascade named name.
func NewCascade(name string, fetchers ...Fetcher) *Cascade {
	return &Cascade{name: name, fetchers: fetchers}
}

func (c *Cascade) Name() string { return c.name }

// Members returns the fetchers in cascade order.
func (c *Cascade) Members() []Fetcher { return c.fetchers }

func (c *Cascade) Covers(q Query) bool {
	for _, f := range c.fetchers {
		if f.Covers(q) {
			return true
		}
	}
	return false
}

func (c *Cascade) Lookup(ctx context.Context, q Query) (*Data, error) {
	var misses []string
	for _, f := range c.fetchers {
		if !f.Covers(q) {
			continue
		}
		data, err := f.Lookup(ctx, q)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", f.Name(), err)
		}
		misses = append(misses, f.Name())
	}
	if len(misses) == 0 {
		return nil, fmt.Errorf("%w: %s covers nothing in query", ErrUnavailable, c.name)
	}
	return nil, fmt.Errorf("%w: not in %s", ErrNotFound, strings.Join(misses, ", "))
}

// Health reports the worst member status and the slowest member latency.
func (c *Cascade) Health(ctx context.Context) Health {
	out := Health{Source: c.name, Status: StatusHealthy, CheckedAt: time.Now()}
	var errs []string
	for _, f := range c.fetchers {
		h := f.Health(ctx)
		if h.Latency > out.Latency {
			out.Latency = h.Latency
		}
		if statusRank(h.Status) > statusRank(out.Status) {
			out.Status = h.Status
		}
		if h.Error != "" {
			errs = append(errs, f.Name()+": "+h.Error)
		}
	}
	out.Error = strings.Join(errs, "; ")
	return out
}

func statusRank(s Status) int {
	switch s {
	case StatusDegraded:
		return 1
	case StatusUnhealthy:
		return 2
	}
	return 0
}

// Best picks the most useful result: verified data with a price first, then
// higher confidence. Ties keep the earlier entry.
func Best(results []*Data) *Data {
	var best *Data
	for _, d := range results {
		if d == nil {
			continue
		}
		if best == nil || better(d, best) {
			best = d
		}
	}
	return best
}

func better(a, b *Data) bool {
	aPriced, bPriced := a.Verified && !a.MarketValue.IsZero(), b.Verified && !b.MarketValue.IsZero()
	if aPriced != bPriced {
		return aPriced
	}
	return a.Confidence > b.Confidence
}
