package authority

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const eanSearchBaseURL = "https://api.ean-search.org"

// EANSearch queries the EAN-Search.org barcode database. It covers regional
// EAN-13 codes the general UPC database misses but returns no prices, so its
// data verifies identity only.
type EANSearch struct {
	c     *client
	token string
}

// EANSearchConfig configures EANSearch.
type EANSearchConfig struct {
	ClientOpts
	Token string
}

// NewEANSearch creates the EAN-Search fetcher.
func NewEANSearch(cfg EANSearchConfig) *EANSearch {
	return &EANSearch{c: newClient(cfg.ClientOpts, eanSearchBaseURL), token: cfg.Token}
}

func (e *EANSearch) Name() string { return "ean-search" }

func (e *EANSearch) Covers(q Query) bool {
	_, ok := q.Identifier("barcode", "upc", "isbn")
	return ok && e.token != ""
}

type eanProduct struct {
	EAN            string `json:"ean"`
	Name           string `json:"name"`
	CategoryID     string `json:"categoryId"`
	CategoryName   string `json:"categoryName"`
	IssuingCountry string `json:"issuingCountry"`
	Error          string `json:"error"`
}

func (e *EANSearch) Lookup(ctx context.Context, q Query) (*Data, error) {
	code, ok := q.Identifier("barcode", "upc", "isbn")
	if !ok {
		return nil, fmt.Errorf("%w: no barcode", ErrUnavailable)
	}
	if e.token == "" {
		return nil, fmt.Errorf("%w: no api token", ErrUnavailable)
	}

	var result []eanProduct
	req, err := e.c.req(ctx, &result)
	if err != nil {
		return nil, err
	}
	req.SetQueryParams(map[string]string{
		"op":     "barcode-lookup",
		"format": "json",
		"token":  e.token,
		"ean":    code,
	})
	if _, err := handleError(req.Get("/api")); err != nil {
		return nil, err
	}

	if len(result) == 0 {
		return nil, fmt.Errorf("%w: ean %s", ErrNotFound, code)
	}
	p := result[0]
	if p.Error != "" {
		if strings.Contains(strings.ToLower(p.Error), "not found") {
			return nil, fmt.Errorf("%w: ean %s", ErrNotFound, code)
		}
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, p.Error)
	}

	critical := []bool{p.Name != ""}
	optional := []bool{p.CategoryName != "", p.IssuingCountry != ""}

	return &Data{
		Source:     e.Name(),
		Verified:   p.Name != "",
		Confidence: Confidence(critical, optional, 0),
		ItemDetails: map[string]any{
			"name":           p.Name,
			"category":       p.CategoryName,
			"issuingCountry": p.IssuingCountry,
		},
		CatalogNumber: firstNonEmpty(p.EAN, code),
		LastUpdated:   time.Now(),
	}, nil
}

// Health probes the account endpoint, which needs no barcode.
func (e *EANSearch) Health(ctx context.Context) Health {
	start := time.Now()
	req, err := e.c.req(ctx, nil)
	if err == nil {
		req.SetQueryParams(map[string]string{"op": "account-status", "format": "json", "token": e.token})
		_, err = handleError(req.Get("/api"))
	}
	return healthFrom(e.Name(), start, err)
}
