package authority

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/raine/item-appraiser/internal/stats"
)

const upcItemDBBaseURL = "https://api.upcitemdb.com"

// UPCItemDB looks up barcodes in the UPCitemdb product database. Prices come
// from the merchant offers it has recorded.
type UPCItemDB struct {
	c       *client
	userKey string
}

// UPCItemDBConfig configures UPCItemDB. Without a user key the free trial
// endpoint is used.
type UPCItemDBConfig struct {
	ClientOpts
	UserKey string
}

// NewUPCItemDB creates the UPCitemdb fetcher.
func NewUPCItemDB(cfg UPCItemDBConfig) *UPCItemDB {
	return &UPCItemDB{c: newClient(cfg.ClientOpts, upcItemDBBaseURL), userKey: cfg.UserKey}
}

func (u *UPCItemDB) Name() string { return "upcitemdb" }

func (u *UPCItemDB) Covers(q Query) bool {
	_, ok := q.Identifier("upc", "barcode")
	return ok
}

type upcOffer struct {
	Merchant  string  `json:"merchant"`
	Price     float64 `json:"price"`
	Condition string  `json:"condition"`
	UpdatedT  int64   `json:"updated_t"`
}

type upcItem struct {
	EAN                  string     `json:"ean"`
	UPC                  string     `json:"upc"`
	Title                string     `json:"title"`
	Description          string     `json:"description"`
	Brand                string     `json:"brand"`
	Model                string     `json:"model"`
	Category             string     `json:"category"`
	Images               []string   `json:"images"`
	LowestRecordedPrice  float64    `json:"lowest_recorded_price"`
	HighestRecordedPrice float64    `json:"highest_recorded_price"`
	Offers               []upcOffer `json:"offers"`
}

type upcLookupResponse struct {
	Code  string    `json:"code"`
	Total int       `json:"total"`
	Items []upcItem `json:"items"`
}

func (u *UPCItemDB) path() string {
	if u.userKey != "" {
		return "/prod/v1/lookup"
	}
	return "/prod/trial/lookup"
}

func (u *UPCItemDB) Lookup(ctx context.Context, q Query) (*Data, error) {
	code, ok := q.Identifier("upc", "barcode")
	if !ok {
		return nil, fmt.Errorf("%w: no barcode", ErrUnavailable)
	}

	result := &upcLookupResponse{}
	req, err := u.c.req(ctx, result)
	if err != nil {
		return nil, err
	}
	req.SetQueryParam("upc", code)
	if u.userKey != "" {
		req.SetHeaders(map[string]string{"user_key": u.userKey, "key_type": "3scale"})
	}
	if _, err := handleError(req.Get(u.path())); err != nil {
		return nil, err
	}
	if len(result.Items) == 0 {
		return nil, fmt.Errorf("%w: upc %s", ErrNotFound, code)
	}

	return u.toData(result.Items[0]), nil
}

func (u *UPCItemDB) toData(item upcItem) *Data {
	var all, newPrices, usedPrices, refurbPrices []float64
	var latest int64
	for _, o := range item.Offers {
		if o.Price <= 0 {
			continue
		}
		all = append(all, o.Price)
		switch strings.ToLower(o.Condition) {
		case "new", "":
			newPrices = append(newPrices, o.Price)
		case "refurbished":
			refurbPrices = append(refurbPrices, o.Price)
		default:
			usedPrices = append(usedPrices, o.Price)
		}
		if o.UpdatedT > latest {
			latest = o.UpdatedT
		}
	}

	prices := ConditionPrices{
		Mint:      stats.Median(newPrices),
		Excellent: stats.Median(refurbPrices),
		Good:      stats.Median(usedPrices),
		Average:   stats.Median(all),
	}
	if prices.Average == 0 && item.LowestRecordedPrice > 0 && item.HighestRecordedPrice > 0 {
		prices.Average = (item.LowestRecordedPrice + item.HighestRecordedPrice) / 2
	}

	updated := time.Now()
	if latest > 0 {
		updated = time.Unix(latest, 0)
	}

	critical := []bool{item.Title != "", item.Brand != "", prices.Average > 0}
	optional := []bool{item.Model != "", item.Category != "", item.Description != "", len(item.Images) > 0}

	return &Data{
		Source:      u.Name(),
		Verified:    true,
		Confidence:  Confidence(critical, optional, len(all)),
		MarketValue: prices,
		ItemDetails: map[string]any{
			"title":    item.Title,
			"brand":    item.Brand,
			"model":    item.Model,
			"category": item.Category,
			"ean":      item.EAN,
		},
		CatalogNumber: firstNonEmpty(item.UPC, item.EAN),
		SampleSize:    len(all),
		LastUpdated:   updated,
	}
}

// Health probes the lookup endpoint with a known product barcode.
func (u *UPCItemDB) Health(ctx context.Context) Health {
	start := time.Now()
	_, err := u.Lookup(ctx, Query{Identifiers: map[string]string{"upc": "885909950805"}})
	return healthFrom(u.Name(), start, err)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
