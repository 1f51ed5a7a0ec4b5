package market

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const (
	toriGatewayBaseURL = "https://apps-gw-poc.svc.tori.fi"
	toriSearchService  = "SEARCH-QUEST"
	toriSearchKey      = "SEARCH_ID_BAP_COMMON"

	androidUserAgent      = "ToriApp_And/26.4.0 (Linux; U; Android 14; en_us; Pixel 6 Build/UP1A.231005.007) ToriNativeApp(UA spoofed for tracking) ToriApp_And"
	androidAppVersionName = "26.4.0"
	androidAppBuildNumber = "26357"
	androidOSVersion      = "14"
	androidDevice         = "Pixel 6"
)

// DefaultMinListings is the fewest priced listings a Tori sample needs.
const DefaultMinListings = 3

// ToriConfig configures ToriSampler.
type ToriConfig struct {
	BaseURL     string
	Rows        int
	MinListings int
	Timeout     time.Duration
	// RequestsPerSecond limits searches. Zero means unlimited.
	RequestsPerSecond float64
}

// ToriSampler samples asking prices of similar listings on tori.fi.
type ToriSampler struct {
	httpClient  *resty.Client
	limiter     *rate.Limiter
	rows        int
	minListings int
}

// NewToriSampler creates a sampler for the tori.fi search API.
func NewToriSampler(cfg ToriConfig) *ToriSampler {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = toriGatewayBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	rows := cfg.Rows
	if rows <= 0 {
		rows = 20
	}
	minListings := cfg.MinListings
	if minListings <= 0 {
		minListings = DefaultMinListings
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &ToriSampler{
		httpClient: resty.New().
			SetDebug(false).
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeaders(map[string]string{
				"User-Agent":             androidUserAgent,
				"Accept":                 "application/json; charset=UTF-8",
				"Accept-Language":        "en-US,en;q=0.9",
				"finn-device-info":       "Android, mobile",
				"finn-gw-service":        toriSearchService,
				"x-nmp-os-name":          "Android",
				"x-nmp-os-version":       androidOSVersion,
				"x-nmp-app-version-name": androidAppVersionName,
				"x-nmp-app-build-number": androidAppBuildNumber,
				"x-nmp-app-brand":        "Tori",
				"x-nmp-device":           androidDevice,
			}),
		limiter:     rate.NewLimiter(limit, 1),
		rows:        rows,
		minListings: minListings,
	}
}

func (t *ToriSampler) Name() string { return "tori" }

type searchResult struct {
	Docs []struct {
		ID      string `json:"id"`
		Heading string `json:"heading"`
		Price   *struct {
			Amount int `json:"amount"`
		} `json:"price,omitempty"`
	} `json:"docs"`
}

// Sample searches listings by item name and returns their asking prices.
func (t *ToriSampler) Sample(ctx context.Context, q Query) (Sample, error) {
	s := Sample{Source: t.Name()}
	if q.ItemName == "" {
		return s, fmt.Errorf("%w: empty query", ErrInsufficientSamples)
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return s, err
	}

	params := url.Values{}
	params.Set("client", "android")
	params.Set("q", q.ItemName)
	params.Set("rows", strconv.Itoa(t.rows))
	path := "/search/" + toriSearchKey + "?" + params.Encode()

	result := &searchResult{}
	res, err := t.httpClient.R().
		SetContext(ctx).
		SetHeader("finn-gw-key", gatewayKey("GET", path, toriSearchService, nil)).
		SetResult(result).
		Get(path)
	if err != nil {
		return s, fmt.Errorf("search failed: %w", err)
	}
	if res.IsError() {
		return s, fmt.Errorf("search failed: %d - %s", res.StatusCode(), res.String())
	}

	for _, doc := range result.Docs {
		if doc.Price != nil && doc.Price.Amount > 0 {
			s.Prices = append(s.Prices, float64(doc.Price.Amount))
		}
	}
	if len(s.Prices) < t.minListings {
		return s, fmt.Errorf("%w: %d priced listings for %q", ErrInsufficientSamples, len(s.Prices), q.ItemName)
	}
	return s, nil
}
