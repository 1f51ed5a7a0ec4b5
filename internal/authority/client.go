package authority

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

// ClientOpts configures the HTTP client of a fetcher.
type ClientOpts struct {
	BaseURL string
	Timeout time.Duration
	// RequestsPerSecond limits outbound calls. Zero means unlimited.
	RequestsPerSecond float64
	Burst             int
}

type client struct {
	httpClient *resty.Client
	limiter    *rate.Limiter
}

func newClient(opts ClientOpts, defaultBaseURL string) *client {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 || timeout > DefaultTimeout {
		timeout = DefaultTimeout
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	return &client{
		httpClient: resty.New().
			SetDebug(false).
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeaders(map[string]string{
				"Accept":     "application/json",
				"User-Agent": "item-appraiser/1.0",
			}),
		limiter: rate.NewLimiter(limit, burst),
	}
}

// req waits for the rate limiter and returns a request bound to ctx.
func (c *client) req(ctx context.Context, result any) (*resty.Request, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limit wait: %v", ErrUnavailable, err)
	}
	request := c.httpClient.R().SetContext(ctx)
	if result != nil {
		request.SetResult(result)
	}
	return request, nil
}

// handleError turns failing responses (>399 status code) into errors.
// 400 and 404 are ErrNotFound so cascades can fall through; everything else
// is ErrUnavailable.
func handleError(res *resty.Response, err error) (*resty.Response, error) {
	if err != nil {
		return res, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if res.IsError() {
		switch res.StatusCode() {
		case http.StatusBadRequest, http.StatusNotFound:
			return res, fmt.Errorf("%w: %s %s (status: %d)", ErrNotFound, res.Request.Method, res.Request.URL, res.StatusCode())
		}
		return res, fmt.Errorf("%w: %s %s (status: %d)", ErrUnavailable, res.Request.Method, res.Request.URL, res.StatusCode())
	}
	return res, nil
}
