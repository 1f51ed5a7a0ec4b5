package authority

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/raine/item-appraiser/internal/cache"
	"github.com/raine/item-appraiser/internal/stats"
)

const numistaBaseURL = "https://api.numista.com/v3"

var yearRe = regexp.MustCompile(`\b(1[5-9]\d{2}|20\d{2})\b`)

// Numista looks coins and banknotes up in the Numista catalogue and returns
// grade-keyed prices for the matching issue.
type Numista struct {
	c        *client
	apiKey   string
	currency string
	tokens   cache.TokenCache
}

// NumistaConfig configures Numista.
type NumistaConfig struct {
	ClientOpts
	APIKey   string
	Currency string
}

// NewNumista creates the Numista fetcher. OAuth tokens are kept in tokens.
func NewNumista(cfg NumistaConfig, tokens cache.TokenCache) *Numista {
	currency := cfg.Currency
	if currency == "" {
		currency = "USD"
	}
	if tokens == nil {
		tokens = cache.NewMemoryTokenCache(0)
	}
	return &Numista{
		c:        newClient(cfg.ClientOpts, numistaBaseURL),
		apiKey:   cfg.APIKey,
		tokens:   tokens,
		currency: currency,
	}
}

func (n *Numista) Name() string { return "numista" }

func (n *Numista) Covers(q Query) bool {
	if n.apiKey == "" {
		return false
	}
	if q.InCategory("coin", "numismat", "banknote", "currency", "token", "medal") {
		return true
	}
	catalog, ok := q.Identifier("catalog_number")
	return ok && strings.HasPrefix(strings.ToUpper(catalog), "KM")
}

type numistaToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (n *Numista) tokenKey() string { return "numista:" + n.apiKey }

func (n *Numista) token(ctx context.Context) (string, error) {
	return n.tokens.GetOrFetch(ctx, n.tokenKey(), n.fetchToken)
}

func (n *Numista) fetchToken(ctx context.Context) (cache.Token, error) {
	result := &numistaToken{}
	req, err := n.c.req(ctx, result)
	if err != nil {
		return cache.Token{}, err
	}
	_, err = handleError(req.
		SetHeader("Numista-API-Key", n.apiKey).
		SetQueryParams(map[string]string{
			"grant_type": "client_credentials",
			"scope":      "view_collection",
		}).
		Get("/oauth_token"))
	if err != nil {
		return cache.Token{}, err
	}
	return cache.Token{
		Value:     result.AccessToken,
		ExpiresAt: time.Now().Add(time.Duration(result.ExpiresIn) * time.Second),
	}, nil
}

func (n *Numista) authed(ctx context.Context, result any) (*resty.Request, error) {
	token, err := n.token(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: oauth token: %v", ErrUnavailable, err)
	}
	req, err := n.c.req(ctx, result)
	if err != nil {
		return nil, err
	}
	req.SetHeader("Numista-API-Key", n.apiKey).SetAuthToken(token)
	return req, nil
}

// get sends an authenticated GET. On 401 the cached token is dropped and the
// call is retried once with a fresh token.
func (n *Numista) get(ctx context.Context, result any, path string, prepare func(*resty.Request)) error {
	for attempt := 0; ; attempt++ {
		req, err := n.authed(ctx, result)
		if err != nil {
			return err
		}
		prepare(req)
		res, err := req.Get(path)
		if err == nil && res.StatusCode() == http.StatusUnauthorized && attempt == 0 {
			if err := n.tokens.Invalidate(ctx, n.tokenKey()); err != nil {
				return fmt.Errorf("%w: invalidate oauth token: %v", ErrUnavailable, err)
			}
			continue
		}
		_, err = handleError(res, err)
		return err
	}
}

type numistaType struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	Category string `json:"category"`
	Issuer   struct {
		Code string `json:"code"`
		Name string `json:"name"`
	} `json:"issuer"`
	MinYear int `json:"min_year"`
	MaxYear int `json:"max_year"`
}

type numistaSearchResponse struct {
	Count int           `json:"count"`
	Types []numistaType `json:"types"`
}

type numistaIssue struct {
	ID            int64 `json:"id"`
	Year          int   `json:"year"`
	GregorianYear int   `json:"gregorian_year"`
	Mintage       int64 `json:"mintage"`
}

type numistaPrices struct {
	Currency string `json:"currency"`
	Prices   []struct {
		Grade string  `json:"grade"`
		Price float64 `json:"price"`
	} `json:"prices"`
}

func (n *Numista) Lookup(ctx context.Context, q Query) (*Data, error) {
	if n.apiKey == "" {
		return nil, fmt.Errorf("%w: no api key", ErrUnavailable)
	}
	search := q.ItemName
	if catalog, ok := q.Identifier("catalog_number"); ok {
		search = catalog
	}
	if strings.TrimSpace(search) == "" {
		return nil, fmt.Errorf("%w: nothing to search for", ErrUnavailable)
	}

	found := &numistaSearchResponse{}
	err := n.get(ctx, found, "/types", func(r *resty.Request) {
		r.SetQueryParams(map[string]string{"q": search, "count": "5", "lang": "en"})
	})
	if err != nil {
		return nil, err
	}
	if len(found.Types) == 0 {
		return nil, fmt.Errorf("%w: numista %q", ErrNotFound, search)
	}
	t := found.Types[0]

	var issues []numistaIssue
	err = n.get(ctx, &issues, "/types/{typeID}/issues", func(r *resty.Request) {
		r.SetPathParam("typeID", strconv.FormatInt(t.ID, 10))
	})
	if err != nil {
		return nil, err
	}

	data := &Data{
		Source:        n.Name(),
		Verified:      true,
		CatalogNumber: "N#" + strconv.FormatInt(t.ID, 10),
		LastUpdated:   time.Now(),
		ItemDetails: map[string]any{
			"title":    t.Title,
			"issuer":   t.Issuer.Name,
			"category": t.Category,
			"minYear":  t.MinYear,
			"maxYear":  t.MaxYear,
		},
	}

	issue, ok := pickIssue(issues, q.ItemName)
	if ok {
		prices := &numistaPrices{}
		err = n.get(ctx, prices, "/types/{typeID}/issues/{issueID}/prices", func(r *resty.Request) {
			r.SetPathParams(map[string]string{
				"typeID":  strconv.FormatInt(t.ID, 10),
				"issueID": strconv.FormatInt(issue.ID, 10),
			}).SetQueryParam("currency", n.currency)
		})
		if err != nil {
			return nil, err
		}
		data.MarketValue, data.SampleSize = gradePrices(prices)
		data.ItemDetails["year"] = issue.GregorianYear
		data.ItemDetails["mintage"] = issue.Mintage
	}

	critical := []bool{t.Title != "", ok, !data.MarketValue.IsZero()}
	optional := []bool{t.Issuer.Name != "", t.MinYear > 0, ok && issue.Mintage > 0}
	data.Confidence = Confidence(critical, optional, data.SampleSize)

	return data, nil
}

// pickIssue prefers the issue whose year appears in the item name.
func pickIssue(issues []numistaIssue, itemName string) (numistaIssue, bool) {
	if len(issues) == 0 {
		return numistaIssue{}, false
	}
	if m := yearRe.FindString(itemName); m != "" {
		year, _ := strconv.Atoi(m)
		for _, is := range issues {
			if is.GregorianYear == year || is.Year == year {
				return is, true
			}
		}
	}
	return issues[0], true
}

// gradePrices maps Numista grades onto conditions.
func gradePrices(p *numistaPrices) (ConditionPrices, int) {
	var out ConditionPrices
	var all []float64
	for _, gp := range p.Prices {
		if gp.Price <= 0 {
			continue
		}
		all = append(all, gp.Price)
		switch strings.ToLower(gp.Grade) {
		case "g":
			out.Poor = gp.Price
		case "vg":
			out.Fair = gp.Price
		case "f":
			out.Good = gp.Price
		case "vf":
			out.Excellent = gp.Price
		case "xf":
			out.NearMint = gp.Price
		case "au":
			if out.NearMint == 0 {
				out.NearMint = gp.Price
			}
		case "unc":
			out.Mint = gp.Price
		}
	}
	out.Average = stats.Median(all)
	return out, len(all)
}

// Health requests a fresh OAuth token, bypassing the cache, which exercises
// authentication without a catalogue query.
func (n *Numista) Health(ctx context.Context) Health {
	start := time.Now()
	_, err := n.fetchToken(ctx)
	return healthFrom(n.Name(), start, err)
}
