package market

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToriSampler_Sample(t *testing.T) {
	var gwKey, query, rawQuery string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/SEARCH_ID_BAP_COMMON", r.URL.Path)
		assert.Equal(t, "SEARCH-QUEST", r.Header.Get("finn-gw-service"))
		gwKey = r.Header.Get("finn-gw-key")
		query = r.URL.Query().Get("q")
		rawQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"docs": [
			{"id": "1", "heading": "Switch", "price": {"amount": 150}},
			{"id": "2", "heading": "Switch OLED", "price": {"amount": 220}},
			{"id": "3", "heading": "Switch lite"},
			{"id": "4", "heading": "Switch", "price": {"amount": 0}},
			{"id": "5", "heading": "Switch + games", "price": {"amount": 180}}
		]}`))
	}))
	defer ts.Close()

	s := NewToriSampler(ToriConfig{BaseURL: ts.URL})
	sample, err := s.Sample(context.Background(), Query{ItemName: "Nintendo Switch"})

	require.NoError(t, err)
	assert.Equal(t, "tori", sample.Source)
	assert.Equal(t, []float64{150, 220, 180}, sample.Prices)
	assert.Equal(t, "Nintendo Switch", query)
	assert.Equal(t, gatewayKey("GET", "/search/SEARCH_ID_BAP_COMMON?"+rawQuery, "SEARCH-QUEST", nil), gwKey)
}

func TestToriSampler_TooFewListings(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"docs": [{"id": "1", "price": {"amount": 10}}]}`))
	}))
	defer ts.Close()

	_, err := NewToriSampler(ToriConfig{BaseURL: ts.URL}).Sample(context.Background(), Query{ItemName: "rare thing"})

	assert.ErrorIs(t, err, ErrInsufficientSamples)
}

func TestToriSampler_HTTPError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("bad key"))
	}))
	defer ts.Close()

	_, err := NewToriSampler(ToriConfig{BaseURL: ts.URL}).Sample(context.Background(), Query{ItemName: "x"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestGatewayKey(t *testing.T) {
	a := gatewayKey("get", "/search/X?q=1", "SEARCH-QUEST", nil)
	b := gatewayKey("GET", "/search/X?q=1", "SEARCH-QUEST", nil)
	c := gatewayKey("GET", "/search/X?q=2", "SEARCH-QUEST", nil)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 88)
}
