package storage

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "appraiser.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestIdentificationCache(t *testing.T) {
	store := newTestStore(t)

	got, err := store.GetIdentification("missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	err = store.SetIdentification("abc", &Identification{
		ItemName:    "Pokemon Charizard",
		Category:    "trading cards",
		Provider:    "gemini",
		Identifiers: map[string]string{"card_number": "4/102"},
	})
	require.NoError(t, err)

	got, err = store.GetIdentification("abc")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Pokemon Charizard", got.ItemName)
	assert.Equal(t, "trading cards", got.Category)
	assert.Equal(t, "", got.Condition)
	assert.Equal(t, "gemini", got.Provider)
	assert.Equal(t, "4/102", got.Identifiers["card_number"])

	// Upsert replaces the entry
	err = store.SetIdentification("abc", &Identification{ItemName: "Charizard Base Set", Provider: "gpt"})
	require.NoError(t, err)
	got, err = store.GetIdentification("abc")
	require.NoError(t, err)
	assert.Equal(t, "Charizard Base Set", got.ItemName)
	assert.Equal(t, "gpt", got.Provider)
}

func TestValuationLog(t *testing.T) {
	store := newTestStore(t)

	base := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	for i, name := range []string{"first", "second", "third"} {
		err := store.SaveValuation(&Valuation{
			RequestID:      name,
			ItemName:       name,
			Decision:       "BUY",
			EstimatedValue: float64(10 * (i + 1)),
			FinalPrice:     float64(11 * (i + 1)),
			Confidence:     70 + i,
			Quality:        "MODERATE",
			Method:         "ai_authority_blend",
			VoteCount:      3,
			CostUSD:        0.01,
			Report:         json.RawMessage(`{"ok":true}`),
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	recent, err := store.RecentValuations(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "third", recent[0].RequestID)
	assert.Equal(t, "second", recent[1].RequestID)
	assert.Equal(t, 72, recent[0].Confidence)
	assert.Equal(t, 33.0, recent[0].FinalPrice)
	assert.JSONEq(t, `{"ok":true}`, string(recent[0].Report))
}

func TestSaveValuation_DuplicateRequestID(t *testing.T) {
	store := newTestStore(t)

	v := &Valuation{RequestID: "same", ItemName: "x", Decision: "SELL", Quality: "LOW"}
	require.NoError(t, store.SaveValuation(v))
	assert.Error(t, store.SaveValuation(v))
}

func TestNewSQLiteStore_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "appraiser.db")
	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, store.SaveValuation(&Valuation{RequestID: "r1", ItemName: "Lamp", Decision: "BUY", Quality: "GOOD", CostUSD: 0.03}))
	require.NoError(t, store.Close())

	var reopened Store
	reopened, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.RecentValuations(10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "r1", got[0].RequestID)
	assert.Equal(t, 0.03, got[0].CostUSD)
}
