package identify

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raine/item-appraiser/internal/storage"
)

type memoryStore struct {
	mu      sync.Mutex
	entries map[string]*storage.Identification
}

func (m *memoryStore) GetIdentification(fingerprint string) (*storage.Identification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[fingerprint], nil
}

func (m *memoryStore) SetIdentification(fingerprint string, entry *storage.Identification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries == nil {
		m.entries = map[string]*storage.Identification{}
	}
	m.entries[fingerprint] = entry
	return nil
}

type countingIdentifier struct {
	calls  int
	result Result
}

func (c *countingIdentifier) Identify(ctx context.Context, in Input) Result {
	c.calls++
	return c.result
}

func TestCachedIdentifier(t *testing.T) {
	inner := &countingIdentifier{result: Result{
		ItemName:        "Canon AE-1",
		Category:        "cameras",
		PrimaryProvider: "gemini",
		Identifiers:     Identifiers{KeySetNumber: "1"},
	}}
	cached := NewCachedIdentifier(inner, &memoryStore{})
	in := Input{Images: [][]byte{[]byte("jpeg")}}

	first := cached.Identify(context.Background(), in)
	second := cached.Identify(context.Background(), in)

	assert.Equal(t, 1, inner.calls)
	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
	assert.Equal(t, "Canon AE-1", second.ItemName)
	assert.Equal(t, "gemini", second.PrimaryProvider)
	assert.Equal(t, "1", second.Identifiers[KeySetNumber])
}

func TestCachedIdentifier_SkipsFallbacks(t *testing.T) {
	inner := &countingIdentifier{result: Result{ItemName: "hint", PrimaryProvider: NoProvider, Fallback: true}}
	store := &memoryStore{}
	cached := NewCachedIdentifier(inner, store)

	cached.Identify(context.Background(), Input{NameHint: "hint"})
	cached.Identify(context.Background(), Input{NameHint: "hint"})

	assert.Equal(t, 2, inner.calls)
	assert.Empty(t, store.entries)
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint(Input{Images: [][]byte{[]byte("ab"), []byte("c")}})
	b := Fingerprint(Input{Images: [][]byte{[]byte("a"), []byte("bc")}})
	c := Fingerprint(Input{Images: [][]byte{[]byte("ab"), []byte("c")}, NameHint: "x"})

	require.Len(t, a, 64)
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, a, Fingerprint(Input{Images: [][]byte{[]byte("ab"), []byte("c")}}))
}
