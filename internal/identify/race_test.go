package identify

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raine/item-appraiser/internal/llm"
	"github.com/raine/item-appraiser/internal/telemetry"
)

func delayedProvider(id string, delay time.Duration, text string, err error) llm.Provider {
	return llm.FuncProvider{
		Info: llm.Profile{ID: id, SupportsVision: true},
		Fn: func(ctx context.Context, req llm.Request) (*llm.Completion, error) {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			if err != nil {
				return nil, err
			}
			return &llm.Completion{Text: text}, nil
		},
	}
}

func TestRace_FirstValidResponderWins(t *testing.T) {
	rec := &telemetry.Recorder{}
	race := NewRace([]llm.Provider{
		delayedProvider("garbage", 10*time.Millisecond, `{"itemName": "Gemini Analysis"}`, nil),
		delayedProvider("broken", 20*time.Millisecond, "not json at all", nil),
		delayedProvider("fast", 60*time.Millisecond, `{"itemName": "Google Pixel 7 Phone", "category": "electronics", "condition": "good", "confidence": 0.9, "estimatedValue": 240, "decision": "BUY"}`, nil),
		delayedProvider("slow", 3*time.Second, `{"itemName": "Pixel 7"}`, nil),
	}, rec, Config{StageTimeout: 5 * time.Second})

	start := time.Now()
	result := race.Identify(context.Background(), Input{Images: [][]byte{{1}}, NameHint: "phone"})
	elapsed := time.Since(start)

	assert.Less(t, elapsed, time.Second)
	assert.Equal(t, "fast", result.PrimaryProvider)
	assert.Equal(t, "Google Pixel 7 Phone", result.ItemName)
	assert.Equal(t, "electronics", result.Category)
	assert.Equal(t, "good", result.Condition)
	assert.False(t, result.Fallback)
	require.Len(t, result.Votes, 1)
	assert.Equal(t, "fast", result.Votes[0].ProviderID)
	assert.InDelta(t, 0.9, result.Votes[0].Confidence, 1e-9)
	assert.Equal(t, llm.DecisionBuy, result.Votes[0].Decision)
	assert.Equal(t, 240.0, result.Votes[0].EstimatedValue)

	assert.Equal(t, 1, rec.Count(EventGarbageName))
	assert.Equal(t, 1, rec.Count(EventProviderFailed))
	assert.Equal(t, 1, rec.Count(EventWon))
}

func TestRace_UnpricedAnswerCastsNoVote(t *testing.T) {
	race := NewRace([]llm.Provider{
		delayedProvider("gemini", time.Millisecond, `{"itemName": "Google Pixel 7 Phone", "category": "electronics"}`, nil),
	}, nil, Config{StageTimeout: time.Second})

	result := race.Identify(context.Background(), Input{Images: [][]byte{{1}}})

	assert.Equal(t, "gemini", result.PrimaryProvider)
	assert.Equal(t, "Google Pixel 7 Phone", result.ItemName)
	assert.Empty(t, result.Votes)
}

func TestRace_AllGarbageFallsBackToHints(t *testing.T) {
	rec := &telemetry.Recorder{}
	race := NewRace([]llm.Provider{
		delayedProvider("a", 5*time.Millisecond, `{"itemName": "Unknown Item"}`, nil),
		delayedProvider("b", 10*time.Millisecond, "", errors.New("boom")),
	}, rec, Config{StageTimeout: 2 * time.Second})

	start := time.Now()
	result := race.Identify(context.Background(), Input{NameHint: "Pikachu 58/102", CategoryHint: "cards"})

	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, result.Fallback)
	assert.Equal(t, NoProvider, result.PrimaryProvider)
	assert.Equal(t, "Pikachu 58/102", result.ItemName)
	assert.Equal(t, "cards", result.Category)
	assert.Equal(t, "58/102", result.Identifiers[KeyCardNumber])
	assert.Empty(t, result.Votes)
	assert.Equal(t, 1, rec.Count(EventExhausted))
}

func TestRace_StageTimeout(t *testing.T) {
	rec := &telemetry.Recorder{}
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	hung := llm.FuncProvider{
		Info: llm.Profile{ID: "hung", SupportsVision: true},
		Fn: func(ctx context.Context, req llm.Request) (*llm.Completion, error) {
			<-block
			return nil, errors.New("released")
		},
	}
	race := NewRace([]llm.Provider{hung}, rec, Config{StageTimeout: 10 * time.Second})

	start := time.Now()
	result := race.Identify(context.Background(), Input{NameHint: "phone", Timeout: 100 * time.Millisecond})

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, result.Fallback)
	assert.Equal(t, NoProvider, result.PrimaryProvider)
	assert.Equal(t, "phone", result.ItemName)
	assert.Equal(t, 1, rec.Count(EventTimeout))
}

func TestRace_NoProviders(t *testing.T) {
	rec := &telemetry.Recorder{}
	textOnly := llm.FuncProvider{Info: llm.Profile{ID: "text"}, Fn: func(ctx context.Context, req llm.Request) (*llm.Completion, error) {
		t.Fatal("text-only provider must not be raced")
		return nil, nil
	}}

	for _, providers := range [][]llm.Provider{nil, {textOnly}} {
		result := NewRace(providers, rec, Config{}).Identify(context.Background(), Input{})
		assert.True(t, result.Fallback)
		assert.Equal(t, NoProvider, result.PrimaryProvider)
		assert.Equal(t, "Unknown item", result.ItemName)
	}
	assert.Equal(t, 2, rec.Count(EventNoProviders))
}

func TestRace_LateCompletionsAreSuppressed(t *testing.T) {
	rec := &telemetry.Recorder{}
	var lateFinished atomic.Bool

	// Ignores cancellation, the way a transport that cannot be interrupted would.
	stubborn := llm.FuncProvider{
		Info: llm.Profile{ID: "stubborn", SupportsVision: true},
		Fn: func(ctx context.Context, req llm.Request) (*llm.Completion, error) {
			time.Sleep(150 * time.Millisecond)
			lateFinished.Store(true)
			return &llm.Completion{Text: `{"itemName": "Late Answer Camera"}`}, nil
		},
	}
	failing := llm.FuncProvider{
		Info: llm.Profile{ID: "failing", SupportsVision: true},
		Fn: func(ctx context.Context, req llm.Request) (*llm.Completion, error) {
			time.Sleep(150 * time.Millisecond)
			return nil, errors.New("late failure")
		},
	}

	race := NewRace([]llm.Provider{
		delayedProvider("winner", 10*time.Millisecond, `{"itemName": "Canon AE-1 Camera"}`, nil),
		stubborn,
		failing,
	}, rec, Config{StageTimeout: time.Second})

	result := race.Identify(context.Background(), Input{})
	require.Equal(t, "winner", result.PrimaryProvider)
	before := len(rec.Events())

	require.Eventually(t, lateFinished.Load, time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, before, len(rec.Events()))
	for _, e := range rec.Events() {
		assert.NotEqual(t, "stubborn", e.Provider)
		assert.NotEqual(t, "failing", e.Provider)
	}
	assert.Equal(t, "Canon AE-1 Camera", result.ItemName)
}

func TestRace_ExtractsIdentifiersFromWinner(t *testing.T) {
	race := NewRace([]llm.Provider{
		delayedProvider("gemini", time.Millisecond, `{"itemName": "Charizard Holo 4/102", "identifiers": {"catalog_number": "BS-4"}}`, nil),
	}, nil, Config{})

	result := race.Identify(context.Background(), Input{})

	assert.Equal(t, "4/102", result.Identifiers[KeyCardNumber])
	assert.Equal(t, "BS-4", result.Identifiers[KeyCatalogNumber])
}

func TestRace_EventsAreScoped(t *testing.T) {
	rec := &telemetry.Recorder{}
	race := NewRace([]llm.Provider{
		delayedProvider("gemini", time.Millisecond, `{"itemName": "Nikon F3"}`, nil),
	}, telemetry.Scoped{Next: rec, RequestID: "req-1"}, Config{})

	race.Identify(context.Background(), Input{})

	events := rec.Events()
	require.NotEmpty(t, events)
	for _, e := range events {
		assert.Equal(t, "req-1", e.RequestID)
		assert.Equal(t, telemetry.StageIdentify, e.Stage)
	}
}
