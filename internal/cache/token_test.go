package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryTokenCache_ReusesUntilExpiry(t *testing.T) {
	c := NewMemoryTokenCache(time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	var fetches int
	fetch := func(ctx context.Context) (Token, error) {
		fetches++
		return Token{Value: "tok", ExpiresAt: now.Add(time.Hour)}, nil
	}

	for i := 0; i < 3; i++ {
		v, err := c.GetOrFetch(context.Background(), "numista", fetch)
		require.NoError(t, err)
		assert.Equal(t, "tok", v)
	}
	assert.Equal(t, 1, fetches)

	// Inside the skew window the token is refreshed
	now = now.Add(59*time.Minute + 30*time.Second)
	_, err := c.GetOrFetch(context.Background(), "numista", fetch)
	require.NoError(t, err)
	assert.Equal(t, 2, fetches)
}

func TestMemoryTokenCache_ConcurrentMissesShareFetch(t *testing.T) {
	c := NewMemoryTokenCache(0)
	var fetches atomic.Int32
	release := make(chan struct{})
	fetch := func(ctx context.Context) (Token, error) {
		fetches.Add(1)
		<-release
		return Token{Value: "tok", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.GetOrFetch(context.Background(), "k", fetch)
			assert.NoError(t, err)
			assert.Equal(t, "tok", v)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), fetches.Load())
}

func TestMemoryTokenCache_Errors(t *testing.T) {
	c := NewMemoryTokenCache(0)
	boom := errors.New("boom")

	_, err := c.GetOrFetch(context.Background(), "k", func(ctx context.Context) (Token, error) {
		return Token{}, boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = c.GetOrFetch(context.Background(), "k", func(ctx context.Context) (Token, error) {
		return Token{ExpiresAt: time.Now().Add(time.Hour)}, nil
	})
	assert.ErrorIs(t, err, ErrEmptyToken)
}

func TestMemoryTokenCache_Invalidate(t *testing.T) {
	c := NewMemoryTokenCache(0)
	var fetches int
	fetch := func(ctx context.Context) (Token, error) {
		fetches++
		return Token{Value: "tok", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}

	c.GetOrFetch(context.Background(), "k", fetch)
	require.NoError(t, c.Invalidate(context.Background(), "k"))
	c.GetOrFetch(context.Background(), "k", fetch)

	assert.Equal(t, 2, fetches)
}

func TestRedisTokenCache_FallsBackToFetchWhenRedisIsDown(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	c := NewRedisTokenCacheWithClient(rdb, "")
	defer c.Close()

	v, err := c.GetOrFetch(context.Background(), "k", func(ctx context.Context) (Token, error) {
		return Token{Value: "direct", ExpiresAt: time.Now().Add(time.Hour)}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, "direct", v)
}
