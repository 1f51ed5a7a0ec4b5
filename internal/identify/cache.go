package identify

import (
	"context"
	"encoding/binary"
	"encoding/hex"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/blake2b"

	"github.com/raine/item-appraiser/internal/storage"
)

// CacheStore persists identifications by image fingerprint.
type CacheStore interface {
	GetIdentification(fingerprint string) (*storage.Identification, error)
	SetIdentification(fingerprint string, entry *storage.Identification) error
}

// CachedIdentifier wraps an Identifier with a persistent cache keyed by the
// images and hints. Fallback results are never cached.
type CachedIdentifier struct {
	inner Identifier
	store CacheStore
}

// NewCachedIdentifier creates a cached identifier.
func NewCachedIdentifier(inner Identifier, store CacheStore) *CachedIdentifier {
	return &CachedIdentifier{inner: inner, store: store}
}

// Fingerprint hashes images and hints with BLAKE2b-256. Each part is length
// prefixed so [A,B] and [AB] differ.
func Fingerprint(in Input) string {
	h, _ := blake2b.New256(nil)
	write := func(b []byte) {
		binary.Write(h, binary.LittleEndian, int64(len(b)))
		h.Write(b)
	}
	for _, img := range in.Images {
		write(img)
	}
	write([]byte(in.NameHint))
	write([]byte(in.CategoryHint))
	return hex.EncodeToString(h.Sum(nil))
}

func (c *CachedIdentifier) Identify(ctx context.Context, in Input) Result {
	key := Fingerprint(in)

	if c.store != nil {
		cached, err := c.store.GetIdentification(key)
		if err != nil {
			log.Warn().Err(err).Msg("failed to check identification cache")
		} else if cached != nil {
			log.Debug().Str("fingerprint", key[:16]).Msg("identification cache hit")
			return Result{
				ItemName:        cached.ItemName,
				Category:        cached.Category,
				Condition:       cached.Condition,
				Identifiers:     Identifiers(cached.Identifiers),
				Description:     cached.Description,
				PrimaryProvider: cached.Provider,
				Cached:          true,
			}
		}
	}

	result := c.inner.Identify(ctx, in)

	if c.store != nil && !result.Fallback {
		entry := &storage.Identification{
			ItemName:    result.ItemName,
			Category:    result.Category,
			Condition:   result.Condition,
			Description: result.Description,
			Provider:    result.PrimaryProvider,
			Identifiers: result.Identifiers,
		}
		if err := c.store.SetIdentification(key, entry); err != nil {
			log.Warn().Err(err).Msg("failed to cache identification")
		} else {
			log.Debug().Str("fingerprint", key[:16]).Msg("cached identification")
		}
	}

	return result
}
