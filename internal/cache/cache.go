// Package cache stores completed translations keyed by language pair and
// source text, so repeated requests skip the model entirely.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Cache is a lookup table for finished translations. Implementations must
// be safe for concurrent use by all workers. A miss is not an error; Get
// reports it through the bool.
type Cache interface {
	Get(ctx context.Context, pair, text string) (string, bool)
	Put(ctx context.Context, pair, text, translation string)
}

// Key builds the cache key for a pair and source text. The text is hashed
// so keys stay bounded regardless of input size.
func Key(pair, text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("translation:%s:%s", pair, hex.EncodeToString(sum[:]))
}

// Nop is the disabled cache.
type Nop struct{}

func (Nop) Get(context.Context, string, string) (string, bool) { return "", false }
func (Nop) Put(context.Context, string, string, string)        {}
