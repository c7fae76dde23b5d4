package record

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultNormalizerCacheSize bounds the token cache of a worker.
const DefaultNormalizerCacheSize = 100_000

type cleaned struct {
	token string
	ok    bool
}

// Normalizer lowercases tokens and rejects anything that is not purely
// ASCII letters. Results are memoized in an LRU cache since the same raw
// tokens recur on nearly every page.
type Normalizer struct {
	cache *lru.Cache[string, cleaned]
}

// NewNormalizer returns a normalizer caching up to size tokens.
// A non-positive size uses DefaultNormalizerCacheSize.
func NewNormalizer(size int) *Normalizer {
	if size <= 0 {
		size = DefaultNormalizerCacheSize
	}
	cache, err := lru.New[string, cleaned](size)
	if err != nil {
		// lru.New only fails for non-positive sizes.
		panic(err)
	}
	return &Normalizer{cache: cache}
}

// Clean returns the lowercased token and whether it is kept.
// A nil Normalizer cleans without caching.
func (n *Normalizer) Clean(raw string) (string, bool) {
	if n == nil {
		return clean(raw)
	}
	if c, ok := n.cache.Get(raw); ok {
		return c.token, c.ok
	}
	tok, ok := clean(raw)
	n.cache.Add(raw, cleaned{token: tok, ok: ok})
	return tok, ok
}

func clean(raw string) (string, bool) {
	if raw == "" {
		return "", false
	}
	for i := 0; i < len(raw); i++ {
		b := raw[i]
		if (b < 'a' || b > 'z') && (b < 'A' || b > 'Z') {
			return "", false
		}
	}
	return strings.ToLower(raw), true
}
