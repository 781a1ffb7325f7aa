// file: internal/providers/cached.go
// version: 1.0.0
// guid: 7b8c9d0e-1f2a-3b4c-5d6e-7f8a9b0c1d2e

package providers

import (
	"context"
	"strings"
	"time"

	"github.com/jdfalk/library-manager/internal/cache"
)

// searchCacheTTL covers one full scan cycle at the default interval plus
// the daily requeue check.
const searchCacheTTL = 12 * time.Hour

// CachedSearcher memoizes a Searcher's answers, misses included. Unresolved
// books are retried across passes and cycles with the same title and
// author; the upstream answer rarely changes within a day.
type CachedSearcher struct {
	inner Searcher
	seen  *cache.Cache[*Candidate]
}

// NewCachedSearcher wraps s with a memoizing layer.
func NewCachedSearcher(s Searcher) *CachedSearcher {
	return &CachedSearcher{inner: s, seen: cache.New[*Candidate](searchCacheTTL)}
}

// Name reports the wrapped provider's name.
func (c *CachedSearcher) Name() string { return c.inner.Name() }

// Search answers from the cache when possible, otherwise queries the
// wrapped provider and remembers the result. Errors are not cached; a
// transient failure should not suppress the next attempt.
func (c *CachedSearcher) Search(ctx context.Context, title, author string, opts SearchOptions) (*Candidate, error) {
	key := searchKey(title, author, opts)
	if hit, ok := c.seen.Get(key); ok {
		return hit, nil
	}
	cand, err := c.inner.Search(ctx, title, author, opts)
	if err != nil {
		return nil, err
	}
	c.seen.Set(key, cand)
	return cand, nil
}

func searchKey(title, author string, opts SearchOptions) string {
	return strings.ToLower(strings.Join([]string{title, author, opts.Language, opts.ISBN}, "\x1f"))
}
