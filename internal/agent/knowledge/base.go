package knowledge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

// Searcher is the retrieval surface used by the tools.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]Snippet, error)
}

// Base caches search results of an underlying Searcher per (query, k).
type Base struct {
	searcher Searcher
	cache    *cache.Cache
}

func NewBase(searcher Searcher, ttl time.Duration) *Base {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Base{
		searcher: searcher,
		cache:    cache.New(ttl, 2*ttl),
	}
}

func (b *Base) Search(ctx context.Context, query string, k int) ([]Snippet, error) {
	key := fmt.Sprintf("%d:%s", k, strings.TrimSpace(query))
	if x, found := b.cache.Get(key); found {
		return x.([]Snippet), nil
	}

	snippets, err := b.searcher.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}
	b.cache.Set(key, snippets, cache.DefaultExpiration)
	return snippets, nil
}

// Flush drops every cached result.
func (b *Base) Flush() {
	b.cache.Flush()
}
