package aggregator

import (
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/coachpo/wgg/internal/domain/product"
)

// suggestionCache is a best-effort autocomplete cache. Ristretto may refuse an entry under
// memory pressure, which only costs an extra vendor call.
type suggestionCache struct {
	c   *ristretto.Cache
	ttl time.Duration
}

func newSuggestionCache(maxCost int64, ttl time.Duration) (*suggestionCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxCost * 10,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &suggestionCache{c: c, ttl: ttl}, nil
}

func suggestionKey(v product.Vendor, query string) string {
	return string(v) + "\x00" + query
}

func normaliseQuery(query string) string {
	return strings.ToLower(strings.Join(strings.Fields(query), " "))
}

func (s *suggestionCache) get(v product.Vendor, query string) ([]product.Suggestion, bool) {
	raw, ok := s.c.Get(suggestionKey(v, query))
	if !ok {
		return nil, false
	}
	out, ok := raw.([]product.Suggestion)
	if !ok {
		s.c.Del(suggestionKey(v, query))
		return nil, false
	}
	return out, true
}

func (s *suggestionCache) set(v product.Vendor, query string, suggestions []product.Suggestion) {
	s.c.SetWithTTL(suggestionKey(v, query), suggestions, int64(len(suggestions))+1, s.ttl)
	s.c.Wait()
}

func (s *suggestionCache) close() {
	s.c.Close()
}
