package city

import (
	"fmt"
	"sync/atomic"

	"github.com/hashicorp/golang-lru/v2"

	"github.com/bbernstein/bicyclette/backend-go/internal/models"
)

const DefaultQueryCacheSize = 256

// queryCache memoises StationsWithin results for one snapshot generation.
type queryCache struct {
	lru    *lru.Cache[string, []models.Station]
	hits   atomic.Uint64
	misses atomic.Uint64
}

func newQueryCache(size int) (*queryCache, error) {
	if size <= 0 {
		size = DefaultQueryCacheSize
	}
	c, err := lru.New[string, []models.Station](size)
	if err != nil {
		return nil, fmt.Errorf("creating LRU cache: %w", err)
	}
	return &queryCache{lru: c}, nil
}

// getCacheKey includes the generation so a result computed against an older
// snapshot is never served for a newer one.
func getCacheKey(generation uint64, b models.Bounds) string {
	return fmt.Sprintf("%d:%v:%f:%f:%f:%f", generation, b.NonEmpty,
		b.MinLatitude, b.MinLongitude, b.MaxLatitude, b.MaxLongitude)
}

func (c *queryCache) get(key string) ([]models.Station, bool) {
	if stations, ok := c.lru.Get(key); ok {
		c.hits.Add(1)
		return stations, true
	}
	c.misses.Add(1)
	return nil, false
}

func (c *queryCache) add(key string, stations []models.Station) {
	c.lru.Add(key, stations)
}

func (c *queryCache) purge() {
	c.lru.Purge()
}

func (c *queryCache) stats() map[string]uint64 {
	return map[string]uint64{
		"lru_hits":   c.hits.Load(),
		"lru_misses": c.misses.Load(),
		"lru_size":   uint64(c.lru.Len()),
	}
}
