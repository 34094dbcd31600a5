package table

import lru "github.com/hashicorp/golang-lru/v2"

// evictionTracker recency-orders a table's live raw ids. touch moves a raw
// id to the most-recently-used end; the table calls it on Allocate and
// whenever the caller reports the declared LRU-key field changed. When
// evicting, the table walks the ids oldest first and picks the one with
// the minimum LRU-key, so recency only breaks ties.
type evictionTracker struct {
	cache *lru.Cache[uint32, struct{}]
}

func newEvictionTracker(capacity int) *evictionTracker {
	// capacity 0 would make the underlying cache reject all entries; a
	// table's capacity is always >= 1 when eviction is enabled.
	c, _ := lru.New[uint32, struct{}](capacity)
	return &evictionTracker{cache: c}
}

func (e *evictionTracker) touch(rawID uint32) {
	e.cache.Add(rawID, struct{}{})
}

func (e *evictionTracker) forget(rawID uint32) {
	e.cache.Remove(rawID)
}

// oldest returns the least-recently-touched raw id, or (0, false) if the
// tracker holds nothing.
func (e *evictionTracker) oldest() (uint32, bool) {
	k, _, ok := e.cache.GetOldest()
	return k, ok
}
