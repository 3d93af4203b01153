package llm

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSuggestionCache(t *testing.T) {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := newSuggestionCache(time.Minute)
	cache.now = func() time.Time { return clock }

	_, found := cache.get("missing")
	assert.False(t, found)

	cache.set("NETFLIX", "subscriptions")
	got, found := cache.get("NETFLIX")
	assert.True(t, found)
	assert.Equal(t, "subscriptions", got)

	clock = clock.Add(2 * time.Minute)
	_, found = cache.get("NETFLIX")
	assert.False(t, found, "entries expire after the TTL")
	assert.Zero(t, cache.size(), "expired entries are dropped on read")
}

func TestSuggestionCache_Bounded(t *testing.T) {
	cache := newSuggestionCache(time.Hour)
	for i := 0; i < maxCacheEntries+10; i++ {
		cache.set(fmt.Sprintf("key-%d", i), "dining")
	}
	assert.LessOrEqual(t, cache.size(), maxCacheEntries)

	got, found := cache.get(fmt.Sprintf("key-%d", maxCacheEntries+9))
	assert.True(t, found, "the newest entry survives a sweep")
	assert.Equal(t, "dining", got)
}
