package commission

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{Name: "platform_settings_cache_hits_total"})
	cacheMiss = promauto.NewCounter(prometheus.CounterOpts{Name: "platform_settings_cache_miss_total"})
)

// settingsCache holds the last loaded settings; loads are collapsed with singleflight.
type settingsCache struct {
	mu       sync.RWMutex
	item     *PlatformSettings
	loadedAt time.Time
	ttl      time.Duration
	group    singleflight.Group
}

func newSettingsCache(ttl time.Duration) *settingsCache {
	return &settingsCache{ttl: ttl}
}

func (c *settingsCache) get() (*PlatformSettings, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.item == nil || (c.ttl > 0 && time.Since(c.loadedAt) > c.ttl) {
		cacheMiss.Inc()
		return nil, false
	}
	cacheHits.Inc()
	cp := *c.item
	return &cp, true
}

func (c *settingsCache) set(s *PlatformSettings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *s
	c.item = &cp
	c.loadedAt = time.Now()
}

func (c *settingsCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.item = nil
}
