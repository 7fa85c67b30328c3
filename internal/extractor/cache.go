package extractor

import (
	"context"
	"fmt"
	"os"
	"sync"
)

// CachedExtractor memoizes successful probes of another extractor. Entries are
// keyed on path, size and modification time so a rewritten file is probed again.
type CachedExtractor struct {
	inner DimensionExtractor
	cache sync.Map
	stats CacheStats
	mutex sync.RWMutex
}

// NewCachedExtractor wraps inner with an in-memory probe cache.
func NewCachedExtractor(inner DimensionExtractor) *CachedExtractor {
	return &CachedExtractor{inner: inner}
}

// Name returns the wrapped backend's name.
func (c *CachedExtractor) Name() string { return c.inner.Name() }

// Available delegates to the wrapped backend.
func (c *CachedExtractor) Available(ctx context.Context) error {
	return c.inner.Available(ctx)
}

// Probe returns a cached VideoInfo when the file is unchanged since the last
// successful probe. Failures are never cached.
func (c *CachedExtractor) Probe(ctx context.Context, path string) (*VideoInfo, error) {
	fileInfo, err := os.Stat(path)
	if err != nil {
		return nil, probeError(path, fmt.Errorf("%w: stat: %v", ErrProbeFailed, err))
	}

	key := c.getCacheKey(path, fileInfo)
	if value, ok := c.cache.Load(key); ok {
		if info, ok := value.(VideoInfo); ok {
			c.incrementCacheHits()
			return &info, nil
		}
	}
	c.incrementCacheMisses()

	info, err := c.inner.Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	c.cache.Store(key, *info)
	return info, nil
}

// ClearCache removes all entries from the cache and resets statistics.
func (c *CachedExtractor) ClearCache() {
	c.cache.Range(func(key, _ interface{}) bool {
		c.cache.Delete(key)
		return true
	})
	c.mutex.Lock()
	c.stats = CacheStats{}
	c.mutex.Unlock()
}

// GetCacheStats returns cache statistics.
func (c *CachedExtractor) GetCacheStats() CacheStats {
	c.mutex.RLock()
	stats := c.stats
	c.mutex.RUnlock()

	size := 0
	c.cache.Range(func(_, _ interface{}) bool {
		size++
		return true
	})
	stats.Size = size
	if stats.TotalQueries > 0 {
		stats.HitRate = float64(stats.Hits) / float64(stats.TotalQueries) * 100
	}
	return stats
}

// Close closes the wrapped backend if it holds resources.
func (c *CachedExtractor) Close() error {
	if closer, ok := c.inner.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

func (c *CachedExtractor) getCacheKey(path string, fileInfo os.FileInfo) string {
	return fmt.Sprintf("%s:%d:%d", path, fileInfo.Size(), fileInfo.ModTime().UnixNano())
}

func (c *CachedExtractor) incrementCacheHits() {
	c.mutex.Lock()
	c.stats.Hits++
	c.stats.TotalQueries++
	c.mutex.Unlock()
}

func (c *CachedExtractor) incrementCacheMisses() {
	c.mutex.Lock()
	c.stats.Misses++
	c.stats.TotalQueries++
	c.mutex.Unlock()
}
