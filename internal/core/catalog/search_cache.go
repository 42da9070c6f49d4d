package catalog

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"woolies-preferences/internal/infrastructure/config"
	"woolies-preferences/internal/pkg/common"

	"go.uber.org/zap"
)

// SearchCache 搜尋結果快取，TTL 到期或容量滿時淘汰最少使用的項目
type SearchCache struct {
	config config.CacheConfig
	mu     sync.Mutex
	store  map[string]cacheEntry
	stats  cacheStats
	done   chan struct{}
	once   sync.Once
	now    func() time.Time
}

// cacheEntry 緩存條目
type cacheEntry struct {
	products    []ProductSnapshot
	expiresAt   time.Time
	lastAccess  time.Time
	accessCount int
}

// cacheStats 緩存統計
type cacheStats struct {
	hits      int64
	misses    int64
	evictions int64
}

// CacheStats 快取統計
type CacheStats struct {
	Size      int     `json:"size"`
	MaxSize   int     `json:"max_size"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	HitRatio  float64 `json:"hit_ratio"`
}

// NewSearchCache 創建搜尋快取，停用時回傳 nil
func NewSearchCache(cfg config.CacheConfig) *SearchCache {
	if !cfg.Enabled {
		common.LogInfo("Search cache disabled")
		return nil
	}

	c := &SearchCache{
		config: cfg,
		store:  make(map[string]cacheEntry),
		done:   make(chan struct{}),
		now:    time.Now,
	}

	// 啟動清理過期緩存的協程
	go c.startCleanup()

	common.LogInfo("搜尋快取已初始化",
		zap.Int("max_size", cfg.MaxSize),
		zap.Duration("ttl", cfg.TTL),
		zap.Duration("cleanup_interval", cfg.CleanupInterval),
	)
	return c
}

// Get 取得快取的搜尋結果
func (c *SearchCache) Get(term string, limit int) ([]ProductSnapshot, bool) {
	key := cacheKey(term, limit)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.store[key]
	if !ok {
		c.stats.misses++
		common.LogCacheMiss("search")
		return nil, false
	}

	now := c.now()
	if now.After(entry.expiresAt) {
		delete(c.store, key)
		c.stats.evictions++
		c.stats.misses++
		common.LogCacheMiss("search")
		return nil, false
	}

	entry.lastAccess = now
	entry.accessCount++
	c.store[key] = entry
	c.stats.hits++
	common.LogCacheHit("search")

	return append([]ProductSnapshot(nil), entry.products...), true
}

// Set 寫入搜尋結果
func (c *SearchCache) Set(term string, limit int, products []ProductSnapshot) {
	key := cacheKey(term, limit)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.store[key]; !exists && len(c.store) >= c.config.MaxSize {
		// 先清理過期項目，仍然滿就淘汰一筆
		if c.cleanup() == 0 {
			c.evictLRU()
		}
	}

	now := c.now()
	c.store[key] = cacheEntry{
		products:   append([]ProductSnapshot(nil), products...),
		expiresAt:  now.Add(c.config.TTL),
		lastAccess: now,
	}
}

// Stats 獲取緩存統計信息
func (c *SearchCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{
		Size:      len(c.store),
		MaxSize:   c.config.MaxSize,
		Hits:      c.stats.hits,
		Misses:    c.stats.misses,
		Evictions: c.stats.evictions,
	}
	if total := c.stats.hits + c.stats.misses; total > 0 {
		stats.HitRatio = float64(c.stats.hits) / float64(total)
	}
	return stats
}

// Close 停止清理協程並清空快取
func (c *SearchCache) Close() error {
	c.once.Do(func() { close(c.done) })

	c.mu.Lock()
	defer c.mu.Unlock()
	c.store = make(map[string]cacheEntry)
	common.LogInfo("搜尋快取已關閉",
		zap.Int64("hits", c.stats.hits),
		zap.Int64("misses", c.stats.misses),
		zap.Int64("evictions", c.stats.evictions),
	)
	return nil
}

func (c *SearchCache) startCleanup() {
	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			c.cleanup()
			c.mu.Unlock()
		case <-c.done:
			return
		}
	}
}

// cleanup 清理過期的緩存，呼叫端需持有鎖
func (c *SearchCache) cleanup() int {
	now := c.now()
	count := 0
	for key, entry := range c.store {
		if now.After(entry.expiresAt) {
			delete(c.store, key)
			count++
		}
	}
	c.stats.evictions += int64(count)
	if count > 0 {
		common.LogDebug("Cleaned up expired search results",
			zap.Int("count", count),
			zap.Int("remaining_size", len(c.store)),
		)
	}
	return count
}

// evictLRU 淘汰最少訪問的項目，呼叫端需持有鎖
func (c *SearchCache) evictLRU() {
	var oldestKey string
	var oldestAccess time.Time
	lowestCount := 0

	for key, entry := range c.store {
		if oldestKey == "" ||
			entry.accessCount < lowestCount ||
			(entry.accessCount == lowestCount && entry.lastAccess.Before(oldestAccess)) {
			oldestKey = key
			oldestAccess = entry.lastAccess
			lowestCount = entry.accessCount
		}
	}

	if oldestKey != "" {
		delete(c.store, oldestKey)
		c.stats.evictions++
	}
}

func cacheKey(term string, limit int) string {
	return fmt.Sprintf("%d:%s", limit, strings.ToLower(strings.Join(strings.Fields(term), " ")))
}
