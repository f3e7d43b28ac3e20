package cache

import (
	"context"
	"sync"
	"time"
)

// entry はメモリキャッシュの1エントリ。
type entry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache はプロセス内で完結するCache実装。
// Redisを設定しない単一プロセス構成とテストで使う。
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

// NewMemoryCache はMemoryCacheを生成する。
func NewMemoryCache() *MemoryCache {
	return NewMemoryCacheWithClock(time.Now)
}

// NewMemoryCacheWithClock は時刻関数を差し替えたMemoryCacheを生成する。
func NewMemoryCacheWithClock(now func() time.Time) *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]entry),
		now:     now,
	}
}

// Get はキーに対応する値を返す。期限切れのエントリは削除する。
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(e.expiresAt) {
		c.mu.Lock()
		if cur, ok := c.entries[key]; ok && cur.expiresAt.Equal(e.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set は値をttlの期間だけ保持する。ttlが0以下の場合は何もしない。
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	v := make([]byte, len(value))
	copy(v, value)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: v, expiresAt: c.now().Add(ttl)}
	return nil
}

// Len は保持しているエントリ数を返す。期限切れで未削除のものも含む。
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// compile-time interface check
var _ Cache = (*MemoryCache)(nil)
