package cache

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"
)

// LRUCache 分片LRU缓存，容量按条目数计算
type LRUCache struct {
	shards []*shard
	config *Config
	now    func() time.Time

	running int32
	stopCh  chan struct{}
	wg      sync.WaitGroup

	hits        int64
	misses      int64
	evictions   int64
	expirations int64
}

// NewLRUCache 创建新的LRU缓存
func NewLRUCache(config *Config) *LRUCache {
	if config == nil {
		config = DefaultConfig()
	}
	if config.ShardCount <= 0 {
		config.ShardCount = 1
	}

	c := &LRUCache{
		shards: make([]*shard, config.ShardCount),
		config: config,
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
	for i := range c.shards {
		c.shards[i] = newShard()
	}
	return c
}

func (c *LRUCache) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%uint32(len(c.shards))]
}

// shardLimit 每个分片的容量上限
func (c *LRUCache) shardLimit() int {
	if c.config.MaxItems <= 0 {
		return 0
	}
	limit := c.config.MaxItems / len(c.shards)
	if limit == 0 {
		limit = 1
	}
	return limit
}

// Get 获取缓存项
func (c *LRUCache) Get(key string) (interface{}, bool) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.items[key]
	if !ok {
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}
	if n.entry.Expired(c.now()) {
		s.order.remove(n)
		delete(s.items, key)
		atomic.AddInt64(&c.expirations, 1)
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}

	n.entry.AccessCount++
	s.order.moveToFront(n)
	atomic.AddInt64(&c.hits, 1)
	return n.entry.Value, true
}

// Set 设置缓存项，ttl为0时使用默认TTL
func (c *LRUCache) Set(key string, value interface{}, ttl time.Duration) {
	if ttl == 0 {
		ttl = c.config.DefaultTTL
	}
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = c.now().Add(ttl)
	}

	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if n, ok := s.items[key]; ok {
		n.entry.Value = value
		n.entry.ExpiresAt = expiresAt
		s.order.moveToFront(n)
		return
	}

	n := &node{entry: &Entry{Key: key, Value: value, ExpiresAt: expiresAt}}
	s.items[key] = n
	s.order.pushFront(n)

	limit := c.shardLimit()
	for limit > 0 && s.order.size > limit {
		oldest := s.order.back()
		s.order.remove(oldest)
		delete(s.items, oldest.entry.Key)
		atomic.AddInt64(&c.evictions, 1)
	}
}

// Delete 删除缓存项
func (c *LRUCache) Delete(key string) bool {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.items[key]
	if !ok {
		return false
	}
	s.order.remove(n)
	delete(s.items, key)
	return true
}

// Clear 清空所有缓存
func (c *LRUCache) Clear() {
	for _, s := range c.shards {
		s.mu.Lock()
		s.items = make(map[string]*node)
		s.order = newLRUList()
		s.mu.Unlock()
	}
}

// Len 获取缓存项数量
func (c *LRUCache) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.Lock()
		total += len(s.items)
		s.mu.Unlock()
	}
	return total
}

// Stats 获取统计信息
func (c *LRUCache) Stats() Stats {
	stats := Stats{
		Items:       c.Len(),
		MaxItems:    c.config.MaxItems,
		Hits:        atomic.LoadInt64(&c.hits),
		Misses:      atomic.LoadInt64(&c.misses),
		Evictions:   atomic.LoadInt64(&c.evictions),
		Expirations: atomic.LoadInt64(&c.expirations),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

// EvictExpired 清理过期项，返回清理数量
func (c *LRUCache) EvictExpired() int {
	now := c.now()
	expired := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for key, n := range s.items {
			if n.entry.Expired(now) {
				s.order.remove(n)
				delete(s.items, key)
				expired++
			}
		}
		s.mu.Unlock()
	}
	atomic.AddInt64(&c.expirations, int64(expired))
	return expired
}

// Start 启动后台清理协程
func (c *LRUCache) Start() {
	if !atomic.CompareAndSwapInt32(&c.running, 0, 1) {
		return
	}
	c.wg.Add(1)
	go c.cleanupWorker()
}

// Stop 停止后台清理协程
func (c *LRUCache) Stop() {
	if !atomic.CompareAndSwapInt32(&c.running, 1, 0) {
		return
	}
	close(c.stopCh)
	c.wg.Wait()
}

// IsRunning 检查是否正在运行
func (c *LRUCache) IsRunning() bool {
	return atomic.LoadInt32(&c.running) == 1
}

func (c *LRUCache) cleanupWorker() {
	defer c.wg.Done()

	interval := c.config.CleanupInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.EvictExpired()
		case <-c.stopCh:
			return
		}
	}
}
