package cache

import (
	"sync"
	"time"
)

// Entry 缓存项
type Entry struct {
	Key         string
	Value       interface{}
	ExpiresAt   time.Time
	AccessCount int64
}

// Expired 检查是否过期，零值表示永不过期
func (e *Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// Stats 缓存统计信息
type Stats struct {
	Items       int     `json:"items"`
	MaxItems    int     `json:"max_items"`
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
	Evictions   int64   `json:"evictions"`
	Expirations int64   `json:"expirations"`
}

// Config 缓存配置
type Config struct {
	MaxItems        int           `json:"max_items"`        // 最大条目数
	DefaultTTL      time.Duration `json:"default_ttl"`      // 0 表示不过期
	CleanupInterval time.Duration `json:"cleanup_interval"` // 后台清理间隔
	ShardCount      int           `json:"shard_count"`      // 分片数量
}

// DefaultConfig 默认缓存配置
func DefaultConfig() *Config {
	return &Config{
		MaxItems:        1024,
		DefaultTTL:      0,
		CleanupInterval: 5 * time.Minute,
		ShardCount:      8,
	}
}

// node LRU链表节点
type node struct {
	entry *Entry
	prev  *node
	next  *node
}

// lruList 带哨兵的双向链表，头部为最近使用
type lruList struct {
	head *node
	tail *node
	size int
}

func newLRUList() *lruList {
	head, tail := &node{}, &node{}
	head.next = tail
	tail.prev = head
	return &lruList{head: head, tail: tail}
}

func (l *lruList) pushFront(n *node) {
	n.prev = l.head
	n.next = l.head.next
	l.head.next.prev = n
	l.head.next = n
	l.size++
}

func (l *lruList) remove(n *node) {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev, n.next = nil, nil
	l.size--
}

func (l *lruList) moveToFront(n *node) {
	l.remove(n)
	l.pushFront(n)
}

func (l *lruList) back() *node {
	if l.size == 0 {
		return nil
	}
	return l.tail.prev
}

// shard 缓存分片
type shard struct {
	mu    sync.Mutex
	items map[string]*node
	order *lruList
}

func newShard() *shard {
	return &shard{
		items: make(map[string]*node),
		order: newLRUList(),
	}
}
