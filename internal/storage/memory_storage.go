package storage

import (
	"context"
	"sync"

	"github.com/charging-platform/charging-station-controller/internal/domain/ocpp201"
)

// MemoryStorage 进程内存储，未配置Redis时使用
type MemoryStorage struct {
	mu sync.RWMutex

	queueOrder []string
	queue      map[string]StoredMessage
	authCache  map[string]AuthCacheEntry
	localList  map[string]ocpp201.IdTokenInfo
	version    int
	variables  map[string]string
}

// NewMemoryStorage 创建内存存储
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		queue:     make(map[string]StoredMessage),
		authCache: make(map[string]AuthCacheEntry),
		localList: make(map[string]ocpp201.IdTokenInfo),
		variables: make(map[string]string),
	}
}

func (m *MemoryStorage) SaveQueuedMessage(_ context.Context, msg StoredMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.queue[msg.QueueID]; !exists {
		m.queueOrder = append(m.queueOrder, msg.QueueID)
	}
	m.queue[msg.QueueID] = msg
	return nil
}

func (m *MemoryStorage) DeleteQueuedMessage(_ context.Context, queueID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.queue, queueID)
	for i, id := range m.queueOrder {
		if id == queueID {
			m.queueOrder = append(m.queueOrder[:i], m.queueOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MemoryStorage) LoadQueuedMessages(_ context.Context) ([]StoredMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	messages := make([]StoredMessage, 0, len(m.queueOrder))
	for _, id := range m.queueOrder {
		messages = append(messages, m.queue[id])
	}
	return messages, nil
}

func (m *MemoryStorage) ClearQueuedMessages(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queueOrder = nil
	m.queue = make(map[string]StoredMessage)
	return nil
}

func (m *MemoryStorage) GetAuthCacheEntry(_ context.Context, hash string) (*AuthCacheEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.authCache[hash]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (m *MemoryStorage) PutAuthCacheEntry(_ context.Context, hash string, entry AuthCacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authCache[hash] = entry
	return nil
}

func (m *MemoryStorage) DeleteAuthCacheEntry(_ context.Context, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.authCache, hash)
	return nil
}

func (m *MemoryStorage) ListAuthCacheEntries(_ context.Context) (map[string]AuthCacheEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make(map[string]AuthCacheEntry, len(m.authCache))
	for hash, entry := range m.authCache {
		entries[hash] = entry
	}
	return entries, nil
}

func (m *MemoryStorage) ClearAuthCache(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authCache = make(map[string]AuthCacheEntry)
	return nil
}

func (m *MemoryStorage) GetLocalListVersion(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version, nil
}

func (m *MemoryStorage) GetLocalListEntry(_ context.Context, hash string) (*ocpp201.IdTokenInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.localList[hash]
	if !ok {
		return nil, nil
	}
	return &info, nil
}

func (m *MemoryStorage) ReplaceLocalList(_ context.Context, version int, entries map[string]ocpp201.IdTokenInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.localList = make(map[string]ocpp201.IdTokenInfo, len(entries))
	for hash, info := range entries {
		m.localList[hash] = info
	}
	m.version = version
	return nil
}

func (m *MemoryStorage) UpdateLocalList(_ context.Context, version int, upserts map[string]ocpp201.IdTokenInfo, removals []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for hash, info := range upserts {
		m.localList[hash] = info
	}
	for _, hash := range removals {
		delete(m.localList, hash)
	}
	m.version = version
	return nil
}

func (m *MemoryStorage) LocalListSize(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.localList), nil
}

func (m *MemoryStorage) GetVariable(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.variables[key]
	return value, ok, nil
}

func (m *MemoryStorage) SetVariable(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.variables[key] = value
	return nil
}

func (m *MemoryStorage) ListVariables(_ context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	values := make(map[string]string, len(m.variables))
	for k, v := range m.variables {
		values[k] = v
	}
	return values, nil
}

func (m *MemoryStorage) Close() error {
	return nil
}

var (
	_ Store = (*MemoryStorage)(nil)
	_ Store = (*RedisStorage)(nil)
)
