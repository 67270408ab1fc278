package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/charging-platform/charging-station-controller/internal/domain/ocpp201"
)

// ErrUnavailable 存储后端不可用
var ErrUnavailable = errors.New("storage unavailable")

// StoredMessage 持久化的交易消息
type StoredMessage struct {
	QueueID   string          `json:"queue_id"`   // 队列内稳定标识，重试时不变
	MessageID string          `json:"message_id"` // 当前OCPP消息ID，重试时更换
	Action    ocpp201.Action  `json:"action"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
	Attempts  int             `json:"attempts"`
}

// AuthCacheEntry 授权缓存项
type AuthCacheEntry struct {
	IdTokenInfo ocpp201.IdTokenInfo `json:"id_token_info"`
	LastUsed    time.Time           `json:"last_used"`
}

// QueueStore 交易消息持久化
type QueueStore interface {
	// SaveQueuedMessage 新增或更新一条消息，保持首次写入的顺序
	SaveQueuedMessage(ctx context.Context, msg StoredMessage) error
	DeleteQueuedMessage(ctx context.Context, queueID string) error
	// LoadQueuedMessages 按写入顺序返回全部消息
	LoadQueuedMessages(ctx context.Context) ([]StoredMessage, error)
	ClearQueuedMessages(ctx context.Context) error
}

// AuthCacheStore 授权缓存持久化，键为标识哈希
type AuthCacheStore interface {
	// GetAuthCacheEntry 不存在时返回 nil, nil
	GetAuthCacheEntry(ctx context.Context, hash string) (*AuthCacheEntry, error)
	PutAuthCacheEntry(ctx context.Context, hash string, entry AuthCacheEntry) error
	DeleteAuthCacheEntry(ctx context.Context, hash string) error
	ListAuthCacheEntries(ctx context.Context) (map[string]AuthCacheEntry, error)
	ClearAuthCache(ctx context.Context) error
}

// LocalListStore 本地授权列表持久化
type LocalListStore interface {
	GetLocalListVersion(ctx context.Context) (int, error)
	// GetLocalListEntry 不存在时返回 nil, nil
	GetLocalListEntry(ctx context.Context, hash string) (*ocpp201.IdTokenInfo, error)
	// ReplaceLocalList 清空后写入全部条目并更新版本
	ReplaceLocalList(ctx context.Context, version int, entries map[string]ocpp201.IdTokenInfo) error
	// UpdateLocalList 写入/删除部分条目并更新版本
	UpdateLocalList(ctx context.Context, version int, upserts map[string]ocpp201.IdTokenInfo, removals []string) error
	LocalListSize(ctx context.Context) (int, error)
}

// VariableStore 设备模型变量持久化
type VariableStore interface {
	// GetVariable 第二个返回值表示是否存在
	GetVariable(ctx context.Context, key string) (string, bool, error)
	SetVariable(ctx context.Context, key, value string) error
	ListVariables(ctx context.Context) (map[string]string, error)
}

// Store 充电站全部持久化能力
type Store interface {
	QueueStore
	AuthCacheStore
	LocalListStore
	VariableStore
	Close() error
}
