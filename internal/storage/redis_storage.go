package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/charging-platform/charging-station-controller/internal/config"
	"github.com/charging-platform/charging-station-controller/internal/domain/ocpp201"
	"github.com/go-redis/redis/v8"
)

const (
	keyQueueOrder       = "queue:order"
	keyQueueMessages    = "queue:messages"
	keyAuthCache        = "authcache"
	keyLocalList        = "locallist:entries"
	keyLocalListVersion = "locallist:version"
	keyVariables        = "variables"
)

// RedisStorage 使用 Redis 持久化充电站状态
type RedisStorage struct {
	Client *redis.Client
	Prefix string
}

// NewRedisStorage 创建一个新的 RedisStorage 实例
func NewRedisStorage(cfg config.RedisConfig) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}

	return &RedisStorage{Client: client, Prefix: cfg.KeyPrefix}, nil
}

func (r *RedisStorage) key(name string) string {
	return r.Prefix + name
}

// SaveQueuedMessage 新增或更新一条交易消息
func (r *RedisStorage) SaveQueuedMessage(ctx context.Context, msg StoredMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal queued message %s: %w", msg.QueueID, err)
	}
	added, err := r.Client.HSet(ctx, r.key(keyQueueMessages), msg.QueueID, string(data)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if added == 0 {
		return nil
	}
	if err := r.Client.RPush(ctx, r.key(keyQueueOrder), msg.QueueID).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// DeleteQueuedMessage 删除一条交易消息
func (r *RedisStorage) DeleteQueuedMessage(ctx context.Context, queueID string) error {
	if err := r.Client.HDel(ctx, r.key(keyQueueMessages), queueID).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := r.Client.LRem(ctx, r.key(keyQueueOrder), 0, queueID).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// LoadQueuedMessages 按写入顺序加载交易消息，无法解析的条目被跳过
func (r *RedisStorage) LoadQueuedMessages(ctx context.Context) ([]StoredMessage, error) {
	ids, err := r.Client.LRange(ctx, r.key(keyQueueOrder), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	values, err := r.Client.HMGet(ctx, r.key(keyQueueMessages), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	messages := make([]StoredMessage, 0, len(values))
	for _, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		var msg StoredMessage
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// ClearQueuedMessages 清空交易消息
func (r *RedisStorage) ClearQueuedMessages(ctx context.Context) error {
	if err := r.Client.Del(ctx, r.key(keyQueueOrder), r.key(keyQueueMessages)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// GetAuthCacheEntry 获取授权缓存项
func (r *RedisStorage) GetAuthCacheEntry(ctx context.Context, hash string) (*AuthCacheEntry, error) {
	raw, err := r.Client.HGet(ctx, r.key(keyAuthCache), hash).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var entry AuthCacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, fmt.Errorf("failed to decode auth cache entry %s: %w", hash, err)
	}
	return &entry, nil
}

// PutAuthCacheEntry 写入授权缓存项
func (r *RedisStorage) PutAuthCacheEntry(ctx context.Context, hash string, entry AuthCacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal auth cache entry %s: %w", hash, err)
	}
	if err := r.Client.HSet(ctx, r.key(keyAuthCache), hash, string(data)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// DeleteAuthCacheEntry 删除授权缓存项
func (r *RedisStorage) DeleteAuthCacheEntry(ctx context.Context, hash string) error {
	if err := r.Client.HDel(ctx, r.key(keyAuthCache), hash).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// ListAuthCacheEntries 列出全部授权缓存项
func (r *RedisStorage) ListAuthCacheEntries(ctx context.Context) (map[string]AuthCacheEntry, error) {
	values, err := r.Client.HGetAll(ctx, r.key(keyAuthCache)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	entries := make(map[string]AuthCacheEntry, len(values))
	for hash, raw := range values {
		var entry AuthCacheEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		entries[hash] = entry
	}
	return entries, nil
}

// ClearAuthCache 清空授权缓存
func (r *RedisStorage) ClearAuthCache(ctx context.Context) error {
	if err := r.Client.Del(ctx, r.key(keyAuthCache)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// GetLocalListVersion 获取本地列表版本，未设置时为0
func (r *RedisStorage) GetLocalListVersion(ctx context.Context) (int, error) {
	raw, err := r.Client.Get(ctx, r.key(keyLocalListVersion)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	version, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid local list version %q: %w", raw, err)
	}
	return version, nil
}

// GetLocalListEntry 获取本地列表条目
func (r *RedisStorage) GetLocalListEntry(ctx context.Context, hash string) (*ocpp201.IdTokenInfo, error) {
	raw, err := r.Client.HGet(ctx, r.key(keyLocalList), hash).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var info ocpp201.IdTokenInfo
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return nil, fmt.Errorf("failed to decode local list entry %s: %w", hash, err)
	}
	return &info, nil
}

// ReplaceLocalList 全量替换本地列表
func (r *RedisStorage) ReplaceLocalList(ctx context.Context, version int, entries map[string]ocpp201.IdTokenInfo) error {
	if err := r.Client.Del(ctx, r.key(keyLocalList)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := r.writeLocalListEntries(ctx, entries); err != nil {
		return err
	}
	return r.setLocalListVersion(ctx, version)
}

// UpdateLocalList 差量更新本地列表
func (r *RedisStorage) UpdateLocalList(ctx context.Context, version int, upserts map[string]ocpp201.IdTokenInfo, removals []string) error {
	if err := r.writeLocalListEntries(ctx, upserts); err != nil {
		return err
	}
	if len(removals) > 0 {
		if err := r.Client.HDel(ctx, r.key(keyLocalList), removals...).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return r.setLocalListVersion(ctx, version)
}

// LocalListSize 本地列表条目数
func (r *RedisStorage) LocalListSize(ctx context.Context) (int, error) {
	n, err := r.Client.HLen(ctx, r.key(keyLocalList)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return int(n), nil
}

func (r *RedisStorage) writeLocalListEntries(ctx context.Context, entries map[string]ocpp201.IdTokenInfo) error {
	if len(entries) == 0 {
		return nil
	}
	hashes := make([]string, 0, len(entries))
	for hash := range entries {
		hashes = append(hashes, hash)
	}
	sort.Strings(hashes)

	values := make([]interface{}, 0, len(entries)*2)
	for _, hash := range hashes {
		data, err := json.Marshal(entries[hash])
		if err != nil {
			return fmt.Errorf("failed to marshal local list entry %s: %w", hash, err)
		}
		values = append(values, hash, string(data))
	}
	if err := r.Client.HSet(ctx, r.key(keyLocalList), values...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *RedisStorage) setLocalListVersion(ctx context.Context, version int) error {
	if err := r.Client.Set(ctx, r.key(keyLocalListVersion), strconv.Itoa(version), 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// GetVariable 读取设备模型变量
func (r *RedisStorage) GetVariable(ctx context.Context, key string) (string, bool, error) {
	value, err := r.Client.HGet(ctx, r.key(keyVariables), key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return value, true, nil
}

// SetVariable 写入设备模型变量
func (r *RedisStorage) SetVariable(ctx context.Context, key, value string) error {
	if err := r.Client.HSet(ctx, r.key(keyVariables), key, value).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// ListVariables 列出全部已持久化变量
func (r *RedisStorage) ListVariables(ctx context.Context) (map[string]string, error) {
	values, err := r.Client.HGetAll(ctx, r.key(keyVariables)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return values, nil
}

// Close 关闭与存储后端的连接
func (r *RedisStorage) Close() error {
	return r.Client.Close()
}
