package storage

import (
	"context"
	"testing"

	"github.com/charging-platform/charging-station-controller/internal/domain/ocpp201"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorage_QueueOrder(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	require.NoError(t, store.SaveQueuedMessage(ctx, StoredMessage{QueueID: "a", MessageID: "1"}))
	require.NoError(t, store.SaveQueuedMessage(ctx, StoredMessage{QueueID: "b", MessageID: "2"}))
	require.NoError(t, store.SaveQueuedMessage(ctx, StoredMessage{QueueID: "a", MessageID: "3", Attempts: 1}))

	loaded, err := store.LoadQueuedMessages(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "a", loaded[0].QueueID)
	assert.Equal(t, "3", loaded[0].MessageID)

	require.NoError(t, store.DeleteQueuedMessage(ctx, "a"))
	loaded, _ = store.LoadQueuedMessages(ctx)
	require.Len(t, loaded, 1)
	assert.Equal(t, "b", loaded[0].QueueID)
}

func TestMemoryStorage_LocalList(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()
	accepted := ocpp201.IdTokenInfo{Status: ocpp201.AuthorizationStatusAccepted}

	require.NoError(t, store.ReplaceLocalList(ctx, 2, map[string]ocpp201.IdTokenInfo{"a": accepted, "b": accepted}))
	require.NoError(t, store.UpdateLocalList(ctx, 3, nil, []string{"a"}))

	version, _ := store.GetLocalListVersion(ctx)
	assert.Equal(t, 3, version)
	size, _ := store.LocalListSize(ctx)
	assert.Equal(t, 1, size)

	info, err := store.GetLocalListEntry(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestMemoryStorage_AuthCacheCopies(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	require.NoError(t, store.PutAuthCacheEntry(ctx, "h", AuthCacheEntry{IdTokenInfo: ocpp201.IdTokenInfo{Status: ocpp201.AuthorizationStatusAccepted}}))
	entries, _ := store.ListAuthCacheEntries(ctx)
	delete(entries, "h")

	got, err := store.GetAuthCacheEntry(ctx, "h")
	require.NoError(t, err)
	assert.NotNil(t, got)

	require.NoError(t, store.ClearAuthCache(ctx))
	got, _ = store.GetAuthCacheEntry(ctx, "h")
	assert.Nil(t, got)
}
