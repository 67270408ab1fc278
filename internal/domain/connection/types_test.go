package connection

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileFor(t *testing.T) {
	tests := []struct {
		profile  int
		expected SecurityProfile
	}{
		{1, SecurityProfile{Profile: 1, BasicAuth: true}},
		{2, SecurityProfile{Profile: 2, TLSEnabled: true, BasicAuth: true}},
		{3, SecurityProfile{Profile: 3, TLSEnabled: true, CertificateAuth: true}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, ProfileFor(tt.profile))
	}
}

func TestLink_StateManagement(t *testing.T) {
	link := NewLink("ws://csms/ocpp/CS-001", ProfileFor(1))

	assert.Equal(t, StateIdle, link.GetState())
	assert.False(t, link.IsConnected())

	link.Connecting()
	assert.Equal(t, StateConnecting, link.GetState())

	link.Connected("ocpp2.0.1")
	assert.True(t, link.IsConnected())
	stats := link.Snapshot()
	assert.Equal(t, "ocpp2.0.1", stats.Subprotocol)
	require.NotNil(t, stats.ConnectedAt)
	assert.Equal(t, 0, stats.ReconnectCount)

	link.Disconnected("read: connection reset")
	assert.Equal(t, StateReconnecting, link.GetState())
	assert.Equal(t, time.Duration(0), link.ConnectedFor())

	link.Connecting()
	link.Connected("ocpp2.0.1")
	stats = link.Snapshot()
	assert.Equal(t, 1, stats.ReconnectCount)
	assert.Equal(t, 1, stats.ErrorCount)
	assert.Equal(t, "read: connection reset", stats.LastError)
}

func TestLink_CloseIsFinal(t *testing.T) {
	link := NewLink("ws://csms", ProfileFor(1))
	link.Connected("ocpp2.0.1")
	link.Close()
	link.Disconnected("late read error")

	assert.Equal(t, StateClosed, link.GetState())
	assert.Equal(t, 0, link.Snapshot().ErrorCount)
}

func TestLink_MessageCounting(t *testing.T) {
	link := NewLink("ws://csms", ProfileFor(2))

	link.IncrementMessagesSent(100)
	link.IncrementMessagesSent(50)
	link.IncrementMessagesReceived(200)

	stats := link.Snapshot()
	assert.Equal(t, int64(2), stats.MessagesSent)
	assert.Equal(t, int64(150), stats.BytesSent)
	assert.Equal(t, int64(1), stats.MessagesReceived)
	assert.Equal(t, int64(200), stats.BytesReceived)
	assert.NotNil(t, stats.LastActivity)
}

func TestLink_ConnectedFor(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	current := base
	link := NewLink("ws://csms", ProfileFor(1))
	link.now = func() time.Time { return current }

	link.Connected("ocpp2.0.1")
	current = base.Add(90 * time.Second)
	assert.Equal(t, 90*time.Second, link.ConnectedFor())
}

func TestLink_ThreadSafety(t *testing.T) {
	link := NewLink("ws://csms", ProfileFor(1))
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				link.IncrementMessagesSent(1)
				link.IncrementMessagesReceived(1)
				_ = link.Snapshot()
			}
		}()
	}
	wg.Wait()

	stats := link.Snapshot()
	assert.Equal(t, int64(1000), stats.MessagesSent)
	assert.Equal(t, int64(1000), stats.MessagesReceived)
}
