package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charging-platform/charging-station-controller/internal/domain/connection"
	"github.com/charging-platform/charging-station-controller/internal/logger"
)

type recordingHandler struct {
	messages     chan []byte
	connected    chan struct{}
	disconnected chan string
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		messages:     make(chan []byte, 16),
		connected:    make(chan struct{}, 16),
		disconnected: make(chan string, 16),
	}
}

func (h *recordingHandler) HandleMessage(data []byte) { h.messages <- data }
func (h *recordingHandler) OnConnected()              { h.connected <- struct{}{} }
func (h *recordingHandler) OnDisconnected(reason string) {
	h.disconnected <- reason
}

// csmsServer 模拟CSMS端的WebSocket服务
type csmsServer struct {
	*httptest.Server
	upgrader websocket.Upgrader
	auth     chan string
	received chan []byte
	conns    chan *websocket.Conn
}

func newCSMSServer(t *testing.T, subprotocols []string) *csmsServer {
	s := &csmsServer{
		upgrader: websocket.Upgrader{Subprotocols: subprotocols},
		auth:     make(chan string, 4),
		received: make(chan []byte, 16),
		conns:    make(chan *websocket.Conn, 4),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case s.auth <- r.Header.Get("Authorization"):
		default:
		}
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		select {
		case s.conns <- conn:
		default:
		}
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			select {
			case s.received <- data:
			default:
			}
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *csmsServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/ocpp/CS-001"
}

func testConfig(url string) *Config {
	cfg := DefaultConfig()
	cfg.URL = url
	cfg.Password = "secret"
	cfg.ReconnectMinBackoff = 10 * time.Millisecond
	cfg.ReconnectMaxBackoff = 50 * time.Millisecond
	return cfg
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting")
	}
	var zero T
	return zero
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, 1, config.SecurityProfile)
	assert.Equal(t, 4096, config.ReadBufferSize)
	assert.Equal(t, 10*time.Second, config.HandshakeTimeout)
	assert.Equal(t, []string{"ocpp2.0.1"}, config.Subprotocols)
	assert.True(t, config.ReconnectMaxBackoff > config.ReconnectMinBackoff)
}

func TestNewManager(t *testing.T) {
	_, err := NewManager(&Config{}, nil, logger.Nop())
	assert.Error(t, err, "url required")

	cfg := DefaultConfig()
	cfg.SecurityProfile = 2
	_, err = NewManager(cfg, nil, logger.Nop())
	assert.Error(t, err, "profile 2 requires TLS")

	manager, err := NewManager(nil, nil, logger.Nop())
	require.NoError(t, err)
	assert.False(t, manager.IsConnected())
	assert.ErrorIs(t, manager.Send([]byte("x")), ErrNotConnected)
	assert.Equal(t, connection.StateIdle, manager.Link().GetState())
}

func TestManager_ConnectSendReceive(t *testing.T) {
	server := newCSMSServer(t, []string{"ocpp2.0.1"})
	manager, err := NewManager(testConfig(server.wsURL()), nil, logger.Nop())
	require.NoError(t, err)

	handler := newRecordingHandler()
	require.NoError(t, manager.Start(handler))
	defer manager.Stop()

	assert.Equal(t, basicAuth("CS-001", "secret"), waitFor(t, server.auth))
	waitFor(t, handler.connected)
	assert.True(t, manager.IsConnected())
	assert.Equal(t, "ocpp2.0.1", manager.Link().Snapshot().Subprotocol)

	require.NoError(t, manager.Send([]byte(`[2,"1","Heartbeat",{}]`)))
	assert.Equal(t, `[2,"1","Heartbeat",{}]`, string(waitFor(t, server.received)))

	conn := waitFor(t, server.conns)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`[3,"1",{}]`)))
	assert.Equal(t, `[3,"1",{}]`, string(waitFor(t, handler.messages)))

	assert.Eventually(t, func() bool {
		stats := manager.Link().Snapshot()
		return stats.MessagesSent == 1 && stats.MessagesReceived == 1
	}, time.Second, 10*time.Millisecond)
}

func TestManager_ReconnectsAfterDrop(t *testing.T) {
	server := newCSMSServer(t, []string{"ocpp2.0.1"})
	manager, err := NewManager(testConfig(server.wsURL()), nil, logger.Nop())
	require.NoError(t, err)

	handler := newRecordingHandler()
	require.NoError(t, manager.Start(handler))
	defer manager.Stop()

	waitFor(t, handler.connected)
	conn := waitFor(t, server.conns)
	conn.Close()

	waitFor(t, handler.disconnected)
	waitFor(t, handler.connected)
	assert.True(t, manager.IsConnected())
	assert.Equal(t, 1, manager.Link().Snapshot().ReconnectCount)
}

func TestManager_Reconnect(t *testing.T) {
	server := newCSMSServer(t, []string{"ocpp2.0.1"})
	manager, err := NewManager(testConfig(server.wsURL()), nil, logger.Nop())
	require.NoError(t, err)

	handler := newRecordingHandler()
	require.NoError(t, manager.Start(handler))
	defer manager.Stop()

	waitFor(t, handler.connected)
	manager.Reconnect()

	assert.Equal(t, "connection closed", waitFor(t, handler.disconnected))
	waitFor(t, handler.connected)
	assert.True(t, manager.IsConnected())
}

func TestManager_RejectsMissingSubprotocol(t *testing.T) {
	server := newCSMSServer(t, nil)
	manager, err := NewManager(testConfig(server.wsURL()), nil, logger.Nop())
	require.NoError(t, err)

	handler := newRecordingHandler()
	require.NoError(t, manager.Start(handler))

	assert.Eventually(t, func() bool {
		return manager.Link().Snapshot().ErrorCount >= 2
	}, 3*time.Second, 10*time.Millisecond)
	assert.Empty(t, handler.connected)
	assert.False(t, manager.IsConnected())

	require.NoError(t, manager.Stop())
	assert.Equal(t, connection.StateClosed, manager.Link().GetState())
}

func TestManager_StopClosesConnection(t *testing.T) {
	server := newCSMSServer(t, []string{"ocpp2.0.1"})
	manager, err := NewManager(testConfig(server.wsURL()), nil, logger.Nop())
	require.NoError(t, err)

	handler := newRecordingHandler()
	require.NoError(t, manager.Start(handler))
	waitFor(t, handler.connected)

	require.NoError(t, manager.Stop())
	assert.False(t, manager.IsConnected())
	assert.ErrorIs(t, manager.Send([]byte("late")), ErrNotConnected)
}

func TestNextBackoff(t *testing.T) {
	assert.Equal(t, 2*time.Second, nextBackoff(time.Second, time.Minute))
	assert.Equal(t, time.Minute, nextBackoff(45*time.Second, time.Minute))
}

func TestConnectionWrapper_SendMessage_ChannelFull(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wrapper := &ConnectionWrapper{
		sendChan: make(chan WebSocketMessage, 1),
		ctx:      ctx,
		cancel:   cancel,
		config:   DefaultConfig(),
	}

	assert.NoError(t, wrapper.SendMessage([]byte("message1")))
	assert.ErrorIs(t, wrapper.SendMessage([]byte("message2")), ErrSendBufferFull)

	msg := <-wrapper.sendChan
	assert.Equal(t, MessageTypeText, msg.Type)
	assert.Equal(t, []byte("message1"), msg.Data)
}

func TestConnectionWrapper_SendMessage_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	wrapper := &ConnectionWrapper{
		sendChan: make(chan WebSocketMessage, 10),
		ctx:      ctx,
		cancel:   cancel,
		config:   DefaultConfig(),
	}

	assert.ErrorIs(t, wrapper.SendMessage([]byte("test")), ErrNotConnected)
}
