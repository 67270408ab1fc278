package websocket

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/charging-platform/charging-station-controller/internal/domain/connection"
	"github.com/charging-platform/charging-station-controller/internal/domain/protocol"
	"github.com/charging-platform/charging-station-controller/internal/logger"
)

var (
	// ErrNotConnected 当前没有到CSMS的连接
	ErrNotConnected = errors.New("not connected to CSMS")
	// ErrSendBufferFull 发送缓冲已满
	ErrSendBufferFull = errors.New("send channel full")
)

// Handler 接收入站帧与链路状态变化，由会话控制器实现
type Handler interface {
	HandleMessage(data []byte)
	OnConnected()
	OnDisconnected(reason string)
}

// Config WebSocket客户端配置
type Config struct {
	// 带站点标识的CSMS地址
	URL             string `json:"url"`
	StationID       string `json:"station_id"`
	SecurityProfile int    `json:"security_profile"`
	Password        string `json:"-"`

	// WebSocket配置
	ReadBufferSize   int           `json:"read_buffer_size"`
	WriteBufferSize  int           `json:"write_buffer_size"`
	SendBufferSize   int           `json:"send_buffer_size"`
	HandshakeTimeout time.Duration `json:"handshake_timeout"`
	WriteTimeout     time.Duration `json:"write_timeout"`
	PingInterval     time.Duration `json:"ping_interval"`
	PongTimeout      time.Duration `json:"pong_timeout"`
	MaxMessageSize   int64         `json:"max_message_size"`
	Subprotocols     []string      `json:"subprotocols"`

	// 重连退避
	ReconnectMinBackoff time.Duration `json:"reconnect_min_backoff"`
	ReconnectMaxBackoff time.Duration `json:"reconnect_max_backoff"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		URL:             "ws://localhost:9000/ocpp/CS-001",
		StationID:       "CS-001",
		SecurityProfile: 1,

		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		SendBufferSize:   256,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		PingInterval:     30 * time.Second,
		PongTimeout:      10 * time.Second,
		MaxMessageSize:   64 * 1024,
		Subprotocols:     protocol.GetSupportedVersions(),

		ReconnectMinBackoff: time.Second,
		ReconnectMaxBackoff: 60 * time.Second,
	}
}

// MessageType 消息类型枚举
type MessageType int

const (
	MessageTypeText MessageType = iota
	MessageTypePing
)

// WebSocketMessage WebSocket消息结构
type WebSocketMessage struct {
	Type MessageType
	Data []byte
}

// ConnectionWrapper 一次成功握手对应的连接
type ConnectionWrapper struct {
	conn     *websocket.Conn
	sendChan chan WebSocketMessage

	ctx    context.Context
	cancel context.CancelFunc

	link   *connection.Link
	config *Config
	logger *logger.Logger
}

// Manager 到CSMS的WebSocket客户端，负责拨号、重连与收发
type Manager struct {
	config  *Config
	dialer  *websocket.Dialer
	link    *connection.Link
	handler Handler

	mutex   sync.RWMutex
	current *ConnectionWrapper

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *logger.Logger
}

// NewManager 创建客户端；安全配置2/3需要提供TLS配置
func NewManager(config *Config, tlsConfig *tls.Config, log *logger.Logger) (*Manager, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if log == nil {
		log = logger.Global()
	}
	if config.URL == "" {
		return nil, fmt.Errorf("CSMS url is required")
	}
	security := connection.ProfileFor(config.SecurityProfile)
	if security.TLSEnabled && tlsConfig == nil {
		return nil, fmt.Errorf("security profile %d requires a TLS configuration", config.SecurityProfile)
	}
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = DefaultConfig().SendBufferSize
	}
	if config.ReconnectMinBackoff <= 0 {
		config.ReconnectMinBackoff = DefaultConfig().ReconnectMinBackoff
	}
	if config.ReconnectMaxBackoff < config.ReconnectMinBackoff {
		config.ReconnectMaxBackoff = config.ReconnectMinBackoff
	}

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: config.HandshakeTimeout,
		ReadBufferSize:   config.ReadBufferSize,
		WriteBufferSize:  config.WriteBufferSize,
		Subprotocols:     config.Subprotocols,
		TLSClientConfig:  tlsConfig,
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		config: config,
		dialer: dialer,
		link:   connection.NewLink(config.URL, security),
		ctx:    ctx,
		cancel: cancel,
		logger: log.WithComponent("websocket"),
	}, nil
}

// Start 启动拨号循环
func (m *Manager) Start(handler Handler) error {
	if handler == nil {
		return fmt.Errorf("websocket handler is required")
	}
	m.handler = handler

	m.wg.Add(1)
	go m.run()
	return nil
}

// Stop 关闭连接并停止重连
func (m *Manager) Stop() error {
	m.cancel()
	m.mutex.RLock()
	current := m.current
	m.mutex.RUnlock()
	if current != nil {
		current.closeWithMessage(websocket.CloseNormalClosure, "station shutdown")
	}
	m.wg.Wait()
	m.link.Close()
	return nil
}

// Reconnect 断开当前连接，由拨号循环立即重连
func (m *Manager) Reconnect() {
	m.mutex.RLock()
	current := m.current
	m.mutex.RUnlock()
	if current != nil {
		m.logger.Info("Reconnecting to CSMS")
		current.closeWithMessage(websocket.CloseNormalClosure, "reconnect")
	}
}

// Send 发送一帧文本消息
func (m *Manager) Send(data []byte) error {
	m.mutex.RLock()
	current := m.current
	m.mutex.RUnlock()
	if current == nil {
		return ErrNotConnected
	}
	return current.SendMessage(data)
}

// IsConnected 当前是否有可用连接
func (m *Manager) IsConnected() bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.current != nil
}

// Link 链路统计
func (m *Manager) Link() *connection.Link {
	return m.link
}

// run 拨号，断线后按指数退避重连
func (m *Manager) run() {
	defer m.wg.Done()

	backoff := m.config.ReconnectMinBackoff
	for {
		m.link.Connecting()
		wrapper, err := m.dial()
		if err != nil {
			if m.ctx.Err() != nil {
				return
			}
			m.logger.Warnf("Failed to connect to %s: %v, retrying in %s", m.config.URL, err, backoff)
			m.link.Disconnected(err.Error())
		} else {
			backoff = m.config.ReconnectMinBackoff
			reason := m.serve(wrapper)
			if m.ctx.Err() != nil {
				return
			}
			m.logger.Warnf("Connection to CSMS lost: %s", reason)
			m.link.Disconnected(reason)
		}

		select {
		case <-m.ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff, m.config.ReconnectMaxBackoff)
	}
}

// nextBackoff 退避时间翻倍，不超过上限
func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

// dial 建立连接并校验协商的子协议
func (m *Manager) dial() (*ConnectionWrapper, error) {
	header := http.Header{}
	if m.link.Snapshot().Security.BasicAuth {
		header.Set("Authorization", basicAuth(m.config.StationID, m.config.Password))
	}

	conn, resp, err := m.dialer.DialContext(m.ctx, m.config.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("handshake failed with HTTP %d: %w", resp.StatusCode, err)
		}
		return nil, err
	}

	subprotocol := conn.Subprotocol()
	if len(m.config.Subprotocols) > 0 && !protocol.IsVersionSupported(subprotocol) {
		conn.Close()
		return nil, fmt.Errorf("CSMS did not accept subprotocol %v (got %q)", m.config.Subprotocols, subprotocol)
	}
	if m.config.MaxMessageSize > 0 {
		conn.SetReadLimit(m.config.MaxMessageSize)
	}

	ctx, cancel := context.WithCancel(m.ctx)
	wrapper := &ConnectionWrapper{
		conn:     conn,
		sendChan: make(chan WebSocketMessage, m.config.SendBufferSize),
		ctx:      ctx,
		cancel:   cancel,
		link:     m.link,
		config:   m.config,
		logger:   m.logger,
	}
	m.link.Connected(subprotocol)
	m.logger.Infof("Connected to %s using %s", m.config.URL, subprotocol)
	return wrapper, nil
}

// serve 运行一次连接的收发协程，返回断开原因
func (m *Manager) serve(wrapper *ConnectionWrapper) string {
	m.mutex.Lock()
	m.current = wrapper
	m.mutex.Unlock()

	var routines sync.WaitGroup
	routines.Add(2)
	go func() {
		defer routines.Done()
		wrapper.sendRoutine()
	}()
	go func() {
		defer routines.Done()
		wrapper.pingRoutine()
	}()

	m.handler.OnConnected()
	reason := wrapper.receiveRoutine(m.handler)

	m.mutex.Lock()
	m.current = nil
	m.mutex.Unlock()

	wrapper.cancel()
	wrapper.conn.Close()
	routines.Wait()

	m.handler.OnDisconnected(reason)
	return reason
}

func basicAuth(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}

// SendMessage 发送消息
func (w *ConnectionWrapper) SendMessage(message []byte) error {
	wsMsg := WebSocketMessage{
		Type: MessageTypeText,
		Data: message,
	}
	select {
	case <-w.ctx.Done():
		return ErrNotConnected
	default:
	}
	select {
	case w.sendChan <- wsMsg:
		return nil
	case <-w.ctx.Done():
		return ErrNotConnected
	default:
		return ErrSendBufferFull
	}
}

func (w *ConnectionWrapper) closeWithMessage(code int, text string) {
	deadline := time.Now().Add(time.Second)
	_ = w.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
	w.cancel()
	w.conn.Close()
}

// sendRoutine 发送协程，统一处理所有WebSocket写入操作
func (w *ConnectionWrapper) sendRoutine() {
	for {
		select {
		case <-w.ctx.Done():
			return
		case wsMessage := <-w.sendChan:
			if w.config.WriteTimeout > 0 {
				w.conn.SetWriteDeadline(time.Now().Add(w.config.WriteTimeout))
			}

			var err error
			switch wsMessage.Type {
			case MessageTypeText:
				err = w.conn.WriteMessage(websocket.TextMessage, wsMessage.Data)
			case MessageTypePing:
				err = w.conn.WriteMessage(websocket.PingMessage, wsMessage.Data)
			default:
				w.logger.Errorf("Unknown message type: %v", wsMessage.Type)
				continue
			}

			if err != nil {
				w.logger.Errorf("Failed to write to CSMS: %v", err)
				w.link.RecordError(err.Error())
				w.cancel()
				w.conn.Close()
				return
			}
			if wsMessage.Type == MessageTypeText {
				w.link.IncrementMessagesSent(int64(len(wsMessage.Data)))
			}
		}
	}
}

// receiveRoutine 读取直到连接断开，返回断开原因
func (w *ConnectionWrapper) receiveRoutine(handler Handler) string {
	w.resetReadDeadline()
	w.conn.SetPongHandler(func(string) error {
		w.resetReadDeadline()
		return nil
	})

	for {
		messageType, message, err := w.conn.ReadMessage()
		if err != nil {
			if w.ctx.Err() != nil {
				return "connection closed"
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				w.logger.Errorf("WebSocket read error: %v", err)
			}
			return err.Error()
		}
		w.resetReadDeadline()

		if messageType != websocket.TextMessage {
			w.logger.Warnf("Ignoring non-text WebSocket frame of type %d", messageType)
			continue
		}
		w.link.IncrementMessagesReceived(int64(len(message)))
		handler.HandleMessage(message)
	}
}

// resetReadDeadline 一个ping周期加pong超时内必须有数据到达
func (w *ConnectionWrapper) resetReadDeadline() {
	if w.config.PingInterval <= 0 {
		return
	}
	w.conn.SetReadDeadline(time.Now().Add(w.config.PingInterval + w.config.PongTimeout))
}

// pingRoutine ping协程，通过sendRoutine统一发送ping消息
func (w *ConnectionWrapper) pingRoutine() {
	if w.config.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(w.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			select {
			case w.sendChan <- WebSocketMessage{Type: MessageTypePing}:
			case <-w.ctx.Done():
				return
			default:
				w.logger.Warn("Failed to queue ping: send channel full")
			}
		}
	}
}
