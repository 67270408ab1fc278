package connection

import (
	"sync"
	"time"
)

// State 到CSMS的链路状态
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateClosed       State = "closed"
)

// SecurityProfile 链路使用的安全配置
type SecurityProfile struct {
	Profile         int  `json:"security_profile"` // 1, 2, 3
	TLSEnabled      bool `json:"tls_enabled"`
	CertificateAuth bool `json:"certificate_auth"`
	BasicAuth       bool `json:"basic_auth"`
}

// ProfileFor 由 OCPP 安全配置编号推导链路安全参数
func ProfileFor(profile int) SecurityProfile {
	return SecurityProfile{
		Profile:         profile,
		TLSEnabled:      profile >= 2,
		CertificateAuth: profile >= 3,
		BasicAuth:       profile <= 2,
	}
}

// Stats 链路统计
type Stats struct {
	State            State           `json:"state"`
	URL              string          `json:"url"`
	Subprotocol      string          `json:"subprotocol,omitempty"`
	Security         SecurityProfile `json:"security"`
	ConnectedAt      *time.Time      `json:"connected_at,omitempty"`
	LastActivity     *time.Time      `json:"last_activity,omitempty"`
	MessagesSent     int64           `json:"messages_sent"`
	MessagesReceived int64           `json:"messages_received"`
	BytesSent        int64           `json:"bytes_sent"`
	BytesReceived    int64           `json:"bytes_received"`
	ReconnectCount   int             `json:"reconnect_count"`
	ErrorCount       int             `json:"error_count"`
	LastError        string          `json:"last_error,omitempty"`
	LastErrorAt      *time.Time      `json:"last_error_at,omitempty"`
}

// Link 到CSMS的单条链路状态，线程安全
type Link struct {
	mutex sync.RWMutex
	stats Stats
	now   func() time.Time
}

// NewLink 创建链路
func NewLink(url string, security SecurityProfile) *Link {
	return &Link{
		stats: Stats{State: StateIdle, URL: url, Security: security},
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// GetState 获取链路状态
func (l *Link) GetState() State {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return l.stats.State
}

// IsConnected 是否已连接
func (l *Link) IsConnected() bool {
	return l.GetState() == StateConnected
}

// Connecting 开始拨号；非首次拨号计为重连
func (l *Link) Connecting() {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if l.stats.State == StateReconnecting {
		l.stats.ReconnectCount++
	}
	l.stats.State = StateConnecting
}

// Connected 握手成功
func (l *Link) Connected(subprotocol string) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	now := l.now()
	l.stats.State = StateConnected
	l.stats.Subprotocol = subprotocol
	l.stats.ConnectedAt = &now
	l.stats.LastActivity = &now
}

// Disconnected 链路断开，等待重连
func (l *Link) Disconnected(reason string) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if l.stats.State == StateClosed {
		return
	}
	l.stats.State = StateReconnecting
	l.stats.ConnectedAt = nil
	if reason != "" {
		l.recordErrorLocked(reason)
	}
}

// Close 链路被主动关闭
func (l *Link) Close() {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.stats.State = StateClosed
	l.stats.ConnectedAt = nil
}

// IncrementMessagesSent 增加发送消息计数
func (l *Link) IncrementMessagesSent(bytes int64) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.stats.MessagesSent++
	l.stats.BytesSent += bytes
	now := l.now()
	l.stats.LastActivity = &now
}

// IncrementMessagesReceived 增加接收消息计数
func (l *Link) IncrementMessagesReceived(bytes int64) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.stats.MessagesReceived++
	l.stats.BytesReceived += bytes
	now := l.now()
	l.stats.LastActivity = &now
}

// RecordError 记录错误
func (l *Link) RecordError(message string) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.recordErrorLocked(message)
}

func (l *Link) recordErrorLocked(message string) {
	now := l.now()
	l.stats.ErrorCount++
	l.stats.LastError = message
	l.stats.LastErrorAt = &now
}

// Snapshot 返回统计副本
func (l *Link) Snapshot() Stats {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return l.stats
}

// ConnectedFor 当前连接持续时间，未连接时为0
func (l *Link) ConnectedFor() time.Duration {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	if l.stats.ConnectedAt == nil {
		return 0
	}
	return l.now().Sub(*l.stats.ConnectedAt)
}
