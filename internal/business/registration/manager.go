package registration

import (
	"context"
	"sync"
	"time"

	"github.com/charging-platform/charging-station-controller/internal/domain/ocpp201"
	"github.com/charging-platform/charging-station-controller/internal/logger"
	"github.com/charging-platform/charging-station-controller/internal/metrics"
	protocol "github.com/charging-platform/charging-station-controller/internal/protocol/ocpp201"
)

// CallSender 出站请求通道
type CallSender interface {
	Push(call protocol.OutgoingCall) *protocol.Future
	SetRegistrationStatus(status ocpp201.RegistrationStatus)
}

// Admission 未注册完成时入站请求的处理方式
type Admission int

const (
	// Admit 正常处理
	Admit Admission = iota
	// AdmitBootTriggerOnly 仅接受请求BootNotification的TriggerMessage
	AdmitBootTriggerOnly
	// RejectRequest 以Rejected状态回复，不产生副作用
	RejectRequest
	// Deny 回复SecurityError
	Deny
)

var pendingAllowList = map[ocpp201.Action]Admission{
	ocpp201.ActionGetVariables:            Admit,
	ocpp201.ActionSetVariables:            Admit,
	ocpp201.ActionGetBaseReport:           Admit,
	ocpp201.ActionGetReport:               Admit,
	ocpp201.ActionTriggerMessage:          Admit,
	ocpp201.ActionRequestStartTransaction: RejectRequest,
	ocpp201.ActionRequestStopTransaction:  RejectRequest,
}

// AdmissionFor 按注册状态判定入站请求的处理方式
func AdmissionFor(status ocpp201.RegistrationStatus, action ocpp201.Action) Admission {
	switch status {
	case ocpp201.RegistrationStatusAccepted:
		return Admit
	case ocpp201.RegistrationStatusPending:
		if admission, ok := pendingAllowList[action]; ok {
			return admission
		}
		return Deny
	default:
		if action == ocpp201.ActionTriggerMessage {
			return AdmitBootTriggerOnly
		}
		return Deny
	}
}

// ManagerConfig 注册管理配置
type ManagerConfig struct {
	DefaultRetryInterval time.Duration           `json:"default_retry_interval"`
	HeartbeatInterval    time.Duration           `json:"heartbeat_interval"`
	ChargingStation      ocpp201.ChargingStation `json:"charging_station"`
}

// DefaultManagerConfig 默认注册管理配置
func DefaultManagerConfig() *ManagerConfig {
	return &ManagerConfig{
		DefaultRetryInterval: 60 * time.Second,
		HeartbeatInterval:    300 * time.Second,
		ChargingStation: ocpp201.ChargingStation{
			Model:      "SC-201",
			VendorName: "ChargingPlatform",
		},
	}
}

// Callbacks 注册状态回调，均可为空
type Callbacks struct {
	OnAccepted      func(resp ocpp201.BootNotificationResponse)
	OnStatusChanged func(status ocpp201.RegistrationStatus)
	OnTimeSync      func(currentTime time.Time)
}

// Manager 启动通知与注册状态机
type Manager struct {
	sender    CallSender
	config    *ManagerConfig
	callbacks Callbacks

	// 注册状态
	mu               sync.Mutex
	status           ocpp201.RegistrationStatus
	reason           ocpp201.BootReason
	inFlight         bool
	retryTimer       *time.Timer
	heartbeat        time.Duration
	heartbeatRunning bool
	intervalCh       chan time.Duration

	// 生命周期管理
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *logger.Logger
}

// NewManager 创建注册管理器，初始状态为Rejected
func NewManager(sender CallSender, config *ManagerConfig, callbacks Callbacks, log *logger.Logger) *Manager {
	if config == nil {
		config = DefaultManagerConfig()
	}
	if log == nil {
		log = logger.Global()
	}

	ctx, cancel := context.WithCancel(context.Background())
	metrics.SetRegistrationState(string(ocpp201.RegistrationStatusRejected))

	return &Manager{
		sender:     sender,
		config:     config,
		callbacks:  callbacks,
		status:     ocpp201.RegistrationStatusRejected,
		reason:     ocpp201.BootReasonPowerUp,
		heartbeat:  config.HeartbeatInterval,
		intervalCh: make(chan time.Duration, 1),
		ctx:        ctx,
		cancel:     cancel,
		logger:     log.WithComponent("registration"),
	}
}

// Stop 停止重试与心跳
func (m *Manager) Stop() {
	m.cancel()
	m.mu.Lock()
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// Status 当前注册状态
func (m *Manager) Status() ocpp201.RegistrationStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// SetBootReason 设置下次启动通知的原因
func (m *Manager) SetBootReason(reason ocpp201.BootReason) {
	m.mu.Lock()
	m.reason = reason
	m.mu.Unlock()
}

// OnConnected 连接建立后，未注册时发送启动通知
func (m *Manager) OnConnected() {
	if m.Status() == ocpp201.RegistrationStatusAccepted {
		return
	}
	m.Boot(false)
}

// Boot 发送启动通知；已有在途请求时忽略
func (m *Manager) Boot(triggered bool) {
	m.mu.Lock()
	if m.inFlight || m.ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	m.inFlight = true
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	reason := m.reason
	if triggered {
		reason = ocpp201.BootReasonTriggered
	}
	m.mu.Unlock()

	m.logger.Infof("Sending BootNotification (%s)", reason)
	m.sender.Push(protocol.OutgoingCall{
		Action: ocpp201.ActionBootNotification,
		Payload: ocpp201.BootNotificationRequest{
			Reason:          reason,
			ChargingStation: m.config.ChargingStation,
		},
		InitiatedByTrigger: triggered,
		OnResult:           m.handleBootResult,
	})
}

func (m *Manager) handleBootResult(resp *protocol.Response) {
	m.mu.Lock()
	m.inFlight = false
	m.mu.Unlock()

	var boot ocpp201.BootNotificationResponse
	if err := resp.Decode(&boot); err != nil {
		m.logger.Warnf("BootNotification not answered: %v", err)
		m.scheduleRetry(m.config.DefaultRetryInterval)
		return
	}
	m.apply(boot)
}

// apply 应用启动通知应答
func (m *Manager) apply(boot ocpp201.BootNotificationResponse) {
	m.mu.Lock()
	previous := m.status
	m.status = boot.Status
	m.mu.Unlock()

	m.sender.SetRegistrationStatus(boot.Status)
	metrics.SetRegistrationState(string(boot.Status))
	if previous != boot.Status {
		m.logger.Infof("Registration status %s -> %s", previous, boot.Status)
		if m.callbacks.OnStatusChanged != nil {
			m.callbacks.OnStatusChanged(boot.Status)
		}
	}

	interval := time.Duration(boot.Interval) * time.Second
	switch boot.Status {
	case ocpp201.RegistrationStatusAccepted:
		if m.callbacks.OnTimeSync != nil {
			m.callbacks.OnTimeSync(boot.CurrentTime)
		}
		if interval > 0 {
			m.SetHeartbeatInterval(interval)
		}
		m.startHeartbeat()
		if m.callbacks.OnAccepted != nil {
			m.callbacks.OnAccepted(boot)
		}
	default:
		if interval <= 0 {
			interval = m.config.DefaultRetryInterval
		}
		m.scheduleRetry(interval)
	}
}

func (m *Manager) scheduleRetry(interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx.Err() != nil {
		return
	}
	if m.retryTimer != nil {
		m.retryTimer.Stop()
	}
	m.logger.Infof("Retrying BootNotification in %s", interval)
	m.retryTimer = time.AfterFunc(interval, func() { m.Boot(false) })
}

// SetHeartbeatInterval 修改心跳间隔，心跳已启动时立即生效
func (m *Manager) SetHeartbeatInterval(interval time.Duration) {
	if interval <= 0 {
		return
	}
	m.mu.Lock()
	m.heartbeat = interval
	running := m.heartbeatRunning
	m.mu.Unlock()

	if running {
		select {
		case m.intervalCh <- interval:
		default:
			<-m.intervalCh
			m.intervalCh <- interval
		}
	}
}

// HeartbeatInterval 当前心跳间隔
func (m *Manager) HeartbeatInterval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.heartbeat
}

func (m *Manager) startHeartbeat() {
	m.mu.Lock()
	if m.heartbeatRunning || m.ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	m.heartbeatRunning = true
	interval := m.heartbeat
	m.mu.Unlock()

	m.wg.Add(1)
	go m.heartbeatRoutine(interval)
}

func (m *Manager) heartbeatRoutine(interval time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case d := <-m.intervalCh:
			ticker.Reset(d)
		case <-ticker.C:
			m.SendHeartbeat(false)
		}
	}
}

// SendHeartbeat 发送一次心跳
func (m *Manager) SendHeartbeat(triggered bool) {
	m.sender.Push(protocol.OutgoingCall{
		Action:             ocpp201.ActionHeartbeat,
		Payload:            ocpp201.HeartbeatRequest{},
		InitiatedByTrigger: triggered,
		OnResult: func(resp *protocol.Response) {
			var hb ocpp201.HeartbeatResponse
			if err := resp.Decode(&hb); err != nil {
				m.logger.Debugf("Heartbeat not answered: %v", err)
				return
			}
			if m.callbacks.OnTimeSync != nil {
				m.callbacks.OnTimeSync(hb.CurrentTime)
			}
		},
	})
}
