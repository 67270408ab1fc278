package chargepoint

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charging-platform/charging-station-controller/internal/business/authorization"
	"github.com/charging-platform/charging-station-controller/internal/business/availability"
	"github.com/charging-platform/charging-station-controller/internal/business/certificate"
	"github.com/charging-platform/charging-station-controller/internal/business/registration"
	"github.com/charging-platform/charging-station-controller/internal/business/transaction"
	"github.com/charging-platform/charging-station-controller/internal/devicemodel"
	"github.com/charging-platform/charging-station-controller/internal/domain/events"
	"github.com/charging-platform/charging-station-controller/internal/domain/ocpp201"
	"github.com/charging-platform/charging-station-controller/internal/domain/serialization"
	"github.com/charging-platform/charging-station-controller/internal/domain/validation"
	"github.com/charging-platform/charging-station-controller/internal/logger"
	"github.com/charging-platform/charging-station-controller/internal/metrics"
	protocol "github.com/charging-platform/charging-station-controller/internal/protocol/ocpp201"
	"github.com/charging-platform/charging-station-controller/internal/security"
	"github.com/charging-platform/charging-station-controller/internal/storage"
)

// CredentialStore 证书存储：签名、安装、到期与合约证书校验
type CredentialStore interface {
	certificate.CredentialStore
	VerifyContractChain(chainPEM string) security.ContractVerification
	OCSPRequestData(chainPEM string) ([]ocpp201.OCSPRequestData, error)
}

// SmartCharging 充电配置校验与组合计划
type SmartCharging interface {
	Validate(evseID int, profile ocpp201.ChargingProfile, activeTransactionID string) error
	Add(evseID int, profile ocpp201.ChargingProfile)
	Clear(req ocpp201.ClearChargingProfileRequest) int
	ClearTransactionProfiles(evseID int)
	CompositeSchedule(evseID, duration int, unit *ocpp201.ChargingRateUnit) (*ocpp201.CompositeSchedule, error)
}

// EventPublisher 集成事件导出
type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// Dependencies 外部协作者；Publisher 可为空
type Dependencies struct {
	Transport     protocol.Transport
	Store         storage.Store
	DeviceModel   *devicemodel.DeviceModel
	Credentials   CredentialStore
	SmartCharging SmartCharging
	Publisher     EventPublisher
}

// Callbacks 与充电硬件交互的能力集合
//
// RemoteStartTransaction、StopTransaction、Reset 为必需能力，其余可为空。
type Callbacks struct {
	RemoteStartTransaction func(req ocpp201.RequestStartTransactionRequest, authorizeRemoteStart bool)
	StopTransaction        func(evseID int, reason ocpp201.ReasonType)
	Reset                  func(evseID *int, resetType ocpp201.ResetType)

	PauseCharging    func(evseID int)
	IsResetAllowed   func(evseID *int, resetType ocpp201.ResetType) bool
	DataTransfer     func(req ocpp201.DataTransferRequest) ocpp201.DataTransferResponse
	OnTimeSync       func(currentTime time.Time)
	OnAllInoperative func()
	// OnStationCertificateChanged 安全等级3下站点证书更新，需要重建连接
	OnStationCertificateChanged func()
	OnRegistrationChanged       func(status ocpp201.RegistrationStatus)
}

// ConstructionError 缺少必需的协作者或能力
type ConstructionError struct {
	Missing []string
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("[CONSTRUCTION_ERROR] missing required: %s", strings.Join(e.Missing, ", "))
}

// ManagerConfig 会话控制器配置
type ManagerConfig struct {
	StationID       string                  `json:"station_id"`
	Topology        map[int]int             `json:"topology"`
	ChargingStation ocpp201.ChargingStation `json:"charging_station"`
	MaxMessageSize  int                     `json:"max_message_size"`
	PublishTimeout  time.Duration           `json:"publish_timeout"`

	Queue         *protocol.QueueConfig           `json:"queue"`
	Registration  *registration.ManagerConfig     `json:"registration"`
	Authorization *authorization.EngineConfig     `json:"authorization"`
	Certificate   *certificate.ManagerConfig      `json:"certificate"`
	Availability  *availability.CoordinatorConfig `json:"availability"`
	Transaction   *transaction.ManagerConfig      `json:"transaction"`
}

// DefaultManagerConfig 默认会话控制器配置
func DefaultManagerConfig() *ManagerConfig {
	return &ManagerConfig{
		StationID: "CS-001",
		Topology:  map[int]int{1: 1},
		ChargingStation: ocpp201.ChargingStation{
			Model:      "SC-201",
			VendorName: "ChargingPlatform",
		},
		MaxMessageSize: 65536,
		PublishTimeout: 2 * time.Second,
	}
}

// Manager 会话控制器：入站路由、注册门控与硬件回调入口
type Manager struct {
	config    *ManagerConfig
	callbacks Callbacks

	// 协作者
	transport   protocol.Transport
	store       storage.Store
	deviceModel *devicemodel.DeviceModel
	smart       SmartCharging
	publisher   EventPublisher

	// 子系统
	queue        *protocol.MessageQueue
	registration *registration.Manager
	authorizer   *authorization.Engine
	certificates *certificate.Manager
	availability *availability.Coordinator
	transactions *transaction.Manager

	serializer *serialization.Serializer
	validator  *validation.Validator
	factory    *events.EventFactory
	handlers   map[ocpp201.Action]handlerFunc

	mu        sync.Mutex
	connected bool
	started   bool

	ctx    context.Context
	cancel context.CancelFunc

	logger *logger.Logger
	now    func() time.Time
}

// NewManager 创建会话控制器并装配全部子系统
func NewManager(config *ManagerConfig, deps Dependencies, callbacks Callbacks, log *logger.Logger) (*Manager, error) {
	if config == nil {
		config = DefaultManagerConfig()
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = 2 * time.Second
	}
	if log == nil {
		log = logger.Global()
	}

	var missing []string
	if deps.Transport == nil {
		missing = append(missing, "transport")
	}
	if deps.Store == nil {
		missing = append(missing, "storage")
	}
	if deps.DeviceModel == nil {
		missing = append(missing, "device model")
	}
	if deps.Credentials == nil {
		missing = append(missing, "credential store")
	}
	if deps.SmartCharging == nil {
		missing = append(missing, "smart charging")
	}
	if callbacks.RemoteStartTransaction == nil {
		missing = append(missing, "RemoteStartTransaction callback")
	}
	if callbacks.StopTransaction == nil {
		missing = append(missing, "StopTransaction callback")
	}
	if callbacks.Reset == nil {
		missing = append(missing, "Reset callback")
	}
	if len(config.Topology) == 0 {
		missing = append(missing, "evse topology")
	}
	if len(missing) > 0 {
		return nil, &ConstructionError{Missing: missing}
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		config:      config,
		callbacks:   callbacks,
		transport:   deps.Transport,
		store:       deps.Store,
		deviceModel: deps.DeviceModel,
		smart:       deps.SmartCharging,
		publisher:   deps.Publisher,
		serializer:  serialization.NewSerializer(),
		validator:   validation.NewValidator(),
		factory:     events.NewEventFactory(config.StationID),
		ctx:         ctx,
		cancel:      cancel,
		logger:      log.WithComponent("session"),
		now:         time.Now,
	}

	if err := m.build(deps, log); err != nil {
		cancel()
		return nil, err
	}
	m.handlers = m.routes()
	return m, nil
}

// build 按依赖顺序创建子系统；闭包中引用的子系统在回调触发前均已就绪
func (m *Manager) build(deps Dependencies, log *logger.Logger) error {
	var err error
	m.queue, err = protocol.NewMessageQueue(deps.Transport, deps.Store, m.config.Queue, log.WithComponent("queue"))
	if err != nil {
		return err
	}
	sender := &outbox{queue: m.queue, transport: deps.Transport}

	regConfig := m.config.Registration
	if regConfig == nil {
		regConfig = registration.DefaultManagerConfig()
		regConfig.ChargingStation = m.config.ChargingStation
	}
	if interval, ok := deps.DeviceModel.GetInt(devicemodel.HeartbeatInterval); ok && interval > 0 {
		regConfig.HeartbeatInterval = time.Duration(interval) * time.Second
	}
	m.registration = registration.NewManager(sender, regConfig, registration.Callbacks{
		OnAccepted:      m.onRegistrationAccepted,
		OnStatusChanged: m.onRegistrationChanged,
		OnTimeSync:      m.callbacks.OnTimeSync,
	}, log)

	m.authorizer, err = authorization.NewEngine(deps.DeviceModel, deps.Store, deps.Credentials, sender, m.config.Authorization, log)
	if err != nil {
		return err
	}

	m.certificates, err = certificate.NewManager(deps.Credentials, deps.DeviceModel, sender, m.config.Certificate, certificate.Callbacks{
		OnSecurityEvent:             m.SecurityEvent,
		OnStationCertificateChanged: m.callbacks.OnStationCertificateChanged,
	}, log)
	if err != nil {
		return err
	}

	m.transactions, err = transaction.NewManager(m.config.Topology, deps.DeviceModel, sender, m.config.Transaction, transaction.Callbacks{
		RemoteStartTransaction: m.callbacks.RemoteStartTransaction,
		StopTransaction:        m.callbacks.StopTransaction,
		PauseCharging:          m.callbacks.PauseCharging,
		IsResetAllowed:         m.callbacks.IsResetAllowed,
		Reset:                  m.reset,
		SetEVSEInoperative:     func(evseID int) { m.availability.SetEVSEInoperative(evseID) },
		OnTransactionEnded:     m.onTransactionEnded,
		OnTransactionEvent:     m.onTransactionEvent,
		OnIdTokenInfo: func(token ocpp201.IdToken, info ocpp201.IdTokenInfo) {
			m.authorizer.UpdateCache(m.ctx, token, info)
		},
	}, log)
	if err != nil {
		return err
	}

	m.availability, err = availability.NewCoordinator(m.config.Topology, deps.Store, m.transactions, m.config.Availability, availability.Callbacks{
		OnStatusNotification: m.sendStatusNotification,
		OnStationChanged: func(status ocpp201.OperationalStatus) {
			m.publish(m.factory.CreateAvailabilityChangedEvent(events.AvailabilityInfo{Status: status}))
		},
		OnEVSEChanged: func(evseID int, status ocpp201.OperationalStatus) {
			m.publish(m.factory.CreateAvailabilityChangedEvent(events.AvailabilityInfo{EVSEID: evseID, Status: status}))
		},
		OnConnectorChanged: func(evseID, connectorID int, status ocpp201.OperationalStatus) {
			m.publish(m.factory.CreateAvailabilityChangedEvent(events.AvailabilityInfo{EVSEID: evseID, ConnectorID: connectorID, Status: status}))
		},
		OnAllInoperative: m.callbacks.OnAllInoperative,
	}, log)
	return err
}

// Start 恢复持久化队列并开始处理；传输层已连接时立即发送启动通知
func (m *Manager) Start() error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	if serial := m.config.ChargingStation.SerialNumber; serial != nil {
		if err := m.deviceModel.SetInternal(devicemodel.ChargeBoxSerialNumber, *serial); err != nil {
			m.logger.Warnf("Failed to store serial number: %v", err)
		}
	}
	m.deviceModel.OnChange(m.onVariableChanged)

	if err := m.queue.Start(); err != nil {
		return fmt.Errorf("failed to start message queue: %w", err)
	}
	m.authorizer.Start()

	m.logger.Infof("Session controller started for %s with %d EVSEs", m.config.StationID, len(m.config.Topology))
	if m.transport.IsConnected() {
		m.OnConnected()
	}
	return nil
}

// Stop 停止全部后台任务，未完成的请求以离线结束
func (m *Manager) Stop() error {
	m.cancel()
	m.registration.Stop()
	m.certificates.Stop()
	m.authorizer.Stop()
	if err := m.queue.Stop(); err != nil {
		return err
	}
	m.logger.Info("Session controller stopped")
	return nil
}

// OnConnected 传输层连接建立
func (m *Manager) OnConnected() {
	m.mu.Lock()
	m.connected = true
	m.mu.Unlock()

	metrics.CSMSConnected.Set(1)
	m.queue.Resume()
	m.publish(m.factory.CreateConnectionChangedEvent(true, ""))

	if m.registration.Status() == ocpp201.RegistrationStatusAccepted {
		m.availability.SendAllStatusNotifications()
		return
	}
	m.registration.OnConnected()
}

// OnDisconnected 传输层连接断开；暂停队列，在途请求以离线结束
func (m *Manager) OnDisconnected(reason string) {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()

	metrics.CSMSConnected.Set(0)
	m.queue.Pause()
	m.logger.Warnf("Connection to CSMS lost: %s", reason)
	m.publish(m.factory.CreateConnectionChangedEvent(false, reason))
}

// SetBootReason 设置下次启动通知的原因
func (m *Manager) SetBootReason(reason ocpp201.BootReason) {
	m.registration.SetBootReason(reason)
}

func (m *Manager) onRegistrationAccepted(resp ocpp201.BootNotificationResponse) {
	m.logger.Infof("Registered with CSMS, heartbeat interval %ds", resp.Interval)
	if resp.Interval > 0 {
		if err := m.deviceModel.SetInternal(devicemodel.HeartbeatInterval, strconv.Itoa(resp.Interval)); err != nil {
			m.logger.Warnf("Failed to store heartbeat interval: %v", err)
		}
	}
	m.availability.SendAllStatusNotifications()
	m.certificates.StartExpiryChecks()
}

func (m *Manager) onRegistrationChanged(status ocpp201.RegistrationStatus) {
	m.publish(m.factory.CreateRegistrationChangedEvent(events.RegistrationInfo{
		Status:   status,
		Interval: int(m.registration.HeartbeatInterval() / time.Second),
	}))
	if m.callbacks.OnRegistrationChanged != nil {
		m.callbacks.OnRegistrationChanged(status)
	}
}

// onVariableChanged 设备模型变量变更后的联动
func (m *Manager) onVariableChanged(key devicemodel.Key, value string) {
	switch key {
	case devicemodel.HeartbeatInterval:
		if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
			m.registration.SetHeartbeatInterval(time.Duration(seconds) * time.Second)
		}
	case devicemodel.SecurityProfile:
		m.SecurityEvent(ocpp201.SecurityEventReconfigurationOfSecurityParam, "SecurityProfile set to "+value)
	}
}

// reset 执行重启前上报安全事件
func (m *Manager) reset(evseID *int, resetType ocpp201.ResetType) {
	scope := "station"
	if evseID != nil {
		scope = fmt.Sprintf("evse %d", *evseID)
	}
	m.SecurityEvent(ocpp201.SecurityEventResetOrReboot, fmt.Sprintf("%s reset of %s", resetType, scope))
	m.callbacks.Reset(evseID, resetType)
}

func (m *Manager) onTransactionEnded(evseID int) {
	m.smart.ClearTransactionProfiles(evseID)
	m.availability.TransactionEnded(evseID)
}

func (m *Manager) onTransactionEvent(req ocpp201.TransactionEventRequest) {
	m.publish(m.factory.CreateTransactionEvent(req))
}

// sendStatusNotification 返回false表示消息被丢弃，等待下次变化重发
func (m *Manager) sendStatusNotification(evseID, connectorID int, status ocpp201.ConnectorStatus) bool {
	future := m.pushStatusNotification(evseID, connectorID, status, false)
	m.publish(m.factory.CreateConnectorStatusChangedEvent(events.ConnectorInfo{
		EVSEID: evseID, ConnectorID: connectorID, Status: status,
	}))

	select {
	case <-future.Done():
		resp := future.Wait(m.ctx)
		return resp.Status != protocol.ResponseDiscarded && resp.Status != protocol.ResponseOffline
	default:
		return true
	}
}

func (m *Manager) pushStatusNotification(evseID, connectorID int, status ocpp201.ConnectorStatus, triggered bool) *protocol.Future {
	return m.queue.Push(protocol.OutgoingCall{
		Action: ocpp201.ActionStatusNotification,
		Payload: ocpp201.StatusNotificationRequest{
			Timestamp:       m.now().UTC(),
			ConnectorStatus: status,
			EvseId:          evseID,
			ConnectorId:     connectorID,
		},
		InitiatedByTrigger: triggered,
	})
}

// SecurityEvent 发送SecurityEventNotification并导出安全事件
func (m *Manager) SecurityEvent(eventType, techInfo string) {
	var info *string
	if techInfo != "" {
		if len(techInfo) > 255 {
			techInfo = techInfo[:255]
		}
		info = &techInfo
	}
	m.logger.Warnf("Security event %s: %s", eventType, techInfo)
	m.queue.Push(protocol.OutgoingCall{
		Action: ocpp201.ActionSecurityEventNotification,
		Payload: ocpp201.SecurityEventNotificationRequest{
			Type:      eventType,
			Timestamp: m.now().UTC(),
			TechInfo:  info,
		},
	})
	m.publish(m.factory.CreateSecurityEvent(eventType, info))
}

// publish 导出失败只记录日志
func (m *Manager) publish(event events.Event) {
	if m.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.config.PublishTimeout)
	defer cancel()
	if err := m.publisher.Publish(ctx, event); err != nil {
		m.logger.Warnf("Failed to publish %s: %v", event.GetType(), err)
	}
}

// outbox 合并队列与传输层状态，供子系统发送请求
type outbox struct {
	queue     *protocol.MessageQueue
	transport protocol.Transport
}

func (o *outbox) Push(call protocol.OutgoingCall) *protocol.Future {
	return o.queue.Push(call)
}

func (o *outbox) SetRegistrationStatus(status ocpp201.RegistrationStatus) {
	o.queue.SetRegistrationStatus(status)
}

func (o *outbox) IsConnected() bool {
	return o.transport.IsConnected()
}
