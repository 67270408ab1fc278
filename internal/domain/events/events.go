package events

import (
	"encoding/json"
	"time"

	"github.com/charging-platform/charging-station-controller/internal/domain/ocpp201"
	"github.com/google/uuid"
)

// Event 对外导出的集成事件
type Event interface {
	// GetID 获取事件ID
	GetID() string
	// GetType 获取事件类型
	GetType() EventType
	// GetStationID 获取充电站ID
	GetStationID() string
	// GetTimestamp 获取事件时间戳
	GetTimestamp() time.Time
	// GetSeverity 获取事件严重程度
	GetSeverity() EventSeverity
	// GetMetadata 获取事件元数据
	GetMetadata() Metadata
	// GetPayload 获取事件载荷
	GetPayload() interface{}
	// ToJSON 序列化为JSON
	ToJSON() ([]byte, error)
}

// BaseEvent 基础事件结构
type BaseEvent struct {
	ID        string        `json:"id"`
	Type      EventType     `json:"type"`
	StationID string        `json:"station_id"`
	Timestamp time.Time     `json:"timestamp"`
	Severity  EventSeverity `json:"severity"`
	Metadata  Metadata      `json:"metadata"`
}

// GetID 实现Event接口
func (e *BaseEvent) GetID() string {
	return e.ID
}

// GetType 实现Event接口
func (e *BaseEvent) GetType() EventType {
	return e.Type
}

// GetStationID 实现Event接口
func (e *BaseEvent) GetStationID() string {
	return e.StationID
}

// GetTimestamp 实现Event接口
func (e *BaseEvent) GetTimestamp() time.Time {
	return e.Timestamp
}

// GetSeverity 实现Event接口
func (e *BaseEvent) GetSeverity() EventSeverity {
	return e.Severity
}

// GetMetadata 实现Event接口
func (e *BaseEvent) GetMetadata() Metadata {
	return e.Metadata
}

// NewBaseEvent 创建基础事件
func NewBaseEvent(eventType EventType, stationID string, severity EventSeverity, metadata Metadata) *BaseEvent {
	return &BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		StationID: stationID,
		Timestamp: time.Now().UTC(),
		Severity:  severity,
		Metadata:  metadata,
	}
}

// ConnectionChangedEvent 与CSMS的连接状态变化
type ConnectionChangedEvent struct {
	*BaseEvent
	Connected bool   `json:"connected"`
	Reason    string `json:"reason,omitempty"`
}

// GetPayload 实现Event接口
func (e *ConnectionChangedEvent) GetPayload() interface{} {
	return map[string]interface{}{
		"connected": e.Connected,
		"reason":    e.Reason,
	}
}

// ToJSON 实现Event接口
func (e *ConnectionChangedEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// RegistrationChangedEvent 注册状态变化
type RegistrationChangedEvent struct {
	*BaseEvent
	Registration RegistrationInfo `json:"registration"`
}

// GetPayload 实现Event接口
func (e *RegistrationChangedEvent) GetPayload() interface{} {
	return e.Registration
}

// ToJSON 实现Event接口
func (e *RegistrationChangedEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// TransactionEvent 已排队发送的TransactionEvent
type TransactionEvent struct {
	*BaseEvent
	Request ocpp201.TransactionEventRequest `json:"request"`
}

// GetPayload 实现Event接口
func (e *TransactionEvent) GetPayload() interface{} {
	return e.Request
}

// ToJSON 实现Event接口
func (e *TransactionEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// AuthorizationDecisionEvent 授权决策
type AuthorizationDecisionEvent struct {
	*BaseEvent
	Authorization AuthorizationInfo `json:"authorization"`
}

// GetPayload 实现Event接口
func (e *AuthorizationDecisionEvent) GetPayload() interface{} {
	return e.Authorization
}

// ToJSON 实现Event接口
func (e *AuthorizationDecisionEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// ConnectorStatusChangedEvent 连接器状态变化
type ConnectorStatusChangedEvent struct {
	*BaseEvent
	Connector ConnectorInfo `json:"connector"`
}

// GetPayload 实现Event接口
func (e *ConnectorStatusChangedEvent) GetPayload() interface{} {
	return e.Connector
}

// ToJSON 实现Event接口
func (e *ConnectorStatusChangedEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// AvailabilityChangedEvent 运行状态变化
type AvailabilityChangedEvent struct {
	*BaseEvent
	Availability AvailabilityInfo `json:"availability"`
}

// GetPayload 实现Event接口
func (e *AvailabilityChangedEvent) GetPayload() interface{} {
	return e.Availability
}

// ToJSON 实现Event接口
func (e *AvailabilityChangedEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// SecurityEvent 安全事件
type SecurityEvent struct {
	*BaseEvent
	Security SecurityInfo `json:"security"`
}

// GetPayload 实现Event接口
func (e *SecurityEvent) GetPayload() interface{} {
	return e.Security
}

// ToJSON 实现Event接口
func (e *SecurityEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// StationRequestEvent 转发给充电硬件的请求
type StationRequestEvent struct {
	*BaseEvent
	Request StationRequestInfo `json:"request"`
}

// GetPayload 实现Event接口
func (e *StationRequestEvent) GetPayload() interface{} {
	return e.Request
}

// ToJSON 实现Event接口
func (e *StationRequestEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// EventFactory 事件工厂，统一填充站点标识与元数据
type EventFactory struct {
	stationID string
	metadata  Metadata
}

// NewEventFactory 创建事件工厂
func NewEventFactory(stationID string) *EventFactory {
	return &EventFactory{
		stationID: stationID,
		metadata: Metadata{
			Source:          "station-controller",
			ProtocolVersion: "ocpp2.0.1",
		},
	}
}

// StationID 工厂绑定的站点标识
func (f *EventFactory) StationID() string {
	return f.stationID
}

func (f *EventFactory) base(eventType EventType, severity EventSeverity) *BaseEvent {
	return NewBaseEvent(eventType, f.stationID, severity, f.metadata)
}

// CreateConnectionChangedEvent 创建连接状态事件
func (f *EventFactory) CreateConnectionChangedEvent(connected bool, reason string) *ConnectionChangedEvent {
	eventType, severity := EventTypeStationConnected, EventSeverityInfo
	if !connected {
		eventType, severity = EventTypeStationDisconnected, EventSeverityWarning
	}
	return &ConnectionChangedEvent{
		BaseEvent: f.base(eventType, severity),
		Connected: connected,
		Reason:    reason,
	}
}

// CreateRegistrationChangedEvent 创建注册状态事件
func (f *EventFactory) CreateRegistrationChangedEvent(info RegistrationInfo) *RegistrationChangedEvent {
	severity := EventSeverityInfo
	if info.Status == ocpp201.RegistrationStatusRejected {
		severity = EventSeverityWarning
	}
	return &RegistrationChangedEvent{
		BaseEvent:    f.base(EventTypeRegistrationChanged, severity),
		Registration: info,
	}
}

// CreateTransactionEvent 创建交易事件
func (f *EventFactory) CreateTransactionEvent(req ocpp201.TransactionEventRequest) *TransactionEvent {
	event := &TransactionEvent{
		BaseEvent: f.base(EventTypeTransactionEvent, EventSeverityInfo),
		Request:   req,
	}
	transactionID := req.TransactionInfo.TransactionId
	event.Metadata.CorrelationID = &transactionID
	return event
}

// CreateAuthorizationDecisionEvent 创建授权决策事件
func (f *EventFactory) CreateAuthorizationDecisionEvent(info AuthorizationInfo) *AuthorizationDecisionEvent {
	severity := EventSeverityInfo
	if info.Status != ocpp201.AuthorizationStatusAccepted {
		severity = EventSeverityWarning
	}
	return &AuthorizationDecisionEvent{
		BaseEvent:     f.base(EventTypeAuthorizationDecision, severity),
		Authorization: info,
	}
}

// CreateConnectorStatusChangedEvent 创建连接器状态事件
func (f *EventFactory) CreateConnectorStatusChangedEvent(info ConnectorInfo) *ConnectorStatusChangedEvent {
	severity := EventSeverityInfo
	if info.Status == ocpp201.ConnectorStatusFaulted {
		severity = EventSeverityError
	}
	return &ConnectorStatusChangedEvent{
		BaseEvent: f.base(EventTypeConnectorStatusChanged, severity),
		Connector: info,
	}
}

// CreateAvailabilityChangedEvent 创建运行状态事件
func (f *EventFactory) CreateAvailabilityChangedEvent(info AvailabilityInfo) *AvailabilityChangedEvent {
	return &AvailabilityChangedEvent{
		BaseEvent:    f.base(EventTypeAvailabilityChanged, EventSeverityInfo),
		Availability: info,
	}
}

// CreateSecurityEvent 创建安全事件
func (f *EventFactory) CreateSecurityEvent(eventType string, techInfo *string) *SecurityEvent {
	return &SecurityEvent{
		BaseEvent: f.base(EventTypeSecurityEvent, EventSeverityWarning),
		Security:  SecurityInfo{Type: eventType, TechInfo: techInfo},
	}
}

// CreateStationRequestEvent 创建硬件请求事件
func (f *EventFactory) CreateStationRequestEvent(info StationRequestInfo) *StationRequestEvent {
	return &StationRequestEvent{
		BaseEvent: f.base(EventTypeStationRequest, EventSeverityInfo),
		Request:   info,
	}
}
