package events

import (
	"encoding/json"
	"time"

	"github.com/charging-platform/charging-station-controller/internal/domain/ocpp201"
)

// EventType 事件类型
type EventType string

const (
	// 站点连接与注册
	EventTypeStationConnected    EventType = "station.connected"
	EventTypeStationDisconnected EventType = "station.disconnected"
	EventTypeRegistrationChanged EventType = "station.registration_changed"

	// 交易
	EventTypeTransactionEvent EventType = "transaction.event"

	// 授权
	EventTypeAuthorizationDecision EventType = "authorization.decision"

	// 状态
	EventTypeConnectorStatusChanged EventType = "connector.status_changed"
	EventTypeAvailabilityChanged    EventType = "availability.changed"

	// 安全
	EventTypeSecurityEvent EventType = "security.event"

	// 下发给充电硬件的请求
	EventTypeStationRequest EventType = "station.request"
)

// EventSeverity 事件严重程度
type EventSeverity string

const (
	EventSeverityInfo     EventSeverity = "info"
	EventSeverityWarning  EventSeverity = "warning"
	EventSeverityError    EventSeverity = "error"
	EventSeverityCritical EventSeverity = "critical"
)

// Metadata 事件元数据
type Metadata struct {
	Source          string  `json:"source"`                   // 事件源标识
	ProtocolVersion string  `json:"protocol_version"`         // 协议版本
	CorrelationID   *string `json:"correlation_id,omitempty"` // 关联ID
	MessageID       *string `json:"message_id,omitempty"`     // 原始消息ID
}

// RegistrationInfo 注册状态
type RegistrationInfo struct {
	Status   ocpp201.RegistrationStatus `json:"status"`
	Previous ocpp201.RegistrationStatus `json:"previous,omitempty"`
	Interval int                        `json:"interval,omitempty"`
}

// AuthorizationInfo 授权决策
type AuthorizationInfo struct {
	IdToken     string                      `json:"id_token"`
	TokenType   ocpp201.IdTokenType         `json:"token_type"`
	Status      ocpp201.AuthorizationStatus `json:"status"`
	Source      string                      `json:"source"`
	ExpiryDate  *time.Time                  `json:"expiry_date,omitempty"`
	EVSEID      *int                        `json:"evse_id,omitempty"`
	Certificate *string                     `json:"certificate_status,omitempty"`
}

// ConnectorInfo 连接器状态
type ConnectorInfo struct {
	EVSEID      int                     `json:"evse_id"`
	ConnectorID int                     `json:"connector_id"`
	Status      ocpp201.ConnectorStatus `json:"status"`
}

// AvailabilityInfo 运行状态变化，EVSEID为0表示整站
type AvailabilityInfo struct {
	EVSEID      int                       `json:"evse_id"`
	ConnectorID int                       `json:"connector_id,omitempty"`
	Status      ocpp201.OperationalStatus `json:"status"`
}

// SecurityInfo 安全事件
type SecurityInfo struct {
	Type     string  `json:"type"`
	TechInfo *string `json:"tech_info,omitempty"`
}

// StationRequestInfo CSMS要求充电硬件执行的动作
type StationRequestInfo struct {
	Action  string      `json:"action"`
	EVSEID  *int        `json:"evse_id,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
}

// HardwareCommandType 硬件指令类型
type HardwareCommandType string

const (
	HardwareCommandSessionStarted      HardwareCommandType = "session_started"
	HardwareCommandTransactionStarted  HardwareCommandType = "transaction_started"
	HardwareCommandTransactionFinished HardwareCommandType = "transaction_finished"
	HardwareCommandMeterValue          HardwareCommandType = "meter_value"
	HardwareCommandAuthorize           HardwareCommandType = "authorize"
	HardwareCommandConnectorStatus     HardwareCommandType = "connector_status"
	HardwareCommandFault               HardwareCommandType = "fault"
)

// HardwareCommand 充电过程上报的硬件指令
//
// 不同类型使用不同字段；EVSEID、ConnectorID对所有类型必填。
type HardwareCommand struct {
	Type          HardwareCommandType    `json:"type" validate:"required,oneof=session_started transaction_started transaction_finished meter_value authorize connector_status fault"`
	StationID     string                 `json:"station_id,omitempty"`
	EVSEID        int                    `json:"evse_id" validate:"gte=1"`
	ConnectorID   int                    `json:"connector_id" validate:"gte=0"`
	Timestamp     time.Time              `json:"timestamp"`
	IdToken       *ocpp201.IdToken       `json:"id_token,omitempty" validate:"omitempty"`
	Certificate   *string                `json:"certificate,omitempty"`
	MeterWh       *float64               `json:"meter_wh,omitempty"`
	MeterValue    *ocpp201.MeterValue    `json:"meter_value,omitempty" validate:"omitempty"`
	Reason        *ocpp201.ReasonType    `json:"reason,omitempty"`
	ReservationID *int                   `json:"reservation_id,omitempty"`
	Occupied      *bool                  `json:"occupied,omitempty"`
	Faulted       *bool                  `json:"faulted,omitempty"`
	ChargingState *ocpp201.ChargingState `json:"charging_state,omitempty"`
}

// ParseHardwareCommand 解析硬件指令
func ParseHardwareCommand(data []byte) (*HardwareCommand, error) {
	var cmd HardwareCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, err
	}
	return &cmd, nil
}
