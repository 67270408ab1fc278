package ocpp201

import (
	"encoding/json"
	"time"
)

// BootNotificationRequest 启动通知请求
type BootNotificationRequest struct {
	Reason          BootReason      `json:"reason" validate:"required"`
	ChargingStation ChargingStation `json:"chargingStation" validate:"required"`
}

// BootNotificationResponse 启动通知响应
type BootNotificationResponse struct {
	CurrentTime time.Time          `json:"currentTime" validate:"required"`
	Interval    int                `json:"interval" validate:"gte=0"`
	Status      RegistrationStatus `json:"status" validate:"required,oneof=Accepted Pending Rejected"`
	StatusInfo  *StatusInfo        `json:"statusInfo,omitempty" validate:"omitempty"`
}

// HeartbeatRequest 心跳请求
type HeartbeatRequest struct{}

// HeartbeatResponse 心跳响应
type HeartbeatResponse struct {
	CurrentTime time.Time `json:"currentTime" validate:"required"`
}

// StatusNotificationRequest 状态通知请求
type StatusNotificationRequest struct {
	Timestamp       time.Time       `json:"timestamp" validate:"required"`
	ConnectorStatus ConnectorStatus `json:"connectorStatus" validate:"required"`
	EvseId          int             `json:"evseId" validate:"gte=0"`
	ConnectorId     int             `json:"connectorId" validate:"gte=0"`
}

// StatusNotificationResponse 状态通知响应
type StatusNotificationResponse struct{}

// AuthorizeRequest 授权请求
type AuthorizeRequest struct {
	IdToken                     IdToken           `json:"idToken" validate:"required"`
	Certificate                 *string           `json:"certificate,omitempty" validate:"omitempty,max=5500"`
	Iso15118CertificateHashData []OCSPRequestData `json:"iso15118CertificateHashData,omitempty" validate:"omitempty,max=4,dive"`
}

// AuthorizeResponse 授权响应
type AuthorizeResponse struct {
	IdTokenInfo       IdTokenInfo                 `json:"idTokenInfo" validate:"required"`
	CertificateStatus *AuthorizeCertificateStatus `json:"certificateStatus,omitempty"`
}

// TransactionEventRequest 交易事件请求
type TransactionEventRequest struct {
	EventType          TransactionEventType `json:"eventType" validate:"required"`
	Timestamp          time.Time            `json:"timestamp" validate:"required"`
	TriggerReason      TriggerReason        `json:"triggerReason" validate:"required"`
	SeqNo              int                  `json:"seqNo" validate:"gte=0"`
	Offline            bool                 `json:"offline,omitempty"`
	NumberOfPhasesUsed *int                 `json:"numberOfPhasesUsed,omitempty"`
	CableMaxCurrent    *int                 `json:"cableMaxCurrent,omitempty"`
	ReservationId      *int                 `json:"reservationId,omitempty"`
	TransactionInfo    Transaction          `json:"transactionInfo" validate:"required"`
	Evse               *EVSE                `json:"evse,omitempty"`
	IdToken            *IdToken             `json:"idToken,omitempty"`
	MeterValue         []MeterValue         `json:"meterValue,omitempty" validate:"omitempty,dive"`
}

// TransactionEventResponse 交易事件响应
type TransactionEventResponse struct {
	TotalCost              *float64        `json:"totalCost,omitempty"`
	ChargingPriority       *int            `json:"chargingPriority,omitempty"`
	IdTokenInfo            *IdTokenInfo    `json:"idTokenInfo,omitempty" validate:"omitempty"`
	UpdatedPersonalMessage *MessageContent `json:"updatedPersonalMessage,omitempty"`
}

// MeterValuesRequest 电表值请求
type MeterValuesRequest struct {
	EvseId     int          `json:"evseId" validate:"gte=0"`
	MeterValue []MeterValue `json:"meterValue" validate:"required,min=1,dive"`
}

// MeterValuesResponse 电表值响应
type MeterValuesResponse struct{}

// SecurityEventNotificationRequest 安全事件通知请求
type SecurityEventNotificationRequest struct {
	Type      string    `json:"type" validate:"required,max=50"`
	Timestamp time.Time `json:"timestamp" validate:"required"`
	TechInfo  *string   `json:"techInfo,omitempty" validate:"omitempty,max=255"`
}

// SecurityEventNotificationResponse 安全事件通知响应
type SecurityEventNotificationResponse struct{}

// SignCertificateRequest 证书签名请求
type SignCertificateRequest struct {
	Csr             string                 `json:"csr" validate:"required,max=5500"`
	CertificateType *CertificateSigningUse `json:"certificateType,omitempty"`
}

// SignCertificateResponse 证书签名响应
type SignCertificateResponse struct {
	Status     GenericStatus `json:"status" validate:"required,oneof=Accepted Rejected"`
	StatusInfo *StatusInfo   `json:"statusInfo,omitempty"`
}

// CertificateSignedRequest 证书下发请求
type CertificateSignedRequest struct {
	CertificateChain string                 `json:"certificateChain" validate:"required,max=10000"`
	CertificateType  *CertificateSigningUse `json:"certificateType,omitempty"`
}

// CertificateSignedResponse 证书下发响应
type CertificateSignedResponse struct {
	Status     GenericStatus `json:"status"`
	StatusInfo *StatusInfo   `json:"statusInfo,omitempty"`
}

// NotifyReportRequest 报告通知请求
type NotifyReportRequest struct {
	RequestId   int          `json:"requestId"`
	GeneratedAt time.Time    `json:"generatedAt"`
	Tbc         bool         `json:"tbc,omitempty"`
	SeqNo       int          `json:"seqNo"`
	ReportData  []ReportData `json:"reportData,omitempty"`
}

// NotifyReportResponse 报告通知响应
type NotifyReportResponse struct{}

// GetVariableData 读变量项
type GetVariableData struct {
	AttributeType *AttributeType `json:"attributeType,omitempty"`
	Component     Component      `json:"component" validate:"required"`
	Variable      Variable       `json:"variable" validate:"required"`
}

// GetVariableResult 读变量结果
type GetVariableResult struct {
	AttributeStatus GetVariableStatus `json:"attributeStatus"`
	AttributeType   *AttributeType    `json:"attributeType,omitempty"`
	AttributeValue  *string           `json:"attributeValue,omitempty"`
	Component       Component         `json:"component"`
	Variable        Variable          `json:"variable"`
}

// GetVariablesRequest 读变量请求
type GetVariablesRequest struct {
	GetVariableData []GetVariableData `json:"getVariableData" validate:"required,min=1,dive"`
}

// GetVariablesResponse 读变量响应
type GetVariablesResponse struct {
	GetVariableResult []GetVariableResult `json:"getVariableResult"`
}

// SetVariableData 写变量项
type SetVariableData struct {
	AttributeType  *AttributeType `json:"attributeType,omitempty"`
	AttributeValue string         `json:"attributeValue" validate:"max=1000"`
	Component      Component      `json:"component" validate:"required"`
	Variable       Variable       `json:"variable" validate:"required"`
}

// SetVariableResult 写变量结果
type SetVariableResult struct {
	AttributeType   *AttributeType    `json:"attributeType,omitempty"`
	AttributeStatus SetVariableStatus `json:"attributeStatus"`
	Component       Component         `json:"component"`
	Variable        Variable          `json:"variable"`
	StatusInfo      *StatusInfo       `json:"attributeStatusInfo,omitempty"`
}

// SetVariablesRequest 写变量请求
type SetVariablesRequest struct {
	SetVariableData []SetVariableData `json:"setVariableData" validate:"required,min=1,dive"`
}

// SetVariablesResponse 写变量响应
type SetVariablesResponse struct {
	SetVariableResult []SetVariableResult `json:"setVariableResult"`
}

// GetBaseReportRequest 基础报告请求
type GetBaseReportRequest struct {
	RequestId  int        `json:"requestId"`
	ReportBase ReportBase `json:"reportBase" validate:"required"`
}

// GetBaseReportResponse 基础报告响应
type GetBaseReportResponse struct {
	Status GenericDeviceModelStatus `json:"status"`
}

// GetReportRequest 报告请求
type GetReportRequest struct {
	RequestId         int                 `json:"requestId"`
	ComponentVariable []ComponentVariable `json:"componentVariable,omitempty" validate:"omitempty,dive"`
}

// GetReportResponse 报告响应
type GetReportResponse struct {
	Status GenericDeviceModelStatus `json:"status"`
}

// TriggerMessageRequest 触发消息请求
type TriggerMessageRequest struct {
	RequestedMessage MessageTrigger `json:"requestedMessage" validate:"required"`
	Evse             *EVSE          `json:"evse,omitempty" validate:"omitempty"`
}

// TriggerMessageResponse 触发消息响应
type TriggerMessageResponse struct {
	Status TriggerMessageStatus `json:"status"`
}

// ResetRequest 重启请求
type ResetRequest struct {
	Type   ResetType `json:"type" validate:"required,oneof=Immediate OnIdle"`
	EvseId *int      `json:"evseId,omitempty" validate:"omitempty,gte=0"`
}

// ResetResponse 重启响应
type ResetResponse struct {
	Status ResetStatus `json:"status"`
}

// ChangeAvailabilityRequest 可用性变更请求
type ChangeAvailabilityRequest struct {
	OperationalStatus OperationalStatus `json:"operationalStatus" validate:"required,oneof=Operative Inoperative"`
	Evse              *EVSE             `json:"evse,omitempty" validate:"omitempty"`
}

// ChangeAvailabilityResponse 可用性变更响应
type ChangeAvailabilityResponse struct {
	Status ChangeAvailabilityStatus `json:"status"`
}

// RequestStartTransactionRequest 远程启动请求
type RequestStartTransactionRequest struct {
	EvseId          *int             `json:"evseId,omitempty" validate:"omitempty,gt=0"`
	RemoteStartId   int              `json:"remoteStartId"`
	IdToken         IdToken          `json:"idToken" validate:"required"`
	ChargingProfile *ChargingProfile `json:"chargingProfile,omitempty" validate:"omitempty"`
	GroupIdToken    *IdToken         `json:"groupIdToken,omitempty" validate:"omitempty"`
}

// RequestStartTransactionResponse 远程启动响应
type RequestStartTransactionResponse struct {
	Status        RequestStartStopStatus `json:"status"`
	TransactionId *string                `json:"transactionId,omitempty"`
}

// RequestStopTransactionRequest 远程停止请求
type RequestStopTransactionRequest struct {
	TransactionId string `json:"transactionId" validate:"required,max=36"`
}

// RequestStopTransactionResponse 远程停止响应
type RequestStopTransactionResponse struct {
	Status RequestStartStopStatus `json:"status"`
}

// ClearCacheRequest 清除缓存请求
type ClearCacheRequest struct{}

// ClearCacheResponse 清除缓存响应
type ClearCacheResponse struct {
	Status ClearCacheStatus `json:"status"`
}

// SendLocalListRequest 本地列表下发请求
type SendLocalListRequest struct {
	VersionNumber          int                 `json:"versionNumber"`
	UpdateType             UpdateType          `json:"updateType" validate:"required,oneof=Differential Full"`
	LocalAuthorizationList []AuthorizationData `json:"localAuthorizationList,omitempty" validate:"omitempty,dive"`
}

// SendLocalListResponse 本地列表下发响应
type SendLocalListResponse struct {
	Status SendLocalListStatus `json:"status"`
}

// GetLocalListVersionRequest 本地列表版本请求
type GetLocalListVersionRequest struct{}

// GetLocalListVersionResponse 本地列表版本响应
type GetLocalListVersionResponse struct {
	VersionNumber int `json:"versionNumber"`
}

// DataTransferRequest 数据传输请求
type DataTransferRequest struct {
	MessageId *string         `json:"messageId,omitempty" validate:"omitempty,max=50"`
	Data      json.RawMessage `json:"data,omitempty"`
	VendorId  string          `json:"vendorId" validate:"required,max=255"`
}

// DataTransferResponse 数据传输响应
type DataTransferResponse struct {
	Status DataTransferStatus `json:"status"`
	Data   json.RawMessage    `json:"data,omitempty"`
}

// SetChargingProfileRequest 充电配置下发请求
type SetChargingProfileRequest struct {
	EvseId          int             `json:"evseId" validate:"gte=0"`
	ChargingProfile ChargingProfile `json:"chargingProfile" validate:"required"`
}

// SetChargingProfileResponse 充电配置下发响应
type SetChargingProfileResponse struct {
	Status     ChargingProfileStatus `json:"status"`
	StatusInfo *StatusInfo           `json:"statusInfo,omitempty"`
}

// ClearChargingProfileRequest 清除充电配置请求
type ClearChargingProfileRequest struct {
	ChargingProfileId       *int                      `json:"chargingProfileId,omitempty"`
	ChargingProfileCriteria *ChargingProfileCriterion `json:"chargingProfileCriteria,omitempty"`
}

// ClearChargingProfileResponse 清除充电配置响应
type ClearChargingProfileResponse struct {
	Status ClearChargingProfileStatus `json:"status"`
}

// GetCompositeScheduleRequest 组合计划请求
type GetCompositeScheduleRequest struct {
	Duration         int               `json:"duration" validate:"gte=0"`
	ChargingRateUnit *ChargingRateUnit `json:"chargingRateUnit,omitempty"`
	EvseId           int               `json:"evseId" validate:"gte=0"`
}

// GetCompositeScheduleResponse 组合计划响应
type GetCompositeScheduleResponse struct {
	Status   GenericStatus      `json:"status"`
	Schedule *CompositeSchedule `json:"schedule,omitempty"`
}

// CustomerInformationRequest 客户信息请求
type CustomerInformationRequest struct {
	RequestId          int      `json:"requestId"`
	Report             bool     `json:"report"`
	Clear              bool     `json:"clear"`
	CustomerIdentifier *string  `json:"customerIdentifier,omitempty" validate:"omitempty,max=64"`
	IdToken            *IdToken `json:"idToken,omitempty" validate:"omitempty"`
}

// CustomerInformationResponse 客户信息响应
type CustomerInformationResponse struct {
	Status CustomerInformationStatus `json:"status"`
}

// SetVariableMonitoringRequest 变量监控设置请求
type SetVariableMonitoringRequest struct {
	SetMonitoringData []SetMonitoringData `json:"setMonitoringData" validate:"required,min=1,dive"`
}

// SetVariableMonitoringResponse 变量监控设置响应
type SetVariableMonitoringResponse struct {
	SetMonitoringResult []SetMonitoringResult `json:"setMonitoringResult"`
}

// ClearVariableMonitoringRequest 变量监控清除请求
type ClearVariableMonitoringRequest struct {
	Id []int `json:"id" validate:"required,min=1"`
}

// ClearVariableMonitoringResponse 变量监控清除响应
type ClearVariableMonitoringResponse struct {
	ClearMonitoringResult []ClearMonitoringResult `json:"clearMonitoringResult"`
}

// IsTransactionAction 判断动作是否为交易相关消息
func IsTransactionAction(action Action) bool {
	return action == ActionTransactionEvent || action == ActionMeterValues
}

// IsRegistrationAction 判断动作是否属于注册引导阶段
func IsRegistrationAction(action Action) bool {
	return action == ActionBootNotification
}
