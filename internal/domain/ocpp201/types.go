package ocpp201

import (
	"time"
)

// Action OCPP 2.0.1 动作类型
type Action string

const (
	ActionAuthorize                 Action = "Authorize"
	ActionBootNotification          Action = "BootNotification"
	ActionCertificateSigned         Action = "CertificateSigned"
	ActionChangeAvailability        Action = "ChangeAvailability"
	ActionClearCache                Action = "ClearCache"
	ActionClearChargingProfile      Action = "ClearChargingProfile"
	ActionClearVariableMonitoring   Action = "ClearVariableMonitoring"
	ActionCustomerInformation       Action = "CustomerInformation"
	ActionDataTransfer              Action = "DataTransfer"
	ActionGetBaseReport             Action = "GetBaseReport"
	ActionGetCompositeSchedule      Action = "GetCompositeSchedule"
	ActionGetLocalListVersion       Action = "GetLocalListVersion"
	ActionGetReport                 Action = "GetReport"
	ActionGetVariables              Action = "GetVariables"
	ActionHeartbeat                 Action = "Heartbeat"
	ActionMeterValues               Action = "MeterValues"
	ActionNotifyReport              Action = "NotifyReport"
	ActionRequestStartTransaction   Action = "RequestStartTransaction"
	ActionRequestStopTransaction    Action = "RequestStopTransaction"
	ActionReset                     Action = "Reset"
	ActionSecurityEventNotification Action = "SecurityEventNotification"
	ActionSendLocalList             Action = "SendLocalList"
	ActionSetChargingProfile        Action = "SetChargingProfile"
	ActionSetVariableMonitoring     Action = "SetVariableMonitoring"
	ActionSetVariables              Action = "SetVariables"
	ActionSignCertificate           Action = "SignCertificate"
	ActionStatusNotification        Action = "StatusNotification"
	ActionTransactionEvent          Action = "TransactionEvent"
	ActionTriggerMessage            Action = "TriggerMessage"
)

// RegistrationStatus 注册状态
type RegistrationStatus string

const (
	RegistrationStatusAccepted RegistrationStatus = "Accepted"
	RegistrationStatusPending  RegistrationStatus = "Pending"
	RegistrationStatusRejected RegistrationStatus = "Rejected"
)

// BootReason 启动原因
type BootReason string

const (
	BootReasonApplicationReset BootReason = "ApplicationReset"
	BootReasonFirmwareUpdate   BootReason = "FirmwareUpdate"
	BootReasonLocalReset       BootReason = "LocalReset"
	BootReasonPowerUp          BootReason = "PowerUp"
	BootReasonRemoteReset      BootReason = "RemoteReset"
	BootReasonScheduledReset   BootReason = "ScheduledReset"
	BootReasonTriggered        BootReason = "Triggered"
	BootReasonUnknown          BootReason = "Unknown"
	BootReasonWatchdog         BootReason = "Watchdog"
)

// AuthorizationStatus 授权状态
type AuthorizationStatus string

const (
	AuthorizationStatusAccepted           AuthorizationStatus = "Accepted"
	AuthorizationStatusBlocked            AuthorizationStatus = "Blocked"
	AuthorizationStatusConcurrentTx       AuthorizationStatus = "ConcurrentTx"
	AuthorizationStatusExpired            AuthorizationStatus = "Expired"
	AuthorizationStatusInvalid            AuthorizationStatus = "Invalid"
	AuthorizationStatusNoCredit           AuthorizationStatus = "NoCredit"
	AuthorizationStatusNotAllowedTypeEVSE AuthorizationStatus = "NotAllowedTypeEVSE"
	AuthorizationStatusNotAtThisLocation  AuthorizationStatus = "NotAtThisLocation"
	AuthorizationStatusNotAtThisTime      AuthorizationStatus = "NotAtThisTime"
	AuthorizationStatusUnknown            AuthorizationStatus = "Unknown"
)

// AuthorizeCertificateStatus 合约证书校验状态
type AuthorizeCertificateStatus string

const (
	CertificateStatusAccepted               AuthorizeCertificateStatus = "Accepted"
	CertificateStatusSignatureError         AuthorizeCertificateStatus = "SignatureError"
	CertificateStatusCertificateExpired     AuthorizeCertificateStatus = "CertificateExpired"
	CertificateStatusCertificateRevoked     AuthorizeCertificateStatus = "CertificateRevoked"
	CertificateStatusNoCertificateAvailable AuthorizeCertificateStatus = "NoCertificateAvailable"
	CertificateStatusCertChainError         AuthorizeCertificateStatus = "CertChainError"
	CertificateStatusContractCancelled      AuthorizeCertificateStatus = "ContractCancelled"
)

// IdTokenType 标识类型
type IdTokenType string

const (
	IdTokenTypeCentral         IdTokenType = "Central"
	IdTokenTypeEMAID           IdTokenType = "eMAID"
	IdTokenTypeISO14443        IdTokenType = "ISO14443"
	IdTokenTypeISO15693        IdTokenType = "ISO15693"
	IdTokenTypeKeyCode         IdTokenType = "KeyCode"
	IdTokenTypeLocal           IdTokenType = "Local"
	IdTokenTypeMacAddress      IdTokenType = "MacAddress"
	IdTokenTypeNoAuthorization IdTokenType = "NoAuthorization"
)

// OperationalStatus 运行状态
type OperationalStatus string

const (
	OperationalStatusOperative   OperationalStatus = "Operative"
	OperationalStatusInoperative OperationalStatus = "Inoperative"
)

// ChangeAvailabilityStatus 可用性变更结果
type ChangeAvailabilityStatus string

const (
	ChangeAvailabilityStatusAccepted  ChangeAvailabilityStatus = "Accepted"
	ChangeAvailabilityStatusRejected  ChangeAvailabilityStatus = "Rejected"
	ChangeAvailabilityStatusScheduled ChangeAvailabilityStatus = "Scheduled"
)

// ConnectorStatus 连接器状态
type ConnectorStatus string

const (
	ConnectorStatusAvailable   ConnectorStatus = "Available"
	ConnectorStatusOccupied    ConnectorStatus = "Occupied"
	ConnectorStatusReserved    ConnectorStatus = "Reserved"
	ConnectorStatusUnavailable ConnectorStatus = "Unavailable"
	ConnectorStatusFaulted     ConnectorStatus = "Faulted"
)

// ResetType 重启类型
type ResetType string

const (
	ResetTypeImmediate ResetType = "Immediate"
	ResetTypeOnIdle    ResetType = "OnIdle"
)

// ResetStatus 重启结果
type ResetStatus string

const (
	ResetStatusAccepted  ResetStatus = "Accepted"
	ResetStatusRejected  ResetStatus = "Rejected"
	ResetStatusScheduled ResetStatus = "Scheduled"
)

// RequestStartStopStatus 远程启停结果
type RequestStartStopStatus string

const (
	RequestStartStopStatusAccepted RequestStartStopStatus = "Accepted"
	RequestStartStopStatusRejected RequestStartStopStatus = "Rejected"
)

// TransactionEventType 交易事件类型
type TransactionEventType string

const (
	TransactionEventStarted TransactionEventType = "Started"
	TransactionEventUpdated TransactionEventType = "Updated"
	TransactionEventEnded   TransactionEventType = "Ended"
)

// TriggerReason 交易事件触发原因
type TriggerReason string

const (
	TriggerReasonAuthorized           TriggerReason = "Authorized"
	TriggerReasonCablePluggedIn       TriggerReason = "CablePluggedIn"
	TriggerReasonChargingRateChanged  TriggerReason = "ChargingRateChanged"
	TriggerReasonChargingStateChanged TriggerReason = "ChargingStateChanged"
	TriggerReasonDeauthorized         TriggerReason = "Deauthorized"
	TriggerReasonEnergyLimitReached   TriggerReason = "EnergyLimitReached"
	TriggerReasonEVCommunicationLost  TriggerReason = "EVCommunicationLost"
	TriggerReasonEVConnectTimeout     TriggerReason = "EVConnectTimeout"
	TriggerReasonMeterValueClock      TriggerReason = "MeterValueClock"
	TriggerReasonMeterValuePeriodic   TriggerReason = "MeterValuePeriodic"
	TriggerReasonTimeLimitReached     TriggerReason = "TimeLimitReached"
	TriggerReasonTrigger              TriggerReason = "Trigger"
	TriggerReasonUnlockCommand        TriggerReason = "UnlockCommand"
	TriggerReasonStopAuthorized       TriggerReason = "StopAuthorized"
	TriggerReasonEVDeparted           TriggerReason = "EVDeparted"
	TriggerReasonEVDetected           TriggerReason = "EVDetected"
	TriggerReasonRemoteStop           TriggerReason = "RemoteStop"
	TriggerReasonRemoteStart          TriggerReason = "RemoteStart"
	TriggerReasonAbnormalCondition    TriggerReason = "AbnormalCondition"
	TriggerReasonSignedDataReceived   TriggerReason = "SignedDataReceived"
	TriggerReasonResetCommand         TriggerReason = "ResetCommand"
)

// ReasonType 交易结束原因
type ReasonType string

const (
	ReasonDeAuthorized       ReasonType = "DeAuthorized"
	ReasonEmergencyStop      ReasonType = "EmergencyStop"
	ReasonEnergyLimitReached ReasonType = "EnergyLimitReached"
	ReasonEVDisconnected     ReasonType = "EVDisconnected"
	ReasonGroundFault        ReasonType = "GroundFault"
	ReasonImmediateReset     ReasonType = "ImmediateReset"
	ReasonLocal              ReasonType = "Local"
	ReasonLocalOutOfCredit   ReasonType = "LocalOutOfCredit"
	ReasonMasterPass         ReasonType = "MasterPass"
	ReasonOther              ReasonType = "Other"
	ReasonOvercurrentFault   ReasonType = "OvercurrentFault"
	ReasonPowerLoss          ReasonType = "PowerLoss"
	ReasonPowerQuality       ReasonType = "PowerQuality"
	ReasonReboot             ReasonType = "Reboot"
	ReasonRemote             ReasonType = "Remote"
	ReasonSOCLimitReached    ReasonType = "SOCLimitReached"
	ReasonStoppedByEV        ReasonType = "StoppedByEV"
	ReasonTimeLimitReached   ReasonType = "TimeLimitReached"
	ReasonTimeout            ReasonType = "Timeout"
)

// ChargingState 充电状态
type ChargingState string

const (
	ChargingStateCharging      ChargingState = "Charging"
	ChargingStateEVConnected   ChargingState = "EVConnected"
	ChargingStateSuspendedEV   ChargingState = "SuspendedEV"
	ChargingStateSuspendedEVSE ChargingState = "SuspendedEVSE"
	ChargingStateIdle          ChargingState = "Idle"
)

// CertificateSigningUse 证书用途
type CertificateSigningUse string

const (
	CertificateSigningUseChargingStation CertificateSigningUse = "ChargingStationCertificate"
	CertificateSigningUseV2G             CertificateSigningUse = "V2GCertificate"
)

// GenericStatus 通用状态
type GenericStatus string

const (
	GenericStatusAccepted GenericStatus = "Accepted"
	GenericStatusRejected GenericStatus = "Rejected"
)

// GenericDeviceModelStatus 报告请求状态
type GenericDeviceModelStatus string

const (
	DeviceModelStatusAccepted       GenericDeviceModelStatus = "Accepted"
	DeviceModelStatusRejected       GenericDeviceModelStatus = "Rejected"
	DeviceModelStatusNotSupported   GenericDeviceModelStatus = "NotSupported"
	DeviceModelStatusEmptyResultSet GenericDeviceModelStatus = "EmptyResultSet"
)

// ClearCacheStatus 清缓存结果
type ClearCacheStatus string

const (
	ClearCacheStatusAccepted ClearCacheStatus = "Accepted"
	ClearCacheStatusRejected ClearCacheStatus = "Rejected"
)

// SendLocalListStatus 本地列表更新结果
type SendLocalListStatus string

const (
	SendLocalListStatusAccepted        SendLocalListStatus = "Accepted"
	SendLocalListStatusFailed          SendLocalListStatus = "Failed"
	SendLocalListStatusVersionMismatch SendLocalListStatus = "VersionMismatch"
)

// UpdateType 本地列表更新方式
type UpdateType string

const (
	UpdateTypeDifferential UpdateType = "Differential"
	UpdateTypeFull         UpdateType = "Full"
)

// MessageTrigger 可触发的消息
type MessageTrigger string

const (
	MessageTriggerBootNotification                  MessageTrigger = "BootNotification"
	MessageTriggerLogStatusNotification             MessageTrigger = "LogStatusNotification"
	MessageTriggerFirmwareStatusNotification        MessageTrigger = "FirmwareStatusNotification"
	MessageTriggerHeartbeat                         MessageTrigger = "Heartbeat"
	MessageTriggerMeterValues                       MessageTrigger = "MeterValues"
	MessageTriggerSignChargingStationCertificate    MessageTrigger = "SignChargingStationCertificate"
	MessageTriggerSignV2GCertificate                MessageTrigger = "SignV2GCertificate"
	MessageTriggerStatusNotification                MessageTrigger = "StatusNotification"
	MessageTriggerTransactionEvent                  MessageTrigger = "TransactionEvent"
	MessageTriggerSignCombinedCertificate           MessageTrigger = "SignCombinedCertificate"
	MessageTriggerPublishFirmwareStatusNotification MessageTrigger = "PublishFirmwareStatusNotification"
)

// TriggerMessageStatus 触发结果
type TriggerMessageStatus string

const (
	TriggerMessageStatusAccepted       TriggerMessageStatus = "Accepted"
	TriggerMessageStatusRejected       TriggerMessageStatus = "Rejected"
	TriggerMessageStatusNotImplemented TriggerMessageStatus = "NotImplemented"
)

// DataTransferStatus 数据传输结果
type DataTransferStatus string

const (
	DataTransferStatusAccepted         DataTransferStatus = "Accepted"
	DataTransferStatusRejected         DataTransferStatus = "Rejected"
	DataTransferStatusUnknownMessageId DataTransferStatus = "UnknownMessageId"
	DataTransferStatusUnknownVendorId  DataTransferStatus = "UnknownVendorId"
)

// AttributeType 变量属性类型
type AttributeType string

const (
	AttributeActual AttributeType = "Actual"
	AttributeTarget AttributeType = "Target"
	AttributeMinSet AttributeType = "MinSet"
	AttributeMaxSet AttributeType = "MaxSet"
)

// Mutability 变量可写性
type Mutability string

const (
	MutabilityReadOnly  Mutability = "ReadOnly"
	MutabilityWriteOnly Mutability = "WriteOnly"
	MutabilityReadWrite Mutability = "ReadWrite"
)

// GetVariableStatus 读变量结果
type GetVariableStatus string

const (
	GetVariableStatusAccepted                  GetVariableStatus = "Accepted"
	GetVariableStatusRejected                  GetVariableStatus = "Rejected"
	GetVariableStatusUnknownComponent          GetVariableStatus = "UnknownComponent"
	GetVariableStatusUnknownVariable           GetVariableStatus = "UnknownVariable"
	GetVariableStatusNotSupportedAttributeType GetVariableStatus = "NotSupportedAttributeType"
)

// SetVariableStatus 写变量结果
type SetVariableStatus string

const (
	SetVariableStatusAccepted                  SetVariableStatus = "Accepted"
	SetVariableStatusRejected                  SetVariableStatus = "Rejected"
	SetVariableStatusUnknownComponent          SetVariableStatus = "UnknownComponent"
	SetVariableStatusUnknownVariable           SetVariableStatus = "UnknownVariable"
	SetVariableStatusNotSupportedAttributeType SetVariableStatus = "NotSupportedAttributeType"
	SetVariableStatusRebootRequired            SetVariableStatus = "RebootRequired"
)

// ReportBase 基础报告类型
type ReportBase string

const (
	ReportBaseConfigurationInventory ReportBase = "ConfigurationInventory"
	ReportBaseFullInventory          ReportBase = "FullInventory"
	ReportBaseSummaryInventory       ReportBase = "SummaryInventory"
)

// ChargingProfileStatus 充电配置结果
type ChargingProfileStatus string

const (
	ChargingProfileStatusAccepted ChargingProfileStatus = "Accepted"
	ChargingProfileStatusRejected ChargingProfileStatus = "Rejected"
)

// ClearChargingProfileStatus 清除充电配置结果
type ClearChargingProfileStatus string

const (
	ClearChargingProfileStatusAccepted ClearChargingProfileStatus = "Accepted"
	ClearChargingProfileStatusUnknown  ClearChargingProfileStatus = "Unknown"
)

// ChargingProfilePurpose 充电配置用途
type ChargingProfilePurpose string

const (
	ChargingProfilePurposeChargingStationExternalConstraints ChargingProfilePurpose = "ChargingStationExternalConstraints"
	ChargingProfilePurposeChargingStationMaxProfile          ChargingProfilePurpose = "ChargingStationMaxProfile"
	ChargingProfilePurposeTxDefaultProfile                   ChargingProfilePurpose = "TxDefaultProfile"
	ChargingProfilePurposeTxProfile                          ChargingProfilePurpose = "TxProfile"
)

// ChargingRateUnit 充电功率单位
type ChargingRateUnit string

const (
	ChargingRateUnitW ChargingRateUnit = "W"
	ChargingRateUnitA ChargingRateUnit = "A"
)

// CustomerInformationStatus 客户信息请求结果
type CustomerInformationStatus string

const (
	CustomerInformationStatusAccepted CustomerInformationStatus = "Accepted"
	CustomerInformationStatusRejected CustomerInformationStatus = "Rejected"
	CustomerInformationStatusInvalid  CustomerInformationStatus = "Invalid"
)

// SetMonitoringStatus 监控设置结果
type SetMonitoringStatus string

const (
	SetMonitoringStatusAccepted               SetMonitoringStatus = "Accepted"
	SetMonitoringStatusUnknownComponent       SetMonitoringStatus = "UnknownComponent"
	SetMonitoringStatusUnknownVariable        SetMonitoringStatus = "UnknownVariable"
	SetMonitoringStatusUnsupportedMonitorType SetMonitoringStatus = "UnsupportedMonitorType"
	SetMonitoringStatusRejected               SetMonitoringStatus = "Rejected"
	SetMonitoringStatusDuplicate              SetMonitoringStatus = "Duplicate"
)

// ClearMonitoringStatus 监控清除结果
type ClearMonitoringStatus string

const (
	ClearMonitoringStatusAccepted ClearMonitoringStatus = "Accepted"
	ClearMonitoringStatusRejected ClearMonitoringStatus = "Rejected"
	ClearMonitoringStatusNotFound ClearMonitoringStatus = "NotFound"
)

// ReadingContext 采样上下文
type ReadingContext string

const (
	ReadingContextInterruptionBegin ReadingContext = "Interruption.Begin"
	ReadingContextInterruptionEnd   ReadingContext = "Interruption.End"
	ReadingContextOther             ReadingContext = "Other"
	ReadingContextSampleClock       ReadingContext = "Sample.Clock"
	ReadingContextSamplePeriodic    ReadingContext = "Sample.Periodic"
	ReadingContextTransactionBegin  ReadingContext = "Transaction.Begin"
	ReadingContextTransactionEnd    ReadingContext = "Transaction.End"
	ReadingContextTrigger           ReadingContext = "Trigger"
)

// Measurand 测量量
type Measurand string

const (
	MeasurandEnergyActiveImportRegister Measurand = "Energy.Active.Import.Register"
	MeasurandPowerActiveImport          Measurand = "Power.Active.Import"
	MeasurandCurrentImport              Measurand = "Current.Import"
	MeasurandVoltage                    Measurand = "Voltage"
	MeasurandSoC                        Measurand = "SoC"
)

// 安全事件类型
const (
	SecurityEventSettingSystemTime              = "SettingSystemTime"
	SecurityEventStartupOfTheDevice             = "StartupOfTheDevice"
	SecurityEventResetOrReboot                  = "ResetOrReboot"
	SecurityEventInvalidChargingStationCert     = "InvalidChargingStationCertificate"
	SecurityEventInvalidCsmsCertificate         = "InvalidCsmsCertificate"
	SecurityEventCSRGenerationFailed            = "CSRGenerationFailed"
	SecurityEventReconfigurationOfSecurityParam = "ReconfigurationOfSecurityParameters"
)

// EVSE EVSE标识
type EVSE struct {
	Id          int  `json:"id" validate:"gte=0"`
	ConnectorId *int `json:"connectorId,omitempty" validate:"omitempty,gte=0"`
}

// AdditionalInfo 附加标识信息
type AdditionalInfo struct {
	AdditionalIdToken string `json:"additionalIdToken" validate:"required,max=36"`
	Type              string `json:"type" validate:"required,max=50"`
}

// IdToken 用户标识
type IdToken struct {
	IdToken        string           `json:"idToken" validate:"max=36,ocpp_identifier"`
	Type           IdTokenType      `json:"type" validate:"required"`
	AdditionalInfo []AdditionalInfo `json:"additionalInfo,omitempty" validate:"omitempty,dive"`
}

// MessageContent 个性化消息
type MessageContent struct {
	Format   string  `json:"format" validate:"required"`
	Language *string `json:"language,omitempty"`
	Content  string  `json:"content" validate:"required,max=512"`
}

// IdTokenInfo 标识授权信息
type IdTokenInfo struct {
	Status              AuthorizationStatus `json:"status" validate:"required"`
	CacheExpiryDateTime *time.Time          `json:"cacheExpiryDateTime,omitempty"`
	ChargingPriority    *int                `json:"chargingPriority,omitempty" validate:"omitempty,min=-9,max=9"`
	Language1           *string             `json:"language1,omitempty"`
	EvseId              []int               `json:"evseId,omitempty"`
	GroupIdToken        *IdToken            `json:"groupIdToken,omitempty" validate:"omitempty"`
	Language2           *string             `json:"language2,omitempty"`
	PersonalMessage     *MessageContent     `json:"personalMessage,omitempty" validate:"omitempty"`
}

// OCSPRequestData OCSP请求数据
type OCSPRequestData struct {
	HashAlgorithm  string `json:"hashAlgorithm" validate:"required"`
	IssuerNameHash string `json:"issuerNameHash" validate:"required,max=128"`
	IssuerKeyHash  string `json:"issuerKeyHash" validate:"required,max=128"`
	SerialNumber   string `json:"serialNumber" validate:"required,max=40"`
	ResponderURL   string `json:"responderURL" validate:"required,max=512"`
}

// StatusInfo 状态附加信息
type StatusInfo struct {
	ReasonCode     string  `json:"reasonCode" validate:"required,max=20"`
	AdditionalInfo *string `json:"additionalInfo,omitempty"`
}

// ChargingStation 充电站描述
type ChargingStation struct {
	SerialNumber    *string `json:"serialNumber,omitempty" validate:"omitempty,max=25"`
	Model           string  `json:"model" validate:"required,max=20"`
	VendorName      string  `json:"vendorName" validate:"required,max=50"`
	FirmwareVersion *string `json:"firmwareVersion,omitempty" validate:"omitempty,max=50"`
}

// Transaction 交易信息
type Transaction struct {
	TransactionId     string         `json:"transactionId" validate:"required,max=36"`
	ChargingState     *ChargingState `json:"chargingState,omitempty"`
	TimeSpentCharging *int           `json:"timeSpentCharging,omitempty"`
	StoppedReason     *ReasonType    `json:"stoppedReason,omitempty"`
	RemoteStartId     *int           `json:"remoteStartId,omitempty"`
}

// UnitOfMeasure 计量单位
type UnitOfMeasure struct {
	Unit       string `json:"unit,omitempty"`
	Multiplier int    `json:"multiplier,omitempty"`
}

// SampledValue 采样值
type SampledValue struct {
	Value         float64         `json:"value"`
	Context       *ReadingContext `json:"context,omitempty"`
	Measurand     *Measurand      `json:"measurand,omitempty"`
	Phase         *string         `json:"phase,omitempty"`
	Location      *string         `json:"location,omitempty"`
	UnitOfMeasure *UnitOfMeasure  `json:"unitOfMeasure,omitempty"`
}

// MeterValue 电表值
type MeterValue struct {
	Timestamp    time.Time      `json:"timestamp" validate:"required"`
	SampledValue []SampledValue `json:"sampledValue" validate:"required,min=1,dive"`
}

// Component 设备模型组件
type Component struct {
	Name     string  `json:"name" validate:"required,max=50"`
	Instance *string `json:"instance,omitempty" validate:"omitempty,max=50"`
	Evse     *EVSE   `json:"evse,omitempty" validate:"omitempty"`
}

// Variable 设备模型变量
type Variable struct {
	Name     string  `json:"name" validate:"required,max=50"`
	Instance *string `json:"instance,omitempty" validate:"omitempty,max=50"`
}

// ComponentVariable 组件变量组合
type ComponentVariable struct {
	Component Component `json:"component" validate:"required"`
	Variable  *Variable `json:"variable,omitempty" validate:"omitempty"`
}

// VariableAttribute 变量属性
type VariableAttribute struct {
	Type       *AttributeType `json:"type,omitempty"`
	Value      *string        `json:"value,omitempty" validate:"omitempty,max=2500"`
	Mutability *Mutability    `json:"mutability,omitempty"`
	Persistent bool           `json:"persistent,omitempty"`
	Constant   bool           `json:"constant,omitempty"`
}

// ReportData 报告数据项
type ReportData struct {
	Component         Component           `json:"component"`
	Variable          Variable            `json:"variable"`
	VariableAttribute []VariableAttribute `json:"variableAttribute"`
}

// ChargingSchedulePeriod 充电计划时段
type ChargingSchedulePeriod struct {
	StartPeriod  int     `json:"startPeriod" validate:"gte=0"`
	Limit        float64 `json:"limit" validate:"gte=0"`
	NumberPhases *int    `json:"numberPhases,omitempty" validate:"omitempty,min=1,max=3"`
}

// ChargingSchedule 充电计划
type ChargingSchedule struct {
	Id                     int                      `json:"id"`
	StartSchedule          *time.Time               `json:"startSchedule,omitempty"`
	Duration               *int                     `json:"duration,omitempty"`
	ChargingRateUnit       ChargingRateUnit         `json:"chargingRateUnit" validate:"required,oneof=W A"`
	ChargingSchedulePeriod []ChargingSchedulePeriod `json:"chargingSchedulePeriod" validate:"required,min=1,dive"`
	MinChargingRate        *float64                 `json:"minChargingRate,omitempty"`
}

// ChargingProfile 充电配置
type ChargingProfile struct {
	Id                     int                    `json:"id"`
	StackLevel             int                    `json:"stackLevel" validate:"gte=0"`
	ChargingProfilePurpose ChargingProfilePurpose `json:"chargingProfilePurpose" validate:"required"`
	ChargingProfileKind    string                 `json:"chargingProfileKind" validate:"required,oneof=Absolute Recurring Relative"`
	RecurrencyKind         *string                `json:"recurrencyKind,omitempty"`
	ValidFrom              *time.Time             `json:"validFrom,omitempty"`
	ValidTo                *time.Time             `json:"validTo,omitempty"`
	TransactionId          *string                `json:"transactionId,omitempty" validate:"omitempty,max=36"`
	ChargingSchedule       []ChargingSchedule     `json:"chargingSchedule" validate:"required,min=1,max=3,dive"`
}

// ChargingProfileCriterion 充电配置清除条件
type ChargingProfileCriterion struct {
	EvseId                 *int                    `json:"evseId,omitempty"`
	ChargingProfilePurpose *ChargingProfilePurpose `json:"chargingProfilePurpose,omitempty"`
	StackLevel             *int                    `json:"stackLevel,omitempty"`
}

// CompositeSchedule 组合计划
type CompositeSchedule struct {
	EvseId                 int                      `json:"evseId"`
	Duration               int                      `json:"duration"`
	ScheduleStart          time.Time                `json:"scheduleStart"`
	ChargingRateUnit       ChargingRateUnit         `json:"chargingRateUnit"`
	ChargingSchedulePeriod []ChargingSchedulePeriod `json:"chargingSchedulePeriod"`
}

// AuthorizationData 本地列表数据项
type AuthorizationData struct {
	IdToken     IdToken      `json:"idToken" validate:"required"`
	IdTokenInfo *IdTokenInfo `json:"idTokenInfo,omitempty" validate:"omitempty"`
}

// SetMonitoringData 监控设置项
type SetMonitoringData struct {
	Id          *int      `json:"id,omitempty"`
	Transaction bool      `json:"transaction,omitempty"`
	Value       float64   `json:"value"`
	Type        string    `json:"type" validate:"required"`
	Severity    int       `json:"severity" validate:"min=0,max=9"`
	Component   Component `json:"component" validate:"required"`
	Variable    Variable  `json:"variable" validate:"required"`
}

// SetMonitoringResult 监控设置结果项
type SetMonitoringResult struct {
	Id        *int                `json:"id,omitempty"`
	Status    SetMonitoringStatus `json:"status"`
	Type      string              `json:"type"`
	Severity  int                 `json:"severity"`
	Component Component           `json:"component"`
	Variable  Variable            `json:"variable"`
}

// ClearMonitoringResult 监控清除结果项
type ClearMonitoringResult struct {
	Status ClearMonitoringStatus `json:"status"`
	Id     int                   `json:"id"`
}
