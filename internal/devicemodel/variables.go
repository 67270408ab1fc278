package devicemodel

import (
	"github.com/charging-platform/charging-station-controller/internal/domain/ocpp201"
)

// Kind 变量值类型
type Kind int

const (
	KindString Kind = iota
	KindBool
	KindInteger
	KindList // 逗号分隔
)

// Key 组件与变量名组合
type Key struct {
	Component string
	Variable  string
}

// String 返回存储键
func (k Key) String() string {
	return k.Component + "/" + k.Variable
}

// Definition 变量定义
type Definition struct {
	Key
	Kind           Kind
	Default        string
	Mutability     ocpp201.Mutability
	RebootRequired bool
}

var (
	AuthCtrlrEnabled                       = Key{"AuthCtrlr", "Enabled"}
	AuthorizeRemoteStart                   = Key{"AuthCtrlr", "AuthorizeRemoteStart"}
	LocalAuthorizeOffline                  = Key{"AuthCtrlr", "LocalAuthorizeOffline"}
	LocalPreAuthorize                      = Key{"AuthCtrlr", "LocalPreAuthorize"}
	DisableRemoteAuthorization             = Key{"AuthCtrlr", "DisableRemoteAuthorization"}
	OfflineTxForUnknownIdEnabled           = Key{"AuthCtrlr", "OfflineTxForUnknownIdEnabled"}
	AuthCacheCtrlrEnabled                  = Key{"AuthCacheCtrlr", "Enabled"}
	AuthCacheLifeTime                      = Key{"AuthCacheCtrlr", "LifeTime"}
	AuthCacheStorage                       = Key{"AuthCacheCtrlr", "Storage"}
	AuthCacheDisablePostAuthorize          = Key{"AuthCacheCtrlr", "DisablePostAuthorize"}
	LocalAuthListCtrlrEnabled              = Key{"LocalAuthListCtrlr", "Enabled"}
	LocalAuthListCtrlrEntries              = Key{"LocalAuthListCtrlr", "Entries"}
	ContractValidationOffline              = Key{"ISO15118Ctrlr", "ContractValidationOffline"}
	CentralContractValidationAllowed       = Key{"ISO15118Ctrlr", "CentralContractValidationAllowed"}
	V2GCertificateInstallationEnabled      = Key{"ISO15118Ctrlr", "V2GCertificateInstallationEnabled"}
	ISO15118CtrlrCountryName               = Key{"ISO15118Ctrlr", "CountryName"}
	SecurityProfile                        = Key{"SecurityCtrlr", "SecurityProfile"}
	CertSigningWaitMinimum                 = Key{"SecurityCtrlr", "CertSigningWaitMinimum"}
	CertSigningRepeatTimes                 = Key{"SecurityCtrlr", "CertSigningRepeatTimes"}
	OrganizationName                       = Key{"SecurityCtrlr", "OrganizationName"}
	ChargeBoxSerialNumber                  = Key{"InternalCtrlr", "ChargeBoxSerialNumber"}
	ClientCertExpireCheckInitialDelay      = Key{"InternalCtrlr", "ClientCertificateExpireCheckInitialDelaySeconds"}
	ClientCertExpireCheckInterval          = Key{"InternalCtrlr", "ClientCertificateExpireCheckIntervalSeconds"}
	V2GCertExpireCheckInitialDelay         = Key{"InternalCtrlr", "V2GCertificateExpireCheckInitialDelaySeconds"}
	V2GCertExpireCheckInterval             = Key{"InternalCtrlr", "V2GCertificateExpireCheckIntervalSeconds"}
	StopTxOnInvalidId                      = Key{"TxCtrlr", "StopTxOnInvalidId"}
	MaxEnergyOnInvalidId                   = Key{"TxCtrlr", "MaxEnergyOnInvalidId"}
	SampledDataTxStartedMeasurands         = Key{"SampledDataCtrlr", "TxStartedMeasurands"}
	SampledDataTxUpdatedMeasurands         = Key{"SampledDataCtrlr", "TxUpdatedMeasurands"}
	SampledDataTxEndedMeasurands           = Key{"SampledDataCtrlr", "TxEndedMeasurands"}
	AlignedDataMeasurands                  = Key{"AlignedDataCtrlr", "Measurands"}
	HeartbeatInterval                      = Key{"OCPPCommCtrlr", "HeartbeatInterval"}
	QueueAllMessages                       = Key{"OCPPCommCtrlr", "QueueAllMessages"}
	MessageTimeout                         = Key{"OCPPCommCtrlr", "MessageTimeout"}
	MessageAttemptsTransactionEvent        = Key{"OCPPCommCtrlr", "MessageAttemptsTransactionEvent"}
	MessageAttemptIntervalTransactionEvent = Key{"OCPPCommCtrlr", "MessageAttemptIntervalTransactionEvent"}
)

// definitions 已知变量及默认值
var definitions = []Definition{
	{Key: AuthCtrlrEnabled, Kind: KindBool, Default: "true", Mutability: ocpp201.MutabilityReadWrite},
	{Key: AuthorizeRemoteStart, Kind: KindBool, Default: "true", Mutability: ocpp201.MutabilityReadWrite},
	{Key: LocalAuthorizeOffline, Kind: KindBool, Default: "true", Mutability: ocpp201.MutabilityReadWrite},
	{Key: LocalPreAuthorize, Kind: KindBool, Default: "false", Mutability: ocpp201.MutabilityReadWrite},
	{Key: DisableRemoteAuthorization, Kind: KindBool, Default: "false", Mutability: ocpp201.MutabilityReadWrite},
	{Key: OfflineTxForUnknownIdEnabled, Kind: KindBool, Default: "false", Mutability: ocpp201.MutabilityReadWrite},
	{Key: AuthCacheCtrlrEnabled, Kind: KindBool, Default: "true", Mutability: ocpp201.MutabilityReadWrite},
	{Key: AuthCacheLifeTime, Kind: KindInteger, Default: "86400", Mutability: ocpp201.MutabilityReadWrite},
	{Key: AuthCacheStorage, Kind: KindInteger, Default: "1000", Mutability: ocpp201.MutabilityReadOnly},
	{Key: AuthCacheDisablePostAuthorize, Kind: KindBool, Default: "false", Mutability: ocpp201.MutabilityReadWrite},
	{Key: LocalAuthListCtrlrEnabled, Kind: KindBool, Default: "true", Mutability: ocpp201.MutabilityReadWrite},
	{Key: LocalAuthListCtrlrEntries, Kind: KindInteger, Default: "0", Mutability: ocpp201.MutabilityReadOnly},
	{Key: ContractValidationOffline, Kind: KindBool, Default: "true", Mutability: ocpp201.MutabilityReadWrite},
	{Key: CentralContractValidationAllowed, Kind: KindBool, Default: "true", Mutability: ocpp201.MutabilityReadWrite},
	{Key: V2GCertificateInstallationEnabled, Kind: KindBool, Default: "false", Mutability: ocpp201.MutabilityReadWrite},
	{Key: ISO15118CtrlrCountryName, Kind: KindString, Default: "DE", Mutability: ocpp201.MutabilityReadWrite},
	{Key: SecurityProfile, Kind: KindInteger, Default: "1", Mutability: ocpp201.MutabilityReadWrite, RebootRequired: true},
	{Key: CertSigningWaitMinimum, Kind: KindInteger, Default: "30", Mutability: ocpp201.MutabilityReadWrite},
	{Key: CertSigningRepeatTimes, Kind: KindInteger, Default: "3", Mutability: ocpp201.MutabilityReadWrite},
	{Key: OrganizationName, Kind: KindString, Default: "ChargingPlatform", Mutability: ocpp201.MutabilityReadWrite},
	{Key: ChargeBoxSerialNumber, Kind: KindString, Default: "", Mutability: ocpp201.MutabilityReadOnly},
	{Key: ClientCertExpireCheckInitialDelay, Kind: KindInteger, Default: "60", Mutability: ocpp201.MutabilityReadOnly},
	{Key: ClientCertExpireCheckInterval, Kind: KindInteger, Default: "43200", Mutability: ocpp201.MutabilityReadOnly},
	{Key: V2GCertExpireCheckInitialDelay, Kind: KindInteger, Default: "60", Mutability: ocpp201.MutabilityReadOnly},
	{Key: V2GCertExpireCheckInterval, Kind: KindInteger, Default: "43200", Mutability: ocpp201.MutabilityReadOnly},
	{Key: StopTxOnInvalidId, Kind: KindBool, Default: "true", Mutability: ocpp201.MutabilityReadWrite},
	{Key: MaxEnergyOnInvalidId, Kind: KindInteger, Default: "", Mutability: ocpp201.MutabilityReadWrite},
	{Key: SampledDataTxStartedMeasurands, Kind: KindList, Default: "Energy.Active.Import.Register", Mutability: ocpp201.MutabilityReadWrite},
	{Key: SampledDataTxUpdatedMeasurands, Kind: KindList, Default: "Energy.Active.Import.Register,Power.Active.Import", Mutability: ocpp201.MutabilityReadWrite},
	{Key: SampledDataTxEndedMeasurands, Kind: KindList, Default: "Energy.Active.Import.Register", Mutability: ocpp201.MutabilityReadWrite},
	{Key: AlignedDataMeasurands, Kind: KindList, Default: "Energy.Active.Import.Register", Mutability: ocpp201.MutabilityReadWrite},
	{Key: HeartbeatInterval, Kind: KindInteger, Default: "300", Mutability: ocpp201.MutabilityReadWrite},
	{Key: QueueAllMessages, Kind: KindBool, Default: "false", Mutability: ocpp201.MutabilityReadWrite},
	{Key: MessageTimeout, Kind: KindInteger, Default: "60", Mutability: ocpp201.MutabilityReadWrite},
	{Key: MessageAttemptsTransactionEvent, Kind: KindInteger, Default: "3", Mutability: ocpp201.MutabilityReadWrite},
	{Key: MessageAttemptIntervalTransactionEvent, Kind: KindInteger, Default: "10", Mutability: ocpp201.MutabilityReadWrite},
}
