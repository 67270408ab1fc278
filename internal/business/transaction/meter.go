package transaction

import (
	"github.com/charging-platform/charging-station-controller/internal/domain/ocpp201"
)

// FilterMeterValue 只保留配置的测量量；未标注测量量的采样视为有功电能读数。
// 未标注上下文的采样补上readingContext，无剩余采样时返回false
func FilterMeterValue(mv ocpp201.MeterValue, measurands []string, readingContext ocpp201.ReadingContext) (ocpp201.MeterValue, bool) {
	allowed := make(map[ocpp201.Measurand]struct{}, len(measurands))
	for _, m := range measurands {
		allowed[ocpp201.Measurand(m)] = struct{}{}
	}

	filtered := ocpp201.MeterValue{Timestamp: mv.Timestamp}
	for _, sv := range mv.SampledValue {
		if _, ok := allowed[measurandOf(sv)]; !ok {
			continue
		}
		if sv.Context == nil {
			ctx := readingContext
			sv.Context = &ctx
		}
		filtered.SampledValue = append(filtered.SampledValue, sv)
	}
	return filtered, len(filtered.SampledValue) > 0
}

func measurandOf(sv ocpp201.SampledValue) ocpp201.Measurand {
	if sv.Measurand == nil {
		return ocpp201.MeasurandEnergyActiveImportRegister
	}
	return *sv.Measurand
}

// energyRegister 取不分相的有功电能读数(Wh)
func energyRegister(mv ocpp201.MeterValue) (float64, bool) {
	for _, sv := range mv.SampledValue {
		if measurandOf(sv) != ocpp201.MeasurandEnergyActiveImportRegister || sv.Phase != nil {
			continue
		}
		value := sv.Value
		if sv.UnitOfMeasure != nil && sv.UnitOfMeasure.Unit == "kWh" {
			value *= 1000
		}
		return value, true
	}
	return 0, false
}

var stopReasonTriggers = map[ocpp201.ReasonType]ocpp201.TriggerReason{
	ocpp201.ReasonDeAuthorized:       ocpp201.TriggerReasonDeauthorized,
	ocpp201.ReasonEnergyLimitReached: ocpp201.TriggerReasonEnergyLimitReached,
	ocpp201.ReasonEVDisconnected:     ocpp201.TriggerReasonEVCommunicationLost,
	ocpp201.ReasonImmediateReset:     ocpp201.TriggerReasonResetCommand,
	ocpp201.ReasonReboot:             ocpp201.TriggerReasonResetCommand,
	ocpp201.ReasonLocal:              ocpp201.TriggerReasonStopAuthorized,
	ocpp201.ReasonMasterPass:         ocpp201.TriggerReasonStopAuthorized,
	ocpp201.ReasonStoppedByEV:        ocpp201.TriggerReasonStopAuthorized,
	ocpp201.ReasonLocalOutOfCredit:   ocpp201.TriggerReasonChargingStateChanged,
	ocpp201.ReasonRemote:             ocpp201.TriggerReasonRemoteStop,
	ocpp201.ReasonSOCLimitReached:    ocpp201.TriggerReasonEnergyLimitReached,
	ocpp201.ReasonTimeLimitReached:   ocpp201.TriggerReasonTimeLimitReached,
	ocpp201.ReasonTimeout:            ocpp201.TriggerReasonEVConnectTimeout,
}

// StopReasonTrigger 交易结束原因对应的Ended事件触发原因，其余原因视为异常
func StopReasonTrigger(reason ocpp201.ReasonType) ocpp201.TriggerReason {
	if trigger, ok := stopReasonTriggers[reason]; ok {
		return trigger
	}
	return ocpp201.TriggerReasonAbnormalCondition
}
