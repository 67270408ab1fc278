package chargepoint

import (
	"context"
	"errors"
	"strings"

	"github.com/charging-platform/charging-station-controller/internal/business/availability"
	"github.com/charging-platform/charging-station-controller/internal/domain/ocpp201"
	protocol "github.com/charging-platform/charging-station-controller/internal/protocol/ocpp201"
	"github.com/charging-platform/charging-station-controller/internal/smartcharging"
)

func (m *Manager) handleReset(payload []byte) (interface{}, func(), error) {
	var req ocpp201.ResetRequest
	if err := m.decode(payload, &req); err != nil {
		return nil, nil, err
	}
	resp, after := m.transactions.HandleReset(&req)
	return resp, after, nil
}

func (m *Manager) handleChangeAvailability(payload []byte) (interface{}, func(), error) {
	var req ocpp201.ChangeAvailabilityRequest
	if err := m.decode(payload, &req); err != nil {
		return nil, nil, err
	}
	resp, after := m.availability.ChangeAvailability(&req)
	return resp, after, nil
}

func (m *Manager) handleRequestStart(payload []byte) (interface{}, func(), error) {
	var req ocpp201.RequestStartTransactionRequest
	if err := m.decode(payload, &req); err != nil {
		return nil, nil, err
	}
	if profile := req.ChargingProfile; profile != nil && profile.ChargingProfilePurpose != ocpp201.ChargingProfilePurposeTxProfile {
		m.logger.Warnf("Remote start %d carries a %s profile", req.RemoteStartId, profile.ChargingProfilePurpose)
		return &ocpp201.RequestStartTransactionResponse{Status: ocpp201.RequestStartStopStatusRejected}, nil, nil
	}

	resp, after := m.transactions.HandleRequestStart(&req, func(evseID int) bool {
		return m.evseAvailableFor(evseID, req.IdToken)
	})
	if resp.Status == ocpp201.RequestStartStopStatusAccepted && req.ChargingProfile != nil && req.EvseId != nil {
		evseID, profile := *req.EvseId, *req.ChargingProfile
		next := after
		after = func() {
			m.smart.Add(evseID, profile)
			if next != nil {
				next()
			}
		}
	}
	return resp, after, nil
}

// evseAvailableFor EVSE上至少一个连接器处于Available，或为该标识预约
func (m *Manager) evseAvailableFor(evseID int, idToken ocpp201.IdToken) bool {
	for connectorID := 1; connectorID <= m.availability.NumConnectors(evseID); connectorID++ {
		status, ok := m.availability.ConnectorStatus(evseID, connectorID)
		if !ok {
			continue
		}
		switch status {
		case ocpp201.ConnectorStatusAvailable:
			return true
		case ocpp201.ConnectorStatusReserved:
			if holder, reserved := m.availability.ReservedFor(evseID, connectorID); reserved &&
				holder.IdToken == idToken.IdToken && holder.Type == idToken.Type {
				return true
			}
		}
	}
	return false
}

func (m *Manager) handleRequestStop(payload []byte) (interface{}, func(), error) {
	var req ocpp201.RequestStopTransactionRequest
	if err := m.decode(payload, &req); err != nil {
		return nil, nil, err
	}
	resp, after := m.transactions.HandleRequestStop(&req)
	return resp, after, nil
}

func (m *Manager) handleCertificateSigned(payload []byte) (interface{}, func(), error) {
	var req ocpp201.CertificateSignedRequest
	if err := m.decode(payload, &req); err != nil {
		return nil, nil, err
	}
	return m.certificates.HandleCertificateSigned(&req), nil, nil
}

func (m *Manager) handleClearCache(payload []byte) (interface{}, func(), error) {
	var req ocpp201.ClearCacheRequest
	if err := m.decode(payload, &req); err != nil {
		return nil, nil, err
	}
	resp, err := m.authorizer.ClearCache(m.ctx)
	if err != nil {
		return nil, nil, err
	}
	return resp, nil, nil
}

func (m *Manager) handleSendLocalList(payload []byte) (interface{}, func(), error) {
	var req ocpp201.SendLocalListRequest
	if err := m.decode(payload, &req); err != nil {
		return nil, nil, err
	}
	return m.authorizer.SendLocalList(m.ctx, &req), nil, nil
}

func (m *Manager) handleGetLocalListVersion(payload []byte) (interface{}, func(), error) {
	var req ocpp201.GetLocalListVersionRequest
	if err := m.decode(payload, &req); err != nil {
		return nil, nil, err
	}
	resp, err := m.authorizer.GetLocalListVersion(m.ctx)
	if err != nil {
		return nil, nil, err
	}
	return resp, nil, nil
}

func (m *Manager) handleDataTransfer(payload []byte) (interface{}, func(), error) {
	var req ocpp201.DataTransferRequest
	if err := m.decode(payload, &req); err != nil {
		return nil, nil, err
	}
	if m.callbacks.DataTransfer == nil {
		return &ocpp201.DataTransferResponse{Status: ocpp201.DataTransferStatusUnknownVendorId}, nil, nil
	}
	resp := m.callbacks.DataTransfer(req)
	return &resp, nil, nil
}

func (m *Manager) handleGetVariables(payload []byte) (interface{}, func(), error) {
	var req ocpp201.GetVariablesRequest
	if err := m.decode(payload, &req); err != nil {
		return nil, nil, err
	}
	resp := &ocpp201.GetVariablesResponse{}
	for _, data := range req.GetVariableData {
		resp.GetVariableResult = append(resp.GetVariableResult, m.deviceModel.GetVariable(data))
	}
	return resp, nil, nil
}

func (m *Manager) handleSetVariables(payload []byte) (interface{}, func(), error) {
	var req ocpp201.SetVariablesRequest
	if err := m.decode(payload, &req); err != nil {
		return nil, nil, err
	}
	resp := &ocpp201.SetVariablesResponse{}
	for _, data := range req.SetVariableData {
		resp.SetVariableResult = append(resp.SetVariableResult, m.deviceModel.SetVariable(data))
	}
	return resp, nil, nil
}

func (m *Manager) handleGetBaseReport(payload []byte) (interface{}, func(), error) {
	var req ocpp201.GetBaseReportRequest
	if err := m.decode(payload, &req); err != nil {
		return nil, nil, err
	}
	if req.ReportBase == ocpp201.ReportBaseSummaryInventory {
		return &ocpp201.GetBaseReportResponse{Status: ocpp201.DeviceModelStatusNotSupported}, nil, nil
	}
	report := m.deviceModel.Report(req.ReportBase)
	return &ocpp201.GetBaseReportResponse{Status: ocpp201.DeviceModelStatusAccepted},
		func() { m.notifyReport(req.RequestId, report) }, nil
}

func (m *Manager) handleGetReport(payload []byte) (interface{}, func(), error) {
	var req ocpp201.GetReportRequest
	if err := m.decode(payload, &req); err != nil {
		return nil, nil, err
	}
	var report []ocpp201.ReportData
	for _, data := range m.deviceModel.Report(ocpp201.ReportBaseFullInventory) {
		if matchesReportFilter(data, req.ComponentVariable) {
			report = append(report, data)
		}
	}
	if len(report) == 0 {
		return &ocpp201.GetReportResponse{Status: ocpp201.DeviceModelStatusEmptyResultSet}, nil, nil
	}
	return &ocpp201.GetReportResponse{Status: ocpp201.DeviceModelStatusAccepted},
		func() { m.notifyReport(req.RequestId, report) }, nil
}

// matchesReportFilter 无过滤条件时全部匹配；Variable为空时匹配组件下全部变量
func matchesReportFilter(data ocpp201.ReportData, filters []ocpp201.ComponentVariable) bool {
	if len(filters) == 0 {
		return true
	}
	for _, filter := range filters {
		if !strings.EqualFold(filter.Component.Name, data.Component.Name) {
			continue
		}
		if filter.Variable == nil || strings.EqualFold(filter.Variable.Name, data.Variable.Name) {
			return true
		}
	}
	return false
}

// notifyReport 报告一次发出
func (m *Manager) notifyReport(requestID int, report []ocpp201.ReportData) {
	m.queue.Push(protocol.OutgoingCall{
		Action: ocpp201.ActionNotifyReport,
		Payload: ocpp201.NotifyReportRequest{
			RequestId:   requestID,
			GeneratedAt: m.now().UTC(),
			SeqNo:       0,
			ReportData:  report,
		},
	})
}

func (m *Manager) handleSetChargingProfile(payload []byte) (interface{}, func(), error) {
	var req ocpp201.SetChargingProfileRequest
	if err := m.decode(payload, &req); err != nil {
		return nil, nil, err
	}

	activeTransactionID := ""
	for _, snapshot := range m.transactions.Snapshots() {
		if snapshot.EVSEID == req.EvseId {
			activeTransactionID = snapshot.TransactionID
		}
	}

	if err := m.smart.Validate(req.EvseId, req.ChargingProfile, activeTransactionID); err != nil {
		m.logger.Warnf("Rejected charging profile %d for evse %d: %v", req.ChargingProfile.Id, req.EvseId, err)
		info := err.Error()
		return &ocpp201.SetChargingProfileResponse{
			Status:     ocpp201.ChargingProfileStatusRejected,
			StatusInfo: &ocpp201.StatusInfo{ReasonCode: profileReasonCode(err), AdditionalInfo: &info},
		}, nil, nil
	}
	m.smart.Add(req.EvseId, req.ChargingProfile)
	return &ocpp201.SetChargingProfileResponse{Status: ocpp201.ChargingProfileStatusAccepted}, nil, nil
}

func profileReasonCode(err error) string {
	switch {
	case errors.Is(err, smartcharging.ErrUnknownEVSE):
		return "UnknownEvse"
	case errors.Is(err, smartcharging.ErrNoTransaction):
		return "TxNotFound"
	default:
		return "InvalidProfile"
	}
}

func (m *Manager) handleClearChargingProfile(payload []byte) (interface{}, func(), error) {
	var req ocpp201.ClearChargingProfileRequest
	if err := m.decode(payload, &req); err != nil {
		return nil, nil, err
	}
	if m.smart.Clear(req) > 0 {
		return &ocpp201.ClearChargingProfileResponse{Status: ocpp201.ClearChargingProfileStatusAccepted}, nil, nil
	}
	return &ocpp201.ClearChargingProfileResponse{Status: ocpp201.ClearChargingProfileStatusUnknown}, nil, nil
}

func (m *Manager) handleGetCompositeSchedule(payload []byte) (interface{}, func(), error) {
	var req ocpp201.GetCompositeScheduleRequest
	if err := m.decode(payload, &req); err != nil {
		return nil, nil, err
	}
	schedule, err := m.smart.CompositeSchedule(req.EvseId, req.Duration, req.ChargingRateUnit)
	if err != nil {
		m.logger.Debugf("No composite schedule for evse %d: %v", req.EvseId, err)
		return &ocpp201.GetCompositeScheduleResponse{Status: ocpp201.GenericStatusRejected}, nil, nil
	}
	return &ocpp201.GetCompositeScheduleResponse{Status: ocpp201.GenericStatusAccepted, Schedule: schedule}, nil, nil
}

func (m *Manager) handleCustomerInformation(payload []byte) (interface{}, func(), error) {
	var req ocpp201.CustomerInformationRequest
	if err := m.decode(payload, &req); err != nil {
		return nil, nil, err
	}
	if !req.Report && !req.Clear {
		return &ocpp201.CustomerInformationResponse{Status: ocpp201.CustomerInformationStatusRejected}, nil, nil
	}
	if req.IdToken != nil && req.CustomerIdentifier != nil {
		return &ocpp201.CustomerInformationResponse{Status: ocpp201.CustomerInformationStatusInvalid}, nil, nil
	}
	if req.Clear && req.IdToken != nil {
		ctx, cancel := context.WithTimeout(m.ctx, m.config.PublishTimeout)
		defer cancel()
		if err := m.authorizer.ForgetIdToken(ctx, *req.IdToken); err != nil {
			m.logger.Warnf("Failed to clear cached data for customer: %v", err)
			return &ocpp201.CustomerInformationResponse{Status: ocpp201.CustomerInformationStatusRejected}, nil, nil
		}
	}
	return &ocpp201.CustomerInformationResponse{Status: ocpp201.CustomerInformationStatusAccepted}, nil, nil
}

// 不维护变量监控，逐项拒绝
func (m *Manager) handleSetVariableMonitoring(payload []byte) (interface{}, func(), error) {
	var req ocpp201.SetVariableMonitoringRequest
	if err := m.decode(payload, &req); err != nil {
		return nil, nil, err
	}
	resp := &ocpp201.SetVariableMonitoringResponse{}
	for _, data := range req.SetMonitoringData {
		resp.SetMonitoringResult = append(resp.SetMonitoringResult, ocpp201.SetMonitoringResult{
			Id:        data.Id,
			Status:    ocpp201.SetMonitoringStatusRejected,
			Type:      data.Type,
			Severity:  data.Severity,
			Component: data.Component,
			Variable:  data.Variable,
		})
	}
	return resp, nil, nil
}

func (m *Manager) handleClearVariableMonitoring(payload []byte) (interface{}, func(), error) {
	var req ocpp201.ClearVariableMonitoringRequest
	if err := m.decode(payload, &req); err != nil {
		return nil, nil, err
	}
	resp := &ocpp201.ClearVariableMonitoringResponse{}
	for _, id := range req.Id {
		resp.ClearMonitoringResult = append(resp.ClearMonitoringResult, ocpp201.ClearMonitoringResult{
			Status: ocpp201.ClearMonitoringStatusRejected,
			Id:     id,
		})
	}
	return resp, nil, nil
}

func (m *Manager) handleTriggerMessage(payload []byte) (interface{}, func(), error) {
	var req ocpp201.TriggerMessageRequest
	if err := m.decode(payload, &req); err != nil {
		return nil, nil, err
	}
	status, after := m.trigger(req)
	return &ocpp201.TriggerMessageResponse{Status: status}, after, nil
}

// trigger 判定能否触发并返回应答后的发送动作
func (m *Manager) trigger(req ocpp201.TriggerMessageRequest) (ocpp201.TriggerMessageStatus, func()) {
	rejected := ocpp201.TriggerMessageStatusRejected
	scope := availability.ScopeOf(req.Evse)
	if !m.availability.ValidScope(scope) {
		return rejected, nil
	}

	switch req.RequestedMessage {
	case ocpp201.MessageTriggerBootNotification:
		if m.registration.Status() == ocpp201.RegistrationStatusAccepted {
			return rejected, nil
		}
		return ocpp201.TriggerMessageStatusAccepted, func() { m.registration.Boot(true) }

	case ocpp201.MessageTriggerHeartbeat:
		return ocpp201.TriggerMessageStatusAccepted, func() { m.registration.SendHeartbeat(true) }

	case ocpp201.MessageTriggerStatusNotification:
		if scope.EVSEID == 0 || scope.ConnectorID == 0 {
			return rejected, nil
		}
		status, ok := m.availability.ConnectorStatus(scope.EVSEID, scope.ConnectorID)
		if !ok {
			return rejected, nil
		}
		return ocpp201.TriggerMessageStatusAccepted, func() {
			m.pushStatusNotification(scope.EVSEID, scope.ConnectorID, status, true)
		}

	case ocpp201.MessageTriggerTransactionEvent:
		var evseID *int
		if scope.EVSEID != 0 {
			if _, active := m.transactions.ActiveConnector(scope.EVSEID); !active {
				return rejected, nil
			}
			id := scope.EVSEID
			evseID = &id
		} else if !m.transactions.AnyActive() {
			return rejected, nil
		}
		return ocpp201.TriggerMessageStatusAccepted, func() { m.transactions.TriggerTransactionEvent(evseID) }

	case ocpp201.MessageTriggerMeterValues:
		return ocpp201.TriggerMessageStatusAccepted, func() { m.transactions.SendMeterValues(scope.EVSEID, true) }

	case ocpp201.MessageTriggerSignChargingStationCertificate:
		return m.triggerSigning(ocpp201.CertificateSigningUseChargingStation)

	case ocpp201.MessageTriggerSignV2GCertificate:
		return m.triggerSigning(ocpp201.CertificateSigningUseV2G)

	default:
		return ocpp201.TriggerMessageStatusNotImplemented, nil
	}
}

func (m *Manager) triggerSigning(use ocpp201.CertificateSigningUse) (ocpp201.TriggerMessageStatus, func()) {
	if _, _, busy := m.certificates.InFlight(); busy {
		return ocpp201.TriggerMessageStatusRejected, nil
	}
	return ocpp201.TriggerMessageStatusAccepted, func() {
		if err := m.certificates.RequestSigning(use, true); err != nil {
			m.logger.Warnf("Triggered %s signing not started: %v", use, err)
		}
	}
}
