package chargepoint

import (
	"github.com/charging-platform/charging-station-controller/internal/business/registration"
	"github.com/charging-platform/charging-station-controller/internal/domain/ocpp201"
	"github.com/charging-platform/charging-station-controller/internal/domain/serialization"
	"github.com/charging-platform/charging-station-controller/internal/metrics"
	protocol "github.com/charging-platform/charging-station-controller/internal/protocol/ocpp201"
)

// handlerFunc 处理一个入站请求；after 在应答发出后执行
type handlerFunc func(payload []byte) (response interface{}, after func(), err error)

// HandleMessage 处理来自CSMS的一帧原始数据
func (m *Manager) HandleMessage(data []byte) {
	if err := m.validator.ValidateMessageSize(data, m.config.MaxMessageSize); err != nil {
		m.logger.Warnf("Dropping inbound frame: %v", err)
		metrics.MessagesDiscarded.WithLabelValues("unknown", "oversized").Inc()
		return
	}

	frame, err := m.serializer.Decode(data)
	if err != nil {
		m.logger.Warnf("Failed to decode inbound frame: %v", err)
		if frame != nil && frame.Type == serialization.MessageTypeCall && frame.MessageID != "" {
			m.replyError(frame.MessageID, protocol.WrapError(protocol.ErrKindFormation, err, "malformed frame"))
		}
		return
	}

	action := frame.Action
	if frame.Type != serialization.MessageTypeCall {
		action = "response"
	}
	m.logger.Frame("in", frame.MessageID, action, len(data))
	metrics.MessagesReceived.WithLabelValues(action, frame.Type.String()).Inc()

	if frame.Type != serialization.MessageTypeCall {
		if !m.queue.HandleResponse(frame) {
			m.logger.Warnf("No pending request for %s %s", frame.Type, frame.MessageID)
		}
		return
	}

	m.handleCall(frame)
}

func (m *Manager) handleCall(frame *serialization.Frame) {
	if !m.validator.IsKnownAction(frame.Action) {
		m.replyError(frame.MessageID, protocol.NewError(protocol.ErrKindNotImplemented, "unknown action %s", frame.Action))
		return
	}
	action := ocpp201.Action(frame.Action)

	switch registration.AdmissionFor(m.registration.Status(), action) {
	case registration.Deny:
		m.replyError(frame.MessageID, protocol.NewError(protocol.ErrKindSecurity,
			"%s not allowed while registration is %s", action, m.registration.Status()))
		return
	case registration.RejectRequest:
		m.reply(frame.MessageID, action, rejectedWhilePending(action), nil)
		return
	case registration.AdmitBootTriggerOnly:
		var req ocpp201.TriggerMessageRequest
		if err := m.decode(frame.Payload, &req); err != nil {
			m.replyError(frame.MessageID, err)
			return
		}
		if req.RequestedMessage != ocpp201.MessageTriggerBootNotification {
			m.replyError(frame.MessageID, protocol.NewError(protocol.ErrKindSecurity,
				"only BootNotification may be triggered before registration"))
			return
		}
	}

	handler, ok := m.handlers[action]
	if !ok {
		m.replyError(frame.MessageID, protocol.NewError(protocol.ErrKindNotSupported, "%s is not supported by this station", action))
		return
	}

	response, after, err := handler(frame.Payload)
	if err != nil {
		m.replyError(frame.MessageID, err)
		return
	}
	m.reply(frame.MessageID, action, response, after)
}

// rejectedWhilePending 注册未完成时远程启停的固定应答
func rejectedWhilePending(action ocpp201.Action) interface{} {
	if action == ocpp201.ActionRequestStartTransaction {
		return &ocpp201.RequestStartTransactionResponse{Status: ocpp201.RequestStartStopStatusRejected}
	}
	return &ocpp201.RequestStopTransactionResponse{Status: ocpp201.RequestStartStopStatusRejected}
}

func (m *Manager) reply(messageID string, action ocpp201.Action, response interface{}, after func()) {
	if err := m.queue.SendResult(messageID, action, response); err != nil {
		m.logger.Errorf("Failed to send %s result: %v", action, err)
		return
	}
	if after != nil {
		after()
	}
}

func (m *Manager) replyError(messageID string, err error) {
	code, description := protocol.ToCallError(err)
	m.logger.Warnf("Replying %s to %s: %s", code, messageID, description)
	if sendErr := m.queue.SendError(messageID, code, description); sendErr != nil {
		m.logger.Errorf("Failed to send CallError: %v", sendErr)
	}
}

// decode 解码并校验请求负载
func (m *Manager) decode(payload []byte, v interface{}) error {
	if err := m.serializer.DecodePayload(payload, v); err != nil {
		return protocol.WrapError(protocol.ErrKindFormation, err, "invalid payload")
	}
	if err := m.validator.ValidateStruct(v); err != nil {
		return err
	}
	return nil
}

func (m *Manager) routes() map[ocpp201.Action]handlerFunc {
	return map[ocpp201.Action]handlerFunc{
		ocpp201.ActionReset:                   m.handleReset,
		ocpp201.ActionChangeAvailability:      m.handleChangeAvailability,
		ocpp201.ActionRequestStartTransaction: m.handleRequestStart,
		ocpp201.ActionRequestStopTransaction:  m.handleRequestStop,
		ocpp201.ActionCertificateSigned:       m.handleCertificateSigned,
		ocpp201.ActionClearCache:              m.handleClearCache,
		ocpp201.ActionSendLocalList:           m.handleSendLocalList,
		ocpp201.ActionGetLocalListVersion:     m.handleGetLocalListVersion,
		ocpp201.ActionDataTransfer:            m.handleDataTransfer,
		ocpp201.ActionGetVariables:            m.handleGetVariables,
		ocpp201.ActionSetVariables:            m.handleSetVariables,
		ocpp201.ActionGetBaseReport:           m.handleGetBaseReport,
		ocpp201.ActionGetReport:               m.handleGetReport,
		ocpp201.ActionSetChargingProfile:      m.handleSetChargingProfile,
		ocpp201.ActionClearChargingProfile:    m.handleClearChargingProfile,
		ocpp201.ActionGetCompositeSchedule:    m.handleGetCompositeSchedule,
		ocpp201.ActionCustomerInformation:     m.handleCustomerInformation,
		ocpp201.ActionSetVariableMonitoring:   m.handleSetVariableMonitoring,
		ocpp201.ActionClearVariableMonitoring: m.handleClearVariableMonitoring,
		ocpp201.ActionTriggerMessage:          m.handleTriggerMessage,
	}
}
