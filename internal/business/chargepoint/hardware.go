package chargepoint

import (
	"context"
	"time"

	"github.com/charging-platform/charging-station-controller/internal/business/authorization"
	"github.com/charging-platform/charging-station-controller/internal/business/availability"
	"github.com/charging-platform/charging-station-controller/internal/business/transaction"
	"github.com/charging-platform/charging-station-controller/internal/domain/events"
	"github.com/charging-platform/charging-station-controller/internal/domain/ocpp201"
	protocol "github.com/charging-platform/charging-station-controller/internal/protocol/ocpp201"
)

// OnSessionStarted 车辆插入，连接器被占用
func (m *Manager) OnSessionStarted(evseID, connectorID int) error {
	return m.availability.SetOccupied(evseID, connectorID, true)
}

// OnSessionFinished 车辆拔出
func (m *Manager) OnSessionFinished(evseID, connectorID int) error {
	return m.availability.SetOccupied(evseID, connectorID, false)
}

// OnTransactionStarted 充电过程开始交易，返回交易ID
func (m *Manager) OnTransactionStarted(req transaction.StartRequest) (string, error) {
	if req.Timestamp.IsZero() {
		req.Timestamp = m.now()
	}
	if err := m.availability.SetOccupied(req.EVSEID, req.ConnectorID, true); err != nil {
		return "", err
	}
	return m.transactions.StartTransaction(req)
}

// OnTransactionFinished 充电过程结束交易
func (m *Manager) OnTransactionFinished(req transaction.FinishRequest) error {
	if req.Timestamp.IsZero() {
		req.Timestamp = m.now()
	}
	return m.transactions.FinishTransaction(req)
}

// OnMeterValue 电表采样
func (m *Manager) OnMeterValue(evseID int, value ocpp201.MeterValue) error {
	return m.transactions.MeterValue(evseID, value)
}

// OnChargingStateChanged 供电状态变化
func (m *Manager) OnChargingStateChanged(evseID int, state ocpp201.ChargingState) bool {
	return m.transactions.ChargingStateChanged(evseID, state)
}

// OnAuthorize 本地出示标识；evseID不为空且授权通过时绑定到该EVSE的交易
func (m *Manager) OnAuthorize(ctx context.Context, evseID *int, req authorization.Request) authorization.Result {
	result := m.authorizer.Authorize(ctx, req)

	info := events.AuthorizationInfo{
		IdToken:    req.IdToken.IdToken,
		TokenType:  req.IdToken.Type,
		Status:     result.IdTokenInfo.Status,
		Source:     string(result.Outcome),
		ExpiryDate: result.IdTokenInfo.CacheExpiryDateTime,
		EVSEID:     evseID,
	}
	if result.CertificateStatus != nil {
		status := string(*result.CertificateStatus)
		info.Certificate = &status
	}
	m.publish(m.factory.CreateAuthorizationDecisionEvent(info))

	switch {
	case result.Accepted():
		if evseID != nil {
			m.transactions.Authorized(*evseID, req.IdToken)
		}
	case result.IdTokenInfo.Status != ocpp201.AuthorizationStatusUnknown:
		// 已绑定交易的标识被判定无效
		if n := m.transactions.Deauthorize(req.IdToken); n > 0 {
			m.logger.Warnf("Id token rejected with %s, %d transaction(s) deauthorized", result.IdTokenInfo.Status, n)
		}
	}
	return result
}

// OnFaulted 连接器故障或恢复
func (m *Manager) OnFaulted(evseID, connectorID int, faulted bool) error {
	return m.availability.SetFaulted(evseID, connectorID, faulted)
}

// OnReserved 连接器为holder预约，holder为nil时取消预约
func (m *Manager) OnReserved(evseID, connectorID int, holder *ocpp201.IdToken) error {
	return m.availability.SetReserved(evseID, connectorID, holder)
}

// OnUnavailable 本地将连接器置为不可用
func (m *Manager) OnUnavailable(evseID, connectorID int, unavailable bool) error {
	return m.availability.SetUnavailable(evseID, connectorID, unavailable)
}

// AllInoperative 所有连接器是否均已不可用，供固件更新等流程判断
func (m *Manager) AllInoperative() bool {
	return m.availability.AllInoperative()
}

// Status 会话控制器状态摘要
type Status struct {
	StationID         string                     `json:"station_id"`
	Registration      ocpp201.RegistrationStatus `json:"registration"`
	Connected         bool                       `json:"connected"`
	QueuePaused       bool                       `json:"queue_paused"`
	QueuedMessages    int                        `json:"queued_messages"`
	QueuedTransaction int                        `json:"queued_transaction_messages"`
	HeartbeatInterval int                        `json:"heartbeat_interval"`
	Station           ocpp201.OperationalStatus  `json:"operational_status"`
	SigningInFlight   *string                    `json:"signing_in_flight,omitempty"`
	ResetScheduled    bool                       `json:"reset_scheduled"`
	Timestamp         time.Time                  `json:"timestamp"`
}

// Status 返回当前状态
func (m *Manager) Status() Status {
	m.mu.Lock()
	connected := m.connected
	m.mu.Unlock()

	normal, tx := m.queue.Len()
	status := Status{
		StationID:         m.config.StationID,
		Registration:      m.registration.Status(),
		Connected:         connected,
		QueuePaused:       m.queue.IsPaused(),
		QueuedMessages:    normal,
		QueuedTransaction: tx,
		HeartbeatInterval: int(m.registration.HeartbeatInterval() / time.Second),
		Station:           m.availability.StationStatus(),
		ResetScheduled:    m.transactions.ResetScheduled(),
		Timestamp:         m.now().UTC(),
	}
	if use, _, busy := m.certificates.InFlight(); busy {
		value := string(use)
		status.SigningInFlight = &value
	}
	return status
}

// EVSEState 单个EVSE的可用性与交易状态
type EVSEState struct {
	availability.EVSESnapshot
	Transaction *transaction.Snapshot `json:"transaction,omitempty"`
}

// EVSEs 所有EVSE的状态
func (m *Manager) EVSEs() []EVSEState {
	sessions := make(map[int]transaction.Snapshot)
	for _, snapshot := range m.transactions.Snapshots() {
		sessions[snapshot.EVSEID] = snapshot
	}

	var states []EVSEState
	for _, snapshot := range m.availability.Snapshot() {
		state := EVSEState{EVSESnapshot: snapshot}
		if session, ok := sessions[snapshot.ID]; ok && session.TransactionID != "" {
			session := session
			state.Transaction = &session
		}
		states = append(states, state)
	}
	return states
}

// Queue 消息队列，供传输层与诊断使用
func (m *Manager) Queue() *protocol.MessageQueue {
	return m.queue
}
