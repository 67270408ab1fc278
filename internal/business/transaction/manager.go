package transaction

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/charging-platform/charging-station-controller/internal/devicemodel"
	"github.com/charging-platform/charging-station-controller/internal/domain/ocpp201"
	"github.com/charging-platform/charging-station-controller/internal/logger"
	"github.com/charging-platform/charging-station-controller/internal/metrics"
	protocol "github.com/charging-platform/charging-station-controller/internal/protocol/ocpp201"
	"github.com/google/uuid"
)

var (
	// ErrUnknownEVSE EVSE不存在
	ErrUnknownEVSE = errors.New("unknown evse")
	// ErrTransactionActive EVSE上已有交易
	ErrTransactionActive = errors.New("evse already has an active transaction")
	// ErrNoTransaction EVSE上没有交易
	ErrNoTransaction = errors.New("evse has no active transaction")
)

// Settings 交易相关的设备模型变量
type Settings interface {
	GetBool(key devicemodel.Key) bool
	GetInt(key devicemodel.Key) (int, bool)
	GetList(key devicemodel.Key) []string
}

// CallSender 出站请求通道
type CallSender interface {
	Push(call protocol.OutgoingCall) *protocol.Future
	IsConnected() bool
}

// Callbacks 与充电过程交互的回调；除注明外均可为空
type Callbacks struct {
	// RemoteStartTransaction 远程启动已接受，在应答发出后调用
	RemoteStartTransaction func(req ocpp201.RequestStartTransactionRequest, authorizeRemoteStart bool)
	// StopTransaction 请求充电过程结束交易
	StopTransaction func(evseID int, reason ocpp201.ReasonType)
	// PauseCharging 标识失效且不停止交易时暂停供电
	PauseCharging func(evseID int)
	// IsResetAllowed 为空时视为允许
	IsResetAllowed func(evseID *int, resetType ocpp201.ResetType) bool
	// Reset 执行重启，evseID为空表示整站
	Reset func(evseID *int, resetType ocpp201.ResetType)
	// SetEVSEInoperative 等待整站空闲重启期间临时停用EVSE
	SetEVSEInoperative func(evseID int)
	// OnTransactionEnded 交易槽释放后调用，用于处理排期的可用性变更
	OnTransactionEnded func(evseID int)
	// OnTransactionEvent 每个已排队的TransactionEvent
	OnTransactionEvent func(req ocpp201.TransactionEventRequest)
	// OnIdTokenInfo TransactionEvent应答中携带的标识信息
	OnIdTokenInfo func(token ocpp201.IdToken, info ocpp201.IdTokenInfo)
}

// ManagerConfig 交易跟踪配置
type ManagerConfig struct {
	// MeterUpdateInterval 交易期间两次周期性Updated事件的最小间隔，0表示每个电表值都上报
	MeterUpdateInterval time.Duration `json:"meter_update_interval"`
	// MaxStoredMeterValues 单笔交易保留的电表值上限
	MaxStoredMeterValues int `json:"max_stored_meter_values"`
}

// DefaultManagerConfig 默认交易跟踪配置
func DefaultManagerConfig() *ManagerConfig {
	return &ManagerConfig{
		MeterUpdateInterval:  60 * time.Second,
		MaxStoredMeterValues: 1000,
	}
}

// StartRequest 充电过程报告的交易开始
type StartRequest struct {
	EVSEID        int
	ConnectorID   int
	TransactionID string
	Timestamp     time.Time
	MeterStart    ocpp201.MeterValue
	IdToken       *ocpp201.IdToken
	GroupIdToken  *ocpp201.IdToken
	ReservationID *int
	TriggerReason ocpp201.TriggerReason
}

// FinishRequest 充电过程报告的交易结束
type FinishRequest struct {
	EVSEID    int
	Timestamp time.Time
	MeterStop ocpp201.MeterValue
	Reason    ocpp201.ReasonType
	IdToken   *ocpp201.IdToken
}

// Transaction 进行中的交易
type Transaction struct {
	ID            string
	EVSEID        int
	ConnectorID   int
	StartedAt     time.Time
	IdToken       *ocpp201.IdToken
	GroupIdToken  *ocpp201.IdToken
	ReservationID *int
	RemoteStartID *int
	ChargingState *ocpp201.ChargingState

	seqNo       int
	meterValues []ocpp201.MeterValue
	energyStart *float64
	// maxEnergy 标识失效后允许的能量上限(Wh)
	maxEnergy  *int
	lastUpdate time.Time
}

type evseSession struct {
	id          int
	connectors  int
	transaction *Transaction
	latest      *ocpp201.MeterValue
}

// outgoingEvent 已分配序号、等待入队的事件
type outgoingEvent struct {
	event     ocpp201.TransactionEventRequest
	triggered bool
}

type remoteStart struct {
	idToken       ocpp201.IdToken
	remoteStartID int
}

// ManagerStats 交易统计
type ManagerStats struct {
	TransactionsStarted  int64 `json:"transactions_started"`
	TransactionsEnded    int64 `json:"transactions_ended"`
	RemoteStartsAccepted int64 `json:"remote_starts_accepted"`
	RemoteStartsRejected int64 `json:"remote_starts_rejected"`
	Deauthorizations     int64 `json:"deauthorizations"`
}

// Manager EVSE会话与交易事件
type Manager struct {
	settings  Settings
	sender    CallSender
	config    *ManagerConfig
	callbacks Callbacks

	mu    sync.Mutex
	evses map[int]*evseSession
	// remoteStarts 远程启动关联，键0表示任意EVSE；同键多次请求按到达顺序排队
	remoteStarts map[int][]remoteStart
	resetStation bool
	resetEVSEs   map[int]struct{}
	stats        ManagerStats

	// outbox 按序号顺序入队；flushing 保证同一时刻只有一个入队者
	outbox   []outgoingEvent
	flushing bool

	logger *logger.Logger
	now    func() time.Time
}

// NewManager 创建交易跟踪器；topology为 EVSE ID -> 连接器数量
func NewManager(topology map[int]int, settings Settings, sender CallSender, config *ManagerConfig, callbacks Callbacks, log *logger.Logger) (*Manager, error) {
	if settings == nil || sender == nil {
		return nil, protocol.NewError(protocol.ErrKindConfiguration, "transaction manager requires a device model and a message sender")
	}
	if len(topology) == 0 {
		return nil, protocol.NewError(protocol.ErrKindConfiguration, "transaction manager requires at least one EVSE")
	}
	if config == nil {
		config = DefaultManagerConfig()
	}
	if log == nil {
		log = logger.Global()
	}

	evses := make(map[int]*evseSession, len(topology))
	for id, connectors := range topology {
		if id < 1 || connectors < 1 {
			return nil, protocol.NewError(protocol.ErrKindConfiguration, "invalid topology entry evse %d with %d connectors", id, connectors)
		}
		evses[id] = &evseSession{id: id, connectors: connectors}
	}

	return &Manager{
		settings:     settings,
		sender:       sender,
		config:       config,
		callbacks:    callbacks,
		evses:        evses,
		remoteStarts: make(map[int][]remoteStart),
		resetEVSEs:   make(map[int]struct{}),
		logger:       log.WithComponent("transaction"),
		now:          time.Now,
	}, nil
}

// HandleRequestStart 处理RequestStartTransaction；after须在应答发出后调用。
// available在锁外调用，可以查询可用性协调器
func (m *Manager) HandleRequestStart(req *ocpp201.RequestStartTransactionRequest, available func(evseID int) bool) (*ocpp201.RequestStartTransactionResponse, func()) {
	rejected := &ocpp201.RequestStartTransactionResponse{Status: ocpp201.RequestStartStopStatusRejected}

	candidates := m.evseIDs()
	if req.EvseId != nil {
		candidates = []int{*req.EvseId}
	}
	usable := make(map[int]bool, len(candidates))
	for _, id := range candidates {
		usable[id] = available == nil || available(id)
	}

	m.mu.Lock()
	key, ok := m.remoteStartTargetLocked(req.EvseId, usable)
	if !ok {
		m.stats.RemoteStartsRejected++
		m.mu.Unlock()
		return rejected, nil
	}
	m.remoteStarts[key] = append(m.remoteStarts[key], remoteStart{idToken: req.IdToken, remoteStartID: req.RemoteStartId})
	m.stats.RemoteStartsAccepted++
	m.mu.Unlock()

	m.logger.Infof("Remote start %d accepted for evse %d", req.RemoteStartId, key)
	request := *req
	authorize := m.settings.GetBool(devicemodel.AuthorizeRemoteStart)
	after := func() {
		if m.callbacks.RemoteStartTransaction != nil {
			m.callbacks.RemoteStartTransaction(request, authorize)
		}
	}
	return &ocpp201.RequestStartTransactionResponse{Status: ocpp201.RequestStartStopStatusAccepted}, after
}

// remoteStartTargetLocked 未指定EVSE时只要有空闲EVSE即登记为任意EVSE(键0)
func (m *Manager) remoteStartTargetLocked(evseID *int, usable map[int]bool) (int, bool) {
	free := func(id int) bool {
		s, ok := m.evses[id]
		return ok && s.transaction == nil && usable[id]
	}
	if evseID == nil {
		for id := range usable {
			if free(id) {
				return 0, true
			}
		}
		return 0, false
	}
	return *evseID, free(*evseID)
}

// evseIDs 按序返回所有EVSE ID
func (m *Manager) evseIDs() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedIDsLocked()
}

// HandleRequestStop 处理RequestStopTransaction；after须在应答发出后调用
func (m *Manager) HandleRequestStop(req *ocpp201.RequestStopTransactionRequest) (*ocpp201.RequestStopTransactionResponse, func()) {
	evseID, ok := m.TransactionEVSE(req.TransactionId)
	if !ok {
		return &ocpp201.RequestStopTransactionResponse{Status: ocpp201.RequestStartStopStatusRejected}, nil
	}
	after := func() {
		if m.callbacks.StopTransaction != nil {
			m.callbacks.StopTransaction(evseID, ocpp201.ReasonRemote)
		}
	}
	return &ocpp201.RequestStopTransactionResponse{Status: ocpp201.RequestStartStopStatusAccepted}, after
}

// StartTransaction 开始交易并发送Started事件，返回交易ID
func (m *Manager) StartTransaction(req StartRequest) (string, error) {
	m.mu.Lock()
	s, ok := m.evses[req.EVSEID]
	if !ok || req.ConnectorID < 1 || req.ConnectorID > s.connectors {
		m.mu.Unlock()
		return "", ErrUnknownEVSE
	}
	if s.transaction != nil {
		m.mu.Unlock()
		return "", ErrTransactionActive
	}

	timestamp := req.Timestamp
	if timestamp.IsZero() {
		timestamp = m.now()
	}
	id := req.TransactionID
	if id == "" {
		id = uuid.New().String()
	}
	tx := &Transaction{
		ID:            id,
		EVSEID:        s.id,
		ConnectorID:   req.ConnectorID,
		StartedAt:     timestamp,
		IdToken:       req.IdToken,
		GroupIdToken:  req.GroupIdToken,
		ReservationID: req.ReservationID,
		lastUpdate:    timestamp,
	}
	if energy, ok := energyRegister(req.MeterStart); ok {
		tx.energyStart = &energy
	}
	s.transaction = tx
	s.latest = copyMeterValue(req.MeterStart)
	m.storeMeterValueLocked(tx, req.MeterStart, ocpp201.ReadingContextTransactionBegin)
	m.stats.TransactionsStarted++

	trigger := req.TriggerReason
	if trigger == "" {
		trigger = ocpp201.TriggerReasonCablePluggedIn
		if req.IdToken != nil {
			trigger = ocpp201.TriggerReasonAuthorized
		}
	}
	event := m.newEventLocked(tx, ocpp201.TransactionEventStarted, trigger, timestamp)
	connectorID := req.ConnectorID
	event.Evse = &ocpp201.EVSE{Id: s.id, ConnectorId: &connectorID}
	event.IdToken = req.IdToken
	event.ReservationId = req.ReservationID
	if mv, ok := FilterMeterValue(req.MeterStart, m.settings.GetList(devicemodel.SampledDataTxStartedMeasurands), ocpp201.ReadingContextTransactionBegin); ok {
		event.MeterValue = []ocpp201.MeterValue{mv}
	}
	m.bindRemoteStartLocked(s.id, tx, &event)
	m.enqueueLocked(event, false)
	m.mu.Unlock()

	metrics.ActiveTransactions.Inc()
	m.logger.Infof("Transaction %s started on evse %d connector %d", id, s.id, req.ConnectorID)
	m.flush()
	return id, nil
}

// FinishTransaction 结束交易并发送Ended事件，随后处理排期的重启与可用性变更
func (m *Manager) FinishTransaction(req FinishRequest) error {
	m.mu.Lock()
	s, ok := m.evses[req.EVSEID]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownEVSE
	}
	tx := s.transaction
	if tx == nil {
		m.mu.Unlock()
		return ErrNoTransaction
	}

	timestamp := req.Timestamp
	if timestamp.IsZero() {
		timestamp = m.now()
	}
	if len(req.MeterStop.SampledValue) > 0 {
		s.latest = copyMeterValue(req.MeterStop)
		m.storeMeterValueLocked(tx, req.MeterStop, ocpp201.ReadingContextTransactionEnd)
	}

	trigger := StopReasonTrigger(req.Reason)
	reason := req.Reason
	event := m.newEventLocked(tx, ocpp201.TransactionEventEnded, trigger, timestamp)
	event.TransactionInfo.StoppedReason = &reason
	if trigger == ocpp201.TriggerReasonStopAuthorized {
		event.IdToken = req.IdToken
		if event.IdToken == nil {
			event.IdToken = tx.IdToken
		}
	}
	measurands := m.settings.GetList(devicemodel.SampledDataTxEndedMeasurands)
	for _, stored := range tx.meterValues {
		if mv, ok := FilterMeterValue(stored, measurands, ocpp201.ReadingContextSamplePeriodic); ok {
			event.MeterValue = append(event.MeterValue, mv)
		}
	}
	s.transaction = nil
	m.stats.TransactionsEnded++
	m.enqueueLocked(event, false)

	sendReset, resetEVSE, blockEVSE := m.resolveResetLocked(s.id)
	m.mu.Unlock()

	metrics.ActiveTransactions.Dec()
	m.logger.Infof("Transaction %s ended on evse %d: %s", tx.ID, s.id, req.Reason)
	m.flush()

	if blockEVSE && m.callbacks.SetEVSEInoperative != nil {
		m.callbacks.SetEVSEInoperative(s.id)
	}
	if sendReset && m.callbacks.Reset != nil {
		m.callbacks.Reset(resetEVSE, ocpp201.ResetTypeOnIdle)
	}
	if m.callbacks.OnTransactionEnded != nil {
		m.callbacks.OnTransactionEnded(s.id)
	}
	return nil
}

// resolveResetLocked 交易结束后判定是否执行空闲重启；整站重启须等所有交易结束，
// 并覆盖同时排期的EVSE重启
func (m *Manager) resolveResetLocked(evseID int) (send bool, target *int, block bool) {
	_, evseReset := m.resetEVSEs[evseID]
	delete(m.resetEVSEs, evseID)
	id := evseID

	if m.resetStation {
		if !m.anyActiveLocked() {
			m.resetStation = false
			for other := range m.resetEVSEs {
				delete(m.resetEVSEs, other)
			}
			return true, nil, false
		}
		return evseReset, &id, true
	}
	if evseReset {
		return true, &id, false
	}
	return false, nil, false
}

// HandleReset 处理Reset；after须在应答发出后调用
func (m *Manager) HandleReset(req *ocpp201.ResetRequest) (*ocpp201.ResetResponse, func()) {
	rejected := &ocpp201.ResetResponse{Status: ocpp201.ResetStatusRejected}

	m.mu.Lock()
	var active, idle []int
	if req.EvseId != nil {
		s, ok := m.evses[*req.EvseId]
		if !ok {
			m.mu.Unlock()
			return rejected, nil
		}
		if s.transaction != nil {
			active = append(active, s.id)
		}
	} else {
		for _, id := range m.sortedIDsLocked() {
			if m.evses[id].transaction != nil {
				active = append(active, id)
			} else {
				idle = append(idle, id)
			}
		}
	}
	m.mu.Unlock()

	if m.callbacks.IsResetAllowed != nil && !m.callbacks.IsResetAllowed(req.EvseId, req.Type) {
		return rejected, nil
	}

	status := ocpp201.ResetStatusAccepted
	if len(active) > 0 && req.Type == ocpp201.ResetTypeOnIdle {
		status = ocpp201.ResetStatusScheduled
		m.mu.Lock()
		if req.EvseId != nil {
			m.resetEVSEs[*req.EvseId] = struct{}{}
		} else {
			m.resetStation = true
		}
		m.mu.Unlock()
	}

	resetType := req.Type
	var evseID *int
	if req.EvseId != nil {
		id := *req.EvseId
		evseID = &id
	}
	after := func() {
		if len(active) > 0 {
			switch resetType {
			case ocpp201.ResetTypeImmediate:
				for _, id := range active {
					if m.callbacks.StopTransaction != nil {
						m.callbacks.StopTransaction(id, ocpp201.ReasonImmediateReset)
					}
				}
			case ocpp201.ResetTypeOnIdle:
				for _, id := range idle {
					if m.callbacks.SetEVSEInoperative != nil {
						m.callbacks.SetEVSEInoperative(id)
					}
				}
			}
		}
		if status == ocpp201.ResetStatusAccepted && m.callbacks.Reset != nil {
			m.callbacks.Reset(evseID, ocpp201.ResetTypeImmediate)
		}
	}
	m.logger.Infof("Reset %s requested: %s", req.Type, status)
	return &ocpp201.ResetResponse{Status: status}, after
}

// ResetScheduled 是否有等待空闲的重启
func (m *Manager) ResetScheduled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resetStation || len(m.resetEVSEs) > 0
}

// Authorized 交易开始后才完成授权时补充标识并发送Updated(Authorized)
func (m *Manager) Authorized(evseID int, token ocpp201.IdToken) bool {
	m.mu.Lock()
	s, ok := m.evses[evseID]
	if !ok || s.transaction == nil || s.transaction.IdToken != nil {
		m.mu.Unlock()
		return false
	}
	tx := s.transaction
	tx.IdToken = &token
	event := m.newEventLocked(tx, ocpp201.TransactionEventUpdated, ocpp201.TriggerReasonAuthorized, m.now())
	event.IdToken = &token
	m.bindRemoteStartLocked(evseID, tx, &event)
	m.enqueueLocked(event, false)
	m.mu.Unlock()

	m.flush()
	return true
}

// ChargingStateChanged 充电状态变化时发送Updated(ChargingStateChanged)
func (m *Manager) ChargingStateChanged(evseID int, state ocpp201.ChargingState) bool {
	m.mu.Lock()
	s, ok := m.evses[evseID]
	if !ok || s.transaction == nil {
		m.mu.Unlock()
		return false
	}
	tx := s.transaction
	if tx.ChargingState != nil && *tx.ChargingState == state {
		m.mu.Unlock()
		return false
	}
	tx.ChargingState = &state
	event := m.newEventLocked(tx, ocpp201.TransactionEventUpdated, ocpp201.TriggerReasonChargingStateChanged, m.now())
	m.enqueueLocked(event, false)
	m.mu.Unlock()

	m.flush()
	return true
}

// MeterValue 记录最新电表值；交易期间按间隔发送Updated(MeterValuePeriodic)并检查能量上限
func (m *Manager) MeterValue(evseID int, mv ocpp201.MeterValue) error {
	if mv.Timestamp.IsZero() {
		mv.Timestamp = m.now()
	}

	m.mu.Lock()
	s, ok := m.evses[evseID]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownEVSE
	}
	s.latest = copyMeterValue(mv)
	tx := s.transaction
	if tx == nil {
		m.mu.Unlock()
		return nil
	}
	m.storeMeterValueLocked(tx, mv, ocpp201.ReadingContextSamplePeriodic)
	pause := m.energyCapReachedLocked(tx, mv)

	if mv.Timestamp.Sub(tx.lastUpdate) >= m.config.MeterUpdateInterval {
		filtered, ok := FilterMeterValue(mv, m.settings.GetList(devicemodel.SampledDataTxUpdatedMeasurands), ocpp201.ReadingContextSamplePeriodic)
		if ok {
			tx.lastUpdate = mv.Timestamp
			event := m.newEventLocked(tx, ocpp201.TransactionEventUpdated, ocpp201.TriggerReasonMeterValuePeriodic, mv.Timestamp)
			event.MeterValue = []ocpp201.MeterValue{filtered}
			m.enqueueLocked(event, false)
		}
	}
	m.mu.Unlock()

	m.flush()
	if pause {
		m.logger.Warnf("Energy limit for invalidated id token reached on evse %d, pausing", evseID)
		if m.callbacks.PauseCharging != nil {
			m.callbacks.PauseCharging(evseID)
		}
	}
	return nil
}

// energyCapReachedLocked 达到上限后只暂停一次
func (m *Manager) energyCapReachedLocked(tx *Transaction, mv ocpp201.MeterValue) bool {
	if tx.maxEnergy == nil || tx.energyStart == nil {
		return false
	}
	energy, ok := energyRegister(mv)
	if !ok || energy-*tx.energyStart < float64(*tx.maxEnergy) {
		return false
	}
	tx.maxEnergy = nil
	return true
}

// Deauthorize 交易开始后标识被判定为无效，按配置停止交易、限制能量或暂停
func (m *Manager) Deauthorize(token ocpp201.IdToken) int {
	m.mu.Lock()
	var ids []string
	for _, id := range m.sortedIDsLocked() {
		tx := m.evses[id].transaction
		if tx != nil && tx.IdToken != nil && sameToken(*tx.IdToken, token) {
			ids = append(ids, tx.ID)
		}
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.deauthorizeTransaction(id)
	}
	return len(ids)
}

func (m *Manager) deauthorizeTransaction(transactionID string) {
	stop := m.settings.GetBool(devicemodel.StopTxOnInvalidId)
	limit, limited := m.settings.GetInt(devicemodel.MaxEnergyOnInvalidId)

	m.mu.Lock()
	s := m.sessionForLocked(transactionID)
	if s == nil {
		m.mu.Unlock()
		return
	}
	evseID := s.id
	m.stats.Deauthorizations++
	pause := false
	switch {
	case stop:
	case limited && limit >= 0:
		s.transaction.maxEnergy = &limit
		if s.latest != nil {
			pause = m.energyCapReachedLocked(s.transaction, *s.latest)
		}
	default:
		pause = true
	}
	m.mu.Unlock()

	switch {
	case stop:
		m.logger.Warnf("Id token of transaction %s invalid, stopping", transactionID)
		if m.callbacks.StopTransaction != nil {
			m.callbacks.StopTransaction(evseID, ocpp201.ReasonDeAuthorized)
		}
	case pause:
		m.logger.Warnf("Id token of transaction %s invalid, pausing charging", transactionID)
		if m.callbacks.PauseCharging != nil {
			m.callbacks.PauseCharging(evseID)
		}
	default:
		m.logger.Warnf("Id token of transaction %s invalid, energy limited to %d Wh", transactionID, limit)
	}
}

// TriggerTransactionEvent 响应TriggerMessage，为有交易的EVSE发送Updated(Trigger)，返回发送数
func (m *Manager) TriggerTransactionEvent(evseID *int) int {
	m.mu.Lock()
	sent := 0
	measurands := m.settings.GetList(devicemodel.SampledDataTxUpdatedMeasurands)
	for _, id := range m.sortedIDsLocked() {
		if evseID != nil && *evseID != id {
			continue
		}
		s := m.evses[id]
		if s.transaction == nil {
			continue
		}
		event := m.newEventLocked(s.transaction, ocpp201.TransactionEventUpdated, ocpp201.TriggerReasonTrigger, m.now())
		if s.latest != nil {
			if mv, ok := FilterMeterValue(*s.latest, measurands, ocpp201.ReadingContextTrigger); ok {
				event.MeterValue = []ocpp201.MeterValue{mv}
			}
		}
		m.enqueueLocked(event, true)
		sent++
	}
	m.mu.Unlock()

	m.flush()
	return sent
}

// SendMeterValues 发送最新电表值(按AlignedDataMeasurands过滤)；evseID为0表示所有EVSE
func (m *Manager) SendMeterValues(evseID int, triggered bool) int {
	readingContext := ocpp201.ReadingContextSampleClock
	if triggered {
		readingContext = ocpp201.ReadingContextTrigger
	}

	m.mu.Lock()
	var requests []ocpp201.MeterValuesRequest
	measurands := m.settings.GetList(devicemodel.AlignedDataMeasurands)
	for _, id := range m.sortedIDsLocked() {
		if evseID != 0 && evseID != id {
			continue
		}
		s := m.evses[id]
		if s.latest == nil {
			continue
		}
		if mv, ok := FilterMeterValue(*s.latest, measurands, readingContext); ok {
			requests = append(requests, ocpp201.MeterValuesRequest{EvseId: id, MeterValue: []ocpp201.MeterValue{mv}})
		}
	}
	m.mu.Unlock()

	for _, req := range requests {
		m.sender.Push(protocol.OutgoingCall{
			Action:             ocpp201.ActionMeterValues,
			Payload:            req,
			InitiatedByTrigger: triggered,
		})
	}
	return len(requests)
}

// ActiveConnector 返回EVSE上正在交易的连接器
func (m *Manager) ActiveConnector(evseID int) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.evses[evseID]
	if !ok || s.transaction == nil {
		return 0, false
	}
	return s.transaction.ConnectorID, true
}

// TransactionEVSE 按交易ID查找EVSE
func (m *Manager) TransactionEVSE(transactionID string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessionForLocked(transactionID)
	if s == nil {
		return 0, false
	}
	return s.id, true
}

// AnyActive 是否有任意EVSE在交易
func (m *Manager) AnyActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.anyActiveLocked()
}

// Snapshot EVSE会话快照
type Snapshot struct {
	EVSEID        int        `json:"evse_id"`
	TransactionID string     `json:"transaction_id,omitempty"`
	ConnectorID   int        `json:"connector_id,omitempty"`
	SeqNo         int        `json:"seq_no,omitempty"`
	ChargingState string     `json:"charging_state,omitempty"`
	IdToken       string     `json:"id_token,omitempty"`
	RemoteStartID *int       `json:"remote_start_id,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	EnergyWh      *float64   `json:"energy_wh,omitempty"`
}

// Snapshots 按EVSE ID排序的会话快照
func (m *Manager) Snapshots() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshots := make([]Snapshot, 0, len(m.evses))
	for _, id := range m.sortedIDsLocked() {
		s := m.evses[id]
		snap := Snapshot{EVSEID: id}
		if s.latest != nil {
			if energy, ok := energyRegister(*s.latest); ok {
				snap.EnergyWh = &energy
			}
		}
		if tx := s.transaction; tx != nil {
			started := tx.StartedAt
			snap.TransactionID = tx.ID
			snap.ConnectorID = tx.ConnectorID
			snap.SeqNo = tx.seqNo
			snap.RemoteStartID = tx.RemoteStartID
			snap.StartedAt = &started
			if tx.ChargingState != nil {
				snap.ChargingState = string(*tx.ChargingState)
			}
			if tx.IdToken != nil {
				snap.IdToken = tx.IdToken.IdToken
			}
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots
}

// GetStats 获取统计信息
func (m *Manager) GetStats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// newEventLocked 分配序号并构造事件
func (m *Manager) newEventLocked(tx *Transaction, eventType ocpp201.TransactionEventType, trigger ocpp201.TriggerReason, timestamp time.Time) ocpp201.TransactionEventRequest {
	seqNo := tx.seqNo
	tx.seqNo++
	info := ocpp201.Transaction{
		TransactionId: tx.ID,
		RemoteStartId: tx.RemoteStartID,
	}
	if tx.ChargingState != nil {
		state := *tx.ChargingState
		info.ChargingState = &state
	}
	return ocpp201.TransactionEventRequest{
		EventType:       eventType,
		Timestamp:       timestamp,
		TriggerReason:   trigger,
		SeqNo:           seqNo,
		Offline:         !m.sender.IsConnected(),
		TransactionInfo: info,
	}
}

// bindRemoteStartLocked 首个携带匹配标识的事件报告RemoteStart并消费关联
func (m *Manager) bindRemoteStartLocked(evseID int, tx *Transaction, event *ocpp201.TransactionEventRequest) {
	if event.IdToken == nil {
		return
	}
	for _, key := range []int{evseID, 0} {
		pending := m.remoteStarts[key]
		for i, rs := range pending {
			if !sameToken(rs.idToken, *event.IdToken) {
				continue
			}
			if rest := append(pending[:i:i], pending[i+1:]...); len(rest) > 0 {
				m.remoteStarts[key] = rest
			} else {
				delete(m.remoteStarts, key)
			}
			id := rs.remoteStartID
			tx.RemoteStartID = &id
			event.TriggerReason = ocpp201.TriggerReasonRemoteStart
			event.TransactionInfo.RemoteStartId = &id
			return
		}
	}
}

func (m *Manager) storeMeterValueLocked(tx *Transaction, mv ocpp201.MeterValue, readingContext ocpp201.ReadingContext) {
	if len(mv.SampledValue) == 0 {
		return
	}
	stored := *copyMeterValue(mv)
	for i := range stored.SampledValue {
		if stored.SampledValue[i].Context == nil {
			ctx := readingContext
			stored.SampledValue[i].Context = &ctx
		}
	}
	tx.meterValues = append(tx.meterValues, stored)
	if limit := m.config.MaxStoredMeterValues; limit > 0 && len(tx.meterValues) > limit {
		// 保留开始值
		tx.meterValues = append(tx.meterValues[:1], tx.meterValues[len(tx.meterValues)-limit+1:]...)
	}
}

// enqueueLocked 须与newEventLocked在同一临界区内调用
func (m *Manager) enqueueLocked(event ocpp201.TransactionEventRequest, triggered bool) {
	m.outbox = append(m.outbox, outgoingEvent{event: event, triggered: triggered})
}

// flush 在锁外按序入队；入队期间重入的调用只追加到outbox，由当前入队者发送
func (m *Manager) flush() {
	m.mu.Lock()
	if m.flushing {
		m.mu.Unlock()
		return
	}
	m.flushing = true
	for len(m.outbox) > 0 {
		next := m.outbox[0]
		m.outbox = m.outbox[1:]
		m.mu.Unlock()
		m.send(next.event, next.triggered)
		m.mu.Lock()
	}
	m.flushing = false
	m.mu.Unlock()
}

func (m *Manager) send(event ocpp201.TransactionEventRequest, triggered bool) {
	m.sender.Push(protocol.OutgoingCall{
		Action:             ocpp201.ActionTransactionEvent,
		Payload:            event,
		InitiatedByTrigger: triggered,
		OnResult: func(resp *protocol.Response) {
			m.handleEventResponse(event, resp)
		},
	})
	if m.callbacks.OnTransactionEvent != nil {
		m.callbacks.OnTransactionEvent(event)
	}
}

// handleEventResponse 应答中的标识信息写入缓存，非Accepted时执行失效处理
func (m *Manager) handleEventResponse(event ocpp201.TransactionEventRequest, resp *protocol.Response) {
	var payload ocpp201.TransactionEventResponse
	if err := resp.Decode(&payload); err != nil {
		m.logger.Debugf("TransactionEvent %s seq %d not answered: %v", event.TransactionInfo.TransactionId, event.SeqNo, err)
		return
	}
	if payload.IdTokenInfo == nil || event.IdToken == nil {
		return
	}
	if m.callbacks.OnIdTokenInfo != nil {
		m.callbacks.OnIdTokenInfo(*event.IdToken, *payload.IdTokenInfo)
	}
	if payload.IdTokenInfo.Status != ocpp201.AuthorizationStatusAccepted && event.EventType != ocpp201.TransactionEventEnded {
		m.deauthorizeTransaction(event.TransactionInfo.TransactionId)
	}
}

func (m *Manager) sessionForLocked(transactionID string) *evseSession {
	for _, s := range m.evses {
		if s.transaction != nil && s.transaction.ID == transactionID {
			return s
		}
	}
	return nil
}

func (m *Manager) anyActiveLocked() bool {
	for _, s := range m.evses {
		if s.transaction != nil {
			return true
		}
	}
	return false
}

func (m *Manager) sortedIDsLocked() []int {
	ids := make([]int, 0, len(m.evses))
	for id := range m.evses {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func sameToken(a, b ocpp201.IdToken) bool {
	return a.IdToken == b.IdToken && a.Type == b.Type
}

func copyMeterValue(mv ocpp201.MeterValue) *ocpp201.MeterValue {
	c := ocpp201.MeterValue{Timestamp: mv.Timestamp}
	c.SampledValue = append([]ocpp201.SampledValue(nil), mv.SampledValue...)
	return &c
}
