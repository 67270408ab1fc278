package availability

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/charging-platform/charging-station-controller/internal/domain/ocpp201"
	"github.com/charging-platform/charging-station-controller/internal/logger"
	protocol "github.com/charging-platform/charging-station-controller/internal/protocol/ocpp201"
	"github.com/charging-platform/charging-station-controller/internal/storage"
)

// TransactionActivity 交易占用查询，由交易跟踪器实现
type TransactionActivity interface {
	// ActiveConnector 返回EVSE上正在交易的连接器
	ActiveConnector(evseID int) (connectorID int, active bool)
}

// Callbacks 有效状态变化回调，均可为空
type Callbacks struct {
	// OnStatusNotification 返回false表示未能上报，下次变化时重试
	OnStatusNotification func(evseID, connectorID int, status ocpp201.ConnectorStatus) bool
	OnStationChanged     func(status ocpp201.OperationalStatus)
	OnEVSEChanged        func(evseID int, status ocpp201.OperationalStatus)
	OnConnectorChanged   func(evseID, connectorID int, status ocpp201.OperationalStatus)
	OnAllInoperative     func()
}

// Scope 可用性作用范围：EVSEID为0表示整站，ConnectorID为0表示整个EVSE
type Scope struct {
	EVSEID      int
	ConnectorID int
}

// ScopeOf 由请求中的EVSE字段得到作用范围
func ScopeOf(evse *ocpp201.EVSE) Scope {
	if evse == nil {
		return Scope{}
	}
	scope := Scope{EVSEID: evse.Id}
	if evse.ConnectorId != nil {
		scope.ConnectorID = *evse.ConnectorId
	}
	return scope
}

func (s Scope) String() string {
	switch {
	case s.EVSEID == 0:
		return "station"
	case s.ConnectorID == 0:
		return fmt.Sprintf("evse %d", s.EVSEID)
	default:
		return fmt.Sprintf("evse %d connector %d", s.EVSEID, s.ConnectorID)
	}
}

// connectorState 连接器的独立状态
type connectorState struct {
	operational ocpp201.OperationalStatus
	occupied    bool
	faulted     bool
	// reservedFor 预约持有者，nil 表示未预约
	reservedFor *ocpp201.IdToken
	// blocks 排期期间临时停用的计数
	blocks int
	unavailable bool

	lastEffective ocpp201.OperationalStatus
	lastReported  ocpp201.ConnectorStatus
}

// status 故障优先于不可用
func (c *connectorState) status() ocpp201.ConnectorStatus {
	switch {
	case c.faulted:
		return ocpp201.ConnectorStatusFaulted
	case c.unavailable:
		return ocpp201.ConnectorStatusUnavailable
	case c.occupied:
		return ocpp201.ConnectorStatusOccupied
	case c.reservedFor != nil:
		return ocpp201.ConnectorStatusReserved
	default:
		return ocpp201.ConnectorStatusAvailable
	}
}

type evseState struct {
	operational   ocpp201.OperationalStatus
	blocks        int
	lastEffective ocpp201.OperationalStatus
	connectors    []*connectorState
}

type scheduledChange struct {
	request ocpp201.ChangeAvailabilityRequest
	persist bool
	// blocked 排期期间临时停用的范围
	blocked map[Scope]struct{}
}

// CoordinatorConfig 可用性协调配置
type CoordinatorConfig struct {
	StoreTimeout time.Duration `json:"store_timeout"`
}

// DefaultCoordinatorConfig 默认可用性协调配置
func DefaultCoordinatorConfig() *CoordinatorConfig {
	return &CoordinatorConfig{StoreTimeout: 2 * time.Second}
}

// Coordinator 整站/EVSE/连接器三级可用性
type Coordinator struct {
	store     storage.VariableStore
	activity  TransactionActivity
	callbacks Callbacks
	config    *CoordinatorConfig

	mu          sync.Mutex
	station     ocpp201.OperationalStatus
	lastStation ocpp201.OperationalStatus
	evses       []*evseState
	scheduled   map[Scope]*scheduledChange

	logger *logger.Logger
}

// NewCoordinator 创建可用性协调器；topology为 EVSE ID -> 连接器数量，ID须从1连续
func NewCoordinator(topology map[int]int, store storage.VariableStore, activity TransactionActivity, config *CoordinatorConfig, callbacks Callbacks, log *logger.Logger) (*Coordinator, error) {
	if store == nil || activity == nil {
		return nil, protocol.NewError(protocol.ErrKindConfiguration, "availability coordinator requires a store and transaction activity")
	}
	if len(topology) == 0 {
		return nil, protocol.NewError(protocol.ErrKindConfiguration, "availability coordinator requires at least one EVSE")
	}
	if config == nil {
		config = DefaultCoordinatorConfig()
	}
	if log == nil {
		log = logger.Global()
	}

	c := &Coordinator{
		store:     store,
		activity:  activity,
		callbacks: callbacks,
		config:    config,
		scheduled: make(map[Scope]*scheduledChange),
		logger:    log.WithComponent("availability"),
	}

	c.station = c.loadStatus(stationKey())
	for evseID := 1; evseID <= len(topology); evseID++ {
		count, ok := topology[evseID]
		if !ok || count < 1 {
			return nil, protocol.NewError(protocol.ErrKindConfiguration, "EVSE ids must count from 1 upwards with at least one connector, missing EVSE %d", evseID)
		}
		evse := &evseState{operational: c.loadStatus(evseKey(evseID))}
		for connectorID := 1; connectorID <= count; connectorID++ {
			evse.connectors = append(evse.connectors, &connectorState{
				operational: c.loadStatus(connectorKey(evseID, connectorID)),
			})
		}
		c.evses = append(c.evses, evse)
	}

	// 初始化上报缓存
	c.lastStation = c.station
	for evseID, evse := range c.evses {
		evse.lastEffective = c.evseEffective(evseID + 1)
		for connectorID, connector := range evse.connectors {
			connector.lastEffective = c.connectorEffective(evseID+1, connectorID+1)
			connector.lastReported = c.connectorStatus(evseID+1, connectorID+1)
		}
	}
	return c, nil
}

func stationKey() string { return "availability/station" }

func evseKey(evseID int) string { return fmt.Sprintf("availability/evse/%d", evseID) }

func connectorKey(evseID, connectorID int) string {
	return fmt.Sprintf("availability/connector/%d/%d", evseID, connectorID)
}

func (c *Coordinator) loadStatus(key string) ocpp201.OperationalStatus {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.StoreTimeout)
	defer cancel()

	value, ok, err := c.store.GetVariable(ctx, key)
	if err != nil {
		c.logger.Warnf("Could not read %s, defaulting to Operative: %v", key, err)
		return ocpp201.OperationalStatusOperative
	}
	if !ok || ocpp201.OperationalStatus(value) != ocpp201.OperationalStatusInoperative {
		return ocpp201.OperationalStatusOperative
	}
	return ocpp201.OperationalStatusInoperative
}

func (c *Coordinator) persist(key string, status ocpp201.OperationalStatus) {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.StoreTimeout)
	defer cancel()
	if err := c.store.SetVariable(ctx, key, string(status)); err != nil {
		c.logger.Warnf("Could not persist %s: %v", key, err)
	}
}

// NumEVSEs EVSE数量
func (c *Coordinator) NumEVSEs() int {
	return len(c.evses)
}

// NumConnectors EVSE的连接器数量，EVSE不存在时为0
func (c *Coordinator) NumConnectors(evseID int) int {
	if evseID < 1 || evseID > len(c.evses) {
		return 0
	}
	return len(c.evses[evseID-1].connectors)
}

// ValidScope 范围是否指向存在的EVSE与连接器
func (c *Coordinator) ValidScope(scope Scope) bool {
	if scope.EVSEID == 0 {
		return scope.ConnectorID == 0
	}
	count := c.NumConnectors(scope.EVSEID)
	return count > 0 && scope.ConnectorID >= 0 && scope.ConnectorID <= count
}

func (c *Coordinator) evseEffective(evseID int) ocpp201.OperationalStatus {
	if c.station == ocpp201.OperationalStatusInoperative {
		return ocpp201.OperationalStatusInoperative
	}
	if c.evses[evseID-1].blocks > 0 {
		return ocpp201.OperationalStatusInoperative
	}
	return c.evses[evseID-1].operational
}

func (c *Coordinator) connectorEffective(evseID, connectorID int) ocpp201.OperationalStatus {
	if c.evseEffective(evseID) == ocpp201.OperationalStatusInoperative {
		return ocpp201.OperationalStatusInoperative
	}
	if c.evses[evseID-1].connectors[connectorID-1].blocks > 0 {
		return ocpp201.OperationalStatusInoperative
	}
	return c.evses[evseID-1].connectors[connectorID-1].operational
}

// connectorStatus 上报给CSMS的有效连接器状态
func (c *Coordinator) connectorStatus(evseID, connectorID int) ocpp201.ConnectorStatus {
	connector := c.evses[evseID-1].connectors[connectorID-1]
	if connector.faulted {
		return ocpp201.ConnectorStatusFaulted
	}
	if c.connectorEffective(evseID, connectorID) == ocpp201.OperationalStatusInoperative {
		return ocpp201.ConnectorStatusUnavailable
	}
	return connector.status()
}

// StationStatus 整站独立状态
func (c *Coordinator) StationStatus() ocpp201.OperationalStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.station
}

// EVSEStatus EVSE有效状态
func (c *Coordinator) EVSEStatus(evseID int) (ocpp201.OperationalStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.NumConnectors(evseID) == 0 {
		return "", false
	}
	return c.evseEffective(evseID), true
}

// ConnectorStatus 连接器有效状态
func (c *Coordinator) ConnectorStatus(evseID, connectorID int) (ocpp201.ConnectorStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ValidScope(Scope{EVSEID: evseID, ConnectorID: connectorID}) || connectorID == 0 {
		return "", false
	}
	return c.connectorStatus(evseID, connectorID), true
}

// AllInoperative 是否所有连接器都已有效停用
func (c *Coordinator) AllInoperative() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.allInoperative()
}

func (c *Coordinator) allInoperative() bool {
	for evseID, evse := range c.evses {
		for connectorID := range evse.connectors {
			if c.connectorEffective(evseID+1, connectorID+1) == ocpp201.OperationalStatusOperative {
				return false
			}
		}
	}
	return true
}

// Scheduled 已排期的变更范围，按EVSE、连接器排序
func (c *Coordinator) Scheduled() []Scope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scheduledScopes(func(Scope) bool { return true })
}

func (c *Coordinator) scheduledScopes(match func(Scope) bool) []Scope {
	scopes := make([]Scope, 0, len(c.scheduled))
	for scope := range c.scheduled {
		if match(scope) {
			scopes = append(scopes, scope)
		}
	}
	sort.Slice(scopes, func(i, j int) bool {
		if scopes[i].EVSEID != scopes[j].EVSEID {
			return scopes[i].EVSEID < scopes[j].EVSEID
		}
		return scopes[i].ConnectorID < scopes[j].ConnectorID
	})
	return scopes
}

func (c *Coordinator) anyTransactionActive(evseID int) bool {
	if evseID != 0 {
		_, active := c.activity.ActiveConnector(evseID)
		return active
	}
	for id := 1; id <= len(c.evses); id++ {
		if _, active := c.activity.ActiveConnector(id); active {
			return true
		}
	}
	return false
}

func (c *Coordinator) alreadyInState(scope Scope, target ocpp201.OperationalStatus) bool {
	switch {
	case scope.EVSEID == 0:
		return c.station == target
	case scope.ConnectorID == 0:
		return c.evses[scope.EVSEID-1].operational == target
	default:
		return c.evses[scope.EVSEID-1].connectors[scope.ConnectorID-1].operational == target
	}
}

// ChangeAvailability 处理可用性变更请求。返回的apply须在响应发出后调用，
// 以保证StatusNotification晚于ChangeAvailability响应
func (c *Coordinator) ChangeAvailability(req *ocpp201.ChangeAvailabilityRequest) (*ocpp201.ChangeAvailabilityResponse, func()) {
	scope := ScopeOf(req.Evse)
	if !c.ValidScope(scope) {
		c.logger.Warnf("ChangeAvailability for unknown %s", scope)
		return &ocpp201.ChangeAvailabilityResponse{Status: ocpp201.ChangeAvailabilityStatusRejected}, nil
	}

	c.mu.Lock()
	active := c.anyTransactionActive(scope.EVSEID)
	already := c.alreadyInState(scope, req.OperationalStatus)

	status := ocpp201.ChangeAvailabilityStatusScheduled
	if !active || already || (scope.EVSEID == 0 && req.OperationalStatus == ocpp201.OperationalStatusOperative) {
		status = ocpp201.ChangeAvailabilityStatusAccepted
	}
	c.mu.Unlock()

	c.logger.Infof("ChangeAvailability %s -> %s: %s", scope, req.OperationalStatus, status)

	request := *req
	apply := func() {
		c.mu.Lock()
		// 新请求覆盖该范围内已排期的请求
		if change, ok := c.scheduled[scope]; ok {
			delete(c.scheduled, scope)
			c.unblock(change)
		}
		if status == ocpp201.ChangeAvailabilityStatusAccepted || !c.anyTransactionActive(scope.EVSEID) {
			c.execute(request, true)
		} else {
			change := &scheduledChange{request: request, persist: true}
			c.scheduled[scope] = change
			c.blockIdle(scope, change)
		}
		notify := c.diff()
		c.mu.Unlock()
		run(notify)
	}
	return &ocpp201.ChangeAvailabilityResponse{Status: status}, apply
}

// blockIdle 排期期间把范围内空闲的EVSE/连接器临时停用，阻止新交易
func (c *Coordinator) blockIdle(scope Scope, change *scheduledChange) {
	if change.blocked == nil {
		change.blocked = make(map[Scope]struct{})
	}
	block := func(key Scope) {
		if _, seen := change.blocked[key]; seen {
			return
		}
		change.blocked[key] = struct{}{}
		if key.ConnectorID == 0 {
			c.evses[key.EVSEID-1].blocks++
			return
		}
		c.evses[key.EVSEID-1].connectors[key.ConnectorID-1].blocks++
	}

	if scope.EVSEID == 0 {
		for id := 1; id <= len(c.evses); id++ {
			if _, active := c.activity.ActiveConnector(id); !active {
				block(Scope{EVSEID: id})
			}
		}
		return
	}

	activeConnector, _ := c.activity.ActiveConnector(scope.EVSEID)
	for connectorID := 1; connectorID <= len(c.evses[scope.EVSEID-1].connectors); connectorID++ {
		if connectorID == activeConnector {
			continue
		}
		if scope.ConnectorID != 0 && connectorID != scope.ConnectorID {
			continue
		}
		block(Scope{EVSEID: scope.EVSEID, ConnectorID: connectorID})
	}
}

// unblock 解除该排期施加的临时停用
func (c *Coordinator) unblock(change *scheduledChange) {
	for key := range change.blocked {
		if key.ConnectorID == 0 {
			c.evses[key.EVSEID-1].blocks--
			continue
		}
		c.evses[key.EVSEID-1].connectors[key.ConnectorID-1].blocks--
	}
	change.blocked = nil
}

func (c *Coordinator) execute(req ocpp201.ChangeAvailabilityRequest, persist bool) {
	scope := ScopeOf(req.Evse)
	status := req.OperationalStatus
	switch {
	case scope.EVSEID == 0:
		c.station = status
		if persist {
			c.persist(stationKey(), status)
		}
	case scope.ConnectorID == 0:
		c.evses[scope.EVSEID-1].operational = status
		if persist {
			c.persist(evseKey(scope.EVSEID), status)
		}
	default:
		c.evses[scope.EVSEID-1].connectors[scope.ConnectorID-1].operational = status
		if persist {
			c.persist(connectorKey(scope.EVSEID, scope.ConnectorID), status)
		}
	}
}

// SetEVSEInoperative 临时停用EVSE的全部连接器，不持久化
func (c *Coordinator) SetEVSEInoperative(evseID int) {
	if c.NumConnectors(evseID) == 0 {
		return
	}
	c.mu.Lock()
	for _, connector := range c.evses[evseID-1].connectors {
		connector.operational = ocpp201.OperationalStatusInoperative
	}
	notify := c.diff()
	c.mu.Unlock()
	run(notify)
}

// TransactionEnded 交易结束后重新评估该EVSE与整站的排期变更
func (c *Coordinator) TransactionEnded(evseID int) {
	c.mu.Lock()
	applied := false
	// 先处理该EVSE及其连接器的排期，整站排期最后
	scopes := c.scheduledScopes(func(s Scope) bool { return s.EVSEID == evseID && evseID != 0 })
	if _, ok := c.scheduled[Scope{}]; ok {
		scopes = append(scopes, Scope{})
	}
	for _, scope := range scopes {
		change := c.scheduled[scope]
		if c.anyTransactionActive(scope.EVSEID) {
			c.logger.Infof("Scheduled change for %s waits for active transactions", scope)
			c.blockIdle(scope, change)
			continue
		}
		c.logger.Infof("Applying scheduled change for %s -> %s", scope, change.request.OperationalStatus)
		c.unblock(change)
		c.execute(change.request, change.persist)
		delete(c.scheduled, scope)
		applied = true
	}
	notify := c.diff()
	if applied && c.allInoperative() && c.callbacks.OnAllInoperative != nil {
		notify = append(notify, c.callbacks.OnAllInoperative)
	}
	c.mu.Unlock()
	run(notify)
}

// SetOccupied 连接器占用状态
func (c *Coordinator) SetOccupied(evseID, connectorID int, occupied bool) error {
	return c.setFlag(evseID, connectorID, func(s *connectorState) { s.occupied = occupied })
}

// SetReserved 连接器为holder预约，holder为nil时取消预约
func (c *Coordinator) SetReserved(evseID, connectorID int, holder *ocpp201.IdToken) error {
	var reservedFor *ocpp201.IdToken
	if holder != nil {
		token := *holder
		reservedFor = &token
	}
	return c.setFlag(evseID, connectorID, func(s *connectorState) { s.reservedFor = reservedFor })
}

// ReservedFor 连接器的预约持有者
func (c *Coordinator) ReservedFor(evseID, connectorID int) (*ocpp201.IdToken, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if connectorID == 0 || !c.ValidScope(Scope{EVSEID: evseID, ConnectorID: connectorID}) {
		return nil, false
	}
	holder := c.evses[evseID-1].connectors[connectorID-1].reservedFor
	if holder == nil {
		return nil, false
	}
	token := *holder
	return &token, true
}

// SetFaulted 连接器故障状态
func (c *Coordinator) SetFaulted(evseID, connectorID int, faulted bool) error {
	return c.setFlag(evseID, connectorID, func(s *connectorState) { s.faulted = faulted })
}

// SetUnavailable 连接器硬件不可用状态
func (c *Coordinator) SetUnavailable(evseID, connectorID int, unavailable bool) error {
	return c.setFlag(evseID, connectorID, func(s *connectorState) { s.unavailable = unavailable })
}

func (c *Coordinator) setFlag(evseID, connectorID int, set func(*connectorState)) error {
	if connectorID == 0 || !c.ValidScope(Scope{EVSEID: evseID, ConnectorID: connectorID}) {
		return protocol.NewError(protocol.ErrKindOccurrence, "unknown connector %d on EVSE %d", connectorID, evseID)
	}
	c.mu.Lock()
	set(c.evses[evseID-1].connectors[connectorID-1])
	notify := c.diff()
	c.mu.Unlock()
	run(notify)
	return nil
}

// SendStatusNotification 无论是否变化都上报单个连接器
func (c *Coordinator) SendStatusNotification(evseID, connectorID int) error {
	if connectorID == 0 || !c.ValidScope(Scope{EVSEID: evseID, ConnectorID: connectorID}) {
		return protocol.NewError(protocol.ErrKindOccurrence, "unknown connector %d on EVSE %d", connectorID, evseID)
	}
	c.mu.Lock()
	notify := c.report(evseID, connectorID, false)
	c.mu.Unlock()
	run(notify)
	return nil
}

// SendAllStatusNotifications 上报全部连接器，注册成功后调用
func (c *Coordinator) SendAllStatusNotifications() {
	c.mu.Lock()
	var notify []func()
	for evseID, evse := range c.evses {
		for connectorID := range evse.connectors {
			notify = append(notify, c.report(evseID+1, connectorID+1, false)...)
		}
	}
	c.mu.Unlock()
	run(notify)
}

// diff 比较有效状态与上次通知的值，返回需在解锁后执行的回调
func (c *Coordinator) diff() []func() {
	var notify []func()
	if current := c.station; current != c.lastStation {
		c.lastStation = current
		if c.callbacks.OnStationChanged != nil {
			notify = append(notify, func() { c.callbacks.OnStationChanged(current) })
		}
	}
	for i, evse := range c.evses {
		evseID := i + 1
		if current := c.evseEffective(evseID); current != evse.lastEffective {
			evse.lastEffective = current
			if c.callbacks.OnEVSEChanged != nil {
				notify = append(notify, func() { c.callbacks.OnEVSEChanged(evseID, current) })
			}
		}
		for j, connector := range evse.connectors {
			connectorID := j + 1
			if current := c.connectorEffective(evseID, connectorID); current != connector.lastEffective {
				connector.lastEffective = current
				if c.callbacks.OnConnectorChanged != nil {
					notify = append(notify, func() { c.callbacks.OnConnectorChanged(evseID, connectorID, current) })
				}
			}
			notify = append(notify, c.report(evseID, connectorID, true)...)
		}
	}
	return notify
}

// report 先记录上报值，回调失败时清空以便下次重报
func (c *Coordinator) report(evseID, connectorID int, onlyIfChanged bool) []func() {
	if c.callbacks.OnStatusNotification == nil {
		return nil
	}
	connector := c.evses[evseID-1].connectors[connectorID-1]
	status := c.connectorStatus(evseID, connectorID)
	if onlyIfChanged && connector.lastReported == status {
		return nil
	}
	connector.lastReported = status
	return []func(){func() {
		if !c.callbacks.OnStatusNotification(evseID, connectorID, status) {
			c.mu.Lock()
			if connector.lastReported == status {
				connector.lastReported = ""
			}
			c.mu.Unlock()
		}
	}}
}

func run(notify []func()) {
	for _, fn := range notify {
		fn()
	}
}

// ConnectorSnapshot 连接器状态快照
type ConnectorSnapshot struct {
	ID          int                       `json:"id"`
	Operational ocpp201.OperationalStatus `json:"operational_status"`
	Status      ocpp201.ConnectorStatus   `json:"status"`
}

// EVSESnapshot EVSE状态快照
type EVSESnapshot struct {
	ID          int                       `json:"id"`
	Operational ocpp201.OperationalStatus `json:"operational_status"`
	Scheduled   bool                      `json:"change_scheduled"`
	Connectors  []ConnectorSnapshot       `json:"connectors"`
}

// Snapshot 所有EVSE的有效状态
func (c *Coordinator) Snapshot() []EVSESnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snapshots := make([]EVSESnapshot, 0, len(c.evses))
	for i, evse := range c.evses {
		evseID := i + 1
		scheduled := len(c.scheduledScopes(func(s Scope) bool { return s.EVSEID == evseID })) > 0
		snapshot := EVSESnapshot{
			ID:          evseID,
			Operational: c.evseEffective(evseID),
			Scheduled:   scheduled,
		}
		for j := range evse.connectors {
			snapshot.Connectors = append(snapshot.Connectors, ConnectorSnapshot{
				ID:          j + 1,
				Operational: c.connectorEffective(evseID, j+1),
				Status:      c.connectorStatus(evseID, j+1),
			})
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots
}
