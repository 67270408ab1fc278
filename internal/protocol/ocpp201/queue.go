package ocpp201

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/charging-platform/charging-station-controller/internal/domain/ocpp201"
	"github.com/charging-platform/charging-station-controller/internal/domain/serialization"
	"github.com/charging-platform/charging-station-controller/internal/logger"
	"github.com/charging-platform/charging-station-controller/internal/metrics"
	"github.com/charging-platform/charging-station-controller/internal/storage"
	"github.com/google/uuid"
)

// Transport 发送原始帧的传输层
type Transport interface {
	Send(data []byte) error
	IsConnected() bool
}

// OutgoingCall 待发送的请求
type OutgoingCall struct {
	Action             ocpp201.Action
	Payload            interface{}
	InitiatedByTrigger bool
	// OnResult 在最终结果确定时调用一次；交易消息断线后仍会等待重发的结果
	OnResult func(*Response)
}

// QueueConfig 消息队列配置
type QueueConfig struct {
	MessageTimeout                  time.Duration `json:"message_timeout"`
	TransactionMessageAttempts      int           `json:"transaction_message_attempts"`
	TransactionMessageRetryInterval time.Duration `json:"transaction_message_retry_interval"`
	QueueAllMessages                bool          `json:"queue_all_messages"`
	QueuesTotalSizeThreshold        int           `json:"queues_total_size_threshold"`
	DiscardForQueueing              []string      `json:"discard_for_queueing"`
	StoreTimeout                    time.Duration `json:"store_timeout"`
}

// DefaultQueueConfig 默认队列配置
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		MessageTimeout:                  60 * time.Second,
		TransactionMessageAttempts:      3,
		TransactionMessageRetryInterval: 10 * time.Second,
		QueuesTotalSizeThreshold:        2000,
		StoreTimeout:                    2 * time.Second,
	}
}

type queuedMessage struct {
	queueID     string
	messageID   string
	action      ocpp201.Action
	payload     json.RawMessage
	transaction bool
	sendNow     bool
	attempts    int
	notBefore   time.Time
	timestamp   time.Time
	future      *Future
	onResult    func(*Response)
}

func (m *queuedMessage) stored() *storage.StoredMessage {
	return &storage.StoredMessage{
		QueueID:   m.queueID,
		MessageID: m.messageID,
		Action:    m.action,
		Payload:   m.payload,
		Timestamp: m.timestamp,
		Attempts:  m.attempts,
	}
}

// storeOp 需要在释放锁之后执行的持久化操作
type storeOp struct {
	save   *storage.StoredMessage
	remove string
}

// MessageQueue 出站消息队列
//
// 同一时刻只有一条请求在途；普通消息优先于交易消息发送。
// 交易消息会持久化，失败后按间隔重试，断线时保留在队首。
type MessageQueue struct {
	transport  Transport
	store      storage.QueueStore
	serializer *serialization.Serializer
	config     *QueueConfig
	discard    map[ocpp201.Action]struct{}

	mu           sync.Mutex
	normal       []*queuedMessage
	transactions []*queuedMessage
	inFlight     *queuedMessage
	sentAt       time.Time
	timeoutTimer *time.Timer
	retryTimer   *time.Timer
	registration ocpp201.RegistrationStatus
	paused       bool

	wake  chan struct{}
	now   func() time.Time
	newID func() string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *logger.Logger
}

// NewMessageQueue 创建消息队列
func NewMessageQueue(transport Transport, store storage.QueueStore, config *QueueConfig, log *logger.Logger) (*MessageQueue, error) {
	if transport == nil {
		return nil, NewError(ErrKindConfiguration, "message queue requires a transport")
	}
	if store == nil {
		return nil, NewError(ErrKindConfiguration, "message queue requires a queue store")
	}
	if config == nil {
		config = DefaultQueueConfig()
	}
	if config.TransactionMessageAttempts <= 0 {
		config.TransactionMessageAttempts = 1
	}
	if config.StoreTimeout <= 0 {
		config.StoreTimeout = 2 * time.Second
	}
	if log == nil {
		log = logger.Global()
	}

	discard := make(map[ocpp201.Action]struct{}, len(config.DiscardForQueueing))
	for _, action := range config.DiscardForQueueing {
		discard[ocpp201.Action(action)] = struct{}{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &MessageQueue{
		transport:    transport,
		store:        store,
		serializer:   serialization.NewSerializer(),
		config:       config,
		discard:      discard,
		registration: ocpp201.RegistrationStatusRejected,
		paused:       true,
		wake:         make(chan struct{}, 1),
		now:          time.Now,
		newID:        uuid.NewString,
		ctx:          ctx,
		cancel:       cancel,
		logger:       log.WithComponent("queue"),
	}, nil
}

// Start 加载持久化的交易消息并启动发送协程
func (q *MessageQueue) Start() error {
	ctx, cancel := context.WithTimeout(q.ctx, q.config.StoreTimeout)
	stored, err := q.store.LoadQueuedMessages(ctx)
	cancel()
	if err != nil {
		q.logger.Warnf("Failed to load persisted transaction messages: %v", err)
	}

	q.mu.Lock()
	for _, m := range stored {
		q.transactions = append(q.transactions, &queuedMessage{
			queueID:     m.QueueID,
			messageID:   q.newID(),
			action:      m.Action,
			payload:     m.Payload,
			transaction: true,
			attempts:    m.Attempts,
			timestamp:   m.Timestamp,
			future:      newFuture(),
		})
	}
	q.paused = !q.transport.IsConnected()
	q.updateDepthLocked()
	q.mu.Unlock()

	if len(stored) > 0 {
		q.logger.Infof("Restored %d persisted transaction messages", len(stored))
	}

	q.wg.Add(1)
	go q.run()
	return nil
}

// Stop 停止发送协程，未完成的请求以 Offline 结束
func (q *MessageQueue) Stop() error {
	q.cancel()
	q.wg.Wait()

	q.mu.Lock()
	q.stopTimersLocked()
	pending := append(append([]*queuedMessage{}, q.normal...), q.transactions...)
	if q.inFlight != nil && !q.inFlight.transaction {
		pending = append(pending, q.inFlight)
	}
	q.normal = nil
	q.transactions = nil
	q.inFlight = nil
	q.mu.Unlock()

	for _, msg := range pending {
		msg.future.resolve(&Response{Status: ResponseOffline, MessageID: msg.messageID})
	}
	return nil
}

// Push 提交一条请求，返回结果句柄
func (q *MessageQueue) Push(call OutgoingCall) *Future {
	isTransaction := ocpp201.IsTransactionAction(call.Action)

	q.mu.Lock()
	state := q.registration
	paused := q.paused
	q.mu.Unlock()

	decision := Classify(ocpp201.IsRegistrationAction(call.Action), call.InitiatedByTrigger, state, isTransaction, q.config.QueueAllMessages)
	if decision == SendWhenRegistered && !isTransaction {
		if _, ok := q.discard[call.Action]; ok {
			decision = Discard
		}
	}

	if decision == Discard {
		q.logger.Debugf("Discarding %s while registration is %s", call.Action, state)
		metrics.MessagesDiscarded.WithLabelValues(string(call.Action), "not_registered").Inc()
		return q.reject(call, ResponseDiscarded)
	}
	if paused && !isTransaction && !q.config.QueueAllMessages {
		metrics.MessagesDiscarded.WithLabelValues(string(call.Action), "offline").Inc()
		return q.reject(call, ResponseOffline)
	}

	payload, err := json.Marshal(call.Payload)
	if err != nil {
		q.logger.Errorf("Failed to marshal %s payload: %v", call.Action, err)
		return q.reject(call, ResponseDiscarded)
	}

	msg := &queuedMessage{
		queueID:     q.newID(),
		messageID:   q.newID(),
		action:      call.Action,
		payload:     payload,
		transaction: isTransaction,
		sendNow:     ocpp201.IsRegistrationAction(call.Action) || call.InitiatedByTrigger,
		timestamp:   q.now(),
		future:      newFuture(),
		onResult:    call.OnResult,
	}

	if isTransaction {
		q.apply(storeOp{save: msg.stored()})
	}

	q.mu.Lock()
	if isTransaction {
		q.transactions = append(q.transactions, msg)
	} else {
		q.normal = append(q.normal, msg)
	}
	dropped := q.trimLocked()
	q.updateDepthLocked()
	q.mu.Unlock()

	for _, old := range dropped {
		metrics.MessagesDiscarded.WithLabelValues(string(old.action), "queue_full").Inc()
		q.finish(old, &Response{Status: ResponseDiscarded, MessageID: old.messageID})
	}
	if len(dropped) > 0 {
		q.logger.Warnf("Queue threshold exceeded, dropped %d oldest messages", len(dropped))
	}

	q.signal()
	return msg.future
}

func (q *MessageQueue) reject(call OutgoingCall, status ResponseStatus) *Future {
	if call.OnResult != nil {
		call.OnResult(&Response{Status: status})
	}
	return resolvedFuture(status)
}

// trimLocked 超过阈值时成批丢弃最早的普通消息
func (q *MessageQueue) trimLocked() []*queuedMessage {
	limit := q.config.QueuesTotalSizeThreshold
	if !q.config.QueueAllMessages || limit <= 0 || len(q.normal)+len(q.transactions) <= limit {
		return nil
	}

	target := limit - limit/10
	var dropped []*queuedMessage
	for len(q.normal) > 0 && len(q.normal)+len(q.transactions) > target {
		dropped = append(dropped, q.normal[0])
		q.normal = q.normal[1:]
	}
	return dropped
}

// SetRegistrationStatus 更新注册状态
func (q *MessageQueue) SetRegistrationStatus(status ocpp201.RegistrationStatus) {
	q.mu.Lock()
	q.registration = status
	q.mu.Unlock()
	q.signal()
}

// RegistrationStatus 当前注册状态
func (q *MessageQueue) RegistrationStatus() ocpp201.RegistrationStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.registration
}

// Pause 暂停发送；在途的非交易消息以 Offline 结束，交易消息留在队首
func (q *MessageQueue) Pause() {
	q.mu.Lock()
	if q.paused {
		q.mu.Unlock()
		return
	}
	q.paused = true
	msg := q.inFlight
	q.inFlight = nil
	q.stopTimersLocked()
	var oldID string
	if msg != nil {
		oldID = msg.messageID
		if msg.transaction {
			msg.messageID = q.newID()
		}
	}
	q.mu.Unlock()

	q.logger.Info("Outgoing queue paused")
	if msg == nil {
		return
	}
	offline := &Response{Status: ResponseOffline, MessageID: oldID}
	if msg.transaction {
		msg.future.resolve(offline)
		return
	}
	q.finish(msg, offline)
}

// Resume 恢复发送
func (q *MessageQueue) Resume() {
	q.mu.Lock()
	q.paused = false
	q.mu.Unlock()
	q.logger.Info("Outgoing queue resumed")
	q.signal()
}

// IsPaused 是否已暂停
func (q *MessageQueue) IsPaused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

// Len 返回普通消息与交易消息的数量
func (q *MessageQueue) Len() (normal int, transactions int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.normal), len(q.transactions)
}

// HandleResponse 处理CallResult或CallError，不匹配在途请求时返回 false
func (q *MessageQueue) HandleResponse(frame *serialization.Frame) bool {
	q.mu.Lock()
	msg := q.inFlight
	if msg == nil || msg.messageID != frame.MessageID {
		q.mu.Unlock()
		return false
	}
	q.inFlight = nil
	if q.timeoutTimer != nil {
		q.timeoutTimer.Stop()
		q.timeoutTimer = nil
	}
	metrics.RequestDuration.WithLabelValues(string(msg.action)).Observe(q.now().Sub(q.sentAt).Seconds())

	resp := &Response{MessageID: frame.MessageID}
	if frame.Type == serialization.MessageTypeCallError {
		resp.Status = ResponseCallError
		resp.ErrorCode = frame.ErrorCode
		resp.ErrorDescription = frame.ErrorDescription
	} else {
		resp.Status = ResponseAnswered
		resp.Payload = frame.Payload
	}

	final := resp
	var op storeOp
	if msg.transaction {
		if resp.Status == ResponseCallError {
			final, op = q.retryLocked(msg, resp)
		} else {
			q.transactions = q.transactions[1:]
			op.remove = msg.queueID
		}
	}
	q.updateDepthLocked()
	q.mu.Unlock()

	q.apply(op)
	if final != nil {
		q.finish(msg, final)
	}
	q.signal()
	return true
}

// retryLocked 交易消息失败后重试或放弃；返回非空结果表示已放弃
func (q *MessageQueue) retryLocked(msg *queuedMessage, resp *Response) (*Response, storeOp) {
	msg.attempts++
	if msg.attempts >= q.config.TransactionMessageAttempts {
		q.transactions = q.transactions[1:]
		q.logger.Warnf("Dropping %s after %d attempts", msg.action, msg.attempts)
		metrics.MessagesDiscarded.WithLabelValues(string(msg.action), "attempts_exhausted").Inc()
		return resp, storeOp{remove: msg.queueID}
	}

	msg.messageID = q.newID()
	msg.notBefore = q.now().Add(q.config.TransactionMessageRetryInterval * time.Duration(msg.attempts))
	q.logger.Infof("Retrying %s (attempt %d) after %s", msg.action, msg.attempts+1, resp.Status)
	return nil, storeOp{save: msg.stored()}
}

func (q *MessageQueue) handleTimeout(messageID string) {
	q.mu.Lock()
	msg := q.inFlight
	if msg == nil || msg.messageID != messageID {
		q.mu.Unlock()
		return
	}
	q.inFlight = nil
	q.timeoutTimer = nil
	metrics.RequestTimeouts.WithLabelValues(string(msg.action)).Inc()

	final := &Response{Status: ResponseTimeout, MessageID: messageID}
	var op storeOp
	if msg.transaction {
		final, op = q.retryLocked(msg, final)
	}
	q.updateDepthLocked()
	q.mu.Unlock()

	q.logger.Warnf("%s (%s) timed out", msg.action, messageID)
	q.apply(op)
	if final != nil {
		q.finish(msg, final)
	}
	q.signal()
}

// SendResult 直接发送CallResult
func (q *MessageQueue) SendResult(messageID string, action ocpp201.Action, payload interface{}) error {
	data, err := q.serializer.EncodeCallResult(messageID, payload)
	if err != nil {
		return err
	}
	if err := q.transport.Send(data); err != nil {
		return WrapError(ErrKindOffline, err, "failed to send CallResult")
	}
	metrics.MessagesSent.WithLabelValues(string(action), serialization.MessageTypeCallResult.String()).Inc()
	q.logger.Frame("out", messageID, string(action), len(data))
	return nil
}

// SendError 直接发送CallError
func (q *MessageQueue) SendError(messageID, code, description string) error {
	data, err := q.serializer.EncodeCallError(messageID, code, description, nil)
	if err != nil {
		return err
	}
	if err := q.transport.Send(data); err != nil {
		return WrapError(ErrKindOffline, err, "failed to send CallError")
	}
	metrics.MessagesSent.WithLabelValues(code, serialization.MessageTypeCallError.String()).Inc()
	q.logger.Frame("out", messageID, code, len(data))
	return nil
}

func (q *MessageQueue) run() {
	defer q.wg.Done()
	for {
		q.dispatch()
		select {
		case <-q.ctx.Done():
			return
		case <-q.wake:
		}
	}
}

func (q *MessageQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// dispatch 发送下一条可发送的消息
func (q *MessageQueue) dispatch() {
	q.mu.Lock()
	msg := q.nextLocked()
	if msg == nil {
		q.mu.Unlock()
		return
	}

	data, err := q.serializer.EncodeCall(msg.messageID, string(msg.action), msg.payload)
	if err != nil {
		if msg.transaction {
			q.transactions = q.transactions[1:]
		}
		q.updateDepthLocked()
		q.mu.Unlock()
		q.logger.Errorf("Failed to encode %s: %v", msg.action, err)
		if msg.transaction {
			q.apply(storeOp{remove: msg.queueID})
		}
		q.finish(msg, &Response{Status: ResponseDiscarded, MessageID: msg.messageID})
		return
	}

	q.inFlight = msg
	q.sentAt = q.now()
	messageID := msg.messageID
	q.timeoutTimer = time.AfterFunc(q.config.MessageTimeout, func() { q.handleTimeout(messageID) })
	q.updateDepthLocked()
	q.mu.Unlock()

	if err := q.transport.Send(data); err != nil {
		q.logger.Warnf("Failed to send %s: %v", msg.action, err)
		q.Pause()
		return
	}
	metrics.MessagesSent.WithLabelValues(string(msg.action), serialization.MessageTypeCall.String()).Inc()
	q.logger.Frame("out", messageID, string(msg.action), len(data))
}

// nextLocked 选出下一条消息；普通消息出队，交易消息保留在队首直到完成
func (q *MessageQueue) nextLocked() *queuedMessage {
	if q.paused || q.inFlight != nil {
		return nil
	}
	registered := q.registration == ocpp201.RegistrationStatusAccepted

	for i, msg := range q.normal {
		if registered || msg.sendNow {
			q.normal = append(q.normal[:i], q.normal[i+1:]...)
			return msg
		}
	}

	if len(q.transactions) == 0 {
		return nil
	}
	head := q.transactions[0]
	if !registered && !head.sendNow {
		return nil
	}
	if wait := head.notBefore.Sub(q.now()); wait > 0 {
		if q.retryTimer != nil {
			q.retryTimer.Stop()
		}
		q.retryTimer = time.AfterFunc(wait, q.signal)
		return nil
	}
	return head
}

func (q *MessageQueue) finish(msg *queuedMessage, resp *Response) {
	msg.future.resolve(resp)
	if msg.onResult != nil {
		msg.onResult(resp)
	}
}

func (q *MessageQueue) apply(op storeOp) {
	if op.save == nil && op.remove == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), q.config.StoreTimeout)
	defer cancel()

	if op.save != nil {
		if err := q.store.SaveQueuedMessage(ctx, *op.save); err != nil {
			q.logger.Warnf("Failed to persist %s: %v", op.save.Action, err)
		}
	}
	if op.remove != "" {
		if err := q.store.DeleteQueuedMessage(ctx, op.remove); err != nil {
			q.logger.Warnf("Failed to delete persisted message %s: %v", op.remove, err)
		}
	}
}

func (q *MessageQueue) stopTimersLocked() {
	if q.timeoutTimer != nil {
		q.timeoutTimer.Stop()
		q.timeoutTimer = nil
	}
	if q.retryTimer != nil {
		q.retryTimer.Stop()
		q.retryTimer = nil
	}
}

func (q *MessageQueue) updateDepthLocked() {
	metrics.QueueDepth.WithLabelValues("normal").Set(float64(len(q.normal)))
	metrics.QueueDepth.WithLabelValues("transaction").Set(float64(len(q.transactions)))
}

// String 便于日志输出
func (q *MessageQueue) String() string {
	normal, transactions := q.Len()
	return fmt.Sprintf("MessageQueue{normal=%d, transactions=%d, paused=%t}", normal, transactions, q.IsPaused())
}
