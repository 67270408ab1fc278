package message

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/charging-platform/charging-station-controller/internal/domain/events"
	"github.com/charging-platform/charging-station-controller/internal/logger"
)

// MockAsyncProducer 是 sarama.AsyncProducer 的 mock 实现
type MockAsyncProducer struct {
	mock.Mock
	input     chan *sarama.ProducerMessage
	successes chan *sarama.ProducerMessage
	errors    chan *sarama.ProducerError
}

func NewMockAsyncProducer() *MockAsyncProducer {
	return &MockAsyncProducer{
		input:     make(chan *sarama.ProducerMessage),
		successes: make(chan *sarama.ProducerMessage),
		errors:    make(chan *sarama.ProducerError),
	}
}

func (m *MockAsyncProducer) AsyncClose() {
	m.Called()
	close(m.successes)
	close(m.errors)
}

func (m *MockAsyncProducer) Close() error {
	args := m.Called()
	m.AsyncClose()
	return args.Error(0)
}

func (m *MockAsyncProducer) Input() chan<- *sarama.ProducerMessage {
	return m.input
}

func (m *MockAsyncProducer) Successes() <-chan *sarama.ProducerMessage {
	return m.successes
}

func (m *MockAsyncProducer) Errors() <-chan *sarama.ProducerError {
	return m.errors
}

func (m *MockAsyncProducer) IsTransactional() bool {
	return false
}

func (m *MockAsyncProducer) TxnStatus() sarama.ProducerTxnStatusFlag {
	return sarama.ProducerTxnFlagReady
}

func (m *MockAsyncProducer) BeginTxn() error {
	return nil
}

func (m *MockAsyncProducer) CommitTxn() error {
	return nil
}

func (m *MockAsyncProducer) AbortTxn() error {
	return nil
}

func (m *MockAsyncProducer) AddOffsetsToTxn(offsets map[string][]*sarama.PartitionOffsetMetadata, groupID string) error {
	return nil
}

func (m *MockAsyncProducer) AddMessageToTxn(msg *sarama.ConsumerMessage, groupID string, metadata *string) error {
	return nil
}

// UnserializableEvent 实现了 events.Event 接口，但其 ToJSON 方法总是返回错误
type UnserializableEvent struct {
	*events.BaseEvent
}

func (e *UnserializableEvent) GetPayload() interface{} {
	return nil
}

func (e *UnserializableEvent) ToJSON() ([]byte, error) {
	return nil, assert.AnError
}

func TestPublisherInterface(t *testing.T) {
	var _ EventPublisher = (*KafkaProducer)(nil)
	var _ EventPublisher = (*NATSPublisher)(nil)
}

func TestKafkaProducer_Publish(t *testing.T) {
	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Successes = true
	mp := mocks.NewAsyncProducer(t, cfg)
	mp.ExpectInputWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "station-events" {
			return errors.New("unexpected topic " + msg.Topic)
		}
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "CS-001" {
			return errors.New("unexpected key " + string(key))
		}
		return nil
	})

	producer := NewKafkaProducerWithProducer(mp, "station-events", logger.Nop())
	event := events.NewEventFactory("CS-001").CreateConnectionChangedEvent(true, "")

	require.NoError(t, producer.Publish(context.Background(), event))
	assert.NoError(t, producer.Close())
}

func TestKafkaProducer_PublishMarshalFailure(t *testing.T) {
	mp := NewMockAsyncProducer()
	producer := NewKafkaProducerWithProducer(mp, "station-events", logger.Nop())

	bad := &UnserializableEvent{
		BaseEvent: events.NewBaseEvent(events.EventType("bad"), "CS-001", events.EventSeverityError, events.Metadata{}),
	}

	err := producer.Publish(context.Background(), bad)
	assert.Error(t, err)
}

func TestKafkaProducer_PublishHonorsContext(t *testing.T) {
	mp := NewMockAsyncProducer()
	producer := NewKafkaProducerWithProducer(mp, "station-events", logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// 没有读者的 Input 通道会一直阻塞
	err := producer.Publish(ctx, events.NewEventFactory("CS-001").CreateConnectionChangedEvent(false, "lost"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestKafkaProducer_CloseFailure(t *testing.T) {
	mp := NewMockAsyncProducer()
	mp.On("Close").Return(assert.AnError)
	mp.On("AsyncClose").Return()

	producer := NewKafkaProducerWithProducer(mp, "station-events", logger.Nop())

	err := producer.Close()
	assert.Error(t, err)
	mp.AssertExpectations(t)
}

type fakeNATSConn struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	err      error
	drained  bool
}

func (f *fakeNATSConn) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return nil
}

func (f *fakeNATSConn) Drain() error {
	f.drained = true
	return nil
}

func TestNATSPublisher_Subject(t *testing.T) {
	factory := events.NewEventFactory("CS-001")

	tests := []struct {
		name     string
		prefix   string
		event    events.Event
		expected string
	}{
		{"with prefix", "station", factory.CreateConnectionChangedEvent(true, ""), "station.CS-001.station.connected"},
		{"without prefix", "", factory.CreateSecurityEvent("StartupOfTheDevice", nil), "CS-001.security.event"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			publisher := NewNATSPublisherWithConn(&fakeNATSConn{}, tt.prefix, nil)
			assert.Equal(t, tt.expected, publisher.Subject(tt.event))
		})
	}
}

func TestNATSPublisher_Publish(t *testing.T) {
	conn := &fakeNATSConn{}
	publisher := NewNATSPublisherWithConn(conn, "station", logger.Nop())

	event := events.NewEventFactory("CS-001").CreateSecurityEvent("SettingSystemTime", nil)
	require.NoError(t, publisher.Publish(context.Background(), event))

	require.Len(t, conn.subjects, 1)
	assert.Equal(t, "station.CS-001.security.event", conn.subjects[0])
	assert.Contains(t, string(conn.payloads[0]), "SettingSystemTime")

	conn.err = assert.AnError
	assert.Error(t, publisher.Publish(context.Background(), event))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	conn.err = nil
	assert.ErrorIs(t, publisher.Publish(ctx, event), context.Canceled)

	require.NoError(t, publisher.Close())
	assert.True(t, conn.drained)
}
