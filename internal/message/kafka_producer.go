package message

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/charging-platform/charging-station-controller/internal/config"
	"github.com/charging-platform/charging-station-controller/internal/domain/events"
	"github.com/charging-platform/charging-station-controller/internal/logger"
	"github.com/charging-platform/charging-station-controller/internal/metrics"
)

const sinkKafka = "kafka"

// KafkaProducer 通过 sarama 异步生产者导出事件
type KafkaProducer struct {
	producer sarama.AsyncProducer
	topic    string
	logger   *logger.Logger
}

// NewKafkaProducer 创建一个新的 KafkaProducer
func NewKafkaProducer(cfg config.KafkaConfig, log *logger.Logger) (*KafkaProducer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if cfg.EventTopic == "" {
		return nil, fmt.Errorf("kafka event topic is required")
	}

	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.RequiredAcks = sarama.WaitForLocal     // 只等待本地确认
	saramaCfg.Producer.Compression = sarama.CompressionSnappy // 压缩
	saramaCfg.Producer.Flush.Frequency = 500 * time.Millisecond
	if cfg.Producer.FlushFrequency > 0 {
		saramaCfg.Producer.Flush.Frequency = cfg.Producer.FlushFrequency
	}
	if cfg.Producer.RetryMax > 0 {
		saramaCfg.Producer.Retry.Max = cfg.Producer.RetryMax
	}
	saramaCfg.Producer.Return.Successes = cfg.Producer.ReturnSuccess
	saramaCfg.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka async producer: %w", err)
	}
	return NewKafkaProducerWithProducer(producer, cfg.EventTopic, log), nil
}

// NewKafkaProducerWithProducer 使用外部提供的生产者，测试时注入 mock
func NewKafkaProducerWithProducer(producer sarama.AsyncProducer, topic string, log *logger.Logger) *KafkaProducer {
	if log == nil {
		log = logger.Nop()
	}
	p := &KafkaProducer{
		producer: producer,
		topic:    topic,
		logger:   log.WithComponent("kafka-producer"),
	}

	go p.handleSuccesses()
	go p.handleErrors()

	return p
}

// Publish 序列化事件并投递到事件主题，以充电站ID作为Key
func (p *KafkaProducer) Publish(ctx context.Context, event events.Event) error {
	data, err := event.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal event to JSON: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.GetStationID()), // 同一站点的事件落入同一分区
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.GetType())},
		},
	}

	select {
	case p.producer.Input() <- msg:
		metrics.EventsPublished.WithLabelValues(sinkKafka, string(event.GetType())).Inc()
		return nil
	case <-ctx.Done():
		return fmt.Errorf("publish %s: %w", event.GetType(), ctx.Err())
	}
}

// Close 关闭生产者，等待剩余消息发出
func (p *KafkaProducer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close Kafka producer: %w", err)
	}
	return nil
}

func (p *KafkaProducer) handleSuccesses() {
	for msg := range p.producer.Successes() {
		p.logger.Debugf("Kafka message sent: topic=%s partition=%d offset=%d", msg.Topic, msg.Partition, msg.Offset)
	}
}

func (p *KafkaProducer) handleErrors() {
	for err := range p.producer.Errors() {
		topic := ""
		if err.Msg != nil {
			topic = err.Msg.Topic
		}
		p.logger.Errorf("Failed to send Kafka message to %s: %v", topic, err.Err)
	}
}
