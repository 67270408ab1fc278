package message

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/charging-platform/charging-station-controller/internal/config"
	"github.com/charging-platform/charging-station-controller/internal/domain/events"
	"github.com/charging-platform/charging-station-controller/internal/domain/validation"
	"github.com/charging-platform/charging-station-controller/internal/logger"
	"github.com/charging-platform/charging-station-controller/internal/metrics"
)

// KafkaConsumer 从硬件指令主题消费指令并交给会话控制器
type KafkaConsumer struct {
	consumerGroup SaramaConsumerGroup
	topic         string
	stationID     string
	validator     *validation.Validator
	logger        *logger.Logger
	handler       HardwareHandler
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// NewKafkaConsumer 初始化 KafkaConsumer
func NewKafkaConsumer(cfg config.KafkaConfig, stationID string, log *logger.Logger) (*KafkaConsumer, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Consumer.Return.Errors = true
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaCfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRange()}
	saramaCfg.Consumer.Group.Session.Timeout = 10 * time.Second
	saramaCfg.Consumer.Group.Heartbeat.Interval = 3 * time.Second

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.ConsumerGroup, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Sarama consumer group: %w", err)
	}

	c := NewKafkaConsumerWithGroup(consumerGroup, cfg.CommandTopic, stationID, log)
	go func() {
		for err := range consumerGroup.Errors() {
			c.logger.Errorf("Sarama consumer group error: %v", err)
		}
	}()
	return c, nil
}

// NewKafkaConsumerWithGroup 注入消费者组，用于测试
func NewKafkaConsumerWithGroup(group SaramaConsumerGroup, topic, stationID string, log *logger.Logger) *KafkaConsumer {
	if log == nil {
		log = logger.Nop()
	}
	return &KafkaConsumer{
		consumerGroup: group,
		topic:         topic,
		stationID:     stationID,
		validator:     validation.NewValidator(),
		logger:        log.WithComponent("kafka-consumer"),
	}
}

// Start 启动消费循环
func (c *KafkaConsumer) Start(handler HardwareHandler) error {
	if handler == nil {
		return fmt.Errorf("hardware handler is required")
	}
	c.handler = handler

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			// Consume 在一次 rebalance 会话结束后返回
			if err := c.consumerGroup.Consume(ctx, []string{c.topic}, c); err != nil {
				c.logger.Errorf("Error from Kafka consumer group: %v", err)
			}
			if ctx.Err() != nil {
				c.logger.Info("Kafka consumer context cancelled, stopping consumption")
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}()
	return nil
}

// Close 关闭消费者
func (c *KafkaConsumer) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	if c.consumerGroup != nil {
		return c.consumerGroup.Close()
	}
	return nil
}

// -- sarama.ConsumerGroupHandler 接口实现 --

func (c *KafkaConsumer) Setup(sarama.ConsumerGroupSession) error {
	c.logger.Info("Kafka consumer group setup completed")
	return nil
}

func (c *KafkaConsumer) Cleanup(sarama.ConsumerGroupSession) error {
	c.logger.Info("Kafka consumer group cleanup completed")
	return nil
}

// ConsumeClaim 逐条处理指令，处理失败也标记位点
func (c *KafkaConsumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	c.logger.Infof("Consuming hardware commands from partition %d", claim.Partition())

	for msg := range claim.Messages() {
		if err := c.process(session.Context(), msg.Value); err != nil {
			c.logger.Warnf("Hardware command at offset %d rejected: %v", msg.Offset, err)
		}
		session.MarkMessage(msg, "")
	}
	return nil
}

func (c *KafkaConsumer) process(ctx context.Context, data []byte) error {
	cmd, err := events.ParseHardwareCommand(data)
	if err != nil {
		metrics.HardwareCommandsConsumed.WithLabelValues("invalid").Inc()
		return fmt.Errorf("failed to unmarshal command: %w", err)
	}
	if err := c.validator.ValidateStruct(cmd); err != nil {
		metrics.HardwareCommandsConsumed.WithLabelValues("invalid").Inc()
		return err
	}
	// 共享主题上的其他站点指令直接忽略
	if cmd.StationID != "" && c.stationID != "" && cmd.StationID != c.stationID {
		return nil
	}
	metrics.HardwareCommandsConsumed.WithLabelValues(string(cmd.Type)).Inc()
	return Dispatch(ctx, c.handler, cmd)
}
