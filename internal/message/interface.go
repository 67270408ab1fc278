package message

import (
	"context"

	"github.com/IBM/sarama"

	"github.com/charging-platform/charging-station-controller/internal/business/authorization"
	"github.com/charging-platform/charging-station-controller/internal/business/transaction"
	"github.com/charging-platform/charging-station-controller/internal/domain/events"
	"github.com/charging-platform/charging-station-controller/internal/domain/ocpp201"
)

// EventPublisher 定义了向消息总线发布集成事件的接口
type EventPublisher interface {
	// Publish 发布一个事件，失败只影响事件导出
	Publish(ctx context.Context, event events.Event) error
	// Close 关闭发布者
	Close() error
}

// HardwareHandler 硬件指令落到会话控制器的回调面
type HardwareHandler interface {
	OnSessionStarted(evseID, connectorID int) error
	OnSessionFinished(evseID, connectorID int) error
	OnTransactionStarted(req transaction.StartRequest) (string, error)
	OnTransactionFinished(req transaction.FinishRequest) error
	OnMeterValue(evseID int, value ocpp201.MeterValue) error
	OnChargingStateChanged(evseID int, state ocpp201.ChargingState) bool
	OnAuthorize(ctx context.Context, evseID *int, req authorization.Request) authorization.Result
	OnFaulted(evseID, connectorID int, faulted bool) error
}

// SaramaConsumerGroup 是 sarama.ConsumerGroup 的最小子集，便于测试注入
type SaramaConsumerGroup interface {
	Consume(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) error
	Close() error
}
