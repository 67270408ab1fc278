package message

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/charging-platform/charging-station-controller/internal/config"
	"github.com/charging-platform/charging-station-controller/internal/domain/events"
	"github.com/charging-platform/charging-station-controller/internal/logger"
	"github.com/charging-platform/charging-station-controller/internal/metrics"
)

const sinkNATS = "nats"

// NATSConn 发布所需的 nats.Conn 子集
type NATSConn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NATSPublisher 将事件发布到 <prefix>.<stationID>.<event_type> 主题
type NATSPublisher struct {
	conn   NATSConn
	prefix string
	logger *logger.Logger
}

// NewNATSPublisher 连接NATS并创建发布者
func NewNATSPublisher(cfg config.NATSConfig, stationID string, log *logger.Logger) (*NATSPublisher, error) {
	if log == nil {
		log = logger.Nop()
	}
	log = log.WithComponent("nats-publisher")

	conn, err := nats.Connect(cfg.URL,
		nats.Name("station-controller-"+stationID),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnf("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infof("NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS %s: %w", cfg.URL, err)
	}
	return NewNATSPublisherWithConn(conn, cfg.SubjectPrefix, log), nil
}

// NewNATSPublisherWithConn 使用已有连接创建发布者
func NewNATSPublisherWithConn(conn NATSConn, prefix string, log *logger.Logger) *NATSPublisher {
	if log == nil {
		log = logger.Nop()
	}
	return &NATSPublisher{conn: conn, prefix: prefix, logger: log}
}

// Subject 事件对应的主题
func (p *NATSPublisher) Subject(event events.Event) string {
	parts := []string{event.GetStationID(), string(event.GetType())}
	if p.prefix != "" {
		parts = append([]string{p.prefix}, parts...)
	}
	return strings.Join(parts, ".")
}

// Publish 发布事件
func (p *NATSPublisher) Publish(ctx context.Context, event events.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := event.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal event to JSON: %w", err)
	}
	subject := p.Subject(event)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	metrics.EventsPublished.WithLabelValues(sinkNATS, string(event.GetType())).Inc()
	p.logger.Debugf("Published %s to %s", event.GetType(), subject)
	return nil
}

// Close 排空并关闭连接
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
