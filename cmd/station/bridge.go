package main

import (
	"context"
	"time"

	"github.com/charging-platform/charging-station-controller/internal/domain/events"
	"github.com/charging-platform/charging-station-controller/internal/domain/ocpp201"
	"github.com/charging-platform/charging-station-controller/internal/logger"
	"github.com/charging-platform/charging-station-controller/internal/message"
)

const bridgePublishTimeout = 2 * time.Second

// hardwareBridge 把CSMS下发的动作以 station.request 事件转给充电硬件
type hardwareBridge struct {
	publisher message.EventPublisher
	factory   *events.EventFactory
	restart   chan<- struct{}
	logger    *logger.Logger
}

func newHardwareBridge(stationID string, publisher message.EventPublisher, restart chan<- struct{}, log *logger.Logger) *hardwareBridge {
	return &hardwareBridge{
		publisher: publisher,
		factory:   events.NewEventFactory(stationID),
		restart:   restart,
		logger:    log.WithComponent("hardware-bridge"),
	}
}

func (b *hardwareBridge) RemoteStartTransaction(req ocpp201.RequestStartTransactionRequest, authorizeRemoteStart bool) {
	b.forward("RequestStartTransaction", req.EvseId, map[string]interface{}{
		"request":                req,
		"authorize_remote_start": authorizeRemoteStart,
	})
}

func (b *hardwareBridge) StopTransaction(evseID int, reason ocpp201.ReasonType) {
	b.forward("StopTransaction", &evseID, map[string]interface{}{"reason": reason})
}

func (b *hardwareBridge) PauseCharging(evseID int) {
	b.forward("PauseCharging", &evseID, nil)
}

// Reset 整站重置时退出进程，EVSE重置交给硬件
func (b *hardwareBridge) Reset(evseID *int, resetType ocpp201.ResetType) {
	b.forward("Reset", evseID, map[string]interface{}{"type": resetType})
	if evseID != nil {
		return
	}
	select {
	case b.restart <- struct{}{}:
	default:
	}
}

func (b *hardwareBridge) forward(action string, evseID *int, payload interface{}) {
	if evseID != nil {
		b.logger.Infof("Hardware request %s for EVSE %d", action, *evseID)
	} else {
		b.logger.Infof("Hardware request %s for station", action)
	}
	if b.publisher == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), bridgePublishTimeout)
	defer cancel()
	event := b.factory.CreateStationRequestEvent(events.StationRequestInfo{
		Action:  action,
		EVSEID:  evseID,
		Payload: payload,
	})
	if err := b.publisher.Publish(ctx, event); err != nil {
		b.logger.Errorf("Failed to forward %s: %v", action, err)
	}
}
