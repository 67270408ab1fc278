package message

import (
	"context"
	"fmt"
	"time"

	"github.com/charging-platform/charging-station-controller/internal/business/authorization"
	"github.com/charging-platform/charging-station-controller/internal/business/transaction"
	"github.com/charging-platform/charging-station-controller/internal/domain/events"
	"github.com/charging-platform/charging-station-controller/internal/domain/ocpp201"
)

// Dispatch 将一条硬件指令转成会话控制器回调
func Dispatch(ctx context.Context, handler HardwareHandler, cmd *events.HardwareCommand) error {
	timestamp := cmd.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	switch cmd.Type {
	case events.HardwareCommandSessionStarted:
		return handler.OnSessionStarted(cmd.EVSEID, cmd.ConnectorID)

	case events.HardwareCommandConnectorStatus:
		if cmd.Occupied == nil && cmd.ChargingState == nil {
			return fmt.Errorf("connector_status requires occupied or charging_state")
		}
		if cmd.Occupied != nil {
			var err error
			if *cmd.Occupied {
				err = handler.OnSessionStarted(cmd.EVSEID, cmd.ConnectorID)
			} else {
				err = handler.OnSessionFinished(cmd.EVSEID, cmd.ConnectorID)
			}
			if err != nil {
				return err
			}
		}
		if cmd.ChargingState != nil {
			handler.OnChargingStateChanged(cmd.EVSEID, *cmd.ChargingState)
		}
		return nil

	case events.HardwareCommandTransactionStarted:
		meter, err := meterFrom(cmd, timestamp)
		if err != nil {
			return err
		}
		_, err = handler.OnTransactionStarted(transaction.StartRequest{
			EVSEID:        cmd.EVSEID,
			ConnectorID:   cmd.ConnectorID,
			Timestamp:     timestamp,
			MeterStart:    meter,
			IdToken:       cmd.IdToken,
			ReservationID: cmd.ReservationID,
		})
		return err

	case events.HardwareCommandTransactionFinished:
		meter, err := meterFrom(cmd, timestamp)
		if err != nil {
			return err
		}
		reason := ocpp201.ReasonLocal
		if cmd.Reason != nil {
			reason = *cmd.Reason
		}
		return handler.OnTransactionFinished(transaction.FinishRequest{
			EVSEID:    cmd.EVSEID,
			Timestamp: timestamp,
			MeterStop: meter,
			Reason:    reason,
			IdToken:   cmd.IdToken,
		})

	case events.HardwareCommandMeterValue:
		meter, err := meterFrom(cmd, timestamp)
		if err != nil {
			return err
		}
		return handler.OnMeterValue(cmd.EVSEID, meter)

	case events.HardwareCommandAuthorize:
		if cmd.IdToken == nil {
			return fmt.Errorf("authorize requires id_token")
		}
		evseID := cmd.EVSEID
		result := handler.OnAuthorize(ctx, &evseID, authorization.Request{
			IdToken:     *cmd.IdToken,
			Certificate: cmd.Certificate,
		})
		if !result.Accepted() {
			return fmt.Errorf("id token %s not accepted: %s", cmd.IdToken.IdToken, result.IdTokenInfo.Status)
		}
		return nil

	case events.HardwareCommandFault:
		faulted := true
		if cmd.Faulted != nil {
			faulted = *cmd.Faulted
		}
		return handler.OnFaulted(cmd.EVSEID, cmd.ConnectorID, faulted)
	}
	return fmt.Errorf("unsupported hardware command %q", cmd.Type)
}

// meterFrom 优先使用完整电表值，否则由 meter_wh 构造能量寄存器读数
func meterFrom(cmd *events.HardwareCommand, timestamp time.Time) (ocpp201.MeterValue, error) {
	if cmd.MeterValue != nil {
		return *cmd.MeterValue, nil
	}
	if cmd.MeterWh == nil {
		return ocpp201.MeterValue{}, fmt.Errorf("%s requires meter_value or meter_wh", cmd.Type)
	}
	measurand := ocpp201.MeasurandEnergyActiveImportRegister
	return ocpp201.MeterValue{
		Timestamp: timestamp,
		SampledValue: []ocpp201.SampledValue{
			{Value: *cmd.MeterWh, Measurand: &measurand},
		},
	}, nil
}
