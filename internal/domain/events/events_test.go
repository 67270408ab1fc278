package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/charging-platform/charging-station-controller/internal/domain/ocpp201"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseEvent_Implementation(t *testing.T) {
	metadata := Metadata{
		Source:          "test-station",
		ProtocolVersion: "ocpp2.0.1",
		MessageID:       stringPtr("msg-123"),
	}

	event := NewBaseEvent(EventTypeStationConnected, "CS-001", EventSeverityInfo, metadata)

	assert.NotEmpty(t, event.GetID())
	assert.Equal(t, EventTypeStationConnected, event.GetType())
	assert.Equal(t, "CS-001", event.GetStationID())
	assert.Equal(t, EventSeverityInfo, event.GetSeverity())
	assert.Equal(t, metadata, event.GetMetadata())
	assert.WithinDuration(t, time.Now(), event.GetTimestamp(), time.Second)
}

func TestEventFactory_ConnectionChanged(t *testing.T) {
	factory := NewEventFactory("CS-001")

	connected := factory.CreateConnectionChangedEvent(true, "")
	assert.Equal(t, EventTypeStationConnected, connected.GetType())
	assert.Equal(t, EventSeverityInfo, connected.GetSeverity())

	lost := factory.CreateConnectionChangedEvent(false, "read timeout")
	assert.Equal(t, EventTypeStationDisconnected, lost.GetType())
	assert.Equal(t, EventSeverityWarning, lost.GetSeverity())
	assert.Equal(t, map[string]interface{}{"connected": false, "reason": "read timeout"}, lost.GetPayload())
}

func TestEventFactory_Severity(t *testing.T) {
	factory := NewEventFactory("CS-001")

	tests := []struct {
		name     string
		event    Event
		severity EventSeverity
	}{
		{
			name:     "registration accepted",
			event:    factory.CreateRegistrationChangedEvent(RegistrationInfo{Status: ocpp201.RegistrationStatusAccepted}),
			severity: EventSeverityInfo,
		},
		{
			name:     "registration rejected",
			event:    factory.CreateRegistrationChangedEvent(RegistrationInfo{Status: ocpp201.RegistrationStatusRejected}),
			severity: EventSeverityWarning,
		},
		{
			name:     "authorization accepted",
			event:    factory.CreateAuthorizationDecisionEvent(AuthorizationInfo{Status: ocpp201.AuthorizationStatusAccepted}),
			severity: EventSeverityInfo,
		},
		{
			name:     "authorization blocked",
			event:    factory.CreateAuthorizationDecisionEvent(AuthorizationInfo{Status: ocpp201.AuthorizationStatusBlocked}),
			severity: EventSeverityWarning,
		},
		{
			name:     "connector faulted",
			event:    factory.CreateConnectorStatusChangedEvent(ConnectorInfo{EVSEID: 1, ConnectorID: 1, Status: ocpp201.ConnectorStatusFaulted}),
			severity: EventSeverityError,
		},
		{
			name:     "security event",
			event:    factory.CreateSecurityEvent(ocpp201.SecurityEventResetOrReboot, nil),
			severity: EventSeverityWarning,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.severity, tt.event.GetSeverity())
			assert.Equal(t, "CS-001", tt.event.GetStationID())
		})
	}
}

func TestTransactionEvent_JSON(t *testing.T) {
	factory := NewEventFactory("CS-001")
	req := ocpp201.TransactionEventRequest{
		EventType:       ocpp201.TransactionEventStarted,
		Timestamp:       time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		TriggerReason:   ocpp201.TriggerReasonAuthorized,
		SeqNo:           0,
		TransactionInfo: ocpp201.Transaction{TransactionId: "tx-1"},
	}

	event := factory.CreateTransactionEvent(req)
	require.NotNil(t, event.Metadata.CorrelationID)
	assert.Equal(t, "tx-1", *event.Metadata.CorrelationID)
	assert.Equal(t, req, event.GetPayload())

	data, err := event.ToJSON()
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, string(EventTypeTransactionEvent), decoded["type"])
	assert.Equal(t, "CS-001", decoded["station_id"])
	request := decoded["request"].(map[string]interface{})
	assert.Equal(t, "Started", request["eventType"])
}

func TestSecurityEvent_JSON(t *testing.T) {
	event := NewEventFactory("CS-001").CreateSecurityEvent(ocpp201.SecurityEventCSRGenerationFailed, stringPtr("no key"))

	data, err := event.ToJSON()
	require.NoError(t, err)

	var decoded SecurityEvent
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, event.GetID(), decoded.GetID())
	assert.Equal(t, ocpp201.SecurityEventCSRGenerationFailed, decoded.Security.Type)
	assert.Equal(t, "no key", *decoded.Security.TechInfo)
}

func TestEventInterface(t *testing.T) {
	factory := NewEventFactory("CS-001")
	all := []Event{
		factory.CreateConnectionChangedEvent(true, ""),
		factory.CreateRegistrationChangedEvent(RegistrationInfo{Status: ocpp201.RegistrationStatusPending}),
		factory.CreateTransactionEvent(ocpp201.TransactionEventRequest{}),
		factory.CreateAuthorizationDecisionEvent(AuthorizationInfo{}),
		factory.CreateConnectorStatusChangedEvent(ConnectorInfo{}),
		factory.CreateAvailabilityChangedEvent(AvailabilityInfo{Status: ocpp201.OperationalStatusInoperative}),
		factory.CreateSecurityEvent("x", nil),
	}

	ids := make(map[string]bool)
	for _, event := range all {
		assert.NotEmpty(t, event.GetID())
		assert.False(t, ids[event.GetID()], "event ids must be unique")
		ids[event.GetID()] = true
		assert.Equal(t, "ocpp2.0.1", event.GetMetadata().ProtocolVersion)

		data, err := event.ToJSON()
		require.NoError(t, err)
		assert.True(t, json.Valid(data))
	}
}

func TestParseHardwareCommand(t *testing.T) {
	data := []byte(`{
		"type": "transaction_started",
		"evse_id": 1,
		"connector_id": 1,
		"timestamp": "2024-05-01T10:00:00Z",
		"meter_wh": 1200.5,
		"id_token": {"idToken": "ABC123", "type": "ISO14443"}
	}`)

	cmd, err := ParseHardwareCommand(data)
	require.NoError(t, err)
	assert.Equal(t, HardwareCommandTransactionStarted, cmd.Type)
	assert.Equal(t, 1, cmd.EVSEID)
	require.NotNil(t, cmd.MeterWh)
	assert.Equal(t, 1200.5, *cmd.MeterWh)
	require.NotNil(t, cmd.IdToken)
	assert.Equal(t, "ABC123", cmd.IdToken.IdToken)

	_, err = ParseHardwareCommand([]byte(`{not json`))
	assert.Error(t, err)
}

func TestStationRequestEvent(t *testing.T) {
	evseID := 2
	event := NewEventFactory("CS-001").CreateStationRequestEvent(StationRequestInfo{
		Action:  "StopTransaction",
		EVSEID:  &evseID,
		Payload: map[string]string{"reason": "Remote"},
	})

	assert.Equal(t, EventTypeStationRequest, event.GetType())
	data, err := event.ToJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"action":"StopTransaction"`)
	assert.Contains(t, string(data), `"evse_id":2`)
}

func stringPtr(s string) *string {
	return &s
}
