package serialization

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/charging-platform/charging-station-controller/internal/domain/ocpp201"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializer_EncodeFrames(t *testing.T) {
	serializer := NewSerializer()

	tests := []struct {
		name   string
		encode func() ([]byte, error)
		want   string
	}{
		{
			name: "Call message",
			encode: func() ([]byte, error) {
				return serializer.EncodeCall("12345", "Heartbeat", ocpp201.HeartbeatRequest{})
			},
			want: `[2,"12345","Heartbeat",{}]`,
		},
		{
			name: "Call message with nil payload",
			encode: func() ([]byte, error) {
				return serializer.EncodeCall("12345", "ClearCache", nil)
			},
			want: `[2,"12345","ClearCache",{}]`,
		},
		{
			name: "CallResult message",
			encode: func() ([]byte, error) {
				return serializer.EncodeCallResult("abc", ocpp201.ClearCacheResponse{Status: ocpp201.ClearCacheStatusAccepted})
			},
			want: `[3,"abc",{"status":"Accepted"}]`,
		},
		{
			name: "CallError message",
			encode: func() ([]byte, error) {
				return serializer.EncodeCallError("abc", "NotImplemented", "unknown action", nil)
			},
			want: `[4,"abc","NotImplemented","unknown action",{}]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.encode()
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
		})
	}
}

func TestSerializer_Decode(t *testing.T) {
	serializer := NewSerializer()

	t.Run("Call", func(t *testing.T) {
		frame, err := serializer.Decode([]byte(`[2,"m1","Reset",{"type":"Immediate"}]`))
		require.NoError(t, err)
		assert.Equal(t, MessageTypeCall, frame.Type)
		assert.Equal(t, "m1", frame.MessageID)
		assert.Equal(t, "Reset", frame.Action)

		var req ocpp201.ResetRequest
		require.NoError(t, serializer.DecodePayload(frame.Payload, &req))
		assert.Equal(t, ocpp201.ResetTypeImmediate, req.Type)
	})

	t.Run("CallResult", func(t *testing.T) {
		frame, err := serializer.Decode([]byte(`[3,"m2",{"currentTime":"2024-01-01T00:00:00Z"}]`))
		require.NoError(t, err)
		assert.Equal(t, MessageTypeCallResult, frame.Type)
		assert.Equal(t, "m2", frame.MessageID)
		assert.JSONEq(t, `{"currentTime":"2024-01-01T00:00:00Z"}`, string(frame.Payload))
	})

	t.Run("CallError", func(t *testing.T) {
		frame, err := serializer.Decode([]byte(`[4,"m3","SecurityError","not allowed",{"reason":"pending"}]`))
		require.NoError(t, err)
		assert.Equal(t, MessageTypeCallError, frame.Type)
		assert.Equal(t, "SecurityError", frame.ErrorCode)
		assert.Equal(t, "not allowed", frame.ErrorDescription)
		assert.JSONEq(t, `{"reason":"pending"}`, string(frame.ErrorDetails))
	})
}

func TestSerializer_DecodeErrors(t *testing.T) {
	serializer := NewSerializer()

	tests := []struct {
		name      string
		data      string
		messageID string
	}{
		{name: "not JSON", data: `{"key":`},
		{name: "too short", data: `[2,"x"]`},
		{name: "bad type", data: `["two","x","Heartbeat",{}]`},
		{name: "unknown type keeps id", data: `[7,"id-7","Heartbeat",{}]`, messageID: "id-7"},
		{name: "call without payload keeps id", data: `[2,"id-2","Heartbeat"]`, messageID: "id-2"},
		{name: "call with numeric action keeps id", data: `[2,"id-3",5,{}]`, messageID: "id-3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := serializer.Decode([]byte(tt.data))
			require.Error(t, err)

			var serr SerializationError
			require.True(t, errors.As(err, &serr))
			assert.Equal(t, "Decode", serr.Operation)
			assert.Equal(t, tt.messageID, serr.MessageID)
		})
	}
}

func TestSerializer_DecodePayloadError(t *testing.T) {
	serializer := NewSerializer()

	var req ocpp201.ResetRequest
	err := serializer.DecodePayload(json.RawMessage(`{"type":5}`), &req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DecodePayload failed")

	var empty ocpp201.ClearCacheRequest
	assert.NoError(t, serializer.DecodePayload(nil, &empty))
}

func TestMessageType_String(t *testing.T) {
	assert.Equal(t, "Call", MessageTypeCall.String())
	assert.Equal(t, "CallResult", MessageTypeCallResult.String())
	assert.Equal(t, "CallError", MessageTypeCallError.String())
	assert.Equal(t, "Unknown(9)", MessageType(9).String())
}
