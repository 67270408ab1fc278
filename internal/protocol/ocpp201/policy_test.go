package ocpp201

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/charging-platform/charging-station-controller/internal/domain/ocpp201"
	"github.com/charging-platform/charging-station-controller/internal/domain/serialization"
	"github.com/charging-platform/charging-station-controller/internal/domain/validation"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name           string
		isRegistration bool
		byTrigger      bool
		state          ocpp201.RegistrationStatus
		isTransaction  bool
		queueAll       bool
		want           Decision
	}{
		{name: "boot while rejected", isRegistration: true, state: ocpp201.RegistrationStatusRejected, want: SendNow},
		{name: "triggered while pending", byTrigger: true, state: ocpp201.RegistrationStatusPending, want: SendNow},
		{name: "accepted", state: ocpp201.RegistrationStatusAccepted, want: SendNow},
		{name: "transaction while pending", isTransaction: true, state: ocpp201.RegistrationStatusPending, want: SendWhenRegistered},
		{name: "queue all while rejected", queueAll: true, state: ocpp201.RegistrationStatusRejected, want: SendWhenRegistered},
		{name: "plain message while pending", state: ocpp201.RegistrationStatusPending, want: Discard},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.isRegistration, tt.byTrigger, tt.state, tt.isTransaction, tt.queueAll)
			assert.Equal(t, tt.want, got, got.String())
		})
	}
}

func TestClassify_TransactionsNeverDiscarded(t *testing.T) {
	states := []ocpp201.RegistrationStatus{
		ocpp201.RegistrationStatusRejected,
		ocpp201.RegistrationStatusPending,
		ocpp201.RegistrationStatusAccepted,
	}
	for _, state := range states {
		for mask := 0; mask < 8; mask++ {
			isRegistration, byTrigger, queueAll := mask&1 != 0, mask&2 != 0, mask&4 != 0
			got := Classify(isRegistration, byTrigger, state, true, queueAll)
			assert.NotEqual(t, Discard, got, fmt.Sprintf("state=%s mask=%d", state, mask))
		}
	}
}

func TestToCallError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{name: "not implemented", err: NewError(ErrKindNotImplemented, "no handler for %s", "Foo"), code: CallErrorNotImplemented},
		{name: "security", err: NewError(ErrKindSecurity, "not registered"), code: CallErrorSecurityError},
		{name: "serialization", err: serialization.SerializationError{Operation: "Decode", Message: "bad"}, code: CallErrorFormationViolation},
		{
			name: "missing field",
			err:  validation.ValidationErrors{{Field: "idToken", Tag: "required", Message: "required"}},
			code: CallErrorOccurrenceConstraintViolation,
		},
		{
			name: "bad enum",
			err:  validation.ValidationErrors{{Field: "type", Tag: "oneof", Message: "oneof"}},
			code: CallErrorFormationViolation,
		},
		{name: "wrapped formation", err: fmt.Errorf("handler: %w", NewError(ErrKindFormation, "bad payload")), code: CallErrorFormationViolation},
		{name: "plain error", err: errors.New("boom"), code: CallErrorInternalError},
		{name: "storage", err: NewError(ErrKindStorage, "redis down"), code: CallErrorInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, description := ToCallError(tt.err)
			assert.Equal(t, tt.code, code)
			assert.NotEmpty(t, description)
		})
	}
}

func TestToCallError_DescriptionLimit(t *testing.T) {
	tests := []struct {
		name    string
		message string
		wantLen int
	}{
		{name: "short", message: "boom", wantLen: 4},
		{name: "ascii", message: strings.Repeat("a", 300), wantLen: 255},
		// 上限落在多字节字符中间时回退到字符边界
		{name: "split rune", message: strings.Repeat("a", 254) + "充电桩", wantLen: 254},
		{name: "rune aligned", message: strings.Repeat("桩", 100), wantLen: 255},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, description := ToCallError(errors.New(tt.message))
			assert.Len(t, description, tt.wantLen)
			assert.True(t, utf8.ValidString(description))
			assert.True(t, strings.HasPrefix(tt.message, description))
		})
	}
}

func TestProtocolError_Format(t *testing.T) {
	err := WrapError(ErrKindInternal, errors.New("disk full"), "persist failed")
	assert.Equal(t, "[Internal] persist failed: disk full", err.Error())
	assert.EqualError(t, errors.Unwrap(err), "disk full")
	assert.Equal(t, "[Security] nope", NewError(ErrKindSecurity, "nope").Error())
}
