package registration

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/charging-platform/charging-station-controller/internal/domain/ocpp201"
	"github.com/charging-platform/charging-station-controller/internal/logger"
	protocol "github.com/charging-platform/charging-station-controller/internal/protocol/ocpp201"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu       sync.Mutex
	calls    chan protocol.OutgoingCall
	statuses []ocpp201.RegistrationStatus
}

func newFakeSender() *fakeSender {
	return &fakeSender{calls: make(chan protocol.OutgoingCall, 16)}
}

func (f *fakeSender) Push(call protocol.OutgoingCall) *protocol.Future {
	f.calls <- call
	return nil
}

func (f *fakeSender) SetRegistrationStatus(status ocpp201.RegistrationStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
}

func (f *fakeSender) lastStatus() ocpp201.RegistrationStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return ""
	}
	return f.statuses[len(f.statuses)-1]
}

func (f *fakeSender) next(t *testing.T) protocol.OutgoingCall {
	t.Helper()
	select {
	case call := <-f.calls:
		return call
	case <-time.After(2 * time.Second):
		t.Fatal("no call pushed")
		return protocol.OutgoingCall{}
	}
}

func answered(t *testing.T, payload interface{}) *protocol.Response {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &protocol.Response{Status: protocol.ResponseAnswered, Payload: raw}
}

func newTestManager(t *testing.T, callbacks Callbacks) (*Manager, *fakeSender) {
	t.Helper()
	config := DefaultManagerConfig()
	config.DefaultRetryInterval = 20 * time.Millisecond
	sender := newFakeSender()
	m := NewManager(sender, config, callbacks, logger.Nop())
	t.Cleanup(m.Stop)
	return m, sender
}

func TestAdmissionFor(t *testing.T) {
	tests := []struct {
		name   string
		status ocpp201.RegistrationStatus
		action ocpp201.Action
		want   Admission
	}{
		{"accepted admits everything", ocpp201.RegistrationStatusAccepted, ocpp201.ActionReset, Admit},
		{"pending admits GetVariables", ocpp201.RegistrationStatusPending, ocpp201.ActionGetVariables, Admit},
		{"pending admits SetVariables", ocpp201.RegistrationStatusPending, ocpp201.ActionSetVariables, Admit},
		{"pending admits TriggerMessage", ocpp201.RegistrationStatusPending, ocpp201.ActionTriggerMessage, Admit},
		{"pending rejects remote start", ocpp201.RegistrationStatusPending, ocpp201.ActionRequestStartTransaction, RejectRequest},
		{"pending rejects remote stop", ocpp201.RegistrationStatusPending, ocpp201.ActionRequestStopTransaction, RejectRequest},
		{"pending denies reset", ocpp201.RegistrationStatusPending, ocpp201.ActionReset, Deny},
		{"rejected only boot trigger", ocpp201.RegistrationStatusRejected, ocpp201.ActionTriggerMessage, AdmitBootTriggerOnly},
		{"rejected denies GetVariables", ocpp201.RegistrationStatusRejected, ocpp201.ActionGetVariables, Deny},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AdmissionFor(tt.status, tt.action))
		})
	}
}

func TestManager_BootAccepted(t *testing.T) {
	accepted := make(chan ocpp201.BootNotificationResponse, 1)
	var synced time.Time
	m, sender := newTestManager(t, Callbacks{
		OnAccepted: func(resp ocpp201.BootNotificationResponse) { accepted <- resp },
		OnTimeSync: func(ts time.Time) { synced = ts },
	})

	assert.Equal(t, ocpp201.RegistrationStatusRejected, m.Status())
	m.OnConnected()

	call := sender.next(t)
	assert.Equal(t, ocpp201.ActionBootNotification, call.Action)
	req, ok := call.Payload.(ocpp201.BootNotificationRequest)
	require.True(t, ok)
	assert.Equal(t, ocpp201.BootReasonPowerUp, req.Reason)
	assert.False(t, call.InitiatedByTrigger)

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	call.OnResult(answered(t, ocpp201.BootNotificationResponse{
		CurrentTime: now,
		Interval:    120,
		Status:      ocpp201.RegistrationStatusAccepted,
	}))

	select {
	case resp := <-accepted:
		assert.Equal(t, 120, resp.Interval)
	case <-time.After(time.Second):
		t.Fatal("OnAccepted not called")
	}
	assert.Equal(t, ocpp201.RegistrationStatusAccepted, m.Status())
	assert.Equal(t, ocpp201.RegistrationStatusAccepted, sender.lastStatus())
	assert.Equal(t, 120*time.Second, m.HeartbeatInterval())
	assert.True(t, synced.Equal(now))

	// 已注册时重连不再发送启动通知
	m.OnConnected()
	select {
	case call := <-sender.calls:
		t.Fatalf("unexpected call %s", call.Action)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestManager_PendingRetriesAfterInterval(t *testing.T) {
	statuses := make(chan ocpp201.RegistrationStatus, 4)
	m, sender := newTestManager(t, Callbacks{
		OnStatusChanged: func(status ocpp201.RegistrationStatus) { statuses <- status },
	})

	m.Boot(false)
	call := sender.next(t)
	call.OnResult(answered(t, ocpp201.BootNotificationResponse{
		CurrentTime: time.Now(),
		Interval:    0,
		Status:      ocpp201.RegistrationStatusPending,
	}))
	assert.Equal(t, ocpp201.RegistrationStatusPending, <-statuses)
	assert.Equal(t, ocpp201.RegistrationStatusPending, m.Status())

	// 间隔为0时使用默认重试间隔
	retry := sender.next(t)
	assert.Equal(t, ocpp201.ActionBootNotification, retry.Action)
}

func TestManager_UnansweredBootRetries(t *testing.T) {
	m, sender := newTestManager(t, Callbacks{})

	m.Boot(false)
	call := sender.next(t)
	call.OnResult(&protocol.Response{Status: protocol.ResponseTimeout})

	assert.Equal(t, ocpp201.RegistrationStatusRejected, m.Status())
	retry := sender.next(t)
	assert.Equal(t, ocpp201.ActionBootNotification, retry.Action)
}

func TestManager_BootSingleFlight(t *testing.T) {
	m, sender := newTestManager(t, Callbacks{})

	m.Boot(false)
	m.Boot(false)
	sender.next(t)

	select {
	case call := <-sender.calls:
		t.Fatalf("second boot pushed while in flight: %s", call.Action)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestManager_TriggeredBoot(t *testing.T) {
	m, sender := newTestManager(t, Callbacks{})
	m.SetBootReason(ocpp201.BootReasonRemoteReset)

	m.Boot(true)
	call := sender.next(t)
	assert.True(t, call.InitiatedByTrigger)
	req := call.Payload.(ocpp201.BootNotificationRequest)
	assert.Equal(t, ocpp201.BootReasonTriggered, req.Reason)
}

func TestManager_Heartbeat(t *testing.T) {
	synced := make(chan time.Time, 4)
	m, sender := newTestManager(t, Callbacks{
		OnTimeSync: func(ts time.Time) { synced <- ts },
	})

	m.Boot(false)
	boot := sender.next(t)
	boot.OnResult(answered(t, ocpp201.BootNotificationResponse{
		CurrentTime: time.Now(),
		Status:      ocpp201.RegistrationStatusAccepted,
	}))
	<-synced

	m.SetHeartbeatInterval(20 * time.Millisecond)
	hb := sender.next(t)
	assert.Equal(t, ocpp201.ActionHeartbeat, hb.Action)

	serverTime := time.Date(2030, 5, 1, 0, 0, 0, 0, time.UTC)
	hb.OnResult(answered(t, ocpp201.HeartbeatResponse{CurrentTime: serverTime}))
	select {
	case ts := <-synced:
		assert.True(t, ts.Equal(serverTime))
	case <-time.After(time.Second):
		t.Fatal("heartbeat time not synced")
	}
}
