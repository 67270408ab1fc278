package certificate

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/charging-platform/charging-station-controller/internal/devicemodel"
	"github.com/charging-platform/charging-station-controller/internal/domain/ocpp201"
	"github.com/charging-platform/charging-station-controller/internal/logger"
	protocol "github.com/charging-platform/charging-station-controller/internal/protocol/ocpp201"
	"github.com/charging-platform/charging-station-controller/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu         sync.Mutex
	csrErr     error
	installErr error
	days       map[ocpp201.CertificateSigningUse]int
	installed  []string
}

func (f *fakeStore) GenerateCSR(use ocpp201.CertificateSigningUse, country, organization, commonName string) (string, error) {
	if f.csrErr != nil {
		return "", f.csrErr
	}
	return "CSR:" + string(use) + ":" + country + ":" + organization + ":" + commonName, nil
}

func (f *fakeStore) InstallCertificateChain(use ocpp201.CertificateSigningUse, chainPEM string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.installErr != nil {
		return f.installErr
	}
	f.installed = append(f.installed, chainPEM)
	return nil
}

func (f *fakeStore) DaysToExpiry(use ocpp201.CertificateSigningUse) (int, error) {
	days, ok := f.days[use]
	if !ok {
		return 0, errors.New("no certificate")
	}
	return days, nil
}

// fakeSender 同步回调OnResult；status为空时不回调
type fakeSender struct {
	mu     sync.Mutex
	status ocpp201.GenericStatus
	calls  []ocpp201.SignCertificateRequest
}

func (f *fakeSender) Push(call protocol.OutgoingCall) *protocol.Future {
	f.mu.Lock()
	f.calls = append(f.calls, call.Payload.(ocpp201.SignCertificateRequest))
	status := f.status
	f.mu.Unlock()

	if status == "" {
		return protocol.CompletedFuture(&protocol.Response{Status: protocol.ResponseOffline})
	}
	raw, _ := json.Marshal(ocpp201.SignCertificateResponse{Status: status})
	resp := &protocol.Response{Status: protocol.ResponseAnswered, Payload: raw}
	if call.OnResult != nil {
		call.OnResult(resp)
	}
	return protocol.CompletedFuture(resp)
}

func (f *fakeSender) sent() []ocpp201.SignCertificateRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ocpp201.SignCertificateRequest(nil), f.calls...)
}

type recorder struct {
	mu      sync.Mutex
	events  []string
	changed int
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnSecurityEvent: func(eventType, _ string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, eventType)
		},
		OnStationCertificateChanged: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.changed++
		},
	}
}

func (r *recorder) snapshot() ([]string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...), r.changed
}

type testEnv struct {
	manager  *Manager
	store    *fakeStore
	sender   *fakeSender
	recorder *recorder
}

func newTestEnv(t *testing.T, vars map[devicemodel.Key]string) *testEnv {
	t.Helper()
	model, err := devicemodel.New(storage.NewMemoryStorage(), logger.Nop())
	require.NoError(t, err)
	require.NoError(t, model.SetInternal(devicemodel.ChargeBoxSerialNumber, "SN-0001"))
	require.NoError(t, model.SetInternal(devicemodel.CertSigningWaitMinimum, "0"))
	for key, value := range vars {
		require.NoError(t, model.SetInternal(key, value))
	}

	env := &testEnv{
		store:    &fakeStore{days: map[ocpp201.CertificateSigningUse]int{}},
		sender:   &fakeSender{},
		recorder: &recorder{},
	}
	config := &ManagerConfig{ExpiryThresholdDays: 30, MinimumWait: 2 * time.Millisecond}
	env.manager, err = NewManager(env.store, model, env.sender, config, env.recorder.callbacks(), logger.Nop())
	require.NoError(t, err)
	t.Cleanup(env.manager.Stop)
	return env
}

func TestNewManager_RequiresCollaborators(t *testing.T) {
	_, err := NewManager(nil, nil, nil, nil, Callbacks{}, logger.Nop())
	assert.Equal(t, protocol.ErrKindConfiguration, protocol.KindOf(err))
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		name        string
		minimum     time.Duration
		waitMinimum int
		attempt     int
		want        time.Duration
	}{
		{"floor applies", 250 * time.Millisecond, 0, 1, 500 * time.Millisecond},
		{"configured minimum wins", 250 * time.Millisecond, 30, 1, 60 * time.Second},
		{"doubles per attempt", 250 * time.Millisecond, 30, 3, 240 * time.Second},
		{"attempt zero", 250 * time.Millisecond, 1, 0, time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Backoff(tt.minimum, tt.waitMinimum, tt.attempt))
		})
	}
}

func TestManager_RequestSigning(t *testing.T) {
	env := newTestEnv(t, nil)

	require.NoError(t, env.manager.RequestSigning(ocpp201.CertificateSigningUseChargingStation, false))

	sent := env.sender.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "CSR:ChargingStationCertificate:DE:ChargingPlatform:SN-0001", sent[0].Csr)
	require.NotNil(t, sent[0].CertificateType)
	assert.Equal(t, ocpp201.CertificateSigningUseChargingStation, *sent[0].CertificateType)
}

func TestManager_SingleFlight(t *testing.T) {
	env := newTestEnv(t, map[devicemodel.Key]string{devicemodel.CertSigningWaitMinimum: "60"})
	env.sender.status = ocpp201.GenericStatusAccepted

	require.NoError(t, env.manager.RequestSigning(ocpp201.CertificateSigningUseChargingStation, false))
	err := env.manager.RequestSigning(ocpp201.CertificateSigningUseV2G, false)
	assert.ErrorIs(t, err, ErrSigningInFlight)

	use, attempt, ok := env.manager.InFlight()
	require.True(t, ok)
	assert.Equal(t, ocpp201.CertificateSigningUseChargingStation, use)
	assert.Equal(t, 1, attempt)
	assert.Len(t, env.sender.sent(), 1)
}

func TestManager_CSRFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.store.csrErr = errors.New("tpm unavailable")

	err := env.manager.RequestSigning(ocpp201.CertificateSigningUseV2G, false)
	assert.Error(t, err)
	assert.Empty(t, env.sender.sent())

	events, _ := env.recorder.snapshot()
	assert.Equal(t, []string{ocpp201.SecurityEventCSRGenerationFailed}, events)
	_, _, ok := env.manager.InFlight()
	assert.False(t, ok)
}

func TestManager_RejectedResetsFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	env.sender.status = ocpp201.GenericStatusRejected

	require.NoError(t, env.manager.RequestSigning(ocpp201.CertificateSigningUseChargingStation, false))
	_, _, ok := env.manager.InFlight()
	assert.False(t, ok)

	require.NoError(t, env.manager.RequestSigning(ocpp201.CertificateSigningUseChargingStation, false))
	assert.Len(t, env.sender.sent(), 2)
}

func TestManager_UnansweredResetsFlow(t *testing.T) {
	env := newTestEnv(t, nil)

	require.NoError(t, env.manager.RequestSigning(ocpp201.CertificateSigningUseChargingStation, false))
	// 离线时fakeSender不回调OnResult，流程保持等待
	_, _, ok := env.manager.InFlight()
	assert.True(t, ok)

	env.manager.handleSignResponse(ocpp201.CertificateSigningUseChargingStation, &protocol.Response{Status: protocol.ResponseOffline})
	_, _, ok = env.manager.InFlight()
	assert.False(t, ok)
}

func TestManager_RetriesUntilRepeatTimes(t *testing.T) {
	env := newTestEnv(t, map[devicemodel.Key]string{devicemodel.CertSigningRepeatTimes: "2"})
	env.sender.status = ocpp201.GenericStatusAccepted

	require.NoError(t, env.manager.RequestSigning(ocpp201.CertificateSigningUseChargingStation, false))

	assert.Eventually(t, func() bool {
		_, _, ok := env.manager.InFlight()
		return len(env.sender.sent()) == 3 && !ok
	}, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, env.sender.sent(), 3)
}

func TestManager_HandleCertificateSigned(t *testing.T) {
	chargingStation := ocpp201.CertificateSigningUseChargingStation
	v2g := ocpp201.CertificateSigningUseV2G

	tests := []struct {
		name        string
		profile     string
		use         *ocpp201.CertificateSigningUse
		installErr  error
		wantStatus  ocpp201.GenericStatus
		wantEvents  []string
		wantChanged int
	}{
		{
			name:       "accepted on profile 2",
			profile:    "2",
			use:        &chargingStation,
			wantStatus: ocpp201.GenericStatusAccepted,
		},
		{
			name:        "station certificate on profile 3 reconnects",
			profile:     "3",
			wantStatus:  ocpp201.GenericStatusAccepted,
			wantEvents:  []string{ocpp201.SecurityEventReconfigurationOfSecurityParam},
			wantChanged: 1,
		},
		{
			name:       "v2g certificate on profile 3",
			profile:    "3",
			use:        &v2g,
			wantStatus: ocpp201.GenericStatusAccepted,
		},
		{
			name:       "invalid chain",
			profile:    "3",
			installErr: errors.New("signature mismatch"),
			wantStatus: ocpp201.GenericStatusRejected,
			wantEvents: []string{ocpp201.SecurityEventInvalidChargingStationCert},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, map[devicemodel.Key]string{
				devicemodel.SecurityProfile:        tt.profile,
				devicemodel.CertSigningWaitMinimum: "60",
			})
			env.store.installErr = tt.installErr
			env.sender.status = ocpp201.GenericStatusAccepted
			require.NoError(t, env.manager.RequestSigning(chargingStation, false))

			resp := env.manager.HandleCertificateSigned(&ocpp201.CertificateSignedRequest{
				CertificateChain: "-----BEGIN CERTIFICATE-----",
				CertificateType:  tt.use,
			})

			assert.Equal(t, tt.wantStatus, resp.Status)
			events, changed := env.recorder.snapshot()
			assert.Equal(t, tt.wantEvents, events)
			assert.Equal(t, tt.wantChanged, changed)
			_, _, ok := env.manager.InFlight()
			assert.False(t, ok)
		})
	}
}

func TestManager_ExpiryChecks(t *testing.T) {
	tests := []struct {
		name     string
		vars     map[devicemodel.Key]string
		days     map[ocpp201.CertificateSigningUse]int
		wantUses []ocpp201.CertificateSigningUse
	}{
		{
			name:     "client certificate near expiry on profile 3",
			vars:     map[devicemodel.Key]string{devicemodel.SecurityProfile: "3"},
			days:     map[ocpp201.CertificateSigningUse]int{ocpp201.CertificateSigningUseChargingStation: 10},
			wantUses: []ocpp201.CertificateSigningUse{ocpp201.CertificateSigningUseChargingStation},
		},
		{
			name: "client certificate ignored below profile 3",
			vars: map[devicemodel.Key]string{devicemodel.SecurityProfile: "2"},
			days: map[ocpp201.CertificateSigningUse]int{ocpp201.CertificateSigningUseChargingStation: 10},
		},
		{
			name: "client certificate still valid",
			vars: map[devicemodel.Key]string{devicemodel.SecurityProfile: "3"},
			days: map[ocpp201.CertificateSigningUse]int{ocpp201.CertificateSigningUseChargingStation: 30},
		},
		{
			name:     "missing v2g certificate when installation enabled",
			vars:     map[devicemodel.Key]string{devicemodel.V2GCertificateInstallationEnabled: "true"},
			wantUses: []ocpp201.CertificateSigningUse{ocpp201.CertificateSigningUseV2G},
		},
		{
			name: "v2g installation disabled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vars := map[devicemodel.Key]string{
				devicemodel.ClientCertExpireCheckInitialDelay: "0",
				devicemodel.V2GCertExpireCheckInitialDelay:    "0",
				devicemodel.CertSigningWaitMinimum:            "60",
			}
			for key, value := range tt.vars {
				vars[key] = value
			}
			env := newTestEnv(t, vars)
			env.sender.status = ocpp201.GenericStatusAccepted
			for use, days := range tt.days {
				env.store.days[use] = days
			}

			env.manager.StartExpiryChecks()
			time.Sleep(50 * time.Millisecond)
			env.manager.StopExpiryChecks()

			var uses []ocpp201.CertificateSigningUse
			for _, req := range env.sender.sent() {
				uses = append(uses, *req.CertificateType)
			}
			assert.Equal(t, tt.wantUses, uses)
		})
	}
}
