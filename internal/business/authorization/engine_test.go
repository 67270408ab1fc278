package authorization

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/charging-platform/charging-station-controller/internal/devicemodel"
	"github.com/charging-platform/charging-station-controller/internal/domain/ocpp201"
	"github.com/charging-platform/charging-station-controller/internal/logger"
	protocol "github.com/charging-platform/charging-station-controller/internal/protocol/ocpp201"
	"github.com/charging-platform/charging-station-controller/internal/security"
	"github.com/charging-platform/charging-station-controller/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu        sync.Mutex
	connected bool
	reply     *ocpp201.AuthorizeResponse
	requests  []ocpp201.AuthorizeRequest
}

func (f *fakeSender) Push(call protocol.OutgoingCall) *protocol.Future {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, call.Payload.(ocpp201.AuthorizeRequest))
	if f.reply == nil {
		return protocol.CompletedFuture(&protocol.Response{Status: protocol.ResponseTimeout})
	}
	raw, _ := json.Marshal(f.reply)
	return protocol.CompletedFuture(&protocol.Response{Status: protocol.ResponseAnswered, Payload: raw})
}

func (f *fakeSender) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeSender) sent() []ocpp201.AuthorizeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ocpp201.AuthorizeRequest(nil), f.requests...)
}

type fakeVerifier struct {
	result security.ContractVerification
	ocsp   []ocpp201.OCSPRequestData
}

func (f *fakeVerifier) VerifyContractChain(string) security.ContractVerification {
	return f.result
}

func (f *fakeVerifier) OCSPRequestData(string) ([]ocpp201.OCSPRequestData, error) {
	return f.ocsp, nil
}

type testEnv struct {
	engine   *Engine
	sender   *fakeSender
	store    *storage.MemoryStorage
	model    *devicemodel.DeviceModel
	verifier *fakeVerifier
}

func newTestEnv(t *testing.T, online bool, vars map[devicemodel.Key]string) *testEnv {
	t.Helper()
	store := storage.NewMemoryStorage()
	model, err := devicemodel.New(store, logger.Nop())
	require.NoError(t, err)
	for key, value := range vars {
		require.NoError(t, model.SetInternal(key, value))
	}

	sender := &fakeSender{connected: online}
	verifier := &fakeVerifier{result: security.ContractValid}
	engine, err := NewEngine(model, store, verifier, sender, nil, logger.Nop())
	require.NoError(t, err)
	return &testEnv{engine: engine, sender: sender, store: store, model: model, verifier: verifier}
}

func rfid(id string) ocpp201.IdToken {
	return ocpp201.IdToken{IdToken: id, Type: ocpp201.IdTokenTypeISO14443}
}

func accepted() *ocpp201.AuthorizeResponse {
	return &ocpp201.AuthorizeResponse{IdTokenInfo: ocpp201.IdTokenInfo{Status: ocpp201.AuthorizationStatusAccepted}}
}

func TestNewEngine_RequiresCollaborators(t *testing.T) {
	store := storage.NewMemoryStorage()
	model, err := devicemodel.New(store, logger.Nop())
	require.NoError(t, err)

	_, err = NewEngine(nil, store, nil, &fakeSender{}, nil, logger.Nop())
	assert.Equal(t, protocol.ErrKindConfiguration, protocol.KindOf(err))
	_, err = NewEngine(model, nil, nil, &fakeSender{}, nil, logger.Nop())
	assert.Equal(t, protocol.ErrKindConfiguration, protocol.KindOf(err))
	_, err = NewEngine(model, store, nil, nil, nil, logger.Nop())
	assert.Equal(t, protocol.ErrKindConfiguration, protocol.KindOf(err))
}

func TestTokenHash(t *testing.T) {
	a := TokenHash(rfid("ABC"))
	assert.Len(t, a, 64)
	assert.Equal(t, a, TokenHash(rfid("ABC")))
	assert.NotEqual(t, a, TokenHash(ocpp201.IdToken{IdToken: "ABC", Type: ocpp201.IdTokenTypeKeyCode}))
}

func TestEngine_PreAuthorized(t *testing.T) {
	t.Run("central token", func(t *testing.T) {
		env := newTestEnv(t, true, nil)
		result := env.engine.Authorize(context.Background(), Request{
			IdToken: ocpp201.IdToken{IdToken: "csms", Type: ocpp201.IdTokenTypeCentral},
		})
		assert.Equal(t, OutcomePreAuthorized, result.Outcome)
		assert.True(t, result.Accepted())
		assert.Empty(t, env.sender.sent())
	})

	t.Run("authorization disabled", func(t *testing.T) {
		env := newTestEnv(t, true, map[devicemodel.Key]string{devicemodel.AuthCtrlrEnabled: "false"})
		result := env.engine.Authorize(context.Background(), Request{IdToken: rfid("A1")})
		assert.Equal(t, OutcomePreAuthorized, result.Outcome)
		assert.True(t, result.Accepted())
		assert.Empty(t, env.sender.sent())
	})
}

func TestEngine_ContractCertificate(t *testing.T) {
	chain := "-----BEGIN CERTIFICATE-----"
	generated := []ocpp201.OCSPRequestData{{HashAlgorithm: "SHA256", SerialNumber: "01", ResponderURL: "http://ocsp"}}
	supplied := []ocpp201.OCSPRequestData{{HashAlgorithm: "SHA256", SerialNumber: "02", ResponderURL: "http://ocsp"}}

	tests := []struct {
		name         string
		online       bool
		vars         map[devicemodel.Key]string
		verification security.ContractVerification
		ocsp         []ocpp201.OCSPRequestData
		generated    []ocpp201.OCSPRequestData
		certificate  *string
		wantOutcome  Outcome
		wantStatus   ocpp201.AuthorizationStatus
		wantCert     *ocpp201.AuthorizeCertificateStatus
		wantRequest  func(t *testing.T, req ocpp201.AuthorizeRequest)
	}{
		{
			name: "online with supplied OCSP data", online: true, ocsp: supplied, certificate: &chain,
			wantOutcome: OutcomeCentralDeferred, wantStatus: ocpp201.AuthorizationStatusAccepted,
			wantRequest: func(t *testing.T, req ocpp201.AuthorizeRequest) {
				assert.Equal(t, supplied, req.Iso15118CertificateHashData)
				assert.Nil(t, req.Certificate)
			},
		},
		{
			name: "online issuer not found forwards certificate", online: true, certificate: &chain,
			verification: security.ContractIssuerNotFound,
			wantOutcome:  OutcomeCentralDeferred, wantStatus: ocpp201.AuthorizationStatusAccepted,
			wantRequest: func(t *testing.T, req ocpp201.AuthorizeRequest) {
				require.NotNil(t, req.Certificate)
				assert.Equal(t, chain, *req.Certificate)
			},
		},
		{
			name: "online issuer not found without central validation", online: true, certificate: &chain,
			verification: security.ContractIssuerNotFound,
			vars:         map[devicemodel.Key]string{devicemodel.CentralContractValidationAllowed: "false"},
			wantOutcome:  OutcomeContractInvalid, wantStatus: ocpp201.AuthorizationStatusInvalid,
		},
		{
			name: "online forwards generated OCSP data", online: true, certificate: &chain, generated: generated,
			wantOutcome: OutcomeCentralDeferred, wantStatus: ocpp201.AuthorizationStatusAccepted,
			wantRequest: func(t *testing.T, req ocpp201.AuthorizeRequest) {
				assert.Equal(t, generated, req.Iso15118CertificateHashData)
			},
		},
		{
			name: "online without OCSP data and no central validation", online: true, certificate: &chain,
			vars:        map[devicemodel.Key]string{devicemodel.CentralContractValidationAllowed: "false"},
			wantOutcome: OutcomeContractInvalid, wantStatus: ocpp201.AuthorizationStatusInvalid,
		},
		{
			name: "offline with contract validation disabled", certificate: &chain,
			vars:        map[devicemodel.Key]string{devicemodel.ContractValidationOffline: "false"},
			wantOutcome: OutcomeOfflineNotAllowed, wantStatus: ocpp201.AuthorizationStatusNotAtThisTime,
		},
		{
			name: "offline expired contract", certificate: &chain, verification: security.ContractExpired,
			wantOutcome: OutcomeLocalExpired, wantStatus: ocpp201.AuthorizationStatusExpired,
			wantCert: certStatus(ocpp201.CertificateStatusCertificateExpired),
		},
		{
			name: "offline invalid contract", certificate: &chain, verification: security.ContractInvalid,
			wantOutcome: OutcomeOfflineUnknown, wantStatus: ocpp201.AuthorizationStatusUnknown,
		},
		{
			name: "offline valid without local authorize offline", certificate: &chain,
			vars:        map[devicemodel.Key]string{devicemodel.LocalAuthorizeOffline: "false"},
			wantOutcome: OutcomeLocalValid, wantStatus: ocpp201.AuthorizationStatusUnknown,
			wantCert: certStatus(ocpp201.CertificateStatusAccepted),
		},
		{
			name: "no certificate", online: true,
			wantOutcome: OutcomeContractInvalid, wantStatus: ocpp201.AuthorizationStatusInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.online, tt.vars)
			env.sender.reply = accepted()
			env.verifier.result = tt.verification
			env.verifier.ocsp = tt.generated

			result := env.engine.Authorize(context.Background(), Request{
				IdToken:     ocpp201.IdToken{IdToken: "DEABCC1234567", Type: ocpp201.IdTokenTypeEMAID},
				Certificate: tt.certificate,
				OCSPData:    tt.ocsp,
			})

			assert.Equal(t, tt.wantOutcome, result.Outcome)
			assert.Equal(t, tt.wantStatus, result.IdTokenInfo.Status)
			assert.Equal(t, tt.wantCert, result.CertificateStatus)

			requests := env.sender.sent()
			if tt.wantRequest == nil {
				assert.Empty(t, requests)
				return
			}
			require.Len(t, requests, 1)
			tt.wantRequest(t, requests[0])
		})
	}
}

func certStatus(s ocpp201.AuthorizeCertificateStatus) *ocpp201.AuthorizeCertificateStatus {
	return &s
}

func TestEngine_OfflineValidContractUsesLocalList(t *testing.T) {
	env := newTestEnv(t, false, nil)
	token := ocpp201.IdToken{IdToken: "DEABCC1234567", Type: ocpp201.IdTokenTypeEMAID}
	require.NoError(t, env.store.ReplaceLocalList(context.Background(), 1, map[string]ocpp201.IdTokenInfo{
		TokenHash(token): {Status: ocpp201.AuthorizationStatusAccepted},
	}))
	chain := "chain"

	result := env.engine.Authorize(context.Background(), Request{IdToken: token, Certificate: &chain})
	assert.Equal(t, OutcomeLocalList, result.Outcome)
	assert.True(t, result.Accepted())
}

func TestEngine_LocalList(t *testing.T) {
	tests := []struct {
		name        string
		online      bool
		vars        map[devicemodel.Key]string
		listStatus  ocpp201.AuthorizationStatus
		wantOutcome Outcome
		wantStatus  ocpp201.AuthorizationStatus
		wantRequest bool
	}{
		{
			name: "accepted entry needs no round trip", online: true,
			listStatus:  ocpp201.AuthorizationStatusAccepted,
			wantOutcome: OutcomeLocalList, wantStatus: ocpp201.AuthorizationStatusAccepted,
		},
		{
			name: "invalid entry verified online", online: true,
			listStatus:  ocpp201.AuthorizationStatusBlocked,
			wantOutcome: OutcomeCentralDeferred, wantStatus: ocpp201.AuthorizationStatusAccepted,
			wantRequest: true,
		},
		{
			name:        "invalid entry offline is never accepted",
			listStatus:  ocpp201.AuthorizationStatusBlocked,
			vars:        map[devicemodel.Key]string{devicemodel.OfflineTxForUnknownIdEnabled: "true"},
			wantOutcome: OutcomeOfflineUnknown, wantStatus: ocpp201.AuthorizationStatusUnknown,
		},
		{
			name: "invalid entry with remote authorization disabled", online: true,
			listStatus:  ocpp201.AuthorizationStatusExpired,
			vars:        map[devicemodel.Key]string{devicemodel.DisableRemoteAuthorization: "true"},
			wantOutcome: OutcomeRemoteDisabled, wantStatus: ocpp201.AuthorizationStatusUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.online, tt.vars)
			env.sender.reply = accepted()
			token := rfid("LIST01")
			require.NoError(t, env.store.ReplaceLocalList(context.Background(), 3, map[string]ocpp201.IdTokenInfo{
				TokenHash(token): {Status: tt.listStatus},
			}))

			result := env.engine.Authorize(context.Background(), Request{IdToken: token})
			assert.Equal(t, tt.wantOutcome, result.Outcome)
			assert.Equal(t, tt.wantStatus, result.IdTokenInfo.Status)
			if tt.wantRequest {
				assert.Len(t, env.sender.sent(), 1)
			} else {
				assert.Empty(t, env.sender.sent())
			}
		})
	}
}

func TestEngine_LocalListDisabledSkipsList(t *testing.T) {
	env := newTestEnv(t, true, map[devicemodel.Key]string{devicemodel.LocalAuthListCtrlrEnabled: "false"})
	env.sender.reply = accepted()
	token := rfid("LIST02")
	require.NoError(t, env.store.ReplaceLocalList(context.Background(), 1, map[string]ocpp201.IdTokenInfo{
		TokenHash(token): {Status: ocpp201.AuthorizationStatusAccepted},
	}))

	result := env.engine.Authorize(context.Background(), Request{IdToken: token})
	assert.Equal(t, OutcomeCacheMiss, result.Outcome)
	assert.Len(t, env.sender.sent(), 1)
}

func TestEngine_CacheHitOffline(t *testing.T) {
	env := newTestEnv(t, false, map[devicemodel.Key]string{
		devicemodel.LocalPreAuthorize:     "true",
		devicemodel.LocalAuthorizeOffline: "true",
	})
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	env.engine.now = func() time.Time { return now }

	token := rfid("CACHE01")
	hash := TokenHash(token)
	require.NoError(t, env.store.PutAuthCacheEntry(context.Background(), hash, storage.AuthCacheEntry{
		IdTokenInfo: ocpp201.IdTokenInfo{Status: ocpp201.AuthorizationStatusAccepted},
		LastUsed:    now.Add(-time.Hour),
	}))

	result := env.engine.Authorize(context.Background(), Request{IdToken: token})
	assert.Equal(t, OutcomeCacheHit, result.Outcome)
	assert.True(t, result.Accepted())
	assert.Empty(t, env.sender.sent())

	entry, err := env.store.GetAuthCacheEntry(context.Background(), hash)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.True(t, entry.LastUsed.Equal(now))
}

func TestEngine_CacheHitOfflineWithoutPreAuthorize(t *testing.T) {
	env := newTestEnv(t, false, map[devicemodel.Key]string{
		devicemodel.LocalAuthorizeOffline: "true",
	})
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	env.engine.now = func() time.Time { return now }

	token := rfid("CACHE02")
	require.NoError(t, env.store.PutAuthCacheEntry(context.Background(), TokenHash(token), storage.AuthCacheEntry{
		IdTokenInfo: ocpp201.IdTokenInfo{Status: ocpp201.AuthorizationStatusAccepted},
		LastUsed:    now.Add(-time.Minute),
	}))

	result := env.engine.Authorize(context.Background(), Request{IdToken: token})
	assert.Equal(t, OutcomeCacheHit, result.Outcome)
	assert.True(t, result.Accepted())
	assert.Empty(t, env.sender.sent())

	// 在线且未开启本地预授权时仍走CSMS
	env.sender.mu.Lock()
	env.sender.connected = true
	env.sender.reply = accepted()
	env.sender.mu.Unlock()
	result = env.engine.Authorize(context.Background(), Request{IdToken: token})
	assert.Equal(t, OutcomeCacheMiss, result.Outcome)
	assert.Len(t, env.sender.sent(), 1)
}

func TestEngine_ExpiredCacheEntryIsPurged(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)

	tests := []struct {
		name  string
		entry storage.AuthCacheEntry
	}{
		{
			name: "lifetime elapsed since last use",
			entry: storage.AuthCacheEntry{
				IdTokenInfo: ocpp201.IdTokenInfo{Status: ocpp201.AuthorizationStatusAccepted},
				LastUsed:    now.Add(-2 * time.Hour),
			},
		},
		{
			name: "cache expiry date passed",
			entry: storage.AuthCacheEntry{
				IdTokenInfo: ocpp201.IdTokenInfo{Status: ocpp201.AuthorizationStatusAccepted, CacheExpiryDateTime: &past},
				LastUsed:    now,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, false, map[devicemodel.Key]string{
				devicemodel.LocalPreAuthorize: "true",
				devicemodel.AuthCacheLifeTime: "3600",
			})
			env.engine.now = func() time.Time { return now }

			token := rfid("CACHE02")
			hash := TokenHash(token)
			require.NoError(t, env.store.PutAuthCacheEntry(context.Background(), hash, tt.entry))

			result := env.engine.Authorize(context.Background(), Request{IdToken: token})
			assert.Equal(t, ocpp201.AuthorizationStatusUnknown, result.IdTokenInfo.Status)
			assert.NotEqual(t, OutcomeCacheHit, result.Outcome)

			entry, err := env.store.GetAuthCacheEntry(context.Background(), hash)
			require.NoError(t, err)
			assert.Nil(t, entry)
		})
	}
}

func TestEngine_CachedRejection(t *testing.T) {
	t.Run("post authorize disabled returns cached result", func(t *testing.T) {
		env := newTestEnv(t, true, map[devicemodel.Key]string{devicemodel.AuthCacheDisablePostAuthorize: "true"})
		env.sender.reply = accepted()
		token := rfid("CACHE03")
		require.NoError(t, env.store.PutAuthCacheEntry(context.Background(), TokenHash(token), storage.AuthCacheEntry{
			IdTokenInfo: ocpp201.IdTokenInfo{Status: ocpp201.AuthorizationStatusBlocked},
			LastUsed:    time.Now(),
		}))

		result := env.engine.Authorize(context.Background(), Request{IdToken: token})
		assert.Equal(t, OutcomeCacheHit, result.Outcome)
		assert.Equal(t, ocpp201.AuthorizationStatusBlocked, result.IdTokenInfo.Status)
		assert.Empty(t, env.sender.sent())
	})

	t.Run("otherwise re-authorizes online and refreshes cache", func(t *testing.T) {
		env := newTestEnv(t, true, nil)
		env.sender.reply = accepted()
		token := rfid("CACHE04")
		hash := TokenHash(token)
		require.NoError(t, env.store.PutAuthCacheEntry(context.Background(), hash, storage.AuthCacheEntry{
			IdTokenInfo: ocpp201.IdTokenInfo{Status: ocpp201.AuthorizationStatusBlocked},
			LastUsed:    time.Now(),
		}))

		result := env.engine.Authorize(context.Background(), Request{IdToken: token})
		assert.Equal(t, OutcomeCacheMiss, result.Outcome)
		assert.True(t, result.Accepted())
		assert.Len(t, env.sender.sent(), 1)

		entry, err := env.store.GetAuthCacheEntry(context.Background(), hash)
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.Equal(t, ocpp201.AuthorizationStatusAccepted, entry.IdTokenInfo.Status)
	})
}

func TestEngine_OfflineUnknownAllowed(t *testing.T) {
	env := newTestEnv(t, false, map[devicemodel.Key]string{devicemodel.OfflineTxForUnknownIdEnabled: "true"})
	result := env.engine.Authorize(context.Background(), Request{IdToken: rfid("NEW01")})
	assert.Equal(t, OutcomeOfflineUnknownAllowed, result.Outcome)
	assert.True(t, result.Accepted())
}

func TestEngine_RemoteAuthorization(t *testing.T) {
	t.Run("remote disabled", func(t *testing.T) {
		env := newTestEnv(t, true, map[devicemodel.Key]string{devicemodel.DisableRemoteAuthorization: "true"})
		result := env.engine.Authorize(context.Background(), Request{IdToken: rfid("R1")})
		assert.Equal(t, OutcomeRemoteDisabled, result.Outcome)
		assert.Equal(t, ocpp201.AuthorizationStatusUnknown, result.IdTokenInfo.Status)
		assert.Empty(t, env.sender.sent())
	})

	t.Run("answered result is cached", func(t *testing.T) {
		env := newTestEnv(t, true, nil)
		env.sender.reply = accepted()
		token := rfid("R2")

		result := env.engine.Authorize(context.Background(), Request{IdToken: token})
		assert.Equal(t, OutcomeCacheMiss, result.Outcome)
		assert.True(t, result.Accepted())

		entry, err := env.store.GetAuthCacheEntry(context.Background(), TokenHash(token))
		require.NoError(t, err)
		require.NotNil(t, entry)
	})

	t.Run("unanswered request is unknown and not cached", func(t *testing.T) {
		env := newTestEnv(t, true, nil)
		token := rfid("R3")

		result := env.engine.Authorize(context.Background(), Request{IdToken: token})
		assert.Equal(t, ocpp201.AuthorizationStatusUnknown, result.IdTokenInfo.Status)
		assert.Len(t, env.sender.sent(), 1)

		entry, err := env.store.GetAuthCacheEntry(context.Background(), TokenHash(token))
		require.NoError(t, err)
		assert.Nil(t, entry)
	})

	t.Run("offline never sends", func(t *testing.T) {
		env := newTestEnv(t, false, nil)
		result := env.engine.Authorize(context.Background(), Request{IdToken: rfid("R4")})
		assert.Equal(t, ocpp201.AuthorizationStatusUnknown, result.IdTokenInfo.Status)
		assert.Empty(t, env.sender.sent())
	})
}
