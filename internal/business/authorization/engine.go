package authorization

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/charging-platform/charging-station-controller/internal/devicemodel"
	"github.com/charging-platform/charging-station-controller/internal/domain/ocpp201"
	"github.com/charging-platform/charging-station-controller/internal/logger"
	"github.com/charging-platform/charging-station-controller/internal/metrics"
	protocol "github.com/charging-platform/charging-station-controller/internal/protocol/ocpp201"
	"github.com/charging-platform/charging-station-controller/internal/security"
	"github.com/charging-platform/charging-station-controller/internal/storage"
)

// Settings 授权相关的设备模型变量
type Settings interface {
	GetBool(key devicemodel.Key) bool
	GetInt(key devicemodel.Key) (int, bool)
	SetInternal(key devicemodel.Key, value string) error
}

// ContractVerifier 合约证书校验
type ContractVerifier interface {
	VerifyContractChain(chainPEM string) security.ContractVerification
	OCSPRequestData(chainPEM string) ([]ocpp201.OCSPRequestData, error)
}

// Sender 出站请求通道
type Sender interface {
	Push(call protocol.OutgoingCall) *protocol.Future
	IsConnected() bool
}

// Store 授权缓存与本地列表持久化
type Store interface {
	storage.AuthCacheStore
	storage.LocalListStore
}

// Outcome 决策分支
type Outcome string

const (
	OutcomePreAuthorized         Outcome = "PreAuthorized"
	OutcomeCentralDeferred       Outcome = "CentralDeferred"
	OutcomeContractInvalid       Outcome = "ContractInvalid"
	OutcomeLocalValid            Outcome = "LocalValid"
	OutcomeLocalExpired          Outcome = "LocalExpired"
	OutcomeOfflineNotAllowed     Outcome = "OfflineNotAllowed"
	OutcomeOfflineUnknown        Outcome = "OfflineUnknown"
	OutcomeLocalList             Outcome = "LocalList"
	OutcomeCacheHit              Outcome = "CacheHit"
	OutcomeCacheMiss             Outcome = "CacheMiss"
	OutcomeOfflineUnknownAllowed Outcome = "OfflineUnknownAllowed"
	OutcomeRemoteDisabled        Outcome = "RemoteDisabled"
)

// Request 标识出示
type Request struct {
	IdToken     ocpp201.IdToken
	Certificate *string
	OCSPData    []ocpp201.OCSPRequestData
}

// Result 授权决策
type Result struct {
	Outcome           Outcome
	IdTokenInfo       ocpp201.IdTokenInfo
	CertificateStatus *ocpp201.AuthorizeCertificateStatus
}

// Accepted 是否授权通过
func (r Result) Accepted() bool {
	return r.IdTokenInfo.Status == ocpp201.AuthorizationStatusAccepted
}

// EngineConfig 授权引擎配置
type EngineConfig struct {
	RequestTimeout  time.Duration `json:"request_timeout"`
	CleanupInterval time.Duration `json:"cleanup_interval"`
	StoreTimeout    time.Duration `json:"store_timeout"`
}

// DefaultEngineConfig 默认授权引擎配置
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		RequestTimeout:  60 * time.Second,
		CleanupInterval: 15 * time.Minute,
		StoreTimeout:    2 * time.Second,
	}
}

// Engine 授权引擎：本地列表、授权缓存与在线授权
type Engine struct {
	settings Settings
	store    Store
	verifier ContractVerifier
	sender   Sender
	config   *EngineConfig

	// 缓存维护
	cacheMu sync.Mutex
	wake    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *logger.Logger
	now    func() time.Time
}

// NewEngine 创建授权引擎，verifier可为空（此时合约证书无法本地校验）
func NewEngine(settings Settings, store Store, verifier ContractVerifier, sender Sender, config *EngineConfig, log *logger.Logger) (*Engine, error) {
	if settings == nil {
		return nil, protocol.NewError(protocol.ErrKindConfiguration, "authorization engine requires a device model")
	}
	if store == nil {
		return nil, protocol.NewError(protocol.ErrKindConfiguration, "authorization engine requires storage")
	}
	if sender == nil {
		return nil, protocol.NewError(protocol.ErrKindConfiguration, "authorization engine requires a message sender")
	}
	if config == nil {
		config = DefaultEngineConfig()
	}
	if log == nil {
		log = logger.Global()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		settings: settings,
		store:    store,
		verifier: verifier,
		sender:   sender,
		config:   config,
		wake:     make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
		logger:   log.WithComponent("authorization"),
		now:      time.Now,
	}, nil
}

// TokenHash 标识哈希，作为缓存与本地列表的键
func TokenHash(token ocpp201.IdToken) string {
	sum := sha256.Sum256([]byte(token.IdToken + string(token.Type)))
	return hex.EncodeToString(sum[:])
}

// evaluation 单次决策的上下文
type evaluation struct {
	req    Request
	online bool
	hash   string
}

type step func(ctx context.Context, ev *evaluation) (Result, bool)

// Authorize 按决策表依次尝试，返回第一个给出结论的分支
func (e *Engine) Authorize(ctx context.Context, req Request) Result {
	ev := &evaluation{
		req:    req,
		online: e.sender.IsConnected(),
		hash:   TokenHash(req.IdToken),
	}

	steps := []step{
		e.preAuthorized,
		e.contractCertificate,
		e.localList,
		e.authCache,
		e.offlineUnknown,
		e.remote,
	}
	for _, s := range steps {
		if result, done := s(ctx, ev); done {
			metrics.AuthorizationDecisions.WithLabelValues(string(result.Outcome), string(result.IdTokenInfo.Status)).Inc()
			e.logger.Infof("Authorization of %s token: %s (%s)", req.IdToken.Type, result.IdTokenInfo.Status, result.Outcome)
			return result
		}
	}
	// remote 总会给出结论
	return statusResult(OutcomeRemoteDisabled, ocpp201.AuthorizationStatusUnknown)
}

func statusResult(outcome Outcome, status ocpp201.AuthorizationStatus) Result {
	return Result{Outcome: outcome, IdTokenInfo: ocpp201.IdTokenInfo{Status: status}}
}

func (e *Engine) preAuthorized(_ context.Context, ev *evaluation) (Result, bool) {
	if ev.req.IdToken.Type == ocpp201.IdTokenTypeCentral || !e.settings.GetBool(devicemodel.AuthCtrlrEnabled) {
		return statusResult(OutcomePreAuthorized, ocpp201.AuthorizationStatusAccepted), true
	}
	return Result{}, false
}

// contractCertificate eMAID路径；本地校验通过且允许离线本地授权时继续查本地列表与缓存
func (e *Engine) contractCertificate(ctx context.Context, ev *evaluation) (Result, bool) {
	if ev.req.IdToken.Type != ocpp201.IdTokenTypeEMAID {
		return Result{}, false
	}
	req := ev.req

	if ev.online && len(req.OCSPData) > 0 {
		return e.forward(ctx, req.IdToken, nil, req.OCSPData), true
	}
	if req.Certificate == nil || *req.Certificate == "" {
		e.logger.Warn("eMAID presented without a certificate chain")
		return statusResult(OutcomeContractInvalid, ocpp201.AuthorizationStatusInvalid), true
	}

	verification := security.ContractInvalid
	if e.verifier != nil {
		verification = e.verifier.VerifyContractChain(*req.Certificate)
	}
	centralAllowed := e.settings.GetBool(devicemodel.CentralContractValidationAllowed)

	if ev.online {
		if verification == security.ContractIssuerNotFound {
			if centralAllowed {
				return e.forward(ctx, req.IdToken, req.Certificate, nil), true
			}
			return statusResult(OutcomeContractInvalid, ocpp201.AuthorizationStatusInvalid), true
		}

		var generated []ocpp201.OCSPRequestData
		if e.verifier != nil {
			data, err := e.verifier.OCSPRequestData(*req.Certificate)
			if err != nil {
				e.logger.Warnf("Could not generate OCSP request data: %v", err)
			}
			generated = data
		}
		if len(generated) > 0 {
			return e.forward(ctx, req.IdToken, nil, generated), true
		}
		if centralAllowed {
			return e.forward(ctx, req.IdToken, req.Certificate, nil), true
		}
		return statusResult(OutcomeContractInvalid, ocpp201.AuthorizationStatusInvalid), true
	}

	if !e.settings.GetBool(devicemodel.ContractValidationOffline) {
		return statusResult(OutcomeOfflineNotAllowed, ocpp201.AuthorizationStatusNotAtThisTime), true
	}
	switch verification {
	case security.ContractValid:
		if e.settings.GetBool(devicemodel.LocalAuthorizeOffline) {
			return Result{}, false
		}
		result := statusResult(OutcomeLocalValid, ocpp201.AuthorizationStatusUnknown)
		status := ocpp201.CertificateStatusAccepted
		result.CertificateStatus = &status
		return result, true
	case security.ContractExpired:
		result := statusResult(OutcomeLocalExpired, ocpp201.AuthorizationStatusExpired)
		status := ocpp201.CertificateStatusCertificateExpired
		result.CertificateStatus = &status
		return result, true
	default:
		return statusResult(OutcomeOfflineUnknown, ocpp201.AuthorizationStatusUnknown), true
	}
}

func (e *Engine) forward(ctx context.Context, token ocpp201.IdToken, certificate *string, ocsp []ocpp201.OCSPRequestData) Result {
	resp, _ := e.authorizeRequest(ctx, token, certificate, ocsp)
	return Result{
		Outcome:           OutcomeCentralDeferred,
		IdTokenInfo:       resp.IdTokenInfo,
		CertificateStatus: resp.CertificateStatus,
	}
}

func (e *Engine) localList(ctx context.Context, ev *evaluation) (Result, bool) {
	if !e.settings.GetBool(devicemodel.LocalAuthListCtrlrEnabled) {
		return Result{}, false
	}

	storeCtx, cancel := context.WithTimeout(ctx, e.config.StoreTimeout)
	info, err := e.store.GetLocalListEntry(storeCtx, ev.hash)
	cancel()
	if err != nil {
		e.logger.Warnf("Could not read local authorization list: %v", err)
		return Result{}, false
	}
	if info == nil {
		return Result{}, false
	}

	switch {
	case info.Status == ocpp201.AuthorizationStatusAccepted:
		return Result{Outcome: OutcomeLocalList, IdTokenInfo: *info}, true
	case e.settings.GetBool(devicemodel.DisableRemoteAuthorization):
		return statusResult(OutcomeRemoteDisabled, ocpp201.AuthorizationStatusUnknown), true
	case ev.online:
		resp, _ := e.authorizeRequest(ctx, ev.req.IdToken, ev.req.Certificate, ev.req.OCSPData)
		return Result{Outcome: OutcomeCentralDeferred, IdTokenInfo: resp.IdTokenInfo, CertificateStatus: resp.CertificateStatus}, true
	default:
		// 离线时不接受本地列表中的无效条目
		return statusResult(OutcomeOfflineUnknown, ocpp201.AuthorizationStatusUnknown), true
	}
}

func (e *Engine) authCache(ctx context.Context, ev *evaluation) (Result, bool) {
	if !e.settings.GetBool(devicemodel.AuthCacheCtrlrEnabled) {
		return Result{}, false
	}

	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()

	storeCtx, cancel := context.WithTimeout(ctx, e.config.StoreTimeout)
	defer cancel()

	entry, err := e.store.GetAuthCacheEntry(storeCtx, ev.hash)
	if err != nil {
		e.logger.Warnf("Could not read authorization cache: %v", err)
		return Result{}, false
	}
	if entry == nil {
		return Result{}, false
	}

	if e.expired(*entry, e.now()) {
		e.logger.Infof("Authorization cache entry expired, removing")
		if err := e.store.DeleteAuthCacheEntry(storeCtx, ev.hash); err != nil {
			e.logger.Warnf("Could not delete expired cache entry: %v", err)
		}
		return Result{}, false
	}

	info := entry.IdTokenInfo
	localHit := e.settings.GetBool(devicemodel.LocalPreAuthorize) ||
		(!ev.online && e.settings.GetBool(devicemodel.LocalAuthorizeOffline))
	if localHit && info.Status == ocpp201.AuthorizationStatusAccepted {
		entry.LastUsed = e.now()
		if err := e.store.PutAuthCacheEntry(storeCtx, ev.hash, *entry); err != nil {
			e.logger.Warnf("Could not update cache entry usage: %v", err)
		}
		return Result{Outcome: OutcomeCacheHit, IdTokenInfo: info}, true
	}
	if e.settings.GetBool(devicemodel.AuthCacheDisablePostAuthorize) {
		return Result{Outcome: OutcomeCacheHit, IdTokenInfo: info}, true
	}
	return Result{}, false
}

func (e *Engine) offlineUnknown(_ context.Context, ev *evaluation) (Result, bool) {
	if !ev.online && e.settings.GetBool(devicemodel.OfflineTxForUnknownIdEnabled) {
		return statusResult(OutcomeOfflineUnknownAllowed, ocpp201.AuthorizationStatusAccepted), true
	}
	return Result{}, false
}

func (e *Engine) remote(ctx context.Context, ev *evaluation) (Result, bool) {
	if e.settings.GetBool(devicemodel.DisableRemoteAuthorization) {
		return statusResult(OutcomeRemoteDisabled, ocpp201.AuthorizationStatusUnknown), true
	}

	resp, answered := e.authorizeRequest(ctx, ev.req.IdToken, ev.req.Certificate, ev.req.OCSPData)
	if answered {
		e.UpdateCache(ctx, ev.req.IdToken, resp.IdTokenInfo)
	}
	return Result{Outcome: OutcomeCacheMiss, IdTokenInfo: resp.IdTokenInfo, CertificateStatus: resp.CertificateStatus}, true
}

// UpdateCache 写入CSMS返回的标识信息，随后唤醒缓存维护
func (e *Engine) UpdateCache(ctx context.Context, token ocpp201.IdToken, info ocpp201.IdTokenInfo) {
	if !e.settings.GetBool(devicemodel.AuthCacheCtrlrEnabled) {
		return
	}
	e.cacheMu.Lock()
	storeCtx, cancel := context.WithTimeout(ctx, e.config.StoreTimeout)
	err := e.store.PutAuthCacheEntry(storeCtx, TokenHash(token), storage.AuthCacheEntry{
		IdTokenInfo: info,
		LastUsed:    e.now(),
	})
	cancel()
	e.cacheMu.Unlock()
	if err != nil {
		e.logger.Warnf("Could not insert authorization cache entry: %v", err)
	}
	e.TriggerCleanup()
}

// authorizeRequest 发送Authorize；离线、超时或出错时返回Unknown
func (e *Engine) authorizeRequest(ctx context.Context, token ocpp201.IdToken, certificate *string, ocsp []ocpp201.OCSPRequestData) (ocpp201.AuthorizeResponse, bool) {
	unknown := ocpp201.AuthorizeResponse{IdTokenInfo: ocpp201.IdTokenInfo{Status: ocpp201.AuthorizationStatusUnknown}}
	if !e.sender.IsConnected() {
		return unknown, false
	}

	future := e.sender.Push(protocol.OutgoingCall{
		Action: ocpp201.ActionAuthorize,
		Payload: ocpp201.AuthorizeRequest{
			IdToken:                     token,
			Certificate:                 certificate,
			Iso15118CertificateHashData: ocsp,
		},
	})

	waitCtx, cancel := context.WithTimeout(ctx, e.config.RequestTimeout)
	defer cancel()

	var resp ocpp201.AuthorizeResponse
	if err := future.Wait(waitCtx).Decode(&resp); err != nil {
		e.logger.Warnf("Authorize not answered: %v", err)
		return unknown, false
	}
	return resp, true
}

func (e *Engine) expired(entry storage.AuthCacheEntry, now time.Time) bool {
	if lifetime, ok := e.settings.GetInt(devicemodel.AuthCacheLifeTime); ok && lifetime > 0 {
		if entry.LastUsed.Add(time.Duration(lifetime) * time.Second).Before(now) {
			return true
		}
	}
	expiry := entry.IdTokenInfo.CacheExpiryDateTime
	return expiry != nil && expiry.Before(now)
}
