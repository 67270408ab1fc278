package certificate

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charging-platform/charging-station-controller/internal/devicemodel"
	"github.com/charging-platform/charging-station-controller/internal/domain/ocpp201"
	"github.com/charging-platform/charging-station-controller/internal/logger"
	"github.com/charging-platform/charging-station-controller/internal/metrics"
	protocol "github.com/charging-platform/charging-station-controller/internal/protocol/ocpp201"
)

// ErrSigningInFlight 已有签名流程在进行
var ErrSigningInFlight = errors.New("certificate signing already in flight")

// CredentialStore 证书存储
type CredentialStore interface {
	GenerateCSR(use ocpp201.CertificateSigningUse, country, organization, commonName string) (string, error)
	InstallCertificateChain(use ocpp201.CertificateSigningUse, chainPEM string) error
	DaysToExpiry(use ocpp201.CertificateSigningUse) (int, error)
}

// Settings 证书相关的设备模型变量
type Settings interface {
	GetBool(key devicemodel.Key) bool
	GetInt(key devicemodel.Key) (int, bool)
	GetString(key devicemodel.Key) string
}

// CallSender 出站请求通道
type CallSender interface {
	Push(call protocol.OutgoingCall) *protocol.Future
}

// Callbacks 证书事件回调，均可为空
type Callbacks struct {
	OnSecurityEvent             func(eventType, techInfo string)
	OnStationCertificateChanged func()
}

// ManagerConfig 证书生命周期配置
type ManagerConfig struct {
	ExpiryThresholdDays int           `json:"expiry_threshold_days"`
	MinimumWait         time.Duration `json:"minimum_wait"`
}

// DefaultManagerConfig 默认证书生命周期配置
func DefaultManagerConfig() *ManagerConfig {
	return &ManagerConfig{
		ExpiryThresholdDays: 30,
		MinimumWait:         250 * time.Millisecond,
	}
}

// Manager 证书签名与到期检查
type Manager struct {
	store     CredentialStore
	settings  Settings
	sender    CallSender
	config    *ManagerConfig
	callbacks Callbacks

	// 签名流程状态，同一时刻至多一个
	mu          sync.Mutex
	awaiting    *ocpp201.CertificateSigningUse
	attempt     int
	signedTimer *time.Timer
	clientTimer *time.Timer
	v2gTimer    *time.Timer

	ctx    context.Context
	cancel context.CancelFunc

	logger *logger.Logger
}

// NewManager 创建证书生命周期管理器
func NewManager(store CredentialStore, settings Settings, sender CallSender, config *ManagerConfig, callbacks Callbacks, log *logger.Logger) (*Manager, error) {
	if store == nil || settings == nil || sender == nil {
		return nil, protocol.NewError(protocol.ErrKindConfiguration, "certificate manager requires credential store, device model and sender")
	}
	if config == nil {
		config = DefaultManagerConfig()
	}
	if log == nil {
		log = logger.Global()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:     store,
		settings:  settings,
		sender:    sender,
		config:    config,
		callbacks: callbacks,
		attempt:   1,
		ctx:       ctx,
		cancel:    cancel,
		logger:    log.WithComponent("certificate"),
	}, nil
}

// Stop 停止所有计时器
func (m *Manager) Stop() {
	m.cancel()
	m.StopExpiryChecks()
	m.mu.Lock()
	if m.signedTimer != nil {
		m.signedTimer.Stop()
		m.signedTimer = nil
	}
	m.mu.Unlock()
}

// StartExpiryChecks 启动两个到期检查；站点证书仅在安全等级3时检查
func (m *Manager) StartExpiryChecks() {
	m.StopExpiryChecks()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx.Err() != nil {
		return
	}

	if profile, _ := m.settings.GetInt(devicemodel.SecurityProfile); profile == 3 {
		delay := m.seconds(devicemodel.ClientCertExpireCheckInitialDelay, 60)
		m.clientTimer = time.AfterFunc(delay, m.checkClientCertificate)
	}
	delay := m.seconds(devicemodel.V2GCertExpireCheckInitialDelay, 60)
	m.v2gTimer = time.AfterFunc(delay, m.checkV2GCertificate)
}

// StopExpiryChecks 停止到期检查
func (m *Manager) StopExpiryChecks() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.clientTimer != nil {
		m.clientTimer.Stop()
		m.clientTimer = nil
	}
	if m.v2gTimer != nil {
		m.v2gTimer.Stop()
		m.v2gTimer = nil
	}
}

func (m *Manager) seconds(key devicemodel.Key, fallback int) time.Duration {
	value, ok := m.settings.GetInt(key)
	if !ok || value < 0 {
		value = fallback
	}
	return time.Duration(value) * time.Second
}

func (m *Manager) checkClientCertificate() {
	m.checkExpiry(ocpp201.CertificateSigningUseChargingStation)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx.Err() == nil && m.clientTimer != nil {
		m.clientTimer.Reset(m.seconds(devicemodel.ClientCertExpireCheckInterval, 12*60*60))
	}
}

func (m *Manager) checkV2GCertificate() {
	if m.settings.GetBool(devicemodel.V2GCertificateInstallationEnabled) {
		m.checkExpiry(ocpp201.CertificateSigningUseV2G)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx.Err() == nil && m.v2gTimer != nil {
		m.v2gTimer.Reset(m.seconds(devicemodel.V2GCertExpireCheckInterval, 12*60*60))
	}
}

// checkExpiry 剩余天数低于阈值时发起签名；无证书视为0天
func (m *Manager) checkExpiry(use ocpp201.CertificateSigningUse) {
	days, err := m.store.DaysToExpiry(use)
	if err != nil {
		m.logger.Warnf("Could not read %s expiry: %v", use, err)
		days = 0
	}
	if days >= m.config.ExpiryThresholdDays {
		m.logger.Infof("%s still valid for %d days", use, days)
		return
	}
	m.logger.Infof("%s expires in %d days, requesting a new certificate", use, days)
	if err := m.RequestSigning(use, false); err != nil {
		m.logger.Warnf("Certificate signing not started: %v", err)
	}
}

// RequestSigning 生成CSR并发送SignCertificate
func (m *Manager) RequestSigning(use ocpp201.CertificateSigningUse, triggered bool) error {
	m.mu.Lock()
	if m.awaiting != nil {
		m.mu.Unlock()
		return ErrSigningInFlight
	}
	m.mu.Unlock()

	country := m.settings.GetString(devicemodel.ISO15118CtrlrCountryName)
	organization := m.settings.GetString(devicemodel.OrganizationName)
	commonName := m.settings.GetString(devicemodel.ChargeBoxSerialNumber)
	if country == "" || organization == "" || commonName == "" {
		return protocol.NewError(protocol.ErrKindConfiguration, "missing CSR subject configuration")
	}

	csr, err := m.store.GenerateCSR(use, country, organization, commonName)
	if err != nil {
		m.logger.Errorf("CSR generation failed for %s: %v", use, err)
		metrics.CertificateSigningAttempts.WithLabelValues(string(use), "csr_failed").Inc()
		m.securityEvent(ocpp201.SecurityEventCSRGenerationFailed, "Sign certificate req failed due to: "+err.Error())
		return err
	}

	m.mu.Lock()
	if m.awaiting != nil {
		m.mu.Unlock()
		return ErrSigningInFlight
	}
	awaiting := use
	m.awaiting = &awaiting
	m.mu.Unlock()

	metrics.CertificateSigningAttempts.WithLabelValues(string(use), "sent").Inc()
	certificateType := use
	m.sender.Push(protocol.OutgoingCall{
		Action: ocpp201.ActionSignCertificate,
		Payload: ocpp201.SignCertificateRequest{
			Csr:             csr,
			CertificateType: &certificateType,
		},
		InitiatedByTrigger: triggered,
		OnResult:           func(resp *protocol.Response) { m.handleSignResponse(use, resp) },
	})
	return nil
}

func (m *Manager) handleSignResponse(use ocpp201.CertificateSigningUse, resp *protocol.Response) {
	var sign ocpp201.SignCertificateResponse
	if err := resp.Decode(&sign); err != nil {
		m.logger.Warnf("SignCertificate not answered: %v", err)
		m.reset()
		return
	}

	if sign.Status != ocpp201.GenericStatusAccepted {
		m.logger.Warn("SignCertificate was not accepted by the CSMS")
		metrics.CertificateSigningAttempts.WithLabelValues(string(use), "rejected").Inc()
		m.reset()
		return
	}
	metrics.CertificateSigningAttempts.WithLabelValues(string(use), "accepted").Inc()

	repeatTimes, ok := m.settings.GetInt(devicemodel.CertSigningRepeatTimes)
	if !ok {
		m.logger.Warn("CertSigningRepeatTimes not configured, SignCertificate will not be retried")
		m.reset()
		return
	}
	waitMinimum, _ := m.settings.GetInt(devicemodel.CertSigningWaitMinimum)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.awaiting == nil || m.ctx.Err() != nil {
		return
	}
	if m.attempt > repeatTimes {
		m.logger.Warnf("No CertificateSigned after %d attempts, giving up", m.attempt)
		m.resetLocked()
		return
	}
	delay := Backoff(m.config.MinimumWait, waitMinimum, m.attempt)
	m.signedTimer = time.AfterFunc(delay, func() { m.retry(use) })
}

// Backoff 等待CertificateSigned的时长：max(minimum, waitMinimum秒) * 2^attempt
func Backoff(minimum time.Duration, waitMinimumSeconds, attempt int) time.Duration {
	base := time.Duration(waitMinimumSeconds) * time.Second
	if base < minimum {
		base = minimum
	}
	return base << uint(attempt)
}

func (m *Manager) retry(use ocpp201.CertificateSigningUse) {
	m.mu.Lock()
	if m.awaiting == nil || m.ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	m.logger.Infof("CertificateSigned not received in time, retrying SignCertificate (attempt %d)", m.attempt+1)
	metrics.CertificateSigningAttempts.WithLabelValues(string(use), "timeout").Inc()
	m.attempt++
	m.awaiting = nil
	m.signedTimer = nil
	m.mu.Unlock()

	if err := m.RequestSigning(use, false); err != nil {
		m.logger.Warnf("SignCertificate retry failed: %v", err)
		m.reset()
	}
}

func (m *Manager) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
}

func (m *Manager) resetLocked() {
	m.awaiting = nil
	m.attempt = 1
	if m.signedTimer != nil {
		m.signedTimer.Stop()
		m.signedTimer = nil
	}
}

// InFlight 当前等待中的签名用途
func (m *Manager) InFlight() (ocpp201.CertificateSigningUse, int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.awaiting == nil {
		return "", 0, false
	}
	return *m.awaiting, m.attempt, true
}

// HandleCertificateSigned 安装CSMS下发的证书链
func (m *Manager) HandleCertificateSigned(req *ocpp201.CertificateSignedRequest) *ocpp201.CertificateSignedResponse {
	m.reset()

	use := ocpp201.CertificateSigningUseChargingStation
	if req.CertificateType != nil {
		use = *req.CertificateType
	}

	if err := m.store.InstallCertificateChain(use, req.CertificateChain); err != nil {
		m.logger.Warnf("Rejected %s chain: %v", use, err)
		m.securityEvent(ocpp201.SecurityEventInvalidChargingStationCert, err.Error())
		return &ocpp201.CertificateSignedResponse{Status: ocpp201.GenericStatusRejected}
	}
	m.logger.Infof("Installed new %s", use)

	if profile, _ := m.settings.GetInt(devicemodel.SecurityProfile); use == ocpp201.CertificateSigningUseChargingStation && profile == 3 {
		if m.callbacks.OnStationCertificateChanged != nil {
			m.callbacks.OnStationCertificateChanged()
		}
		m.securityEvent(ocpp201.SecurityEventReconfigurationOfSecurityParam, "Changed charging station certificate")
	}
	return &ocpp201.CertificateSignedResponse{Status: ocpp201.GenericStatusAccepted}
}

func (m *Manager) securityEvent(eventType, techInfo string) {
	if m.callbacks.OnSecurityEvent != nil {
		m.callbacks.OnSecurityEvent(eventType, techInfo)
	}
}
