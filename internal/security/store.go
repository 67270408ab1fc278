package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charging-platform/charging-station-controller/internal/config"
	"github.com/charging-platform/charging-station-controller/internal/domain/ocpp201"
	"github.com/charging-platform/charging-station-controller/internal/logger"
)

var (
	ErrNoCertificate      = errors.New("no certificate installed")
	ErrNoPendingKey       = errors.New("no pending key for certificate use")
	ErrKeyMismatch        = errors.New("certificate does not match the pending key")
	ErrInvalidCertificate = errors.New("invalid certificate")
)

// ContractVerification 合约证书链本地校验结果
type ContractVerification int

const (
	ContractValid ContractVerification = iota
	ContractExpired
	ContractIssuerNotFound
	ContractInvalid
)

func (v ContractVerification) String() string {
	switch v {
	case ContractValid:
		return "Valid"
	case ContractExpired:
		return "Expired"
	case ContractIssuerNotFound:
		return "IssuerNotFound"
	default:
		return "Invalid"
	}
}

// maxOCSPEntries 单次授权请求最多携带的OCSP数据条数
const maxOCSPEntries = 4

// Store 基于PEM文件的证书存储
type Store struct {
	dir           string
	csmsRoots     *x509.CertPool
	contractRoots *x509.CertPool

	mu          sync.Mutex
	pendingKeys map[ocpp201.CertificateSigningUse]*ecdsa.PrivateKey

	now    func() time.Time
	logger *logger.Logger
}

// NewStore 创建证书存储，根证书文件为可选
func NewStore(cfg config.SecurityConfig, log *logger.Logger) (*Store, error) {
	if cfg.CertDir == "" {
		return nil, fmt.Errorf("security.cert_dir is required")
	}
	if err := os.MkdirAll(cfg.CertDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create certificate directory: %w", err)
	}
	if log == nil {
		log = logger.Global()
	}

	s := &Store{
		dir:         cfg.CertDir,
		pendingKeys: make(map[ocpp201.CertificateSigningUse]*ecdsa.PrivateKey),
		now:         time.Now,
		logger:      log.WithComponent("certstore"),
	}

	var err error
	if s.csmsRoots, err = loadPool(cfg.CSMSRootCAFile); err != nil {
		return nil, err
	}
	if s.contractRoots, err = loadPool(cfg.ContractRootFile); err != nil {
		return nil, err
	}
	return s, nil
}

func loadPool(path string) (*x509.CertPool, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read root certificates %s: %w", path, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}

func (s *Store) chainPath(use ocpp201.CertificateSigningUse) string {
	return filepath.Join(s.dir, string(use)+".pem")
}

func (s *Store) keyPath(use ocpp201.CertificateSigningUse) string {
	return filepath.Join(s.dir, string(use)+".key")
}

// GenerateCSR 生成新密钥并返回PEM格式的证书签名请求
func (s *Store) GenerateCSR(use ocpp201.CertificateSigningUse, country, organization, commonName string) (string, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}

	subject := pkix.Name{CommonName: commonName}
	if country != "" {
		subject.Country = []string{country}
	}
	if organization != "" {
		subject.Organization = []string{organization}
	}

	der, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject:            subject,
		SignatureAlgorithm: x509.ECDSAWithSHA256,
	}, key)
	if err != nil {
		return "", fmt.Errorf("failed to create CSR: %w", err)
	}

	s.mu.Lock()
	s.pendingKeys[use] = key
	s.mu.Unlock()

	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der})), nil
}

// InstallCertificateChain 校验并安装与待定密钥匹配的证书链
func (s *Store) InstallCertificateChain(use ocpp201.CertificateSigningUse, chainPEM string) error {
	certs, err := parseChain(chainPEM)
	if err != nil {
		return err
	}
	leaf := certs[0]

	now := s.now()
	if now.Before(leaf.NotBefore) || now.After(leaf.NotAfter) {
		return fmt.Errorf("%w: outside validity period", ErrInvalidCertificate)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.pendingKeys[use]
	if !ok {
		return ErrNoPendingKey
	}
	pub, ok := leaf.PublicKey.(*ecdsa.PublicKey)
	if !ok || !pub.Equal(key.Public()) {
		return ErrKeyMismatch
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return fmt.Errorf("failed to encode key: %w", err)
	}
	if err := os.WriteFile(s.keyPath(use), pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}), 0600); err != nil {
		return fmt.Errorf("failed to write key: %w", err)
	}
	if err := os.WriteFile(s.chainPath(use), []byte(chainPEM), 0644); err != nil {
		return fmt.Errorf("failed to write certificate chain: %w", err)
	}
	delete(s.pendingKeys, use)

	s.logger.Infof("Installed %s valid until %s", use, leaf.NotAfter.Format(time.RFC3339))
	return nil
}

// DaysToExpiry 返回已安装证书剩余有效天数
func (s *Store) DaysToExpiry(use ocpp201.CertificateSigningUse) (int, error) {
	data, err := os.ReadFile(s.chainPath(use))
	if errors.Is(err, os.ErrNotExist) {
		return 0, ErrNoCertificate
	}
	if err != nil {
		return 0, err
	}
	certs, err := parseChain(string(data))
	if err != nil {
		return 0, err
	}
	remaining := certs[0].NotAfter.Sub(s.now())
	return int(math.Floor(remaining.Hours() / 24)), nil
}

// VerifyContractChain 使用本地合约根证书校验证书链
func (s *Store) VerifyContractChain(chainPEM string) ContractVerification {
	certs, err := parseChain(chainPEM)
	if err != nil {
		return ContractInvalid
	}
	if s.contractRoots == nil {
		return ContractIssuerNotFound
	}

	intermediates := x509.NewCertPool()
	for _, cert := range certs[1:] {
		intermediates.AddCert(cert)
	}
	_, err = certs[0].Verify(x509.VerifyOptions{
		Roots:         s.contractRoots,
		Intermediates: intermediates,
		CurrentTime:   s.now(),
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err == nil {
		return ContractValid
	}

	var invalid x509.CertificateInvalidError
	if errors.As(err, &invalid) && invalid.Reason == x509.Expired {
		return ContractExpired
	}
	var unknown x509.UnknownAuthorityError
	if errors.As(err, &unknown) {
		return ContractIssuerNotFound
	}
	s.logger.Debugf("Contract chain rejected: %v", err)
	return ContractInvalid
}

// OCSPRequestData 为证书链中带OCSP地址的证书生成请求数据
func (s *Store) OCSPRequestData(chainPEM string) ([]ocpp201.OCSPRequestData, error) {
	certs, err := parseChain(chainPEM)
	if err != nil {
		return nil, err
	}

	var data []ocpp201.OCSPRequestData
	for i, cert := range certs {
		if len(cert.OCSPServer) == 0 || i+1 >= len(certs) {
			continue
		}
		issuer := certs[i+1]
		keyHash, err := issuerKeyHash(issuer)
		if err != nil {
			return nil, err
		}
		nameHash := sha256.Sum256(issuer.RawSubject)
		data = append(data, ocpp201.OCSPRequestData{
			HashAlgorithm:  "SHA256",
			IssuerNameHash: hex.EncodeToString(nameHash[:]),
			IssuerKeyHash:  keyHash,
			SerialNumber:   strings.ToLower(cert.SerialNumber.Text(16)),
			ResponderURL:   cert.OCSPServer[0],
		})
		if len(data) == maxOCSPEntries {
			break
		}
	}
	return data, nil
}

// TLSConfig 按安全等级构造CSMS连接的TLS配置
func (s *Store) TLSConfig(securityProfile int) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if s.csmsRoots != nil {
		cfg.RootCAs = s.csmsRoots
	}
	if securityProfile < 3 {
		return cfg, nil
	}

	use := ocpp201.CertificateSigningUseChargingStation
	if _, err := tls.LoadX509KeyPair(s.chainPath(use), s.keyPath(use)); err != nil {
		return nil, fmt.Errorf("security profile 3 requires a station certificate: %w", err)
	}
	// 每次握手重新读取，证书轮换后重连即可生效
	cfg.GetClientCertificate = func(*tls.CertificateRequestInfo) (*tls.Certificate, error) {
		cert, err := tls.LoadX509KeyPair(s.chainPath(use), s.keyPath(use))
		if err != nil {
			return nil, err
		}
		return &cert, nil
	}
	return cfg, nil
}

// Signer 返回已安装证书的私钥
func (s *Store) Signer(use ocpp201.CertificateSigningUse) (crypto.Signer, error) {
	data, err := os.ReadFile(s.keyPath(use))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoCertificate
	}
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: malformed key file", ErrInvalidCertificate)
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported key type", ErrInvalidCertificate)
	}
	return signer, nil
}

func parseChain(chainPEM string) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	rest := []byte(chainPEM)
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("%w: no certificates in chain", ErrInvalidCertificate)
	}
	return certs, nil
}

// issuerKeyHash 对颁发者公钥位串做SHA256
func issuerKeyHash(issuer *x509.Certificate) (string, error) {
	var spki struct {
		Algorithm pkix.AlgorithmIdentifier
		PublicKey asn1.BitString
	}
	if _, err := asn1.Unmarshal(issuer.RawSubjectPublicKeyInfo, &spki); err != nil {
		return "", fmt.Errorf("failed to parse issuer public key: %w", err)
	}
	sum := sha256.Sum256(spki.PublicKey.Bytes)
	return hex.EncodeToString(sum[:]), nil
}
