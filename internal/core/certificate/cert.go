package certificate

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/mydia/go-remoteaccess/internal/util/logger"
)

var log = logger.Logger("certificate")

const (
	// CertFile 证书文件名
	CertFile = "cert.pem"
	// KeyFile 私钥文件名
	KeyFile = "key.pem"

	// DefaultValidity 默认有效期
	DefaultValidity = 365 * 24 * time.Hour

	// renewBefore 剩余有效期不足时重新生成
	renewBefore = 7 * 24 * time.Hour
)

var (
	// ErrNoCertificate PEM 文件中没有证书块
	ErrNoCertificate = errors.New("certificate: no CERTIFICATE block")

	// ErrEmptyDir 未指定证书目录
	ErrEmptyDir = errors.New("certificate: directory not set")
)

type options struct {
	hosts    []string
	validity time.Duration
	clock    clock.Clock
}

// Option 证书生成选项
type Option func(*options)

// WithHosts 证书的 SAN（IP 或域名）
func WithHosts(hosts ...string) Option {
	return func(o *options) {
		o.hosts = append(o.hosts, hosts...)
	}
}

// WithValidity 证书有效期
func WithValidity(d time.Duration) Option {
	return func(o *options) {
		o.validity = d
	}
}

// WithClock 指定时间源
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// EnsureCertificate 确保 dir 中存在有效的自签名证书
//
// 证书不存在、无法解析或即将过期时重新生成 ECDSA P-256 密钥与证书。
// 返回证书路径、私钥路径和证书指纹。
func EnsureCertificate(dir string, opts ...Option) (certPath, keyPath, fingerprint string, err error) {
	if dir == "" {
		return "", "", "", ErrEmptyDir
	}
	o := options{validity: DefaultValidity, clock: clock.New()}
	for _, opt := range opts {
		opt(&o)
	}

	certPath = filepath.Join(dir, CertFile)
	keyPath = filepath.Join(dir, KeyFile)

	if leaf, err := loadPair(certPath, keyPath); err == nil {
		if o.clock.Now().Add(renewBefore).Before(leaf.NotAfter) {
			return certPath, keyPath, FingerprintDER(leaf.Raw), nil
		}
		log.Info("证书即将过期，重新生成", "not_after", leaf.NotAfter)
	} else if !errors.Is(err, os.ErrNotExist) {
		log.Warn("现有证书不可用，重新生成", "err", err)
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", "", "", fmt.Errorf("create cert dir: %w", err)
	}
	der, err := generate(certPath, keyPath, o)
	if err != nil {
		return "", "", "", err
	}
	fingerprint = FingerprintDER(der)
	log.Info("已生成自签名证书", "path", certPath, "fingerprint", fingerprint)
	return certPath, keyPath, fingerprint, nil
}

// ComputeFingerprint 计算 PEM 证书文件的 SHA-256 指纹
func ComputeFingerprint(path string) (string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // 证书路径来自配置
	if err != nil {
		return "", fmt.Errorf("read certificate: %w", err)
	}
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return "", ErrNoCertificate
		}
		if block.Type == "CERTIFICATE" {
			return FingerprintDER(block.Bytes), nil
		}
	}
}

// FingerprintDER 计算 DER 证书的指纹
func FingerprintDER(der []byte) string {
	sum := sha256.Sum256(der)
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = strings.ToUpper(hex.EncodeToString([]byte{b}))
	}
	return strings.Join(parts, ":")
}

func loadPair(certPath, keyPath string) (*x509.Certificate, error) {
	pair, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, err
	}
	if len(pair.Certificate) == 0 {
		return nil, ErrNoCertificate
	}
	return x509.ParseCertificate(pair.Certificate[0])
}

func generate(certPath, keyPath string, o options) ([]byte, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}

	now := o.clock.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"Mydia"},
			CommonName:   "Mydia Remote Access",
		},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(o.validity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	for _, h := range append([]string{"localhost", "127.0.0.1"}, o.hosts...) {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else if h != "" {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal key: %w", err)
	}

	if err := writePEM(keyPath, "PRIVATE KEY", keyDER, 0o600); err != nil {
		return nil, err
	}
	if err := writePEM(certPath, "CERTIFICATE", der, 0o644); err != nil {
		return nil, err
	}
	return der, nil
}

// writePEM 先写临时文件再重命名
func writePEM(path, typ string, der []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	data := pem.EncodeToMemory(&pem.Block{Type: typ, Bytes: der})
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}
