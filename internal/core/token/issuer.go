package token

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/benbjohnson/clock"
	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"
	"golang.org/x/crypto/hkdf"

	"github.com/mydia/go-remoteaccess/internal/core/devicestore"
	"github.com/mydia/go-remoteaccess/internal/util/logger"
)

var log = logger.Logger("token")

// DefaultTTL 默认有效期
const DefaultTTL = 24 * time.Hour

// DefaultPermissions 默认权限
var DefaultPermissions = []string{"read", "stream"}

// Claims 媒体令牌自定义载荷
type Claims struct {
	DeviceID    string   `json:"device_id"`
	UserID      string   `json:"user_id"`
	Permissions []string `json:"permissions"`
}

// Has 是否包含指定权限
func (c *Claims) Has(permission string) bool {
	for _, p := range c.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// DeviceResolver 按 ID 查找设备
//
// 已吊销的设备应返回错误。
type DeviceResolver interface {
	GetDevice(ctx context.Context, id string) (*devicestore.Device, error)
}

// Config 签发参数
type Config struct {
	Key         []byte
	Issuer      string
	TTL         time.Duration
	Permissions []string
}

// Issuer 媒体令牌签发器
type Issuer struct {
	key         []byte
	issuer      string
	ttl         time.Duration
	permissions []string

	devices DeviceResolver
	clock   clock.Clock
}

// Option 签发器选项
type Option func(*Issuer)

// WithClock 指定时间源
func WithClock(c clock.Clock) Option {
	return func(i *Issuer) {
		i.clock = c
	}
}

// NewIssuer 创建签发器
func NewIssuer(cfg Config, devices DeviceResolver, opts ...Option) (*Issuer, error) {
	if len(cfg.Key) < 32 {
		return nil, ErrShortKey
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if len(cfg.Permissions) == 0 {
		cfg.Permissions = DefaultPermissions
	}
	i := &Issuer{
		key:         cfg.Key,
		issuer:      cfg.Issuer,
		ttl:         cfg.TTL,
		permissions: append([]string(nil), cfg.Permissions...),
		devices:     devices,
		clock:       clock.New(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// DeriveKey 从主密钥派生签名密钥
func DeriveKey(secret []byte) ([]byte, error) {
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, secret, nil, []byte("mydia-media-token"))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// RandomKey 生成随机签名密钥
func RandomKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// Issue 为设备签发媒体令牌
func (i *Issuer) Issue(d *devicestore.Device) (string, error) {
	signer, err := gojose.NewSigner(
		gojose.SigningKey{Algorithm: gojose.HS256, Key: i.key},
		(&gojose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("new signer: %w", err)
	}

	now := i.clock.Now().UTC()
	std := gojwt.Claims{
		Subject:  d.ID,
		Issuer:   i.issuer,
		IssuedAt: gojwt.NewNumericDate(now),
		Expiry:   gojwt.NewNumericDate(now.Add(i.ttl)),
	}
	custom := Claims{
		DeviceID:    d.ID,
		UserID:      d.UserID,
		Permissions: i.permissions,
	}

	raw, err := gojwt.Signed(signer).Claims(std).Claims(custom).Serialize()
	if err != nil {
		return "", fmt.Errorf("serialize jwt: %w", err)
	}
	return raw, nil
}

// Parse 校验签名与有效期，不回查设备
func (i *Issuer) Parse(raw string) (*Claims, error) {
	parsed, err := gojwt.ParseSigned(raw, []gojose.SignatureAlgorithm{gojose.HS256})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	var std gojwt.Claims
	var custom Claims
	if err := parsed.Claims(i.key, &std, &custom); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	err = std.ValidateWithLeeway(gojwt.Expected{
		Issuer: i.issuer,
		Time:   i.clock.Now(),
	}, 0)
	if err != nil {
		if errors.Is(err, gojwt.ErrExpired) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if custom.DeviceID == "" {
		return nil, ErrInvalidToken
	}
	return &custom, nil
}

// Verify 校验令牌并解析出设备
//
// 设备不存在与已吊销返回同一个错误。
func (i *Issuer) Verify(ctx context.Context, raw string) (*devicestore.Device, *Claims, error) {
	claims, err := i.Parse(raw)
	if err != nil {
		return nil, nil, err
	}
	d, err := i.devices.GetDevice(ctx, claims.DeviceID)
	if err != nil || d.Revoked() {
		log.Debug("令牌对应设备不可用", "device_id", claims.DeviceID)
		return nil, nil, ErrDeviceRevoked
	}
	return d, claims, nil
}
