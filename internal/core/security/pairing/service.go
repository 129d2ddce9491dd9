package pairing

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/mydia/go-remoteaccess/internal/core/devicestore"
	"github.com/mydia/go-remoteaccess/internal/core/ratelimit"
	"github.com/mydia/go-remoteaccess/internal/core/token"
	"github.com/mydia/go-remoteaccess/internal/util/logger"
)

var log = logger.Logger("security.pairing")

// deviceTokenSize 设备令牌原始字节数
const deviceTokenSize = 32

// createClaimAttempts 配对码冲突时的重试次数
const createClaimAttempts = 5

// Handshake 一次密钥交换的服务端结果
type Handshake struct {
	ServerPublicKey []byte
	SessionKey      []byte
}

// ClaimRequest 兑换配对码请求
type ClaimRequest struct {
	Code            string
	DeviceName      string
	Platform        string
	StaticPublicKey []byte
}

// PairingResult 配对完成结果
type PairingResult struct {
	DeviceID    string
	MediaToken  string
	DeviceToken string
	Device      *devicestore.Device
}

// ReconnectResult 重连结果
type ReconnectResult struct {
	Handshake
	DeviceID   string
	MediaToken string
	Device     *devicestore.Device
}

// Service 配对服务
type Service struct {
	store   *devicestore.Store
	limiter *ratelimit.Limiter
	tokens  *token.Issuer
	clock   clock.Clock
}

// Option 服务选项
type Option func(*Service)

// WithClock 指定时间源
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		s.clock = c
	}
}

// NewService 创建配对服务
func NewService(store *devicestore.Store, limiter *ratelimit.Limiter, tokens *token.Issuer, opts ...Option) *Service {
	s := &Service{
		store:   store,
		limiter: limiter,
		tokens:  tokens,
		clock:   clock.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateClaim 为用户创建配对码
func (s *Service) CreateClaim(ctx context.Context, userID string) (*devicestore.Claim, error) {
	if userID == "" {
		return nil, ErrInvalidRequest
	}
	for attempt := 0; attempt < createClaimAttempts; attempt++ {
		code, err := GenerateCode()
		if err != nil {
			return nil, err
		}
		now := s.clock.Now().UTC()
		c := &devicestore.Claim{
			Code:      code,
			UserID:    userID,
			CreatedAt: now,
			ExpiresAt: now.Add(ClaimTTL),
		}
		err = s.store.CreateClaim(ctx, c)
		if errors.Is(err, devicestore.ErrClaimExists) {
			continue
		}
		if err != nil {
			return nil, err
		}
		log.Info("创建配对码", "user_id", userID, "expires_at", c.ExpiresAt)
		return c, nil
	}
	return nil, devicestore.ErrClaimExists
}

// StartPairing 首次配对的密钥交换
func (s *Service) StartPairing(clientPub []byte) (*Handshake, error) {
	return s.exchange(clientPub)
}

func (s *Service) exchange(clientPub []byte) (*Handshake, error) {
	if err := ValidatePublicKey(clientPub); err != nil {
		return nil, err
	}
	kp, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	key, err := DeriveSessionKey(kp.Private, clientPub)
	if err != nil {
		return nil, err
	}
	return &Handshake{ServerPublicKey: kp.Public, SessionKey: key}, nil
}

// RedeemClaim 兑换配对码并创建设备
//
// 同一来源 IP 在窗口内的尝试次数受限，成功后清零。
// 配对码在同一事务内校验和消费，重复兑换返回 ErrClaimAlreadyUsed。
func (s *Service) RedeemClaim(ctx context.Context, ip string, req ClaimRequest) (*PairingResult, error) {
	if err := s.limiter.CheckAndRecord(ip); err != nil {
		log.Warn("配对码尝试次数超限", "ip", ip)
		return nil, err
	}

	code, err := NormalizeCode(req.Code)
	if err != nil {
		return nil, err
	}
	if err := ValidatePublicKey(req.StaticPublicKey); err != nil {
		return nil, err
	}
	if req.DeviceName == "" {
		return nil, ErrInvalidRequest
	}
	deviceToken, err := newDeviceToken()
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	d := &devicestore.Device{
		ID:         uuid.NewString(),
		DeviceName: req.DeviceName,
		Platform:   req.Platform,
		PublicKey:  append([]byte(nil), req.StaticPublicKey...),
		TokenHash:  devicestore.HashToken(deviceToken),
		LastSeenAt: now,
		CreatedAt:  now,
	}
	if _, err := s.store.ConsumeClaim(ctx, code, d); err != nil {
		if errors.Is(err, devicestore.ErrDuplicatePublicKey) {
			return nil, ErrDeviceExists
		}
		log.Debug("配对码兑换失败", "ip", ip, "err", err)
		return nil, err
	}
	s.limiter.Reset(ip)

	mediaToken, err := s.tokens.Issue(d)
	if err != nil {
		return nil, fmt.Errorf("pairing: issue media token: %w", err)
	}

	log.Info("设备配对完成", "device_id", d.ID, "user_id", d.UserID, "platform", d.Platform)
	return &PairingResult{
		DeviceID:    d.ID,
		MediaToken:  mediaToken,
		DeviceToken: deviceToken,
		Device:      d,
	}, nil
}

// Reconnect 已配对设备使用设备令牌重连
func (s *Service) Reconnect(ctx context.Context, clientPub []byte, deviceToken string) (*ReconnectResult, error) {
	if deviceToken == "" {
		return nil, ErrDeviceNotFound
	}
	if err := ValidatePublicKey(clientPub); err != nil {
		return nil, err
	}

	d, err := s.store.FindDeviceByToken(ctx, deviceToken)
	if err != nil {
		if errors.Is(err, devicestore.ErrNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}
	if d.Revoked() {
		return nil, ErrDeviceNotFound
	}

	hs, err := s.exchange(clientPub)
	if err != nil {
		return nil, err
	}
	if err := s.store.TouchDevice(ctx, d.ID); err != nil {
		if errors.Is(err, devicestore.ErrNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}
	mediaToken, err := s.tokens.Issue(d)
	if err != nil {
		return nil, fmt.Errorf("pairing: issue media token: %w", err)
	}

	log.Debug("设备重连", "device_id", d.ID)
	return &ReconnectResult{
		Handshake:  *hs,
		DeviceID:   d.ID,
		MediaToken: mediaToken,
		Device:     d,
	}, nil
}

func newDeviceToken() (string, error) {
	buf := make([]byte, deviceTokenSize)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("pairing: generate device token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
