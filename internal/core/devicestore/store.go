package devicestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/mydia/go-remoteaccess/internal/core/storage/engine"
	"github.com/mydia/go-remoteaccess/internal/core/storage/kv"
	"github.com/mydia/go-remoteaccess/internal/util/logger"
)

var log = logger.Logger("devicestore")

// maxConflictRetries 事务冲突时的重试次数
const maxConflictRetries = 3

// Store 设备、配对码和实例身份的持久化存储
type Store struct {
	root     *kv.Store
	devices  *kv.Store
	tokens   *kv.Store
	pubkeys  *kv.Store
	claims   *kv.Store
	instance *kv.Store

	clock  clock.Clock
	secret []byte
}

// Option 存储选项
type Option func(*Store)

// WithClock 指定时间源
func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		s.clock = c
	}
}

// WithSecret 指定实例私钥加密使用的主密钥
func WithSecret(secret []byte) Option {
	return func(s *Store) {
		s.secret = secret
	}
}

// New 在存储引擎之上创建 Store
func New(eng engine.Engine, opts ...Option) *Store {
	root := kv.New(eng, nil)
	s := &Store{
		root:     root,
		devices:  root.SubStore([]byte("dev/")),
		tokens:   root.SubStore([]byte("dtok/")),
		pubkeys:  root.SubStore([]byte("dpk/")),
		claims:   root.SubStore([]byte("claim/")),
		instance: root.SubStore([]byte("inst/")),
		clock:    clock.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now 返回存储使用的当前时间
func (s *Store) Now() time.Time {
	return s.clock.Now().UTC()
}

// HashToken 计算设备令牌的存储哈希（SHA-256 十六进制）
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func pubKeyIndex(pub []byte) []byte {
	return []byte(hex.EncodeToString(pub))
}

// update 执行读写事务，冲突时重试
func (s *Store) update(ctx context.Context, fn func(tx *kv.Tx) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if err = ctx.Err(); err != nil {
			return err
		}
		err = s.root.Update(fn)
		if !engine.IsConflict(err) {
			return err
		}
		log.Debug("事务冲突，重试", "attempt", attempt+1)
	}
	return err
}

// ============= 设备 =============

// CreateDevice 创建设备
//
// ID 为空时自动分配 UUID；静态公钥必须唯一。
func (s *Store) CreateDevice(ctx context.Context, d *Device) error {
	return s.update(ctx, func(tx *kv.Tx) error {
		return s.putNewDevice(tx, d)
	})
}

func (s *Store) putNewDevice(tx *kv.Tx, d *Device) error {
	if d.UserID == "" || len(d.PublicKey) == 0 || d.TokenHash == "" {
		return ErrInvalidDevice
	}

	pubTx := tx.In(s.pubkeys)
	if _, err := pubTx.Get(pubKeyIndex(d.PublicKey)); err == nil {
		return ErrDuplicatePublicKey
	} else if !engine.IsNotFound(err) {
		return err
	}

	now := s.Now()
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.LastSeenAt = now

	if err := tx.In(s.devices).SetJSON([]byte(d.ID), d); err != nil {
		return err
	}
	if err := tx.In(s.tokens).Set([]byte(d.TokenHash), []byte(d.ID)); err != nil {
		return err
	}
	return pubTx.Set(pubKeyIndex(d.PublicKey), []byte(d.ID))
}

// GetDevice 按 ID 获取设备，已吊销视为不存在
func (s *Store) GetDevice(ctx context.Context, id string) (*Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var d Device
	if err := s.devices.GetJSON([]byte(id), &d); err != nil {
		if engine.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if d.Revoked() {
		return nil, ErrNotFound
	}
	return &d, nil
}

// FindDeviceByToken 按设备令牌查找设备
func (s *Store) FindDeviceByToken(ctx context.Context, token string) (*Device, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	return s.findByIndex(ctx, s.tokens, []byte(HashToken(token)))
}

// FindDeviceByPublicKey 按静态公钥查找设备
func (s *Store) FindDeviceByPublicKey(ctx context.Context, pub []byte) (*Device, error) {
	if len(pub) == 0 {
		return nil, ErrNotFound
	}
	return s.findByIndex(ctx, s.pubkeys, pubKeyIndex(pub))
}

func (s *Store) findByIndex(ctx context.Context, index *kv.Store, key []byte) (*Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id, err := index.Get(key)
	if err != nil {
		if engine.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s.GetDevice(ctx, string(id))
}

// TouchDevice 更新设备最后在线时间
func (s *Store) TouchDevice(ctx context.Context, id string) error {
	return s.update(ctx, func(tx *kv.Tx) error {
		devTx := tx.In(s.devices)
		var d Device
		if err := devTx.GetJSON([]byte(id), &d); err != nil {
			if engine.IsNotFound(err) {
				return ErrNotFound
			}
			return err
		}
		if d.Revoked() {
			return ErrNotFound
		}
		d.LastSeenAt = s.Now()
		return devTx.SetJSON([]byte(id), &d)
	})
}

// RevokeDevice 吊销设备
//
// 同时删除令牌索引和公钥索引，同一把静态公钥之后可以重新配对。
func (s *Store) RevokeDevice(ctx context.Context, id string) error {
	err := s.update(ctx, func(tx *kv.Tx) error {
		devTx := tx.In(s.devices)
		var d Device
		if err := devTx.GetJSON([]byte(id), &d); err != nil {
			if engine.IsNotFound(err) {
				return ErrNotFound
			}
			return err
		}
		if d.Revoked() {
			return ErrNotFound
		}
		now := s.Now()
		d.RevokedAt = &now
		if err := devTx.SetJSON([]byte(id), &d); err != nil {
			return err
		}
		if err := tx.In(s.tokens).Delete([]byte(d.TokenHash)); err != nil {
			return err
		}
		return tx.In(s.pubkeys).Delete(pubKeyIndex(d.PublicKey))
	})
	if err == nil {
		log.Info("设备已吊销", "device", id)
	}
	return err
}

// ListDevices 列出设备，按创建时间排序
func (s *Store) ListDevices(ctx context.Context, includeRevoked bool) ([]*Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		out     []*Device
		scanErr error
	)
	err := s.devices.PrefixScan(nil, func(_, value []byte) bool {
		var d Device
		if scanErr = json.Unmarshal(value, &d); scanErr != nil {
			return false
		}
		if includeRevoked || !d.Revoked() {
			out = append(out, &d)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if scanErr != nil {
		return nil, fmt.Errorf("decode device: %w", scanErr)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// ============= 配对码 =============

// CreateClaim 保存新配对码
func (s *Store) CreateClaim(ctx context.Context, c *Claim) error {
	return s.update(ctx, func(tx *kv.Tx) error {
		claimTx := tx.In(s.claims)
		if _, err := claimTx.Get([]byte(c.Code)); err == nil {
			return ErrClaimExists
		} else if !engine.IsNotFound(err) {
			return err
		}
		return claimTx.SetJSON([]byte(c.Code), c)
	})
}

// GetClaim 获取配对码
func (s *Store) GetClaim(ctx context.Context, code string) (*Claim, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var c Claim
	if err := s.claims.GetJSON([]byte(code), &c); err != nil {
		if engine.IsNotFound(err) {
			return nil, ErrClaimNotFound
		}
		return nil, err
	}
	return &c, nil
}

// ConsumeClaim 校验并消费配对码，同时创建设备
//
// 整个过程在一个事务中完成：并发兑换同一个配对码时
// 只有一个调用成功，其余返回 ErrClaimAlreadyUsed。
// 设备的 UserID 取自配对码。
func (s *Store) ConsumeClaim(ctx context.Context, code string, d *Device) (*Claim, error) {
	var consumed Claim
	err := s.update(ctx, func(tx *kv.Tx) error {
		claimTx := tx.In(s.claims)
		var c Claim
		if err := claimTx.GetJSON([]byte(code), &c); err != nil {
			if engine.IsNotFound(err) {
				return ErrClaimNotFound
			}
			return err
		}
		now := s.Now()
		if err := c.Check(now); err != nil {
			return err
		}

		d.UserID = c.UserID
		if err := s.putNewDevice(tx, d); err != nil {
			return err
		}

		c.UsedAt = &now
		c.DeviceID = d.ID
		if err := claimTx.SetJSON([]byte(code), &c); err != nil {
			return err
		}
		consumed = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &consumed, nil
}

// SweepClaims 删除过期超过 retain 的配对码，返回删除数量
func (s *Store) SweepClaims(ctx context.Context, retain time.Duration) (int, error) {
	cutoff := s.Now().Add(-retain)
	var stale [][]byte
	err := s.claims.PrefixScan(nil, func(key, value []byte) bool {
		var c Claim
		if json.Unmarshal(value, &c) == nil && c.ExpiresAt.Before(cutoff) {
			stale = append(stale, append([]byte(nil), key...))
		}
		return true
	})
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}
	err = s.update(ctx, func(tx *kv.Tx) error {
		claimTx := tx.In(s.claims)
		for _, key := range stale {
			if err := claimTx.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(stale), nil
}

// IsClaimError 是否为配对码校验类错误
func IsClaimError(err error) bool {
	return errors.Is(err, ErrClaimNotFound) ||
		errors.Is(err, ErrClaimAlreadyUsed) ||
		errors.Is(err, ErrClaimExpired)
}
