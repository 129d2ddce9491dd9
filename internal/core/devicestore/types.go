package devicestore

import (
	"time"
)

// Device 已配对的客户端设备
type Device struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	DeviceName string     `json:"device_name"`
	Platform   string     `json:"platform"`
	PublicKey  []byte     `json:"public_key"`
	TokenHash  string     `json:"token_hash"`
	LastSeenAt time.Time  `json:"last_seen_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Revoked 设备是否已吊销
func (d *Device) Revoked() bool {
	return d.RevokedAt != nil
}

// Claim 一次性配对码
type Claim struct {
	Code      string     `json:"code"`
	UserID    string     `json:"user_id"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	DeviceID  string     `json:"device_id,omitempty"`
}

// Check 校验配对码在 now 时刻是否可用
//
// 已使用优先于已过期报告。
func (c *Claim) Check(now time.Time) error {
	if c.UsedAt != nil {
		return ErrClaimAlreadyUsed
	}
	if !now.Before(c.ExpiresAt) {
		return ErrClaimExpired
	}
	return nil
}

// Instance 本实例的身份
type Instance struct {
	InstanceID      string    `json:"instance_id"`
	PublicKey       []byte    `json:"public_key"`
	PrivateKey      []byte    `json:"-"`
	DirectURLs      []string  `json:"direct_urls,omitempty"`
	CertFingerprint string    `json:"cert_fingerprint,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// storedInstance 落盘形式，私钥加密
type storedInstance struct {
	Instance
	SealedPrivateKey []byte `json:"sealed_private_key"`
}
