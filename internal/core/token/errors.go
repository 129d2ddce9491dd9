package token

import "errors"

var (
	// ErrInvalidToken 令牌格式或签名无效
	ErrInvalidToken = errors.New("token: invalid token")

	// ErrExpired 令牌已过期
	ErrExpired = errors.New("token: expired")

	// ErrDeviceRevoked 令牌对应的设备不存在或已吊销
	ErrDeviceRevoked = errors.New("token: device not found or revoked")

	// ErrShortKey 签名密钥过短
	ErrShortKey = errors.New("token: signing key must be at least 32 bytes")
)
