package remoteaccess

import (
	"context"
	"errors"

	"github.com/mydia/go-remoteaccess/internal/core/devicestore"
	"github.com/mydia/go-remoteaccess/internal/core/executor"
	"github.com/mydia/go-remoteaccess/internal/core/nat/stun"
	"github.com/mydia/go-remoteaccess/internal/core/ratelimit"
	"github.com/mydia/go-remoteaccess/internal/core/relay"
	"github.com/mydia/go-remoteaccess/internal/core/security/msgcrypt"
	"github.com/mydia/go-remoteaccess/internal/core/security/pairing"
	"github.com/mydia/go-remoteaccess/internal/core/token"
	"github.com/mydia/go-remoteaccess/internal/core/version"
)

// 错误分类
var (
	// ────────────────────────────────────────────────────────────────────────
	// 启动与配置
	// ────────────────────────────────────────────────────────────────────────

	// ErrConfiguration 远程访问未启用或配置不完整
	ErrConfiguration = errors.New("remote access configuration error")

	// ────────────────────────────────────────────────────────────────────────
	// 会话与配对
	// ────────────────────────────────────────────────────────────────────────

	// ErrHandshake 密钥交换或消息解密失败
	ErrHandshake = errors.New("handshake failed")

	// ErrDevice 设备不存在、已吊销或已配对
	ErrDevice = errors.New("device error")

	// ErrClaim 配对码无效、已使用或已过期
	ErrClaim = errors.New("claim error")

	// ErrRateLimited 配对尝试过于频繁
	ErrRateLimited = errors.New("rate limited")

	// ErrProtocolVersion 协议版本不兼容
	ErrProtocolVersion = errors.New("incompatible protocol version")

	// ────────────────────────────────────────────────────────────────────────
	// 网络
	// ────────────────────────────────────────────────────────────────────────

	// ErrTimeout 操作超时
	ErrTimeout = errors.New("timeout")

	// ErrNetwork 中继或 STUN 网络错误
	ErrNetwork = errors.New("network error")
)

var categories = []struct {
	category error
	members  []error
}{
	{ErrRateLimited, []error{ratelimit.ErrRateLimited}},
	{ErrConfiguration, []error{
		relay.ErrConfiguration,
		devicestore.ErrNoSecret,
		devicestore.ErrSealedKey,
		token.ErrShortKey,
	}},
	{ErrClaim, []error{
		devicestore.ErrClaimNotFound,
		devicestore.ErrClaimAlreadyUsed,
		devicestore.ErrClaimExpired,
		pairing.ErrInvalidCode,
	}},
	{ErrDevice, []error{
		pairing.ErrDeviceNotFound,
		pairing.ErrDeviceExists,
		devicestore.ErrNotFound,
		devicestore.ErrDuplicatePublicKey,
		token.ErrDeviceRevoked,
	}},
	{ErrHandshake, []error{
		pairing.ErrInvalidPublicKey,
		msgcrypt.ErrDecrypt,
		msgcrypt.ErrShortMessage,
		msgcrypt.ErrInvalidKey,
	}},
	{ErrProtocolVersion, []error{version.ErrIncompatible, version.ErrUnknownLayer}},
	{ErrTimeout, []error{executor.ErrTimeout, context.DeadlineExceeded}},
	{ErrNetwork, []error{
		relay.ErrNotConnected,
		relay.ErrDeadPeer,
		stun.ErrAllServersFailed,
		stun.ErrNoResponse,
	}},
}

// Category 返回 err 所属的错误分类，无法归类时返回 nil
//
// 已经是分类错误的 err 原样归类。
func Category(err error) error {
	if err == nil {
		return nil
	}
	for _, c := range categories {
		if errors.Is(err, c.category) {
			return c.category
		}
		for _, m := range c.members {
			if errors.Is(err, m) {
				return c.category
			}
		}
	}
	return nil
}
