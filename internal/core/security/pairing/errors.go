package pairing

import (
	"errors"

	"github.com/mydia/go-remoteaccess/internal/core/devicestore"
	"github.com/mydia/go-remoteaccess/internal/core/ratelimit"
)

var (
	// ErrInvalidPublicKey 公钥长度错误或为低阶点
	ErrInvalidPublicKey = errors.New("pairing: invalid public key")

	// ErrInvalidCode 配对码格式错误
	ErrInvalidCode = errors.New("pairing: invalid claim code")

	// ErrInvalidRequest 兑换请求字段缺失
	ErrInvalidRequest = errors.New("pairing: invalid claim request")

	// ErrDeviceNotFound 设备不存在或已吊销
	ErrDeviceNotFound = errors.New("pairing: device not found")

	// ErrDeviceExists 静态公钥已配对过设备
	ErrDeviceExists = errors.New("pairing: device already paired")
)

// 配对码校验错误沿用存储层定义，便于 errors.Is 判断
var (
	ErrClaimNotFound    = devicestore.ErrClaimNotFound
	ErrClaimAlreadyUsed = devicestore.ErrClaimAlreadyUsed
	ErrClaimExpired     = devicestore.ErrClaimExpired
	ErrRateLimited      = ratelimit.ErrRateLimited
)

// ClaimErrorCode 返回配对码错误对外的错误码
//
// 返回 not_found / already_used / expired / rate_limited，其他错误返回空串。
func ClaimErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrClaimNotFound), errors.Is(err, ErrInvalidCode):
		return "not_found"
	case errors.Is(err, ErrClaimAlreadyUsed):
		return "already_used"
	case errors.Is(err, ErrClaimExpired):
		return "expired"
	}
	return ""
}
