package devicestore

import (
	"errors"
)

var (
	// ErrNotFound 设备不存在或已吊销
	ErrNotFound = errors.New("devicestore: device not found")

	// ErrDuplicatePublicKey 静态公钥已被其他设备使用
	ErrDuplicatePublicKey = errors.New("devicestore: public key already registered")

	// ErrInvalidDevice 设备字段不完整
	ErrInvalidDevice = errors.New("devicestore: invalid device")

	// ErrClaimNotFound 配对码不存在
	ErrClaimNotFound = errors.New("devicestore: claim not found")

	// ErrClaimAlreadyUsed 配对码已被使用
	ErrClaimAlreadyUsed = errors.New("devicestore: claim already used")

	// ErrClaimExpired 配对码已过期
	ErrClaimExpired = errors.New("devicestore: claim expired")

	// ErrClaimExists 配对码冲突
	ErrClaimExists = errors.New("devicestore: claim code already exists")

	// ErrInstanceNotFound 实例身份尚未初始化
	ErrInstanceNotFound = errors.New("devicestore: instance not initialized")

	// ErrNoSecret 未配置主密钥，无法加解密实例私钥
	ErrNoSecret = errors.New("devicestore: secret key base not configured")

	// ErrSealedKey 实例私钥解密失败（主密钥不匹配或数据损坏）
	ErrSealedKey = errors.New("devicestore: cannot unseal instance private key")
)
