package token

import (
	"go.uber.org/fx"

	"github.com/mydia/go-remoteaccess/config"
	"github.com/mydia/go-remoteaccess/internal/core/devicestore"
)

// Params 模块依赖
type Params struct {
	fx.In

	Store      *devicestore.Store
	UnifiedCfg *config.Config `optional:"true"`
}

// Module 返回令牌 Fx 模块
func Module() fx.Option {
	return fx.Module("token",
		fx.Provide(ProvideIssuer),
	)
}

// ProvideIssuer 按配置创建签发器
//
// 签名密钥优先取 token.signing_key，其次从 secret_key_base 派生；
// 都未配置时使用进程内随机密钥，重启后已签发令牌全部失效。
func ProvideIssuer(p Params) (*Issuer, error) {
	cfg := config.DefaultTokenConfig()
	var secret string
	if p.UnifiedCfg != nil {
		cfg = p.UnifiedCfg.Token
		secret = p.UnifiedCfg.RemoteAccess.SecretKeyBase
	}

	var (
		key []byte
		err error
	)
	switch {
	case len(cfg.SigningKey) >= 32:
		key = []byte(cfg.SigningKey)
	case cfg.SigningKey != "":
		key, err = DeriveKey([]byte(cfg.SigningKey))
	case secret != "":
		key, err = DeriveKey([]byte(secret))
	default:
		log.Warn("未配置签名密钥，使用随机密钥")
		key, err = RandomKey()
	}
	if err != nil {
		return nil, err
	}

	return NewIssuer(Config{
		Key:         key,
		Issuer:      cfg.Issuer,
		TTL:         cfg.TTL.Duration(),
		Permissions: cfg.Permissions,
	}, p.Store)
}
