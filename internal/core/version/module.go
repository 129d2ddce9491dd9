package version

import (
	"go.uber.org/fx"

	"github.com/mydia/go-remoteaccess/config"
)

// Params 模块依赖
type Params struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
}

// Module 返回版本协商 Fx 模块
func Module() fx.Option {
	return fx.Module("version",
		fx.Provide(ProvideNegotiator),
	)
}

// ProvideNegotiator 按配置创建协商器
func ProvideNegotiator(p Params) *Negotiator {
	cfg := config.DefaultVersionsConfig()
	var updateURL string
	if p.UnifiedCfg != nil {
		cfg = p.UnifiedCfg.Versions
		updateURL = p.UnifiedCfg.RemoteAccess.UpdateURL
	}
	return NewNegotiator(map[string][]string{
		LayerEncryption: cfg.Encryption,
		LayerPairing:    cfg.Pairing,
		LayerAPI:        cfg.API,
	}, WithUpdateURL(updateURL))
}
