package localapi

import (
	"go.uber.org/fx"

	"github.com/mydia/go-remoteaccess/config"
)

// Params 模块依赖
type Params struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
}

// Module 返回本地 API 客户端 Fx 模块
func Module() fx.Option {
	return fx.Module("localapi",
		fx.Provide(ProvideClient),
	)
}

// ProvideClient 按配置创建客户端
func ProvideClient(p Params) (*Client, error) {
	cfg := config.DefaultLocalAPIConfig()
	if p.UnifiedCfg != nil {
		cfg = p.UnifiedCfg.LocalAPI
	}
	return NewClient(cfg.BaseURL, WithMaxBodyBytes(cfg.MaxBodyBytes))
}
