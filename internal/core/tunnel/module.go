package tunnel

import (
	"go.uber.org/fx"

	"github.com/mydia/go-remoteaccess/config"
	"github.com/mydia/go-remoteaccess/internal/core/localapi"
	"github.com/mydia/go-remoteaccess/internal/core/metrics"
	"github.com/mydia/go-remoteaccess/internal/core/security/pairing"
	"github.com/mydia/go-remoteaccess/internal/core/version"
)

// Params 模块依赖
type Params struct {
	fx.In

	Pairing    *pairing.Service
	API        *localapi.Client
	Negotiator *version.Negotiator     `optional:"true"`
	Metrics    *metrics.Metrics        `optional:"true"`
	Traffic    *metrics.TrafficCounter `optional:"true"`
	UnifiedCfg *config.Config          `optional:"true"`
}

// ConfigFromUnified 从统一配置读取会话参数
func ConfigFromUnified(cfg *config.Config) Config {
	if cfg == nil {
		return DefaultConfig()
	}
	return Config{
		IdleTimeout:    cfg.Session.IdleTimeout.Duration(),
		InboxSize:      cfg.Session.InboxSize,
		RequestTimeout: cfg.Executor.Timeout.Duration(),
	}
}

// Module 返回隧道会话 Fx 模块
func Module() fx.Option {
	return fx.Module("tunnel",
		fx.Provide(func(p Params) *Factory {
			return NewFactory(ConfigFromUnified(p.UnifiedCfg), p.Pairing, p.API,
				WithNegotiator(p.Negotiator),
				WithMetrics(p.Metrics, p.Traffic),
			)
		}),
	)
}
