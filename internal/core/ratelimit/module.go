package ratelimit

import (
	"context"

	"go.uber.org/fx"

	"github.com/mydia/go-remoteaccess/config"
	"github.com/mydia/go-remoteaccess/internal/core/metrics"
)

// Params 模块依赖
type Params struct {
	fx.In

	UnifiedCfg *config.Config    `optional:"true"`
	Metrics    *metrics.Metrics `optional:"true"`
}

// ConfigFromUnified 从统一配置读取限流参数
func ConfigFromUnified(cfg *config.Config) Config {
	if cfg == nil {
		return DefaultConfig()
	}
	return Config{
		MaxAttempts:   cfg.RateLimit.MaxAttempts,
		Window:        cfg.RateLimit.Window.Duration(),
		SweepInterval: cfg.RateLimit.SweepInterval.Duration(),
	}
}

// Module 返回限流 Fx 模块
func Module() fx.Option {
	return fx.Module("ratelimit",
		fx.Provide(func(p Params) *Limiter {
			return New(ConfigFromUnified(p.UnifiedCfg), WithMetrics(p.Metrics))
		}),
		fx.Invoke(func(lc fx.Lifecycle, l *Limiter) {
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					// 清理循环不跟随启动 context 结束
					l.Start(context.Background())
					return nil
				},
				OnStop: func(context.Context) error {
					l.Stop()
					return nil
				},
			})
		}),
	)
}
