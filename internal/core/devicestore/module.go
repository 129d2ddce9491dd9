package devicestore

import (
	"context"

	"go.uber.org/fx"

	"github.com/mydia/go-remoteaccess/config"
	"github.com/mydia/go-remoteaccess/internal/core/storage/engine"
)

// Params 模块依赖
type Params struct {
	fx.In

	Engine     engine.Engine
	UnifiedCfg *config.Config `optional:"true"`
}

// Module 返回 devicestore Fx 模块
func Module() fx.Option {
	return fx.Module("devicestore",
		fx.Provide(ProvideStore),
		fx.Invoke(registerSweeper),
	)
}

func registerSweeper(lc fx.Lifecycle, p Params, store *Store) {
	interval := DefaultSweepInterval
	if p.UnifiedCfg != nil {
		interval = p.UnifiedCfg.RateLimit.SweepInterval.Duration()
	}
	w := NewSweeper(store, interval, DefaultClaimRetention)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			w.Start(context.Background())
			return nil
		},
		OnStop: func(context.Context) error {
			w.Stop()
			return nil
		},
	})
}

// ProvideStore 提供 Store
func ProvideStore(p Params) *Store {
	var opts []Option
	if p.UnifiedCfg != nil && p.UnifiedCfg.RemoteAccess.SecretKeyBase != "" {
		opts = append(opts, WithSecret([]byte(p.UnifiedCfg.RemoteAccess.SecretKeyBase)))
	}
	return New(p.Engine, opts...)
}
