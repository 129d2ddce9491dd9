package relay

import (
	"context"

	"go.uber.org/fx"

	"github.com/mydia/go-remoteaccess/config"
	"github.com/mydia/go-remoteaccess/internal/core/devicestore"
	"github.com/mydia/go-remoteaccess/internal/core/metrics"
	"github.com/mydia/go-remoteaccess/internal/core/tunnel"
)

// Params 模块依赖
type Params struct {
	fx.In

	Store      *devicestore.Store
	Factory    *tunnel.Factory
	Metrics    *metrics.Metrics `optional:"true"`
	UnifiedCfg *config.Config   `optional:"true"`
}

// ConfigFromUnified 从统一配置读取中继参数
func ConfigFromUnified(cfg *config.Config) Config {
	if cfg == nil {
		return DefaultConfig()
	}
	r := cfg.Relay
	return Config{
		Enabled:           cfg.RemoteAccess.Enabled,
		URL:               r.URL,
		HeartbeatInterval: r.HeartbeatInterval.Duration(),
		DeadPeerTimeout:   r.DeadPeerTimeout.Duration(),
		InitialBackoff:    r.InitialBackoff.Duration(),
		MaxBackoff:        r.MaxBackoff.Duration(),
		DialTimeout:       r.DialTimeout.Duration(),
		WriteTimeout:      r.WriteTimeout.Duration(),
		SendQueueSize:     r.SendQueueSize,
		ConnectionRate:    r.ConnectionRate,
		ConnectionBurst:   r.ConnectionBurst,
	}
}

// Module 返回中继连接 Fx 模块
//
// 启动失败（远程访问未配置）会使整个应用启动失败。
func Module() fx.Option {
	return fx.Module("relay",
		fx.Provide(ProvideManager),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideManager 创建管理器
func ProvideManager(p Params) *Manager {
	var static []string
	if p.UnifiedCfg != nil {
		static = p.UnifiedCfg.RemoteAccess.DirectURLs
	}
	return NewManager(ConfigFromUnified(p.UnifiedCfg), p.Store, p.Factory,
		WithMetrics(p.Metrics),
		WithDirectURLs(static),
	)
}

func registerLifecycle(lc fx.Lifecycle, m *Manager) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return m.Start(ctx)
		},
		OnStop: func(context.Context) error {
			m.Stop()
			return nil
		},
	})
}
