package reachability

import (
	"context"

	"go.uber.org/fx"

	"github.com/mydia/go-remoteaccess/config"
	"github.com/mydia/go-remoteaccess/internal/core/devicestore"
	"github.com/mydia/go-remoteaccess/internal/core/nat/stun"
	"github.com/mydia/go-remoteaccess/internal/core/relay"
)

// Params 模块依赖
type Params struct {
	fx.In

	Store      *devicestore.Store
	Relay      *relay.Manager `optional:"true"`
	UnifiedCfg *config.Config `optional:"true"`
}

// ConfigFromUnified 从统一配置读取探测参数
//
// 只有远程访问与 direct_access.detect_public_ip 同时开启时才会探测。
func ConfigFromUnified(cfg *config.Config) Config {
	if cfg == nil {
		return DefaultConfig()
	}
	da := cfg.RemoteAccess.DirectAccess
	return Config{
		Enabled:          cfg.RemoteAccess.Enabled && da.DetectPublicIP,
		Scheme:           da.Scheme,
		Port:             da.Port,
		StaticURLs:       cfg.RemoteAccess.DirectURLs,
		RedetectInterval: cfg.NAT.RedetectInterval.Duration(),
	}
}

// Module 返回直连地址探测 Fx 模块
func Module() fx.Option {
	return fx.Module("reachability",
		fx.Provide(ProvideSTUNClient, ProvideCoordinator),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideSTUNClient 按 NAT 配置创建 STUN 客户端
func ProvideSTUNClient(p Params) *stun.Client {
	if p.UnifiedCfg == nil {
		return stun.NewClient(nil, 0)
	}
	return stun.NewClient(p.UnifiedCfg.NAT.STUNServers, p.UnifiedCfg.NAT.STUNTimeout.Duration())
}

// ProvideCoordinator 创建协调器，并把地址变化转发给中继管理器
func ProvideCoordinator(p Params, client *stun.Client) *Coordinator {
	c := NewCoordinator(ConfigFromUnified(p.UnifiedCfg), client, p.Store)
	if p.Relay != nil {
		c.SetOnAddressChanged(p.Relay.UpdateDirectURLs)
	}
	return c
}

func registerLifecycle(lc fx.Lifecycle, c *Coordinator) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return c.Start(ctx)
		},
		OnStop: func(context.Context) error {
			return c.Stop()
		},
	})
}
