package certificate

import (
	"context"
	"fmt"
	"net/url"

	"go.uber.org/fx"

	"github.com/mydia/go-remoteaccess/config"
	"github.com/mydia/go-remoteaccess/internal/core/devicestore"
)

// Params 模块依赖
type Params struct {
	fx.In

	Lifecycle  fx.Lifecycle
	Store      *devicestore.Store
	UnifiedCfg *config.Config `optional:"true"`
}

// Module 返回证书 Fx 模块
//
// 配置了 direct_access.cert_dir 时在启动阶段生成证书并把指纹写入实例记录。
func Module() fx.Option {
	return fx.Module("certificate",
		fx.Invoke(registerLifecycle),
	)
}

func registerLifecycle(p Params) {
	if p.UnifiedCfg == nil || !p.UnifiedCfg.RemoteAccess.Enabled {
		return
	}
	ra := p.UnifiedCfg.RemoteAccess
	if ra.DirectAccess.CertDir == "" {
		return
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			_, _, fp, err := EnsureCertificate(ra.DirectAccess.CertDir, WithHosts(hostsFromURLs(ra.DirectURLs)...))
			if err != nil {
				return fmt.Errorf("ensure certificate: %w", err)
			}
			if _, err := p.Store.EnsureInstance(ctx); err != nil {
				return fmt.Errorf("ensure instance: %w", err)
			}
			_, err = p.Store.UpdateInstance(ctx, func(inst *devicestore.Instance) {
				inst.CertFingerprint = fp
			})
			return err
		},
	})
}

func hostsFromURLs(urls []string) []string {
	var hosts []string
	for _, raw := range urls {
		if u, err := url.Parse(raw); err == nil && u.Hostname() != "" {
			hosts = append(hosts, u.Hostname())
		}
	}
	return hosts
}
