package remoteaccess

import (
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/mydia/go-remoteaccess/config"
	"github.com/mydia/go-remoteaccess/internal/core/certificate"
	"github.com/mydia/go-remoteaccess/internal/core/devicestore"
	"github.com/mydia/go-remoteaccess/internal/core/localapi"
	"github.com/mydia/go-remoteaccess/internal/core/metrics"
	"github.com/mydia/go-remoteaccess/internal/core/ratelimit"
	"github.com/mydia/go-remoteaccess/internal/core/reachability"
	"github.com/mydia/go-remoteaccess/internal/core/relay"
	"github.com/mydia/go-remoteaccess/internal/core/security/pairing"
	"github.com/mydia/go-remoteaccess/internal/core/storage"
	"github.com/mydia/go-remoteaccess/internal/core/token"
	"github.com/mydia/go-remoteaccess/internal/core/tunnel"
	"github.com/mydia/go-remoteaccess/internal/core/version"
	"github.com/mydia/go-remoteaccess/internal/util/logger"
)

var fxLogger = logger.Logger("fx")

// buildFxApp 构建 Fx 应用
//
// 加载顺序（按依赖）：
//  1. 基础：Storage → DeviceStore → Metrics
//  2. 配对：RateLimit → Token → Pairing
//  3. 隧道（仅 serve）：LocalAPI → Version → Tunnel → Relay → Certificate → Reachability
//
// serve 为 false 时只加载管理操作需要的模块，不连接中继。
func buildFxApp(cfg *config.Config, serve bool, extra ...fx.Option) (*fx.App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	modules := []fx.Option{
		fx.Supply(cfg),

		storage.Module(),
		devicestore.Module(),
		metrics.Module,

		ratelimit.Module(),
		token.Module(),
		pairing.Module(),
	}

	if serve {
		modules = append(modules,
			localapi.Module(),
			version.Module(),
			tunnel.Module(),
			relay.Module(),
			certificate.Module(),
			reachability.Module(),
		)
		fxLogger.Debug("已加载隧道模块")
	}

	modules = append(modules, extra...)
	modules = append(modules,
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: zap.NewNop()}
		}),
	)

	app := fx.New(modules...)
	if err := app.Err(); err != nil {
		return nil, fmt.Errorf("build app: %w", err)
	}
	return app, nil
}
