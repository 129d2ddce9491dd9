package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/mydia/go-remoteaccess/config"
	"github.com/mydia/go-remoteaccess/internal/util/logger"
)

var log = logger.Logger("metrics")

// Params Metrics 依赖参数
type Params struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
}

// Result 模块输出
type Result struct {
	fx.Out

	Registry *prometheus.Registry
	Metrics  *Metrics
	Traffic  *TrafficCounter
}

// Module 是 metrics 的 Fx 模块
var Module = fx.Module("metrics",
	fx.Provide(Provide),
	fx.Invoke(registerLifecycle),
)

// Provide 创建独立的 Registry 和指标集合
func Provide(_ Params) Result {
	reg := prometheus.NewRegistry()
	m := New(reg)
	return Result{
		Registry: reg,
		Metrics:  m,
		Traffic:  NewTrafficCounter(m, nil),
	}
}

func registerLifecycle(lc fx.Lifecycle, p Params, reg *prometheus.Registry) {
	if p.UnifiedCfg == nil || !p.UnifiedCfg.Metrics.Enabled {
		return
	}
	srv := NewServer(p.UnifiedCfg.Metrics.ListenAddr, reg)
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			return srv.Start()
		},
		OnStop: srv.Stop,
	})
}
