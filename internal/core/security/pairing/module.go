package pairing

import (
	"go.uber.org/fx"

	"github.com/mydia/go-remoteaccess/internal/core/devicestore"
	"github.com/mydia/go-remoteaccess/internal/core/ratelimit"
	"github.com/mydia/go-remoteaccess/internal/core/token"
)

// Module 返回配对服务 Fx 模块
func Module() fx.Option {
	return fx.Module("pairing",
		fx.Provide(func(store *devicestore.Store, limiter *ratelimit.Limiter, tokens *token.Issuer) *Service {
			return NewService(store, limiter, tokens)
		}),
	)
}
