package storage

import (
	"context"

	"go.uber.org/fx"

	"github.com/mydia/go-remoteaccess/config"
	"github.com/mydia/go-remoteaccess/internal/core/storage/engine"
	"github.com/mydia/go-remoteaccess/internal/core/storage/engine/badger"
	"github.com/mydia/go-remoteaccess/internal/core/storage/kv"
	"github.com/mydia/go-remoteaccess/internal/util/logger"
)

var log = logger.Logger("storage")

// Params Storage 模块依赖参数
type Params struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
}

// Result Storage 模块提供的结果
type Result struct {
	fx.Out

	Engine engine.Engine
	Config Config
}

// Module 返回 Storage Fx 模块
//
// 提供:
//   - engine.Engine: 存储引擎实例
//   - Config: 存储配置
//
// 生命周期:
//   - OnStart: 启动引擎（GC 等后台任务）
//   - OnStop: 关闭引擎
func Module() fx.Option {
	return fx.Module("storage",
		fx.Provide(ProvideStorage),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideStorage 提供存储引擎和配置
func ProvideStorage(p Params) (Result, error) {
	cfg := ConfigFromUnified(p.UnifiedCfg)
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}

	eng, err := NewEngine(cfg)
	if err != nil {
		return Result{}, err
	}

	return Result{Engine: eng, Config: cfg}, nil
}

func registerLifecycle(lc fx.Lifecycle, eng engine.Engine) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := eng.Start(); err != nil {
				log.Error("存储引擎启动失败", "error", err)
				return err
			}
			log.Debug("存储引擎启动成功")
			return nil
		},
		OnStop: func(_ context.Context) error {
			if err := eng.Close(); err != nil {
				log.Warn("存储引擎关闭失败", "error", err)
				return err
			}
			log.Debug("存储引擎已关闭")
			return nil
		},
	})
}

// NewEngine 根据配置创建存储引擎
func NewEngine(cfg Config) (engine.Engine, error) {
	log.Debug("创建存储引擎", "path", cfg.Path)
	eng, err := badger.New(cfg.ToEngineConfig())
	if err != nil {
		log.Error("创建存储引擎失败", "error", err)
		return nil, err
	}
	return eng, nil
}

// New 在指定目录创建持久化存储引擎
func New(path string) (engine.Engine, error) {
	cfg := DefaultConfig()
	cfg.Path = path
	return NewEngine(cfg)
}

// NewKVStore 创建带前缀的 KVStore
func NewKVStore(eng engine.Engine, prefix []byte) *kv.Store {
	return kv.New(eng, prefix)
}

// KVStore 是 kv.Store 的类型别名
type KVStore = kv.Store
