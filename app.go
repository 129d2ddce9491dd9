package remoteaccess

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	"github.com/mydia/go-remoteaccess/config"
	"github.com/mydia/go-remoteaccess/internal/core/devicestore"
	"github.com/mydia/go-remoteaccess/internal/core/reachability"
	"github.com/mydia/go-remoteaccess/internal/core/relay"
	"github.com/mydia/go-remoteaccess/internal/core/security/pairing"
	"github.com/mydia/go-remoteaccess/internal/util/logger"
)

var log = logger.Logger("remoteaccess")

// App 远程访问服务
type App struct {
	app *fx.App

	relay *relay.Manager
	reach *reachability.Coordinator
	store *devicestore.Store
}

// New 创建服务，不会建立任何连接
//
// 配置无效时返回 ErrConfiguration 分类的错误。
func New(cfg *config.Config, opts ...fx.Option) (*App, error) {
	a := &App{}
	opts = append(opts, fx.Populate(&a.relay, &a.reach, &a.store))
	app, err := buildFxApp(cfg, true, opts...)
	if err != nil {
		return nil, err
	}
	a.app = app
	return a, nil
}

// Start 启动存储、中继连接和地址探测
//
// 远程访问未启用或缺少密钥时立即失败，不会重试。
func (a *App) Start(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return err
	}
	log.Info("远程访问服务已启动", "version", Version)
	return nil
}

// Stop 关闭所有会话并断开中继
func (a *App) Stop(ctx context.Context) error {
	err := a.app.Stop(ctx)
	log.Info("远程访问服务已停止")
	return err
}

// Done 在收到退出信号时关闭
func (a *App) Done() <-chan fx.ShutdownSignal {
	return a.app.Wait()
}

// Connected 是否已连接到中继
func (a *App) Connected() bool {
	return a.relay.Connected()
}

// Sessions 当前存活的隧道会话数
func (a *App) Sessions() int {
	return a.relay.Sessions()
}

// DirectURLs 当前通告给中继的直连地址
func (a *App) DirectURLs() []string {
	return a.relay.DirectURLs()
}

// RedetectDirectURLs 立即重新探测公网地址，返回最新的直连地址
func (a *App) RedetectDirectURLs(ctx context.Context) ([]string, error) {
	return a.reach.Detect(ctx)
}

// Instance 返回本实例身份（私钥不会离开存储层）
func (a *App) Instance(ctx context.Context) (*devicestore.Instance, error) {
	inst, err := a.store.EnsureInstance(ctx)
	if err != nil {
		return nil, err
	}
	out := *inst
	out.PrivateKey = nil
	return &out, nil
}

// ════════════════════════════════════════════════════════════════════════════
//                              管理操作
// ════════════════════════════════════════════════════════════════════════════

// Admin 不连接中继的管理入口
type Admin struct {
	app     *fx.App
	store   *devicestore.Store
	pairing *pairing.Service
}

// NewAdmin 打开存储并返回管理入口，用完后调用 Close
func NewAdmin(ctx context.Context, cfg *config.Config) (*Admin, error) {
	a := &Admin{}
	app, err := buildFxApp(cfg, false, fx.Populate(&a.store, &a.pairing))
	if err != nil {
		return nil, err
	}
	if err := app.Start(ctx); err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	a.app = app
	return a, nil
}

// Close 关闭存储
func (a *Admin) Close(ctx context.Context) error {
	return a.app.Stop(ctx)
}

// CreateClaim 为用户生成一次性配对码
func (a *Admin) CreateClaim(ctx context.Context, userID string) (*devicestore.Claim, error) {
	return a.pairing.CreateClaim(ctx, userID)
}

// ListDevices 列出已配对设备
func (a *Admin) ListDevices(ctx context.Context, includeRevoked bool) ([]*devicestore.Device, error) {
	return a.store.ListDevices(ctx, includeRevoked)
}

// RevokeDevice 吊销设备，之后该设备无法重连，已签发的媒体令牌也会失效
func (a *Admin) RevokeDevice(ctx context.Context, deviceID string) error {
	return a.store.RevokeDevice(ctx, deviceID)
}
