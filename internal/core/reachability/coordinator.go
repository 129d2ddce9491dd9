package reachability

import (
	"context"
	"fmt"
	"net"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/mydia/go-remoteaccess/internal/core/devicestore"
	"github.com/mydia/go-remoteaccess/internal/core/nat/stun"
	"github.com/mydia/go-remoteaccess/internal/util/logger"
)

var log = logger.Logger("reachability")

// Config 直连地址探测参数
type Config struct {
	// Enabled 是否通过 STUN 探测公网地址
	Enabled bool

	// Scheme 直连地址协议（http / https）
	Scheme string

	// Port 直连地址端口
	Port int

	// StaticURLs 静态配置的直连地址，总是排在探测结果之前
	StaticURLs []string

	// RedetectInterval 重新探测间隔，0 表示只在启动时探测一次
	RedetectInterval time.Duration
}

// DefaultConfig 返回默认参数（不探测）
func DefaultConfig() Config {
	return Config{
		Scheme:           "https",
		Port:             4443,
		RedetectInterval: 30 * time.Minute,
	}
}

// Discoverer 公网地址发现
type Discoverer interface {
	Discover(ctx context.Context) (*stun.Result, error)
}

// InstanceStore 持久化直连地址
type InstanceStore interface {
	UpdateInstance(ctx context.Context, mutate func(inst *devicestore.Instance)) (*devicestore.Instance, error)
}

// ChangeFunc 地址变化回调
type ChangeFunc func(ctx context.Context, urls []string) error

// Coordinator 直连地址协调器
type Coordinator struct {
	cfg        Config
	discoverer Discoverer
	store      InstanceStore
	clock      clock.Clock

	mu       sync.RWMutex
	publicIP net.IP
	urls     []string
	onChange ChangeFunc

	runningMu sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
}

// Option 协调器选项
type Option func(*Coordinator)

// WithClock 指定时间源
func WithClock(c clock.Clock) Option {
	return func(co *Coordinator) {
		co.clock = c
	}
}

// NewCoordinator 创建协调器
//
// store 可以为 nil，此时探测结果只保存在内存中。
func NewCoordinator(cfg Config, discoverer Discoverer, store InstanceStore, opts ...Option) *Coordinator {
	if cfg.Scheme == "" {
		cfg.Scheme = DefaultConfig().Scheme
	}
	c := &Coordinator{
		cfg:        cfg,
		discoverer: discoverer,
		store:      store,
		clock:      clock.New(),
		urls:       mergeURLs(cfg.StaticURLs),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetOnAddressChanged 设置地址变化回调
func (c *Coordinator) SetOnAddressChanged(fn ChangeFunc) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// DirectURLs 当前通告的直连地址（静态地址在前）
func (c *Coordinator) DirectURLs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.urls)
}

// PublicIP 最近一次探测到的公网 IP，未探测成功时为 nil
func (c *Coordinator) PublicIP() net.IP {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.publicIP
}

// ============================================================================
//                              生命周期
// ============================================================================

// Start 在后台立即探测一次，然后按间隔重新探测
func (c *Coordinator) Start(_ context.Context) error {
	if !c.cfg.Enabled {
		log.Debug("未启用公网地址探测")
		return nil
	}

	c.runningMu.Lock()
	defer c.runningMu.Unlock()
	if c.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})

	go c.loop(ctx, c.done)
	log.Info("直连地址探测已启动", "interval", c.cfg.RedetectInterval)
	return nil
}

// Stop 停止后台探测
func (c *Coordinator) Stop() error {
	c.runningMu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.runningMu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	log.Info("直连地址探测已停止")
	return nil
}

func (c *Coordinator) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	_, _ = c.Detect(ctx)
	if c.cfg.RedetectInterval <= 0 {
		return
	}

	ticker := c.clock.Ticker(c.cfg.RedetectInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = c.Detect(ctx)
		}
	}
}

// ============================================================================
//                              探测
// ============================================================================

// Detect 执行一次探测并返回最新的直连地址
//
// 探测失败时返回错误，已通告的地址保持不变。
func (c *Coordinator) Detect(ctx context.Context) ([]string, error) {
	result, err := c.discoverer.Discover(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn("公网地址探测失败，保留现有直连地址", "err", err)
		}
		return c.DirectURLs(), err
	}
	ip := result.IP.To4()
	if ip == nil {
		return c.DirectURLs(), fmt.Errorf("%w: %s", stun.ErrIPv6Unsupported, result.IP)
	}

	detected := BuildURL(c.cfg.Scheme, ip, c.cfg.Port)
	urls := mergeURLs(c.cfg.StaticURLs, []string{detected})

	c.mu.Lock()
	changed := !slices.Equal(urls, c.urls)
	c.publicIP = ip
	c.urls = urls
	onChange := c.onChange
	c.mu.Unlock()

	if !changed {
		log.Debug("直连地址未变化", "url", detected)
		return slices.Clone(urls), nil
	}
	log.Info("直连地址已更新", "public_ip", ip.String(), "urls", urls)

	if c.store != nil {
		if _, err := c.store.UpdateInstance(ctx, func(inst *devicestore.Instance) {
			inst.DirectURLs = slices.Clone(urls)
		}); err != nil {
			log.Warn("持久化直连地址失败", "err", err)
		}
	}
	if onChange != nil {
		if err := onChange(ctx, slices.Clone(urls)); err != nil {
			log.Warn("通知直连地址变化失败", "err", err)
		}
	}
	return slices.Clone(urls), nil
}

// BuildURL 组合直连地址，协议默认端口省略
func BuildURL(scheme string, ip net.IP, port int) string {
	host := ip.String()
	if ip.To4() == nil {
		host = "[" + host + "]"
	}
	if port <= 0 || (scheme == "https" && port == 443) || (scheme == "http" && port == 80) {
		return scheme + "://" + host
	}
	return scheme + "://" + net.JoinHostPort(ip.String(), strconv.Itoa(port))
}

// mergeURLs 合并并去重，保持首次出现的顺序
func mergeURLs(lists ...[]string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, list := range lists {
		for _, u := range list {
			if u == "" || seen[u] {
				continue
			}
			seen[u] = true
			out = append(out, u)
		}
	}
	return out
}
