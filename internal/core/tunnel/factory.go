package tunnel

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/mydia/go-remoteaccess/internal/core/executor"
	"github.com/mydia/go-remoteaccess/internal/core/localapi"
	"github.com/mydia/go-remoteaccess/internal/core/metrics"
	"github.com/mydia/go-remoteaccess/internal/core/security/pairing"
	"github.com/mydia/go-remoteaccess/internal/core/version"
)

// APIClient 本地 API
type APIClient interface {
	Do(ctx context.Context, req localapi.Request) (*localapi.Response, error)
}

// Config 会话参数
type Config struct {
	// IdleTimeout 无流量多久后关闭会话
	IdleTimeout time.Duration

	// InboxSize 入站队列长度
	InboxSize int

	// RequestTimeout 代理请求超时
	RequestTimeout time.Duration
}

// DefaultConfig 返回默认会话参数
func DefaultConfig() Config {
	return Config{
		IdleTimeout:    5 * time.Minute,
		InboxSize:      64,
		RequestTimeout: executor.DefaultTimeout,
	}
}

// Factory 创建会话，持有会话共享的协作者
type Factory struct {
	cfg        Config
	pairing    *pairing.Service
	api        APIClient
	negotiator *version.Negotiator
	metrics    *metrics.Metrics
	traffic    *metrics.TrafficCounter
	clock      clock.Clock
}

// FactoryOption 工厂选项
type FactoryOption func(*Factory)

// WithNegotiator 启用协议版本协商
func WithNegotiator(n *version.Negotiator) FactoryOption {
	return func(f *Factory) {
		f.negotiator = n
	}
}

// WithMetrics 记录会话指标与流量
func WithMetrics(m *metrics.Metrics, traffic *metrics.TrafficCounter) FactoryOption {
	return func(f *Factory) {
		f.metrics = m
		if traffic != nil {
			f.traffic = traffic
		}
	}
}

// WithClock 指定时间源
func WithClock(c clock.Clock) FactoryOption {
	return func(f *Factory) {
		f.clock = c
	}
}

// NewFactory 创建会话工厂
func NewFactory(cfg Config, p *pairing.Service, api APIClient, opts ...FactoryOption) *Factory {
	def := DefaultConfig()
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = def.InboxSize
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	f := &Factory{
		cfg:     cfg,
		pairing: p,
		api:     api,
		clock:   clock.New(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.traffic == nil {
		f.traffic = metrics.NewTrafficCounter(f.metrics, f.clock)
	}
	return f
}

// NewSession 创建会话，调用方负责在独立 goroutine 中执行 Run
//
// clientKey 为 connection 事件携带的客户端临时公钥，可以为空。
func (f *Factory) NewSession(id, clientIP string, clientKey []byte, sender Sender) *Session {
	s := &Session{
		id:       id,
		clientIP: clientIP,
		connKey:  clientKey,
		f:        f,
		sender:   sender,
		inbox:    make(chan string, f.cfg.InboxSize),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	s.state.Store(int32(StateAwaitingHandshake))
	return s
}
