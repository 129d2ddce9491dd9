// Package ratelimit 实现配对码尝试的按 IP 限流
//
// 每个来源 IP 一个 (count, window_start) 计数：
//   - 窗口已过（now - window_start > window）时重置为 (1, now) 并放行
//   - 否则计数加一，超过上限返回 ErrRateLimited
//
// 计数表按 IP 哈希分片，每个分片一把互斥锁，
// 插入与递增在同一把锁内完成，不会丢失或重复计数。
package ratelimit

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/mydia/go-remoteaccess/internal/core/metrics"
	"github.com/mydia/go-remoteaccess/internal/util/logger"
)

var log = logger.Logger("ratelimit")

// ErrRateLimited 尝试次数超过上限
var ErrRateLimited = errors.New("ratelimit: too many claim attempts")

const shardCount = 16

// Config 限流配置
type Config struct {
	// MaxAttempts 窗口内最大尝试次数
	MaxAttempts int

	// Window 计数窗口
	Window time.Duration

	// SweepInterval 过期条目清理间隔
	SweepInterval time.Duration
}

// DefaultConfig 返回默认配置：每小时 5 次，每 10 分钟清理
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   5,
		Window:        time.Hour,
		SweepInterval: 10 * time.Minute,
	}
}

// Entry 单个 IP 的计数
type Entry struct {
	Count       int
	WindowStart time.Time
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// Limiter 按 IP 的配对码尝试限流器
type Limiter struct {
	config  Config
	clock   clock.Clock
	metrics *metrics.Metrics

	shards [shardCount]shard

	stopOnce sync.Once
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// Option 限流器选项
type Option func(*Limiter)

// WithClock 指定时间源
func WithClock(c clock.Clock) Option {
	return func(l *Limiter) { l.clock = c }
}

// WithMetrics 上报被拒绝的尝试
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Limiter) { l.metrics = m }
}

// New 创建限流器
func New(cfg Config, opts ...Option) *Limiter {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig().SweepInterval
	}

	l := &Limiter{
		config: cfg,
		clock:  clock.New(),
	}
	for i := range l.shards {
		l.shards[i].entries = make(map[string]*Entry)
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) shardFor(ip string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(ip))
	return &l.shards[h.Sum32()%shardCount]
}

// expired 窗口是否已结束
func (l *Limiter) expired(e *Entry, now time.Time) bool {
	return now.Sub(e.WindowStart) > l.config.Window
}

// CheckAndRecord 记录一次尝试，超过上限返回 ErrRateLimited
func (l *Limiter) CheckAndRecord(ip string) error {
	now := l.clock.Now()
	s := l.shardFor(ip)

	s.mu.Lock()
	e, ok := s.entries[ip]
	if !ok || l.expired(e, now) {
		s.entries[ip] = &Entry{Count: 1, WindowStart: now}
		s.mu.Unlock()
		return nil
	}
	e.Count++
	count := e.Count
	s.mu.Unlock()

	if count > l.config.MaxAttempts {
		l.metrics.ClaimRateLimited()
		log.Warn("配对尝试被限流", "ip", ip, "attempts", count)
		return ErrRateLimited
	}
	return nil
}

// Reset 清除某个 IP 的计数（配对成功后调用）
func (l *Limiter) Reset(ip string) {
	s := l.shardFor(ip)
	s.mu.Lock()
	delete(s.entries, ip)
	s.mu.Unlock()
}

// Lookup 返回某个 IP 当前的计数
func (l *Limiter) Lookup(ip string) (Entry, bool) {
	s := l.shardFor(ip)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[ip]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Len 返回当前条目数
func (l *Limiter) Len() int {
	n := 0
	for i := range l.shards {
		s := &l.shards[i]
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

// Sweep 删除窗口已过期的条目，返回删除数量
func (l *Limiter) Sweep() int {
	now := l.clock.Now()
	removed := 0
	for i := range l.shards {
		s := &l.shards[i]
		s.mu.Lock()
		for ip, e := range s.entries {
			if l.expired(e, now) {
				delete(s.entries, ip)
				removed++
			}
		}
		s.mu.Unlock()
	}
	if removed > 0 {
		log.Debug("清理过期限流条目", "removed", removed)
	}
	return removed
}

// Start 启动周期清理
func (l *Limiter) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	ticker := l.clock.Ticker(l.config.SweepInterval)

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Sweep()
			}
		}
	}()
}

// Stop 停止周期清理
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() {
		if l.cancel != nil {
			l.cancel()
		}
		l.wg.Wait()
	})
}
