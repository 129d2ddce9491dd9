package config

import (
	"errors"
	"time"
)

// SessionConfig 隧道会话配置
type SessionConfig struct {
	// IdleTimeout 无流量多久后关闭会话
	IdleTimeout Duration `json:"idle_timeout"`

	// InboxSize 每个会话的入站队列长度
	InboxSize int `json:"inbox_size"`
}

// DefaultSessionConfig 返回默认会话配置
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		IdleTimeout: Duration(5 * time.Minute),
		InboxSize:   64,
	}
}

// Validate 验证会话配置
func (c *SessionConfig) Validate() error {
	if c.IdleTimeout <= 0 {
		return errors.New("session: idle_timeout must be positive")
	}
	if c.InboxSize <= 0 {
		return errors.New("session: inbox_size must be positive")
	}
	return nil
}

// RateLimitConfig 配对码尝试限流配置
type RateLimitConfig struct {
	// MaxAttempts 窗口内最大尝试次数
	MaxAttempts int `json:"max_attempts"`

	// Window 计数窗口
	Window Duration `json:"window"`

	// SweepInterval 过期条目清理间隔
	SweepInterval Duration `json:"sweep_interval"`
}

// DefaultRateLimitConfig 返回默认限流配置
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxAttempts:   5,
		Window:        Duration(time.Hour),
		SweepInterval: Duration(10 * time.Minute),
	}
}

// Validate 验证限流配置
func (c *RateLimitConfig) Validate() error {
	if c.MaxAttempts <= 0 {
		return errors.New("rate_limit: max_attempts must be positive")
	}
	if c.Window <= 0 || c.SweepInterval <= 0 {
		return errors.New("rate_limit: window and sweep_interval must be positive")
	}
	return nil
}

// ExecutorConfig 代理请求执行配置
type ExecutorConfig struct {
	// Timeout 单个请求的硬超时
	Timeout Duration `json:"timeout"`

	// MaxConcurrency 扇出执行的最大并发（0 = 不限制）
	MaxConcurrency int `json:"max_concurrency"`
}

// DefaultExecutorConfig 返回默认执行配置
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		Timeout:        Duration(30 * time.Second),
		MaxConcurrency: 0,
	}
}

// Validate 验证执行配置
func (c *ExecutorConfig) Validate() error {
	if c.Timeout <= 0 {
		return errors.New("executor: timeout must be positive")
	}
	if c.MaxConcurrency < 0 {
		return errors.New("executor: max_concurrency cannot be negative")
	}
	return nil
}
