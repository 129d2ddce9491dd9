package config

import (
	"errors"
	"time"
)

// RelayConfig 中继连接配置
//
// 客户端与中继之间只有一条持久连接，所有隧道会话复用这条连接。
type RelayConfig struct {
	// URL 中继 WebSocket 地址，例如 "wss://relay.example.com/relay/tunnel"
	URL string `json:"url"`

	// HeartbeatInterval ping 心跳间隔
	HeartbeatInterval Duration `json:"heartbeat_interval"`

	// DeadPeerTimeout 在该时间内收不到任何消息视为连接失效
	// 0 表示仅依赖传输层断开检测
	DeadPeerTimeout Duration `json:"dead_peer_timeout"`

	// InitialBackoff 首次重连等待时间
	InitialBackoff Duration `json:"initial_backoff"`

	// MaxBackoff 重连等待上限
	MaxBackoff Duration `json:"max_backoff"`

	// DialTimeout 建立连接超时
	DialTimeout Duration `json:"dial_timeout"`

	// WriteTimeout 单条消息写超时
	WriteTimeout Duration `json:"write_timeout"`

	// SendQueueSize 发送队列长度
	SendQueueSize int `json:"send_queue_size"`

	// ConnectionRate 每秒允许的新会话数（0 = 不限制）
	ConnectionRate float64 `json:"connection_rate"`

	// ConnectionBurst 新会话突发上限
	ConnectionBurst int `json:"connection_burst"`
}

// DefaultRelayConfig 返回默认中继配置
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		URL:               "",
		HeartbeatInterval: Duration(30 * time.Second),
		DeadPeerTimeout:   Duration(90 * time.Second),
		InitialBackoff:    Duration(1 * time.Second),
		MaxBackoff:        Duration(60 * time.Second),
		DialTimeout:       Duration(15 * time.Second),
		WriteTimeout:      Duration(10 * time.Second),
		SendQueueSize:     256,
		ConnectionRate:    20,
		ConnectionBurst:   50,
	}
}

// Validate 验证中继配置
func (c *RelayConfig) Validate() error {
	if c.HeartbeatInterval <= 0 {
		return errors.New("relay: heartbeat_interval must be positive")
	}
	if c.DeadPeerTimeout < 0 {
		return errors.New("relay: dead_peer_timeout cannot be negative")
	}
	if c.DeadPeerTimeout > 0 && c.DeadPeerTimeout <= c.HeartbeatInterval {
		return errors.New("relay: dead_peer_timeout must exceed heartbeat_interval")
	}
	if c.InitialBackoff <= 0 || c.MaxBackoff < c.InitialBackoff {
		return errors.New("relay: invalid backoff bounds")
	}
	if c.SendQueueSize <= 0 {
		return errors.New("relay: send_queue_size must be positive")
	}
	if c.ConnectionRate < 0 || c.ConnectionBurst < 0 {
		return errors.New("relay: connection rate cannot be negative")
	}
	return nil
}
