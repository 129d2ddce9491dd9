package config

import (
	"errors"
	"time"
)

// NATConfig STUN 公网地址发现配置
//
// 仅支持 IPv4，IPv6 NAT 穿透不在支持范围内。
type NATConfig struct {
	// STUNServers 按优先级排列的 STUN 服务器
	STUNServers []string `json:"stun_servers"`

	// STUNTimeout 单个服务器超时
	STUNTimeout Duration `json:"stun_timeout"`

	// RedetectInterval 重新探测公网地址的间隔（0 = 只在启动时探测）
	RedetectInterval Duration `json:"redetect_interval"`
}

// DefaultNATConfig 返回默认 NAT 配置
func DefaultNATConfig() NATConfig {
	return NATConfig{
		STUNServers: []string{
			"stun.l.google.com:19302",
			"stun1.l.google.com:19302",
			"stun.cloudflare.com:3478",
		},
		STUNTimeout:      Duration(2 * time.Second),
		RedetectInterval: Duration(30 * time.Minute),
	}
}

// Validate 验证 NAT 配置
func (c *NATConfig) Validate() error {
	if c.STUNTimeout <= 0 {
		return errors.New("nat: stun_timeout must be positive")
	}
	if c.RedetectInterval < 0 {
		return errors.New("nat: redetect_interval cannot be negative")
	}
	return nil
}
