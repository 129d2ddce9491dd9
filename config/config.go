// Package config 提供远程访问服务的统一配置管理
//
// 本包采用与子配置分文件定义的混合模式：
//   - 主 Config 结构体嵌入所有子配置
//   - 每个子配置在独立文件中定义，带默认值和 Validate()
//   - 支持从 JSON 加载和保存配置，时长字段使用 "30s" 形式
//
// 使用示例：
//
//	cfg := config.NewConfig()
//	cfg.RemoteAccess.Enabled = true
//	cfg.Relay.URL = "wss://relay.example.com/relay/tunnel"
//
//	// 从 JSON 加载
//	cfg, err := config.FromJSON(data)
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config 是远程访问服务的完整配置结构
//
// 配置按照功能模块组织：
//   - RemoteAccess: 实例开关、直连地址、密钥
//   - Relay: 中继连接（心跳、重连退避）
//   - Session: 隧道会话（空闲超时）
//   - RateLimit: 配对码防暴力破解
//   - NAT: STUN 公网地址发现
//   - Executor: 代理请求超时
//   - Token: 媒体令牌签发
//   - LocalAPI: 本地 API 地址
//   - Storage: 数据目录
//   - Versions: 协议版本协商
//   - Metrics: Prometheus 指标
//   - Log: 日志
type Config struct {
	RemoteAccess RemoteAccessConfig `json:"remote_access"`
	Relay        RelayConfig        `json:"relay"`
	Session      SessionConfig      `json:"session"`
	RateLimit    RateLimitConfig    `json:"rate_limit"`
	NAT          NATConfig          `json:"nat"`
	Executor     ExecutorConfig     `json:"executor"`
	Token        TokenConfig        `json:"token"`
	LocalAPI     LocalAPIConfig     `json:"local_api"`
	Storage      StorageConfig      `json:"storage"`
	Versions     VersionsConfig     `json:"versions"`
	Metrics      MetricsConfig      `json:"metrics"`
	Log          LogConfig          `json:"log"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		RemoteAccess: DefaultRemoteAccessConfig(),
		Relay:        DefaultRelayConfig(),
		Session:      DefaultSessionConfig(),
		RateLimit:    DefaultRateLimitConfig(),
		NAT:          DefaultNATConfig(),
		Executor:     DefaultExecutorConfig(),
		Token:        DefaultTokenConfig(),
		LocalAPI:     DefaultLocalAPIConfig(),
		Storage:      DefaultStorageConfig(),
		Versions:     DefaultVersionsConfig(),
		Metrics:      DefaultMetricsConfig(),
		Log:          DefaultLogConfig(),
	}
}

// Validate 验证配置的有效性
//
// 远程访问未启用时不会报错，中继管理器会在启动时单独报告配置错误。
func (c *Config) Validate() error {
	validators := []interface{ Validate() error }{
		&c.RemoteAccess,
		&c.Relay,
		&c.Session,
		&c.RateLimit,
		&c.NAT,
		&c.Executor,
		&c.Token,
		&c.LocalAPI,
		&c.Storage,
		&c.Versions,
		&c.Metrics,
	}
	for _, v := range validators {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// FromJSON 从 JSON 数据创建配置
//
// 未出现在 JSON 中的字段保留默认值。
func FromJSON(data []byte) (*Config, error) {
	cfg := NewConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// LoadFile 从 JSON 文件加载配置
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // 用户指定的配置文件路径是预期行为
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return FromJSON(data)
}

// ToJSON 将配置序列化为缩进的 JSON
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}
