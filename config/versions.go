package config

import "errors"

// VersionsConfig 本端支持的协议版本，格式为 "major.minor"
type VersionsConfig struct {
	Encryption []string `json:"encryption_protocol"`
	Pairing    []string `json:"pairing_protocol"`
	API        []string `json:"api_protocol"`
}

// DefaultVersionsConfig 返回默认版本
func DefaultVersionsConfig() VersionsConfig {
	return VersionsConfig{
		Encryption: []string{"1.0"},
		Pairing:    []string{"1.0"},
		API:        []string{"1.0"},
	}
}

// Validate 验证版本配置
func (c *VersionsConfig) Validate() error {
	if len(c.Encryption) == 0 || len(c.Pairing) == 0 || len(c.API) == 0 {
		return errors.New("versions: every protocol layer needs at least one version")
	}
	return nil
}

// MetricsConfig Prometheus 指标配置
type MetricsConfig struct {
	// Enabled 是否启用 /metrics 监听
	Enabled bool `json:"enabled"`

	// ListenAddr 监听地址
	ListenAddr string `json:"listen_addr"`
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:    false,
		ListenAddr: "127.0.0.1:9464",
	}
}

// Validate 验证指标配置
func (c *MetricsConfig) Validate() error {
	if c.Enabled && c.ListenAddr == "" {
		return errors.New("metrics: listen_addr required when enabled")
	}
	return nil
}

// LogConfig 日志配置，空值表示使用 MYDIA_LOG_* 环境变量
type LogConfig struct {
	// Level 级别规则，例如 "tunnel=debug,info"
	Level string `json:"level,omitempty"`

	// Format text、json 或 tint
	Format string `json:"format,omitempty"`

	// File 日志文件路径
	File string `json:"file,omitempty"`
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{}
}
