// Package logger 提供统一的日志接口
//
// 支持通过环境变量配置日志级别：
//   - MYDIA_LOG_LEVEL: 设置日志级别，支持按子系统配置
//     格式: 子系统=级别,子系统=级别,默认级别
//     示例: tunnel=debug,relay=warn,info
//   - MYDIA_LOG_FORMAT: 日志格式 (text、json 或 tint)
package logger

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

// 环境变量名
const (
	EnvLogLevel     = "MYDIA_LOG_LEVEL"
	EnvLogFormat    = "MYDIA_LOG_FORMAT"
	EnvLogAddSource = "MYDIA_LOG_ADD_SOURCE"
)

// LogFormat 日志输出格式
type LogFormat int

const (
	// FormatText 文本格式（默认）
	FormatText LogFormat = iota
	// FormatJSON JSON 格式
	FormatJSON
	// FormatTint 彩色终端格式
	FormatTint
)

// ParseFormat 解析格式名称，未知名称返回 FormatText
func ParseFormat(name string) LogFormat {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "json":
		return FormatJSON
	case "tint", "color", "colour":
		return FormatTint
	default:
		return FormatText
	}
}

// Config 日志配置
type Config struct {
	// DefaultLevel 默认日志级别
	DefaultLevel slog.Level

	// SubsystemLevels 各子系统的日志级别
	SubsystemLevels map[string]slog.Level

	// Format 输出格式
	Format LogFormat

	// AddSource 是否添加源码位置
	AddSource bool
}

// LevelForSubsystem 获取指定子系统的日志级别
func (c *Config) LevelForSubsystem(subsystem string) slog.Level {
	if level, ok := c.SubsystemLevels[subsystem]; ok {
		return level
	}
	return c.DefaultLevel
}

// configCache 缓存配置，避免重复解析
var (
	configCache *Config
	configMu    sync.Mutex
)

// ConfigFromEnv 从环境变量解析配置
//
// 环境变量:
//   - MYDIA_LOG_LEVEL: 日志级别配置
//   - MYDIA_LOG_FORMAT: text、json 或 tint
//   - MYDIA_LOG_ADD_SOURCE: true 或 false
func ConfigFromEnv() *Config {
	configMu.Lock()
	defer configMu.Unlock()
	if configCache == nil {
		configCache = parseConfig()
	}
	return configCache
}

// Configure 使用显式配置覆盖环境变量配置
//
// 应在创建任何 Logger 之前调用；已创建的 Logger 只会同步级别。
func Configure(levelSpec, format string) {
	configMu.Lock()
	cfg := parseConfig()
	if levelSpec != "" {
		parseLevelConfig(cfg, levelSpec)
	}
	if format != "" {
		cfg.Format = ParseFormat(format)
	}
	configCache = cfg
	configMu.Unlock()

	handlers.Range(func(key, value any) bool {
		value.(*subsystemHandler).SetLevel(cfg.LevelForSubsystem(key.(string)))
		return true
	})
}

// parseConfig 解析环境变量配置
func parseConfig() *Config {
	cfg := &Config{
		DefaultLevel:    slog.LevelInfo,
		SubsystemLevels: make(map[string]slog.Level),
		Format:          FormatText,
		AddSource:       false,
	}

	if levelStr := os.Getenv(EnvLogLevel); levelStr != "" {
		parseLevelConfig(cfg, levelStr)
	}

	if formatStr := os.Getenv(EnvLogFormat); formatStr != "" {
		cfg.Format = ParseFormat(formatStr)
	}

	if addSourceStr := os.Getenv(EnvLogAddSource); addSourceStr != "" {
		cfg.AddSource = addSourceStr != "false" && addSourceStr != "0"
	}

	return cfg
}

// parseLevelConfig 解析日志级别配置字符串
// 格式: subsystem=level,subsystem=level,defaultLevel
func parseLevelConfig(cfg *Config, levelStr string) {
	for _, part := range strings.Split(levelStr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if subsystem, levelName, ok := strings.Cut(part, "="); ok {
			if level, ok := parseLevel(strings.TrimSpace(levelName)); ok {
				cfg.SubsystemLevels[strings.TrimSpace(subsystem)] = level
			}
			continue
		}

		if level, ok := parseLevel(part); ok {
			cfg.DefaultLevel = level
		}
	}
}

// parseLevel 解析日志级别名称
func parseLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// ResetConfig 重置配置缓存（仅用于测试）
func ResetConfig() {
	configMu.Lock()
	configCache = nil
	configMu.Unlock()
}
