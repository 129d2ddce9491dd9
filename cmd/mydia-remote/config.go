package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/mydia/go-remoteaccess/config"
	"github.com/mydia/go-remoteaccess/internal/util/logger"
)

// ============================================================================
//                              配置加载（CLI 专用）
// ============================================================================

// 环境变量名（均使用 MYDIA_ 前缀）
const (
	envPrefix = "MYDIA_"

	envConfig         = "CONFIG"
	envDataDir        = "DATA_DIR"
	envEnabled        = "REMOTE_ACCESS_ENABLED"
	envSecretKeyBase  = "SECRET_KEY_BASE"
	envRelayURL       = "RELAY_URL"
	envDirectURLs     = "DIRECT_URLS"
	envDetectPublicIP = "DETECT_PUBLIC_IP"
	envCertDir        = "CERT_DIR"
	envSTUNServers    = "STUN_SERVERS"
	envLocalAPIURL    = "LOCAL_API_URL"
	envUpdateURL      = "UPDATE_URL"
	envMetricsAddr    = "METRICS_ADDR"
	envLogFile        = "LOG_FILE"
)

// loadConfig 加载配置文件（可选）并应用环境变量覆盖
//
// 配置优先级（从高到低）：
//  1. 命令行参数
//  2. 环境变量（MYDIA_* 前缀）
//  3. 配置文件
//  4. 默认值
func loadConfig(path string, getenv func(string) string) (*config.Config, error) {
	if path == "" {
		path = getenv(envPrefix + envConfig)
	}

	cfg := config.NewConfig()
	if path != "" {
		var err error
		cfg, err = config.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("加载配置文件失败: %w", err)
		}
	}
	applyEnvOverrides(cfg, getenv)
	return cfg, nil
}

// applyEnvOverrides 应用环境变量覆盖配置
//
// SECRET_KEY_BASE（无前缀）作为 MYDIA_SECRET_KEY_BASE 的后备，与 Mydia 主程序共用。
func applyEnvOverrides(cfg *config.Config, getenv func(string) string) {
	env := func(name string) string {
		return strings.TrimSpace(getenv(envPrefix + name))
	}

	if v := env(envDataDir); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := env(envEnabled); v != "" {
		cfg.RemoteAccess.Enabled = parseBool(v)
	}
	if v := env(envSecretKeyBase); v != "" {
		cfg.RemoteAccess.SecretKeyBase = v
	} else if v := strings.TrimSpace(getenv(envSecretKeyBase)); v != "" && cfg.RemoteAccess.SecretKeyBase == "" {
		cfg.RemoteAccess.SecretKeyBase = v
	}
	if v := env(envRelayURL); v != "" {
		cfg.Relay.URL = v
	}
	if v := env(envDirectURLs); v != "" {
		cfg.RemoteAccess.DirectURLs = splitAndTrim(v, ",")
	}
	if v := env(envDetectPublicIP); v != "" {
		cfg.RemoteAccess.DirectAccess.DetectPublicIP = parseBool(v)
	}
	if v := env(envCertDir); v != "" {
		cfg.RemoteAccess.DirectAccess.CertDir = v
	}
	if v := env(envSTUNServers); v != "" {
		cfg.NAT.STUNServers = splitAndTrim(v, ",")
	}
	if v := env(envLocalAPIURL); v != "" {
		cfg.LocalAPI.BaseURL = v
	}
	if v := env(envUpdateURL); v != "" {
		cfg.RemoteAccess.UpdateURL = v
	}
	if v := env(envMetricsAddr); v != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.ListenAddr = v
	}
	if v := env(envLogFile); v != "" {
		cfg.Log.File = v
	}
}

// setupLogging 按配置设置日志级别、格式和输出文件
//
// 返回的文件句柄由调用方关闭。
func setupLogging(cfg config.LogConfig) (*os.File, error) {
	if cfg.Level != "" || cfg.Format != "" {
		logger.Configure(cfg.Level, cfg.Format)
	}
	if cfg.File == "" {
		return nil, nil
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600) //nolint:gosec // 用户指定的日志路径
	if err != nil {
		return nil, fmt.Errorf("打开日志文件失败: %w", err)
	}
	logger.SetOutput(f)
	return f, nil
}

// ============================================================================
//                              辅助函数
// ============================================================================

// parseBool 解析布尔值字符串
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// splitAndTrim 分割字符串并去除空白
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
