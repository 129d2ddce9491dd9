package config

import (
	"errors"
	"net/url"
	"time"
)

// TokenConfig 媒体令牌配置
type TokenConfig struct {
	// SigningKey HS256 签名密钥，为空时使用 RemoteAccess.SecretKeyBase
	SigningKey string `json:"signing_key,omitempty"`

	// Issuer 令牌签发者
	Issuer string `json:"issuer"`

	// TTL 令牌有效期
	TTL Duration `json:"ttl"`

	// Permissions 默认授予的权限
	Permissions []string `json:"permissions"`
}

// DefaultTokenConfig 返回默认令牌配置
func DefaultTokenConfig() TokenConfig {
	return TokenConfig{
		Issuer:      "mydia",
		TTL:         Duration(24 * time.Hour),
		Permissions: []string{"read", "stream"},
	}
}

// Validate 验证令牌配置
func (c *TokenConfig) Validate() error {
	if c.TTL <= 0 {
		return errors.New("token: ttl must be positive")
	}
	if c.Issuer == "" {
		return errors.New("token: issuer cannot be empty")
	}
	return nil
}

// LocalAPIConfig 本地 API 配置
type LocalAPIConfig struct {
	// BaseURL 本地 API 地址（回环）
	BaseURL string `json:"base_url"`

	// MaxBodyBytes 响应体上限
	MaxBodyBytes int64 `json:"max_body_bytes"`
}

// DefaultLocalAPIConfig 返回默认本地 API 配置
func DefaultLocalAPIConfig() LocalAPIConfig {
	return LocalAPIConfig{
		BaseURL:      "http://127.0.0.1:4000",
		MaxBodyBytes: 32 << 20,
	}
}

// Validate 验证本地 API 配置
func (c *LocalAPIConfig) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("local_api: invalid base_url")
	}
	if c.MaxBodyBytes <= 0 {
		return errors.New("local_api: max_body_bytes must be positive")
	}
	return nil
}
