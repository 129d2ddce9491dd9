package config

import (
	"errors"
	"net/url"
)

// RemoteAccessConfig 远程访问实例配置
//
// 实例身份（instance_id、静态密钥对）保存在存储中，
// 这里只保存运行参数与静态直连地址。
type RemoteAccessConfig struct {
	// Enabled 是否启用远程访问
	Enabled bool `json:"enabled"`

	// SecretKeyBase 用于静态私钥落盘加密的主密钥
	// 为空时中继管理器启动会报告配置错误
	SecretKeyBase string `json:"secret_key_base,omitempty"`

	// DirectURLs 静态配置的直连地址
	DirectURLs []string `json:"direct_urls,omitempty"`

	// UpdateURL 协议版本不兼容时提示给客户端的更新地址
	UpdateURL string `json:"update_url,omitempty"`

	// DirectAccess 直连 HTTPS 配置
	DirectAccess DirectAccessConfig `json:"direct_access"`
}

// DirectAccessConfig 直连（非中继）访问配置
type DirectAccessConfig struct {
	// DetectPublicIP 通过 STUN 发现公网 IP 并生成直连地址
	DetectPublicIP bool `json:"detect_public_ip"`

	// Scheme 直连地址协议
	Scheme string `json:"scheme"`

	// Port 直连地址端口
	Port int `json:"port"`

	// CertDir 自签名证书目录，为空时不生成证书
	CertDir string `json:"cert_dir,omitempty"`
}

// DefaultRemoteAccessConfig 返回默认配置（默认关闭）
func DefaultRemoteAccessConfig() RemoteAccessConfig {
	return RemoteAccessConfig{
		Enabled: false,
		DirectAccess: DirectAccessConfig{
			DetectPublicIP: false,
			Scheme:         "https",
			Port:           4443,
		},
	}
}

// Validate 验证配置
func (c *RemoteAccessConfig) Validate() error {
	for _, raw := range c.DirectURLs {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return errors.New("remote_access: invalid direct url " + raw)
		}
	}
	if c.DirectAccess.Port < 0 || c.DirectAccess.Port > 65535 {
		return errors.New("remote_access: direct_access.port out of range")
	}
	if c.DirectAccess.Scheme != "http" && c.DirectAccess.Scheme != "https" {
		return errors.New("remote_access: direct_access.scheme must be http or https")
	}
	return nil
}
