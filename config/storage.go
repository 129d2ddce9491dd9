package config

import (
	"fmt"
	"path/filepath"
)

// StorageConfig 存储配置
//
// 设备、配对码和实例身份统一保存在 BadgerDB 中：
//
//	${DataDir}/
//	├── remote.db/          # BadgerDB 主数据库
//	└── certs/              # 直连证书（可选）
type StorageConfig struct {
	// DataDir 数据目录路径
	// 默认值: "./data"
	DataDir string `json:"data_dir"`
}

// DefaultStorageConfig 返回默认的存储配置
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		DataDir: "./data",
	}
}

// Validate 验证存储配置的有效性
func (c *StorageConfig) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("storage: data_dir cannot be empty")
	}
	return nil
}

// DBPath 返回 BadgerDB 数据库路径
func (c *StorageConfig) DBPath() string {
	return filepath.Join(c.DataDir, "remote.db")
}
