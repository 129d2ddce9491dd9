package engine

import (
	"os"
	"path/filepath"
	"time"
)

// Config 存储引擎配置
//
// 测试代码应使用 t.TempDir() 创建临时目录，确保测试与生产一致。
type Config struct {
	// Path 数据目录路径（必需）
	Path string

	// SyncWrites 是否同步写入
	SyncWrites bool

	// GCInterval 值日志垃圾回收间隔，0 表示禁用
	GCInterval time.Duration

	// GCDiscardRatio 垃圾回收丢弃比例
	GCDiscardRatio float64

	// MemTableSize 内存表大小（字节）
	// 设备表很小，默认 16MB 即可
	MemTableSize int64
}

// DefaultConfig 返回默认配置
func DefaultConfig(path string) *Config {
	return &Config{
		Path:           path,
		SyncWrites:     false,
		GCInterval:     10 * time.Minute,
		GCDiscardRatio: 0.5,
		MemTableSize:   16 << 20,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Path == "" {
		return ErrInvalidConfig
	}
	if c.MemTableSize < 1<<20 {
		return ErrInvalidConfig
	}
	if c.GCDiscardRatio <= 0 || c.GCDiscardRatio >= 1 {
		return ErrInvalidConfig
	}
	return nil
}

// EnsureDir 确保数据目录存在
func (c *Config) EnsureDir() error {
	absPath, err := filepath.Abs(c.Path)
	if err != nil {
		return err
	}
	c.Path = absPath
	return os.MkdirAll(c.Path, 0o700)
}
