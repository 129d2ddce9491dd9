package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/lmittmann/tint"
)

var (
	// globalOutput 全局日志输出目标，默认为 stderr
	globalOutput   io.Writer = os.Stderr
	globalOutputMu sync.RWMutex
)

// dynamicWriter 每次写入时查找 globalOutput，
// logger 创建后修改输出目标也能生效
type dynamicWriter struct{}

func (w *dynamicWriter) Write(p []byte) (n int, err error) {
	globalOutputMu.RLock()
	output := globalOutput
	globalOutputMu.RUnlock()
	return output.Write(p)
}

// subsystemHandler 支持子系统级别控制的 slog.Handler
type subsystemHandler struct {
	subsystem string
	level     *slog.LevelVar
	inner     slog.Handler
}

// newHandler 创建新的子系统 Handler
func newHandler(subsystem string, level slog.Level, format LogFormat, addSource bool) *subsystemHandler {
	levelVar := &slog.LevelVar{}
	levelVar.Set(level)

	output := &dynamicWriter{}

	var inner slog.Handler
	switch format {
	case FormatJSON:
		inner = slog.NewJSONHandler(output, &slog.HandlerOptions{
			Level:       slog.LevelDebug,
			AddSource:   addSource,
			ReplaceAttr: replaceAttr,
		})
	case FormatTint:
		inner = tint.NewHandler(output, &tint.Options{
			Level:      slog.LevelDebug,
			AddSource:  addSource,
			TimeFormat: time.TimeOnly,
		})
	default:
		inner = slog.NewTextHandler(output, &slog.HandlerOptions{
			Level:       slog.LevelDebug,
			AddSource:   addSource,
			ReplaceAttr: replaceAttr,
		})
	}

	inner = inner.WithAttrs([]slog.Attr{
		slog.String("subsystem", subsystem),
	})

	return &subsystemHandler{
		subsystem: subsystem,
		level:     levelVar,
		inner:     inner,
	}
}

// replaceAttr 简化时间键和级别名称
func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey {
		a.Key = "ts"
	}
	if a.Key == slog.LevelKey {
		if lvl, ok := a.Value.Any().(slog.Level); ok {
			a.Value = slog.StringValue(levelToString(lvl))
		}
	}
	return a
}

// Enabled 检查是否启用指定级别
func (h *subsystemHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle 处理日志记录
func (h *subsystemHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.inner.Handle(ctx, r)
}

// WithAttrs 添加属性
func (h *subsystemHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &subsystemHandler{
		subsystem: h.subsystem,
		level:     h.level,
		inner:     h.inner.WithAttrs(attrs),
	}
}

// WithGroup 添加组
func (h *subsystemHandler) WithGroup(name string) slog.Handler {
	return &subsystemHandler{
		subsystem: h.subsystem,
		level:     h.level,
		inner:     h.inner.WithGroup(name),
	}
}

// SetLevel 动态设置日志级别，派生的 Handler 共享同一级别
func (h *subsystemHandler) SetLevel(level slog.Level) {
	h.level.Set(level)
}

// levelToString 将日志级别转换为小写字符串
func levelToString(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "error"
	case level >= slog.LevelWarn:
		return "warn"
	case level >= slog.LevelInfo:
		return "info"
	default:
		return "debug"
	}
}

// discardHandler 丢弃所有日志的 Handler（用于测试）
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// DiscardHandler 返回一个丢弃所有日志的 Handler
func DiscardHandler() slog.Handler {
	return discardHandler{}
}
