// Package executor 在硬超时下执行单元任务
//
// 任务运行在独立 goroutine 中。超时后调用方立即返回 ErrTimeout，
// 任务的 context 被取消；任务 panic 或返回错误时包装为 *ExceptionError，
// 不会传播到调用方。
package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mydia/go-remoteaccess/internal/util/logger"
)

var log = logger.Logger("executor")

// DefaultTimeout 默认超时
const DefaultTimeout = 30 * time.Second

// ErrTimeout 任务超过截止时间
var ErrTimeout = errors.New("executor: timeout")

// ExceptionError 任务内部故障
type ExceptionError struct {
	// Err 任务返回的错误；panic 时为 nil
	Err error

	// Panic panic 值
	Panic any

	// Stack panic 时的调用栈
	Stack []byte
}

func (e *ExceptionError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("executor: task panicked: %v", e.Panic)
	}
	return fmt.Sprintf("executor: task failed: %v", e.Err)
}

func (e *ExceptionError) Unwrap() error {
	return e.Err
}

// IsException 是否为任务内部故障
func IsException(err error) bool {
	var ee *ExceptionError
	return errors.As(err, &ee)
}

type options struct {
	cleanup     func()
	concurrency int
}

// Option 执行选项
type Option func(*options)

// WithCleanup 超时时调用的清理函数
func WithCleanup(fn func()) Option {
	return func(o *options) {
		o.cleanup = fn
	}
}

// WithConcurrency 限制 RunAll 的并发数，<=0 表示不限制
func WithConcurrency(n int) Option {
	return func(o *options) {
		o.concurrency = n
	}
}

type outcome[T any] struct {
	val T
	err error
}

// Run 在 timeout 内执行 fn
//
// timeout <= 0 时使用 DefaultTimeout。父 context 取消时返回其错误。
func Run[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if err := ctx.Err(); err != nil {
		var zero T
		return zero, err
	}

	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// 缓冲为 1，超时返回后任务仍可写入结果并退出
	done := make(chan outcome[T], 1)
	go func() {
		var res outcome[T]
		defer func() {
			if r := recover(); r != nil {
				log.Error("任务 panic", "panic", r)
				res = outcome[T]{err: &ExceptionError{Panic: r, Stack: debug.Stack()}}
			}
			done <- res
		}()
		val, err := fn(taskCtx)
		if err != nil {
			err = &ExceptionError{Err: err}
		}
		res = outcome[T]{val: val, err: err}
	}()

	select {
	case res := <-done:
		return res.val, res.err
	case <-taskCtx.Done():
		var zero T
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		log.Warn("任务超时", "timeout", timeout)
		if o.cleanup != nil {
			o.cleanup()
		}
		return zero, ErrTimeout
	}
}

// Result RunAll 的单项结果
type Result[T any] struct {
	Value T
	Err   error
}

// RunAll 并发执行 fns，每项独立计时，结果顺序与输入一致
func RunAll[T any](ctx context.Context, timeout time.Duration, fns []func(ctx context.Context) (T, error), opts ...Option) []Result[T] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	results := make([]Result[T], len(fns))
	var g errgroup.Group
	if o.concurrency > 0 {
		g.SetLimit(o.concurrency)
	}
	for i, fn := range fns {
		i, fn := i, fn
		g.Go(func() error {
			val, err := Run(ctx, timeout, fn, opts...)
			results[i] = Result[T]{Value: val, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
