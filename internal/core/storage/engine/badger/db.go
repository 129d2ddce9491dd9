package badger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/mydia/go-remoteaccess/internal/core/storage/engine"
	"github.com/mydia/go-remoteaccess/internal/util/logger"
)

var log = logger.Logger("storage/badger")

// Engine BadgerDB 存储引擎
type Engine struct {
	db     *badger.DB
	config *engine.Config
	closed atomic.Bool

	gcCtx    context.Context
	gcCancel context.CancelFunc
	gcWg     sync.WaitGroup
}

var _ engine.Engine = (*Engine)(nil)

// New 创建新的 BadgerDB 存储引擎
func New(cfg *engine.Config) (*Engine, error) {
	if cfg == nil {
		return nil, engine.ErrInvalidConfig
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.EnsureDir(); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(cfg.Path).
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithMemTableSize(cfg.MemTableSize).
		WithLogger(badgerLogger{})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", cfg.Path, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		db:       db,
		config:   cfg,
		gcCtx:    ctx,
		gcCancel: cancel,
	}, nil
}

// badgerLogger 把 badger 内部日志转发到 slog
//
// Info/Debug 级别噪音较大，只保留告警与错误。
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	log.Error(fmt.Sprintf(format, args...))
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	log.Warn(fmt.Sprintf(format, args...))
}

func (badgerLogger) Infof(string, ...interface{}) {}

func (badgerLogger) Debugf(string, ...interface{}) {}

// Start 启动存储引擎
func (e *Engine) Start() error {
	if e.closed.Load() {
		return engine.ErrClosed
	}
	if e.config.GCInterval > 0 {
		e.gcWg.Add(1)
		go e.gcLoop()
	}
	return nil
}

func (e *Engine) gcLoop() {
	defer e.gcWg.Done()

	ticker := time.NewTicker(e.config.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.gcCtx.Done():
			return
		case <-ticker.C:
			// 运行 GC 直到返回错误（没有更多可回收的空间）
			for !e.closed.Load() {
				if err := e.db.RunValueLogGC(e.config.GCDiscardRatio); err != nil {
					break
				}
			}
		}
	}
}

// Get 获取指定键的值
func (e *Engine) Get(key []byte) ([]byte, error) {
	var value []byte
	err := e.View(func(txn engine.Txn) error {
		var err error
		value, err = txn.Get(key)
		return err
	})
	return value, err
}

// Put 设置键值对
func (e *Engine) Put(key, value []byte) error {
	return e.Update(func(txn engine.Txn) error {
		return txn.Set(key, value)
	})
}

// Delete 删除指定键
func (e *Engine) Delete(key []byte) error {
	return e.Update(func(txn engine.Txn) error {
		return txn.Delete(key)
	})
}

// Has 检查键是否存在
func (e *Engine) Has(key []byte) (bool, error) {
	_, err := e.Get(key)
	switch {
	case err == nil:
		return true, nil
	case engine.IsNotFound(err):
		return false, nil
	default:
		return false, err
	}
}

// Scan 遍历前缀
func (e *Engine) Scan(prefix []byte, fn func(key, value []byte) bool) error {
	return e.View(func(txn engine.Txn) error {
		return txn.Scan(prefix, fn)
	})
}

// Update 在读写事务中执行 fn
func (e *Engine) Update(fn func(txn engine.Txn) error) error {
	if e.closed.Load() {
		return engine.ErrClosed
	}
	err := e.db.Update(func(txn *badger.Txn) error {
		return fn(&Transaction{txn: txn, writable: true})
	})
	return convertError(err)
}

// View 在只读事务中执行 fn
func (e *Engine) View(fn func(txn engine.Txn) error) error {
	if e.closed.Load() {
		return engine.ErrClosed
	}
	err := e.db.View(func(txn *badger.Txn) error {
		return fn(&Transaction{txn: txn})
	})
	return convertError(err)
}

// Close 关闭存储引擎
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	e.gcCancel()
	e.gcWg.Wait()
	return e.db.Close()
}

// convertError 转换 BadgerDB 错误到引擎错误
func convertError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return engine.ErrNotFound
	case errors.Is(err, badger.ErrEmptyKey):
		return engine.ErrEmptyKey
	case errors.Is(err, badger.ErrConflict):
		return engine.ErrTransactionConflict
	case errors.Is(err, badger.ErrDBClosed):
		return engine.ErrClosed
	default:
		return err
	}
}
