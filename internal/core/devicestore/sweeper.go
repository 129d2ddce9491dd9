package devicestore

import (
	"context"
	"sync"
	"time"
)

const (
	// DefaultSweepInterval 配对码清理间隔
	DefaultSweepInterval = 10 * time.Minute

	// DefaultClaimRetention 过期配对码保留时长
	DefaultClaimRetention = 24 * time.Hour
)

// Sweeper 周期删除过期配对码
type Sweeper struct {
	store    *Store
	interval time.Duration
	retain   time.Duration

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewSweeper 创建清理器，非正值使用默认值
func NewSweeper(store *Store, interval, retain time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if retain < 0 {
		retain = DefaultClaimRetention
	}
	return &Sweeper{store: store, interval: interval, retain: retain}
}

// Start 启动清理循环
func (w *Sweeper) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	ticker := w.store.clock.Ticker(w.interval)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := w.store.SweepClaims(ctx, w.retain)
				if err != nil {
					log.Warn("清理过期配对码失败", "err", err)
					continue
				}
				if n > 0 {
					log.Debug("清理过期配对码", "removed", n)
				}
			}
		}
	}()
}

// Stop 停止清理循环，可重复调用
func (w *Sweeper) Stop() {
	w.stopOnce.Do(func() {
		if w.cancel != nil {
			w.cancel()
		}
		w.wg.Wait()
	})
}
