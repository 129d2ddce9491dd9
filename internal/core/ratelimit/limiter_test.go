package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/mydia/go-remoteaccess/config"
)

func newTestLimiter() (*Limiter, *clock.Mock) {
	mock := clock.NewMock()
	return New(DefaultConfig(), WithClock(mock)), mock
}

// TestCheckAndRecord_SixthAttemptLimited 5 次通过，第 6 次被限流
func TestCheckAndRecord_SixthAttemptLimited(t *testing.T) {
	l, _ := newTestLimiter()

	for i := 0; i < 5; i++ {
		require.NoError(t, l.CheckAndRecord("10.0.0.1"), "attempt %d", i+1)
	}
	assert.ErrorIs(t, l.CheckAndRecord("10.0.0.1"), ErrRateLimited)

	// 其他 IP 不受影响
	assert.NoError(t, l.CheckAndRecord("10.0.0.2"))
}

// TestCheckAndRecord_WindowExpiry 窗口结束后重置为 1
func TestCheckAndRecord_WindowExpiry(t *testing.T) {
	l, mock := newTestLimiter()

	for i := 0; i < 6; i++ {
		_ = l.CheckAndRecord("ip")
	}
	require.ErrorIs(t, l.CheckAndRecord("ip"), ErrRateLimited)

	// 恰好一个窗口时仍在窗口内
	mock.Add(time.Hour)
	assert.ErrorIs(t, l.CheckAndRecord("ip"), ErrRateLimited)

	mock.Add(time.Second)
	require.NoError(t, l.CheckAndRecord("ip"))
	e, ok := l.Lookup("ip")
	require.True(t, ok)
	assert.Equal(t, 1, e.Count)
	assert.Equal(t, mock.Now(), e.WindowStart)
}

func TestReset(t *testing.T) {
	l, _ := newTestLimiter()

	for i := 0; i < 5; i++ {
		require.NoError(t, l.CheckAndRecord("ip"))
	}
	l.Reset("ip")
	_, ok := l.Lookup("ip")
	assert.False(t, ok)
	assert.NoError(t, l.CheckAndRecord("ip"))
}

// TestCheckAndRecord_Concurrent 同一 IP 并发尝试不丢失计数
func TestCheckAndRecord_Concurrent(t *testing.T) {
	l := New(Config{MaxAttempts: 1000, Window: time.Hour, SweepInterval: time.Minute})

	const workers, perWorker = 20, 25
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_ = l.CheckAndRecord("same-ip")
			}
		}()
	}
	wg.Wait()

	e, ok := l.Lookup("same-ip")
	require.True(t, ok)
	assert.Equal(t, workers*perWorker, e.Count)
}

// TestCheckAndRecord_ConcurrentLimit 并发下恰好 MaxAttempts 次通过
func TestCheckAndRecord_ConcurrentLimit(t *testing.T) {
	l, _ := newTestLimiter()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.CheckAndRecord("burst") == nil {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 5, allowed)
}

func TestSweep(t *testing.T) {
	l, mock := newTestLimiter()

	for i := 0; i < 10; i++ {
		require.NoError(t, l.CheckAndRecord(fmt.Sprintf("10.0.0.%d", i)))
	}
	mock.Add(30 * time.Minute)
	require.NoError(t, l.CheckAndRecord("fresh"))
	assert.Equal(t, 11, l.Len())

	mock.Add(31 * time.Minute)
	assert.Equal(t, 10, l.Sweep())
	assert.Equal(t, 1, l.Len())
}

// TestStart_PeriodicSweep 每个清理间隔执行一次 Sweep
func TestStart_PeriodicSweep(t *testing.T) {
	l, mock := newTestLimiter()
	require.NoError(t, l.CheckAndRecord("old"))

	l.Start(context.Background())
	defer l.Stop()

	mock.Add(70 * time.Minute)
	assert.Eventually(t, func() bool { return l.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestModule(t *testing.T) {
	cfg := config.NewConfig()
	cfg.RateLimit.MaxAttempts = 2

	var l *Limiter
	app := fxtest.New(t, fx.Supply(cfg), Module(), fx.Populate(&l))
	app.RequireStart()
	defer app.RequireStop()

	require.NoError(t, l.CheckAndRecord("ip"))
	require.NoError(t, l.CheckAndRecord("ip"))
	assert.ErrorIs(t, l.CheckAndRecord("ip"), ErrRateLimited)
}
