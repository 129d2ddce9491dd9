package badger

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mydia/go-remoteaccess/internal/core/storage/engine"
)

// testEngine 创建测试用引擎
// 使用 t.TempDir() 创建临时目录，确保测试与生产一致
func testEngine(t *testing.T) *Engine {
	t.Helper()

	cfg := engine.DefaultConfig(filepath.Join(t.TempDir(), "test.db"))
	e, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, e.Start())

	t.Cleanup(func() {
		assert.NoError(t, e.Close())
	})
	return e
}

func TestEngine_PutGet(t *testing.T) {
	e := testEngine(t)

	require.NoError(t, e.Put([]byte("test-key"), []byte("test-value")))

	got, err := e.Get([]byte("test-key"))
	require.NoError(t, err)
	assert.Equal(t, []byte("test-value"), got)

	ok, err := e.Has([]byte("test-key"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEngine_NotFound(t *testing.T) {
	e := testEngine(t)

	_, err := e.Get([]byte("missing"))
	assert.True(t, engine.IsNotFound(err))

	ok, err := e.Has([]byte("missing"))
	require.NoError(t, err)
	assert.False(t, ok)

	// 删除不存在的键不报错
	assert.NoError(t, e.Delete([]byte("missing")))
}

func TestEngine_EmptyKey(t *testing.T) {
	e := testEngine(t)

	assert.ErrorIs(t, e.Put(nil, []byte("v")), engine.ErrEmptyKey)
	_, err := e.Get(nil)
	assert.ErrorIs(t, err, engine.ErrEmptyKey)
}

// TestEngine_Scan 前缀扫描按键序返回，且不越过前缀
func TestEngine_Scan(t *testing.T) {
	e := testEngine(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, e.Put([]byte(fmt.Sprintf("a/%d", i)), []byte{byte(i)}))
	}
	require.NoError(t, e.Put([]byte("b/0"), []byte("other")))

	var keys []string
	require.NoError(t, e.Scan([]byte("a/"), func(key, _ []byte) bool {
		keys = append(keys, string(key))
		return true
	}))
	assert.Equal(t, []string{"a/0", "a/1", "a/2", "a/3", "a/4"}, keys)

	// 回调返回 false 提前停止
	count := 0
	require.NoError(t, e.Scan([]byte("a/"), func(_, _ []byte) bool {
		count++
		return count < 2
	}))
	assert.Equal(t, 2, count)
}

// TestEngine_UpdateRollback fn 返回错误时不提交
func TestEngine_UpdateRollback(t *testing.T) {
	e := testEngine(t)

	boom := errors.New("boom")
	err := e.Update(func(txn engine.Txn) error {
		require.NoError(t, txn.Set([]byte("k"), []byte("v")))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = e.Get([]byte("k"))
	assert.True(t, engine.IsNotFound(err))
}

func TestEngine_ViewIsReadOnly(t *testing.T) {
	e := testEngine(t)

	err := e.View(func(txn engine.Txn) error {
		return txn.Set([]byte("k"), []byte("v"))
	})
	assert.ErrorIs(t, err, engine.ErrReadOnly)
}

// TestEngine_ConcurrentUpdate 并发读改写同一个键，只有一个事务成功或发生冲突
func TestEngine_ConcurrentUpdate(t *testing.T) {
	e := testEngine(t)
	require.NoError(t, e.Put([]byte("claim"), []byte("unused")))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := e.Update(func(txn engine.Txn) error {
				v, err := txn.Get([]byte("claim"))
				if err != nil {
					return err
				}
				if string(v) != "unused" {
					return errors.New("already used")
				}
				return txn.Set([]byte("claim"), []byte("used"))
			})
			if err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}

func TestEngine_Closed(t *testing.T) {
	cfg := engine.DefaultConfig(filepath.Join(t.TempDir(), "closed.db"))
	e, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, e.Close())
	// 重复关闭是安全的
	require.NoError(t, e.Close())

	_, err = e.Get([]byte("k"))
	assert.ErrorIs(t, err, engine.ErrClosed)
	assert.ErrorIs(t, e.Start(), engine.ErrClosed)
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, engine.ErrInvalidConfig)

	_, err = New(engine.DefaultConfig(""))
	assert.ErrorIs(t, err, engine.ErrInvalidConfig)
}
