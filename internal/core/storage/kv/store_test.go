package kv

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mydia/go-remoteaccess/internal/core/storage/engine"
	"github.com/mydia/go-remoteaccess/internal/core/storage/engine/badger"
)

// testEngine 创建测试用引擎
func testEngine(t *testing.T) engine.Engine {
	t.Helper()

	eng, err := badger.New(engine.DefaultConfig(filepath.Join(t.TempDir(), "test.db")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestStore_PrefixIsolation(t *testing.T) {
	eng := testEngine(t)
	a := New(eng, []byte("a/"))
	b := New(eng, []byte("b/"))

	require.NoError(t, a.Put([]byte("k"), []byte("from-a")))
	require.NoError(t, b.Put([]byte("k"), []byte("from-b")))

	got, err := a.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("from-a"), got)

	// 实际键带前缀
	raw, err := eng.Get([]byte("b/k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("from-b"), raw)

	require.NoError(t, a.Delete([]byte("k")))
	ok, err := a.Has([]byte("k"))
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = b.Has([]byte("k"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStore_JSON(t *testing.T) {
	s := New(testEngine(t), []byte("r/"))

	require.NoError(t, s.PutJSON([]byte("one"), record{Name: "one", Count: 1}))

	var got record
	require.NoError(t, s.GetJSON([]byte("one"), &got))
	assert.Equal(t, record{Name: "one", Count: 1}, got)

	err := s.GetJSON([]byte("missing"), &got)
	assert.True(t, engine.IsNotFound(err))
}

// TestStore_PrefixScan 扫描结果去除 Store 前缀
func TestStore_PrefixScan(t *testing.T) {
	s := New(testEngine(t), []byte("dev/"))

	require.NoError(t, s.Put([]byte("x1"), []byte("1")))
	require.NoError(t, s.Put([]byte("x2"), []byte("2")))
	require.NoError(t, s.Put([]byte("y1"), []byte("3")))

	var keys []string
	require.NoError(t, s.PrefixScan([]byte("x"), func(key, _ []byte) bool {
		keys = append(keys, string(key))
		return true
	}))
	assert.Equal(t, []string{"x1", "x2"}, keys)

	n, err := s.Count(nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

// TestStore_SubStoreTransaction 一个事务跨两个子存储原子提交
func TestStore_SubStoreTransaction(t *testing.T) {
	root := New(testEngine(t), nil)
	claims := root.SubStore([]byte("claim/"))
	devices := root.SubStore([]byte("dev/"))
	assert.Equal(t, []byte("claim/"), claims.Prefix())

	require.NoError(t, claims.PutJSON([]byte("ABCD"), record{Name: "claim"}))

	err := claims.Update(func(tx *Tx) error {
		var c record
		if err := tx.GetJSON([]byte("ABCD"), &c); err != nil {
			return err
		}
		c.Count++
		if err := tx.SetJSON([]byte("ABCD"), c); err != nil {
			return err
		}
		return tx.In(devices).SetJSON([]byte("dev1"), record{Name: "device"})
	})
	require.NoError(t, err)

	var d record
	require.NoError(t, devices.GetJSON([]byte("dev1"), &d))
	assert.Equal(t, "device", d.Name)

	// 失败的事务两边都不落盘
	boom := errors.New("boom")
	err = claims.Update(func(tx *Tx) error {
		_ = tx.Delete([]byte("ABCD"))
		_ = tx.In(devices).Delete([]byte("dev1"))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	ok, err := claims.Has([]byte("ABCD"))
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, devices.View(func(tx *Tx) error {
		var keys []string
		err := tx.PrefixScan(nil, func(key, _ []byte) bool {
			keys = append(keys, string(key))
			return true
		})
		assert.Equal(t, []string{"dev1"}, keys)
		return err
	}))
}
