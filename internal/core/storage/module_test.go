package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/mydia/go-remoteaccess/config"
	"github.com/mydia/go-remoteaccess/internal/core/storage/engine"
)

// TestModule 存储模块在 Fx 中启动与关闭
func TestModule(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Storage.DataDir = t.TempDir()

	var eng engine.Engine
	app := fxtest.New(t,
		fx.Supply(cfg),
		Module(),
		fx.Populate(&eng),
	)
	app.RequireStart()

	require.NotNil(t, eng)
	kv := NewKVStore(eng, []byte("test/"))
	require.NoError(t, kv.Put([]byte("k"), []byte("v")))

	app.RequireStop()

	// 关闭后不可再用
	_, err := eng.Get([]byte("test/k"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestConfigFromUnified(t *testing.T) {
	cfg := ConfigFromUnified(nil)
	assert.Equal(t, "./data/remote.db", cfg.Path)

	unified := config.NewConfig()
	unified.Storage.DataDir = "/var/lib/mydia"
	cfg = ConfigFromUnified(unified)
	assert.Equal(t, filepath.Join("/var/lib/mydia", "remote.db"), cfg.Path)
}

func TestNew(t *testing.T) {
	eng, err := New(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	require.NoError(t, eng.Start())
	defer func() { _ = eng.Close() }()

	require.NoError(t, eng.Put([]byte("k"), []byte("v")))
}
