package devicestore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/curve25519"

	"github.com/mydia/go-remoteaccess/internal/core/storage/engine"
	"github.com/mydia/go-remoteaccess/internal/core/storage/engine/badger"
)

// TestEnsureInstance 首次生成，之后读取同一身份
func TestEnsureInstance(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	_, err := s.LoadInstance(ctx)
	assert.ErrorIs(t, err, ErrInstanceNotFound)

	inst, err := s.EnsureInstance(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, inst.InstanceID)
	require.Len(t, inst.PrivateKey, 32)

	pub, err := curve25519.X25519(inst.PrivateKey, curve25519.Basepoint)
	require.NoError(t, err)
	assert.Equal(t, pub, inst.PublicKey)

	again, err := s.EnsureInstance(ctx)
	require.NoError(t, err)
	assert.Equal(t, inst.InstanceID, again.InstanceID)
	assert.Equal(t, inst.PrivateKey, again.PrivateKey)
}

// TestInstance_PrivateKeySealed 私钥不以明文落盘，主密钥不匹配无法解密
func TestInstance_PrivateKeySealed(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "inst.db")
	eng, err := badger.New(engine.DefaultConfig(dir))
	require.NoError(t, err)
	defer func() { _ = eng.Close() }()

	ctx := context.Background()
	s := New(eng, WithSecret([]byte("secret-a")))
	inst, err := s.EnsureInstance(ctx)
	require.NoError(t, err)

	raw, err := eng.Get([]byte("inst/self"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), string(inst.PrivateKey))
	assert.NotContains(t, string(raw), "\"PrivateKey\"")

	other := New(eng, WithSecret([]byte("secret-b")))
	_, err = other.LoadInstance(ctx)
	assert.ErrorIs(t, err, ErrSealedKey)

	noSecret := New(eng)
	_, err = noSecret.LoadInstance(ctx)
	assert.ErrorIs(t, err, ErrNoSecret)
}

func TestUpdateInstance(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	_, err := s.EnsureInstance(ctx)
	require.NoError(t, err)

	updated, err := s.UpdateInstance(ctx, func(inst *Instance) {
		inst.DirectURLs = []string{"https://203.0.113.7:4443"}
		inst.CertFingerprint = "AA:BB"
	})
	require.NoError(t, err)

	loaded, err := s.LoadInstance(ctx)
	require.NoError(t, err)
	assert.Equal(t, updated.DirectURLs, loaded.DirectURLs)
	assert.Equal(t, "AA:BB", loaded.CertFingerprint)
}
