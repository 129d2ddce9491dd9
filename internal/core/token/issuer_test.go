package token

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mydia/go-remoteaccess/internal/core/devicestore"
)

type fakeDevices map[string]*devicestore.Device

func (f fakeDevices) GetDevice(_ context.Context, id string) (*devicestore.Device, error) {
	d, ok := f[id]
	if !ok || d.Revoked() {
		return nil, devicestore.ErrNotFound
	}
	return d, nil
}

func testIssuer(t *testing.T, devices fakeDevices) (*Issuer, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Now())
	key, err := RandomKey()
	require.NoError(t, err)
	iss, err := NewIssuer(Config{Key: key, Issuer: "mydia"}, devices, WithClock(mock))
	require.NoError(t, err)
	return iss, mock
}

// TestIssueVerify 签发的令牌可以解析回设备
func TestIssueVerify(t *testing.T) {
	dev := &devicestore.Device{ID: "dev-1", UserID: "user-1"}
	iss, _ := testIssuer(t, fakeDevices{"dev-1": dev})

	raw, err := iss.Issue(dev)
	require.NoError(t, err)
	assert.NotEmpty(t, raw)

	got, claims, err := iss.Verify(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "dev-1", got.ID)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, []string{"read", "stream"}, claims.Permissions)
	assert.True(t, claims.Has("stream"))
	assert.False(t, claims.Has("admin"))
}

// TestVerify_Expired 超过 24 小时的令牌被拒绝
func TestVerify_Expired(t *testing.T) {
	dev := &devicestore.Device{ID: "dev-1", UserID: "user-1"}
	iss, mock := testIssuer(t, fakeDevices{"dev-1": dev})

	raw, err := iss.Issue(dev)
	require.NoError(t, err)

	mock.Add(DefaultTTL + time.Second)
	_, _, err = iss.Verify(context.Background(), raw)
	assert.ErrorIs(t, err, ErrExpired)
}

// TestVerify_RevokedDevice 已吊销与不存在的设备返回同一错误
func TestVerify_RevokedDevice(t *testing.T) {
	now := time.Now()
	revoked := &devicestore.Device{ID: "dev-r", UserID: "u", RevokedAt: &now}
	gone := &devicestore.Device{ID: "dev-gone", UserID: "u"}
	iss, _ := testIssuer(t, fakeDevices{"dev-r": revoked})

	raw, err := iss.Issue(revoked)
	require.NoError(t, err)
	_, _, errRevoked := iss.Verify(context.Background(), raw)

	raw, err = iss.Issue(gone)
	require.NoError(t, err)
	_, _, errGone := iss.Verify(context.Background(), raw)

	assert.ErrorIs(t, errRevoked, ErrDeviceRevoked)
	assert.Equal(t, errRevoked, errGone)
}

func TestVerify_BadSignature(t *testing.T) {
	dev := &devicestore.Device{ID: "dev-1", UserID: "user-1"}
	a, _ := testIssuer(t, fakeDevices{"dev-1": dev})
	b, _ := testIssuer(t, fakeDevices{"dev-1": dev})

	raw, err := a.Issue(dev)
	require.NoError(t, err)

	_, _, err = b.Verify(context.Background(), raw)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = a.Parse("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewIssuer_ShortKey(t *testing.T) {
	_, err := NewIssuer(Config{Key: []byte("short")}, fakeDevices{})
	assert.ErrorIs(t, err, ErrShortKey)
}

func TestDeriveKey_Deterministic(t *testing.T) {
	a, err := DeriveKey([]byte("secret"))
	require.NoError(t, err)
	b, err := DeriveKey([]byte("secret"))
	require.NoError(t, err)
	c, err := DeriveKey([]byte("other"))
	require.NoError(t, err)

	assert.Len(t, a, 32)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
