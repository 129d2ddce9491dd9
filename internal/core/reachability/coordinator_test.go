package reachability

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mydia/go-remoteaccess/config"
	"github.com/mydia/go-remoteaccess/internal/core/devicestore"
	"github.com/mydia/go-remoteaccess/internal/core/nat/stun"
	"github.com/mydia/go-remoteaccess/internal/core/storage/engine"
	"github.com/mydia/go-remoteaccess/internal/core/storage/engine/badger"
)

// fakeDiscoverer 依次返回预设的结果，用完后重复最后一个
type fakeDiscoverer struct {
	mu      sync.Mutex
	results []*stun.Result
	errs    []error
	calls   int
}

func (f *fakeDiscoverer) Discover(context.Context) (*stun.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	return f.results[i], f.errs[i]
}

func (f *fakeDiscoverer) push(ip string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var r *stun.Result
	if ip != "" {
		r = &stun.Result{IP: net.ParseIP(ip), Port: 50000}
	}
	f.results = append(f.results, r)
	f.errs = append(f.errs, err)
}

func (f *fakeDiscoverer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testStore(t *testing.T) *devicestore.Store {
	t.Helper()
	eng, err := badger.New(engine.DefaultConfig(filepath.Join(t.TempDir(), "devices.db")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	s := devicestore.New(eng, devicestore.WithSecret([]byte("reachability-secret")))
	_, err = s.EnsureInstance(context.Background())
	require.NoError(t, err)
	return s
}

type changeRecorder struct {
	mu    sync.Mutex
	calls [][]string
}

func (r *changeRecorder) record(_ context.Context, urls []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, urls)
	return nil
}

func (r *changeRecorder) snapshot() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.calls...)
}

func testConfig() Config {
	return Config{
		Enabled:          true,
		Scheme:           "https",
		Port:             4443,
		StaticURLs:       []string{"https://media.example.com"},
		RedetectInterval: time.Minute,
	}
}

// TestDetect_PersistsAndNotifies 探测成功后持久化并回调
func TestDetect_PersistsAndNotifies(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)
	disc := &fakeDiscoverer{}
	disc.push("198.51.100.7", nil)

	rec := &changeRecorder{}
	c := NewCoordinator(testConfig(), disc, store)
	c.SetOnAddressChanged(rec.record)

	urls, err := c.Detect(ctx)
	require.NoError(t, err)
	want := []string{"https://media.example.com", "https://198.51.100.7:4443"}
	assert.Equal(t, want, urls)
	assert.Equal(t, want, c.DirectURLs())
	assert.Equal(t, "198.51.100.7", c.PublicIP().String())
	assert.Equal(t, [][]string{want}, rec.snapshot())

	inst, err := store.LoadInstance(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, inst.DirectURLs)

	// 地址不变时不再回调
	_, err = c.Detect(ctx)
	require.NoError(t, err)
	assert.Len(t, rec.snapshot(), 1)
}

// TestDetect_FailureKeepsURLs 探测失败不撤回已有地址
func TestDetect_FailureKeepsURLs(t *testing.T) {
	disc := &fakeDiscoverer{}
	disc.push("198.51.100.7", nil)
	disc.push("", stun.ErrAllServersFailed)

	rec := &changeRecorder{}
	c := NewCoordinator(testConfig(), disc, nil)
	c.SetOnAddressChanged(rec.record)

	first, err := c.Detect(context.Background())
	require.NoError(t, err)

	urls, err := c.Detect(context.Background())
	assert.ErrorIs(t, err, stun.ErrAllServersFailed)
	assert.Equal(t, first, urls)
	assert.Len(t, rec.snapshot(), 1)
}

func TestDetect_AddressChange(t *testing.T) {
	disc := &fakeDiscoverer{}
	disc.push("198.51.100.7", nil)
	disc.push("203.0.113.9", nil)

	rec := &changeRecorder{}
	cfg := testConfig()
	cfg.StaticURLs = nil
	c := NewCoordinator(cfg, disc, nil)
	c.SetOnAddressChanged(rec.record)

	_, err := c.Detect(context.Background())
	require.NoError(t, err)
	_, err = c.Detect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, [][]string{
		{"https://198.51.100.7:4443"},
		{"https://203.0.113.9:4443"},
	}, rec.snapshot())
}

func TestDetect_RejectsIPv6(t *testing.T) {
	disc := &fakeDiscoverer{}
	disc.push("2001:db8::1", nil)

	c := NewCoordinator(testConfig(), disc, nil)
	urls, err := c.Detect(context.Background())
	assert.ErrorIs(t, err, stun.ErrIPv6Unsupported)
	assert.Equal(t, []string{"https://media.example.com"}, urls)
	assert.Nil(t, c.PublicIP())
}

// TestStart_Redetect 启动后立即探测，之后按间隔重新探测
func TestStart_Redetect(t *testing.T) {
	disc := &fakeDiscoverer{}
	disc.push("198.51.100.7", nil)
	mock := clock.NewMock()

	c := NewCoordinator(testConfig(), disc, nil, WithClock(mock))
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Stop() })

	require.Eventually(t, func() bool { return disc.count() >= 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		mock.Add(time.Minute)
		return disc.count() >= 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Stop())
	require.NoError(t, c.Stop())
}

func TestStart_Disabled(t *testing.T) {
	disc := &fakeDiscoverer{}
	disc.push("198.51.100.7", nil)
	cfg := testConfig()
	cfg.Enabled = false

	c := NewCoordinator(cfg, disc, nil)
	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Stop())
	assert.Zero(t, disc.count())
	assert.Equal(t, []string{"https://media.example.com"}, c.DirectURLs())
}

func TestChangeCallbackError(t *testing.T) {
	disc := &fakeDiscoverer{}
	disc.push("198.51.100.7", nil)

	c := NewCoordinator(testConfig(), disc, nil)
	c.SetOnAddressChanged(func(context.Context, []string) error {
		return errors.New("relay offline")
	})
	_, err := c.Detect(context.Background())
	assert.NoError(t, err)
}

func TestBuildURL(t *testing.T) {
	ip := net.ParseIP("198.51.100.7")
	assert.Equal(t, "https://198.51.100.7:4443", BuildURL("https", ip, 4443))
	assert.Equal(t, "https://198.51.100.7", BuildURL("https", ip, 443))
	assert.Equal(t, "http://198.51.100.7", BuildURL("http", ip, 80))
	assert.Equal(t, "http://198.51.100.7:443", BuildURL("http", ip, 443))
	assert.Equal(t, "https://198.51.100.7", BuildURL("https", ip, 0))
}

func TestConfigFromUnified(t *testing.T) {
	cfg := config.NewConfig()
	assert.False(t, ConfigFromUnified(cfg).Enabled)

	cfg.RemoteAccess.Enabled = true
	assert.False(t, ConfigFromUnified(cfg).Enabled)

	cfg.RemoteAccess.DirectAccess.DetectPublicIP = true
	cfg.RemoteAccess.DirectAccess.Port = 8443
	cfg.RemoteAccess.DirectURLs = []string{"https://a.example"}
	got := ConfigFromUnified(cfg)
	assert.True(t, got.Enabled)
	assert.Equal(t, 8443, got.Port)
	assert.Equal(t, "https", got.Scheme)
	assert.Equal(t, []string{"https://a.example"}, got.StaticURLs)
	assert.Equal(t, 30*time.Minute, got.RedetectInterval)
}
