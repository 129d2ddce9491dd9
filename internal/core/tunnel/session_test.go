package tunnel

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mydia/go-remoteaccess/internal/core/devicestore"
	"github.com/mydia/go-remoteaccess/internal/core/localapi"
	"github.com/mydia/go-remoteaccess/internal/core/metrics"
	"github.com/mydia/go-remoteaccess/internal/core/ratelimit"
	"github.com/mydia/go-remoteaccess/internal/core/security/msgcrypt"
	"github.com/mydia/go-remoteaccess/internal/core/security/pairing"
	"github.com/mydia/go-remoteaccess/internal/core/storage/engine"
	"github.com/mydia/go-remoteaccess/internal/core/storage/engine/badger"
	"github.com/mydia/go-remoteaccess/internal/core/token"
	"github.com/mydia/go-remoteaccess/internal/core/version"
)

// ============= 测试桩 =============

type captureSender struct {
	ch chan string
}

func (c *captureSender) Send(_ context.Context, _ string, payload string) error {
	c.ch <- payload
	return nil
}

type fakeAPI struct {
	do func(ctx context.Context, req localapi.Request) (*localapi.Response, error)
}

func (f *fakeAPI) Do(ctx context.Context, req localapi.Request) (*localapi.Response, error) {
	return f.do(ctx, req)
}

type backend struct {
	svc     *pairing.Service
	store   *devicestore.Store
	metrics *metrics.Metrics
	reg     *prometheus.Registry
	api     *fakeAPI
	factory *Factory
}

func newBackend(t *testing.T, cfg Config) *backend {
	t.Helper()

	eng, err := badger.New(engine.DefaultConfig(filepath.Join(t.TempDir(), "tunnel.db")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	store := devicestore.New(eng)
	limiter := ratelimit.New(ratelimit.DefaultConfig())
	key, err := token.RandomKey()
	require.NoError(t, err)
	tokens, err := token.NewIssuer(token.Config{Key: key, Issuer: "mydia"}, store)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	b := &backend{
		svc:     pairing.NewService(store, limiter, tokens),
		store:   store,
		metrics: metrics.New(reg),
		reg:     reg,
		api: &fakeAPI{do: func(_ context.Context, req localapi.Request) (*localapi.Response, error) {
			return &localapi.Response{
				Status:  200,
				Headers: map[string]string{"content-type": "text/plain"},
				Body:    []byte(req.Method + " " + req.Path),
			}, nil
		}},
	}
	negotiator := version.NewNegotiator(map[string][]string{
		version.LayerEncryption: {"1.0"},
		version.LayerPairing:    {"1.0"},
		version.LayerAPI:        {"1.0"},
	}, version.WithUpdateURL("https://example.com/update"))
	b.factory = NewFactory(cfg, b.svc, b.api, WithNegotiator(negotiator), WithMetrics(b.metrics, nil))
	return b
}

// client 模拟隧道客户端
type client struct {
	t       *testing.T
	id      string
	session *Session
	sender  *captureSender
	kp      *pairing.KeyPair
	key     []byte
	cancel  context.CancelFunc
}

func (b *backend) open(t *testing.T, id string) *client {
	t.Helper()
	kp, err := pairing.GenerateKeyPair()
	require.NoError(t, err)

	sender := &captureSender{ch: make(chan string, 16)}
	s := b.factory.NewSession(id, "198.51.100.1", kp.Public, sender)
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-s.Done()
	})
	return &client{t: t, id: id, session: s, sender: sender, kp: kp, cancel: cancel}
}

func (c *client) sendPlain(typ string, data any) {
	c.t.Helper()
	raw, err := json.Marshal(map[string]any{"type": typ, "data": data})
	require.NoError(c.t, err)
	require.True(c.t, c.session.Deliver(string(raw)))
}

func (c *client) sendEncrypted(typ string, data any) {
	c.t.Helper()
	raw, err := json.Marshal(map[string]any{"type": typ, "data": data})
	require.NoError(c.t, err)
	ct, err := msgcrypt.Encrypt(c.key, raw, msgcrypt.AAD(c.id, msgcrypt.ToServer))
	require.NoError(c.t, err)
	require.True(c.t, c.session.Deliver(msgcrypt.EncodeWire(ct)))
}

func (c *client) next() string {
	c.t.Helper()
	select {
	case p := <-c.sender.ch:
		return p
	case <-time.After(3 * time.Second):
		c.t.Fatal("no outbound message")
		return ""
	}
}

func (c *client) recvPlain() *Message {
	c.t.Helper()
	m, err := DecodeMessage([]byte(c.next()))
	require.NoError(c.t, err)
	return m
}

func (c *client) recvEncrypted() *Message {
	c.t.Helper()
	payload := c.next()
	require.False(c.t, msgcrypt.LooksLikePlaintext(payload), "expected ciphertext, got %s", payload)
	data, err := msgcrypt.DecodeWire(payload)
	require.NoError(c.t, err)
	pt, err := msgcrypt.Decrypt(c.key, data, msgcrypt.AAD(c.id, msgcrypt.ToClient))
	require.NoError(c.t, err)
	m, err := DecodeMessage(pt)
	require.NoError(c.t, err)
	return m
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() == name && len(mf.GetMetric()) > 0 {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	return 0
}

func decodeFields[T any](t *testing.T, m *Message) T {
	t.Helper()
	var v T
	require.NoError(t, m.Decode(&v))
	return v
}

// handshake 完成 pairing_handshake 并派生会话密钥
func (c *client) handshake() {
	c.t.Helper()
	c.sendPlain(TypePairingHandshake, map[string]any{
		"client_public_key": base64.StdEncoding.EncodeToString(c.kp.Public),
	})
	reply := c.recvPlain()
	require.Equal(c.t, TypePairingHandshake, reply.Type)
	r := decodeFields[pairingHandshakeReply](c.t, reply)
	serverPub, err := base64.StdEncoding.DecodeString(r.ServerPublicKey)
	require.NoError(c.t, err)
	c.key, err = pairing.DeriveSessionKey(c.kp.Private, serverPub)
	require.NoError(c.t, err)
}

func (c *client) claim(code string, static []byte) *Message {
	c.t.Helper()
	c.sendEncrypted(TypeClaimCode, map[string]any{
		"code":                     code,
		"device_name":              "Pixel 9",
		"platform":                 "android",
		"client_static_public_key": base64.StdEncoding.EncodeToString(static),
	})
	return c.recvEncrypted()
}

func mustStatic(t *testing.T) []byte {
	kp, err := pairing.GenerateKeyPair()
	require.NoError(t, err)
	return kp.Public
}

// ============= 测试 =============

// TestSession_PairingEndToEnd 握手、兑换配对码、重复兑换失败
func TestSession_PairingEndToEnd(t *testing.T) {
	b := newBackend(t, DefaultConfig())
	claim, err := b.svc.CreateClaim(context.Background(), "user-1")
	require.NoError(t, err)

	c := b.open(t, "sess-1")
	assert.Equal(t, StateAwaitingHandshake, c.session.State())
	c.handshake()

	reply := c.claim(claim.Code, mustStatic(t))
	require.Equal(t, TypePairingComplete, reply.Type)
	done := decodeFields[pairingCompleteReply](t, reply)
	assert.NotEmpty(t, done.DeviceID)
	assert.NotEmpty(t, done.MediaToken)
	assert.NotEmpty(t, done.DeviceToken)
	assert.Equal(t, StateAuthenticated, c.session.State())

	dev, err := b.store.GetDevice(context.Background(), done.DeviceID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", dev.UserID)

	// 另一个会话重复兑换
	c2 := b.open(t, "sess-2")
	c2.handshake()
	reply = c2.claim(claim.Code, mustStatic(t))
	require.Equal(t, TypeError, reply.Type)
	assert.Equal(t, "already_used", decodeFields[errorPayload](t, reply).Code)
}

// TestSession_RequestRequiresDevice 未绑定设备时请求返回 401
func TestSession_RequestRequiresDevice(t *testing.T) {
	b := newBackend(t, DefaultConfig())
	c := b.open(t, "sess-401")

	c.sendPlain(TypeRequest, map[string]any{"id": "r1", "method": "GET", "path": "/api"})
	reply := c.recvPlain()
	require.Equal(t, TypeResponse, reply.Type)
	assert.Equal(t, 401, decodeFields[responsePayload](t, reply).Status)

	c.handshake()
	c.sendEncrypted(TypeRequest, map[string]any{"id": "r2", "method": "GET", "path": "/api"})
	reply = c.recvEncrypted()
	resp := decodeFields[responsePayload](t, reply)
	assert.Equal(t, 401, resp.Status)
	assert.JSONEq(t, `"r2"`, string(resp.ID))
}

// TestSession_ProxyRequest 绑定设备后代理请求并注入媒体令牌
func TestSession_ProxyRequest(t *testing.T) {
	b := newBackend(t, DefaultConfig())
	var gotToken string
	b.api.do = func(_ context.Context, req localapi.Request) (*localapi.Response, error) {
		gotToken = req.MediaToken
		if req.Path == "/binary" {
			return &localapi.Response{Status: 200, Headers: map[string]string{}, Body: []byte{0xff, 0x00, 0xfe}}, nil
		}
		return &localapi.Response{Status: 200, Headers: map[string]string{"x": "y"}, Body: []byte(`{"data":1}`)}, nil
	}

	claim, err := b.svc.CreateClaim(context.Background(), "user-1")
	require.NoError(t, err)
	c := b.open(t, "sess-proxy")
	c.handshake()
	paired := decodeFields[pairingCompleteReply](t, c.claim(claim.Code, mustStatic(t)))

	c.sendEncrypted(TypeRequest, map[string]any{"id": 7, "method": "POST", "path": "/api/graphql", "body": `{"q":1}`})
	resp := decodeFields[responsePayload](t, c.recvEncrypted())
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, BodyRaw, resp.BodyEncoding)
	assert.Equal(t, `{"data":1}`, resp.Body)
	assert.JSONEq(t, `7`, string(resp.ID))
	assert.Equal(t, paired.MediaToken, gotToken)

	c.sendEncrypted(TypeRequest, map[string]any{"id": 8, "method": "GET", "path": "/binary"})
	resp = decodeFields[responsePayload](t, c.recvEncrypted())
	assert.Equal(t, BodyBase64, resp.BodyEncoding)
	raw, err := base64.StdEncoding.DecodeString(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0x00, 0xfe}, raw)

	assert.Equal(t, 1.0, gaugeValue(t, b.reg, "mydia_tunnel_active_sessions"))
}

// TestSession_RequestTimeout 本地 API 超时返回 504
func TestSession_RequestTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RequestTimeout = 50 * time.Millisecond
	b := newBackend(t, cfg)
	b.api.do = func(ctx context.Context, _ localapi.Request) (*localapi.Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	claim, err := b.svc.CreateClaim(context.Background(), "user-1")
	require.NoError(t, err)
	c := b.open(t, "sess-slow")
	c.handshake()
	c.claim(claim.Code, mustStatic(t))

	c.sendEncrypted(TypeRequest, map[string]any{"id": "slow", "method": "GET", "path": "/slow"})
	resp := decodeFields[responsePayload](t, c.recvEncrypted())
	assert.Equal(t, 504, resp.Status)
}

func TestSession_DownstreamFailureIsGeneric(t *testing.T) {
	b := newBackend(t, DefaultConfig())
	b.api.do = func(context.Context, localapi.Request) (*localapi.Response, error) {
		return nil, errors.New("dial tcp 127.0.0.1:4000: connection refused")
	}
	claim, err := b.svc.CreateClaim(context.Background(), "user-1")
	require.NoError(t, err)
	c := b.open(t, "sess-fail")
	c.handshake()
	c.claim(claim.Code, mustStatic(t))

	c.sendEncrypted(TypeRequest, map[string]any{"id": "x", "method": "GET", "path": "/"})
	reply := c.recvEncrypted()
	require.Equal(t, TypeError, reply.Type)
	e := decodeFields[errorPayload](t, reply)
	assert.Equal(t, CodeProcessingFailed, e.Code)
	assert.Empty(t, e.Message)
}

// TestSession_RejectsPlaintextAfterHandshake 握手后的明文消息被拒绝
func TestSession_RejectsPlaintextAfterHandshake(t *testing.T) {
	b := newBackend(t, DefaultConfig())
	c := b.open(t, "sess-plain")
	c.handshake()

	c.sendPlain(TypePing, nil)
	reply := c.recvEncrypted()
	require.Equal(t, TypeError, reply.Type)
	assert.Equal(t, CodeProcessingFailed, decodeFields[errorPayload](t, reply).Code)

	// 错误方向的密文同样被拒绝
	raw, _ := json.Marshal(map[string]any{"type": TypePing})
	ct, err := msgcrypt.Encrypt(c.key, raw, msgcrypt.AAD(c.id, msgcrypt.ToClient))
	require.NoError(t, err)
	require.True(t, c.session.Deliver(msgcrypt.EncodeWire(ct)))
	reply = c.recvEncrypted()
	assert.Equal(t, CodeProcessingFailed, decodeFields[errorPayload](t, reply).Code)

	c.sendEncrypted(TypePing, nil)
	assert.Equal(t, TypePong, c.recvEncrypted().Type)
}

func TestSession_UnknownType(t *testing.T) {
	b := newBackend(t, DefaultConfig())
	c := b.open(t, "sess-unknown")

	c.sendPlain("teleport", nil)
	reply := c.recvPlain()
	require.Equal(t, TypeError, reply.Type)
	assert.Equal(t, CodeUnknownMessageType, decodeFields[errorPayload](t, reply).Code)

	require.True(t, c.session.Deliver("{not json"))
	assert.Equal(t, CodeProcessingFailed, decodeFields[errorPayload](t, c.recvPlain()).Code)
}

func TestSession_ClaimBeforeHandshake(t *testing.T) {
	b := newBackend(t, DefaultConfig())
	c := b.open(t, "sess-early")

	c.sendPlain(TypeClaimCode, map[string]any{"code": "ABCD-EFGH"})
	assert.Equal(t, CodeHandshakeRequired, decodeFields[errorPayload](t, c.recvPlain()).Code)
}

// TestSession_KeyExchange 设备令牌重连，旧版 handshake_init 同样可用
func TestSession_KeyExchange(t *testing.T) {
	b := newBackend(t, DefaultConfig())
	claim, err := b.svc.CreateClaim(context.Background(), "user-1")
	require.NoError(t, err)
	first := b.open(t, "sess-pair")
	first.handshake()
	paired := decodeFields[pairingCompleteReply](t, first.claim(claim.Code, mustStatic(t)))

	for _, tc := range []struct{ in, out string }{
		{TypeKeyExchange, TypeKeyExchangeComplete},
		{TypeHandshakeInit, TypeHandshakeComplete},
	} {
		c := b.open(t, "sess-"+tc.in)
		c.sendPlain(tc.in, map[string]any{
			"client_public_key": base64.StdEncoding.EncodeToString(c.kp.Public),
			"device_token":      paired.DeviceToken,
		})
		reply := c.recvPlain()
		require.Equal(t, tc.out, reply.Type)
		r := decodeFields[keyExchangeReply](t, reply)
		assert.Equal(t, paired.DeviceID, r.DeviceID)
		assert.NotEmpty(t, r.MediaToken)

		serverPub, err := base64.StdEncoding.DecodeString(r.ServerPublicKey)
		require.NoError(t, err)
		c.key, err = pairing.DeriveSessionKey(c.kp.Private, serverPub)
		require.NoError(t, err)

		c.sendEncrypted(TypeRequest, map[string]any{"id": 1, "method": "GET", "path": "/ok"})
		resp := decodeFields[responsePayload](t, c.recvEncrypted())
		assert.Equal(t, 200, resp.Status)
		assert.Equal(t, "GET /ok", resp.Body)
	}
}

// TestSession_KeyExchangeUnknownDevice 不存在与已吊销的设备得到相同错误
func TestSession_KeyExchangeUnknownDevice(t *testing.T) {
	b := newBackend(t, DefaultConfig())
	claim, err := b.svc.CreateClaim(context.Background(), "user-1")
	require.NoError(t, err)
	first := b.open(t, "sess-pair")
	first.handshake()
	paired := decodeFields[pairingCompleteReply](t, first.claim(claim.Code, mustStatic(t)))
	require.NoError(t, b.store.RevokeDevice(context.Background(), paired.DeviceID))

	var replies []errorPayload
	for i, tok := range []string{"bogus", paired.DeviceToken} {
		c := b.open(t, "sess-k"+string(rune('0'+i)))
		c.sendPlain(TypeKeyExchange, map[string]any{"device_token": tok})
		reply := c.recvPlain()
		require.Equal(t, TypeError, reply.Type)
		replies = append(replies, decodeFields[errorPayload](t, reply))
		assert.Equal(t, StateAwaitingHandshake, c.session.State())
	}
	assert.Equal(t, CodeDeviceNotFound, replies[0].Code)
	assert.Equal(t, replies[0], replies[1])
}

// TestSession_UpdateRequired 协议版本不兼容时返回 update_required
func TestSession_UpdateRequired(t *testing.T) {
	b := newBackend(t, DefaultConfig())
	c := b.open(t, "sess-old")

	c.sendPlain(TypePairingHandshake, map[string]any{
		"client_public_key": base64.StdEncoding.EncodeToString(c.kp.Public),
		"versions": map[string][]string{
			version.LayerEncryption: {"2.0"},
			version.LayerAPI:        {"1.3"},
		},
	})
	reply := c.recvPlain()
	require.Equal(t, TypeError, reply.Type)
	e := decodeFields[errorPayload](t, reply)
	assert.Equal(t, CodeUpdateRequired, e.Code)
	assert.Equal(t, []string{version.LayerEncryption, version.LayerPairing}, e.FailedLayers)
	assert.Equal(t, []string{"1.0"}, e.SupportedVersions[version.LayerEncryption])
	assert.Equal(t, []string{"1.0"}, e.SupportedVersions[version.LayerPairing])
	assert.Equal(t, "https://example.com/update", e.UpdateURL)
	assert.NotEmpty(t, e.Message)
	assert.Equal(t, StateAwaitingHandshake, c.session.State())
}

func TestSession_VersionsAgreed(t *testing.T) {
	b := newBackend(t, DefaultConfig())
	c := b.open(t, "sess-ver")

	c.sendPlain(TypePairingHandshake, map[string]any{
		"versions": map[string][]string{
			version.LayerEncryption: {"1.0"},
			version.LayerPairing:    {"1.0"},
			version.LayerAPI:        {"1.4", "1.2"},
		},
	})
	reply := c.recvPlain()
	require.Equal(t, TypePairingHandshake, reply.Type)
	r := decodeFields[pairingHandshakeReply](t, reply)
	assert.Equal(t, "1.4", r.Versions[version.LayerAPI])
}

// TestSession_Close close 消息结束会话
func TestSession_Close(t *testing.T) {
	b := newBackend(t, DefaultConfig())
	c := b.open(t, "sess-close")

	c.sendPlain(TypeClose, nil)
	select {
	case <-c.session.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("session not closed")
	}
	assert.Equal(t, StateClosed, c.session.State())
	assert.Equal(t, ReasonClientClose, c.session.CloseReason())
	assert.False(t, c.session.Deliver(`{"type":"ping"}`))
}

// TestSession_IdleTimeout 空闲超时后会话关闭
func TestSession_IdleTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IdleTimeout = 50 * time.Millisecond
	b := newBackend(t, cfg)
	c := b.open(t, "sess-idle")

	select {
	case <-c.session.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("session not closed after idle timeout")
	}
	assert.Equal(t, ReasonIdle, c.session.CloseReason())
}

func TestSession_ContextCancel(t *testing.T) {
	b := newBackend(t, DefaultConfig())
	c := b.open(t, "sess-cancel")
	c.cancel()
	<-c.session.Done()
	assert.Equal(t, ReasonShutdown, c.session.CloseReason())
}
