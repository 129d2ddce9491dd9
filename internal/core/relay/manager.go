package relay

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/mydia/go-remoteaccess/internal/core/devicestore"
	"github.com/mydia/go-remoteaccess/internal/core/metrics"
	"github.com/mydia/go-remoteaccess/internal/core/tunnel"
	"github.com/mydia/go-remoteaccess/internal/util/logger"
)

var log = logger.Logger("relay")

// Config 中继连接参数
type Config struct {
	Enabled           bool
	URL               string
	HeartbeatInterval time.Duration
	DeadPeerTimeout   time.Duration
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	DialTimeout       time.Duration
	WriteTimeout      time.Duration
	SendQueueSize     int
	ConnectionRate    float64
	ConnectionBurst   int
}

// DefaultConfig 返回默认参数（未启用）
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 30 * time.Second,
		DeadPeerTimeout:   90 * time.Second,
		InitialBackoff:    time.Second,
		MaxBackoff:        60 * time.Second,
		DialTimeout:       15 * time.Second,
		WriteTimeout:      10 * time.Second,
		SendQueueSize:     256,
		ConnectionRate:    20,
		ConnectionBurst:   50,
	}
}

// InstanceSource 提供本实例身份
type InstanceSource interface {
	EnsureInstance(ctx context.Context) (*devicestore.Instance, error)
}

// SessionFactory 创建隧道会话
type SessionFactory interface {
	NewSession(id, clientIP string, clientKey []byte, sender tunnel.Sender) *tunnel.Session
}

// Manager 中继连接管理器
type Manager struct {
	cfg       Config
	instances InstanceSource
	factory   SessionFactory
	metrics   *metrics.Metrics
	clock     clock.Clock
	dialer    *websocket.Dialer
	admit     *rate.Limiter

	mu         sync.Mutex
	conn       *conn
	sessions   map[string]*tunnel.Session
	directURLs []string
	instance   *devicestore.Instance

	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option 管理器选项
type Option func(*Manager)

// WithMetrics 记录中继指标
func WithMetrics(m *metrics.Metrics) Option {
	return func(mgr *Manager) {
		mgr.metrics = m
	}
}

// WithClock 指定时间源
func WithClock(c clock.Clock) Option {
	return func(mgr *Manager) {
		mgr.clock = c
	}
}

// WithDirectURLs 指定注册时上报的直连地址
func WithDirectURLs(urls []string) Option {
	return func(mgr *Manager) {
		mgr.directURLs = slices.Clone(urls)
	}
}

// WithDialer 指定 WebSocket 拨号器
func WithDialer(d *websocket.Dialer) Option {
	return func(mgr *Manager) {
		mgr.dialer = d
	}
}

// NewManager 创建管理器
func NewManager(cfg Config, instances InstanceSource, factory SessionFactory, opts ...Option) *Manager {
	m := &Manager{
		cfg:       cfg,
		instances: instances,
		factory:   factory,
		clock:     clock.New(),
		dialer:    websocket.DefaultDialer,
		sessions:  make(map[string]*tunnel.Session),
	}
	for _, opt := range opts {
		opt(m)
	}

	limit := rate.Inf
	if cfg.ConnectionRate > 0 {
		limit = rate.Limit(cfg.ConnectionRate)
	}
	burst := cfg.ConnectionBurst
	if burst <= 0 {
		burst = 1
	}
	m.admit = rate.NewLimiter(limit, burst)
	return m
}

// Start 加载实例身份并在后台维持连接
//
// 未启用、未配置中继地址或实例身份无法加载时返回 ErrConfiguration。
func (m *Manager) Start(ctx context.Context) error {
	if !m.cfg.Enabled {
		return fmt.Errorf("%w: remote access disabled", ErrConfiguration)
	}
	if m.cfg.URL == "" {
		return fmt.Errorf("%w: relay url not set", ErrConfiguration)
	}
	inst, err := m.instances.EnsureInstance(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	m.instance = inst
	m.directURLs = mergeURLs(m.directURLs, inst.DirectURLs)
	runCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.mu.Unlock()

	log.Info("启动中继连接", "url", m.cfg.URL, "instance_id", inst.InstanceID)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(runCtx)
	}()
	return nil
}

// Stop 断开连接并关闭所有会话
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	m.wg.Wait()
	log.Info("中继连接已停止")
}

// Connected 当前是否已连接
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// Sessions 当前存活的会话数
func (m *Manager) Sessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// DirectURLs 当前上报的直连地址
func (m *Manager) DirectURLs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.directURLs)
}

func (m *Manager) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.cfg.InitialBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = m.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// run 连接、服务、断开后退避重连，直到 ctx 取消
func (m *Manager) run(ctx context.Context) {
	b := m.newBackOff()
	for {
		connected, err := m.connectAndServe(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			b.Reset()
		}
		delay := b.NextBackOff()
		log.Warn("中继连接断开，等待重连", "delay", delay, "err", err)
		m.metrics.RelayReconnect()

		select {
		case <-ctx.Done():
			return
		case <-m.clock.After(delay):
		}
	}
}

// connectAndServe 建立一次连接并阻塞到断开
//
// 返回值 connected 表示是否成功建立过连接。
func (m *Manager) connectAndServe(ctx context.Context) (connected bool, err error) {
	dialCtx := ctx
	if m.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, m.cfg.DialTimeout)
		defer cancel()
	}
	ws, _, err := m.dialer.DialContext(dialCtx, m.cfg.URL, nil)
	if err != nil {
		return false, fmt.Errorf("dial relay: %w", err)
	}

	c := newConn(ws, m.cfg.SendQueueSize, m.cfg.WriteTimeout)
	connCtx, cancel := context.WithCancel(ctx)
	var loops sync.WaitGroup
	defer func() {
		cancel()
		c.close()
		loops.Wait()
		m.detach(c)
	}()

	loops.Add(3)
	go func() {
		defer loops.Done()
		c.writeLoop()
	}()
	// 取消时关闭连接，使阻塞中的 ReadMessage 立即返回
	go func() {
		defer loops.Done()
		select {
		case <-connCtx.Done():
			c.close()
		case <-c.done:
		}
	}()
	go func() {
		defer loops.Done()
		m.heartbeat(connCtx, c)
	}()

	if err := m.register(connCtx, c); err != nil {
		return false, err
	}
	m.attach(c)
	log.Info("中继连接已建立", "url", m.cfg.URL)

	return true, m.readLoop(connCtx, c)
}

func (m *Manager) register(ctx context.Context, c *conn) error {
	m.mu.Lock()
	frame := registerFrame{
		Type:       TypeRegister,
		InstanceID: m.instance.InstanceID,
		PublicKey:  base64.StdEncoding.EncodeToString(m.instance.PublicKey),
		DirectURLs: slices.Clone(m.directURLs),
	}
	m.mu.Unlock()
	if frame.DirectURLs == nil {
		frame.DirectURLs = []string{}
	}
	data, err := encodeFrame(frame)
	if err != nil {
		return err
	}
	return c.enqueue(ctx, data)
}

func (m *Manager) attach(c *conn) {
	m.mu.Lock()
	m.conn = c
	m.mu.Unlock()
	m.metrics.RelayConnected(true)
}

// detach 清除当前连接并关闭所有会话
func (m *Manager) detach(c *conn) {
	m.mu.Lock()
	wasAttached := m.conn == c
	if wasAttached {
		m.conn = nil
	}
	sessions := make([]*tunnel.Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	for _, s := range sessions {
		<-s.Done()
	}
	if wasAttached {
		m.metrics.RelayConnected(false)
	}
	if len(sessions) > 0 {
		log.Info("中继断开，已关闭会话", "count", len(sessions))
	}
}

func (m *Manager) heartbeat(ctx context.Context, c *conn) {
	if m.cfg.HeartbeatInterval <= 0 {
		return
	}
	ping, _ := encodeFrame(pingFrame{Type: TypePing})
	ticker := m.clock.Ticker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.enqueue(ctx, ping); err != nil {
				return
			}
		}
	}
}

// readLoop 读取入站消息直到出错
//
// 每收到一条消息都会推迟读超时，DeadPeerTimeout 内没有任何消息视为连接失效。
func (m *Manager) readLoop(ctx context.Context, c *conn) error {
	extend := func() {
		if m.cfg.DeadPeerTimeout > 0 {
			_ = c.ws.SetReadDeadline(time.Now().Add(m.cfg.DeadPeerTimeout))
		}
	}
	c.ws.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		extend()
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var netErr interface{ Timeout() bool }
			if errors.As(err, &netErr) && netErr.Timeout() {
				return ErrDeadPeer
			}
			return err
		}
		m.handleFrame(ctx, data)
	}
}

func (m *Manager) handleFrame(ctx context.Context, data []byte) {
	msg, err := tunnel.DecodeMessage(data)
	if err != nil {
		log.Warn("无法解析中继消息", "err", err)
		return
	}

	switch msg.Type {
	case TypeConnection:
		var ev connectionEvent
		if err := msg.Decode(&ev); err != nil || ev.SessionID == "" {
			log.Warn("connection 事件格式错误", "err", err)
			return
		}
		m.openSession(ctx, ev)
	case TypeRelayMessage:
		var ev relayMessageEvent
		if err := msg.Decode(&ev); err != nil || ev.SessionID == "" {
			log.Warn("relay_message 事件格式错误", "err", err)
			return
		}
		m.route(ev)
	case TypePong:
	case TypeError:
		var ev errorEvent
		_ = msg.Decode(&ev)
		log.Warn("中继返回错误", "code", ev.Code, "message", ev.Message)
	default:
		log.Debug("忽略未知中继消息", "type", msg.Type)
	}
}

// openSession 为新的 session_id 创建会话，已存在时丢弃事件
func (m *Manager) openSession(ctx context.Context, ev connectionEvent) {
	m.mu.Lock()
	if _, ok := m.sessions[ev.SessionID]; ok {
		m.mu.Unlock()
		log.Debug("会话已存在，忽略重复的 connection 事件", "session", ev.SessionID)
		return
	}
	if !m.admit.Allow() {
		m.mu.Unlock()
		m.metrics.ConnectionDropped()
		log.Warn("新会话过多，丢弃 connection 事件", "session", ev.SessionID, "client_ip", ev.ClientIP)
		return
	}
	s := m.factory.NewSession(ev.SessionID, ev.ClientIP, decodeClientKey(ev.ClientPublicKey), m)
	m.sessions[ev.SessionID] = s
	m.mu.Unlock()

	log.Debug("新建隧道会话", "session", ev.SessionID, "client_ip", ev.ClientIP)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		s.Run(ctx)
		m.mu.Lock()
		if m.sessions[ev.SessionID] == s {
			delete(m.sessions, ev.SessionID)
		}
		m.mu.Unlock()
	}()
}

func (m *Manager) route(ev relayMessageEvent) {
	m.mu.Lock()
	s := m.sessions[ev.SessionID]
	m.mu.Unlock()
	if s == nil {
		log.Debug("消息所属会话不存在", "session", ev.SessionID)
		return
	}
	s.Deliver(ev.Payload)
}

// Send 把会话载荷经中继发回客户端
func (m *Manager) Send(ctx context.Context, sessionID, payload string) error {
	m.mu.Lock()
	c := m.conn
	m.mu.Unlock()
	if c == nil {
		return ErrNotConnected
	}
	data, err := encodeFrame(relayMessageFrame{
		Type:      TypeRelayMessage,
		SessionID: sessionID,
		Payload:   payload,
	})
	if err != nil {
		return err
	}
	return c.enqueue(ctx, data)
}

// UpdateDirectURLs 更新直连地址，有变化且已连接时通知中继
func (m *Manager) UpdateDirectURLs(ctx context.Context, urls []string) error {
	urls = mergeURLs(nil, urls)
	m.mu.Lock()
	if slices.Equal(urls, m.directURLs) {
		m.mu.Unlock()
		return nil
	}
	m.directURLs = urls
	c := m.conn
	m.mu.Unlock()

	log.Info("直连地址变化", "urls", urls)
	if c == nil {
		return nil
	}
	if urls == nil {
		urls = []string{}
	}
	data, err := encodeFrame(updateURLsFrame{Type: TypeUpdateURLs, DirectURLs: urls})
	if err != nil {
		return err
	}
	return c.enqueue(ctx, data)
}

// mergeURLs 合并并去重，保持首次出现的顺序
func mergeURLs(lists ...[]string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, list := range lists {
		for _, u := range list {
			if u == "" || seen[u] {
				continue
			}
			seen[u] = true
			out = append(out, u)
		}
	}
	return out
}
