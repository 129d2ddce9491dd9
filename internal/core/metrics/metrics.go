package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mydia"

// Metrics 远程访问服务的指标集合
type Metrics struct {
	claimRateLimited  prometheus.Counter
	handshakeFailures *prometheus.CounterVec
	activeSessions    prometheus.Gauge
	sessionsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	relayConnected    prometheus.Gauge
	relayReconnects   prometheus.Counter
	relayBytes        *prometheus.CounterVec
	droppedConns      prometheus.Counter
}

// New 创建指标并注册到 reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		claimRateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claim_rate_limited_total",
			Help:      "Claim code attempts rejected by the per-IP rate limiter.",
		}),
		handshakeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tunnel_handshake_failures_total",
			Help:      "Failed tunnel handshakes by reason.",
		}, []string{"reason"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tunnel_active_sessions",
			Help:      "Tunnel sessions currently alive.",
		}),
		sessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tunnel_sessions_closed_total",
			Help:      "Closed tunnel sessions by close reason.",
		}, []string{"reason"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tunnel_request_duration_seconds",
			Help:      "Latency of proxied local API requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		relayConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_connected",
			Help:      "1 when the relay connection is up.",
		}),
		relayReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_reconnects_total",
			Help:      "Relay reconnection attempts.",
		}),
		relayBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_bytes_total",
			Help:      "Bytes exchanged with the relay by direction.",
		}, []string{"direction"}),
		droppedConns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_connections_dropped_total",
			Help:      "Inbound connection events dropped by the burst limiter.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.claimRateLimited,
			m.handshakeFailures,
			m.activeSessions,
			m.sessionsTotal,
			m.requestDuration,
			m.relayConnected,
			m.relayReconnects,
			m.relayBytes,
			m.droppedConns,
		)
	}
	return m
}

// ClaimRateLimited 记录一次被限流的配对尝试
func (m *Metrics) ClaimRateLimited() {
	if m == nil {
		return
	}
	m.claimRateLimited.Inc()
}

// HandshakeFailed 记录握手失败
func (m *Metrics) HandshakeFailed(reason string) {
	if m == nil {
		return
	}
	m.handshakeFailures.WithLabelValues(reason).Inc()
}

// SessionOpened 会话建立
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

// SessionClosed 会话关闭
func (m *Metrics) SessionClosed(reason string) {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
	m.sessionsTotal.WithLabelValues(reason).Inc()
}

// ObserveRequest 记录代理请求耗时
func (m *Metrics) ObserveRequest(status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(strconv.Itoa(status)).Observe(d.Seconds())
}

// RelayConnected 设置中继连接状态
func (m *Metrics) RelayConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.relayConnected.Set(1)
	} else {
		m.relayConnected.Set(0)
	}
}

// RelayReconnect 记录一次重连
func (m *Metrics) RelayReconnect() {
	if m == nil {
		return
	}
	m.relayReconnects.Inc()
}

// LogRecvMessage 记录从中继接收的字节
func (m *Metrics) LogRecvMessage(size int64) {
	if m == nil {
		return
	}
	m.relayBytes.WithLabelValues("in").Add(float64(size))
}

// LogSentMessage 记录发往中继的字节
func (m *Metrics) LogSentMessage(size int64) {
	if m == nil {
		return
	}
	m.relayBytes.WithLabelValues("out").Add(float64(size))
}

// ConnectionDropped 记录被突发限流丢弃的连接事件
func (m *Metrics) ConnectionDropped() {
	if m == nil {
		return
	}
	m.droppedConns.Inc()
}
