package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

// Stats 流量统计快照
type Stats struct {
	TotalIn  int64   // 总入站字节
	TotalOut int64   // 总出站字节
	RateIn   float64 // 入站速率（字节/秒）
	RateOut  float64 // 出站速率（字节/秒）
}

type sessionTraffic struct {
	in, out  atomic.Int64
	lastSeen atomic.Int64 // Unix nano
}

// TrafficCounter 隧道会话流量计数器
//
// 全局总量同时上报到 Prometheus，会话级数据只保存在内存中，
// 供 CLI 和日志查看。
type TrafficCounter struct {
	metrics *Metrics
	clock   clock.Clock

	totalIn  atomic.Int64
	totalOut atomic.Int64
	rateIn   *RateMeter
	rateOut  *RateMeter

	mu       sync.RWMutex
	sessions map[string]*sessionTraffic
}

// NewTrafficCounter 创建流量计数器，m 可以为 nil
func NewTrafficCounter(m *Metrics, c clock.Clock) *TrafficCounter {
	if c == nil {
		c = clock.New()
	}
	return &TrafficCounter{
		metrics:  m,
		clock:    c,
		rateIn:   NewRateMeter(c),
		rateOut:  NewRateMeter(c),
		sessions: make(map[string]*sessionTraffic),
	}
}

func (tc *TrafficCounter) session(id string) *sessionTraffic {
	tc.mu.RLock()
	st := tc.sessions[id]
	tc.mu.RUnlock()
	if st != nil {
		return st
	}

	tc.mu.Lock()
	defer tc.mu.Unlock()
	if st = tc.sessions[id]; st == nil {
		st = &sessionTraffic{}
		tc.sessions[id] = st
	}
	return st
}

// LogRecv 记录某会话收到的字节，sessionID 为空表示中继控制消息
func (tc *TrafficCounter) LogRecv(sessionID string, size int64) {
	tc.totalIn.Add(size)
	tc.rateIn.Add(size)
	tc.metrics.LogRecvMessage(size)
	if sessionID != "" {
		st := tc.session(sessionID)
		st.in.Add(size)
		st.lastSeen.Store(tc.clock.Now().UnixNano())
	}
}

// LogSent 记录某会话发出的字节
func (tc *TrafficCounter) LogSent(sessionID string, size int64) {
	tc.totalOut.Add(size)
	tc.rateOut.Add(size)
	tc.metrics.LogSentMessage(size)
	if sessionID != "" {
		st := tc.session(sessionID)
		st.out.Add(size)
		st.lastSeen.Store(tc.clock.Now().UnixNano())
	}
}

// Totals 返回总流量
func (tc *TrafficCounter) Totals() Stats {
	return Stats{
		TotalIn:  tc.totalIn.Load(),
		TotalOut: tc.totalOut.Load(),
		RateIn:   tc.rateIn.Rate(),
		RateOut:  tc.rateOut.Rate(),
	}
}

// ForSession 返回某会话的累计流量
func (tc *TrafficCounter) ForSession(sessionID string) Stats {
	tc.mu.RLock()
	st := tc.sessions[sessionID]
	tc.mu.RUnlock()
	if st == nil {
		return Stats{}
	}
	return Stats{TotalIn: st.in.Load(), TotalOut: st.out.Load()}
}

// Forget 删除某会话的统计
func (tc *TrafficCounter) Forget(sessionID string) {
	tc.mu.Lock()
	delete(tc.sessions, sessionID)
	tc.mu.Unlock()
}

// TrimIdle 删除 since 之后没有流量的会话统计
func (tc *TrafficCounter) TrimIdle(since time.Time) int {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	removed := 0
	for id, st := range tc.sessions {
		if time.Unix(0, st.lastSeen.Load()).Before(since) {
			delete(tc.sessions, id)
			removed++
		}
	}
	return removed
}
