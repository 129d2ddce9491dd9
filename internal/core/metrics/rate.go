package metrics

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// RateMeter 速率计算器（基于滑动窗口）
//
// 使用 60 个 1 秒桶来计算最近 60 秒的平均速率。
type RateMeter struct {
	clock clock.Clock

	mu       sync.Mutex
	buckets  [60]int64
	lastIdx  int
	lastTime time.Time
}

// NewRateMeter 创建速率计算器
func NewRateMeter(c clock.Clock) *RateMeter {
	if c == nil {
		c = clock.New()
	}
	return &RateMeter{
		clock:    c,
		lastTime: c.Now(),
	}
}

// advanceLocked 把窗口推进到当前时间
func (r *RateMeter) advanceLocked(now time.Time) {
	elapsed := now.Sub(r.lastTime)
	if elapsed < time.Second {
		return
	}
	seconds := int(elapsed / time.Second)
	if seconds >= len(r.buckets) {
		r.buckets = [60]int64{}
		r.lastIdx = 0
	} else {
		for i := 0; i < seconds; i++ {
			r.lastIdx = (r.lastIdx + 1) % len(r.buckets)
			r.buckets[r.lastIdx] = 0
		}
	}
	r.lastTime = r.lastTime.Add(time.Duration(seconds) * time.Second)
}

// Add 添加字节数到当前桶
func (r *RateMeter) Add(bytes int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.advanceLocked(r.clock.Now())
	r.buckets[r.lastIdx] += bytes
}

// Rate 返回最近 60 秒的平均速率（字节/秒）
func (r *RateMeter) Rate() float64 {
	return float64(r.Total()) / float64(len(r.buckets))
}

// Total 返回窗口内的总量
func (r *RateMeter) Total() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.advanceLocked(r.clock.Now())
	var total int64
	for _, v := range r.buckets {
		total += v
	}
	return total
}

// LastUpdate 返回窗口最后推进的时间
func (r *RateMeter) LastUpdate() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastTime
}
