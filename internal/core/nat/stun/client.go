package stun

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/mydia/go-remoteaccess/internal/util/logger"
)

var log = logger.Logger("nat.stun")

// DefaultTimeout 单个服务器的默认超时
const DefaultTimeout = 2 * time.Second

// Client STUN 客户端
type Client struct {
	servers []string
	timeout time.Duration

	mu   sync.RWMutex
	last *Result
}

// NewClient 创建 STUN 客户端，servers 为空时使用 DefaultServers
func NewClient(servers []string, timeout time.Duration) *Client {
	if len(servers) == 0 {
		servers = DefaultServers()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		servers: normalizeServers(servers),
		timeout: timeout,
	}
}

// normalizeServers 将常见写法归一化为 "host:port"
//
// 兼容 "stun:host:port" 和 "stun://host:port"。
func normalizeServers(in []string) []string {
	out := make([]string, 0, len(in))
	for _, raw := range in {
		s := strings.TrimSpace(raw)
		if i := strings.Index(s, "://"); i >= 0 {
			s = s[i+3:]
		} else {
			s = strings.TrimPrefix(s, "stun:")
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// DefaultServers 返回默认 STUN 服务器列表
func DefaultServers() []string {
	return []string{
		"stun.l.google.com:19302",
		"stun1.l.google.com:19302",
		"stun.cloudflare.com:3478",
	}
}

// Servers 返回归一化后的服务器列表
func (c *Client) Servers() []string {
	return append([]string(nil), c.servers...)
}

// Discover 依次查询服务器，返回第一个成功的结果
func (c *Client) Discover(ctx context.Context) (*Result, error) {
	if len(c.servers) == 0 {
		return nil, ErrNoServers
	}

	var errs error
	for _, server := range c.servers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := c.query(ctx, server)
		if err != nil {
			log.Debug("STUN 服务器查询失败", "server", server, "error", err)
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", server, err))
			continue
		}

		result.Server = server
		c.mu.Lock()
		c.last = result
		c.mu.Unlock()

		log.Info("获取到公网地址", "server", server, "addr", result.String())
		return result, nil
	}

	return nil, fmt.Errorf("%w: %w", ErrAllServersFailed, errs)
}

// LastResult 返回最近一次成功的结果
func (c *Client) LastResult() *Result {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

// query 向单个服务器发送 Binding Request
func (c *Client) query(ctx context.Context, server string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp4", server)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	txID := make([]byte, transactionIDLen)
	if _, err := rand.Read(txID); err != nil {
		return nil, err
	}

	if _, err := conn.Write(BuildBindingRequest(txID)); err != nil {
		return nil, err
	}

	buf := make([]byte, 1500)
	n, err := conn.Read(buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, ErrNoResponse
		}
		return nil, err
	}

	return ParseBindingResponse(buf[:n], txID)
}
