// Package localapi 通过回环 HTTP 调用本地媒体服务 API
//
// 隧道会话把解密后的 request 消息交给 Client 执行，
// 再把状态码、响应头和响应体封装成 response 消息返回。
package localapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mydia/go-remoteaccess/internal/util/logger"
)

var log = logger.Logger("localapi")

var (
	// ErrInvalidPath 路径不是本地绝对路径
	ErrInvalidPath = errors.New("localapi: invalid request path")

	// ErrInvalidMethod 不支持的方法
	ErrInvalidMethod = errors.New("localapi: invalid method")

	// ErrBodyTooLarge 响应体超过上限
	ErrBodyTooLarge = errors.New("localapi: response body too large")
)

// DefaultMaxBodyBytes 默认响应体上限
const DefaultMaxBodyBytes int64 = 32 << 20

// hopHeaders 逐跳头，不转发
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	"Host",
	"Content-Length",
}

var allowedMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodPatch:   true,
	http.MethodDelete:  true,
	http.MethodOptions: true,
}

// Request 代理请求
type Request struct {
	Method  string
	Path    string
	Headers map[string]string
	Body    []byte

	// MediaToken 客户端未携带 Authorization 时注入的 Bearer 令牌
	MediaToken string
}

// Response 代理响应
type Response struct {
	Status  int
	Headers map[string]string
	Body    []byte
}

// Client 本地 API 客户端
type Client struct {
	base    *url.URL
	client  *http.Client
	maxBody int64
}

// Option 客户端选项
type Option func(*Client)

// WithHTTPClient 指定底层 HTTP 客户端
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.client = hc
	}
}

// WithMaxBodyBytes 指定响应体上限
func WithMaxBodyBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBody = n
		}
	}
}

// NewClient 创建客户端
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("localapi: parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("localapi: base url %q must be absolute", baseURL)
	}
	c := &Client{
		base: base,
		client: &http.Client{
			// 超时由调用方的 context 控制
			Transport: &http.Transport{
				MaxIdleConns:        32,
				MaxIdleConnsPerHost: 32,
				IdleConnTimeout:     90 * time.Second,
			},
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		maxBody: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// resolve 将请求路径拼接到基础地址上
//
// 只接受以 / 开头的相对路径，拒绝携带 scheme 或 host 的地址。
func (c *Client) resolve(path string) (*url.URL, error) {
	if !strings.HasPrefix(path, "/") || strings.HasPrefix(path, "//") {
		return nil, ErrInvalidPath
	}
	ref, err := url.Parse(path)
	if err != nil || ref.Scheme != "" || ref.Host != "" {
		return nil, ErrInvalidPath
	}
	u := *c.base
	u.Path = strings.TrimSuffix(c.base.Path, "/") + ref.Path
	u.RawPath = ""
	u.RawQuery = ref.RawQuery
	u.Fragment = ""
	return &u, nil
}

// Do 执行请求
//
// 非 2xx 状态码不视为错误，原样返回给客户端。
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	if !allowedMethods[method] {
		return nil, ErrInvalidMethod
	}
	u, err := c.resolve(req.Path)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("localapi: build request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	for _, h := range hopHeaders {
		httpReq.Header.Del(h)
	}
	if httpReq.Header.Get("Authorization") == "" && req.MediaToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.MediaToken)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("localapi: %s %s: %w", method, u.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("localapi: read body: %w", err)
	}
	if int64(len(data)) > c.maxBody {
		log.Warn("响应体超过上限", "path", u.Path, "limit", c.maxBody)
		return nil, ErrBodyTooLarge
	}

	log.Debug("本地 API 请求完成", "method", method, "path", u.Path, "status", resp.StatusCode)
	return &Response{
		Status:  resp.StatusCode,
		Headers: flattenHeaders(resp.Header),
		Body:    data,
	}, nil
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vs := range h {
		skip := false
		for _, hop := range hopHeaders {
			if strings.EqualFold(k, hop) {
				skip = true
				break
			}
		}
		if skip {
			continue
		}
		out[strings.ToLower(k)] = strings.Join(vs, ", ")
	}
	return out
}
