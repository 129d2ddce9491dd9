package tunnel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/mydia/go-remoteaccess/internal/core/devicestore"
	"github.com/mydia/go-remoteaccess/internal/core/security/msgcrypt"
	"github.com/mydia/go-remoteaccess/internal/util/logger"
)

var log = logger.Logger("tunnel")

// errPlaintextAfterHandshake 握手完成后收到明文
var errPlaintextAfterHandshake = errors.New("tunnel: plaintext message after handshake")

// State 会话状态
type State int32

const (
	// StateAwaitingHandshake 等待握手
	StateAwaitingHandshake State = iota

	// StateAuthenticated 已建立会话密钥
	StateAuthenticated

	// StateClosed 已关闭
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingHandshake:
		return "awaiting_handshake"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// 关闭原因
const (
	ReasonClientClose = "client_close"
	ReasonIdle        = "idle"
	ReasonShutdown    = "shutdown"
	ReasonClosed      = "closed"
)

// Sender 把载荷发回中继
type Sender interface {
	Send(ctx context.Context, sessionID, payload string) error
}

// Session 单个隧道会话
type Session struct {
	id       string
	clientIP string
	connKey  []byte

	f      *Factory
	sender Sender

	// 以下字段只在 Run goroutine 内访问
	sessionKey []byte
	device     *devicestore.Device
	mediaToken string

	state     atomic.Int32
	inbox     chan string
	closing   chan struct{}
	closeOnce sync.Once
	done      chan struct{}
	reason    atomic.Value
}

// ID 会话 ID
func (s *Session) ID() string {
	return s.id
}

// State 当前状态
func (s *Session) State() State {
	return State(s.state.Load())
}

// Done 会话结束后关闭
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// CloseReason 关闭原因，会话未结束时为空
func (s *Session) CloseReason() string {
	r, _ := s.reason.Load().(string)
	return r
}

// Deliver 投递一条入站载荷，不阻塞
//
// 会话已结束或队列已满时返回 false。
func (s *Session) Deliver(payload string) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.inbox <- payload:
		return true
	case <-s.done:
		return false
	default:
		log.Warn("会话入站队列已满，丢弃消息", "session", s.id)
		return false
	}
}

// Close 请求关闭会话，可重复调用
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closing)
	})
}

// Run 运行会话直到关闭、空闲超时或 ctx 取消
func (s *Session) Run(ctx context.Context) {
	s.f.metrics.SessionOpened()
	log.Debug("会话开始", "session", s.id, "client_ip", s.clientIP)

	reason := s.loop(ctx)

	s.reason.Store(reason)
	s.state.Store(int32(StateClosed))
	clear(s.sessionKey)
	s.sessionKey = nil
	s.f.traffic.Forget(s.id)
	s.f.metrics.SessionClosed(reason)
	close(s.done)
	log.Debug("会话结束", "session", s.id, "reason", reason)
}

func (s *Session) loop(ctx context.Context) string {
	idleTimeout := s.f.cfg.IdleTimeout
	idle := s.f.clock.Timer(idleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return ReasonShutdown
		case <-s.closing:
			return ReasonClosed
		case <-idle.C:
			log.Info("会话空闲超时", "session", s.id, "timeout", idleTimeout)
			return ReasonIdle
		case payload := <-s.inbox:
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(idleTimeout)
			if s.handle(ctx, payload) {
				return ReasonClientClose
			}
		}
	}
}

// handle 处理一条入站载荷，返回 true 表示会话应结束
func (s *Session) handle(ctx context.Context, payload string) bool {
	s.f.traffic.LogRecv(s.id, int64(len(payload)))

	msg, err := s.decode(payload)
	if err != nil {
		log.Warn("入站消息处理失败", "session", s.id, "err", err)
		s.sendError(ctx, nil, CodeProcessingFailed, "")
		return false
	}
	return s.dispatch(ctx, msg)
}

// decode 解出入站消息
//
// 握手前接受明文 JSON（必要时先去掉 base64 外层）；
// 握手后只接受 nonce||ciphertext||tag，明文直接拒绝。
func (s *Session) decode(payload string) (*Message, error) {
	if s.sessionKey == nil {
		if msgcrypt.LooksLikePlaintext(payload) {
			return DecodeMessage([]byte(payload))
		}
		data, err := msgcrypt.DecodeWire(payload)
		if err != nil {
			return nil, err
		}
		return DecodeMessage(data)
	}

	if msgcrypt.LooksLikePlaintext(payload) {
		return nil, errPlaintextAfterHandshake
	}
	data, err := msgcrypt.DecodeWire(payload)
	if err != nil {
		return nil, err
	}
	plaintext, err := msgcrypt.Decrypt(s.sessionKey, data, msgcrypt.AAD(s.id, msgcrypt.ToServer))
	if err != nil {
		return nil, err
	}
	return DecodeMessage(plaintext)
}

func (s *Session) dispatch(ctx context.Context, msg *Message) bool {
	switch msg.Type {
	case TypePairingHandshake:
		s.handlePairingHandshake(ctx, msg)
	case TypeKeyExchange:
		s.handleKeyExchange(ctx, msg, TypeKeyExchangeComplete)
	case TypeHandshakeInit:
		s.handleKeyExchange(ctx, msg, TypeHandshakeComplete)
	case TypeClaimCode:
		s.handleClaim(ctx, msg)
	case TypeRequest:
		s.handleRequest(ctx, msg)
	case TypePing:
		s.send(ctx, TypePong, nil)
	case TypeClose:
		log.Debug("客户端关闭会话", "session", s.id)
		return true
	default:
		log.Debug("未知消息类型", "session", s.id, "type", msg.Type)
		s.sendError(ctx, nil, CodeUnknownMessageType, "unknown message type")
	}
	return false
}

// send 编码并发送一条消息
//
// 会话密钥已建立且不是握手类消息时加密。
func (s *Session) send(ctx context.Context, typ string, data any) {
	raw, err := encodeEnvelope(typ, data)
	if err != nil {
		log.Error("编码出站消息失败", "session", s.id, "type", typ, "err", err)
		return
	}

	payload := string(raw)
	if s.sessionKey != nil && !msgcrypt.IsHandshakeType(typ) {
		ct, err := msgcrypt.Encrypt(s.sessionKey, raw, msgcrypt.AAD(s.id, msgcrypt.ToClient))
		if err != nil {
			log.Error("加密出站消息失败", "session", s.id, "err", err)
			return
		}
		payload = msgcrypt.EncodeWire(ct)
	}

	if err := s.sender.Send(ctx, s.id, payload); err != nil {
		log.Debug("发送出站消息失败", "session", s.id, "type", typ, "err", err)
		return
	}
	s.f.traffic.LogSent(s.id, int64(len(payload)))
}

func (s *Session) sendError(ctx context.Context, id []byte, code, message string) {
	s.send(ctx, TypeError, errorPayload{ID: id, Code: code, Message: message})
}
