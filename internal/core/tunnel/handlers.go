package tunnel

import (
	"context"
	"errors"
	"net/http"

	"github.com/mydia/go-remoteaccess/internal/core/executor"
	"github.com/mydia/go-remoteaccess/internal/core/localapi"
	"github.com/mydia/go-remoteaccess/internal/core/security/pairing"
)

// ============= 握手 =============

func (s *Session) handlePairingHandshake(ctx context.Context, msg *Message) {
	if s.sessionKey != nil {
		s.sendError(ctx, nil, CodeInvalidState, "session already authenticated")
		return
	}

	var p handshakePayload
	if err := msg.Decode(&p); err != nil {
		s.handshakeFailed(ctx, "malformed", err)
		return
	}
	agreed, ok := s.negotiate(ctx, p.Versions)
	if !ok {
		return
	}
	clientPub, err := s.clientKey(p.ClientPublicKey)
	if err != nil {
		s.handshakeFailed(ctx, "invalid_key", err)
		return
	}

	hs, err := s.f.pairing.StartPairing(clientPub)
	if err != nil {
		s.handshakeFailed(ctx, "invalid_key", err)
		return
	}

	s.send(ctx, TypePairingHandshake, pairingHandshakeReply{
		ServerPublicKey: encodeKey(hs.ServerPublicKey),
		Versions:        agreed,
	})
	s.sessionKey = hs.SessionKey
	s.state.Store(int32(StateAuthenticated))
	log.Info("配对握手完成", "session", s.id)
}

// handleKeyExchange 已配对设备重连，handshake_init 为旧版客户端的同义消息
func (s *Session) handleKeyExchange(ctx context.Context, msg *Message, replyType string) {
	if s.sessionKey != nil {
		s.sendError(ctx, nil, CodeInvalidState, "session already authenticated")
		return
	}

	var p handshakePayload
	if err := msg.Decode(&p); err != nil {
		s.handshakeFailed(ctx, "malformed", err)
		return
	}
	agreed, ok := s.negotiate(ctx, p.Versions)
	if !ok {
		return
	}
	clientPub, err := s.clientKey(p.ClientPublicKey)
	if err != nil {
		s.handshakeFailed(ctx, "invalid_key", err)
		return
	}

	res, err := s.f.pairing.Reconnect(ctx, clientPub, p.DeviceToken)
	switch {
	case errors.Is(err, pairing.ErrDeviceNotFound):
		s.f.metrics.HandshakeFailed("device_not_found")
		log.Info("重连设备不存在或已吊销", "session", s.id)
		s.sendError(ctx, nil, CodeDeviceNotFound, "device not found")
		return
	case errors.Is(err, pairing.ErrInvalidPublicKey):
		s.handshakeFailed(ctx, "invalid_key", err)
		return
	case err != nil:
		s.f.metrics.HandshakeFailed("internal")
		log.Error("重连处理失败", "session", s.id, "err", err)
		s.sendError(ctx, nil, CodeProcessingFailed, "")
		return
	}

	s.send(ctx, replyType, keyExchangeReply{
		ServerPublicKey: encodeKey(res.ServerPublicKey),
		DeviceID:        res.DeviceID,
		MediaToken:      res.MediaToken,
		Versions:        agreed,
	})
	s.sessionKey = res.SessionKey
	s.device = res.Device
	s.mediaToken = res.MediaToken
	s.state.Store(int32(StateAuthenticated))
	log.Info("设备重连完成", "session", s.id, "device_id", res.DeviceID)
}

// clientKey 解出客户端临时公钥，消息未携带时使用 connection 事件中的公钥
func (s *Session) clientKey(encoded string) ([]byte, error) {
	if encoded == "" {
		if len(s.connKey) == 0 {
			return nil, ErrInvalidKey
		}
		return s.connKey, nil
	}
	return decodeKey(encoded)
}

func (s *Session) handshakeFailed(ctx context.Context, reason string, err error) {
	s.f.metrics.HandshakeFailed(reason)
	log.Warn("握手失败", "session", s.id, "reason", reason, "err", err)
	s.sendError(ctx, nil, CodeHandshakeFailed, "handshake failed")
}

// negotiate 协商协议版本，客户端未声明版本时视为兼容
func (s *Session) negotiate(ctx context.Context, remote map[string][]string) (map[string]string, bool) {
	if len(remote) == 0 || s.f.negotiator == nil {
		return nil, true
	}
	agreed, update := s.f.negotiator.NegotiateAll(remote)
	if update == nil {
		return agreed, true
	}

	s.f.metrics.HandshakeFailed("update_required")
	log.Info("客户端协议版本不兼容", "session", s.id, "layers", update.FailedLayers)
	s.send(ctx, TypeError, errorPayload{
		Code:              CodeUpdateRequired,
		Message:           update.Message,
		FailedLayers:      update.FailedLayers,
		SupportedVersions: update.SupportedVersions,
		UpdateURL:         update.UpdateURL,
	})
	return nil, false
}

// ============= 配对码 =============

func (s *Session) handleClaim(ctx context.Context, msg *Message) {
	if s.sessionKey == nil {
		s.sendError(ctx, nil, CodeHandshakeRequired, "pairing handshake required")
		return
	}
	if s.device != nil {
		s.sendError(ctx, nil, CodeInvalidState, "device already paired")
		return
	}

	var p claimPayload
	if err := msg.Decode(&p); err != nil {
		s.sendError(ctx, nil, CodeInvalidRequest, "invalid claim request")
		return
	}
	staticKey, err := decodeKey(p.ClientStaticPublicKey)
	if err != nil {
		s.sendError(ctx, nil, CodeInvalidRequest, "invalid claim request")
		return
	}

	res, err := s.f.pairing.RedeemClaim(ctx, s.rateLimitKey(), pairing.ClaimRequest{
		Code:            p.Code,
		DeviceName:      p.DeviceName,
		Platform:        p.Platform,
		StaticPublicKey: staticKey,
	})
	if err != nil {
		if code := pairing.ClaimErrorCode(err); code != "" {
			log.Info("配对码兑换被拒绝", "session", s.id, "code", code)
			s.sendError(ctx, nil, code, claimMessages[code])
			return
		}
		switch {
		case errors.Is(err, pairing.ErrDeviceExists):
			s.sendError(ctx, nil, CodeDeviceExists, "device already paired")
		case errors.Is(err, pairing.ErrInvalidRequest), errors.Is(err, pairing.ErrInvalidPublicKey):
			s.sendError(ctx, nil, CodeInvalidRequest, "invalid claim request")
		default:
			log.Error("配对码兑换失败", "session", s.id, "err", err)
			s.sendError(ctx, nil, CodeProcessingFailed, "")
		}
		return
	}

	s.device = res.Device
	s.mediaToken = res.MediaToken
	s.send(ctx, TypePairingComplete, pairingCompleteReply{
		DeviceID:    res.DeviceID,
		MediaToken:  res.MediaToken,
		DeviceToken: res.DeviceToken,
	})
}

var claimMessages = map[string]string{
	"not_found":    "claim code not found",
	"already_used": "claim code already used",
	"expired":      "claim code expired",
	"rate_limited": "too many attempts, try again later",
}

// rateLimitKey 限流键，中继未提供客户端 IP 时按会话计数
func (s *Session) rateLimitKey() string {
	if s.clientIP != "" {
		return s.clientIP
	}
	return "session:" + s.id
}

// ============= 代理请求 =============

func (s *Session) handleRequest(ctx context.Context, msg *Message) {
	var p requestPayload
	if err := msg.Decode(&p); err != nil {
		log.Warn("请求消息解码失败", "session", s.id, "err", err)
		s.sendError(ctx, nil, CodeProcessingFailed, "")
		return
	}
	if s.device == nil {
		s.f.metrics.ObserveRequest(http.StatusUnauthorized, 0)
		s.send(ctx, TypeResponse, responsePayload{
			ID:           p.ID,
			Status:       http.StatusUnauthorized,
			Headers:      map[string]string{"content-type": "application/json"},
			Body:         `{"error":"unauthorized"}`,
			BodyEncoding: BodyRaw,
		})
		return
	}
	body, err := p.requestBody()
	if err != nil {
		log.Warn("请求体解码失败", "session", s.id, "err", err)
		s.sendError(ctx, p.ID, CodeProcessingFailed, "")
		return
	}

	start := s.f.clock.Now()
	req := localapi.Request{
		Method:     p.Method,
		Path:       p.Path,
		Headers:    p.Headers,
		Body:       body,
		MediaToken: s.mediaToken,
	}
	resp, err := executor.Run(ctx, s.f.cfg.RequestTimeout, func(ctx context.Context) (*localapi.Response, error) {
		return s.f.api.Do(ctx, req)
	})
	elapsed := s.f.clock.Since(start)

	switch {
	case errors.Is(err, executor.ErrTimeout):
		s.f.metrics.ObserveRequest(http.StatusGatewayTimeout, elapsed)
		log.Warn("代理请求超时", "session", s.id, "path", p.Path, "timeout", s.f.cfg.RequestTimeout)
		s.send(ctx, TypeResponse, responsePayload{
			ID:           p.ID,
			Status:       http.StatusGatewayTimeout,
			Headers:      map[string]string{"content-type": "application/json"},
			Body:         `{"error":"timeout"}`,
			BodyEncoding: BodyRaw,
		})
		return
	case err != nil:
		s.f.metrics.ObserveRequest(0, elapsed)
		log.Warn("代理请求失败", "session", s.id, "path", p.Path, "err", err)
		s.sendError(ctx, p.ID, CodeProcessingFailed, "")
		return
	}

	s.f.metrics.ObserveRequest(resp.Status, elapsed)
	encoded, encoding := encodeBody(resp.Body)
	s.send(ctx, TypeResponse, responsePayload{
		ID:           p.ID,
		Status:       resp.Status,
		Headers:      resp.Headers,
		Body:         encoded,
		BodyEncoding: encoding,
	})
}
