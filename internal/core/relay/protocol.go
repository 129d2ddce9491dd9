package relay

import (
	"encoding/base64"
	"encoding/json"
)

// 中继层消息类型
const (
	TypeRegister     = "register"
	TypePing         = "ping"
	TypePong         = "pong"
	TypeUpdateURLs   = "update_urls"
	TypeConnection   = "connection"
	TypeRelayMessage = "relay_message"
	TypeError        = "error"
)

type registerFrame struct {
	Type       string   `json:"type"`
	InstanceID string   `json:"instance_id"`
	PublicKey  string   `json:"public_key"`
	DirectURLs []string `json:"direct_urls"`
}

type updateURLsFrame struct {
	Type       string   `json:"type"`
	DirectURLs []string `json:"direct_urls"`
}

type relayMessageFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Payload   string `json:"payload"`
}

type pingFrame struct {
	Type string `json:"type"`
}

// connectionEvent 中继通知有新的客户端会话
type connectionEvent struct {
	SessionID       string `json:"session_id"`
	ClientPublicKey string `json:"client_public_key"`
	ClientIP        string `json:"client_ip"`
}

// relayMessageEvent 中继转发的客户端载荷
type relayMessageEvent struct {
	SessionID string `json:"session_id"`
	Payload   string `json:"payload"`
}

type errorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func encodeFrame(v any) ([]byte, error) {
	return json.Marshal(v)
}

// decodeClientKey 解码 connection 事件中的客户端公钥，失败时返回 nil
func decodeClientKey(s string) []byte {
	if s == "" {
		return nil
	}
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.RawURLEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil {
			return b
		}
	}
	return nil
}
