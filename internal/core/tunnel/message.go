package tunnel

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// 隧道层消息类型
const (
	TypePairingHandshake    = "pairing_handshake"
	TypeKeyExchange         = "key_exchange"
	TypeKeyExchangeComplete = "key_exchange_complete"
	TypeHandshakeInit       = "handshake_init"
	TypeHandshakeComplete   = "handshake_complete"
	TypeClaimCode           = "claim_code"
	TypePairingComplete     = "pairing_complete"
	TypeRequest             = "request"
	TypeResponse            = "response"
	TypeClose               = "close"
	TypePing                = "ping"
	TypePong                = "pong"
	TypeError               = "error"
)

// 对外错误码
const (
	CodeUnknownMessageType = "unknown_message_type"
	CodeProcessingFailed   = "message_processing_failed"
	CodeUpdateRequired     = "update_required"
	CodeHandshakeFailed    = "handshake_failed"
	CodeHandshakeRequired  = "handshake_required"
	CodeInvalidState       = "invalid_state"
	CodeDeviceNotFound     = "device_not_found"
	CodeDeviceExists       = "device_exists"
	CodeInvalidRequest     = "invalid_request"
	CodeTimeout            = "timeout"
)

// 响应体编码
const (
	BodyRaw    = "raw"
	BodyBase64 = "base64"
)

var (
	// ErrMalformedMessage 消息不是 JSON 对象或缺少 type
	ErrMalformedMessage = errors.New("tunnel: malformed message")

	// ErrInvalidKey 公钥编码错误
	ErrInvalidKey = errors.New("tunnel: invalid key encoding")
)

// Message 规范化后的隧道消息
//
// 两种信封 {"type","data":{...}} 与 {"type",...} 解码后得到相同的 Fields。
type Message struct {
	Type   string
	Fields map[string]json.RawMessage
}

// DecodeMessage 解码并规范化消息
//
// 顶层字段与 data 对象内字段合并，同名时以 data 内为准。
func DecodeMessage(raw []byte) (*Message, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil || top == nil {
		return nil, ErrMalformedMessage
	}

	var typ string
	if err := json.Unmarshal(top["type"], &typ); err != nil || typ == "" {
		return nil, ErrMalformedMessage
	}

	fields := make(map[string]json.RawMessage, len(top))
	var nested map[string]json.RawMessage
	if data, ok := top["data"]; ok && json.Unmarshal(data, &nested) == nil && nested != nil {
		for k, v := range top {
			if k != "type" && k != "data" {
				fields[k] = v
			}
		}
		for k, v := range nested {
			fields[k] = v
		}
	} else {
		for k, v := range top {
			if k != "type" {
				fields[k] = v
			}
		}
	}
	return &Message{Type: typ, Fields: fields}, nil
}

// Decode 将字段解码到 v
func (m *Message) Decode(v any) error {
	raw, err := json.Marshal(m.Fields)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("tunnel: decode %s: %w", m.Type, err)
	}
	return nil
}

// envelope 发送给客户端的信封
type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

func encodeEnvelope(typ string, data any) ([]byte, error) {
	return json.Marshal(envelope{Type: typ, Data: data})
}

// ============= 载荷 =============

// handshakePayload pairing_handshake / key_exchange / handshake_init
type handshakePayload struct {
	ClientPublicKey string              `json:"client_public_key"`
	DeviceToken     string              `json:"device_token,omitempty"`
	Versions        map[string][]string `json:"versions,omitempty"`
}

type pairingHandshakeReply struct {
	ServerPublicKey string            `json:"server_public_key"`
	Versions        map[string]string `json:"versions,omitempty"`
}

type keyExchangeReply struct {
	ServerPublicKey string            `json:"server_public_key"`
	DeviceID        string            `json:"device_id"`
	MediaToken      string            `json:"media_token"`
	Versions        map[string]string `json:"versions,omitempty"`
}

type claimPayload struct {
	Code                  string `json:"code"`
	DeviceName            string `json:"device_name"`
	Platform              string `json:"platform"`
	ClientStaticPublicKey string `json:"client_static_public_key"`
}

type pairingCompleteReply struct {
	DeviceID    string `json:"device_id"`
	MediaToken  string `json:"media_token"`
	DeviceToken string `json:"device_token"`
}

type requestPayload struct {
	ID           json.RawMessage   `json:"id,omitempty"`
	Method       string            `json:"method"`
	Path         string            `json:"path"`
	Headers      map[string]string `json:"headers,omitempty"`
	Body         *string           `json:"body,omitempty"`
	BodyEncoding string            `json:"body_encoding,omitempty"`
}

type responsePayload struct {
	ID           json.RawMessage   `json:"id,omitempty"`
	Status       int               `json:"status"`
	Headers      map[string]string `json:"headers"`
	Body         string            `json:"body"`
	BodyEncoding string            `json:"body_encoding"`
}

type errorPayload struct {
	ID                json.RawMessage     `json:"id,omitempty"`
	Code              string              `json:"code"`
	Message           string              `json:"message,omitempty"`
	FailedLayers      []string            `json:"failed_layers,omitempty"`
	SupportedVersions map[string][]string `json:"supported_versions,omitempty"`
	UpdateURL         string              `json:"update_url,omitempty"`
}

// decodeKey 解码 base64 公钥，接受标准与 URL 两种字母表
func decodeKey(s string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.RawURLEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, ErrInvalidKey
}

func encodeKey(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// requestBody 解出请求体
func (p *requestPayload) requestBody() ([]byte, error) {
	if p.Body == nil {
		return nil, nil
	}
	if p.BodyEncoding == BodyBase64 {
		return base64.StdEncoding.DecodeString(*p.Body)
	}
	return []byte(*p.Body), nil
}

// encodeBody 按内容选择响应体编码
//
// 合法 UTF-8 且不含 NUL 时原样返回，其余 base64。
func encodeBody(body []byte) (string, string) {
	if utf8.Valid(body) && !bytes.ContainsRune(body, 0) {
		return string(body), BodyRaw
	}
	return base64.StdEncoding.EncodeToString(body), BodyBase64
}
