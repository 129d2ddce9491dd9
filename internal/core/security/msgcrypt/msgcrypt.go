// Package msgcrypt 实现隧道消息的 AEAD 加密
//
// 每条消息使用 ChaCha20-Poly1305 独立加密：
//
//	nonce(12) || ciphertext || tag(16)
//
// 关联数据为 "{session_id}:{direction}"，direction 取 to-client 或 to-server，
// 密文因此绑定到会话和方向，不能跨会话拼接或反射回发送方。
//
// 中继传输时密文通常再做一层 base64，DecodeWire 同时接受原始字节和 base64。
package msgcrypt

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"unicode/utf8"

	"golang.org/x/crypto/chacha20poly1305"
)

// Direction 消息方向
type Direction string

const (
	// ToClient 服务端发往客户端
	ToClient Direction = "to-client"

	// ToServer 客户端发往服务端
	ToServer Direction = "to-server"
)

const (
	// KeySize 会话密钥长度
	KeySize = chacha20poly1305.KeySize

	// NonceSize nonce 长度
	NonceSize = chacha20poly1305.NonceSize

	// TagSize 认证标签长度
	TagSize = chacha20poly1305.Overhead
)

var (
	// ErrInvalidKey 密钥长度错误
	ErrInvalidKey = errors.New("msgcrypt: invalid key size")

	// ErrShortMessage 密文短于 nonce + tag
	ErrShortMessage = errors.New("msgcrypt: ciphertext too short")

	// ErrDecrypt 认证失败（密钥、关联数据或密文不匹配）
	ErrDecrypt = errors.New("msgcrypt: decryption failed")

	// ErrEmptyPayload 空载荷
	ErrEmptyPayload = errors.New("msgcrypt: empty payload")
)

// AAD 返回会话与方向绑定的关联数据
func AAD(sessionID string, dir Direction) []byte {
	return []byte(sessionID + ":" + string(dir))
}

// Encrypt 加密 plaintext，返回 nonce || ciphertext || tag
func Encrypt(key, plaintext, aad []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}

	out := make([]byte, NonceSize, NonceSize+len(plaintext)+TagSize)
	if _, err := rand.Read(out); err != nil {
		return nil, fmt.Errorf("msgcrypt: generate nonce: %w", err)
	}
	return aead.Seal(out, out[:NonceSize], plaintext, aad), nil
}

// Decrypt 解密 Encrypt 的输出
func Decrypt(key, data, aad []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	if len(data) < NonceSize+TagSize {
		return nil, ErrShortMessage
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, data[:NonceSize], data[NonceSize:], aad)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// EncodeWire 将密文编码为中继载荷（标准 base64）
func EncodeWire(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeWire 解码中继载荷
//
// 依次尝试标准 base64、URL base64（含无填充形式），
// 都失败时按原始字节处理。
func DecodeWire(payload string) ([]byte, error) {
	if payload == "" {
		return nil, ErrEmptyPayload
	}
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.RawURLEncoding,
	} {
		if data, err := enc.DecodeString(payload); err == nil {
			return data, nil
		}
	}
	return []byte(payload), nil
}

// LooksLikePlaintext 判断载荷是否为明文 JSON 信封
//
// 握手完成后收到的明文消息必须被拒绝。
// 合法的 base64 密文不会以 '{' 开头，原始密文以 '{' 开头的同时
// 还是合法 UTF-8 JSON 对象的概率可以忽略。
func LooksLikePlaintext(payload string) bool {
	for i := 0; i < len(payload); i++ {
		switch payload[i] {
		case ' ', '\t', '\r', '\n':
			continue
		case '{':
			return utf8.ValidString(payload)
		default:
			return false
		}
	}
	return false
}

// 握手阶段消息类型
const (
	TypePairingHandshake    = "pairing_handshake"
	TypeKeyExchange         = "key_exchange"
	TypeKeyExchangeComplete = "key_exchange_complete"
	TypeHandshakeInit       = "handshake_init"
	TypeHandshakeComplete   = "handshake_complete"
)

// IsHandshakeType 是否为始终以明文传输的握手消息
func IsHandshakeType(t string) bool {
	switch t {
	case TypePairingHandshake, TypeKeyExchange, TypeKeyExchangeComplete,
		TypeHandshakeInit, TypeHandshakeComplete:
		return true
	}
	return false
}
