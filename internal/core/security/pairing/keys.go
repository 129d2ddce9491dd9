package pairing

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize X25519 密钥长度
	KeySize = curve25519.ScalarSize

	// SessionKeySize 会话密钥长度
	SessionKeySize = 32

	sessionKeyInfo = "mydia-session-key"
)

// KeyPair X25519 密钥对
type KeyPair struct {
	Private []byte
	Public  []byte
}

// String 不输出私钥
func (kp *KeyPair) String() string {
	return fmt.Sprintf("KeyPair{pub=%x}", kp.Public)
}

// GenerateKeyPair 生成 X25519 密钥对
func GenerateKeyPair() (*KeyPair, error) {
	priv := make([]byte, KeySize)
	if _, err := rand.Read(priv); err != nil {
		return nil, fmt.Errorf("pairing: generate key: %w", err)
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("pairing: derive public key: %w", err)
	}
	return &KeyPair{Private: priv, Public: pub}, nil
}

// DeriveSessionKey 由本方私钥和对方公钥派生会话密钥
//
// 双方用各自私钥和对方公钥计算得到相同结果。
func DeriveSessionKey(priv, peerPub []byte) ([]byte, error) {
	if len(priv) != KeySize || len(peerPub) != KeySize {
		return nil, ErrInvalidPublicKey
	}
	shared, err := curve25519.X25519(priv, peerPub)
	if err != nil {
		return nil, ErrInvalidPublicKey
	}

	prk := hkdf.Extract(sha256.New, shared, nil)
	key := make([]byte, SessionKeySize)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, prk, []byte(sessionKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("pairing: expand session key: %w", err)
	}
	return key, nil
}

// ValidatePublicKey 检查公钥长度
func ValidatePublicKey(pub []byte) error {
	if len(pub) != KeySize {
		return ErrInvalidPublicKey
	}
	return nil
}
