package msgcrypt

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

// TestRoundTrip 加密后解密得到原文
func TestRoundTrip(t *testing.T) {
	key := randomKey(t)
	aad := AAD("sess-1", ToClient)

	for _, msg := range [][]byte{
		{},
		[]byte("hello"),
		bytes.Repeat([]byte{0xff, 0x00}, 4096),
	} {
		ct, err := Encrypt(key, msg, aad)
		require.NoError(t, err)
		assert.Len(t, ct, NonceSize+len(msg)+TagSize)

		pt, err := Decrypt(key, ct, aad)
		require.NoError(t, err)
		assert.Equal(t, len(msg), len(pt))
		assert.True(t, bytes.Equal(msg, pt))
	}
}

// TestFreshNonce 相同明文两次加密结果不同
func TestFreshNonce(t *testing.T) {
	key := randomKey(t)
	aad := AAD("s", ToServer)

	a, err := Encrypt(key, []byte("same"), aad)
	require.NoError(t, err)
	b, err := Encrypt(key, []byte("same"), aad)
	require.NoError(t, err)
	assert.NotEqual(t, a[:NonceSize], b[:NonceSize])
}

// TestAADBinding 会话或方向不匹配时解密失败
func TestAADBinding(t *testing.T) {
	key := randomKey(t)
	ct, err := Encrypt(key, []byte("secret"), AAD("sess-1", ToClient))
	require.NoError(t, err)

	_, err = Decrypt(key, ct, AAD("sess-2", ToClient))
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = Decrypt(key, ct, AAD("sess-1", ToServer))
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = Decrypt(randomKey(t), ct, AAD("sess-1", ToClient))
	assert.ErrorIs(t, err, ErrDecrypt)

	ct[len(ct)-1] ^= 0x01
	_, err = Decrypt(key, ct, AAD("sess-1", ToClient))
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestInvalidInput(t *testing.T) {
	_, err := Encrypt([]byte("short"), []byte("x"), nil)
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = Decrypt(randomKey(t), make([]byte, NonceSize+TagSize-1), nil)
	assert.ErrorIs(t, err, ErrShortMessage)
}

func TestAAD(t *testing.T) {
	assert.Equal(t, []byte("abc:to-client"), AAD("abc", ToClient))
	assert.Equal(t, []byte("abc:to-server"), AAD("abc", ToServer))
}

// TestDecodeWire 接受标准/URL base64 与原始字节
func TestDecodeWire(t *testing.T) {
	data := []byte{0xfb, 0xff, 0xfe, 0x01, 0x02}

	for _, enc := range []*base64.Encoding{
		base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding,
	} {
		got, err := DecodeWire(enc.EncodeToString(data))
		require.NoError(t, err)
		assert.Equal(t, data, got)
	}

	got, err := DecodeWire(EncodeWire(data))
	require.NoError(t, err)
	assert.Equal(t, data, got)

	raw := string([]byte{0x00, 0x9f, '!', '*'})
	got, err = DecodeWire(raw)
	require.NoError(t, err)
	assert.Equal(t, []byte(raw), got)

	_, err = DecodeWire("")
	assert.ErrorIs(t, err, ErrEmptyPayload)
}

func TestLooksLikePlaintext(t *testing.T) {
	assert.True(t, LooksLikePlaintext(`{"type":"request"}`))
	assert.True(t, LooksLikePlaintext("  \n{\"type\":\"ping\"}"))
	assert.False(t, LooksLikePlaintext(EncodeWire([]byte(`{"type":"request"}`))))
	assert.False(t, LooksLikePlaintext(""))
	assert.False(t, LooksLikePlaintext(string([]byte{'{', 0xff, 0xfe})))
}

func TestIsHandshakeType(t *testing.T) {
	for _, typ := range []string{"pairing_handshake", "key_exchange_complete", "handshake_complete", "key_exchange", "handshake_init"} {
		assert.True(t, IsHandshakeType(typ), typ)
	}
	for _, typ := range []string{"request", "response", "claim_code", "pairing_complete", "close", "ping", "error"} {
		assert.False(t, IsHandshakeType(typ), typ)
	}
}
