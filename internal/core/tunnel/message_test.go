package tunnel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDecodeMessage_EnvelopeShapes 嵌套与扁平信封规范化为同一消息
func TestDecodeMessage_EnvelopeShapes(t *testing.T) {
	nested, err := DecodeMessage([]byte(`{"type":"request","data":{"id":"1","method":"GET","path":"/a"}}`))
	require.NoError(t, err)
	flat, err := DecodeMessage([]byte(`{"type":"request","id":"1","method":"GET","path":"/a"}`))
	require.NoError(t, err)

	assert.Equal(t, "request", nested.Type)
	assert.Equal(t, nested.Type, flat.Type)
	assert.Equal(t, nested.Fields, flat.Fields)

	var p requestPayload
	require.NoError(t, nested.Decode(&p))
	assert.Equal(t, "GET", p.Method)
	assert.Equal(t, "/a", p.Path)
	assert.JSONEq(t, `"1"`, string(p.ID))
}

func TestDecodeMessage_DataOverridesTopLevel(t *testing.T) {
	m, err := DecodeMessage([]byte(`{"type":"ping","extra":1,"path":"/top","data":{"path":"/nested"}}`))
	require.NoError(t, err)
	assert.JSONEq(t, `"/nested"`, string(m.Fields["path"]))
	assert.JSONEq(t, `1`, string(m.Fields["extra"]))
	_, hasData := m.Fields["data"]
	assert.False(t, hasData)
}

func TestDecodeMessage_NonObjectData(t *testing.T) {
	m, err := DecodeMessage([]byte(`{"type":"custom","data":"scalar"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `"scalar"`, string(m.Fields["data"]))
}

func TestDecodeMessage_Malformed(t *testing.T) {
	for _, raw := range []string{``, `[]`, `null`, `{"data":{}}`, `{"type":""}`, `{"type":5}`, `not json`} {
		_, err := DecodeMessage([]byte(raw))
		assert.ErrorIs(t, err, ErrMalformedMessage, raw)
	}
}

func TestEncodeBody(t *testing.T) {
	body, enc := encodeBody([]byte("héllo"))
	assert.Equal(t, "héllo", body)
	assert.Equal(t, BodyRaw, enc)

	body, enc = encodeBody([]byte{0xff, 0xd8, 0xff})
	assert.Equal(t, "/9j/", body)
	assert.Equal(t, BodyBase64, enc)

	_, enc = encodeBody([]byte{'a', 0, 'b'})
	assert.Equal(t, BodyBase64, enc)
}

func TestRequestBody(t *testing.T) {
	raw := "plain"
	p := requestPayload{Body: &raw}
	b, err := p.requestBody()
	require.NoError(t, err)
	assert.Equal(t, []byte("plain"), b)

	enc := "AAEC"
	p = requestPayload{Body: &enc, BodyEncoding: BodyBase64}
	b, err = p.requestBody()
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2}, b)

	p = requestPayload{}
	b, err = p.requestBody()
	require.NoError(t, err)
	assert.Nil(t, b)
}

func TestDecodeKey(t *testing.T) {
	key := make([]byte, 32)
	key[0] = 0xfb
	for _, s := range []string{
		encodeKey(key),
		"-wAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA",
	} {
		got, err := decodeKey(s)
		require.NoError(t, err, s)
		assert.Equal(t, key, got)
	}
	_, err := decodeKey("***")
	assert.ErrorIs(t, err, ErrInvalidKey)
}
