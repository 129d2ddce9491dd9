package localapi

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDo_InjectsMediaToken 客户端未带 Authorization 时注入媒体令牌
func TestDo_InjectsMediaToken(t *testing.T) {
	var gotAuth, gotPath, gotQuery, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Add("X-Multi", "a")
		w.Header().Add("X-Multi", "b")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL + "/base/")
	require.NoError(t, err)

	resp, err := c.Do(context.Background(), Request{
		Method:     "post",
		Path:       "/api/graphql?x=1",
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       []byte(`{"query":"{}"}`),
		MediaToken: "media-jwt",
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer media-jwt", gotAuth)
	assert.Equal(t, "/base/api/graphql", gotPath)
	assert.Equal(t, "x=1", gotQuery)
	assert.Equal(t, `{"query":"{}"}`, gotBody)

	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.Equal(t, "application/json", resp.Headers["content-type"])
	assert.Equal(t, "a, b", resp.Headers["x-multi"])
	assert.Equal(t, `{"ok":true}`, string(resp.Body))
}

func TestDo_KeepsClientAuthorization(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	resp, err := c.Do(context.Background(), Request{
		Path:       "/missing",
		Headers:    map[string]string{"Authorization": "Bearer client"},
		MediaToken: "media-jwt",
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer client", gotAuth)
	assert.Equal(t, http.StatusNotFound, resp.Status)
}

// TestDo_RejectsForeignTargets 只允许访问本地基础地址
func TestDo_RejectsForeignTargets(t *testing.T) {
	c, err := NewClient("http://127.0.0.1:4000")
	require.NoError(t, err)

	for _, p := range []string{"http://evil.example/", "//evil.example/x", "relative", ""} {
		_, err := c.Do(context.Background(), Request{Path: p})
		assert.ErrorIs(t, err, ErrInvalidPath, p)
	}

	_, err = c.Do(context.Background(), Request{Method: "CONNECT", Path: "/"})
	assert.ErrorIs(t, err, ErrInvalidMethod)
}

func TestDo_BodyLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 64))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, WithMaxBodyBytes(32))
	require.NoError(t, err)
	_, err = c.Do(context.Background(), Request{Path: "/big"})
	assert.ErrorIs(t, err, ErrBodyTooLarge)
}

func TestNewClient_Invalid(t *testing.T) {
	_, err := NewClient("not a url")
	assert.Error(t, err)
	_, err = NewClient("/only/path")
	assert.Error(t, err)
}
