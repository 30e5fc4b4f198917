package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patchsync/pkg/contract"
)

func newServer(t *testing.T, h http.HandlerFunc) contract.Gateway {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	raw, _ := json.Marshal(Options{BaseURL: srv.URL, APIKey: "k"})
	g, err := New(raw)
	require.NoError(t, err)
	return g
}

func TestTranslateSuccess(t *testing.T) {
	g := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "剑", req.Messages[1].Content)
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":" Sword \n"}}]}`)
	})
	res, err := g.Translate(context.Background(), "剑", "zh", "en")
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "Sword", res[0].Translated)
}

func TestTranslateBlankReplyIsEmptyResult(t *testing.T) {
	g := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"  "}}]}`)
	})
	res, err := g.Translate(context.Background(), "x", "zh", "en")
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestTranslateStatusMapping(t *testing.T) {
	g := newServer(t, func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTooManyRequests) })
	_, err := g.Translate(context.Background(), "x", "zh", "en")
	assert.True(t, errors.Is(err, contract.ErrRateLimited))

	g = newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, "busy")
	})
	_, err = g.Translate(context.Background(), "x", "zh", "en")
	var ue contract.UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, "busy", ue.UpstreamMessage())

	g = newServer(t, func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusUnauthorized) })
	_, err = g.Translate(context.Background(), "x", "zh", "en")
	assert.True(t, errors.Is(err, contract.ErrInvalidInput))

	g = newServer(t, func(w http.ResponseWriter, r *http.Request) { _, _ = io.WriteString(w, `{"choices":[]}`) })
	_, err = g.Translate(context.Background(), "x", "zh", "en")
	assert.True(t, errors.Is(err, contract.ErrResponseInvalid))
}

func TestCustomEndpointAndInstructions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/chat", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		assert.Equal(t, "proxy", r.Header.Get("X-Api-Key"))
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "en->zh", req.Messages[0].Content)
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"剑"}}]}`)
	}))
	t.Cleanup(srv.Close)
	raw, _ := json.Marshal(Options{
		APIKey:             "k",
		EndpointPath:       srv.URL + "/v2/chat",
		DisableDefaultAuth: true,
		ExtraHeaders:       map[string]string{"X-Api-Key": "proxy"},
		Instructions:       "%[1]s->%[2]s",
	})
	g, err := New(raw)
	require.NoError(t, err)
	res, err := g.Translate(context.Background(), "Sword", "en", "zh")
	require.NoError(t, err)
	assert.Equal(t, "剑", res[0].Translated)
}

func TestEndpointURL(t *testing.T) {
	assert.Equal(t, "https://a/v1/chat/completions", endpointURL("https://a/v1/", "/chat/completions"))
	assert.Equal(t, "http://b/x", endpointURL("https://a", "http://b/x"))
}

func TestNewMissingKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := New(nil)
	assert.True(t, errors.Is(err, contract.ErrInvalidInput))
}
