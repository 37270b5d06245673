package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogTransportSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	called := false
	client := NewLogClient(logger, nil, func(*http.Request, RemoteError) { called = true })

	resp, err := client.Get(srv.URL + "/status")
	require.NoError(t, err)
	resp.Body.Close()

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "HTTP Request", hook.LastEntry().Message)
	assert.Equal(t, 200, hook.LastEntry().Data["status"])
	assert.Equal(t, "/status", hook.LastEntry().Data["path"])
	assert.False(t, called)
}

func TestLogTransportRemoteError(t *testing.T) {
	const body = `{"errorCode":"errors.com.epicgames.party.not_found","errorMessage":"Party not found"}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(body))
	}))
	defer srv.Close()

	logger, hook := test.NewNullLogger()
	var got RemoteError
	client := NewLogClient(logger, nil, func(_ *http.Request, e RemoteError) { got = e })

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, RemoteError{Status: 404, Code: "errors.com.epicgames.party.not_found", Message: "Party not found"}, got)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)

	rest, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, body, string(rest), "the body stays readable for the caller")
}

func TestLogTransportIgnoresUnstructuredErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	logger, _ := test.NewNullLogger()
	called := false
	client := NewLogClient(logger, nil, func(*http.Request, RemoteError) { called = true })

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.False(t, called)
}

func TestLogTransportTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	logger, hook := test.NewNullLogger()
	client := NewLogClient(logger, nil, nil)

	_, err := client.Get(url)
	require.Error(t, err)
	assert.Equal(t, "HTTP Request failed", hook.LastEntry().Message)
}

func TestLogWebSocket(t *testing.T) {
	logger, hook := test.NewNullLogger()

	LogWebSocketConnect(logger, "wss://relay")
	assert.Equal(t, "WebSocket connected", hook.LastEntry().Message)

	LogWebSocketDisconnect(logger, "wss://relay", io.EOF)
	assert.Equal(t, io.EOF, hook.LastEntry().Data["error"])
}
