// internal/middleware/logging.go

package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// RemoteError is a structured error reply from a platform HTTP API.
type RemoteError struct {
	Status  int
	Code    string
	Message string
}

// LogTransport is an http.RoundTripper that logs every outbound request
// using Logrus. Replies carrying a JSON errorCode are also handed to
// OnRemoteError.
type LogTransport struct {
	Logger        *logrus.Logger
	Next          http.RoundTripper
	OnRemoteError func(req *http.Request, e RemoteError)
}

// NewLogClient wraps next (or http.DefaultTransport) in a LogTransport.
func NewLogClient(logger *logrus.Logger, next http.RoundTripper, onRemoteError func(*http.Request, RemoteError)) *http.Client {
	return &http.Client{Transport: &LogTransport{Logger: logger, Next: next, OnRemoteError: onRemoteError}}
}

func (t *LogTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	next := t.Next
	if next == nil {
		next = http.DefaultTransport
	}

	start := time.Now()
	resp, err := next.RoundTrip(req)
	fields := logrus.Fields{
		"method":   req.Method,
		"host":     req.URL.Host,
		"path":     req.URL.Path,
		"duration": time.Since(start),
	}
	if err != nil {
		t.Logger.WithFields(fields).WithError(err).Warn("HTTP Request failed")
		return nil, err
	}
	fields["status"] = resp.StatusCode

	if resp.StatusCode < 400 {
		t.Logger.WithFields(fields).Debug("HTTP Request")
		return resp, nil
	}

	t.Logger.WithFields(fields).Warn("HTTP Request rejected")
	if t.OnRemoteError != nil {
		if e, ok := peekRemoteError(resp); ok {
			t.OnRemoteError(req, e)
		}
	}
	return resp, nil
}

// peekRemoteError reads a JSON errorCode body and restores resp.Body so
// the caller still sees it.
func peekRemoteError(resp *http.Response) (RemoteError, bool) {
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType != "application/json" || resp.Body == nil {
		return RemoteError{}, false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		return RemoteError{}, false
	}

	var payload struct {
		ErrorCode    string `json:"errorCode"`
		ErrorMessage string `json:"errorMessage"`
	}
	if json.Unmarshal(body, &payload) != nil || payload.ErrorCode == "" {
		return RemoteError{}, false
	}
	return RemoteError{Status: resp.StatusCode, Code: payload.ErrorCode, Message: payload.ErrorMessage}, true
}

// LogWebSocketConnect logs a message when a WebSocket connection opens.
func LogWebSocketConnect(logger *logrus.Logger, url string) {
	logger.WithFields(logrus.Fields{
		"url": url,
	}).Info("WebSocket connected")
}

// LogWebSocketDisconnect logs a message when a WebSocket connection ends.
func LogWebSocketDisconnect(logger *logrus.Logger, url string, err error) {
	fields := logrus.Fields{
		"url": url,
	}
	if err != nil {
		fields["error"] = err
	}
	logger.WithFields(fields).Info("WebSocket disconnected")
}
