package matchmaking

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/lobbybot/internal/failure"
)

// ErrorMessageName is the in-band discriminant that ends an attempt early.
const ErrorMessageName = "Error"

// ProtocolHeaders are sent on every dial of the matchmaking stream.
var ProtocolHeaders = http.Header{
	"Pragma":          {"no-cache"},
	"Cache-Control":   {"no-cache"},
	"Accept-Language": {"en-US,en;q=0.9"},
}

// State of a Session's connection.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	}
	return "closed"
}

// Message is one status frame from the service, discriminated by Name.
type Message struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Handler receives session events in arrival order.
type Handler interface {
	OnMessage(Message)
	// OnError is called for Name == "Error", after OnMessage.
	OnError(Message)
	// OnClosed is called once when the stream ends, normally or not.
	OnClosed(err error)
}

// SessionOptions tune Dial.
type SessionOptions struct {
	// InsecureSkipVerify disables TLS verification for this dial only.
	// The matchmaking stream host needs it; nothing else should.
	InsecureSkipVerify bool
	UserAgent          string
	// HTTPClient overrides the dialer's client, mostly for tests.
	HTTPClient *http.Client
}

// Session is one live matchmaking stream.
type Session struct {
	conn   *websocket.Conn
	state  atomic.Int32
	logger logrus.FieldLogger
}

// OriginFor rewrites the first "ws" of the service URL to "http", so
// wss://host becomes https://host.
func OriginFor(serviceURL string) string {
	return strings.Replace(serviceURL, "ws", "http", 1)
}

// Dial opens the stream at t.ServiceURL authenticated with credential.
// A handshake refusal returns a *RejectedError tagged RemoteRejected.
func Dial(ctx context.Context, logger logrus.FieldLogger, t Ticket, credential string, opts SessionOptions) (*Session, error) {
	s := &Session{logger: logger}
	s.state.Store(int32(StateConnecting))

	header := ProtocolHeaders.Clone()
	header.Set("Origin", OriginFor(t.ServiceURL))
	header.Set("Authorization", credential)
	if opts.UserAgent != "" {
		header.Set("User-Agent", opts.UserAgent)
	}

	conn, resp, err := websocket.Dial(ctx, t.ServiceURL, &websocket.DialOptions{
		HTTPClient:      sessionHTTPClient(opts),
		HTTPHeader:      header,
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		s.state.Store(int32(StateClosed))
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			// websocket.Dial keeps only the first 1024 bytes of a failed
			// handshake body, so long HTML or raw replies arrive truncated.
			var body []byte
			if resp.Body != nil {
				body, _ = io.ReadAll(resp.Body)
			}
			rej := ClassifyResponse(resp.StatusCode, reasonPhrase(resp), resp.Header, body)
			return nil, failure.Wrap(rej, failure.RemoteRejected, "matchmaking handshake rejected")
		}
		return nil, failure.Wrap(err, failure.Transport, "dial matchmaking service")
	}
	conn.SetReadLimit(1 << 20)

	s.conn = conn
	s.state.Store(int32(StateOpen))
	logger.WithField("url", t.ServiceURL).Info("Matchmaking stream connected")
	return s, nil
}

func sessionHTTPClient(opts SessionOptions) *http.Client {
	if opts.HTTPClient != nil {
		return opts.HTTPClient
	}
	if !opts.InsecureSkipVerify {
		return http.DefaultClient
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.ForceAttemptHTTP2 = false
	// Compatibility exception for the matchmaking stream host only.
	tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	return &http.Client{Transport: tr}
}

// State reports the connection state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Run reads frames until the stream ends or ctx is done. Malformed frames
// are logged and skipped.
func (s *Session) Run(ctx context.Context, h Handler) {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			s.state.Store(int32(StateClosed))
			h.OnClosed(closeError(err))
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.WithError(failure.Wrap(err, failure.Parse, "decode matchmaking message")).
				Warn("Skipping malformed matchmaking message")
			continue
		}

		h.OnMessage(msg)
		if msg.Name == ErrorMessageName {
			h.OnError(msg)
		}
	}
}

// Close ends the stream normally.
func (s *Session) Close() error {
	s.state.Store(int32(StateClosed))
	return s.conn.Close(websocket.StatusNormalClosure, "")
}

// closeError maps a normal closure to nil.
func closeError(err error) error {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return failure.Wrap(err, failure.Transport, "matchmaking stream closed")
}
