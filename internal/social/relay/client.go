// Package relay implements social.Client against a sidecar relay that hosts
// the platform's auth and social library. Calls and events are JSON frames
// over a websocket.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Southclaws/opt"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jason-s-yu/lobbybot/internal/failure"
	"github.com/jason-s-yu/lobbybot/internal/social"
)

// Options tune Dial.
type Options struct {
	Secret      []byte
	BotID       string
	CallTimeout time.Duration
	PingEvery   time.Duration
	HTTPClient  *http.Client
}

// Client is a social.Client backed by a relay connection. Run must be
// running for calls to complete.
type Client struct {
	conn   *websocket.Conn
	logger *logrus.Logger
	opts   Options

	selfID      string
	displayName string

	out    chan Frame
	events chan social.Event
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	pending map[string]chan Frame
	party   *social.Party

	transportUp atomic.Bool
}

// Dial connects to the relay and waits for its hello frame.
func Dial(ctx context.Context, logger *logrus.Logger, url string, opts Options) (*Client, error) {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 15 * time.Second
	}
	if opts.PingEvery <= 0 {
		opts.PingEvery = 30 * time.Second
	}

	token, err := SignToken(opts.Secret, opts.BotID, DefaultTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to sign relay token: %w", err)
	}

	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient: opts.HTTPClient,
		HTTPHeader: http.Header{"Authorization": {"Bearer " + token}},
	})
	if err != nil {
		return nil, failure.Wrap(err, failure.Transport, "dial relay")
	}
	conn.SetReadLimit(1 << 20)

	helloCtx, cancel := context.WithTimeout(ctx, opts.CallTimeout)
	defer cancel()
	_, data, err := conn.Read(helloCtx)
	if err != nil {
		conn.CloseNow()
		return nil, failure.Wrap(err, failure.Transport, "read relay hello")
	}
	var f Frame
	var hello Hello
	if err := json.Unmarshal(data, &f); err != nil || f.Type != frameHello {
		conn.CloseNow()
		return nil, failure.New(failure.Parse, "expected hello frame from relay, got %q", data)
	}
	if err := json.Unmarshal(f.Data, &hello); err != nil || hello.SelfID == "" {
		conn.CloseNow()
		return nil, failure.New(failure.Parse, "malformed relay hello")
	}

	c := &Client{
		conn:        conn,
		logger:      logger,
		opts:        opts,
		selfID:      hello.SelfID,
		displayName: hello.DisplayName,
		out:         make(chan Frame, 16),
		events:      make(chan social.Event, 64),
		closed:      make(chan struct{}),
		pending:     make(map[string]chan Frame),
		party:       hello.Party,
	}
	c.transportUp.Store(hello.Connected)

	logger.WithFields(logrus.Fields{"self": c.selfID, "name": c.displayName}).Info("Relay connected")
	return c, nil
}

// Run pumps frames until the connection ends or ctx is done. The Events
// channel is closed when it returns.
func (c *Client) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer c.markClosed()
		return c.readPump(gctx)
	})
	g.Go(func() error { return c.writePump(gctx) })
	return g.Wait()
}

func (c *Client) markClosed() {
	c.once.Do(func() { close(c.closed) })
}

func (c *Client) readPump(ctx context.Context) error {
	defer close(c.events)

	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				c.logger.Info("Relay closed the connection")
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return failure.Wrap(err, failure.Transport, "relay read")
		}
		if typ != websocket.MessageText {
			c.logger.Warnf("Relay: ignoring non-text message type %d", typ)
			continue
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.WithError(err).Warn("Relay: invalid json frame")
			continue
		}

		switch f.Type {
		case frameResult:
			c.resolve(f)
		case frameEvent:
			c.handleEvent(f)
		default:
			c.logger.WithField("type", f.Type).Warn("Relay: unknown frame type")
		}
	}
}

func (c *Client) writePump(ctx context.Context) error {
	ticker := time.NewTicker(c.opts.PingEvery)
	defer ticker.Stop()
	defer c.conn.Close(websocket.StatusNormalClosure, "")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.closed:
			return nil
		case f := <-c.out:
			data, err := json.Marshal(f)
			if err != nil {
				c.logger.WithError(err).Warn("Relay: failed to marshal outgoing frame")
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = c.conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return failure.Wrap(err, failure.Transport, "relay write")
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return failure.Wrap(err, failure.Transport, "relay ping")
			}
		}
	}
}

func (c *Client) resolve(f Frame) {
	c.mu.Lock()
	ch, ok := c.pending[f.ID]
	delete(c.pending, f.ID)
	c.mu.Unlock()

	if !ok {
		c.logger.WithField("id", f.ID).Debug("Relay: result for unknown call")
		return
	}
	ch <- f
}

func (c *Client) handleEvent(f Frame) {
	var d EventData
	if len(f.Data) > 0 {
		if err := json.Unmarshal(f.Data, &d); err != nil {
			c.logger.WithError(err).WithField("event", f.Event).Warn("Relay: malformed event")
			return
		}
	}

	if f.Event == eventTransport {
		if d.Connected != nil {
			c.transportUp.Store(*d.Connected)
		}
		return
	}

	ev, err := decodeEvent(f.Event, d)
	if err != nil {
		c.logger.WithError(err).Warn("Relay: dropping event")
		return
	}
	c.applySnapshot(ev, d)

	select {
	case c.events <- ev:
	default:
		c.logger.WithField("event", f.Event).Warn("Relay: event buffer full, dropping event")
	}
}

// applySnapshot keeps the cached party in step with events.
func (c *Client) applySnapshot(ev social.Event, d EventData) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if d.Party != nil {
		p := cloneParty(*d.Party)
		c.party = &p
		return
	}
	if c.party == nil {
		return
	}
	if u, ok := ev.(social.MemberUpdated); ok {
		if u.Member.ID == c.selfID {
			c.party.Self = u.Member
			return
		}
		for i := range c.party.Members {
			if c.party.Members[i].ID == u.Member.ID {
				c.party.Members[i] = u.Member
			}
		}
	}
}

// cloneParty copies p so the cache never shares Members with a party
// handed out to callers.
func cloneParty(p social.Party) social.Party {
	p.Members = slices.Clone(p.Members)
	return p
}

// call sends op and waits for its result. out may be nil.
func (c *Client) call(ctx context.Context, op string, args any, out any) error {
	f := Frame{Type: frameCall, ID: uuid.NewString(), Op: op}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return failure.Wrap(err, failure.Parse, "encode "+op+" args")
		}
		f.Args = raw
	}

	ch := make(chan Frame, 1)
	c.mu.Lock()
	c.pending[f.ID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, f.ID)
		c.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()

	select {
	case c.out <- f:
	case <-c.closed:
		return failure.New(failure.Transport, "relay closed before %s", op)
	case <-ctx.Done():
		return failure.Wrap(ctx.Err(), failure.Transport, op)
	}

	select {
	case res := <-ch:
		if res.Error != "" {
			return failure.New(failure.RemoteRejected, "%s: %s", op, res.Error)
		}
		if out != nil && len(res.Data) > 0 {
			if err := json.Unmarshal(res.Data, out); err != nil {
				return failure.Wrap(err, failure.Parse, "decode "+op+" result")
			}
		}
		return nil
	case <-c.closed:
		return failure.New(failure.Transport, "relay closed during %s", op)
	case <-ctx.Done():
		return failure.Wrap(ctx.Err(), failure.Transport, op)
	}
}

func (c *Client) SelfID() string          { return c.selfID }
func (c *Client) SelfDisplayName() string { return c.displayName }

func (c *Client) AccessToken(ctx context.Context) (string, error) {
	var res struct {
		Token string `json:"token"`
	}
	if err := c.call(ctx, "access_token", nil, &res); err != nil {
		return "", err
	}
	if res.Token == "" {
		return "", failure.New(failure.StateInconsistency, "relay returned no access token")
	}
	return res.Token, nil
}

func (c *Client) Party() opt.Optional[social.Party] {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.party == nil {
		return opt.NewEmpty[social.Party]()
	}
	return opt.New(cloneParty(*c.party))
}

func (c *Client) FetchParty(ctx context.Context) (social.Party, error) {
	var p *social.Party
	if err := c.call(ctx, "fetch_party", nil, &p); err != nil {
		return social.Party{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p == nil {
		c.party = nil
		return social.Party{}, failure.New(failure.StateInconsistency, "bot is not in a party")
	}
	cached := cloneParty(*p)
	c.party = &cached
	return *p, nil
}

func (c *Client) FetchSelf(ctx context.Context) (social.Member, error) {
	var m social.Member
	if err := c.call(ctx, "fetch_self", nil, &m); err != nil {
		return social.Member{}, err
	}

	c.mu.Lock()
	if c.party != nil {
		c.party.Self = m
	}
	c.mu.Unlock()
	return m, nil
}

func (c *Client) SetReadiness(ctx context.Context, ready bool) error {
	if err := c.call(ctx, "set_readiness", map[string]any{"ready": ready}, nil); err != nil {
		return err
	}
	c.mu.Lock()
	if c.party != nil {
		c.party.Self.IsReady = ready
	}
	c.mu.Unlock()
	return nil
}

func (c *Client) Promote(ctx context.Context, memberID string) error {
	return c.call(ctx, "promote", map[string]any{"memberId": memberID}, nil)
}

func (c *Client) SetPrivacy(ctx context.Context, privacy social.Privacy) error {
	return c.call(ctx, "set_privacy", map[string]any{"privacy": privacy}, nil)
}

func (c *Client) SetStatus(ctx context.Context, text, onlineType string) error {
	return c.call(ctx, "set_status", map[string]any{"text": text, "onlineType": onlineType}, nil)
}

func (c *Client) SendChat(ctx context.Context, text string) error {
	return c.call(ctx, "send_chat", map[string]any{"text": text}, nil)
}

func (c *Client) LeaveParty(ctx context.Context) error {
	if err := c.call(ctx, "leave_party", nil, nil); err != nil {
		return err
	}
	c.mu.Lock()
	c.party = nil
	c.mu.Unlock()
	return nil
}

func (c *Client) PatchMeta(ctx context.Context, key string, value any) error {
	return c.call(ctx, "patch_meta", map[string]any{"key": key, "value": value}, nil)
}

func (c *Client) SetCosmetic(ctx context.Context, slot social.CosmeticSlot, id string) error {
	return c.call(ctx, "set_cosmetic", map[string]any{"slot": slot, "id": id}, nil)
}

func (c *Client) AcceptFriend(ctx context.Context, accountID string) error {
	return c.call(ctx, "accept_friend", map[string]any{"accountId": accountID}, nil)
}

func (c *Client) DeclineFriend(ctx context.Context, accountID string) error {
	return c.call(ctx, "decline_friend", map[string]any{"accountId": accountID}, nil)
}

func (c *Client) AcceptInvite(ctx context.Context, inviteID string) error {
	return c.call(ctx, "accept_invite", map[string]any{"inviteId": inviteID}, nil)
}

func (c *Client) DeclineInvite(ctx context.Context, inviteID string) error {
	return c.call(ctx, "decline_invite", map[string]any{"inviteId": inviteID}, nil)
}

// TransportConnected reports the platform's own push connection as last
// announced by the relay.
func (c *Client) TransportConnected() bool { return c.transportUp.Load() }

func (c *Client) DisconnectTransport() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.CallTimeout)
	defer cancel()
	if err := c.call(ctx, "disconnect_transport", nil, nil); err != nil {
		return err
	}
	c.transportUp.Store(false)
	return nil
}

func (c *Client) Events() <-chan social.Event { return c.events }

// Close ends the relay connection.
func (c *Client) Close() error {
	c.markClosed()
	return c.conn.Close(websocket.StatusNormalClosure, "")
}

var _ social.Client = (*Client)(nil)
