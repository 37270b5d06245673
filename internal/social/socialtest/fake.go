// Package socialtest provides an in-memory social.Client that records calls.
package socialtest

import (
	"context"
	"slices"
	"sync"

	"github.com/Southclaws/opt"

	"github.com/jason-s-yu/lobbybot/internal/failure"
	"github.com/jason-s-yu/lobbybot/internal/social"
)

// Operation names recorded by Fake.
const (
	OpFetchParty    = "FetchParty"
	OpFetchSelf     = "FetchSelf"
	OpSetReadiness  = "SetReadiness"
	OpPromote       = "Promote"
	OpSetPrivacy    = "SetPrivacy"
	OpSetStatus     = "SetStatus"
	OpSendChat      = "SendChat"
	OpLeaveParty    = "LeaveParty"
	OpPatchMeta     = "PatchMeta"
	OpSetCosmetic   = "SetCosmetic"
	OpAcceptFriend  = "AcceptFriend"
	OpDeclineFriend = "DeclineFriend"
	OpAcceptInvite  = "AcceptInvite"
	OpDeclineInvite = "DeclineInvite"
	OpDisconnect    = "DisconnectTransport"
	OpAccessToken   = "AccessToken"
)

// Call is one recorded operation.
type Call struct {
	Op   string
	Args []any
}

// Fake is a social.Client backed by a mutable party snapshot.
type Fake struct {
	mu        sync.Mutex
	id        string
	name      string
	token     string
	party     *social.Party
	connected bool
	errs      map[string]error
	calls     []Call
	events    chan social.Event
}

func NewFake(id, displayName string) *Fake {
	return &Fake{
		id:        id,
		name:      displayName,
		token:     "token-" + id,
		connected: true,
		errs:      make(map[string]error),
		events:    make(chan social.Event, 16),
	}
}

// SetParty replaces the cached party.
func (f *Fake) SetParty(p social.Party) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p = snapshot(p)
	f.party = &p
}

// ClearParty drops the party reference.
func (f *Fake) ClearParty() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.party = nil
}

// FailOn makes op return err from now on. A nil err clears it.
func (f *Fake) FailOn(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, op)
		return
	}
	f.errs[op] = err
}

// SetConnected sets what TransportConnected reports.
func (f *Fake) SetConnected(connected bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = connected
}

// Emit pushes ev on the Events channel.
func (f *Fake) Emit(ev social.Event) { f.events <- ev }

// Close closes the Events channel.
func (f *Fake) Close() { close(f.events) }

// Calls returns a copy of every recorded call.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsTo returns the recorded calls of op.
func (f *Fake) CallsTo(op string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Count returns how many times op was called.
func (f *Fake) Count(op string) int { return len(f.CallsTo(op)) }

// Chats returns the text of every SendChat call.
func (f *Fake) Chats() []string {
	var out []string
	for _, c := range f.CallsTo(OpSendChat) {
		out = append(out, c.Args[0].(string))
	}
	return out
}

// record appends a call and returns the configured error for op.
// Callers hold f.mu.
func (f *Fake) record(op string, args ...any) error {
	f.calls = append(f.calls, Call{Op: op, Args: args})
	return f.errs[op]
}

func (f *Fake) SelfID() string          { return f.id }
func (f *Fake) SelfDisplayName() string { return f.name }

func (f *Fake) AccessToken(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(OpAccessToken); err != nil {
		return "", err
	}
	return f.token, nil
}

func (f *Fake) Party() opt.Optional[social.Party] {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.party == nil {
		return opt.NewEmpty[social.Party]()
	}
	return opt.New(snapshot(*f.party))
}

func (f *Fake) FetchParty(context.Context) (social.Party, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(OpFetchParty); err != nil {
		return social.Party{}, err
	}
	if f.party == nil {
		return social.Party{}, failure.New(failure.StateInconsistency, "no party")
	}
	return snapshot(*f.party), nil
}

func (f *Fake) FetchSelf(context.Context) (social.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(OpFetchSelf); err != nil {
		return social.Member{}, err
	}
	if f.party == nil {
		return social.Member{}, failure.New(failure.StateInconsistency, "no party")
	}
	return f.party.Self, nil
}

func (f *Fake) SetReadiness(_ context.Context, ready bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(OpSetReadiness, ready); err != nil {
		return err
	}
	if f.party != nil {
		f.party.Self.IsReady = ready
	}
	return nil
}

func (f *Fake) Promote(_ context.Context, memberID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(OpPromote, memberID); err != nil {
		return err
	}
	if f.party != nil {
		f.party.Self.IsLeader = false
		for i := range f.party.Members {
			f.party.Members[i].IsLeader = f.party.Members[i].ID == memberID
		}
	}
	return nil
}

func (f *Fake) SetPrivacy(_ context.Context, privacy social.Privacy) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(OpSetPrivacy, privacy); err != nil {
		return err
	}
	if f.party != nil {
		f.party.Privacy = privacy
	}
	return nil
}

func (f *Fake) SetStatus(_ context.Context, text, onlineType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record(OpSetStatus, text, onlineType)
}

func (f *Fake) SendChat(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record(OpSendChat, text)
}

func (f *Fake) LeaveParty(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(OpLeaveParty); err != nil {
		return err
	}
	f.party = nil
	return nil
}

func (f *Fake) PatchMeta(_ context.Context, key string, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record(OpPatchMeta, key, value)
}

func (f *Fake) SetCosmetic(_ context.Context, slot social.CosmeticSlot, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record(OpSetCosmetic, slot, id)
}

func (f *Fake) AcceptFriend(_ context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record(OpAcceptFriend, accountID)
}

func (f *Fake) DeclineFriend(_ context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record(OpDeclineFriend, accountID)
}

func (f *Fake) AcceptInvite(_ context.Context, inviteID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record(OpAcceptInvite, inviteID)
}

func (f *Fake) DeclineInvite(_ context.Context, inviteID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record(OpDeclineInvite, inviteID)
}

func (f *Fake) TransportConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *Fake) DisconnectTransport() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(OpDisconnect); err != nil {
		return err
	}
	f.connected = false
	return nil
}

func (f *Fake) Events() <-chan social.Event { return f.events }

var _ social.Client = (*Fake)(nil)

func snapshot(p social.Party) social.Party {
	p.Members = slices.Clone(p.Members)
	return p
}
