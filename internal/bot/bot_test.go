package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jason-s-yu/lobbybot/internal/party"
	"github.com/jason-s-yu/lobbybot/internal/social"
	"github.com/jason-s-yu/lobbybot/internal/social/socialtest"
)

// recordingDispatcher collects dispatched events.
type recordingDispatcher struct {
	mu     sync.Mutex
	events []social.Event
	closed bool
}

func (d *recordingDispatcher) Dispatch(_ context.Context, ev social.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, ev)
}

func (d *recordingDispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.events)
}

type failingRunner struct{ err error }

func (r failingRunner) Run(ctx context.Context) error { return r.err }

func TestRunAppliesPresence(t *testing.T) {
	logger, _ := test.NewNullLogger()
	fake := socialtest.NewFake("bot", "Bot")
	b := New(logger, fake, &recordingDispatcher{}, nil, Presence{
		InviteStatus:     "Invite me",
		InviteOnlineType: "online",
		Outfit:           "CID_1",
		Backpack:         "BID_1",
	})

	fake.Close()
	require.NoError(t, b.Run(context.Background()))

	calls := fake.Calls()
	require.Len(t, calls, 4)
	assert.Equal(t, socialtest.OpSetStatus, calls[0].Op)
	assert.Equal(t, []any{social.SlotOutfit, "CID_1"}, calls[1].Args)
	assert.Equal(t, []any{social.PrivacyPrivate}, calls[2].Args)
	assert.Equal(t, []any{social.SlotBackpack, "BID_1"}, calls[3].Args)
}

func TestRunDispatchesEvents(t *testing.T) {
	logger, _ := test.NewNullLogger()
	fake := socialtest.NewFake("bot", "Bot")
	d := &recordingDispatcher{}
	b := New(logger, fake, d, nil, Presence{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	fake.Emit(social.FriendRequest{AccountID: "a1"})
	fake.Emit(social.MemberLeft{Member: social.Member{ID: "m1"}})
	assert.Eventually(t, func() bool { return d.count() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("bot did not stop")
	}
	assert.True(t, d.closed)
}

func TestRunStopsWhenRunnerFails(t *testing.T) {
	logger, _ := test.NewNullLogger()
	fake := socialtest.NewFake("bot", "Bot")
	boom := errors.New("relay gone")
	b := New(logger, fake, &recordingDispatcher{}, failingRunner{err: boom}, Presence{})

	err := b.Run(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestRunWithReconciler(t *testing.T) {
	logger, _ := test.NewNullLogger()
	fake := socialtest.NewFake("bot", "Bot")
	fake.SetParty(social.Party{ID: "p1", Size: 1, Self: social.Member{ID: "bot"}})
	r := party.NewReconciler(logger, fake, party.Config{AutoAcceptFriends: true})
	b := New(logger, fake, r, nil, Presence{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	fake.Emit(social.FriendRequest{AccountID: "a1", DisplayName: "New"})
	fake.Emit(social.PartyInvite{InviteID: "inv-1"})

	assert.Eventually(t, func() bool {
		return fake.Count(socialtest.OpAcceptFriend) == 1 && fake.Count(socialtest.OpAcceptInvite) == 1
	}, time.Second, 5*time.Millisecond)
}
