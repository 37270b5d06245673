package party

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jason-s-yu/lobbybot/internal/journal"
	"github.com/jason-s-yu/lobbybot/internal/matchmaking"
	"github.com/jason-s-yu/lobbybot/internal/social"
	"github.com/jason-s-yu/lobbybot/internal/social/socialtest"
)

// stubMatchmaker records attempts instead of dialing anything.
type stubMatchmaker struct {
	mu       sync.Mutex
	attempts []matchmaking.Attempt
	onStart  func(matchmaking.Attempt)
}

func (s *stubMatchmaker) Start(_ context.Context, a matchmaking.Attempt) {
	s.mu.Lock()
	s.attempts = append(s.attempts, a)
	onStart := s.onStart
	s.mu.Unlock()
	if onStart != nil {
		onStart(a)
	}
}

func (s *stubMatchmaker) attempt(i int) matchmaking.Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[i]
}

func (s *stubMatchmaker) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attempts)
}

// recordingNotifier collects notification bodies.
type recordingNotifier struct {
	mu     sync.Mutex
	bodies []string
}

func (n *recordingNotifier) Log(_, body string, _ int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.bodies = append(n.bodies, body)
}

func (n *recordingNotifier) get() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.bodies...)
}

func fastTimings() Timings {
	return Timings{
		JoinSettle:      time.Millisecond,
		BackpackSettle:  time.Millisecond,
		PostMatchSettle: time.Millisecond,
		ExpiryGrace:     time.Millisecond,
		Watchdog:        time.Hour,
	}
}

func testConfig() Config {
	return Config{
		JoinMessage:      "Welcome!",
		OwnerID:          "owner",
		ExpiryDuration:   time.Hour,
		Outfit:           "CID_001",
		Backpack:         "BID_001",
		Emote:            "EID_001",
		InviteStatus:     "Invite me",
		InviteOnlineType: "online",
		InUseStatus:      "In use",
		InUseOnlineType:  "away",
		Verbose:          true,
	}
}

// partyOfSize builds a party with n-1 other members. The first other member
// leads unless selfLeader is set.
func partyOfSize(n int, selfLeader bool) social.Party {
	p := social.Party{
		ID:    "party-1",
		Size:  n,
		State: "BattleRoyaleView",
		Self:  social.Member{ID: "bot", DisplayName: "Bot", IsLeader: selfLeader},
	}
	for i := 1; i < n; i++ {
		p.Members = append(p.Members, social.Member{
			ID:          fmt.Sprintf("member-%d", i),
			DisplayName: fmt.Sprintf("Member%d", i),
			IsLeader:    !selfLeader && i == 1,
		})
	}
	return p
}

func newTestReconciler(t *testing.T, client social.Client, cfg Config, opts ...Option) (*Reconciler, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	r := NewReconciler(logger, client, cfg, append([]Option{WithTimings(fastTimings())}, opts...)...)
	t.Cleanup(r.Close)
	return r, hook
}

func withState(p social.Party, state string) social.Party {
	p.State = state
	return p
}

func TestAtMostOneMatchmakingAttempt(t *testing.T) {
	fake := socialtest.NewFake("bot", "Bot")
	p := partyOfSize(2, false)
	fake.SetParty(p)
	mm := &stubMatchmaker{}
	r, _ := newTestReconciler(t, fake, testConfig(), WithMatchmaker(mm))

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.HandlePartyUpdated(ctx, withState(p, "BattleRoyaleMatchmaking"))
		}()
	}
	wg.Wait()

	assert.Eventually(t, func() bool { return mm.count() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, mm.count())
	assert.True(t, r.Matchmaking())
}

// blockingJournal holds every Publish until release is closed.
type blockingJournal struct{ release chan struct{} }

func (j blockingJournal) Publish(context.Context, journal.Record) { <-j.release }

func TestSlowJournalDoesNotDelayAttempt(t *testing.T) {
	fake := socialtest.NewFake("bot", "Bot")
	p := partyOfSize(2, false)
	fake.SetParty(p)
	mm := &stubMatchmaker{}
	j := blockingJournal{release: make(chan struct{})}
	r, _ := newTestReconciler(t, fake, testConfig(), WithMatchmaker(mm), WithJournal(j))

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.HandlePartyUpdated(context.Background(), withState(p, "BattleRoyaleMatchmaking"))
	}()

	assert.Eventually(t, func() bool { return mm.count() == 1 }, time.Second, time.Millisecond)
	close(j.release)
	<-done
}

func TestWatchdogClearsStalledAttempt(t *testing.T) {
	fake := socialtest.NewFake("bot", "Bot")
	p := partyOfSize(2, false)
	p.Self.IsReady = true
	fake.SetParty(p)

	timings := fastTimings()
	timings.Watchdog = 20 * time.Millisecond
	r, _ := newTestReconciler(t, fake, testConfig(), WithMatchmaker(&stubMatchmaker{}), WithTimings(timings))

	r.HandlePartyUpdated(context.Background(), withState(p, "BattleRoyaleMatchmaking"))
	require.True(t, r.Matchmaking())

	assert.Eventually(t, func() bool { return !r.Matchmaking() }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return fake.Count(socialtest.OpSetReadiness) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, false, fake.CallsTo(socialtest.OpSetReadiness)[0].Args[0])
}

func TestInBandErrorClearsReadinessOnce(t *testing.T) {
	fake := socialtest.NewFake("bot", "Bot")
	p := partyOfSize(2, false)
	p.Self.IsReady = true
	fake.SetParty(p)

	timings := fastTimings()
	timings.Watchdog = 30 * time.Millisecond
	mm := &stubMatchmaker{onStart: func(a matchmaking.Attempt) { a.Abort("in-band error") }}
	r, _ := newTestReconciler(t, fake, testConfig(), WithMatchmaker(mm), WithTimings(timings))

	r.HandlePartyUpdated(context.Background(), withState(p, "BattleRoyaleMatchmaking"))
	assert.Eventually(t, func() bool { return !r.Matchmaking() }, time.Second, time.Millisecond)
	assert.Eventually(t, func() bool { return fake.Count(socialtest.OpSetReadiness) == 1 }, time.Second, time.Millisecond)

	// Let the watchdog fire, then abort the same attempt again.
	time.Sleep(60 * time.Millisecond)
	mm.attempt(0).Abort("duplicate")

	assert.False(t, r.Matchmaking())
	calls := fake.CallsTo(socialtest.OpSetReadiness)
	require.Len(t, calls, 1)
	assert.Equal(t, false, calls[0].Args[0])

	cached, ok := fake.Party().Get()
	require.True(t, ok)
	assert.False(t, cached.Self.IsReady)
}

func TestAbortWithoutReadinessSkipsUnready(t *testing.T) {
	fake := socialtest.NewFake("bot", "Bot")
	p := partyOfSize(2, false)
	fake.SetParty(p)
	mm := &stubMatchmaker{onStart: func(a matchmaking.Attempt) { a.Abort("ticket") }}
	r, _ := newTestReconciler(t, fake, testConfig(), WithMatchmaker(mm))

	r.HandlePartyUpdated(context.Background(), withState(p, "BattleRoyaleMatchmaking"))
	assert.Eventually(t, func() bool { return !r.Matchmaking() }, time.Second, time.Millisecond)
	assert.Zero(t, fake.Count(socialtest.OpSetReadiness))
}

func TestStaleWatchdogLeavesLaterAttempt(t *testing.T) {
	fake := socialtest.NewFake("bot", "Bot")
	p := partyOfSize(2, false)
	fake.SetParty(p)
	mm := &stubMatchmaker{}
	r, _ := newTestReconciler(t, fake, testConfig(), WithMatchmaker(mm))
	ctx := context.Background()

	r.HandlePartyUpdated(ctx, withState(p, "BattleRoyaleMatchmaking"))
	require.Eventually(t, func() bool { return mm.count() == 1 }, time.Second, time.Millisecond)
	mm.attempt(0).Abort("in-band error")
	require.False(t, r.Matchmaking())

	r.HandlePartyUpdated(ctx, withState(p, "BattleRoyaleMatchmaking"))
	require.True(t, r.Matchmaking())

	r.watchdog(ctx, 1)
	assert.True(t, r.Matchmaking(), "the first attempt's watchdog must not end the second attempt")

	r.watchdog(ctx, 2)
	assert.False(t, r.Matchmaking())
}

func TestPostMatchmaking(t *testing.T) {
	t.Run("no-op without an active attempt", func(t *testing.T) {
		fake := socialtest.NewFake("bot", "Bot")
		p := partyOfSize(2, false)
		p.Self.IsReady = true
		fake.SetParty(p)
		cfg := testConfig()
		cfg.LeaveAfterMatchmaking = true
		r, _ := newTestReconciler(t, fake, cfg)

		r.HandlePartyUpdated(context.Background(), withState(p, "BattleRoyalePostMatchmaking"))
		assert.Empty(t, fake.Calls())
	})

	t.Run("clears readiness and leaves when configured", func(t *testing.T) {
		fake := socialtest.NewFake("bot", "Bot")
		p := partyOfSize(2, false)
		p.Self.IsReady = true
		fake.SetParty(p)
		cfg := testConfig()
		cfg.LeaveAfterMatchmaking = true
		r, _ := newTestReconciler(t, fake, cfg, WithMatchmaker(&stubMatchmaker{}))
		ctx := context.Background()

		r.HandlePartyUpdated(ctx, withState(p, "BattleRoyaleMatchmaking"))
		r.HandlePartyUpdated(ctx, withState(p, "BattleRoyalePostMatchmaking"))

		assert.False(t, r.Matchmaking())
		assert.Equal(t, 1, fake.Count(socialtest.OpSetReadiness))
		assert.Equal(t, 1, fake.Count(socialtest.OpLeaveParty))
	})

	t.Run("stays when not configured to leave", func(t *testing.T) {
		fake := socialtest.NewFake("bot", "Bot")
		p := partyOfSize(2, false)
		fake.SetParty(p)
		r, _ := newTestReconciler(t, fake, testConfig(), WithMatchmaker(&stubMatchmaker{}))
		ctx := context.Background()

		r.HandlePartyUpdated(ctx, withState(p, "BattleRoyaleMatchmaking"))
		r.HandlePartyUpdated(ctx, withState(p, "BattleRoyalePostMatchmaking"))

		assert.False(t, r.Matchmaking())
		assert.Zero(t, fake.Count(socialtest.OpLeaveParty))
	})
}

func TestPreloadingPatchesLobbyState(t *testing.T) {
	fake := socialtest.NewFake("bot", "Bot")
	p := partyOfSize(2, false)
	fake.SetParty(p)
	r, _ := newTestReconciler(t, fake, testConfig())

	r.HandlePartyUpdated(context.Background(), withState(p, "BattleRoyalePreloading"))

	calls := fake.CallsTo(socialtest.OpPatchMeta)
	require.Len(t, calls, 1)
	assert.Equal(t, LobbyStateKey, calls[0].Args[0])
}

func TestUnknownStateIsIgnored(t *testing.T) {
	fake := socialtest.NewFake("bot", "Bot")
	p := partyOfSize(2, false)
	fake.SetParty(p)
	r, hook := newTestReconciler(t, fake, testConfig())

	r.HandlePartyUpdated(context.Background(), withState(p, "CreativeHub"))

	assert.Empty(t, fake.Calls())
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "CreativeHub", hook.LastEntry().Data["state"])
}

func TestMemberUpdated(t *testing.T) {
	ctx := context.Background()

	t.Run("bot leader promotes before readying", func(t *testing.T) {
		fake := socialtest.NewFake("bot", "Bot")
		fake.SetParty(partyOfSize(2, true))
		r, _ := newTestReconciler(t, fake, testConfig())

		r.HandleMemberUpdated(ctx, social.Member{ID: "member-1", IsReady: true})

		calls := fake.Calls()
		require.Len(t, calls, 2)
		assert.Equal(t, socialtest.OpPromote, calls[0].Op)
		assert.Equal(t, "member-1", calls[0].Args[0])
		assert.Equal(t, socialtest.OpSetReadiness, calls[1].Op)
		assert.Equal(t, true, calls[1].Args[0])
	})

	t.Run("ready leader makes the bot ready", func(t *testing.T) {
		fake := socialtest.NewFake("bot", "Bot")
		fake.SetParty(partyOfSize(2, false))
		r, _ := newTestReconciler(t, fake, testConfig())

		r.HandleMemberUpdated(ctx, social.Member{ID: "member-1", IsLeader: true, IsReady: true})

		assert.Zero(t, fake.Count(socialtest.OpPromote))
		assert.Equal(t, 1, fake.Count(socialtest.OpSetReadiness))
	})

	t.Run("ready follower is ignored when the bot does not lead", func(t *testing.T) {
		fake := socialtest.NewFake("bot", "Bot")
		fake.SetParty(partyOfSize(3, false))
		r, _ := newTestReconciler(t, fake, testConfig())

		r.HandleMemberUpdated(ctx, social.Member{ID: "member-2", IsReady: true})
		assert.Empty(t, fake.Calls())
	})

	t.Run("already ready bot does nothing", func(t *testing.T) {
		fake := socialtest.NewFake("bot", "Bot")
		p := partyOfSize(2, true)
		p.Self.IsReady = true
		fake.SetParty(p)
		r, _ := newTestReconciler(t, fake, testConfig())

		r.HandleMemberUpdated(ctx, social.Member{ID: "member-1", IsReady: true})
		assert.Empty(t, fake.Calls())
	})

	t.Run("own updates are ignored", func(t *testing.T) {
		fake := socialtest.NewFake("bot", "Bot")
		fake.SetParty(partyOfSize(2, true))
		r, _ := newTestReconciler(t, fake, testConfig())

		r.HandleMemberUpdated(ctx, social.Member{ID: "bot", IsReady: true})
		assert.Empty(t, fake.Calls())
	})

	t.Run("unready leader without a party disconnects", func(t *testing.T) {
		fake := socialtest.NewFake("bot", "Bot")
		r, _ := newTestReconciler(t, fake, testConfig())

		r.HandleMemberUpdated(ctx, social.Member{ID: "member-1", IsLeader: true})

		calls := fake.Calls()
		require.Len(t, calls, 2)
		assert.Equal(t, socialtest.OpDisconnect, calls[0].Op)
		assert.Equal(t, socialtest.OpSetReadiness, calls[1].Op)
		assert.False(t, fake.TransportConnected())
	})

	t.Run("unready leader without a party and no transport", func(t *testing.T) {
		fake := socialtest.NewFake("bot", "Bot")
		fake.SetConnected(false)
		r, _ := newTestReconciler(t, fake, testConfig())

		r.HandleMemberUpdated(ctx, social.Member{ID: "member-1", IsLeader: true})

		assert.Zero(t, fake.Count(socialtest.OpDisconnect))
		assert.Equal(t, 1, fake.Count(socialtest.OpSetReadiness))
	})

	t.Run("all-ready aggregate is logged", func(t *testing.T) {
		fake := socialtest.NewFake("bot", "Bot")
		p := partyOfSize(2, false)
		p.Self.IsReady = true
		p.Members[0].IsReady = true
		fake.SetParty(p)
		r, hook := newTestReconciler(t, fake, testConfig())

		r.HandleMemberUpdated(ctx, social.Member{ID: "member-1", IsLeader: true, IsReady: true})

		require.NotNil(t, hook.LastEntry())
		assert.Equal(t, true, hook.LastEntry().Data["allReady"])
	})
}

func TestPartySizeDispatch(t *testing.T) {
	for _, size := range []int{1, 2, 3, 4, 5} {
		t.Run(fmt.Sprintf("size %d", size), func(t *testing.T) {
			fake := socialtest.NewFake("bot", "Bot")
			p := partyOfSize(size, false)
			p.Self.IsReady = true
			fake.SetParty(p)
			r, _ := newTestReconciler(t, fake, testConfig())
			r.Expiry().Arm(time.Hour, func() {})

			r.HandleMemberLeft(context.Background(), social.Member{ID: "gone", DisplayName: "Gone"})

			switch {
			case size == 1:
				status := fake.CallsTo(socialtest.OpSetStatus)
				require.Len(t, status, 1)
				assert.Equal(t, []any{"Invite me", "online"}, status[0].Args)
				privacy := fake.CallsTo(socialtest.OpSetPrivacy)
				require.Len(t, privacy, 1)
				assert.Equal(t, social.PrivacyPrivate, privacy[0].Args[0])
				ready := fake.CallsTo(socialtest.OpSetReadiness)
				require.Len(t, ready, 1)
				assert.Equal(t, false, ready[0].Args[0])
				assert.False(t, r.Expiry().Active())
			case size <= 4:
				assert.Equal(t, []string{"Welcome!"}, fake.Chats())
				status := fake.CallsTo(socialtest.OpSetStatus)
				require.Len(t, status, 1)
				assert.Equal(t, []any{"In use", "away"}, status[0].Args)
				assert.Zero(t, fake.Count(socialtest.OpSetReadiness))
				assert.True(t, r.Expiry().Active())
			default:
				assert.Equal(t, []string{socialtest.OpFetchParty}, opsOf(fake.Calls()), "unexpected sizes only log")
				assert.True(t, r.Expiry().Active())
			}
		})
	}
}

func opsOf(calls []socialtest.Call) []string {
	out := make([]string, 0, len(calls))
	for _, c := range calls {
		out = append(out, c.Op)
	}
	return out
}

func TestInvitePolicy(t *testing.T) {
	for _, tc := range []struct {
		size   int
		accept bool
	}{
		{1, true},
		{2, false},
		{5, false},
	} {
		t.Run(fmt.Sprintf("size %d", tc.size), func(t *testing.T) {
			fake := socialtest.NewFake("bot", "Bot")
			fake.SetParty(partyOfSize(tc.size, true))
			r, _ := newTestReconciler(t, fake, testConfig())

			r.HandlePartyInvite(context.Background(), social.PartyInvite{InviteID: "inv-1", PartyID: "other"})

			if tc.accept {
				assert.Equal(t, 1, fake.Count(socialtest.OpAcceptInvite))
				assert.Zero(t, fake.Count(socialtest.OpDeclineInvite))
			} else {
				assert.Zero(t, fake.Count(socialtest.OpAcceptInvite))
				assert.Equal(t, 1, fake.Count(socialtest.OpDeclineInvite))
			}
		})
	}
}

func TestInviteWithoutPartyIsReported(t *testing.T) {
	fake := socialtest.NewFake("bot", "Bot")
	n := &recordingNotifier{}
	r, _ := newTestReconciler(t, fake, testConfig(), WithNotifier(n))

	r.HandlePartyInvite(context.Background(), social.PartyInvite{InviteID: "inv-1"})

	assert.Zero(t, fake.Count(socialtest.OpAcceptInvite))
	assert.Len(t, n.get(), 1)
}

func TestFriendRequest(t *testing.T) {
	ctx := context.Background()
	req := social.FriendRequest{AccountID: "acct-9", DisplayName: "Stranger"}

	t.Run("auto accept", func(t *testing.T) {
		fake := socialtest.NewFake("bot", "Bot")
		cfg := testConfig()
		cfg.AutoAcceptFriends = true
		r, _ := newTestReconciler(t, fake, cfg)

		r.HandleFriendRequest(ctx, req)
		assert.Equal(t, 1, fake.Count(socialtest.OpAcceptFriend))
		assert.Empty(t, fake.Chats())
	})

	t.Run("decline with apology", func(t *testing.T) {
		fake := socialtest.NewFake("bot", "Bot")
		r, _ := newTestReconciler(t, fake, testConfig())

		r.HandleFriendRequest(ctx, req)
		assert.Equal(t, 1, fake.Count(socialtest.OpDeclineFriend))
		assert.Equal(t, []string{"Sorry, Stranger I dont accept friend requests!"}, fake.Chats())
	})
}

func TestMemberJoined(t *testing.T) {
	ctx := context.Background()

	t.Run("owner present disables the expiry", func(t *testing.T) {
		fake := socialtest.NewFake("bot", "Bot")
		p := partyOfSize(2, false)
		p.Members[0].ID = "owner"
		p.Members[0].DisplayName = "Owner"
		fake.SetParty(p)
		r, _ := newTestReconciler(t, fake, testConfig())
		r.Expiry().Arm(time.Hour, func() {})

		r.HandleMemberJoined(ctx, p.Members[0])

		assert.False(t, r.Expiry().Active())
		assert.Equal(t, []string{"Timer has been disabled because Owner is in the lobby!", "Welcome!"}, fake.Chats())
		assert.Zero(t, fake.Count(socialtest.OpLeaveParty))
	})

	t.Run("owner absent arms the expiry", func(t *testing.T) {
		fake := socialtest.NewFake("bot", "Bot")
		p := partyOfSize(3, false)
		fake.SetParty(p)
		r, hook := newTestReconciler(t, fake, testConfig())

		r.HandleMemberJoined(ctx, p.Members[1])

		assert.True(t, r.Expiry().Active())
		assert.Equal(t, []string{"Timer has started, ready up before the bot leaves", "Welcome!"}, fake.Chats())

		slots := fake.CallsTo(socialtest.OpSetCosmetic)
		require.Len(t, slots, 3)
		assert.Equal(t, social.SlotOutfit, slots[0].Args[0])
		assert.Equal(t, social.SlotBackpack, slots[1].Args[0])
		assert.Equal(t, social.SlotEmote, slots[2].Args[0])

		patches := fake.CallsTo(socialtest.OpPatchMeta)
		require.Len(t, patches, 1)
		assert.Equal(t, CosmeticLoadoutKey, patches[0].Args[0])

		var joined bool
		for _, e := range hook.AllEntries() {
			if e.Message == "Joined Member1's party" {
				joined = true
			}
		}
		assert.True(t, joined)
	})

	t.Run("bot alone keeps the expiry off", func(t *testing.T) {
		fake := socialtest.NewFake("bot", "Bot")
		p := partyOfSize(1, true)
		fake.SetParty(p)
		r, hook := newTestReconciler(t, fake, testConfig())

		r.HandleMemberJoined(ctx, p.Self)

		assert.False(t, r.Expiry().Active())
		assert.Equal(t, 1, fake.Count(socialtest.OpSetPrivacy))

		var joined bool
		for _, e := range hook.AllEntries() {
			if e.Message == "Joined BOT Bot's party" {
				joined = true
			}
		}
		assert.True(t, joined)
	})

	t.Run("failure leaves the party", func(t *testing.T) {
		fake := socialtest.NewFake("bot", "Bot")
		fake.SetParty(partyOfSize(2, false))
		fake.FailOn(socialtest.OpFetchSelf, assert.AnError)
		n := &recordingNotifier{}
		r, _ := newTestReconciler(t, fake, testConfig(), WithNotifier(n))

		r.HandleMemberJoined(ctx, social.Member{ID: "member-1"})

		assert.Equal(t, 1, fake.Count(socialtest.OpLeaveParty))
		assert.NotEmpty(t, n.get())
	})

	t.Run("cosmetic failures are swallowed", func(t *testing.T) {
		fake := socialtest.NewFake("bot", "Bot")
		fake.SetParty(partyOfSize(2, false))
		fake.FailOn(socialtest.OpPatchMeta, assert.AnError)
		r, _ := newTestReconciler(t, fake, testConfig())

		r.HandleMemberJoined(ctx, social.Member{ID: "member-1"})
		assert.Zero(t, fake.Count(socialtest.OpLeaveParty))
	})
}

func TestExpiryFiringLeavesOnce(t *testing.T) {
	fake := socialtest.NewFake("bot", "Bot")
	p := partyOfSize(2, false)
	fake.SetParty(p)
	cfg := testConfig()
	cfg.ExpiryDuration = 30 * time.Millisecond
	r, _ := newTestReconciler(t, fake, cfg)
	ctx := context.Background()

	r.HandleMemberJoined(ctx, p.Members[0])
	r.HandleMemberJoined(ctx, p.Members[0])

	assert.Eventually(t, func() bool { return fake.Count(socialtest.OpLeaveParty) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)

	expired := 0
	for _, c := range fake.Chats() {
		if c == "Time expired!" {
			expired++
		}
	}
	assert.Equal(t, 1, expired, "a rearmed timer fires once")
	assert.Equal(t, 1, fake.Count(socialtest.OpLeaveParty))
	assert.False(t, r.Expiry().Active())
}
