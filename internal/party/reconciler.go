package party

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/lobbybot/internal/failure"
	"github.com/jason-s-yu/lobbybot/internal/journal"
	"github.com/jason-s-yu/lobbybot/internal/matchmaking"
	"github.com/jason-s-yu/lobbybot/internal/notify"
	"github.com/jason-s-yu/lobbybot/internal/social"
)

// Metadata patches the bot applies to its own member record.
const (
	LobbyStateKey      = "Default:LobbyState_j"
	CosmeticLoadoutKey = "Default:AthenaCosmeticLoadout_j"
	cosmeticStatsValue = `{"AthenaCosmeticLoadout":{"cosmeticStats":[{"statName":"TotalVictoryCrowns","statValue":0},{"statName":"TotalRoyalRoyales","statValue":999},{"statName":"HasCrown","statValue":0}]}}`
)

var preloadedValue = map[string]any{
	"LobbyState": map[string]any{"hasPreloadedAthena": true},
}

// Timings are the fixed waits between steps. Tests shrink them.
type Timings struct {
	// JoinSettle works around member metadata arriving late after a join.
	JoinSettle      time.Duration
	BackpackSettle  time.Duration
	PostMatchSettle time.Duration
	ExpiryGrace     time.Duration
	Watchdog        time.Duration
}

func DefaultTimings() Timings {
	return Timings{
		JoinSettle:      2 * time.Second,
		BackpackSettle:  1500 * time.Millisecond,
		PostMatchSettle: 2 * time.Second,
		ExpiryGrace:     1200 * time.Millisecond,
		Watchdog:        30 * time.Second,
	}
}

// Config is the read-only behaviour surface of the Reconciler.
type Config struct {
	AutoAcceptFriends     bool
	LeaveAfterMatchmaking bool
	JoinMessage           string
	OwnerID               string
	ExpiryDuration        time.Duration

	Outfit   string
	Backpack string
	Emote    string

	InviteStatus     string
	InviteOnlineType string
	InUseStatus      string
	InUseOnlineType  string

	// Verbose enables the informational notifications. Failures are
	// always reported.
	Verbose bool
}

// Matchmaker runs one attempt to completion.
type Matchmaker interface {
	Start(ctx context.Context, a matchmaking.Attempt)
}

// Reconciler owns the shared state of one bot instance: the
// matchmaking-active flag, the attempt generation and the expiry timer.
// Its handlers may run concurrently.
type Reconciler struct {
	logger     *logrus.Logger
	client     social.Client
	matchmaker Matchmaker
	notifier   notify.Notifier
	journal    journal.Publisher
	cfg        Config
	timings    Timings

	matchmaking atomic.Bool
	generation  atomic.Uint64
	expiry      ExpiryTimer
}

// Option configures a Reconciler.
type Option func(*Reconciler)

func WithNotifier(n notify.Notifier) Option { return func(r *Reconciler) { r.notifier = n } }
func WithJournal(j journal.Publisher) Option { return func(r *Reconciler) { r.journal = j } }
func WithTimings(t Timings) Option { return func(r *Reconciler) { r.timings = t } }
func WithMatchmaker(m Matchmaker) Option { return func(r *Reconciler) { r.matchmaker = m } }

func NewReconciler(logger *logrus.Logger, client social.Client, cfg Config, opts ...Option) *Reconciler {
	r := &Reconciler{
		logger:   logger,
		client:   client,
		notifier: notify.Nop{},
		journal:  journal.Nop{},
		cfg:      cfg,
		timings:  DefaultTimings(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Matchmaking reports whether an attempt is active.
func (r *Reconciler) Matchmaking() bool { return r.matchmaking.Load() }

// Expiry exposes the expiry timer.
func (r *Reconciler) Expiry() *ExpiryTimer { return &r.expiry }

// Dispatch routes ev to its handler.
func (r *Reconciler) Dispatch(ctx context.Context, ev social.Event) {
	switch ev := ev.(type) {
	case social.PartyUpdated:
		r.HandlePartyUpdated(ctx, ev.Party)
	case social.MemberUpdated:
		r.HandleMemberUpdated(ctx, ev.Member)
	case social.MemberJoined:
		r.HandleMemberJoined(ctx, ev.Member)
	case social.MemberLeft:
		r.HandleMemberLeft(ctx, ev.Member)
	case social.FriendRequest:
		r.HandleFriendRequest(ctx, ev)
	case social.PartyInvite:
		r.HandlePartyInvite(ctx, ev)
	default:
		r.logger.WithField("event", fmt.Sprintf("%T", ev)).Warn("Unhandled event")
	}
}

// guard is the boundary of every handler: errors and panics are reported
// and never reach the event loop.
func (r *Reconciler) guard(title string, fn func() error) {
	defer func() {
		if rec := recover(); rec != nil {
			failure.Report(r.logger, r.notifier, title,
				failure.New(failure.StateInconsistency, "handler panic: %v", rec))
		}
	}()
	failure.Report(r.logger, r.notifier, title, fn())
}

// HandlePartyUpdated drives the Idle, Preloading, Matchmaking and
// PostMatchmaking cycle.
func (r *Reconciler) HandlePartyUpdated(ctx context.Context, p social.Party) {
	r.guard("[Logs] Party:", func() error {
		switch ParseState(p.State) {
		case StatePreloading:
			return r.client.PatchMeta(ctx, LobbyStateKey, preloadedValue)
		case StateMatchmaking:
			r.beginMatchmaking(ctx, p)
		case StatePostMatchmaking:
			return r.endMatchmaking(ctx)
		case StateIdle:
		default:
			r.logger.WithField("state", p.State).Info("[Party] Unknown party state")
		}
		return nil
	})
}

func (r *Reconciler) beginMatchmaking(ctx context.Context, p social.Party) {
	if !r.matchmaking.CompareAndSwap(false, true) {
		r.logger.WithField("party", p.ID).Info("Members already started matchmaking")
		return
	}
	gen := r.generation.Add(1)

	log := r.logger.WithFields(logrus.Fields{"party": p.ID, "generation": gen})
	log.Info("[Matchmaking] Matchmaking started")
	if r.cfg.Verbose {
		r.notifier.Log("[Logs] Matchmaking", "Members started Matchmaking!", notify.ColorInfo)
	}

	time.AfterFunc(r.timings.Watchdog, func() { r.watchdog(ctx, gen) })

	if r.matchmaker != nil {
		attempt := matchmaking.Attempt{
			ID:    uuid.New(),
			Party: p,
			Abort: func(reason string) { r.abort(ctx, gen, reason) },
		}
		go r.matchmaker.Start(ctx, attempt)
	}

	r.journal.Publish(ctx, journal.Record{
		Kind:      journal.KindMatchmakingStarted,
		PartyID:   p.ID,
		PartySize: p.Size,
	})
}

// abort ends attempt gen early. Whichever of abort and the watchdog wins
// the flag also unreadies the bot.
func (r *Reconciler) abort(ctx context.Context, gen uint64, reason string) {
	r.guard("[Logs] Matchmaking", func() error {
		if !r.finishAttempt(gen) {
			return nil
		}
		r.logger.WithFields(logrus.Fields{
			"generation": gen,
			"reason":     reason,
		}).Info("[Matchmaking] Attempt ended early")
		return r.clearReadiness(ctx)
	})
}

// finishAttempt clears the flag if gen is still the current attempt.
func (r *Reconciler) finishAttempt(gen uint64) bool {
	return r.generation.Load() == gen && r.matchmaking.CompareAndSwap(true, false)
}

func (r *Reconciler) watchdog(ctx context.Context, gen uint64) {
	r.guard("[Logs] Matchmaking", func() error {
		if !r.finishAttempt(gen) {
			return nil
		}
		r.logger.WithField("generation", gen).Warn("[Matchmaking] Watchdog ended a stalled attempt")
		return r.clearReadiness(ctx)
	})
}

func (r *Reconciler) endMatchmaking(ctx context.Context) error {
	if !r.matchmaking.Load() {
		return nil
	}

	r.logger.Info("[Party] Players entered loading screen")
	if r.cfg.Verbose {
		r.notifier.Log("[Logs] Matchmaking", "Members now in game.", notify.ColorWarn)
	}

	if err := r.clearReadiness(ctx); err != nil {
		r.logger.WithError(err).Warn("Failed to clear readiness")
	}
	if err := sleep(ctx, r.timings.PostMatchSettle); err != nil {
		return err
	}
	r.matchmaking.CompareAndSwap(true, false)

	if !r.cfg.LeaveAfterMatchmaking {
		return nil
	}
	r.logger.Info("[Party] Leaving party after matchmaking")
	if r.cfg.Verbose {
		r.notifier.Log("[Logs] Matchmaking", "Leaving party...", notify.ColorWarn)
	}
	return r.client.LeaveParty(ctx)
}

// HandleMemberUpdated mirrors another member's readiness onto the bot.
func (r *Reconciler) HandleMemberUpdated(ctx context.Context, m social.Member) {
	if m.ID == r.client.SelfID() {
		return
	}
	r.guard("[Logs] Party Members:", func() error {
		p, ok := r.client.Party().Get()
		if !ok {
			if !m.IsReady && m.IsLeader {
				return r.staleClientCleanup(ctx)
			}
			return nil
		}

		self := p.Self
		if m.IsReady && (self.IsLeader || m.IsLeader) && !self.IsReady {
			// Promote first so followers never see a ready bot without a leader.
			if self.IsLeader {
				if err := r.client.Promote(ctx, m.ID); err != nil {
					return err
				}
			}
			if err := r.client.SetReadiness(ctx, true); err != nil {
				return err
			}
		}

		r.logger.WithFields(logrus.Fields{
			"party":    p.ID,
			"allReady": AllReady(append([]social.Member{self}, p.Members...)),
		}).Debug("Member updated")
		return nil
	})
}

// staleClientCleanup handles a leader un-readying while the bot holds no
// party reference.
func (r *Reconciler) staleClientCleanup(ctx context.Context) error {
	if r.client.TransportConnected() {
		if err := r.client.DisconnectTransport(); err != nil {
			r.logger.WithError(err).Warn("Failed to disconnect stale transport")
		}
	} else {
		r.logger.Warn("Transport is not available or already closed")
	}
	return r.client.SetReadiness(ctx, false)
}

// HandleMemberJoined reapplies the bot's loadout and decides the expiry
// policy. Any failure makes the bot leave.
func (r *Reconciler) HandleMemberJoined(ctx context.Context, m social.Member) {
	r.guard("[Logs] Party:", func() error {
		if err := r.join(ctx, m); err != nil {
			if lerr := r.client.LeaveParty(ctx); lerr != nil {
				r.logger.WithError(lerr).Warn("Failed to leave party")
			}
			return fmt.Errorf("failed to join party, leaving: %w", err)
		}
		return nil
	})
}

func (r *Reconciler) join(ctx context.Context, joined social.Member) error {
	if err := sleep(ctx, r.timings.JoinSettle); err != nil {
		return err
	}

	if _, err := r.client.FetchSelf(ctx); err != nil {
		return err
	}
	if err := r.client.PatchMeta(ctx, CosmeticLoadoutKey, cosmeticStatsValue); err != nil {
		r.logger.WithError(err).Warn("Failed to patch cosmetic stats")
	}
	r.applyCosmetic(ctx, social.SlotOutfit, r.cfg.Outfit)

	p, ok := r.client.Party().Get()
	if !ok {
		return failure.New(failure.StateInconsistency, "no party after %s joined", joined.ID)
	}
	leader := r.leaderName(p)
	r.logger.WithFields(logrus.Fields{"party": p.ID, "member": joined.ID}).Infof("Joined %s's party", leader)
	if r.cfg.Verbose {
		r.notifier.Log("[Logs] Party:", fmt.Sprintf("Joined **%s**'s party", leader), notify.ColorInfo)
	}
	r.journal.Publish(ctx, journal.Record{
		Kind:      journal.KindPartyJoined,
		PartyID:   p.ID,
		PartySize: p.Size,
		Detail:    map[string]any{"member": joined.ID, "leader": leader},
	})

	if r.cfg.Backpack != "" {
		if err := r.client.SetCosmetic(ctx, social.SlotBackpack, r.cfg.Backpack); err != nil {
			return err
		}
	}
	if err := sleep(ctx, r.timings.BackpackSettle); err != nil {
		return err
	}

	if p.Size != 1 {
		r.applyExpiryPolicy(ctx, p)
	}

	p, err := r.client.FetchParty(ctx)
	if err != nil {
		return err
	}
	r.applyCosmetic(ctx, social.SlotEmote, r.cfg.Emote)

	r.dispatchSize(ctx, p)
	return nil
}

// leaderName is prefixed with "BOT" when the bot leads its own party.
func (r *Reconciler) leaderName(p social.Party) string {
	leader, ok := p.Leader()
	if !ok {
		return "unknown"
	}
	if leader.ID == r.client.SelfID() {
		return "BOT " + r.client.SelfDisplayName()
	}
	return leader.DisplayName
}

func (r *Reconciler) applyCosmetic(ctx context.Context, slot social.CosmeticSlot, id string) {
	if id == "" {
		return
	}
	if err := r.client.SetCosmetic(ctx, slot, id); err != nil {
		r.logger.WithFields(logrus.Fields{"slot": slot, "id": id}).WithError(err).Warn("Failed to apply cosmetic")
	}
}

// applyExpiryPolicy disables the expiry while the owner is present and
// rearms it otherwise.
func (r *Reconciler) applyExpiryPolicy(ctx context.Context, p social.Party) {
	if owner, ok := r.findOwner(p); ok {
		r.expiry.Cancel()
		msg := fmt.Sprintf("Timer has been disabled because %s is in the lobby!", owner.DisplayName)
		r.logger.Info(msg)
		r.chat(ctx, msg)
		r.notifier.Log("[Logs] Timer:",
			fmt.Sprintf("Timer has been disabled because **%s** is in the lobby!", owner.DisplayName), notify.ColorInfo)
		return
	}

	r.logger.WithField("duration", r.cfg.ExpiryDuration).Info("[Party] Timer has started")
	r.chat(ctx, "Timer has started, ready up before the bot leaves")
	r.expiry.Arm(r.cfg.ExpiryDuration, func() { r.expire(ctx) })
}

func (r *Reconciler) findOwner(p social.Party) (social.Member, bool) {
	if r.cfg.OwnerID == "" {
		return social.Member{}, false
	}
	return p.FindMember(r.cfg.OwnerID)
}

// expire runs when the expiry timer fires.
func (r *Reconciler) expire(ctx context.Context) {
	r.guard("[Logs] Party:", func() error {
		r.chat(ctx, "Time expired!")
		if err := sleep(ctx, r.timings.ExpiryGrace); err != nil {
			return err
		}
		if err := r.client.LeaveParty(ctx); err != nil {
			return fmt.Errorf("failed to leave party after expiry: %w", err)
		}

		r.logger.Info("[Party] Left party due to party time expiring")
		if r.cfg.Verbose {
			r.notifier.Log("[Logs] Party:", "Party Time expired.", notify.ColorWarn)
		}
		r.journal.Publish(ctx, journal.Record{Kind: journal.KindExpiryFired})
		return nil
	})
}

// HandleMemberLeft announces the departure and re-applies the size policy.
func (r *Reconciler) HandleMemberLeft(ctx context.Context, m social.Member) {
	r.guard("[Logs] Party Members:", func() error {
		r.logger.WithField("member", m.ID).Infof("Member left: %s", m.DisplayName)
		if r.cfg.Verbose {
			r.notifier.Log("[Logs] Party Members:", fmt.Sprintf("**%s** has left.", m.DisplayName), notify.ColorWarn)
		}

		if !r.client.Party().Ok() {
			r.logger.Warn("No party instance available")
			return nil
		}
		p, err := r.client.FetchParty(ctx)
		if err != nil {
			return err
		}
		r.journal.Publish(ctx, journal.Record{
			Kind:      journal.KindMemberLeft,
			PartyID:   p.ID,
			PartySize: p.Size,
			Detail:    map[string]any{"member": m.ID},
		})

		r.dispatchSize(ctx, p)
		return nil
	})
}

// dispatchSize applies the presence policy for the party's size. Each
// step is best-effort.
func (r *Reconciler) dispatchSize(ctx context.Context, p social.Party) {
	log := r.logger.WithFields(logrus.Fields{"party": p.ID, "size": p.Size})

	switch {
	case p.Size == 1:
		if err := r.client.SetStatus(ctx, r.cfg.InviteStatus, r.cfg.InviteOnlineType); err != nil {
			log.WithError(err).Warn("Failed to set invite status")
		}
		if err := r.client.SetPrivacy(ctx, social.PrivacyPrivate); err != nil {
			log.WithError(err).Warn("Failed to set party privacy")
		}
		if err := r.clearReadiness(ctx); err != nil {
			log.WithError(err).Warn("Failed to clear readiness")
		}
		if r.expiry.Cancel() {
			log.Info("[Party] Timer has stopped")
		}
	case p.Size >= 2 && p.Size <= 4:
		r.chat(ctx, r.cfg.JoinMessage)
		if err := r.client.SetStatus(ctx, r.cfg.InUseStatus, r.cfg.InUseOnlineType); err != nil {
			log.WithError(err).Warn("Failed to set in-use status")
		}
	default:
		log.Warn("Unexpected party size")
	}
}

// clearReadiness unreadies the bot if its cached record says it is ready.
func (r *Reconciler) clearReadiness(ctx context.Context) error {
	p, ok := r.client.Party().Get()
	if !ok || !p.Self.IsReady {
		return nil
	}
	return r.client.SetReadiness(ctx, false)
}

// HandleFriendRequest accepts or declines according to config.
func (r *Reconciler) HandleFriendRequest(ctx context.Context, req social.FriendRequest) {
	r.guard("[Logs] Friend Request:", func() error {
		if r.cfg.AutoAcceptFriends {
			if err := r.client.AcceptFriend(ctx, req.AccountID); err != nil {
				return fmt.Errorf("failed to accept friend request: %w", err)
			}
			return nil
		}
		if err := r.client.DeclineFriend(ctx, req.AccountID); err != nil {
			return fmt.Errorf("failed to decline friend request: %w", err)
		}
		r.chat(ctx, fmt.Sprintf("Sorry, %s I dont accept friend requests!", req.DisplayName))
		return nil
	})
}

// HandlePartyInvite accepts only while the bot is alone, so it never
// abandons a party with other members.
func (r *Reconciler) HandlePartyInvite(ctx context.Context, inv social.PartyInvite) {
	r.guard("[Logs] Party Invite:", func() error {
		r.logger.WithFields(logrus.Fields{"invite": inv.InviteID, "from": inv.Sender.ID}).Info("Received party invite")

		p, err := r.client.FetchParty(ctx)
		if err != nil {
			return fmt.Errorf("failed to fetch party for invite: %w", err)
		}
		if p.Size == 1 {
			return r.client.AcceptInvite(ctx, inv.InviteID)
		}
		return r.client.DeclineInvite(ctx, inv.InviteID)
	})
}

func (r *Reconciler) chat(ctx context.Context, text string) {
	if text == "" {
		return
	}
	if err := r.client.SendChat(ctx, text); err != nil {
		r.logger.WithError(err).Warn("Failed to send party chat")
	}
}

// Close cancels the pending expiry.
func (r *Reconciler) Close() {
	r.expiry.Cancel()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
