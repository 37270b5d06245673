package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/lobbybot/internal/failure"
	"github.com/jason-s-yu/lobbybot/internal/journal"
	"github.com/jason-s-yu/lobbybot/internal/notify"
	"github.com/jason-s-yu/lobbybot/internal/social"
)

// Attempt is one matchmaking try for the current party epoch.
type Attempt struct {
	ID    uuid.UUID
	Party social.Party
	// Abort runs when the attempt ends before post-matchmaking: the ticket
	// was refused, the handshake failed, or the service sent "Error".
	Abort func(reason string)
}

// Matchmaker runs the ticket exchange and the stream for an Attempt. It is
// the failure boundary: nothing it does propagates to the caller.
type Matchmaker struct {
	logger   *logrus.Logger
	client   social.Client
	tickets  *TicketClient
	checksum ChecksumFunc
	notifier notify.Notifier
	journal  journal.Publisher
	opts     SessionOptions
	platform string
	verbose  bool
}

// MatchmakerConfig collects the Matchmaker's collaborators.
type MatchmakerConfig struct {
	Client   social.Client
	Tickets  *TicketClient
	Checksum ChecksumFunc
	Notifier notify.Notifier
	Journal  journal.Publisher
	Session  SessionOptions
	Platform string
	Verbose  bool
}

func NewMatchmaker(logger *logrus.Logger, cfg MatchmakerConfig) *Matchmaker {
	m := &Matchmaker{
		logger:   logger,
		client:   cfg.Client,
		tickets:  cfg.Tickets,
		checksum: cfg.Checksum,
		notifier: cfg.Notifier,
		journal:  cfg.Journal,
		opts:     cfg.Session,
		platform: cfg.Platform,
		verbose:  cfg.Verbose,
	}
	if m.checksum == nil {
		m.checksum = DefaultChecksum
	}
	if m.notifier == nil {
		m.notifier = notify.Nop{}
	}
	if m.journal == nil {
		m.journal = journal.Nop{}
	}
	if m.platform == "" {
		m.platform = "Windows"
	}
	return m
}

// BuildQuery is the descriptor forwarded to the ticket endpoint. The bot
// is always listed first in partyPlayerIds.
func BuildQuery(p social.Party, selfID, platform string) url.Values {
	others := lo.FilterMap(p.Members, func(m social.Member, _ int) (string, bool) {
		return m.ID, m.ID != selfID
	})
	ids := append([]string{selfID}, others...)

	q := url.Values{}
	q.Set("partyPlayerIds", strings.Join(ids, ","))
	if p.Bucket != "" {
		q.Set("bucketId", p.Bucket)
	}
	if p.Region != "" {
		q.Set("player.subregions", p.Region)
	}
	q.Set("player.platform", platform)
	q.Set("player.option.partyId", p.ID)
	q.Set("input.KBM", "true")
	q.Set("player.input", "KBM")
	return q
}

// Start blocks for the lifetime of the attempt's stream.
func (m *Matchmaker) Start(ctx context.Context, a Attempt) {
	log := m.logger.WithFields(logrus.Fields{
		"attempt": a.ID,
		"party":   a.Party.ID,
	})

	defer func() {
		if r := recover(); r != nil {
			failure.Report(log, m.notifier, "[Logs] Matchmaking",
				failure.New(failure.StateInconsistency, "matchmaking panic: %v", r))
			m.abort(a, "panic")
		}
	}()

	token, err := m.client.AccessToken(ctx)
	if err != nil {
		failure.Report(log, nil, "Error while obtaining access token", err)
		m.abort(a, "no token")
		return
	}

	query := BuildQuery(a.Party, m.client.SelfID(), m.platform)
	ticket, err := m.tickets.RequestTicket(ctx, token, m.client.SelfID(), query)
	if err != nil {
		failure.Report(log, nil, "[Matchmaking] Error while obtaining ticket", err)
		m.record(ctx, a, journal.KindMatchmakingRejected, err)
		if rerr := m.client.SetReadiness(ctx, false); rerr != nil {
			log.WithError(rerr).Warn("Failed to clear readiness after ticket failure")
		}
		m.abort(a, "ticket")
		return
	}

	checksum, err := m.checksum(ticket.Payload, ticket.Signature)
	if err != nil {
		failure.Report(log, nil, "[Matchmaking] Error while computing ticket checksum", err)
		m.abort(a, "checksum")
		return
	}
	log.WithField("ticket", ticket.String()).Debug("Ticket obtained")

	session, err := Dial(ctx, log, *ticket, Credential(*ticket, checksum), m.opts)
	if err != nil {
		m.handshakeFailed(ctx, log, a, err)
		return
	}
	defer session.Close()

	session.Run(ctx, &attemptHandler{m: m, ctx: ctx, log: log, attempt: a})
}

func (m *Matchmaker) handshakeFailed(ctx context.Context, log logrus.FieldLogger, a Attempt, err error) {
	m.record(ctx, a, journal.KindMatchmakingRejected, err)
	defer m.abort(a, "handshake")

	var rej *RejectedError
	if !errors.As(err, &rej) {
		failure.Report(log, m.notifier, "[Logs] Error", err)
		return
	}

	m.chat(ctx, log, "Error while connecting to matchmaking service: "+rej.Summary())
	if rej.Class == ClassJSON {
		m.chat(ctx, log, strings.TrimSpace(fmt.Sprintf("Error while connecting to matchmaking service: %s %s", rej.Code, rej.Message)))
	}

	log.WithFields(logrus.Fields{
		"status": rej.Status,
		"class":  rej.Class.String(),
		"code":   rej.Code,
	}).Error(rej.Error())
	if m.verbose {
		m.notifier.Log("[Logs] Error", rej.Error(), notify.ColorError)
	}
}

func (m *Matchmaker) chat(ctx context.Context, log logrus.FieldLogger, text string) {
	if err := m.client.SendChat(ctx, text); err != nil {
		log.WithError(err).Warn("Failed to send party chat")
	}
}

func (m *Matchmaker) abort(a Attempt, reason string) {
	if a.Abort != nil {
		a.Abort(reason)
	}
}

func (m *Matchmaker) record(ctx context.Context, a Attempt, kind string, err error) {
	detail := map[string]any{"attempt": a.ID.String()}
	if err != nil {
		detail["error"] = err.Error()
		detail["kind"] = string(failure.KindOf(err))
	}
	m.journal.Publish(ctx, journal.Record{
		Kind:      kind,
		PartyID:   a.Party.ID,
		PartySize: a.Party.Size,
		Detail:    detail,
	})
}

// attemptHandler reacts to one attempt's stream.
type attemptHandler struct {
	m       *Matchmaker
	ctx     context.Context
	log     logrus.FieldLogger
	attempt Attempt
}

func (h *attemptHandler) OnMessage(msg Message) {
	if h.m.verbose {
		h.log.WithField("name", msg.Name).Infof("[Matchmaking] Message from the matchmaker: %s", msg.Payload)
	}
}

func (h *attemptHandler) OnError(msg Message) {
	h.log.WithField("payload", string(msg.Payload)).Warn("[Matchmaking] Matchmaker reported an error")
	h.m.record(h.ctx, h.attempt, journal.KindMatchmakingError, nil)
	h.m.abort(h.attempt, "in-band error")
}

func (h *attemptHandler) OnClosed(err error) {
	h.m.record(h.ctx, h.attempt, journal.KindMatchmakingClosed, err)
	if !h.m.verbose {
		return
	}
	entry := h.log
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Info("[Matchmaking] Connection to the matchmaker closed")
	h.m.notifier.Log("[Logs] Matchmaking", "Matchmaking closed", notify.ColorWarn)
}
