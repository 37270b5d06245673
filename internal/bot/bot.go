// Package bot wires the social client to the party reconciler and runs the
// event loop.
package bot

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jason-s-yu/lobbybot/internal/social"
)

// Dispatcher handles one event. *party.Reconciler is the Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev social.Event)
	Close()
}

// Runner is a connection that must be pumped while the bot runs, such as
// the relay client.
type Runner interface {
	Run(ctx context.Context) error
}

// Presence is what the bot applies once at startup.
type Presence struct {
	InviteStatus     string
	InviteOnlineType string
	Outfit           string
	Backpack         string
}

type Bot struct {
	logger     *logrus.Logger
	client     social.Client
	dispatcher Dispatcher
	runner     Runner
	presence   Presence

	handlers sync.WaitGroup
}

// New builds a Bot. runner may be nil when the client needs no pumping.
func New(logger *logrus.Logger, client social.Client, d Dispatcher, runner Runner, presence Presence) *Bot {
	return &Bot{
		logger:     logger,
		client:     client,
		dispatcher: d,
		runner:     runner,
		presence:   presence,
	}
}

// Run applies the startup presence and dispatches events until ctx is done
// or the client's event stream ends. Each event runs in its own goroutine,
// so handlers interleave the way platform callbacks do.
func (b *Bot) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	if b.runner != nil {
		g.Go(func() error { return b.runner.Run(gctx) })
	}
	g.Go(func() error {
		b.applyPresence(gctx)
		b.loop(gctx)
		return nil
	})

	err := g.Wait()
	b.dispatcher.Close()
	b.handlers.Wait()
	b.logger.Info("Bot stopped")
	return err
}

func (b *Bot) applyPresence(ctx context.Context) {
	log := b.logger.WithField("self", b.client.SelfID())

	if err := b.client.SetStatus(ctx, b.presence.InviteStatus, b.presence.InviteOnlineType); err != nil {
		log.WithError(err).Warn("Failed to set startup status")
	}
	if b.presence.Outfit != "" {
		if err := b.client.SetCosmetic(ctx, social.SlotOutfit, b.presence.Outfit); err != nil {
			log.WithError(err).Warn("Failed to set startup outfit")
		}
	}
	if err := b.client.SetPrivacy(ctx, social.PrivacyPrivate); err != nil {
		log.WithError(err).Warn("Failed to set startup privacy")
	}
	if b.presence.Backpack != "" {
		if err := b.client.SetCosmetic(ctx, social.SlotBackpack, b.presence.Backpack); err != nil {
			log.WithError(err).Warn("Failed to set startup backpack")
		}
	}
	log.Infof("Logged in as %s", b.client.SelfDisplayName())
}

func (b *Bot) loop(ctx context.Context) {
	events := b.client.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				b.logger.Info("Event stream closed")
				return
			}
			b.logger.WithField("event", social.EventName(ev)).Debug("Event received")

			b.handlers.Add(1)
			go func() {
				defer b.handlers.Done()
				b.dispatcher.Dispatch(ctx, ev)
			}()
		}
	}
}
