// cmd/lobbybot/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/jason-s-yu/lobbybot/internal/bot"
	"github.com/jason-s-yu/lobbybot/internal/config"
	"github.com/jason-s-yu/lobbybot/internal/journal"
	"github.com/jason-s-yu/lobbybot/internal/matchmaking"
	"github.com/jason-s-yu/lobbybot/internal/middleware"
	"github.com/jason-s-yu/lobbybot/internal/notify"
	"github.com/jason-s-yu/lobbybot/internal/party"
	"github.com/jason-s-yu/lobbybot/internal/social/relay"
)

func main() {
	configPath := pflag.StringP("config", "c", os.Getenv("LOBBYBOT_CONFIG"), "path to the YAML config file")
	verbose := pflag.BoolP("verbose", "v", false, "enable debug logging")
	pflag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	level, err := logrus.ParseLevel(cfg.Logs.Level)
	if err != nil {
		logger.Warnf("unknown log level %q, using info", cfg.Logs.Level)
		level = logrus.InfoLevel
	}
	if *verbose {
		level = logrus.DebugLevel
	}
	logger.SetLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, cfg); err != nil {
		logger.Fatalf("lobbybot exited: %v", err)
	}
}

func run(ctx context.Context, logger *logrus.Logger, cfg config.Config) error {
	var notifier notify.Notifier = notify.Nop{}
	if cfg.Logs.Enabled && cfg.Logs.WebhookURL != "" {
		d, err := notify.NewDiscord(logger, cfg.Logs.WebhookURL)
		if err != nil {
			return fmt.Errorf("notifier: %w", err)
		}
		defer d.Close()
		notifier = d
	}

	var publisher journal.Publisher = journal.Nop{}
	if cfg.Journal.RedisAddr != "" {
		rdb, err := journal.Connect(ctx, cfg.Journal.RedisAddr, cfg.Journal.RedisDB)
		if err != nil {
			return err
		}
		defer rdb.Close()
		publisher = journal.NewRedis(rdb, cfg.Journal.Queue, cfg.Relay.BotID, logger)
	}

	client, err := relay.Dial(ctx, logger, cfg.Relay.URL, relay.Options{
		Secret: []byte(cfg.Relay.Secret),
		BotID:  cfg.Relay.BotID,
	})
	if err != nil {
		return err
	}
	defer client.Close()
	middleware.LogWebSocketConnect(logger, cfg.Relay.URL)

	httpClient := middleware.NewLogClient(logger, nil, func(req *http.Request, e middleware.RemoteError) {
		msg := fmt.Sprintf("HTTP Error: %d %s %s", e.Status, e.Code, e.Message)
		if err := client.SendChat(context.WithoutCancel(req.Context()), msg); err != nil {
			logger.WithError(err).Debug("Failed to relay HTTP error to party chat")
		}
	})

	mm := matchmaking.NewMatchmaker(logger, matchmaking.MatchmakerConfig{
		Client:   client,
		Tickets:  matchmaking.NewTicketClient(cfg.Matchmaking.BaseURL, httpClient),
		Notifier: notifier,
		Journal:  publisher,
		Session: matchmaking.SessionOptions{
			InsecureSkipVerify: cfg.Matchmaking.InsecureSkipVerify,
			UserAgent:          cfg.Matchmaking.UserAgent,
		},
		Platform: cfg.Matchmaking.Platform,
		Verbose:  cfg.Logs.Enabled,
	})

	timings := party.DefaultTimings()
	timings.Watchdog = cfg.Matchmaking.WatchdogTimeout

	reconciler := party.NewReconciler(logger, client, party.Config{
		AutoAcceptFriends:     cfg.Party.AutoAcceptFriends,
		LeaveAfterMatchmaking: cfg.Party.LeaveAfterMatchmaking,
		JoinMessage:           cfg.Party.JoinMessage,
		OwnerID:               cfg.Party.OwnerID,
		ExpiryDuration:        cfg.Party.ExpiryDuration,
		Outfit:                cfg.Cosmetics.Outfit,
		Backpack:              cfg.Cosmetics.Backpack,
		Emote:                 cfg.Cosmetics.Emote,
		InviteStatus:          cfg.Status.Invite,
		InviteOnlineType:      cfg.Status.InviteOnlineType,
		InUseStatus:           cfg.Status.InUse,
		InUseOnlineType:       cfg.Status.InUseOnlineType,
		Verbose:               cfg.Logs.Enabled,
	},
		party.WithMatchmaker(mm),
		party.WithNotifier(notifier),
		party.WithJournal(publisher),
		party.WithTimings(timings),
	)

	b := bot.New(logger, client, reconciler, client, bot.Presence{
		InviteStatus:     cfg.Status.Invite,
		InviteOnlineType: cfg.Status.InviteOnlineType,
		Outfit:           cfg.Cosmetics.Outfit,
		Backpack:         cfg.Cosmetics.Backpack,
	})

	err = b.Run(ctx)
	middleware.LogWebSocketDisconnect(logger, cfg.Relay.URL, err)
	return err
}
