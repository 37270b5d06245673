// Package config loads the bot configuration from a YAML file and overlays
// LOBBYBOT_* environment variables on top of it.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is read-only to everything downstream of main.
type Config struct {
	Party       PartyConfig       `yaml:"party" envPrefix:"PARTY_"`
	Cosmetics   CosmeticsConfig   `yaml:"cosmetics" envPrefix:"COSMETICS_"`
	Status      StatusConfig      `yaml:"status" envPrefix:"STATUS_"`
	Matchmaking MatchmakingConfig `yaml:"matchmaking" envPrefix:"MATCHMAKING_"`
	Logs        LogsConfig        `yaml:"logs" envPrefix:"LOGS_"`
	Relay       RelayConfig       `yaml:"relay" envPrefix:"RELAY_"`
	Journal     JournalConfig     `yaml:"journal" envPrefix:"JOURNAL_"`
}

type PartyConfig struct {
	// AutoAcceptFriends accepts every incoming friend request when true.
	AutoAcceptFriends bool `yaml:"auto_accept_friends" env:"AUTO_ACCEPT_FRIENDS"`
	// LeaveAfterMatchmaking leaves once members are loading into a match.
	LeaveAfterMatchmaking bool          `yaml:"leave_after_matchmaking" env:"LEAVE_AFTER_MATCHMAKING"`
	JoinMessage           string        `yaml:"join_message" env:"JOIN_MESSAGE"`
	OwnerID               string        `yaml:"owner_id" env:"OWNER_ID"`
	ExpiryDuration        time.Duration `yaml:"expiry_duration" env:"EXPIRY_DURATION"`
}

type CosmeticsConfig struct {
	Outfit   string `yaml:"outfit" env:"OUTFIT"`
	Backpack string `yaml:"backpack" env:"BACKPACK"`
	Emote    string `yaml:"emote" env:"EMOTE"`
}

type StatusConfig struct {
	Invite           string `yaml:"invite" env:"INVITE"`
	InviteOnlineType string `yaml:"invite_online_type" env:"INVITE_ONLINE_TYPE"`
	InUse            string `yaml:"in_use" env:"IN_USE"`
	InUseOnlineType  string `yaml:"in_use_online_type" env:"IN_USE_ONLINE_TYPE"`
}

type MatchmakingConfig struct {
	BaseURL         string        `yaml:"base_url" env:"BASE_URL"`
	Platform        string        `yaml:"platform" env:"PLATFORM"`
	UserAgent       string        `yaml:"user_agent" env:"USER_AGENT"`
	WatchdogTimeout time.Duration `yaml:"watchdog_timeout" env:"WATCHDOG_TIMEOUT"`
	// InsecureSkipVerify is the known compatibility exception for the
	// matchmaking stream host: its TLS handshake does not validate. It is
	// only ever applied to that one connection.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify" env:"INSECURE_SKIP_VERIFY"`
}

type LogsConfig struct {
	// Enabled turns on verbose logs and the notification sink.
	Enabled    bool   `yaml:"enabled" env:"ENABLED"`
	Level      string `yaml:"level" env:"LEVEL"`
	WebhookURL string `yaml:"webhook_url" env:"WEBHOOK_URL"`
}

type RelayConfig struct {
	URL string `yaml:"url" env:"URL"`
	// BotID names this bot to the relay and in journal records.
	BotID  string `yaml:"bot_id" env:"BOT_ID"`
	Secret string `yaml:"-" env:"SECRET"`
}

type JournalConfig struct {
	RedisAddr string `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisDB   int    `yaml:"redis_db" env:"REDIS_DB"`
	Queue     string `yaml:"queue" env:"QUEUE"`
}

// HistoryConfig is only read by the historian.
type HistoryConfig struct {
	DatabaseURL   string        `env:"DATABASE_URL"`
	BatchSize     int           `env:"BATCH_SIZE"`
	FlushInterval time.Duration `env:"FLUSH_INTERVAL"`
}

// Historian is the configuration of the historian service.
type Historian struct {
	Journal JournalConfig `envPrefix:"JOURNAL_"`
	History HistoryConfig `envPrefix:"HISTORY_"`
}

// Default returns the configuration used when neither the file nor the
// environment sets a value.
func Default() Config {
	return Config{
		Party: PartyConfig{
			AutoAcceptFriends: true,
			JoinMessage:       "Hi! Ready up when you want to start.",
			ExpiryDuration:    10 * time.Minute,
		},
		Status: StatusConfig{
			Invite:           "Invite me!",
			InviteOnlineType: "online",
			InUse:            "In a party",
			InUseOnlineType:  "away",
		},
		Matchmaking: MatchmakingConfig{
			BaseURL:            "https://fngw-mcp-gc-livefn.ol.epicgames.com/fortnite/api/game/v2/matchmakingservice/ticket/player/",
			Platform:           "Windows",
			WatchdogTimeout:    30 * time.Second,
			InsecureSkipVerify: true,
		},
		Logs: LogsConfig{
			Level: "info",
		},
		Relay: RelayConfig{
			BotID: "lobbybot",
		},
		Journal: JournalConfig{
			Queue: "lobbybot_events",
		},
	}
}

// Load reads path (if non-empty) over the defaults, then applies the
// LOBBYBOT_* environment overlay and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "LOBBYBOT_"}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadHistorian reads the historian configuration from LOBBYBOT_*
// environment variables.
func LoadHistorian() (Historian, error) {
	cfg := Historian{
		Journal: Default().Journal,
		History: HistoryConfig{
			BatchSize:     20,
			FlushInterval: 500 * time.Millisecond,
		},
	}
	cfg.Journal.RedisAddr = "localhost:6379"

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "LOBBYBOT_"}); err != nil {
		return Historian{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.History.DatabaseURL == "" {
		return Historian{}, errors.New("invalid config: history database url is required")
	}
	if cfg.History.BatchSize <= 0 {
		cfg.History.BatchSize = 1
	}
	return cfg, nil
}

// Validate rejects configurations the bot cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Relay.URL == "" {
		errs = append(errs, errors.New("relay.url is required"))
	}
	if c.Matchmaking.BaseURL == "" {
		errs = append(errs, errors.New("matchmaking.base_url is required"))
	}
	if c.Party.ExpiryDuration <= 0 {
		errs = append(errs, errors.New("party.expiry_duration must be positive"))
	}
	if c.Matchmaking.WatchdogTimeout <= 0 {
		errs = append(errs, errors.New("matchmaking.watchdog_timeout must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
