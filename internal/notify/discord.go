package notify

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"
)

// Discord posts notifications as embeds to a webhook. Messages are queued
// and sent from a single worker goroutine; when the queue is full the
// message is dropped.
type Discord struct {
	logger *logrus.Logger
	queue  chan *discordgo.MessageEmbed
	send   func(*discordgo.WebhookParams) error

	closeOnce sync.Once
	done      chan struct{}
}

// ParseWebhookURL splits https://discord.com/api/webhooks/{id}/{token}.
func ParseWebhookURL(raw string) (id, token string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("parse webhook url: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", fmt.Errorf("webhook url %q has no /webhooks/{id}/{token} segment", raw)
}

// NewDiscord builds a notifier for the given webhook URL and starts its
// worker.
func NewDiscord(logger *logrus.Logger, webhookURL string) (*Discord, error) {
	id, token, err := ParseWebhookURL(webhookURL)
	if err != nil {
		return nil, err
	}
	session, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	return newDiscord(logger, func(params *discordgo.WebhookParams) error {
		_, err := session.WebhookExecute(id, token, false, params)
		return err
	}), nil
}

func newDiscord(logger *logrus.Logger, send func(*discordgo.WebhookParams) error) *Discord {
	d := &Discord{
		logger: logger,
		queue:  make(chan *discordgo.MessageEmbed, 32),
		send:   send,
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

// Log enqueues an embed without blocking.
func (d *Discord) Log(title, body string, color int) {
	embed := &discordgo.MessageEmbed{
		Title:       title,
		Description: body,
		Color:       color,
		Timestamp:   time.Now().Format(time.RFC3339),
	}
	select {
	case <-d.done:
	case d.queue <- embed:
	default:
		d.logger.Warnf("notify: queue full, dropped %q", title)
	}
}

// Close stops the worker. Queued embeds that were not sent yet are dropped.
func (d *Discord) Close() {
	d.closeOnce.Do(func() { close(d.done) })
}

func (d *Discord) run() {
	for {
		select {
		case <-d.done:
			return
		case embed := <-d.queue:
			err := d.send(&discordgo.WebhookParams{
				Embeds: []*discordgo.MessageEmbed{embed},
			})
			if err != nil {
				d.logger.WithError(err).Warnf("notify: webhook post failed for %q", embed.Title)
			}
		}
	}
}
