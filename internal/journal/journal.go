// internal/journal/journal.go
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DefaultQueueName is the Redis list the historian drains.
const DefaultQueueName = "lobbybot_events"

// Kinds of records the bot emits.
const (
	KindPartyJoined         = "party_joined"
	KindMemberLeft          = "member_left"
	KindMatchmakingStarted  = "matchmaking_started"
	KindMatchmakingRejected = "matchmaking_rejected"
	KindMatchmakingError    = "matchmaking_error"
	KindMatchmakingClosed   = "matchmaking_closed"
	KindExpiryFired         = "expiry_fired"
)

// Record is one observability event about the bot's party activity.
type Record struct {
	ID        uuid.UUID      `json:"id"`
	BotID     string         `json:"bot_id"`
	Kind      string         `json:"kind"`
	PartyID   string         `json:"party_id,omitempty"`
	PartySize int            `json:"party_size,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

// Publisher accepts records. Publish must not block the caller for long and
// never fails it; errors are logged by the implementation.
type Publisher interface {
	Publish(ctx context.Context, rec Record)
}

// Nop drops every record. Used when no Redis is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Record) {}

// Redis pushes records onto a Redis list.
type Redis struct {
	rdb    *redis.Client
	queue  string
	botID  string
	logger *logrus.Logger
}

// Connect opens a Redis client at addr and pings it.
func Connect(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// NewRedis builds a publisher that stamps every record with botID.
func NewRedis(rdb *redis.Client, queue, botID string, logger *logrus.Logger) *Redis {
	if queue == "" {
		queue = DefaultQueueName
	}
	return &Redis{rdb: rdb, queue: queue, botID: botID, logger: logger}
}

// Publish serializes rec to JSON and RPUSHes it to the queue.
func (r *Redis) Publish(ctx context.Context, rec Record) {
	data, err := Encode(r.stamp(rec))
	if err != nil {
		r.logger.WithError(err).Warn("journal: encode failed")
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := r.rdb.RPush(ctx, r.queue, data).Err(); err != nil {
		r.logger.WithError(err).Warnf("journal: RPush to %q failed", r.queue)
	}
}

func (r *Redis) stamp(rec Record) Record {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.BotID == "" {
		rec.BotID = r.botID
	}
	if rec.Timestamp == 0 {
		rec.Timestamp = time.Now().UnixMilli()
	}
	return rec
}

// Encode is the wire form shared with the historian.
func Encode(rec Record) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal journal record: %w", err)
	}
	return data, nil
}

// Decode parses a record popped from the queue.
func Decode(data []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("failed to unmarshal journal record: %w", err)
	}
	return rec, nil
}
