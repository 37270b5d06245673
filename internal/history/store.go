// internal/history/store.go
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jason-s-yu/lobbybot/internal/journal"
)

// Schema creates the table the historian writes to.
const Schema = `
CREATE TABLE IF NOT EXISTS bot_events (
	id          UUID PRIMARY KEY,
	bot_id      TEXT NOT NULL,
	kind        TEXT NOT NULL,
	party_id    TEXT,
	party_size  INT,
	detail      JSONB,
	occurred_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS bot_events_party_idx ON bot_events (party_id, occurred_at);
`

const insertEventQ = `
	INSERT INTO bot_events (id, bot_id, kind, party_id, party_size, detail, occurred_at)
	VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, 0), $6, $7)
	ON CONFLICT (id) DO NOTHING
`

// Store persists journal records into Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// Connect opens a pool for databaseURL and pings it.
func Connect(ctx context.Context, databaseURL string) (*Store, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse pgx config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create bot_events: %w", err)
	}
	return nil
}

// InsertBatch writes recs in a single transaction. Records already stored
// are skipped.
func (s *Store) InsertBatch(ctx context.Context, recs []journal.Record) error {
	if len(recs) == 0 {
		return nil
	}
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, rec := range recs {
			args, err := insertArgs(rec)
			if err != nil {
				return err
			}
			batch.Queue(insertEventQ, args...)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert bot_events: %w", err)
		}
		return nil
	})
}

// insertArgs maps a record onto insertEventQ's parameters.
func insertArgs(rec journal.Record) ([]any, error) {
	var detail []byte
	if len(rec.Detail) > 0 {
		var err error
		if detail, err = json.Marshal(rec.Detail); err != nil {
			return nil, fmt.Errorf("marshal detail of %s: %w", rec.ID, err)
		}
	}
	return []any{
		rec.ID,
		rec.BotID,
		rec.Kind,
		rec.PartyID,
		rec.PartySize,
		detail,
		time.UnixMilli(rec.Timestamp).UTC(),
	}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}
