package history

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jason-s-yu/lobbybot/internal/journal"
)

// Sink receives flushed batches. *Store is the production Sink.
type Sink interface {
	InsertBatch(ctx context.Context, recs []journal.Record) error
}

// Historian pops journal records from Redis and persists them in batches.
type Historian struct {
	rdb        *redis.Client
	queue      string
	sink       Sink
	batchSize  int
	flushEvery time.Duration
	logger     *logrus.Logger

	mu    sync.Mutex
	batch []journal.Record
}

func NewHistorian(logger *logrus.Logger, rdb *redis.Client, queue string, sink Sink, batchSize int, flushEvery time.Duration) *Historian {
	if batchSize <= 0 {
		batchSize = 1
	}
	if flushEvery <= 0 {
		flushEvery = 500 * time.Millisecond
	}
	return &Historian{
		rdb:        rdb,
		queue:      queue,
		sink:       sink,
		batchSize:  batchSize,
		flushEvery: flushEvery,
		logger:     logger,
		batch:      make([]journal.Record, 0, batchSize),
	}
}

// Run pops and flushes until ctx is done, then flushes what is left.
func (h *Historian) Run(ctx context.Context) error {
	h.logger.WithField("queue", h.queue).Info("lobbybot-historian service started")
	defer h.logger.Info("lobbybot-historian shutting down")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.popLoop(gctx) })
	g.Go(func() error { return h.flushLoop(gctx) })
	err := g.Wait()

	final, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if ferr := h.Flush(final); ferr != nil {
		h.logger.WithError(ferr).Error("final flush failed")
	}
	return err
}

func (h *Historian) popLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		// BLPop with a timeout so cancellation is noticed.
		res, err := h.rdb.BLPop(ctx, 3*time.Second, h.queue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			h.logger.WithError(err).Error("BLPop failed")
			time.Sleep(time.Second)
			continue
		}
		if len(res) < 2 {
			continue
		}

		// res[0] is the queue name and res[1] the payload.
		rec, err := journal.Decode([]byte(res[1]))
		if err != nil {
			h.logger.WithError(err).Warn("invalid journal record")
			continue
		}
		if err := h.Add(ctx, rec); err != nil {
			h.logger.WithError(err).Error("flush failed")
		}
	}
}

func (h *Historian) flushLoop(ctx context.Context) error {
	ticker := time.NewTicker(h.flushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := h.Flush(ctx); err != nil {
				h.logger.WithError(err).Error("flush failed")
			}
		}
	}
}

// Add appends rec and flushes once the batch is full.
func (h *Historian) Add(ctx context.Context, rec journal.Record) error {
	h.mu.Lock()
	h.batch = append(h.batch, rec)
	full := len(h.batch) >= h.batchSize
	h.mu.Unlock()

	if full {
		return h.Flush(ctx)
	}
	return nil
}

// Flush writes the pending batch. On failure the records are put back so
// the next flush retries them.
func (h *Historian) Flush(ctx context.Context) error {
	h.mu.Lock()
	if len(h.batch) == 0 {
		h.mu.Unlock()
		return nil
	}
	pending := h.batch
	h.batch = make([]journal.Record, 0, h.batchSize)
	h.mu.Unlock()

	if err := h.sink.InsertBatch(ctx, pending); err != nil {
		h.mu.Lock()
		h.batch = append(pending, h.batch...)
		h.mu.Unlock()
		return err
	}

	h.logger.Debugf("Flushed %d records to DB", len(pending))
	return nil
}

// Pending returns the number of records waiting for a flush.
func (h *Historian) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.batch)
}
