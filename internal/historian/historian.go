// internal/historian/historian.go pops archived battle events from a Redis
// list and persists them in batches.
package historian

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jason-s-yu/voicebattle/internal/cache"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Sink stores a batch of records atomically.
type Sink interface {
	InsertBattleEvents(ctx context.Context, records []cache.BattleEventRecord) error
}

// Options tunes batching. Zero values pick the defaults.
type Options struct {
	Queue      string
	BatchSize  int
	FlushDelay time.Duration
	PopTimeout time.Duration
	// MaxPending bounds the records held while the sink is failing; the
	// oldest are dropped first.
	MaxPending int
}

// Service drains the queue into the Sink.
type Service struct {
	rdb        redis.UniversalClient
	sink       Sink
	queue      string
	batchSize  int
	flushDelay time.Duration
	popTimeout time.Duration
	maxPending int
	log        logrus.FieldLogger

	batchMu sync.Mutex
	batch   []cache.BattleEventRecord
	failing bool
	dropped int
}

// NewService builds a Service.
func NewService(rdb redis.UniversalClient, sink Sink, opts Options, logger logrus.FieldLogger) *Service {
	if opts.Queue == "" {
		opts.Queue = cache.DefaultQueueName
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if opts.FlushDelay <= 0 {
		opts.FlushDelay = 500 * time.Millisecond
	}
	if opts.PopTimeout < time.Second {
		opts.PopTimeout = time.Second
	}
	if opts.MaxPending < opts.BatchSize {
		opts.MaxPending = opts.BatchSize * 50
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{
		rdb:        rdb,
		sink:       sink,
		queue:      opts.Queue,
		batchSize:  opts.BatchSize,
		flushDelay: opts.FlushDelay,
		popTimeout: opts.PopTimeout,
		maxPending: opts.MaxPending,
		log:        logger,
		batch:      make([]cache.BattleEventRecord, 0, opts.BatchSize),
	}
}

// Run pops records until ctx is cancelled, then flushes what is left.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.flushDelay)
	defer ticker.Stop()
	defer s.Flush(context.Background())

	s.log.WithField("queue", s.queue).Info("historian started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info("historian shutting down")
			return
		case <-ticker.C:
			s.Flush(ctx)
		default:
			res, err := s.rdb.BLPop(ctx, s.popTimeout, s.queue).Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
					s.log.WithError(err).Error("BLPop failed")
					time.Sleep(s.flushDelay)
				}
				continue
			}
			// res[0] is the queue name and res[1] the payload.
			if len(res) < 2 {
				continue
			}
			var record cache.BattleEventRecord
			if err := json.Unmarshal([]byte(res[1]), &record); err != nil {
				s.log.WithError(err).Warn("invalid battle event record")
				continue
			}
			s.append(ctx, record)
		}
	}
}

// append queues record. While the sink is failing, retries are left to the
// flush ticker and the oldest records are dropped beyond maxPending.
func (s *Service) append(ctx context.Context, record cache.BattleEventRecord) {
	s.batchMu.Lock()
	if over := len(s.batch) + 1 - s.maxPending; over > 0 {
		copy(s.batch, s.batch[over:])
		s.batch = s.batch[:len(s.batch)-over]
		s.dropped += over
		s.log.WithFields(logrus.Fields{"dropped": over, "dropped_total": s.dropped}).
			Warn("historian backlog full, dropping oldest battle events")
	}
	s.batch = append(s.batch, record)
	full := len(s.batch) >= s.batchSize && !s.failing
	s.batchMu.Unlock()
	if full {
		s.Flush(ctx)
	}
}

// Flush writes the pending batch. On failure the records are kept for the next flush.
func (s *Service) Flush(ctx context.Context) {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()
	if len(s.batch) == 0 {
		return
	}
	batchCopy := make([]cache.BattleEventRecord, len(s.batch))
	copy(batchCopy, s.batch)

	if err := s.sink.InsertBattleEvents(ctx, batchCopy); err != nil {
		s.failing = true
		s.log.WithError(err).WithField("records", len(batchCopy)).Error("flush failed")
		return
	}
	s.failing = false
	s.batch = s.batch[:0]
	s.log.Debugf("flushed %d battle events", len(batchCopy))
}

// Dropped is the number of records discarded because the backlog was full.
func (s *Service) Dropped() int {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()
	return s.dropped
}

// Pending is the number of records waiting to be flushed.
func (s *Service) Pending() int {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()
	return len(s.batch)
}
