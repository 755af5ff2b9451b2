// Package historian drains the match-action queue into durable storage and
// marks matches abandoned once their actions stop arriving.
package historian

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/gameroom/internal/database"
	"github.com/jason-s-yu/gameroom/internal/models"
)

const finalFlushTimeout = 5 * time.Second

// Queue is the blocking pop the service reads from.
type Queue interface {
	BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
}

// Sink persists actions. Both user stores implement it.
type Sink interface {
	InsertMatchActions(ctx context.Context, actions []models.MatchAction) error
	MarkAbandoned(ctx context.Context, matchID uuid.UUID) (bool, error)
}

// Options tunes the service. Zero values take the defaults.
type Options struct {
	Queue         string
	BatchSize     int
	FlushDelay    time.Duration
	Inactivity    time.Duration
	PopTimeout    time.Duration
	SweepInterval time.Duration
	Logger        *logrus.Logger
	Now           func() time.Time
}

func (o *Options) defaults() {
	if o.Queue == "" {
		o.Queue = "gameroom_actions"
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 20
	}
	if o.FlushDelay <= 0 {
		o.FlushDelay = 500 * time.Millisecond
	}
	if o.Inactivity <= 0 {
		o.Inactivity = 10 * time.Minute
	}
	if o.PopTimeout <= 0 {
		o.PopTimeout = 3 * time.Second
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = time.Minute
	}
	if o.Logger == nil {
		o.Logger = logrus.New()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Service batches queued actions into the sink.
type Service struct {
	queue  Queue
	sink   Sink
	opts   Options
	logger *logrus.Entry

	// lastActivity maps a live match id to the time its latest action arrived.
	lastActivity sync.Map

	// flushMu orders flushes so batches reach the sink in queue order.
	flushMu sync.Mutex
	batchMu sync.Mutex
	batch   []models.MatchAction
}

// New builds a service reading q and writing sink.
func New(q Queue, sink Sink, opts Options) *Service {
	opts.defaults()
	return &Service{
		queue:  q,
		sink:   sink,
		opts:   opts,
		logger: opts.Logger.WithField("component", "historian"),
		batch:  make([]models.MatchAction, 0, opts.BatchSize),
	}
}

// Run consumes the queue until ctx is done, then flushes what is buffered.
func (s *Service) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.inactivityLoop(ctx)
	}()

	s.logger.WithField("queue", s.opts.Queue).Info("historian started")
	s.readLoop(ctx)
	wg.Wait()

	flushCtx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
	defer cancel()
	s.Flush(flushCtx)
	s.logger.Info("historian stopped")
}

func (s *Service) readLoop(ctx context.Context) {
	ticker := time.NewTicker(s.opts.FlushDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Flush(ctx)
		default:
		}

		res, err := s.queue.BLPop(ctx, s.opts.PopTimeout, s.opts.Queue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			s.logger.WithError(err).Error("BLPop failed")
			select {
			case <-ctx.Done():
			case <-time.After(s.opts.PopTimeout):
			}
			continue
		}
		// res[0] is the queue name and res[1] the payload.
		if len(res) < 2 {
			continue
		}
		var action models.MatchAction
		if err := json.Unmarshal([]byte(res[1]), &action); err != nil {
			s.logger.WithError(err).Warn("dropping invalid action record")
			continue
		}
		s.Record(ctx, action)
	}
}

// Record tracks the action's match and adds it to the batch, flushing when
// the batch is full.
func (s *Service) Record(ctx context.Context, action models.MatchAction) {
	switch database.StatusAfter(action.ActionType) {
	case database.StatusCompleted, database.StatusCancelled:
		s.lastActivity.Delete(action.MatchID)
	default:
		s.lastActivity.Store(action.MatchID, s.opts.Now())
	}

	s.batchMu.Lock()
	s.batch = append(s.batch, action)
	full := len(s.batch) >= s.opts.BatchSize
	s.batchMu.Unlock()

	if full {
		s.Flush(ctx)
	}
}

// Flush writes the buffered batch in one call to the sink. A failed batch is
// logged and dropped.
func (s *Service) Flush(ctx context.Context) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.batchMu.Lock()
	if len(s.batch) == 0 {
		s.batchMu.Unlock()
		return
	}
	pending := make([]models.MatchAction, len(s.batch))
	copy(pending, s.batch)
	s.batch = s.batch[:0]
	s.batchMu.Unlock()

	if err := s.sink.InsertMatchActions(ctx, pending); err != nil {
		s.logger.WithError(err).WithField("count", len(pending)).Error("failed to flush actions")
		return
	}
	s.logger.Debugf("flushed %d actions", len(pending))
}

func (s *Service) inactivityLoop(ctx context.Context) {
	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep marks every tracked match idle for longer than the inactivity
// threshold as abandoned and stops tracking it.
func (s *Service) Sweep(ctx context.Context) {
	now := s.opts.Now()
	s.lastActivity.Range(func(key, val any) bool {
		matchID, ok1 := key.(uuid.UUID)
		last, ok2 := val.(time.Time)
		if !ok1 || !ok2 || now.Sub(last) <= s.opts.Inactivity {
			return true
		}
		// Pending actions for the match must land before its status changes.
		s.Flush(ctx)
		marked, err := s.sink.MarkAbandoned(ctx, matchID)
		if err != nil {
			s.logger.WithError(err).WithField("match", matchID).Error("failed to mark match abandoned")
			return true
		}
		s.lastActivity.Delete(matchID)
		if marked {
			s.logger.WithField("match", matchID).Info("marked match abandoned after inactivity")
		}
		return true
	})
}
