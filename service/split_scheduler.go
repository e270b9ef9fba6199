package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vocdoni/shieldpay/log"
	"github.com/vocdoni/shieldpay/splitter"
	"github.com/vocdoni/shieldpay/storage"
	"github.com/vocdoni/shieldpay/types"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultSchedulerInterval is the default polling period of the task
	// queue.
	DefaultSchedulerInterval = 5 * time.Second
	// DefaultForwardConcurrency bounds the parallel forwards.
	DefaultForwardConcurrency = 4
)

// TaskQueue is the durable queue of split forwards.
type TaskQueue interface {
	NextDueSplitTask(now time.Time) (*storage.SplitTask, []byte, error)
	MarkSplitTaskDone(key []byte) error
	ReleaseSplitTask(key []byte) error
}

// Forwarder forwards the parts of split transactions.
type Forwarder interface {
	Get(id string) (*types.SplitTransaction, error)
	ForwardPart(ctx context.Context, tx *types.SplitTransaction, index int) error
	Cleanup(tx *types.SplitTransaction) error
}

// SplitScheduler polls the task queue and forwards the due split parts, a
// bounded number at a time.
type SplitScheduler struct {
	queue     TaskQueue
	forwarder Forwarder
	interval  time.Duration
	limit     int
	now       func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSplitScheduler creates the scheduler.
func NewSplitScheduler(queue TaskQueue, forwarder Forwarder, interval time.Duration, limit int) *SplitScheduler {
	if interval <= 0 {
		interval = DefaultSchedulerInterval
	}
	if limit <= 0 {
		limit = DefaultForwardConcurrency
	}
	return &SplitScheduler{
		queue:     queue,
		forwarder: forwarder,
		interval:  interval,
		limit:     limit,
		now:       time.Now,
	}
}

// Start runs the scheduler in the background.
func (s *SplitScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return fmt.Errorf("service already running")
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			s.poll(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}(s.done)
	log.Infow("split scheduler started", "interval", s.interval.String(), "limit", s.limit)
	return nil
}

// Stop halts the scheduler and waits for the running forwards.
func (s *SplitScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
}

// poll forwards every task due now and waits for them.
func (s *SplitScheduler) poll(ctx context.Context) {
	g := &errgroup.Group{}
	g.SetLimit(s.limit)
	for ctx.Err() == nil {
		task, key, err := s.queue.NextDueSplitTask(s.now())
		if err != nil {
			if !errors.Is(err, storage.ErrNoMoreElements) {
				log.Warnw("failed to read split task queue", "error", err.Error())
			}
			break
		}
		g.Go(func() error {
			s.process(ctx, task, key)
			return nil
		})
	}
	_ = g.Wait()
}

// process forwards one part. Tasks that cannot progress anymore are removed,
// transient failures release the task so it is picked again.
func (s *SplitScheduler) process(ctx context.Context, task *storage.SplitTask, key []byte) {
	tx, err := s.forwarder.Get(task.SplitID)
	if err != nil {
		if errors.Is(err, splitter.ErrSplitNotFound) {
			s.finish(key)
			return
		}
		log.Warnw("failed to load split", "id", task.SplitID, "error", err.Error())
		s.release(key)
		return
	}
	err = s.forwarder.ForwardPart(ctx, tx, task.PartIndex)
	switch {
	case err == nil, errors.Is(err, splitter.ErrInvalidStatus), errors.Is(err, splitter.ErrPartOutOfRange):
		s.finish(key)
	case ctx.Err() != nil:
		s.release(key)
		return
	default:
		// the part is marked failed and keeps its balance until retried
		s.finish(key)
	}
	if tx.Status == types.SplitCompleted {
		if err := s.forwarder.Cleanup(tx); err != nil {
			log.Warnw("failed to clean up split", "id", tx.ID, "error", err.Error())
		}
	}
}

func (s *SplitScheduler) finish(key []byte) {
	if err := s.queue.MarkSplitTaskDone(key); err != nil {
		log.Warnw("failed to remove split task", "error", err.Error())
	}
}

func (s *SplitScheduler) release(key []byte) {
	if err := s.queue.ReleaseSplitTask(key); err != nil {
		log.Warnw("failed to release split task", "error", err.Error())
	}
}
