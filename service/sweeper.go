package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vocdoni/shieldpay/log"
)

// DefaultSweepInterval is the default period of the sweeper.
const DefaultSweepInterval = 10 * time.Second

// Sweepable is anything holding state that expires, like the relay gateway.
type Sweepable interface {
	Sweep()
}

// TaskReservations releases the split task reservations of a stopped
// scheduler.
type TaskReservations interface {
	ClearStaleSplitTaskReservations(maxAge time.Duration) (int, error)
}

// Sweeper periodically purges expired relayer entries and stale
// reservations.
type Sweeper struct {
	gateway  Sweepable
	tasks    TaskReservations
	interval time.Duration
	taskTTL  time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper creates a sweeper. tasks may be nil when the splitter is not
// enabled, taskTTL is the age after which a task reservation is released.
func NewSweeper(gateway Sweepable, tasks TaskReservations, interval, taskTTL time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{gateway: gateway, tasks: tasks, interval: interval, taskTTL: taskTTL}
}

// Start runs the sweeper in the background.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return fmt.Errorf("service already running")
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
	return nil
}

func (s *Sweeper) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	if s.gateway != nil {
		s.gateway.Sweep()
	}
	if s.tasks != nil && s.taskTTL > 0 {
		n, err := s.tasks.ClearStaleSplitTaskReservations(s.taskTTL)
		if err != nil {
			log.Warnw("failed to clear stale split task reservations", "error", err.Error())
		} else if n > 0 {
			log.Infow("released stale split tasks", "count", n)
		}
	}
}

// Stop halts the sweeper and waits for the running sweep.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
}
