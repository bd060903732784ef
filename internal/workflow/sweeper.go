package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/nidhogg/nuka-tutor/internal/knowledge"
	"go.uber.org/zap"
)

// Notifier is told about application events that just became due.
type Notifier interface {
	FollowupDue(ctx context.Context, app knowledge.ApplicationEvent) error
}

// Sweeper periodically promotes elapsed application events for every
// learner and notifies about them.
type Sweeper struct {
	wf       *Workflows
	notifier Notifier
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	lastTick time.Time
}

// NewSweeper creates a sweeper. notifier may be nil.
func NewSweeper(wf *Workflows, notifier Notifier, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Sweeper{wf: wf, notifier: notifier, interval: interval, timeout: 30 * time.Second, logger: logger}
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			s.mu.Lock()
			s.lastTick = t
			s.mu.Unlock()
			s.SweepNow(ctx)
		}
	}
}

// LastTick returns when the sweeper last fired.
func (s *Sweeper) LastTick() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTick
}

// SweepNow runs one sweep immediately and returns how many events were
// promoted.
func (s *Sweeper) SweepNow(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ids, err := s.wf.store.ListLearnerIDs(ctx)
	if err != nil {
		s.logger.Warn("followup sweep: list learners failed", zap.Error(err))
		return 0
	}

	promoted := 0
	for _, id := range ids {
		apps, err := s.wf.PromoteDue(ctx, id)
		promoted += len(apps)
		if err != nil {
			s.logger.Warn("followup sweep failed",
				zap.String("learner", id),
				zap.Error(err))
		}
		for _, a := range apps {
			if s.notifier == nil {
				continue
			}
			if err := s.notifier.FollowupDue(ctx, a); err != nil {
				s.logger.Warn("followup notification failed",
					zap.String("application", a.ID),
					zap.Error(err))
			}
		}
	}
	if promoted > 0 {
		s.logger.Info("followup sweep", zap.Int("promoted", promoted))
	}
	return promoted
}
