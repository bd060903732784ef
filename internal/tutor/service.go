// Package tutor runs the per-turn pipeline: normalize the input, extract an
// intent when needed, merge with pending data, decide, and hand complete
// requests to the conversation engine. Turns of one session run on a single
// worker goroutine so they are processed strictly in arrival order.
package tutor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nidhogg/nuka-tutor/internal/engine"
	"github.com/nidhogg/nuka-tutor/internal/input"
	"github.com/nidhogg/nuka-tutor/internal/intent"
	"github.com/nidhogg/nuka-tutor/internal/knowledge"
	"github.com/nidhogg/nuka-tutor/internal/orchestrator"
	"github.com/nidhogg/nuka-tutor/internal/sessionstate"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// ErrClosed is returned by every call after Close.
var ErrClosed = errors.New("tutor: service closed")

// Indexer receives application events touched by a turn.
type Indexer interface {
	IndexApplications(ctx context.Context, apps ...knowledge.ApplicationEvent) error
}

// Config tunes the worker pool.
type Config struct {
	// MaxConcurrentTurns bounds turns in flight across all sessions.
	MaxConcurrentTurns int64 `json:"max_concurrent_turns" yaml:"max_concurrent_turns"`
	// QueueSize is the per-session backlog before callers block.
	QueueSize int `json:"queue_size" yaml:"queue_size"`
	// WorkerIdle is how long a session worker lingers without turns.
	WorkerIdle time.Duration `json:"worker_idle" yaml:"worker_idle"`
}

// DefaultConfig returns the standard pool settings.
func DefaultConfig() Config {
	return Config{MaxConcurrentTurns: 16, QueueSize: 8, WorkerIdle: 10 * time.Minute}
}

// Service is the entry point for every transport.
type Service struct {
	engine    *engine.Engine
	extractor *intent.Extractor
	orch      *orchestrator.Orchestrator
	state     *sessionstate.Manager
	indexer   Indexer
	cfg       Config
	logger    *zap.Logger
	sem       *semaphore.Weighted

	mu      sync.Mutex
	workers map[string]*worker
	closed  bool
	quit    chan struct{}
	wg      sync.WaitGroup
}

// New creates a Service. indexer may be nil.
func New(eng *engine.Engine, extractor *intent.Extractor, orch *orchestrator.Orchestrator,
	state *sessionstate.Manager, indexer Indexer, cfg Config, logger *zap.Logger) *Service {
	def := DefaultConfig()
	if cfg.MaxConcurrentTurns <= 0 {
		cfg.MaxConcurrentTurns = def.MaxConcurrentTurns
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.WorkerIdle <= 0 {
		cfg.WorkerIdle = def.WorkerIdle
	}
	return &Service{
		engine:    eng,
		extractor: extractor,
		orch:      orch,
		state:     state,
		indexer:   indexer,
		cfg:       cfg,
		logger:    logger,
		sem:       semaphore.NewWeighted(cfg.MaxConcurrentTurns),
		workers:   make(map[string]*worker),
		quit:      make(chan struct{}),
	}
}

// State exposes the unified session state manager.
func (s *Service) State() *sessionstate.Manager { return s.state }

// Engine exposes the conversation engine.
func (s *Service) Engine() *engine.Engine { return s.engine }

// StartSession opens a session and records the learner's modality.
func (s *Service) StartSession(ctx context.Context, learnerID, outcomeID string, modality input.Modality) (*engine.Status, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	st, err := s.engine.StartSession(ctx, learnerID, outcomeID)
	if err != nil {
		return nil, err
	}
	if modality != "" {
		s.state.SetModality(ctx, st.SessionID, modality)
	}
	s.logger.Info("Session started",
		zap.String("session", st.SessionID),
		zap.String("learner", learnerID),
		zap.String("modality", string(modality)))
	return st, nil
}

// EndSession closes a session after any queued turns have run.
func (s *Service) EndSession(ctx context.Context, sessionID string, state knowledge.EndingState) (*knowledge.Session, error) {
	var ended *knowledge.Session
	_, err := s.submit(ctx, sessionID, func(ctx context.Context) (*Response, error) {
		var err error
		ended, err = s.engine.EndSession(ctx, sessionID, state)
		return nil, err
	})
	return ended, err
}

// HandleTurn runs one turn on the session's worker.
func (s *Service) HandleTurn(ctx context.Context, req Request) (*Response, error) {
	return s.submit(ctx, req.SessionID, func(ctx context.Context) (*Response, error) {
		return s.handle(ctx, req)
	})
}

// Status returns the engine's view of a session.
func (s *Service) Status(ctx context.Context, sessionID string) (*engine.Status, error) {
	return s.engine.Status(ctx, sessionID)
}

// Close stops every worker. Queued turns that have not started fail with
// ErrClosed; Close waits for running turns to finish.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.quit)
	s.mu.Unlock()
	s.wg.Wait()
	s.logger.Info("Tutor service stopped")
}

func (s *Service) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
