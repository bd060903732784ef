package tutor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type result struct {
	resp *Response
	err  error
}

type job struct {
	ctx  context.Context
	fn   func(ctx context.Context) (*Response, error)
	done chan result
}

// worker owns one session. pending counts jobs handed out by submit that the
// worker has not finished yet; it is guarded by Service.mu.
type worker struct {
	id      string
	jobs    chan job
	pending int
}

// submit queues fn on the session's worker, starting one if needed, and
// waits for its result.
func (s *Service) submit(ctx context.Context, sessionID string, fn func(ctx context.Context) (*Response, error)) (*Response, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	w, ok := s.workers[sessionID]
	if !ok {
		w = &worker{id: sessionID, jobs: make(chan job, s.cfg.QueueSize)}
		s.workers[sessionID] = w
		s.wg.Add(1)
		go s.run(w)
	}
	w.pending++
	s.mu.Unlock()

	j := job{ctx: ctx, fn: fn, done: make(chan result, 1)}
	select {
	case w.jobs <- j:
	case <-ctx.Done():
		s.release(w)
		return nil, ctx.Err()
	case <-s.quit:
		return nil, ErrClosed
	}

	select {
	case r := <-j.done:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.quit:
		// The worker may still be finishing this job; Close waits for it.
		select {
		case r := <-j.done:
			return r.resp, r.err
		default:
			return nil, ErrClosed
		}
	}
}

func (s *Service) release(w *worker) {
	s.mu.Lock()
	w.pending--
	s.mu.Unlock()
}

func (s *Service) run(w *worker) {
	defer s.wg.Done()
	idle := time.NewTimer(s.cfg.WorkerIdle)
	defer idle.Stop()

	for {
		select {
		case j := <-w.jobs:
			j.done <- s.execute(w, j)
			s.release(w)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(s.cfg.WorkerIdle)
		case <-idle.C:
			s.mu.Lock()
			if w.pending == 0 {
				delete(s.workers, w.id)
				s.mu.Unlock()
				s.logger.Debug("Session worker idle, exiting", zap.String("session", w.id))
				return
			}
			s.mu.Unlock()
			idle.Reset(s.cfg.WorkerIdle)
		case <-s.quit:
			return
		}
	}
}

func (s *Service) execute(w *worker, j job) (r result) {
	if err := j.ctx.Err(); err != nil {
		return result{err: err}
	}
	if err := s.sem.Acquire(j.ctx, 1); err != nil {
		return result{err: err}
	}
	defer s.sem.Release(1)

	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("Turn panicked", zap.String("session", w.id), zap.Any("panic", p))
			r = result{err: fmt.Errorf("turn panicked: %v", p)}
		}
	}()
	// Once started, a turn commits even if the caller stops waiting.
	resp, err := j.fn(context.WithoutCancel(j.ctx))
	return result{resp: resp, err: err}
}
