// Package oracletest provides a deterministic oracle for tests.
package oracletest

import (
	"context"
	"errors"
	"sync"

	"github.com/nidhogg/nuka-tutor/internal/oracle"
)

// ErrScriptExhausted is returned once every scripted reply was consumed.
var ErrScriptExhausted = errors.New("oracletest: script exhausted")

// Reply is one scripted answer. A non-nil Err is returned instead of Text.
type Reply struct {
	Text string
	Err  error
}

// Scripted replays replies in order and records every request it saw.
type Scripted struct {
	mu       sync.Mutex
	replies  []Reply
	fallback *Reply
	requests []oracle.Request
}

// New creates a Scripted oracle answering with replies in order.
func New(replies ...Reply) *Scripted {
	return &Scripted{replies: replies}
}

// Text is a shorthand for successful replies.
func Text(texts ...string) *Scripted {
	replies := make([]Reply, len(texts))
	for i, t := range texts {
		replies[i] = Reply{Text: t}
	}
	return New(replies...)
}

// Failing returns an oracle whose every call fails with err.
func Failing(err error) *Scripted {
	s := New()
	s.fallback = &Reply{Err: err}
	return s
}

// Always answers every call with text once the script runs out.
func (s *Scripted) Always(text string) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = &Reply{Text: text}
	return s
}

// Complete implements oracle.Oracle.
func (s *Scripted) Complete(ctx context.Context, req oracle.Request) (string, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	var r Reply
	switch {
	case len(s.replies) > 0:
		r = s.replies[0]
		s.replies = s.replies[1:]
	case s.fallback != nil:
		r = *s.fallback
	default:
		r = Reply{Err: ErrScriptExhausted}
	}
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if r.Err != nil {
		return "", r.Err
	}
	if req.OnChunk != nil && r.Text != "" {
		req.OnChunk(r.Text)
	}
	return r.Text, nil
}

// Requests returns a copy of every request received so far.
func (s *Scripted) Requests() []oracle.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]oracle.Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Calls returns the number of requests received.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}
