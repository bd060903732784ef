package engine

import (
	"time"

	"github.com/google/uuid"
)

// StepType identifies the kind of turn step.
type StepType string

const (
	StepContext    StepType = "context"
	StepPrompt     StepType = "prompt"
	StepOracle     StepType = "oracle_attempt"
	StepFallback   StepType = "fallback"
	StepValidation StepType = "validation"
	StepPersist    StepType = "persist"
	StepTransition StepType = "transition"
)

// Trace records what happened during one turn.
type Trace struct {
	ID        string        `json:"id"`
	SessionID string        `json:"session_id"`
	Steps     []Step        `json:"steps"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Step is a single entry in a turn trace.
type Step struct {
	Type      StepType    `json:"type"`
	Content   string      `json:"content"`
	Detail    interface{} `json:"detail,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Tokens    int         `json:"tokens,omitempty"`
}

func newTrace(sessionID string) *Trace {
	return &Trace{ID: uuid.New().String(), SessionID: sessionID, StartedAt: time.Now()}
}

func (t *Trace) add(typ StepType, content string, detail interface{}) {
	t.Steps = append(t.Steps, Step{Type: typ, Content: content, Detail: detail, Timestamp: time.Now()})
}

func (t *Trace) finish() { t.Duration = time.Since(t.StartedAt) }
