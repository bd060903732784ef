// Package engine runs the conversation turn loop: context, prompt, oracle
// with retries and fallback, persistence, then the mode transition.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nidhogg/nuka-tutor/internal/knowledge"
	"github.com/nidhogg/nuka-tutor/internal/learnctx"
	"github.com/nidhogg/nuka-tutor/internal/mode"
	"github.com/nidhogg/nuka-tutor/internal/oracle"
	"github.com/nidhogg/nuka-tutor/internal/persist"
	"github.com/nidhogg/nuka-tutor/internal/workflow"
	"go.uber.org/zap"
)

// ErrSessionEnded is returned for turns on, or a second end of, an ended session.
var ErrSessionEnded = errors.New("session already ended")

// Config tunes the turn loop.
type Config struct {
	MaxRetries        int           `json:"max_retries" yaml:"max_retries"`
	CallTimeout       time.Duration `json:"call_timeout" yaml:"call_timeout"`
	MaxTokens         int           `json:"max_tokens" yaml:"max_tokens"`
	Temperature       float64       `json:"temperature" yaml:"temperature"`
	PromptTokenBudget int           `json:"prompt_token_budget" yaml:"prompt_token_budget"`
}

// DefaultConfig returns the standard turn loop settings.
func DefaultConfig() Config {
	return Config{
		MaxRetries:        2,
		CallTimeout:       30 * time.Second,
		MaxTokens:         1024,
		Temperature:       0.7,
		PromptTokenBudget: 6000,
	}
}

// Conversation is the engine's live state for one session.
type Conversation struct {
	mu             sync.Mutex
	mode           mode.Mode
	currentConcept string
	full           *learnctx.FullContext
}

// Status is a snapshot of a conversation.
type Status struct {
	SessionID      string    `json:"session_id"`
	LearnerID      string    `json:"learner_id"`
	Mode           mode.Mode `json:"mode"`
	CurrentConcept string    `json:"current_concept,omitempty"`
	OutcomeID      string    `json:"outcome_id,omitempty"`
	Messages       int       `json:"messages"`
	Followups      int       `json:"pending_followups"`
}

// TransitionResult describes a mode change applied at the end of a turn.
type TransitionResult struct {
	From    mode.Mode `json:"from"`
	To      mode.Mode `json:"to"`
	InTable bool      `json:"in_table"`
	Reason  string    `json:"reason,omitempty"`
}

// TurnInput is one learner turn: the text plus whatever structured data the
// input layer collected for it.
type TurnInput struct {
	Text   string
	Intent string
	Data   map[string]any
}

// TurnResult is everything a turn produced.
type TurnResult struct {
	Message    string            `json:"message"`
	Mode       mode.Mode         `json:"mode"`
	Transition *TransitionResult `json:"transition,omitempty"`
	Answer     *Answer           `json:"answer"`
	Commit     *persist.Result   `json:"-"`
	Warnings   []string          `json:"warnings,omitempty"`
	Fallback   bool              `json:"fallback,omitempty"`
	Trace      *Trace            `json:"trace"`
}

// Engine drives conversations for many sessions.
type Engine struct {
	store     knowledge.Store
	oracle    oracle.Oracle
	loader    *learnctx.Loader
	builder   *learnctx.Builder
	committer *persist.Committer
	wf        *workflow.Workflows
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time

	mu    sync.RWMutex
	convs map[string]*Conversation
}

// New creates an Engine.
func New(store knowledge.Store, o oracle.Oracle, builder *learnctx.Builder, cfg Config, logger *zap.Logger) *Engine {
	def := DefaultConfig()
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.PromptTokenBudget <= 0 {
		cfg.PromptTokenBudget = def.PromptTokenBudget
	}
	wf := workflow.New(store, logger)
	return &Engine{
		store:     store,
		oracle:    o,
		loader:    learnctx.NewLoader(store, logger),
		builder:   builder,
		committer: persist.NewCommitter(store, wf, logger),
		wf:        wf,
		cfg:       cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		convs:     make(map[string]*Conversation),
	}
}

// Workflows exposes the engine's workflows for background jobs.
func (e *Engine) Workflows() *workflow.Workflows { return e.wf }

// StartSession opens a session for a learner and loads its full context.
// outcomeID may be empty to use the learner's active outcome.
func (e *Engine) StartSession(ctx context.Context, learnerID, outcomeID string) (*Status, error) {
	learner, err := e.store.GetLearner(ctx, learnerID)
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	if outcomeID == "" {
		outcomeID = learner.ActiveOutcomeID
	}
	s := &knowledge.Session{
		LearnerID: learnerID,
		OutcomeID: outcomeID,
		StartedAt: e.now(),
	}
	if err := e.store.CreateSession(ctx, s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	conv, err := e.open(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	e.logger.Info("session started", zap.String("session", s.ID), zap.String("learner", learnerID))
	return conv.status(), nil
}

// open loads a conversation for sessionID, reusing a live one.
func (e *Engine) open(ctx context.Context, sessionID string) (*Conversation, error) {
	e.mu.RLock()
	conv, ok := e.convs[sessionID]
	e.mu.RUnlock()
	if ok {
		return conv, nil
	}

	fc, err := e.loader.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if fc.Session.Ended() {
		return nil, ErrSessionEnded
	}
	conv = &Conversation{mode: mode.Initial(), full: fc}

	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, ok := e.convs[sessionID]; ok {
		return existing, nil
	}
	e.convs[sessionID] = conv
	return conv, nil
}

// Status returns the live state of a session, loading it if needed.
func (e *Engine) Status(ctx context.Context, sessionID string) (*Status, error) {
	conv, err := e.open(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	conv.mu.Lock()
	defer conv.mu.Unlock()
	return conv.status(), nil
}

func (c *Conversation) status() *Status {
	return &Status{
		SessionID:      c.full.Session.ID,
		LearnerID:      c.full.Learner.ID,
		Mode:           c.mode,
		CurrentConcept: c.currentConcept,
		OutcomeID:      c.full.Session.OutcomeID,
		Messages:       len(c.full.Session.Messages),
		Followups:      len(c.full.PendingFollowups),
	}
}

func (c *Conversation) modeContext() mode.Context {
	return mode.Context{
		HasPendingFollowups: len(c.full.PendingFollowups) > 0,
		HasActiveOutcome:    c.full.ActiveOutcome != nil,
	}
}

// CompleteCheckIn stores the check-in as the session context and moves the
// conversation to the post-check-in mode.
func (e *Engine) CompleteCheckIn(ctx context.Context, sessionID string, sc knowledge.SessionContext) (mode.Mode, error) {
	conv, err := e.open(ctx, sessionID)
	if err != nil {
		return "", err
	}
	conv.mu.Lock()
	defer conv.mu.Unlock()

	session := *conv.full.Session.Clone()
	session.Context = sc
	if err := e.store.UpdateSession(ctx, &session); err != nil {
		return conv.mode, fmt.Errorf("store check-in: %w", err)
	}
	conv.full.Session = session

	next := mode.PostCheckIn(conv.modeContext())
	if conv.mode != mode.CheckIn {
		e.logger.Warn("check-in completed outside check_in mode",
			zap.String("session", sessionID),
			zap.String("mode", string(conv.mode)))
	}
	e.logger.Info("check-in complete",
		zap.String("session", sessionID),
		zap.String("next", string(next)),
		zap.Int("energy", sc.EnergyLevel))
	conv.mode = next
	if next == mode.Followup && len(conv.full.PendingFollowups) > 0 {
		conv.currentConcept = ""
	}
	return next, nil
}

// EndSession closes a session exactly once and links every explored concept
// to it with explored_in.
func (e *Engine) EndSession(ctx context.Context, sessionID string, state knowledge.EndingState) (*knowledge.Session, error) {
	s, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("end session: %w", err)
	}
	if s.Ended() {
		return nil, ErrSessionEnded
	}

	e.mu.Lock()
	conv, live := e.convs[sessionID]
	delete(e.convs, sessionID)
	e.mu.Unlock()
	if live {
		conv.mu.Lock()
		defer conv.mu.Unlock()
		s = conv.full.Session.Clone()
	}

	if state == knowledge.EndingNone {
		state = knowledge.EndingNatural
	}
	now := e.now()
	s.EndedAt = &now
	s.EndingState = state

	for _, cid := range s.ConceptsExplored {
		if err := e.store.CreateEdge(ctx, &knowledge.Edge{
			FromID:    cid,
			FromType:  knowledge.NodeConcept,
			ToID:      s.ID,
			ToType:    knowledge.NodeSession,
			Type:      knowledge.EdgeExploredIn,
			CreatedAt: now,
		}); err != nil {
			return nil, fmt.Errorf("link explored concept %s: %w", cid, err)
		}
	}
	if err := e.store.UpdateSession(ctx, s); err != nil {
		return nil, fmt.Errorf("end session: %w", err)
	}
	if live {
		conv.full.Session = *s.Clone()
	}
	e.logger.Info("session ended",
		zap.String("session", sessionID),
		zap.String("state", string(state)),
		zap.Int("concepts", len(s.ConceptsExplored)),
		zap.Int("proofs", len(s.ProofsEarned)))
	return s, nil
}

// ProcessTurn runs one learner turn through the turn loop. onChunk, when
// set, receives partial oracle output. Oracle failures never surface as
// errors; a persistence failure does, and leaves the mode unchanged.
func (e *Engine) ProcessTurn(ctx context.Context, sessionID string, in TurnInput, onChunk func(string)) (*TurnResult, error) {
	conv, err := e.open(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	conv.mu.Lock()
	defer conv.mu.Unlock()
	if conv.full.Session.Ended() {
		return nil, ErrSessionEnded
	}

	trace := newTrace(sessionID)
	defer trace.finish()
	userAt := e.now()

	tc := e.builder.Build(ctx, conv.full, conv.mode, conv.currentConcept)
	trace.add(StepContext, fmt.Sprintf("mode %s, %d proven, %d hints", conv.mode, len(tc.ProvenConcepts), len(tc.Hints)), nil)

	prompt := BuildPrompt(tc, in)
	if freed := prompt.fit(e.cfg.PromptTokenBudget, e.logger); freed > 0 {
		trace.add(StepPrompt, fmt.Sprintf("trimmed %d tokens", freed), nil)
	}
	trace.Steps = append(trace.Steps, Step{Type: StepPrompt, Content: "prompt built", Timestamp: time.Now(), Tokens: prompt.Tokens})
	e.logger.Debug("turn prompt", zap.String("session", sessionID), zap.Int("tokens", prompt.Tokens))

	answer := e.ask(ctx, prompt, onChunk, trace, conv.mode)

	warnings := Validate(answer, conv.mode, conv.full)
	for _, w := range warnings {
		e.logger.Warn("answer inconsistent with mode",
			zap.String("session", sessionID),
			zap.String("mode", string(conv.mode)),
			zap.String("warning", w))
	}
	if len(warnings) > 0 {
		trace.add(StepValidation, fmt.Sprintf("%d warning(s)", len(warnings)), warnings)
	}

	effects, effectWarnings := answer.effects(conv.full.Session.Context)
	warnings = append(warnings, effectWarnings...)

	next, transition := e.proposedMode(conv, answer)
	if next == mode.Teaching {
		if ref := teachingRef(answer); ref != "" {
			effects.TeachingConcept = ref
		} else if conv.currentConcept != "" {
			effects.TeachingConcept = conv.currentConcept
		}
	}

	commit, err := e.committer.Commit(ctx, conv.full, persist.Turn{
		User:      knowledge.Message{Role: "user", Content: in.Text, Mode: string(conv.mode), Timestamp: userAt},
		Assistant: knowledge.Message{Role: "assistant", Content: answer.Message, Mode: string(conv.mode), Timestamp: e.now()},
		Effects:   effects,
	})
	if err != nil {
		trace.add(StepPersist, "persistence failed", err.Error())
		e.logger.Error("turn persistence failed", zap.String("session", sessionID), zap.Error(err))
		return nil, fmt.Errorf("persist turn: %w", err)
	}
	warnings = append(warnings, commit.Warnings...)
	trace.add(StepPersist, fmt.Sprintf("%d gap(s), %d proof(s), %d connection(s), %d application(s)",
		len(commit.Gaps), len(commit.Proofs), len(commit.Connections), len(commit.Applications)), nil)

	e.updateFocus(conv, answer, commit)
	if next == "" && conv.mode == mode.Followup && commit.Followup != nil {
		next = mode.PostFollowup(conv.modeContext(), len(commit.Followup.Gaps) > 0)
		transition = &TransitionResult{From: conv.mode, To: next, InTable: mode.IsValidTransition(conv.mode, next), Reason: "follow-up recorded"}
		if next == mode.Teaching && len(commit.Followup.Gaps) > 0 {
			conv.currentConcept = commit.Followup.Gaps[0].Concept.ID
			if c, err := e.wf.MarkTeaching(ctx, conv.currentConcept); err != nil {
				e.logger.Warn("mark teaching failed", zap.String("concept", conv.currentConcept), zap.Error(err))
			} else {
				conv.full.RecordConcept(*c, false)
			}
		}
	}
	if next != "" {
		if !transition.InTable {
			e.logger.Warn("mode transition outside adjacency table",
				zap.String("session", sessionID),
				zap.String("from", string(transition.From)),
				zap.String("to", string(transition.To)))
		}
		conv.mode = next
		if next == mode.Teaching && effects.TeachingConcept != "" {
			if id, ok := findConcept(conv.full, effects.TeachingConcept); ok {
				conv.currentConcept = id
			}
		}
		trace.add(StepTransition, fmt.Sprintf("%s -> %s", transition.From, transition.To), transition)
	}

	return &TurnResult{
		Message:    answer.Message,
		Mode:       conv.mode,
		Transition: transition,
		Answer:     answer,
		Commit:     commit,
		Warnings:   warnings,
		Fallback:   answer.Fallback,
		Trace:      trace,
	}, nil
}

// ask calls the oracle up to MaxRetries times and falls back to a canned
// answer when every attempt fails.
func (e *Engine) ask(ctx context.Context, p *Prompt, onChunk func(string), trace *Trace, m mode.Mode) *Answer {
	req := oracle.Request{
		Purpose:     oracle.PurposeTurn,
		System:      p.System,
		Prompt:      p.Body(),
		SchemaHint:  answerSchema,
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: e.cfg.Temperature,
		OnChunk:     onChunk,
	}

	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		text, err := e.oracle.Complete(callCtx, req)
		cancel()
		if err == nil {
			var a *Answer
			a, err = ParseAnswer(text)
			if err == nil {
				trace.add(StepOracle, fmt.Sprintf("attempt %d ok", attempt), nil)
				return a
			}
		}
		lastErr = err
		trace.add(StepOracle, fmt.Sprintf("attempt %d failed", attempt), err.Error())
		e.logger.Warn("oracle attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		if ctx.Err() != nil {
			break
		}
	}

	a := FallbackAnswer(m, lastErr)
	trace.add(StepFallback, "using fallback answer", a.Failure)
	return a
}

// FallbackAnswer is the deterministic reply used when the oracle is
// unavailable. It proposes no transition and reports nothing.
func FallbackAnswer(m mode.Mode, cause error) *Answer {
	msg, ok := fallbackMessages[m]
	if !ok {
		msg = "Sorry, I lost my train of thought. Could you say that again?"
	}
	failure := "oracle unavailable"
	if cause != nil {
		failure = cause.Error()
	}
	return &Answer{Message: msg, Fallback: true, Failure: failure}
}

var fallbackMessages = map[mode.Mode]string{
	mode.CheckIn:          "Before we start: how much time do you have today, and how is your energy?",
	mode.Followup:         "Last time you planned to try something out. How did it go?",
	mode.OutcomeDiscovery: "What is one thing you would like to be able to do that you can't quite do yet?",
	mode.Framing:          "What would it look like if you could do this well?",
	mode.Probing:          "Walk me through the last time you tried this. Where did it get hard?",
	mode.Teaching:         "Let's slow down. Which part of this feels least clear so far?",
	mode.Verification:     "Could you explain this idea back to me in your own words?",
	mode.OutcomeCheck:     "How confident do you feel about doing this for real now?",
}

// proposedMode resolves the answer's transition. It returns "" when no
// change applies. Out-of-table transitions are allowed.
func (e *Engine) proposedMode(conv *Conversation, a *Answer) (mode.Mode, *TransitionResult) {
	t := a.ModeTransition
	if t == nil || t.To == "" {
		return "", nil
	}
	to, err := mode.Parse(t.To)
	if err != nil || to == conv.mode {
		return "", nil
	}
	return to, &TransitionResult{
		From:    conv.mode,
		To:      to,
		InTable: mode.IsValidTransition(conv.mode, to),
		Reason:  t.Reason,
	}
}

func teachingRef(a *Answer) string {
	if a.ModeTransition != nil && a.ModeTransition.Concept != "" {
		return a.ModeTransition.Concept
	}
	if a.CurrentConcept != "" {
		return a.CurrentConcept
	}
	if a.GapIdentified != nil {
		return a.GapIdentified.Name
	}
	return ""
}

// updateFocus moves the concept in focus after a commit.
func (e *Engine) updateFocus(conv *Conversation, a *Answer, commit *persist.Result) {
	if a.CurrentConcept != "" {
		if id, ok := findConcept(conv.full, a.CurrentConcept); ok {
			conv.currentConcept = id
			return
		}
	}
	if conv.currentConcept == "" && len(commit.Gaps) > 0 {
		conv.currentConcept = commit.Gaps[0].Concept.ID
	}
	if t := a.ModeTransition; t != nil && t.Concept != "" {
		if id, ok := findConcept(conv.full, t.Concept); ok {
			conv.currentConcept = id
		}
	}
}
