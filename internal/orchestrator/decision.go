package orchestrator

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/nidhogg/nuka-tutor/internal/input"
	"github.com/nidhogg/nuka-tutor/internal/intent"
	"github.com/nidhogg/nuka-tutor/internal/oracle"
	"github.com/nidhogg/nuka-tutor/internal/sessionstate"
	"go.uber.org/zap"
)

// Action is what the caller should do with a normalized request.
type Action string

const (
	Process     Action = "process"
	RequestMore Action = "request_more"
)

// PendingStore is the session-keyed table of pending data requests. At most
// one request exists per session.
type PendingStore interface {
	GetPending(ctx context.Context, sessionID string) (*sessionstate.PendingDataRequest, bool)
	PutPending(ctx context.Context, sessionID string, p *sessionstate.PendingDataRequest)
	ClearPending(ctx context.Context, sessionID string)
}

// Decision is the outcome of Decide.
type Decision struct {
	Action   Action                           `json:"action"`
	Strategy OutputStrategy                   `json:"output_strategy"`
	Pending  *sessionstate.PendingDataRequest `json:"pending_request,omitempty"`
	// FollowUp asks the learner for what is missing when Action is RequestMore.
	FollowUp string         `json:"follow_up,omitempty"`
	UI       *UIDescription `json:"ui,omitempty"`
}

// Orchestrator makes the per-turn process/request-more decision. It holds no
// state of its own beyond the injected pending table.
type Orchestrator struct {
	pending PendingStore
	oracle  oracle.Oracle
	timeout time.Duration
	logger  *zap.Logger
}

// New creates an Orchestrator. o may be nil, in which case voice and chat
// follow-ups use the template.
func New(pending PendingStore, o oracle.Oracle, timeout time.Duration, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{pending: pending, oracle: o, timeout: timeout, logger: logger}
}

// Decide evaluates n for sessionID. Incomplete data stores (or replaces) the
// session's pending request; complete data clears it.
func (o *Orchestrator) Decide(ctx context.Context, n input.Normalized, sessionID string) Decision {
	strategy := StrategyFor(n.Intent, n.SourceModality)

	if n.DataComplete {
		if _, ok := o.pending.GetPending(ctx, sessionID); ok {
			o.pending.ClearPending(ctx, sessionID)
			o.logger.Debug("pending request satisfied", zap.String("session", sessionID), zap.Stringer("intent", n.Intent))
		}
		return Decision{Action: Process, Strategy: strategy}
	}

	req := &sessionstate.PendingDataRequest{
		Intent:           n.Intent,
		CollectedData:    maps.Clone(n.Data),
		MissingFields:    slices.Clone(n.MissingFields),
		ValidationErrors: slices.Clone(n.ValidationErrors),
	}
	if req.CollectedData == nil {
		req.CollectedData = map[string]any{}
	}
	o.pending.PutPending(ctx, sessionID, req)

	var followUp string
	if n.SourceModality == input.Form {
		followUp = FormFollowUp(req)
	} else {
		followUp = o.conversationalFollowUp(ctx, n, req)
	}

	d := Decision{Action: RequestMore, Strategy: strategy, Pending: req.Clone(), FollowUp: followUp}
	if strategy.WantsUI() {
		d.UI = FormUI(req.Intent, req.CollectedData, req.ValidationErrors, followUp)
	}
	o.logger.Info("requesting more data",
		zap.String("session", sessionID),
		zap.Stringer("intent", n.Intent),
		zap.Strings("missing", req.MissingFields),
		zap.Int("invalid", len(req.ValidationErrors)))
	return d
}

// FormFollowUp lists missing fields and validation errors verbatim.
func FormFollowUp(p *sessionstate.PendingDataRequest) string {
	var parts []string
	if len(p.MissingFields) > 0 {
		parts = append(parts, "Please fill in the missing fields: "+strings.Join(p.MissingFields, ", ")+".")
	}
	if len(p.ValidationErrors) > 0 {
		parts = append(parts, "Please correct: "+strings.Join(p.ValidationErrors, "; ")+".")
	}
	if len(parts) == 0 {
		return "Please review the form and submit it again."
	}
	return strings.Join(parts, " ")
}

// TemplateFollowUp is a spoken-style question about the first missing field.
func TemplateFollowUp(p *sessionstate.PendingDataRequest) string {
	if len(p.ValidationErrors) > 0 {
		return fmt.Sprintf("I didn't quite catch that. %s. Could you say it again?", capitalize(p.ValidationErrors[0]))
	}
	if len(p.MissingFields) == 0 {
		return "Could you tell me a bit more?"
	}
	first := strings.ToLower(humanize(p.MissingFields[0]))
	if len(p.MissingFields) == 1 {
		return fmt.Sprintf("Got it. What's the %s?", first)
	}
	return fmt.Sprintf("Got it. What's the %s? I'll also need your %s.", first,
		strings.ToLower(strings.Join(humanizeAll(p.MissingFields[1:]), " and ")))
}

func (o *Orchestrator) conversationalFollowUp(ctx context.Context, n input.Normalized, p *sessionstate.PendingDataRequest) string {
	fallback := TemplateFollowUp(p)
	if o.oracle == nil {
		return fallback
	}

	callCtx := ctx
	if o.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "The learner is working on: %s (%s).\n", p.Intent, intent.SchemaFor(p.Intent).Description)
	if len(p.CollectedData) > 0 {
		sb.WriteString("Already known:\n")
		for _, k := range slices.Sorted(maps.Keys(p.CollectedData)) {
			fmt.Fprintf(&sb, "- %s: %v\n", k, p.CollectedData[k])
		}
	}
	if len(p.MissingFields) > 0 {
		fmt.Fprintf(&sb, "Still missing: %s\n", strings.Join(p.MissingFields, ", "))
	}
	if len(p.ValidationErrors) > 0 {
		fmt.Fprintf(&sb, "Needs correcting: %s\n", strings.Join(p.ValidationErrors, "; "))
	}
	if n.RawInput != "" {
		fmt.Fprintf(&sb, "They just said: %q\n", n.RawInput)
	}
	sb.WriteString("\nAsk one short, natural follow-up question using what's already known. Reply with the question only.")

	text, err := o.oracle.Complete(callCtx, oracle.Request{
		Purpose:     oracle.PurposeFollowup,
		System:      "You are a warm, concise tutor collecting a few details before starting.",
		Prompt:      sb.String(),
		MaxTokens:   120,
		Temperature: 0.4,
	})
	text = strings.TrimSpace(text)
	if err != nil || text == "" {
		o.logger.Warn("follow-up generation failed, using template", zap.Error(err))
		return fallback
	}
	return text
}

func humanizeAll(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = humanize(n)
	}
	return out
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
