package learnctx

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/nidhogg/nuka-tutor/internal/knowledge"
	"github.com/nidhogg/nuka-tutor/internal/mode"
	"go.uber.org/zap"
)

// ConceptSnapshot is the prompt-sized view of a concept.
type ConceptSnapshot struct {
	ID            string                  `json:"id"`
	Name          string                  `json:"name"`
	Status        knowledge.ConceptStatus `json:"status"`
	Foundational  bool                    `json:"foundational,omitempty"`
	Confidence    float64                 `json:"confidence,omitempty"`
	ProvenAt      *time.Time              `json:"proven_at,omitempty"`
	NeedsReverify bool                    `json:"needs_reverify,omitempty"`
}

// RelatedSnapshot is one concept connected to the focus concept.
type RelatedSnapshot struct {
	ConceptID    string  `json:"concept_id"`
	Name         string  `json:"name"`
	Relationship string  `json:"relationship,omitempty"`
	Strength     float64 `json:"strength"`
	Proven       bool    `json:"proven"`
}

// OutcomeSnapshot counts progress towards the active outcome.
type OutcomeSnapshot struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Total       int    `json:"total"`
	Understood  int    `json:"understood"`
	Teaching    int    `json:"teaching"`
	Identified  int    `json:"identified"`
}

// FollowupSnapshot is the most urgent pending follow-up.
type FollowupSnapshot struct {
	ApplicationID string    `json:"application_id"`
	Context       string    `json:"context"`
	PlannedDate   time.Time `json:"planned_date"`
	DaysOverdue   int       `json:"days_overdue"`
}

// ApplicationSnapshot is a past real-world use of a concept.
type ApplicationSnapshot struct {
	ID            string `json:"id"`
	Context       string `json:"context"`
	WhatWorked    string `json:"what_worked,omitempty"`
	WhatStruggled string `json:"what_struggled,omitempty"`
}

// TurnContext is the bounded view sent to the oracle on one turn.
type TurnContext struct {
	SessionID            string                   `json:"session_id"`
	LearnerName          string                   `json:"learner_name"`
	Mode                 mode.Mode                `json:"mode"`
	SessionContext       knowledge.SessionContext `json:"session_context"`
	DaysSinceLastSession int                      `json:"days_since_last_session"`
	CurrentConcept       *ConceptSnapshot         `json:"current_concept,omitempty"`
	ProvenConcepts       []ConceptSnapshot        `json:"proven_concepts"`
	RelatedConcepts      []RelatedSnapshot        `json:"related_concepts"`
	Outcome              *OutcomeSnapshot         `json:"outcome,omitempty"`
	UrgentFollowup       *FollowupSnapshot        `json:"urgent_followup,omitempty"`
	RelevantApplications []ApplicationSnapshot    `json:"relevant_applications"`
	RecentMessages       []knowledge.Message      `json:"recent_messages"`
	Hints                []string                 `json:"hints"`
}

// Recaller finds completed applications semantically close to a query.
type Recaller interface {
	SimilarApplications(ctx context.Context, learnerID, query string, limit int) ([]string, error)
}

// BuilderConfig bounds the turn context.
type BuilderConfig struct {
	RecentMessages     int `json:"recent_messages" yaml:"recent_messages"`
	MessageTokenBudget int `json:"message_token_budget" yaml:"message_token_budget"`
	LongBreakDays      int `json:"long_break_days" yaml:"long_break_days"`
	MaxRelated         int `json:"max_related" yaml:"max_related"`
	MaxApplications    int `json:"max_applications" yaml:"max_applications"`
}

// DefaultBuilderConfig returns the standard bounds.
func DefaultBuilderConfig() BuilderConfig {
	return BuilderConfig{
		RecentMessages:     10,
		MessageTokenBudget: 1500,
		LongBreakDays:      14,
		MaxRelated:         5,
		MaxApplications:    3,
	}
}

// Builder projects a FullContext into a TurnContext.
type Builder struct {
	cfg    BuilderConfig
	recall Recaller
	logger *zap.Logger
	now    func() time.Time
}

// NewBuilder creates a Builder. recall may be nil.
func NewBuilder(cfg BuilderConfig, recall Recaller, logger *zap.Logger) *Builder {
	def := DefaultBuilderConfig()
	if cfg.RecentMessages <= 0 {
		cfg.RecentMessages = def.RecentMessages
	}
	if cfg.MessageTokenBudget <= 0 {
		cfg.MessageTokenBudget = def.MessageTokenBudget
	}
	if cfg.LongBreakDays <= 0 {
		cfg.LongBreakDays = def.LongBreakDays
	}
	if cfg.MaxRelated <= 0 {
		cfg.MaxRelated = def.MaxRelated
	}
	if cfg.MaxApplications <= 0 {
		cfg.MaxApplications = def.MaxApplications
	}
	return &Builder{cfg: cfg, recall: recall, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Build projects fc for a turn in mode m focused on conceptID ("" for none).
func (b *Builder) Build(ctx context.Context, fc *FullContext, m mode.Mode, conceptID string) *TurnContext {
	now := b.now()
	tc := &TurnContext{
		SessionID:            fc.Session.ID,
		LearnerName:          fc.Learner.Name,
		Mode:                 m,
		SessionContext:       fc.Session.Context,
		DaysSinceLastSession: fc.DaysSinceLastSession,
		ProvenConcepts:       b.provenSnapshots(fc, now),
		RelatedConcepts:      []RelatedSnapshot{},
		RelevantApplications: []ApplicationSnapshot{},
		RecentMessages:       RecentMessages(fc.Session.Messages, b.cfg.RecentMessages, b.cfg.MessageTokenBudget),
	}

	if c, ok := fc.Concepts[conceptID]; ok {
		snap := b.conceptSnapshot(fc, c, now)
		tc.CurrentConcept = &snap
		tc.RelatedConcepts = b.related(fc, conceptID)
		tc.RelevantApplications = b.applications(ctx, fc, c)
	}
	tc.Outcome = outcomeSnapshot(fc)
	if len(fc.PendingFollowups) > 0 {
		f := fc.PendingFollowups[0]
		tc.UrgentFollowup = &FollowupSnapshot{
			ApplicationID: f.ID,
			Context:       f.Context,
			PlannedDate:   f.PlannedDate,
			DaysOverdue:   daysBetween(f.PlannedDate, now),
		}
	}
	tc.Hints = b.hints(fc, tc)
	return tc
}

func (b *Builder) conceptSnapshot(fc *FullContext, c knowledge.Concept, now time.Time) ConceptSnapshot {
	snap := ConceptSnapshot{ID: c.ID, Name: c.Name, Status: c.Status, Foundational: c.Foundational}
	if pc, ok := fc.Proven(c.ID); ok {
		if p := pc.LatestProof(); p != nil {
			at := p.EarnedAt
			snap.Confidence = p.Confidence
			snap.ProvenAt = &at
			snap.NeedsReverify = mode.NeedsReverification(c.Foundational, at, now)
		}
	}
	return snap
}

func (b *Builder) provenSnapshots(fc *FullContext, now time.Time) []ConceptSnapshot {
	out := make([]ConceptSnapshot, 0, len(fc.ProvenConcepts))
	for _, pc := range fc.ProvenConcepts {
		out = append(out, b.conceptSnapshot(fc, pc.Concept, now))
	}
	return out
}

func (b *Builder) related(fc *FullContext, conceptID string) []RelatedSnapshot {
	best := map[string]RelatedSnapshot{}
	for _, e := range fc.Relations[conceptID] {
		other := e.Other(conceptID)
		c, ok := fc.Concepts[other]
		if !ok {
			continue
		}
		_, proven := fc.Proven(other)
		r := RelatedSnapshot{
			ConceptID:    other,
			Name:         c.Name,
			Relationship: e.Relationship(),
			Strength:     e.Strength(),
			Proven:       proven,
		}
		if prev, dup := best[other]; !dup || r.Strength > prev.Strength {
			best[other] = r
		}
	}
	out := make([]RelatedSnapshot, 0, len(best))
	for _, r := range best {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Strength != out[j].Strength {
			return out[i].Strength > out[j].Strength
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > b.cfg.MaxRelated {
		out = out[:b.cfg.MaxRelated]
	}
	return out
}

// applications picks completed applications that used the focus concept,
// newest first, topped up by semantic recall when available.
func (b *Builder) applications(ctx context.Context, fc *FullContext, c knowledge.Concept) []ApplicationSnapshot {
	limit := b.cfg.MaxApplications
	out := []ApplicationSnapshot{}
	picked := map[string]bool{}
	add := func(a knowledge.ApplicationEvent) {
		if len(out) >= limit || picked[a.ID] {
			return
		}
		picked[a.ID] = true
		out = append(out, ApplicationSnapshot{
			ID:            a.ID,
			Context:       a.Context,
			WhatWorked:    a.WhatWorked,
			WhatStruggled: a.WhatStruggled,
		})
	}

	for _, a := range fc.CompletedApplications {
		if slices.Contains(a.ConceptIDs, c.ID) {
			add(a)
		}
	}
	if len(out) >= limit || b.recall == nil || len(fc.CompletedApplications) == 0 {
		return out
	}

	ids, err := b.recall.SimilarApplications(ctx, fc.Learner.ID, c.Name+" "+c.Description, limit)
	if err != nil {
		b.logger.Warn("application recall failed", zap.String("concept", c.ID), zap.Error(err))
		return out
	}
	for _, id := range ids {
		for _, a := range fc.CompletedApplications {
			if a.ID == id {
				add(a)
			}
		}
	}
	return out
}

func outcomeSnapshot(fc *FullContext) *OutcomeSnapshot {
	if fc.ActiveOutcome == nil {
		return nil
	}
	o := &OutcomeSnapshot{ID: fc.ActiveOutcome.ID, Description: fc.ActiveOutcome.Description}
	for _, c := range fc.OutcomeConcepts {
		// The index holds the freshest status.
		if cur, ok := fc.Concepts[c.ID]; ok {
			c = cur
		}
		o.Total++
		switch c.Status {
		case knowledge.ConceptUnderstood:
			o.Understood++
		case knowledge.ConceptTeaching:
			o.Teaching++
		default:
			o.Identified++
		}
	}
	return o
}

func (b *Builder) hints(fc *FullContext, tc *TurnContext) []string {
	var hints []string
	sc := fc.Session.Context

	switch {
	case sc.EnergyLevel > 0 && sc.EnergyLevel < 40:
		hints = append(hints, "Energy is low: keep explanations short and concrete, one idea at a time.")
	case sc.EnergyLevel >= 75:
		hints = append(hints, "Energy is high: it is fine to go deeper and stretch the learner.")
	}
	switch sc.TimeAvailable {
	case "quick":
		hints = append(hints, "Time is short: aim for one small, complete win this session.")
	case "deep":
		hints = append(hints, "There is plenty of time: room for practice and a verification round.")
	}
	if sc.IntentionStrength == "low" {
		hints = append(hints, "Intention is low today: keep momentum with easy wins and avoid heavy new material.")
	}
	if sc.Mindset != "" {
		hints = append(hints, fmt.Sprintf("Learner described their mindset as %q: acknowledge it.", sc.Mindset))
	}

	in := fc.Learner.Insights
	if in.PrefersExamples {
		hints = append(hints, "Lead with a concrete example before any abstraction.")
	}
	if in.NeedsFrequentChecks {
		hints = append(hints, "Check understanding every few exchanges.")
	}
	if in.PrefersBigPicture {
		hints = append(hints, "Start from the big picture before the details.")
	}
	if in.StrugglesWithAbstraction {
		hints = append(hints, "Avoid abstract framing; anchor ideas in situations the learner knows.")
	}
	for _, note := range in.Notes {
		if strings.TrimSpace(note) != "" {
			hints = append(hints, "Note: "+note)
		}
	}

	if fc.DaysSinceLastSession > b.cfg.LongBreakDays {
		hints = append(hints, fmt.Sprintf("Long break (%d days since last session): re-verify key concepts before building on them.", fc.DaysSinceLastSession))
	}
	if tc.CurrentConcept != nil && tc.CurrentConcept.NeedsReverify {
		hints = append(hints, fmt.Sprintf("%s was proven a while ago: re-verify it before building on it.", tc.CurrentConcept.Name))
	}
	for _, r := range tc.RelatedConcepts {
		if r.Proven {
			hints = append(hints, fmt.Sprintf("Bridge from %s, which the learner already understands.", r.Name))
			break
		}
	}
	if hints == nil {
		hints = []string{}
	}
	return hints
}
