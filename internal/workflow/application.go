package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nidhogg/nuka-tutor/internal/knowledge"
	"go.uber.org/zap"
)

// ApplicationReport is a real-world situation the learner mentioned.
type ApplicationReport struct {
	Context     string    `json:"context"`
	PlannedDate time.Time `json:"planned_date"`
	Concepts    []string  `json:"concepts,omitempty"`
}

// FollowupReport is the learner's account of how an application went.
type FollowupReport struct {
	ApplicationID string   `json:"application_id"`
	Response      string   `json:"response"`
	WhatWorked    string   `json:"what_worked,omitempty"`
	WhatStruggled string   `json:"what_struggled,omitempty"`
	GapsRevealed  []string `json:"gaps_revealed,omitempty"`
	Skipped       bool     `json:"skipped,omitempty"`
}

// FollowupResult is the advanced application and any concepts its gaps
// spawned.
type FollowupResult struct {
	Application knowledge.ApplicationEvent
	Gaps        []GapResult
}

// CreateApplication records an upcoming application event. Concept references
// that do not resolve are dropped with a warning.
func (w *Workflows) CreateApplication(ctx context.Context, learnerID, outcomeID string, r ApplicationReport) (*knowledge.ApplicationEvent, error) {
	if strings.TrimSpace(r.Context) == "" {
		return nil, fmt.Errorf("create application: empty context")
	}
	planned := r.PlannedDate
	if planned.IsZero() {
		planned = w.now()
	}

	var conceptIDs []string
	for _, ref := range r.Concepts {
		c, err := w.ResolveConcept(ctx, learnerID, ref)
		if knowledge.IsNotFound(err) {
			w.logger.Warn("application concept unknown", zap.String("concept", ref))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create application: %w", err)
		}
		conceptIDs = append(conceptIDs, c.ID)
	}

	a := &knowledge.ApplicationEvent{
		LearnerID:   learnerID,
		OutcomeID:   outcomeID,
		ConceptIDs:  conceptIDs,
		Context:     r.Context,
		PlannedDate: planned,
		Status:      knowledge.AppUpcoming,
		CreatedAt:   w.now(),
	}
	if err := w.store.CreateApplication(ctx, a); err != nil {
		return nil, fmt.Errorf("create application: %w", err)
	}
	for _, cid := range conceptIDs {
		if _, err := w.link(ctx, cid, knowledge.NodeConcept, a.ID, knowledge.NodeApplication, knowledge.EdgeAppliedIn, nil); err != nil {
			return nil, err
		}
	}
	w.logger.Info("application planned",
		zap.String("learner", learnerID),
		zap.String("application", a.ID),
		zap.Time("planned", planned))
	return a, nil
}

// PromoteDue moves every elapsed upcoming event of the learner to
// pending_followup and returns the promoted events.
func (w *Workflows) PromoteDue(ctx context.Context, learnerID string) ([]knowledge.ApplicationEvent, error) {
	apps, err := w.store.ListApplications(ctx, learnerID)
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	now := w.now()
	var promoted []knowledge.ApplicationEvent
	for _, a := range apps {
		if !a.Due(now) {
			continue
		}
		if err := a.Advance(knowledge.AppPendingFollowup, now); err != nil {
			return promoted, err
		}
		if err := w.store.UpdateApplication(ctx, &a); err != nil {
			return promoted, fmt.Errorf("promote application %s: %w", a.ID, err)
		}
		promoted = append(promoted, a)
	}
	return promoted, nil
}

// RecordFollowup completes or skips an application event. An upcoming event
// passes through pending_followup first. Each revealed gap becomes a concept
// under the event's outcome and is linked to the event with applied_in.
func (w *Workflows) RecordFollowup(ctx context.Context, r FollowupReport) (*FollowupResult, error) {
	a, err := w.store.GetApplication(ctx, r.ApplicationID)
	if err != nil {
		return nil, fmt.Errorf("record followup: %w", err)
	}
	if a.Status == knowledge.AppCompleted || a.Status == knowledge.AppSkipped {
		return nil, fmt.Errorf("record followup %s: already %s: %w", a.ID, a.Status, knowledge.ErrInvalidTransition)
	}
	now := w.now()
	if a.Status == knowledge.AppUpcoming {
		if err := a.Advance(knowledge.AppPendingFollowup, now); err != nil {
			return nil, err
		}
	}
	to := knowledge.AppCompleted
	if r.Skipped {
		to = knowledge.AppSkipped
	}
	if err := a.Advance(to, now); err != nil {
		return nil, err
	}
	a.FollowupResponse = r.Response
	a.WhatWorked = r.WhatWorked
	a.WhatStruggled = r.WhatStruggled
	a.GapsRevealed = r.GapsRevealed

	res := &FollowupResult{}
	if !r.Skipped {
		for _, name := range r.GapsRevealed {
			if strings.TrimSpace(name) == "" {
				continue
			}
			gap, err := w.IdentifyGap(ctx, a.LearnerID, a.OutcomeID, GapReport{Name: name})
			if err != nil {
				return nil, err
			}
			edge, err := w.hasEdge(ctx, gap.Concept.ID, a.ID, knowledge.EdgeAppliedIn)
			if err != nil {
				return nil, fmt.Errorf("check applied_in edge: %w", err)
			}
			if edge == nil {
				if _, err := w.link(ctx, gap.Concept.ID, knowledge.NodeConcept, a.ID, knowledge.NodeApplication, knowledge.EdgeAppliedIn, nil); err != nil {
					return nil, err
				}
			}
			res.Gaps = append(res.Gaps, *gap)
		}
	}

	if err := w.store.UpdateApplication(ctx, a); err != nil {
		return nil, fmt.Errorf("record followup: %w", err)
	}
	res.Application = *a
	w.logger.Info("application followed up",
		zap.String("application", a.ID),
		zap.String("status", string(a.Status)),
		zap.Int("gaps", len(res.Gaps)))
	return res, nil
}
