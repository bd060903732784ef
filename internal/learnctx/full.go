// Package learnctx assembles what the oracle needs to know about a learner:
// a full context loaded once per session and a small turn context projected
// from it on every turn.
package learnctx

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/nidhogg/nuka-tutor/internal/knowledge"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ProvenConcept is an understood concept with the proofs that earned it.
type ProvenConcept struct {
	Concept knowledge.Concept
	Proofs  []knowledge.Proof
}

// LatestProof returns the most recent proof, or nil.
func (p *ProvenConcept) LatestProof() *knowledge.Proof {
	if len(p.Proofs) == 0 {
		return nil
	}
	latest := &p.Proofs[0]
	for i := range p.Proofs[1:] {
		if p.Proofs[i+1].EarnedAt.After(latest.EarnedAt) {
			latest = &p.Proofs[i+1]
		}
	}
	return latest
}

// FullContext is everything loaded at session start. The engine owns it for
// the life of the session and patches it in memory as turns commit.
type FullContext struct {
	Learner         knowledge.Learner
	Session         knowledge.Session
	ProvenConcepts  []ProvenConcept
	ActiveOutcome   *knowledge.Outcome
	OutcomeConcepts []knowledge.Concept
	// Concepts indexes every concept of the learner by id.
	Concepts        map[string]knowledge.Concept
	PreviousSession *knowledge.Session
	// DaysSinceLastSession is -1 when there was no earlier session.
	DaysSinceLastSession int
	// Relations maps a concept id to its relates_to edges in both directions.
	Relations             map[string][]knowledge.Edge
	PendingFollowups      []knowledge.ApplicationEvent
	CompletedApplications []knowledge.ApplicationEvent
	LoadedAt              time.Time
}

// Loader reads a FullContext out of the knowledge store.
type Loader struct {
	store  knowledge.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewLoader creates a Loader.
func NewLoader(store knowledge.Store, logger *zap.Logger) *Loader {
	return &Loader{store: store, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Load reads everything about the learner of sessionID. Independent reads
// run concurrently. Elapsed upcoming application events are promoted to
// pending_followup and persisted as part of the load.
func (l *Loader) Load(ctx context.Context, sessionID string) (*FullContext, error) {
	session, err := l.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	now := l.now()
	fc := &FullContext{
		Session:              *session,
		Concepts:             map[string]knowledge.Concept{},
		Relations:            map[string][]knowledge.Edge{},
		DaysSinceLastSession: -1,
		LoadedAt:             now,
	}

	var (
		concepts []knowledge.Concept
		proofs   []knowledge.Proof
		apps     []knowledge.ApplicationEvent
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		learner, err := l.store.GetLearner(gctx, session.LearnerID)
		if err != nil {
			return fmt.Errorf("load learner: %w", err)
		}
		fc.Learner = *learner
		return nil
	})
	g.Go(func() error {
		var err error
		if concepts, err = l.store.ListConcepts(gctx, session.LearnerID); err != nil {
			return fmt.Errorf("list concepts: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if proofs, err = l.store.ListProofs(gctx, session.LearnerID); err != nil {
			return fmt.Errorf("list proofs: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if apps, err = l.store.ListApplications(gctx, session.LearnerID); err != nil {
			return fmt.Errorf("list applications: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		prev, err := l.store.LatestSession(gctx, session.LearnerID, session.ID)
		if knowledge.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load previous session: %w", err)
		}
		fc.PreviousSession = prev
		fc.DaysSinceLastSession = daysBetween(lastActivity(prev), now)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, c := range concepts {
		fc.Concepts[c.ID] = c
	}
	fc.ProvenConcepts = groupProofs(concepts, proofs)

	if err := l.loadOutcome(ctx, fc); err != nil {
		return nil, err
	}
	if err := l.loadRelations(ctx, fc, concepts); err != nil {
		return nil, err
	}
	if err := l.splitApplications(ctx, fc, apps, now); err != nil {
		return nil, err
	}

	l.logger.Info("full context loaded",
		zap.String("session", sessionID),
		zap.String("learner", fc.Learner.ID),
		zap.Int("proven", len(fc.ProvenConcepts)),
		zap.Int("followups", len(fc.PendingFollowups)),
		zap.Int("days_since_last", fc.DaysSinceLastSession))
	return fc, nil
}

func (l *Loader) loadOutcome(ctx context.Context, fc *FullContext) error {
	outcomeID := fc.Session.OutcomeID
	if outcomeID == "" {
		outcomeID = fc.Learner.ActiveOutcomeID
	}
	if outcomeID == "" {
		return nil
	}
	outcome, err := l.store.GetOutcome(ctx, outcomeID)
	if knowledge.IsNotFound(err) {
		l.logger.Warn("active outcome missing", zap.String("outcome", outcomeID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load outcome: %w", err)
	}
	if outcome.Status != knowledge.OutcomeActive {
		return nil
	}
	fc.ActiveOutcome = outcome

	edges, err := l.store.EdgesFrom(ctx, outcome.ID, knowledge.EdgeRequires)
	if err != nil {
		return fmt.Errorf("load outcome concepts: %w", err)
	}
	for _, e := range edges {
		if c, ok := fc.Concepts[e.ToID]; ok {
			fc.OutcomeConcepts = append(fc.OutcomeConcepts, c)
		}
	}
	return nil
}

func (l *Loader) loadRelations(ctx context.Context, fc *FullContext, concepts []knowledge.Concept) error {
	seen := map[string]bool{}
	for _, c := range concepts {
		out, err := l.store.EdgesFrom(ctx, c.ID, knowledge.EdgeRelatesTo)
		if err != nil {
			return fmt.Errorf("load relations of %s: %w", c.ID, err)
		}
		in, err := l.store.EdgesTo(ctx, c.ID, knowledge.EdgeRelatesTo)
		if err != nil {
			return fmt.Errorf("load relations of %s: %w", c.ID, err)
		}
		for _, e := range append(out, in...) {
			if seen[e.ID] {
				continue
			}
			seen[e.ID] = true
			fc.indexRelation(e)
		}
	}
	return nil
}

func (l *Loader) splitApplications(ctx context.Context, fc *FullContext, apps []knowledge.ApplicationEvent, now time.Time) error {
	for _, a := range apps {
		if a.Due(now) {
			if err := a.Advance(knowledge.AppPendingFollowup, now); err != nil {
				return err
			}
			if err := l.store.UpdateApplication(ctx, &a); err != nil {
				return fmt.Errorf("promote application %s: %w", a.ID, err)
			}
			l.logger.Info("application due for follow-up", zap.String("application", a.ID))
		}
		switch a.Status {
		case knowledge.AppPendingFollowup:
			fc.PendingFollowups = append(fc.PendingFollowups, a)
		case knowledge.AppCompleted:
			fc.CompletedApplications = append(fc.CompletedApplications, a)
		}
	}
	SortFollowups(fc.PendingFollowups)
	sort.SliceStable(fc.CompletedApplications, func(i, j int) bool {
		return completedAt(fc.CompletedApplications[i]).After(completedAt(fc.CompletedApplications[j]))
	})
	return nil
}

// SortFollowups orders follow-ups oldest planned date first.
func SortFollowups(apps []knowledge.ApplicationEvent) {
	sort.SliceStable(apps, func(i, j int) bool { return apps[i].PlannedDate.Before(apps[j].PlannedDate) })
}

func completedAt(a knowledge.ApplicationEvent) time.Time {
	if a.CompletedAt != nil {
		return *a.CompletedAt
	}
	return a.PlannedDate
}

func groupProofs(concepts []knowledge.Concept, proofs []knowledge.Proof) []ProvenConcept {
	byConcept := map[string][]knowledge.Proof{}
	for _, p := range proofs {
		byConcept[p.ConceptID] = append(byConcept[p.ConceptID], p)
	}
	var out []ProvenConcept
	for _, c := range concepts {
		if c.Status != knowledge.ConceptUnderstood {
			continue
		}
		out = append(out, ProvenConcept{Concept: c, Proofs: byConcept[c.ID]})
	}
	return out
}

func lastActivity(s *knowledge.Session) time.Time {
	if s.EndedAt != nil {
		return *s.EndedAt
	}
	if n := len(s.Messages); n > 0 {
		return s.Messages[n-1].Timestamp
	}
	return s.StartedAt
}

func daysBetween(from, to time.Time) int {
	if to.Before(from) {
		return 0
	}
	return int(to.Sub(from).Hours() / 24)
}

// indexRelation records e under both endpoints.
func (fc *FullContext) indexRelation(e knowledge.Edge) {
	fc.Relations[e.FromID] = append(fc.Relations[e.FromID], e)
	if e.ToID != e.FromID {
		fc.Relations[e.ToID] = append(fc.Relations[e.ToID], e)
	}
}
