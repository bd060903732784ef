// Package persist commits the effects of one conversation turn to the
// knowledge store and keeps the session's loaded context in step.
package persist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nidhogg/nuka-tutor/internal/knowledge"
	"github.com/nidhogg/nuka-tutor/internal/learnctx"
	"github.com/nidhogg/nuka-tutor/internal/workflow"
	"go.uber.org/zap"
)

// OutcomeReport is an outcome the learner settled on during discovery.
type OutcomeReport struct {
	Description string `json:"description"`
	Success     string `json:"success,omitempty"`
}

// Effects is everything a turn asks to change besides the transcript.
type Effects struct {
	Gaps            []workflow.GapReport
	Proofs          []workflow.ProofReport
	Connections     []workflow.ConnectionReport
	Applications    []workflow.ApplicationReport
	Followup        *workflow.FollowupReport
	StateChange     *knowledge.SessionContext
	OutcomeDefined  *OutcomeReport
	OutcomeAchieved bool
	// TeachingConcept, when set, is marked as being taught.
	TeachingConcept string
}

// Turn is one committed exchange.
type Turn struct {
	User      knowledge.Message
	Assistant knowledge.Message
	Effects   Effects
}

// Result lists what the commit created or changed.
type Result struct {
	Gaps         []workflow.GapResult
	Proofs       []workflow.ProofResult
	Connections  []knowledge.Edge
	Applications []knowledge.ApplicationEvent
	Followup     *workflow.FollowupResult
	Outcome      *knowledge.Outcome
	// Warnings are reports that were dropped without failing the turn.
	Warnings []string
}

// Committer writes turns through the workflows.
type Committer struct {
	store  knowledge.Store
	wf     *workflow.Workflows
	logger *zap.Logger
	now    func() time.Time
}

// NewCommitter creates a Committer.
func NewCommitter(store knowledge.Store, wf *workflow.Workflows, logger *zap.Logger) *Committer {
	return &Committer{store: store, wf: wf, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Commit applies t to the store and to fc. Graph effects run first and the
// session record last. On failure fc.Session is restored to its state before
// the call; graph writes that already landed stay in fc. Reports naming
// unknown concepts or closed applications are dropped with a warning rather
// than failing the turn; any other store error aborts the commit.
func (c *Committer) Commit(ctx context.Context, fc *learnctx.FullContext, t Turn) (res *Result, err error) {
	res = &Result{}
	before := fc.Session.Clone()
	defer func() {
		if err != nil {
			fc.Session = *before
		}
	}()
	learnerID := fc.Learner.ID

	if o := t.Effects.OutcomeDefined; o != nil && strings.TrimSpace(o.Description) != "" {
		if err := c.defineOutcome(ctx, fc, *o, res); err != nil {
			return res, err
		}
	}

	outcomeID := ""
	if fc.ActiveOutcome != nil {
		outcomeID = fc.ActiveOutcome.ID
	}

	for _, g := range t.Effects.Gaps {
		gr, err := c.wf.IdentifyGap(ctx, learnerID, outcomeID, g)
		if err != nil {
			return res, fmt.Errorf("gap %q: %w", g.Name, err)
		}
		fc.RecordConcept(gr.Concept, gr.Linked || gr.Created)
		res.Gaps = append(res.Gaps, *gr)
	}

	if t.Effects.TeachingConcept != "" {
		concept, err := c.wf.ResolveConcept(ctx, learnerID, t.Effects.TeachingConcept)
		switch {
		case knowledge.IsNotFound(err):
			res.warn("teaching concept unknown: " + t.Effects.TeachingConcept)
		case err != nil:
			return res, err
		default:
			updated, err := c.wf.MarkTeaching(ctx, concept.ID)
			if err != nil {
				return res, err
			}
			fc.RecordConcept(*updated, false)
		}
	}

	for _, p := range t.Effects.Proofs {
		pr, err := c.wf.RecordProof(ctx, learnerID, fc.Session.ID, p)
		if knowledge.IsNotFound(err) {
			res.warn("proof for unknown concept: " + p.Concept)
			continue
		}
		if err != nil {
			return res, fmt.Errorf("proof %q: %w", p.Concept, err)
		}
		fc.RecordProof(pr.Concept, pr.Proof)
		fc.Learner.ProofCount = pr.Learner.ProofCount
		res.Proofs = append(res.Proofs, *pr)
	}

	for _, conn := range t.Effects.Connections {
		edge, err := c.wf.RecordConnection(ctx, learnerID, conn)
		if knowledge.IsNotFound(err) {
			res.warn(fmt.Sprintf("connection between unknown concepts: %s / %s", conn.From, conn.To))
			continue
		}
		if err != nil {
			return res, fmt.Errorf("connection: %w", err)
		}
		fc.RecordRelation(*edge)
		res.Connections = append(res.Connections, *edge)
	}

	for _, a := range t.Effects.Applications {
		app, err := c.wf.CreateApplication(ctx, learnerID, outcomeID, a)
		if err != nil {
			return res, fmt.Errorf("application: %w", err)
		}
		fc.RecordApplication(*app)
		res.Applications = append(res.Applications, *app)
	}

	if f := t.Effects.Followup; f != nil {
		if f.ApplicationID == "" && len(fc.PendingFollowups) > 0 {
			f.ApplicationID = fc.PendingFollowups[0].ID
		}
		fr, err := c.wf.RecordFollowup(ctx, *f)
		switch {
		case knowledge.IsNotFound(err):
			res.warn("followup for unknown application: " + f.ApplicationID)
		case errors.Is(err, knowledge.ErrInvalidTransition):
			res.warn("followup for closed application: " + f.ApplicationID)
		case err != nil:
			return res, fmt.Errorf("followup: %w", err)
		default:
			fc.RecordApplication(fr.Application)
			for _, g := range fr.Gaps {
				fc.RecordConcept(g.Concept, g.Linked || g.Created)
			}
			res.Followup = fr
		}
	}

	if t.Effects.OutcomeAchieved && fc.ActiveOutcome != nil {
		if err := c.achieveOutcome(ctx, fc, res); err != nil {
			return res, err
		}
	}

	session := *fc.Session.Clone()
	if t.Effects.StateChange != nil {
		session.Context = *t.Effects.StateChange
	}
	session.Messages = append(session.Messages, t.User, t.Assistant)
	if err := c.store.UpdateSession(ctx, &session); err != nil {
		return res, fmt.Errorf("update session: %w", err)
	}
	fc.Session = session

	for _, w := range res.Warnings {
		c.logger.Warn("turn report dropped", zap.String("session", session.ID), zap.String("reason", w))
	}
	return res, nil
}

func (c *Committer) defineOutcome(ctx context.Context, fc *learnctx.FullContext, r OutcomeReport, res *Result) error {
	o := &knowledge.Outcome{
		LearnerID:   fc.Learner.ID,
		Description: strings.TrimSpace(r.Description),
		Success:     r.Success,
		Status:      knowledge.OutcomeActive,
		CreatedAt:   c.now(),
	}
	if err := c.store.CreateOutcome(ctx, o); err != nil {
		return fmt.Errorf("create outcome: %w", err)
	}
	learner := fc.Learner
	learner.ActiveOutcomeID = o.ID
	learner.UpdatedAt = c.now()
	if err := c.store.UpdateLearner(ctx, &learner); err != nil {
		return fmt.Errorf("activate outcome: %w", err)
	}
	fc.Learner = learner
	fc.SetActiveOutcome(*o)
	res.Outcome = o
	c.logger.Info("outcome defined", zap.String("learner", learner.ID), zap.String("outcome", o.ID))
	return nil
}

func (c *Committer) achieveOutcome(ctx context.Context, fc *learnctx.FullContext, res *Result) error {
	o := *fc.ActiveOutcome
	now := c.now()
	o.Status = knowledge.OutcomeAchieved
	o.AchievedAt = &now
	if err := c.store.UpdateOutcome(ctx, &o); err != nil {
		return fmt.Errorf("achieve outcome: %w", err)
	}
	learner := fc.Learner
	learner.ActiveOutcomeID = ""
	learner.UpdatedAt = now
	if err := c.store.UpdateLearner(ctx, &learner); err != nil {
		return fmt.Errorf("clear active outcome: %w", err)
	}
	fc.Learner = learner
	fc.ClearActiveOutcome()
	res.Outcome = &o
	c.logger.Info("outcome achieved", zap.String("learner", learner.ID), zap.String("outcome", o.ID))
	return nil
}

func (r *Result) warn(msg string) { r.Warnings = append(r.Warnings, msg) }
