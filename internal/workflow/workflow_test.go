package workflow

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/nidhogg/nuka-tutor/internal/knowledge"
	"go.uber.org/zap"
)

var testNow = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*Workflows, *knowledge.MemoryStore, *knowledge.Learner, *knowledge.Outcome) {
	t.Helper()
	ctx := context.Background()
	s := knowledge.NewMemoryStore()
	l := &knowledge.Learner{Name: "Ada"}
	if err := s.CreateLearner(ctx, l); err != nil {
		t.Fatal(err)
	}
	o := &knowledge.Outcome{LearnerID: l.ID, Description: "run a retro"}
	if err := s.CreateOutcome(ctx, o); err != nil {
		t.Fatal(err)
	}
	w := New(s, zap.NewNop())
	w.now = func() time.Time { return testNow }
	return w, s, l, o
}

func TestIdentifyGapDedupesByName(t *testing.T) {
	ctx := context.Background()
	w, s, l, o := setup(t)

	first, err := w.IdentifyGap(ctx, l.ID, o.ID, GapReport{Name: "Active listening"})
	if err != nil {
		t.Fatal(err)
	}
	if !first.Created || !first.Linked || first.Concept.Status != knowledge.ConceptIdentified {
		t.Fatalf("first gap = %+v", first)
	}

	second, err := w.IdentifyGap(ctx, l.ID, o.ID, GapReport{Name: "  active LISTENING "})
	if err != nil {
		t.Fatal(err)
	}
	if second.Created || second.Linked || second.Concept.ID != first.Concept.ID {
		t.Fatalf("duplicate gap = %+v", second)
	}

	other := &knowledge.Outcome{LearnerID: l.ID, Description: "mentor a junior"}
	if err := s.CreateOutcome(ctx, other); err != nil {
		t.Fatal(err)
	}
	third, err := w.IdentifyGap(ctx, l.ID, other.ID, GapReport{Name: "Active listening"})
	if err != nil {
		t.Fatal(err)
	}
	if third.Created || !third.Linked {
		t.Fatalf("existing concept should be linked to new outcome: %+v", third)
	}

	edges, _ := s.EdgesTo(ctx, first.Concept.ID, knowledge.EdgeRequires)
	if len(edges) != 2 {
		t.Fatalf("requires edges = %d, want 2", len(edges))
	}
}

func TestIdentifyGapNeverMovesStatusBack(t *testing.T) {
	ctx := context.Background()
	w, s, l, o := setup(t)
	c := &knowledge.Concept{LearnerID: l.ID, Name: "Framing", Status: knowledge.ConceptUnderstood}
	if err := s.CreateConcept(ctx, c); err != nil {
		t.Fatal(err)
	}
	res, err := w.IdentifyGap(ctx, l.ID, o.ID, GapReport{Name: "framing"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Concept.Status != knowledge.ConceptUnderstood {
		t.Fatalf("status = %q", res.Concept.Status)
	}

	if _, err := w.MarkTeaching(ctx, c.ID); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetConcept(ctx, c.ID)
	if got.Status != knowledge.ConceptUnderstood {
		t.Fatalf("mark teaching regressed status to %q", got.Status)
	}
}

func TestRecordProofStrongBoth(t *testing.T) {
	ctx := context.Background()
	w, s, l, o := setup(t)
	gap, err := w.IdentifyGap(ctx, l.ID, o.ID, GapReport{Name: "Timeboxing"})
	if err != nil {
		t.Fatal(err)
	}

	res, err := w.RecordProof(ctx, l.ID, "s1", ProofReport{
		Concept:           "Timeboxing",
		DemonstrationType: knowledge.DemoBoth,
		Signals:           QualitySignals{OwnWords: 1, CorrectApplication: 1, BoundaryAwareness: 1, Connections: 1},
		Exchange: knowledge.Exchange{
			Prompt:   "How would you use timeboxing in your next retro?",
			Response: "I would give each topic ten minutes because otherwise the loudest topic eats the hour, for example last week we never got to action items, which means nothing changed.",
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	concept, _ := s.GetConcept(ctx, gap.Concept.ID)
	if concept.Status != knowledge.ConceptUnderstood || concept.UnderstoodAt == nil {
		t.Fatalf("concept = %+v", concept)
	}
	edges, _ := s.EdgesFrom(ctx, concept.ID, knowledge.EdgeDemonstratedBy)
	if len(edges) != 1 || edges[0].ToID != res.Proof.ID || edges[0].ToType != knowledge.NodeProof {
		t.Fatalf("demonstrated_by edges = %+v", edges)
	}
	learner, _ := s.GetLearner(ctx, l.ID)
	if learner.ProofCount != l.ProofCount+1 {
		t.Fatalf("proof count = %d, want %d", learner.ProofCount, l.ProofCount+1)
	}
	if res.Proof.Confidence < 0.9 || res.Proof.Confidence > 1 {
		t.Fatalf("confidence = %v", res.Proof.Confidence)
	}
}

func TestRecordProofAcceptsOracleConfidence(t *testing.T) {
	ctx := context.Background()
	w, _, l, o := setup(t)
	if _, err := w.IdentifyGap(ctx, l.ID, o.ID, GapReport{Name: "Silence"}); err != nil {
		t.Fatal(err)
	}
	conf := 1.7
	res, err := w.RecordProof(ctx, l.ID, "s1", ProofReport{Concept: "Silence", Confidence: &conf})
	if err != nil {
		t.Fatal(err)
	}
	if res.Proof.Confidence != 1 || res.Proof.DemonstrationType != knowledge.DemoExplanation {
		t.Fatalf("proof = %+v", res.Proof)
	}
}

func TestRecordProofUnknownConcept(t *testing.T) {
	w, _, l, _ := setup(t)
	_, err := w.RecordProof(context.Background(), l.ID, "s1", ProofReport{Concept: "ghost"})
	if !knowledge.IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestScoreConfidenceAlwaysClamped(t *testing.T) {
	edges := []float64{math.Inf(-1), -5, -1, 0, 0.5, 1, 2, 50, math.Inf(1), math.NaN()}
	demos := []knowledge.DemonstrationType{knowledge.DemoExplanation, knowledge.DemoApplication, knowledge.DemoBoth, "bogus"}
	responses := []string{"", "no idea", "because for example which means exactly so that in other words"}

	check := func(demo knowledge.DemonstrationType, s QualitySignals, resp string) {
		t.Helper()
		got := ScoreConfidence(demo, s, resp)
		if math.IsNaN(got) || got < 0 || got > 1 {
			t.Fatalf("score %v out of range for %+v %q", got, s, resp)
		}
	}

	for _, demo := range demos {
		for _, v := range edges {
			for _, resp := range responses {
				check(demo, QualitySignals{OwnWords: v, CorrectApplication: v, BoundaryAwareness: v, Connections: v}, resp)
				check(demo, QualitySignals{OwnWords: v, Parroting: true, Misconception: true}, resp)
			}
		}
	}

	r := rand.New(rand.NewPCG(7, 11))
	for i := 0; i < 2000; i++ {
		s := QualitySignals{
			OwnWords:           (r.Float64() - 0.5) * 20,
			CorrectApplication: (r.Float64() - 0.5) * 20,
			BoundaryAwareness:  (r.Float64() - 0.5) * 20,
			Connections:        (r.Float64() - 0.5) * 20,
			Parroting:          r.IntN(2) == 0,
			Misconception:      r.IntN(2) == 0,
		}
		check(demos[r.IntN(len(demos))], s, responses[r.IntN(len(responses))])
	}
}

func TestScoreConfidencePenalties(t *testing.T) {
	strong := QualitySignals{OwnWords: 1, CorrectApplication: 1, BoundaryAwareness: 1, Connections: 1}
	clean := ScoreConfidence(knowledge.DemoBoth, strong, "because it works")
	strong.Parroting = true
	if parroted := ScoreConfidence(knowledge.DemoBoth, strong, "because it works"); parroted >= clean {
		t.Fatalf("parroting should lower the score: %v >= %v", parroted, clean)
	}
	if ExchangeQuality("") != 0 {
		t.Fatal("empty response should have zero quality")
	}
	if ExchangeQuality("i am not sure, no idea really") >= ExchangeQuality("it works because the timer makes the tradeoff explicit") {
		t.Fatal("uncertain response should rate lower")
	}
}

func TestRecordConnectionUpsertsEitherDirection(t *testing.T) {
	ctx := context.Background()
	w, s, l, o := setup(t)
	for _, n := range []string{"Anchoring", "Framing"} {
		if _, err := w.IdentifyGap(ctx, l.ID, o.ID, GapReport{Name: n}); err != nil {
			t.Fatal(err)
		}
	}

	first, err := w.RecordConnection(ctx, l.ID, ConnectionReport{From: "Anchoring", To: "Framing", Relationship: "both set a reference point", Strength: 0.6})
	if err != nil {
		t.Fatal(err)
	}
	second, err := w.RecordConnection(ctx, l.ID, ConnectionReport{From: "Framing", To: "Anchoring", Strength: 0.4, UsedInTeaching: true})
	if err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID {
		t.Fatal("reverse report created a second edge")
	}
	if second.Strength() != 0.6 || !second.UsedInTeaching() || second.Relationship() != "both set a reference point" {
		t.Fatalf("edge metadata = %+v", second.Metadata)
	}

	third, err := w.RecordConnection(ctx, l.ID, ConnectionReport{From: "Framing", To: "Anchoring", Strength: 0.9})
	if err != nil {
		t.Fatal(err)
	}
	if third.Strength() != 0.9 {
		t.Fatalf("strength = %v, want 0.9", third.Strength())
	}
	edges, _ := s.EdgesFrom(ctx, first.FromID, knowledge.EdgeRelatesTo)
	if len(edges) != 1 {
		t.Fatalf("relates_to edges = %d", len(edges))
	}
}

func TestApplicationLifecycle(t *testing.T) {
	ctx := context.Background()
	w, s, l, o := setup(t)
	if _, err := w.IdentifyGap(ctx, l.ID, o.ID, GapReport{Name: "Timeboxing"}); err != nil {
		t.Fatal(err)
	}

	a, err := w.CreateApplication(ctx, l.ID, o.ID, ApplicationReport{
		Context:     "Friday retro",
		PlannedDate: testNow.Add(-time.Hour),
		Concepts:    []string{"Timeboxing", "unknown thing"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if a.Status != knowledge.AppUpcoming || len(a.ConceptIDs) != 1 {
		t.Fatalf("application = %+v", a)
	}

	promoted, err := w.PromoteDue(ctx, l.ID)
	if err != nil || len(promoted) != 1 {
		t.Fatalf("promoted = %v, %v", promoted, err)
	}

	res, err := w.RecordFollowup(ctx, FollowupReport{
		ApplicationID: a.ID,
		Response:      "went ok but people talked over each other",
		GapsRevealed:  []string{"Facilitation", "Timeboxing"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Application.Status != knowledge.AppCompleted || res.Application.CompletedAt == nil {
		t.Fatalf("application = %+v", res.Application)
	}
	if len(res.Gaps) != 2 || !res.Gaps[0].Created || res.Gaps[1].Created {
		t.Fatalf("gaps = %+v", res.Gaps)
	}

	applied, _ := s.EdgesTo(ctx, a.ID, knowledge.EdgeAppliedIn)
	if len(applied) != 2 {
		t.Fatalf("applied_in edges = %d, want 2", len(applied))
	}

	if _, err := w.RecordFollowup(ctx, FollowupReport{ApplicationID: a.ID}); !errors.Is(err, knowledge.ErrInvalidTransition) {
		t.Fatalf("completing twice: err = %v, want ErrInvalidTransition", err)
	}
}

func TestFollowupSkipFromUpcoming(t *testing.T) {
	ctx := context.Background()
	w, _, l, o := setup(t)
	a, err := w.CreateApplication(ctx, l.ID, o.ID, ApplicationReport{Context: "1:1", PlannedDate: testNow.AddDate(0, 0, 2)})
	if err != nil {
		t.Fatal(err)
	}
	res, err := w.RecordFollowup(ctx, FollowupReport{ApplicationID: a.ID, Skipped: true, GapsRevealed: []string{"ignored"}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Application.Status != knowledge.AppSkipped || len(res.Gaps) != 0 {
		t.Fatalf("result = %+v", res)
	}
}

type recordingNotifier struct {
	mu   sync.Mutex
	apps []string
}

func (n *recordingNotifier) FollowupDue(_ context.Context, a knowledge.ApplicationEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.apps = append(n.apps, a.ID)
	return nil
}

func TestSweeperPromotesAndNotifies(t *testing.T) {
	ctx := context.Background()
	w, _, l, o := setup(t)
	due, _ := w.CreateApplication(ctx, l.ID, o.ID, ApplicationReport{Context: "standup", PlannedDate: testNow.Add(-time.Minute)})
	if _, err := w.CreateApplication(ctx, l.ID, o.ID, ApplicationReport{Context: "later", PlannedDate: testNow.Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}

	n := &recordingNotifier{}
	sw := NewSweeper(w, n, time.Hour, zap.NewNop())
	if got := sw.SweepNow(ctx); got != 1 {
		t.Fatalf("promoted = %d, want 1", got)
	}
	if len(n.apps) != 1 || n.apps[0] != due.ID {
		t.Fatalf("notified = %v", n.apps)
	}
	if got := sw.SweepNow(ctx); got != 0 {
		t.Fatalf("second sweep promoted %d", got)
	}
}
