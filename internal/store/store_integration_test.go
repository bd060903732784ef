//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/nidhogg/nuka-tutor/internal/knowledge"
	"github.com/stretchr/testify/require"
	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("tutor_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := New(dsn, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.Migrate(ctx, "../../migrations"))
	// Migrations are idempotent.
	require.NoError(t, s.Migrate(ctx, "../../migrations"))
	return s
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	l := &knowledge.Learner{Name: "Ada", Insights: knowledge.LearnerInsights{PrefersExamples: true}}
	require.NoError(t, s.CreateLearner(ctx, l))
	out := &knowledge.Outcome{LearnerID: l.ID, Description: "negotiate a raise"}
	require.NoError(t, s.CreateOutcome(ctx, out))
	require.Equal(t, knowledge.OutcomeActive, out.Status)

	l.ActiveOutcomeID = out.ID
	l.ProofCount = 2
	require.NoError(t, s.UpdateLearner(ctx, l))
	got, err := s.GetLearner(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, out.ID, got.ActiveOutcomeID)
	require.Equal(t, 2, got.ProofCount)
	require.True(t, got.Insights.PrefersExamples)

	ids, err := s.ListLearnerIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{l.ID}, ids)

	c := &knowledge.Concept{LearnerID: l.ID, Name: "Anchoring", Foundational: true}
	require.NoError(t, s.CreateConcept(ctx, c))
	found, err := s.FindConceptByName(ctx, l.ID, "  anchoring ")
	require.NoError(t, err)
	require.Equal(t, c.ID, found.ID)
	require.Equal(t, knowledge.ConceptIdentified, found.Status)

	_, err = s.FindConceptByName(ctx, "someone-else", "anchoring")
	require.True(t, knowledge.IsNotFound(err))

	p := &knowledge.Proof{ConceptID: c.ID, LearnerID: l.ID, DemonstrationType: knowledge.DemoBoth, Confidence: 0.8}
	require.NoError(t, s.CreateProof(ctx, p))
	proofs, err := s.ListProofs(ctx, l.ID)
	require.NoError(t, err)
	require.Len(t, proofs, 1)
	require.InDelta(t, 0.8, proofs[0].Confidence, 1e-9)
}

func TestStoreSessionsAndApplications(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	older := &knowledge.Session{LearnerID: "l1", StartedAt: time.Now().Add(-48 * time.Hour).UTC()}
	newer := &knowledge.Session{LearnerID: "l1"}
	require.NoError(t, s.CreateSession(ctx, older))
	require.NoError(t, s.CreateSession(ctx, newer))

	latest, err := s.LatestSession(ctx, "l1", newer.ID)
	require.NoError(t, err)
	require.Equal(t, older.ID, latest.ID)

	newer.Messages = append(newer.Messages, knowledge.Message{Role: "user", Content: "hi"})
	ended := time.Now().UTC()
	newer.EndedAt = &ended
	newer.EndingState = knowledge.EndingNatural
	require.NoError(t, s.UpdateSession(ctx, newer))
	got, err := s.GetSession(ctx, newer.ID)
	require.NoError(t, err)
	require.True(t, got.Ended())
	require.Len(t, got.Messages, 1)

	err = s.UpdateSession(ctx, &knowledge.Session{ID: "missing"})
	require.True(t, knowledge.IsNotFound(err))

	a := &knowledge.ApplicationEvent{LearnerID: "l1", Context: "salary review", PlannedDate: time.Now().Add(-time.Hour).UTC()}
	require.NoError(t, s.CreateApplication(ctx, a))
	require.Equal(t, knowledge.AppUpcoming, a.Status)
	a.Status = knowledge.AppPendingFollowup
	require.NoError(t, s.UpdateApplication(ctx, a))
	apps, err := s.ListApplications(ctx, "l1")
	require.NoError(t, err)
	require.Len(t, apps, 1)
	require.Equal(t, knowledge.AppPendingFollowup, apps[0].Status)
}

func TestStoreEdges(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	e := &knowledge.Edge{
		FromID: "c1", FromType: knowledge.NodeConcept,
		ToID: "c2", ToType: knowledge.NodeConcept,
		Type:     knowledge.EdgeRelatesTo,
		Metadata: map[string]any{knowledge.MetaStrength: 0.4},
	}
	require.NoError(t, s.CreateEdge(ctx, e))
	require.NoError(t, s.CreateEdge(ctx, &knowledge.Edge{FromID: "c1", ToID: "p1", Type: knowledge.EdgeDemonstratedBy}))

	e.Metadata[knowledge.MetaStrength] = 0.9
	require.NoError(t, s.UpdateEdge(ctx, e))

	rel, err := s.EdgesFrom(ctx, "c1", knowledge.EdgeRelatesTo)
	require.NoError(t, err)
	require.Len(t, rel, 1)
	require.InDelta(t, 0.9, rel[0].Strength(), 1e-9)

	all, err := s.EdgesFrom(ctx, "c1", "")
	require.NoError(t, err)
	require.Len(t, all, 2)

	in, err := s.EdgesTo(ctx, "c2", "")
	require.NoError(t, err)
	require.Len(t, in, 1)
}
