//go:build integration

package graph

import (
	"context"
	"testing"

	"github.com/nidhogg/nuka-tutor/internal/knowledge"
	"github.com/stretchr/testify/require"
	tcneo4j "github.com/testcontainers/testcontainers-go/modules/neo4j"
	"go.uber.org/zap"
)

func TestNeo4jEdgeStore(t *testing.T) {
	ctx := context.Background()
	container, err := tcneo4j.Run(ctx, "neo4j:5-community", tcneo4j.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(ctx) })

	uri, err := container.BoltUrl(ctx)
	require.NoError(t, err)

	s, err := NewStore(uri, "", "", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close(ctx) })
	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.EnsureSchema(ctx))

	rel := &knowledge.Edge{
		FromID: "c1", FromType: knowledge.NodeConcept,
		ToID: "c2", ToType: knowledge.NodeConcept,
		Type:     knowledge.EdgeRelatesTo,
		Metadata: map[string]any{knowledge.MetaStrength: 0.3, knowledge.MetaRelationship: "contrast"},
	}
	require.NoError(t, s.CreateEdge(ctx, rel))
	require.NoError(t, s.CreateEdge(ctx, &knowledge.Edge{
		FromID: "c1", FromType: knowledge.NodeConcept,
		ToID: "p1", ToType: knowledge.NodeProof,
		Type: knowledge.EdgeDemonstratedBy,
	}))

	rel.Metadata[knowledge.MetaStrength] = 0.7
	require.NoError(t, s.UpdateEdge(ctx, rel))

	out, err := s.EdgesFrom(ctx, "c1", knowledge.EdgeRelatesTo)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, rel.ID, out[0].ID)
	require.Equal(t, knowledge.NodeConcept, out[0].ToType)
	require.InDelta(t, 0.7, out[0].Strength(), 1e-9)
	require.Equal(t, "contrast", out[0].Relationship())

	all, err := s.EdgesFrom(ctx, "c1", "")
	require.NoError(t, err)
	require.Len(t, all, 2)

	in, err := s.EdgesTo(ctx, "p1", knowledge.EdgeDemonstratedBy)
	require.NoError(t, err)
	require.Len(t, in, 1)

	err = s.UpdateEdge(ctx, &knowledge.Edge{ID: "missing"})
	require.True(t, knowledge.IsNotFound(err))
}
