//go:build integration

package sessionstate

import (
	"context"
	"testing"
	"time"

	"github.com/nidhogg/nuka-tutor/internal/input"
	"github.com/nidhogg/nuka-tutor/internal/intent"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRedisSnapshotter(t *testing.T) {
	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(ctx) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	snap, err := NewRedisSnapshotter("redis://"+endpoint, time.Hour, zap.NewNop())
	require.NoError(t, err)
	defer snap.Close()

	missing, err := snap.Load(ctx, "nobody")
	require.NoError(t, err)
	require.Nil(t, missing)

	m := NewManager(snap, zap.NewNop())
	m.SetModality(ctx, "s1", input.Voice)
	m.MergeCollected(ctx, "s1", intent.CheckIn, map[string]any{"energyLevel": 55.0})

	restored, err := snap.Load(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, input.Voice, restored.ModalityPreference)
	require.Equal(t, 55, *restored.CheckInData.EnergyLevel)

	require.NoError(t, snap.Delete(ctx, "s1"))
	gone, err := snap.Load(ctx, "s1")
	require.NoError(t, err)
	require.Nil(t, gone)
}
