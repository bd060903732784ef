//go:build integration

package notify

import (
	"context"
	"testing"
	"time"

	"github.com/nidhogg/nuka-tutor/internal/knowledge"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"
)

func TestBusPublishSubscribe(t *testing.T) {
	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(ctx) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	bus, err := NewBus("redis://"+endpoint, zap.NewNop())
	require.NoError(t, err)
	defer bus.Close()

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	events := bus.Subscribe(subCtx, "l1")
	// XREAD with "$" only sees entries added after the read starts.
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, bus.FollowupDue(ctx, knowledge.ApplicationEvent{
		ID: "app-1", LearnerID: "l1", Context: "pitch the plan",
	}))

	select {
	case ev := <-events:
		require.Equal(t, EventFollowupDue, ev.Type)
		require.Equal(t, "app-1", ev.ApplicationID)
		require.NotEmpty(t, ev.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("no event received")
	}

	cancel()
	for range events {
	}
}
