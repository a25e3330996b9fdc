package stream

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"DiscoveryFeed/internal/domain"
	"DiscoveryFeed/internal/logging"
	"DiscoveryFeed/internal/ports"
)

func receive(t *testing.T, sub ports.Subscription) domain.AuditEvent {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "subscription closed unexpectedly")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for audit event")
	}
	return domain.AuditEvent{}
}

func TestMemoryStream_DeliversOnlyMatchingRun(t *testing.T) {
	s := NewMemoryStream(4, logging.Discard())
	ctx := context.Background()

	sub, err := s.Subscribe(ctx, "run-1")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, s.Publish(ctx, domain.AuditEvent{RunID: "run-2", Seq: 1}))
	require.NoError(t, s.Publish(ctx, domain.AuditEvent{RunID: "run-1", Seq: 2, Step: domain.StepFetch}))

	ev := receive(t, sub)
	assert.Equal(t, int64(2), ev.Seq)
	assert.Equal(t, domain.StepFetch, ev.Step)
}

func TestMemoryStream_SlowSubscriberDoesNotBlock(t *testing.T) {
	s := NewMemoryStream(1, logging.Discard())
	ctx := context.Background()

	sub, err := s.Subscribe(ctx, "run-1")
	require.NoError(t, err)
	defer sub.Close()

	for i := 0; i < 10; i++ {
		require.NoError(t, s.Publish(ctx, domain.AuditEvent{RunID: "run-1", Seq: int64(i + 1)}))
	}
	assert.Equal(t, int64(1), receive(t, sub).Seq)
}

func TestMemoryStream_CloseOnContextCancel(t *testing.T) {
	s := NewMemoryStream(4, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := s.Subscribe(ctx, "run-1")
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed after cancel")
	}
	require.NoError(t, s.Publish(context.Background(), domain.AuditEvent{RunID: "run-1"}))
	require.NoError(t, sub.Close())
}

func TestRedisStream_PublishSubscribe(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s := NewRedisStream(client, "test", 8, logging.Discard())
	ctx := context.Background()

	sub, err := s.Subscribe(ctx, "run-1")
	require.NoError(t, err)
	defer sub.Close()

	want := domain.AuditEvent{
		Seq:      5,
		RunID:    "run-1",
		Step:     domain.StepSave,
		Status:   domain.EventOK,
		Decision: &domain.DecisionMeta{Origin: domain.OriginQuery},
	}
	require.NoError(t, s.Publish(ctx, want))

	got := receive(t, sub)
	assert.Equal(t, want.Seq, got.Seq)
	assert.Equal(t, want.Step, got.Step)
	require.NotNil(t, got.Decision)
	assert.Equal(t, domain.OriginQuery, got.Decision.Origin)
}
