package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"DiscoveryFeed/internal/domain"
	"DiscoveryFeed/internal/infrastructure/storage"
	"DiscoveryFeed/internal/infrastructure/stream"
	"DiscoveryFeed/internal/logging"
	"DiscoveryFeed/internal/ports"
)

func rejected(step, reason string) domain.AuditEvent {
	return domain.AuditEvent{RunID: "r1", Step: step, Status: domain.EventFail, Decision: &domain.DecisionMeta{Reason: reason}}
}

func TestWhyRejectedOrdersByCount(t *testing.T) {
	events := []domain.AuditEvent{
		rejected(domain.StepFilter, "shallow_path"),
		rejected(domain.StepContentFilter, domain.ReasonDuplicate),
		rejected(domain.StepContentFilter, domain.ReasonDuplicate),
		rejected(domain.StepContentFilter, domain.ReasonTooShort),
		{RunID: "r1", Step: domain.StepSave, Status: domain.EventOK},
	}

	got := WhyRejected(events)
	require.Len(t, got, 3)
	assert.Equal(t, ReasonCount{Reason: domain.ReasonDuplicate, Count: 2}, got[0])
	assert.Equal(t, "shallow_path", got[1].Reason)
	assert.Equal(t, domain.ReasonTooShort, got[2].Reason)
}

func TestSeedsVsQueriesAndRobots(t *testing.T) {
	events := []domain.AuditEvent{
		{Step: domain.StepSeed, Status: domain.EventOK, Decision: &domain.DecisionMeta{Origin: domain.OriginSeed}},
		{Step: domain.StepSeed, Status: domain.EventOK, Decision: &domain.DecisionMeta{Origin: domain.OriginQuery}},
		{Step: domain.StepSeed, Status: domain.EventOK, Decision: &domain.DecisionMeta{Origin: domain.OriginQuery}},
		{Step: domain.StepFetch, Status: domain.EventFail, CandidateURL: "https://a.example/x/y",
			Decision: &domain.DecisionMeta{Reason: domain.ReasonRobotsDisallowed, Rule: "/x"}},
	}

	assert.Equal(t, OriginSplit{Seeds: 1, Queries: 2}, SeedsVsQueries(events))
	assert.Equal(t, []RobotsDecision{{URL: "https://a.example/x/y", Rule: "/x"}}, RobotsDecisions(events))
}

func TestBuildAnalyticsZeroSave(t *testing.T) {
	s := BuildAnalytics(nil, domain.RunMetrics{}, nil)
	assert.Equal(t, StatusZeroSave, s.Status)
	assert.Equal(t, "no_events_recorded", s.Diagnostic)
	assert.Empty(t, s.RobotsDecisions)

	s = BuildAnalytics([]domain.AuditEvent{rejected(domain.StepFilter, "stale")}, domain.RunMetrics{}, nil)
	assert.Equal(t, StatusZeroSave, s.Status)
	assert.Equal(t, "top_rejection:stale", s.Diagnostic)
}

func TestBuildAnalyticsFoldsMetrics(t *testing.T) {
	ttf := int64(1500)
	events := []domain.AuditEvent{
		{RunID: "r1", Step: domain.StepFetch, Status: domain.EventOK, Provider: "rss"},
		{RunID: "r1", Step: domain.StepContentFilter, Status: domain.EventFail,
			Decision: &domain.DecisionMeta{Reason: domain.ReasonPaywall, Paywall: "hard"}},
		{RunID: "r1", Step: domain.StepSave, Status: domain.EventOK, Provider: "rss"},
	}
	m := domain.RunMetrics{TimeToFirstMs: &ttf, FrontierDepth: 4, ControversyAttempts: 4, ControversySaves: 1}

	s := BuildAnalytics(events, m, &Precomputed{SeedsVsQueries: &OriginSplit{Seeds: 9}})

	assert.Equal(t, StatusOK, s.Status)
	assert.Equal(t, "r1", s.RunID)
	assert.Equal(t, 1, s.Saves)
	assert.Equal(t, 1, s.FailedEvents)
	assert.Equal(t, 9, s.SeedsVsQueries.Seeds)
	assert.Equal(t, 1, s.PaywallBranches["hard"])
	assert.Equal(t, 2, s.ProviderCounts["rss"])
	assert.Equal(t, 4, s.FrontierDepth)
	require.NotNil(t, s.TimeToFirstSeconds)
	assert.InDelta(t, 1.5, *s.TimeToFirstSeconds, 1e-9)
	require.NotNil(t, s.ControversyWindow.Ratio)
	assert.InDelta(t, 0.25, *s.ControversyWindow.Ratio, 1e-9)
}

func TestLogRecordPersistsAndPublishes(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	log := NewLog(store, stream.NewMemoryStream(8, logging.Discard()), logging.Discard())

	sub, err := log.Subscribe(ctx, "r1")
	require.NoError(t, err)
	defer sub.Close()

	ev, err := log.Record(ctx, domain.AuditEvent{RunID: "r1", Step: domain.StepSeed})
	require.NoError(t, err)
	assert.Equal(t, domain.EventOK, ev.Status)
	assert.NotZero(t, ev.Seq)
	assert.False(t, ev.Timestamp.IsZero())

	select {
	case got := <-sub.Events():
		assert.Equal(t, ev.Seq, got.Seq)
	case <-time.After(time.Second):
		t.Fatal("event not published")
	}

	_, err = log.Record(ctx, domain.AuditEvent{Step: domain.StepSeed})
	assert.Error(t, err)
}

type failingStream struct{}

func (failingStream) Publish(context.Context, domain.AuditEvent) error { return errors.New("down") }
func (failingStream) Subscribe(context.Context, string) (ports.Subscription, error) {
	return nil, errors.New("down")
}

func TestLogPublishFailureKeepsEvent(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	log := NewLog(store, failingStream{}, logging.Discard())

	_, err := log.Record(ctx, domain.AuditEvent{RunID: "r1", Step: domain.StepFetch})
	require.NoError(t, err)

	events, err := log.Snapshot(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestSnapshotWalksPages(t *testing.T) {
	ctx := context.Background()
	log := NewLog(storage.NewMemoryStore(), nil, logging.Discard())
	log.pageSize = 2
	for i := 0; i < 5; i++ {
		_, err := log.Record(ctx, domain.AuditEvent{RunID: "r1", Step: domain.StepFetch})
		require.NoError(t, err)
	}

	events, err := log.Snapshot(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, events, 5)
	for i := 1; i < len(events); i++ {
		assert.Less(t, events[i-1].Seq, events[i].Seq)
	}

	page, next, err := log.Page(ctx, "r1", 0, 10)
	require.NoError(t, err)
	assert.Len(t, page, 2)
	assert.NotZero(t, next)
}
