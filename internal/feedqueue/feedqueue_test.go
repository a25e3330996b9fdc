package feedqueue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"DiscoveryFeed/internal/config"
	"DiscoveryFeed/internal/domain"
	"DiscoveryFeed/internal/infrastructure/storage"
)

type fakeMemory struct {
	mu     sync.Mutex
	calls  []string
	reject map[string]bool
	fail   map[string]error
}

func (f *fakeMemory) Feed(_ context.Context, consumerID string, item domain.ContentItem) (domain.MemoryReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, consumerID+"/"+item.ID)
	if err := f.fail[item.ID]; err != nil {
		return domain.MemoryReceipt{}, err
	}
	if f.reject[item.ID] {
		return domain.MemoryReceipt{Accepted: false}, nil
	}
	return domain.MemoryReceipt{Accepted: true, MemoryID: "mem-" + item.ID}, nil
}

func (f *fakeMemory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testConfig() config.FeedConfig {
	return config.FeedConfig{
		TickInterval:  10 * time.Millisecond,
		MinTextLength: 20,
		DefaultPacing: domain.Pacing{ThrottleMs: 0, MaxTasksPerTick: 2},
		PausedPacing:  domain.Pacing{ThrottleMs: 4000, MaxTasksPerTick: 1},
	}
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fixture struct {
	store    *storage.MemoryStore
	controls *Controls
	queue    *Queue
	memory   *fakeMemory
	worker   *Worker
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := storage.NewMemoryStore()
	cfg := testConfig()
	controls := NewControls(store, cfg)
	memory := &fakeMemory{reject: map[string]bool{}, fail: map[string]error{}}
	return fixture{
		store:    store,
		controls: controls,
		queue:    NewQueue(store, controls, cfg, discard()),
		memory:   memory,
		worker: NewWorker(cfg.TickInterval, WorkerDeps{
			Entries: store, Content: store, Controls: controls, Memory: memory, Logger: discard(),
		}),
	}
}

func (f fixture) saveItem(t *testing.T, id, patch, text string) domain.ContentItem {
	t.Helper()
	item := domain.ContentItem{ID: id, PatchID: patch, Title: id, Text: text, ContentHash: HashText(text)}
	require.NoError(t, f.store.SaveContent(context.Background(), item))
	return item
}

const longText = "a long enough body of text for the gate"

func TestEnqueueDedupesByConsumerAndHash(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	item := f.saveItem(t, "c1", "p1", longText)

	first, err := f.queue.Enqueue(ctx, Request{ConsumerID: "agent", Item: item, Source: domain.FeedFromDiscovery})
	require.NoError(t, err)
	assert.True(t, first.Enqueued)
	assert.Equal(t, domain.FeedPending, first.Status)

	copyItem := item
	copyItem.ID = "c2"
	second, err := f.queue.Enqueue(ctx, Request{ConsumerID: "agent", Item: copyItem, Source: domain.FeedFromManual})
	require.NoError(t, err)
	assert.False(t, second.Enqueued)
	assert.Equal(t, ReasonDuplicate, second.Reason)
	assert.Equal(t, first.EntryID, second.EntryID)

	other, err := f.queue.Enqueue(ctx, Request{ConsumerID: "other", Item: item})
	require.NoError(t, err)
	assert.True(t, other.Enqueued)
}

func TestConcurrentEnqueueCreatesOneEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	item := f.saveItem(t, "c1", "p1", longText)

	const workers = 32
	results := make([]Result, workers)
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			dup := item
			dup.ID = fmt.Sprintf("c%d", i)
			res, err := f.queue.Enqueue(ctx, Request{ConsumerID: "agent", Item: dup, Source: domain.FeedFromDiscovery})
			results[i] = res
			return err
		})
	}
	require.NoError(t, g.Wait())

	created := 0
	for _, res := range results {
		if res.Enqueued {
			created++
			continue
		}
		assert.Equal(t, ReasonDuplicate, res.Reason)
	}
	assert.Equal(t, 1, created)
	for _, res := range results[1:] {
		assert.Equal(t, results[0].EntryID, res.EntryID)
	}
}

func TestEnqueueQualityGateStoresSkipped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	item := f.saveItem(t, "short", "p1", "tiny")

	res, err := f.queue.Enqueue(ctx, Request{ConsumerID: "agent", Item: item})
	require.NoError(t, err)
	assert.False(t, res.Enqueued)
	assert.Equal(t, domain.FeedSkipped, res.Status)
	assert.Equal(t, ReasonQualityGate, res.Reason)

	entry, err := f.queue.Entry(ctx, res.EntryID)
	require.NoError(t, err)
	assert.Equal(t, domain.FeedSkipped, entry.Status)
}

func TestPauseBlocksDiscoveryOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	lane := domain.Lane{ConsumerID: "agent", PatchID: "p1"}
	_, err := f.controls.Pause(ctx, lane)
	require.NoError(t, err)

	item := f.saveItem(t, "c1", "p1", longText)
	res, err := f.queue.Enqueue(ctx, Request{ConsumerID: "agent", Item: item, Source: domain.FeedFromDiscovery})
	require.NoError(t, err)
	assert.False(t, res.Enqueued)
	assert.Equal(t, ReasonDiscoveryPaused, res.Reason)
	assert.Empty(t, res.EntryID)

	res, err = f.queue.Enqueue(ctx, Request{ConsumerID: "agent", Item: item, Source: domain.FeedFromManual})
	require.NoError(t, err)
	assert.True(t, res.Enqueued)

	otherPatch := f.saveItem(t, "c2", "p2", longText+" elsewhere")
	res, err = f.queue.Enqueue(ctx, Request{ConsumerID: "agent", Item: otherPatch, Source: domain.FeedFromDiscovery})
	require.NoError(t, err)
	assert.True(t, res.Enqueued)
}

func TestPauseResumeRestoresPacing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	lane := domain.Lane{ConsumerID: "agent", PatchID: "p1"}

	_, err := f.controls.SetPacing(ctx, lane, domain.Pacing{ThrottleMs: 4000, MaxTasksPerTick: 3})
	require.NoError(t, err)

	paused, err := f.controls.Pause(ctx, lane)
	require.NoError(t, err)
	assert.True(t, paused.PauseDiscovery)
	assert.Equal(t, testConfig().PausedPacing, paused.Pacing)

	again, err := f.controls.Pause(ctx, lane)
	require.NoError(t, err)
	require.NotNil(t, again.Prior)
	assert.Equal(t, 4000, again.Prior.ThrottleMs)

	resumed, err := f.controls.Resume(ctx, lane)
	require.NoError(t, err)
	assert.False(t, resumed.PauseDiscovery)
	assert.Nil(t, resumed.Prior)
	assert.Equal(t, domain.Pacing{ThrottleMs: 4000, MaxTasksPerTick: 3}, resumed.Pacing)
}

func TestSetPacingWhilePausedAppliesOnResume(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	lane := domain.Lane{ConsumerID: "agent", PatchID: "p1"}

	_, err := f.controls.Pause(ctx, lane)
	require.NoError(t, err)
	ctl, err := f.controls.SetPacing(ctx, lane, domain.Pacing{ThrottleMs: 250, MaxTasksPerTick: 9})
	require.NoError(t, err)
	assert.Equal(t, testConfig().PausedPacing, ctl.Pacing)

	resumed, err := f.controls.Resume(ctx, lane)
	require.NoError(t, err)
	assert.Equal(t, domain.Pacing{ThrottleMs: 250, MaxTasksPerTick: 9}, resumed.Pacing)

	_, err = f.controls.SetPacing(ctx, lane, domain.Pacing{MaxTasksPerTick: 0})
	assert.Error(t, err)
}

func TestTickHonoursMaxTasksPerLane(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for i, text := range []string{longText + " one", longText + " two", longText + " three"} {
		item := f.saveItem(t, "a"+string(rune('0'+i)), "p1", text)
		_, err := f.queue.Enqueue(ctx, Request{ConsumerID: "agent", Item: item})
		require.NoError(t, err)
	}
	item := f.saveItem(t, "b0", "p2", longText+" other lane")
	_, err := f.queue.Enqueue(ctx, Request{ConsumerID: "agent", Item: item})
	require.NoError(t, err)

	report, err := f.worker.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Lanes)
	assert.Equal(t, 3, report.Delivered)

	counts, err := f.queue.Stats(ctx, domain.Lane{ConsumerID: "agent", PatchID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, 2, counts[domain.FeedDone])
	assert.Equal(t, 1, counts[domain.FeedPending])

	report, err = f.worker.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Delivered)
	assert.Equal(t, 4, f.memory.count())
}

func TestFailedDeliveryIsNotRetried(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	item := f.saveItem(t, "c1", "p1", longText)
	f.memory.fail["c1"] = errors.New("memory api: 503")

	res, err := f.queue.Enqueue(ctx, Request{ConsumerID: "agent", Item: item})
	require.NoError(t, err)

	report, err := f.worker.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	entry, err := f.queue.Entry(ctx, res.EntryID)
	require.NoError(t, err)
	assert.Equal(t, domain.FeedFailed, entry.Status)
	assert.True(t, strings.Contains(entry.LastError, "503"))

	_, err = f.worker.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, f.memory.count())

	delete(f.memory.fail, "c1")
	_, err = f.queue.Requeue(ctx, res.EntryID)
	require.NoError(t, err)
	_, err = f.worker.Tick(ctx)
	require.NoError(t, err)

	entry, err = f.queue.Entry(ctx, res.EntryID)
	require.NoError(t, err)
	assert.Equal(t, domain.FeedDone, entry.Status)
	assert.Equal(t, "mem-c1", entry.MemoryID)
}

func TestRejectedDeliveryRecordsReason(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	item := f.saveItem(t, "c1", "p1", longText)
	f.memory.reject["c1"] = true

	res, err := f.queue.Enqueue(ctx, Request{ConsumerID: "agent", Item: item})
	require.NoError(t, err)
	_, err = f.worker.Tick(ctx)
	require.NoError(t, err)

	entry, err := f.queue.Entry(ctx, res.EntryID)
	require.NoError(t, err)
	assert.Equal(t, domain.FeedFailed, entry.Status)
	assert.Equal(t, ReasonConsumerRejected, entry.LastError)
}

func TestRequeueErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.queue.Requeue(ctx, "missing")
	assert.ErrorIs(t, err, ErrUnknownEntry)

	item := f.saveItem(t, "c1", "p1", longText)
	res, err := f.queue.Enqueue(ctx, Request{ConsumerID: "agent", Item: item})
	require.NoError(t, err)
	_, err = f.queue.Requeue(ctx, res.EntryID)
	assert.ErrorIs(t, err, ErrNotRequeueable)
}

func TestThrottleSpacesDequeues(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	lane := domain.Lane{ConsumerID: "agent", PatchID: "p1"}
	_, err := f.controls.SetPacing(ctx, lane, domain.Pacing{ThrottleMs: 40, MaxTasksPerTick: 2})
	require.NoError(t, err)

	for i, text := range []string{longText + " x", longText + " y"} {
		item := f.saveItem(t, "t"+string(rune('0'+i)), "p1", text)
		_, err := f.queue.Enqueue(ctx, Request{ConsumerID: "agent", Item: item})
		require.NoError(t, err)
	}

	started := time.Now()
	report, err := f.worker.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Delivered)
	assert.GreaterOrEqual(t, time.Since(started), 40*time.Millisecond)
}

func TestHashTextNormalises(t *testing.T) {
	assert.Equal(t, HashText("Hello   World"), HashText("hello world\n"))
	assert.NotEqual(t, HashText("hello world"), HashText("hello there"))
}
