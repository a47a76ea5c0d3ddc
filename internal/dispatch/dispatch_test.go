package dispatch_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zagan-the-gun/MenZ-FuguMT/internal/cache"
	"github.com/zagan-the-gun/MenZ-FuguMT/internal/dispatch"
	"github.com/zagan-the-gun/MenZ-FuguMT/internal/engine"
	"github.com/zagan-the-gun/MenZ-FuguMT/internal/engine/enginetest"
	"github.com/zagan-the-gun/MenZ-FuguMT/internal/queue"
	"github.com/zagan-the-gun/MenZ-FuguMT/internal/stats"
	"github.com/zagan-the-gun/MenZ-FuguMT/pkg/models"
)

type fixture struct {
	queue   *queue.Queue
	engine  *enginetest.Engine
	stats   *stats.Aggregator
	results chan *models.Result
	pool    *dispatch.Pool
	cancel  context.CancelFunc
}

func newFixture(t *testing.T, workers int, c cache.Cache) *fixture {
	t.Helper()
	f := &fixture{
		queue:   queue.New(64),
		engine:  enginetest.New(),
		stats:   stats.NewAggregator(prometheus.NewRegistry()),
		results: make(chan *models.Result, 64),
	}
	sink := dispatch.SinkFunc(func(res *models.Result) error {
		f.results <- res
		return nil
	})
	f.pool = dispatch.New(f.queue, f.engine, c, f.stats, sink, workers, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	f.pool.Start(ctx)
	t.Cleanup(func() {
		cancel()
		f.pool.Wait()
	})
	return f
}

func (f *fixture) push(t *testing.T, id string, prio models.Priority) {
	t.Helper()
	now := time.Now()
	require.NoError(t, f.queue.Push(&models.Request{
		ID: id, ConnID: "conn-1", Text: id,
		SourceLang: "en", TargetLang: "ja",
		Priority: prio, EnqueuedAt: now, Deadline: now.Add(30 * time.Second),
	}))
	f.stats.Admitted(prio)
}

func (f *fixture) collect(t *testing.T, n int) []*models.Result {
	t.Helper()
	out := make([]*models.Result, 0, n)
	for i := 0; i < n; i++ {
		select {
		case res := <-f.results:
			out = append(out, res)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for result %d of %d", i+1, n)
		}
	}
	return out
}

func TestRoundTrip(t *testing.T) {
	f := newFixture(t, 2, cache.Nop{})
	f.push(t, "r1", models.PriorityNormal)

	res := f.collect(t, 1)[0]
	assert.Equal(t, "r1", res.Request.ID)
	assert.Equal(t, models.StatusCompleted, res.Status)
	assert.Equal(t, "[en-ja] r1", res.Translated)
	assert.Greater(t, res.Duration, time.Duration(0))
}

func TestFIFOWithinLane(t *testing.T) {
	f := newFixture(t, 1, cache.Nop{})
	for _, id := range []string{"a", "b", "c", "d"} {
		f.push(t, id, models.PriorityNormal)
	}

	got := f.collect(t, 4)
	for i, want := range []string{"a", "b", "c", "d"} {
		assert.Equal(t, want, got[i].Request.ID)
	}
}

func TestHighLaneDrainsFirst(t *testing.T) {
	f := newFixture(t, 1, cache.Nop{})
	f.engine.SetLatency(50 * time.Millisecond)

	// Occupy the single worker so the next three pushes are all queued
	// before the next pop.
	f.push(t, "gate", models.PriorityHigh)
	f.push(t, "low", models.PriorityLow)
	f.push(t, "normal", models.PriorityNormal)
	f.push(t, "high", models.PriorityHigh)

	got := f.collect(t, 4)
	ids := make([]string, len(got))
	for i, res := range got {
		ids[i] = res.Request.ID
	}
	assert.Equal(t, []string{"gate", "high", "normal", "low"}, ids)
}

func TestConcurrencyBoundedByWorkerCount(t *testing.T) {
	f := newFixture(t, 2, cache.Nop{})
	f.engine.SetLatency(30 * time.Millisecond)

	for i := 0; i < 6; i++ {
		f.push(t, string(rune('a'+i)), models.PriorityNormal)
	}
	f.collect(t, 6)

	assert.LessOrEqual(t, f.engine.MaxConcurrent(), int64(2))
	assert.Equal(t, int64(6), f.engine.Calls())
}

func TestExpiredRequestTimesOutWithoutEngineCall(t *testing.T) {
	f := newFixture(t, 1, cache.Nop{})

	now := time.Now()
	require.NoError(t, f.queue.Push(&models.Request{
		ID: "stale", ConnID: "conn-1", Text: "stale",
		SourceLang: "en", TargetLang: "ja",
		Priority:   models.PriorityNormal,
		EnqueuedAt: now.Add(-time.Minute), Deadline: now.Add(-30 * time.Second),
	}))
	f.stats.Admitted(models.PriorityNormal)
	f.push(t, "fresh", models.PriorityNormal)

	got := f.collect(t, 2)
	byID := map[string]*models.Result{}
	for _, res := range got {
		byID[res.Request.ID] = res
	}

	require.Contains(t, byID, "stale")
	assert.Equal(t, models.StatusTimeout, byID["stale"].Status)
	assert.Contains(t, byID["stale"].ErrorMessage, "timed out")
	assert.Equal(t, models.StatusCompleted, byID["fresh"].Status)
	assert.Equal(t, int64(1), f.engine.Calls(), "expired request must not reach the engine")

	snap := f.stats.Snapshot()
	assert.Equal(t, int64(1), snap.TimedOut)
	assert.Equal(t, int64(1), snap.Completed)
}

func TestEngineErrorBecomesErrorResult(t *testing.T) {
	f := newFixture(t, 1, cache.Nop{})
	f.engine.SetError(errors.New("model exploded"))
	f.push(t, "r1", models.PriorityNormal)

	res := f.collect(t, 1)[0]
	assert.Equal(t, models.StatusError, res.Status)
	assert.Contains(t, res.ErrorMessage, "model exploded")
	assert.Equal(t, int64(1), f.stats.Snapshot().Errored)
}

func TestCacheHitSkipsEngine(t *testing.T) {
	mem := cache.NewMemory(16)
	f := newFixture(t, 1, mem)

	f.push(t, "r1", models.PriorityNormal)
	first := f.collect(t, 1)[0]
	require.Equal(t, models.StatusCompleted, first.Status)
	assert.False(t, first.CacheHit)

	// Same text and pair again.
	now := time.Now()
	require.NoError(t, f.queue.Push(&models.Request{
		ID: "r2", ConnID: "conn-1", Text: "r1",
		SourceLang: "en", TargetLang: "ja",
		Priority: models.PriorityNormal, EnqueuedAt: now, Deadline: now.Add(30 * time.Second),
	}))
	f.stats.Admitted(models.PriorityNormal)

	second := f.collect(t, 1)[0]
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Translated, second.Translated)
	assert.Equal(t, int64(1), f.engine.Calls())
	assert.Equal(t, int64(1), f.stats.Snapshot().CacheHits)
}

type panicEngine struct{ *enginetest.Engine }

func (panicEngine) Translate(context.Context, engine.Request) (string, error) {
	panic("translator bug")
}

func TestWorkerPanicRecovered(t *testing.T) {
	q := queue.New(8)
	agg := stats.NewAggregator(prometheus.NewRegistry())
	results := make(chan *models.Result, 1)
	sink := dispatch.SinkFunc(func(res *models.Result) error {
		results <- res
		return nil
	})
	pool := dispatch.New(q, panicEngine{enginetest.New()}, cache.Nop{}, agg, sink, 1, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	now := time.Now()
	require.NoError(t, q.Push(&models.Request{
		ID: "boom", ConnID: "conn-1", Text: "boom",
		SourceLang: "en", TargetLang: "ja",
		Priority: models.PriorityNormal, EnqueuedAt: now, Deadline: now.Add(30 * time.Second),
	}))
	agg.Admitted(models.PriorityNormal)

	select {
	case res := <-results:
		assert.Equal(t, models.StatusError, res.Status)
		assert.Contains(t, res.ErrorMessage, "translator bug")
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not survive the panic")
	}

	cancel()
	pool.Wait()
}

func TestGoneConnectionCountsDropped(t *testing.T) {
	q := queue.New(8)
	agg := stats.NewAggregator(prometheus.NewRegistry())
	delivered := make(chan struct{}, 1)
	sink := dispatch.SinkFunc(func(res *models.Result) error {
		delivered <- struct{}{}
		return errors.New("connection closed")
	})
	pool := dispatch.New(q, enginetest.New(), cache.Nop{}, agg, sink, 1, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	now := time.Now()
	require.NoError(t, q.Push(&models.Request{
		ID: "orphan", ConnID: "gone", Text: "x",
		SourceLang: "en", TargetLang: "ja",
		Priority: models.PriorityNormal, EnqueuedAt: now, Deadline: now.Add(30 * time.Second),
	}))
	agg.Admitted(models.PriorityNormal)

	select {
	case <-delivered:
	case <-time.After(5 * time.Second):
		t.Fatal("no delivery attempt")
	}
	assert.Eventually(t, func() bool {
		return agg.Snapshot().ResultsDropped == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	pool.Wait()
}
