package stats

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zagan-the-gun/MenZ-FuguMT/pkg/models"
)

func newAggregator() *Aggregator {
	return NewAggregator(prometheus.NewRegistry())
}

func TestConnectionCounters(t *testing.T) {
	a := newAggregator()
	a.ConnectionOpened()
	a.ConnectionOpened()
	a.ConnectionClosed()

	s := a.Snapshot()
	assert.Equal(t, int64(2), s.TotalConnections)
	assert.Equal(t, int64(1), s.ActiveConnections)
	assert.Equal(t, int64(1), a.ActiveConnections())
}

func TestRequestLifecycleCounters(t *testing.T) {
	a := newAggregator()

	a.Admitted(models.PriorityHigh)
	a.Admitted(models.PriorityNormal)
	a.Admitted(models.PriorityNormal)
	a.Rejected()

	s := a.Snapshot()
	assert.Equal(t, int64(3), s.Admitted)
	assert.Equal(t, int64(1), s.Rejected)
	assert.Equal(t, int64(1), s.QueueDepth[models.PriorityHigh])
	assert.Equal(t, int64(2), s.QueueDepth[models.PriorityNormal])

	a.Dequeued(models.PriorityNormal)
	a.Finished(&models.Result{Status: models.StatusCompleted, Duration: 100 * time.Millisecond})
	a.Finished(&models.Result{Status: models.StatusError})
	a.Finished(&models.Result{Status: models.StatusTimeout})

	s = a.Snapshot()
	assert.Equal(t, int64(1), s.QueueDepth[models.PriorityNormal])
	assert.Equal(t, int64(1), s.Completed)
	assert.Equal(t, int64(1), s.Errored)
	assert.Equal(t, int64(1), s.TimedOut)
	assert.Equal(t, 100*time.Millisecond, s.AvgProcessing)
}

func TestTotalsAreMonotonic(t *testing.T) {
	a := newAggregator()
	var prev Snapshot
	for i := 0; i < 50; i++ {
		a.Admitted(models.PriorityNormal)
		a.Dequeued(models.PriorityNormal)
		status := models.StatusCompleted
		switch i % 3 {
		case 1:
			status = models.StatusError
		case 2:
			status = models.StatusTimeout
		}
		a.Finished(&models.Result{Status: status, Duration: time.Millisecond})

		s := a.Snapshot()
		assert.GreaterOrEqual(t, s.Admitted, prev.Admitted)
		assert.GreaterOrEqual(t, s.Completed, prev.Completed)
		assert.GreaterOrEqual(t, s.Errored, prev.Errored)
		assert.GreaterOrEqual(t, s.TimedOut, prev.TimedOut)
		prev = s
	}
}

func TestBusyWorkers(t *testing.T) {
	a := newAggregator()
	a.WorkerBusy()
	a.WorkerBusy()
	a.WorkerIdle()
	assert.Equal(t, int64(1), a.Snapshot().BusyWorkers)
}

func TestServerStatsMap(t *testing.T) {
	a := newAggregator()
	a.ConnectionOpened()
	a.Admitted(models.PriorityLow)

	m := a.Snapshot().ServerStatsMap()
	require.Contains(t, m, "uptime_seconds")
	assert.Equal(t, int64(1), m["active_connections"])
	assert.Equal(t, int64(1), m["total_requests"])
	assert.Equal(t, int64(1), m["queue_depth_low"])
}
