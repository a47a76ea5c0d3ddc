// Package stats maintains the service-wide counters backing the stats and
// health queries. The hot path touches it through atomic increments only;
// snapshots are point-in-time reads with derived values computed on demand.
package stats

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zagan-the-gun/MenZ-FuguMT/pkg/models"
)

// Aggregator accumulates request and connection counters. All totals are
// monotonically non-decreasing for the lifetime of the process.
type Aggregator struct {
	startTime time.Time

	totalConnections  atomic.Int64
	activeConnections atomic.Int64

	admitted      atomic.Int64
	rejected      atomic.Int64
	completed     atomic.Int64
	errored       atomic.Int64
	timedOut      atomic.Int64
	dropped       atomic.Int64
	cacheHits     atomic.Int64
	busyWorkers   atomic.Int64
	laneDepth     [models.NumPriorities]atomic.Int64
	processedNs   atomic.Int64
	processedHits atomic.Int64

	metrics *promMetrics
}

type promMetrics struct {
	activeConnections prometheus.Gauge
	totalConnections  prometheus.Counter
	requestsTotal     *prometheus.CounterVec
	queueDepth        *prometheus.GaugeVec
	busyWorkers       prometheus.Gauge
	latency           prometheus.Histogram
}

func newPromMetrics(reg prometheus.Registerer) *promMetrics {
	m := &promMetrics{
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "menz_active_connections",
			Help: "Current number of active client connections",
		}),
		totalConnections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "menz_connections_total",
			Help: "Total number of client connections accepted",
		}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "menz_requests_total",
			Help: "Total number of translation requests by terminal outcome",
		}, []string{"outcome"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "menz_queue_depth",
			Help: "Current queued requests per priority lane",
		}, []string{"lane"}),
		busyWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "menz_busy_workers",
			Help: "Workers currently executing a translation",
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "menz_translation_latency_seconds",
			Help:    "Wall-clock latency of completed translations",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		m.activeConnections,
		m.totalConnections,
		m.requestsTotal,
		m.queueDepth,
		m.busyWorkers,
		m.latency,
	)
	return m
}

// NewAggregator creates an aggregator registering its prometheus collectors
// with reg. Pass prometheus.NewRegistry() in tests.
func NewAggregator(reg prometheus.Registerer) *Aggregator {
	return &Aggregator{
		startTime: time.Now(),
		metrics:   newPromMetrics(reg),
	}
}

// ConnectionOpened records an accepted client connection.
func (a *Aggregator) ConnectionOpened() {
	a.totalConnections.Add(1)
	a.activeConnections.Add(1)
	a.metrics.totalConnections.Inc()
	a.metrics.activeConnections.Inc()
}

// ConnectionClosed records a client disconnect.
func (a *Aggregator) ConnectionClosed() {
	a.activeConnections.Add(-1)
	a.metrics.activeConnections.Dec()
}

// ActiveConnections returns the current connection count.
func (a *Aggregator) ActiveConnections() int64 {
	return a.activeConnections.Load()
}

// Admitted records a request entering the queue on the given lane.
func (a *Aggregator) Admitted(lane models.Priority) {
	a.admitted.Add(1)
	a.laneDepth[lane].Add(1)
	a.metrics.queueDepth.WithLabelValues(lane.String()).Inc()
}

// Rejected records a request refused at admission.
func (a *Aggregator) Rejected() {
	a.rejected.Add(1)
	a.metrics.requestsTotal.WithLabelValues("rejected").Inc()
}

// Dequeued records a request leaving the given lane, whether for dispatch,
// expiry, or purge.
func (a *Aggregator) Dequeued(lane models.Priority) {
	a.laneDepth[lane].Add(-1)
	a.metrics.queueDepth.WithLabelValues(lane.String()).Dec()
}

// WorkerBusy marks one worker as executing.
func (a *Aggregator) WorkerBusy() {
	a.busyWorkers.Add(1)
	a.metrics.busyWorkers.Inc()
}

// WorkerIdle marks one worker as done executing.
func (a *Aggregator) WorkerIdle() {
	a.busyWorkers.Add(-1)
	a.metrics.busyWorkers.Dec()
}

// Finished records a terminal result.
func (a *Aggregator) Finished(res *models.Result) {
	switch res.Status {
	case models.StatusCompleted:
		a.completed.Add(1)
		a.processedNs.Add(res.Duration.Nanoseconds())
		a.processedHits.Add(1)
		a.metrics.requestsTotal.WithLabelValues("completed").Inc()
		a.metrics.latency.Observe(res.Duration.Seconds())
	case models.StatusError:
		a.errored.Add(1)
		a.metrics.requestsTotal.WithLabelValues("error").Inc()
	case models.StatusTimeout:
		a.timedOut.Add(1)
		a.metrics.requestsTotal.WithLabelValues("timeout").Inc()
	}
	if res.CacheHit {
		a.cacheHits.Add(1)
	}
}

// ResultDropped records a result whose owning connection was already gone.
func (a *Aggregator) ResultDropped() {
	a.dropped.Add(1)
}

// Snapshot is a point-in-time view of the aggregator.
type Snapshot struct {
	StartTime         time.Time
	Uptime            time.Duration
	TotalConnections  int64
	ActiveConnections int64
	Admitted          int64
	Rejected          int64
	Completed         int64
	Errored           int64
	TimedOut          int64
	ResultsDropped    int64
	CacheHits         int64
	BusyWorkers       int64
	QueueDepth        [models.NumPriorities]int64
	AvgProcessing     time.Duration
}

// Snapshot returns the current counter values.
func (a *Aggregator) Snapshot() Snapshot {
	s := Snapshot{
		StartTime:         a.startTime,
		Uptime:            time.Since(a.startTime),
		TotalConnections:  a.totalConnections.Load(),
		ActiveConnections: a.activeConnections.Load(),
		Admitted:          a.admitted.Load(),
		Rejected:          a.rejected.Load(),
		Completed:         a.completed.Load(),
		Errored:           a.errored.Load(),
		TimedOut:          a.timedOut.Load(),
		ResultsDropped:    a.dropped.Load(),
		CacheHits:         a.cacheHits.Load(),
		BusyWorkers:       a.busyWorkers.Load(),
	}
	for i := range s.QueueDepth {
		s.QueueDepth[i] = a.laneDepth[i].Load()
	}
	if hits := a.processedHits.Load(); hits > 0 {
		s.AvgProcessing = time.Duration(a.processedNs.Load() / hits)
	}
	return s
}

// ServerStatsMap renders the snapshot in the wire shape of a stats response.
func (s Snapshot) ServerStatsMap() map[string]any {
	return map[string]any{
		"start_time":          float64(s.StartTime.UnixNano()) / 1e9,
		"uptime_seconds":      s.Uptime.Seconds(),
		"total_connections":   s.TotalConnections,
		"active_connections":  s.ActiveConnections,
		"total_requests":      s.Admitted,
		"total_rejected":      s.Rejected,
		"total_completed":     s.Completed,
		"total_errors":        s.Errored,
		"total_timeouts":      s.TimedOut,
		"results_dropped":     s.ResultsDropped,
		"cache_hits":          s.CacheHits,
		"busy_workers":        s.BusyWorkers,
		"queue_depth_high":    s.QueueDepth[models.PriorityHigh],
		"queue_depth_normal":  s.QueueDepth[models.PriorityNormal],
		"queue_depth_low":     s.QueueDepth[models.PriorityLow],
		"avg_processing_time": s.AvgProcessing.Seconds(),
	}
}
