package admission_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zagan-the-gun/MenZ-FuguMT/internal/admission"
	"github.com/zagan-the-gun/MenZ-FuguMT/internal/protocol"
	"github.com/zagan-the-gun/MenZ-FuguMT/internal/queue"
	"github.com/zagan-the-gun/MenZ-FuguMT/internal/stats"
	"github.com/zagan-the-gun/MenZ-FuguMT/pkg/models"
)

func newAdmitter(t *testing.T, ceiling int, timeout time.Duration) (*admission.Admitter, *queue.Queue, *stats.Aggregator) {
	t.Helper()
	q := queue.New(ceiling)
	agg := stats.NewAggregator(prometheus.NewRegistry())
	return admission.New(q, agg, timeout, zaptest.NewLogger(t)), q, agg
}

func TestAdmitDefaults(t *testing.T) {
	a, q, _ := newAdmitter(t, 10, 30*time.Second)

	before := time.Now()
	req, err := a.Admit("conn-1", &protocol.TranslationFrame{Text: "Hello"})
	require.NoError(t, err)

	assert.NotEmpty(t, req.ID, "missing request_id gets a generated one")
	assert.Equal(t, "conn-1", req.ConnID)
	assert.Equal(t, "en", req.SourceLang)
	assert.Equal(t, "ja", req.TargetLang)
	assert.Equal(t, models.PriorityNormal, req.Priority)
	assert.False(t, req.EnqueuedAt.Before(before))
	assert.Equal(t, 30*time.Second, req.Deadline.Sub(req.EnqueuedAt))
	assert.Equal(t, 1, q.Depth())
}

func TestAdmitPreservesClientFields(t *testing.T) {
	a, _, _ := newAdmitter(t, 10, 30*time.Second)

	req, err := a.Admit("conn-1", &protocol.TranslationFrame{
		RequestID:  "req-7",
		Text:       "こんにちは",
		SourceLang: "ja",
		TargetLang: "en",
		Priority:   "HIGH",
		ContextID:  "session-3",
	})
	require.NoError(t, err)
	assert.Equal(t, "req-7", req.ID)
	assert.Equal(t, "ja", req.SourceLang)
	assert.Equal(t, "en", req.TargetLang)
	assert.Equal(t, models.PriorityHigh, req.Priority)
	assert.Equal(t, "session-3", req.ContextID)
}

func TestAdmitEmptyText(t *testing.T) {
	a, q, _ := newAdmitter(t, 10, 30*time.Second)

	_, err := a.Admit("conn-1", &protocol.TranslationFrame{})
	require.ErrorIs(t, err, admission.ErrEmptyText)
	assert.Equal(t, 0, q.Depth())
}

func TestAdmitUnknownPriorityFallsBackToNormal(t *testing.T) {
	a, _, _ := newAdmitter(t, 10, 30*time.Second)

	req, err := a.Admit("conn-1", &protocol.TranslationFrame{Text: "x", Priority: "urgent"})
	require.NoError(t, err)
	assert.Equal(t, models.PriorityNormal, req.Priority)
}

func TestAdmitQueueFull(t *testing.T) {
	a, _, agg := newAdmitter(t, 2, 30*time.Second)

	for i := 0; i < 2; i++ {
		_, err := a.Admit("conn-1", &protocol.TranslationFrame{Text: "x"})
		require.NoError(t, err)
	}

	_, err := a.Admit("conn-1", &protocol.TranslationFrame{Text: "x"})
	require.ErrorIs(t, err, queue.ErrQueueFull)

	snap := agg.Snapshot()
	assert.Equal(t, int64(2), snap.Admitted)
	assert.Equal(t, int64(1), snap.Rejected)
}

func TestAdmitDuplicateIDPermitted(t *testing.T) {
	a, q, _ := newAdmitter(t, 10, 30*time.Second)

	_, err := a.Admit("conn-1", &protocol.TranslationFrame{RequestID: "same", Text: "x"})
	require.NoError(t, err)
	_, err = a.Admit("conn-1", &protocol.TranslationFrame{RequestID: "same", Text: "y"})
	require.NoError(t, err)
	assert.Equal(t, 2, q.Depth())
}
