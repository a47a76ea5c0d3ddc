// Package admission turns raw translation frames into queued requests:
// validation, defaulting, id generation, deadline stamping, and the queue
// ceiling check all happen here, before a request costs anything downstream.
package admission

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zagan-the-gun/MenZ-FuguMT/internal/protocol"
	"github.com/zagan-the-gun/MenZ-FuguMT/internal/queue"
	"github.com/zagan-the-gun/MenZ-FuguMT/internal/stats"
	"github.com/zagan-the-gun/MenZ-FuguMT/pkg/models"
)

const (
	defaultSourceLang = "en"
	defaultTargetLang = "ja"
)

// ErrEmptyText reports a translation frame with no text to translate.
var ErrEmptyText = errors.New("text is required")

// Admitter validates and enqueues translation requests.
type Admitter struct {
	queue   *queue.Queue
	stats   *stats.Aggregator
	timeout time.Duration
	logger  *zap.Logger
}

// New creates an Admitter stamping each request with the given deadline
// budget.
func New(q *queue.Queue, agg *stats.Aggregator, timeout time.Duration, logger *zap.Logger) *Admitter {
	return &Admitter{queue: q, stats: agg, timeout: timeout, logger: logger}
}

// Admit validates a frame, fills defaults, and pushes the request onto its
// priority lane. On queue.ErrQueueFull the request is rejected and counted;
// the caller reports the rejection to the client and keeps the connection
// open.
func (a *Admitter) Admit(connID string, frame *protocol.TranslationFrame) (*models.Request, error) {
	if frame.Text == "" {
		return nil, ErrEmptyText
	}

	req := &models.Request{
		ID:         frame.RequestID,
		ConnID:     connID,
		Text:       frame.Text,
		SourceLang: strings.ToLower(frame.SourceLang),
		TargetLang: strings.ToLower(frame.TargetLang),
		Priority:   models.ParsePriority(frame.Priority),
		ContextID:  frame.ContextID,
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.SourceLang == "" {
		req.SourceLang = defaultSourceLang
	}
	if req.TargetLang == "" {
		req.TargetLang = defaultTargetLang
	}

	now := time.Now()
	req.EnqueuedAt = now
	req.Deadline = now.Add(a.timeout)

	if err := a.queue.Push(req); err != nil {
		a.stats.Rejected()
		a.logger.Warn("request rejected",
			zap.String("request_id", req.ID),
			zap.String("conn_id", connID),
			zap.Error(err))
		return nil, err
	}

	a.stats.Admitted(req.Priority)
	a.logger.Debug("request admitted",
		zap.String("request_id", req.ID),
		zap.String("conn_id", connID),
		zap.String("priority", req.Priority.String()),
		zap.String("pair", req.SourceLang+"-"+req.TargetLang))
	return req, nil
}

// Timeout returns the deadline budget requests are stamped with.
func (a *Admitter) Timeout() time.Duration {
	return a.timeout
}
