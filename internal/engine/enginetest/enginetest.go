// Package enginetest provides a deterministic in-memory Translator for
// concurrency and scheduling tests: latency and failures are controllable
// and every call is recorded.
package enginetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zagan-the-gun/MenZ-FuguMT/internal/engine"
)

// Engine is a configurable test translator.
type Engine struct {
	mu      sync.Mutex
	latency time.Duration
	err     error
	pairs   map[string]bool

	calls   atomic.Int64
	inCall  atomic.Int64
	maxSeen atomic.Int64
}

// New creates an engine supporting the given language pairs, defaulting to
// en-ja and ja-en.
func New(pairs ...string) *Engine {
	if len(pairs) == 0 {
		pairs = []string{"en-ja", "ja-en"}
	}
	set := make(map[string]bool, len(pairs))
	for _, p := range pairs {
		set[p] = true
	}
	return &Engine{pairs: set}
}

// SetLatency makes every Translate call take at least d.
func (e *Engine) SetLatency(d time.Duration) {
	e.mu.Lock()
	e.latency = d
	e.mu.Unlock()
}

// SetError makes every Translate call fail with err; nil restores success.
func (e *Engine) SetError(err error) {
	e.mu.Lock()
	e.err = err
	e.mu.Unlock()
}

// Calls returns the number of Translate invocations so far.
func (e *Engine) Calls() int64 {
	return e.calls.Load()
}

// MaxConcurrent returns the highest number of Translate calls observed
// in flight at once.
func (e *Engine) MaxConcurrent() int64 {
	return e.maxSeen.Load()
}

// Translate returns a deterministic marker string for the input.
func (e *Engine) Translate(ctx context.Context, req engine.Request) (string, error) {
	e.calls.Add(1)
	cur := e.inCall.Add(1)
	defer e.inCall.Add(-1)
	for {
		seen := e.maxSeen.Load()
		if cur <= seen || e.maxSeen.CompareAndSwap(seen, cur) {
			break
		}
	}

	e.mu.Lock()
	latency, err := e.latency, e.err
	e.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	if !e.pairs[req.Pair()] {
		return "", fmt.Errorf("%w: %s", engine.ErrUnsupportedPair, req.Pair())
	}
	return fmt.Sprintf("[%s] %s", req.Pair(), req.Text), nil
}

// Health reports healthy unless a forced error is set.
func (e *Engine) Health(ctx context.Context) engine.Health {
	e.mu.Lock()
	err := e.err
	e.mu.Unlock()

	h := engine.Health{
		Healthy:         err == nil,
		ModelsLoaded:    len(e.pairs),
		SupportedPairs:  e.Languages(),
		Device:          "cpu",
		TestTranslation: err == nil,
	}
	if err != nil {
		h.Error = err.Error()
	}
	return h
}

// Languages returns the supported pairs.
func (e *Engine) Languages() []string {
	out := make([]string, 0, len(e.pairs))
	for p := range e.pairs {
		out = append(out, p)
	}
	return out
}
