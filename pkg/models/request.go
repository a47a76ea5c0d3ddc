// Package models defines the domain types shared by the admission,
// queueing, dispatch, and transport layers.
package models

import (
	"strings"
	"time"
)

// Priority orders queued requests. Lower values dispatch first. Priority
// affects queue ordering only, never translation behavior.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityNormal
	PriorityLow

	// NumPriorities is the number of queue lanes.
	NumPriorities
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "normal"
	}
}

// ParsePriority maps a wire token to a Priority. Unknown or empty tokens
// fall back to normal rather than rejecting the request.
func ParsePriority(s string) Priority {
	switch strings.ToLower(s) {
	case "high":
		return PriorityHigh
	case "low":
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// Status is the terminal state of a request.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusTimeout   Status = "timeout"
)

// Request is one admitted translation request. The connection reference is
// the connection id only; the queue never holds the connection itself, so
// queue contents cannot block or outlive connection teardown.
type Request struct {
	ID         string
	ConnID     string
	Text       string
	SourceLang string
	TargetLang string
	Priority   Priority
	ContextID  string
	EnqueuedAt time.Time
	Deadline   time.Time
}

// Expired reports whether the request's deadline has elapsed.
func (r *Request) Expired(now time.Time) bool {
	return now.After(r.Deadline)
}

// Result is the outcome of one request, produced exactly once per dispatch
// and consumed exactly once by the result router.
type Result struct {
	Request      *Request
	Translated   string
	Status       Status
	ErrorMessage string
	Duration     time.Duration
	CacheHit     bool
}

// TimeoutResult builds the result for a request that expired before or at
// dispatch, without engine involvement.
func TimeoutResult(req *Request, budget time.Duration) *Result {
	return &Result{
		Request:      req,
		Status:       StatusTimeout,
		ErrorMessage: "request timed out after " + budget.String(),
	}
}
