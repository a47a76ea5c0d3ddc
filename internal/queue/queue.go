// Package queue implements the three-lane priority queue holding admitted
// translation requests. High drains before normal, normal before low; within
// a lane, strict arrival order. This is the only place priority is
// consulted.
package queue

import (
	"errors"
	"sync"
	"time"

	"github.com/zagan-the-gun/MenZ-FuguMT/pkg/models"
)

// ErrQueueFull reports that the queue-depth ceiling was hit. This is the
// backpressure bound protecting memory; it is distinct from worker
// concurrency.
var ErrQueueFull = errors.New("request queue is full")

// Queue is a bounded multi-lane FIFO. All mutation happens under one mutex;
// expiry is swept lazily at dequeue, never by a timer.
type Queue struct {
	mu      sync.Mutex
	lanes   [models.NumPriorities][]*models.Request
	depth   int
	ceiling int

	notify chan struct{}
}

// New creates a queue with the given depth ceiling.
func New(ceiling int) *Queue {
	return &Queue{
		ceiling: ceiling,
		notify:  make(chan struct{}, ceiling),
	}
}

// Notify returns the channel signaled once per successful Push. Workers
// block on it between dequeue attempts.
func (q *Queue) Notify() <-chan struct{} {
	return q.notify
}

// Push appends the request to the tail of its priority lane.
func (q *Queue) Push(req *models.Request) error {
	q.mu.Lock()
	if q.depth >= q.ceiling {
		q.mu.Unlock()
		return ErrQueueFull
	}
	q.lanes[req.Priority] = append(q.lanes[req.Priority], req)
	q.depth++
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Pop returns the next live request by lane priority, or nil when the queue
// holds none. Requests whose deadline has already elapsed are swept off the
// lane heads and returned separately so the caller can convert them to
// timeout results. A worker never receives stale work.
func (q *Queue) Pop(now time.Time) (*models.Request, []*models.Request) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var expired []*models.Request
	for lane := range q.lanes {
		for len(q.lanes[lane]) > 0 {
			req := q.lanes[lane][0]
			q.lanes[lane][0] = nil
			q.lanes[lane] = q.lanes[lane][1:]
			q.depth--
			if req.Expired(now) {
				expired = append(expired, req)
				continue
			}
			return req, expired
		}
	}
	return nil, expired
}

// PurgeConnection removes every pending request owned by the given
// connection. Purged requests are never dispatched or delivered.
func (q *Queue) PurgeConnection(connID string) []*models.Request {
	q.mu.Lock()
	defer q.mu.Unlock()

	var purged []*models.Request
	for lane := range q.lanes {
		kept := q.lanes[lane][:0]
		for _, req := range q.lanes[lane] {
			if req.ConnID == connID {
				purged = append(purged, req)
				q.depth--
				continue
			}
			kept = append(kept, req)
		}
		// Clear the tail so purged entries do not linger in the backing array.
		for i := len(kept); i < len(q.lanes[lane]); i++ {
			q.lanes[lane][i] = nil
		}
		q.lanes[lane] = kept
	}
	return purged
}

// Depth returns the total number of queued requests.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.depth
}

// LaneDepth returns the number of queued requests in one lane.
func (q *Queue) LaneDepth(p models.Priority) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lanes[p])
}
