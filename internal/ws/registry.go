package ws

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/zagan-the-gun/MenZ-FuguMT/internal/queue"
	"github.com/zagan-the-gun/MenZ-FuguMT/internal/stats"
)

var (
	// ErrConnectionClosed reports a send to a connection no longer registered.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrSendBufferFull reports a client too slow to keep up with its results.
	ErrSendBufferFull = errors.New("send buffer full")

	// ErrServerFull reports the connection cap being reached.
	ErrServerFull = errors.New("maximum connections reached")
)

// Registry tracks live connections by id. Registration is refused once the
// connection cap is reached; queued requests of a departing connection are
// purged so workers never translate for a client that cannot receive.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Conn

	maxConns int
	queue    *queue.Queue
	stats    *stats.Aggregator
	logger   *zap.Logger
}

// NewRegistry creates a registry capped at maxConns connections.
func NewRegistry(maxConns int, q *queue.Queue, agg *stats.Aggregator, logger *zap.Logger) *Registry {
	return &Registry{
		conns:    make(map[string]*Conn),
		maxConns: maxConns,
		queue:    q,
		stats:    agg,
		logger:   logger,
	}
}

// CanAccept reports whether a new connection fits under the cap. The
// answer can go stale immediately; Register re-checks under the lock.
func (r *Registry) CanAccept() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns) < r.maxConns
}

// Register admits a connection, enforcing the cap atomically.
func (r *Registry) Register(c *Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.conns) >= r.maxConns {
		return ErrServerFull
	}
	r.conns[c.id] = c
	r.stats.ConnectionOpened()
	return nil
}

// Unregister removes a connection and purges its queued requests. Purged
// requests are counted as dropped results, never as errors or timeouts.
func (r *Registry) Unregister(c *Conn) {
	r.mu.Lock()
	_, ok := r.conns[c.id]
	if ok {
		delete(r.conns, c.id)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	purged := r.queue.PurgeConnection(c.id)
	for _, req := range purged {
		r.stats.Dequeued(req.Priority)
		r.stats.ResultDropped()
	}
	r.stats.ConnectionClosed()
	r.logger.Info("connection closed",
		zap.String("conn_id", c.id),
		zap.Int("purged_requests", len(purged)))
}

// Send marshals v and queues it on the connection's write pump. A full
// buffer fails the send rather than blocking a worker.
func (r *Registry) Send(connID string, v any) error {
	r.mu.RLock()
	c, ok := r.conns[connID]
	r.mu.RUnlock()
	if !ok {
		return ErrConnectionClosed
	}
	return c.enqueue(v)
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CloseAll tears down every registered connection, for shutdown.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	for _, c := range conns {
		c.close()
	}
}
