// Package dispatch runs the worker pool: a fixed number of workers drain
// the priority queue, consult the cache, call the translation engine, and
// route each result back to the owning connection.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zagan-the-gun/MenZ-FuguMT/internal/cache"
	"github.com/zagan-the-gun/MenZ-FuguMT/internal/engine"
	"github.com/zagan-the-gun/MenZ-FuguMT/internal/queue"
	"github.com/zagan-the-gun/MenZ-FuguMT/internal/stats"
	"github.com/zagan-the-gun/MenZ-FuguMT/pkg/models"
)

// Sink receives finished results. Deliver returns an error when the owning
// connection is gone; the pool counts the result as dropped and moves on.
type Sink interface {
	Deliver(res *models.Result) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(res *models.Result) error

func (f SinkFunc) Deliver(res *models.Result) error { return f(res) }

// Pool is the translation worker pool. Engine concurrency never exceeds the
// worker count.
type Pool struct {
	queue   *queue.Queue
	engine  engine.Translator
	cache   cache.Cache
	stats   *stats.Aggregator
	sink    Sink
	workers int
	logger  *zap.Logger

	wg sync.WaitGroup
}

// New creates a pool of the given worker count. cache may be cache.Nop{}.
func New(q *queue.Queue, eng engine.Translator, c cache.Cache, agg *stats.Aggregator, sink Sink, workers int, logger *zap.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		queue:   q,
		engine:  eng,
		cache:   c,
		stats:   agg,
		sink:    sink,
		workers: workers,
		logger:  logger,
	}
}

// Start launches the workers. They exit when ctx is canceled; Wait blocks
// until all have returned.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.run(ctx, id)
		}(i)
	}
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, id int) {
	logger := p.logger.With(zap.Int("worker", id))
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.queue.Notify():
		}

		// One notify token may cover several pops when requests expired
		// in place, so drain until the queue reports empty.
		for {
			if ctx.Err() != nil {
				return
			}
			req, expired := p.queue.Pop(time.Now())
			for _, ex := range expired {
				p.expire(ex)
			}
			if req == nil {
				break
			}
			p.process(ctx, logger, req)
		}
	}
}

// expire finishes a request that ran out of budget while still queued. The
// engine is never involved.
func (p *Pool) expire(req *models.Request) {
	p.stats.Dequeued(req.Priority)
	res := models.TimeoutResult(req, req.Deadline.Sub(req.EnqueuedAt))
	p.stats.Finished(res)
	p.deliver(res)
}

func (p *Pool) process(ctx context.Context, logger *zap.Logger, req *models.Request) {
	p.stats.Dequeued(req.Priority)
	p.stats.WorkerBusy()
	defer p.stats.WorkerIdle()

	start := time.Now()
	res := p.translate(ctx, req)
	res.Duration = time.Since(start)

	if res.Status != models.StatusCompleted {
		logger.Warn("translation failed",
			zap.String("request_id", req.ID),
			zap.String("status", string(res.Status)),
			zap.String("error", res.ErrorMessage))
	}

	p.stats.Finished(res)
	p.deliver(res)
}

// translate resolves one request through the cache or the engine. A worker
// that has started a translation finishes it even if the deadline passes
// mid-call; the deadline gates dispatch, not completion.
func (p *Pool) translate(ctx context.Context, req *models.Request) (res *models.Result) {
	res = &models.Result{Request: req}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker panic recovered",
				zap.String("request_id", req.ID),
				zap.Any("panic", r))
			res.Status = models.StatusError
			res.ErrorMessage = fmt.Sprintf("internal error: %v", r)
		}
	}()

	pair := req.SourceLang + "-" + req.TargetLang
	if cached, ok := p.cache.Get(ctx, pair, req.Text); ok {
		res.Translated = cached
		res.Status = models.StatusCompleted
		res.CacheHit = true
		return res
	}

	out, err := p.engine.Translate(ctx, engine.Request{
		Text:       req.Text,
		SourceLang: req.SourceLang,
		TargetLang: req.TargetLang,
	})
	if err != nil {
		res.Status = models.StatusError
		res.ErrorMessage = err.Error()
		return res
	}

	res.Translated = out
	res.Status = models.StatusCompleted
	p.cache.Put(ctx, pair, req.Text, out)
	return res
}

func (p *Pool) deliver(res *models.Result) {
	if err := p.sink.Deliver(res); err != nil {
		p.stats.ResultDropped()
		p.logger.Debug("result dropped",
			zap.String("request_id", res.Request.ID),
			zap.String("conn_id", res.Request.ConnID),
			zap.Error(err))
	}
}
