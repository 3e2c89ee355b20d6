package oracle

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/canopytrace/canopytrace/internal/audit"
)

// ErrQueueBusy is returned by Submit when the attempt queue is full. Callers
// should surface it as back-pressure rather than retrying in a tight loop.
var ErrQueueBusy = errors.New("verification queue is full")

var (
	attemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canopytrace_oracle_attempts_total",
		Help: "Verification attempts by terminal outcome.",
	}, []string{"outcome"})

	stageFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canopytrace_oracle_stage_failures_total",
		Help: "Attempt failures by pipeline stage.",
	}, []string{"stage"})

	attemptDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "canopytrace_oracle_attempt_duration_seconds",
		Help:    "Wall-clock duration of completed verification attempts.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "canopytrace_oracle_queue_depth",
		Help: "Verification attempts waiting for a worker.",
	})
)

// Attempt outcomes as recorded in metrics.
const (
	outcomeValidated    = "validated"
	outcomeNonCompliant = "non_compliant"
	outcomeFailed       = "failed"
)

// Result is delivered on the pool's results channel when an attempt finishes.
type Result struct {
	AttemptID uuid.UUID
	PlotID    string
	Outcome   *Outcome
	Err       error
	Duration  time.Duration
}

type job struct {
	attemptID uuid.UUID
	req       Request
}

// Pool runs verification attempts on a fixed number of workers behind a
// bounded queue, so a burst of intake requests degrades into ErrQueueBusy
// instead of unbounded goroutines.
type Pool struct {
	pipeline *Pipeline
	auditLog audit.Store
	logger   *zap.Logger
	workers  int

	jobs    chan job
	results chan *Result
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewPool creates a Pool with the given worker count and queue capacity.
func NewPool(pipeline *Pipeline, auditLog audit.Store, workers, queueSize int, logger *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Pool{
		pipeline: pipeline,
		auditLog: auditLog,
		logger:   logger,
		workers:  workers,
		jobs:     make(chan job, queueSize),
		results:  make(chan *Result, queueSize),
	}
}

// Start launches the workers. They run until Stop is called or ctx is
// cancelled.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Submit persists the request's polygon to the audit store, then enqueues the
// attempt. It returns the attempt id immediately; the outcome arrives later
// on Results. A full queue returns ErrQueueBusy without enqueuing anything.
func (p *Pool) Submit(ctx context.Context, req Request) (uuid.UUID, error) {
	rec := &audit.Record{
		PlotID:     req.PlotID,
		Owner:      string(req.Owner),
		Polygon:    req.Polygon,
		ReceivedAt: time.Now().UTC(),
	}
	if err := p.auditLog.Save(ctx, rec); err != nil {
		return uuid.Nil, err
	}

	id := uuid.New()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return uuid.Nil, ErrQueueBusy
	}
	select {
	case p.jobs <- job{attemptID: id, req: req}:
		queueDepth.Inc()
		return id, nil
	default:
		return uuid.Nil, ErrQueueBusy
	}
}

// Results delivers one Result per completed attempt. The channel is closed
// after Stop once all in-flight attempts have finished.
func (p *Pool) Results() <-chan *Result {
	return p.results
}

// Stop drains the queue: no new submissions are accepted, queued attempts
// still run, and Stop returns once every worker has exited.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
	close(p.results)
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-p.jobs:
			if !ok {
				return
			}
			queueDepth.Dec()
			p.run(ctx, j)
		}
	}
}

func (p *Pool) run(ctx context.Context, j job) {
	start := time.Now()
	outcome, err := p.pipeline.Run(ctx, j.req)
	elapsed := time.Since(start)
	attemptDuration.Observe(elapsed.Seconds())

	switch {
	case err != nil:
		var se *StageError
		if errors.As(err, &se) {
			stageFailures.WithLabelValues(se.Stage).Inc()
		}
		attemptsTotal.WithLabelValues(outcomeFailed).Inc()
		p.logger.Error("verification attempt failed",
			zap.String("attempt_id", j.attemptID.String()),
			zap.String("plot_id", j.req.PlotID),
			zap.Error(err),
		)
	case outcome.Validated:
		attemptsTotal.WithLabelValues(outcomeValidated).Inc()
	default:
		attemptsTotal.WithLabelValues(outcomeNonCompliant).Inc()
	}

	p.results <- &Result{
		AttemptID: j.attemptID,
		PlotID:    j.req.PlotID,
		Outcome:   outcome,
		Err:       err,
		Duration:  elapsed,
	}
}
