package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"ergon.app/erp/common/logger"
	"ergon.app/erp/internal/model"
	"ergon.app/erp/internal/service"
	"ergon.app/erp/internal/telemetry"
)

type Config struct {
	ID             string
	Concurrency    int
	PollInterval   time.Duration
	BatchSize      int
	LockStaleAfter time.Duration
	DefaultTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.BatchSize < 1 {
		c.BatchSize = 50
	}
	if c.LockStaleAfter <= 0 {
		c.LockStaleAfter = 10 * time.Minute
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 300 * time.Second
	}
	return c
}

// Worker polls for due jobs and runs them on a bounded pool.
type Worker struct {
	jobs     JobRunner
	registry *Registry
	cfg      Config
	wake     <-chan struct{}
	sem      *semaphore.Weighted
	runs     sync.WaitGroup

	stopOnce  sync.Once
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// New builds a worker. The registry is sealed: handlers must be registered before.
func New(jobs JobRunner, registry *Registry, cfg Config) *Worker {
	cfg = cfg.withDefaults()
	registry.Seal()
	return &Worker{
		jobs:      jobs,
		registry:  registry,
		cfg:       cfg,
		sem:       semaphore.NewWeighted(int64(cfg.Concurrency)),
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// WithWakeups makes the worker poll as soon as a value arrives on ch.
func (w *Worker) WithWakeups(ch <-chan struct{}) *Worker {
	w.wake = ch
	return w
}

// Run polls until Stop is called or ctx ends, then waits for in-flight runs.
func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stoppedCh)
	defer w.runs.Wait()

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		WorkerID:  logger.Ptr(w.cfg.ID),
		Component: "erp.worker.scheduler",
	})

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "worker started",
		"concurrency", w.cfg.Concurrency,
		"poll_interval", w.cfg.PollInterval,
		"handlers", w.registry.Names())

	for {
		if _, err := w.dispatch(ctx); err != nil {
			slog.ErrorContext(ctx, "dispatch error", "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			slog.InfoContext(ctx, "worker stopping")
			return nil
		case <-ticker.C:
		case <-w.wake:
		}
	}
}

func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.stoppedCh
}

// RunOnce dispatches one batch and waits for it to finish. It returns the
// number of runs started.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	n, err := w.dispatch(ctx)
	w.runs.Wait()
	return n, err
}

func (w *Worker) dispatch(ctx context.Context) (int, error) {
	due, err := w.jobs.ProcessDueJobs(ctx, w.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("listing due jobs: %w", err)
	}

	started := 0
	for _, job := range due {
		// A full pool leaves the rest for the next poll.
		if !w.sem.TryAcquire(1) {
			break
		}
		started++
		w.runs.Add(1)
		go func(id uuid.UUID) {
			defer w.runs.Done()
			defer w.sem.Release(1)
			w.runJob(ctx, id)
		}(job.ID)
	}
	return started, nil
}

func (w *Worker) runJob(ctx context.Context, id uuid.UUID) {
	ticket, err := w.jobs.Start(ctx, id, w.cfg.ID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to start job", "job_id", id, "error", err)
		return
	}
	if ticket == nil {
		telemetry.LockContention.Inc()
		return
	}
	job := ticket.Job

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		JobID:       logger.Ptr(job.ID.String()),
		ExecutionID: logger.Ptr(ticket.Execution.ID.String()),
		Handler:     logger.Ptr(job.Handler),
	})
	sc := logger.StartSpan(ctx, "worker.run_job",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("job.id", job.ID.String()),
			attribute.String("job.handler", job.Handler),
			attribute.Int64("job.execution_number", ticket.Execution.ExecutionNumber),
		))
	defer sc.End()
	ctx = sc.Context()

	telemetry.JobsClaimed.WithLabelValues(job.Handler).Inc()
	telemetry.InFlightGauge.Inc()
	defer telemetry.InFlightGauge.Dec()

	slog.InfoContext(ctx, "running job",
		"name", job.Name,
		"execution_number", ticket.Execution.ExecutionNumber,
		"retry_count", job.RetryCount)

	outcome := w.execute(ctx, ticket)
	telemetry.RunDuration.WithLabelValues(job.Handler).Observe(outcome.Duration.Seconds())
	if !outcome.Success {
		sc.RecordError(errors.New(outcome.Error))
	}

	// The run happened; record it even when shutdown cancelled ctx.
	finished, err := w.jobs.Finish(context.WithoutCancel(ctx), ticket, outcome)
	if err != nil {
		slog.ErrorContext(ctx, "failed to record job run", "error", err)
		return
	}
	recordMetrics(job.Handler, outcome, finished)
}

type handlerResult struct {
	out   json.RawMessage
	err   error
	stack string
}

// execute invokes the job's handler under its timeout. A handler that
// ignores its context is abandoned when the deadline passes.
func (w *Worker) execute(ctx context.Context, ticket *service.RunTicket) service.RunOutcome {
	job := ticket.Job
	timeout := job.Timeout(w.cfg.DefaultTimeout)
	deadline := time.Now().Add(timeout)
	hctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	stopHeartbeat := w.heartbeat(hctx, job.ID)
	defer stopHeartbeat()

	start := time.Now()
	done := make(chan handlerResult, 1)
	go func() {
		var r handlerResult
		defer func() {
			if p := recover(); p != nil {
				r = handlerResult{err: fmt.Errorf("panic: %v", p), stack: string(debug.Stack())}
				slog.ErrorContext(ctx, "panic recovered in job handler", "panic", p)
			}
			done <- r
		}()
		r.out, r.err = w.registry.Invoke(hctx, job.Handler, job.Payload, deadline)
	}()

	r := awaitResult(hctx, done)

	outcome := service.RunOutcome{Duration: time.Since(start)}
	switch {
	case r.err == nil:
		outcome.Success = true
		outcome.Result = r.out
	case ctx.Err() != nil:
		outcome.Interrupted = true
		outcome.Error = "interrupted by worker shutdown"
	case errors.Is(hctx.Err(), context.DeadlineExceeded):
		outcome.TimedOut = true
		outcome.Error = fmt.Sprintf("handler exceeded its %s timeout", timeout)
	default:
		outcome.Error = logger.Truncate(r.err.Error(), 4000)
		outcome.StackTrace = r.stack
	}
	return outcome
}

// awaitResult waits for the handler or its deadline. A handler that returned
// as the deadline hit keeps its result.
func awaitResult(hctx context.Context, done <-chan handlerResult) handlerResult {
	select {
	case r := <-done:
		return r
	case <-hctx.Done():
		select {
		case r := <-done:
			return r
		default:
			return handlerResult{err: hctx.Err()}
		}
	}
}

// heartbeat refreshes the job lock every third of the stale window until
// the returned stop function is called.
func (w *Worker) heartbeat(ctx context.Context, id uuid.UUID) func() {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(w.cfg.LockStaleAfter / 3)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok, err := w.jobs.RefreshLock(ctx, id, w.cfg.ID)
				if err != nil {
					slog.WarnContext(ctx, "lock heartbeat failed", "error", err)
					continue
				}
				if !ok {
					slog.WarnContext(ctx, "job lock lost to another worker")
					return
				}
			}
		}
	}()
	return func() {
		close(stop)
		<-done
	}
}

func recordMetrics(handler string, outcome service.RunOutcome, job *model.ScheduledJob) {
	if outcome.Success {
		telemetry.JobsSucceeded.WithLabelValues(handler).Inc()
		return
	}
	if outcome.Interrupted {
		return
	}
	telemetry.JobsFailed.WithLabelValues(handler).Inc()
	if outcome.TimedOut {
		telemetry.JobsTimedOut.WithLabelValues(handler).Inc()
	}
	if job.Status == model.JobStatusPending || job.Status == model.JobStatusScheduled {
		telemetry.JobsRetried.WithLabelValues(handler).Inc()
	}
}
