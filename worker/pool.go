// Package worker executes queued parse jobs. Every worker runs exactly one
// job at a time; throughput comes from more workers, not more concurrency
// per worker.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"omip-curator/apperr"
	"omip-curator/metrics"
	"omip-curator/queue"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrTimeLimit is the cause recorded for a job killed at the hard limit.
var ErrTimeLimit = errors.New("time limit exceeded")

// Handler runs the job contract.
type Handler interface {
	// Process applies a job. nil means done; other errors are classified
	// with apperr.Classify.
	Process(ctx context.Context, job queue.Job) error
	// Fail records a terminal failure of the job's run.
	Fail(ctx context.Context, job queue.Job, cause error) error
}

// Limits bounds the wall time of one job. At Soft the job context is
// cancelled; at Hard the worker stops waiting and fails the run.
type Limits struct {
	Soft time.Duration
	Hard time.Duration
}

// Options configures a Pool.
type Options struct {
	Name    string
	Workers int
	Limits  Limits
	Retry   RetryPolicy
}

// Pool runs Options.Workers single-job workers against a queue.
type Pool struct {
	opts    Options
	queue   queue.Queue
	handler Handler
	log     *zap.Logger
}

// NewPool creates a pool. Nothing runs until Run.
func NewPool(opts Options, q queue.Queue, h Handler, logger *zap.Logger) *Pool {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Name == "" {
		opts.Name = "worker"
	}
	return &Pool{
		opts:    opts,
		queue:   q,
		handler: h,
		log:     logger.With(zap.String("component", "worker")),
	}
}

// Consumer is the queue identity of worker i.
func (p *Pool) Consumer(i int) string {
	return fmt.Sprintf("%s-%d", p.opts.Name, i)
}

// Run blocks until ctx is cancelled and all workers have stopped. A job
// interrupted by shutdown is left unacknowledged and redelivered later.
func (p *Pool) Run(ctx context.Context) error {
	p.log.Info("starting worker pool", zap.Int("workers", p.opts.Workers),
		zap.Duration("soft_limit", p.opts.Limits.Soft), zap.Duration("hard_limit", p.opts.Limits.Hard))

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.opts.Workers; i++ {
		consumer := p.Consumer(i)
		g.Go(func() error {
			return p.runLoop(gctx, consumer)
		})
	}
	return g.Wait()
}

func (p *Pool) runLoop(ctx context.Context, consumer string) error {
	log := p.log.With(zap.String("consumer", consumer))

	n, err := p.queue.Recover(ctx, consumer)
	if err != nil {
		return fmt.Errorf("recover %s: %w", consumer, err)
	}
	if n > 0 {
		log.Warn("requeued jobs left over from a previous run", zap.Int("jobs", n))
	}

	for {
		if ctx.Err() != nil {
			log.Info("worker loop stopped")
			return nil
		}
		d, err := p.queue.Reserve(ctx, consumer)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			log.Warn("reserve failed", zap.Error(err))
			sleep(ctx, time.Second)
			continue
		}
		if d == nil {
			continue
		}
		p.handle(ctx, consumer, d)
	}
}

// handle runs one delivery to an outcome: ack, requeue, fail or (on
// shutdown) nothing.
func (p *Pool) handle(ctx context.Context, consumer string, d *queue.Delivery) {
	job := d.Job
	log := p.log.With(
		zap.String("consumer", consumer),
		zap.String("delivery_id", d.ID),
		zap.Uint("run_id", job.RunID),
		zap.Int("dispatch_seq", job.DispatchSeq),
		zap.Int("attempt", job.Attempt),
	)
	if job.BatchID != nil {
		log = log.With(zap.Uint("batch_id", *job.BatchID))
	}

	metrics.JobsInFlight.Inc()
	start := time.Now()
	defer func() {
		metrics.JobsInFlight.Dec()
		metrics.JobDuration.Observe(time.Since(start).Seconds())
	}()

	err := p.execute(ctx, job)
	if ctx.Err() != nil {
		log.Info("shutdown during job, leaving it for redelivery", zap.Error(err))
		return
	}
	// outcome bookkeeping must survive a shutdown that starts right now
	octx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if err == nil {
		p.ack(octx, consumer, d, log)
		metrics.Jobs.WithLabelValues(metrics.OutcomeCompleted).Inc()
		log.Info("job completed", zap.Duration("took", time.Since(start)))
		return
	}

	class := apperr.Classify(err)
	if p.opts.Retry.ShouldRetry(class, job.Attempt) {
		next := job
		next.Attempt++
		delay := p.opts.Retry.Delay(job.Attempt)
		if rqErr := p.queue.Requeue(octx, consumer, d, next, delay); rqErr != nil {
			log.Error("requeue failed, job stays reserved until recovery", zap.Error(rqErr))
			return
		}
		metrics.Jobs.WithLabelValues(metrics.OutcomeRetried).Inc()
		log.Warn("transient failure, retry scheduled", zap.Error(err), zap.Duration("delay", delay))
		return
	}

	log.Warn("job failed", zap.Error(err), zap.Stringer("class", class))
	if failErr := p.handler.Fail(octx, job, err); failErr != nil {
		log.Error("recording failure failed, job stays reserved until recovery", zap.Error(failErr))
		return
	}
	p.ack(octx, consumer, d, log)
	if errors.Is(err, ErrTimeLimit) {
		metrics.Jobs.WithLabelValues(metrics.OutcomeAbandoned).Inc()
		return
	}
	metrics.Jobs.WithLabelValues(metrics.OutcomeFailed).Inc()
}

func (p *Pool) ack(ctx context.Context, consumer string, d *queue.Delivery, log *zap.Logger) {
	if err := p.queue.Ack(ctx, consumer, d); err != nil {
		log.Error("ack failed, job may be delivered again", zap.Error(err))
	}
}

// execute runs the handler under the soft and hard limits. Panics become
// permanent errors.
func (p *Pool) execute(ctx context.Context, job queue.Job) error {
	soft, hard := p.opts.Limits.Soft, p.opts.Limits.Hard
	jobCtx, cancel := ctx, context.CancelFunc(func() {})
	if soft > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, soft)
	}
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- apperr.NewPermanent(fmt.Errorf("panic: %v", r))
			}
		}()
		done <- p.handler.Process(jobCtx, job)
	}()

	var hardC <-chan time.Time
	if hard > 0 {
		t := time.NewTimer(hard)
		defer t.Stop()
		hardC = t.C
	}

	select {
	case err := <-done:
		if err != nil && ctx.Err() == nil && errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
			return apperr.NewPermanent(fmt.Errorf("soft time limit exceeded: %w", err))
		}
		return err
	case <-hardC:
		return apperr.NewPermanent(ErrTimeLimit)
	case <-ctx.Done():
		// give the handler the chance to notice the cancellation
		select {
		case err := <-done:
			return err
		case <-hardC:
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
