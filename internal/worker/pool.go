// Package worker runs per-family polling pools over the job queue, with
// pause/resume, graceful shutdown and lifecycle hooks.
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/lumenlead/prospector/internal/model"
	"github.com/lumenlead/prospector/internal/queue"
)

const defaultPollInterval = time.Second

// ProgressReporter lets a processor publish progress for its job.
type ProgressReporter func(event model.ProgressEvent)

// Processor executes one claimed job. A nil return completes the job; an
// error settles it through the queue's retry policy (wrap with
// queue.Terminal to fail immediately).
type Processor func(ctx context.Context, job *model.Job, report ProgressReporter) error

// Hooks observe job settlement.
type Hooks struct {
	OnCompleted func(job *model.Job)
	OnFailed    func(job *model.Job, err error)
}

// Pool polls one job family and dispatches claimed jobs to its processor
// under a concurrency cap.
type Pool struct {
	family       model.JobFamily
	queue        *queue.Queue
	processor    Processor
	reporterFor  func(job *model.Job) ProgressReporter
	concurrency  int
	pollInterval time.Duration
	hooks        Hooks

	paused  atomic.Bool
	running atomic.Bool
	active  atomic.Int64

	sem    chan struct{}
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// PoolConfig assembles a Pool.
type PoolConfig struct {
	Family       model.JobFamily
	Queue        *queue.Queue
	Processor    Processor
	Concurrency  int
	PollInterval time.Duration
	Hooks        Hooks
	// ReporterFor builds the progress reporter handed to the processor for
	// each job. Nil means progress is discarded.
	ReporterFor func(job *model.Job) ProgressReporter
}

// NewPool creates a stopped Pool.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &Pool{
		family:       cfg.Family,
		queue:        cfg.Queue,
		processor:    cfg.Processor,
		reporterFor:  cfg.ReporterFor,
		concurrency:  cfg.Concurrency,
		pollInterval: cfg.PollInterval,
		hooks:        cfg.Hooks,
		sem:          make(chan struct{}, cfg.Concurrency),
	}
}

// Family returns the job family this pool serves.
func (p *Pool) Family() model.JobFamily { return p.family }

// Start launches the poll loop. Stop or ctx cancellation ends it.
func (p *Pool) Start(ctx context.Context) {
	if !p.running.CompareAndSwap(false, true) {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.loop(ctx)

	zap.L().Info("worker pool started",
		zap.String("family", string(p.family)),
		zap.Int("concurrency", p.concurrency),
	)
}

func (p *Pool) loop(ctx context.Context) {
	defer p.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		if p.paused.Load() {
			if !p.sleep(ctx, p.pollInterval) {
				return
			}
			continue
		}

		// Hold a slot before claiming so at most concurrency jobs run.
		select {
		case p.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}

		job, err := p.queue.Claim(ctx, p.family)
		if err != nil {
			<-p.sem
			if ctx.Err() != nil {
				return
			}
			zap.L().Error("claim failed",
				zap.String("family", string(p.family)), zap.Error(err))
			if !p.sleep(ctx, p.pollInterval) {
				return
			}
			continue
		}
		if job == nil {
			<-p.sem
			if !p.sleep(ctx, p.pollInterval) {
				return
			}
			continue
		}

		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			defer func() { <-p.sem }()
			p.process(ctx, job)
		}()
	}
}

func (p *Pool) process(ctx context.Context, job *model.Job) {
	p.active.Add(1)
	defer p.active.Add(-1)

	log := zap.L().With(
		zap.String("job_id", job.ID),
		zap.String("family", string(job.Family)),
		zap.Int("attempt", job.Attempts),
	)
	log.Info("processing job")

	report := ProgressReporter(func(model.ProgressEvent) {})
	if p.reporterFor != nil {
		if r := p.reporterFor(job); r != nil {
			report = r
		}
	}

	start := time.Now()
	err := p.processor(ctx, job, report)
	if err != nil {
		// Settle with a fresh context: the job must not stay active forever
		// because shutdown cancelled the run.
		if failErr := p.queue.Fail(context.WithoutCancel(ctx), job, err); failErr != nil {
			log.Error("failed to settle job", zap.Error(failErr))
		}
		if p.hooks.OnFailed != nil {
			p.hooks.OnFailed(job, err)
		}
		return
	}

	if err := p.queue.Complete(context.WithoutCancel(ctx), job); err != nil {
		log.Error("failed to mark job completed", zap.Error(err))
		return
	}
	log.Info("job completed", zap.Duration("took", time.Since(start)))
	if p.hooks.OnCompleted != nil {
		p.hooks.OnCompleted(job)
	}
}

func (p *Pool) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

// Pause stops claiming new jobs. In-flight jobs keep running.
func (p *Pool) Pause() {
	if p.paused.CompareAndSwap(false, true) {
		zap.L().Info("worker pool paused", zap.String("family", string(p.family)))
	}
}

// Resume restarts claiming.
func (p *Pool) Resume() {
	if p.paused.CompareAndSwap(true, false) {
		zap.L().Info("worker pool resumed", zap.String("family", string(p.family)))
	}
}

// Paused reports whether intake is paused.
func (p *Pool) Paused() bool { return p.paused.Load() }

// Running reports whether the poll loop is live.
func (p *Pool) Running() bool { return p.running.Load() }

// Active returns the number of in-flight jobs.
func (p *Pool) Active() int { return int(p.active.Load()) }

// Stop cancels the loop and waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	p.cancel()
	p.wg.Wait()
	zap.L().Info("worker pool stopped", zap.String("family", string(p.family)))
}
