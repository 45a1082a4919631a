package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/omnidex-search/omnidex/internal/errors"
	"github.com/omnidex-search/omnidex/internal/store"
)

// Handler executes one job kind. Handlers must be idempotent: delivery
// is at-least-once, and a crash after the work but before the state
// update re-delivers the job.
type Handler func(ctx context.Context, job *store.IndexJob) error

// DispatcherConfig tunes the dispatch loop.
type DispatcherConfig struct {
	Workers         int
	PollInterval    time.Duration
	MaxAttempts     int
	BackoffBase     time.Duration
	BackoffCeiling  time.Duration
	RetentionWindow time.Duration
}

// Dispatcher drains the durable queue onto a bounded worker pool. Jobs
// for one content key form a chain (fetch, then embed or transcribe,
// then commit); a job whose prerequisite has not succeeded is deferred,
// not failed.
type Dispatcher struct {
	store    *store.ContentStore
	queue    *Queue
	pool     *ants.Pool
	handlers map[store.JobKind]Handler
	cfg      DispatcherConfig
	logger   *slog.Logger

	wg        sync.WaitGroup
	lastPurge time.Time
}

// deferDelay spaces out re-checks of jobs waiting on a prerequisite.
const deferDelay = 500 * time.Millisecond

// NewDispatcher creates a dispatcher with a worker pool of cfg.Workers.
func NewDispatcher(st *store.ContentStore, q *Queue, handlers map[store.JobKind]Handler, cfg DispatcherConfig, logger *slog.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}

	pool, err := ants.NewPool(cfg.Workers)
	if err != nil {
		return nil, err
	}
	return &Dispatcher{
		store:    st,
		queue:    q,
		pool:     pool,
		handlers: handlers,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// Run recovers stranded jobs and then polls until ctx is cancelled.
// On return all in-flight handlers have finished.
func (d *Dispatcher) Run(ctx context.Context) error {
	// Jobs left running by a previous process crashed mid-execution.
	requeued, err := d.store.RequeueRunningJobs(ctx)
	if err != nil {
		return err
	}
	if requeued > 0 {
		d.logger.Info("recovered stranded jobs", slog.Int("count", requeued))
	}

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.wg.Wait()
			d.pool.Release()
			return ctx.Err()
		case <-ticker.C:
			if err := d.tick(ctx); err != nil && ctx.Err() == nil {
				d.logger.Error("dispatch tick failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (d *Dispatcher) tick(ctx context.Context) error {
	now := time.Now().UTC()

	// Move retryable failures whose backoff elapsed back into the queue.
	due, err := d.store.DueRetryableJobs(ctx, now)
	if err != nil {
		return err
	}
	for _, job := range due {
		if err := d.store.RequeueJob(ctx, job.ID); err != nil {
			return err
		}
	}

	jobs, err := d.store.ClaimDueJobs(ctx, now, d.cfg.Workers*2)
	if err != nil {
		return err
	}
	for i, job := range jobs {
		ready, err := d.prerequisitesMet(ctx, job)
		if err != nil {
			d.releaseClaims(ctx, jobs[i:])
			return err
		}
		if !ready {
			if err := d.store.DeferJob(ctx, job.ID, deferDelay); err != nil {
				d.releaseClaims(ctx, jobs[i+1:])
				return err
			}
			continue
		}
		d.submit(ctx, job)
	}

	d.maybePurge(ctx, now)
	return nil
}

// releaseClaims returns claimed but unprocessed jobs to the queue so a
// mid-batch error does not strand them in running until the next
// process restart.
func (d *Dispatcher) releaseClaims(ctx context.Context, jobs []*store.IndexJob) {
	for _, job := range jobs {
		if err := d.store.DeferJob(ctx, job.ID, 0); err != nil {
			d.logger.Error("failed to release claimed job",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()))
		}
	}
}

// prerequisitesMet enforces the per-key chain: embed and transcribe
// wait for fetch; commit waits for the modality's derivation stages.
func (d *Dispatcher) prerequisitesMet(ctx context.Context, job *store.IndexJob) (bool, error) {
	var required []store.JobKind
	switch job.Kind {
	case store.JobFetch:
		return true, nil
	case store.JobEmbedText, store.JobEmbedImage, store.JobEmbedAudio, store.JobTranscribeAudio:
		required = []store.JobKind{store.JobFetch}
	case store.JobCommitIndex:
		item, err := d.store.GetItem(ctx, job.ContentKey)
		if err != nil {
			return false, err
		}
		if item == nil {
			return true, nil // orphan job; handler will fail it
		}
		required = []store.JobKind{store.EmbedKindFor(item.Modality)}
		if item.Modality == store.ModalityAudio {
			required = append(required, store.JobTranscribeAudio)
		}
	}

	for _, kind := range required {
		ok, err := d.store.KindSucceeded(ctx, job.ContentKey, kind)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (d *Dispatcher) submit(ctx context.Context, job *store.IndexJob) {
	d.wg.Add(1)
	err := d.pool.Submit(func() {
		defer d.wg.Done()
		d.execute(ctx, job)
	})
	if err != nil {
		d.wg.Done()
		// Pool rejected the task (released during shutdown); return the
		// claim so the job runs on the next start.
		if deferErr := d.store.DeferJob(ctx, job.ID, 0); deferErr != nil {
			d.logger.Error("failed to return job to queue",
				slog.String("job_id", job.ID),
				slog.String("error", deferErr.Error()))
		}
	}
}

func (d *Dispatcher) execute(ctx context.Context, job *store.IndexJob) {
	handler, ok := d.handlers[job.Kind]
	if !ok {
		d.finalize(ctx, job, errors.Newf(errors.ErrCodeInternal, "no handler for job kind %q", job.Kind))
		return
	}

	start := time.Now()
	err := handler(ctx, job)
	d.logger.Debug("job executed",
		slog.String("job_id", job.ID),
		slog.String("kind", string(job.Kind)),
		slog.String("content_key", job.ContentKey),
		slog.Duration("elapsed", time.Since(start)),
		slog.Bool("ok", err == nil))
	d.finalize(ctx, job, err)
}

// finalize records the outcome. Retryable failures back off
// exponentially until MaxAttempts, then the job and its content item
// fail permanently.
func (d *Dispatcher) finalize(ctx context.Context, job *store.IndexJob, err error) {
	if ctx.Err() != nil {
		return // shutdown; the job stays running and is requeued on restart
	}
	if err == nil {
		if sErr := d.store.CompleteJob(ctx, job.ID); sErr != nil {
			d.logger.Error("failed to complete job", slog.String("job_id", job.ID), slog.String("error", sErr.Error()))
		}
		return
	}

	attempts := job.Attempts + 1
	if errors.IsRetryable(err) && attempts < d.cfg.MaxAttempts {
		delay := BackoffDelay(job.Attempts, d.cfg.BackoffBase, d.cfg.BackoffCeiling)
		d.logger.Warn("job failed, will retry",
			slog.String("job_id", job.ID),
			slog.String("kind", string(job.Kind)),
			slog.Int("attempts", attempts),
			slog.Duration("backoff", delay),
			slog.String("error", err.Error()))
		if sErr := d.store.RetryJob(ctx, job.ID, attempts, delay, err.Error()); sErr != nil {
			d.logger.Error("failed to schedule retry", slog.String("job_id", job.ID), slog.String("error", sErr.Error()))
		}
		return
	}

	d.logger.Error("job failed permanently",
		slog.String("job_id", job.ID),
		slog.String("kind", string(job.Kind)),
		slog.String("content_key", job.ContentKey),
		slog.Int("attempts", attempts),
		slog.String("error", err.Error()))
	if sErr := d.store.FailJob(ctx, job.ID, attempts, err.Error()); sErr != nil {
		d.logger.Error("failed to record job failure", slog.String("job_id", job.ID), slog.String("error", sErr.Error()))
	}
	if sErr := d.store.SetItemStatus(ctx, job.ContentKey, store.StatusFailed); sErr != nil {
		d.logger.Error("failed to mark item failed", slog.String("content_key", job.ContentKey), slog.String("error", sErr.Error()))
	}
}

// maybePurge sweeps terminal jobs past the retention window, at most
// once per minute.
func (d *Dispatcher) maybePurge(ctx context.Context, now time.Time) {
	if d.cfg.RetentionWindow <= 0 || now.Sub(d.lastPurge) < time.Minute {
		return
	}
	d.lastPurge = now

	purged, err := d.store.PurgeTerminalJobs(ctx, now.Add(-d.cfg.RetentionWindow))
	if err != nil {
		d.logger.Error("retention sweep failed", slog.String("error", err.Error()))
		return
	}
	if purged > 0 {
		d.logger.Debug("purged terminal jobs", slog.Int("count", purged))
	}
}
