package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/jlowell/healthdeck/internal/domain/model"
	"github.com/jlowell/healthdeck/internal/domain/port/driven"
)

// maxTransientRetries bounds in-run retries of transient provider failures.
// Anything still failing after that waits for the next scheduled cycle.
const maxTransientRetries = 3

// syncRunner is the slice of SyncService the dispatcher drives.
type syncRunner interface {
	SyncUser(ctx context.Context, userID string, provider model.Provider) (model.SyncReport, error)
}

// syncTask is one unit of dispatch: a user/provider pair and what triggered it.
type syncTask struct {
	userID   string
	provider model.Provider
	trigger  string
}

func (t syncTask) key() string {
	return t.userID + "/" + string(t.provider)
}

// Dispatcher fans sync work out to a fixed worker pool. Scheduled cycles
// enqueue every connected user/provider pair; webhooks and manual triggers
// enqueue single pairs. A pair is never queued or running twice at once, and
// a slow user only ever occupies one worker, so it cannot starve the rest.
type Dispatcher struct {
	runner   syncRunner
	creds    driven.CredentialStore
	interval time.Duration
	workers  int
	tasks    chan syncTask

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewDispatcher creates a Dispatcher. interval is the scheduled cycle period;
// workers is the pool size.
func NewDispatcher(runner syncRunner, creds driven.CredentialStore, interval time.Duration, workers int) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher{
		runner:   runner,
		creds:    creds,
		interval: interval,
		workers:  workers,
		tasks:    make(chan syncTask, 256),
		inflight: make(map[string]struct{}),
	}
}

// Start runs the worker pool and the scheduled cycle. It enqueues an
// immediate full cycle, then repeats on the interval. Start blocks until the
// context is canceled and every worker has drained.
func (d *Dispatcher) Start(ctx context.Context) {
	var g errgroup.Group
	for i := 0; i < d.workers; i++ {
		worker := i
		g.Go(func() error {
			d.runWorker(ctx, worker)
			return nil
		})
	}

	d.enqueueAll(ctx)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = g.Wait()
			slog.Info("sync dispatcher stopped")
			return
		case <-ticker.C:
			d.enqueueAll(ctx)
		}
	}
}

// Enqueue queues one sync for the pair. It reports false when the pair is
// already queued or running, or when the queue is full.
func (d *Dispatcher) Enqueue(userID string, provider model.Provider, trigger string) bool {
	t := syncTask{userID: userID, provider: provider, trigger: trigger}

	d.mu.Lock()
	if _, busy := d.inflight[t.key()]; busy {
		d.mu.Unlock()
		slog.Debug("sync already pending, skipping",
			"user_id", userID, "provider", provider, "trigger", trigger)
		return false
	}
	d.inflight[t.key()] = struct{}{}
	d.mu.Unlock()

	select {
	case d.tasks <- t:
		return true
	default:
		d.release(t)
		slog.Warn("sync queue full, dropping task",
			"user_id", userID, "provider", provider, "trigger", trigger)
		return false
	}
}

// enqueueAll queues a sync for every stored credential of every provider.
func (d *Dispatcher) enqueueAll(ctx context.Context) {
	var queued int
	for _, provider := range model.Providers() {
		creds, err := d.creds.ListByProvider(ctx, provider)
		if err != nil {
			slog.Error("list credentials failed", "provider", provider, "error", err)
			continue
		}
		for _, cred := range creds {
			if d.Enqueue(cred.UserID, provider, "schedule") {
				queued++
			}
		}
	}
	slog.Info("scheduled sync cycle enqueued", "tasks", queued)
}

func (d *Dispatcher) release(t syncTask) {
	d.mu.Lock()
	delete(d.inflight, t.key())
	d.mu.Unlock()
}

func (d *Dispatcher) runWorker(ctx context.Context, worker int) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-d.tasks:
			d.runTask(ctx, worker, t)
		}
	}
}

// runTask executes one sync with bounded retry on transient provider
// failures. A panic in one task is contained to that task.
func (d *Dispatcher) runTask(ctx context.Context, worker int, t syncTask) {
	defer d.release(t)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("sync task panicked",
				"worker", worker,
				"user_id", t.userID,
				"provider", t.provider,
				"panic", fmt.Sprint(r),
			)
		}
	}()

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxTransientRetries), ctx)

	report, err := backoff.RetryWithData(func() (model.SyncReport, error) {
		report, err := d.runner.SyncUser(ctx, t.userID, t.provider)
		if err != nil {
			var transient *driven.TransientError
			if errors.As(err, &transient) {
				slog.Warn("transient sync failure, will retry",
					"user_id", t.userID, "provider", t.provider, "error", err)
				return report, err
			}
			return report, backoff.Permanent(err)
		}
		return report, nil
	}, policy)

	if err != nil {
		slog.Error("sync task failed",
			"worker", worker,
			"user_id", t.userID,
			"provider", t.provider,
			"trigger", t.trigger,
			"error", err,
		)
		return
	}

	slog.Debug("sync task done",
		"worker", worker,
		"user_id", t.userID,
		"provider", t.provider,
		"trigger", t.trigger,
		"upserted", report.Total,
	)
}
