package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/planforge-backend/internal/data/repos"
	"github.com/yungbote/planforge-backend/internal/domain"
	"github.com/yungbote/planforge-backend/internal/jobs/runtime"
	"github.com/yungbote/planforge-backend/internal/platform/envutil"
	"github.com/yungbote/planforge-backend/internal/platform/logger"
	"github.com/yungbote/planforge-backend/internal/realtime/bus"
)

// Worker polls for runnable jobs and dispatches them to registered
// handlers. Claiming is atomic in the store, so any number of worker
// loops (and processes) can poll the same table safely.
type Worker struct {
	log            *logger.Logger
	repo           repos.JobRunRepo
	registry       *runtime.Registry
	publish        bus.Publisher
	concurrency    int
	pollInterval   time.Duration
	maxAttempts    int
	retryDelay     time.Duration
	staleRunning   time.Duration
	heartbeatEvery time.Duration
}

func New(baseLog *logger.Logger, repo repos.JobRunRepo, registry *runtime.Registry, publish bus.Publisher) *Worker {
	return &Worker{
		log:            baseLog.With("component", "JobWorker"),
		repo:           repo,
		registry:       registry,
		publish:        publish,
		concurrency:    envutil.Int("WORKER_CONCURRENCY", 2),
		pollInterval:   envutil.Duration("WORKER_POLL_INTERVAL", time.Second),
		maxAttempts:    envutil.Int("WORKER_MAX_ATTEMPTS", 3),
		retryDelay:     envutil.Duration("WORKER_RETRY_DELAY", 30*time.Second),
		staleRunning:   envutil.Duration("WORKER_STALE_RUNNING", 2*time.Minute),
		heartbeatEvery: envutil.Duration("WORKER_HEARTBEAT_INTERVAL", 30*time.Second),
	}
}

// Start launches the poll loops. They stop when ctx is canceled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.concurrency; i++ {
		go w.loop(ctx, i)
	}
	w.log.Info("worker started", "concurrency", w.concurrency)
}

func (w *Worker) loop(ctx context.Context, n int) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, err := w.repo.ClaimNextRunnable(ctx, nil, w.maxAttempts, w.retryDelay, w.staleRunning)
			if err != nil {
				w.log.Warn("claim failed", "worker", n, "error", err.Error())
				continue
			}
			if job == nil {
				continue
			}
			w.execute(ctx, job)
		}
	}
}

func (w *Worker) execute(ctx context.Context, job *domain.JobRun) {
	jc := runtime.NewContext(ctx, job, w.repo, w.publish)

	// Long agent calls sit between Progress updates; heartbeating while
	// the handler runs keeps the claim from being reaped as stale.
	stopHeartbeat := w.heartbeat(ctx, job.ID)
	defer stopHeartbeat()

	handler, ok := w.registry.Get(job.JobType)
	if !ok {
		w.log.Warn("no handler for job type", "job_type", job.JobType, "job_id", job.ID.String())
		jc.Fail("dispatch", fmt.Errorf("no handler registered for job_type=%s", job.JobType))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			w.log.Error("job handler panic", "job_id", job.ID.String(), "job_type", job.JobType, "panic", fmt.Sprint(r))
			jc.Fail("panic", fmt.Errorf("handler panic: %v", r))
		}
	}()

	if err := handler.Run(jc); err != nil && jc.Job.Status == domain.JobStatusRunning {
		// Handler bailed without recording a terminal state.
		jc.Fail("run", err)
	}
}

func (w *Worker) heartbeat(ctx context.Context, id uuid.UUID) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(w.heartbeatEvery)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := w.repo.Heartbeat(ctx, nil, id); err != nil {
					w.log.Warn("heartbeat failed", "job_id", id.String(), "error", err.Error())
				}
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}
