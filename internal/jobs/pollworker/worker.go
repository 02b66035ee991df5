package pollworker

import (
	"context"
	"time"

	mediarepo "github.com/lingobridge/lingobridge-backend/internal/data/repos/media"
	"github.com/lingobridge/lingobridge-backend/internal/domain/media"
	"github.com/lingobridge/lingobridge-backend/internal/platform/envutil"
	"github.com/lingobridge/lingobridge-backend/internal/platform/logger"
	"github.com/lingobridge/lingobridge-backend/internal/services"
)

// Worker is the optional server-side poller. Clients normally drive the
// poll endpoints themselves; with POLL_WORKER_ENABLED the server sweeps
// in-flight external jobs so abandoned browser tabs still finish. The
// pollers are idempotent, so the worker and a polling client never
// conflict.
type Worker struct {
	log    *logger.Logger
	repo   mediarepo.VideoJobRepo
	avatar services.AvatarStageService
	render services.RenderStageService

	interval  time.Duration
	batchSize int
}

func New(
	baseLog *logger.Logger,
	repo mediarepo.VideoJobRepo,
	avatar services.AvatarStageService,
	render services.RenderStageService,
) *Worker {
	return &Worker{
		log:       baseLog.With("component", "PollWorker"),
		repo:      repo,
		avatar:    avatar,
		render:    render,
		interval:  envutil.Seconds("POLL_WORKER_INTERVAL_SECONDS", 10*time.Second),
		batchSize: envutil.Int("POLL_WORKER_BATCH_SIZE", 20),
	}
}

func (w *Worker) Start(ctx context.Context) {
	w.log.Info("Starting poll worker", "interval", w.interval.String(), "batch_size", w.batchSize)
	go w.runLoop(ctx)
}

func (w *Worker) runLoop(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Poll worker stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *Worker) sweep(ctx context.Context) {
	jobs, err := w.repo.ListInFlightExternal(ctx, w.batchSize)
	if err != nil {
		w.log.Warn("Failed to list in-flight jobs", "error", err)
		return
	}

	for _, job := range jobs {
		switch job.Status {
		case media.StatusAvatarGenerating:
			if _, err := w.avatar.Poll(ctx, job.ID); err != nil {
				w.log.Warn("Avatar poll failed", "job_id", job.ID, "error", err)
			}
		case media.StatusRendering:
			if _, err := w.render.Poll(ctx, job.ID, job.ExternalJobID); err != nil {
				w.log.Warn("Render poll failed", "job_id", job.ID, "error", err)
			}
		}
	}
}
