package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	ingestionrepo "github.com/lingobridge/lingobridge-backend/internal/data/repos/ingestion"
	mediarepo "github.com/lingobridge/lingobridge-backend/internal/data/repos/media"
	"github.com/lingobridge/lingobridge-backend/internal/domain/ingestion"
	"github.com/lingobridge/lingobridge-backend/internal/domain/media"
	"github.com/lingobridge/lingobridge-backend/internal/platform/envutil"
	"github.com/lingobridge/lingobridge-backend/internal/platform/logger"
)

// stagePercent maps a job status onto a coarse overall percentage: each
// stage owns a quarter of the bar. Within-stage vendor progress is layered
// on top by the pollers.
func stagePercent(s media.Status) int {
	switch s {
	case media.StatusPending:
		return 0
	case media.StatusAudioGenerating:
		return 25
	case media.StatusAvatarGenerating:
		return 50
	case media.StatusRendering:
		return 75
	case media.StatusCompleted:
		return 100
	default:
		return 0
	}
}

// ProgressSnapshot is one observation of a job's externally visible state.
type ProgressSnapshot struct {
	Status       string `json:"status"`
	Phase        string `json:"phase"`
	Percentage   int    `json:"percentage"`
	Message      string `json:"message,omitempty"`
	Terminal     bool   `json:"-"`
	ErrorMessage string `json:"error,omitempty"`
}

// ProgressSource samples the current state of one job.
type ProgressSource func(ctx context.Context) (ProgressSnapshot, error)

type ProgressEventType string

const (
	ProgressEventUpdate ProgressEventType = "progress"
	ProgressEventDone   ProgressEventType = "done"
	ProgressEventError  ProgressEventType = "error"
)

type ProgressEvent struct {
	Type     ProgressEventType `json:"type"`
	Snapshot ProgressSnapshot  `json:"snapshot"`
}

// ProgressProjector turns repeated snapshots of a job into a stream of
// change-only events. Identical consecutive samples (same status and
// percentage) are suppressed, so a client watching a slow render is not
// flooded with duplicates.
type ProgressProjector struct {
	log      *logger.Logger
	interval time.Duration
	budget   time.Duration
}

func NewProgressProjector(baseLog *logger.Logger) *ProgressProjector {
	return &ProgressProjector{
		log:      baseLog.With("service", "ProgressProjector"),
		interval: envutil.Seconds("PROGRESS_SAMPLE_INTERVAL_SECONDS", 2*time.Second),
		budget:   envutil.Seconds("PROGRESS_STREAM_BUDGET_SECONDS", 10*time.Minute),
	}
}

// Run samples source until the job reaches a terminal state, the stream
// budget expires, the context is cancelled, or emit reports the consumer is
// gone. A sampling failure produces a final error event before returning;
// the stream never just goes silent.
func (p *ProgressProjector) Run(ctx context.Context, source ProgressSource, emit func(ProgressEvent) error) error {
	ctx, cancel := context.WithTimeout(ctx, p.budget)
	defer cancel()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var last *ProgressSnapshot
	for {
		snap, err := source(ctx)
		if err != nil {
			p.log.Warn("Progress sampling failed; closing stream", "error", err)
			_ = emit(ProgressEvent{
				Type:     ProgressEventError,
				Snapshot: ProgressSnapshot{ErrorMessage: truncateErr(err)},
			})
			return err
		}

		if last == nil || snap.Status != last.Status || snap.Percentage != last.Percentage {
			evType := ProgressEventUpdate
			if snap.Terminal {
				evType = ProgressEventDone
				if snap.ErrorMessage != "" {
					evType = ProgressEventError
				}
			}
			if err := emit(ProgressEvent{Type: evType, Snapshot: snap}); err != nil {
				return err
			}
			last = &snap
		}
		if snap.Terminal {
			return nil
		}

		select {
		case <-ctx.Done():
			_ = emit(ProgressEvent{
				Type:     ProgressEventError,
				Snapshot: ProgressSnapshot{ErrorMessage: "progress stream closed: " + ctx.Err().Error()},
			})
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// VideoJobProgressSource projects a media job row into snapshots.
func VideoJobProgressSource(repo mediarepo.VideoJobRepo, jobID uuid.UUID) ProgressSource {
	return func(ctx context.Context) (ProgressSnapshot, error) {
		job, err := repo.GetByID(ctx, jobID)
		if err != nil {
			return ProgressSnapshot{}, err
		}
		if job == nil {
			return ProgressSnapshot{}, ErrJobNotFound
		}
		snap := ProgressSnapshot{
			Status:     string(job.Status),
			Phase:      media.PhaseLabel(job.Status),
			Percentage: stagePercent(job.Status),
			Terminal:   job.Status.Terminal(),
		}
		if job.Status == media.StatusFailed {
			snap.ErrorMessage = nonEmpty(job.ErrorMessage, "job failed")
			snap.Message = job.ErrorStep
		}
		return snap, nil
	}
}

// IngestionProgressSource projects a research job row into snapshots. The
// percentage here is unit-based rather than stage-based since phase sizes
// vary with how much the search turns up.
func IngestionProgressSource(repo ingestionrepo.JobRepo, jobID uuid.UUID) ProgressSource {
	return func(ctx context.Context) (ProgressSnapshot, error) {
		job, err := repo.GetByID(ctx, jobID)
		if err != nil {
			return ProgressSnapshot{}, err
		}
		if job == nil {
			return ProgressSnapshot{}, ErrJobNotFound
		}
		snap := ProgressSnapshot{
			Status:     string(job.Status),
			Phase:      job.CurrentPhase(),
			Percentage: job.Percentage,
			Terminal:   job.Status.Terminal(),
		}
		if job.Status == ingestion.StatusFailed && job.ErrorMessage != "" {
			snap.ErrorMessage = job.ErrorMessage
		}
		return snap, nil
	}
}
