package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	mediarepo "github.com/lingobridge/lingobridge-backend/internal/data/repos/media"
	"github.com/lingobridge/lingobridge-backend/internal/domain/media"
	"github.com/lingobridge/lingobridge-backend/internal/pkg/retry"
	"github.com/lingobridge/lingobridge-backend/internal/platform/envutil"
	"github.com/lingobridge/lingobridge-backend/internal/platform/logger"
)

// ProviderLimits bundle the retry and spacing knobs for one external
// provider, resolved from env with per-provider prefixes.
type ProviderLimits struct {
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MinInterval time.Duration
}

func limitsFromEnv(prefix string) ProviderLimits {
	return ProviderLimits{
		MaxRetries:  envutil.Int(prefix+"_MAX_RETRIES", 3),
		BaseDelay:   envutil.Seconds(prefix+"_RETRY_BASE_DELAY_SECONDS", time.Second),
		MaxDelay:    envutil.Seconds(prefix+"_RETRY_MAX_DELAY_SECONDS", 30*time.Second),
		MinInterval: time.Duration(envutil.Int(prefix+"_MIN_INTERVAL_MS", 500)) * time.Millisecond,
	}
}

func (l ProviderLimits) retryConfig(log *logger.Logger, provider string) retry.Config {
	return retry.Config{
		MaxRetries: l.MaxRetries,
		BaseDelay:  l.BaseDelay,
		MaxDelay:   l.MaxDelay,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			log.Warn("Retrying provider call",
				"provider", provider,
				"attempt", attempt,
				"delay", delay.String(),
				"error", err.Error(),
			)
		},
	}
}

type CreateVideoJobInput struct {
	OwnerUserID   uuid.UUID
	TemplateType  string
	SourceConfig  map[string]any
	VideoSettings map[string]any
	LessonContent map[string]any
}

// VideoJobService owns job creation, lookup and cancellation. Stage status
// is advanced only by the stage drivers and pollers.
type VideoJobService interface {
	Create(ctx context.Context, in CreateVideoJobInput) (*media.VideoJob, error)
	GetByID(ctx context.Context, id uuid.UUID) (*media.VideoJob, error)
	Cancel(ctx context.Context, id uuid.UUID) (*media.VideoJob, error)
}

type videoJobService struct {
	log  *logger.Logger
	repo mediarepo.VideoJobRepo
}

func NewVideoJobService(baseLog *logger.Logger, repo mediarepo.VideoJobRepo) VideoJobService {
	return &videoJobService{
		log:  baseLog.With("service", "VideoJobService"),
		repo: repo,
	}
}

func (s *videoJobService) Create(ctx context.Context, in CreateVideoJobInput) (*media.VideoJob, error) {
	templateType := in.TemplateType
	if templateType == "" {
		templateType = "lesson_default"
	}
	job := &media.VideoJob{
		OwnerUserID:   in.OwnerUserID,
		Status:        media.StatusPending,
		TemplateType:  templateType,
		SourceConfig:  encodeJSONMap(in.SourceConfig),
		VideoSettings: encodeJSONMap(in.VideoSettings),
		LessonContent: encodeJSONMap(in.LessonContent),
	}
	created, err := s.repo.Create(ctx, job)
	if err != nil {
		return nil, err
	}
	s.log.Info("Video job created", "job_id", created.ID, "template_type", created.TemplateType)
	return created, nil
}

func (s *videoJobService) GetByID(ctx context.Context, id uuid.UUID) (*media.VideoJob, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// Cancel flips a non-terminal job to cancelled. In-flight vendor work is
// not aborted vendor-side; the status guard stops every later driver and
// poller from acting on the job.
func (s *videoJobService) Cancel(ctx context.Context, id uuid.UUID) (*media.VideoJob, error) {
	job, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return job, nil
	}
	ok, err := s.repo.UpdateFieldsUnlessStatus(ctx, id,
		[]media.Status{media.StatusCompleted, media.StatusFailed, media.StatusCancelled},
		map[string]interface{}{"status": media.StatusCancelled},
	)
	if err != nil {
		return nil, err
	}
	if ok {
		s.log.Info("Video job cancelled", "job_id", id)
	}
	return s.GetByID(ctx, id)
}

func encodeJSONMap(m map[string]any) datatypes.JSON {
	if m == nil {
		return datatypes.JSON([]byte("{}"))
	}
	b, err := json.Marshal(m)
	if err != nil {
		return datatypes.JSON([]byte("{}"))
	}
	return datatypes.JSON(b)
}

// loadRunnableJob fetches a job and applies the checks every stage entry
// point runs before touching anything: the job exists and is not cancelled
// or otherwise terminal-failed.
func loadRunnableJob(ctx context.Context, repo mediarepo.VideoJobRepo, id uuid.UUID) (*media.VideoJob, error) {
	job, err := repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	if job.Status == media.StatusCancelled {
		return nil, ErrJobCancelled
	}
	return job, nil
}

// notCancelled is the guard list for every stage-driver patch: a racing
// cancellation wins over any in-flight write.
var notCancelled = []media.Status{media.StatusCancelled}
