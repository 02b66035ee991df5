package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lingobridge/lingobridge-backend/internal/capabilities/render"
	mediarepo "github.com/lingobridge/lingobridge-backend/internal/data/repos/media"
	"github.com/lingobridge/lingobridge-backend/internal/domain/media"
	"github.com/lingobridge/lingobridge-backend/internal/pkg/retry"
	"github.com/lingobridge/lingobridge-backend/internal/pkg/spacer"
	"github.com/lingobridge/lingobridge-backend/internal/platform/bucket"
	"github.com/lingobridge/lingobridge-backend/internal/platform/envutil"
	"github.com/lingobridge/lingobridge-backend/internal/platform/logger"
)

const renderProviderKey = "render"

// Compositions registered on the render farm, keyed by template type.
var compositionByTemplate = map[string]string{
	"conversation": "LessonConversation",
	"vocabulary":   "LessonVocabulary",
	"grammar":      "LessonGrammar",
	"story":        "LessonStory",
}

const defaultComposition = "LessonConversation"

// RenderStartResult reports either a started render or, when no render
// endpoint is configured, the composition and props that would have been
// submitted so lower environments can render locally.
type RenderStartResult struct {
	ExternalJobID string         `json:"external_job_id,omitempty"`
	Configured    bool           `json:"configured"`
	CompositionID string         `json:"composition_id"`
	InputProps    map[string]any `json:"input_props,omitempty"`
}

// RenderStageService runs stage 3: composing the avatar video, captions and
// lesson visuals into the final deliverable on the render farm.
type RenderStageService interface {
	Start(ctx context.Context, jobID uuid.UUID) (*RenderStartResult, error)
	Poll(ctx context.Context, jobID uuid.UUID, externalJobID string) (*PollResult, error)
}

type renderStageService struct {
	log       *logger.Logger
	repo      mediarepo.VideoJobRepo
	store     bucket.MediaStore
	client    render.Client
	spacer    *spacer.Spacer
	notify    JobNotifier
	limits    ProviderLimits
	signedTTL time.Duration
}

func NewRenderStageService(
	baseLog *logger.Logger,
	repo mediarepo.VideoJobRepo,
	store bucket.MediaStore,
	client render.Client,
	sp *spacer.Spacer,
	notify JobNotifier,
) RenderStageService {
	return &renderStageService{
		log:       baseLog.With("service", "RenderStageService"),
		repo:      repo,
		store:     store,
		client:    client,
		spacer:    sp,
		notify:    notify,
		limits:    limitsFromEnv("RENDER"),
		signedTTL: envutil.Seconds("ARTIFACT_SIGNED_URL_TTL_SECONDS", 24*time.Hour),
	}
}

func (s *renderStageService) Start(ctx context.Context, jobID uuid.UUID) (*RenderStartResult, error) {
	job, err := loadRunnableJob(ctx, s.repo, jobID)
	if err != nil {
		return nil, err
	}

	// Same re-entry rules as the avatar start: an in-flight render is a
	// no-op returning the existing reference, while rendering status with
	// no reference means the previous start never persisted one and the
	// submission is re-runnable.
	switch job.Status {
	case media.StatusRendering:
		if job.ExternalJobID != "" {
			return &RenderStartResult{
				ExternalJobID: job.ExternalJobID,
				Configured:    true,
				CompositionID: compositionFor(job.TemplateType),
			}, nil
		}
	case media.StatusAvatarGenerating:
	default:
		return nil, ErrStageOrder
	}

	avatarOut := job.Avatar()
	if avatarOut == nil {
		return nil, &PreconditionError{Step: media.StepRendering, Missing: "avatar output"}
	}
	if len(job.LessonContent) == 0 {
		return nil, &PreconditionError{Step: media.StepRendering, Missing: "lesson content"}
	}

	compositionID := compositionFor(job.TemplateType)
	props := s.buildInputProps(job, avatarOut)

	// With no render endpoint the job stays where it is; the caller gets
	// everything needed to render the composition themselves.
	if !s.client.Configured() {
		s.log.Warn("Render endpoint not configured; returning computed props", "job_id", job.ID)
		return &RenderStartResult{
			Configured:    false,
			CompositionID: compositionID,
			InputProps:    props,
		}, nil
	}

	if job.Status == media.StatusAvatarGenerating {
		ok, err := s.repo.UpdateFieldsUnlessStatus(ctx, job.ID, notCancelled, map[string]interface{}{
			"status": media.StatusRendering,
		})
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrJobCancelled
		}
	}
	s.notify.JobProgress(job.ID, string(media.StatusRendering), stagePercent(media.StatusRendering), "Rendering final video")

	cfg := s.limits.retryConfig(s.log, renderProviderKey)
	externalID, err := retry.Do(ctx, cfg, func(ctx context.Context) (string, error) {
		if err := s.spacer.Wait(ctx, renderProviderKey, s.limits.MinInterval); err != nil {
			return "", err
		}
		return s.client.StartRender(ctx, compositionID, props)
	})
	if err != nil {
		return nil, s.fail(ctx, job.ID, err)
	}

	ok, err := s.repo.UpdateFieldsUnlessStatus(ctx, job.ID, notCancelled, map[string]interface{}{
		"external_provider": renderProviderKey,
		"external_job_id":   externalID,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrJobCancelled
	}

	s.log.Info("Render started", "job_id", job.ID, "composition_id", compositionID, "external_job_id", externalID)
	return &RenderStartResult{
		ExternalJobID: externalID,
		Configured:    true,
		CompositionID: compositionID,
		InputProps:    props,
	}, nil
}

// buildInputProps assembles the composition props from the lesson content,
// the avatar video and the caller's video settings. The avatar input prefers
// the CDN URL since the render farm re-fetches it repeatedly.
func (s *renderStageService) buildInputProps(job *media.VideoJob, avatarOut *media.Artifact) map[string]any {
	avatarURL := avatarOut.URL
	if u := s.store.PublicURL(avatarOut.StorageKey); u != "" {
		avatarURL = u
	}

	var lesson map[string]any
	_ = json.Unmarshal(job.LessonContent, &lesson)

	settings := map[string]any{}
	_ = json.Unmarshal(job.VideoSettings, &settings)

	props := map[string]any{
		"avatar_video_url": avatarURL,
		"lesson_content":   lesson,
		"template_type":    job.TemplateType,
		"duration_seconds": avatarOut.DurationSeconds,
	}
	for _, k := range []string{"brand_colors", "captions_enabled", "aspect_ratio", "background_music", "logo_url"} {
		if v, ok := settings[k]; ok {
			props[k] = v
		}
	}
	if audio := job.Audio(); audio != nil {
		props["audio_url"] = audio.URL
	}
	return props
}

func (s *renderStageService) Poll(ctx context.Context, jobID uuid.UUID, externalJobID string) (*PollResult, error) {
	job, err := loadRunnableJob(ctx, s.repo, jobID)
	if err != nil {
		return nil, err
	}

	if final := job.Final(); final != nil && job.Status == media.StatusCompleted {
		return &PollResult{Status: render.JobStatusComplete, Progress: 100, VideoURL: final.URL}, nil
	}
	if job.Status != media.StatusRendering || job.ExternalJobID == "" {
		return nil, ErrStageOrder
	}
	if externalJobID != "" && externalJobID != job.ExternalJobID {
		return nil, fmt.Errorf("external job id %q does not belong to job %s", externalJobID, job.ID)
	}

	st, err := s.client.GetStatus(ctx, job.ExternalJobID)
	if err != nil {
		return nil, err
	}

	switch st.Status {
	case render.JobStatusComplete:
		return s.handOff(ctx, job, st)
	case render.JobStatusFailed:
		msg := truncateMsg(nonEmpty(st.Error, "render failed"))
		_, uerr := s.repo.UpdateFieldsUnlessStatus(ctx, job.ID, notCancelled, map[string]interface{}{
			"status":            media.StatusFailed,
			"error_step":        media.StepRendering,
			"error_message":     msg,
			"external_provider": "",
			"external_job_id":   "",
		})
		if uerr != nil {
			s.log.Error("Failed to record render failure", "job_id", job.ID, "error", uerr)
		}
		s.notify.JobFailed(job.ID, media.StepRendering, msg)
		return &PollResult{Status: render.JobStatusFailed}, nil
	default:
		return &PollResult{Status: render.JobStatusInProgress, Progress: st.Progress}, nil
	}
}

func (s *renderStageService) handOff(ctx context.Context, job *media.VideoJob, st *render.JobStatus) (*PollResult, error) {
	if st.OutputURL == "" {
		return nil, fmt.Errorf("render service reported complete without output url")
	}

	key := fmt.Sprintf("videos/%s/final/%d.mp4", job.ID, time.Now().UnixMilli())
	size, err := s.store.UploadFromRemoteURL(ctx, key, st.OutputURL)
	if err != nil {
		s.log.Warn("Final render hand-off failed to persist; surfacing vendor url",
			"job_id", job.ID,
			"error", err,
		)
		return &PollResult{
			Status:   render.JobStatusComplete,
			Progress: 100,
			VideoURL: st.OutputURL,
			Warning:  "final video could not be persisted; temporary vendor url returned",
		}, nil
	}

	url := s.store.PublicURL(key)
	if url == "" {
		url, err = s.store.SignedURL(key, s.signedTTL)
		if err != nil {
			return nil, err
		}
	}

	artifact := media.Artifact{
		StorageKey: key,
		URL:        url,
		SizeBytes:  size,
		ProducedAt: time.Now().UTC(),
	}
	if st.FPS > 0 && st.DurationFrames > 0 {
		artifact.DurationSeconds = float64(st.DurationFrames) / float64(st.FPS)
	}

	ok, err := s.repo.UpdateFieldsUnlessStatus(ctx, job.ID, notCancelled, map[string]interface{}{
		"final_output":      media.EncodeArtifact(artifact),
		"status":            media.StatusCompleted,
		"external_provider": "",
		"external_job_id":   "",
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrJobCancelled
	}

	s.log.Info("Render hand-off completed", "job_id", job.ID, "storage_key", key, "size_bytes", size)
	s.notify.JobProgress(job.ID, string(media.StatusCompleted), 100, "Video ready")
	s.notify.JobDone(job.ID)
	return &PollResult{Status: render.JobStatusComplete, Progress: 100, VideoURL: url}, nil
}

func (s *renderStageService) fail(ctx context.Context, jobID uuid.UUID, cause error) error {
	msg := truncateErr(cause)
	_, uerr := s.repo.UpdateFieldsUnlessStatus(ctx, jobID, notCancelled, map[string]interface{}{
		"status":        media.StatusFailed,
		"error_step":    media.StepRendering,
		"error_message": msg,
	})
	if uerr != nil {
		s.log.Error("Failed to record render stage failure", "job_id", jobID, "error", uerr)
	}
	s.notify.JobFailed(jobID, media.StepRendering, msg)
	return &StageError{Step: media.StepRendering, Err: cause}
}

func compositionFor(templateType string) string {
	if c, ok := compositionByTemplate[templateType]; ok {
		return c
	}
	return defaultComposition
}
