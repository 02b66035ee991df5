package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/lingobridge/lingobridge-backend/internal/capabilities/avatar"
	mediarepo "github.com/lingobridge/lingobridge-backend/internal/data/repos/media"
	"github.com/lingobridge/lingobridge-backend/internal/domain/media"
	"github.com/lingobridge/lingobridge-backend/internal/pkg/retry"
	"github.com/lingobridge/lingobridge-backend/internal/pkg/spacer"
	"github.com/lingobridge/lingobridge-backend/internal/platform/bucket"
	"github.com/lingobridge/lingobridge-backend/internal/platform/envutil"
	"github.com/lingobridge/lingobridge-backend/internal/platform/logger"
)

const avatarProviderKey = "avatar"

type AvatarStageInput struct {
	JobID             uuid.UUID
	CharacterID       string
	CharacterImageURL string
	Resolution        string
	AspectRatio       string
	TextPrompt        string
}

// PollResult is what both async stages report back to a polling client.
type PollResult struct {
	Status   string  `json:"status"`
	Progress float64 `json:"progress,omitempty"`
	VideoURL string  `json:"video_url,omitempty"`
	// Warning is set when generation succeeded but the artifact hand-off
	// could not persist the output; VideoURL then points at the vendor's
	// temporary hosting.
	Warning string `json:"warning,omitempty"`
}

// AvatarStageService runs stage 2. Start pushes the narration audio (and
// optionally a character image) into the vendor's asset store, kicks off
// the asynchronous generation and returns immediately; completion is
// observed only through Poll.
type AvatarStageService interface {
	Start(ctx context.Context, in AvatarStageInput) (externalJobID string, err error)
	Poll(ctx context.Context, jobID uuid.UUID) (*PollResult, error)
}

type avatarStageService struct {
	log        *logger.Logger
	repo       mediarepo.VideoJobRepo
	store      bucket.MediaStore
	client     avatar.Client
	spacer     *spacer.Spacer
	notify     JobNotifier
	limits     ProviderLimits
	signedTTL  time.Duration
	httpClient *http.Client
}

func NewAvatarStageService(
	baseLog *logger.Logger,
	repo mediarepo.VideoJobRepo,
	store bucket.MediaStore,
	client avatar.Client,
	sp *spacer.Spacer,
	notify JobNotifier,
) AvatarStageService {
	return &avatarStageService{
		log:        baseLog.With("service", "AvatarStageService"),
		repo:       repo,
		store:      store,
		client:     client,
		spacer:     sp,
		notify:     notify,
		limits:     limitsFromEnv("AVATAR"),
		signedTTL:  envutil.Seconds("ARTIFACT_SIGNED_URL_TTL_SECONDS", 24*time.Hour),
		httpClient: &http.Client{Timeout: time.Minute},
	}
}

func (s *avatarStageService) Start(ctx context.Context, in AvatarStageInput) (string, error) {
	job, err := loadRunnableJob(ctx, s.repo, in.JobID)
	if err != nil {
		return "", err
	}

	// A duplicate start while generation is already in flight is a no-op
	// returning the existing external reference. An empty reference at this
	// status means an earlier start was interrupted before the reference
	// could be persisted, so the stage is re-runnable.
	switch job.Status {
	case media.StatusAvatarGenerating:
		if job.ExternalJobID != "" {
			return job.ExternalJobID, nil
		}
	case media.StatusAudioGenerating:
	default:
		return "", ErrStageOrder
	}

	audio := job.Audio()
	if audio == nil {
		return "", &PreconditionError{Step: media.StepAvatarGeneration, Missing: "audio output"}
	}
	if in.CharacterID == "" && in.CharacterImageURL == "" {
		return "", &PreconditionError{Step: media.StepAvatarGeneration, Missing: "character id or character image url"}
	}

	if job.Status == media.StatusAudioGenerating {
		ok, err := s.repo.UpdateFieldsUnlessStatus(ctx, job.ID, notCancelled, map[string]interface{}{
			"status": media.StatusAvatarGenerating,
		})
		if err != nil {
			return "", err
		}
		if !ok {
			return "", ErrJobCancelled
		}
	}
	s.notify.JobProgress(job.ID, string(media.StatusAvatarGenerating), stagePercent(media.StatusAvatarGenerating), "Animating avatar")

	externalID, err := s.startGeneration(ctx, job, audio, in)
	if err != nil {
		return "", s.fail(ctx, job.ID, err)
	}

	ok, err := s.repo.UpdateFieldsUnlessStatus(ctx, job.ID, notCancelled, map[string]interface{}{
		"external_provider": avatarProviderKey,
		"external_job_id":   externalID,
	})
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrJobCancelled
	}

	s.log.Info("Avatar generation started", "job_id", job.ID, "external_job_id", externalID)
	return externalID, nil
}

// startGeneration does the vendor-side asset dance: the vendor cannot pull
// from our (private) URLs, so audio and image bytes are re-uploaded as
// vendor assets before the generation can reference them.
func (s *avatarStageService) startGeneration(ctx context.Context, job *media.VideoJob, audio *media.Artifact, in AvatarStageInput) (string, error) {
	cfg := s.limits.retryConfig(s.log, avatarProviderKey)

	audioBytes, err := s.readArtifact(ctx, audio)
	if err != nil {
		return "", fmt.Errorf("read audio artifact: %w", err)
	}

	audioAssetID, err := retry.Do(ctx, cfg, func(ctx context.Context) (string, error) {
		if err := s.spacer.Wait(ctx, avatarProviderKey, s.limits.MinInterval); err != nil {
			return "", err
		}
		return s.client.CreateAsset(ctx, fmt.Sprintf("audio-%s", job.ID), "audio")
	})
	if err != nil {
		return "", err
	}
	if _, err := retry.Do(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		if err := s.spacer.Wait(ctx, avatarProviderKey, s.limits.MinInterval); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, s.client.UploadAsset(ctx, audioAssetID, audioBytes, "audio/mpeg")
	}); err != nil {
		return "", err
	}

	genReq := avatar.GenerationRequest{
		AudioAssetID: audioAssetID,
		CharacterID:  in.CharacterID,
		Resolution:   in.Resolution,
		AspectRatio:  in.AspectRatio,
		TextPrompt:   in.TextPrompt,
	}

	if in.CharacterID == "" {
		imageBytes, contentType, err := s.fetchRemote(ctx, in.CharacterImageURL)
		if err != nil {
			return "", fmt.Errorf("fetch character image: %w", err)
		}
		imageAssetID, err := retry.Do(ctx, cfg, func(ctx context.Context) (string, error) {
			if err := s.spacer.Wait(ctx, avatarProviderKey, s.limits.MinInterval); err != nil {
				return "", err
			}
			return s.client.CreateAsset(ctx, fmt.Sprintf("character-%s", job.ID), "image")
		})
		if err != nil {
			return "", err
		}
		if _, err := retry.Do(ctx, cfg, func(ctx context.Context) (struct{}, error) {
			if err := s.spacer.Wait(ctx, avatarProviderKey, s.limits.MinInterval); err != nil {
				return struct{}{}, err
			}
			return struct{}{}, s.client.UploadAsset(ctx, imageAssetID, imageBytes, contentType)
		}); err != nil {
			return "", err
		}
		genReq.CharacterAssetID = imageAssetID
	}

	return retry.Do(ctx, cfg, func(ctx context.Context) (string, error) {
		if err := s.spacer.Wait(ctx, avatarProviderKey, s.limits.MinInterval); err != nil {
			return "", err
		}
		return s.client.StartGeneration(ctx, genReq)
	})
}

func (s *avatarStageService) Poll(ctx context.Context, jobID uuid.UUID) (*PollResult, error) {
	job, err := loadRunnableJob(ctx, s.repo, jobID)
	if err != nil {
		return nil, err
	}

	// Hand-off already happened: a repeated poll returns the cached result
	// without touching the vendor or the store again.
	if existing := job.Avatar(); existing != nil && job.ExternalJobID == "" {
		return &PollResult{Status: avatar.JobStatusComplete, Progress: 100, VideoURL: existing.URL}, nil
	}
	if job.Status != media.StatusAvatarGenerating || job.ExternalJobID == "" {
		return nil, ErrStageOrder
	}

	st, err := s.client.GetStatus(ctx, job.ExternalJobID)
	if err != nil {
		// A flaky status check is not a stage failure; the client polls
		// again.
		return nil, err
	}

	switch st.Status {
	case avatar.JobStatusComplete:
		return s.handOff(ctx, job, st)
	case avatar.JobStatusFailed:
		msg := truncateMsg(nonEmpty(st.Error, "avatar generation failed"))
		_, uerr := s.repo.UpdateFieldsUnlessStatus(ctx, job.ID, notCancelled, map[string]interface{}{
			"status":            media.StatusFailed,
			"error_step":        media.StepAvatarGeneration,
			"error_message":     msg,
			"external_provider": "",
			"external_job_id":   "",
		})
		if uerr != nil {
			s.log.Error("Failed to record avatar failure", "job_id", job.ID, "error", uerr)
		}
		s.notify.JobFailed(job.ID, media.StepAvatarGeneration, msg)
		return &PollResult{Status: avatar.JobStatusFailed}, nil
	default:
		return &PollResult{Status: avatar.JobStatusInProgress, Progress: float64(st.Progress)}, nil
	}
}

// handOff pulls the finished avatar video off the vendor's time-limited URL
// into our own store. If persisting fails the vendor output is not lost:
// the vendor URL is surfaced with a warning instead of failing the job,
// since the expensive generation already succeeded.
func (s *avatarStageService) handOff(ctx context.Context, job *media.VideoJob, st *avatar.JobStatus) (*PollResult, error) {
	if st.OutputURL == "" {
		return nil, fmt.Errorf("avatar vendor reported complete without output url")
	}

	key := fmt.Sprintf("videos/%s/avatar/%d.mp4", job.ID, time.Now().UnixMilli())
	size, err := s.store.UploadFromRemoteURL(ctx, key, st.OutputURL)
	if err != nil {
		s.log.Warn("Avatar hand-off failed to persist; surfacing vendor url",
			"job_id", job.ID,
			"error", err,
		)
		return &PollResult{
			Status:   avatar.JobStatusComplete,
			Progress: 100,
			VideoURL: st.OutputURL,
			Warning:  "generated video could not be persisted; temporary vendor url returned",
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
	if audio := job.Audio(); audio != nil {
		artifact.DurationSeconds = audio.DurationSeconds
	}

	ok, err := s.repo.UpdateFieldsUnlessStatus(ctx, job.ID, notCancelled, map[string]interface{}{
		"avatar_output":     media.EncodeArtifact(artifact),
		"external_provider": "",
		"external_job_id":   "",
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrJobCancelled
	}

	s.log.Info("Avatar hand-off completed", "job_id", job.ID, "storage_key", key, "size_bytes", size)
	s.notify.JobProgress(job.ID, string(media.StatusAvatarGenerating), stagePercent(media.StatusAvatarGenerating), "Avatar video ready")
	return &PollResult{Status: avatar.JobStatusComplete, Progress: 100, VideoURL: url}, nil
}

func (s *avatarStageService) fail(ctx context.Context, jobID uuid.UUID, cause error) error {
	msg := truncateErr(cause)
	_, uerr := s.repo.UpdateFieldsUnlessStatus(ctx, jobID, notCancelled, map[string]interface{}{
		"status":        media.StatusFailed,
		"error_step":    media.StepAvatarGeneration,
		"error_message": msg,
	})
	if uerr != nil {
		s.log.Error("Failed to record avatar stage failure", "job_id", jobID, "error", uerr)
	}
	s.notify.JobFailed(jobID, media.StepAvatarGeneration, msg)
	return &StageError{Step: media.StepAvatarGeneration, Err: cause}
}

func (s *avatarStageService) readArtifact(ctx context.Context, a *media.Artifact) ([]byte, error) {
	rd, err := s.store.Download(ctx, a.StorageKey)
	if err != nil {
		return nil, err
	}
	defer rd.Close()
	return io.ReadAll(rd)
}

func (s *avatarStageService) fetchRemote(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, url)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return b, resp.Header.Get("Content-Type"), nil
}
