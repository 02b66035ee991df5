package services

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lingobridge/lingobridge-backend/internal/capabilities/speech"
	mediarepo "github.com/lingobridge/lingobridge-backend/internal/data/repos/media"
	"github.com/lingobridge/lingobridge-backend/internal/domain/media"
	"github.com/lingobridge/lingobridge-backend/internal/pkg/retry"
	"github.com/lingobridge/lingobridge-backend/internal/pkg/spacer"
	"github.com/lingobridge/lingobridge-backend/internal/platform/bucket"
	"github.com/lingobridge/lingobridge-backend/internal/platform/envutil"
	"github.com/lingobridge/lingobridge-backend/internal/platform/logger"
)

type AudioStageInput struct {
	JobID         uuid.UUID
	Script        string
	VoiceID       string
	VoiceProvider string
	Speed         float64
	Language      string
}

// AudioStageService runs stage 1: synthesize the lesson script into
// narration audio and persist it as the job's audio artifact. Unlike the
// later stages the vendor call is synchronous, so the whole stage fits in
// one request.
type AudioStageService interface {
	Run(ctx context.Context, in AudioStageInput) (*media.Artifact, error)
}

type audioStageService struct {
	log         *logger.Logger
	repo        mediarepo.VideoJobRepo
	store       bucket.MediaStore
	synth       speech.Synthesizer
	spacer      *spacer.Spacer
	notify      JobNotifier
	limits      ProviderLimits
	bitrateKbps int
	signedTTL   time.Duration
}

func NewAudioStageService(
	baseLog *logger.Logger,
	repo mediarepo.VideoJobRepo,
	store bucket.MediaStore,
	synth speech.Synthesizer,
	sp *spacer.Spacer,
	notify JobNotifier,
) AudioStageService {
	bitrate := envutil.Int("SPEECH_BITRATE_KBPS", 128)
	// A zero or negative bitrate would make the duration estimate divide
	// by zero; treat it as unset.
	if bitrate <= 0 {
		bitrate = 128
	}
	return &audioStageService{
		log:         baseLog.With("service", "AudioStageService"),
		repo:        repo,
		store:       store,
		synth:       synth,
		spacer:      sp,
		notify:      notify,
		limits:      limitsFromEnv("SPEECH"),
		bitrateKbps: bitrate,
		signedTTL:   envutil.Seconds("ARTIFACT_SIGNED_URL_TTL_SECONDS", 24*time.Hour),
	}
}

func (s *audioStageService) Run(ctx context.Context, in AudioStageInput) (*media.Artifact, error) {
	job, err := loadRunnableJob(ctx, s.repo, in.JobID)
	if err != nil {
		return nil, err
	}

	// Re-running audio_generating is a legitimate retry; anything past it
	// is a stale duplicate start.
	switch job.Status {
	case media.StatusPending, media.StatusAudioGenerating:
	default:
		return nil, ErrStageOrder
	}

	if in.Script == "" {
		return nil, &PreconditionError{Step: media.StepAudioGeneration, Missing: "script"}
	}
	if in.VoiceID == "" {
		return nil, &PreconditionError{Step: media.StepAudioGeneration, Missing: "voice id"}
	}

	if job.Status == media.StatusPending {
		ok, err := s.repo.UpdateFieldsUnlessStatus(ctx, job.ID, notCancelled, map[string]interface{}{
			"status": media.StatusAudioGenerating,
		})
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrJobCancelled
		}
	}
	s.notify.JobProgress(job.ID, string(media.StatusAudioGenerating), stagePercent(media.StatusAudioGenerating), "Generating narration audio")

	providerKey := "speech:" + nonEmpty(in.VoiceProvider, "default")
	audioBytes, err := retry.Do(ctx, s.limits.retryConfig(s.log, providerKey), func(ctx context.Context) ([]byte, error) {
		if err := s.spacer.Wait(ctx, providerKey, s.limits.MinInterval); err != nil {
			return nil, err
		}
		return s.synth.Synthesize(ctx, in.Script, in.VoiceID, speech.Options{
			Speed:    in.Speed,
			Language: in.Language,
		})
	})
	if err != nil {
		return nil, s.fail(ctx, job.ID, err)
	}

	// Vendor responses carry no duration metadata; estimate from payload
	// size at the configured bitrate.
	durationSeconds := float64(len(audioBytes)) / (float64(s.bitrateKbps) * 1000 / 8)

	key := fmt.Sprintf("videos/%s/audio/%d.mp3", job.ID, time.Now().UnixMilli())
	if err := s.store.Upload(ctx, key, bytes.NewReader(audioBytes), "audio/mpeg"); err != nil {
		return nil, s.fail(ctx, job.ID, err)
	}

	url := s.store.PublicURL(key)
	if url == "" {
		url, err = s.store.SignedURL(key, s.signedTTL)
		if err != nil {
			return nil, s.fail(ctx, job.ID, err)
		}
	}

	artifact := media.Artifact{
		StorageKey:      key,
		URL:             url,
		DurationSeconds: durationSeconds,
		SizeBytes:       int64(len(audioBytes)),
		ProducedAt:      time.Now().UTC(),
	}
	ok, err := s.repo.UpdateFieldsUnlessStatus(ctx, job.ID, notCancelled, map[string]interface{}{
		"audio_output":  media.EncodeArtifact(artifact),
		"error_message": "",
		"error_step":    "",
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrJobCancelled
	}

	s.log.Info("Audio stage completed",
		"job_id", job.ID,
		"storage_key", key,
		"size_bytes", artifact.SizeBytes,
		"duration_seconds", artifact.DurationSeconds,
	)
	s.notify.JobProgress(job.ID, string(media.StatusAudioGenerating), stagePercent(media.StatusAudioGenerating), "Narration audio ready")
	return &artifact, nil
}

func (s *audioStageService) fail(ctx context.Context, jobID uuid.UUID, cause error) error {
	msg := truncateErr(cause)
	_, uerr := s.repo.UpdateFieldsUnlessStatus(ctx, jobID, notCancelled, map[string]interface{}{
		"status":        media.StatusFailed,
		"error_step":    media.StepAudioGeneration,
		"error_message": msg,
	})
	if uerr != nil {
		s.log.Error("Failed to record audio stage failure", "job_id", jobID, "error", uerr)
	}
	s.notify.JobFailed(jobID, media.StepAudioGeneration, msg)
	return &StageError{Step: media.StepAudioGeneration, Err: cause}
}

func nonEmpty(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
