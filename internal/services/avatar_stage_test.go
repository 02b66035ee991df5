package services

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lingobridge/lingobridge-backend/internal/capabilities/avatar"
	"github.com/lingobridge/lingobridge-backend/internal/data/repos/testutil"
	"github.com/lingobridge/lingobridge-backend/internal/domain/media"
	"github.com/lingobridge/lingobridge-backend/internal/pkg/spacer"
)

func newAvatarFixture(t *testing.T, client *fakeAvatarClient) (*fakeVideoJobRepo, *fakeMediaStore, *recordingNotifier, AvatarStageService) {
	t.Helper()
	t.Setenv("AVATAR_MIN_INTERVAL_MS", "0")
	repo := newFakeVideoJobRepo()
	store := newFakeMediaStore()
	notify := &recordingNotifier{}
	svc := NewAvatarStageService(testutil.Logger(t), repo, store, client, spacer.New(), notify)
	return repo, store, notify, svc
}

func seedAudioReadyJob(t *testing.T, repo *fakeVideoJobRepo, store *fakeMediaStore) *media.VideoJob {
	t.Helper()
	key := "videos/test/audio/1.mp3"
	if err := store.Upload(context.Background(), key, bytes.NewReader([]byte("mp3-bytes")), "audio/mpeg"); err != nil {
		t.Fatalf("seed audio: %v", err)
	}
	store.uploads = 0
	return repo.seed(&media.VideoJob{
		Status: media.StatusAudioGenerating,
		AudioOutput: media.EncodeArtifact(media.Artifact{
			StorageKey:      key,
			URL:             "https://signed.example/" + key,
			DurationSeconds: 12.5,
			ProducedAt:      time.Now().UTC(),
		}),
	})
}

func TestAvatarStartUploadsAssetsAndStartsGeneration(t *testing.T) {
	client := newFakeAvatarClient()
	repo, store, _, svc := newAvatarFixture(t, client)
	job := seedAudioReadyJob(t, repo, store)

	externalID, err := svc.Start(context.Background(), AvatarStageInput{
		JobID:       job.ID,
		CharacterID: "teacher-maria",
		Resolution:  "720p",
		AspectRatio: "16:9",
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if externalID != client.externalID {
		t.Fatalf("external id = %q, want %q", externalID, client.externalID)
	}
	if client.assetsMade != 1 || client.uploadsMade != 1 || client.startsMade != 1 {
		t.Fatalf("vendor calls: assets=%d uploads=%d starts=%d", client.assetsMade, client.uploadsMade, client.startsMade)
	}
	if client.lastGenReq.CharacterID != "teacher-maria" {
		t.Fatalf("generation request = %+v", client.lastGenReq)
	}

	got, _ := repo.GetByID(context.Background(), job.ID)
	if got.Status != media.StatusAvatarGenerating {
		t.Fatalf("status = %s", got.Status)
	}
	if got.ExternalJobID != externalID || got.ExternalProvider != avatarProviderKey {
		t.Fatalf("external ref not recorded: %q %q", got.ExternalProvider, got.ExternalJobID)
	}
}

func TestAvatarStartMissingAudioFailsBeforeVendorCall(t *testing.T) {
	client := newFakeAvatarClient()
	repo, _, _, svc := newAvatarFixture(t, client)
	job := repo.seed(&media.VideoJob{Status: media.StatusAudioGenerating})

	_, err := svc.Start(context.Background(), AvatarStageInput{JobID: job.ID, CharacterID: "c"})
	var pe *PreconditionError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PreconditionError, got %v", err)
	}
	if client.vendorCalls() != 0 {
		t.Fatalf("vendor called %d times on precondition failure", client.vendorCalls())
	}
	got, _ := repo.GetByID(context.Background(), job.ID)
	if got.Status != media.StatusAudioGenerating {
		t.Fatalf("status moved to %s", got.Status)
	}
}

func TestAvatarStartDuplicateReturnsExistingReference(t *testing.T) {
	client := newFakeAvatarClient()
	repo, _, _, svc := newAvatarFixture(t, client)
	job := repo.seed(&media.VideoJob{
		Status:           media.StatusAvatarGenerating,
		ExternalProvider: avatarProviderKey,
		ExternalJobID:    "av-ext-existing",
	})

	externalID, err := svc.Start(context.Background(), AvatarStageInput{JobID: job.ID, CharacterID: "c"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if externalID != "av-ext-existing" {
		t.Fatalf("external id = %q", externalID)
	}
	if client.vendorCalls() != 0 {
		t.Fatal("duplicate start reached the vendor")
	}
}

func TestAvatarStartResumesAfterLostExternalReference(t *testing.T) {
	client := newFakeAvatarClient()
	repo, store, _, svc := newAvatarFixture(t, client)
	job := seedAudioReadyJob(t, repo, store)

	// The write that records the vendor reference fails after the status
	// already moved forward, leaving the job mid-stage with no reference.
	repo.failColumnOnce = "external_job_id"
	if _, err := svc.Start(context.Background(), AvatarStageInput{JobID: job.ID, CharacterID: "c"}); err == nil {
		t.Fatal("expected first Start to surface the write failure")
	}
	got, _ := repo.GetByID(context.Background(), job.ID)
	if got.Status != media.StatusAvatarGenerating || got.ExternalJobID != "" {
		t.Fatalf("unexpected interrupted state: status=%s ref=%q", got.Status, got.ExternalJobID)
	}

	externalID, err := svc.Start(context.Background(), AvatarStageInput{JobID: job.ID, CharacterID: "c"})
	if err != nil {
		t.Fatalf("retried Start: %v", err)
	}
	if externalID != client.externalID {
		t.Fatalf("external id = %q, want %q", externalID, client.externalID)
	}
	got, _ = repo.GetByID(context.Background(), job.ID)
	if got.ExternalJobID != externalID {
		t.Fatalf("external ref not recorded on retry: %q", got.ExternalJobID)
	}

	client.statusQueue = []*avatar.JobStatus{
		{Status: avatar.JobStatusComplete, Progress: 100, OutputURL: "https://vendor.example/out.mp4"},
	}
	res, err := svc.Poll(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Poll after retry: %v", err)
	}
	if res.Status != avatar.JobStatusComplete {
		t.Fatalf("poll status = %q", res.Status)
	}
}

func TestAvatarPollCompleteHandsOffOnce(t *testing.T) {
	client := newFakeAvatarClient()
	client.statusQueue = []*avatar.JobStatus{
		{Status: avatar.JobStatusComplete, Progress: 100, OutputURL: "https://vendor.example/out.mp4"},
	}
	repo, store, _, svc := newAvatarFixture(t, client)
	job := seedAudioReadyJob(t, repo, store)
	repo.UpdateFields(context.Background(), job.ID, map[string]interface{}{
		"status":            media.StatusAvatarGenerating,
		"external_provider": avatarProviderKey,
		"external_job_id":   "av-ext-1",
	})

	res, err := svc.Poll(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if res.Status != avatar.JobStatusComplete || res.VideoURL == "" {
		t.Fatalf("result = %+v", res)
	}
	if store.remotePuts != 1 {
		t.Fatalf("remote puts = %d, want 1", store.remotePuts)
	}

	got, _ := repo.GetByID(context.Background(), job.ID)
	if got.Avatar() == nil {
		t.Fatal("avatar artifact not persisted")
	}
	if got.ExternalJobID != "" || got.ExternalProvider != "" {
		t.Fatal("external ref not cleared after hand-off")
	}

	// Second poll must serve the cached artifact without re-downloading.
	res2, err := svc.Poll(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("second Poll: %v", err)
	}
	if res2.VideoURL != res.VideoURL {
		t.Fatalf("cached url = %q, first = %q", res2.VideoURL, res.VideoURL)
	}
	if client.statusCalls != 1 {
		t.Fatalf("vendor status checked %d times, want 1", client.statusCalls)
	}
	if store.remotePuts != 1 {
		t.Fatalf("artifact re-downloaded on repeat poll")
	}
}

func TestAvatarPollHandOffFailureDegradesToVendorURL(t *testing.T) {
	client := newFakeAvatarClient()
	client.statusQueue = []*avatar.JobStatus{
		{Status: avatar.JobStatusComplete, Progress: 100, OutputURL: "https://vendor.example/out.mp4"},
	}
	repo, store, _, svc := newAvatarFixture(t, client)
	store.remoteErr = errors.New("bucket unavailable")
	job := seedAudioReadyJob(t, repo, store)
	repo.UpdateFields(context.Background(), job.ID, map[string]interface{}{
		"status":            media.StatusAvatarGenerating,
		"external_provider": avatarProviderKey,
		"external_job_id":   "av-ext-1",
	})

	res, err := svc.Poll(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if res.VideoURL != "https://vendor.example/out.mp4" {
		t.Fatalf("expected vendor url, got %q", res.VideoURL)
	}
	if res.Warning == "" {
		t.Fatal("expected persistence warning")
	}

	// The job is not failed; a later poll can retry the hand-off.
	got, _ := repo.GetByID(context.Background(), job.ID)
	if got.Status != media.StatusAvatarGenerating {
		t.Fatalf("status = %s", got.Status)
	}
	if got.ExternalJobID == "" {
		t.Fatal("external ref cleared despite failed hand-off")
	}
}

func TestAvatarPollVendorFailureFailsJob(t *testing.T) {
	client := newFakeAvatarClient()
	client.statusQueue = []*avatar.JobStatus{
		{Status: avatar.JobStatusFailed, Error: "character rig invalid"},
	}
	repo, store, notify, svc := newAvatarFixture(t, client)
	job := seedAudioReadyJob(t, repo, store)
	repo.UpdateFields(context.Background(), job.ID, map[string]interface{}{
		"status":            media.StatusAvatarGenerating,
		"external_provider": avatarProviderKey,
		"external_job_id":   "av-ext-1",
	})

	res, err := svc.Poll(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if res.Status != avatar.JobStatusFailed {
		t.Fatalf("result status = %q", res.Status)
	}

	got, _ := repo.GetByID(context.Background(), job.ID)
	if got.Status != media.StatusFailed {
		t.Fatalf("status = %s", got.Status)
	}
	if got.ErrorStep != media.StepAvatarGeneration {
		t.Fatalf("error_step = %q", got.ErrorStep)
	}
	if got.ErrorMessage != "character rig invalid" {
		t.Fatalf("error_message = %q", got.ErrorMessage)
	}
	notify.mu.Lock()
	defer notify.mu.Unlock()
	if len(notify.failures) != 1 {
		t.Fatalf("failure notifications = %v", notify.failures)
	}
}
