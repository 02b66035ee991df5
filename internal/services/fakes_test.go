package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/lingobridge/lingobridge-backend/internal/capabilities/avatar"
	"github.com/lingobridge/lingobridge-backend/internal/capabilities/render"
	"github.com/lingobridge/lingobridge-backend/internal/capabilities/speech"
	"github.com/lingobridge/lingobridge-backend/internal/capabilities/webresearch"
	"github.com/lingobridge/lingobridge-backend/internal/domain/ingestion"
	"github.com/lingobridge/lingobridge-backend/internal/domain/media"
)

// fakeVideoJobRepo is an in-memory VideoJobRepo that honors the status
// guard the same way the gorm implementation does.
type fakeVideoJobRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*media.VideoJob

	// failColumnOnce, when set, makes the next update that touches the
	// named column return an error without applying anything.
	failColumnOnce string
}

func newFakeVideoJobRepo() *fakeVideoJobRepo {
	return &fakeVideoJobRepo{jobs: map[uuid.UUID]*media.VideoJob{}}
}

func (r *fakeVideoJobRepo) seed(job *media.VideoJob) *media.VideoJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	cp := *job
	r.jobs[job.ID] = &cp
	return job
}

func (r *fakeVideoJobRepo) Create(ctx context.Context, job *media.VideoJob) (*media.VideoJob, error) {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.CreatedAt = time.Now()
	job.UpdatedAt = job.CreatedAt
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *job
	r.jobs[job.ID] = &cp
	return job, nil
}

func (r *fakeVideoJobRepo) GetByID(ctx context.Context, id uuid.UUID) (*media.VideoJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *job
	return &cp, nil
}

func (r *fakeVideoJobRepo) UpdateFields(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error {
	_, err := r.UpdateFieldsUnlessStatus(ctx, id, nil, updates)
	return err
}

func (r *fakeVideoJobRepo) UpdateFieldsUnlessStatus(ctx context.Context, id uuid.UUID, disallowed []media.Status, updates map[string]interface{}) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return false, nil
	}
	for _, s := range disallowed {
		if job.Status == s {
			return false, nil
		}
	}
	if r.failColumnOnce != "" {
		if _, touched := updates[r.failColumnOnce]; touched {
			r.failColumnOnce = ""
			return false, errors.New("connection reset by peer")
		}
	}
	applyVideoJobUpdates(job, updates)
	job.UpdatedAt = time.Now()
	return true, nil
}

func (r *fakeVideoJobRepo) ListInFlightExternal(ctx context.Context, limit int) ([]*media.VideoJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*media.VideoJob
	for _, job := range r.jobs {
		if job.ExternalJobID == "" {
			continue
		}
		if job.Status != media.StatusAvatarGenerating && job.Status != media.StatusRendering {
			continue
		}
		cp := *job
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func applyVideoJobUpdates(job *media.VideoJob, updates map[string]interface{}) {
	for col, v := range updates {
		switch col {
		case "status":
			job.Status = v.(media.Status)
		case "audio_output":
			job.AudioOutput = v.(datatypes.JSON)
		case "avatar_output":
			job.AvatarOutput = v.(datatypes.JSON)
		case "final_output":
			job.FinalOutput = v.(datatypes.JSON)
		case "lesson_content":
			job.LessonContent = v.(datatypes.JSON)
		case "external_provider":
			job.ExternalProvider = v.(string)
		case "external_job_id":
			job.ExternalJobID = v.(string)
		case "error_message":
			job.ErrorMessage = v.(string)
		case "error_step":
			job.ErrorStep = v.(string)
		case "updated_at":
		default:
			panic("fakeVideoJobRepo: unhandled column " + col)
		}
	}
}

type fakeIngestionJobRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*ingestion.Job
}

func newFakeIngestionJobRepo() *fakeIngestionJobRepo {
	return &fakeIngestionJobRepo{jobs: map[uuid.UUID]*ingestion.Job{}}
}

func (r *fakeIngestionJobRepo) Create(ctx context.Context, job *ingestion.Job) (*ingestion.Job, error) {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *job
	r.jobs[job.ID] = &cp
	return job, nil
}

func (r *fakeIngestionJobRepo) GetByID(ctx context.Context, id uuid.UUID) (*ingestion.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *job
	return &cp, nil
}

func (r *fakeIngestionJobRepo) UpdateFields(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error {
	_, err := r.UpdateFieldsUnlessStatus(ctx, id, nil, updates)
	return err
}

func (r *fakeIngestionJobRepo) UpdateFieldsUnlessStatus(ctx context.Context, id uuid.UUID, disallowed []ingestion.Status, updates map[string]interface{}) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return false, nil
	}
	for _, s := range disallowed {
		if job.Status == s {
			return false, nil
		}
	}
	for col, v := range updates {
		switch col {
		case "status":
			job.Status = v.(ingestion.Status)
		case "phases":
			job.Phases = v.(datatypes.JSON)
		case "result":
			job.Result = v.(datatypes.JSON)
		case "completed_units":
			job.CompletedUnits = v.(int)
		case "total_units":
			job.TotalUnits = v.(int)
		case "percentage":
			job.Percentage = v.(int)
		case "error_message":
			job.ErrorMessage = v.(string)
		case "updated_at":
		default:
			panic("fakeIngestionJobRepo: unhandled column " + col)
		}
	}
	return true, nil
}

// fakeMediaStore keeps objects in memory. remoteErr forces the hand-off
// path to fail; cdnDomain switches PublicURL on.
type fakeMediaStore struct {
	mu         sync.Mutex
	objects    map[string][]byte
	remoteURLs map[string]string
	cdnDomain  string
	remoteErr  error
	uploads    int
	remotePuts int
}

func newFakeMediaStore() *fakeMediaStore {
	return &fakeMediaStore{
		objects:    map[string][]byte{},
		remoteURLs: map[string]string{},
	}
}

func (s *fakeMediaStore) Upload(ctx context.Context, key string, r io.Reader, contentType string) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = b
	s.uploads++
	return nil
}

func (s *fakeMediaStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %q not found", key)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (s *fakeMediaStore) SignedURL(key string, ttl time.Duration) (string, error) {
	return "https://signed.example/" + key, nil
}

func (s *fakeMediaStore) PublicURL(key string) string {
	if s.cdnDomain == "" {
		return ""
	}
	return "https://" + s.cdnDomain + "/" + key
}

func (s *fakeMediaStore) UploadFromRemoteURL(ctx context.Context, key string, srcURL string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remoteErr != nil {
		return 0, s.remoteErr
	}
	payload := []byte("remote:" + srcURL)
	s.objects[key] = payload
	s.remoteURLs[key] = srcURL
	s.remotePuts++
	return int64(len(payload)), nil
}

func (s *fakeMediaStore) ObjectSize(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[key]
	if !ok {
		return 0, fmt.Errorf("object %q not found", key)
	}
	return int64(len(b)), nil
}

// fakeSynthesizer returns scripted outcomes in order, then repeats the
// last one.
type fakeSynthesizer struct {
	mu       sync.Mutex
	calls    int
	outcomes []synthOutcome
}

type synthOutcome struct {
	audio []byte
	err   error
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, text, voiceID string, opts speech.Options) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	f.calls++
	if idx >= len(f.outcomes) {
		idx = len(f.outcomes) - 1
	}
	o := f.outcomes[idx]
	return o.audio, o.err
}

func (f *fakeSynthesizer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeAvatarClient struct {
	mu           sync.Mutex
	assetsMade   int
	uploadsMade  int
	startsMade   int
	statusCalls  int
	statusQueue  []*avatar.JobStatus
	statusErr    error
	startErr     error
	nextAssetID  int
	externalID   string
	lastGenReq   avatar.GenerationRequest
	lastUploaded map[string][]byte
}

func newFakeAvatarClient() *fakeAvatarClient {
	return &fakeAvatarClient{externalID: "av-ext-1", lastUploaded: map[string][]byte{}}
}

func (f *fakeAvatarClient) CreateAsset(ctx context.Context, name, assetType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assetsMade++
	f.nextAssetID++
	return fmt.Sprintf("asset-%d", f.nextAssetID), nil
}

func (f *fakeAvatarClient) UploadAsset(ctx context.Context, assetID string, data []byte, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploadsMade++
	f.lastUploaded[assetID] = data
	return nil
}

func (f *fakeAvatarClient) StartGeneration(ctx context.Context, req avatar.GenerationRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	f.startsMade++
	f.lastGenReq = req
	return f.externalID, nil
}

func (f *fakeAvatarClient) GetStatus(ctx context.Context, externalJobID string) (*avatar.JobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	if len(f.statusQueue) == 0 {
		return &avatar.JobStatus{Status: avatar.JobStatusInProgress}, nil
	}
	st := f.statusQueue[0]
	if len(f.statusQueue) > 1 {
		f.statusQueue = f.statusQueue[1:]
	}
	return st, nil
}

func (f *fakeAvatarClient) vendorCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.assetsMade + f.uploadsMade + f.startsMade + f.statusCalls
}

type fakeRenderClient struct {
	mu          sync.Mutex
	configured  bool
	startsMade  int
	statusCalls int
	externalID  string
	status      *render.JobStatus
	lastComp    string
	lastProps   map[string]any
}

func (f *fakeRenderClient) Configured() bool { return f.configured }

func (f *fakeRenderClient) StartRender(ctx context.Context, compositionID string, inputProps map[string]any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startsMade++
	f.lastComp = compositionID
	f.lastProps = inputProps
	return f.externalID, nil
}

func (f *fakeRenderClient) GetStatus(ctx context.Context, externalJobID string) (*render.JobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if f.status == nil {
		return &render.JobStatus{Status: render.JobStatusInProgress}, nil
	}
	return f.status, nil
}

type fakeResearchClient struct {
	mu         sync.Mutex
	results    []webresearch.Result
	searchErr  error
	extracts   map[string]string
	extractErr map[string]error
}

func (f *fakeResearchClient) Search(ctx context.Context, query string, limit int) ([]webresearch.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.results, nil
}

func (f *fakeResearchClient) Extract(ctx context.Context, pageURL string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.extractErr[pageURL]; err != nil {
		return "", err
	}
	return f.extracts[pageURL], nil
}

// recordingNotifier captures lifecycle events for assertions.
type recordingNotifier struct {
	mu       sync.Mutex
	progress []int
	failures []string
	done     int
}

func (n *recordingNotifier) JobProgress(jobID uuid.UUID, status string, progress int, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.progress = append(n.progress, progress)
}

func (n *recordingNotifier) JobFailed(jobID uuid.UUID, step string, errorMessage string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures = append(n.failures, step)
}

func (n *recordingNotifier) JobDone(jobID uuid.UUID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.done++
}

func (n *recordingNotifier) doneCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.done
}

type statusErr struct {
	code int
	msg  string
}

func (e *statusErr) Error() string       { return e.msg }
func (e *statusErr) HTTPStatusCode() int { return e.code }
