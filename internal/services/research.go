package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"github.com/lingobridge/lingobridge-backend/internal/capabilities/webresearch"
	ingestionrepo "github.com/lingobridge/lingobridge-backend/internal/data/repos/ingestion"
	"github.com/lingobridge/lingobridge-backend/internal/domain/ingestion"
	"github.com/lingobridge/lingobridge-backend/internal/pkg/retry"
	"github.com/lingobridge/lingobridge-backend/internal/pkg/spacer"
	"github.com/lingobridge/lingobridge-backend/internal/platform/envutil"
	"github.com/lingobridge/lingobridge-backend/internal/platform/logger"
)

const (
	researchProviderKey = "research"

	phaseSearch     = "search"
	phaseExtract    = "extract"
	phaseSynthesize = "synthesize"
)

var notCancelledIngestion = []ingestion.Status{ingestion.StatusCancelled}

type StartIngestionInput struct {
	OwnerUserID uuid.UUID
	Topic       string
	Language    string
	Level       string
}

// SourceExtract is one researched page with its extracted text.
type SourceExtract struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content,omitempty"`
}

// IngestionService runs the research pipeline that turns a topic into raw
// lesson material: search the web, extract readable text from the hits,
// then synthesize the extracts into a structured result. The pipeline runs
// detached from the request; clients follow it via polling or the progress
// stream.
type IngestionService interface {
	Start(ctx context.Context, in StartIngestionInput) (*ingestion.Job, error)
	GetByID(ctx context.Context, id uuid.UUID) (*ingestion.Job, error)
	Cancel(ctx context.Context, id uuid.UUID) error
}

type ingestionService struct {
	log         *logger.Logger
	repo        ingestionrepo.JobRepo
	client      webresearch.Client
	spacer      *spacer.Spacer
	notify      JobNotifier
	limits      ProviderLimits
	searchLimit int
	concurrency int
	runTimeout  time.Duration
}

func NewIngestionService(
	baseLog *logger.Logger,
	repo ingestionrepo.JobRepo,
	client webresearch.Client,
	sp *spacer.Spacer,
	notify JobNotifier,
) IngestionService {
	return &ingestionService{
		log:         baseLog.With("service", "IngestionService"),
		repo:        repo,
		client:      client,
		spacer:      sp,
		notify:      notify,
		limits:      limitsFromEnv("RESEARCH"),
		searchLimit: envutil.Int("RESEARCH_SEARCH_LIMIT", 5),
		concurrency: envutil.Int("RESEARCH_EXTRACT_CONCURRENCY", 3),
		runTimeout:  envutil.Seconds("RESEARCH_RUN_TIMEOUT_SECONDS", 15*time.Minute),
	}
}

func (s *ingestionService) Start(ctx context.Context, in StartIngestionInput) (*ingestion.Job, error) {
	if strings.TrimSpace(in.Topic) == "" {
		return nil, fmt.Errorf("missing topic")
	}

	job := &ingestion.Job{
		ID:          uuid.New(),
		OwnerUserID: in.OwnerUserID,
		Status:      ingestion.StatusPending,
		Topic:       strings.TrimSpace(in.Topic),
		Phases: ingestion.EncodePhases([]ingestion.Phase{
			{Name: phaseSearch, Status: "pending"},
			{Name: phaseExtract, Status: "pending"},
			{Name: phaseSynthesize, Status: "pending"},
		}),
	}
	created, err := s.repo.Create(ctx, job)
	if err != nil {
		return nil, err
	}

	// The pipeline outlives the HTTP request that started it.
	go s.run(created.ID, in)

	return created, nil
}

func (s *ingestionService) GetByID(ctx context.Context, id uuid.UUID) (*ingestion.Job, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	return job, nil
}

func (s *ingestionService) Cancel(ctx context.Context, id uuid.UUID) error {
	ok, err := s.repo.UpdateFieldsUnlessStatus(ctx, id,
		[]ingestion.Status{ingestion.StatusCompleted, ingestion.StatusFailed, ingestion.StatusCancelled},
		map[string]interface{}{"status": ingestion.StatusCancelled},
	)
	if err != nil {
		return err
	}
	if !ok {
		job, gerr := s.repo.GetByID(ctx, id)
		if gerr != nil {
			return gerr
		}
		if job == nil {
			return ErrJobNotFound
		}
	}
	return nil
}

func (s *ingestionService) run(jobID uuid.UUID, in StartIngestionInput) {
	ctx, cancel := context.WithTimeout(context.Background(), s.runTimeout)
	defer cancel()

	log := s.log.With("job_id", jobID)
	cfg := s.limits.retryConfig(s.log, researchProviderKey)

	phases := []ingestion.Phase{
		{Name: phaseSearch, Status: "running"},
		{Name: phaseExtract, Status: "pending"},
		{Name: phaseSynthesize, Status: "pending"},
	}
	if !s.patch(ctx, jobID, map[string]interface{}{
		"status": ingestion.StatusRunning,
		"phases": ingestion.EncodePhases(phases),
	}) {
		return
	}
	s.notify.JobProgress(jobID, string(ingestion.StatusRunning), 0, "Searching for source material")

	query := in.Topic
	if in.Language != "" {
		query = fmt.Sprintf("%s %s language lesson", in.Topic, in.Language)
	}
	results, err := retry.Do(ctx, cfg, func(ctx context.Context) ([]webresearch.Result, error) {
		if err := s.spacer.Wait(ctx, researchProviderKey, s.limits.MinInterval); err != nil {
			return nil, err
		}
		return s.client.Search(ctx, query, s.searchLimit)
	})
	if err != nil {
		s.fail(ctx, jobID, phaseSearch, err)
		return
	}
	if len(results) == 0 {
		s.fail(ctx, jobID, phaseSearch, fmt.Errorf("no sources found for topic %q", in.Topic))
		return
	}
	log.Info("Research search completed", "source_count", len(results))

	phases[0] = ingestion.Phase{Name: phaseSearch, Status: "completed", ProducedCount: len(results)}
	phases[1].Status = "running"
	if !s.patch(ctx, jobID, map[string]interface{}{
		"phases":      ingestion.EncodePhases(phases),
		"total_units": len(results),
		"percentage":  10,
	}) {
		return
	}
	s.notify.JobProgress(jobID, string(ingestion.StatusRunning), 10, "Reading sources")

	extracts, done := s.extractSources(ctx, jobID, cfg, results)
	if !done {
		return
	}
	if len(extracts) == 0 {
		s.fail(ctx, jobID, phaseExtract, fmt.Errorf("no sources could be extracted"))
		return
	}

	phases[1] = ingestion.Phase{Name: phaseExtract, Status: "completed", ProducedCount: len(extracts)}
	phases[2].Status = "running"
	if !s.patch(ctx, jobID, map[string]interface{}{
		"phases":     ingestion.EncodePhases(phases),
		"percentage": 90,
	}) {
		return
	}
	s.notify.JobProgress(jobID, string(ingestion.StatusRunning), 90, "Synthesizing lesson material")

	result := s.synthesize(in, extracts)

	phases[2] = ingestion.Phase{Name: phaseSynthesize, Status: "completed", ProducedCount: 1}
	if !s.patch(ctx, jobID, map[string]interface{}{
		"status":     ingestion.StatusCompleted,
		"phases":     ingestion.EncodePhases(phases),
		"result":     result,
		"percentage": 100,
	}) {
		return
	}
	log.Info("Research ingestion completed", "source_count", len(extracts))
	s.notify.JobProgress(jobID, string(ingestion.StatusCompleted), 100, "Research complete")
	s.notify.JobDone(jobID)
}

// extractSources pulls readable text from every search hit with bounded
// concurrency. Individual pages are allowed to fail; the phase only fails
// when the whole run is cancelled. Returns done=false when the job was
// cancelled mid-phase.
func (s *ingestionService) extractSources(ctx context.Context, jobID uuid.UUID, cfg retry.Config, results []webresearch.Result) ([]SourceExtract, bool) {
	var (
		mu        sync.Mutex
		extracts  []SourceExtract
		completed int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, r := range results {
		r := r
		g.Go(func() error {
			content, err := retry.Do(gctx, cfg, func(ctx context.Context) (string, error) {
				if err := s.spacer.Wait(ctx, researchProviderKey, s.limits.MinInterval); err != nil {
					return "", err
				}
				return s.client.Extract(ctx, r.URL)
			})
			if err != nil {
				// A dead page is not worth the whole run.
				s.log.Warn("Source extraction failed", "job_id", jobID, "url", r.URL, "error", err)
			}

			mu.Lock()
			completed++
			unit := completed
			if err == nil && strings.TrimSpace(content) != "" {
				extracts = append(extracts, SourceExtract{Title: r.Title, URL: r.URL, Content: content})
			}
			mu.Unlock()

			pct := 10 + 80*unit/len(results)
			if !s.patch(gctx, jobID, map[string]interface{}{
				"completed_units": unit,
				"percentage":      pct,
			}) {
				return ErrJobCancelled
			}
			s.notify.JobProgress(jobID, string(ingestion.StatusRunning), pct, fmt.Sprintf("Read %d of %d sources", unit, len(results)))
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		if err != ErrJobCancelled {
			s.fail(ctx, jobID, phaseExtract, err)
		}
		return nil, false
	}
	return extracts, true
}

// synthesize folds the extracts into the structured material the lesson
// builder consumes. Extraction order varies with page latency, so sources
// are trimmed and capped rather than deduplicated by position.
func (s *ingestionService) synthesize(in StartIngestionInput, extracts []SourceExtract) datatypes.JSON {
	const maxExcerpt = 4000
	sources := make([]SourceExtract, 0, len(extracts))
	for _, e := range extracts {
		if len(e.Content) > maxExcerpt {
			e.Content = e.Content[:maxExcerpt]
		}
		sources = append(sources, e)
	}
	b, _ := json.Marshal(map[string]any{
		"topic":    in.Topic,
		"language": in.Language,
		"level":    in.Level,
		"sources":  sources,
	})
	return datatypes.JSON(b)
}

// patch applies a guarded update; false means the job was cancelled and the
// pipeline should stop quietly.
func (s *ingestionService) patch(ctx context.Context, jobID uuid.UUID, updates map[string]interface{}) bool {
	ok, err := s.repo.UpdateFieldsUnlessStatus(ctx, jobID, notCancelledIngestion, updates)
	if err != nil {
		s.log.Error("Failed to patch ingestion job", "job_id", jobID, "error", err)
		return false
	}
	if !ok {
		s.log.Info("Ingestion job cancelled; stopping pipeline", "job_id", jobID)
	}
	return ok
}

func (s *ingestionService) fail(ctx context.Context, jobID uuid.UUID, phase string, cause error) {
	msg := truncateErr(cause)
	_, uerr := s.repo.UpdateFieldsUnlessStatus(ctx, jobID, notCancelledIngestion, map[string]interface{}{
		"status":        ingestion.StatusFailed,
		"error_message": msg,
	})
	if uerr != nil {
		s.log.Error("Failed to record ingestion failure", "job_id", jobID, "error", uerr)
	}
	s.log.Error("Research ingestion failed", "job_id", jobID, "phase", phase, "error", cause)
	s.notify.JobFailed(jobID, phase, msg)
}
