package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lingobridge/lingobridge-backend/internal/capabilities/webresearch"
	"github.com/lingobridge/lingobridge-backend/internal/data/repos/testutil"
	"github.com/lingobridge/lingobridge-backend/internal/domain/ingestion"
	"github.com/lingobridge/lingobridge-backend/internal/pkg/spacer"
)

func newIngestionFixture(t *testing.T, client *fakeResearchClient) (*fakeIngestionJobRepo, *recordingNotifier, IngestionService) {
	t.Helper()
	t.Setenv("RESEARCH_MIN_INTERVAL_MS", "0")
	repo := newFakeIngestionJobRepo()
	notify := &recordingNotifier{}
	svc := NewIngestionService(testutil.Logger(t), repo, client, spacer.New(), notify)
	return repo, notify, svc
}

func waitForTerminal(t *testing.T, repo *fakeIngestionJobRepo, id uuid.UUID) *ingestion.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := repo.GetByID(context.Background(), id)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if job != nil && job.Status.Terminal() {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("ingestion job never reached a terminal state")
	return nil
}

func TestIngestionPipelineRunsToCompletion(t *testing.T) {
	client := &fakeResearchClient{
		results: []webresearch.Result{
			{Title: "Spanish food words", URL: "https://a.example/1"},
			{Title: "Tapas glossary", URL: "https://b.example/2"},
		},
		extracts: map[string]string{
			"https://a.example/1": "pan means bread",
			"https://b.example/2": "queso means cheese",
		},
	}
	repo, notify, svc := newIngestionFixture(t, client)

	job, err := svc.Start(context.Background(), StartIngestionInput{
		OwnerUserID: uuid.New(),
		Topic:       "spanish food vocabulary",
		Language:    "es",
		Level:       "A2",
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if job.Status != ingestion.StatusPending {
		t.Fatalf("initial status = %s", job.Status)
	}

	final := waitForTerminal(t, repo, job.ID)
	if final.Status != ingestion.StatusCompleted {
		t.Fatalf("final status = %s (%s)", final.Status, final.ErrorMessage)
	}
	if final.Percentage != 100 || final.TotalUnits != 2 || final.CompletedUnits != 2 {
		t.Fatalf("progress fields = %d%% %d/%d", final.Percentage, final.CompletedUnits, final.TotalUnits)
	}

	for _, p := range final.PhaseList() {
		if p.Status != "completed" {
			t.Fatalf("phase %s status = %s", p.Name, p.Status)
		}
	}

	var result struct {
		Topic   string          `json:"topic"`
		Sources []SourceExtract `json:"sources"`
	}
	if err := json.Unmarshal(final.Result, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Topic != "spanish food vocabulary" || len(result.Sources) != 2 {
		t.Fatalf("result = %+v", result)
	}
	if notify.doneCount() != 1 {
		t.Fatalf("done notifications = %d", notify.doneCount())
	}
}

func TestIngestionToleratesPartialExtractionFailure(t *testing.T) {
	client := &fakeResearchClient{
		results: []webresearch.Result{
			{Title: "Good page", URL: "https://a.example/1"},
			{Title: "Dead page", URL: "https://b.example/2"},
		},
		extracts:   map[string]string{"https://a.example/1": "usable text"},
		extractErr: map[string]error{"https://b.example/2": &statusErr{code: 404, msg: "gone"}},
	}
	repo, _, svc := newIngestionFixture(t, client)

	job, err := svc.Start(context.Background(), StartIngestionInput{Topic: "irregular verbs"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	final := waitForTerminal(t, repo, job.ID)
	if final.Status != ingestion.StatusCompleted {
		t.Fatalf("final status = %s (%s)", final.Status, final.ErrorMessage)
	}

	var result struct {
		Sources []SourceExtract `json:"sources"`
	}
	if err := json.Unmarshal(final.Result, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if len(result.Sources) != 1 || result.Sources[0].URL != "https://a.example/1" {
		t.Fatalf("sources = %+v", result.Sources)
	}
}

func TestIngestionSearchFailureFailsJob(t *testing.T) {
	client := &fakeResearchClient{searchErr: &statusErr{code: 401, msg: "bad api key"}}
	repo, notify, svc := newIngestionFixture(t, client)

	job, err := svc.Start(context.Background(), StartIngestionInput{Topic: "prepositions"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	final := waitForTerminal(t, repo, job.ID)
	if final.Status != ingestion.StatusFailed {
		t.Fatalf("final status = %s", final.Status)
	}
	if final.ErrorMessage == "" {
		t.Fatal("error message not recorded")
	}
	notify.mu.Lock()
	defer notify.mu.Unlock()
	if len(notify.failures) != 1 || notify.failures[0] != phaseSearch {
		t.Fatalf("failure notifications = %v", notify.failures)
	}
}

func TestIngestionStartRejectsEmptyTopic(t *testing.T) {
	_, _, svc := newIngestionFixture(t, &fakeResearchClient{})
	if _, err := svc.Start(context.Background(), StartIngestionInput{Topic: "  "}); err == nil {
		t.Fatal("expected empty topic to be rejected")
	}
}
