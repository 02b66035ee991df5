package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/lingobridge/lingobridge-backend/internal/platform/logger"
)

const (
	JobStatusInProgress = "in_progress"
	JobStatusComplete   = "complete"
	JobStatusFailed     = "failed"
)

// Client submits compositions to the render farm. The endpoint may be left
// unconfigured in lower environments; callers check Configured and respond
// with the computed input props instead of failing.
type Client interface {
	Configured() bool
	StartRender(ctx context.Context, compositionID string, inputProps map[string]any) (string, error)
	GetStatus(ctx context.Context, externalJobID string) (*JobStatus, error)
}

type JobStatus struct {
	Status         string
	Progress       float64
	OutputURL      string
	FileSizeBytes  int64
	DurationFrames int
	FPS            int
	Error          string
}

type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 300 {
		body = body[:300] + "..."
	}
	return fmt.Sprintf("render service error (%d): %s", e.StatusCode, body)
}

func (e *APIError) HTTPStatusCode() int { return e.StatusCode }

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient never fails on a missing endpoint; it returns an unconfigured
// client so the render stage can surface what it would have submitted.
func NewClient(log *logger.Logger) Client {
	return &client{
		log:        log.With("client", "RenderClient"),
		baseURL:    strings.TrimRight(strings.TrimSpace(os.Getenv("RENDER_API_BASE_URL")), "/"),
		apiKey:     strings.TrimSpace(os.Getenv("RENDER_API_KEY")),
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
}

func (c *client) Configured() bool { return c.baseURL != "" }

func (c *client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	if !c.Configured() {
		return fmt.Errorf("render service endpoint not configured")
	}
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("render service decode error: %w", err)
	}
	return nil
}

func (c *client) StartRender(ctx context.Context, compositionID string, inputProps map[string]any) (string, error) {
	if strings.TrimSpace(compositionID) == "" {
		return "", fmt.Errorf("missing composition id")
	}
	var out struct {
		RenderID string `json:"render_id"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/renders", map[string]any{
		"composition_id": compositionID,
		"input_props":    inputProps,
	}, &out)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out.RenderID) == "" {
		return "", fmt.Errorf("render service returned empty render id")
	}
	return out.RenderID, nil
}

func (c *client) GetStatus(ctx context.Context, externalJobID string) (*JobStatus, error) {
	var out struct {
		Status         string  `json:"status"`
		Progress       float64 `json:"progress"`
		OutputURL      string  `json:"output_url"`
		FileSizeBytes  int64   `json:"file_size_bytes"`
		DurationFrames int     `json:"duration_frames"`
		FPS            int     `json:"fps"`
		Error          string  `json:"error"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/renders/"+externalJobID, nil, &out); err != nil {
		return nil, err
	}
	return &JobStatus{
		Status:         normalizeStatus(out.Status),
		Progress:       out.Progress,
		OutputURL:      out.OutputURL,
		FileSizeBytes:  out.FileSizeBytes,
		DurationFrames: out.DurationFrames,
		FPS:            out.FPS,
		Error:          out.Error,
	}, nil
}

func normalizeStatus(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "done", "completed", "complete", "succeeded":
		return JobStatusComplete
	case "failed", "error", "fatal":
		return JobStatusFailed
	default:
		return JobStatusInProgress
	}
}
