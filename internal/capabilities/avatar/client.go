package avatar

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

// Vendor-side generation states, normalized.
const (
	JobStatusInProgress = "in_progress"
	JobStatusComplete   = "complete"
	JobStatusFailed     = "failed"
)

// Client drives the avatar-generation vendor. The vendor cannot fetch from
// arbitrary URLs, so inputs go through its asset store: create an asset
// slot, upload bytes into it, then start a generation referencing the
// asset ids. Generation itself is asynchronous and observed via GetStatus.
type Client interface {
	CreateAsset(ctx context.Context, name, assetType string) (string, error)
	UploadAsset(ctx context.Context, assetID string, data []byte, contentType string) error
	StartGeneration(ctx context.Context, req GenerationRequest) (string, error)
	GetStatus(ctx context.Context, externalJobID string) (*JobStatus, error)
}

type GenerationRequest struct {
	AudioAssetID     string
	CharacterID      string
	CharacterAssetID string
	Resolution       string
	AspectRatio      string
	TextPrompt       string
}

type JobStatus struct {
	Status    string
	Progress  int
	OutputURL string
	Error     string
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
	return fmt.Sprintf("avatar vendor error (%d): %s", e.StatusCode, body)
}

func (e *APIError) HTTPStatusCode() int { return e.StatusCode }

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(log *logger.Logger) (Client, error) {
	apiKey := strings.TrimSpace(os.Getenv("AVATAR_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing AVATAR_API_KEY")
	}
	baseURL := strings.TrimSpace(os.Getenv("AVATAR_API_BASE_URL"))
	if baseURL == "" {
		return nil, fmt.Errorf("missing AVATAR_API_BASE_URL")
	}
	return &client{
		log:        log.With("client", "AvatarClient"),
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}, nil
}

func (c *client) doJSON(ctx context.Context, method, path string, body any, out any) error {
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
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
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
		return fmt.Errorf("avatar vendor decode error: %w", err)
	}
	return nil
}

func (c *client) CreateAsset(ctx context.Context, name, assetType string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/v1/assets", map[string]any{
		"name": name,
		"type": assetType,
	}, &out)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out.ID) == "" {
		return "", fmt.Errorf("avatar vendor returned empty asset id")
	}
	return out.ID, nil
}

func (c *client) UploadAsset(ctx context.Context, assetID string, data []byte, contentType string) error {
	if len(data) == 0 {
		return fmt.Errorf("empty asset payload")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/v1/assets/"+assetID+"/content", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return nil
}

func (c *client) StartGeneration(ctx context.Context, genReq GenerationRequest) (string, error) {
	payload := map[string]any{
		"audio_asset_id": genReq.AudioAssetID,
	}
	if genReq.CharacterID != "" {
		payload["character_id"] = genReq.CharacterID
	}
	if genReq.CharacterAssetID != "" {
		payload["character_asset_id"] = genReq.CharacterAssetID
	}
	if genReq.Resolution != "" {
		payload["resolution"] = genReq.Resolution
	}
	if genReq.AspectRatio != "" {
		payload["aspect_ratio"] = genReq.AspectRatio
	}
	if genReq.TextPrompt != "" {
		payload["text_prompt"] = genReq.TextPrompt
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/generations", payload, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.ID) == "" {
		return "", fmt.Errorf("avatar vendor returned empty generation id")
	}
	return out.ID, nil
}

func (c *client) GetStatus(ctx context.Context, externalJobID string) (*JobStatus, error) {
	var out struct {
		Status    string `json:"status"`
		Progress  int    `json:"progress"`
		OutputURL string `json:"output_url"`
		Error     string `json:"error"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/generations/"+externalJobID, nil, &out); err != nil {
		return nil, err
	}
	return &JobStatus{
		Status:    normalizeStatus(out.Status),
		Progress:  out.Progress,
		OutputURL: out.OutputURL,
		Error:     out.Error,
	}, nil
}

func normalizeStatus(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "completed", "complete", "succeeded", "success":
		return JobStatusComplete
	case "failed", "error", "canceled", "cancelled":
		return JobStatusFailed
	default:
		return JobStatusInProgress
	}
}
