package webresearch

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

// Client backs the research-ingestion pipeline: search the web for source
// material, then extract readable text from chosen pages.
type Client interface {
	Search(ctx context.Context, query string, limit int) ([]Result, error)
	Extract(ctx context.Context, pageURL string) (string, error)
}

type Result struct {
	Title string `json:"title"`
	URL   string `json:"url"`
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
	return fmt.Sprintf("research vendor error (%d): %s", e.StatusCode, body)
}

func (e *APIError) HTTPStatusCode() int { return e.StatusCode }

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(log *logger.Logger) (Client, error) {
	apiKey := strings.TrimSpace(os.Getenv("RESEARCH_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing RESEARCH_API_KEY")
	}
	baseURL := strings.TrimSpace(os.Getenv("RESEARCH_API_BASE_URL"))
	if baseURL == "" {
		return nil, fmt.Errorf("missing RESEARCH_API_BASE_URL")
	}
	return &client{
		log:        log.With("client", "ResearchClient"),
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

func (c *client) doJSON(ctx context.Context, path string, body any, out any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
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
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("research vendor decode error: %w", err)
	}
	return nil
}

func (c *client) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("empty query")
	}
	if limit <= 0 {
		limit = 5
	}
	var out struct {
		Results []Result `json:"results"`
	}
	if err := c.doJSON(ctx, "/search", map[string]any{"query": query, "limit": limit}, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

func (c *client) Extract(ctx context.Context, pageURL string) (string, error) {
	if strings.TrimSpace(pageURL) == "" {
		return "", fmt.Errorf("empty url")
	}
	var out struct {
		Content string `json:"content"`
	}
	if err := c.doJSON(ctx, "/extract", map[string]any{"url": pageURL}, &out); err != nil {
		return "", err
	}
	return out.Content, nil
}
