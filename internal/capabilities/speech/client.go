package speech

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

// Synthesizer turns a lesson script into narration audio bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string, opts Options) ([]byte, error)
}

type Options struct {
	Speed    float64
	Language string
}

// APIError carries the vendor HTTP status so the retrier can classify
// rate-limit / transient failures without string matching.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 300 {
		body = body[:300] + "..."
	}
	return fmt.Sprintf("speech vendor error (%d): %s", e.StatusCode, body)
}

func (e *APIError) HTTPStatusCode() int { return e.StatusCode }

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

func NewClient(log *logger.Logger) (Synthesizer, error) {
	apiKey := strings.TrimSpace(os.Getenv("SPEECH_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing SPEECH_API_KEY")
	}
	baseURL := strings.TrimSpace(os.Getenv("SPEECH_API_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.elevenlabs.io"
	}
	model := strings.TrimSpace(os.Getenv("SPEECH_MODEL"))
	if model == "" {
		model = "eleven_multilingual_v2"
	}
	return &client{
		log:        log.With("client", "SpeechClient"),
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}, nil
}

func (c *client) Synthesize(ctx context.Context, text, voiceID string, opts Options) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("empty script")
	}
	if strings.TrimSpace(voiceID) == "" {
		return nil, fmt.Errorf("missing voice id")
	}

	payload := map[string]any{
		"text":     text,
		"model_id": c.model,
	}
	settings := map[string]any{}
	if opts.Speed > 0 {
		settings["speed"] = opts.Speed
	}
	if len(settings) > 0 {
		payload["voice_settings"] = settings
	}
	if opts.Language != "" {
		payload["language_code"] = opts.Language
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/text-to-speech/"+voiceID, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("speech vendor returned empty audio")
	}
	return raw, nil
}
