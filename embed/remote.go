package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// defaultAccurateDim matches spec.md §4.3's example accurate/remote
// dimension.
const defaultAccurateDim = 3072

// ErrNoCredential is returned when the remote backend is invoked without
// an API key configured — spec.md §4.3 requires failing fast in this case.
var ErrNoCredential = errors.New("embed: remote backend requires credentials")

// RemoteConfig configures the accurate/remote embedding backend.
type RemoteConfig struct {
	Name       string
	Model      string
	BaseURL    string
	APIKey     string
	Dimension  int
	MaxRetries int           // default 6
	RetryDelay time.Duration // base delay, doubles each attempt; default 2s
}

// remoteBackend calls a networked embedding service over an
// OpenAI-compatible /v1/embeddings endpoint, retrying with exponential
// backoff exactly as the teacher's llm/openai_compat.go doPost does.
type remoteBackend struct {
	cfg    RemoteConfig
	client *http.Client
}

// NewRemote returns the accurate/remote embedding backend. It fails fast
// (ErrNoCredential) on the first call if cfg.APIKey is empty.
func NewRemote(cfg RemoteConfig) Backend {
	if cfg.Dimension <= 0 {
		cfg.Dimension = defaultAccurateDim
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 6
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = "accurate-remote"
	}
	return &remoteBackend{
		cfg:    cfg,
		client: &http.Client{Timeout: 120 * time.Second},
	}
}

func (r *remoteBackend) Name() string   { return r.cfg.Name }
func (r *remoteBackend) Dimension() int { return r.cfg.Dimension }

func (r *remoteBackend) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := r.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (r *remoteBackend) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if r.cfg.APIKey == "" {
		return nil, ErrNoCredential
	}

	reqBody := embeddingRequest{Model: r.cfg.Model, Input: texts}
	respBody, err := r.doPost(ctx, "/v1/embeddings", reqBody)
	if err != nil {
		return nil, fmt.Errorf("embed: remote batch failed: %w", err)
	}

	var resp embeddingResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("embed: decoding remote response: %w", err)
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			continue
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable ||
		code == http.StatusGatewayTimeout
}

// doPost mirrors the teacher's llm/openai_compat.go retry loop: exponential
// backoff starting at cfg.RetryDelay, doubling each attempt, with special
// handling for 429 responses and Retry-After headers.
func (r *remoteBackend) doPost(ctx context.Context, path string, body interface{}) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	url := r.cfg.BaseURL + path
	minRateLimitDelay := 5 * time.Second

	var lastErr error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.cfg.RetryDelay * time.Duration(1<<(attempt-1))
			slog.Warn("embed: retrying remote request",
				"url", url, "attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)

		resp, err := r.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("request to %s failed: %w", url, err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("reading response body: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusOK {
			return respBody, nil
		}

		lastErr = fmt.Errorf("embed API error %d: %s", resp.StatusCode, string(respBody))
		if !retryableStatusCode(resp.StatusCode) {
			return nil, lastErr
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			rateLimitDelay := minRateLimitDelay * time.Duration(1<<attempt)
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
					if hd := time.Duration(seconds) * time.Second; hd > rateLimitDelay {
						rateLimitDelay = hd
					}
				}
			}
			slog.Warn("embed: rate limited, waiting before retry",
				"url", url, "attempt", attempt+1, "delay", rateLimitDelay)
			select {
			case <-time.After(rateLimitDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return nil, fmt.Errorf("embed: max retries exceeded: %w", lastErr)
}
