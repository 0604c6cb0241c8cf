package retrieval

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

	"github.com/lichen-labs/ragcore/fusion"
)

// rerankBatchSize matches spec.md §4.7's "batches of 32" for the
// cross-encoder reranker used by the accurate lane.
const rerankBatchSize = 32

// ErrNoRerankCredential is returned when the reranker is invoked without
// an API key, mirroring embed.ErrNoCredential.
var ErrNoRerankCredential = errors.New("retrieval: reranker requires credentials")

// HTTPReranker calls a cross-encoder rerank endpoint over HTTP, retrying
// with exponential backoff in the same shape as embed.remoteBackend's
// doPost, itself grounded on the teacher's llm/openai_compat.go.
type HTTPReranker struct {
	BaseURL    string
	APIKey     string
	Model      string
	MaxRetries int
	RetryDelay time.Duration
	client     *http.Client
}

// NewHTTPReranker returns a reranker with the teacher's default retry
// shape: 6 retries, 2s base delay doubling.
func NewHTTPReranker(baseURL, apiKey, model string) *HTTPReranker {
	return &HTTPReranker{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		Model:      model,
		MaxRetries: 6,
		RetryDelay: 2 * time.Second,
		client:     &http.Client{Timeout: 60 * time.Second},
	}
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank scores texts against query in batches of rerankBatchSize and
// returns one score per input text, in input order.
func (r *HTTPReranker) Rerank(ctx context.Context, query string, texts []string) ([]float64, error) {
	if r.APIKey == "" {
		return nil, ErrNoRerankCredential
	}

	scores := make([]float64, len(texts))
	for start := 0; start < len(texts); start += rerankBatchSize {
		end := start + rerankBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		respBody, err := r.doPost(ctx, "/v1/rerank", rerankRequest{Model: r.Model, Query: query, Documents: batch})
		if err != nil {
			return nil, fmt.Errorf("retrieval: rerank batch failed: %w", err)
		}

		var resp rerankResponse
		if err := json.Unmarshal(respBody, &resp); err != nil {
			return nil, fmt.Errorf("retrieval: decoding rerank response: %w", err)
		}
		for _, res := range resp.Results {
			if res.Index < 0 || res.Index >= len(batch) {
				continue
			}
			scores[start+res.Index] = res.RelevanceScore
		}
	}
	return scores, nil
}

func (r *HTTPReranker) doPost(ctx context.Context, path string, body interface{}) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	url := r.BaseURL + path
	minRateLimitDelay := 5 * time.Second

	var lastErr error
	for attempt := 0; attempt <= r.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.RetryDelay * time.Duration(1<<(attempt-1))
			slog.Warn("retrieval: retrying rerank request", "url", url, "attempt", attempt, "delay", delay, "error", lastErr)
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
		req.Header.Set("Authorization", "Bearer "+r.APIKey)

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

		lastErr = fmt.Errorf("rerank API error %d: %s", resp.StatusCode, string(respBody))
		if !retryableRerankStatus(resp.StatusCode) {
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
			select {
			case <-time.After(rateLimitDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return nil, fmt.Errorf("retrieval: rerank max retries exceeded: %w", lastErr)
}

func retryableRerankStatus(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable ||
		code == http.StatusGatewayTimeout
}

// applyRerankScores overwrites each item's fused score with its rerank
// score and re-sorts descending (spec.md §4.7: "monotonic re-ranking").
func applyRerankScores(items []fusion.Item, scores []float64) []fusion.Item {
	for i := range items {
		if i < len(scores) {
			items[i].Result.Score = scores[i]
		}
	}
	sortItemsByScoreDesc(items)
	return items
}

func sortItemsByScoreDesc(items []fusion.Item) {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j].Result.Score > items[j-1].Result.Score; j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}
