package sentiment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Labels for the three sentiment buckets.
const (
	Positive = "POSITIVE"
	Neutral  = "NEUTRAL"
	Negative = "NEGATIVE"
)

// Result is one classified comment: a star rating in 1..5 and the model's
// confidence for that rating.
type Result struct {
	Stars int
	Score float64
}

// Classifier scores a text snippet against a 1-5 star sentiment model.
type Classifier interface {
	Classify(ctx context.Context, text string) (Result, error)
}

// Bucket maps a star rating to a sentiment label: 4-5 positive, 3 neutral,
// 1-2 negative.
func Bucket(stars int) string {
	switch {
	case stars >= 4:
		return Positive
	case stars == 3:
		return Neutral
	default:
		return Negative
	}
}

// Config for creating a new sentiment client.
type Config struct {
	APIKey  string
	URL     string        // full model endpoint
	Timeout time.Duration // optional, defaults to 15 seconds
}

// DefaultURL is the hosted inference endpoint for the multilingual
// star-rating model.
const DefaultURL = "https://api-inference.huggingface.co/models/nlptown/bert-base-multilingual-uncased-sentiment"

// HTTPClassifier implements Classifier against a hosted inference endpoint
// that returns candidate labels of the form "N stars" with scores.
type HTTPClassifier struct {
	apiKey     string
	url        string
	httpClient *http.Client
}

// NewHTTPClassifier creates a sentiment client for the configured endpoint.
func NewHTTPClassifier(cfg Config) *HTTPClassifier {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &HTTPClassifier{
		apiKey:     cfg.APIKey,
		url:        cfg.URL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type candidate struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Classify sends the text to the model and returns the top-scoring rating.
func (c *HTTPClassifier) Classify(ctx context.Context, text string) (Result, error) {
	body, err := json.Marshal(map[string]string{"inputs": text})
	if err != nil {
		return Result{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("classify request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return Result{}, fmt.Errorf("classify request failed: status=%d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("read response: %w", err)
	}

	candidates, err := parseCandidates(raw)
	if err != nil {
		return Result{}, err
	}

	best := candidates[0]
	for _, cand := range candidates[1:] {
		if cand.Score > best.Score {
			best = cand
		}
	}

	stars, err := starsFromLabel(best.Label)
	if err != nil {
		return Result{}, err
	}
	return Result{Stars: stars, Score: best.Score}, nil
}

// parseCandidates accepts both the nested ([[{label,score}...]]) and flat
// ([{label,score}...]) response shapes.
func parseCandidates(raw []byte) ([]candidate, error) {
	var nested [][]candidate
	if err := json.Unmarshal(raw, &nested); err == nil && len(nested) > 0 && len(nested[0]) > 0 {
		return nested[0], nil
	}
	var flat []candidate
	if err := json.Unmarshal(raw, &flat); err == nil && len(flat) > 0 {
		return flat, nil
	}
	return nil, fmt.Errorf("malformed classifier response: %s", truncate(raw, 200))
}

// starsFromLabel extracts the rating from labels like "5 stars" or "1 star".
func starsFromLabel(label string) (int, error) {
	if label == "" || label[0] < '1' || label[0] > '5' {
		return 0, fmt.Errorf("unexpected sentiment label %q", label)
	}
	return int(label[0] - '0'), nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
