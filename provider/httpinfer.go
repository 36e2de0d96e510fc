package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPBackend calls a HuggingFace-style text-classification inference
// endpoint. It accepts both the flat and the nested response shapes the
// inference servers emit, and the zero-shot {labels, scores} shape.
type HTTPBackend struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPBackend creates an HTTP inference backend.
func NewHTTPBackend(endpoint, apiKey string) *HTTPBackend {
	return &HTTPBackend{
		endpoint: endpoint,
		apiKey:   apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Classify posts text to the inference endpoint and returns candidate
// labels in the order the server sent them.
func (b *HTTPBackend) Classify(ctx context.Context, model, text string) ([]LabelScore, error) {
	body, err := json.Marshal(map[string]any{"inputs": text})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := b.endpoint
	if model != "" {
		url = b.endpoint + "/" + model
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return nil, NewBackendError("http", "transport", "send request", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, NewBackendError("http", fmt.Sprintf("status_%d", resp.StatusCode),
			string(raw), nil)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1024*1024))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	labels, err := parseClassification(raw)
	if err != nil {
		return nil, NewBackendError("http", "decode", "parse response", err)
	}
	if len(labels) == 0 {
		return nil, ErrEmptyResponse
	}
	return labels, nil
}

// parseClassification handles the three response shapes text-classification
// servers emit: [{label,score}...], [[{label,score}...]] and the zero-shot
// {labels:[], scores:[]}.
func parseClassification(raw []byte) ([]LabelScore, error) {
	var flat []struct {
		Label string  `json:"label"`
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal(raw, &flat); err == nil && len(flat) > 0 {
		return toLabelScores(flat), nil
	}

	var nested [][]struct {
		Label string  `json:"label"`
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal(raw, &nested); err == nil && len(nested) > 0 {
		return toLabelScores(nested[0]), nil
	}

	var zeroShot struct {
		Labels []string  `json:"labels"`
		Scores []float64 `json:"scores"`
	}
	if err := json.Unmarshal(raw, &zeroShot); err == nil && len(zeroShot.Labels) > 0 {
		if len(zeroShot.Labels) != len(zeroShot.Scores) {
			return nil, fmt.Errorf("labels/scores length mismatch: %d vs %d",
				len(zeroShot.Labels), len(zeroShot.Scores))
		}
		out := make([]LabelScore, len(zeroShot.Labels))
		for i, l := range zeroShot.Labels {
			out[i] = LabelScore{Label: l, Score: zeroShot.Scores[i]}
		}
		return out, nil
	}

	return nil, fmt.Errorf("unrecognized classification response: %s", truncate(raw, 200))
}

func toLabelScores(in []struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}) []LabelScore {
	out := make([]LabelScore, len(in))
	for i, ls := range in {
		out[i] = LabelScore{Label: ls.Label, Score: ls.Score}
	}
	return out
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
