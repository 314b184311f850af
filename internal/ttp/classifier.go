package ttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Classifier scores text against the technique label set, returning raw
// logits per label. The sigmoid and threshold stay in the Identifier so the
// selection semantics are owned by this package, not the model server.
type Classifier interface {
	Classify(ctx context.Context, text string) (map[string]float64, error)
}

// DefaultMaxTokens is the truncation limit applied before inference,
// matching the sequence length the model was fine-tuned with.
const DefaultMaxTokens = 512

// HTTPClassifier calls a remote multi-label inference endpoint. The model is
// loaded once server-side and reused; calls are blocking.
type HTTPClassifier struct {
	endpoint  string
	model     string
	maxTokens int
	client    *http.Client
}

// NewHTTPClassifier creates a classifier client. timeout 0 uses a default
// suited to CPU inference.
func NewHTTPClassifier(endpoint, model string, maxTokens int, timeout time.Duration) *HTTPClassifier {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &HTTPClassifier{
		endpoint:  strings.TrimSuffix(endpoint, "/"),
		model:     model,
		maxTokens: maxTokens,
		client:    &http.Client{Timeout: timeout},
	}
}

type classifyRequest struct {
	Model string `json:"model,omitempty"`
	Text  string `json:"text"`
}

type classifyResponse struct {
	Logits map[string]float64 `json:"logits"`
}

// Classify truncates the text to the token limit and posts it for scoring.
func (c *HTTPClassifier) Classify(ctx context.Context, text string) (map[string]float64, error) {
	body, err := json.Marshal(classifyRequest{Model: c.model, Text: truncateTokens(text, c.maxTokens)})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/classify", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("classifier API error %d: %s", resp.StatusCode, truncateAPIError(respBody))
	}

	var result classifyResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if result.Logits == nil {
		return nil, fmt.Errorf("no logits in classifier response")
	}

	return result.Logits, nil
}

// truncateTokens caps text at maxTokens whitespace-delimited tokens.
func truncateTokens(text string, maxTokens int) string {
	fields := strings.Fields(text)
	if len(fields) <= maxTokens {
		return text
	}
	return strings.Join(fields[:maxTokens], " ")
}

// truncateAPIError limits error response bodies to keep diagnostics short.
func truncateAPIError(body []byte) string {
	const maxLen = 512
	if len(body) <= maxLen {
		return string(body)
	}
	return string(body[:maxLen]) + "... (truncated)"
}
