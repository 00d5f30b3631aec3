// Package gemini is the LLM gateway: it turns an ordered turn history plus a
// system instruction into a cancellable stream of text fragments, with
// retry/backoff for transient failures and a classified error taxonomy.
package gemini

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"sidekick/internal/types"
)

// Fixed generation parameters. Deliberately not user-configurable.
const (
	temperature     = 0.9
	topK            = 16
	topP            = 1.0
	maxOutputTokens = 2048
)

const (
	// maxAttempts bounds the retry loop: the first attempt plus two
	// retries, transient failures only.
	maxAttempts = 3
	// minRequestGap paces successive provider calls.
	minRequestGap = 100 * time.Millisecond
)

// Config configures the gateway client.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:  apiKey,
		BaseURL: "https://generativelanguage.googleapis.com/v1beta",
		Model:   "gemini-2.5-flash",
		Timeout: 2 * time.Minute,
	}
}

// Client talks to the Gemini REST API.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *zap.Logger

	// backoffUnit is the linear backoff time unit; overridden in tests.
	backoffUnit time.Duration

	mu          sync.Mutex
	apiKey      string
	lastRequest time.Time
}

// NewClient creates a gateway client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-2.5-flash"
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		baseURL:     baseURL,
		model:       model,
		apiKey:      cfg.APIKey,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      logger.Named("gemini"),
		backoffUnit: time.Second,
	}
}

// SetAPIKey swaps the credential at runtime (after auth set-key).
func (c *Client) SetAPIKey(key string) {
	c.mu.Lock()
	c.apiKey = key
	c.mu.Unlock()
}

// Stream opens one generation over the turn history and returns channels of
// incremental content deltas. Chunk order is the provider's order; chunks
// are never reordered or batched further. The error channel delivers at
// most one classified error; both channels are closed when the stream is
// done. Cancel via ctx: the stream stops at the next chunk boundary and
// the error is classified as cancelled.
func (c *Client) Stream(ctx context.Context, turns []types.Turn, systemInstruction string) (<-chan string, <-chan error) {
	contentChan := make(chan string, 64)
	errorChan := make(chan error, 1)

	go func() {
		defer close(contentChan)
		defer close(errorChan)

		startTime := time.Now()

		c.mu.Lock()
		apiKey := c.apiKey
		c.mu.Unlock()
		if apiKey == "" {
			errorChan <- classified(types.ErrAuth, "API key not configured", nil)
			return
		}

		reqBody := generateRequest{
			Contents:         buildContents(turns),
			GenerationConfig: generationConfig{Temperature: temperature, TopK: topK, TopP: topP, MaxOutputTokens: maxOutputTokens},
			SafetySettings:   defaultSafetySettings(),
		}
		if systemInstruction != "" {
			reqBody.SystemInstruction = &Content{Parts: []Part{{Text: systemInstruction}}}
		}
		jsonData, err := json.Marshal(reqBody)
		if err != nil {
			errorChan <- classified(types.ErrUnknown, "failed to marshal request", err)
			return
		}

		url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", c.baseURL, c.model, apiKey)

		var lastErr *Error
		for attempt := 1; attempt <= maxAttempts; attempt++ {
			if attempt > 1 {
				// Linear backoff before each retry, never after the
				// final failed attempt.
				wait := time.Duration(attempt-1) * c.backoffUnit
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					errorChan <- classified(types.ErrCancelled, "generation cancelled", ctx.Err())
					return
				}
			}

			delivered, serr := c.streamOnce(ctx, url, jsonData, contentChan)
			if serr == nil {
				c.logger.Debug("stream completed",
					zap.Duration("elapsed", time.Since(startTime)),
					zap.Int("attempt", attempt))
				return
			}
			if serr.Category == types.ErrCancelled {
				errorChan <- serr
				return
			}
			// Once fragments have been relayed a retry would replay
			// them; surface the failure instead.
			if delivered || !serr.Category.Transient() {
				errorChan <- serr
				return
			}
			lastErr = serr
			c.logger.Warn("transient stream failure",
				zap.Int("attempt", attempt),
				zap.String("category", string(serr.Category)),
				zap.Error(serr))
		}

		c.logger.Error("retries exhausted", zap.Error(lastErr))
		errorChan <- lastErr
	}()

	return contentChan, errorChan
}

// streamOnce performs a single streaming request, relaying fragments as
// they arrive. It reports whether any fragment was delivered.
func (c *Client) streamOnce(ctx context.Context, url string, body []byte, contentChan chan<- string) (bool, *Error) {
	c.pace()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, classified(types.ErrUnknown, "failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false, classified(types.ErrCancelled, "generation cancelled", ctx.Err())
		}
		return false, classified(types.ErrNetwork, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		msg := strings.TrimSpace(string(raw))
		cat := classifyHTTP(resp.StatusCode, msg)
		return false, classified(cat, fmt.Sprintf("API request failed with status %d", resp.StatusCode), fmt.Errorf("%s", msg))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	delivered := false
	blockReason := ""
	finishReason := ""
	for scanner.Scan() {
		if ctx.Err() != nil {
			return delivered, classified(types.ErrCancelled, "generation cancelled", ctx.Err())
		}
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Error != nil {
			cat := classifyHTTP(chunk.Error.Code, chunk.Error.Message)
			return delivered, classified(cat, "API error", fmt.Errorf("%s", chunk.Error.Message))
		}
		if chunk.PromptFeedback != nil && chunk.PromptFeedback.BlockReason != "" {
			blockReason = chunk.PromptFeedback.BlockReason
		}
		if len(chunk.Candidates) == 0 {
			continue
		}
		if fr := chunk.Candidates[0].FinishReason; fr != "" {
			finishReason = fr
		}
		for _, part := range chunk.Candidates[0].Content.Parts {
			if part.Text == "" {
				continue
			}
			select {
			case contentChan <- part.Text:
				delivered = true
			case <-ctx.Done():
				return delivered, classified(types.ErrCancelled, "generation cancelled", ctx.Err())
			}
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return delivered, classified(types.ErrCancelled, "generation cancelled", ctx.Err())
		}
		return delivered, classified(types.ErrNetwork, "stream error", err)
	}

	// The provider reports feedback metadata at the end of the stream;
	// a block there invalidates fragments already relayed, and the
	// caller discards its partial render.
	if blockReason != "" {
		return delivered, classified(types.ErrContentSafety,
			fmt.Sprintf("completion blocked (%s)", blockReason), nil)
	}
	switch finishReason {
	case "SAFETY", "PROHIBITED_CONTENT", "BLOCKLIST":
		return delivered, classified(types.ErrContentSafety,
			fmt.Sprintf("completion blocked (%s)", finishReason), nil)
	case "MAX_TOKENS":
		// Truncated output is still output; the turn stands.
	}
	return delivered, nil
}

func (c *Client) pace() {
	c.mu.Lock()
	elapsed := time.Since(c.lastRequest)
	if elapsed < minRequestGap {
		time.Sleep(minRequestGap - elapsed)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()
}

func buildContents(turns []types.Turn) []Content {
	contents := make([]Content, 0, len(turns))
	for _, t := range turns {
		contents = append(contents, Content{
			Role:  string(t.Role),
			Parts: []Part{{Text: t.Text}},
		})
	}
	return contents
}
