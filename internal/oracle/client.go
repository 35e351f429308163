package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"marlin/internal/logger"
)

// Completer is one chat completion round-trip. The gateway only needs this
// seam; tests substitute a canned implementation.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// ChatClient talks to any OpenAI-compatible /chat/completions endpoint
// (OpenAI / DeepSeek / Qwen all speak it). One POST per decision; 429 and
// 5xx are retried a bounded number of times, honoring Retry-After.
type ChatClient struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	MaxRetries int

	httpc *http.Client
}

var _ Completer = (*ChatClient)(nil)

func NewChatClient(baseURL, apiKey, model string, timeout time.Duration, maxRetries int) *ChatClient {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &ChatClient{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		Model:      model,
		Timeout:    timeout,
		MaxRetries: maxRetries,
		httpc:      &http.Client{Timeout: timeout},
	}
}

// endpoint normalizes the configured base URL; users sometimes paste the full
// /chat/completions path into the config, so strip it before re-appending.
func (c *ChatClient) endpoint() string {
	url := strings.TrimSpace(c.BaseURL)
	if url == "" {
		url = "https://api.openai.com/v1"
	}
	url = strings.TrimRight(url, "/")
	url = strings.TrimSuffix(url, "/chat/completions")
	return url + "/chat/completions"
}

func (c *ChatClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := []map[string]string{}
	if systemPrompt != "" {
		messages = append(messages, map[string]string{"role": "system", "content": systemPrompt})
	}
	messages = append(messages, map[string]string{"role": "user", "content": userPrompt})
	payload, err := json.Marshal(map[string]any{
		"model":       c.Model,
		"messages":    messages,
		"temperature": 0.5,
	})
	if err != nil {
		return "", err
	}

	url := c.endpoint()
	var lastErr error
	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		out, retryAfter, retryable, err := c.doOnce(ctx, url, payload)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !retryable || attempt == c.MaxRetries {
			break
		}
		wait := retryAfter
		if wait < 0 {
			wait = time.Duration(attempt+1) * 2 * time.Second
		}
		logger.Warnf("oracle: attempt %d/%d failed (%v), retrying in %s", attempt+1, c.MaxRetries+1, err, wait)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(wait):
		}
	}
	return "", lastErr
}

func (c *ChatClient) doOnce(ctx context.Context, url string, payload []byte) (out string, retryAfter time.Duration, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", 0, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", 0, false, ctx.Err()
		}
		return "", 0, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 == 2 {
		var r struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
		}
		if derr := json.NewDecoder(resp.Body).Decode(&r); derr != nil {
			return "", 0, false, fmt.Errorf("decoding completion: %w", derr)
		}
		if len(r.Choices) == 0 {
			return "", 0, false, fmt.Errorf("completion returned no choices")
		}
		return r.Choices[0].Message.Content, 0, false, nil
	}

	var eresp struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&eresp)
	msg := strings.TrimSpace(eresp.Error.Message)
	if msg == "" {
		msg = resp.Status
	}
	err = fmt.Errorf("oracle http %d: %s", resp.StatusCode, msg)

	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		// -1 means "no server hint, use our own backoff". An explicit
		// Retry-After of zero is honored as zero.
		retryAfter = -1
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, perr := strconv.Atoi(ra); perr == nil && secs >= 0 {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return "", retryAfter, true, err
	}
	return "", 0, false, err
}
