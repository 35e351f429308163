// Package binance is the engine's only request/response path to the venue:
// it builds signed requests, classifies every failure as benign, temporary or
// fatal, and retries the temporary class with linear backoff. It never
// inspects business state.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"marlin/internal/logger"
)

type Client struct {
	apiKey      string
	secretKey   string
	baseURL     string
	httpClient  *http.Client
	recvWindow  int64
	maxAttempts int
	backoffUnit time.Duration
	timeOffset  int64
	sleep       func(time.Duration) // test seam
}

type Options struct {
	APIKey      string
	SecretKey   string
	BaseURL     string
	HTTPTimeout time.Duration
	RecvWindow  int64
	MaxAttempts int
	BackoffUnit time.Duration
}

func NewClient(opts Options) *Client {
	if opts.HTTPTimeout <= 0 {
		opts.HTTPTimeout = 10 * time.Second
	}
	if opts.RecvWindow <= 0 {
		opts.RecvWindow = 5000
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BackoffUnit <= 0 {
		opts.BackoffUnit = 2 * time.Second
	}
	return &Client{
		apiKey:      opts.APIKey,
		secretKey:   opts.SecretKey,
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		httpClient:  &http.Client{Timeout: opts.HTTPTimeout},
		recvWindow:  opts.RecvWindow,
		maxAttempts: opts.MaxAttempts,
		backoffUnit: opts.BackoffUnit,
		sleep:       time.Sleep,
	}
}

// SyncTime measures the offset against the venue clock so signed timestamps
// stay inside the receive window on skewed hosts.
func (c *Client) SyncTime(ctx context.Context) error {
	serverTime, err := c.GetServerTime(ctx)
	if err != nil {
		return fmt.Errorf("syncing venue time: %w", err)
	}
	c.timeOffset = serverTime - time.Now().UnixMilli()
	logger.Infof("binance: time synced, offset=%dms", c.timeOffset)
	return nil
}

func (c *Client) sign(payload string) string {
	h := hmac.New(sha256.New, []byte(c.secretKey))
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

// encode produces the canonical parameter string. url.Values.Encode sorts by
// key, which is the deterministic ordering the signature is computed over.
func (c *Client) encode(params url.Values, signed bool) string {
	if params == nil {
		params = url.Values{}
	}
	if !signed {
		return params.Encode()
	}
	params.Set("timestamp", fmt.Sprintf("%d", time.Now().UnixMilli()+c.timeOffset))
	params.Set("recvWindow", fmt.Sprintf("%d", c.recvWindow))
	payload := params.Encode()
	return payload + "&signature=" + c.sign(payload)
}

// do performs one classified, retried request. benign reports that the call
// "failed" only because its effect was already achieved (cancel of a gone
// order); callers must treat that as success.
func (c *Client) do(ctx context.Context, method, endpoint string, params url.Values, signed bool) (body []byte, benign bool, err error) {
	cancelOp := method == http.MethodDelete
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		// Fresh timestamp and signature per attempt; a retried stale
		// signature would bounce off the receive window.
		encoded := c.encode(cloneValues(params), signed)
		body, apiErr, reqErr := c.doOnce(ctx, method, endpoint, encoded)

		if reqErr == nil && apiErr == nil {
			return body, false, nil
		}

		var class Classification
		if apiErr != nil {
			class = ClassifyAPIError(apiErr, cancelOp)
			lastErr = apiErr
		} else {
			class = ClassifyTransportError(reqErr)
			lastErr = reqErr
		}

		switch class {
		case ClassBenign:
			logger.Infof("binance: %s %s resolved benign: %v", method, endpoint, lastErr)
			return body, true, nil
		case ClassTemporary:
			if attempt == c.maxAttempts {
				return nil, false, fmt.Errorf("binance: %s %s failed after %d attempts: %w",
					method, endpoint, c.maxAttempts, lastErr)
			}
			delay := time.Duration(attempt) * c.backoffUnit
			logger.Warnf("binance: %s %s attempt %d/%d temporary failure, retrying in %s: %v",
				method, endpoint, attempt, c.maxAttempts, delay, lastErr)
			c.sleep(delay)
			continue
		default:
			return nil, false, fmt.Errorf("binance: %s %s: %w", method, endpoint, lastErr)
		}
	}
	return nil, false, lastErr
}

func (c *Client) doOnce(ctx context.Context, method, endpoint, encoded string) ([]byte, *APIError, error) {
	fullURL := c.baseURL + endpoint
	var req *http.Request
	var err error
	if method == http.MethodGet || method == http.MethodDelete {
		if encoded != "" {
			fullURL += "?" + encoded
		}
		req, err = http.NewRequestWithContext(ctx, method, fullURL, nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, fullURL, strings.NewReader(encoded))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("building request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("reading response: %w", err)
	}

	var venueErr APIError
	if json.Unmarshal(body, &venueErr) == nil && venueErr.Code != 0 {
		venueErr.HTTPStatus = resp.StatusCode
		return body, &venueErr, nil
	}
	if resp.StatusCode != http.StatusOK {
		return body, &APIError{
			Code:       0,
			Message:    strings.TrimSpace(string(body)),
			HTTPStatus: resp.StatusCode,
		}, nil
	}
	return body, nil, nil
}

func cloneValues(params url.Values) url.Values {
	out := url.Values{}
	for k, vs := range params {
		for _, v := range vs {
			out.Add(k, v)
		}
	}
	return out
}
