package mathroute

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	pathRoute          = "/api/v1/route"
	pathFeedback       = "/api/v1/feedback"
	pathFeedbackStats  = "/api/v1/feedback/stats"
	pathKBSearch       = "/api/v1/kb/search"
	pathStats          = "/api/v1/stats"
	pathGuardrailStats = "/api/v1/guardrails/stats"
	pathCapabilities   = "/api/v1/capabilities"
	pathCache          = "/api/v1/cache"
	pathHealth         = "/health"

	maxErrorBody = 64 << 10
)

// Client is the mathroute SDK entry point. It is safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	locale  string
	http    *http.Client
	obs     *observer
}

// New creates a Client for the service at baseURL, e.g. "http://localhost:8080".
func New(baseURL string, opts ...Option) (*Client, error) {
	cfg := &clientConfig{timeout: defaultTimeout}
	for _, o := range opts {
		o.apply(cfg)
	}

	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("mathroute: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("mathroute: base url must be http or https, got %q", baseURL)
	}

	obs, err := newObserver(cfg.logger, cfg.metricsReg)
	if err != nil {
		return nil, err
	}

	hc := cfg.httpClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.timeout}
	}

	return &Client{
		baseURL: u.String(),
		apiKey:  cfg.apiKey,
		locale:  cfg.locale,
		http:    hc,
		obs:     obs,
	}, nil
}

// Route sends a question through the fallback chain.
func (c *Client) Route(ctx context.Context, query string) (*Answer, error) {
	return c.RouteLocale(ctx, query, c.locale)
}

// RouteLocale is Route with an explicit locale.
func (c *Client) RouteLocale(ctx context.Context, query, locale string) (ans *Answer, err error) {
	start := time.Now()
	defer func() { c.obs.observe("route", start, err) }()

	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("mathroute: %w: query is empty", ErrInvalidQuery)
	}
	body := struct {
		Query  string `json:"query"`
		Locale string `json:"locale,omitempty"`
	}{Query: query, Locale: locale}

	var out Answer
	if err = c.do(ctx, http.MethodPost, pathRoute, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Feedback submits a verdict on a routed answer.
func (c *Client) Feedback(ctx context.Context, fb Feedback) (res *FeedbackResult, err error) {
	start := time.Now()
	defer func() { c.obs.observe("feedback", start, err) }()

	if strings.TrimSpace(fb.TraceID) == "" {
		return nil, fmt.Errorf("mathroute: %w: trace_id is required", ErrInvalidFeedback)
	}

	var out FeedbackResult
	if err = c.do(ctx, http.MethodPost, pathFeedback, fb, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SearchKB returns the knowledge base record closest to query without routing it.
// No match is a result with Found false, not an error.
func (c *Client) SearchKB(ctx context.Context, query string) (res *KBMatch, err error) {
	start := time.Now()
	defer func() { c.obs.observe("kb_search", start, err) }()

	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("mathroute: %w: query is empty", ErrInvalidQuery)
	}
	body := struct {
		Query string `json:"query"`
	}{Query: query}

	var out KBMatch
	if err = c.do(ctx, http.MethodPost, pathKBSearch, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FeedbackStats returns feedback counts and the latest submissions.
func (c *Client) FeedbackStats(ctx context.Context) (st *FeedbackStats, err error) {
	start := time.Now()
	defer func() { c.obs.observe("feedback_stats", start, err) }()

	var out FeedbackStats
	if err = c.do(ctx, http.MethodGet, pathFeedbackStats, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stats returns the service-wide report.
func (c *Client) Stats(ctx context.Context) (st *Stats, err error) {
	start := time.Now()
	defer func() { c.obs.observe("stats", start, err) }()

	var out Stats
	if err = c.do(ctx, http.MethodGet, pathStats, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GuardrailStats returns guardrail counters with the most recent violations.
func (c *Client) GuardrailStats(ctx context.Context) (st *GuardrailStats, err error) {
	start := time.Now()
	defer func() { c.obs.observe("guardrail_stats", start, err) }()

	var out GuardrailStats
	if err = c.do(ctx, http.MethodGet, pathGuardrailStats, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Capabilities describes the configured tiers and thresholds.
func (c *Client) Capabilities(ctx context.Context) (caps *Capabilities, err error) {
	start := time.Now()
	defer func() { c.obs.observe("capabilities", start, err) }()

	var out Capabilities
	if err = c.do(ctx, http.MethodGet, pathCapabilities, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FlushCache drops every cached answer and returns how many were removed.
func (c *Client) FlushCache(ctx context.Context) (n int, err error) {
	start := time.Now()
	defer func() { c.obs.observe("flush_cache", start, err) }()

	var out struct {
		Flushed int `json:"flushed"`
	}
	if err = c.do(ctx, http.MethodDelete, pathCache, nil, &out); err != nil {
		return 0, err
	}
	return out.Flushed, nil
}

// Health checks the health of all system components. A degraded or failing
// service is reported in the returned status, not as an error.
func (c *Client) Health(ctx context.Context) (hs HealthStatus, err error) {
	start := time.Now()
	defer func() { c.obs.observe("health", start, err) }()

	err = c.do(ctx, http.MethodGet, pathHealth, nil, &hs)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable && hs.Status != "" {
		return hs, nil
	}
	return hs, err
}

// do sends one request and decodes a JSON response into out. On a 503 the body
// is still decoded into out so Health can read it.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("mathroute: encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("mathroute: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("mathroute: %s: %w: %w", path, ErrTimeout, err)
		}
		return fmt.Errorf("mathroute: %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("mathroute: %s: decode response: %w", path, err)
		}
		return nil
	}
	return decodeError(resp, path, out)
}

func decodeError(resp *http.Response, path string, out any) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{StatusCode: resp.StatusCode, Path: path}

	var env struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &env) == nil && env.Code != "" {
		apiErr.Code = env.Code
		apiErr.Message = env.Message
		return apiErr
	}

	if resp.StatusCode == http.StatusServiceUnavailable && out != nil {
		_ = json.Unmarshal(data, out)
	}
	apiErr.Message = strings.TrimSpace(string(data))
	return apiErr
}
