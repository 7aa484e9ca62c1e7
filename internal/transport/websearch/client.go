// Package websearch implements the web tier on a Tavily-compatible search API.
package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/kailas-cloud/mathroute/internal/domain"
	"github.com/kailas-cloud/mathroute/internal/metrics"
)

const (
	defaultBaseURL    = "https://api.tavily.com"
	defaultMaxSources = 3
	defaultTimeout    = 15 * time.Second
	maxContentChars   = 5000
	maxBodyBytes      = 4 << 20

	// noAnswer is what the provider puts in "answer" when it has nothing.
	noAnswer = "No direct answer found"
)

// Config holds web search provider settings.
type Config struct {
	APIKey      string
	BaseURL     string
	Provider    string
	SearchDepth string // basic | advanced
	MaxSources  int
	Scrape      bool // fetch the top source when the provider returns no answer
	Timeout     time.Duration
	Logger      *zap.Logger
}

// Client is a domain.WebSearcher.
type Client struct {
	apiKey     string
	baseURL    string
	provider   string
	depth      string
	maxSources int
	scrape     bool
	httpClient *http.Client
	logger     *zap.Logger
}

// New creates a web search client.
func New(cfg *Config) *Client {
	c := &Client{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		provider:   cfg.Provider,
		depth:      cfg.SearchDepth,
		maxSources: cfg.MaxSources,
		scrape:     cfg.Scrape,
		logger:     cfg.Logger,
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.provider == "" {
		c.provider = "tavily"
	}
	if c.depth == "" {
		c.depth = "basic"
	}
	if c.maxSources <= 0 {
		c.maxSources = defaultMaxSources
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c.httpClient = &http.Client{Timeout: timeout}
	return c
}

type searchRequest struct {
	Query             string `json:"query"`
	SearchDepth       string `json:"search_depth"`
	IncludeAnswer     bool   `json:"include_answer"`
	IncludeRawContent bool   `json:"include_raw_content"`
	MaxResults        int    `json:"max_results"`
}

type searchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

type searchResponse struct {
	Answer  string         `json:"answer"`
	Summary string         `json:"summary"`
	Results []searchResult `json:"results"`
}

// Search implements domain.WebSearcher.
func (c *Client) Search(ctx context.Context, question string) (domain.WebResult, error) {
	if c.apiKey == "" {
		return domain.WebResult{}, fmt.Errorf("web search api key not configured: %w", domain.ErrProviderUnavailable)
	}

	start := time.Now()
	resp, err := c.search(ctx, question)
	duration := time.Since(start)
	if err != nil {
		c.failure(err)
		return domain.WebResult{}, err
	}

	sources := make([]string, 0, c.maxSources)
	for _, r := range resp.Results {
		if len(sources) == c.maxSources {
			break
		}
		if r.URL != "" {
			sources = append(sources, r.URL)
		}
	}

	answer := strings.TrimSpace(resp.Answer)
	if answer == "" || answer == noAnswer {
		answer = strings.TrimSpace(resp.Summary)
	}
	if answer == "" && len(resp.Results) > 0 {
		answer = c.fromTopResult(ctx, resp.Results[0])
	}
	if answer == "" {
		c.failure(errEmpty)
		return domain.WebResult{}, fmt.Errorf("web search returned no answer: %w", domain.ErrProviderUnavailable)
	}

	metrics.ProviderRequestsTotal.WithLabelValues("web_search", c.provider, c.depth, "success").Inc()
	metrics.ProviderRequestDuration.WithLabelValues("web_search", c.provider, c.depth).Observe(duration.Seconds())

	c.logger.Debug("Web search completed",
		zap.Int("results", len(resp.Results)),
		zap.Duration("duration", duration),
	)
	return domain.WebResult{Answer: answer, Sources: sources}, nil
}

var errEmpty = errors.New("empty answer")

func (c *Client) search(ctx context.Context, question string) (*searchResponse, error) {
	payload, err := json.Marshal(searchRequest{
		Query:         question,
		SearchDepth:   c.depth,
		IncludeAnswer: true,
		MaxResults:    c.maxSources,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, wrapTransportError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, wrapTransportError(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("web search returned status %d: %s: %w",
			resp.StatusCode, truncate(string(body), 200), domain.ErrProviderUnavailable)
	}

	var out searchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("parse search response: %w: %w", domain.ErrProviderUnavailable, err)
	}
	return &out, nil
}

// fromTopResult builds an answer from the best result: its snippet, or the page itself when scraping is on.
func (c *Client) fromTopResult(ctx context.Context, r searchResult) string {
	if text := cleanText(r.Content); text != "" {
		return text
	}
	if !c.scrape || r.URL == "" {
		return ""
	}
	text, err := c.scrapeContent(ctx, r.URL)
	if err != nil {
		c.logger.Warn("Failed to scrape content", zap.String("url", r.URL), zap.Error(err))
		return ""
	}
	return text
}

func (c *Client) scrapeContent(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("create scrape request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch page: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch page: status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("parse page: %w", err)
	}
	doc.Find("script, style, nav, footer, header").Remove()
	return truncate(collapse(doc.Find("body").Text()), maxContentChars), nil
}

// HealthCheck probes the provider base URL. Any non-5xx response counts as reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return fmt.Errorf("create health request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("web search unreachable: %w", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("web search health status %d: %w", resp.StatusCode, domain.ErrProviderUnavailable)
	}
	return nil
}

func (c *Client) failure(err error) {
	errType := "api_error"
	switch {
	case errors.Is(err, domain.ErrProviderTimeout):
		errType = "timeout"
	case errors.Is(err, errEmpty):
		errType = "empty_response"
	}
	metrics.ProviderRequestsTotal.WithLabelValues("web_search", c.provider, c.depth, "error").Inc()
	metrics.ProviderErrorsTotal.WithLabelValues("web_search", c.provider, c.depth, errType).Inc()
}

func wrapTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		return fmt.Errorf("web search timed out: %w: %w", domain.ErrProviderTimeout, err)
	}
	return fmt.Errorf("web search request failed: %w: %w", domain.ErrProviderUnavailable, err)
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

// cleanText strips markup from a provider snippet.
func cleanText(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "<") {
		return truncate(collapse(s), maxContentChars)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return truncate(collapse(s), maxContentChars)
	}
	doc.Find("script, style").Remove()
	return truncate(collapse(doc.Text()), maxContentChars)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
