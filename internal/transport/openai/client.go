// Package openai adapts OpenAI-compatible APIs to the embedding and generative contracts.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/mathroute/internal/domain"
	"github.com/kailas-cloud/mathroute/internal/metrics"
)

// Provider kinds used as the "kind" metric label.
const (
	kindEmbedding  = "embedding"
	kindGenerative = "generative"
)

// Config holds the provider settings shared by the embedder and the generator.
type Config struct {
	APIKey   string
	BaseURL  string
	Model    string
	Provider string
	User     string
	Timeout  time.Duration // HTTP client timeout; zero keeps go-openai's default
	Logger   *zap.Logger

	// Embedding only.
	Dimensions int

	// Generation only.
	Temperature float32
	MaxTokens   int
}

func newClient(cfg *Config) *openai.Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return openai.NewClientWithConfig(clientCfg)
}

// recorder emits the provider metrics for one kind/provider/model triple.
type recorder struct {
	kind, provider, model string
}

func (r recorder) success(d time.Duration, promptTokens, completionTokens, totalTokens int) {
	metrics.ProviderRequestsTotal.WithLabelValues(r.kind, r.provider, r.model, "success").Inc()
	metrics.ProviderRequestDuration.WithLabelValues(r.kind, r.provider, r.model).Observe(d.Seconds())
	if totalTokens <= 0 {
		return
	}
	tokens := metrics.ProviderTokensTotal
	tokens.WithLabelValues(r.kind, r.provider, r.model, "prompt").Add(float64(promptTokens))
	if completionTokens > 0 {
		tokens.WithLabelValues(r.kind, r.provider, r.model, "completion").Add(float64(completionTokens))
	}
	tokens.WithLabelValues(r.kind, r.provider, r.model, "total").Add(float64(totalTokens))
}

func (r recorder) failure(errorType string) {
	metrics.ProviderRequestsTotal.WithLabelValues(r.kind, r.provider, r.model, "error").Inc()
	metrics.ProviderErrorsTotal.WithLabelValues(r.kind, r.provider, r.model, errorType).Inc()
}

// parseAPIError turns a go-openai error into a readable error wrapping sentinel.
// Deadline errors wrap domain.ErrProviderTimeout instead so callers can retry them.
func parseAPIError(kind string, err error, sentinel error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s request timed out: %w: %w", kind, domain.ErrProviderTimeout, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		detail := extractDetail(reqErr.Body)
		if detail == "" {
			detail = string(reqErr.Body)
		}
		return fmt.Errorf("%s API error %d: %s: %w", kind, reqErr.HTTPStatusCode, detail, sentinel)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s API error %d: %s: %w", kind, apiErr.HTTPStatusCode, apiErr.Message, sentinel)
	}

	return fmt.Errorf("%s request failed: %w: %w", kind, sentinel, err)
}

// errorType classifies an error for the error_type label.
func errorType(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "api_error"
}

// extractDetail reads the "detail" field of a JSON error body (Nebius error format).
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return ""
}

// listModels is the health probe shared by both clients (a free endpoint).
func listModels(ctx context.Context, c *openai.Client) error {
	if _, err := c.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}
