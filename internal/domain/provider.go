package domain

import (
	"context"
	"fmt"
)

// KeyPrefix namespaces every key the service writes into the shared Redis/Valkey instance.
const KeyPrefix = "mathroute:"

// Embedder turns text into a vector for KB similarity search.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
}

// BatchEmbedder vectorizes multiple texts in a single provider call.
type BatchEmbedder interface {
	BatchEmbed(ctx context.Context, texts []string) (BatchEmbeddingResult, error)
}

// HealthChecker verifies provider availability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// EmbeddingResult carries the vector and token usage through the decorator chain.
type EmbeddingResult struct {
	Embedding    []float32
	PromptTokens int
	TotalTokens  int
}

// BatchEmbeddingResult carries vectors in input order and aggregate token usage.
type BatchEmbeddingResult struct {
	Embeddings   [][]float32
	PromptTokens int
	TotalTokens  int
}

// EmbedAll uses the native batch endpoint when e has one and embeds one text at a time otherwise.
func EmbedAll(ctx context.Context, e Embedder, texts []string) (BatchEmbeddingResult, error) {
	if be, ok := e.(BatchEmbedder); ok {
		res, err := be.BatchEmbed(ctx, texts)
		if err != nil {
			return BatchEmbeddingResult{}, fmt.Errorf("batch embed: %w", err)
		}
		return res, nil
	}

	out := BatchEmbeddingResult{Embeddings: make([][]float32, len(texts))}
	for i, text := range texts {
		res, err := e.Embed(ctx, text)
		if err != nil {
			return BatchEmbeddingResult{}, fmt.Errorf("embed [%d]: %w", i, err)
		}
		out.Embeddings[i] = res.Embedding
		out.PromptTokens += res.PromptTokens
		out.TotalTokens += res.TotalTokens
	}
	return out, nil
}

// PreparedEmbedder rewrites text before embedding. Stored questions and incoming
// queries go through the same decorator so both sides share one vector space.
type PreparedEmbedder struct {
	inner   Embedder
	prepare func(string) string
}

// NewPreparedEmbedder wraps inner. A nil prepare leaves text unchanged.
func NewPreparedEmbedder(inner Embedder, prepare func(string) string) *PreparedEmbedder {
	if prepare == nil {
		prepare = func(s string) string { return s }
	}
	return &PreparedEmbedder{inner: inner, prepare: prepare}
}

// WithInstruction returns a prepare func that applies normalize and then prepends instruction.
func WithInstruction(instruction string, normalize func(string) string) func(string) string {
	return func(s string) string {
		if normalize != nil {
			s = normalize(s)
		}
		return instruction + s
	}
}

// Embed prepares text and delegates.
func (e *PreparedEmbedder) Embed(ctx context.Context, text string) (EmbeddingResult, error) {
	res, err := e.inner.Embed(ctx, e.prepare(text))
	if err != nil {
		return EmbeddingResult{}, fmt.Errorf("prepared embed: %w", err)
	}
	return res, nil
}

// BatchEmbed prepares every text and delegates through EmbedAll.
func (e *PreparedEmbedder) BatchEmbed(ctx context.Context, texts []string) (BatchEmbeddingResult, error) {
	prepared := make([]string, len(texts))
	for i, t := range texts {
		prepared[i] = e.prepare(t)
	}
	res, err := EmbedAll(ctx, e.inner, prepared)
	if err != nil {
		return BatchEmbeddingResult{}, fmt.Errorf("prepared batch embed: %w", err)
	}
	return res, nil
}

// HealthCheck forwards to the inner embedder when it supports health checks.
func (e *PreparedEmbedder) HealthCheck(ctx context.Context) error {
	hc, ok := e.inner.(HealthChecker)
	if !ok {
		return nil
	}
	if err := hc.HealthCheck(ctx); err != nil {
		return fmt.Errorf("prepared embedder: %w", err)
	}
	return nil
}

// Generator produces a worked answer for a question (the generative tier).
type Generator interface {
	Generate(ctx context.Context, question string) (GenerationResult, error)
}

// GenerationResult carries generated text and token usage.
type GenerationResult struct {
	Answer           string
	Steps            string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// WebSearcher looks a question up on the web (the web tier).
type WebSearcher interface {
	Search(ctx context.Context, question string) (WebResult, error)
}

// WebResult is a synthesized web answer with citations.
type WebResult struct {
	Answer  string
	Sources []string
}
