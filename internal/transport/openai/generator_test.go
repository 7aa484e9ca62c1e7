package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/mathroute/internal/domain"
)

type chatRequest struct {
	Model       string  `json:"model"`
	Temperature float32 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func chatServer(t *testing.T, content string, seen *chatRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if seen != nil {
			_ = json.NewDecoder(r.Body).Decode(seen)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "gpt-4o-mini-2024",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 50, "completion_tokens": 30, "total_tokens": 80},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testGenerator(baseURL string) *Generator {
	return NewGenerator(&Config{
		APIKey:   "test-key",
		BaseURL:  baseURL,
		Model:    "gpt-4o-mini",
		Provider: "openai",
		Logger:   zap.NewNop(),
	})
}

func TestGenerator_Generate(t *testing.T) {
	var seen chatRequest
	srv := chatServer(t, "Answer: x = 2\nSteps:\n1. Subtract 4\n2. Divide by 3", &seen)

	res, err := testGenerator(srv.URL).Generate(context.Background(), "Solve 3x + 4 = 10")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Answer != "x = 2" {
		t.Errorf("answer = %q", res.Answer)
	}
	if res.Steps != "1. Subtract 4\n2. Divide by 3" {
		t.Errorf("steps = %q", res.Steps)
	}
	if res.Model != "gpt-4o-mini-2024" || res.TotalTokens != 80 || res.CompletionTokens != 30 {
		t.Errorf("unexpected metadata: %+v", res)
	}

	if seen.Model != "gpt-4o-mini" || seen.MaxTokens != 1000 {
		t.Errorf("request = %+v", seen)
	}
	if seen.Temperature < 0.09 || seen.Temperature > 0.11 {
		t.Errorf("temperature = %v", seen.Temperature)
	}
	if len(seen.Messages) != 2 || seen.Messages[0].Role != "system" {
		t.Fatalf("messages = %+v", seen.Messages)
	}
	if !strings.Contains(seen.Messages[1].Content, "Solve this step-by-step: Solve 3x + 4 = 10") {
		t.Errorf("user prompt = %q", seen.Messages[1].Content)
	}
}

func TestGenerator_EmptyCompletion(t *testing.T) {
	srv := chatServer(t, "   ", nil)

	_, err := testGenerator(srv.URL).Generate(context.Background(), "q")
	if !errors.Is(err, domain.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestGenerator_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	}))
	defer srv.Close()

	_, err := testGenerator(srv.URL).Generate(context.Background(), "q")
	if !errors.Is(err, domain.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestParseSolution(t *testing.T) {
	tests := []struct {
		name, in, answer, steps string
	}{
		{"formatted", "Answer: 42\nSteps:\n1. think", "42", "1. think"},
		{"lowercase labels", "answer: 7\nsteps: add them", "7", "add them"},
		{"no labels", "The result is 9.", "The result is 9.", ""},
		{"multi-line answer", "Answer: x = 1\nor x = -1\nSteps:\n1. factor", "x = 1\nor x = -1", "1. factor"},
		{"answer only", "Answer: 5", "5", ""},
		{"steps before answer", "Steps:\n1. a\nAnswer: 3", "3", "1. a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, s := parseSolution(tt.in)
			if a != tt.answer || s != tt.steps {
				t.Errorf("parseSolution(%q) = (%q, %q), want (%q, %q)", tt.in, a, s, tt.answer, tt.steps)
			}
		})
	}
}
