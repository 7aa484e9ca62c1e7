package openai

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/mathroute/internal/domain"
)

const (
	systemPrompt = "You are an expert math professor who explains solutions clearly and step-by-step."

	userPromptTemplate = `You are a math professor. Solve this step-by-step: %s

Format your response as:
Answer: [final answer]
Steps:
1. [step 1]
2. [step 2]
3. [step 3]
...

Be clear and educational.`

	defaultTemperature = 0.1
	defaultMaxTokens   = 1000
)

// Generator is the generative tier on an OpenAI-compatible chat API.
type Generator struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	user        string
	rec         recorder
	logger      *zap.Logger
}

// NewGenerator creates a chat-completion generator.
func NewGenerator(cfg *Config) *Generator {
	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = defaultTemperature
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		client:      newClient(cfg),
		model:       cfg.Model,
		temperature: temperature,
		maxTokens:   maxTokens,
		user:        cfg.User,
		rec:         recorder{kind: kindGenerative, provider: cfg.Provider, model: cfg.Model},
		logger:      logger,
	}
}

// Generate implements domain.Generator.
func (g *Generator) Generate(ctx context.Context, question string) (domain.GenerationResult, error) {
	req := openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf(userPromptTemplate, question)},
		},
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
		User:        g.user,
	}

	start := time.Now()
	resp, err := g.client.CreateChatCompletion(ctx, req)
	duration := time.Since(start)

	if err != nil {
		g.rec.failure(errorType(err))
		return domain.GenerationResult{}, parseAPIError(kindGenerative, err, domain.ErrProviderUnavailable)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		g.rec.failure("empty_response")
		return domain.GenerationResult{}, fmt.Errorf("empty completion: %w", domain.ErrProviderUnavailable)
	}

	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonLength {
		g.logger.Warn("Completion truncated by max_tokens",
			zap.String("model", g.model), zap.Int("max_tokens", g.maxTokens))
	}

	g.rec.success(duration, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Usage.TotalTokens)

	answer, steps := parseSolution(choice.Message.Content)
	model := resp.Model
	if model == "" {
		model = g.model
	}
	return domain.GenerationResult{
		Answer:           answer,
		Steps:            steps,
		Model:            model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}, nil
}

// HealthCheck verifies API availability via ListModels.
func (g *Generator) HealthCheck(ctx context.Context) error {
	return listModels(ctx, g.client)
}

// parseSolution splits an "Answer: ...\nSteps:\n..." completion.
// Without an Answer line the whole text is the answer.
func parseSolution(content string) (answer, steps string) {
	content = strings.TrimSpace(content)
	lines := strings.Split(content, "\n")

	answerAt, stepsAt := -1, -1
	for i, line := range lines {
		l := strings.ToLower(strings.TrimSpace(line))
		switch {
		case answerAt < 0 && strings.HasPrefix(l, "answer:"):
			answerAt = i
		case stepsAt < 0 && strings.HasPrefix(l, "steps:"):
			stepsAt = i
		}
	}
	if answerAt < 0 {
		return content, ""
	}

	end := len(lines)
	if stepsAt > answerAt {
		end = stepsAt
	}
	first := strings.TrimSpace(lines[answerAt])
	first = strings.TrimSpace(first[len("answer:"):])
	rest := append([]string{first}, lines[answerAt+1:end]...)
	answer = strings.TrimSpace(strings.Join(rest, "\n"))

	if stepsAt >= 0 {
		head := strings.TrimSpace(lines[stepsAt])
		head = strings.TrimSpace(head[len("steps:"):])
		body := lines[stepsAt+1:]
		if stepsAt < answerAt {
			body = lines[stepsAt+1 : answerAt]
		}
		steps = strings.TrimSpace(strings.Join(append([]string{head}, body...), "\n"))
	}
	if answer == "" {
		answer = content
	}
	return answer, steps
}
