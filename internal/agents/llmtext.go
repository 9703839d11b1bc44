package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/agentflow/agentflow/internal/common/config"
	apperrors "github.com/agentflow/agentflow/internal/common/errors"
)

// TextRequest is one generation request to the backing model.
type TextRequest struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Prompt      string
}

// LLMClient generates text. The interface keeps the agent testable
// without network access.
type LLMClient interface {
	GenerateText(ctx context.Context, req TextRequest) (string, error)
}

// OpenAIClient is the production LLMClient over the chat completions
// API.
type OpenAIClient struct {
	client openai.Client
}

// NewOpenAIClient builds a client from the LLM config. Returns nil when
// no API key is configured so the agent can fail lazily.
func NewOpenAIClient(cfg config.LLMConfig) *OpenAIClient {
	if cfg.APIKey == "" {
		return nil
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIClient{client: openai.NewClient(opts...)}
}

func (c *OpenAIClient) GenerateText(ctx context.Context, req TextRequest) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(req.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(req.Prompt),
		},
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// LLMTextGenerator renders a prompt template and delegates generation
// to the configured client.
type LLMTextGenerator struct {
	client LLMClient
}

func NewLLMTextGenerator(client LLMClient) *LLMTextGenerator {
	return &LLMTextGenerator{client: client}
}

func (a *LLMTextGenerator) Kind() string { return "llm_text_generator" }

func (a *LLMTextGenerator) Execute(ctx context.Context, inv Invocation) (*Result, error) {
	started := time.Now().UTC()

	if a.client == nil {
		return nil, apperrors.ServiceUnavailable("llm")
	}

	model := stringParam(inv.Config, "model", "gpt-4o-mini")
	temperature := floatParam(inv.Config, "temperature", 0.7)
	maxTokens := intParam(inv.Config, "max_tokens", 1000)
	template := stringParam(inv.Config, "input_template", "")

	prompt := renderTemplate(template, inv.Input)
	if prompt == "" {
		prompt = stringParam(inv.Input, "prompt", "")
	}
	if prompt == "" {
		return nil, apperrors.ValidationError("prompt is empty after template rendering")
	}

	text, err := a.client.GenerateText(ctx, TextRequest{
		Model:       model,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Prompt:      prompt,
	})
	if err != nil {
		return nil, err
	}

	return &Result{
		Output: map[string]interface{}{
			"text":  text,
			"model": model,
		},
		Variables: map[string]interface{}{"generated_text": text},
		Metadata:  Metadata{StartedAt: started, CompletedAt: time.Now().UTC()},
	}, nil
}

// renderTemplate substitutes {name} placeholders with input values.
// Unknown placeholders are left as-is.
func renderTemplate(template string, input map[string]interface{}) string {
	if template == "" {
		return ""
	}
	out := template
	for key, value := range input {
		out = strings.ReplaceAll(out, "{"+key+"}", fmt.Sprintf("%v", value))
	}
	return out
}
