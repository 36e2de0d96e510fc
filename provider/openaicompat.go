package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIBackend classifies text through an OpenAI-compatible chat server
// (vLLM, llama.cpp, or the hosted API). The model is prompted to emit a
// strict JSON object with candidate labels, which keeps the backend usable
// for all four source roles by varying the label set.
type OpenAIBackend struct {
	client *openai.Client
	labels map[string][]string
}

// NewOpenAIBackend creates an OpenAI-compatible backend. baseURL may be
// empty for the hosted API.
func NewOpenAIBackend(baseURL, apiKey string, labelSets map[string][]string) *OpenAIBackend {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIBackend{
		client: openai.NewClientWithConfig(cfg),
		labels: labelSets,
	}
}

const classifyPrompt = `You are a text classifier. Classify the message into exactly one of these labels: %s.
Respond with only a JSON object of the form {"label": "<label>", "score": <confidence 0..1>} and nothing else.

Message: %s`

// Classify asks the chat model for a single-label JSON verdict.
func (b *OpenAIBackend) Classify(ctx context.Context, model, text string) ([]LabelScore, error) {
	labelSet := b.labels[model]
	if len(labelSet) == 0 {
		return nil, NewBackendError("openai", "config", fmt.Sprintf("no label set for model %q", model), nil)
	}

	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Temperature: 0,
		MaxTokens:   64,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: fmt.Sprintf(classifyPrompt, strings.Join(labelSet, ", "), text),
			},
		},
	})
	if err != nil {
		return nil, NewBackendError("openai", "transport", "chat completion", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	var verdict struct {
		Label string  `json:"label"`
		Score float64 `json:"score"`
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	// Some servers wrap JSON in a code fence despite instructions.
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &verdict); err != nil {
		return nil, NewBackendError("openai", "decode", "parse verdict", err)
	}
	if verdict.Label == "" {
		return nil, ErrEmptyResponse
	}
	return []LabelScore{{Label: verdict.Label, Score: verdict.Score}}, nil
}
