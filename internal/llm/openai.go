package llm

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"github.com/doubleAgent-ohtu/doubleAgent/internal/domain"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIClient implements Completer against the OpenAI chat completions
// API.
type OpenAIClient struct {
	client openai.Client
}

// NewOpenAIClient creates a completion client. baseURL overrides the API
// endpoint when non-empty (Azure/proxy deployments).
func NewOpenAIClient(apiKey, baseURL string) *OpenAIClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIClient{client: openai.NewClient(opts...)}
}

func buildParams(req Request) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.History)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.History {
		switch m.Role {
		case domain.RoleHuman:
			messages = append(messages, openai.UserMessage(m.Content))
		case domain.RoleAgentA, domain.RoleAgentB:
			messages = append(messages, openai.AssistantMessage(m.Content))
		case domain.RoleSystem:
			// Instruction text travels via SystemPrompt, not history.
		}
	}

	return openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: messages,
	}
}

// Complete sends a synchronous chat completion request.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (string, error) {
	completion, err := c.client.Chat.Completions.New(ctx, buildParams(req))
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUpstream, err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("%w: no response choices returned", domain.ErrUpstream)
	}
	content := completion.Choices[0].Message.Content
	if content == "" {
		return "", fmt.Errorf("%w: empty response content", domain.ErrUpstream)
	}
	return content, nil
}

// Stream sends a streaming chat completion request and yields content
// deltas as they arrive.
func (c *OpenAIClient) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		stream := c.client.Chat.Completions.NewStreaming(ctx, buildParams(req))
		defer func() {
			if err := stream.Close(); err != nil {
				slog.Debug("failed to close completion stream", "error", err)
			}
		}()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			if !yield(delta, nil) {
				return
			}
		}

		if err := stream.Err(); err != nil {
			yield("", fmt.Errorf("%w: %v", domain.ErrUpstream, err))
		}
	}
}
