package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/eternisai/chat-relay/internal/logger"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// OpenAIClient talks to any OpenAI-compatible completion endpoint
// (api.openai.com, OpenRouter, self-hosted gateways).
type OpenAIClient struct {
	client openai.Client
	logger *logger.Logger
}

// NewOpenAIClient creates a client for the given endpoint. An empty baseURL
// uses the SDK default.
func NewOpenAIClient(apiKey, baseURL string, log *logger.Logger) *OpenAIClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &OpenAIClient{
		client: openai.NewClient(opts...),
		logger: log.WithComponent("llm-openai"),
	}
}

// StreamCompletion opens a streaming completion with include_usage enabled,
// so the last chunk carries the token counters.
func (c *OpenAIClient) StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk, 64)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		params := openai.ChatCompletionNewParams{
			Model:    openai.ChatModel(req.Model),
			Messages: buildMessages(req),
			StreamOptions: openai.ChatCompletionStreamOptionsParam{
				IncludeUsage: openai.Bool(true),
			},
		}

		stream := c.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()

			var out Chunk
			if chunk.Usage.TotalTokens > 0 {
				out.Usage = usageFromOpenAI(chunk.Usage)
			}
			if len(chunk.Choices) > 0 {
				delta := chunk.Choices[0].Delta
				if delta.JSON.Content.Valid() {
					out.Text = delta.Content
					out.HasText = true
				}
			}

			select {
			case chunks <- out:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}

		if err := stream.Err(); err != nil {
			c.logger.Error("streaming completion failed",
				slog.String("model", req.Model),
				slog.String("error", err.Error()))
			errs <- err
		}
	}()

	return chunks, errs
}

// Complete performs a blocking, non-streaming completion.
func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: buildMessages(req),
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		c.logger.Error("completion call failed",
			slog.String("model", req.Model),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("completion call failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("completion returned no choices")
	}

	return &Completion{
		Text:  completion.Choices[0].Message.Content,
		Usage: usageFromOpenAI(completion.Usage),
		Raw:   []byte(completion.RawJSON()),
	}, nil
}

// buildMessages assembles the conversation: thread history first, then the
// optional system instruction, then the new user prompt.
func buildMessages(req CompletionRequest) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.PreviousMessages)+2)

	for _, msg := range req.PreviousMessages {
		switch msg.Role {
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}

	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(req.UserPrompt))

	return messages
}

func usageFromOpenAI(u openai.CompletionUsage) *Usage {
	return &Usage{
		InputTokens:     u.PromptTokens,
		OutputTokens:    u.CompletionTokens,
		ReasoningTokens: u.CompletionTokensDetails.ReasoningTokens,
		TotalTokens:     u.TotalTokens,
	}
}
