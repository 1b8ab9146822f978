package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

type Client struct {
	api   openai.Client
	model string
}

func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}

	return &Client{
		api:   openai.NewClient(opts...),
		model: model,
	}, nil
}

func (c *Client) Model() string { return c.model }

func (c *Client) Answer(ctx context.Context, q Question) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(q.History)+2)
	messages = append(messages, openai.SystemMessage(systemPrompt(q.Dataset)))

	if len(q.History) > 0 {
		var b strings.Builder
		b.WriteString("Recent conversation:\n")
		for _, t := range q.History {
			b.WriteString(t.Author)
			b.WriteString(": ")
			b.WriteString(t.Text)
			b.WriteString("\n")
		}
		messages = append(messages, openai.UserMessage(b.String()))
	}
	messages = append(messages, openai.UserMessage(q.Text))

	start := time.Now()
	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:               c.model,
		Messages:            messages,
		MaxCompletionTokens: openai.Int(1024),
	})
	if err != nil {
		return "", fmt.Errorf("assistant chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	slog.DebugContext(ctx, "assistant answered",
		"model", c.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens)

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func systemPrompt(dataset string) string {
	if dataset == "" {
		dataset = "the current dataset"
	}
	return fmt.Sprintf(`You are a data analysis assistant in a collaborative analytics session about '%s'.
Answer questions about the data concisely and specifically.
If the question cannot be answered from the conversation context, say so briefly.
Keep answers short and conversational, plain text only.`, dataset)
}
