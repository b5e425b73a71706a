package yuuki

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// CompletionClient is the subset of the OpenAI client the bot uses.
// [openai.Client] satisfies it; tests substitute a fake.
type CompletionClient interface {
	CreateChatCompletion(
		ctx context.Context,
		request openai.ChatCompletionRequest,
	) (openai.ChatCompletionResponse, error)
}

// Completions wraps an OpenAI-compatible chat completion API (Groq, by
// default) behind a rate limiter.
type Completions struct {
	client         CompletionClient
	requestLimiter *rate.Limiter
	config         *CompletionConfig
	logger         *slog.Logger
}

func newCompletions(
	cfg *CompletionConfig,
	httpClient *http.Client,
	logger *slog.Logger,
) *Completions {
	clientConfig := openai.DefaultConfig(cfg.Token)
	clientConfig.BaseURL = cfg.BaseURL
	if httpClient != nil {
		clientConfig.HTTPClient = httpClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Completions{
		client:         openai.NewClientWithConfig(clientConfig),
		requestLimiter: rate.NewLimiter(rate.Limit(cfg.MaxRequestsPerSecond), 1),
		config:         cfg,
		logger:         logger.With(loggerNameKey, "completions"),
	}
}

// Complete sends the system prompt, prior context and the new user
// message to the completion API, returning the assistant's reply with
// surrounding whitespace trimmed.
func (c *Completions) Complete(
	ctx context.Context,
	systemPrompt string,
	history []openai.ChatCompletionMessage,
	userMessage string,
) (string, error) {
	if err := c.requestLimiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(
		messages,
		openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		},
	)
	messages = append(messages, history...)
	messages = append(
		messages,
		openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: userMessage,
		},
	)

	started := time.Now()
	resp, err := c.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model:       c.config.Model,
			Messages:    messages,
			Temperature: c.config.Temperature,
			MaxTokens:   c.config.MaxTokens,
			TopP:        c.config.TopP,
		},
	)
	if err != nil {
		return "", fmt.Errorf("completion request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("completion response had no choices")
	}

	log, ok := ContextLogger(ctx)
	if !ok {
		log = c.logger
	}
	log.DebugContext(ctx, "completion finished",
		"model", c.config.Model,
		"elapsed", time.Since(started),
		"total_tokens", resp.Usage.TotalTokens,
	)
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
