// Package llm wraps the generation service: turn classification and
// grounded (streaming) response generation.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"support-chatbot/internal/config"
	"support-chatbot/internal/models"
)

type Client struct {
	llm           *openai.LLM
	historyWindow int
}

// NewClient connects to an OpenAI-compatible chat endpoint.
func NewClient(llmConfig *config.LLMConfig, historyWindow int) (*Client, error) {
	llm, err := openai.New(
		openai.WithBaseURL(llmConfig.BaseURL),
		openai.WithToken(strings.TrimPrefix(llmConfig.Key, "Bearer ")),
		openai.WithModel(llmConfig.Model),
	)
	if err != nil {
		return nil, err
	}
	if historyWindow <= 0 {
		historyWindow = 5
	}
	return &Client{llm: llm, historyWindow: historyWindow}, nil
}

// Classify labels a message CASUAL or TECHNICAL. Classification errors
// and unknown labels default to TECHNICAL so a flaky classifier can
// never skip retrieval for a real question.
func (c *Client) Classify(ctx context.Context, text string) (string, error) {
	prompt := fmt.Sprintf(models.ClassificationPromptTemplate, text)
	resp, err := c.llm.GenerateContent(ctx,
		[]llms.MessageContent{llms.TextParts(schema.ChatMessageTypeHuman, prompt)},
		llms.WithTemperature(0.1),
		llms.WithMaxTokens(10),
	)
	if err != nil {
		log.Error().Err(err).Msg("Classification failed, defaulting to TECHNICAL")
		return models.TurnTechnical, nil
	}
	label := strings.ToUpper(strings.TrimSpace(resp.Choices[0].Content))
	if label != models.TurnCasual && label != models.TurnTechnical {
		label = models.TurnTechnical
	}
	log.Debug().Str("label", label).Msg("Conversation classified")
	return label, nil
}

// Generate produces a complete response grounded on the given context.
func (c *Client) Generate(ctx context.Context, contextText, query string, history []models.Message) (string, error) {
	resp, err := c.llm.GenerateContent(ctx, c.buildMessages(contextText, query, history))
	if err != nil {
		return "", fmt.Errorf("generating response: %w", err)
	}
	return resp.Choices[0].Content, nil
}

// GenerateStream produces the response as a channel of fragments. The
// channel is closed once generation finishes; a token carrying Err
// terminates the stream. Consumers cancel by ceasing to pull and
// cancelling ctx.
func (c *Client) GenerateStream(ctx context.Context, contextText, query string, history []models.Message) <-chan models.StreamToken {
	out := make(chan models.StreamToken)
	messages := c.buildMessages(contextText, query, history)

	go func() {
		defer close(out)
		_, err := c.llm.GenerateContent(ctx, messages,
			llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
				select {
				case out <- models.StreamToken{Content: string(chunk)}:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			}),
		)
		if err != nil {
			out <- models.StreamToken{Err: fmt.Errorf("generating response: %w", err)}
		}
	}()
	return out
}

// buildMessages assembles system prompt, bounded history and the final
// user turn. Only the last historyWindow entries are forwarded to bound
// payload size.
func (c *Client) buildMessages(contextText, query string, history []models.Message) []llms.MessageContent {
	system := models.TechnicalSystemPrompt
	if contextText == "" {
		system = models.CasualSystemPrompt
	}

	messages := []llms.MessageContent{llms.TextParts(schema.ChatMessageTypeSystem, system)}

	if n := len(history); n > c.historyWindow {
		history = history[n-c.historyWindow:]
	}
	for _, msg := range history {
		role := schema.ChatMessageTypeHuman
		if msg.Role == models.RoleAssistant {
			role = schema.ChatMessageTypeAI
		}
		messages = append(messages, llms.TextParts(role, msg.Content))
	}

	if contextText != "" {
		query = fmt.Sprintf("Technical documentation (for reference only):\n%s\n\nCustomer question: %s", contextText, query)
	}
	return append(messages, llms.TextParts(schema.ChatMessageTypeHuman, query))
}
