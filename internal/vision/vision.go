// Package vision converts attachments into textual descriptions via an
// external vision model. One blocking call per file, no retries; the
// caller surfaces failures immediately.
package vision

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"support-chatbot/internal/config"
	"support-chatbot/internal/models"
)

type Extractor struct {
	llm *openai.LLM
}

// NewExtractor connects to the vision model endpoint. Returns nil (not
// an error) when no key is configured; the orchestrator reports that
// specifically.
func NewExtractor(llmConfig *config.LLMConfig) (*Extractor, error) {
	if llmConfig.Key == "" {
		log.Warn().Msg("Vision model key not set, image analysis disabled")
		return nil, nil
	}
	llm, err := openai.New(
		openai.WithBaseURL(llmConfig.BaseURL),
		openai.WithToken(strings.TrimPrefix(llmConfig.Key, "Bearer ")),
		openai.WithModel(llmConfig.Model),
	)
	if err != nil {
		return nil, err
	}
	return &Extractor{llm: llm}, nil
}

// ExtractImage describes the image per the instruction.
func (e *Extractor) ExtractImage(ctx context.Context, data []byte, mimeType, instruction string) (string, error) {
	resp, err := e.llm.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, models.ExtractionSystemPrompt),
		{
			Role: schema.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{
				llms.BinaryPart(mimeType, data),
				llms.TextPart(instruction),
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("vision extraction failed: %w", err)
	}
	text := strings.TrimSpace(resp.Choices[0].Content)
	if text == "" {
		return "", fmt.Errorf("vision extraction returned no text")
	}
	return text, nil
}

// ExtractText runs the same extraction instruction over text pulled
// from a document page (used for PDF attachments, where the first page
// is read as text instead of rasterized).
func (e *Extractor) ExtractText(ctx context.Context, text, instruction string) (string, error) {
	resp, err := e.llm.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, models.ExtractionSystemPrompt),
		llms.TextParts(schema.ChatMessageTypeHuman, fmt.Sprintf("%s\n\nPage content:\n%s", instruction, text)),
	})
	if err != nil {
		return "", fmt.Errorf("document extraction failed: %w", err)
	}
	out := strings.TrimSpace(resp.Choices[0].Content)
	if out == "" {
		return "", fmt.Errorf("document extraction returned no text")
	}
	return out, nil
}

// MediaType sniffs the MIME type from the filename extension, falling
// back to magic bytes, then image/jpeg.
func MediaType(name string, data []byte) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".bmp":
		return "image/bmp"
	}
	switch {
	case bytes.HasPrefix(data, []byte{0xff, 0xd8, 0xff}):
		return "image/jpeg"
	case bytes.HasPrefix(data, []byte("\x89PNG")):
		return "image/png"
	case bytes.HasPrefix(data, []byte("GIF")):
		return "image/gif"
	}
	return "image/jpeg"
}
