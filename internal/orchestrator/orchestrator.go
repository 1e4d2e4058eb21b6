// Package orchestrator drives one conversation turn end to end:
// access check, attachment handling, classification, retrieval,
// streaming generation, session update and persistence.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"support-chatbot/internal/config"
	"support-chatbot/internal/db"
	"support-chatbot/internal/models"
	"support-chatbot/internal/session"
	"support-chatbot/internal/vision"
)

// Retriever looks up reference passages for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) (models.RetrievalResult, error)
	FormatContext(results models.RetrievalResult) string
}

// Generator classifies turns and streams grounded answers.
type Generator interface {
	Classify(ctx context.Context, text string) (string, error)
	GenerateStream(ctx context.Context, contextText, query string, history []models.Message) <-chan models.StreamToken
}

// Extractor converts attachments into textual descriptions. A nil
// Extractor means image analysis is not configured.
type Extractor interface {
	ExtractImage(ctx context.Context, data []byte, mimeType, instruction string) (string, error)
	ExtractText(ctx context.Context, text, instruction string) (string, error)
}

// Recorder is the slice of the persistence boundary a turn touches.
type Recorder interface {
	SaveConversation(ctx context.Context, conv *db.Conversation) error
	VerifyUserAccess(ctx context.Context, userID int64) (bool, error)
}

// AttachmentStore copies uploads into durable storage.
type AttachmentStore interface {
	SaveAll(atts []models.Attachment) []models.AttachmentMeta
}

// PDFFirstPage reads the text of a PDF's first page. Wired to the
// parser package; injected so tests need no real PDFs.
type PDFFirstPage func(att models.Attachment) (string, error)

type Orchestrator struct {
	retriever Retriever
	generator Generator
	extractor Extractor
	recorder  Recorder
	uploads   AttachmentStore
	firstPage PDFFirstPage
	cfg       *config.RAGConfig
}

func New(retriever Retriever, generator Generator, extractor Extractor, recorder Recorder, uploads AttachmentStore, firstPage PDFFirstPage, cfg *config.RAGConfig) *Orchestrator {
	return &Orchestrator{
		retriever: retriever,
		generator: generator,
		extractor: extractor,
		recorder:  recorder,
		uploads:   uploads,
		firstPage: firstPage,
		cfg:       cfg,
	}
}

// ProcessStream handles one user turn and returns a channel of
// cumulative response strings: every value is the full answer so far,
// not a delta. All failures surface as plain user-visible strings on
// the channel; nothing propagates to the caller.
func (o *Orchestrator) ProcessStream(ctx context.Context, text string, attachments []models.Attachment, sess *session.ConversationSession, userID int64) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("Panic while processing message")
				out <- "Error: an internal error occurred. Please try again."
			}
		}()

		sess.Lock()
		defer sess.Unlock()

		emit := func(s string) { out <- s }
		o.process(ctx, text, attachments, sess, userID, emit)
	}()
	return out
}

func (o *Orchestrator) process(ctx context.Context, text string, attachments []models.Attachment, sess *session.ConversationSession, userID int64, emit func(string)) {
	start := time.Now()

	ok, err := o.recorder.VerifyUserAccess(ctx, userID)
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("Access check failed")
		emit("Error: could not verify account access. Please try again.")
		return
	}
	if !ok {
		emit(models.ReplyAccessDenied)
		return
	}

	// A plain-text attachment is semantically pasted text: absorb it
	// into the message body before branching.
	remaining := attachments[:0:0]
	for _, att := range attachments {
		if att.Ext() != ".txt" {
			remaining = append(remaining, att)
			continue
		}
		content, err := att.Read()
		if err != nil {
			log.Error().Err(err).Str("file", att.Name()).Msg("Could not read text attachment")
			emit(fmt.Sprintf("Error reading text file: %s", err))
			return
		}
		text = strings.TrimSpace(text + "\n\n" + string(content))
	}
	attachments = remaining

	hasText := strings.TrimSpace(text) != ""
	if !hasText && len(attachments) == 0 {
		emit(models.ReplyEmptyInput)
		return
	}

	if len(attachments) == 0 {
		o.handleText(ctx, text, sess, userID, start, emit)
		return
	}
	o.handleFiles(ctx, text, attachments, sess, userID, start, hasText, emit)
}

// handleText is the text-only scenario: casual turns generate directly,
// substantive turns generate grounded on retrieved context.
func (o *Orchestrator) handleText(ctx context.Context, text string, sess *session.ConversationSession, userID int64, start time.Time, emit func(string)) {
	turnType, err := o.generator.Classify(ctx, text)
	if err != nil {
		turnType = models.TurnTechnical
	}

	var fullResponse string
	if turnType == models.TurnCasual {
		fullResponse, err = o.streamResponse(ctx, "", text, sess.History(), emit)
		if err != nil {
			o.emitGenerationError(err, emit)
			return
		}
	} else {
		results, err := o.retriever.Retrieve(ctx, text, o.cfg.TopK)
		if err != nil {
			log.Error().Err(err).Msg("Retrieval failed")
			emit("Error: could not search the documentation. Please try again.")
			return
		}
		contextText := o.retriever.FormatContext(results)
		if contextText == "" {
			// A retrieval miss is normal control flow, not an error:
			// answer with the fixed fallback instead of hallucinating.
			fullResponse = models.ReplyNoContext
			emit(fullResponse)
		} else {
			fullResponse, err = o.streamResponse(ctx, contextText, text, sess.History(), emit)
			if err != nil {
				o.emitGenerationError(err, emit)
				return
			}
		}
	}

	sess.AddMessage(models.RoleUser, text)
	sess.AddMessage(models.RoleAssistant, fullResponse)

	o.record(ctx, &db.Conversation{
		UserID:         userID,
		SessionID:      sess.SessionID,
		Message:        text,
		Response:       fullResponse,
		Type:           turnType,
		ResponseTimeMs: int(time.Since(start).Milliseconds()),
	}, emit)
	log.Info().
		Str("type", turnType).
		Dur("elapsed", time.Since(start)).
		Msg("Text turn completed")
}

// handleFiles is the file-bearing scenario: every attachment becomes a
// textual description, descriptions are combined into the retrieval
// query, then the turn proceeds like a technical text turn with a wider
// retrieval fan-out.
func (o *Orchestrator) handleFiles(ctx context.Context, text string, attachments []models.Attachment, sess *session.ConversationSession, userID int64, start time.Time, hasText bool, emit func(string)) {
	if o.extractor == nil {
		emit(models.ReplyVisionNotConfigured)
		return
	}

	instruction := models.ExtractionInstructionBase
	if hasText {
		instruction += models.ExtractionInstructionRelated + text
	}
	instruction += "."

	descriptions := make([]string, 0, len(attachments))
	for _, att := range attachments {
		var info string
		var err error
		switch ext := att.Ext(); {
		case ext == ".pdf":
			var pageText string
			pageText, err = o.firstPage(att)
			if err != nil {
				emit(fmt.Sprintf("Error processing PDF: %s", err))
				return
			}
			info, err = o.extractor.ExtractText(ctx, pageText, instruction)
		case models.SupportedImageExts[ext]:
			var data []byte
			data, err = att.Read()
			if err != nil {
				emit(fmt.Sprintf("Error analyzing %s: %s", att.Name(), err))
				return
			}
			info, err = o.extractor.ExtractImage(ctx, data, vision.MediaType(att.Name(), data), instruction)
		default:
			emit(fmt.Sprintf("Unsupported file type: %s. Supported: images (jpg, png, gif, webp) and PDF.", att.Ext()))
			return
		}
		if err != nil {
			// Partial multi-file extraction is never silently continued.
			emit(fmt.Sprintf("Error analyzing %s: %s", att.Name(), err))
			return
		}
		descriptions = append(descriptions, fmt.Sprintf("[File %d: %s]\n%s", len(descriptions)+1, att.Name(), info))
		log.Info().Str("file", att.Name()).Msg("Extracted attachment description")
	}

	combined := strings.Join(descriptions, "\n\n")
	numFiles := len(attachments)

	var retrievalQuery, displayMessage string
	if hasText {
		retrievalQuery = fmt.Sprintf("%s\n\nFile content(s):\n%s", text, combined)
		displayMessage = fmt.Sprintf("[%d FILE(S) + TEXT] %s", numFiles, text)
	} else {
		retrievalQuery = fmt.Sprintf("Analyze this information and help me understand it: %s", combined)
		displayMessage = fmt.Sprintf("[%d FILE(S)] (No text provided)", numFiles)
	}

	results, err := o.retriever.Retrieve(ctx, retrievalQuery, o.cfg.AttachmentTopK)
	if err != nil {
		log.Error().Err(err).Msg("Retrieval failed")
		emit("Error: could not search the documentation. Please try again.")
		return
	}
	contextText := o.retriever.FormatContext(results)

	var fullResponse string
	if contextText == "" {
		fullResponse = models.ReplyNoContext
		emit(fullResponse)
	} else {
		fullResponse, err = o.streamResponse(ctx, contextText, retrievalQuery, sess.History(), emit)
		if err != nil {
			o.emitGenerationError(err, emit)
			return
		}
	}

	sess.AddMessage(models.RoleUser, displayMessage)
	sess.AddMessage(models.RoleAssistant, fullResponse)

	// Attachments reach durable storage only now, once the turn has
	// completed, so aborted turns leave nothing behind.
	var attachmentsJSON *string
	if metas := o.uploads.SaveAll(attachments); len(metas) > 0 {
		if encoded, err := json.Marshal(metas); err == nil {
			s := string(encoded)
			attachmentsJSON = &s
		} else {
			log.Warn().Err(err).Msg("Could not encode attachment metadata")
		}
	}

	turnType := models.TurnImageAnalysis
	if hasText {
		turnType = models.TurnTechnical
	}
	o.record(ctx, &db.Conversation{
		UserID:         userID,
		SessionID:      sess.SessionID,
		Message:        displayMessage,
		Response:       fullResponse,
		Type:           turnType,
		ResponseTimeMs: int(time.Since(start).Milliseconds()),
		Attachments:    attachmentsJSON,
	}, emit)
	log.Info().
		Int("files", numFiles).
		Dur("elapsed", time.Since(start)).
		Msg("File turn completed")
}

// streamResponse pulls fragments and republishes the cumulative string
// after each one, so a consumer always holds the full answer so far.
func (o *Orchestrator) streamResponse(ctx context.Context, contextText, query string, history []models.Message, emit func(string)) (string, error) {
	var full strings.Builder
	for token := range o.generator.GenerateStream(ctx, contextText, query, history) {
		if token.Err != nil {
			return "", token.Err
		}
		full.WriteString(token.Content)
		emit(full.String())
	}
	return full.String(), nil
}

func (o *Orchestrator) emitGenerationError(err error, emit func(string)) {
	log.Error().Err(err).Msg("Generation failed")
	emit("Error: could not generate a response. Please try again.")
}

func (o *Orchestrator) record(ctx context.Context, conv *db.Conversation, emit func(string)) {
	if err := o.recorder.SaveConversation(ctx, conv); err != nil {
		log.Error().Err(err).Msg("Could not persist conversation")
		emit("Error: your message was answered but could not be saved.")
	}
}
