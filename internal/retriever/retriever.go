// Package retriever turns a text query into ranked reference passages,
// and owns building the vector index from the document folder.
package retriever

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"support-chatbot/internal/chunker"
	"support-chatbot/internal/config"
	"support-chatbot/internal/embedding"
	"support-chatbot/internal/models"
	"support-chatbot/internal/parser"
)

// Index is the vector-store surface the engine drives. Implemented by
// chromemdb.Store.
type Index interface {
	Count() int
	Reset() error
	AddDocuments(ctx context.Context, ids []string, embeddings [][]float32, documents []string, metadatas []models.ChunkMetadata) error
	Query(ctx context.Context, queryEmbedding []float32, topK int) (models.RetrievalResult, error)
}

// IndexReport summarizes one indexing run. Per-document validation
// failures skip the document and are aggregated here; they never abort
// the run.
type IndexReport struct {
	Files   int
	Chunks  int
	Skipped []string
}

type Engine struct {
	embedder embedding.Embedder
	index    Index
	cfg      *config.RAGConfig
}

func NewEngine(embedder embedding.Embedder, index Index, cfg *config.RAGConfig) *Engine {
	return &Engine{embedder: embedder, index: index, cfg: cfg}
}

// Initialize reuses a previously built index when one is present,
// otherwise rebuilds it from the document folder. The rebuild decision
// is made here, explicitly, from the index count.
func (e *Engine) Initialize(ctx context.Context) error {
	if e.index.Count() > 0 {
		log.Info().Int("chunks", e.index.Count()).Msg("Loaded existing vector index")
		return nil
	}
	log.Info().Msg("No existing vector index, building from documents")
	report, err := e.LoadDocuments(ctx)
	if err != nil {
		return err
	}
	log.Info().
		Int("files", report.Files).
		Int("chunks", report.Chunks).
		Int("skipped", len(report.Skipped)).
		Msg("Indexed documents")
	return nil
}

// LoadDocuments walks the docs folder, validates and chunks every
// supported file, embeds all chunks in one batch and loads the index.
// Documents without separator markers are skipped with a logged reason.
func (e *Engine) LoadDocuments(ctx context.Context) (IndexReport, error) {
	var report IndexReport

	if err := e.index.Reset(); err != nil {
		return report, fmt.Errorf("resetting index: %w", err)
	}

	entries, err := os.ReadDir(e.cfg.DocsDir)
	if err != nil {
		return report, fmt.Errorf("reading docs folder %s: %w", e.cfg.DocsDir, err)
	}

	var allChunks []string
	var allMetadatas []models.ChunkMetadata

	for _, entry := range entries {
		if entry.IsDir() || !parser.SupportedExts[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		path := filepath.Join(e.cfg.DocsDir, entry.Name())

		content, err := parser.LoadText(path)
		if err != nil {
			log.Error().Err(err).Str("file", entry.Name()).Msg("Skipping unreadable document")
			report.Skipped = append(report.Skipped, entry.Name())
			continue
		}

		validation := chunker.Validate(content)
		if !validation.Valid {
			log.Error().Str("file", entry.Name()).Str("reason", validation.Message).Msg("Skipping invalid document")
			report.Skipped = append(report.Skipped, entry.Name())
			continue
		}
		report.Files++

		docName := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		for _, section := range chunker.ExtractSections(content) {
			for i, chunk := range chunker.Split(section.Content) {
				allChunks = append(allChunks, chunk)
				allMetadatas = append(allMetadatas, chunker.ExtractMetadata(chunk, docName, section.Title, i))
			}
		}
	}

	if len(allChunks) == 0 {
		return report, fmt.Errorf("no chunks created from %s (%d files skipped)", e.cfg.DocsDir, len(report.Skipped))
	}

	log.Info().Int("chunks", len(allChunks)).Msg("Generating embeddings")
	embeddings, err := e.embedder.EmbedDocuments(ctx, allChunks)
	if err != nil {
		return report, fmt.Errorf("embedding chunks: %w", err)
	}

	ids := make([]string, len(allChunks))
	for i := range ids {
		ids[i] = fmt.Sprintf("chunk_%d", i)
	}
	if err := e.index.AddDocuments(ctx, ids, embeddings, allChunks, allMetadatas); err != nil {
		return report, fmt.Errorf("loading index: %w", err)
	}

	report.Chunks = len(allChunks)
	return report, nil
}

// Retrieve embeds the query and returns the topK nearest chunks. An
// empty result is a valid outcome, distinct from an error.
func (e *Engine) Retrieve(ctx context.Context, query string, topK int) (models.RetrievalResult, error) {
	if topK <= 0 {
		topK = e.cfg.TopK
	}
	queryEmbedding, err := e.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return models.RetrievalResult{}, fmt.Errorf("embedding query: %w", err)
	}
	results, err := e.index.Query(ctx, queryEmbedding, topK)
	if err != nil {
		return models.RetrievalResult{}, err
	}
	for i := range results.Documents {
		log.Debug().
			Int("rank", i+1).
			Str("document", results.Metadatas[i].Document).
			Str("section", results.Metadatas[i].Section).
			Float32("distance", results.Distances[i]).
			Msg("Retrieved chunk")
	}
	return results, nil
}

// FormatContext renders retrieved passages into one context string,
// each preceded by a source header, in ranked order. Empty results
// produce the empty string.
func (e *Engine) FormatContext(results models.RetrievalResult) string {
	if results.Empty() {
		return ""
	}
	parts := make([]string, len(results.Documents))
	for i, doc := range results.Documents {
		meta := results.Metadatas[i]
		parts[i] = fmt.Sprintf("[Source %d - Document: %s, Section: %s]\n%s",
			i+1, meta.Document, meta.Section, doc)
	}
	return strings.Join(parts, models.ContextSeparator)
}
