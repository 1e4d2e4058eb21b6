// Package chromemdb wraps the chromem-go vector database behind the
// small surface the retriever needs.
package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"support-chatbot/internal/models"
)

// ErrDimensionMismatch signals that the stored index was built with an
// embedding model of a different dimensionality. The only fix is a
// rebuild; callers must not swallow this.
var ErrDimensionMismatch = errors.New(
	"embedding dimension mismatch: the index was built with a different embedding model; rebuild it with -reindex")

const compress = false

// Store encapsulates one chromem collection plus the dimension sidecar
// that guards against querying an index built by another model.
type Store struct {
	db         *chromem.DB
	collection *chromem.Collection
	dbPath     string
	name       string
	dimension  int
}

// NewStore opens or creates the persistent database at dbPath. Pass
// inMemory for tests.
func NewStore(dbPath, collectionName string, inMemory bool) (*Store, error) {
	var db *chromem.DB
	var err error
	if inMemory {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(dbPath, compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	s := &Store{db: db, dbPath: dbPath, name: collectionName}
	s.dimension = s.readDimension()

	c, err := db.GetOrCreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}
	s.collection = c
	return s, nil
}

// Count returns the number of stored chunks.
func (s *Store) Count() int {
	return s.collection.Count()
}

// Reset drops and recreates the collection, clearing the recorded
// dimension.
func (s *Store) Reset() error {
	if err := s.db.DeleteCollection(s.name); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	c, err := s.db.GetOrCreateCollection(s.name, nil, nil)
	if err != nil {
		return fmt.Errorf("failed to recreate collection: %w", err)
	}
	s.collection = c
	s.dimension = 0
	if s.dbPath != "" {
		if err := os.Remove(s.dimensionFile()); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Msg("Could not remove index dimension file")
		}
	}
	return nil
}

// AddDocuments loads chunks with precomputed embeddings. The first
// batch fixes the index dimension; later batches must match it.
func (s *Store) AddDocuments(ctx context.Context, ids []string, embeddings [][]float32, documents []string, metadatas []models.ChunkMetadata) error {
	if len(ids) != len(embeddings) || len(ids) != len(documents) || len(ids) != len(metadatas) {
		return fmt.Errorf("mismatched batch lengths: %d ids, %d embeddings, %d documents, %d metadatas",
			len(ids), len(embeddings), len(documents), len(metadatas))
	}
	if len(ids) == 0 {
		return nil
	}

	dim := len(embeddings[0])
	if s.dimension != 0 && s.dimension != dim {
		return ErrDimensionMismatch
	}

	docs := make([]chromem.Document, len(ids))
	for i := range ids {
		docs[i] = chromem.Document{
			ID:        ids[i],
			Content:   documents[i],
			Metadata:  encodeMetadata(metadatas[i]),
			Embedding: embeddings[i],
		}
	}
	if err := s.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}

	if s.dimension == 0 {
		s.dimension = dim
		if err := s.writeDimension(dim); err != nil {
			log.Warn().Err(err).Msg("Could not persist index dimension")
		}
	}
	return nil
}

// Query returns the topK nearest chunks for the embedding, distances
// ascending. topK is clamped to the stored count; an empty index yields
// an empty result, not an error.
func (s *Store) Query(ctx context.Context, queryEmbedding []float32, topK int) (models.RetrievalResult, error) {
	if s.dimension != 0 && len(queryEmbedding) != s.dimension {
		return models.RetrievalResult{}, ErrDimensionMismatch
	}

	count := s.collection.Count()
	if count == 0 {
		return models.RetrievalResult{}, nil
	}
	if topK > count {
		topK = count
	}

	results, err := s.collection.QueryWithOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: queryEmbedding,
		NResults:       topK,
	})
	if err != nil {
		return models.RetrievalResult{}, fmt.Errorf("failed to query by similarity: %w", err)
	}

	out := models.RetrievalResult{
		Documents: make([]string, 0, len(results)),
		Metadatas: make([]models.ChunkMetadata, 0, len(results)),
		Distances: make([]float32, 0, len(results)),
	}
	for _, r := range results {
		distance := 1 - r.Similarity
		if distance < 0 {
			distance = 0
		}
		out.Documents = append(out.Documents, r.Content)
		out.Metadatas = append(out.Metadatas, decodeMetadata(r.Metadata))
		out.Distances = append(out.Distances, distance)
	}
	return out, nil
}

func encodeMetadata(m models.ChunkMetadata) map[string]string {
	return map[string]string{
		"document":     m.Document,
		"section":      m.Section,
		"chunk_index":  strconv.Itoa(m.ChunkIndex),
		"preview":      m.Preview,
		"chunk_length": strconv.Itoa(m.ChunkLength),
		"word_count":   strconv.Itoa(m.WordCount),
		"keywords":     m.Keywords,
		"source_file":  m.SourceFile,
	}
}

func decodeMetadata(m map[string]string) models.ChunkMetadata {
	atoi := func(s string) int {
		n, _ := strconv.Atoi(s)
		return n
	}
	return models.ChunkMetadata{
		Document:    m["document"],
		Section:     m["section"],
		ChunkIndex:  atoi(m["chunk_index"]),
		Preview:     m["preview"],
		ChunkLength: atoi(m["chunk_length"]),
		WordCount:   atoi(m["word_count"]),
		Keywords:    m["keywords"],
		SourceFile:  m["source_file"],
	}
}

func (s *Store) dimensionFile() string {
	return filepath.Join(s.dbPath, s.name+".dimension")
}

func (s *Store) readDimension() int {
	if s.dbPath == "" {
		return 0
	}
	data, err := os.ReadFile(s.dimensionFile())
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return n
}

func (s *Store) writeDimension(dim int) error {
	if s.dbPath == "" {
		return nil
	}
	if err := os.MkdirAll(s.dbPath, 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.dimensionFile(), []byte(strconv.Itoa(dim)), 0o644)
}
