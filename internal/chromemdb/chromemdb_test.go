package chromemdb

import (
	"context"
	"errors"
	"testing"

	"support-chatbot/internal/models"
)

func newMemStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore("", "test", true)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func seed(t *testing.T, s *Store) {
	t.Helper()
	err := s.AddDocuments(context.Background(),
		[]string{"chunk_0", "chunk_1"},
		[][]float32{{1, 0}, {0, 1}},
		[]string{"export guide", "billing faq"},
		[]models.ChunkMetadata{
			{Document: "guide", Section: "Exports", ChunkIndex: 0},
			{Document: "faq", Section: "Billing", ChunkIndex: 1},
		},
	)
	if err != nil {
		t.Fatal(err)
	}
}

func TestQueryRanksByDistance(t *testing.T) {
	s := newMemStore(t)
	seed(t, s)

	result, err := s.Query(context.Background(), []float32{1, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Documents) != 2 {
		t.Fatalf("got %d documents", len(result.Documents))
	}
	if result.Documents[0] != "export guide" {
		t.Errorf("nearest = %q", result.Documents[0])
	}
	if result.Metadatas[0].Document != "guide" || result.Metadatas[0].Section != "Exports" {
		t.Errorf("metadata round-trip failed: %+v", result.Metadatas[0])
	}
	for i, d := range result.Distances {
		if d < 0 {
			t.Errorf("distance %d negative: %f", i, d)
		}
		if i > 0 && d < result.Distances[i-1] {
			t.Errorf("distances not ascending: %v", result.Distances)
		}
	}
}

func TestQueryClampsTopK(t *testing.T) {
	s := newMemStore(t)
	seed(t, s)

	result, err := s.Query(context.Background(), []float32{1, 0}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Documents) != 2 {
		t.Errorf("got %d documents, want all 2", len(result.Documents))
	}
}

func TestQueryEmptyIndex(t *testing.T) {
	s := newMemStore(t)
	result, err := s.Query(context.Background(), []float32{1, 0}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Empty() {
		t.Errorf("expected empty result, got %+v", result)
	}
}

func TestDimensionMismatch(t *testing.T) {
	s := newMemStore(t)
	seed(t, s)

	if _, err := s.Query(context.Background(), []float32{1, 0, 0}, 2); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("query error = %v", err)
	}

	err := s.AddDocuments(context.Background(),
		[]string{"chunk_2"},
		[][]float32{{1, 0, 0}},
		[]string{"doc"},
		[]models.ChunkMetadata{{}},
	)
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("add error = %v", err)
	}
}

func TestResetClearsDimension(t *testing.T) {
	s := newMemStore(t)
	seed(t, s)

	if err := s.Reset(); err != nil {
		t.Fatal(err)
	}
	if s.Count() != 0 {
		t.Errorf("count after reset = %d", s.Count())
	}

	// A different dimensionality is accepted after a rebuild.
	err := s.AddDocuments(context.Background(),
		[]string{"chunk_0"},
		[][]float32{{1, 0, 0}},
		[]string{"doc"},
		[]models.ChunkMetadata{{}},
	)
	if err != nil {
		t.Fatal(err)
	}
}

func TestAddDocumentsLengthMismatch(t *testing.T) {
	s := newMemStore(t)
	err := s.AddDocuments(context.Background(),
		[]string{"a", "b"},
		[][]float32{{1, 0}},
		[]string{"doc"},
		nil,
	)
	if err == nil {
		t.Fatal("expected error for mismatched batch lengths")
	}
}
