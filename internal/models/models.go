package models

import "time"

// Chunk is a retrievable unit of text cut from a source document at an
// explicit separator line. Chunks are never re-split after creation.
type Chunk struct {
	Content  string
	Document string
	Section  string
	Index    int
}

// ChunkMetadata is the payload stored alongside a chunk in the vector
// index. Used for diagnostics and context headers, not for ranking.
type ChunkMetadata struct {
	Document    string
	Section     string
	ChunkIndex  int
	Preview     string
	ChunkLength int
	WordCount   int
	Keywords    string
	SourceFile  string
}

// RetrievalResult holds ranked passages for one query. Distances are
// non-negative and ascending; a result with zero documents is valid and
// distinct from "retrieval not attempted".
type RetrievalResult struct {
	Documents []string
	Metadatas []ChunkMetadata
	Distances []float32
}

// Empty reports whether no passages were retrieved.
func (r RetrievalResult) Empty() bool {
	return len(r.Documents) == 0
}

// Message is one transcript entry.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamToken is one fragment of a streaming generation. The channel is
// closed after the final token; a token with Err set terminates the
// stream.
type StreamToken struct {
	Content string
	Err     error
}

// AttachmentMeta describes a file after it has been copied into durable
// storage. Path always points at the uploads directory, never at the
// transient upload location.
type AttachmentMeta struct {
	Kind         string `json:"type"`
	Path         string `json:"path"`
	OriginalName string `json:"original_name"`
}

// TurnRecord is the slice of a persisted conversation row needed to
// replay a session.
type TurnRecord struct {
	Message   string
	Response  string
	Timestamp time.Time
}

// SessionSummary is one sidebar row derived from persisted history.
type SessionSummary struct {
	SessionID    string
	FirstMessage string
	LastUpdated  time.Time
}
