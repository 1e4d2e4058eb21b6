// Package chunker splits documents into retrievable units at explicit
// separator lines. Splitting is marker-based only: a document without
// separators is rejected rather than silently falling back to a length
// heuristic, because a bad fallback would silently degrade retrieval.
package chunker

import (
	"fmt"
	"regexp"
	"strings"

	"support-chatbot/internal/models"
)

// Separator is a line of four or more asterisks, with optional
// surrounding whitespace.
var separatorPattern = regexp.MustCompile(`\n[ \t]*\*{4,}[ \t]*\n`)

const (
	previewMaxLen   = 100
	keywordMaxWords = 20
	defaultSection  = "Introduction"
)

// Validation reports whether a document can be chunked.
type Validation struct {
	Valid          bool
	SeparatorCount int
	ExpectedChunks int
	Message        string
}

// Split cuts text at separator lines, trims each piece and drops empty
// ones. Returns nil when the text contains no separators.
func Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	parts := separatorPattern.Split(text, -1)
	if len(parts) < 2 {
		// no separator matched
		return nil
	}
	chunks := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			chunks = append(chunks, t)
		}
	}
	return chunks
}

// Validate checks that a document carries separator lines before it is
// accepted for indexing.
func Validate(text string) Validation {
	if strings.TrimSpace(text) == "" {
		return Validation{Message: "Empty document"}
	}
	count := len(separatorPattern.FindAllString(text, -1))
	if count == 0 {
		return Validation{Message: "No separator patterns (****+) found in document"}
	}
	return Validation{
		Valid:          true,
		SeparatorCount: count,
		ExpectedChunks: count + 1,
		Message:        fmt.Sprintf("Document valid: %d separators, %d expected chunks", count, count+1),
	}
}

// ExtractMetadata derives the stored payload for one chunk: a capped
// first-line preview, size counters and a leading-words keyword sample.
func ExtractMetadata(chunk, documentName, sectionTitle string, index int) models.ChunkMetadata {
	firstLine := chunk
	if i := strings.IndexByte(chunk, '\n'); i >= 0 {
		firstLine = chunk[:i]
	}
	firstLine = strings.TrimSpace(firstLine)

	preview := firstLine
	if runes := []rune(firstLine); len(runes) > previewMaxLen {
		preview = string(runes[:previewMaxLen]) + "..."
	}

	words := strings.Fields(chunk)
	sample := words
	if len(words) > keywordMaxWords {
		sample = words[:keywordMaxWords]
	}

	return models.ChunkMetadata{
		Document:    documentName,
		Section:     sectionTitle,
		ChunkIndex:  index,
		Preview:     preview,
		ChunkLength: len(chunk),
		WordCount:   len(words),
		Keywords:    strings.Join(sample, " "),
		SourceFile:  documentName,
	}
}

// Section is a heading-delimited region of a document.
type Section struct {
	Title   string
	Content string
}

// ExtractSections splits a document on markdown heading lines. Content
// before the first heading falls under a default "Introduction" title.
func ExtractSections(text string) []Section {
	var sections []Section
	current := Section{Title: defaultSection}
	var body strings.Builder

	flush := func() {
		if strings.TrimSpace(body.String()) != "" {
			current.Content = body.String()
			sections = append(sections, current)
		}
		body.Reset()
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			flush()
			current = Section{Title: strings.TrimSpace(strings.TrimLeft(trimmed, "#"))}
			continue
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}
	flush()
	return sections
}
