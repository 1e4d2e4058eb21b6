package models

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Attachment is a tagged variant over the two ways an upload reaches the
// orchestrator: a path on local disk, or raw bytes with a filename. It
// is resolved once at the orchestrator boundary; downstream code never
// type-sniffs.
type Attachment struct {
	path string
	data []byte
	name string
}

// AttachmentFromPath wraps a file already on local disk.
func AttachmentFromPath(path string) Attachment {
	return Attachment{path: path, name: filepath.Base(path)}
}

// AttachmentFromBytes wraps in-memory upload content.
func AttachmentFromBytes(data []byte, name string) Attachment {
	return Attachment{data: data, name: name}
}

// Name returns the original filename.
func (a Attachment) Name() string { return a.name }

// Ext returns the lower-cased filename extension, including the dot.
func (a Attachment) Ext() string {
	return strings.ToLower(filepath.Ext(a.name))
}

// Path returns the local path, or empty for in-memory attachments.
func (a Attachment) Path() string { return a.path }

// Read returns the attachment content regardless of variant.
func (a Attachment) Read() ([]byte, error) {
	if a.data != nil {
		return a.data, nil
	}
	b, err := os.ReadFile(a.path)
	if err != nil {
		return nil, fmt.Errorf("reading attachment %s: %w", a.name, err)
	}
	return b, nil
}
