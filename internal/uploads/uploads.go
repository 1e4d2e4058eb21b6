// Package uploads copies attachments into durable storage. Files are
// copied only once a turn has completed, so failed turns never leave
// orphaned copies at the final location.
package uploads

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"support-chatbot/internal/models"
)

type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Save writes one attachment under a collision-resistant name and
// returns its durable metadata. The original upload path is not valid
// after the turn completes; only the returned path may be referenced.
func (s *Store) Save(att models.Attachment) (models.AttachmentMeta, error) {
	data, err := att.Read()
	if err != nil {
		return models.AttachmentMeta{}, err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return models.AttachmentMeta{}, fmt.Errorf("creating uploads dir: %w", err)
	}

	ext := att.Ext()
	name := fmt.Sprintf("%s_%s%s",
		time.Now().Format("20060102_150405"),
		strings.ReplaceAll(uuid.NewString(), "-", ""),
		ext,
	)
	dest := filepath.Join(s.dir, name)
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return models.AttachmentMeta{}, fmt.Errorf("writing attachment %s: %w", att.Name(), err)
	}

	kind := "file"
	if models.SupportedImageExts[ext] {
		kind = "image"
	}
	log.Debug().Str("original", att.Name()).Str("stored", dest).Msg("Saved attachment")
	return models.AttachmentMeta{Kind: kind, Path: dest, OriginalName: att.Name()}, nil
}

// SaveAll copies every attachment, skipping (with a log line) any that
// can no longer be read.
func (s *Store) SaveAll(atts []models.Attachment) []models.AttachmentMeta {
	metas := make([]models.AttachmentMeta, 0, len(atts))
	for _, att := range atts {
		meta, err := s.Save(att)
		if err != nil {
			log.Warn().Err(err).Str("file", att.Name()).Msg("Failed to copy attachment")
			continue
		}
		metas = append(metas, meta)
	}
	return metas
}
