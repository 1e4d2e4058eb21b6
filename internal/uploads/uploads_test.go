package uploads

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"support-chatbot/internal/models"
)

func TestSaveWritesFileWithMetadata(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "uploads"))

	att := models.AttachmentFromBytes([]byte("png-bytes"), "screenshot.PNG")
	meta, err := store.Save(att)
	if err != nil {
		t.Fatal(err)
	}

	if meta.Kind != "image" {
		t.Errorf("kind = %q, want image", meta.Kind)
	}
	if meta.OriginalName != "screenshot.PNG" {
		t.Errorf("original name = %q", meta.OriginalName)
	}
	if !strings.HasSuffix(meta.Path, ".png") {
		t.Errorf("stored path must keep the lower-cased extension: %q", meta.Path)
	}

	data, err := os.ReadFile(meta.Path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "png-bytes" {
		t.Errorf("stored content = %q", data)
	}
}

func TestSaveNamesAreDistinct(t *testing.T) {
	store := NewStore(t.TempDir())
	att := models.AttachmentFromBytes([]byte("x"), "same.pdf")

	a, err := store.Save(att)
	if err != nil {
		t.Fatal(err)
	}
	b, err := store.Save(att)
	if err != nil {
		t.Fatal(err)
	}
	if a.Path == b.Path {
		t.Errorf("two saves of the same name collided: %q", a.Path)
	}
	if a.Kind != "file" {
		t.Errorf("pdf kind = %q, want file", a.Kind)
	}
}

func TestSaveAllSkipsUnreadable(t *testing.T) {
	store := NewStore(t.TempDir())
	atts := []models.Attachment{
		models.AttachmentFromBytes([]byte("ok"), "good.png"),
		models.AttachmentFromPath(filepath.Join(t.TempDir(), "missing.png")),
	}

	metas := store.SaveAll(atts)
	if len(metas) != 1 {
		t.Fatalf("got %d metas, want 1", len(metas))
	}
	if metas[0].OriginalName != "good.png" {
		t.Errorf("kept meta = %+v", metas[0])
	}
}
