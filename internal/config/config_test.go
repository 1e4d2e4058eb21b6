package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9090"
database:
  url: "postgres://localhost:5432/chatbot"
chat_llm:
  base_url: "http://localhost:11434/v1"
  key: "from-yaml"
  model: "llama3"
rag:
  docs_dir: "testdocs"
  top_k: 4
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("port = %q", cfg.Server.Port)
	}
	if cfg.ChatLLM.Model != "llama3" {
		t.Errorf("model = %q", cfg.ChatLLM.Model)
	}
	if cfg.RAG.DocsDir != "testdocs" || cfg.RAG.TopK != 4 {
		t.Errorf("rag = %+v", cfg.RAG)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "server: {}\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != "8080" {
		t.Errorf("port = %q", cfg.Server.Port)
	}
	if cfg.RAG.TopK != 3 || cfg.RAG.AttachmentTopK != 5 || cfg.RAG.HistoryWindow != 5 {
		t.Errorf("rag defaults = %+v", cfg.RAG)
	}
	if cfg.RAG.Collection != "support_docs" || cfg.RAG.DBPath != "./chromemdb" {
		t.Errorf("rag defaults = %+v", cfg.RAG)
	}
	if cfg.Uploads.Dir != "uploads" {
		t.Errorf("uploads dir = %q", cfg.Uploads.Dir)
	}
}

func TestLoadConfigEnvOverlay(t *testing.T) {
	t.Setenv("CHAT_LLM_KEY", "from-env")
	t.Setenv("DATABASE_PASSWORD", "secret")

	cfg, err := LoadConfig(writeConfig(t, `
chat_llm:
  key: "from-yaml"
database:
  password: "yaml-password"
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ChatLLM.Key != "from-env" {
		t.Errorf("key = %q, env must win", cfg.ChatLLM.Key)
	}
	if cfg.Database.Password != "secret" {
		t.Errorf("password = %q", cfg.Database.Password)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error")
	}
}
