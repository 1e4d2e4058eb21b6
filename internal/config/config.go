package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LLMConfig points one model role at an OpenAI-compatible endpoint.
type LLMConfig struct {
	BaseURL string `yaml:"base_url"`
	Key     string `yaml:"key"`
	Model   string `yaml:"model"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	Debug    bool   `yaml:"debug"`
}

type RAGConfig struct {
	DocsDir        string `yaml:"docs_dir"`
	DBPath         string `yaml:"db_path"`
	Collection     string `yaml:"collection"`
	TopK           int    `yaml:"top_k"`
	AttachmentTopK int    `yaml:"attachment_top_k"`
	HistoryWindow  int    `yaml:"history_window"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

type UploadsConfig struct {
	Dir string `yaml:"dir"`
}

type Config struct {
	Server    ServerConfig   `yaml:"server"`
	Database  DatabaseConfig `yaml:"database"`
	EmbedLLM  LLMConfig      `yaml:"embed_llm"`
	ChatLLM   LLMConfig      `yaml:"chat_llm"`
	VisionLLM LLMConfig      `yaml:"vision_llm"`
	RAG       RAGConfig      `yaml:"rag"`
	Uploads   UploadsConfig  `yaml:"uploads"`
}

// LoadConfig reads the YAML config and overlays secrets from the
// environment. A .env file is honored when present so secrets never
// have to live in the YAML file.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overlayEnv(&cfg.EmbedLLM.Key, "EMBED_LLM_KEY")
	overlayEnv(&cfg.ChatLLM.Key, "CHAT_LLM_KEY")
	overlayEnv(&cfg.VisionLLM.Key, "VISION_LLM_KEY")
	overlayEnv(&cfg.Database.Password, "DATABASE_PASSWORD")

	applyDefaults(&cfg)
	return &cfg, nil
}

func overlayEnv(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.RAG.DocsDir == "" {
		cfg.RAG.DocsDir = "docs"
	}
	if cfg.RAG.DBPath == "" {
		cfg.RAG.DBPath = "./chromemdb"
	}
	if cfg.RAG.Collection == "" {
		cfg.RAG.Collection = "support_docs"
	}
	if cfg.RAG.TopK <= 0 {
		cfg.RAG.TopK = 3
	}
	if cfg.RAG.AttachmentTopK <= 0 {
		cfg.RAG.AttachmentTopK = 5
	}
	if cfg.RAG.HistoryWindow <= 0 {
		cfg.RAG.HistoryWindow = 5
	}
	if cfg.Uploads.Dir == "" {
		cfg.Uploads.Dir = "uploads"
	}
}
