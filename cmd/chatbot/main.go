package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"support-chatbot/internal/chunker"
	"support-chatbot/internal/chromemdb"
	"support-chatbot/internal/config"
	"support-chatbot/internal/db"
	"support-chatbot/internal/embedding"
	"support-chatbot/internal/helper"
	"support-chatbot/internal/llm"
	"support-chatbot/internal/models"
	"support-chatbot/internal/orchestrator"
	"support-chatbot/internal/parser"
	"support-chatbot/internal/retriever"
	"support-chatbot/internal/server"
	"support-chatbot/internal/session"
	"support-chatbot/internal/uploads"
	"support-chatbot/internal/vision"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Caller().Logger()

	configPath := flag.String("config", "./configs/config.yaml", "Path to the config file")
	reindex := flag.Bool("reindex", false, "Rebuild the vector index from the docs folder and exit")
	validateFile := flag.String("validate", "", "Validate a document's separator format and exit")
	query := flag.String("query", "", "Run a one-shot retrieval for the query and exit")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}

	if *validateFile != "" {
		validateDocument(*validateFile)
		return
	}

	embedder, err := embedding.NewEmbedder(&cfg.EmbedLLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing embedder")
	}

	index, err := chromemdb.NewStore(cfg.RAG.DBPath, cfg.RAG.Collection, false)
	if err != nil {
		log.Fatal().Err(err).Msg("Error opening vector database")
	}

	engine := retriever.NewEngine(embedder, index, &cfg.RAG)
	ctx := context.Background()

	if *reindex {
		report, err := engine.LoadDocuments(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Error rebuilding index")
		}
		log.Info().
			Int("files", report.Files).
			Int("chunks", report.Chunks).
			Strs("skipped", report.Skipped).
			Msg("Index rebuilt")
		return
	}

	if err := engine.Initialize(ctx); err != nil {
		log.Fatal().Err(err).Msg("Error initializing retriever")
	}

	if *query != "" {
		runQuery(ctx, engine, cfg.RAG.TopK, *query)
		return
	}

	repo, err := db.Connect(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Error connecting to database")
	}
	defer repo.Close()
	if err := repo.Init(ctx); err != nil {
		log.Fatal().Err(err).Msg("Error initializing database")
	}

	generator, err := llm.NewClient(&cfg.ChatLLM, cfg.RAG.HistoryWindow)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing chat model")
	}
	extractor, err := vision.NewExtractor(&cfg.VisionLLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing vision model")
	}

	sessions := session.NewManager(repo)
	uploadStore := uploads.NewStore(cfg.Uploads.Dir)

	firstPage := func(att models.Attachment) (string, error) {
		if att.Path() != "" {
			return parser.FirstPageText(att.Path())
		}
		data, err := att.Read()
		if err != nil {
			return "", err
		}
		return parser.FirstPageTextFromBytes(data)
	}

	var ext orchestrator.Extractor
	if extractor != nil {
		ext = extractor
	}
	orch := orchestrator.New(engine, generator, ext, repo, uploadStore, firstPage, &cfg.RAG)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      server.New(orch, sessions).Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Forced shutdown")
	}
}

func validateDocument(path string) {
	content, err := parser.LoadText(path)
	if err != nil {
		log.Fatal().Err(err).Msg("Error reading document")
	}
	if _, err := parser.NormalizeMarkdown(content); err != nil {
		log.Warn().Err(err).Msg("Document does not render cleanly as markdown")
	}
	validation := chunker.Validate(content)
	helper.PrettyPrint(validation)
	if !validation.Valid {
		os.Exit(1)
	}
}

func runQuery(ctx context.Context, engine *retriever.Engine, topK int, query string) {
	results, err := engine.Retrieve(ctx, query, topK)
	if err != nil {
		log.Fatal().Err(err).Msg("Error querying")
	}
	log.Info().Int("chunks", len(results.Documents)).Msg("Retrieved")
	fmt.Printf("%s\n", engine.FormatContext(results))
}
