package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/yungbote/planforge-backend/internal/agents"
	"github.com/yungbote/planforge-backend/internal/data/db"
	"github.com/yungbote/planforge-backend/internal/data/repos"
	apphttp "github.com/yungbote/planforge-backend/internal/http"
	httpH "github.com/yungbote/planforge-backend/internal/http/handlers"
	"github.com/yungbote/planforge-backend/internal/ingestion/pipeline"
	jobH "github.com/yungbote/planforge-backend/internal/jobs/handlers"
	"github.com/yungbote/planforge-backend/internal/jobs/runtime"
	"github.com/yungbote/planforge-backend/internal/jobs/worker"
	"github.com/yungbote/planforge-backend/internal/orchestrator"
	"github.com/yungbote/planforge-backend/internal/platform/embedding"
	"github.com/yungbote/planforge-backend/internal/platform/envutil"
	"github.com/yungbote/planforge-backend/internal/platform/llm"
	"github.com/yungbote/planforge-backend/internal/platform/logger"
	"github.com/yungbote/planforge-backend/internal/platform/qdrant"
	"github.com/yungbote/planforge-backend/internal/rag/chunker"
	"github.com/yungbote/planforge-backend/internal/rag/retriever"
	"github.com/yungbote/planforge-backend/internal/realtime/bus"
)

func main() {
	_ = godotenv.Load()

	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up repos from main...")
	taskRepo := repos.NewTaskRepo(thePG, log)
	jobRunRepo := repos.NewJobRunRepo(thePG, log)
	uploadedFileRepo := repos.NewUploadedFileRepo(thePG, log)
	agentLogRepo := repos.NewAgentLogRepo(thePG, log)

	// Vector store + embeddings
	log.Info("Setting up vector store from main...")
	qdrantCfg, err := qdrant.ResolveConfigFromEnv()
	if err != nil {
		log.Error("Could not resolve qdrant config", "error", err)
		os.Exit(1)
	}
	vectorStore, err := qdrant.NewVectorStore(log, qdrantCfg)
	if err != nil {
		log.Error("Could not init vector store", "error", err)
		os.Exit(1)
	}
	embedClient, err := embedding.NewClient(log, embedding.ResolveConfigFromEnv())
	if err != nil {
		log.Error("Could not init embedding client", "error", err)
		os.Exit(1)
	}

	// RAG
	log.Info("Setting up retrieval from main...")
	splitter, err := chunker.New(envutil.Int("CHUNK_SIZE", 1000), envutil.Int("CHUNK_OVERLAP", 200))
	if err != nil {
		log.Error("Could not init chunker", "error", err)
		os.Exit(1)
	}
	search := retriever.New(log, embedClient, vectorStore)
	ingestCfg := pipeline.ResolveConfigFromEnv()
	ingest := pipeline.New(log, ingestCfg, uploadedFileRepo, splitter, embedClient, vectorStore)

	// Agents
	log.Info("Setting up agents from main...")
	llmFactory := llm.NewFactory(log)
	researcher, err := agents.NewResearcher(log, llmFactory, agentLogRepo, search)
	if err != nil {
		log.Error("Could not init researcher agent", "error", err)
		os.Exit(1)
	}
	planner, err := agents.NewPlanner(log, llmFactory, agentLogRepo)
	if err != nil {
		log.Error("Could not init planner agent", "error", err)
		os.Exit(1)
	}
	reviewer, err := agents.NewReviewer(log, llmFactory, agentLogRepo)
	if err != nil {
		log.Error("Could not init reviewer agent", "error", err)
		os.Exit(1)
	}
	taskPipeline := orchestrator.New(log, taskRepo, jobRunRepo, researcher, planner, reviewer)

	// Jobs
	log.Info("Setting up job worker from main...")
	publisher := bus.NewFromEnv(log)
	defer publisher.Close()
	registry := runtime.NewRegistry()
	for _, h := range []runtime.Handler{
		jobH.NewTaskRun(log, taskPipeline),
		jobH.NewTaskModify(log, taskPipeline),
		jobH.NewFileIngest(log, ingest),
	} {
		if err := registry.Register(h); err != nil {
			log.Error("Could not register job handler", "error", err)
			os.Exit(1)
		}
	}
	jobWorker := worker.New(log, jobRunRepo, registry, publisher)
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	jobWorker.Start(workerCtx)

	// HTTP
	log.Info("Setting up router from main...")
	server := apphttp.NewServer(log, apphttp.RouterConfig{
		TaskHandler:   httpH.NewTaskHandler(log, taskPipeline, agentLogRepo),
		FileHandler:   httpH.NewFileHandler(log, ingestCfg, uploadedFileRepo, jobRunRepo, vectorStore),
		SearchHandler: httpH.NewSearchHandler(log, search),
		HealthHandler: httpH.NewHealthHandler(thePG),
	}, ":"+envutil.Str("PORT", "8080"))

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info("Shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			log.Error("Server failed", "error", err)
		}
	}

	stopWorker()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("Server shutdown failed", "error", err)
	}
}
