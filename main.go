package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"agentrag/internal/api"
	"agentrag/internal/auth"
	"agentrag/internal/config"
	"agentrag/internal/embedding"
	"agentrag/internal/indexer"
	"agentrag/internal/keyword"
	"agentrag/internal/logging"
	"agentrag/internal/redis"
	"agentrag/internal/service/ai"
	"agentrag/internal/service/llm"
	"agentrag/internal/service/rag"
	"agentrag/internal/storage"
	"agentrag/internal/vector"
	"agentrag/internal/worker"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("load .env: %v", err)
	}

	cfg, err := config.Load(os.Getenv("AGENTRAG_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.New(cfg.BasicConfig.Debug)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	if len(os.Args) > 2 && os.Args[1] == "issue-key" {
		if err := issueKey(cfg, os.Args[2]); err != nil {
			logger.Fatal("issue key", zap.Error(err))
		}
		return
	}

	if err := serve(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func databaseType(cfg *config.Config) string {
	if cfg.VectorStore.Driver != "" {
		return cfg.VectorStore.Driver
	}
	if dbType := os.Getenv("AGENTRAG_DB"); dbType != "" {
		return dbType
	}
	return "sqlite3"
}

func openDatabase(cfg *config.Config) (*sql.DB, string, error) {
	dbType := databaseType(cfg)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		return nil, "", fmt.Errorf("open database: %w", err)
	}
	// Create necessary tables: passages, api_keys
	if err := storage.Migrate(db, dbType); err != nil {
		db.Close()
		return nil, "", fmt.Errorf("migrate database: %w", err)
	}
	return db, dbType, nil
}

func issueKey(cfg *config.Config, clientID string) error {
	db, _, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	key, err := auth.NewService(db, nil, 0, nil).IssueKey(context.Background(), clientID)
	if err != nil {
		return err
	}
	fmt.Println(key)
	return nil
}

func serve(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var db *sql.DB
	if cfg.VectorStore.Type == "sql" || cfg.Auth.Enabled {
		var dbType string
		var err error
		db, dbType, err = openDatabase(cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		logger.Info("database ready", zap.String("driver", dbType))
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		var err error
		rdb, err = redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("create redis client: %w", err)
		}
		defer rdb.Close()
	}

	embedder, err := embedding.New(ctx, cfg.Embedding)
	if err != nil {
		return fmt.Errorf("init embedder: %w", err)
	}

	var store vector.Store = vector.NewMemoryStore()
	if cfg.VectorStore.Type == "sql" {
		store = vector.NewSQLStore(db)
	}
	defer store.Close()

	kw, err := keyword.NewBleveIndex("")
	if err != nil {
		return fmt.Errorf("init keyword index: %w", err)
	}
	defer kw.Close()

	builder := &rag.ToolBuilder{
		Embedder:    embedder,
		Retriever:   store,
		Keyword:     kw,
		Extra:       ai.InitTools(ctx, cfg.Tools, logger),
		DefaultTopK: cfg.Rag.TopK,
	}
	llmService := llm.NewService(cfg.Providers, llm.NewChatModel, logger)
	orchestrator := rag.NewOrchestrator(llmService, builder, rag.OptionsFromConfig(cfg.Rag), logger)

	var taskStore worker.TaskStore = worker.NewMemoryTaskStore()
	if rdb != nil {
		taskStore = worker.NewRedisTaskStore(rdb)
	}
	manager := worker.NewManager(orchestrator, taskStore, worker.Options{
		MinWorkers:  cfg.BasicConfig.MinWorkers,
		MaxWorkers:  cfg.BasicConfig.MaxWorkers,
		QueueSize:   cfg.BasicConfig.QueueSize,
		IdleTimeout: time.Duration(cfg.BasicConfig.WorkerIdleTimeout) * time.Second,
		TaskTTL:     time.Duration(cfg.BasicConfig.TaskTTL) * time.Minute,
	}, logger)
	defer manager.Close()

	var authService *auth.Service
	if cfg.Auth.Enabled {
		authService = auth.NewService(db, rdb, time.Duration(cfg.Auth.KeyTTL)*time.Minute, logger)
	}

	handlers := api.NewHandler(orchestrator, manager, indexer.NewIndexer(embedder, store, kw, logger), llmService, authService, logger)
	if !cfg.BasicConfig.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	handlers.RegisterRoutes(router)

	srv := &http.Server{Addr: cfg.BasicConfig.ServerAddress, Handler: router}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}
