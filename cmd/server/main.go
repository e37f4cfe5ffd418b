package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/aesop-rag/aesop/internal/cache"
	"github.com/aesop-rag/aesop/internal/config"
	"github.com/aesop-rag/aesop/internal/handler"
	"github.com/aesop-rag/aesop/internal/llmclient"
	"github.com/aesop-rag/aesop/internal/middleware"
	"github.com/aesop-rag/aesop/internal/pubmedclient"
	"github.com/aesop-rag/aesop/internal/repository"
	"github.com/aesop-rag/aesop/internal/router"
	"github.com/aesop-rag/aesop/internal/service"
	"github.com/aesop-rag/aesop/internal/sessionstore"
)

const Version = "0.1.0"

func getPort() string {
	if port := os.Getenv("PORT"); port != "" {
		return port
	}
	return "8080"
}

// buildSessionStore uses Redis when REDIS_URL is set, falling back to an
// in-process store for local development.
func buildSessionStore(cfg *config.Config) sessionstore.Store {
	ttl := time.Duration(cfg.SessionTTL) * time.Second
	if cfg.RedisURL == "" {
		slog.Warn("REDIS_URL not set, using in-memory session store")
		return sessionstore.NewMemory(ttl)
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL, falling back to in-memory session store", "error", err)
		return sessionstore.NewMemory(ttl)
	}
	return sessionstore.NewRedis(redis.NewClient(opts), ttl)
}

func criticThresholds(cfg *config.Config) service.CriticThresholds {
	return service.CriticThresholds{
		MinRelevanceToKeep:         cfg.MinRelevanceToKeep,
		MinMethodologyToKeep:       cfg.MinMethodologyToKeep,
		MinAvgQualityForSufficient: cfg.MinAvgQualityForSufficient,
		MinConfidenceFloor:         cfg.MinConfidenceFloor,
		ConfidenceDecayRate:        cfg.ConfidenceDecayRate,
		MaxDiscardRatio:            cfg.MaxDiscardRatio,
		MaxMemoryBoost:             cfg.MaxMemoryBoost,
		DecayLambda:                cfg.DecayLambda,
		MaxCRAGIterations:          cfg.MaxCRAGIterations,
		InterCallDelay:             time.Duration(cfg.CriticInterCallDelayMillis) * time.Millisecond,
		MinAcceptanceQuality:       cfg.CriticMinAcceptanceQuality,
	}
}

func newRouter(ctx context.Context, cfg *config.Config) (*chi.Mux, func(), error) {
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
	if err != nil {
		return nil, nil, fmt.Errorf("newRouter: %w", err)
	}

	genaiClient, err := llmclient.NewGenAIAdapter(ctx, cfg.GCPProject, cfg.VertexAILocation, cfg.VertexAIModel)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("newRouter: genai adapter: %w", err)
	}

	embeddingAdapter, err := llmclient.NewEmbeddingAdapter(ctx, cfg.GCPProject, cfg.EmbeddingLocation, cfg.EmbeddingModel)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("newRouter: embedding adapter: %w", err)
	}
	embeddingCache := cache.NewEmbeddingCache(time.Duration(cfg.EmbeddingCacheTTL) * time.Second)
	embedder := llmclient.NewCachedEmbedder(embeddingAdapter, embeddingCache)

	pubmed := pubmedclient.New(
		pubmedclient.WithBaseURL(cfg.PubMedBaseURL),
		pubmedclient.WithAPIKey(cfg.PubMedAPIKey),
		pubmedclient.WithTool(cfg.PubMedTool),
		pubmedclient.WithEmail(cfg.PubMedEmail),
	)

	memory := repository.NewAcceptanceMemory(pool, cfg.MemorySimilarityFloor)
	sessions := buildSessionStore(cfg)

	intent := service.NewIntentClassifier(genaiClient)
	rt := service.NewRouter()
	scout := service.NewScout(genaiClient, pubmed)
	critic := service.NewCritic(genaiClient, embedder, memory, criticThresholds(cfg))
	synth := service.NewSynthesizer(genaiClient)
	ctxQA := service.NewContextQA(genaiClient)
	chatUtil := service.NewChatUtility(genaiClient)
	orch := service.NewOrchestrator(intent, rt, scout, critic, synth, ctxQA, chatUtil, sessions, embedder, cfg.MaxCRAGIterations)

	reg := prometheus.NewRegistry()
	metrics := middleware.NewMetrics(reg)

	var chatRateLimiter *middleware.RateLimiter
	if cfg.Environment != "development" {
		chatRateLimiter = middleware.NewRateLimiter(middleware.RateLimiterConfig{
			MaxRequests: 20,
			Window:      time.Minute,
		})
	}

	deps := &router.Dependencies{
		DB:          pool,
		Version:     Version,
		FrontendURL: cfg.FrontendURL,
		Metrics:     metrics,
		MetricsReg:  reg,

		Orchestrator: orch,
		Sessions:     sessions,

		AdminMigrateDeps: handler.AdminMigrateDeps{
			RunSQL: func(ctx context.Context, sql string) error {
				_, err := pool.Exec(ctx, sql)
				return err
			},
		},
		InternalAuthSecret: os.Getenv("INTERNAL_AUTH_SECRET"),
		ChatRateLimiter:    chatRateLimiter,
	}

	cleanup := func() {
		embeddingCache.Stop()
		if mem, ok := sessions.(*sessionstore.Memory); ok {
			mem.Stop()
		}
		if chatRateLimiter != nil {
			chatRateLimiter.Stop()
		}
		pool.Close()
	}

	return router.New(deps), cleanup, nil
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	mux, cleanup, err := newRouter(ctx, cfg)
	cancel()
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	defer cleanup()

	port := getPort()
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("aesop starting", "version", Version, "port", port, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received signal, shutting down gracefully", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
