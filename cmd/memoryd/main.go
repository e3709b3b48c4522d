// memoryd is the edge inference memory gateway: a raw-TCP HTTP server that
// drives a local model runtime over screenshots, routes between local and
// cloud inference under a privacy veto, and answers RAG queries over the
// accumulated memory store.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/lyca499/cactus-app-1/internal/config"
	"github.com/lyca499/cactus-app-1/internal/logger"
	"github.com/lyca499/cactus-app-1/internal/metrics"
	memoryrepo "github.com/lyca499/cactus-app-1/internal/repository/memory"
	"github.com/lyca499/cactus-app-1/internal/transport/admin"
	"github.com/lyca499/cactus-app-1/internal/transport/gateway"
	modelTransport "github.com/lyca499/cactus-app-1/internal/transport/openai"
	routinguc "github.com/lyca499/cactus-app-1/internal/usecase/routing"
	"github.com/lyca499/cactus-app-1/internal/version"
)

func main() {
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log, err := logger.New(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = log.Sync() }()

	log.Info("Starting memory gateway",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("memory_driver", cfg.Memory.Driver),
		zap.String("model_base_url", cfg.Model.BaseURL),
	)

	metrics.Register()

	// Local model runtime client, the single shared inference handle.
	model := modelTransport.NewLocalModel(modelTransport.LocalModelConfig{
		BaseURL:         cfg.Model.BaseURL,
		APIKey:          cfg.Model.APIKey,
		CompletionModel: cfg.Model.CompletionName,
		VisionModel:     cfg.Model.VisionName,
		EmbeddingModel:  cfg.Model.EmbeddingName,
		EmbeddingDims:   cfg.Model.EmbeddingDims,
		Timeout:         time.Duration(cfg.Model.TimeoutSec) * time.Second,
		Logger:          log,
	})

	cloud := modelTransport.NewCloudService(modelTransport.CloudConfig{
		APIKey:  cfg.Cloud.APIKey,
		BaseURL: cfg.Cloud.BaseURL,
		Model:   cfg.Cloud.Model,
		Timeout: time.Duration(cfg.Cloud.TimeoutSec) * time.Second,
		Logger:  log,
	})
	if cfg.Cloud.APIKey == "" {
		log.Warn("cloud API key not configured; low-confidence requests will stay local")
	}

	routing := routinguc.New(model, cloud, routinguc.Config{
		ConfidenceThreshold: cfg.Routing.ConfidenceThreshold,
		PrivacyThreshold:    cfg.Routing.PrivacyThreshold,
	}, log)

	// Memory store driver
	var store gateway.MemoryStore
	var pinger admin.Pinger
	switch cfg.Memory.Driver {
	case "redis":
		redisStore, storeErr := memoryrepo.NewRedisStore(memoryrepo.RedisConfig{
			Addrs:     cfg.Memory.Addrs,
			Password:  cfg.Memory.Password,
			KeyPrefix: cfg.Memory.KeyPrefix,
		})
		if storeErr != nil {
			log.Fatal("Failed to create redis memory store", zap.Error(storeErr))
		}
		defer redisStore.Close()
		if pingErr := redisStore.Ping(context.Background()); pingErr != nil {
			log.Fatal("Redis memory store not reachable", zap.Error(pingErr))
		}
		store = redisStore
		pinger = redisStore
	default:
		store = memoryrepo.NewInMemoryStore()
	}

	handlers := gateway.NewHandlers(routing, store, gateway.HandlersConfig{
		MinSimilarity: cfg.Memory.MinSimilarity,
		BatchWorkers:  cfg.Batch.Workers,
	})

	router := gateway.NewRouter()
	handlers.Register(router)

	server := gateway.NewServer(router, log, gateway.ServerConfig{
		ReadTimeout:     time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		HandlerTimeout:  time.Duration(cfg.HTTP.HandlerTimeout) * time.Second,
		MaxRequestBytes: cfg.HTTP.MaxRequestBytes,
	})

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Bind, cfg.HTTP.Port)
	go func() {
		log.Info("Gateway listening", zap.String("addr", addr))
		if serveErr := server.ListenAndServe(addr); serveErr != nil {
			log.Fatal("Gateway server error", zap.Error(serveErr))
		}
	}()

	var adminSrv *admin.Server
	if cfg.Admin.Port > 0 {
		adminSrv = admin.New(cfg.Admin.Port, pinger, log)
		go func() {
			log.Info("Admin server listening", zap.Int("port", cfg.Admin.Port))
			if adminErr := adminSrv.ListenAndServe(); adminErr != nil && adminErr != http.ErrServerClosed {
				log.Fatal("Admin server error", zap.Error(adminErr))
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := server.Close(); err != nil {
		log.Error("Error closing gateway", zap.Error(err))
	}
	if adminSrv != nil {
		if err := adminSrv.Shutdown(shutdownCtx); err != nil {
			log.Error("Error during admin shutdown", zap.Error(err))
		}
	}

	log.Info("Server stopped gracefully")
}
