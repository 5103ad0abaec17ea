package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"gemchat/internal/api"
	"gemchat/internal/config"
	"gemchat/internal/service/ai"
	"gemchat/internal/service/assistant"
	"gemchat/internal/service/files"
	"gemchat/internal/storage"
	"gemchat/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(os.Getenv("GEMCHAT_CONFIG"))
	if err != nil {
		log.Fatal("load config", "err", err)
	}
	if cfg.BasicConfig.LogLevel != "" {
		level, err := log.ParseLevel(cfg.BasicConfig.LogLevel)
		if err != nil {
			log.Warn("unknown log level, keeping info", "level", cfg.BasicConfig.LogLevel)
		} else {
			log.SetLevel(level)
		}
	}

	store, err := storage.New(ctx, cfg)
	if err != nil {
		log.Fatal("open chat store", "backend", cfg.BasicConfig.StoreBackend, "err", err)
	}
	defer store.Close()

	gateway, err := ai.NewGateway(ctx, cfg)
	if err != nil {
		log.Fatal("init ai gateway", "provider", cfg.BasicConfig.Provider, "err", err)
	}
	normalizer, err := files.NewNormalizer(ctx, cfg.BasicConfig.MaxUploadBytes)
	if err != nil {
		log.Fatal("init file normalizer", "err", err)
	}

	workers := worker.NewManager(worker.DispatcherConfig{
		MinWorkers:        cfg.BasicConfig.MinWorkers,
		MaxWorkers:        cfg.BasicConfig.MaxWorkers,
		QueueSize:         cfg.BasicConfig.QueueSize,
		WorkerIdleTimeout: time.Duration(cfg.BasicConfig.WorkerIdleTimeout) * time.Minute,
	})
	defer workers.Stop()

	assistantService := assistant.NewService(store, gateway, assistant.Options{
		Runner:          workers,
		DisableRecovery: cfg.BasicConfig.DisableChatRecovery,
		AITimeout:       time.Duration(cfg.BasicConfig.AITimeoutSeconds) * time.Second,
	})
	assistantService.StartIdleChatSweeper(ctx,
		time.Duration(cfg.BasicConfig.ChatIdleTTL)*time.Minute,
		time.Duration(cfg.BasicConfig.ChatSweepInterval)*time.Minute,
	)

	router := gin.Default()
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{cfg.BasicConfig.AllowedOrigin},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	api.NewHandler(assistantService, normalizer).RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.BasicConfig.ServerAddress,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	log.Info("gemchat listening", "addr", srv.Addr, "provider", cfg.BasicConfig.Provider, "store", cfg.BasicConfig.StoreBackend)
	if err := runServer(ctx, srv); err != nil {
		log.Error("server stopped", "err", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
