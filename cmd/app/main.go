package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vgpt/internal/audit"
	"vgpt/internal/bootstrap"
	"vgpt/internal/config"
	"vgpt/internal/dialog"
	"vgpt/internal/dnsserver"
	"vgpt/internal/httpserver"
	"vgpt/internal/llm"
	"vgpt/internal/middleware"
	"vgpt/internal/modelcache"
	"vgpt/internal/transport"
	"log/slog"
)

// backend то, что main требует от любого бэкенда модели.
type backend interface {
	llm.Provider
	llm.Puller
	Ping(ctx context.Context) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cache *modelcache.Cache
	provider, err := newBackend(cfg, func(name string) string { return cache.TokenizerPath(name) }, logger)
	if err != nil {
		log.Fatalf("failed to init model backend: %v", err)
	}
	cache = modelcache.New(cfg.Model.AssetsDir, provider, logger)

	if err := cache.Prepare(); err != nil {
		log.Fatalf("failed to prepare assets dir: %v", err)
	}
	if err := provider.Ping(ctx); err != nil {
		log.Fatalf("model backend unavailable: %v", err)
	}
	if !cache.Exists(cfg.Model.Name) {
		logger.Info("model not cached, downloading", slog.String("model", cfg.Model.Name))
	}
	manifest, err := cache.Ensure(ctx, cfg.Model.Name)
	if err != nil {
		log.Fatalf("failed to download model: %v", err)
	}
	logger.Info("model ready",
		slog.String("model", manifest.Name),
		slog.String("backend", manifest.Backend),
		slog.String("digest", manifest.Digest))

	model, err := loadModel(ctx, provider, cfg.Model.Name, logger)
	if err != nil {
		log.Fatalf("failed to load model: %v", err)
	}
	tokenizer, err := provider.LoadTokenizer(ctx, cfg.Model.Name)
	if err != nil {
		log.Fatalf("failed to load tokenizer: %v", err)
	}

	store := dialog.NewMemoryStore(cfg.SessionTTL)
	go bootstrap.SweepExpired(ctx, store, sweepInterval(cfg.SessionTTL), logger)

	var recorder dialog.Recorder
	if cfg.Audit.DBPath != "" {
		auditLog, err := audit.Open(cfg.Audit.DBPath, cfg.Model.Name)
		if err != nil {
			log.Fatalf("failed to open audit log: %v", err)
		}
		defer auditLog.Close()
		recorder = auditLog
	}

	turns := dialog.NewTurnProcessor(dialog.TurnProcessorConfig{
		Model:       model,
		Tokenizer:   tokenizer,
		Pools:       dialog.NewPools(rand.NewSource(time.Now().UnixNano())),
		Instruction: cfg.Prompt.Instruction,
		Knowledge:   cfg.Prompt.Knowledge,
		Params: llm.GenerateParams{
			MaxLength: cfg.Generation.MaxLength,
			MinLength: cfg.Generation.MinLength,
			TopP:      cfg.Generation.TopP,
			DoSample:  cfg.Generation.DoSample,
		},
		Store:    store,
		Recorder: recorder,
		Timeout:  cfg.RequestTimeout,
		Logger:   logger,
	})

	limiter := middleware.NewLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	router := httpserver.NewRouter(httpserver.RouterDeps{
		Logger:      logger,
		Chat:        httpserver.NewChatHandler(turns, logger),
		RateLimiter: limiter,
	})

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", slog.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", slog.String("error", err.Error()))
			stop()
		}
	}()

	var dnsServer *dnsserver.Server
	if cfg.DNS.Addr != "" {
		dnsServer = dnsserver.New(dnsserver.Config{
			Addr:    cfg.DNS.Addr,
			Zone:    cfg.DNS.Zone,
			Turns:   turns,
			Limiter: limiter,
			Logger:  logger,
		})
		go func() {
			if err := dnsServer.ListenAndServe(); err != nil {
				logger.Error("dns server failed", slog.String("error", err.Error()))
			}
		}()
	}

	if cfg.Browser.Open {
		go bootstrap.OpenBrowserAfter(ctx, bootstrap.SystemOpener, cfg.BrowserURL(), cfg.Browser.Delay, logger)
	}

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
	}
	if dnsServer != nil {
		if err := dnsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("dns shutdown error", slog.String("error", err.Error()))
		}
	}

	logger.Info("server stopped")
}

func newBackend(cfg config.Config, tokenizerDir func(string) string, logger *slog.Logger) (backend, error) {
	switch cfg.Model.Backend {
	case "hfinference":
		return llm.NewHFInferenceProvider(llm.HFInferenceConfig{
			BaseURL:      cfg.HFInference.BaseURL,
			APIToken:     cfg.HFInference.APIToken,
			HTTPClient:   transport.NewHTTPClient(cfg.RequestTimeout),
			Encoding:     cfg.Model.TokenizerEncoding,
			TokenizerDir: tokenizerDir,
			Logger:       logger,
		}), nil
	default:
		// Без общего таймаута: pull больших весов длится минуты.
		return llm.NewOllamaProvider(llm.OllamaConfig{
			Host:         cfg.Ollama.Host,
			HTTPClient:   transport.NewHTTPClient(0),
			Encoding:     cfg.Model.TokenizerEncoding,
			TokenizerDir: tokenizerDir,
			Logger:       logger,
		})
	}
}

// loadModel повторяет pull, если бэкенд потерял модель после записи манифеста.
func loadModel(ctx context.Context, provider backend, name string, logger *slog.Logger) (llm.Model, error) {
	model, err := provider.LoadModel(ctx, name)
	if err == nil || !llm.IsNotFound(err) {
		return model, err
	}
	logger.Warn("model missing on backend, pulling again", slog.String("model", name))
	if _, err := provider.Pull(ctx, name); err != nil {
		return nil, fmt.Errorf("re-pull model %s: %w", name, err)
	}
	return provider.LoadModel(ctx, name)
}

func sweepInterval(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 0
	}
	return max(ttl/2, time.Minute)
}

func newLogger(level string) *slog.Logger {
	slogLevel := slog.LevelInfo
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "info":
		slogLevel = slog.LevelInfo
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slogLevel}))
}
