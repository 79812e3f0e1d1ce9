// Etna Educación support chat server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/etna-educacion/etna-chat/internal/agent"
	"github.com/etna-educacion/etna-chat/internal/api"
	"github.com/etna-educacion/etna-chat/internal/chat"
	"github.com/etna-educacion/etna-chat/internal/config"
	"github.com/etna-educacion/etna-chat/internal/identity"
	"github.com/etna-educacion/etna-chat/internal/metrics"
	"github.com/etna-educacion/etna-chat/internal/middleware"
	"github.com/etna-educacion/etna-chat/internal/session"
	"github.com/etna-educacion/etna-chat/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "session_store", cfg.Session.Store)

	store, err := openSessionStore(cfg)
	if err != nil {
		slog.Error("Failed to initialize session store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			slog.Error("Failed to close session store", "error", closeErr)
		}
	}()

	if err := store.Ping(context.Background()); err != nil {
		slog.Error("Session store health check failed", "error", err)
		os.Exit(1)
	}

	// Remote assistant.
	m := metrics.Default()
	client, err := agent.NewOpenAIClient(agent.Config{
		APIKey:       cfg.OpenAI.APIKey,
		BaseURL:      cfg.OpenAI.BaseURL,
		PollInterval: cfg.OpenAI.PollInterval,
		RunTimeout:   cfg.OpenAI.RunTimeout,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize assistant client", "error", err)
		os.Exit(1)
	}
	assistant := agent.NewService(client, m, logger)

	runLog, err := agent.NewFileRunLogger(cfg.ChatLog, logger)
	if err != nil {
		slog.Error("Failed to open chat log", "path", cfg.ChatLog, "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := runLog.Close(); closeErr != nil {
			slog.Error("Failed to close chat log", "error", closeErr)
		}
	}()

	controller := chat.NewController(assistant, cfg.OpenAI.AssistantID, runLog, m, logger)

	// Initialize handlers.
	chatHandler := chat.NewHandler(controller, store, chat.HandlerConfig{
		MaxRequestBodySize: cfg.MaxRequestBodySize,
		RateLimitRequests:  cfg.RateLimit.RequestsPerWindow,
		RateLimitWindow:    cfg.RateLimit.WindowDuration,
	})
	defer chatHandler.Close()

	conns := chat.NewConnections()
	wsHandler := chat.NewWebSocketHandler(chatHandler, conns, cfg.FrontendURL, cfg.IsDevelopment())
	healthHandler := api.NewHealthHandler(store)
	configHandler := api.NewConfigHandler(api.DefaultUIConfig(chat.TerminateKeywords()))

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(middleware.AllowedOrigins(cfg.FrontendURL, cfg.IsDevelopment())))

	// Public routes.
	healthHandler.RegisterHealth(r)
	r.Handle("/metrics", promhttp.Handler())
	configHandler.RegisterRoutes(r)

	// Chat routes carry the browser's session cookie.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(cfg.IsDevelopment()))
		chatHandler.RegisterRoutes(r)
		r.Get("/ws/chat", wsHandler.ServeHTTP)
	})

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// A single message can wait up to RUN_TIMEOUT for the assistant.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // long runs and websockets
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session.StartTTLWorker(ctx, store, cfg.Session.TTL, session.DefaultSweepInterval, conns.CloseSession)

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.OpenAI.RunTimeout+10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return
	}

	slog.Info("Server stopped successfully")
}

func openSessionStore(cfg *config.Config) (session.Store, error) {
	if cfg.Session.Store == config.SessionStoreSQLite {
		store, err := session.NewSQLite(cfg.Session.DBPath)
		if err != nil {
			return nil, err
		}
		slog.Info("Session database connected", "path", cfg.Session.DBPath)
		return store, nil
	}

	store, err := session.NewMemoryStore(cfg.Session.MaxEntries, cfg.Session.TTL)
	if err != nil {
		return nil, err
	}
	return store, nil
}
