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

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/mikeboe/deep-research/pkg/app"
	"github.com/mikeboe/deep-research/pkg/config"
	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/server"
)

func main() {
	cfg := config.Load()

	console := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})
	slog.SetDefault(slog.New(console))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, slog.Default())
	if err != nil {
		slog.Error("Failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	// Engine records tagged with a run_id also land in that run's log table.
	logger := slog.New(server.NewDBLogHandler(a.Store, console, cfg.SlogLevel()))
	a.Engine.SetLogger(logger)
	if a.Indexer != nil {
		a.Indexer.Logger = logger
	}

	mode, err := research.ParseMode(cfg.FeedbackMode)
	if err != nil {
		slog.Warn("Invalid FEEDBACK_MODE, using human", "value", cfg.FeedbackMode)
		mode = research.ModeHuman
	}

	// Workers outlive requests but stop on shutdown.
	svc := server.NewService(ctx, a.Engine, a.Store, server.Defaults{
		Mode:        mode,
		MaxLoops:    cfg.MaxFeedbackLoops,
		ReportPages: cfg.ReportPages,
	})
	svc.Logger = logger
	if a.Indexer != nil {
		svc.Sources = a.Indexer
	}
	handler := server.NewHandler(svc)

	r := gin.Default()
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"}, // Allow all for dev
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Mcp-Session-Id"},
		ExposeHeaders:    []string{"Content-Length", "Mcp-Session-Id"},
		AllowCredentials: true,
	}))
	handler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		slog.Info("Server starting", "port", cfg.Port, "db", cfg.DBProvider, "search", cfg.SearchProvider, "mode", mode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Failed to start server", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown failed", "error", err)
	}
	svc.Wait()
}
