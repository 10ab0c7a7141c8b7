package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/clipagent/clipagent/internal/api"
	"github.com/clipagent/clipagent/internal/clipper"
	"github.com/clipagent/clipagent/internal/config"
	"github.com/clipagent/clipagent/internal/db"
	"github.com/clipagent/clipagent/internal/deps"
	"github.com/clipagent/clipagent/internal/heatmap"
	"github.com/clipagent/clipagent/internal/jobs"
	"github.com/clipagent/clipagent/internal/logging"
	"github.com/clipagent/clipagent/internal/settings"
	"github.com/clipagent/clipagent/internal/subtitles"
	"github.com/clipagent/clipagent/internal/transcript"
	"github.com/clipagent/clipagent/internal/ytmeta"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	// Optional: a .env file in the working directory overrides nothing
	// already set in the environment.
	godotenv.Load()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("starting clip agent",
		"version", config.Version,
		"data_dir", logging.SanitizePath(cfg.DataDir),
		"output_dir", logging.SanitizePath(cfg.OutputDir),
	)

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	store := settings.NewStore(database.Conn())

	geminiKey := cfg.GeminiAPIKey
	if geminiKey == "" {
		geminiKey = store.GetDefault(context.Background(), settings.KeyGeminiAPIKey, "")
	}

	prober := deps.NewProber(cfg.FFmpegPath, cfg.FFprobePath, cfg.YtDlpPath, logger)
	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	caps := prober.Refresh(initCtx)
	initCancel()
	if missing := caps.Missing(); len(missing) > 0 {
		logger.Warn("some external tools are unavailable, jobs will fail until installed", "missing", missing)
	} else {
		logger.Info("external tools detected",
			"ffmpeg", caps.FFmpeg.Version,
			"yt_dlp", caps.YtDlp.Version,
		)
	}

	transcripts := transcript.NewClient(logger)
	resolver := ytmeta.NewResolver(cfg.YtDlpPath, logger)

	heatmapSvc := heatmap.NewService(
		heatmap.NewFetcher(logger),
		heatmap.NewCache(),
		transcripts,
		heatmap.Options{
			MinScore:        cfg.MinScore,
			FallbackLimit:   cfg.FallbackLimit,
			MaxClipSeconds:  cfg.MaxClipSeconds,
			WalkMaxNodes:    cfg.WalkMaxNodes,
			ScanInitialData: cfg.ScanInitialData,
			CacheTTL:        cfg.CacheTTL,
			SlowThreshold:   cfg.SlowDiscovery,
		},
		logger,
	)

	renderer := clipper.NewFFmpegRenderer(
		cfg.FFmpegPath,
		cfg.YtDlpPath,
		subtitles.NewBuilder(transcripts),
		logger,
	)

	registry := jobs.NewRegistry(cfg.JobRetention)
	runner := jobs.NewRunner(registry, renderer, resolver, prober, jobs.Options{
		MaxActiveJobs:  cfg.MaxActiveJobs,
		MaxClipSeconds: cfg.MaxClipSeconds,
		MinClipSeconds: cfg.MinClipSeconds,
		PaddingSeconds: cfg.PaddingSeconds,
		OutputDir:      cfg.OutputDir,
	}, logger)

	apiServer := api.NewServer(api.ServerConfig{
		Port:        cfg.Port,
		Heatmap:     heatmapSvc,
		Runner:      runner,
		Registry:    registry,
		Settings:    store,
		Transcripts: transcripts,
		Metadata:    subtitles.NewMetadataGenerator(geminiKey),
		Logger:      logger,
		StartTime:   startTime,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}
