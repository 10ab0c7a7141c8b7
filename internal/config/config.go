// Package config provides configuration management for the clip agent.
// Configuration is loaded from environment variables with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	// Default values
	DefaultPort     = 8765
	DefaultLogLevel = "info"
	DefaultDataDir  = ".clipagent"

	// Environment variable names
	EnvPort      = "CLIPAGENT_PORT"
	EnvLogLevel  = "CLIPAGENT_LOG_LEVEL"
	EnvDataDir   = "CLIPAGENT_DATA_DIR"
	EnvOutputDir = "CLIPAGENT_OUTPUT_DIR"

	// Discovery environment variable names
	EnvMinScore        = "CLIPAGENT_MIN_SCORE"
	EnvFallbackLimit   = "CLIPAGENT_FALLBACK_LIMIT"
	EnvCacheTTL        = "CLIPAGENT_CACHE_TTL"
	EnvWalkMaxNodes    = "CLIPAGENT_WALK_MAX_NODES"
	EnvScanInitialData = "CLIPAGENT_SCAN_INITIAL_DATA"
	EnvSlowDiscovery   = "CLIPAGENT_SLOW_DISCOVERY"

	// Clip environment variable names
	EnvMaxClipSeconds = "CLIPAGENT_MAX_CLIP_SECONDS"
	EnvMinClipSeconds = "CLIPAGENT_MIN_CLIP_SECONDS"
	EnvPaddingSeconds = "CLIPAGENT_PADDING_SECONDS"

	// Job environment variable names
	EnvMaxActiveJobs = "CLIPAGENT_MAX_ACTIVE_JOBS"
	EnvJobRetention  = "CLIPAGENT_JOB_RETENTION"

	// External tool environment variable names
	EnvFFmpegPath   = "CLIPAGENT_FFMPEG_PATH"
	EnvFFprobePath  = "CLIPAGENT_FFPROBE_PATH"
	EnvYtDlpPath    = "CLIPAGENT_YTDLP_PATH"
	EnvGeminiAPIKey = "CLIPAGENT_GEMINI_API_KEY"

	// Database filename
	DBFilename = "clipagent.db"

	// Discovery defaults. The score threshold and fallback count are the
	// primary tuning knobs for discovery quality.
	DefaultMinScore        = 0.35
	DefaultFallbackLimit   = 10
	DefaultCacheTTL        = 15 * time.Minute
	DefaultWalkMaxNodes    = 60000
	DefaultSlowDiscovery   = 2 * time.Second

	// Clip defaults (seconds)
	DefaultMaxClipSeconds = 180
	DefaultMinClipSeconds = 1
	DefaultPaddingSeconds = 2

	// Job defaults
	DefaultMaxActiveJobs = 2
	DefaultJobRetention  = 60 * time.Minute
)

// Config holds the agent configuration loaded from the environment.
type Config struct {
	Port      int
	LogLevel  string
	DataDir   string
	OutputDir string

	MinScore        float64
	FallbackLimit   int
	CacheTTL        time.Duration
	WalkMaxNodes    int
	ScanInitialData bool
	SlowDiscovery   time.Duration

	MaxClipSeconds float64
	MinClipSeconds float64
	PaddingSeconds float64

	MaxActiveJobs int
	JobRetention  time.Duration

	FFmpegPath   string
	FFprobePath  string
	YtDlpPath    string
	GeminiAPIKey string
}

// New creates a Config with defaults and environment variable overrides.
func New() (*Config, error) {
	cfg := &Config{
		Port:            DefaultPort,
		LogLevel:        DefaultLogLevel,
		DataDir:         defaultDataDir(),
		OutputDir:       defaultOutputDir(),
		MinScore:        DefaultMinScore,
		FallbackLimit:   DefaultFallbackLimit,
		CacheTTL:        DefaultCacheTTL,
		WalkMaxNodes:    DefaultWalkMaxNodes,
		ScanInitialData: false,
		SlowDiscovery:   DefaultSlowDiscovery,
		MaxClipSeconds:  DefaultMaxClipSeconds,
		MinClipSeconds:  DefaultMinClipSeconds,
		PaddingSeconds:  DefaultPaddingSeconds,
		MaxActiveJobs:   DefaultMaxActiveJobs,
		JobRetention:    DefaultJobRetention,
		FFmpegPath:      "ffmpeg",
		FFprobePath:     "ffprobe",
		YtDlpPath:       "yt-dlp",
	}

	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.Port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.LogLevel = ll
	}
	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.DataDir = dd
	}
	if od := os.Getenv(EnvOutputDir); od != "" {
		cfg.OutputDir = od
	}

	if err := overrideFloat(&cfg.MinScore, EnvMinScore, 0); err != nil {
		return nil, err
	}
	if err := overrideInt(&cfg.FallbackLimit, EnvFallbackLimit, 1); err != nil {
		return nil, err
	}
	if err := overrideDuration(&cfg.CacheTTL, EnvCacheTTL); err != nil {
		return nil, err
	}
	if err := overrideInt(&cfg.WalkMaxNodes, EnvWalkMaxNodes, 1); err != nil {
		return nil, err
	}
	cfg.ScanInitialData = envBool(EnvScanInitialData, cfg.ScanInitialData)
	if err := overrideDuration(&cfg.SlowDiscovery, EnvSlowDiscovery); err != nil {
		return nil, err
	}

	if err := overrideFloat(&cfg.MaxClipSeconds, EnvMaxClipSeconds, 1); err != nil {
		return nil, err
	}
	if err := overrideFloat(&cfg.MinClipSeconds, EnvMinClipSeconds, 0); err != nil {
		return nil, err
	}
	if err := overrideFloat(&cfg.PaddingSeconds, EnvPaddingSeconds, 0); err != nil {
		return nil, err
	}

	if err := overrideInt(&cfg.MaxActiveJobs, EnvMaxActiveJobs, 1); err != nil {
		return nil, err
	}
	if err := overrideDuration(&cfg.JobRetention, EnvJobRetention); err != nil {
		return nil, err
	}

	if p := os.Getenv(EnvFFmpegPath); p != "" {
		cfg.FFmpegPath = p
	}
	if p := os.Getenv(EnvFFprobePath); p != "" {
		cfg.FFprobePath = p
	}
	if p := os.Getenv(EnvYtDlpPath); p != "" {
		cfg.YtDlpPath = p
	}
	cfg.GeminiAPIKey = os.Getenv(EnvGeminiAPIKey)

	return cfg, nil
}

// DBPath returns the full path to the SQLite database file.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, DBFilename)
}

func overrideFloat(dst *float64, env string, min float64) error {
	raw := os.Getenv(env)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", env, err)
	}
	if v < min {
		return fmt.Errorf("invalid %s: must be >= %g", env, min)
	}
	*dst = v
	return nil
}

func overrideInt(dst *int, env string, min int) error {
	raw := os.Getenv(env)
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", env, err)
	}
	if v < min {
		return fmt.Errorf("invalid %s: must be >= %d", env, min)
	}
	*dst = v
	return nil
}

func overrideDuration(dst *time.Duration, env string) error {
	raw := os.Getenv(env)
	if raw == "" {
		return nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", env, err)
	}
	if v <= 0 {
		return fmt.Errorf("invalid %s: must be positive", env)
	}
	*dst = v
	return nil
}

func envBool(env string, fallback bool) bool {
	raw := os.Getenv(env)
	if raw == "" {
		return fallback
	}
	switch raw {
	case "0", "false", "no", "off":
		return false
	}
	return true
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

func defaultOutputDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "clips"
	}
	return filepath.Join(home, "Videos", "ClipAgent")
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
