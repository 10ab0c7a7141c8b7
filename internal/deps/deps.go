// Package deps probes for the external tools the renderer shells out to.
package deps

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	defaultProbeTTL = 5 * time.Minute
	probeTimeout    = 10 * time.Second
)

// Tool describes one external binary probe result.
type Tool struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Capabilities is the combined probe result for every required tool.
type Capabilities struct {
	FFmpeg   Tool      `json:"ffmpeg"`
	FFprobe  Tool      `json:"ffprobe"`
	YtDlp    Tool      `json:"yt_dlp"`
	ProbedAt time.Time `json:"probed_at"`
}

// Missing lists the names of tools that failed the probe.
func (c *Capabilities) Missing() []string {
	var missing []string
	for _, tool := range []Tool{c.FFmpeg, c.FFprobe, c.YtDlp} {
		if !tool.Available {
			missing = append(missing, tool.Name)
		}
	}
	return missing
}

// Prober caches tool probes with a TTL so every job submission does not pay
// for three subprocess launches.
type Prober struct {
	ffmpegPath  string
	ffprobePath string
	ytDlpPath   string
	ttl         time.Duration
	logger      *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities

	// probe is swapped in tests.
	probe func(ctx context.Context, name, path string, versionArgs ...string) Tool
}

func NewProber(ffmpegPath, ffprobePath, ytDlpPath string, logger *slog.Logger) *Prober {
	return &Prober{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		ytDlpPath:   ytDlpPath,
		ttl:         defaultProbeTTL,
		logger:      logger,
		probe:       probeTool,
	}
}

// Get returns cached capabilities if fresh, otherwise re-probes.
func (p *Prober) Get(ctx context.Context) *Capabilities {
	p.mu.RLock()
	if p.cached != nil && time.Since(p.cached.ProbedAt) < p.ttl {
		caps := p.cached
		p.mu.RUnlock()
		return caps
	}
	p.mu.RUnlock()

	return p.Refresh(ctx)
}

// Refresh forces a new probe regardless of cache freshness.
func (p *Prober) Refresh(ctx context.Context) *Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()

	caps := &Capabilities{
		FFmpeg:   p.probe(ctx, "ffmpeg", p.ffmpegPath, "-version"),
		FFprobe:  p.probe(ctx, "ffprobe", p.ffprobePath, "-version"),
		YtDlp:    p.probe(ctx, "yt-dlp", p.ytDlpPath, "--version"),
		ProbedAt: time.Now(),
	}
	if missing := caps.Missing(); len(missing) > 0 {
		p.logger.Warn("dependency probe found missing tools", "missing", strings.Join(missing, ", "))
	}
	p.cached = caps
	return caps
}

// Invalidate clears the cached probe results.
func (p *Prober) Invalidate() {
	p.mu.Lock()
	p.cached = nil
	p.mu.Unlock()
}

// Check implements the job runner's dependency gate: it returns an error
// naming every missing tool, or nil when all are present.
func (p *Prober) Check(ctx context.Context) error {
	caps := p.Get(ctx)
	if missing := caps.Missing(); len(missing) > 0 {
		return fmt.Errorf("missing required tools: %s", strings.Join(missing, ", "))
	}
	return nil
}

func probeTool(ctx context.Context, name, path string, versionArgs ...string) Tool {
	tool := Tool{Name: name, Path: path}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	resolved, err := exec.LookPath(path)
	if err != nil {
		tool.Error = err.Error()
		return tool
	}
	tool.Path = resolved

	out, err := exec.CommandContext(ctx, resolved, versionArgs...).Output()
	if err != nil {
		tool.Error = err.Error()
		return tool
	}

	tool.Available = true
	if line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n"); line != "" {
		tool.Version = strings.TrimSpace(line)
	}
	return tool
}
