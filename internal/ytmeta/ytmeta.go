// Package ytmeta resolves YouTube video identity and runtime metadata.
package ytmeta

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	yt "github.com/kkdai/youtube/v2"
)

// defaultDurationSeconds is assumed when every lookup path fails. Clip
// bounds are validated against the real stream during rendering, so an
// optimistic guess only affects pre-trim warnings.
const defaultDurationSeconds = 3600

var videoIDPattern = regexp.MustCompile(`^[\w-]{11}$`)

// ExtractVideoID pulls the 11-character video ID out of the URL forms
// YouTube serves: watch pages, youtu.be short links, shorts, embeds, and
// a bare ID passed through as-is.
func ExtractVideoID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty video URL")
	}
	if videoIDPattern.MatchString(raw) {
		return raw, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse video URL: %w", err)
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	switch host {
	case "youtu.be":
		id := strings.Trim(u.Path, "/")
		if idx := strings.IndexByte(id, '/'); idx >= 0 {
			id = id[:idx]
		}
		if videoIDPattern.MatchString(id) {
			return id, nil
		}
	case "youtube.com", "m.youtube.com", "music.youtube.com":
		if id := u.Query().Get("v"); videoIDPattern.MatchString(id) {
			return id, nil
		}
		for _, prefix := range []string{"/shorts/", "/embed/", "/live/", "/v/"} {
			if strings.HasPrefix(u.Path, prefix) {
				id := strings.Trim(strings.TrimPrefix(u.Path, prefix), "/")
				if idx := strings.IndexByte(id, '/'); idx >= 0 {
					id = id[:idx]
				}
				if videoIDPattern.MatchString(id) {
					return id, nil
				}
			}
		}
	}

	return "", fmt.Errorf("could not extract a video ID from %q", raw)
}

// Resolver looks up video duration, preferring the YouTube client library
// and falling back to yt-dlp when the library trips on an unsupported
// player response.
type Resolver struct {
	client    *yt.Client
	ytDlpPath string
	logger    *slog.Logger
}

func NewResolver(ytDlpPath string, logger *slog.Logger) *Resolver {
	return &Resolver{
		client:    &yt.Client{},
		ytDlpPath: ytDlpPath,
		logger:    logger,
	}
}

// Duration returns the video length in whole seconds. On double failure it
// returns the default with a warning rather than an error: discovery and
// rendering both tolerate an oversized estimate.
func (r *Resolver) Duration(ctx context.Context, videoID string) int {
	video, err := r.client.GetVideoContext(ctx, videoID)
	if err == nil && video.Duration > 0 {
		return int(video.Duration / time.Second)
	}
	if err != nil {
		r.logger.Debug("video metadata lookup failed, trying yt-dlp", "video_id", videoID, "error", err)
	}

	if seconds, derr := r.durationViaYtDlp(ctx, videoID); derr == nil {
		return seconds
	} else {
		r.logger.Warn("duration lookup failed on all paths, assuming default",
			"video_id", videoID, "default_seconds", defaultDurationSeconds, "error", derr)
	}
	return defaultDurationSeconds
}

func (r *Resolver) durationViaYtDlp(ctx context.Context, videoID string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.ytDlpPath, "--get-duration", "https://www.youtube.com/watch?v="+videoID)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("yt-dlp --get-duration: %w", err)
	}
	return parseClockDuration(strings.TrimSpace(string(out)))
}

// parseClockDuration handles the H:MM:SS, M:SS, and plain-seconds forms
// yt-dlp prints.
func parseClockDuration(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("unrecognized duration %q", s)
	}
	total := 0
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("unrecognized duration %q", s)
		}
		total = total*60 + n
	}
	return total, nil
}
