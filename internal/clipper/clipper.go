// Package clipper renders vertical clips by shelling out to yt-dlp and
// ffmpeg. Each clip is downloaded as a stream section, reframed to
// 720x1280, and optionally gets subtitles burned in.
package clipper

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clipagent/clipagent/internal/jobs"
)

const (
	outputWidth  = 720
	outputHeight = 1280

	// Split modes stack two crops of the source frame vertically.
	topHeight    = 640
	bottomHeight = outputHeight - topHeight

	maxStderrBytes = 16 * 1024
)

// SubtitleSource writes an SRT covering [start, end) of the video, with
// cue times shifted so the clip starts at zero.
type SubtitleSource interface {
	WriteSRT(ctx context.Context, videoID string, start, end float64, path string) error
}

// FFmpegRenderer implements jobs.Renderer on top of the external tools.
type FFmpegRenderer struct {
	ffmpegPath string
	ytDlpPath  string
	subtitles  SubtitleSource
	logger     *slog.Logger

	// run is swapped in tests.
	run func(ctx context.Context, name string, args ...string) error
}

func NewFFmpegRenderer(ffmpegPath, ytDlpPath string, subtitles SubtitleSource, logger *slog.Logger) *FFmpegRenderer {
	r := &FFmpegRenderer{
		ffmpegPath: ffmpegPath,
		ytDlpPath:  ytDlpPath,
		subtitles:  subtitles,
		logger:     logger,
	}
	r.run = r.runCommand
	return r
}

// Render produces one clip file and returns its path. Temp files are
// removed on both success and failure.
func (r *FFmpegRenderer) Render(ctx context.Context, spec jobs.ClipSpec, progress jobs.StageProgress, logf func(format string, args ...any)) (string, error) {
	if err := os.MkdirAll(spec.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	ts := time.Now().Format("20060102_150405")
	tag := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	index := spec.Index + 1

	tempFile := uniquePath(spec.OutputDir, fmt.Sprintf("temp_%d_%s_%s", index, ts, tag), ".mp4")
	croppedFile := uniquePath(spec.OutputDir, fmt.Sprintf("temp_cropped_%d_%s_%s", index, ts, tag), ".mp4")
	subtitleFile := uniquePath(spec.OutputDir, fmt.Sprintf("temp_%d_%s_%s", index, ts, tag), ".srt")
	outputFile := uniquePath(spec.OutputDir, fmt.Sprintf("clip_%d_%s_%s", index, ts, tag), ".mp4")

	cleanup := func() {
		for _, f := range []string{tempFile, croppedFile, subtitleFile} {
			os.Remove(f)
		}
	}

	logf("clip %d/%d: downloading %.1fs to %.1fs", index, spec.Total, spec.Start, spec.End)
	progress(jobs.StageDownload, 0)
	if err := r.run(ctx, r.ytDlpPath, downloadArgs(spec.VideoID, spec.Start, spec.End, tempFile)...); err != nil {
		cleanup()
		return "", fmt.Errorf("download section: %w", err)
	}
	if _, err := os.Stat(tempFile); err != nil {
		cleanup()
		return "", fmt.Errorf("download produced no file: %w", err)
	}
	progress(jobs.StageDownload, 1)

	logf("clip %d/%d: reframing (%s)", index, spec.Total, spec.Crop)
	progress(jobs.StageClip, 0)
	if err := r.run(ctx, r.ffmpegPath, cropArgs(spec.Crop, tempFile, croppedFile)...); err != nil {
		cleanup()
		return "", fmt.Errorf("reframe: %w", err)
	}
	os.Remove(tempFile)
	progress(jobs.StageClip, 1)

	if spec.BurnSubtitles && r.subtitles != nil {
		logf("clip %d/%d: generating subtitles", index, spec.Total)
		progress(jobs.StageSubtitle, 0)
		err := r.subtitles.WriteSRT(ctx, spec.VideoID, spec.Start, spec.End, subtitleFile)
		progress(jobs.StageSubtitle, 1)
		if err != nil {
			// Subtitles are best effort; ship the clip without them.
			logf("clip %d/%d: subtitles unavailable (%v), keeping clip without them", index, spec.Total, err)
			r.logger.Warn("subtitle generation failed", "video_id", spec.VideoID, "clip", index, "error", err)
		} else {
			progress(jobs.StageSubtitleBurn, 0)
			burn := burnArgs(croppedFile, subtitleFile, spec.SubtitlePosition, outputFile)
			if berr := r.run(ctx, r.ffmpegPath, burn...); berr != nil {
				cleanup()
				return "", fmt.Errorf("burn subtitles: %w", berr)
			}
			progress(jobs.StageSubtitleBurn, 1)
			os.Remove(croppedFile)
			os.Remove(subtitleFile)
			return outputFile, nil
		}
	}

	if err := os.Rename(croppedFile, outputFile); err != nil {
		cleanup()
		return "", fmt.Errorf("finalize clip: %w", err)
	}
	os.Remove(subtitleFile)
	return outputFile, nil
}

func downloadArgs(videoID string, start, end float64, outPath string) []string {
	return []string{
		"--force-ipv4",
		"--quiet",
		"--no-warnings",
		"--downloader", "ffmpeg",
		"--downloader-args", fmt.Sprintf("ffmpeg_i:-ss %g -to %g -hide_banner -loglevel error", start, end),
		"-f", "bestvideo[height<=1080][ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best",
		"-o", outPath,
		"https://youtu.be/" + videoID,
	}
}

func cropArgs(mode jobs.CropMode, inPath, outPath string) []string {
	switch mode {
	case jobs.CropSplitLeft, jobs.CropSplitRight:
		bottomX := "0"
		if mode == jobs.CropSplitRight {
			bottomX = fmt.Sprintf("iw-%d", outputWidth)
		}
		filter := fmt.Sprintf(
			"scale='max(%d,iw*%d/ih)':%d[scaled];"+
				"[scaled]split=2[s1][s2];"+
				"[s1]crop=%d:%d:(iw-%d)/2:0[top];"+
				"[s2]crop=%d:%d:%s:%d[bottom];"+
				"[top][bottom]vstack=inputs=2[out]",
			outputWidth, outputHeight, outputHeight,
			outputWidth, topHeight, outputWidth,
			outputWidth, bottomHeight, bottomX, topHeight,
		)
		return []string{
			"-y", "-hide_banner", "-loglevel", "warning",
			"-i", inPath,
			"-filter_complex", filter,
			"-map", "[out]",
			"-map", "0:a?",
			"-c:v", "libx264", "-preset", "ultrafast", "-crf", "26",
			"-c:a", "aac", "-b:a", "128k",
			outPath,
		}
	default:
		filter := fmt.Sprintf(
			`scale=-2:%d,pad=max(iw\,%d):ih:(ow-iw)/2:0,crop=%d:%d:(iw-%d)/2:(ih-%d)/2`,
			outputHeight, outputWidth, outputWidth, outputHeight, outputWidth, outputHeight,
		)
		return []string{
			"-y", "-hide_banner", "-loglevel", "error",
			"-i", inPath,
			"-vf", filter,
			"-c:v", "libx264", "-preset", "ultrafast", "-crf", "26",
			"-c:a", "aac", "-b:a", "128k",
			outPath,
		}
	}
}

func burnArgs(inPath, subtitlePath, position, outPath string) []string {
	alignment, marginV := 5, 0 // middle
	switch strings.ToLower(strings.TrimSpace(position)) {
	case "bottom":
		alignment, marginV = 2, 60
	case "top":
		alignment, marginV = 8, 60
	}
	style := fmt.Sprintf(
		"FontName=Arial,FontSize=12,Bold=1,PrimaryColour=&HFFFFFF,OutlineColour=&H000000,"+
			"BorderStyle=1,Outline=2,Shadow=1,Alignment=%d,MarginV=%d",
		alignment, marginV,
	)
	return []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", inPath,
		"-vf", fmt.Sprintf("subtitles='%s':force_style='%s'", escapeFilterPath(subtitlePath), style),
		"-c:v", "libx264", "-preset", "ultrafast", "-crf", "26",
		"-c:a", "copy",
		outPath,
	}
}

// escapeFilterPath makes a path safe inside an ffmpeg filter argument.
// Backslashes become forward slashes whatever the host separator is, since
// the filter parser treats backslash as an escape.
func escapeFilterPath(path string) string {
	path = strings.ReplaceAll(path, `\`, "/")
	return strings.ReplaceAll(path, ":", `\:`)
}

// uniquePath returns a path under dir that does not exist yet, suffixing
// the stem with a counter when needed.
func uniquePath(dir, stem, ext string) string {
	path := filepath.Join(dir, stem+ext)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	for i := 2; i < 10000; i++ {
		path = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, i, ext))
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
	}
	return filepath.Join(dir, fmt.Sprintf("%s_%s%s", stem, uuid.NewString()[:8], ext))
}

func (r *FFmpegRenderer) runCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)

	var stderrBuf bytes.Buffer
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: maxStderrBytes}
	cmd.Stdout = io.Discard

	r.logger.Debug("executing render command", "cmd", name, "args", args)
	if err := cmd.Run(); err != nil {
		tail := strings.TrimSpace(stderrBuf.String())
		if tail != "" {
			return fmt.Errorf("%s: %w: %s", filepath.Base(name), err, tail)
		}
		return fmt.Errorf("%s: %w", filepath.Base(name), err)
	}
	return nil
}

// limitedWriter keeps only the last limit bytes written.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		b := lw.w.Bytes()
		tail := make([]byte, lw.limit)
		copy(tail, b[len(b)-lw.limit:])
		lw.w.Reset()
		lw.w.Write(tail)
	}
	return n, nil
}
