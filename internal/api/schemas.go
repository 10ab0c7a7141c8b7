package api

import (
	"time"

	"github.com/clipagent/clipagent/internal/heatmap"
	"github.com/clipagent/clipagent/internal/jobs"
	"github.com/clipagent/clipagent/internal/subtitles"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type HeatmapRequest struct {
	URL             string `json:"url"`
	DurationSeconds *int   `json:"duration_seconds,omitempty"`
	Debug           bool   `json:"debug,omitempty"`
}

type HeatmapResponse struct {
	VideoID     string                `json:"video_id"`
	Segments    []heatmap.ClipSegment `json:"segments"`
	Guidance    string                `json:"guidance,omitempty"`
	Diagnostics *heatmap.Diagnostics  `json:"diagnostics,omitempty"`
}

type SegmentPayload struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Enabled *bool   `json:"enabled,omitempty"`
}

type CreateJobRequest struct {
	URL              string           `json:"url"`
	Segments         []SegmentPayload `json:"segments"`
	CropMode         string           `json:"crop_mode,omitempty"`
	BurnSubtitles    bool             `json:"burn_subtitles,omitempty"`
	SubtitlePosition string           `json:"subtitle_position,omitempty"`
	ApplyPadding     bool             `json:"apply_padding,omitempty"`
}

type CreateJobResponse struct {
	JobID          string   `json:"job_id"`
	Warnings       []string `json:"warnings,omitempty"`
	EstimatedBytes int64    `json:"estimated_bytes"`
}

type JobResponse struct {
	ID           string   `json:"id"`
	VideoID      string   `json:"video_id"`
	Running      bool     `json:"running"`
	Done         bool     `json:"done"`
	Percent      float64  `json:"percent"`
	Stage        string   `json:"stage"`
	Status       string   `json:"status"`
	ETA          string   `json:"eta,omitempty"`
	Error        string   `json:"error,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
	LogTail      string   `json:"log_tail,omitempty"`
	OutputDir    string   `json:"output_dir,omitempty"`
	OutputFiles  []string `json:"output_files,omitempty"`
	SuccessCount int      `json:"success_count"`
	CreatedAt    string   `json:"created_at"`
	FinishedAt   string   `json:"finished_at,omitempty"`
}

type JobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type SettingsResponse struct {
	Settings map[string]string `json:"settings"`
}

type UpdateSettingsRequest struct {
	Settings map[string]string `json:"settings"`
}

type SuggestionsRequest struct {
	URL  string `json:"url,omitempty"`
	Text string `json:"text,omitempty"`
}

type SuggestionsResponse struct {
	Metadata subtitles.ClipMetadata `json:"metadata"`
}

// maxLogTailChars bounds the log excerpt returned with job status.
const maxLogTailChars = 2500

func JobToResponse(job jobs.Job) JobResponse {
	resp := JobResponse{
		ID:           job.ID,
		VideoID:      job.VideoID,
		Running:      job.Running,
		Done:         job.Done,
		Percent:      job.Percent,
		Stage:        string(job.Stage),
		Status:       job.Status,
		ETA:          job.ETA,
		Error:        job.Error,
		Warnings:     job.Warnings,
		LogTail:      tailString(job.Logs, maxLogTailChars),
		OutputDir:    job.OutputDir,
		OutputFiles:  job.OutputFiles,
		SuccessCount: job.SuccessCount,
		CreatedAt:    job.CreatedAt.Format(time.RFC3339),
	}
	if !job.FinishedAt.IsZero() {
		resp.FinishedAt = job.FinishedAt.Format(time.RFC3339)
	}
	return resp
}

func tailString(lines []string, limit int) string {
	total := 0
	start := len(lines)
	for start > 0 {
		next := total + len(lines[start-1]) + 1
		if next > limit {
			break
		}
		total = next
		start--
	}
	if start == len(lines) {
		return ""
	}
	out := ""
	for i := start; i < len(lines); i++ {
		if out != "" {
			out += "\n"
		}
		out += lines[i]
	}
	return out
}
