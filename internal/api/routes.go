package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clipagent/clipagent/internal/config"
	"github.com/clipagent/clipagent/internal/heatmap"
	"github.com/clipagent/clipagent/internal/jobs"
	"github.com/clipagent/clipagent/internal/subtitles"
	"github.com/clipagent/clipagent/internal/ytmeta"
)

// SegmentDiscoverer finds popular segments for a video.
type SegmentDiscoverer interface {
	Discover(ctx context.Context, videoID string, knownDurationSeconds *int, debug bool) (heatmap.Result, error)
}

// JobSubmitter validates and schedules render jobs.
type JobSubmitter interface {
	Submit(ctx context.Context, req jobs.Request) (jobs.Job, error)
}

// TranscriptTexter returns a video's transcript as plain text.
type TranscriptTexter interface {
	Text(ctx context.Context, videoID string) (string, error)
}

// SettingsStore is the persisted key-value settings surface.
type SettingsStore interface {
	All(ctx context.Context) (map[string]string, error)
	Set(ctx context.Context, key, value string) error
}

// MetadataGenerator suggests publishing copy from a transcript.
type MetadataGenerator interface {
	Enabled() bool
	Generate(ctx context.Context, transcriptText string) (subtitles.ClipMetadata, error)
}

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", healthHandler(cfg))

	r.Route("/api", func(r chi.Router) {
		r.Post("/heatmap", heatmapHandler(cfg))
		r.Post("/jobs", createJobHandler(cfg))
		r.Get("/jobs", listJobsHandler(cfg))
		r.Get("/jobs/{id}", getJobHandler(cfg))
		r.Get("/settings", getSettingsHandler(cfg))
		r.Put("/settings", updateSettingsHandler(cfg))
		r.Post("/suggestions", suggestionsHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: config.Version,
			UptimeS: int64(time.Since(cfg.StartTime).Seconds()),
		})
	}
}

func heatmapHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req HeatmapRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		videoID, err := ytmeta.ExtractVideoID(req.URL)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "INVALID_URL")
			return
		}

		result, err := cfg.Heatmap.Discover(r.Context(), videoID, req.DurationSeconds, req.Debug)
		if err != nil {
			if heatmap.IsBlocked(err) {
				WriteError(w, http.StatusForbidden, err.Error(), "BLOCKED")
				return
			}
			WriteError(w, http.StatusBadGateway, err.Error(), "UPSTREAM_ERROR")
			return
		}

		resp := HeatmapResponse{
			VideoID:  videoID,
			Segments: result.Segments,
			Guidance: result.Guidance,
		}
		if req.Debug {
			resp.Diagnostics = result.Diagnostics
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func createJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		videoID, err := ytmeta.ExtractVideoID(req.URL)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "INVALID_URL")
			return
		}

		var segments []jobs.SegmentRequest
		for _, seg := range req.Segments {
			if seg.Enabled != nil && !*seg.Enabled {
				continue
			}
			segments = append(segments, jobs.SegmentRequest{Start: seg.Start, End: seg.End})
		}

		job, err := cfg.Runner.Submit(r.Context(), jobs.Request{
			VideoID:          videoID,
			Segments:         segments,
			Crop:             jobs.CropMode(req.CropMode),
			BurnSubtitles:    req.BurnSubtitles,
			SubtitlePosition: req.SubtitlePosition,
			ApplyPadding:     req.ApplyPadding,
		})
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "INVALID_JOB")
			return
		}

		WriteJSON(w, http.StatusAccepted, CreateJobResponse{
			JobID:          job.ID,
			Warnings:       job.Warnings,
			EstimatedBytes: job.EstimatedBytes,
		})
	}
}

func listJobsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all := cfg.Registry.List()
		resp := JobsResponse{Jobs: make([]JobResponse, len(all))}
		for i, job := range all {
			resp.Jobs[i] = JobToResponse(job)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		job, ok := cfg.Registry.Get(id)
		if !ok {
			WriteError(w, http.StatusNotFound, "job not found", "NOT_FOUND")
			return
		}
		WriteJSON(w, http.StatusOK, JobToResponse(job))
	}
}

func getSettingsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all, err := cfg.Settings.All(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to load settings", "INTERNAL_ERROR")
			return
		}
		// The key itself never leaves the agent.
		if _, ok := all["gemini_api_key"]; ok {
			all["gemini_api_key"] = "(set)"
		}
		WriteJSON(w, http.StatusOK, SettingsResponse{Settings: all})
	}
}

func updateSettingsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UpdateSettingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if len(req.Settings) == 0 {
			WriteError(w, http.StatusBadRequest, "no settings provided", "BAD_REQUEST")
			return
		}
		for key, value := range req.Settings {
			if err := cfg.Settings.Set(r.Context(), key, value); err != nil {
				WriteError(w, http.StatusInternalServerError, "failed to save settings", "INTERNAL_ERROR")
				return
			}
		}
		WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

func suggestionsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SuggestionsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if cfg.Metadata == nil || !cfg.Metadata.Enabled() {
			WriteError(w, http.StatusServiceUnavailable, "gemini api key is not configured", "NOT_CONFIGURED")
			return
		}

		text := req.Text
		if text == "" {
			if req.URL == "" {
				WriteError(w, http.StatusBadRequest, "either text or url is required", "BAD_REQUEST")
				return
			}
			videoID, err := ytmeta.ExtractVideoID(req.URL)
			if err != nil {
				WriteError(w, http.StatusBadRequest, err.Error(), "INVALID_URL")
				return
			}
			text, err = cfg.Transcripts.Text(r.Context(), videoID)
			if err != nil {
				WriteError(w, http.StatusBadGateway, "transcript unavailable: "+err.Error(), "UPSTREAM_ERROR")
				return
			}
		}

		meta, err := cfg.Metadata.Generate(r.Context(), text)
		if err != nil {
			WriteError(w, http.StatusBadGateway, err.Error(), "UPSTREAM_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, SuggestionsResponse{Metadata: meta})
	}
}
