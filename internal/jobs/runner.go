package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// estimatedBitrate is the assumed output bitrate in bits per second, used
// only for the pre-render size estimate returned at submission.
const estimatedBitrate = 2_600_000

// basePercent is reported once preflight (dependency and duration checks)
// has passed; the remaining range is divided among the clips.
const basePercent = 7

// DependencyChecker gates job execution on the external tools being
// present.
type DependencyChecker interface {
	Check(ctx context.Context) error
}

// DurationSource resolves a video's length in seconds.
type DurationSource interface {
	Duration(ctx context.Context, videoID string) int
}

// ClipSpec is the unit of work handed to the renderer.
type ClipSpec struct {
	Index            int
	Total            int
	VideoID          string
	Start            float64
	End              float64
	Crop             CropMode
	BurnSubtitles    bool
	SubtitlePosition string
	OutputDir        string
}

// StageProgress reports renderer progress: the stage currently running and
// how far through it the renderer is, in [0, 1].
type StageProgress func(stage Stage, fraction float64)

// Renderer produces one clip file. It reports progress through the
// callback and writes human-readable output through logf.
type Renderer interface {
	Render(ctx context.Context, spec ClipSpec, progress StageProgress, logf func(format string, args ...any)) (string, error)
}

// Options tunes the runner.
type Options struct {
	MaxActiveJobs  int
	MaxClipSeconds float64
	MinClipSeconds float64
	PaddingSeconds float64
	OutputDir      string
}

// Runner validates submissions and drives accepted jobs through their
// stages on background goroutines, at most MaxActiveJobs at a time.
type Runner struct {
	registry *Registry
	renderer Renderer
	duration DurationSource
	checker  DependencyChecker
	opts     Options
	logger   *slog.Logger
	sem      chan struct{}
	now      func() time.Time
}

func NewRunner(registry *Registry, renderer Renderer, duration DurationSource, checker DependencyChecker, opts Options, logger *slog.Logger) *Runner {
	if opts.MaxActiveJobs < 1 {
		opts.MaxActiveJobs = 1
	}
	if opts.MinClipSeconds <= 0 {
		opts.MinClipSeconds = 1
	}
	return &Runner{
		registry: registry,
		renderer: renderer,
		duration: duration,
		checker:  checker,
		opts:     opts,
		logger:   logger,
		sem:      make(chan struct{}, opts.MaxActiveJobs),
		now:      time.Now,
	}
}

// Submit validates the request, registers the job, and schedules it.
// Malformed bounds (negative, or end not after start) reject the whole
// submission before a job exists. Past that, validation trims rather than
// rejects: clips that run past the allowed length are shortened with a
// warning, and clips too short to render are dropped with a warning.
func (r *Runner) Submit(ctx context.Context, req Request) (Job, error) {
	if req.VideoID == "" {
		return Job{}, fmt.Errorf("video_id is required")
	}
	if len(req.Segments) == 0 {
		return Job{}, fmt.Errorf("at least one segment is required")
	}
	switch req.Crop {
	case "", CropDefault:
		req.Crop = CropDefault
	case CropSplitLeft, CropSplitRight:
	default:
		return Job{}, fmt.Errorf("unknown crop mode %q", req.Crop)
	}
	for i, seg := range req.Segments {
		if seg.Start < 0 || seg.End < 0 {
			return Job{}, fmt.Errorf("segment %d: negative bounds (%.1f, %.1f)", i+1, seg.Start, seg.End)
		}
		if seg.End <= seg.Start {
			return Job{}, fmt.Errorf("segment %d: end %.1fs is not after start %.1fs", i+1, seg.End, seg.Start)
		}
	}

	padding := 0.0
	if req.ApplyPadding {
		padding = r.opts.PaddingSeconds
	}

	var (
		segments []SegmentRequest
		warnings []string
	)
	for i, seg := range req.Segments {
		start := seg.Start - padding
		end := seg.End + padding
		if start < 0 {
			start = 0
		}
		if r.opts.MaxClipSeconds > 0 && end-start > r.opts.MaxClipSeconds {
			warnings = append(warnings, fmt.Sprintf("segment %d trimmed from %.1fs to %.1fs", i+1, end-start, r.opts.MaxClipSeconds))
			end = start + r.opts.MaxClipSeconds
		}
		if end-start < r.opts.MinClipSeconds {
			warnings = append(warnings, fmt.Sprintf("segment %d dropped: %.1fs is shorter than %.1fs", i+1, end-start, r.opts.MinClipSeconds))
			continue
		}
		segments = append(segments, SegmentRequest{Start: start, End: end})
	}
	if len(segments) == 0 {
		return Job{}, fmt.Errorf("no renderable segments after validation")
	}

	totalSeconds := 0.0
	for _, seg := range segments {
		totalSeconds += seg.End - seg.Start
	}

	job := &Job{
		ID:               uuid.NewString(),
		VideoID:          req.VideoID,
		Crop:             req.Crop,
		BurnSubtitles:    req.BurnSubtitles,
		SubtitlePosition: req.SubtitlePosition,
		Segments:         segments,
		Stage:            StageQueued,
		Status:           "queued",
		Warnings:         warnings,
		OutputDir:        r.opts.OutputDir,
		EstimatedBytes:   int64(totalSeconds * estimatedBitrate / 8),
		CreatedAt:        r.now(),
	}
	if err := r.registry.Create(job); err != nil {
		return Job{}, err
	}

	// The job outlives the submitting request.
	go r.run(context.WithoutCancel(ctx), job.ID)

	stored, _ := r.registry.Get(job.ID)
	return stored, nil
}

func (r *Runner) run(ctx context.Context, id string) {
	r.sem <- struct{}{}
	defer func() { <-r.sem }()

	job, ok := r.registry.Get(id)
	if !ok {
		return
	}
	logger := r.logger.With("job_id", id, "video_id", job.VideoID)

	startedAt := r.now()
	r.registry.Update(id, func(j *Job) {
		j.Running = true
		j.StartedAt = startedAt
		j.Stage = StageDependency
		j.Status = "checking dependencies"
	})
	r.logf(id, "job started for video %s with %d segment(s)", job.VideoID, len(job.Segments))

	if err := r.checker.Check(ctx); err != nil {
		r.fail(id, logger, fmt.Errorf("dependency check: %w", err))
		return
	}

	r.registry.Update(id, func(j *Job) {
		j.Stage = StageDuration
		j.Status = "resolving video duration"
	})
	videoSeconds := r.duration.Duration(ctx, job.VideoID)
	r.logf(id, "video duration resolved: %ds", videoSeconds)

	segments := r.clampToVideo(id, job.Segments, float64(videoSeconds))
	if len(segments) == 0 {
		r.fail(id, logger, fmt.Errorf("no segments remain within the %ds video", videoSeconds))
		return
	}

	r.registry.Update(id, func(j *Job) {
		j.Segments = segments
		j.Percent = basePercent
	})

	weights := stageWeights(job.BurnSubtitles)
	share := float64(100-basePercent) / float64(len(segments))

	successes := 0
	for i, seg := range segments {
		spec := ClipSpec{
			Index:            i,
			Total:            len(segments),
			VideoID:          job.VideoID,
			Start:            seg.Start,
			End:              seg.End,
			Crop:             job.Crop,
			BurnSubtitles:    job.BurnSubtitles,
			SubtitlePosition: job.SubtitlePosition,
			OutputDir:        job.OutputDir,
		}

		progress := func(stage Stage, fraction float64) {
			if fraction < 0 {
				fraction = 0
			} else if fraction > 1 {
				fraction = 1
			}
			clipFraction := weights.completedBefore(stage) + weights.of(stage)*fraction
			percent := basePercent + share*(float64(i)+clipFraction)
			if percent > 99 {
				percent = 99
			}
			eta := estimateETA(r.now().Sub(startedAt), percent)
			r.registry.Update(id, func(j *Job) {
				if percent > j.Percent {
					j.Percent = percent
				}
				j.Stage = stage
				j.Status = fmt.Sprintf("clip %d/%d: %s", i+1, len(segments), stage)
				j.ETA = eta
			})
		}

		logf := func(format string, args ...any) {
			r.logf(id, format, args...)
		}

		outPath, err := r.renderer.Render(ctx, spec, progress, logf)
		if err != nil {
			logger.Warn("clip render failed", "clip", i+1, "error", err)
			r.logf(id, "clip %d/%d failed: %v", i+1, len(segments), err)
			r.registry.Update(id, func(j *Job) {
				j.Warnings = append(j.Warnings, fmt.Sprintf("clip %d failed: %v", i+1, err))
			})
			continue
		}
		successes++
		r.logf(id, "clip %d/%d finished: %s", i+1, len(segments), outPath)
		r.registry.Update(id, func(j *Job) {
			j.SuccessCount = successes
			j.OutputFiles = append(j.OutputFiles, outPath)
		})
	}

	if successes == 0 {
		r.fail(id, logger, fmt.Errorf("all %d clip(s) failed to render", len(segments)))
		return
	}

	finishedAt := r.now()
	r.registry.Update(id, func(j *Job) {
		j.Running = false
		j.Done = true
		j.Percent = 100
		j.Stage = StageDone
		j.Status = fmt.Sprintf("done: %d/%d clip(s) rendered", successes, len(segments))
		j.ETA = ""
		j.FinishedAt = finishedAt
	})
	logger.Info("job finished", "clips_ok", successes, "clips_total", len(segments),
		"elapsed", finishedAt.Sub(startedAt).Round(time.Second))
}

// clampToVideo trims segment bounds to the resolved video length. Segments
// starting past the end are dropped; overruns are trimmed. Both produce
// warnings, not failures.
func (r *Runner) clampToVideo(id string, segments []SegmentRequest, videoSeconds float64) []SegmentRequest {
	var out []SegmentRequest
	for i, seg := range segments {
		if seg.Start >= videoSeconds {
			r.logf(id, "segment %d dropped: starts at %.1fs but video ends at %.1fs", i+1, seg.Start, videoSeconds)
			r.registry.Update(id, func(j *Job) {
				j.Warnings = append(j.Warnings, fmt.Sprintf("segment %d dropped: starts past video end", i+1))
			})
			continue
		}
		if seg.End > videoSeconds {
			r.logf(id, "segment %d trimmed to video end at %.1fs", i+1, videoSeconds)
			r.registry.Update(id, func(j *Job) {
				j.Warnings = append(j.Warnings, fmt.Sprintf("segment %d trimmed to video end", i+1))
			})
			seg.End = videoSeconds
		}
		if seg.End-seg.Start < r.opts.MinClipSeconds {
			r.logf(id, "segment %d dropped: too short after trimming", i+1)
			r.registry.Update(id, func(j *Job) {
				j.Warnings = append(j.Warnings, fmt.Sprintf("segment %d dropped: too short after trimming", i+1))
			})
			continue
		}
		out = append(out, seg)
	}
	return out
}

func (r *Runner) fail(id string, logger *slog.Logger, err error) {
	logger.Error("job failed", "error", err)
	r.logf(id, "job failed: %v", err)
	finishedAt := r.now()
	r.registry.Update(id, func(j *Job) {
		j.Running = false
		j.Done = true
		j.Stage = StageError
		j.Status = "failed"
		j.Error = err.Error()
		j.ETA = ""
		j.FinishedAt = finishedAt
	})
}

func (r *Runner) logf(id, format string, args ...any) {
	line := fmt.Sprintf("[%s] %s", r.now().Format("15:04:05"), fmt.Sprintf(format, args...))
	r.registry.AppendLog(id, line)
}

// clipWeights maps render stages to their share of one clip's progress.
type clipWeights struct {
	order   []Stage
	weights map[Stage]float64
}

func stageWeights(burnSubtitles bool) clipWeights {
	if burnSubtitles {
		return clipWeights{
			order: []Stage{StageDownload, StageClip, StageSubtitle, StageSubtitleBurn},
			weights: map[Stage]float64{
				StageDownload:     0.55,
				StageClip:         0.35,
				StageSubtitle:     0.07,
				StageSubtitleBurn: 0.03,
			},
		}
	}
	return clipWeights{
		order: []Stage{StageDownload, StageClip},
		weights: map[Stage]float64{
			StageDownload: 0.60,
			StageClip:     0.40,
		},
	}
}

func (w clipWeights) of(stage Stage) float64 {
	return w.weights[stage]
}

func (w clipWeights) completedBefore(stage Stage) float64 {
	total := 0.0
	for _, s := range w.order {
		if s == stage {
			break
		}
		total += w.weights[s]
	}
	return total
}

// estimateETA projects time remaining from elapsed time and percent done,
// formatted as HH:MM:SS. Below a usable percent it returns empty.
func estimateETA(elapsed time.Duration, percent float64) string {
	if percent <= 0 || percent >= 100 {
		return ""
	}
	remaining := time.Duration(float64(elapsed) * (100 - percent) / percent)
	return formatHHMMSS(remaining)
}

func formatHHMMSS(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Round(time.Second) / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
