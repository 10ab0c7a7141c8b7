package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

type stubChecker struct{ err error }

func (s stubChecker) Check(ctx context.Context) error { return s.err }

type stubDuration struct{ seconds int }

func (s stubDuration) Duration(ctx context.Context, videoID string) int { return s.seconds }

// stubRenderer walks the full stage sequence for each clip and fails the
// indexes listed in failClips.
type stubRenderer struct {
	failClips map[int]bool
	rendered  []ClipSpec
}

func (s *stubRenderer) Render(ctx context.Context, spec ClipSpec, progress StageProgress, logf func(string, ...any)) (string, error) {
	s.rendered = append(s.rendered, spec)
	stages := []Stage{StageDownload, StageClip}
	if spec.BurnSubtitles {
		stages = append(stages, StageSubtitle, StageSubtitleBurn)
	}
	for _, stage := range stages {
		progress(stage, 0)
		progress(stage, 1)
	}
	logf("rendered clip %d", spec.Index+1)
	if s.failClips[spec.Index] {
		return "", errors.New("ffmpeg exited 1")
	}
	return fmt.Sprintf("/out/clip_%d.mp4", spec.Index+1), nil
}

func newTestRunner(t *testing.T, renderer Renderer, checker DependencyChecker, durationSeconds int, opts Options) (*Runner, *Registry) {
	t.Helper()
	if opts.MaxClipSeconds == 0 {
		opts.MaxClipSeconds = 180
	}
	registry := NewRegistry(time.Hour)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRunner(registry, renderer, stubDuration{durationSeconds}, checker, opts, logger), registry
}

func waitDone(t *testing.T, registry *Registry, id string) Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if job, ok := registry.Get(id); ok && job.Done {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish in time", id)
	return Job{}
}

func TestSubmitValidation(t *testing.T) {
	runner, _ := newTestRunner(t, &stubRenderer{}, stubChecker{}, 600, Options{})

	if _, err := runner.Submit(context.Background(), Request{Segments: []SegmentRequest{{0, 10}}}); err == nil {
		t.Error("expected error for missing video_id")
	}
	if _, err := runner.Submit(context.Background(), Request{VideoID: "abc"}); err == nil {
		t.Error("expected error for no segments")
	}
	if _, err := runner.Submit(context.Background(), Request{
		VideoID:  "abc",
		Crop:     "diagonal",
		Segments: []SegmentRequest{{0, 10}},
	}); err == nil {
		t.Error("expected error for unknown crop mode")
	}
	if _, err := runner.Submit(context.Background(), Request{
		VideoID:  "abc",
		Segments: []SegmentRequest{{10, 10.2}},
	}); err == nil {
		t.Error("expected error when every segment is dropped")
	}
}

func TestSubmitRejectsMalformedBounds(t *testing.T) {
	runner, registry := newTestRunner(t, &stubRenderer{}, stubChecker{}, 600, Options{})

	// One bad segment rejects the whole submission, even alongside a good one.
	if _, err := runner.Submit(context.Background(), Request{
		VideoID:  "abc",
		Segments: []SegmentRequest{{10, 5}, {0, 30}},
	}); err == nil || !strings.Contains(err.Error(), "not after start") {
		t.Errorf("expected rejection for end before start, got %v", err)
	}
	if _, err := runner.Submit(context.Background(), Request{
		VideoID:  "abc",
		Segments: []SegmentRequest{{20, 20}},
	}); err == nil {
		t.Error("expected rejection for zero-length segment")
	}
	if _, err := runner.Submit(context.Background(), Request{
		VideoID:  "abc",
		Segments: []SegmentRequest{{-5, 10}},
	}); err == nil || !strings.Contains(err.Error(), "negative") {
		t.Errorf("expected rejection for negative start, got %v", err)
	}
	if len(registry.List()) != 0 {
		t.Error("rejected submissions must not create jobs")
	}
}

func TestSubmitPaddingIsOptIn(t *testing.T) {
	runner, _ := newTestRunner(t, &stubRenderer{}, stubChecker{}, 600, Options{PaddingSeconds: 2})

	job, err := runner.Submit(context.Background(), Request{
		VideoID:  "abc",
		Segments: []SegmentRequest{{10, 40}},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if job.Segments[0].Start != 10 || job.Segments[0].End != 40 {
		t.Errorf("segment padded without opt-in: %+v", job.Segments[0])
	}

	job, err = runner.Submit(context.Background(), Request{
		VideoID:      "abc",
		Segments:     []SegmentRequest{{10, 40}},
		ApplyPadding: true,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if job.Segments[0].Start != 8 || job.Segments[0].End != 42 {
		t.Errorf("segment = %+v, want [8, 42] with padding", job.Segments[0])
	}
}

func TestSubmitTrimsOversizedSegments(t *testing.T) {
	renderer := &stubRenderer{}
	runner, registry := newTestRunner(t, renderer, stubChecker{}, 2000, Options{MaxClipSeconds: 180})

	job, err := runner.Submit(context.Background(), Request{
		VideoID:  "abc",
		Segments: []SegmentRequest{{0, 650}},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(job.Warnings) != 1 || !strings.Contains(job.Warnings[0], "trimmed") {
		t.Errorf("expected a trim warning, got %v", job.Warnings)
	}
	if job.Segments[0].End != 180 {
		t.Errorf("segment end = %v, want 180 after trim", job.Segments[0].End)
	}

	done := waitDone(t, registry, job.ID)
	if done.Stage != StageDone {
		t.Errorf("stage = %s, want done", done.Stage)
	}
}

func TestSubmitEstimatesSize(t *testing.T) {
	runner, _ := newTestRunner(t, &stubRenderer{}, stubChecker{}, 600, Options{MaxClipSeconds: 180})

	job, err := runner.Submit(context.Background(), Request{
		VideoID:  "abc",
		Segments: []SegmentRequest{{0, 40}, {100, 160}},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	want := int64(100 * estimatedBitrate / 8)
	if job.EstimatedBytes != want {
		t.Errorf("EstimatedBytes = %d, want %d", job.EstimatedBytes, want)
	}
}

func TestJobRunsToCompletion(t *testing.T) {
	renderer := &stubRenderer{}
	runner, registry := newTestRunner(t, renderer, stubChecker{}, 600, Options{})

	job, err := runner.Submit(context.Background(), Request{
		VideoID:  "abc",
		Segments: []SegmentRequest{{0, 30}, {60, 90}},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	done := waitDone(t, registry, job.ID)
	if done.Percent != 100 || done.Stage != StageDone || done.Running {
		t.Errorf("unexpected terminal state: %+v", done)
	}
	if done.SuccessCount != 2 || len(done.OutputFiles) != 2 {
		t.Errorf("SuccessCount = %d, OutputFiles = %v", done.SuccessCount, done.OutputFiles)
	}
	if len(renderer.rendered) != 2 {
		t.Fatalf("renderer called %d times, want 2", len(renderer.rendered))
	}
	if renderer.rendered[0].Total != 2 || renderer.rendered[1].Index != 1 {
		t.Errorf("unexpected clip specs: %+v", renderer.rendered)
	}
	if len(done.Logs) == 0 {
		t.Error("expected job log lines")
	}
}

func TestFailSoftKeepsSurvivingClips(t *testing.T) {
	renderer := &stubRenderer{failClips: map[int]bool{1: true}}
	runner, registry := newTestRunner(t, renderer, stubChecker{}, 600, Options{})

	job, _ := runner.Submit(context.Background(), Request{
		VideoID:  "abc",
		Segments: []SegmentRequest{{0, 30}, {60, 90}, {120, 150}},
	})

	done := waitDone(t, registry, job.ID)
	if done.Stage != StageDone || done.Error != "" {
		t.Errorf("partial failure must still finish done: %+v", done)
	}
	if done.SuccessCount != 2 {
		t.Errorf("SuccessCount = %d, want 2", done.SuccessCount)
	}
	found := false
	for _, w := range done.Warnings {
		if strings.Contains(w, "clip 2 failed") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a warning for the failed clip, got %v", done.Warnings)
	}
}

func TestAllClipsFailedFailsJob(t *testing.T) {
	renderer := &stubRenderer{failClips: map[int]bool{0: true, 1: true}}
	runner, registry := newTestRunner(t, renderer, stubChecker{}, 600, Options{})

	job, _ := runner.Submit(context.Background(), Request{
		VideoID:  "abc",
		Segments: []SegmentRequest{{0, 30}, {60, 90}},
	})

	done := waitDone(t, registry, job.ID)
	if done.Stage != StageError || done.Error == "" {
		t.Errorf("expected error stage when every clip fails: %+v", done)
	}
}

func TestDependencyFailureFailsJob(t *testing.T) {
	runner, registry := newTestRunner(t, &stubRenderer{}, stubChecker{err: errors.New("ffmpeg missing")}, 600, Options{})

	job, _ := runner.Submit(context.Background(), Request{
		VideoID:  "abc",
		Segments: []SegmentRequest{{0, 30}},
	})

	done := waitDone(t, registry, job.ID)
	if done.Stage != StageError || !strings.Contains(done.Error, "ffmpeg missing") {
		t.Errorf("unexpected terminal state: %+v", done)
	}
}

func TestSegmentsClampedToVideoEnd(t *testing.T) {
	renderer := &stubRenderer{}
	runner, registry := newTestRunner(t, renderer, stubChecker{}, 100, Options{})

	job, _ := runner.Submit(context.Background(), Request{
		VideoID:  "abc",
		Segments: []SegmentRequest{{50, 150}, {200, 230}},
	})

	done := waitDone(t, registry, job.ID)
	if done.SuccessCount != 1 {
		t.Fatalf("SuccessCount = %d, want 1", done.SuccessCount)
	}
	if renderer.rendered[0].End != 100 {
		t.Errorf("clip end = %v, want clamped to 100", renderer.rendered[0].End)
	}
	trimWarn, dropWarn := false, false
	for _, w := range done.Warnings {
		if strings.Contains(w, "trimmed to video end") {
			trimWarn = true
		}
		if strings.Contains(w, "starts past video end") {
			dropWarn = true
		}
	}
	if !trimWarn || !dropWarn {
		t.Errorf("expected both trim and drop warnings, got %v", done.Warnings)
	}
}

func TestProgressIsMonotonic(t *testing.T) {
	registry := NewRegistry(time.Hour)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var percents []float64
	renderer := renderFunc(func(ctx context.Context, spec ClipSpec, progress StageProgress, logf func(string, ...any)) (string, error) {
		for _, stage := range []Stage{StageDownload, StageClip} {
			for _, f := range []float64{0, 0.5, 1} {
				progress(stage, f)
			}
		}
		job := registry.List()[0]
		percents = append(percents, job.Percent)
		return "/out/clip.mp4", nil
	})

	runner := NewRunner(registry, renderer, stubDuration{600}, stubChecker{}, Options{MaxClipSeconds: 180}, logger)
	job, err := runner.Submit(context.Background(), Request{
		VideoID:  "abc",
		Segments: []SegmentRequest{{0, 30}, {60, 90}, {120, 150}},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	waitDone(t, registry, job.ID)
	for i := 1; i < len(percents); i++ {
		if percents[i] < percents[i-1] {
			t.Fatalf("percent went backwards: %v", percents)
		}
	}
	if len(percents) > 0 && percents[len(percents)-1] > 99 {
		t.Errorf("percent must stay below 100 until the job finishes: %v", percents)
	}
}

type renderFunc func(ctx context.Context, spec ClipSpec, progress StageProgress, logf func(string, ...any)) (string, error)

func (f renderFunc) Render(ctx context.Context, spec ClipSpec, progress StageProgress, logf func(string, ...any)) (string, error) {
	return f(ctx, spec, progress, logf)
}

func TestStageWeightsSumToOne(t *testing.T) {
	for _, burn := range []bool{true, false} {
		w := stageWeights(burn)
		total := 0.0
		for _, s := range w.order {
			total += w.of(s)
		}
		if total < 0.999 || total > 1.001 {
			t.Errorf("weights for burn=%v sum to %v", burn, total)
		}
	}
}

func TestEstimateETA(t *testing.T) {
	if got := estimateETA(time.Minute, 50); got != "00:01:00" {
		t.Errorf("eta at 50%% after 1m = %q, want 00:01:00", got)
	}
	if got := estimateETA(time.Minute, 0); got != "" {
		t.Errorf("eta at 0%% = %q, want empty", got)
	}
	if got := estimateETA(time.Minute, 100); got != "" {
		t.Errorf("eta at 100%% = %q, want empty", got)
	}
	if got := formatHHMMSS(3723 * time.Second); got != "01:02:03" {
		t.Errorf("formatHHMMSS = %q", got)
	}
}
