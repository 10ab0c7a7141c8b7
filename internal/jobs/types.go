// Package jobs tracks asynchronous clip render jobs: a concurrency-safe
// registry of job state and a runner that drives each job through its
// stages with percent and ETA reporting.
package jobs

import "time"

// Stage identifies where a job is in its lifecycle. Stages advance in
// order; error and done are terminal.
type Stage string

const (
	StageQueued       Stage = "queued"
	StageDependency   Stage = "dependency"
	StageDuration     Stage = "duration"
	StageDownload     Stage = "download"
	StageClip         Stage = "clip"
	StageSubtitle     Stage = "subtitle"
	StageSubtitleBurn Stage = "subtitle_burn"
	StageDone         Stage = "done"
	StageError        Stage = "error"
)

// CropMode selects the vertical reframing applied to each clip.
type CropMode string

const (
	CropDefault    CropMode = "default"
	CropSplitLeft  CropMode = "split_left"
	CropSplitRight CropMode = "split_right"
)

// SegmentRequest is one requested clip window in seconds from video start.
type SegmentRequest struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Request is a job submission.
type Request struct {
	VideoID          string
	Segments         []SegmentRequest
	Crop             CropMode
	BurnSubtitles    bool
	SubtitlePosition string
	// ApplyPadding widens each segment symmetrically by the configured
	// padding before trimming. Off unless the caller asks for it.
	ApplyPadding bool
}

// Job is the full state of one render job. Registry methods hand out
// copies; the runner mutates only through Registry.Update.
type Job struct {
	ID               string
	VideoID          string
	Crop             CropMode
	BurnSubtitles    bool
	SubtitlePosition string
	Segments         []SegmentRequest

	Running      bool
	Done         bool
	Percent      float64
	Stage        Stage
	Status       string
	ETA          string
	Error        string
	Warnings     []string
	Logs         []string
	OutputDir    string
	OutputFiles  []string
	SuccessCount int

	EstimatedBytes int64

	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}
