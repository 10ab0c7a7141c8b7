// Package subtitles builds SRT files from caption cues and generates
// publishing metadata for finished clips.
package subtitles

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/clipagent/clipagent/internal/transcript"
)

// CueSource fetches the timed caption lines for a video.
type CueSource interface {
	Cues(ctx context.Context, videoID string) ([]transcript.Cue, error)
}

// Builder implements the renderer's subtitle boundary by slicing the
// video's caption track to the clip window.
type Builder struct {
	cues CueSource
}

func NewBuilder(cues CueSource) *Builder {
	return &Builder{cues: cues}
}

// WriteSRT writes the cues overlapping [start, end) as an SRT file with
// times shifted so the clip starts at zero.
func (b *Builder) WriteSRT(ctx context.Context, videoID string, start, end float64, path string) error {
	cues, err := b.cues.Cues(ctx, videoID)
	if err != nil {
		return fmt.Errorf("fetch captions: %w", err)
	}

	srt := BuildSRT(cues, start, end)
	if srt == "" {
		return fmt.Errorf("no captions within %.1fs to %.1fs", start, end)
	}
	return os.WriteFile(path, []byte(srt), 0o644)
}

// BuildSRT renders the cues overlapping [start, end) as SRT text. Cue
// times are shifted to clip-relative and clamped to the window.
func BuildSRT(cues []transcript.Cue, start, end float64) string {
	var b strings.Builder
	index := 0
	for _, cue := range cues {
		cueStart := cue.Start
		cueEnd := cue.Start + cue.Duration
		if cueEnd <= start || cueStart >= end {
			continue
		}
		if cueStart < start {
			cueStart = start
		}
		if cueEnd > end {
			cueEnd = end
		}
		if cueEnd-cueStart <= 0 {
			continue
		}
		index++
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n",
			index,
			srtTimestamp(cueStart-start),
			srtTimestamp(cueEnd-start),
			cue.Text,
		)
	}
	return b.String()
}

func srtTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	d := time.Duration(seconds * float64(time.Second))
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	ms := int(d.Milliseconds()) % 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}
