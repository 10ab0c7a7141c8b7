package transcript

import (
	"regexp"
	"sort"
	"strings"

	"github.com/clipagent/clipagent/internal/heatmap"
)

// windowSeconds is the sliding window used when scoring the caption track.
// Windows advance by half their width so adjacent candidates overlap and
// the busiest moment is not lost on a window boundary.
const (
	windowSeconds = 30.0
	maxCandidates = 12
)

var (
	numberPattern   = regexp.MustCompile(`\d`)
	emphasisMarkers = []string{"!", "?", "wow", "insane", "crazy", "unbelievable", "incredible", "amazing", "finally", "never", "best", "worst"}
)

// BuildCandidates scores overlapping windows of the caption track and
// returns them as segments, highest score first. Scores are normalized to
// [0, 1] against the busiest window so downstream thresholding behaves the
// same as for real popularity markers.
func BuildCandidates(cues []Cue, maxClipSeconds float64) []heatmap.Segment {
	if len(cues) == 0 {
		return nil
	}

	trackEnd := 0.0
	for _, cue := range cues {
		if end := cue.Start + cue.Duration; end > trackEnd {
			trackEnd = end
		}
	}
	if trackEnd <= 0 {
		return nil
	}

	width := windowSeconds
	if maxClipSeconds > 0 && width > maxClipSeconds {
		width = maxClipSeconds
	}

	type window struct {
		start float64
		score float64
	}

	var windows []window
	step := width / 2
	for start := 0.0; start < trackEnd; start += step {
		end := start + width
		score := 0.0
		for _, cue := range cues {
			if cue.Start >= end || cue.Start+cue.Duration <= start {
				continue
			}
			score += scoreCue(cue)
		}
		if score > 0 {
			windows = append(windows, window{start: start, score: score})
		}
	}
	if len(windows) == 0 {
		return nil
	}

	sort.SliceStable(windows, func(i, j int) bool {
		if windows[i].score != windows[j].score {
			return windows[i].score > windows[j].score
		}
		return windows[i].start < windows[j].start
	})

	// Greedy pick, suppressing windows that overlap an already chosen one.
	var picked []window
	for _, w := range windows {
		overlaps := false
		for _, p := range picked {
			if w.start < p.start+width && p.start < w.start+width {
				overlaps = true
				break
			}
		}
		if overlaps {
			continue
		}
		picked = append(picked, w)
		if len(picked) >= maxCandidates {
			break
		}
	}

	top := picked[0].score
	segments := make([]heatmap.Segment, 0, len(picked))
	for _, w := range picked {
		duration := width
		if w.start+duration > trackEnd {
			duration = trackEnd - w.start
		}
		if duration <= 0 {
			continue
		}
		segments = append(segments, heatmap.Segment{
			Start:    w.start,
			Duration: duration,
			Score:    w.score / top,
		})
	}
	return segments
}

// scoreCue weights a caption line by how much is said and how emphatically.
func scoreCue(cue Cue) float64 {
	words := strings.Fields(cue.Text)
	if len(words) == 0 {
		return 0
	}
	score := float64(len(words))
	if cue.Duration > 0 {
		// Fast speech reads as excitement.
		density := float64(len(words)) / cue.Duration
		if density > 3 {
			score *= 1.5
		}
	}
	lower := strings.ToLower(cue.Text)
	for _, marker := range emphasisMarkers {
		if strings.Contains(lower, marker) {
			score *= 1.2
		}
	}
	if numberPattern.MatchString(cue.Text) {
		score *= 1.1
	}
	return score
}
