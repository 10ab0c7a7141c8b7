package heatmap

import (
	"sort"
	"strconv"
)

// Segment is a normalized, de-duplicated time range produced by discovery.
// Start and Duration are in seconds; Score is a relative intensity, usually
// in [0,1] but not bounded by contract.
type Segment struct {
	Start    float64
	Duration float64
	Score    float64
}

// Field-name aliases for marker records, in priority order: the first alias
// present on a record wins. The page has no official schema and these names
// drift between revisions.
var (
	startAliases    = []string{"startMillis", "timeRangeStartMillis"}
	durationAliases = []string{"durationMillis", "timeRangeDurationMillis"}
	scoreAliases    = []string{
		"intensityScoreNormalized",
		"heatMarkerIntensityScoreNormalized",
		"heatMarkerIntensityScore",
		"intensityScore",
	}
)

// walkObjects performs a stack-based depth-first traversal of a decoded JSON
// value, invoking fn for every object node. maxNodes bounds the total number
// of visited nodes so pathological input cannot cause unbounded work; zero
// means no limit.
func walkObjects(root any, maxNodes int, fn func(map[string]any)) {
	stack := []any{root}
	seen := 0
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		seen++
		if maxNodes > 0 && seen > maxNodes {
			return
		}
		switch node := cur.(type) {
		case map[string]any:
			fn(node)
			for _, v := range node {
				stack = append(stack, v)
			}
		case []any:
			for _, v := range node {
				stack = append(stack, v)
			}
		}
	}
}

// CollectMarkers gathers every marker-like record in the object graph,
// regardless of nesting path. It recognises heatMarkerRenderer wrappers as
// well as bare entries of "markers" and "heatMarkers" arrays.
func CollectMarkers(root any, maxNodes int) []map[string]any {
	var found []map[string]any
	walkObjects(root, maxNodes, func(d map[string]any) {
		if hm, ok := d["heatMarkerRenderer"].(map[string]any); ok {
			found = append(found, hm)
		}
		if markers, ok := d["markers"].([]any); ok {
			for _, it := range markers {
				m, ok := it.(map[string]any)
				if !ok {
					continue
				}
				if hm, ok := m["heatMarkerRenderer"].(map[string]any); ok {
					found = append(found, hm)
				} else {
					found = append(found, m)
				}
			}
		}
		if markers, ok := d["heatMarkers"].([]any); ok {
			for _, it := range markers {
				m, ok := it.(map[string]any)
				if !ok {
					continue
				}
				if hm, ok := m["heatMarkerRenderer"].(map[string]any); ok {
					found = append(found, hm)
				}
			}
		}
	})
	return found
}

// CollectChapterStarts gathers chapter start offsets (seconds), sorted and
// de-duplicated. Used as a non-scored discovery fallback when the page has
// no popularity markers at all.
func CollectChapterStarts(root any, maxNodes int) []float64 {
	set := map[float64]struct{}{}
	walkObjects(root, maxNodes, func(d map[string]any) {
		cr, ok := d["chapterRenderer"].(map[string]any)
		if !ok {
			return
		}
		raw, ok := cr["timeRangeStartMillis"]
		if !ok {
			raw, ok = cr["startMillis"]
			if !ok {
				return
			}
		}
		ms, ok := asFloat(raw)
		if !ok {
			return
		}
		set[ms/1000.0] = struct{}{}
	})
	starts := make([]float64, 0, len(set))
	for s := range set {
		starts = append(starts, s)
	}
	sort.Float64s(starts)
	return starts
}

// asFloat coerces a decoded JSON value to float64. The page serialises some
// numeric fields as strings ("startMillis": "116000"), so both forms must
// be accepted.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case int:
		return float64(n), true
	}
	return 0, false
}

func resolveAlias(m map[string]any, aliases []string) (float64, bool) {
	for _, k := range aliases {
		v, ok := m[k]
		if !ok {
			continue
		}
		return asFloat(v)
	}
	return 0, false
}

// Normalize turns raw marker records into de-duplicated, score-ranked
// segments. Records lacking a start or duration, or with non-positive
// duration, are discarded. Duplicates by millisecond-precision
// (start, duration) key keep the higher-scoring instance. The result is
// sorted descending by score, ties broken by ascending start then end.
// Durations are capped at maxClipSeconds.
func Normalize(markers []map[string]any, maxClipSeconds float64) []Segment {
	type key struct{ startMS, durMS int64 }
	best := map[key]Segment{}

	for _, marker := range markers {
		if hm, ok := marker["heatMarkerRenderer"].(map[string]any); ok {
			marker = hm
		}
		startMS, ok := resolveAlias(marker, startAliases)
		if !ok {
			continue
		}
		durMS, ok := resolveAlias(marker, durationAliases)
		if !ok {
			continue
		}
		durS := durMS / 1000.0
		if durS <= 0 {
			continue
		}
		startS := startMS / 1000.0
		score, _ := resolveAlias(marker, scoreAliases)

		k := key{int64(startS * 1000), int64(durS * 1000)}
		if prev, ok := best[k]; ok && prev.Score >= score {
			continue
		}
		best[k] = Segment{
			Start:    startS,
			Duration: min(durS, maxClipSeconds),
			Score:    score,
		}
	}

	items := make([]Segment, 0, len(best))
	for _, s := range best {
		items = append(items, s)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		if items[i].Start != items[j].Start {
			return items[i].Start < items[j].Start
		}
		return items[i].Start+items[i].Duration < items[j].Start+items[j].Duration
	})
	return items
}

// SelectSegments applies the minimum-score threshold. If at least one
// segment clears it, only those are returned. Otherwise the top
// fallbackLimit segments are returned regardless of score, so the caller
// still has something actionable rather than nothing.
func SelectSegments(items []Segment, threshold float64, fallbackLimit int) []Segment {
	if fallbackLimit < 1 {
		fallbackLimit = 1
	}
	var filtered []Segment
	for _, it := range items {
		if it.Score >= threshold {
			filtered = append(filtered, it)
		}
	}
	if len(filtered) > 0 {
		return filtered
	}
	if len(items) > fallbackLimit {
		return items[:fallbackLimit]
	}
	return items
}

// BuildChapterSegments synthesizes one segment per chapter by pairing each
// chapter start with the next chapter's start, or the end of the video for
// the last chapter. Segments are capped at maxClipSeconds and carry a zero
// score; chapters are a deterministic, non-scored fallback.
func BuildChapterSegments(chapterStarts []float64, durationSeconds, maxClipSeconds float64) []Segment {
	if len(chapterStarts) == 0 || durationSeconds <= 0 {
		return nil
	}

	starts := make([]float64, 0, len(chapterStarts)+1)
	haveZero := false
	for _, s := range chapterStarts {
		if s < 0 || s >= durationSeconds {
			continue
		}
		if s == 0 {
			haveZero = true
		}
		starts = append(starts, s)
	}
	if !haveZero {
		starts = append([]float64{0}, starts...)
	}
	sort.Float64s(starts)

	var items []Segment
	for i, s := range starts {
		next := durationSeconds
		if i+1 < len(starts) {
			next = starts[i+1]
		}
		end := min(next, min(s+maxClipSeconds, durationSeconds))
		if end-s <= 0 {
			continue
		}
		items = append(items, Segment{Start: s, Duration: end - s})
	}
	return items
}
