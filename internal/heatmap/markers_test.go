package heatmap

import (
	"encoding/json"
	"reflect"
	"testing"
)

func decode(t *testing.T, raw string) any {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		t.Fatalf("bad test json: %v", err)
	}
	return v
}

func TestCollectMarkers_AnyNestingDepth(t *testing.T) {
	root := decode(t, `{
		"a": {"b": [{"heatMarkerRenderer": {"startMillis": "1000", "durationMillis": "2000"}}]},
		"c": {"markers": [
			{"heatMarkerRenderer": {"startMillis": "3000", "durationMillis": "1000"}},
			{"startMillis": "5000", "durationMillis": "1000"}
		]},
		"d": {"heatMarkers": [{"heatMarkerRenderer": {"startMillis": "7000", "durationMillis": "1000"}}]}
	}`)
	got := CollectMarkers(root, 0)
	if len(got) < 4 {
		t.Fatalf("collected %d markers, want at least 4", len(got))
	}
}

func TestCollectMarkers_NodeCeiling(t *testing.T) {
	root := decode(t, `{"a":{"b":{"c":{"heatMarkerRenderer":{"startMillis":"1","durationMillis":"1"}}}}}`)
	if got := CollectMarkers(root, 2); len(got) != 0 {
		t.Errorf("node ceiling ignored: collected %d markers", len(got))
	}
}

func TestCollectChapterStarts(t *testing.T) {
	root := decode(t, `{"chapters":[
		{"chapterRenderer": {"timeRangeStartMillis": 30000}},
		{"chapterRenderer": {"startMillis": "10000"}},
		{"chapterRenderer": {"timeRangeStartMillis": 30000}},
		{"chapterRenderer": {"title": "no start"}}
	]}`)
	got := CollectChapterStarts(root, 0)
	want := []float64{10, 30}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("CollectChapterStarts() = %v, want %v", got, want)
	}
}

func markerRecord(startMS, durMS float64, score float64) map[string]any {
	return map[string]any{
		"startMillis":              startMS,
		"durationMillis":           durMS,
		"intensityScoreNormalized": score,
	}
}

func TestNormalize_DedupKeepsHigherScore(t *testing.T) {
	// Same (start, duration) key, different scores, both input orders.
	orders := [][]map[string]any{
		{markerRecord(10000, 5000, 0.9), markerRecord(10000, 5000, 0.3)},
		{markerRecord(10000, 5000, 0.3), markerRecord(10000, 5000, 0.9)},
	}
	for _, markers := range orders {
		got := Normalize(markers, 180)
		if len(got) != 1 {
			t.Fatalf("len = %d, want 1", len(got))
		}
		want := Segment{Start: 10, Duration: 5, Score: 0.9}
		if got[0] != want {
			t.Errorf("Normalize() = %+v, want %+v", got[0], want)
		}
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	markers := []map[string]any{
		markerRecord(0, 3000, 0.5),
		markerRecord(10000, 5000, 0.9),
		markerRecord(10000, 5000, 0.3),
		markerRecord(20000, 4000, 0.7),
	}
	once := Normalize(markers, 180)

	// Feed the normalized output back through as marker records.
	again := make([]map[string]any, len(once))
	for i, s := range once {
		again[i] = markerRecord(s.Start*1000, s.Duration*1000, s.Score)
	}
	twice := Normalize(again, 180)

	if !reflect.DeepEqual(once, twice) {
		t.Errorf("normalize not idempotent:\nonce:  %+v\ntwice: %+v", once, twice)
	}
}

func TestNormalize_DiscardsInvalid(t *testing.T) {
	markers := []map[string]any{
		{"durationMillis": 5000.0},                          // no start
		{"startMillis": 1000.0},                             // no duration
		{"startMillis": 1000.0, "durationMillis": 0.0},      // zero duration
		{"startMillis": 1000.0, "durationMillis": -500.0},   // negative duration
		{"startMillis": "junk", "durationMillis": "5000"},   // non-numeric start
		markerRecord(2000, 3000, 0.4),                       // valid
	}
	got := Normalize(markers, 180)
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1: %+v", len(got), got)
	}
}

func TestNormalize_WrappedRendererAndAliases(t *testing.T) {
	markers := []map[string]any{
		{"heatMarkerRenderer": map[string]any{
			"timeRangeStartMillis":    "4000",
			"timeRangeDurationMillis": "2000",
			"heatMarkerIntensityScore": 0.8,
		}},
	}
	got := Normalize(markers, 180)
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	want := Segment{Start: 4, Duration: 2, Score: 0.8}
	if got[0] != want {
		t.Errorf("got %+v, want %+v", got[0], want)
	}
}

func TestNormalize_CapsDurationAndScoreDefaultsToZero(t *testing.T) {
	markers := []map[string]any{
		{"startMillis": 0.0, "durationMillis": 400000.0},
	}
	got := Normalize(markers, 180)
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].Duration != 180 {
		t.Errorf("duration = %v, want capped 180", got[0].Duration)
	}
	if got[0].Score != 0 {
		t.Errorf("score = %v, want 0", got[0].Score)
	}
}

func TestNormalize_SortOrder(t *testing.T) {
	markers := []map[string]any{
		markerRecord(30000, 5000, 0.5),
		markerRecord(10000, 5000, 0.5),
		markerRecord(20000, 5000, 0.9),
	}
	got := Normalize(markers, 180)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].Start != 20 {
		t.Errorf("highest score first: got start %v", got[0].Start)
	}
	if got[1].Start != 10 || got[2].Start != 30 {
		t.Errorf("score ties must order by ascending start: %+v", got)
	}
}

func TestSelectSegments_ThresholdFallbackLaw(t *testing.T) {
	items := []Segment{
		{Start: 0, Duration: 5, Score: 0.30},
		{Start: 10, Duration: 5, Score: 0.20},
		{Start: 20, Duration: 5, Score: 0.10},
	}

	// Nothing clears the threshold: non-empty, capped at fallback limit.
	got := SelectSegments(items, 0.5, 2)
	if len(got) != 2 {
		t.Fatalf("fallback len = %d, want 2", len(got))
	}
	if got[0].Score != 0.30 {
		t.Errorf("fallback must keep highest scores first: %+v", got)
	}

	// One clears the threshold: only thresholded markers survive.
	got = SelectSegments(items, 0.25, 2)
	if len(got) != 1 || got[0].Score != 0.30 {
		t.Errorf("threshold filter = %+v, want exactly the 0.30 segment", got)
	}
}

func TestBuildChapterSegments(t *testing.T) {
	got := BuildChapterSegments([]float64{60, 300}, 600, 180)
	want := []Segment{
		{Start: 0, Duration: 60},
		{Start: 60, Duration: 180},
		{Start: 300, Duration: 180},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("BuildChapterSegments() = %+v, want %+v", got, want)
	}

	if got := BuildChapterSegments(nil, 600, 180); got != nil {
		t.Errorf("no chapters must yield nil, got %+v", got)
	}
	if got := BuildChapterSegments([]float64{60}, 0, 180); got != nil {
		t.Errorf("unknown duration must yield nil, got %+v", got)
	}
}
