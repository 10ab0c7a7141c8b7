package transcript

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestExtractCaptionURL(t *testing.T) {
	tests := []struct {
		name string
		page string
		want string
	}{
		{
			"plain ampersands",
			`{"captions":{"playerCaptionsTracklistRenderer":{"captionTracks":[{"baseUrl":"https:\/\/www.youtube.com\/api\/timedtext?v=abc&lang=en","languageCode":"en"}]}}}`,
			"https://www.youtube.com/api/timedtext?v=abc&lang=en",
		},
		{
			// Watch pages serve the query separators as JSON unicode escapes.
			"u0026 escapes",
			`{"captionTracks":[{"baseUrl":"https:\/\/www.youtube.com\/api\/timedtext?v=abc\u0026lang=en\u0026fmt=srv1"}]}`,
			"https://www.youtube.com/api/timedtext?v=abc&lang=en&fmt=srv1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractCaptionURL(tt.page)
			if err != nil {
				t.Fatalf("extractCaptionURL: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractCaptionURLMissing(t *testing.T) {
	if _, err := extractCaptionURL(`<html>no captions here</html>`); err == nil {
		t.Error("expected error for page without caption tracks")
	}
}

func TestParseTimedText(t *testing.T) {
	data := []byte(`<?xml version="1.0" encoding="utf-8"?>
<transcript>
  <text start="0.5" dur="2.1">hello &amp; welcome</text>
  <text start="2.6" dur="1.9">second line</text>
  <text start="4.5" dur="0">skipped</text>
  <text start="5.0" dur="2.0">   </text>
</transcript>`)

	cues, err := parseTimedText(data)
	if err != nil {
		t.Fatalf("parseTimedText: %v", err)
	}
	if len(cues) != 2 {
		t.Fatalf("got %d cues, want 2", len(cues))
	}
	if cues[0].Text != "hello & welcome" {
		t.Errorf("entities not unescaped: %q", cues[0].Text)
	}
	if cues[0].Start != 0.5 || cues[0].Duration != 2.1 {
		t.Errorf("timing mismatch: %+v", cues[0])
	}
}

func TestParseTimedTextEmpty(t *testing.T) {
	if _, err := parseTimedText([]byte(`<transcript></transcript>`)); err == nil {
		t.Error("expected error for empty transcript")
	}
}

func TestCuesEndToEnd(t *testing.T) {
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/watch", func(w http.ResponseWriter, r *http.Request) {
		captions := strings.ReplaceAll(srv.URL, "/", `\/`) + `\/api\/timedtext?v=abc`
		fmt.Fprintf(w, `{"captionTracks":[{"baseUrl":"%s"}]}`, captions)
	})
	mux.HandleFunc("/api/timedtext", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<transcript><text start="1.0" dur="3.0">a line</text></transcript>`)
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(testLogger())
	c.baseURL = srv.URL

	cues, err := c.Cues(context.Background(), "abc")
	if err != nil {
		t.Fatalf("Cues: %v", err)
	}
	if len(cues) != 1 || cues[0].Text != "a line" {
		t.Fatalf("unexpected cues: %+v", cues)
	}
}

func TestBuildCandidates(t *testing.T) {
	// Dense, emphatic speech in the middle; sparse elsewhere.
	var cues []Cue
	for i := 0; i < 10; i++ {
		cues = append(cues, Cue{Start: float64(i * 10), Duration: 4, Text: "some words here"})
	}
	for i := 0; i < 8; i++ {
		cues = append(cues, Cue{Start: 100 + float64(i*3), Duration: 2, Text: "this is absolutely insane what a moment wow!"})
	}
	for i := 0; i < 10; i++ {
		cues = append(cues, Cue{Start: 130 + float64(i*10), Duration: 4, Text: "winding down now"})
	}

	segments := BuildCandidates(cues, 180)
	if len(segments) == 0 {
		t.Fatal("expected candidates")
	}
	best := segments[0]
	if best.Score != 1.0 {
		t.Errorf("top candidate score = %v, want 1.0", best.Score)
	}
	if best.Start < 80 || best.Start > 120 {
		t.Errorf("top candidate start = %v, want within the dense region", best.Start)
	}
	for i := 1; i < len(segments); i++ {
		if segments[i].Score > segments[i-1].Score {
			t.Errorf("candidates not sorted by score at %d", i)
		}
	}
}

func TestBuildCandidatesRespectsMaxClip(t *testing.T) {
	cues := []Cue{{Start: 0, Duration: 5, Text: "only line"}}
	segments := BuildCandidates(cues, 10)
	for _, s := range segments {
		if s.Duration > 10 {
			t.Errorf("segment duration %v exceeds cap", s.Duration)
		}
	}
}

func TestBuildCandidatesEmpty(t *testing.T) {
	if got := BuildCandidates(nil, 180); got != nil {
		t.Errorf("expected nil for no cues, got %+v", got)
	}
}
