// Package heatmap implements most-replayed segment discovery: fetching the
// watch page, carving embedded JSON out of it with balanced-delimiter scans,
// normalizing popularity markers into ranked segments, and caching results.
package heatmap

import (
	"context"
	"log/slog"
	"sort"
	"time"
)

// ClipSegment is the discovery output shape handed to callers: an editable
// time range in whole seconds plus the popularity score it was ranked by.
type ClipSegment struct {
	Enabled bool    `json:"enabled"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Score   float64 `json:"score"`
}

// Diagnostics carries per-request timing and counters, populated when the
// caller asks for debug output.
type Diagnostics struct {
	Cache             string  `json:"cache"`
	CacheAgeSeconds   float64 `json:"cache_age_s,omitempty"`
	FetchWatchMS      int64   `json:"fetch_watch_ms,omitempty"`
	WatchHTMLLen      int     `json:"watch_html_len,omitempty"`
	ParsePlayerMS     int64   `json:"parse_player_response_ms,omitempty"`
	PlayerEndpointMS  int64   `json:"player_endpoint_ms,omitempty"`
	ParseInitialMS    int64   `json:"parse_initial_data_ms,omitempty"`
	TranscriptMS      int64   `json:"transcript_ms,omitempty"`
	MarkersIn         int     `json:"markers_in"`
	MarkersNormalized int     `json:"markers_norm"`
	Threshold         float64 `json:"threshold"`
	TotalMS           int64   `json:"total_ms"`
}

// Result is a discovery outcome. Segments may be empty; Guidance then holds
// a multi-line, cause-differentiated message for the user.
type Result struct {
	Segments    []ClipSegment
	Guidance    string
	Diagnostics *Diagnostics
}

// TranscriptSource supplies heuristic candidate segments derived from the
// video's caption track, used when the page yields no popularity data.
type TranscriptSource interface {
	Segments(ctx context.Context, videoID string, maxClipSeconds float64) ([]Segment, error)
}

// Options are the discovery tuning knobs.
type Options struct {
	MinScore        float64
	FallbackLimit   int
	MaxClipSeconds  float64
	WalkMaxNodes    int
	ScanInitialData bool
	CacheTTL        time.Duration
	SlowThreshold   time.Duration
}

// Service orchestrates the discovery fallback cascade.
type Service struct {
	fetcher     *Fetcher
	cache       *Cache
	transcripts TranscriptSource
	opts        Options
	logger      *slog.Logger
	now         func() time.Time
}

// NewService creates a discovery service. transcripts may be nil to disable
// the transcript-heuristic fallback.
func NewService(fetcher *Fetcher, cache *Cache, transcripts TranscriptSource, opts Options, logger *slog.Logger) *Service {
	return &Service{
		fetcher:     fetcher,
		cache:       cache,
		transcripts: transcripts,
		opts:        opts,
		logger:      logger,
		now:         time.Now,
	}
}

// User guidance for empty results, differentiated by cause.
const (
	guidanceFetchFailed = "Could not reach the video page.\n" +
		"Check your connection and try again in a moment."

	guidanceFormatChanged = "The video page did not contain any recognizable data.\n" +
		"The site format may have changed, or the video may be unavailable.\n" +
		"Verify the link opens in a browser."

	guidanceNoData = "No popularity data was found for this video.\n" +
		"The most-replayed graph only appears on videos with enough views.\n" +
		"You can still enter clip ranges manually."
)

// Discover turns a video id into a ranked segment list. Only a detected
// anti-automation block is returned as an error; every other failure
// resolves to an empty result with guidance, so callers have one simple
// emptiness check plus one distinguished error to handle.
func (s *Service) Discover(ctx context.Context, videoID string, knownDurationSeconds *int, debug bool) (Result, error) {
	started := s.now()
	diag := &Diagnostics{Threshold: s.opts.MinScore}

	finish := func(res Result) Result {
		diag.TotalMS = s.now().Sub(started).Milliseconds()
		if debug {
			res.Diagnostics = diag
		}
		elapsed := time.Duration(diag.TotalMS) * time.Millisecond
		if s.opts.SlowThreshold > 0 && elapsed >= s.opts.SlowThreshold {
			s.logger.Warn("slow discovery",
				"video_id", videoID,
				"total_ms", diag.TotalMS,
				"segments", len(res.Segments),
			)
		}
		return res
	}

	if cached, age, ok := s.cache.Get(videoID, knownDurationSeconds, s.opts.CacheTTL); ok {
		diag.Cache = "hit"
		diag.CacheAgeSeconds = age.Seconds()
		return finish(Result{Segments: cached}), nil
	}
	diag.Cache = "miss"

	t0 := s.now()
	html, err := s.fetcher.FetchWatchPage(ctx, videoID)
	diag.FetchWatchMS = s.now().Sub(t0).Milliseconds()
	if err != nil {
		if IsBlocked(err) {
			return finish(Result{}), err
		}
		s.logger.Warn("watch page fetch failed", "video_id", videoID, "error", err)
		return finish(Result{Guidance: guidanceFetchFailed}), nil
	}
	diag.WatchHTMLLen = len(html)

	var markers []map[string]any
	var chapterStarts []float64
	extractedAnything := false

	t1 := s.now()
	if root := ExtractAssignedObject(html, "ytInitialPlayerResponse"); root != nil {
		extractedAnything = true
		markers = append(markers, CollectMarkers(root, 0)...)
		chapterStarts = append(chapterStarts, CollectChapterStarts(root, 0)...)
	}
	diag.ParsePlayerMS = s.now().Sub(t1).Milliseconds()

	if len(markers) == 0 {
		if cfg := ExtractPlayerConfig(html); cfg != nil {
			extractedAnything = true
			t2 := s.now()
			player := s.fetcher.FetchPlayer(ctx, videoID, cfg, s.fetcher.WatchURL(videoID))
			diag.PlayerEndpointMS = s.now().Sub(t2).Milliseconds()
			if player != nil {
				markers = append(markers, CollectMarkers(player, 0)...)
				chapterStarts = append(chapterStarts, CollectChapterStarts(player, 0)...)
			}
		}
	}

	if len(markers) == 0 {
		if arr := ExtractKeyArray(html, "markers"); arr != nil {
			extractedAnything = true
			for _, it := range arr {
				if m, ok := it.(map[string]any); ok {
					markers = append(markers, m)
				}
			}
		}
	}

	if len(markers) == 0 && s.opts.ScanInitialData {
		t3 := s.now()
		if root := ExtractAssignedObject(html, "ytInitialData"); root != nil {
			extractedAnything = true
			markers = append(markers, CollectMarkers(root, s.opts.WalkMaxNodes)...)
			chapterStarts = append(chapterStarts, CollectChapterStarts(root, s.opts.WalkMaxNodes)...)
		}
		diag.ParseInitialMS = s.now().Sub(t3).Milliseconds()
	}

	diag.MarkersIn = len(markers)

	items := Normalize(markers, s.opts.MaxClipSeconds)
	diag.MarkersNormalized = len(items)

	if len(items) > 0 {
		selected := SelectSegments(items, s.opts.MinScore, s.opts.FallbackLimit)
		segments := toClipSegments(selected)
		s.cache.Put(videoID, knownDurationSeconds, segments)
		return finish(Result{Segments: segments}), nil
	}

	if s.transcripts != nil {
		t4 := s.now()
		heuristic, terr := s.transcripts.Segments(ctx, videoID, s.opts.MaxClipSeconds)
		diag.TranscriptMS = s.now().Sub(t4).Milliseconds()
		if terr != nil {
			s.logger.Debug("transcript fallback unavailable", "video_id", videoID, "error", terr)
		} else if len(heuristic) > 0 {
			limit := s.opts.FallbackLimit
			if limit < 1 {
				limit = 1
			}
			if len(heuristic) > limit {
				heuristic = heuristic[:limit]
			}
			segments := toClipSegments(heuristic)
			s.cache.Put(videoID, knownDurationSeconds, segments)
			return finish(Result{Segments: segments}), nil
		}
	}

	if len(chapterStarts) > 0 && knownDurationSeconds != nil {
		chapters := BuildChapterSegments(chapterStarts, float64(*knownDurationSeconds), s.opts.MaxClipSeconds)
		limit := s.opts.FallbackLimit
		if limit < 1 {
			limit = 1
		}
		if len(chapters) > limit {
			chapters = chapters[:limit]
		}
		if len(chapters) > 0 {
			segments := toClipSegments(chapters)
			s.cache.Put(videoID, knownDurationSeconds, segments)
			return finish(Result{Segments: segments}), nil
		}
	}

	guidance := guidanceNoData
	if !extractedAnything {
		guidance = guidanceFormatChanged
	}
	return finish(Result{Guidance: guidance}), nil
}

// toClipSegments converts normalized segments to the caller-facing shape,
// truncating offsets to whole seconds and dropping zero-length ranges.
func toClipSegments(items []Segment) []ClipSegment {
	out := make([]ClipSegment, 0, len(items))
	for _, it := range items {
		start := float64(int(it.Start))
		dur := float64(int(it.Duration))
		if dur <= 0 {
			continue
		}
		out = append(out, ClipSegment{
			Enabled: true,
			Start:   start,
			End:     start + dur,
			Score:   it.Score,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].End < out[j].End
	})
	return out
}
