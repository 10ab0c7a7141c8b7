// Package transcript fetches YouTube caption tracks and derives heuristic
// highlight candidates from them. It is the discovery fallback for videos
// that expose no popularity telemetry, and the subtitle text source for
// rendered clips.
package transcript

import (
	"context"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	ytapi "github.com/hightemp/youtube-transcript-api-go/api"

	"github.com/clipagent/clipagent/internal/heatmap"
)

// Cue is one timed caption line.
type Cue struct {
	Start    float64
	Duration float64
	Text     string
}

// Client fetches caption tracks. The transcript API library is the primary
// path; the legacy timedtext XML endpoint embedded in the watch page is the
// fallback, and the only path that yields per-cue timing.
type Client struct {
	httpClient *http.Client
	api        *ytapi.YouTubeTranscriptApi
	baseURL    string
	logger     *slog.Logger
}

func NewClient(logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		api:        ytapi.NewYouTubeTranscriptApi(),
		baseURL:    "https://www.youtube.com",
		logger:     logger,
	}
}

// Text returns the full transcript as plain text, joined with spaces.
func (c *Client) Text(ctx context.Context, videoID string) (string, error) {
	transcript, err := c.api.GetTranscript(videoID, []string{"en", "en-US", "en-GB"})
	if err != nil {
		// Any available language is better than nothing.
		transcript, err = c.api.GetTranscript(videoID, nil)
	}
	if err == nil && len(transcript.Entries) > 0 {
		var b strings.Builder
		for _, entry := range transcript.Entries {
			text := strings.TrimSpace(entry.Text)
			if text == "" {
				continue
			}
			if b.Len() > 0 {
				b.WriteString(" ")
			}
			b.WriteString(text)
		}
		if b.Len() > 0 {
			return b.String(), nil
		}
	}

	cues, cerr := c.Cues(ctx, videoID)
	if cerr != nil {
		return "", fmt.Errorf("no transcript available (api: %v, timedtext: %w)", err, cerr)
	}
	var parts []string
	for _, cue := range cues {
		if cue.Text != "" {
			parts = append(parts, cue.Text)
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("transcript resolved to empty content")
	}
	return strings.Join(parts, " "), nil
}

// Cues returns the timed caption lines via the timedtext endpoint
// referenced from the watch page.
func (c *Client) Cues(ctx context.Context, videoID string) ([]Cue, error) {
	pageURL := c.baseURL + "/watch?v=" + videoID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch watch page: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read watch page: %w", err)
	}

	captionURL, err := extractCaptionURL(string(body))
	if err != nil {
		return nil, err
	}

	creq, err := http.NewRequestWithContext(ctx, http.MethodGet, captionURL, nil)
	if err != nil {
		return nil, err
	}
	cresp, err := c.httpClient.Do(creq)
	if err != nil {
		return nil, fmt.Errorf("fetch captions: %w", err)
	}
	defer cresp.Body.Close()

	captionBody, err := io.ReadAll(cresp.Body)
	if err != nil {
		return nil, fmt.Errorf("read captions: %w", err)
	}

	return parseTimedText(captionBody)
}

// Segments implements heatmap.TranscriptSource: it turns the caption track
// into scored candidate segments, highest score first.
func (c *Client) Segments(ctx context.Context, videoID string, maxClipSeconds float64) ([]heatmap.Segment, error) {
	cues, err := c.Cues(ctx, videoID)
	if err != nil {
		return nil, err
	}
	return BuildCandidates(cues, maxClipSeconds), nil
}

var (
	captionTracksPattern  = regexp.MustCompile(`"captionTracks"\s*:\s*\[(.*?)\]`)
	captionBaseURLPattern = regexp.MustCompile(`"baseUrl"\s*:\s*"(.*?)"`)
)

func extractCaptionURL(pageHTML string) (string, error) {
	m := captionTracksPattern.FindStringSubmatch(pageHTML)
	if len(m) < 2 {
		return "", fmt.Errorf("no captions available for this video")
	}
	um := captionBaseURLPattern.FindStringSubmatch(m[1])
	if len(um) < 2 {
		return "", fmt.Errorf("caption track found but baseUrl missing")
	}
	u := um[1]
	u = strings.ReplaceAll(u, `\u0026`, "&")
	u = strings.ReplaceAll(u, `\/`, "/")
	return u, nil
}

type timedTextXML struct {
	XMLName xml.Name  `xml:"transcript"`
	Texts   []textXML `xml:"text"`
}

type textXML struct {
	Start string `xml:"start,attr"`
	Dur   string `xml:"dur,attr"`
	Text  string `xml:",chardata"`
}

func parseTimedText(data []byte) ([]Cue, error) {
	var tt timedTextXML
	if err := xml.Unmarshal(data, &tt); err != nil {
		return nil, fmt.Errorf("parse captions XML: %w", err)
	}

	var cues []Cue
	for _, t := range tt.Texts {
		text := strings.TrimSpace(html.UnescapeString(t.Text))
		if text == "" {
			continue
		}
		start, err := strconv.ParseFloat(t.Start, 64)
		if err != nil {
			continue
		}
		dur, err := strconv.ParseFloat(t.Dur, 64)
		if err != nil || dur <= 0 {
			continue
		}
		cues = append(cues, Cue{Start: start, Duration: dur, Text: text})
	}
	if len(cues) == 0 {
		return nil, fmt.Errorf("captions XML empty")
	}
	return cues, nil
}
