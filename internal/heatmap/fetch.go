package heatmap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://www.youtube.com"

	userAgent      = "Mozilla/5.0"
	acceptLanguage = "en-US,en;q=0.9"
)

// BlockedError is returned when the page indicates an anti-automation
// block. It is fatal for the discovery attempt, never retried and never
// cached; its message is surfaced verbatim to the end user.
type BlockedError struct{}

func (e *BlockedError) Error() string {
	return "the site refused the request (robot check). Open the video once in a browser and try again. " +
		"If it persists: disable VPN/proxy, switch networks, or wait a few minutes."
}

// FetchError wraps transport-level failures (timeout, DNS, connection
// reset). Callers treat it as "no data", not as a fatal condition.
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string { return fmt.Sprintf("fetch failed: %v", e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }

// Fetcher retrieves watch pages and the secondary player payload.
type Fetcher struct {
	client  *http.Client
	baseURL string
	logger  *slog.Logger
}

// NewFetcher creates a Fetcher with single-digit-second connect and
// tens-of-seconds read budgets, matching the synchronous request context
// discovery runs in.
func NewFetcher(logger *slog.Logger) *Fetcher {
	return &Fetcher{
		client: &http.Client{
			Timeout: 20 * time.Second,
			Transport: &http.Transport{
				ResponseHeaderTimeout: 6 * time.Second,
			},
		},
		baseURL: defaultBaseURL,
		logger:  logger,
	}
}

// WatchURL returns the page URL for a video id.
func (f *Fetcher) WatchURL(videoID string) string {
	return f.baseURL + "/watch?v=" + url.QueryEscape(videoID)
}

// FetchWatchPage retrieves the raw watch-page document. A consent
// interstitial is retried once with a consent cookie. A detected
// anti-automation block returns *BlockedError; transport failures return
// *FetchError.
func (f *Fetcher) FetchWatchPage(ctx context.Context, videoID string) (string, error) {
	pageURL := f.WatchURL(videoID)

	html, err := f.getPage(ctx, pageURL, false)
	if err != nil {
		return "", &FetchError{Err: err}
	}

	if strings.Contains(html, "consent.youtube.com") || strings.Contains(html, "Before you continue to YouTube") {
		f.logger.Debug("consent interstitial detected, retrying with consent cookie", "video_id", videoID)
		html, err = f.getPage(ctx, pageURL, true)
		if err != nil {
			return "", &FetchError{Err: err}
		}
	}

	lower := strings.ToLower(html)
	if strings.Contains(lower, "/sorry/") || strings.Contains(lower, "unusual traffic") {
		return "", &BlockedError{}
	}

	return html, nil
}

func (f *Fetcher) getPage(ctx context.Context, pageURL string, consent bool) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", acceptLanguage)
	if consent {
		req.AddCookie(&http.Cookie{Name: "CONSENT", Value: "YES+1"})
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// FetchPlayer calls the internal player endpoint using the API key and
// client context found in the page configuration blob. Every header value
// is re-derived from that blob; the endpoint versions them and hardcoded
// constants go stale. Any failure returns nil: this is one strategy in a
// fallback cascade, not a required step.
func (f *Fetcher) FetchPlayer(ctx context.Context, videoID string, cfg map[string]any, refererURL string) map[string]any {
	if cfg == nil {
		return nil
	}
	apiKey, _ := cfg["INNERTUBE_API_KEY"].(string)
	if apiKey == "" {
		return nil
	}

	clientName := configString(cfg, "INNERTUBE_CONTEXT_CLIENT_NAME", "INNERTUBE_CLIENT_NAME")
	if clientName == "" {
		clientName = "1"
	}
	clientVersion := configString(cfg,
		"INNERTUBE_CONTEXT_CLIENT_VERSION",
		"INNERTUBE_CLIENT_VERSION",
		"INNERTUBE_CLIENT_VERSION_ALT",
	)

	innertubeCtx, ok := cfg["INNERTUBE_CONTEXT"].(map[string]any)
	if !ok {
		if clientVersion == "" {
			return nil
		}
		innertubeCtx = map[string]any{
			"client": map[string]any{
				"clientName":    clientName,
				"clientVersion": clientVersion,
				"hl":            "en",
				"gl":            "US",
			},
		}
	}
	if clientVersion == "" {
		return nil
	}

	payload := map[string]any{
		"context":        innertubeCtx,
		"videoId":        videoID,
		"racyCheckOk":    true,
		"contentCheckOk": true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil
	}

	endpoint := f.baseURL + "/youtubei/v1/player?key=" + url.QueryEscape(apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", acceptLanguage)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", f.baseURL)
	req.Header.Set("Referer", refererURL)
	req.Header.Set("X-Youtube-Client-Name", clientName)
	req.Header.Set("X-Youtube-Client-Version", clientVersion)

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Debug("player endpoint request failed", "error", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		f.logger.Debug("player endpoint rejected request", "status", resp.StatusCode)
		return nil
	}

	var data map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil
	}
	return data
}

// configString resolves a string-or-number config value via a prioritized
// alias list.
func configString(cfg map[string]any, aliases ...string) string {
	for _, k := range aliases {
		switch v := cfg[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}

// IsBlocked reports whether err is (or wraps) a BlockedError.
func IsBlocked(err error) bool {
	var be *BlockedError
	return errors.As(err, &be)
}
