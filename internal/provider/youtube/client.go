// Package youtube fetches video metadata and view counts from the YouTube
// Data API v3.
//
// The videos.list endpoint accepts at most 50 ids per request, so larger id
// sets are split into sequential requests. Rate limiting is handled via a
// token bucket limiter.
package youtube

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/albapepper/viewcount-tracker/internal/docstore"
	"github.com/albapepper/viewcount-tracker/internal/provider"
)

const (
	// DefaultBaseURL is the public Data API endpoint.
	DefaultBaseURL = "https://www.googleapis.com/youtube/v3"
	// MaxIDsPerRequest is the videos.list id limit.
	MaxIDsPerRequest = 50
)

// Video is the subset of a videos.list item the tracker uses.
type Video struct {
	ID          string
	Title       string
	ChannelID   string
	PublishedAt time.Time
	ViewCount   int64
}

// Client is the HTTP client for the Data API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient creates a Data API client with rate limiting.
func NewClient(baseURL, apiKey string, requestsPerMinute int, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	rps := float64(requestsPerMinute) / 60.0
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		logger:     logger,
	}
}

// listResponse is the videos.list response wrapper.
type listResponse struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			Title       string `json:"title"`
			ChannelID   string `json:"channelId"`
			PublishedAt string `json:"publishedAt"`
		} `json:"snippet"`
		Statistics struct {
			ViewCount any `json:"viewCount"`
		} `json:"statistics"`
	} `json:"items"`
}

// FetchCurrentValues returns the current view counts of ids. Any failed
// request fails the whole call; no partial result is returned. Ids the API
// does not know (deleted or private videos) are logged and left out.
func (c *Client) FetchCurrentValues(ctx context.Context, ids []string) ([]Video, error) {
	var out []Video
	for _, chunk := range docstore.Chunk(ids, MaxIDsPerRequest) {
		videos, err := c.list(ctx, chunk)
		if err != nil {
			return nil, err
		}
		out = append(out, videos...)
	}

	if len(out) < len(ids) {
		got := make(map[string]bool, len(out))
		for _, v := range out {
			got[v.ID] = true
		}
		for _, id := range ids {
			if !got[id] {
				c.logger.Warn("Video not returned by YouTube", "video_id", id)
			}
		}
	}
	return out, nil
}

// list performs one rate-limited videos.list request.
func (c *Client) list(ctx context.Context, ids []string) ([]Video, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	params := url.Values{}
	params.Set("part", "snippet,statistics")
	params.Set("id", strings.Join(ids, ","))
	params.Set("maxResults", fmt.Sprint(MaxIDsPerRequest))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/videos?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Goog-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request videos.list: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("YouTube videos.list returned %d: %s", resp.StatusCode, truncate(body, 200))
	}

	var result listResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	videos := make([]Video, 0, len(result.Items))
	for _, item := range result.Items {
		count, ok := provider.ExtractCount(item.Statistics.ViewCount)
		if !ok {
			return nil, fmt.Errorf("video %s: malformed viewCount %v", item.ID, item.Statistics.ViewCount)
		}
		published, err := time.Parse(time.RFC3339, item.Snippet.PublishedAt)
		if err != nil {
			return nil, fmt.Errorf("video %s: malformed publishedAt %q: %w", item.ID, item.Snippet.PublishedAt, err)
		}
		videos = append(videos, Video{
			ID:          item.ID,
			Title:       item.Snippet.Title,
			ChannelID:   item.Snippet.ChannelID,
			PublishedAt: published,
			ViewCount:   count,
		})
	}
	c.logger.Debug("Fetched videos", "requested", len(ids), "returned", len(videos))
	return videos, nil
}

// truncate returns a truncated string representation for error messages.
func truncate(b []byte, maxLen int) string {
	if len(b) <= maxLen {
		return string(b)
	}
	return string(b[:maxLen]) + "..."
}
