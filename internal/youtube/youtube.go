// Package youtube searches for workout videos through the YouTube Data
// API v3 when a user asks the coach to find one.
package youtube

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	searchURL        = "https://www.googleapis.com/youtube/v3/search"
	defaultMaxVideos = 3
)

// Phrases users append when asking for a video, stripped before search.
var findPhraseRe = regexp.MustCompile(`영상 찾아줘|찾아줘`)

// Video is one search result.
type Video struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	URL       string `json:"url"`
	Thumbnail string `json:"thumbnail"`
}

// Searcher finds videos for a query.
type Searcher interface {
	Search(ctx context.Context, query string) ([]Video, error)
}

// Client searches the YouTube Data API, scoped to the Korean region.
type Client struct {
	apiKey     string
	maxVideos  int
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a search client. maxVideos defaults to 3 if <= 0.
func NewClient(apiKey string, maxVideos int, httpClient *http.Client) *Client {
	if maxVideos <= 0 {
		maxVideos = defaultMaxVideos
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{apiKey: apiKey, maxVideos: maxVideos, baseURL: searchURL, httpClient: httpClient}
}

type searchResponse struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet struct {
			Title      string `json:"title"`
			Thumbnails struct {
				Medium struct {
					URL string `json:"url"`
				} `json:"medium"`
			} `json:"thumbnails"`
		} `json:"snippet"`
	} `json:"items"`
}

// Search returns relevance-ordered videos for the query. The "find me a
// video" phrasing is stripped so only the topic reaches the API.
func (c *Client) Search(ctx context.Context, query string) ([]Video, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("youtube api key is not configured")
	}
	cleaned := strings.TrimSpace(findPhraseRe.ReplaceAllString(query, ""))
	if cleaned == "" {
		return nil, fmt.Errorf("empty search query")
	}

	params := url.Values{}
	params.Set("q", cleaned)
	params.Set("part", "snippet")
	params.Set("type", "video")
	params.Set("maxResults", strconv.Itoa(c.maxVideos))
	params.Set("order", "relevance")
	params.Set("regionCode", "KR")
	params.Set("key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating search request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("search failed with status %d: %s", resp.StatusCode, string(body))
	}

	var result searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}

	videos := make([]Video, 0, len(result.Items))
	for _, item := range result.Items {
		videos = append(videos, Video{
			ID:        item.ID.VideoID,
			Title:     item.Snippet.Title,
			URL:       "https://www.youtube.com/watch?v=" + item.ID.VideoID,
			Thumbnail: item.Snippet.Thumbnails.Medium.URL,
		})
	}
	return videos, nil
}
