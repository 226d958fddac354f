// Package youtube provides the title search client backed by the YouTube
// Data API v3.
package youtube

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"wevibe/internal/core"
	"wevibe/pkg/fuzzy"
)

const (
	defaultBaseURL = "https://www.googleapis.com/youtube/v3"

	// MaxSearchResults limits results on the public search surface.
	MaxSearchResults = 8
)

// Result is one entry of a multi-result search.
type Result struct {
	Title       string `json:"title"`
	ExternalKey string `json:"youtubeId"`
	Thumb       string `json:"thumb"`
	CoverArt    string `json:"coverArt"`
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
				High struct {
					URL string `json:"url"`
				} `json:"high"`
			} `json:"thumbnails"`
		} `json:"snippet"`
	} `json:"items"`
}

// Client queries the YouTube Data API search endpoint.
type Client struct {
	config     *core.YouTubeConfig
	logger     *zap.Logger
	httpClient *http.Client
	normalizer *fuzzy.Normalizer
}

func NewClient(config *core.YouTubeConfig, logger *zap.Logger) *Client {
	return &Client{
		config:     config,
		logger:     logger,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		normalizer: fuzzy.NewNormalizer(),
	}
}

// SearchBest resolves a title to its single best video match. A nil match
// with a nil error means the API returned an empty result set.
func (c *Client) SearchBest(ctx context.Context, title string) (*core.SearchMatch, error) {
	items, err := c.search(ctx, c.normalizer.NormalizeTitle(title), 1)
	if err != nil {
		return nil, err
	}
	if len(items.Items) == 0 {
		return nil, nil
	}

	item := items.Items[0]
	if item.ID.VideoID == "" {
		return nil, nil
	}
	return &core.SearchMatch{
		ExternalKey: item.ID.VideoID,
		Title:       item.Snippet.Title,
		Thumb:       item.Snippet.Thumbnails.Medium.URL,
	}, nil
}

// Search returns up to limit results for the read-only search surface.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if limit <= 0 || limit > MaxSearchResults {
		limit = MaxSearchResults
	}

	items, err := c.search(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(items.Items))
	for _, item := range items.Items {
		if item.ID.VideoID == "" {
			continue
		}
		results = append(results, Result{
			Title:       item.Snippet.Title,
			ExternalKey: item.ID.VideoID,
			Thumb:       item.Snippet.Thumbnails.Medium.URL,
			CoverArt:    item.Snippet.Thumbnails.High.URL,
		})
	}

	return results, nil
}

func (c *Client) search(ctx context.Context, query string, maxResults int) (*searchResponse, error) {
	base := c.config.BaseURL
	if base == "" {
		base = defaultBaseURL
	}

	params := url.Values{}
	params.Set("part", "snippet")
	params.Set("type", "video")
	params.Set("maxResults", fmt.Sprintf("%d", maxResults))
	params.Set("q", query)
	params.Set("key", c.config.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if derr := json.NewDecoder(resp.Body).Decode(&apiErr); derr == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("youtube API error (status %d): %s", resp.StatusCode, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("youtube API error: status %d", resp.StatusCode)
	}

	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	c.logger.Debug("YouTube search completed",
		zap.String("query", query),
		zap.Int("results", len(body.Items)))

	return &body, nil
}
