package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"leadintel_backend/internal/billing"
	"leadintel_backend/internal/leads/domain"
	"leadintel_backend/platform/apperr"
)

const (
	youtubeBaseURL    = "https://www.googleapis.com/youtube/v3"
	youtubeMaxResults = 5
	youtubeWatchURL   = "https://www.youtube.com/watch?v="
)

// Attributes written by the media provider.
const (
	FieldMediaVideoCount      = "media_video_count"
	FieldMediaTopVideoURL     = "media_top_video_url"
	FieldMediaTopVideoTitle   = "media_top_video_title"
	FieldMediaLatestPublished = "media_latest_published_at"
)

type youtubeSearchResponse struct {
	PageInfo struct {
		TotalResults int `json:"totalResults"`
	} `json:"pageInfo"`
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet struct {
			Title        string    `json:"title"`
			ChannelTitle string    `json:"channelTitle"`
			PublishedAt  time.Time `json:"publishedAt"`
		} `json:"snippet"`
	} `json:"items"`
}

// MediaProvider searches YouTube for coverage of the project.
type MediaProvider struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	timeout    time.Duration
}

func NewMediaProvider(apiKey string, opts ...HTTPOption) *MediaProvider {
	s := applyHTTP(youtubeBaseURL, opts)
	return &MediaProvider{httpClient: s.client, baseURL: s.baseURL, apiKey: apiKey, timeout: s.timeout}
}

func (p *MediaProvider) Name() string           { return ProviderMedia }
func (p *MediaProvider) Feature() string        { return billing.FeatureAIEnrichment }
func (p *MediaProvider) Cost() int64            { return billing.CostOf(billing.FeatureAIEnrichment) }
func (p *MediaProvider) Timeout() time.Duration { return p.timeout }

func (p *MediaProvider) Fetch(ctx context.Context, attrs domain.Attributes) (Payload, error) {
	query := mediaQuery(attrs)
	if query == "" {
		return Payload{}, apperr.Validation("lead has no name to search media for")
	}

	params := url.Values{}
	params.Set("part", "snippet")
	params.Set("type", "video")
	params.Set("order", "relevance")
	params.Set("maxResults", fmt.Sprintf("%d", youtubeMaxResults))
	params.Set("q", query)
	params.Set("key", p.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return Payload{}, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Payload{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Payload{}, readError(ProviderMedia, resp)
	}

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return Payload{}, fmt.Errorf("media: decode: %w", err)
	}
	var payload youtubeSearchResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Payload{}, fmt.Errorf("media: decode: %w", err)
	}

	fields := domain.Attributes{
		FieldMediaVideoCount: domain.Number(float64(payload.PageInfo.TotalResults)),
	}
	var latest time.Time
	for i, item := range payload.Items {
		if i == 0 && item.ID.VideoID != "" {
			fields[FieldMediaTopVideoURL] = domain.Text(youtubeWatchURL + item.ID.VideoID)
			setText(fields, FieldMediaTopVideoTitle, item.Snippet.Title)
		}
		if item.Snippet.PublishedAt.After(latest) {
			latest = item.Snippet.PublishedAt
		}
	}
	if !latest.IsZero() {
		fields[FieldMediaLatestPublished] = domain.Timestamp(latest)
	}
	return Payload{Fields: fields, Raw: raw}, nil
}

func mediaQuery(attrs domain.Attributes) string {
	name, ok := attrs.TextValue(domain.AttrProjectName)
	if !ok || strings.TrimSpace(name) == "" {
		return ""
	}
	parts := []string{strings.TrimSpace(name)}
	if city, ok := attrs.TextValue(domain.AttrCity); ok && city != "" {
		parts = append(parts, city)
	}
	return strings.Join(parts, " ")
}
