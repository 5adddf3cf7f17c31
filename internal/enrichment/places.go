package enrichment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"leadintel_backend/internal/billing"
	"leadintel_backend/internal/leads/domain"
	"leadintel_backend/platform/apperr"
)

const (
	placesBaseURL        = "https://places.googleapis.com/v1"
	placesFieldMask      = "places.id,places.displayName,places.formattedAddress,places.location,places.rating,places.userRatingCount,places.websiteUri,places.nationalPhoneNumber"
	competitorRadius     = 8000.0
	competitorMaxResults = 20
	competitorQuery      = "general contractor"
	defaultHTTPTimeout   = 30 * time.Second
)

// Attributes written by the places providers.
const (
	FieldPlaceID             = "place_id"
	FieldFormattedAddress    = "formatted_address"
	FieldPlaceRating         = "place_rating"
	FieldPlaceRatingCount    = "place_rating_count"
	FieldWebsite             = "website"
	FieldPlacePhone          = "place_phone"
	FieldCompetitorCount     = "competitor_count"
	FieldCompetitorAvgRating = "competitor_avg_rating"
	FieldCompetitorTop       = "competitor_top"
)

type place struct {
	ID          string `json:"id"`
	DisplayName struct {
		Text string `json:"text"`
	} `json:"displayName"`
	FormattedAddress string `json:"formattedAddress"`
	Location         *struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"location"`
	Rating              *float64 `json:"rating"`
	UserRatingCount     *int     `json:"userRatingCount"`
	WebsiteURI          string   `json:"websiteUri"`
	NationalPhoneNumber string   `json:"nationalPhoneNumber"`
}

type placesResponse struct {
	Places []place `json:"places"`
}

// placesClient talks to the Places API (New).
type placesClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

func (c *placesClient) post(ctx context.Context, provider, path string, body any) ([]byte, placesResponse, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, placesResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return nil, placesResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", c.apiKey)
	req.Header.Set("X-Goog-FieldMask", placesFieldMask)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, placesResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, placesResponse{}, readError(provider, resp)
	}

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, placesResponse{}, fmt.Errorf("%s: decode: %w", provider, err)
	}
	var payload placesResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, placesResponse{}, fmt.Errorf("%s: decode: %w", provider, err)
	}
	return raw, payload, nil
}

// HTTPOption customises an HTTP-backed provider.
type HTTPOption func(*httpSettings)

type httpSettings struct {
	client  *http.Client
	baseURL string
	timeout time.Duration
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *httpSettings) { s.client = c }
}

// WithBaseURL points the provider at another host, such as a test server.
func WithBaseURL(u string) HTTPOption {
	return func(s *httpSettings) { s.baseURL = strings.TrimRight(u, "/") }
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) HTTPOption {
	return func(s *httpSettings) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func applyHTTP(base string, opts []HTTPOption) httpSettings {
	s := httpSettings{client: &http.Client{Timeout: defaultHTTPTimeout}, baseURL: base, timeout: 20 * time.Second}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// PlacesProvider resolves the project's location through a text search.
type PlacesProvider struct {
	client  placesClient
	timeout time.Duration
}

func NewPlacesProvider(apiKey string, opts ...HTTPOption) *PlacesProvider {
	s := applyHTTP(placesBaseURL, opts)
	return &PlacesProvider{
		client:  placesClient{httpClient: s.client, baseURL: s.baseURL, apiKey: apiKey},
		timeout: s.timeout,
	}
}

func (p *PlacesProvider) Name() string           { return ProviderPlaces }
func (p *PlacesProvider) Feature() string        { return billing.FeatureAIEnrichment }
func (p *PlacesProvider) Cost() int64            { return billing.CostOf(billing.FeatureAIEnrichment) }
func (p *PlacesProvider) Timeout() time.Duration { return p.timeout }

func (p *PlacesProvider) Fetch(ctx context.Context, attrs domain.Attributes) (Payload, error) {
	query := locationQuery(attrs, true)
	if query == "" {
		return Payload{}, apperr.Validation("lead has no name or location to search for")
	}

	raw, resp, err := p.client.post(ctx, ProviderPlaces, "/places:searchText", map[string]any{
		"textQuery":      query,
		"maxResultCount": 1,
	})
	if err != nil {
		return Payload{}, err
	}

	fields := domain.Attributes{}
	if len(resp.Places) == 0 {
		return Payload{Fields: fields, Raw: raw}, nil
	}
	pl := resp.Places[0]
	setText(fields, FieldPlaceID, pl.ID)
	setText(fields, FieldFormattedAddress, pl.FormattedAddress)
	setText(fields, FieldWebsite, pl.WebsiteURI)
	setText(fields, FieldPlacePhone, pl.NationalPhoneNumber)
	if pl.Location != nil {
		fields[domain.AttrLatitude] = domain.Number(pl.Location.Latitude)
		fields[domain.AttrLongitude] = domain.Number(pl.Location.Longitude)
	}
	if pl.Rating != nil {
		fields[FieldPlaceRating] = domain.Number(*pl.Rating)
	}
	if pl.UserRatingCount != nil {
		fields[FieldPlaceRatingCount] = domain.Number(float64(*pl.UserRatingCount))
	}
	return Payload{Fields: fields, Raw: raw}, nil
}

// CompetitorsProvider counts contractors operating around the project.
type CompetitorsProvider struct {
	client  placesClient
	timeout time.Duration
}

func NewCompetitorsProvider(apiKey string, opts ...HTTPOption) *CompetitorsProvider {
	s := applyHTTP(placesBaseURL, opts)
	return &CompetitorsProvider{
		client:  placesClient{httpClient: s.client, baseURL: s.baseURL, apiKey: apiKey},
		timeout: s.timeout,
	}
}

func (p *CompetitorsProvider) Name() string           { return ProviderCompetitors }
func (p *CompetitorsProvider) Feature() string        { return billing.FeatureAIEnrichment }
func (p *CompetitorsProvider) Cost() int64            { return billing.CostOf(billing.FeatureAIEnrichment) }
func (p *CompetitorsProvider) Timeout() time.Duration { return p.timeout }

// Fetch uses a nearby search when coordinates are known and falls back to a
// text search on city and state.
func (p *CompetitorsProvider) Fetch(ctx context.Context, attrs domain.Attributes) (Payload, error) {
	var (
		raw  []byte
		resp placesResponse
		err  error
	)
	lat, hasLat := attrs.Num(domain.AttrLatitude)
	lng, hasLng := attrs.Num(domain.AttrLongitude)
	if hasLat && hasLng {
		raw, resp, err = p.client.post(ctx, ProviderCompetitors, "/places:searchNearby", map[string]any{
			"includedTypes":  []string{"general_contractor"},
			"maxResultCount": competitorMaxResults,
			"locationRestriction": map[string]any{
				"circle": map[string]any{
					"center": map[string]float64{"latitude": lat, "longitude": lng},
					"radius": competitorRadius,
				},
			},
		})
	} else {
		area := locationQuery(attrs, false)
		if area == "" {
			return Payload{}, apperr.Validation("lead has no location to search around")
		}
		raw, resp, err = p.client.post(ctx, ProviderCompetitors, "/places:searchText", map[string]any{
			"textQuery":      competitorQuery + " in " + area,
			"maxResultCount": competitorMaxResults,
		})
	}
	if err != nil {
		return Payload{}, err
	}

	fields := domain.Attributes{
		FieldCompetitorCount: domain.Number(float64(len(resp.Places))),
	}
	var (
		ratingSum float64
		rated     int
		top       []string
	)
	for _, pl := range resp.Places {
		if pl.Rating != nil {
			ratingSum += *pl.Rating
			rated++
		}
		if len(top) < 3 && pl.DisplayName.Text != "" {
			top = append(top, pl.DisplayName.Text)
		}
	}
	if rated > 0 {
		fields[FieldCompetitorAvgRating] = domain.Number(ratingSum / float64(rated))
	}
	if len(top) > 0 {
		fields[FieldCompetitorTop] = domain.Text(strings.Join(top, ", "))
	}
	return Payload{Fields: fields, Raw: raw}, nil
}

// locationQuery joins the lead's name (optionally), address, city and state.
func locationQuery(attrs domain.Attributes, withName bool) string {
	names := []string{domain.AttrAddress, domain.AttrCity, domain.AttrState}
	if withName {
		names = append([]string{domain.AttrProjectName}, names...)
	}
	var parts []string
	for _, name := range names {
		if v, ok := attrs.TextValue(name); ok && strings.TrimSpace(v) != "" {
			parts = append(parts, strings.TrimSpace(v))
		}
	}
	return strings.Join(parts, ", ")
}

func setText(fields domain.Attributes, name, v string) {
	if v = strings.TrimSpace(v); v != "" {
		fields[name] = domain.Text(v)
	}
}
