// Package placesearch fetches points of interest from the Google Places
// Nearby Search API and resolves their photo references.
package placesearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"pawmap/internal/domain/place"
)

const (
	defaultBaseURL       = "https://maps.googleapis.com"
	defaultRadiusMeters  = 20000
	defaultMaxResults    = 25
	defaultPhotoMaxWidth = 800
	defaultPhotoWorkers  = 8

	// Photo references kept per place: the resolved preview plus four more
	maxPhotoRefs = 5
)

// Seattle, until the search origin follows the member's location
var defaultOrigin = Origin{Lat: 47.6062, Lng: -122.3321}

// HTTPClient interface for making HTTP requests (allows injection for testing).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Origin is the point searches are centred on
type Origin struct {
	Lat float64
	Lng float64
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client for both search and photo calls.
// An *http.Client is copied for photo calls so redirects are not followed.
func WithHTTPClient(httpClient HTTPClient) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
		if std, ok := httpClient.(*http.Client); ok {
			photo := *std
			photo.CheckRedirect = stopAtRedirect
			c.photoClient = &photo
			return
		}
		c.photoClient = httpClient
	}
}

// stopAtRedirect keeps the photo endpoint's redirect; its target is the
// URL we hand out.
func stopAtRedirect(req *http.Request, via []*http.Request) error {
	return http.ErrUseLastResponse
}

// WithBaseURL sets a custom base URL (useful for testing).
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithTimeout sets the request timeout of the default HTTP clients.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d <= 0 {
			return
		}
		for _, hc := range []HTTPClient{c.httpClient, c.photoClient} {
			if std, ok := hc.(*http.Client); ok {
				std.Timeout = d
			}
		}
	}
}

// WithOrigin sets the search centre.
func WithOrigin(origin Origin) ClientOption {
	return func(c *Client) {
		c.origin = origin
	}
}

// WithRadius sets the search radius in meters.
func WithRadius(meters int) ClientOption {
	return func(c *Client) {
		if meters > 0 {
			c.radius = meters
		}
	}
}

// WithMaxResults caps the number of places returned per search.
func WithMaxResults(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.maxResults = n
		}
	}
}

// WithPhotoWorkers bounds concurrent photo resolutions per search.
func WithPhotoWorkers(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.photoWorkers = n
		}
	}
}

// Client is a Google Places client. A client without an API key returns no
// results and never touches the network.
type Client struct {
	apiKey        string
	baseURL       string
	origin        Origin
	radius        int
	maxResults    int
	photoMaxWidth int
	photoWorkers  int
	httpClient    HTTPClient
	photoClient   HTTPClient
}

// NewClient creates a new Places client.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey:        apiKey,
		baseURL:       defaultBaseURL,
		origin:        defaultOrigin,
		radius:        defaultRadiusMeters,
		maxResults:    defaultMaxResults,
		photoMaxWidth: defaultPhotoMaxWidth,
		photoWorkers:  defaultPhotoWorkers,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		photoClient: &http.Client{
			Timeout:       10 * time.Second,
			CheckRedirect: stopAtRedirect,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Keyword returns the search keyword used for a category.
func Keyword(category place.Category) string {
	switch category {
	case place.CategoryCafe:
		return "dog friendly cafe"
	case place.CategoryTrail:
		return "dog friendly trail"
	default:
		return "dog park"
	}
}

// Search fetches places for one category. Every returned place carries the
// requested category. The first photo of each place is resolved before it is
// returned; up to four more references are kept unresolved.
func (c *Client) Search(ctx context.Context, category place.Category) ([]place.Place, error) {
	if c.apiKey == "" {
		return []place.Place{}, nil
	}

	params := url.Values{}
	params.Set("keyword", Keyword(category))
	params.Set("location", fmt.Sprintf("%s,%s", formatCoord(c.origin.Lat), formatCoord(c.origin.Lng)))
	params.Set("radius", strconv.Itoa(c.radius))
	params.Set("key", c.apiKey)
	searchURL := fmt.Sprintf("%s/maps/api/place/nearbysearch/json?%s", c.baseURL, params.Encode())

	body, err := c.doRequest(ctx, searchURL)
	if err != nil {
		return nil, err
	}

	var response nearbySearchResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to parse places search response: %w", err)
	}

	switch response.Status {
	case "OK":
	case "ZERO_RESULTS":
		return []place.Place{}, nil
	default:
		return nil, fmt.Errorf("places search returned status %s: %s", response.Status, response.ErrorMessage)
	}

	results := response.Results
	if len(results) > c.maxResults {
		results = results[:c.maxResults]
	}

	places := make([]place.Place, len(results))
	keep := make([]bool, len(results))

	var g errgroup.Group
	g.SetLimit(c.photoWorkers)

	for i, r := range results {
		if r.PlaceID == "" || r.Geometry.Location == nil {
			continue
		}
		keep[i] = true
		preview, refs := photoRefs(r.Photos)
		places[i] = place.Place{
			ID:        r.PlaceID,
			Name:      r.Name,
			Category:  category,
			Address:   r.Vicinity,
			Lat:       r.Geometry.Location.Lat,
			Lng:       r.Geometry.Location.Lng,
			PhotoRefs: refs,
			Source:    place.SourceExternal,
		}

		if preview == "" {
			continue
		}
		g.Go(func() error {
			photoURL, err := c.ResolvePhoto(ctx, preview)
			if err != nil {
				log.Printf("Failed to resolve photo for %s: %v", r.PlaceID, err)
				return nil
			}
			places[i].PhotoURL = photoURL
			return nil
		})
	}
	_ = g.Wait()

	out := make([]place.Place, 0, len(places))
	for i, p := range places {
		if keep[i] {
			out = append(out, p)
		}
	}

	log.Printf("Received %d places from places search (%s)", len(out), category)
	return out, nil
}

// ResolvePhoto turns a photo reference into a displayable image URL.
func (c *Client) ResolvePhoto(ctx context.Context, ref string) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("places API key not configured")
	}

	params := url.Values{}
	params.Set("maxwidth", strconv.Itoa(c.photoMaxWidth))
	params.Set("photoreference", ref)
	params.Set("key", c.apiKey)
	photoURL := fmt.Sprintf("%s/maps/api/place/photo?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, photoURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.photoClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to connect to places photo API: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		location := resp.Header.Get("Location")
		if location == "" {
			return "", fmt.Errorf("places photo API redirect without location")
		}
		target, err := req.URL.Parse(location)
		if err != nil {
			return "", fmt.Errorf("invalid photo redirect %q: %w", location, err)
		}
		return target.String(), nil
	case resp.StatusCode == http.StatusOK:
		// Redirect already followed, or the endpoint served the image itself
		if resp.Request != nil && resp.Request.URL != nil {
			return resp.Request.URL.String(), nil
		}
		return photoURL, nil
	default:
		return "", fmt.Errorf("places photo API returned HTTP %d", resp.StatusCode)
	}
}

func (c *Client) doRequest(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to places API: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("places API returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}

// photoRefs returns the preview reference, taken from the first photo only,
// and the references kept on the place. The preview leads refs when present.
func photoRefs(photos []photo) (string, []string) {
	if len(photos) > maxPhotoRefs {
		photos = photos[:maxPhotoRefs]
	}

	var refs []string
	for _, p := range photos {
		if p.PhotoReference != "" {
			refs = append(refs, p.PhotoReference)
		}
	}

	if len(photos) == 0 || photos[0].PhotoReference == "" {
		return "", refs
	}
	return photos[0].PhotoReference, refs
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
