package gbif

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/floraset/internal/domain"
	"github.com/timmy/floraset/internal/source"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the public GBIF API root.
	DefaultBaseURL = "https://api.gbif.org/v1"

	defaultUserAgent = "floraset/1.0 (dataset harvester)"
)

// ClientConfig holds configuration for the GBIF API client.
type ClientConfig struct {
	BaseURL           string
	UserAgent         string
	RequestsPerSecond float64 // service-wide request budget
	Burst             int
	MaxRetries        int
	Timeout           time.Duration
}

// Client is a rate-limited HTTP client for the GBIF occurrence API. A single
// Client (and therefore a single limiter) is shared by occurrence searches
// and media downloads across all species: the upstream rate limit is
// service-wide, not per species.
type Client struct {
	http        *resty.Client
	limiter     *rate.Limiter
	maxRetries  int
	baseBackoff time.Duration
	baseURL     string
}

// NewClient creates a GBIF API client.
// Parameters:
//   - cfg: client configuration; zero fields fall back to defaults.
// Returns:
//   - *Client: initialized client.
func NewClient(cfg *ClientConfig) *Client {
	if cfg == nil {
		cfg = &ClientConfig{}
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := resty.New()
	client.SetTimeout(timeout)
	client.SetHeader("User-Agent", userAgent)

	return &Client{
		http:        client,
		limiter:     rate.NewLimiter(rate.Limit(rps), burst),
		maxRetries:  retries,
		baseBackoff: time.Second,
		baseURL:     baseURL,
	}
}

// searchResponse matches the paginated GBIF occurrence/search envelope.
type searchResponse struct {
	Offset       int                `json:"offset"`
	Limit        int                `json:"limit"`
	Count        int64              `json:"count"`
	EndOfRecords bool               `json:"endOfRecords"`
	Results      []occurrenceResult `json:"results"`
}

// occurrenceResult matches a single occurrence object. gbifID has shipped as
// both a number and a string across API versions, so it is decoded laxly.
type occurrenceResult struct {
	Key              json.Number    `json:"key"`
	GBIFID           json.Number    `json:"gbifID"`
	ScientificName   string         `json:"scientificName"`
	Species          string         `json:"species"`
	DecimalLatitude  *float64       `json:"decimalLatitude"`
	DecimalLongitude *float64       `json:"decimalLongitude"`
	Country          string         `json:"country"`
	Locality         string         `json:"locality"`
	EventDate        string         `json:"eventDate"`
	RecordedBy       string         `json:"recordedBy"`
	InstitutionCode  string         `json:"institutionCode"`
	CollectionCode   string         `json:"collectionCode"`
	CatalogNumber    string         `json:"catalogNumber"`
	BasisOfRecord    string         `json:"basisOfRecord"`
	License          string         `json:"license"`
	Publisher        string         `json:"publisher"`
	DatasetKey       string         `json:"datasetKey"`
	PublishingOrgKey string         `json:"publishingOrgKey"`
	Media            []source.Media `json:"media"`
}

// recordID returns the stable identifier for an occurrence, preferring the
// gbifID field and falling back to the record key.
func (r *occurrenceResult) recordID() string {
	if s := r.GBIFID.String(); s != "" {
		return s
	}
	return r.Key.String()
}

// SearchOccurrences queries occurrence/search for image-bearing records of a
// species.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - scientificName: species to search for.
//   - offset: pagination offset.
//   - limit: page size.
// Returns:
//   - *searchResponse: decoded page.
//   - error: non-nil if the request fails after retries.
func (c *Client) SearchOccurrences(ctx context.Context, scientificName string, offset, limit int) (*searchResponse, error) {
	body, err := c.get(ctx, c.baseURL+"/occurrence/search", map[string]string{
		"scientificName": scientificName,
		"mediaType":      "StillImage",
		"offset":         strconv.Itoa(offset),
		"limit":          strconv.Itoa(limit),
	})
	if err != nil {
		return nil, err
	}

	var res searchResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	return &res, nil
}

// DownloadImage fetches raw image bytes from a media identifier URL through
// the shared limiter and retry policy.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - url: image URL to download.
// Returns:
//   - []byte: image bytes.
//   - error: non-nil if the download fails after retries.
func (c *Client) DownloadImage(ctx context.Context, url string) ([]byte, error) {
	return c.get(ctx, url, nil)
}

// get performs a rate-limited GET with bounded retries. 429 responses honor
// Retry-After when present; 5xx and transport errors back off exponentially.
func (c *Client) get(ctx context.Context, url string, query map[string]string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.backoffDelay(attempt, lastErr)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req := c.http.R().SetContext(ctx)
		if len(query) > 0 {
			req.SetQueryParams(query)
		}

		resp, err := req.Get(url)
		if err != nil {
			lastErr = err
			continue
		}

		code := resp.StatusCode()
		switch {
		case code >= 200 && code < 300:
			return resp.Body(), nil
		case code == http.StatusTooManyRequests:
			lastErr = &domain.RateLimitError{RetryAfter: parseRetryAfter(resp)}
		case code >= 500:
			lastErr = fmt.Errorf("server error: %s", resp.Status())
		default:
			// 4xx other than 429 will not improve on retry
			return nil, fmt.Errorf("request to %s failed: %s", url, resp.Status())
		}
	}

	return nil, fmt.Errorf("request to %s failed after %d retries: %w", url, c.maxRetries, lastErr)
}

// backoffDelay returns the wait before the given retry attempt: 1s, 2s, 4s...
// capped at 30s, or the server-provided Retry-After for rate limiting.
func (c *Client) backoffDelay(attempt int, lastErr error) time.Duration {
	if rle, ok := lastErr.(*domain.RateLimitError); ok && rle.RetryAfter > 0 {
		return rle.RetryAfter
	}
	delay := c.baseBackoff << uint(attempt-1)
	if delay > 30*time.Second {
		delay = 30 * time.Second
	}
	return delay
}

func parseRetryAfter(resp *resty.Response) time.Duration {
	header := resp.Header().Get("Retry-After")
	if header == "" {
		return 0
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
