package gbif

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/timmy/floraset/internal/domain"
	"github.com/timmy/floraset/internal/source"
)

const (
	SourceID   = "gbif"
	SourceName = "GBIF"
)

// Adapter implements the Source interface over the GBIF occurrence API.
// The pagination cursor is the stringified offset of the next page.
type Adapter struct {
	client   *Client
	pageSize int
}

// NewAdapter creates a new GBIF adapter.
// Parameters:
//   - client: shared GBIF API client.
//   - pageSize: page size for occurrence searches; <=0 uses 100.
// Returns:
//   - *Adapter: initialized adapter.
func NewAdapter(client *Client, pageSize int) *Adapter {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Adapter{
		client:   client,
		pageSize: pageSize,
	}
}

// GetSourceID returns the unique identifier for this source
func (a *Adapter) GetSourceID() string {
	return SourceID
}

// GetDisplayName returns a human-readable name for this source
func (a *Adapter) GetDisplayName() string {
	return SourceName
}

// FetchBatch fetches a page of image-bearing occurrences for a species.
// Records without a usable image URL are filtered out, so a returned batch
// may be smaller than the page requested upstream.
func (a *Adapter) FetchBatch(ctx context.Context, scientificName, cursor string, limit int) ([]source.Occurrence, string, error) {
	offset := 0
	if cursor != "" {
		var err error
		offset, err = strconv.Atoi(cursor)
		if err != nil {
			return nil, "", fmt.Errorf("invalid cursor: %w", err)
		}
	}

	pageLimit := a.pageSize
	if limit > 0 && limit < pageLimit {
		pageLimit = limit
	}

	res, err := a.client.SearchOccurrences(ctx, scientificName, offset, pageLimit)
	if err != nil {
		// Return the cursor for the page after the failed one so callers
		// can skip past a persistently bad page instead of stalling on it.
		ferr := &domain.FetchError{Species: scientificName, Cursor: cursor, Err: err}
		return nil, strconv.Itoa(offset + pageLimit), ferr
	}

	records := make([]source.Occurrence, 0, len(res.Results))
	for i := range res.Results {
		occ, ok := toOccurrence(&res.Results[i])
		if !ok {
			continue
		}
		records = append(records, occ)
	}

	nextCursor := ""
	if !res.EndOfRecords && len(res.Results) > 0 {
		nextCursor = strconv.Itoa(offset + len(res.Results))
	}

	return records, nextCursor, nil
}

// FetchImage downloads the selected image for an occurrence.
func (a *Adapter) FetchImage(ctx context.Context, occ *source.Occurrence) ([]byte, error) {
	if occ.ImageURL == "" {
		return nil, fmt.Errorf("occurrence %s has no image URL", occ.GBIFID)
	}
	return a.client.DownloadImage(ctx, occ.ImageURL)
}

// toOccurrence maps an API result to a source occurrence, selecting its
// image. Returns ok=false when the record has no identifier or no usable
// still image.
func toOccurrence(r *occurrenceResult) (source.Occurrence, bool) {
	id := r.recordID()
	if id == "" {
		return source.Occurrence{}, false
	}

	media, ok := pickImage(r.Media)
	if !ok {
		return source.Occurrence{}, false
	}

	return source.Occurrence{
		GBIFID:           id,
		ScientificName:   r.ScientificName,
		Species:          r.Species,
		DecimalLatitude:  r.DecimalLatitude,
		DecimalLongitude: r.DecimalLongitude,
		Country:          r.Country,
		Locality:         r.Locality,
		EventDate:        r.EventDate,
		RecordedBy:       r.RecordedBy,
		InstitutionCode:  r.InstitutionCode,
		CollectionCode:   r.CollectionCode,
		CatalogNumber:    r.CatalogNumber,
		BasisOfRecord:    r.BasisOfRecord,
		License:          r.License,
		Publisher:        r.Publisher,
		DatasetKey:       r.DatasetKey,
		PublishingOrgKey: r.PublishingOrgKey,
		Media:            r.Media,
		ImageURL:         media.Identifier,
		ImageFormat:      imageExtension(media),
	}, true
}

// pickImage selects the first still image with a non-empty identifier.
// Occurrences can carry several media entries; the first usable one wins.
func pickImage(media []source.Media) (source.Media, bool) {
	for _, m := range media {
		if m.Identifier == "" {
			continue
		}
		if m.Type != "" && m.Type != "StillImage" {
			continue
		}
		return m, true
	}
	return source.Media{}, false
}

// imageExtension derives a file extension from the media format (a MIME
// type) or the identifier URL, defaulting to jpg.
func imageExtension(m source.Media) string {
	switch strings.ToLower(m.Format) {
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/png":
		return "png"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	}

	if u, err := url.Parse(m.Identifier); err == nil {
		ext := strings.ToLower(strings.TrimPrefix(path.Ext(u.Path), "."))
		switch ext {
		case "jpg", "jpeg", "png", "gif", "webp":
			return ext
		}
	}

	return "jpg"
}
