package source

import "context"

// Media represents one media entry attached to an occurrence, as published
// by the upstream service.
type Media struct {
	Type       string `json:"type,omitempty"`
	Format     string `json:"format,omitempty"`
	Identifier string `json:"identifier,omitempty"`
	Creator    string `json:"creator,omitempty"`
	License    string `json:"license,omitempty"`
	Publisher  string `json:"publisher,omitempty"`
	References string `json:"references,omitempty"`
}

// Occurrence represents a single image-bearing occurrence record fetched
// from a data source. Provenance fields are pass-through: the harvester
// persists them without interpretation.
type Occurrence struct {
	GBIFID           string // Unique record identifier within the source
	ScientificName   string
	Species          string
	DecimalLatitude  *float64
	DecimalLongitude *float64
	Country          string
	Locality         string
	EventDate        string
	RecordedBy       string
	InstitutionCode  string
	CollectionCode   string
	CatalogNumber    string
	BasisOfRecord    string
	License          string
	Publisher        string
	DatasetKey       string
	PublishingOrgKey string
	Media            []Media

	ImageURL    string // Identifier URL of the selected image
	ImageFormat string // File extension of the selected image (jpg, png, ...)
}

// Source defines the interface for occurrence data sources.
type Source interface {
	// GetSourceID returns the unique identifier for this source.
	// Parameters: none.
	// Returns:
	//   - string: stable source identifier.
	GetSourceID() string

	// GetDisplayName returns a human-readable name for this source.
	// Parameters: none.
	// Returns:
	//   - string: display-friendly source name.
	GetDisplayName() string

	// FetchBatch fetches a batch of image-bearing occurrences for a species
	// starting from the given cursor.
	// Parameters:
	//   - ctx: context for cancellation and deadlines.
	//   - scientificName: species to search for.
	//   - cursor: pagination cursor or empty for first page.
	//   - limit: maximum number of records to fetch.
	// Returns:
	//   - records: batch of occurrence records.
	//   - nextCursor: cursor for the next batch or empty if done.
	//   - err: non-nil if fetching fails.
	FetchBatch(ctx context.Context, scientificName, cursor string, limit int) (records []Occurrence, nextCursor string, err error)

	// FetchImage downloads the selected image bytes for an occurrence.
	// Parameters:
	//   - ctx: context for cancellation and deadlines.
	//   - occ: occurrence whose ImageURL is downloaded.
	// Returns:
	//   - []byte: raw image bytes.
	//   - error: non-nil if the download fails after retries.
	FetchImage(ctx context.Context, occ *Occurrence) ([]byte, error)
}
