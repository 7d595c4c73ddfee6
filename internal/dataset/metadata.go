package dataset

import (
	"encoding/json"
	"fmt"

	"github.com/timmy/floraset/internal/source"
)

// Metadata is the provenance document written next to every image, keyed by
// the same record identifier. Field names follow the upstream occurrence
// schema so the files remain joinable with GBIF exports.
type Metadata struct {
	GBIFID           string         `json:"gbifID"`
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
	Media            []source.Media `json:"media"`
	Citation         string         `json:"citation"`
	DatasetKey       string         `json:"datasetKey"`
	PublishingOrgKey string         `json:"publishingOrgKey"`

	// Fields below are filled in by the harvester, not the upstream record.
	ImageFormat string `json:"imageFormat,omitempty"`
	ImageWidth  int    `json:"imageWidth,omitempty"`
	ImageHeight int    `json:"imageHeight,omitempty"`
	MD5Hash     string `json:"md5Hash,omitempty"`
}

// FromOccurrence builds the metadata document for an occurrence.
// Parameters:
//   - occ: occurrence record to serialize.
// Returns:
//   - *Metadata: provenance document including the citation line.
func FromOccurrence(occ *source.Occurrence) *Metadata {
	return &Metadata{
		GBIFID:           occ.GBIFID,
		ScientificName:   occ.ScientificName,
		Species:          occ.Species,
		DecimalLatitude:  occ.DecimalLatitude,
		DecimalLongitude: occ.DecimalLongitude,
		Country:          occ.Country,
		Locality:         occ.Locality,
		EventDate:        occ.EventDate,
		RecordedBy:       occ.RecordedBy,
		InstitutionCode:  occ.InstitutionCode,
		CollectionCode:   occ.CollectionCode,
		CatalogNumber:    occ.CatalogNumber,
		BasisOfRecord:    occ.BasisOfRecord,
		License:          occ.License,
		Publisher:        occ.Publisher,
		Media:            occ.Media,
		Citation:         fmt.Sprintf("GBIF Occurrence Download https://doi.org/10.15468/dl.%s", occ.GBIFID),
		DatasetKey:       occ.DatasetKey,
		PublishingOrgKey: occ.PublishingOrgKey,
		ImageFormat:      occ.ImageFormat,
	}
}

// MarshalIndent serializes the document exactly as the writer persists it.
// Parameters: none.
// Returns:
//   - []byte: indented JSON.
//   - error: non-nil if marshaling fails.
func (m *Metadata) MarshalIndent() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}
