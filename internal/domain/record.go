package domain

import "time"

// RecordStatus represents the persistence state of a harvested record.
type RecordStatus string

const (
	RecordStatusWritten RecordStatus = "written"
	RecordStatusSkipped RecordStatus = "skipped"
	RecordStatusFailed  RecordStatus = "failed"
)

// HarvestRecord is the bookkeeping entry for one occurrence image/metadata
// pair on disk. The (species, gbif_id) pair is unique; re-runs upsert.
type HarvestRecord struct {
	ID           string       `gorm:"type:text;primaryKey" json:"id"`
	JobID        string       `gorm:"type:text;index" json:"job_id"`
	Species      string       `gorm:"type:text;not null;index;uniqueIndex:idx_species_gbif" json:"species"`
	GBIFID       string       `gorm:"column:gbif_id;type:text;not null;uniqueIndex:idx_species_gbif" json:"gbif_id"`
	ImagePath    string       `gorm:"type:text" json:"image_path"`
	MetadataPath string       `gorm:"type:text" json:"metadata_path"`
	Format       string       `gorm:"type:text" json:"format"`
	FileSize     int64        `gorm:"default:0" json:"file_size"`
	Width        int          `gorm:"default:0" json:"width"`
	Height       int          `gorm:"default:0" json:"height"`
	MD5Hash      string       `gorm:"type:text;index" json:"md5_hash"`
	Status       RecordStatus `gorm:"type:text;not null" json:"status"`
	FailReason   string       `gorm:"type:text" json:"fail_reason,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// TableName returns the database table name for HarvestRecord.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (HarvestRecord) TableName() string {
	return "harvest_records"
}
