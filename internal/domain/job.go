package domain

import "time"

// JobStatus represents the status of a harvest job.
// Values include JobStatusPending, JobStatusRunning, JobStatusCompleted, and JobStatusFailed.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// HarvestJob represents one execution of the dataset harvester and its
// aggregate progress across all species.
type HarvestJob struct {
	ID             string     `gorm:"type:text;primaryKey" json:"id"`
	SpeciesCount   int        `gorm:"default:0" json:"species_count"`
	Cap            int        `gorm:"default:0" json:"cap"`
	Status         JobStatus  `gorm:"default:pending" json:"status"`
	WrittenRecords int        `gorm:"default:0" json:"written_records"`
	SkippedRecords int        `gorm:"default:0" json:"skipped_records"`
	FailedRecords  int        `gorm:"default:0" json:"failed_records"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	ErrorLog       string     `json:"error_log,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TableName returns the database table name for HarvestJob.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (HarvestJob) TableName() string {
	return "harvest_jobs"
}
