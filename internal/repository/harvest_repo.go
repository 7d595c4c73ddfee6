package repository

import (
	"context"
	"errors"

	"github.com/timmy/floraset/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// HarvestRepository handles harvest job and record bookkeeping.
type HarvestRepository struct {
	db *gorm.DB
}

// NewHarvestRepository creates a new HarvestRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *HarvestRepository: repository instance bound to db.
func NewHarvestRepository(db *gorm.DB) *HarvestRepository {
	return &HarvestRepository{db: db}
}

// CreateJob inserts a new harvest job record.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - job: job record to persist.
// Returns:
//   - error: non-nil if the insert fails.
func (r *HarvestRepository) CreateJob(ctx context.Context, job *domain.HarvestJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

// UpdateJob updates an existing harvest job record.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - job: job record with updated fields.
// Returns:
//   - error: non-nil if the update fails.
func (r *HarvestRepository) UpdateJob(ctx context.Context, job *domain.HarvestJob) error {
	return r.db.WithContext(ctx).Save(job).Error
}

// GetJob retrieves a harvest job by ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
// Returns:
//   - *domain.HarvestJob: job record if found.
//   - error: domain.ErrNotFound if missing, other errors on lookup failure.
func (r *HarvestRepository) GetJob(ctx context.Context, id string) (*domain.HarvestJob, error) {
	var job domain.HarvestJob
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

// ListJobs returns harvest jobs ordered newest first.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - limit: maximum number of jobs to return.
// Returns:
//   - []domain.HarvestJob: job records.
//   - error: non-nil on query failure.
func (r *HarvestRepository) ListJobs(ctx context.Context, limit int) ([]domain.HarvestJob, error) {
	var jobs []domain.HarvestJob
	err := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&jobs).Error
	return jobs, err
}

// UpsertRecord creates or updates a harvest record keyed by species and
// GBIF id, so resumed runs overwrite rather than duplicate.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - rec: record to create or update.
// Returns:
//   - error: non-nil if the upsert fails.
func (r *HarvestRepository) UpsertRecord(ctx context.Context, rec *domain.HarvestRecord) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "species"}, {Name: "gbif_id"}},
		UpdateAll: true,
	}).Create(rec).Error
}

// GetRecord retrieves a harvest record by species and GBIF id.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - species: species name.
//   - gbifID: occurrence record identifier.
// Returns:
//   - *domain.HarvestRecord: record if found.
//   - error: domain.ErrNotFound if missing, other errors on lookup failure.
func (r *HarvestRepository) GetRecord(ctx context.Context, species, gbifID string) (*domain.HarvestRecord, error) {
	var rec domain.HarvestRecord
	if err := r.db.WithContext(ctx).First(&rec, "species = ? AND gbif_id = ?", species, gbifID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// ListRecords returns harvest records for a species with pagination.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - species: species name.
//   - limit: page size.
//   - offset: page offset.
// Returns:
//   - []domain.HarvestRecord: record page.
//   - error: non-nil on query failure.
func (r *HarvestRepository) ListRecords(ctx context.Context, species string, limit, offset int) ([]domain.HarvestRecord, error) {
	var recs []domain.HarvestRecord
	err := r.db.WithContext(ctx).
		Where("species = ?", species).
		Order("gbif_id").
		Limit(limit).
		Offset(offset).
		Find(&recs).Error
	return recs, err
}

// SpeciesCount holds a per-species record tally by status.
type SpeciesCount struct {
	Species string `json:"species"`
	Written int64  `json:"written"`
	Failed  int64  `json:"failed"`
}

// CountBySpecies aggregates record counts per species.
// Parameters:
//   - ctx: context for cancellation and deadlines.
// Returns:
//   - []SpeciesCount: written/failed tallies per species, ordered by name.
//   - error: non-nil on query failure.
func (r *HarvestRepository) CountBySpecies(ctx context.Context) ([]SpeciesCount, error) {
	var counts []SpeciesCount
	err := r.db.WithContext(ctx).
		Model(&domain.HarvestRecord{}).
		Select("species, "+
			"SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS written, "+
			"SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS failed",
			domain.RecordStatusWritten, domain.RecordStatusFailed).
		Group("species").
		Order("species").
		Scan(&counts).Error
	return counts, err
}
