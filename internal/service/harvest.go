package service

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/floraset/internal/dataset"
	"github.com/timmy/floraset/internal/domain"
	"github.com/timmy/floraset/internal/logger"
	"github.com/timmy/floraset/internal/repository"
	"github.com/timmy/floraset/internal/source"
	"github.com/timmy/floraset/internal/storage"
	_ "golang.org/x/image/webp"
)

// maxConsecutivePageFailures bounds how many pages in a row may fail before
// the species is abandoned, so an unresolvable name cannot loop forever.
const maxConsecutivePageFailures = 3

// HarvestService drives the fetch-and-write loop over a species list.
type HarvestService struct {
	src    source.Source
	writer *dataset.Writer
	repo   *repository.HarvestRepository // nil disables bookkeeping
	mirror storage.ObjectStorage         // nil disables the mirror
	logger *logger.Logger

	cap     int
	workers int
	force   bool
}

// HarvestConfig holds configuration for the harvest service.
type HarvestConfig struct {
	Cap     int  // per-species maximum of image/metadata pairs
	Workers int  // concurrent record processors per species
	Force   bool // re-download records that already exist on disk
}

// NewHarvestService creates a new harvest service.
// Parameters:
//   - src: occurrence data source.
//   - writer: dataset writer for the output tree.
//   - repo: harvest bookkeeping repository, may be nil.
//   - mirror: optional object-storage mirror, may be nil.
//   - log: base logger.
//   - cfg: harvest configuration; zero fields fall back to defaults.
// Returns:
//   - *HarvestService: initialized service.
func NewHarvestService(
	src source.Source,
	writer *dataset.Writer,
	repo *repository.HarvestRepository,
	mirror storage.ObjectStorage,
	log *logger.Logger,
	cfg *HarvestConfig,
) *HarvestService {
	if cfg == nil {
		cfg = &HarvestConfig{}
	}
	capPerSpecies := cfg.Cap
	if capPerSpecies <= 0 {
		capPerSpecies = 1000
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	return &HarvestService{
		src:     src,
		writer:  writer,
		repo:    repo,
		mirror:  mirror,
		logger:  log,
		cap:     capPerSpecies,
		workers: workers,
		force:   cfg.Force,
	}
}

// log returns a logger from context if available, otherwise returns the default logger
func (s *HarvestService) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

// Run harvests every species in the list and returns the run summary.
// Per-record and per-species failures are isolated; only configuration and
// systemic write errors abort the run.
// Parameters:
//   - ctx: context for cancellation; honored between records.
//   - speciesList: ordered scientific names to harvest.
// Returns:
//   - *RunSummary: per-species counters, also valid when err is non-nil.
//   - error: non-nil on systemic failure or cancellation.
func (s *HarvestService) Run(ctx context.Context, speciesList []string) (*RunSummary, error) {
	summary := &RunSummary{
		JobID:     uuid.New().String(),
		StartTime: time.Now(),
	}
	if s.logger != nil {
		ctx = s.logger.WithContext(ctx)
	}
	ctx = logger.SetJobID(ctx, summary.JobID)

	// Restore the pairing invariant before harvesting so interrupted runs
	// resume from a clean tree.
	repair, err := s.writer.Repair()
	if err != nil {
		return summary, fmt.Errorf("startup repair failed: %w", err)
	}
	if n := len(repair.RemovedImages) + len(repair.RemovedTemp); n > 0 {
		s.log(ctx).WithFields(logger.Fields{
			"orphan_images": len(repair.RemovedImages),
			"temp_files":    len(repair.RemovedTemp),
		}).Info("Removed leftovers from interrupted run")
	}
	for _, p := range repair.Corrupt {
		s.log(ctx).WithField("path", p).Error("Metadata file without image, manual cleanup required")
	}

	job := s.startJob(ctx, summary.JobID, len(speciesList))

	var runErr error
	for _, sp := range speciesList {
		if ctx.Err() != nil {
			runErr = ctx.Err()
			break
		}

		stats, err := s.harvestSpecies(ctx, summary.JobID, sp)
		summary.Species = append(summary.Species, *stats)
		if err != nil {
			// Systemic failures and cancellation stop the whole run.
			runErr = err
			break
		}
	}

	summary.EndTime = time.Now()
	s.finishJob(ctx, job, summary, runErr)

	s.log(ctx).WithFields(logger.Fields{
		"written":  summary.TotalWritten(),
		"skipped":  summary.TotalSkipped(),
		"failed":   summary.TotalFailed(),
		"duration": summary.EndTime.Sub(summary.StartTime).String(),
	}).Info("Harvest completed")

	return summary, runErr
}

func (s *HarvestService) startJob(ctx context.Context, jobID string, speciesCount int) *domain.HarvestJob {
	now := time.Now()
	job := &domain.HarvestJob{
		ID:           jobID,
		SpeciesCount: speciesCount,
		Cap:          s.cap,
		Status:       domain.JobStatusRunning,
		StartedAt:    &now,
	}
	if s.repo != nil {
		if err := s.repo.CreateJob(ctx, job); err != nil {
			s.log(ctx).WithError(err).Warn("Failed to persist harvest job")
		}
	}
	return job
}

func (s *HarvestService) finishJob(ctx context.Context, job *domain.HarvestJob, summary *RunSummary, runErr error) {
	now := time.Now()
	job.CompletedAt = &now
	job.WrittenRecords = summary.TotalWritten()
	job.SkippedRecords = summary.TotalSkipped()
	job.FailedRecords = summary.TotalFailed()
	job.Status = domain.JobStatusCompleted
	if runErr != nil {
		job.Status = domain.JobStatusFailed
		job.ErrorLog = runErr.Error()
	}
	if s.repo != nil {
		if err := s.repo.UpdateJob(ctx, job); err != nil {
			s.log(ctx).WithError(err).Warn("Failed to update harvest job")
		}
	}
}

type recordResult struct {
	recordID string
	status   domain.RecordStatus
	err      error
	systemic bool
}

// harvestSpecies fetches and writes up to the cap for one species using a
// small worker pool. The returned error is non-nil only for systemic write
// failures or cancellation; ordinary fetch/write failures are counted.
func (s *HarvestService) harvestSpecies(ctx context.Context, jobID, speciesName string) (*SpeciesStats, error) {
	ctx = logger.SetSpecies(ctx, speciesName)
	stats := &SpeciesStats{Species: speciesName}

	s.log(ctx).WithField("cap", s.cap).Info("Harvesting species")

	spCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	occChan := make(chan source.Occurrence, s.workers*2)
	resultsChan := make(chan *recordResult, s.workers*2)

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.worker(spCtx, jobID, speciesName, occChan, resultsChan)
		}()
	}

	// Collector is the only writer of stats.
	var systemicErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		for res := range resultsChan {
			switch res.status {
			case domain.RecordStatusWritten:
				stats.Written++
			case domain.RecordStatusSkipped:
				stats.Skipped++
			case domain.RecordStatusFailed:
				stats.Failed++
				stats.Failures = append(stats.Failures, Failure{RecordID: res.recordID, Reason: res.err.Error()})
				if res.systemic && systemicErr == nil {
					systemicErr = res.err
					cancel() // stop the whole species, Run aborts after
				}
			}
		}
	}()

	// Fetch loop: single-threaded pagination bounded by the cap.
	cursor := ""
	fetched := 0
	consecutiveFailures := 0
fetch:
	for fetched < s.cap {
		if spCtx.Err() != nil {
			break
		}

		records, nextCursor, err := s.src.FetchBatch(spCtx, speciesName, cursor, s.cap-fetched)
		if err != nil {
			if spCtx.Err() != nil {
				break
			}
			// A lost page is a gap, not the end of the species.
			resultsChan <- &recordResult{
				recordID: fmt.Sprintf("page@%s", cursorLabel(cursor)),
				status:   domain.RecordStatusFailed,
				err:      err,
			}
			s.log(ctx).WithField("cursor", cursor).WithError(err).Error("Failed to fetch page, skipping")

			consecutiveFailures++
			if consecutiveFailures >= maxConsecutivePageFailures || nextCursor == "" {
				break
			}
			cursor = nextCursor
			continue
		}
		consecutiveFailures = 0

		for i := range records {
			if fetched >= s.cap {
				break fetch
			}
			fetched++
			select {
			case occChan <- records[i]:
			case <-spCtx.Done():
				break fetch
			}
		}

		if nextCursor == "" {
			break
		}
		cursor = nextCursor
	}

	close(occChan)
	wg.Wait()
	close(resultsChan)
	<-done

	logger.With(logger.Fields{
		"written": stats.Written,
		"skipped": stats.Skipped,
		"failed":  stats.Failed,
	}).Info(ctx, "Species done")

	if systemicErr != nil {
		return stats, systemicErr
	}
	if err := ctx.Err(); err != nil {
		return stats, err
	}
	return stats, nil
}

func cursorLabel(cursor string) string {
	if cursor == "" {
		return "start"
	}
	return cursor
}

func (s *HarvestService) worker(ctx context.Context, jobID, speciesName string, occs <-chan source.Occurrence, results chan<- *recordResult) {
	for occ := range occs {
		select {
		case <-ctx.Done():
			return
		default:
		}
		results <- s.processRecord(ctx, jobID, speciesName, &occ)
	}
}

// processRecord downloads and persists one occurrence. The write is atomic
// per record: image first, metadata second, image removed again if the
// metadata write fails.
func (s *HarvestService) processRecord(ctx context.Context, jobID, speciesName string, occ *source.Occurrence) *recordResult {
	result := &recordResult{recordID: occ.GBIFID}

	if !s.force {
		existing, err := s.writer.FindImage(speciesName, occ.GBIFID)
		if err != nil {
			result.status = domain.RecordStatusFailed
			result.err = err
			return result
		}
		if existing != "" {
			result.status = domain.RecordStatusSkipped
			return result
		}
	}

	imageData, err := s.src.FetchImage(ctx, occ)
	if err != nil {
		result.status = domain.RecordStatusFailed
		result.err = fmt.Errorf("image download failed: %w", err)
		s.recordFailure(ctx, jobID, speciesName, occ, result.err)
		return result
	}

	meta := dataset.FromOccurrence(occ)
	meta.MD5Hash = calculateMD5(imageData)
	width, height, err := getImageDimensions(imageData)
	if err != nil {
		s.log(ctx).WithField(logger.FieldRecordID, occ.GBIFID).WithError(err).Warn("Failed to decode image dimensions")
	}
	meta.ImageWidth = width
	meta.ImageHeight = height

	if err := s.writer.WritePair(speciesName, occ.GBIFID, occ.ImageFormat, imageData, meta); err != nil {
		result.status = domain.RecordStatusFailed
		result.err = err
		result.systemic = domain.IsSystemicWrite(err)
		s.recordFailure(ctx, jobID, speciesName, occ, err)
		return result
	}

	s.mirrorPair(ctx, speciesName, occ, imageData, meta)

	if s.repo != nil {
		rec := &domain.HarvestRecord{
			ID:           uuid.New().String(),
			JobID:        jobID,
			Species:      speciesName,
			GBIFID:       occ.GBIFID,
			ImagePath:    s.writer.ImagePath(speciesName, occ.GBIFID, occ.ImageFormat),
			MetadataPath: s.writer.MetadataPath(speciesName, occ.GBIFID),
			Format:       occ.ImageFormat,
			FileSize:     int64(len(imageData)),
			Width:        width,
			Height:       height,
			MD5Hash:      meta.MD5Hash,
			Status:       domain.RecordStatusWritten,
		}
		if err := s.repo.UpsertRecord(ctx, rec); err != nil {
			s.log(ctx).WithField(logger.FieldRecordID, occ.GBIFID).WithError(err).Warn("Failed to persist harvest record")
		}
	}

	result.status = domain.RecordStatusWritten
	return result
}

// recordFailure keeps failed records queryable for manual follow-up.
func (s *HarvestService) recordFailure(ctx context.Context, jobID, speciesName string, occ *source.Occurrence, cause error) {
	if s.repo == nil {
		return
	}
	rec := &domain.HarvestRecord{
		ID:         uuid.New().String(),
		JobID:      jobID,
		Species:    speciesName,
		GBIFID:     occ.GBIFID,
		Format:     occ.ImageFormat,
		Status:     domain.RecordStatusFailed,
		FailReason: cause.Error(),
	}
	if err := s.repo.UpsertRecord(ctx, rec); err != nil {
		s.log(ctx).WithField(logger.FieldRecordID, occ.GBIFID).WithError(err).Warn("Failed to persist failure record")
	}
}

// mirrorPair uploads a committed pair to the object-storage mirror. Mirror
// failures are logged and never affect the local dataset.
func (s *HarvestService) mirrorPair(ctx context.Context, speciesName string, occ *source.Occurrence, imageData []byte, meta *dataset.Metadata) {
	if s.mirror == nil {
		return
	}

	imageKey := fmt.Sprintf("images/%s/%s.%s", speciesName, occ.GBIFID, occ.ImageFormat)
	if err := s.mirror.Upload(ctx, imageKey, bytes.NewReader(imageData), int64(len(imageData)), getContentType(occ.ImageFormat)); err != nil {
		s.log(ctx).WithField("key", imageKey).WithError(err).Warn("Mirror upload failed")
		return
	}

	metaBytes, err := meta.MarshalIndent()
	if err != nil {
		s.log(ctx).WithField(logger.FieldRecordID, occ.GBIFID).WithError(err).Warn("Mirror metadata marshal failed")
		return
	}
	metaKey := fmt.Sprintf("metadata/%s/%s.json", speciesName, occ.GBIFID)
	if err := s.mirror.Upload(ctx, metaKey, bytes.NewReader(metaBytes), int64(len(metaBytes)), "application/json"); err != nil {
		s.log(ctx).WithField("key", metaKey).WithError(err).Warn("Mirror upload failed")
	}
}

func calculateMD5(data []byte) string {
	hash := md5.Sum(data)
	return hex.EncodeToString(hash[:])
}

func getImageDimensions(data []byte) (int, int, error) {
	config, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, err
	}
	return config.Width, config.Height, nil
}

func getContentType(format string) string {
	switch format {
	case "jpeg", "jpg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
