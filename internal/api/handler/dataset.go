package handler

import (
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/timmy/floraset/internal/dataset"
	"github.com/timmy/floraset/internal/domain"
	"github.com/timmy/floraset/internal/repository"
)

// DatasetHandler serves read-only views over the harvested dataset: species
// counts from the bookkeeping database and raw files from the output tree.
type DatasetHandler struct {
	repo   *repository.HarvestRepository
	writer *dataset.Writer
}

// NewDatasetHandler creates a new dataset handler.
// Parameters:
//   - repo: harvest bookkeeping repository.
//   - writer: dataset writer rooted at the output directory.
// Returns:
//   - *DatasetHandler: initialized handler.
func NewDatasetHandler(repo *repository.HarvestRepository, writer *dataset.Writer) *DatasetHandler {
	return &DatasetHandler{
		repo:   repo,
		writer: writer,
	}
}

// ListSpecies handles GET /api/v1/species.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *DatasetHandler) ListSpecies(c *gin.Context) {
	counts, err := h.repo.CountBySpecies(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list species: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"species": counts})
}

// ListRecords handles GET /api/v1/species/:name/records.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *DatasetHandler) ListRecords(c *gin.Context) {
	name, ok := speciesParam(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	records, err := h.repo.ListRecords(c.Request.Context(), name, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list records: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"species": name, "records": records})
}

// GetMetadata handles GET /api/v1/species/:name/records/:id/metadata and
// serves the raw provenance document for a record.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *DatasetHandler) GetMetadata(c *gin.Context) {
	name, ok := speciesParam(c)
	if !ok {
		return
	}
	id, ok := recordParam(c)
	if !ok {
		return
	}

	path := h.writer.MetadataPath(name, id)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Record not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read metadata: " + err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json", data)
}

// GetImage handles GET /api/v1/species/:name/records/:id/image and serves
// the image bytes for a record.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes file response).
func (h *DatasetHandler) GetImage(c *gin.Context) {
	name, ok := speciesParam(c)
	if !ok {
		return
	}
	id, ok := recordParam(c)
	if !ok {
		return
	}

	path, err := h.writer.FindImage(name, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to locate image: " + err.Error()})
		return
	}
	if path == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "Image not found"})
		return
	}
	c.File(path)
}

// ListJobs handles GET /api/v1/jobs.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *DatasetHandler) ListJobs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	jobs, err := h.repo.ListJobs(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list jobs: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

// GetJob handles GET /api/v1/jobs/:id.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *DatasetHandler) GetJob(c *gin.Context) {
	job, err := h.repo.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get job: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, job)
}

// speciesParam validates the species path parameter as a single directory
// component.
func speciesParam(c *gin.Context) (string, bool) {
	name := c.Param("name")
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\\x00") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid species name"})
		return "", false
	}
	return name, true
}

// recordParam validates the record id path parameter.
func recordParam(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, "/\\\x00") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid record id"})
		return "", false
	}
	return id, true
}
