package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/timmy/floraset/internal/dataset"
	"github.com/timmy/floraset/internal/source"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	writer, err := dataset.NewWriter(t.TempDir())
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}

	meta := dataset.FromOccurrence(&source.Occurrence{
		GBIFID:      "123",
		Species:     "Bromus tectorum",
		ImageFormat: "jpg",
	})
	if err := writer.WritePair("Bromus tectorum", "123", "jpg", []byte("pixels"), meta); err != nil {
		t.Fatalf("WritePair failed: %v", err)
	}

	h := NewDatasetHandler(nil, writer)
	r := gin.New()
	r.GET("/api/v1/species/:name/records/:id/metadata", h.GetMetadata)
	r.GET("/api/v1/species/:name/records/:id/image", h.GetImage)
	return r
}

// TestGetMetadata verifies the stored provenance document is served verbatim
func TestGetMetadata(t *testing.T) {
	r := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/species/"+url.PathEscape("Bromus tectorum")+"/records/123/metadata", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body: %s)", w.Code, w.Body.String())
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &doc); err != nil {
		t.Fatalf("Response is not valid JSON: %v", err)
	}
	if doc["gbifID"] != "123" {
		t.Errorf("gbifID = %v, want 123", doc["gbifID"])
	}
}

// TestGetMetadataNotFound verifies 404 for unknown records
func TestGetMetadataNotFound(t *testing.T) {
	r := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/species/"+url.PathEscape("Bromus tectorum")+"/records/999/metadata", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

// TestGetImage verifies committed image bytes are served
func TestGetImage(t *testing.T) {
	r := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/species/"+url.PathEscape("Bromus tectorum")+"/records/123/image", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Body.String(); got != "pixels" {
		t.Errorf("body = %q, want pixels", got)
	}
}

// TestPathParamValidation verifies traversal-shaped parameters are rejected
func TestPathParamValidation(t *testing.T) {
	r := newTestRouter(t)

	testCases := []struct {
		name string
		path string
	}{
		{name: "dotdot species", path: "/api/v1/species/" + url.PathEscape("..") + "/records/123/metadata"},
		{name: "dotdot record", path: "/api/v1/species/" + url.PathEscape("Bromus tectorum") + "/records/" + url.PathEscape("..") + "/image"},
		{name: "backslash in species", path: "/api/v1/species/" + url.PathEscape("a\\b") + "/records/123/metadata"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			r.ServeHTTP(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}
