package gbif

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/timmy/floraset/internal/source"
)

func newTestAdapter(serverURL string, pageSize int) *Adapter {
	return NewAdapter(newTestClient(serverURL, 1000, 1), pageSize)
}

// TestFetchBatchPagination verifies cursor advancement across pages
func TestFetchBatchPagination(t *testing.T) {
	// 5 records total served in pages of 2.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		offset := 0
		fmt.Sscanf(q.Get("offset"), "%d", &offset)
		limit := 0
		fmt.Sscanf(q.Get("limit"), "%d", &limit)

		total := 5
		var results []map[string]interface{}
		for i := offset; i < total && len(results) < limit; i++ {
			results = append(results, map[string]interface{}{
				"gbifID":  1000 + i,
				"species": "Bromus tectorum",
				"media": []map[string]string{
					{"type": "StillImage", "format": "image/jpeg", "identifier": fmt.Sprintf("https://img.example/%d.jpg", i)},
				},
			})
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"offset":       offset,
			"limit":        limit,
			"count":        total,
			"endOfRecords": offset+len(results) >= total,
			"results":      results,
		})
	}))
	defer server.Close()

	adapter := newTestAdapter(server.URL, 2)
	ctx := context.Background()

	var all []source.Occurrence
	cursor := ""
	pages := 0
	for {
		records, next, err := adapter.FetchBatch(ctx, "Bromus tectorum", cursor, 100)
		if err != nil {
			t.Fatalf("FetchBatch failed at cursor %q: %v", cursor, err)
		}
		all = append(all, records...)
		pages++
		if next == "" {
			break
		}
		cursor = next
	}

	if pages != 3 {
		t.Errorf("pages = %d, want 3", pages)
	}
	if len(all) != 5 {
		t.Fatalf("records = %d, want 5", len(all))
	}
	for i, occ := range all {
		want := fmt.Sprintf("%d", 1000+i)
		if occ.GBIFID != want {
			t.Errorf("Record %d GBIFID = %q, want %q", i, occ.GBIFID, want)
		}
	}
}

// TestFetchBatchLimitBoundsPage verifies the remaining limit shrinks the page
func TestFetchBatchLimitBoundsPage(t *testing.T) {
	var gotLimit string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLimit = r.URL.Query().Get("limit")
		w.Write([]byte(`{"endOfRecords": true, "results": []}`))
	}))
	defer server.Close()

	adapter := newTestAdapter(server.URL, 100)
	if _, _, err := adapter.FetchBatch(context.Background(), "Quercus robur", "", 7); err != nil {
		t.Fatalf("FetchBatch failed: %v", err)
	}
	if gotLimit != "7" {
		t.Errorf("limit = %q, want 7", gotLimit)
	}
}

// TestFetchBatchInvalidCursor verifies malformed cursors are rejected
func TestFetchBatchInvalidCursor(t *testing.T) {
	adapter := newTestAdapter("http://127.0.0.1:0", 10)
	_, _, err := adapter.FetchBatch(context.Background(), "Quercus robur", "not-a-number", 10)
	if err == nil {
		t.Fatal("Expected error for invalid cursor, got nil")
	}
}

// TestFetchBatchErrorReturnsSkipCursor verifies a failed page yields the next
// page's cursor so callers can skip past it
func TestFetchBatchErrorReturnsSkipCursor(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	adapter := NewAdapter(newTestClient(server.URL, 1000, 1), 50)
	_, next, err := adapter.FetchBatch(context.Background(), "Quercus robur", "100", 1000)
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if next != "150" {
		t.Errorf("next cursor = %q, want 150", next)
	}
}

// TestFetchBatchFiltersUnusableRecords verifies records without usable images are dropped
func TestFetchBatchFiltersUnusableRecords(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"endOfRecords": true,
			"results": [
				{"gbifID": 1, "media": [{"type": "StillImage", "identifier": "https://img.example/1.jpg"}]},
				{"gbifID": 2, "media": []},
				{"gbifID": 3, "media": [{"type": "Sound", "identifier": "https://img.example/3.wav"}]},
				{"gbifID": 4, "media": [{"type": "StillImage", "identifier": ""}]},
				{"media": [{"type": "StillImage", "identifier": "https://img.example/noid.jpg"}]},
				{"gbifID": 6, "media": [{"identifier": "https://img.example/6.png", "format": "image/png"}]}
			]
		}`))
	}))
	defer server.Close()

	adapter := newTestAdapter(server.URL, 10)
	records, _, err := adapter.FetchBatch(context.Background(), "Bromus tectorum", "", 10)
	if err != nil {
		t.Fatalf("FetchBatch failed: %v", err)
	}

	if len(records) != 2 {
		t.Fatalf("records = %d, want 2 (only usable images kept)", len(records))
	}
	if records[0].GBIFID != "1" || records[1].GBIFID != "6" {
		t.Errorf("Kept records %q and %q, want 1 and 6", records[0].GBIFID, records[1].GBIFID)
	}
	if records[1].ImageFormat != "png" {
		t.Errorf("Record 6 format = %q, want png", records[1].ImageFormat)
	}
}

// TestPickImage verifies first usable still image wins
func TestPickImage(t *testing.T) {
	testCases := []struct {
		name   string
		media  []source.Media
		wantOK bool
		wantID string
	}{
		{
			name:   "empty media",
			media:  nil,
			wantOK: false,
		},
		{
			name: "first still image wins",
			media: []source.Media{
				{Type: "StillImage", Identifier: "https://img.example/a.jpg"},
				{Type: "StillImage", Identifier: "https://img.example/b.jpg"},
			},
			wantOK: true,
			wantID: "https://img.example/a.jpg",
		},
		{
			name: "skips non-image media",
			media: []source.Media{
				{Type: "Sound", Identifier: "https://img.example/a.wav"},
				{Type: "StillImage", Identifier: "https://img.example/b.jpg"},
			},
			wantOK: true,
			wantID: "https://img.example/b.jpg",
		},
		{
			name: "untyped media with identifier accepted",
			media: []source.Media{
				{Identifier: "https://img.example/a.jpg"},
			},
			wantOK: true,
			wantID: "https://img.example/a.jpg",
		},
		{
			name: "skips empty identifiers",
			media: []source.Media{
				{Type: "StillImage", Identifier: ""},
				{Type: "StillImage", Identifier: "https://img.example/b.jpg"},
			},
			wantOK: true,
			wantID: "https://img.example/b.jpg",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m, ok := pickImage(tc.media)
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if ok && m.Identifier != tc.wantID {
				t.Errorf("identifier = %q, want %q", m.Identifier, tc.wantID)
			}
		})
	}
}

// TestImageExtension verifies MIME-then-URL extension resolution
func TestImageExtension(t *testing.T) {
	testCases := []struct {
		name  string
		media source.Media
		want  string
	}{
		{name: "jpeg mime", media: source.Media{Format: "image/jpeg"}, want: "jpg"},
		{name: "png mime", media: source.Media{Format: "image/png"}, want: "png"},
		{name: "gif mime", media: source.Media{Format: "image/gif"}, want: "gif"},
		{name: "webp mime", media: source.Media{Format: "image/webp"}, want: "webp"},
		{name: "mime wins over url", media: source.Media{Format: "image/png", Identifier: "https://img.example/a.jpg"}, want: "png"},
		{name: "url extension fallback", media: source.Media{Identifier: "https://img.example/photo.GIF"}, want: "gif"},
		{name: "url with query string", media: source.Media{Identifier: "https://img.example/photo.png?size=large"}, want: "png"},
		{name: "unknown defaults to jpg", media: source.Media{Identifier: "https://img.example/photo"}, want: "jpg"},
		{name: "unrecognized extension defaults to jpg", media: source.Media{Identifier: "https://img.example/photo.tiff"}, want: "jpg"},
		{name: "empty media defaults to jpg", media: source.Media{}, want: "jpg"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := imageExtension(tc.media); got != tc.want {
				t.Errorf("imageExtension = %q, want %q", got, tc.want)
			}
		})
	}
}

// TestFetchImage verifies image downloads and the missing-URL guard
func TestFetchImage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("pixels"))
	}))
	defer server.Close()

	adapter := newTestAdapter(server.URL, 10)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	occ := &source.Occurrence{GBIFID: "1", ImageURL: server.URL + "/img.jpg"}
	data, err := adapter.FetchImage(ctx, occ)
	if err != nil {
		t.Fatalf("FetchImage failed: %v", err)
	}
	if string(data) != "pixels" {
		t.Errorf("data = %q, want pixels", data)
	}

	if _, err := adapter.FetchImage(ctx, &source.Occurrence{GBIFID: "2"}); err == nil {
		t.Error("Expected error for occurrence without image URL, got nil")
	}
}
