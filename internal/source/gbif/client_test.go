package gbif

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

// newTestClient builds a client against a test server with fast backoff.
func newTestClient(serverURL string, rps float64, retries int) *Client {
	c := NewClient(&ClientConfig{
		BaseURL:           serverURL,
		RequestsPerSecond: rps,
		Burst:             1,
		MaxRetries:        retries,
		Timeout:           5 * time.Second,
	})
	c.baseBackoff = time.Millisecond
	return c
}

// TestSearchOccurrencesQuery verifies the search request shape and decoding
func TestSearchOccurrencesQuery(t *testing.T) {
	var gotQuery map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		gotQuery = map[string]string{
			"scientificName": q.Get("scientificName"),
			"mediaType":      q.Get("mediaType"),
			"offset":         q.Get("offset"),
			"limit":          q.Get("limit"),
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"offset": 200,
			"limit": 100,
			"count": 345,
			"endOfRecords": true,
			"results": [
				{"gbifID": 1234567890, "scientificName": "Bromus tectorum L.", "species": "Bromus tectorum",
				 "media": [{"type": "StillImage", "format": "image/jpeg", "identifier": "https://img.example/a.jpg"}]}
			]
		}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, 1000, 1)
	res, err := client.SearchOccurrences(context.Background(), "Bromus tectorum", 200, 100)
	if err != nil {
		t.Fatalf("SearchOccurrences failed: %v", err)
	}

	if gotQuery["scientificName"] != "Bromus tectorum" {
		t.Errorf("scientificName = %q, want %q", gotQuery["scientificName"], "Bromus tectorum")
	}
	if gotQuery["mediaType"] != "StillImage" {
		t.Errorf("mediaType = %q, want StillImage", gotQuery["mediaType"])
	}
	if gotQuery["offset"] != "200" || gotQuery["limit"] != "100" {
		t.Errorf("pagination = offset %q limit %q, want 200/100", gotQuery["offset"], gotQuery["limit"])
	}

	if !res.EndOfRecords {
		t.Error("EndOfRecords = false, want true")
	}
	if len(res.Results) != 1 {
		t.Fatalf("Results length = %d, want 1", len(res.Results))
	}
	if id := res.Results[0].recordID(); id != "1234567890" {
		t.Errorf("recordID = %q, want 1234567890", id)
	}
}

// TestRecordIDFallback verifies that the record key is used when gbifID is absent
func TestRecordIDFallback(t *testing.T) {
	r := occurrenceResult{Key: "987"}
	if id := r.recordID(); id != "987" {
		t.Errorf("recordID = %q, want 987", id)
	}
}

// TestGetRetriesServerErrors verifies that 5xx responses are retried
func TestGetRetriesServerErrors(t *testing.T) {
	var calls int
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"endOfRecords": true, "results": []}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, 1000, 3)
	_, err := client.SearchOccurrences(context.Background(), "Quercus robur", 0, 20)
	if err != nil {
		t.Fatalf("Expected success after retries, got: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

// TestGetRetriesRateLimit verifies that 429 responses honor Retry-After
func TestGetRetriesRateLimit(t *testing.T) {
	var calls int
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("imagebytes"))
	}))
	defer server.Close()

	client := newTestClient(server.URL, 1000, 2)
	body, err := client.DownloadImage(context.Background(), server.URL+"/img.jpg")
	if err != nil {
		t.Fatalf("Expected success after rate limit retry, got: %v", err)
	}
	if string(body) != "imagebytes" {
		t.Errorf("body = %q, want imagebytes", body)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

// TestGetGivesUpAfterRetries verifies bounded retries on persistent failure
func TestGetGivesUpAfterRetries(t *testing.T) {
	var calls int
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(server.URL, 1000, 2)
	_, err := client.SearchOccurrences(context.Background(), "Quercus robur", 0, 20)
	if err == nil {
		t.Fatal("Expected error after exhausted retries, got nil")
	}
	if !strings.Contains(err.Error(), "after 2 retries") {
		t.Errorf("Error does not mention retry exhaustion: %v", err)
	}
	// initial attempt + 2 retries
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

// TestGetDoesNotRetryClientErrors verifies 4xx responses fail immediately
func TestGetDoesNotRetryClientErrors(t *testing.T) {
	var calls int
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(server.URL, 1000, 3)
	_, err := client.DownloadImage(context.Background(), server.URL+"/missing.jpg")
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retries for 404)", calls)
	}
}

// TestRateLimiterSpacing verifies requests are spaced by the shared limiter
func TestRateLimiterSpacing(t *testing.T) {
	var mu sync.Mutex
	var timestamps []time.Time
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		timestamps = append(timestamps, time.Now())
		mu.Unlock()
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	// 20 rps with burst 1: requests at least ~50ms apart.
	client := newTestClient(server.URL, 20, 0)

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		if _, err := client.DownloadImage(ctx, server.URL+"/img"); err != nil {
			t.Fatalf("Request %d failed: %v", i, err)
		}
	}

	if len(timestamps) != 4 {
		t.Fatalf("timestamps = %d, want 4", len(timestamps))
	}
	for i := 1; i < len(timestamps); i++ {
		gap := timestamps[i].Sub(timestamps[i-1])
		if gap < 40*time.Millisecond {
			t.Errorf("Gap %d = %v, want >= ~50ms", i, gap)
		}
	}
}

// TestContextCancellationStopsRetries verifies cancellation aborts the retry loop
func TestContextCancellationStopsRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(server.URL, 1000, 5)
	client.baseBackoff = time.Hour // force the retry wait to block

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := client.DownloadImage(ctx, server.URL+"/img")
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("Expected error after cancellation, got nil")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Request did not abort after cancellation")
	}
}

// TestDefaultLimiter verifies the default request budget
func TestDefaultLimiter(t *testing.T) {
	client := NewClient(nil)
	if got := client.limiter.Limit(); got != rate.Limit(5) {
		t.Errorf("Default limit = %v, want 5", got)
	}
	if got := client.limiter.Burst(); got != 1 {
		t.Errorf("Default burst = %d, want 1", got)
	}
}
