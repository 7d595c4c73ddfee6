package service

import (
	"reflect"
	"strings"
	"testing"
)

func sampleSummary() *RunSummary {
	return &RunSummary{
		JobID: "job-1",
		Species: []SpeciesStats{
			{Species: "Bromus tectorum", Written: 3},
			{Species: "Achillea millefolium", Written: 0, Skipped: 2},
			{Species: "Quercus robur", Failed: 4, Failures: []Failure{
				{RecordID: "200", Reason: "image download failed"},
			}},
		},
	}
}

// TestSummaryTotals verifies counter aggregation across species
func TestSummaryTotals(t *testing.T) {
	s := sampleSummary()
	if got := s.TotalWritten(); got != 3 {
		t.Errorf("TotalWritten = %d, want 3", got)
	}
	if got := s.TotalSkipped(); got != 2 {
		t.Errorf("TotalSkipped = %d, want 2", got)
	}
	if got := s.TotalFailed(); got != 4 {
		t.Errorf("TotalFailed = %d, want 4", got)
	}
}

// TestFullyFailed verifies only all-failure species are reported
func TestFullyFailed(t *testing.T) {
	s := sampleSummary()
	if got := s.FullyFailed(); !reflect.DeepEqual(got, []string{"Quercus robur"}) {
		t.Errorf("FullyFailed = %v, want [Quercus robur]", got)
	}

	// Skipped-only species count as success; empty species are not failures.
	s = &RunSummary{Species: []SpeciesStats{
		{Species: "A", Skipped: 1, Failed: 5},
		{Species: "B"},
	}}
	if got := s.FullyFailed(); got != nil {
		t.Errorf("FullyFailed = %v, want nil", got)
	}
}

// TestWriteTable verifies the rendered summary includes rows, totals, and failures
func TestWriteTable(t *testing.T) {
	var sb strings.Builder
	sampleSummary().WriteTable(&sb)
	out := sb.String()

	for _, want := range []string{
		"SPECIES", "WRITTEN", "SKIPPED", "FAILED",
		"Bromus tectorum",
		"Achillea millefolium",
		"Quercus robur",
		"TOTAL",
		"failed: Quercus robur/200: image download failed",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Table output missing %q:\n%s", want, out)
		}
	}
}
