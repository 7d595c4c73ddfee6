package service

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"
)

// Failure describes one record (or page) that could not be harvested, with
// enough context for manual follow-up.
type Failure struct {
	RecordID string `json:"record_id"`
	Reason   string `json:"reason"`
}

// SpeciesStats holds per-species counters for a harvest run.
type SpeciesStats struct {
	Species  string    `json:"species"`
	Written  int       `json:"written"`
	Skipped  int       `json:"skipped"`
	Failed   int       `json:"failed"`
	Failures []Failure `json:"failures,omitempty"`
}

// RunSummary aggregates the outcome of a harvest run across all species.
type RunSummary struct {
	JobID     string         `json:"job_id"`
	StartTime time.Time      `json:"start_time"`
	EndTime   time.Time      `json:"end_time"`
	Species   []SpeciesStats `json:"species"`
}

// TotalWritten returns the number of image/metadata pairs written.
func (s *RunSummary) TotalWritten() int {
	n := 0
	for i := range s.Species {
		n += s.Species[i].Written
	}
	return n
}

// TotalSkipped returns the number of records skipped as already present.
func (s *RunSummary) TotalSkipped() int {
	n := 0
	for i := range s.Species {
		n += s.Species[i].Skipped
	}
	return n
}

// TotalFailed returns the number of records that failed after retries.
func (s *RunSummary) TotalFailed() int {
	n := 0
	for i := range s.Species {
		n += s.Species[i].Failed
	}
	return n
}

// FullyFailed returns species for which nothing was written or skipped and
// at least one failure occurred. A species with simply few (or zero)
// available occurrences is not a failure.
func (s *RunSummary) FullyFailed() []string {
	var out []string
	for i := range s.Species {
		sp := &s.Species[i]
		if sp.Written == 0 && sp.Skipped == 0 && sp.Failed > 0 {
			out = append(out, sp.Species)
		}
	}
	return out
}

// WriteTable renders the per-species summary table.
// Parameters:
//   - w: destination writer (typically stdout).
// Returns: none.
func (s *RunSummary) WriteTable(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SPECIES\tWRITTEN\tSKIPPED\tFAILED")
	for i := range s.Species {
		sp := &s.Species[i]
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", sp.Species, sp.Written, sp.Skipped, sp.Failed)
	}
	fmt.Fprintf(tw, "TOTAL\t%d\t%d\t%d\n", s.TotalWritten(), s.TotalSkipped(), s.TotalFailed())
	tw.Flush()

	for i := range s.Species {
		sp := &s.Species[i]
		for _, f := range sp.Failures {
			fmt.Fprintf(w, "failed: %s/%s: %s\n", sp.Species, f.RecordID, f.Reason)
		}
	}
}
