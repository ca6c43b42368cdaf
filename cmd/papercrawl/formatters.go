package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/pevans/papercrawl"
	"github.com/pevans/papercrawl/article"
)

// pendingReport lists the unstored articles of one date.
type pendingReport struct {
	Date    string             `json:"date"`
	Total   int                `json:"total"`
	Pending []article.WorkItem `json:"-"`
}

// MarshalJSON lists pending articles by identifier.
func (p pendingReport) MarshalJSON() ([]byte, error) {
	ids := make([]string, 0, len(p.Pending))
	for _, item := range p.Pending {
		ids = append(ids, item.ID())
	}
	return json.Marshal(struct {
		Date    string   `json:"date"`
		Total   int      `json:"total"`
		Pending []string `json:"pending"`
	}{p.Date, p.Total, ids})
}

// printJSON prints v as indented JSON
func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// printSummary prints the outcome of a run
func printSummary(w io.Writer, s papercrawl.Summary) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Items:      %d\n", s.Total)
	fmt.Fprintf(w, "Skipped:    %d (already stored)\n", s.Skipped)
	fmt.Fprintf(w, "Succeeded:  %d\n", s.Succeeded)
	fmt.Fprintf(w, "Exhausted:  %d\n", s.Exhausted)
	if s.Succeeded+s.Exhausted > 0 {
		fmt.Fprintf(w, "Success:    %.1f%%\n", 100*s.SuccessRate())
	}
	if s.Pauses > 0 {
		fmt.Fprintf(w, "Pauses:     %d\n", s.Pauses)
	}
	if remaining := s.Total - s.Processed(); remaining > 0 {
		fmt.Fprintf(w, "Remaining:  %d\n", remaining)
	}
	fmt.Fprintf(w, "Duration:   %s\n", s.Duration.Round(time.Second))
	if s.RunID != "" {
		fmt.Fprintf(w, "Run:        %s\n", s.RunID)
	}
}

// printStatusTable prints the status report in human-readable table format
func printStatusTable(w io.Writer, r *papercrawl.Report, details bool) {
	if len(r.Dates) == 0 {
		fmt.Fprintln(w, "No records stored.")
		return
	}

	fmt.Fprintf(w, "%-10s %7s %7s %8s %11s %8s\n", "DATE", "TOTAL", "VALID", "INVALID", "UNREADABLE", "SUCCESS")
	for _, d := range r.Dates {
		fmt.Fprintf(w, "%-10s %7d %7d %8d %11d %7.1f%%\n",
			d.Date, d.Total, d.Valid, d.Invalid, d.Unreadable, 100*d.SuccessRate())
	}
	fmt.Fprintf(w, "%-10s %7d %7d %8d %11d %7.1f%%\n",
		"all", r.Total, r.Valid, r.Invalid, r.Unreadable, 100*r.SuccessRate())

	if !details {
		return
	}

	for _, d := range r.Dates {
		if len(d.Problems) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n%s\n", d.Date)

		signatures := make([]string, 0, len(d.Signatures))
		for sig, n := range d.Signatures {
			signatures = append(signatures, fmt.Sprintf("%s=%d", sig, n))
		}
		sort.Strings(signatures)
		if len(signatures) > 0 {
			fmt.Fprintf(w, "  signatures: %v\n", signatures)
		}

		for _, p := range d.Problems {
			sig := string(p.Signature)
			if sig == "" {
				sig = "unreadable"
			}
			fmt.Fprintf(w, "  %-40s %-14s %s\n", p.Ref, sig, p.Detail)
		}
	}
}

// printPending prints the pending articles of each date
func printPending(w io.Writer, reports []pendingReport) {
	total := 0
	for _, r := range reports {
		fmt.Fprintf(w, "%s: %d of %d pending\n", r.Date, len(r.Pending), r.Total)
		for _, item := range r.Pending {
			title := item.Metadata.MainTitle
			if len([]rune(title)) > 40 {
				title = string([]rune(title)[:37]) + "..."
			}
			fmt.Fprintf(w, "  %s  %s\n", item.ID(), title)
		}
		total += len(r.Pending)
	}
	fmt.Fprintf(w, "\n%d articles pending\n", total)
}
