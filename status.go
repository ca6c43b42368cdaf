package papercrawl

import (
	"fmt"
	"sort"

	"github.com/pevans/papercrawl/article"
	"github.com/pevans/papercrawl/store"
	"github.com/pevans/papercrawl/validity"
)

// RecordLister is the read side of the store used for status reports.
type RecordLister interface {
	Dates() ([]string, error)
	List(date string) (*store.ListResult, error)
	Classify(record article.Record) validity.Verdict
}

// Problem is a stored record that is not valid.
type Problem struct {
	Ref       string             `json:"ref"`
	Signature validity.Signature `json:"signature,omitempty"`
	Detail    string             `json:"detail"`
}

// DateStatus summarizes the records of one date.
type DateStatus struct {
	Date       string                     `json:"date"`
	Total      int                        `json:"total"`
	Valid      int                        `json:"valid"`
	Invalid    int                        `json:"invalid"`
	Unreadable int                        `json:"unreadable"`
	Signatures map[validity.Signature]int `json:"signatures,omitempty"`
	Problems   []Problem                  `json:"problems,omitempty"`
}

// SuccessRate is the fraction of stored records that are valid.
func (d DateStatus) SuccessRate() float64 {
	if d.Total == 0 {
		return 0
	}
	return float64(d.Valid) / float64(d.Total)
}

// Report is the status of the store across dates.
type Report struct {
	Dates      []DateStatus `json:"dates"`
	Total      int          `json:"total"`
	Valid      int          `json:"valid"`
	Invalid    int          `json:"invalid"`
	Unreadable int          `json:"unreadable"`
}

// SuccessRate is the fraction of all stored records that are valid.
func (r Report) SuccessRate() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Valid) / float64(r.Total)
}

// Scan classifies every stored record of the given dates, or of every stored
// date when none are given. Unreadable files count towards the total and are
// reported as problems.
func Scan(l RecordLister, dates ...string) (*Report, error) {
	if len(dates) == 0 {
		all, err := l.Dates()
		if err != nil {
			return nil, err
		}
		dates = all
	}

	report := &Report{Dates: []DateStatus{}}
	for _, date := range dates {
		status, err := scanDate(l, date)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", date, err)
		}
		report.Dates = append(report.Dates, *status)
		report.Total += status.Total
		report.Valid += status.Valid
		report.Invalid += status.Invalid
		report.Unreadable += status.Unreadable
	}
	return report, nil
}

func scanDate(l RecordLister, date string) (*DateStatus, error) {
	list, err := l.List(date)
	if err != nil {
		return nil, err
	}

	status := &DateStatus{Date: date}
	for _, entry := range list.Entries {
		status.Total++
		verdict := l.Classify(entry.Record)
		if verdict.Valid {
			status.Valid++
			continue
		}
		status.Invalid++
		if status.Signatures == nil {
			status.Signatures = make(map[validity.Signature]int)
		}
		status.Signatures[verdict.Signature]++
		status.Problems = append(status.Problems, Problem{
			Ref:       entry.Key.Ref,
			Signature: verdict.Signature,
			Detail:    verdict.Detail,
		})
	}

	for _, readErr := range list.Errors {
		status.Total++
		status.Unreadable++
		status.Problems = append(status.Problems, Problem{
			Ref:    readErr.Filename,
			Detail: readErr.Err.Error(),
		})
	}

	sort.Slice(status.Problems, func(i, j int) bool {
		return status.Problems[i].Ref < status.Problems[j].Ref
	})

	return status, nil
}
