package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pevans/papercrawl"
	"github.com/pevans/papercrawl/article"
	"github.com/pevans/papercrawl/validity"
)

func TestPromptConfirmer(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{" yes \n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
		{"y", true},
	}

	for _, tt := range tests {
		var out bytes.Buffer
		c := newPromptConfirmer(strings.NewReader(tt.input), &out)
		got, err := c.Confirm(context.Background(), 42)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "input %q", tt.input)
		assert.Contains(t, out.String(), "42 articles")
	}
}

func TestPrintSummary(t *testing.T) {
	var out bytes.Buffer
	printSummary(&out, papercrawl.Summary{
		Total:     10,
		Skipped:   2,
		Succeeded: 6,
		Exhausted: 2,
		Pauses:    1,
		Duration:  90 * time.Second,
	})

	text := out.String()
	assert.Contains(t, text, "Succeeded:  6")
	assert.Contains(t, text, "Success:    75.0%")
	assert.Contains(t, text, "Pauses:     1")
	assert.NotContains(t, text, "Remaining")
	assert.Contains(t, text, "1m30s")
}

func TestPrintStatusTable(t *testing.T) {
	report := &papercrawl.Report{
		Dates: []papercrawl.DateStatus{{
			Date:       "20250520",
			Total:      4,
			Valid:      3,
			Invalid:    1,
			Signatures: map[validity.Signature]int{validity.SignatureShortBody: 1},
			Problems:   []papercrawl.Problem{{Ref: "a.html", Signature: validity.SignatureShortBody, Detail: "body has 3 characters"}},
		}},
		Total:   4,
		Valid:   3,
		Invalid: 1,
	}

	var out bytes.Buffer
	printStatusTable(&out, report, true)
	text := out.String()
	assert.Contains(t, text, "20250520")
	assert.Contains(t, text, "75.0%")
	assert.Contains(t, text, "short-body=1")
	assert.Contains(t, text, "a.html")

	out.Reset()
	printStatusTable(&out, &papercrawl.Report{}, false)
	assert.Equal(t, "No records stored.\n", out.String())
}

func TestPendingReport_JSON(t *testing.T) {
	report := pendingReport{
		Date:    "20250520",
		Total:   2,
		Pending: []article.WorkItem{{Date: "20250520", Page: "001", Ref: "a.html"}},
	}

	var out bytes.Buffer
	require.NoError(t, printJSON(&out, []pendingReport{report}))

	var decoded []struct {
		Date    string   `json:"date"`
		Total   int      `json:"total"`
		Pending []string `json:"pending"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, []string{"20250520/001/a.html"}, decoded[0].Pending)
}
