package fetch

import (
	"bytes"
	"slices"
	"strings"
)

// Detector recognises pages the origin serves instead of an article: rate
// limit responses, JavaScript gates and bot-check interstitials.
type Detector struct {
	// HTTP statuses the origin uses to signal rate limiting
	ChallengeStatuses []int `yaml:"challenge_statuses"`

	// Case-insensitive body phrases of a challenge page
	ChallengeMarkers []string `yaml:"challenge_markers"`

	// Case-insensitive title phrases of an error page
	ErrorTitleMarkers []string `yaml:"error_title_markers"`
}

// DefaultDetector returns the markers observed on the origin plus the common
// bot-check phrases.
func DefaultDetector() Detector {
	return Detector{
		ChallengeStatuses: []int{491},
		ChallengeMarkers: []string{
			"Please enable JavaScript",
			"491 Forbidden",
			"verify you are human",
			"verifying you are human",
			"checking your browser",
			"please wait while we verify",
			"attention required",
		},
		ErrorTitleMarkers: []string{"403", "404", "500", "forbidden", "error"},
	}
}

// IsChallengeStatus reports whether status signals rate limiting.
func (d Detector) IsChallengeStatus(status int) bool {
	return slices.Contains(d.ChallengeStatuses, status)
}

// ChallengeMarker returns the first challenge phrase found in body, or "".
func (d Detector) ChallengeMarker(body []byte) string {
	lower := bytes.ToLower(body)
	for _, m := range d.ChallengeMarkers {
		if m == "" {
			continue
		}
		if bytes.Contains(lower, []byte(strings.ToLower(m))) {
			return m
		}
	}
	return ""
}

// IsErrorTitle reports whether a page title looks like an error page.
func (d Detector) IsErrorTitle(title string) bool {
	lower := strings.ToLower(title)
	for _, m := range d.ErrorTitleMarkers {
		if m != "" && strings.Contains(lower, strings.ToLower(m)) {
			return true
		}
	}
	return false
}
