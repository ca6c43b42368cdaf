// Package validity decides whether an extracted article is a usable record
// or the residue of a failed fetch.
package validity

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pevans/papercrawl/article"
)

// Signature names the rule that marked a record invalid.
type Signature string

const (
	SignatureNone         Signature = ""
	SignatureFailureTitle Signature = "failure-title"
	SignatureNoContent    Signature = "no-content"
	SignatureShortBody    Signature = "short-body"
)

// Verdict is the result of classifying a record. It is derived on demand and
// never stored.
type Verdict struct {
	Valid     bool
	Signature Signature
	Detail    string
}

func (v Verdict) String() string {
	if v.Valid {
		return "valid"
	}
	return fmt.Sprintf("invalid (%s: %s)", v.Signature, v.Detail)
}

// Config holds the failure markers and thresholds.
type Config struct {
	FailureTitles []string `yaml:"failure_titles"`
	NoContent     string   `yaml:"no_content"`
	MinBodyLength int      `yaml:"min_body_length"`
}

// DefaultConfig returns the failure pages observed on the origin and a
// 50 character minimum body.
func DefaultConfig() Config {
	return Config{
		FailureTitles: []string{
			"491 Forbidden",
			"403 Forbidden",
			"404 Not Found",
			"500 Internal Server Error",
		},
		NoContent:     article.NoContent,
		MinBodyLength: 50,
	}
}

// Validate checks the thresholds.
func (c Config) Validate() error {
	if c.MinBodyLength < 0 {
		return fmt.Errorf("min_body_length must not be negative")
	}
	return nil
}

// Predicate classifies article content.
type Predicate struct {
	cfg Config
}

// New creates a Predicate.
func New(cfg Config) *Predicate {
	if cfg.NoContent == "" {
		cfg.NoContent = article.NoContent
	}
	return &Predicate{cfg: cfg}
}

// Classify applies the rules in order (failure title, no-content sentinel,
// short body) and reports the first that fires.
func (p *Predicate) Classify(c article.Content) Verdict {
	title := strings.TrimSpace(c.Title)
	for _, t := range p.cfg.FailureTitles {
		if t != "" && strings.Contains(title, t) {
			return Verdict{Signature: SignatureFailureTitle, Detail: fmt.Sprintf("title %q", title)}
		}
	}

	body := strings.TrimSpace(c.Body)
	if body == p.cfg.NoContent {
		return Verdict{Signature: SignatureNoContent, Detail: "no body could be extracted"}
	}

	if n := utf8.RuneCountInString(body); n < p.cfg.MinBodyLength {
		return Verdict{
			Signature: SignatureShortBody,
			Detail:    fmt.Sprintf("body has %d characters, minimum %d", n, p.cfg.MinBodyLength),
		}
	}

	return Verdict{Valid: true}
}

// ClassifyRecord classifies a stored record.
func (p *Predicate) ClassifyRecord(r *article.Record) Verdict {
	if r == nil {
		return Verdict{Signature: SignatureNoContent, Detail: "no record"}
	}
	return p.Classify(r.Content)
}
