// Package index reads the daily article index and turns it into work items.
package index

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/pevans/papercrawl/article"
)

var (
	// ErrNotJSON is returned when the origin served a page instead of the
	// index document.
	ErrNotJSON = errors.New("index is not JSON")

	// ErrScriptRequired is returned when the origin served its JavaScript
	// gate instead of the index document.
	ErrScriptRequired = errors.New("index requires JavaScript")
)

// page is one newspaper page of the index.
type page struct {
	PageNo   json.RawMessage   `json:"pageNo"`
	Articles []json.RawMessage `json:"onePageArticleList"`
}

// Result is a parsed index.
type Result struct {
	Items []article.WorkItem

	// Entries dropped for lacking a reference or repeating a key
	Skipped int
}

// Parse decodes a day's index. Entries without an article reference are
// skipped, and only the first entry of a repeated key is kept.
func Parse(date string, data []byte) (*Result, error) {
	if err := article.ValidateDate(date); err != nil {
		return nil, err
	}

	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrNotJSON)
	}
	if trimmed[0] == '<' {
		unwrapped, err := unwrapRendered(trimmed)
		if err != nil {
			return nil, err
		}
		trimmed = unwrapped
	}

	var pages []page
	if err := json.Unmarshal(trimmed, &pages); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotJSON, err)
	}

	result := &Result{}
	seen := make(map[article.Key]bool)

	for i, p := range pages {
		pageNo, err := parsePageNo(p.PageNo)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}

		for _, raw := range p.Articles {
			var meta article.Metadata
			if err := json.Unmarshal(raw, &meta); err != nil {
				return nil, fmt.Errorf("page %s: failed to parse article: %w", pageNo, err)
			}

			ref := strings.TrimSpace(meta.ArticleHref)
			if ref == "" {
				result.Skipped++
				continue
			}

			item := article.WorkItem{
				Date:        date,
				Page:        pageNo,
				Ref:         ref,
				Metadata:    meta,
				RawMetadata: raw,
			}
			if err := item.Validate(); err != nil {
				result.Skipped++
				continue
			}
			if seen[item.Key()] {
				result.Skipped++
				continue
			}
			seen[item.Key()] = true
			result.Items = append(result.Items, item)
		}
	}

	return result, nil
}

// unwrapRendered recovers an index that a browser rendered as a page, where
// the document sits in a <pre> element or directly in the body. Real HTML
// pages are rejected.
func unwrapRendered(markup []byte) ([]byte, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotJSON, err)
	}

	for _, selector := range []string{"pre", "body"} {
		text := strings.TrimSpace(doc.Find(selector).First().Text())
		if strings.HasPrefix(text, "[") {
			return []byte(text), nil
		}
	}

	if bytes.Contains(bytes.ToLower(markup), []byte("enable javascript")) {
		return nil, ErrScriptRequired
	}
	return nil, fmt.Errorf("%w: got HTML", ErrNotJSON)
}

// Document returns the index JSON held in data, unwrapping a rendered page
// if needed. It fails the same way Parse does.
func Document(data []byte) ([]byte, error) {
	data = bytes.TrimSpace(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")))
	if len(data) > 0 && data[0] == '<' {
		return unwrapRendered(data)
	}
	return data, nil
}

// parsePageNo accepts "001" or 1 and returns the three-digit form.
func parsePageNo(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "001", nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			return "001", nil
		}
		if n, err := strconv.Atoi(s); err == nil && len(s) < 3 {
			return fmt.Sprintf("%03d", n), nil
		}
		return s, nil
	}

	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("invalid pageNo %s", raw)
	}
	return fmt.Sprintf("%03d", n), nil
}

// URL returns the address of a day's index under origin.
func URL(origin, date string) string {
	year := date
	if len(year) > 4 {
		year = year[:4]
	}
	return fmt.Sprintf("%s/%s/%s/data.json", strings.TrimRight(origin, "/"), year, date)
}
