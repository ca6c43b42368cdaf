package article

import (
	"encoding/json"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"
)

// NoContent is the body recorded when no content region could be resolved.
// It is distinct from an empty string so that extraction failures can be told
// apart from articles that are merely short.
const NoContent = "无内容"

// NoTitle is the title recorded when no title could be resolved.
const NoTitle = "无标题"

// StrategyName identifies the fetch strategy that produced a record.
type StrategyName string

const (
	StrategyHTTP    StrategyName = "http"
	StrategyBrowser StrategyName = "browser"
)

// Metadata is one article entry from a day's index, as published by the
// origin.
type Metadata struct {
	MainTitle        string `json:"mainTitle"`
	ArticleAuthor    string `json:"articleAuthor"`
	ArticleColumn    string `json:"articleColumn"`
	WordNumber       Count  `json:"wordNumber"`
	IssueNumber      string `json:"issueNumber"`
	ArticleIssueDate string `json:"articleIssueDate"`
	ArticleHref      string `json:"articleHref"`
	PicAuthor        string `json:"picAuthor"`
}

// Count is a number the index sometimes publishes as a string.
type Count int

func (c *Count) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*c = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid count %s: %w", data, err)
	}
	*c = Count(n)
	return nil
}

// Key identifies a stored record. Records are grouped by date, so the page
// number is not part of the key.
type Key struct {
	Date string
	Ref  string
}

func (k Key) String() string {
	return k.Date + "/" + k.Ref
}

// WorkItem is one article to acquire: the coordinates needed to build its URL
// plus the metadata read from the index. RawMetadata keeps the index object
// verbatim so it can be written back unchanged.
type WorkItem struct {
	Date        string
	Page        string
	Ref         string
	Metadata    Metadata
	RawMetadata json.RawMessage
}

// Key returns the storage key of the item.
func (w WorkItem) Key() Key {
	return Key{Date: w.Date, Ref: w.Ref}
}

// ID returns a human-readable identifier used in logs.
func (w WorkItem) ID() string {
	return w.Date + "/" + w.Page + "/" + w.Ref
}

// Validate checks that the item carries usable coordinates.
func (w WorkItem) Validate() error {
	if err := ValidateDate(w.Date); err != nil {
		return err
	}
	if w.Page == "" {
		return fmt.Errorf("page number is empty")
	}
	if w.Ref == "" {
		return fmt.Errorf("article reference is empty")
	}
	if strings.ContainsAny(w.Ref, `/\`) {
		return fmt.Errorf("article reference %q contains a path separator", w.Ref)
	}
	return nil
}

// ValidateDate checks that date is an 8-digit YYYYMMDD calendar date.
func ValidateDate(date string) error {
	if len(date) != 8 {
		return fmt.Errorf("date %q must be YYYYMMDD", date)
	}
	if _, err := time.Parse("20060102", date); err != nil {
		return fmt.Errorf("date %q must be YYYYMMDD: %w", date, err)
	}
	return nil
}

// Content is the extracted part of an article page.
type Content struct {
	Title       string `json:"title"`
	Body        string `json:"body"`
	PublishDate string `json:"publishDate,omitempty"`
	Author      string `json:"author,omitempty"`
}

// Record is the persisted form of an acquired article. A record is never
// modified after it is written; a later fetch produces a new record that may
// supersede it.
type Record struct {
	Metadata  json.RawMessage `json:"metadata"`
	Content   Content         `json:"content"`
	CrawlTime time.Time       `json:"crawlTime"`
	SourceURL string          `json:"sourceUrl"`
	Strategy  StrategyName    `json:"strategyUsed"`
}

// BuildURL returns the article URL for item under origin:
//
//	origin/YYYY/YYYYMMDD/YYYYMMDD_PPP/ref
//
// It is a pure function of the item's coordinates.
func BuildURL(origin string, item WorkItem) string {
	year := item.Date
	if len(year) > 4 {
		year = year[:4]
	}
	return fmt.Sprintf("%s/%s/%s/%s_%s/%s",
		strings.TrimRight(origin, "/"),
		year,
		item.Date,
		item.Date,
		item.Page,
		item.Ref,
	)
}

// ParseURL is the inverse of BuildURL. It returns the date, page number and
// article reference encoded in rawURL, which must live under origin.
func ParseURL(origin, rawURL string) (date, page, ref string, err error) {
	prefix := strings.TrimRight(origin, "/") + "/"
	if !strings.HasPrefix(rawURL, prefix) {
		return "", "", "", fmt.Errorf("url %q is not under origin %q", rawURL, origin)
	}

	rest := strings.TrimPrefix(rawURL, prefix)
	if i := strings.IndexAny(rest, "?#"); i >= 0 {
		rest = rest[:i]
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 4 {
		return "", "", "", fmt.Errorf("url %q does not match year/date/date_page/ref", rawURL)
	}

	year, date, pageDir, ref := parts[0], parts[1], parts[2], parts[3]
	if err := ValidateDate(date); err != nil {
		return "", "", "", err
	}
	if year != date[:4] {
		return "", "", "", fmt.Errorf("url %q: year %s does not match date %s", rawURL, year, date)
	}
	page, ok := strings.CutPrefix(pageDir, date+"_")
	if !ok || page == "" {
		return "", "", "", fmt.Errorf("url %q: page directory %q does not match date", rawURL, pageDir)
	}
	if ref == "" || path.Ext(ref) == "" {
		return "", "", "", fmt.Errorf("url %q has no article reference", rawURL)
	}

	return date, page, ref, nil
}
