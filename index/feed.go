package index

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/pevans/papercrawl/article"
)

// FeedReader builds work items from an RSS or Atom feed whose item links
// point at article pages under origin. The gofeed library detects and
// handles both formats.
type FeedReader struct {
	origin string
	parser *gofeed.Parser
}

// NewFeedReader creates a feed reader for article links under origin.
func NewFeedReader(origin string) *FeedReader {
	return &FeedReader{origin: origin, parser: gofeed.NewParser()}
}

// FetchItems downloads and parses the feed at feedURL.
func (r *FeedReader) FetchItems(ctx context.Context, feedURL string) (*Result, error) {
	feed, err := r.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}
	return r.items(feed), nil
}

// ParseItems parses a feed document.
func (r *FeedReader) ParseItems(data string) (*Result, error) {
	feed, err := r.parser.ParseString(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}
	return r.items(feed), nil
}

// items converts feed entries to work items. Links that are not article
// pages under the origin are skipped.
func (r *FeedReader) items(feed *gofeed.Feed) *Result {
	result := &Result{}
	seen := make(map[article.Key]bool)

	for _, entry := range feed.Items {
		date, pageNo, ref, err := article.ParseURL(r.origin, strings.TrimSpace(entry.Link))
		if err != nil {
			result.Skipped++
			continue
		}

		meta := article.Metadata{
			MainTitle:        entry.Title,
			ArticleHref:      ref,
			ArticleIssueDate: date,
		}
		// Author: from <author> (RSS/Atom) or <dc:creator>
		if entry.Author != nil {
			meta.ArticleAuthor = entry.Author.Name
		} else if entry.DublinCoreExt != nil && len(entry.DublinCoreExt.Creator) > 0 {
			meta.ArticleAuthor = entry.DublinCoreExt.Creator[0]
		}

		raw, err := json.Marshal(meta)
		if err != nil {
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
		if seen[item.Key()] {
			result.Skipped++
			continue
		}
		seen[item.Key()] = true
		result.Items = append(result.Items, item)
	}

	return result
}
