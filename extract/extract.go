// Package extract turns article page markup into title, body, publish date
// and author using ordered selector fallbacks.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"

	"github.com/pevans/papercrawl/article"
)

// Extractor applies Rules to article pages. It holds no state besides the
// rules and is safe for concurrent use.
type Extractor struct {
	rules Rules
}

// New creates an Extractor.
func New(rules Rules) *Extractor {
	return &Extractor{rules: rules}
}

// Extract parses markup and resolves the article content. A page without any
// body region yields article.NoContent as the body; an error is returned only
// when the markup cannot be parsed.
func (e *Extractor) Extract(markup []byte, pageURL string) (article.Content, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		return article.Content{}, fmt.Errorf("failed to parse HTML: %w", err)
	}

	if e.rules.Strip != "" {
		doc.Find(e.rules.Strip).Remove()
	}

	content := article.Content{
		Title:       firstText(doc, e.rules.Title),
		Body:        e.body(doc),
		PublishDate: firstText(doc, e.rules.PublishDate),
		Author:      firstText(doc, e.rules.Author),
	}

	if content.Body == "" && e.rules.Readability {
		content.Body = readable(markup, pageURL)
	}
	if content.Body == "" {
		content.Body = article.NoContent
	}
	if content.Title == "" {
		content.Title = article.NoTitle
	}

	return content, nil
}

func (e *Extractor) body(doc *goquery.Document) string {
	if e.rules.Primary != "" {
		primary := doc.Find(e.rules.Primary).First()
		if primary.Length() > 0 {
			if text := e.paragraphs(primary); text != "" {
				return text
			}
			if text := strings.TrimSpace(primary.Text()); text != "" {
				return text
			}
		}
	}

	for _, selector := range e.rules.Content {
		if text := strings.TrimSpace(doc.Find(selector).First().Text()); text != "" {
			return text
		}
	}

	return ""
}

// paragraphs joins the paragraphs of sel that pass the length filter with
// blank lines.
func (e *Extractor) paragraphs(sel *goquery.Selection) string {
	if e.rules.Paragraph == "" {
		return ""
	}

	var kept []string
	sel.Find(e.rules.Paragraph).Each(func(_ int, p *goquery.Selection) {
		text := strings.TrimSpace(p.Text())
		if text == "" || utf8.RuneCountInString(text) <= e.rules.MinParagraphLength {
			return
		}
		kept = append(kept, text)
	})

	return strings.Join(kept, "\n\n")
}

// firstText returns the whitespace-normalized text of the first selector
// that matches something non-empty.
func firstText(doc *goquery.Document, selectors []string) string {
	for _, selector := range selectors {
		text := strings.Join(strings.Fields(doc.Find(selector).First().Text()), " ")
		if text != "" {
			return text
		}
	}
	return ""
}

func readable(markup []byte, pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil || pageURL == "" {
		u = nil
	}

	parsed, err := readability.FromReader(bytes.NewReader(markup), u)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(parsed.TextContent)
}
