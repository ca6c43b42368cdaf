package extract

import "fmt"

// Rules lists the selectors tried for each part of an article page. Every
// list is tried in order and the first non-empty match wins.
type Rules struct {
	Title []string `yaml:"title"`

	// Container holding the article body and the paragraph selector
	// within it. Paragraphs no longer than MinParagraphLength runes are
	// dropped as boilerplate.
	Primary            string `yaml:"primary"`
	Paragraph          string `yaml:"paragraph"`
	MinParagraphLength int    `yaml:"min_paragraph_length"`

	// Generic content regions used when the primary container is missing
	Content []string `yaml:"content"`

	PublishDate []string `yaml:"publish_date"`
	Author      []string `yaml:"author"`

	// Elements removed before any text is read
	Strip string `yaml:"strip"`

	// Run readability on the whole page when no rule matched
	Readability bool `yaml:"readability"`
}

// DefaultRules returns the selectors for the newspaper's article pages.
func DefaultRules() Rules {
	return Rules{
		Title:              []string{"h1", ".title", ".article-title", "#title", "title"},
		Primary:            "div#ozoom",
		Paragraph:          "p",
		MinParagraphLength: 10,
		Content: []string{
			".article-content",
			".content",
			"#content",
			".article-body",
			".text-content",
			"article",
			".main-content",
		},
		PublishDate: []string{".publish-date", ".date", ".article-date", "time"},
		Author:      []string{".author", ".article-author", ".byline"},
		Strip:       "script, style",
	}
}

// Validate checks that the rules can resolve a title and a body.
func (r Rules) Validate() error {
	if len(r.Title) == 0 {
		return fmt.Errorf("at least one title selector is required")
	}
	if r.Primary == "" && len(r.Content) == 0 && !r.Readability {
		return fmt.Errorf("no body rule configured")
	}
	if r.MinParagraphLength < 0 {
		return fmt.Errorf("min_paragraph_length must not be negative")
	}
	return nil
}
