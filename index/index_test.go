package index

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pevans/papercrawl/article"
	"github.com/pevans/papercrawl/fetch"
)

const sampleIndex = `[
  {
    "pageNo": "001",
    "onePageArticleList": [
      {"mainTitle": "X", "articleAuthor": "张三", "articleColumn": "要闻", "wordNumber": 1200,
       "issueNumber": "8123", "articleIssueDate": "2025-05-20", "articleHref": "20250520_001_02_2642.html", "picAuthor": ""},
      {"mainTitle": "No link", "articleHref": ""},
      {"mainTitle": "Y", "articleHref": "20250520_001_03_2643.html", "wordNumber": "800"}
    ]
  },
  {
    "pageNo": 2,
    "onePageArticleList": [
      {"mainTitle": "X again", "articleHref": "20250520_001_02_2642.html"},
      {"mainTitle": "Z", "articleHref": "20250520_002_01_2650.html"}
    ]
  }
]`

// TestParse verifies index decoding, skipping and de-duplication.
func TestParse(t *testing.T) {
	result, err := Parse("20250520", []byte(sampleIndex))
	require.NoError(t, err)

	require.Len(t, result.Items, 3)
	assert.Equal(t, 2, result.Skipped)

	first := result.Items[0]
	assert.Equal(t, "20250520", first.Date)
	assert.Equal(t, "001", first.Page)
	assert.Equal(t, "20250520_001_02_2642.html", first.Ref)
	assert.Equal(t, "X", first.Metadata.MainTitle)
	assert.Equal(t, article.Count(1200), first.Metadata.WordNumber)
	assert.Contains(t, string(first.RawMetadata), `"picAuthor": ""`, "raw metadata kept verbatim")

	assert.Equal(t, article.Count(800), result.Items[1].Metadata.WordNumber)
	assert.Equal(t, "002", result.Items[2].Page)
}

// TestParse_RejectsPages verifies HTML served in place of the index.
func TestParse_RejectsPages(t *testing.T) {
	_, err := Parse("20250520", []byte("<html><body>Please enable JavaScript</body></html>"))
	assert.ErrorIs(t, err, ErrScriptRequired)

	_, err = Parse("20250520", []byte("\n<!DOCTYPE html><html><title>491 Forbidden</title></html>"))
	assert.ErrorIs(t, err, ErrNotJSON)

	_, err = Parse("20250520", []byte("  "))
	assert.ErrorIs(t, err, ErrNotJSON)

	_, err = Parse("20250520", []byte(`{"not": "a list"}`))
	assert.ErrorIs(t, err, ErrNotJSON)

	_, err = Parse("May 20", []byte("[]"))
	assert.Error(t, err)
}

// TestParse_RenderedIndex verifies an index that a browser wrapped in a page
// is still read.
func TestParse_RenderedIndex(t *testing.T) {
	tests := []struct {
		name   string
		markup string
	}{
		{"pre", "<html><head></head><body><pre>" + sampleIndex + "</pre></body></html>"},
		{"pre with styles", `<html><head><meta name="color-scheme" content="light dark"></head><body><pre style="word-wrap: break-word;">` + sampleIndex + "</pre></body></html>"},
		{"body", "<html><body>" + sampleIndex + "</body></html>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Parse("20250520", []byte(tt.markup))
			require.NoError(t, err)
			require.Len(t, result.Items, 3)
			assert.Equal(t, "20250520_001_02_2642.html", result.Items[0].Ref)
		})
	}

	result, err := Parse("20250520", []byte(`<html><head></head><body><pre>[{"pageNo":"001","onePageArticleList":[{"articleHref":"20250520_001_02_2642.html"}]}]</pre></body></html>`))
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	assert.Equal(t, "001", result.Items[0].Page)

	_, err = Parse("20250520", []byte("<html><body><pre>not an index</pre></body></html>"))
	assert.ErrorIs(t, err, ErrNotJSON)
}

// TestParse_ByteOrderMark verifies a leading BOM is ignored.
func TestParse_ByteOrderMark(t *testing.T) {
	result, err := Parse("20250520", append([]byte("\xef\xbb\xbf"), sampleIndex...))
	require.NoError(t, err)
	assert.Len(t, result.Items, 3)
}

// TestURL verifies the index address.
func TestURL(t *testing.T) {
	assert.Equal(t, "https://rmydb.cnii.com.cn/html/2025/20250520/data.json",
		URL("https://rmydb.cnii.com.cn/html/", "20250520"))
}

// TestDirReader verifies reading index files from a directory.
func TestDirReader(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20250520_data.json"), []byte(sampleIndex), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20250519_data.json"), []byte("[]"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes_data.json"), []byte("[]"), 0o600))

	r := NewDirReader(dir, nil)

	dates, err := r.Dates()
	require.NoError(t, err)
	assert.Equal(t, []string{"20250519", "20250520"}, dates)

	items, err := r.ListPendingWork(context.Background(), "20250520")
	require.NoError(t, err)
	assert.Len(t, items, 3)

	_, err = r.ListPendingWork(context.Background(), "20250521")
	assert.Error(t, err)

	missing, err := NewDirReader(filepath.Join(dir, "none"), nil).Dates()
	require.NoError(t, err)
	assert.Empty(t, missing)
}

type staticFetcher struct {
	out  fetch.Outcome
	urls []string
}

func (f *staticFetcher) Fetch(_ context.Context, url string) fetch.Outcome {
	f.urls = append(f.urls, url)
	return f.out
}

// TestDirReader_Download verifies the index is validated before it is
// written.
func TestDirReader_Download(t *testing.T) {
	dir := t.TempDir()
	r := NewDirReader(dir, nil)
	ctx := context.Background()

	good := &staticFetcher{out: fetch.Raw(article.StrategyHTTP, 200, []byte(sampleIndex))}
	n, err := r.Download(ctx, good, "https://rmydb.cnii.com.cn/html", "20250520")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"https://rmydb.cnii.com.cn/html/2025/20250520/data.json"}, good.urls)
	assert.FileExists(t, r.Path("20250520"))

	gated := &staticFetcher{out: fetch.Raw(article.StrategyHTTP, 200, []byte("<html>Please enable JavaScript</html>"))}
	_, err = r.Download(ctx, gated, "https://rmydb.cnii.com.cn/html", "20250520")
	assert.ErrorIs(t, err, ErrScriptRequired)

	items, err := r.ListPendingWork(ctx, "20250520")
	require.NoError(t, err)
	assert.Len(t, items, 3, "good index was not replaced")

	rendered := &staticFetcher{out: fetch.Raw(article.StrategyBrowser, 200,
		[]byte("<html><head></head><body><pre>"+sampleIndex+"</pre></body></html>"))}
	n, err = r.Download(ctx, rendered, "https://rmydb.cnii.com.cn/html", "20250519")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	stored, err := os.ReadFile(r.Path("20250519"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(stored), "["), "the unwrapped document is written")

	failed := &staticFetcher{out: fetch.Challenge(article.StrategyHTTP, 491, "challenge status 491")}
	_, err = r.Download(ctx, failed, "https://rmydb.cnii.com.cn/html", "20250521")
	assert.Error(t, err)
	assert.NoFileExists(t, r.Path("20250521"))
}

// TestFeedReader verifies feed entries become work items.
func TestFeedReader(t *testing.T) {
	feed := `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:dc="http://purl.org/dc/elements/1.1/">
  <channel>
    <title>人民邮电报</title>
    <item>
      <title>X</title>
      <link>https://rmydb.cnii.com.cn/html/2025/20250520/20250520_001/20250520_001_02_2642.html</link>
      <dc:creator>张三</dc:creator>
    </item>
    <item>
      <title>Duplicate</title>
      <link>https://rmydb.cnii.com.cn/html/2025/20250520/20250520_001/20250520_001_02_2642.html</link>
    </item>
    <item>
      <title>Elsewhere</title>
      <link>https://example.com/story.html</link>
    </item>
  </channel>
</rss>`

	result, err := NewFeedReader("https://rmydb.cnii.com.cn/html").ParseItems(feed)
	require.NoError(t, err)

	require.Len(t, result.Items, 1)
	assert.Equal(t, 2, result.Skipped)

	item := result.Items[0]
	assert.Equal(t, "20250520", item.Date)
	assert.Equal(t, "001", item.Page)
	assert.Equal(t, "20250520_001_02_2642.html", item.Ref)
	assert.Equal(t, "X", item.Metadata.MainTitle)
	assert.Equal(t, "张三", item.Metadata.ArticleAuthor)
	assert.JSONEq(t, `{"mainTitle":"X","articleAuthor":"张三","articleColumn":"","wordNumber":0,
		"issueNumber":"","articleIssueDate":"20250520","articleHref":"20250520_001_02_2642.html","picAuthor":""}`,
		string(item.RawMetadata))
}
