package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Harvey-AU/index-inspector/internal/inspection"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResult(verdict string) inspection.Result {
	return inspection.Result{
		Verdict:        verdict,
		IndexingState:  "INDEXING_ALLOWED",
		CoverageState:  "Submitted and indexed",
		RobotsTxtState: "ALLOWED",
		PageFetchState: "SUCCESSFUL",
		LastCrawlTime:  "2026-10-01T12:00:00Z",
		CrawledAs:      "MOBILE",
		Sitemaps:       []string{"https://example.com/sitemap.xml"},
	}
}

func TestKeyIsStableMD5(t *testing.T) {
	// md5("https://example.com/")
	assert.Equal(t, "182ccedb33a9e03fbf1079b209da1a31", Key("https://example.com/"))
	assert.Equal(t, Key("https://example.com/a"), Key("https://example.com/a"))
	assert.NotEqual(t, Key("https://example.com/a"), Key("https://example.com/b"))
}

func TestDiskCacheRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	c := NewDiskCache(dir)

	_, ok := c.Get("https://example.com/page")
	assert.False(t, ok)
	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err), "directory is created lazily on first write")

	want := sampleResult("PASS")
	require.NoError(t, c.Put("https://example.com/page", want))

	got, ok := c.Get("https://example.com/page")
	require.True(t, ok)
	assert.Equal(t, want, got)

	// A fresh cache over the same directory reads the file back.
	reopened := NewDiskCache(dir)
	got, ok = reopened.Get("https://example.com/page")
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestDiskCacheLastWriteWins(t *testing.T) {
	dir := t.TempDir()
	c := NewDiskCache(dir)
	url := "https://example.com/page"

	require.NoError(t, c.Put(url, sampleResult("FAIL")))
	require.NoError(t, c.Put(url, sampleResult("PASS")))

	got, ok := NewDiskCache(dir).Get(url)
	require.True(t, ok)
	assert.Equal(t, "PASS", got.Verdict)

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, files, 1, "no temp files left behind")
}

func TestDiskCacheEntryFormat(t *testing.T) {
	dir := t.TempDir()
	c := NewDiskCache(dir)
	c.now = func() time.Time { return time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC) }

	url := "https://example.com/format"
	require.NoError(t, c.Put(url, sampleResult("PASS")))

	data, err := os.ReadFile(c.Path(url))
	require.NoError(t, err)

	var entry Entry
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, Key(url), entry.Key)
	assert.Equal(t, url, entry.URL)
	assert.Equal(t, c.now(), entry.StoredAt)
	require.NotNil(t, entry.Result)
	assert.Equal(t, "PASS", entry.Result.Verdict)
}

func TestDiskCacheReadsLegacyFiles(t *testing.T) {
	dir := t.TempDir()
	url := "https://example.com/legacy"
	legacy := `{"verdict": "NEUTRAL", "coverageState": "Discovered - currently not indexed", "robotsTxtState": "ALLOWED"}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, Key(url)+".json"), []byte(legacy), 0o644))

	got, ok := NewDiskCache(dir).Get(url)
	require.True(t, ok)
	assert.Equal(t, "NEUTRAL", got.Verdict)
	assert.Equal(t, "Discovered - currently not indexed", got.CoverageState)
	assert.Equal(t, inspection.Unknown, got.PageFetchState)
}

func TestDiskCacheLegacyFilesWithoutVerdictAreHits(t *testing.T) {
	dir := t.TempDir()
	url := "https://example.com/fetch-only"
	legacy := `{"robotsTxtState": "ALLOWED", "pageFetchState": "SUCCESSFUL"}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, Key(url)+".json"), []byte(legacy), 0o644))

	got, ok := NewDiskCache(dir).Get(url)
	require.True(t, ok)
	assert.Equal(t, "ALLOWED", got.RobotsTxtState)
	assert.Equal(t, "SUCCESSFUL", got.PageFetchState)
}

func TestDiskCacheCorruptFilesAreMisses(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"truncated", `{"key": "abc", "result": {"verdict": "PA`},
		{"empty_object", `{}`},
		{"null", `null`},
		{"array", `[1,2,3]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			url := "https://example.com/" + tt.name
			require.NoError(t, os.WriteFile(filepath.Join(dir, Key(url)+".json"), []byte(tt.content), 0o644))

			_, ok := NewDiskCache(dir).Get(url)
			assert.False(t, ok)
		})
	}
}

func TestDiskCachePutFailsWhenDirIsAFile(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "cache")
	require.NoError(t, os.WriteFile(blocker, []byte("not a dir"), 0o644))

	c := NewDiskCache(blocker)
	assert.Error(t, c.Put("https://example.com/", sampleResult("PASS")))

	_, ok := c.Get("https://example.com/")
	assert.False(t, ok)
}

func TestDiskCacheConcurrentWriters(t *testing.T) {
	dir := t.TempDir()
	c := NewDiskCache(dir)

	const writers = 20
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func(id int) {
			defer wg.Done()
			url := fmt.Sprintf("https://example.com/page-%d", id)
			assert.NoError(t, c.Put(url, sampleResult("PASS")))
		}(i)
	}
	wg.Wait()

	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	require.NoError(t, err)
	assert.Len(t, files, writers)
	assert.Equal(t, writers, c.Len())
}
