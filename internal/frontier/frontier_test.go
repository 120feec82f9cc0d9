package frontier

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"practo-harvester/internal/fetcher"
	"practo-harvester/internal/scraper"
)

const base = "https://www.practo.com"

// pages: фейковый сайт: URL → тело
type pages map[string]string

func (p pages) Fetch(_ context.Context, u string) (*fetcher.FetchResponse, error) {
	body, ok := p[u]
	if !ok {
		return nil, &fetcher.FetchError{Kind: fetcher.KindPermanent, URL: u, StatusCode: http.StatusNotFound}
	}
	return &fetcher.FetchResponse{StatusCode: 200, Body: []byte(body), URL: u}, nil
}

func listing(next string, slugs ...string) string {
	var sb strings.Builder
	sb.WriteString("<html><body>")
	for _, s := range slugs {
		fmt.Fprintf(&sb, `<div class="info-section"><a class="doctor-name" href="/bangalore/doctor/%s">%s</a></div>`, s, s)
	}
	if next != "" {
		fmt.Fprintf(&sb, `<ul><li class="next"><a href="%s">Next</a></li></ul>`, next)
	}
	sb.WriteString("</body></html>")
	return sb.String()
}

func newFrontier(site pages, maxPages int) *Frontier {
	extractor := scraper.NewExtractor(scraper.DefaultSelectors(), base, "bangalore", nil)
	return New(site, extractor, Options{BaseURL: base, Region: "bangalore", MaxPages: maxPages}, nil)
}

func collect(t *testing.T, seq func(func(Entry, error) bool)) ([]Entry, []error) {
	t.Helper()
	var entries []Entry
	var errs []error
	for e, err := range seq {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		entries = append(entries, e)
	}
	return entries, errs
}

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"profile", "https://www.practo.com/bangalore/doctor/asha-rao-dentist", base + "/bangalore/doctor/asha-rao-dentist"},
		{"query variant", "https://www.practo.com/bangalore/doctor/asha-rao-dentist?practice_id=123&specialization=Dentist", base + "/bangalore/doctor/asha-rao-dentist"},
		{"fragment and sub-path", "https://practo.com/Bangalore/doctor/Asha-Rao-Dentist/recommended#reviews", base + "/bangalore/doctor/asha-rao-dentist"},
		{"relative", "/bangalore/doctor/asha-rao-dentist/", base + "/bangalore/doctor/asha-rao-dentist"},
		{"listing keeps query", "https://WWW.practo.com/bangalore/doctors/?page=2#top", base + "/bangalore/doctors?page=2"},
		{"root", "https://www.practo.com/", base + "/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Canonicalize(tt.raw, base)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Canonicalize("   ", base)
	assert.ErrorIs(t, err, ErrEmptyURL)
}

func TestTryVisitIsAtomic(t *testing.T) {
	f := newFrontier(pages{}, 1)
	key := base + "/bangalore/doctor/a"

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f.TryVisit(key) {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
	assert.True(t, f.IsVisited(key))
	assert.False(t, f.IsVisited(base+"/bangalore/doctor/b"))

	f.MarkVisited(base + "/bangalore/doctor/b")
	assert.False(t, f.TryVisit(base+"/bangalore/doctor/b"))
}

func TestDiscoverFollowsPaginationAndDeduplicates(t *testing.T) {
	seed := base + "/bangalore/doctors"
	site := pages{
		seed:             listing("/bangalore/doctors?page=2", "d1", "d2", "d3", "d4", "d5"),
		seed + "?page=2": listing("", "d6", "d3", "d7"),
	}
	f := newFrontier(site, 10)

	entries, errs := collect(t, f.Discover(context.Background(), seed))
	require.Empty(t, errs)

	var got []string
	for _, e := range entries {
		got = append(got, strings.TrimPrefix(e.CanonicalURL, base+"/bangalore/doctor/"))
		assert.Equal(t, SourceListing, e.Source)
	}
	assert.Equal(t, []string{"d1", "d2", "d3", "d4", "d5", "d6", "d7"}, got)
	assert.Equal(t, 2, entries[5].Page)

	stats := f.Stats()
	assert.Equal(t, 2, stats.Pages)
	assert.Equal(t, 7, stats.Discovered)
	assert.Equal(t, 1, stats.Duplicates)
}

func TestDiscoverQueryVariantsCollapse(t *testing.T) {
	seed := base + "/bangalore/doctors"
	site := pages{
		seed: `<a href="/bangalore/doctor/asha?practice_id=1">A</a>
		       <a href="/bangalore/doctor/asha?practice_id=2">A</a>
		       <a href="/bangalore/doctor/asha/recommended">A</a>`,
	}
	f := newFrontier(site, 1)

	entries, errs := collect(t, f.Discover(context.Background(), seed))
	require.Empty(t, errs)
	require.Len(t, entries, 1)
	assert.Equal(t, base+"/bangalore/doctor/asha", entries[0].CanonicalURL)
	assert.Equal(t, 2, f.Stats().Duplicates)
}

func TestDiscoverStopsAtPageCeiling(t *testing.T) {
	seed := base + "/bangalore/doctors"
	site := pages{}
	// Бесконечная цепочка "следующих" страниц
	for i := 1; i <= 100; i++ {
		u := seed
		if i > 1 {
			u = fmt.Sprintf("%s?page=%d", seed, i)
		}
		site[u] = listing(fmt.Sprintf("/bangalore/doctors?page=%d", i+1), fmt.Sprintf("doc-%d", i))
	}
	f := newFrontier(site, 3)

	entries, errs := collect(t, f.Discover(context.Background(), seed))
	require.Empty(t, errs)
	assert.Len(t, entries, 3)
	assert.Equal(t, 3, f.Stats().Pages)
}

func TestDiscoverStopsOnPaginationLoop(t *testing.T) {
	seed := base + "/bangalore/doctors"
	site := pages{
		seed:             listing("/bangalore/doctors?page=2", "a"),
		seed + "?page=2": listing("/bangalore/doctors#again", "b"),
	}
	f := newFrontier(site, 50)

	entries, errs := collect(t, f.Discover(context.Background(), seed))
	require.Empty(t, errs)
	assert.Len(t, entries, 2)
	assert.Equal(t, 2, f.Stats().Pages)
}

func TestDiscoverReportsFetchError(t *testing.T) {
	seed := base + "/bangalore/doctors"
	site := pages{seed: listing("/bangalore/doctors?page=2", "a", "b")}
	f := newFrontier(site, 5)

	entries, errs := collect(t, f.Discover(context.Background(), seed))
	assert.Len(t, entries, 2)
	require.Len(t, errs, 1)
	assert.True(t, fetcher.IsKind(errs[0], fetcher.KindPermanent))
}

func TestDiscoverSkipsAlreadyVisited(t *testing.T) {
	seed := base + "/bangalore/doctors"
	site := pages{seed: listing("", "a", "b")}
	f := newFrontier(site, 1)
	f.MarkVisited(base + "/bangalore/doctor/a")

	entries, _ := collect(t, f.Discover(context.Background(), seed))
	require.Len(t, entries, 1)
	assert.Equal(t, base+"/bangalore/doctor/b", entries[0].CanonicalURL)
}

func TestDiscoverEarlyBreak(t *testing.T) {
	seed := base + "/bangalore/doctors"
	site := pages{seed: listing("", "a", "b", "c")}
	f := newFrontier(site, 1)

	count := 0
	for _, err := range f.Discover(context.Background(), seed) {
		require.NoError(t, err)
		count++
		if count == 2 {
			break
		}
	}
	assert.Equal(t, 2, count)
}

const sitemapIndex = `<?xml version="1.0" encoding="UTF-8"?>
<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>https://www.practo.com/profiles-sitemap-1.xml.gz</loc></sitemap>
</sitemapindex>`

const sitemapURLSet = `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>https://www.practo.com/bangalore/doctor/d1</loc></url>
  <url><loc> https://www.practo.com/bangalore/doctor/d9 </loc></url>
  <url><loc>https://www.practo.com/mumbai/doctor/m1</loc></url>
  <url><loc>https://www.practo.com/bangalore/clinic/c1</loc></url>
</urlset>`

func gzipped(t *testing.T, s string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.String()
}

func TestParseSitemap(t *testing.T) {
	urls, children, err := ParseSitemap([]byte(sitemapIndex))
	require.NoError(t, err)
	assert.Empty(t, urls)
	assert.Equal(t, []string{"https://www.practo.com/profiles-sitemap-1.xml.gz"}, children)

	urls, children, err = ParseSitemap([]byte(gzipped(t, sitemapURLSet)))
	require.NoError(t, err)
	assert.Empty(t, children)
	assert.Len(t, urls, 4)
	assert.Equal(t, "https://www.practo.com/bangalore/doctor/d9", urls[1])

	_, _, err = ParseSitemap([]byte("<html></html>"))
	assert.Error(t, err)
}

func TestDiscoverSitemapFiltersRegionAndSkipsListingDuplicates(t *testing.T) {
	seed := base + "/bangalore/doctors"
	site := pages{
		seed:                                listing("", "d1"),
		base + "/profiles-sitemap.xml":      sitemapIndex,
		base + "/profiles-sitemap-1.xml.gz": gzipped(t, sitemapURLSet),
	}
	f := newFrontier(site, 5)

	listed, _ := collect(t, f.Discover(context.Background(), seed))
	require.Len(t, listed, 1)

	fromSitemap, errs := collect(t, f.DiscoverSitemap(context.Background(), base+"/profiles-sitemap.xml"))
	require.Empty(t, errs)
	require.Len(t, fromSitemap, 1)
	assert.Equal(t, base+"/bangalore/doctor/d9", fromSitemap[0].CanonicalURL)
	assert.Equal(t, SourceSitemap, fromSitemap[0].Source)
	assert.Equal(t, 1, f.Stats().Duplicates)
}
