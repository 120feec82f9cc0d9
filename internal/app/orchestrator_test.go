package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"practo-harvester/internal/fetcher"
	"practo-harvester/internal/frontier"
	"practo-harvester/internal/normalize"
	"practo-harvester/internal/scraper"
	"practo-harvester/internal/storage"
)

const (
	base = "https://www.practo.com"
	seed = base + "/bangalore/doctors"
)

// site: фейковый сайт за fetcher.Transport
type site struct {
	mu      sync.Mutex
	pages   map[string]string
	status  map[string]int
	hits    map[string]int
	onFetch func(url string)
}

func newSite() *site {
	return &site{pages: map[string]string{}, status: map[string]int{}, hits: map[string]int{}}
}

func (s *site) Do(_ context.Context, r *fetcher.Request) (*fetcher.FetchResponse, error) {
	s.mu.Lock()
	s.hits[r.URL]++
	body, ok := s.pages[r.URL]
	status := s.status[r.URL]
	hook := s.onFetch
	s.mu.Unlock()

	if hook != nil {
		hook(r.URL)
	}
	if status == 0 {
		status = http.StatusOK
		if !ok {
			status = http.StatusNotFound
		}
	}
	return &fetcher.FetchResponse{StatusCode: status, Body: []byte(body), URL: r.URL, Headers: http.Header{}}, nil
}

func (s *site) hitCount(u string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[u]
}

func (s *site) listing(pageURL, next string, slugs ...string) {
	var sb strings.Builder
	sb.WriteString("<html><body>")
	for _, slug := range slugs {
		fmt.Fprintf(&sb, `<div class="info-section"><a class="doctor-name" href="/bangalore/doctor/%s">%s</a></div>`, slug, slug)
	}
	if next != "" {
		fmt.Fprintf(&sb, `<ul><li class="next"><a href="%s">Next</a></li></ul>`, next)
	}
	sb.WriteString("</body></html>")
	s.pages[pageURL] = sb.String()
}

func (s *site) profile(slug, name string) {
	heading := ""
	if name != "" {
		heading = fmt.Sprintf(`<h1 class="doctor-name">%s</h1>`, name)
	}
	s.pages[profileURL(slug)] = `<html><body>` + heading +
		`<div class="specialization">Dentist</div><span class="consultation-fee">₹ 500</span></body></html>`
}

func profileURL(slug string) string {
	return base + "/bangalore/doctor/" + slug
}

// recordingSink запоминает каждый вызов Upsert
type recordingSink struct {
	mu      sync.Mutex
	records []storage.DoctorRecord
	fail    map[string]bool
}

func (s *recordingSink) Upsert(_ context.Context, rec *storage.DoctorRecord) (storage.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[rec.ProfileURL] {
		return storage.Skipped, errors.New("disk full")
	}
	s.records = append(s.records, *rec)
	return storage.Created, nil
}

func (s *recordingSink) urls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, r := range s.records {
		out = append(out, r.ProfileURL)
	}
	sort.Strings(out)
	return out
}

// panicky падает на одной странице
type panicky struct {
	inner DoctorExtractor
	url   string
}

func (p panicky) ExtractDoctor(doc *goquery.Document, pageURL string) normalize.RawRecord {
	if pageURL == p.url {
		panic("selector engine exploded")
	}
	return p.inner.ExtractDoctor(doc, pageURL)
}

func newOrchestrator(s *site, opts Options, sink storage.Sink, wrap func(DoctorExtractor) DoctorExtractor) *Orchestrator {
	pages := fetcher.NewFetcher(s, fetcher.Options{MaxRetries: 2, MaxConcurrent: 4}, nil)
	ex := scraper.NewExtractor(scraper.DefaultSelectors(), base, "bangalore", nil)
	fr := frontier.New(pages, ex, frontier.Options{BaseURL: base, Region: "bangalore", MaxPages: 10}, nil)

	var extractor DoctorExtractor = ex
	if wrap != nil {
		extractor = wrap(ex)
	}
	normalizer := normalize.NewNormalizer(normalize.DefaultOptions(), nil)
	return NewOrchestrator(opts, pages, fr, extractor, normalizer, sink, nil)
}

// Две страницы листинга: 5 + 3 ссылки, одна повторяется; у одного врача нет имени
func twoPageSite() *site {
	s := newSite()
	s.listing(seed, "/bangalore/doctors?page=2", "d1", "d2", "d3", "d4", "d5")
	s.listing(seed+"?page=2", "", "d6", "d3", "d7")
	for i := 1; i <= 6; i++ {
		s.profile(fmt.Sprintf("d%d", i), fmt.Sprintf("Dr. Test %d", i))
	}
	s.profile("d7", "")
	return s
}

func TestRunEndToEnd(t *testing.T) {
	s := twoPageSite()
	sink := &recordingSink{}
	o := newOrchestrator(s, Options{Seeds: []string{seed}, Workers: 3}, sink, nil)

	stats, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Pages)
	assert.Equal(t, 7, stats.Discovered)
	assert.Equal(t, 1, stats.Duplicates)
	assert.Equal(t, 6, stats.Accepted)
	assert.Equal(t, 1, stats.Dropped)
	assert.Equal(t, 0, stats.Failed)
	assert.Equal(t, 6, stats.Created)
	assert.Equal(t, "frontier exhausted", stats.StoppedReason)

	assert.Equal(t, []string{
		profileURL("d1"), profileURL("d2"), profileURL("d3"),
		profileURL("d4"), profileURL("d5"), profileURL("d6"),
	}, sink.urls())

	for i := 1; i <= 7; i++ {
		assert.Equal(t, 1, s.hitCount(profileURL(fmt.Sprintf("d%d", i))), "d%d fetched once", i)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	for _, rec := range sink.records {
		assert.True(t, strings.HasPrefix(rec.Name, "Dr. Test "))
		assert.Equal(t, "Dentist", rec.Specialization)
		assert.Equal(t, "₹500", rec.Fees)
	}
}

func TestRunContainsPerEntityFailures(t *testing.T) {
	s := twoPageSite()
	s.status[profileURL("d2")] = http.StatusServiceUnavailable
	delete(s.pages, profileURL("d4"))
	sink := &recordingSink{fail: map[string]bool{profileURL("d6"): true}}

	o := newOrchestrator(s, Options{Seeds: []string{seed}, Workers: 2}, sink, func(inner DoctorExtractor) DoctorExtractor {
		return panicky{inner: inner, url: profileURL("d5")}
	})

	stats, err := o.Run(context.Background())
	require.NoError(t, err)

	// d2: повторы исчерпаны, d4: 404, d5: паника при извлечении
	assert.Equal(t, 3, stats.Failed)
	assert.Equal(t, 1, stats.Dropped)
	assert.Equal(t, 3, stats.Accepted)
	assert.Equal(t, 1, stats.SinkErrors)
	assert.Equal(t, 2, stats.Created)
	assert.Equal(t, 2, s.hitCount(profileURL("d2")))
	assert.Equal(t, []string{profileURL("d1"), profileURL("d3")}, sink.urls())
}

func TestExtractRecoversPanicAsExtractionError(t *testing.T) {
	o := newOrchestrator(newSite(), Options{}, &recordingSink{}, func(inner DoctorExtractor) DoctorExtractor {
		return panicky{inner: inner, url: "u"}
	})

	_, err := o.extract([]byte("<html></html>"), "u")
	var extractionErr *ExtractionError
	require.ErrorAs(t, err, &extractionErr)
	assert.Equal(t, "u", extractionErr.URL)
	assert.Contains(t, err.Error(), "selector engine exploded")
}

func TestRunSeedUnreachableIsFatal(t *testing.T) {
	s := newSite()
	s.status[seed] = http.StatusServiceUnavailable

	stats, err := newOrchestrator(s, Options{Seeds: []string{seed}}, &recordingSink{}, nil).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSeedUnreachable)
	assert.True(t, fetcher.IsKind(err, fetcher.KindRetriesExhausted))
	require.NotNil(t, stats)
	assert.Equal(t, "seed unreachable", stats.StoppedReason)
	assert.Equal(t, 0, stats.Accepted)
}

func TestRunSecondPageFailureIsNotFatal(t *testing.T) {
	s := twoPageSite()
	s.status[seed+"?page=2"] = http.StatusInternalServerError
	sink := &recordingSink{}

	stats, err := newOrchestrator(s, Options{Seeds: []string{seed}}, sink, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Accepted)
	assert.Len(t, sink.urls(), 5)
}

func TestRunStopsAtEntityCeiling(t *testing.T) {
	s := twoPageSite()
	sink := &recordingSink{}

	stats, err := newOrchestrator(s, Options{Seeds: []string{seed}, Workers: 1, MaxEntities: 3}, sink, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Accepted)
	assert.Contains(t, stats.StoppedReason, "max entities")
	assert.Equal(t, 0, s.hitCount(profileURL("d4")))
}

func TestRunCancellationFinishesInFlightWork(t *testing.T) {
	s := twoPageSite()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.onFetch = func(u string) {
		if u == profileURL("d2") {
			cancel()
		}
	}
	sink := &recordingSink{}

	stats, err := newOrchestrator(s, Options{Seeds: []string{seed}, Workers: 1}, sink, nil).Run(ctx)
	require.NoError(t, err)

	// d2 уже загружался в момент отмены: он дойдёт до sink, новые: нет
	assert.Equal(t, []string{profileURL("d1"), profileURL("d2")}, sink.urls())
	assert.Equal(t, 2, stats.Accepted)
	assert.Equal(t, "canceled", stats.StoppedReason)
	assert.Equal(t, 0, s.hitCount(profileURL("d3")))
	assert.Equal(t, 0, s.hitCount(seed+"?page=2"))
}

func TestRunWithSitemapSkipsListingDuplicates(t *testing.T) {
	s := newSite()
	s.listing(seed, "", "d1", "d2")
	s.profile("d1", "Dr. One")
	s.profile("d2", "Dr. Two")
	s.profile("d9", "Dr. Nine")
	s.pages[base+"/profiles-sitemap.xml"] = `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>https://www.practo.com/bangalore/doctor/d2</loc></url>
  <url><loc>https://www.practo.com/bangalore/doctor/d9</loc></url>
  <url><loc>https://www.practo.com/mumbai/doctor/m1</loc></url>
</urlset>`
	sink := &recordingSink{}

	opts := Options{Seeds: []string{seed}, SitemapURL: base + "/profiles-sitemap.xml", Workers: 2}
	stats, err := newOrchestrator(s, opts, sink, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Accepted)
	assert.Equal(t, 1, stats.Duplicates)
	assert.Equal(t, []string{profileURL("d1"), profileURL("d2"), profileURL("d9")}, sink.urls())
	assert.Equal(t, 1, s.hitCount(profileURL("d2")))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "pending", StatePending.String())
	assert.Equal(t, "accepted", StateAccepted.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "state(42)", State(42).String())
}
