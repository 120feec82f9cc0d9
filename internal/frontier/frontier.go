package frontier

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"practo-harvester/internal/fetcher"
	"practo-harvester/internal/observability"
)

type Source string

const (
	SourceListing Source = "listing"
	SourceSitemap Source = "sitemap"
	SourceAPI     Source = "api"
)

// Entry: кандидат на извлечение
type Entry struct {
	RawURL       string
	CanonicalURL string
	Source       Source
	Page         int
}

// PageFetcher: то, чем frontier скачивает листинги и sitemap
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (*fetcher.FetchResponse, error)
}

// LinkExtractor разбирает страницу листинга
type LinkExtractor interface {
	ListingLinks(body []byte, pageURL string) (links []string, next string, err error)
}

type Options struct {
	// BaseURL: база канонических ссылок на профили
	BaseURL  string
	Region   string
	MaxPages int
}

type Stats struct {
	Pages      int
	Discovered int
	Duplicates int
}

// Frontier хранит множество посещённых и уже выданных канонических URL.
// Все методы безопасны для конкурентного вызова.
type Frontier struct {
	fetch  PageFetcher
	links  LinkExtractor
	opts   Options
	logger *observability.Logger

	mu         sync.Mutex
	visited    map[string]struct{}
	discovered map[string]struct{}
	stats      Stats
}

func New(fetch PageFetcher, links LinkExtractor, opts Options, logger *observability.Logger) *Frontier {
	if logger == nil {
		logger = observability.NewNop()
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 1
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	opts.Region = strings.ToLower(opts.Region)

	return &Frontier{
		fetch:      fetch,
		links:      links,
		opts:       opts,
		logger:     logger,
		visited:    make(map[string]struct{}),
		discovered: make(map[string]struct{}),
	}
}

var ErrEmptyURL = errors.New("empty url")

// Canonicalize приводит ссылку к ключу дедупликации. Профиль вида
// {region}/doctor/{slug}[/...] сводится к base/{region}/doctor/{slug};
// у остальных URL убирается фрагмент и завершающий слэш.
func Canonicalize(raw, base string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrEmptyURL
	}
	base = strings.TrimRight(base, "/")

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if !u.IsAbs() && u.Host == "" {
		baseURL, err := url.Parse(base + "/")
		if err != nil {
			return "", fmt.Errorf("invalid base url %q: %w", base, err)
		}
		u = baseURL.ResolveReference(u)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", raw)
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) >= 3 && segments[0] != "" && strings.EqualFold(segments[1], "doctor") && segments[2] != "" {
		return fmt.Sprintf("%s/%s/doctor/%s", base, strings.ToLower(segments[0]), strings.ToLower(segments[2])), nil
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme == "" {
		u.Scheme = "https"
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
		u.RawPath = ""
	}
	return u.String(), nil
}

func (f *Frontier) Canonicalize(raw string) (string, error) {
	return Canonicalize(raw, f.opts.BaseURL)
}

// TryVisit атомарно помечает URL посещённым; false: уже был
func (f *Frontier) TryVisit(canonical string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.visited[canonical]; ok {
		return false
	}
	f.visited[canonical] = struct{}{}
	return true
}

func (f *Frontier) MarkVisited(canonical string) {
	f.mu.Lock()
	f.visited[canonical] = struct{}{}
	f.mu.Unlock()
}

func (f *Frontier) IsVisited(canonical string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.visited[canonical]
	return ok
}

func (f *Frontier) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

// register: второй слой дедупликации: одна каноническая ссылка выдаётся
// один раз за прогон, из какого бы источника она ни пришла
func (f *Frontier) register(raw string, source Source, page int) (Entry, bool) {
	canonical, err := f.Canonicalize(raw)
	if err != nil {
		f.logger.Debug("Skipping unparseable link", "url", raw, "error", err.Error())
		return Entry{}, false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	_, seen := f.discovered[canonical]
	_, visited := f.visited[canonical]
	if seen || visited {
		f.stats.Duplicates++
		return Entry{}, false
	}
	f.discovered[canonical] = struct{}{}
	f.stats.Discovered++

	return Entry{RawURL: raw, CanonicalURL: canonical, Source: source, Page: page}, true
}

func (f *Frontier) countPage() {
	f.mu.Lock()
	f.stats.Pages++
	f.mu.Unlock()
}
