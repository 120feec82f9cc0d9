package frontier

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"iter"
	"net/url"
	"strings"
)

type sitemapLoc struct {
	Loc string `xml:"loc"`
}

// sitemapDoc покрывает и <urlset>, и <sitemapindex>
type sitemapDoc struct {
	XMLName  xml.Name
	URLs     []sitemapLoc `xml:"url"`
	Sitemaps []sitemapLoc `xml:"sitemap"`
}

// ParseSitemap возвращает ссылки страниц и вложенные sitemap.
// Тело может быть сжато gzip (.xml.gz).
func ParseSitemap(body []byte) (urls []string, children []string, err error) {
	if len(body) > 2 && body[0] == 0x1f && body[1] == 0x8b {
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, nil, fmt.Errorf("sitemap gzip: %w", err)
		}
		defer func() { _ = zr.Close() }()
		if body, err = io.ReadAll(zr); err != nil {
			return nil, nil, fmt.Errorf("sitemap gzip: %w", err)
		}
	}

	var doc sitemapDoc
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, nil, fmt.Errorf("failed to parse sitemap: %w", err)
	}
	switch doc.XMLName.Local {
	case "urlset", "sitemapindex":
	default:
		return nil, nil, fmt.Errorf("unexpected sitemap root <%s>", doc.XMLName.Local)
	}

	for _, u := range doc.URLs {
		if loc := strings.TrimSpace(u.Loc); loc != "" {
			urls = append(urls, loc)
		}
	}
	for _, s := range doc.Sitemaps {
		if loc := strings.TrimSpace(s.Loc); loc != "" {
			children = append(children, loc)
		}
	}
	return urls, children, nil
}

// DiscoverSitemap: альтернативный источник кандидатов: профили региона из
// sitemap (и вложенных sitemap, не более MaxPages файлов). Ссылки,
// уже выданные листингом, повторно не выдаются.
func (f *Frontier) DiscoverSitemap(ctx context.Context, sitemapURL string) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		queue := []string{sitemapURL}
		seen := map[string]struct{}{sitemapURL: {}}

		for fetched := 0; len(queue) > 0 && fetched < f.opts.MaxPages; fetched++ {
			if ctx.Err() != nil {
				return
			}
			current := queue[0]
			queue = queue[1:]

			resp, err := f.fetch.Fetch(ctx, current)
			if err != nil {
				yield(Entry{}, fmt.Errorf("sitemap %s: %w", current, err))
				return
			}
			f.countPage()

			urls, children, err := ParseSitemap(resp.Body)
			if err != nil {
				yield(Entry{}, fmt.Errorf("sitemap %s: %w", current, err))
				return
			}

			for _, child := range children {
				if _, ok := seen[child]; !ok {
					seen[child] = struct{}{}
					queue = append(queue, child)
				}
			}

			kept := 0
			for _, loc := range urls {
				if !f.isRegionProfile(loc) {
					continue
				}
				entry, ok := f.register(loc, SourceSitemap, fetched+1)
				if !ok {
					continue
				}
				kept++
				if !yield(entry, nil) {
					return
				}
			}

			f.logger.Info("Sitemap parsed",
				"url", current,
				"urls", len(urls),
				"children", len(children),
				"new_profiles", kept,
			)
		}
	}
}

func (f *Frontier) isRegionProfile(loc string) bool {
	u, err := url.Parse(loc)
	if err != nil {
		return false
	}
	path := strings.ToLower(u.Path)
	if !strings.Contains(path, "/doctor/") {
		return false
	}
	return f.opts.Region == "" || strings.HasPrefix(path, "/"+f.opts.Region+"/")
}
