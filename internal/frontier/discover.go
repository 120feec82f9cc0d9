package frontier

import (
	"context"
	"fmt"
	"iter"
)

// Discover обходит листинг начиная с seed и выдаёт новых кандидатов в
// порядке обнаружения. Пагинация ограничена MaxPages и не заходит на
// уже пройденную страницу, поэтому зацикленная "следующая" ссылка
// не даёт бесконечного обхода.
//
// Ошибка загрузки страницы выдаётся как (Entry{}, err) и завершает обход seed.
func (f *Frontier) Discover(ctx context.Context, seed string) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		pagesSeen := make(map[string]struct{})
		pageURL := seed

		for page := 1; pageURL != "" && page <= f.opts.MaxPages; page++ {
			if ctx.Err() != nil {
				return
			}

			key, err := Canonicalize(pageURL, f.opts.BaseURL)
			if err != nil {
				yield(Entry{}, fmt.Errorf("listing page %q: %w", pageURL, err))
				return
			}
			if _, loop := pagesSeen[key]; loop {
				f.logger.Warn("Pagination loops back, stopping", "seed", seed, "page_url", pageURL)
				return
			}
			pagesSeen[key] = struct{}{}

			resp, err := f.fetch.Fetch(ctx, pageURL)
			if err != nil {
				yield(Entry{}, fmt.Errorf("listing page %d of %s: %w", page, seed, err))
				return
			}
			f.countPage()

			links, next, err := f.links.ListingLinks(resp.Body, pageURL)
			if err != nil {
				yield(Entry{}, fmt.Errorf("listing page %d of %s: %w", page, seed, err))
				return
			}

			f.logger.Info("Listing page parsed",
				"seed", seed,
				"page", page,
				"links", len(links),
				"has_next", next != "",
			)

			for _, link := range links {
				entry, ok := f.register(link, SourceListing, page)
				if !ok {
					continue
				}
				if !yield(entry, nil) {
					return
				}
			}

			pageURL = next
		}

		if pageURL != "" {
			f.logger.Info("Page ceiling reached", "seed", seed, "max_pages", f.opts.MaxPages)
		}
	}
}
