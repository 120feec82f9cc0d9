package app

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"

	"practo-harvester/internal/config"
	"practo-harvester/internal/frontier"
	"practo-harvester/internal/normalize"
	"practo-harvester/internal/observability"
	"practo-harvester/internal/scraper"
	"practo-harvester/internal/storage"
)

// ErrSeedUnreachable: ни один источник кандидатов не дал ни одной ссылки
var ErrSeedUnreachable = errors.New("seed source unreachable")

// ExtractionError: неустранимая ошибка разбора страницы профиля
type ExtractionError struct {
	URL string
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed for %s: %v", e.URL, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// State: состояние одного кандидата в прогоне
type State int

const (
	StatePending State = iota
	StateFetching
	StateExtracting
	StateNormalized
	StateAccepted
	StateDropped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateFetching:
		return "fetching"
	case StateExtracting:
		return "extracting"
	case StateNormalized:
		return "normalized"
	case StateAccepted:
		return "accepted"
	case StateDropped:
		return "dropped"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// DoctorExtractor превращает страницу профиля в сырую запись
type DoctorExtractor interface {
	ExtractDoctor(doc *goquery.Document, pageURL string) normalize.RawRecord
}

type Options struct {
	Seeds []string
	// SitemapURL: дополнительный источник кандидатов; пусто: не используется
	SitemapURL  string
	Workers     int
	MaxEntities int // 0: без ограничения
}

func OptionsFromConfig(cfg *config.Config) Options {
	opts := Options{
		Seeds:       cfg.Crawl.SeedURLs,
		Workers:     cfg.Crawl.Workers,
		MaxEntities: cfg.Crawl.MaxEntities,
	}
	if cfg.Crawl.UseSitemap {
		opts.SitemapURL = cfg.Crawl.SitemapURL
	}
	return opts
}

type RunStats struct {
	Pages         int
	Discovered    int
	Duplicates    int
	Accepted      int
	Dropped       int
	Failed        int
	Created       int
	Updated       int
	Skipped       int
	SinkErrors    int
	StoppedReason string
	Duration      time.Duration
}

// Orchestrator ведёт кандидатов frontier через загрузку, извлечение,
// нормализацию и сохранение пулом из Workers воркеров
type Orchestrator struct {
	opts       Options
	fetch      frontier.PageFetcher
	frontier   *frontier.Frontier
	extractor  DoctorExtractor
	normalizer *normalize.Normalizer
	sink       *sinkWriter
	logger     *observability.Logger

	mu    sync.Mutex
	stats *RunStats
}

func NewOrchestrator(
	opts Options,
	fetch frontier.PageFetcher,
	fr *frontier.Frontier,
	extractor DoctorExtractor,
	normalizer *normalize.Normalizer,
	sink storage.Sink,
	logger *observability.Logger,
) *Orchestrator {
	if logger == nil {
		logger = observability.NewNop()
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Orchestrator{
		opts:       opts,
		fetch:      fetch,
		frontier:   fr,
		extractor:  extractor,
		normalizer: normalizer,
		sink:       newSinkWriter(sink, logger),
		logger:     logger,
	}
}

// Run обходит все seed (и sitemap, если задан) и возвращает итоги прогона.
// Ошибка одного врача не прерывает прогон; наружу уходит только
// ErrSeedUnreachable. После отмены ctx новые загрузки не начинаются,
// а уже начатые доводятся до сохранения.
func (o *Orchestrator) Run(ctx context.Context) (*RunStats, error) {
	started := time.Now()
	o.mu.Lock()
	o.stats = &RunStats{}
	o.mu.Unlock()

	o.logger.Info("Starting crawl",
		"seeds", len(o.opts.Seeds),
		"workers", o.opts.Workers,
		"max_entities", o.opts.MaxEntities,
		"sitemap", o.opts.SitemapURL != "",
	)

	entries := make(chan frontier.Entry)
	var g errgroup.Group

	g.Go(func() error {
		defer close(entries)
		return o.produce(ctx, entries)
	})

	for i := 0; i < o.opts.Workers; i++ {
		worker := i + 1
		g.Go(func() error {
			for entry := range entries {
				o.handle(ctx, worker, entry)
			}
			return nil
		})
	}

	err := g.Wait()

	fs := o.frontier.Stats()
	o.mu.Lock()
	stats := o.stats
	stats.Pages = fs.Pages
	stats.Discovered = fs.Discovered
	stats.Duplicates += fs.Duplicates
	stats.Duration = time.Since(started)
	o.mu.Unlock()

	o.logger.Info("Crawl completed",
		"pages", stats.Pages,
		"discovered", stats.Discovered,
		"duplicates", stats.Duplicates,
		"accepted", stats.Accepted,
		"dropped", stats.Dropped,
		"failed", stats.Failed,
		"created", stats.Created,
		"updated", stats.Updated,
		"skipped", stats.Skipped,
		"sink_errors", stats.SinkErrors,
		"reason", stats.StoppedReason,
		"duration", stats.Duration.String(),
	)

	return stats, err
}

// produce: единственный писатель канала entries
func (o *Orchestrator) produce(ctx context.Context, out chan<- frontier.Entry) error {
	sources := make([]iter.Seq2[frontier.Entry, error], 0, len(o.opts.Seeds)+1)
	for _, seed := range o.opts.Seeds {
		sources = append(sources, o.frontier.Discover(ctx, seed))
	}
	if o.opts.SitemapURL != "" {
		sources = append(sources, o.frontier.DiscoverSitemap(ctx, o.opts.SitemapURL))
	}

	var firstErr error
	enqueued := 0

	for _, source := range sources {
		for entry, err := range source {
			if err != nil {
				o.logger.Warn("Discovery failed", "error", err.Error())
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			if !send(ctx, out, entry) {
				o.setReason("canceled")
				return nil
			}
			enqueued++

			if o.opts.MaxEntities > 0 && enqueued >= o.opts.MaxEntities {
				o.logger.Info("Entity ceiling reached", "max_entities", o.opts.MaxEntities)
				o.setReason(fmt.Sprintf("max entities reached (%d)", o.opts.MaxEntities))
				return nil
			}
		}
		if ctx.Err() != nil {
			o.setReason("canceled")
			return nil
		}
	}

	if enqueued == 0 && firstErr != nil {
		o.setReason("seed unreachable")
		return fmt.Errorf("%w: %w", ErrSeedUnreachable, firstErr)
	}
	o.setReason("frontier exhausted")
	return nil
}

func send(ctx context.Context, out chan<- frontier.Entry, entry frontier.Entry) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case out <- entry:
		return true
	case <-ctx.Done():
		return false
	}
}

func (o *Orchestrator) handle(ctx context.Context, worker int, entry frontier.Entry) {
	if ctx.Err() != nil {
		return
	}
	// Pending → Fetching: посещённым помечаем до загрузки, даже если она упадёт
	if !o.frontier.TryVisit(entry.CanonicalURL) {
		o.update(func(s *RunStats) { s.Duplicates++ })
		return
	}

	log := o.logger.With("worker", worker, "url", entry.CanonicalURL, "source", string(entry.Source))
	state, err := o.process(ctx, entry, log)

	switch state {
	case StateFailed:
		log.Warn("Entity failed", "error", err.Error())
		o.update(func(s *RunStats) { s.Failed++ })
	case StateDropped:
		log.Info("Entity dropped: empty name")
		o.update(func(s *RunStats) { s.Dropped++ })
	case StateAccepted:
		o.update(func(s *RunStats) { s.Accepted++ })
	}
}

// process проводит кандидата по состояниям до конечного
func (o *Orchestrator) process(ctx context.Context, entry frontier.Entry, log *observability.Logger) (State, error) {
	// Начатую загрузку и сохранение доводим до конца и после отмены
	inflight := context.WithoutCancel(ctx)

	log.Debug("Entity state", "state", StateFetching.String())
	resp, err := o.fetch.Fetch(inflight, entry.CanonicalURL)
	if err != nil {
		return StateFailed, err
	}

	log.Debug("Entity state", "state", StateExtracting.String(), "bytes", len(resp.Body))
	raw, err := o.extract(resp.Body, entry.CanonicalURL)
	if err != nil {
		return StateFailed, err
	}

	rec := o.normalizer.Normalize(raw)
	log.Debug("Entity state", "state", StateNormalized.String(), "name", rec.Name)
	if !o.normalizer.Accept(&rec) {
		return StateDropped, nil
	}
	if rec.ProfileURL == "" {
		rec.ProfileURL = entry.CanonicalURL
	}

	o.sink.write(inflight, &rec, o.update)
	return StateAccepted, nil
}

func (o *Orchestrator) extract(body []byte, pageURL string) (raw normalize.RawRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			raw = nil
			err = &ExtractionError{URL: pageURL, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	doc, err := scraper.ParseDocument(body)
	if err != nil {
		return nil, &ExtractionError{URL: pageURL, Err: err}
	}
	return o.extractor.ExtractDoctor(doc, pageURL), nil
}

func (o *Orchestrator) update(fn func(s *RunStats)) {
	o.mu.Lock()
	fn(o.stats)
	o.mu.Unlock()
}

func (o *Orchestrator) setReason(reason string) {
	o.update(func(s *RunStats) { s.StoppedReason = reason })
}

// sinkWriter сериализует вызовы Sink: хранилища вроде sqlite не любят
// параллельную запись
type sinkWriter struct {
	mu     sync.Mutex
	sink   storage.Sink
	logger *observability.Logger
}

func newSinkWriter(sink storage.Sink, logger *observability.Logger) *sinkWriter {
	return &sinkWriter{sink: sink, logger: logger}
}

// write вызывает Upsert ровно один раз и учитывает результат
func (w *sinkWriter) write(ctx context.Context, rec *storage.DoctorRecord, update func(func(*RunStats))) {
	w.mu.Lock()
	result, err := w.sink.Upsert(ctx, rec)
	w.mu.Unlock()

	if err != nil {
		w.logger.Error("Failed to upsert record",
			"profile_url", rec.ProfileURL,
			"error", err.Error(),
		)
		update(func(s *RunStats) { s.SinkErrors++ })
		return
	}

	w.logger.Debug("Record saved", "profile_url", rec.ProfileURL, "result", result.String())
	update(func(s *RunStats) {
		switch result {
		case storage.Created:
			s.Created++
		case storage.Updated:
			s.Updated++
		default:
			s.Skipped++
		}
	})
}
