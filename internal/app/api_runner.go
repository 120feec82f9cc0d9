package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"practo-harvester/internal/apiclient"
	"practo-harvester/internal/config"
	"practo-harvester/internal/frontier"
	"practo-harvester/internal/normalize"
	"practo-harvester/internal/observability"
	"practo-harvester/internal/storage"
)

// APISource: постраничный поиск врачей
type APISource interface {
	All(ctx context.Context, p apiclient.SearchParams, pageSize, limit int) ([]normalize.RawRecord, error)
}

type APIOptions struct {
	Params   apiclient.SearchParams
	PageSize int
	Limit    int
	// ProfileBaseURL: база канонических profile_url, общая с обходом сайта
	ProfileBaseURL string
}

func APIOptionsFromConfig(cfg *config.Config) APIOptions {
	return APIOptions{
		Params: apiclient.SearchParams{
			City:           cfg.API.City,
			Specialization: cfg.API.Specialization,
		},
		PageSize:       cfg.API.PageSize,
		Limit:          cfg.API.Limit,
		ProfileBaseURL: cfg.Crawl.ProfileBaseURL,
	}
}

// APIRunner: прогон по структурированному источнику: те же нормализация,
// фильтр по имени и sink, что и у обхода сайта
type APIRunner struct {
	source     APISource
	opts       APIOptions
	normalizer *normalize.Normalizer
	sink       *sinkWriter
	logger     *observability.Logger

	mu    sync.Mutex
	stats *RunStats
}

func NewAPIRunner(source APISource, opts APIOptions, normalizer *normalize.Normalizer, sink storage.Sink, logger *observability.Logger) *APIRunner {
	if logger == nil {
		logger = observability.NewNop()
	}
	return &APIRunner{
		source:     source,
		opts:       opts,
		normalizer: normalizer,
		sink:       newSinkWriter(sink, logger),
		logger:     logger,
	}
}

// Run забирает до Limit записей и сохраняет принятые. Если поиск упал
// на середине, уже полученные записи всё равно сохраняются.
func (r *APIRunner) Run(ctx context.Context) (*RunStats, error) {
	started := time.Now()
	r.stats = &RunStats{StoppedReason: "source exhausted"}

	r.logger.Info("Starting API run",
		"city", r.opts.Params.City,
		"specialization", r.opts.Params.Specialization,
		"page_size", r.opts.PageSize,
		"limit", r.opts.Limit,
	)

	raws, searchErr := r.source.All(ctx, r.opts.Params, r.opts.PageSize, r.opts.Limit)
	if searchErr != nil {
		if len(raws) == 0 {
			r.stats.StoppedReason = "source unreachable"
			r.stats.Duration = time.Since(started)
			return r.stats, fmt.Errorf("%w: %w", ErrSeedUnreachable, searchErr)
		}
		r.logger.Warn("API search stopped early, keeping partial results",
			"received", len(raws),
			"error", searchErr.Error(),
		)
		r.stats.StoppedReason = "partial: " + searchErr.Error()
	}

	seen := make(map[string]struct{}, len(raws))
	// Запись, уже отданную в обработку, доводим до sink и после отмены
	inflight := context.WithoutCancel(ctx)

	for _, raw := range raws {
		if ctx.Err() != nil {
			r.stats.StoppedReason = "canceled"
			break
		}
		r.stats.Discovered++

		rec := r.normalizer.Normalize(raw)
		if rec.ProfileURL != "" {
			if canonical, err := frontier.Canonicalize(rec.ProfileURL, r.opts.ProfileBaseURL); err == nil {
				rec.ProfileURL = canonical
			}
			if _, dup := seen[rec.ProfileURL]; dup {
				r.stats.Duplicates++
				continue
			}
			seen[rec.ProfileURL] = struct{}{}
		}

		if !r.normalizer.Accept(&rec) {
			r.logger.Debug("Record dropped: empty name", "raw_identity", raw.Identity())
			r.stats.Dropped++
			continue
		}
		r.stats.Accepted++
		r.sink.write(inflight, &rec, r.update)
	}

	r.stats.Duration = time.Since(started)
	r.logger.Info("API run completed",
		"discovered", r.stats.Discovered,
		"duplicates", r.stats.Duplicates,
		"accepted", r.stats.Accepted,
		"dropped", r.stats.Dropped,
		"created", r.stats.Created,
		"updated", r.stats.Updated,
		"skipped", r.stats.Skipped,
		"sink_errors", r.stats.SinkErrors,
		"reason", r.stats.StoppedReason,
	)
	return r.stats, nil
}

func (r *APIRunner) update(fn func(s *RunStats)) {
	r.mu.Lock()
	fn(r.stats)
	r.mu.Unlock()
}
