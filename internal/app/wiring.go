package app

import (
	"context"
	"fmt"
	"io"

	"practo-harvester/internal/apiclient"
	"practo-harvester/internal/config"
	"practo-harvester/internal/fetcher"
	"practo-harvester/internal/frontier"
	"practo-harvester/internal/normalize"
	"practo-harvester/internal/observability"
	"practo-harvester/internal/scraper"
	"practo-harvester/internal/storage"
	"practo-harvester/internal/storage/mssql"
	"practo-harvester/internal/storage/postgres"
	"practo-harvester/internal/storage/sqlite"
)

// OpenRepository открывает хранилище по storage.driver
func OpenRepository(ctx context.Context, cfg *config.Config, logger *observability.Logger) (storage.Repository, error) {
	switch cfg.Storage.Driver {
	case "sqlite":
		return sqlite.NewRepository(ctx, cfg.Storage.DSN, cfg.GetCommandTimeout(), logger)
	case "postgres":
		return postgres.NewRepository(ctx, cfg.Storage.DSN, cfg.Storage.MaxConns, cfg.GetCommandTimeout(), logger)
	case "mssql":
		return mssql.NewRepository(ctx, cfg.Storage.DSN, cfg.GetCommandTimeout(), logger)
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", cfg.Storage.Driver)
	}
}

// NewNormalizer: нормализатор с настройками из секции normalize
func NewNormalizer(cfg *config.Config, logger *observability.Logger) *normalize.Normalizer {
	return normalize.NewNormalizer(normalize.Options{
		CurrencySymbol: cfg.Normalize.CurrencySymbol,
		TrimNBSP:       cfg.Normalize.TrimNBSP,
		CollapseSpaces: cfg.Normalize.CollapseSpaces,
	}, logger)
}

// NewPageFetcher собирает клиент страниц сайта: браузер или HTTP,
// с robots.txt, если он включён. Closer закрывает браузер.
func NewPageFetcher(cfg *config.Config, logger *observability.Logger) (*fetcher.Fetcher, io.Closer) {
	var transport fetcher.Transport
	var closer io.Closer = nopCloser{}

	if cfg.Rod.Enabled {
		browser := fetcher.NewBrowserTransport(cfg, logger)
		transport = browser
		closer = browser
	} else {
		transport = fetcher.NewHTTPTransport(cfg, logger)
	}

	f := fetcher.NewFetcher(transport, fetcher.OptionsFromConfig(cfg), logger)
	if cfg.Robots.Obey {
		f.WithRobots(fetcher.NewRobotsCache(cfg.GetRobotsCacheTTL(), cfg.HTTP.UserAgent, logger))
	}
	return f, closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewOrchestratorFromConfig собирает обход сайта на один прогон: frontier
// и его множество посещённых живут ровно один Run
func NewOrchestratorFromConfig(cfg *config.Config, pages frontier.PageFetcher, sink storage.Sink, logger *observability.Logger) (*Orchestrator, error) {
	selectors, err := cfg.Selectors()
	if err != nil {
		return nil, err
	}

	extractor := scraper.NewExtractor(selectors, cfg.Crawl.ProfileBaseURL, cfg.Crawl.Region, logger)
	fr := frontier.New(pages, extractor, frontier.Options{
		BaseURL:  cfg.Crawl.ProfileBaseURL,
		Region:   cfg.Crawl.Region,
		MaxPages: cfg.Crawl.MaxPages,
	}, logger)

	return NewOrchestrator(OptionsFromConfig(cfg), pages, fr, extractor, NewNormalizer(cfg, logger), sink, logger), nil
}

// NewAPIRunnerFromConfig: прогон через API: resty с bearer ключом под
// общей политикой повторов и пауз
func NewAPIRunnerFromConfig(cfg *config.Config, sink storage.Sink, logger *observability.Logger) (*APIRunner, error) {
	if cfg.API.APIKey == "" {
		return nil, fmt.Errorf("api.api_key is required (or set EASYAPI_KEY)")
	}

	opts := fetcher.OptionsFromConfig(cfg)
	opts.Header.Set("Accept", "application/json")

	transport := fetcher.NewRestyTransport(cfg.API.BaseURL, cfg.API.APIKey, cfg.GetTotalTimeout())
	client := apiclient.New(fetcher.NewFetcher(transport, opts, logger), cfg.API.BaseURL, logger)

	return NewAPIRunner(client, APIOptionsFromConfig(cfg), NewNormalizer(cfg, logger), sink, logger), nil
}
