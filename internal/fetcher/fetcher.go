package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"practo-harvester/internal/config"
	"practo-harvester/internal/observability"
)

// Request: один GET-запрос
type Request struct {
	URL    string
	Header http.Header
}

type FetchResponse struct {
	StatusCode int
	Body       []byte
	URL        string
	Headers    http.Header
}

// Transport выполняет ровно одну попытку запроса. Повторы, паузы и
// классификация ответов: забота Fetcher.
type Transport interface {
	Do(ctx context.Context, req *Request) (*FetchResponse, error)
}

// Options: политика повторов и пауз
type Options struct {
	MaxRetries      int
	RetryDelay      time.Duration
	MinInterval     time.Duration
	MaxConcurrent   int
	AttemptTimeout  time.Duration
	ThrottleMarkers []string
	Header          http.Header
}

// OptionsFromConfig собирает Options из секций http и rate_limit
func OptionsFromConfig(cfg *config.Config) Options {
	header := http.Header{}
	header.Set("User-Agent", cfg.HTTP.UserAgent)
	header.Set("Accept-Language", cfg.HTTP.AcceptLanguage)
	header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	for k, v := range cfg.HTTP.Headers {
		header.Set(k, v)
	}

	return Options{
		MaxRetries:      cfg.HTTP.MaxRetries,
		RetryDelay:      cfg.GetRetryDelay(),
		MinInterval:     cfg.GetMinInterval(),
		MaxConcurrent:   cfg.RateLimit.MaxConcurrentPerHost,
		AttemptTimeout:  cfg.GetTotalTimeout(),
		ThrottleMarkers: cfg.HTTP.ThrottleMarkers,
		Header:          header,
	}
}

type Fetcher struct {
	transport   Transport
	opts        Options
	logger      *observability.Logger
	robotsCache *RobotsCache
	rateLimiter *RateLimiter
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewFetcher(transport Transport, opts Options, logger *observability.Logger) *Fetcher {
	if logger == nil {
		logger = observability.NewNop()
	}
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 1
	}
	if opts.Header == nil {
		opts.Header = http.Header{}
	}

	return &Fetcher{
		transport:   transport,
		opts:        opts,
		logger:      logger,
		rateLimiter: NewRateLimiter(opts.MaxConcurrent, opts.MinInterval),
		sleep:       sleepContext,
	}
}

// WithRobots включает проверку robots.txt перед каждым URL
func (f *Fetcher) WithRobots(cache *RobotsCache) *Fetcher {
	f.robotsCache = cache
	return f
}

// Fetch: GET с заголовками по умолчанию
func (f *Fetcher) Fetch(ctx context.Context, urlStr string) (*FetchResponse, error) {
	return f.Do(ctx, &Request{URL: urlStr})
}

// Do выполняет запрос с паузами и повторами:
//   - 429 / маркер троттлинга: пауза RetryDelay*(attempt+1)*2
//   - сетевая ошибка, таймаут, 5xx: пауза RetryDelay*(attempt+1)
//   - 404 и прочие 4xx: сразу KindPermanent
//
// После MaxRetries неудачных попыток: KindRetriesExhausted.
func (f *Fetcher) Do(ctx context.Context, req *Request) (*FetchResponse, error) {
	// Parse URL to get host
	parsedURL, err := url.Parse(req.URL)
	if err != nil || parsedURL.Host == "" {
		return nil, &FetchError{Kind: KindPermanent, URL: req.URL, Err: fmt.Errorf("invalid URL: %w", errOrMissingHost(err))}
	}
	host := parsedURL.Host

	header := f.opts.Header.Clone()
	for k, vals := range req.Header {
		header[k] = vals
	}
	attemptReq := &Request{URL: req.URL, Header: header}

	// Check robots.txt
	if f.robotsCache != nil && !f.robotsCache.IsAllowed(ctx, parsedURL, f.pacedAttempt) {
		return nil, &FetchError{Kind: KindDisallowed, URL: req.URL}
	}

	var lastErr error
	lastStatus := 0
	for attempt := 0; attempt < f.opts.MaxRetries; attempt++ {
		// Apply rate limiting
		release, err := f.rateLimiter.Wait(ctx, host)
		if err != nil {
			return nil, &FetchError{Kind: KindCanceled, URL: req.URL, Attempts: attempt, Err: err}
		}

		resp, err := f.attempt(ctx, attemptReq)
		release()

		if ctx.Err() != nil {
			return nil, &FetchError{Kind: KindCanceled, URL: req.URL, Attempts: attempt + 1, Err: ctx.Err()}
		}

		var delay time.Duration
		switch {
		case err != nil:
			lastErr = fmt.Errorf("%w: %v", ErrTransient, err)
			lastStatus = 0
			delay = f.opts.RetryDelay * time.Duration(attempt+1)
		case resp.StatusCode == http.StatusTooManyRequests || f.throttled(resp):
			lastErr = ErrRateLimited
			lastStatus = resp.StatusCode
			delay = f.opts.RetryDelay * time.Duration(attempt+1) * 2
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("%w: server error %d", ErrTransient, resp.StatusCode)
			lastStatus = resp.StatusCode
			delay = f.opts.RetryDelay * time.Duration(attempt+1)
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return resp, nil
		default:
			return nil, &FetchError{
				Kind:       KindPermanent,
				URL:        req.URL,
				StatusCode: resp.StatusCode,
				Attempts:   attempt + 1,
				Err:        fmt.Errorf("unexpected status %d", resp.StatusCode),
			}
		}

		if attempt == f.opts.MaxRetries-1 {
			break
		}

		f.logger.Warn("Fetch attempt failed, retrying",
			"url", req.URL,
			"attempt", attempt+1,
			"max_retries", f.opts.MaxRetries,
			"delay", delay.String(),
			"error", lastErr.Error(),
		)
		if err := f.sleep(ctx, delay); err != nil {
			return nil, &FetchError{Kind: KindCanceled, URL: req.URL, Attempts: attempt + 1, Err: err}
		}
	}

	return nil, &FetchError{
		Kind:       KindRetriesExhausted,
		URL:        req.URL,
		StatusCode: lastStatus,
		Attempts:   f.opts.MaxRetries,
		Err:        lastErr,
	}
}

// pacedAttempt: одна попытка без повторов, но под тем же ограничителем
// темпа хоста, что и основные запросы
func (f *Fetcher) pacedAttempt(ctx context.Context, req *Request) (*FetchResponse, error) {
	parsedURL, err := url.Parse(req.URL)
	if err != nil || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid URL: %w", errOrMissingHost(err))
	}

	release, err := f.rateLimiter.Wait(ctx, parsedURL.Host)
	if err != nil {
		return nil, err
	}
	defer release()

	header := f.opts.Header.Clone()
	for k, vals := range req.Header {
		header[k] = vals
	}
	return f.attempt(ctx, &Request{URL: req.URL, Header: header})
}

func (f *Fetcher) attempt(ctx context.Context, req *Request) (*FetchResponse, error) {
	if f.opts.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.opts.AttemptTimeout)
		defer cancel()
	}

	resp, err := f.transport.Do(ctx, req)
	if err != nil {
		return nil, err
	}

	// LOG: проверяем как пришёл ответ
	f.logger.Debug("Fetched",
		"url", req.URL,
		"status", resp.StatusCode,
		"content_type", resp.Headers.Get("Content-Type"),
		"body_size", len(resp.Body),
	)
	return resp, nil
}

// throttled: 200-страница, которая на самом деле просит притормозить
func (f *Fetcher) throttled(resp *FetchResponse) bool {
	for _, marker := range f.opts.ThrottleMarkers {
		if marker != "" && bytes.Contains(bytes.ToLower(resp.Body), []byte(strings.ToLower(marker))) {
			return true
		}
	}
	return false
}

func errOrMissingHost(err error) error {
	if err != nil {
		return err
	}
	return errors.New("missing host")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
