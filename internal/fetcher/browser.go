package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"practo-harvester/internal/config"
	"practo-harvester/internal/observability"
)

// BrowserTransport рендерит страницу в headless Chrome: список врачей
// подгружается скриптом и в сыром HTML его может не быть.
type BrowserTransport struct {
	cfg     config.RodConfig
	logger  *observability.Logger
	once    sync.Once
	browser *rod.Browser
	initErr error
	mu      sync.Mutex

	pageTimeout time.Duration
	waitTimeout time.Duration
	lazyDelay   time.Duration
}

func NewBrowserTransport(cfg *config.Config, logger *observability.Logger) *BrowserTransport {
	if logger == nil {
		logger = observability.NewNop()
	}
	return &BrowserTransport{
		cfg:         cfg.Rod,
		logger:      logger,
		pageTimeout: cfg.GetRodPageTimeout(),
		waitTimeout: cfg.GetRodWaitLoadTimeout(),
		lazyDelay:   cfg.GetRodLazyLoadDelay(),
	}
}

func (t *BrowserTransport) connect() (*rod.Browser, error) {
	t.once.Do(func() {
		l := launcher.New().Headless(t.cfg.Headless)
		if t.cfg.ChromePath != "" {
			l = l.Bin(t.cfg.ChromePath)
		}
		controlURL, err := l.Launch()
		if err != nil {
			t.initErr = fmt.Errorf("failed to launch browser: %w", err)
			return
		}
		browser := rod.New().ControlURL(controlURL)
		if err := browser.Connect(); err != nil {
			t.initErr = fmt.Errorf("failed to connect to browser: %w", err)
			return
		}
		t.browser = browser
		t.logger.Info("Browser launched", "headless", t.cfg.Headless)
	})
	return t.browser, t.initErr
}

func (t *BrowserTransport) Do(ctx context.Context, r *Request) (*FetchResponse, error) {
	browser, err := t.connect()
	if err != nil {
		return nil, err
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	defer func() {
		if err := page.Close(); err != nil {
			t.logger.Debug("Failed to close page", "error", err.Error())
		}
	}()

	if ua := r.Header.Get("User-Agent"); ua != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent:      ua,
			AcceptLanguage: r.Header.Get("Accept-Language"),
		}); err != nil {
			return nil, fmt.Errorf("failed to set user agent: %w", err)
		}
	}

	p := page.Context(ctx).Timeout(t.pageTimeout)
	if err := p.Navigate(r.URL); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", r.URL, err)
	}
	if err := page.Context(ctx).Timeout(t.waitTimeout).WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait load %s: %w", r.URL, err)
	}

	// Даём ленивым блокам догрузиться
	if t.lazyDelay > 0 {
		if err := sleepContext(ctx, t.lazyDelay); err != nil {
			return nil, err
		}
	}

	html, err := p.HTML()
	if err != nil {
		return nil, fmt.Errorf("read html %s: %w", r.URL, err)
	}

	finalURL := r.URL
	if info, err := p.Info(); err == nil && info.URL != "" {
		finalURL = info.URL
	}

	return &FetchResponse{
		StatusCode: http.StatusOK,
		Body:       []byte(html),
		URL:        finalURL,
		Headers:    http.Header{"Content-Type": []string{"text/html"}},
	}, nil
}

// Close закрывает браузер, если он запускался
func (t *BrowserTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.browser == nil {
		return nil
	}
	err := t.browser.Close()
	t.browser = nil
	return err
}
