package config

import (
	"fmt"
	"net/url"
	"os"
	"time"
)

type Config struct {
	path string

	Rod           RodConfig           `yaml:"rod"`
	Robots        RobotsConfig        `yaml:"robots"`
	HTTP          HttpConfig          `yaml:"http"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Crawl         CrawlConfig         `yaml:"crawl"`
	API           APIConfig           `yaml:"api"`
	SelectorsFile string              `yaml:"selectors_file"`
	Normalize     NormalizeConfig     `yaml:"normalize"`
	Storage       StorageConfig       `yaml:"storage"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type RodConfig struct {
	Enabled          bool   `yaml:"enabled"`
	ChromePath       string `yaml:"chrome_path"`
	Headless         bool   `yaml:"headless"`
	PageTimeoutS     int    `yaml:"page_timeout_s"`
	WaitLoadTimeoutS int    `yaml:"wait_load_timeout_s"`
	LazyLoadDelayS   int    `yaml:"lazy_load_delay_s"`
}

type RobotsConfig struct {
	Obey          bool `yaml:"obey"`
	CacheTTLHours int  `yaml:"cache_ttl_hours"`
}

type HttpConfig struct {
	UserAgent                 string            `yaml:"user_agent"`
	AcceptLanguage            string            `yaml:"accept_language"`
	Headers                   map[string]string `yaml:"headers"`
	ThrottleMarkers           []string          `yaml:"throttle_markers"`
	ConnectTimeoutMS          int               `yaml:"connect_timeout_ms"`
	TotalTimeoutMS            int               `yaml:"total_timeout_ms"`
	MaxRetries                int               `yaml:"max_retries"`
	RetryDelayMS              int               `yaml:"retry_delay_ms"`
	MinIntervalMS             int               `yaml:"min_interval_ms"`
	MaxIdleConnections        int               `yaml:"max_idle_connections"`
	MaxIdleConnectionsPerHost int               `yaml:"max_idle_connections_per_host"`
	IdleConnectionTimeoutS    int               `yaml:"idle_connection_timeout_s"`
}

type RateLimitConfig struct {
	MaxConcurrentPerHost int `yaml:"max_concurrent_per_host"`
}

type CrawlConfig struct {
	SeedURLs       []string `yaml:"seed_urls"`
	Region         string   `yaml:"region"`
	ProfileBaseURL string   `yaml:"profile_base_url"`
	MaxPages       int      `yaml:"max_pages"`
	MaxEntities    int      `yaml:"max_entities"`
	Workers        int      `yaml:"workers"`
	SitemapURL     string   `yaml:"sitemap_url"`
	UseSitemap     bool     `yaml:"use_sitemap"`
}

type APIConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	City           string `yaml:"city"`
	Specialization string `yaml:"specialization"`
	PageSize       int    `yaml:"page_size"`
	Limit          int    `yaml:"limit"`
}

type NormalizeConfig struct {
	CurrencySymbol string `yaml:"currency_symbol"`
	TrimNBSP       bool   `yaml:"trim_nbsp"`
	CollapseSpaces bool   `yaml:"collapse_spaces"`
}

type StorageConfig struct {
	Driver           string `yaml:"driver"`
	DSN              string `yaml:"dsn"`
	CommandTimeoutMS int    `yaml:"command_timeout_ms"`
	MaxConns         int    `yaml:"max_conns"`
}

type SchedulerConfig struct {
	Mode      string `yaml:"mode"`
	IntervalS int    `yaml:"interval_s"`
	CronExpr  string `yaml:"cron_expr"`
}

type ObservabilityConfig struct {
	LogPath  string `yaml:"log_path"`
	LogLevel string `yaml:"log_level"`
}

// Default: конфиг со значениями по умолчанию (перекрывается YAML)
func Default() *Config {
	return &Config{
		Rod: RodConfig{
			Headless:         true,
			PageTimeoutS:     30,
			WaitLoadTimeoutS: 15,
			LazyLoadDelayS:   2,
		},
		Robots: RobotsConfig{CacheTTLHours: 12},
		HTTP: HttpConfig{
			UserAgent:                 "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			AcceptLanguage:            "en-IN,en;q=0.9",
			ThrottleMarkers:           []string{"unusual traffic from your computer network"},
			ConnectTimeoutMS:          10000,
			TotalTimeoutMS:            30000,
			MaxRetries:                3,
			RetryDelayMS:              1000,
			MinIntervalMS:             2000,
			MaxIdleConnections:        100,
			MaxIdleConnectionsPerHost: 10,
			IdleConnectionTimeoutS:    90,
		},
		RateLimit: RateLimitConfig{MaxConcurrentPerHost: 1},
		Crawl: CrawlConfig{
			SeedURLs:       []string{"https://www.practo.com/bangalore/doctors"},
			Region:         "bangalore",
			ProfileBaseURL: "https://www.practo.com",
			MaxPages:       20,
			Workers:        1,
			SitemapURL:     "https://www.practo.com/profiles-sitemap.xml",
		},
		API: APIConfig{
			BaseURL:  "https://api.easyapi.com/v1",
			City:     "bangalore",
			PageSize: 100,
			Limit:    500,
		},
		SelectorsFile: "selectors.yaml",
		Normalize: NormalizeConfig{
			CurrencySymbol: "₹",
			TrimNBSP:       true,
			CollapseSpaces: true,
		},
		Storage: StorageConfig{
			Driver:           "sqlite",
			DSN:              "doctors_data.db",
			CommandTimeoutMS: 5000,
			MaxConns:         4,
		},
		Scheduler: SchedulerConfig{Mode: "oneshot"},
		Observability: ObservabilityConfig{
			LogPath:  "logs/practo-harvester.log",
			LogLevel: "info",
		},
	}
}

// Path: файл, из которого загружен конфиг (пусто для Default)
func (c *Config) Path() string {
	return c.path
}

// ApplyEnv: переопределения из окружения
func (c *Config) ApplyEnv() {
	if key := os.Getenv("EASYAPI_KEY"); key != "" {
		c.API.APIKey = key
	}
}

// Validation
func (c *Config) Validate() error {
	if c.HTTP.UserAgent == "" {
		return fmt.Errorf("http.user_agent is required")
	}
	if c.HTTP.ConnectTimeoutMS <= 0 {
		return fmt.Errorf("http.connect_timeout_ms must be > 0")
	}
	if c.HTTP.TotalTimeoutMS <= 0 {
		return fmt.Errorf("http.total_timeout_ms must be > 0")
	}
	if c.HTTP.MaxRetries < 1 {
		return fmt.Errorf("http.max_retries must be >= 1")
	}
	if c.HTTP.RetryDelayMS < 0 {
		return fmt.Errorf("http.retry_delay_ms must be >= 0")
	}
	if c.HTTP.MinIntervalMS < 0 {
		return fmt.Errorf("http.min_interval_ms must be >= 0")
	}
	if c.RateLimit.MaxConcurrentPerHost <= 0 {
		return fmt.Errorf("rate_limit.max_concurrent_per_host must be > 0")
	}
	if len(c.Crawl.SeedURLs) == 0 {
		return fmt.Errorf("crawl.seed_urls is required")
	}
	for _, seed := range c.Crawl.SeedURLs {
		if u, err := url.Parse(seed); err != nil || u.Host == "" {
			return fmt.Errorf("crawl.seed_urls contains invalid URL: %q", seed)
		}
	}
	if c.Crawl.Region == "" {
		return fmt.Errorf("crawl.region is required")
	}
	if c.Crawl.ProfileBaseURL == "" {
		return fmt.Errorf("crawl.profile_base_url is required")
	}
	if c.Crawl.MaxPages <= 0 {
		return fmt.Errorf("crawl.max_pages must be > 0")
	}
	if c.Crawl.MaxEntities < 0 {
		return fmt.Errorf("crawl.max_entities must be >= 0")
	}
	if c.Crawl.Workers <= 0 {
		return fmt.Errorf("crawl.workers must be > 0")
	}
	if c.Crawl.UseSitemap && c.Crawl.SitemapURL == "" {
		return fmt.Errorf("crawl.sitemap_url is required when crawl.use_sitemap is true")
	}
	if c.API.PageSize <= 0 {
		return fmt.Errorf("api.page_size must be > 0")
	}
	if c.API.Limit <= 0 {
		return fmt.Errorf("api.limit must be > 0")
	}
	if c.Storage.Driver != "mssql" && c.Storage.Driver != "postgres" && c.Storage.Driver != "sqlite" {
		return fmt.Errorf("storage.driver must be 'mssql', 'postgres' or 'sqlite'")
	}
	if c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required")
	}
	if c.Storage.CommandTimeoutMS <= 0 {
		return fmt.Errorf("storage.command_timeout_ms must be > 0")
	}
	if c.Scheduler.Mode != "interval" && c.Scheduler.Mode != "cron" && c.Scheduler.Mode != "oneshot" {
		return fmt.Errorf("scheduler.mode must be 'interval', 'cron' or 'oneshot'")
	}
	if c.Scheduler.Mode == "interval" && c.Scheduler.IntervalS <= 0 {
		return fmt.Errorf("scheduler.interval_s must be > 0 when mode is 'interval'")
	}
	if c.Scheduler.Mode == "cron" && c.Scheduler.CronExpr == "" {
		return fmt.Errorf("scheduler.cron_expr must be set when mode is 'cron'")
	}
	if c.Observability.LogLevel == "" {
		return fmt.Errorf("observability.log_level is required")
	}
	if c.Robots.Obey && c.Robots.CacheTTLHours <= 0 {
		return fmt.Errorf("robots.cache_ttl_hours must be > 0")
	}
	if c.Rod.Enabled {
		if c.Rod.PageTimeoutS <= 0 {
			return fmt.Errorf("rod.page_timeout_s must be > 0")
		}
		if c.Rod.WaitLoadTimeoutS <= 0 {
			return fmt.Errorf("rod.wait_load_timeout_s must be > 0")
		}
		if c.Rod.LazyLoadDelayS < 0 {
			return fmt.Errorf("rod.lazy_load_delay_s must be >= 0")
		}
	}
	return nil
}

// Getters
func (c *Config) GetConnectTimeout() time.Duration {
	return time.Duration(c.HTTP.ConnectTimeoutMS) * time.Millisecond
}

func (c *Config) GetTotalTimeout() time.Duration {
	return time.Duration(c.HTTP.TotalTimeoutMS) * time.Millisecond
}

func (c *Config) GetIdleConnectionTimeout() time.Duration {
	return time.Duration(c.HTTP.IdleConnectionTimeoutS) * time.Second
}

func (c *Config) GetRetryDelay() time.Duration {
	return time.Duration(c.HTTP.RetryDelayMS) * time.Millisecond
}

func (c *Config) GetMinInterval() time.Duration {
	return time.Duration(c.HTTP.MinIntervalMS) * time.Millisecond
}

func (c *Config) GetCommandTimeout() time.Duration {
	return time.Duration(c.Storage.CommandTimeoutMS) * time.Millisecond
}

func (c *Config) GetSchedulerInterval() time.Duration {
	return time.Duration(c.Scheduler.IntervalS) * time.Second
}

func (c *Config) GetRobotsCacheTTL() time.Duration {
	return time.Duration(c.Robots.CacheTTLHours) * time.Hour
}

func (c *Config) GetRodPageTimeout() time.Duration {
	return time.Duration(c.Rod.PageTimeoutS) * time.Second
}

func (c *Config) GetRodWaitLoadTimeout() time.Duration {
	return time.Duration(c.Rod.WaitLoadTimeoutS) * time.Second
}

func (c *Config) GetRodLazyLoadDelay() time.Duration {
	return time.Duration(c.Rod.LazyLoadDelayS) * time.Second
}
