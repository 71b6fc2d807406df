package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Browser  BrowserConfig
	Collect  CollectConfig
	Enrich   EnrichConfig
	Comments CommentsConfig
	Logging  LoggingConfig
	Metrics  MetricsConfig
}

type BrowserConfig struct {
	Headless       bool
	Timeout        time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	ProxyServer    string
}

type CollectConfig struct {
	WorkFile           string
	OutputFile         string
	Pages              int
	SearchURLTemplate  string
	EndpointHints      []string
	NodeSelector       string
	NextPageSelector   string
	ChallengeSelector  string
	ChallengeHost      string
	ContentWaitTimeout time.Duration
	APIWaitTimeout     time.Duration
	PageDelayMin       time.Duration
	PageDelayMax       time.Duration
	KeywordDelay       time.Duration
}

type EnrichConfig struct {
	SummaryURL     string
	Workers        int
	RequestTimeout time.Duration
	CacheSize      int
	OutputSuffix   string
	UserAgent      string
	Referer        string
}

type CommentsConfig struct {
	CommentURL   string
	OutputFile   string
	ProgressFile string
	PagesPerSKU  int
	PageDelayMin time.Duration
	PageDelayMax time.Duration
	SKUDelayMin  time.Duration
	SKUDelayMax  time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

type MetricsConfig struct {
	Addr string
}

func Load() (*Config, error) {
	cfg := &Config{
		Browser: BrowserConfig{
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", false),
			Timeout:        getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			UserAgent:      getEnvOrDefault("BROWSER_USER_AGENT", defaultUserAgent),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			AcceptLanguage: getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", "zh-CN,zh;q=0.9,en;q=0.8"),
			TimezoneID:     getEnvOrDefault("BROWSER_TIMEZONE", "Asia/Shanghai"),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", "zh-CN"),
			ProxyServer:    getEnvOrDefault("BROWSER_PROXY", ""),
		},
		Collect: CollectConfig{
			WorkFile:           getEnvOrDefault("COLLECT_WORK_FILE", "keywords.txt"),
			OutputFile:         getEnvOrDefault("COLLECT_OUTPUT_FILE", "output/listings.csv"),
			Pages:              getIntOrDefault("COLLECT_PAGES", 10),
			SearchURLTemplate:  getEnvOrDefault("COLLECT_SEARCH_URL", "https://search.jd.com/Search?keyword=%s&enc=utf-8&psort=3"),
			EndpointHints:      getStringSliceOrDefault("COLLECT_ENDPOINT_HINTS", []string{"pc_search_searchWare", "api.m.jd.com", "search"}),
			NodeSelector:       getEnvOrDefault("COLLECT_NODE_SELECTOR", "[data-sku]"),
			NextPageSelector:   getEnvOrDefault("COLLECT_NEXT_SELECTOR", ".pn-next"),
			ChallengeSelector:  getEnvOrDefault("COLLECT_CHALLENGE_SELECTOR", ".JDJR-bigpic"),
			ChallengeHost:      getEnvOrDefault("COLLECT_CHALLENGE_HOST", "passport.jd.com"),
			ContentWaitTimeout: getDurationOrDefault("COLLECT_CONTENT_WAIT_TIMEOUT", 6*time.Second),
			APIWaitTimeout:     getDurationOrDefault("COLLECT_API_WAIT_TIMEOUT", 2*time.Second),
			PageDelayMin:       getDurationOrDefault("COLLECT_PAGE_DELAY_MIN", 2*time.Second),
			PageDelayMax:       getDurationOrDefault("COLLECT_PAGE_DELAY_MAX", 4*time.Second),
			KeywordDelay:       getDurationOrDefault("COLLECT_KEYWORD_DELAY", 3*time.Second),
		},
		Enrich: EnrichConfig{
			SummaryURL:     getEnvOrDefault("ENRICH_SUMMARY_URL", "https://club.jd.com/comment/productCommentSummaries.action"),
			Workers:        getIntOrDefault("ENRICH_WORKERS", 32),
			RequestTimeout: getDurationOrDefault("ENRICH_REQUEST_TIMEOUT", 5*time.Second),
			CacheSize:      getIntOrDefault("ENRICH_CACHE_SIZE", 4096),
			OutputSuffix:   getEnvOrDefault("ENRICH_OUTPUT_SUFFIX", "_enriched"),
			UserAgent:      getEnvOrDefault("ENRICH_USER_AGENT", defaultUserAgent),
			Referer:        getEnvOrDefault("ENRICH_REFERER", "https://item.jd.com/"),
		},
		Comments: CommentsConfig{
			CommentURL:   getEnvOrDefault("COMMENTS_URL", "https://club.jd.com/comment/productPageComments.action"),
			OutputFile:   getEnvOrDefault("COMMENTS_OUTPUT_FILE", "output/comments.csv"),
			ProgressFile: getEnvOrDefault("COMMENTS_PROGRESS_FILE", "output/.comments_progress.json"),
			PagesPerSKU:  getIntOrDefault("COMMENTS_PAGES_PER_SKU", 5),
			PageDelayMin: getDurationOrDefault("COMMENTS_PAGE_DELAY_MIN", 500*time.Millisecond),
			PageDelayMax: getDurationOrDefault("COMMENTS_PAGE_DELAY_MAX", 1500*time.Millisecond),
			SKUDelayMin:  getDurationOrDefault("COMMENTS_SKU_DELAY_MIN", 1*time.Second),
			SKUDelayMax:  getDurationOrDefault("COMMENTS_SKU_DELAY_MAX", 2*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "text"),
		},
		Metrics: MetricsConfig{
			Addr: getEnvOrDefault("METRICS_ADDR", ""),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Collect.Pages < 1 {
		return fmt.Errorf("COLLECT_PAGES must be at least 1")
	}
	if !strings.Contains(c.Collect.SearchURLTemplate, "%s") {
		return fmt.Errorf("COLLECT_SEARCH_URL must contain a %%s keyword placeholder")
	}
	if c.Collect.PageDelayMin > c.Collect.PageDelayMax {
		return fmt.Errorf("COLLECT_PAGE_DELAY_MIN cannot be greater than COLLECT_PAGE_DELAY_MAX")
	}
	if c.Enrich.Workers < 1 {
		return fmt.Errorf("ENRICH_WORKERS must be at least 1")
	}
	if c.Enrich.CacheSize < 1 {
		return fmt.Errorf("ENRICH_CACHE_SIZE must be at least 1")
	}
	if c.Comments.PagesPerSKU < 1 {
		return fmt.Errorf("COMMENTS_PAGES_PER_SKU must be at least 1")
	}
	return nil
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
