package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config stores all configuration for the application.
type Config struct {
	DataDir        string `mapstructure:"DATA_DIR"`
	SitesFile      string `mapstructure:"SITES"`
	DryRun         bool   `mapstructure:"DRY_RUN"`
	TargetPerSite  int    `mapstructure:"TARGET_RECIPES_PER_SITE"`
	ScanDepth      int    `mapstructure:"SCAN_DEPTH"`
	FlushThreshold int    `mapstructure:"FLUSH_THRESHOLD"`

	CrawlDelay      time.Duration `mapstructure:"CRAWL_DELAY"`
	RespectRobots   bool          `mapstructure:"RESPECT_ROBOTS_TXT"`
	RequestTimeout  time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	CacheExpiryDays int           `mapstructure:"CACHE_EXPIRY_DAYS"`

	MaxRetryAttempts int           `mapstructure:"MAX_RETRY_ATTEMPTS"`
	RetryBackoffBase time.Duration `mapstructure:"RETRY_BACKOFF_BASE"`

	MealieEnabled       bool          `mapstructure:"MEALIE_ENABLED"`
	MealieURL           string        `mapstructure:"MEALIE_URL"`
	MealieAPIToken      string        `mapstructure:"MEALIE_API_TOKEN"`
	MealieImportTimeout time.Duration `mapstructure:"MEALIE_IMPORT_TIMEOUT"`

	ImportWorkers         int  `mapstructure:"IMPORT_WORKERS"`
	ImportPrecheck        bool `mapstructure:"IMPORT_PRECHECK_DUPLICATES"`
	SiteFailureThreshold  int  `mapstructure:"SITE_FAILURE_THRESHOLD"`
	BreakerRequeuePending bool `mapstructure:"BREAKER_REQUEUE_PENDING"`

	TargetLanguage        string  `mapstructure:"TARGET_LANGUAGE"`
	LanguageFilterEnabled bool    `mapstructure:"LANGUAGE_FILTER_ENABLED"`
	LanguageStrict        bool    `mapstructure:"LANGUAGE_DETECTION_STRICT"`
	LanguageMinConfidence float64 `mapstructure:"LANGUAGE_MIN_CONFIDENCE"`

	CleanerWorkers         int  `mapstructure:"CLEANER_WORKERS"`
	CleanerRenameSalvage   bool `mapstructure:"CLEANER_RENAME_SALVAGE"`
	CleanerDedupeBySource  bool `mapstructure:"CLEANER_DEDUPE_BY_SOURCE"`
	CleanerRemoveNonTarget bool `mapstructure:"CLEANER_REMOVE_NON_TARGET_LANGUAGE"`
	CleanerPerPage         int  `mapstructure:"CLEANER_RECIPES_PER_PAGE"`

	AlignOnRun bool `mapstructure:"ALIGN_ON_RUN"`

	LogLevel string `mapstructure:"LOG_LEVEL"`
	LogJSON  bool   `mapstructure:"LOG_JSON"`
	LogFile  string `mapstructure:"LOG_FILE"`

	StatusAddr  string `mapstructure:"STATUS_ADDR"`
	PostgresURL string `mapstructure:"POSTGRES_URL"`
	RedisAddr   string `mapstructure:"REDIS_ADDR"`
}

// Load reads configuration from a .env file or environment variables.
func Load() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.SetConfigType("env")
	viper.AutomaticEnv()

	// Attempt to read the .env file, but don't fail if it's not present.
	// This allows configuration purely through environment variables.
	_ = viper.ReadInConfig()

	viper.SetDefault("DATA_DIR", "data")
	viper.SetDefault("SITES", "")
	viper.SetDefault("DRY_RUN", true)
	viper.SetDefault("TARGET_RECIPES_PER_SITE", 50)
	viper.SetDefault("SCAN_DEPTH", 1000)
	viper.SetDefault("FLUSH_THRESHOLD", 50)

	viper.SetDefault("CRAWL_DELAY", "2s")
	viper.SetDefault("RESPECT_ROBOTS_TXT", true)
	viper.SetDefault("REQUEST_TIMEOUT", "10s")
	viper.SetDefault("CACHE_EXPIRY_DAYS", 7)

	viper.SetDefault("MAX_RETRY_ATTEMPTS", 3)
	viper.SetDefault("RETRY_BACKOFF_BASE", "30m")

	viper.SetDefault("MEALIE_ENABLED", true)
	viper.SetDefault("MEALIE_URL", "http://localhost:9000")
	viper.SetDefault("MEALIE_API_TOKEN", "your-token")
	viper.SetDefault("MEALIE_IMPORT_TIMEOUT", "20s")

	viper.SetDefault("IMPORT_WORKERS", 2)
	viper.SetDefault("IMPORT_PRECHECK_DUPLICATES", true)
	viper.SetDefault("SITE_FAILURE_THRESHOLD", 5)
	viper.SetDefault("BREAKER_REQUEUE_PENDING", false)

	viper.SetDefault("TARGET_LANGUAGE", "en")
	viper.SetDefault("LANGUAGE_FILTER_ENABLED", true)
	viper.SetDefault("LANGUAGE_DETECTION_STRICT", true)
	viper.SetDefault("LANGUAGE_MIN_CONFIDENCE", 0.70)

	viper.SetDefault("CLEANER_WORKERS", 2)
	viper.SetDefault("CLEANER_RENAME_SALVAGE", true)
	viper.SetDefault("CLEANER_DEDUPE_BY_SOURCE", true)
	viper.SetDefault("CLEANER_REMOVE_NON_TARGET_LANGUAGE", true)
	viper.SetDefault("CLEANER_RECIPES_PER_PAGE", 250)

	viper.SetDefault("ALIGN_ON_RUN", false)

	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_JSON", false)
	viper.SetDefault("LOG_FILE", "")

	viper.SetDefault("STATUS_ADDR", "")
	viper.SetDefault("POSTGRES_URL", "")
	viper.SetDefault("REDIS_ADDR", "")

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.MealieURL = strings.TrimSuffix(cfg.MealieURL, "/")
	cfg.TargetLanguage = normalizeLanguage(cfg.TargetLanguage)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the pipeline cannot run with. Per-item
// failures are contained at runtime; these are the only fatal errors.
func (c *Config) Validate() error {
	if c.ImportWorkers < 1 {
		return fmt.Errorf("IMPORT_WORKERS must be >= 1, got %d", c.ImportWorkers)
	}
	if c.CleanerWorkers < 1 {
		return fmt.Errorf("CLEANER_WORKERS must be >= 1, got %d", c.CleanerWorkers)
	}
	if c.MaxRetryAttempts < 1 {
		return fmt.Errorf("MAX_RETRY_ATTEMPTS must be >= 1, got %d", c.MaxRetryAttempts)
	}
	if c.RetryBackoffBase <= 0 {
		return fmt.Errorf("RETRY_BACKOFF_BASE must be positive, got %s", c.RetryBackoffBase)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}
	if c.ScanDepth < 1 {
		return fmt.Errorf("SCAN_DEPTH must be >= 1, got %d", c.ScanDepth)
	}
	if c.TargetPerSite < 1 {
		return fmt.Errorf("TARGET_RECIPES_PER_SITE must be >= 1, got %d", c.TargetPerSite)
	}
	if c.FlushThreshold < 1 {
		return fmt.Errorf("FLUSH_THRESHOLD must be >= 1, got %d", c.FlushThreshold)
	}
	return nil
}

// CacheExpiry converts the day-granular knob into a duration.
func (c *Config) CacheExpiry() time.Duration {
	return time.Duration(c.CacheExpiryDays) * 24 * time.Hour
}

func normalizeLanguage(value string) string {
	cleaned := strings.ToLower(strings.TrimSpace(value))
	cleaned = strings.ReplaceAll(cleaned, "_", "-")
	if cleaned == "" {
		return ""
	}
	return strings.SplitN(cleaned, "-", 2)[0]
}
