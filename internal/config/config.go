package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"mintmind/internal/aggregator/plaid"
	applog "mintmind/internal/log"
)

type Config struct {
	// HTTP Server
	Port string

	// Backend selection
	DataBackend string

	// Database
	SQLiteDBPath string

	// AMQP. An empty URL disables queuing: manual syncs then run inline.
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Aggregator. A fixture file replaces Plaid when set.
	PlaidClientID     string
	PlaidSecret       string
	PlaidEnv          string
	AggregatorFixture string

	// Sync
	SyncWindowDays  int
	SyncSchedule    string
	SyncConcurrency int
	SyncTimeout     time.Duration
	SyncRunOnStart  bool
	SyncMaxAge      time.Duration

	// Classification rules override; empty means the embedded defaults.
	RulesFile string

	// Google Sheets export (optional)
	GoogleSpreadsheetID string
	GoogleSheetName     string

	// Logging
	LogLevel  string
	LogFormat string

	// HTTP hardening. CacheTTL is also the longest a worker or scheduled
	// sync stays invisible to cached dashboard views.
	CacheTTL               time.Duration
	SyncRatePerMinute      int
	TrustedProxies         []string
	RequireTrustedIdentity bool
}

var validBackends = []string{"memory", "sqlite"}

func Load() *Config {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		DataBackend: getEnv("DATA_BACKEND", "memory"),

		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/mintmind.db"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "mintmind"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "sync_requests"),

		PlaidClientID:     getEnv("PLAID_CLIENT_ID", ""),
		PlaidSecret:       getEnv("PLAID_SECRET", ""),
		PlaidEnv:          getEnv("PLAID_ENV", plaid.EnvSandbox),
		AggregatorFixture: getEnv("AGGREGATOR_FIXTURE", ""),

		SyncWindowDays:  getEnvInt("SYNC_WINDOW_DAYS", 90),
		SyncSchedule:    getEnv("SYNC_SCHEDULE", "0 */6 * * *"),
		SyncConcurrency: getEnvInt("SYNC_CONCURRENCY", 4),
		SyncTimeout:     getEnvDuration("SYNC_TIMEOUT", 2*time.Minute),
		SyncRunOnStart:  getEnvBool("SYNC_RUN_ON_START", false),
		SyncMaxAge:      getEnvDuration("SYNC_MAX_AGE", time.Hour),

		RulesFile: getEnv("RULES_FILE", ""),

		GoogleSpreadsheetID: getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:     getEnv("GOOGLE_SHEET_NAME", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", applog.FormatText),

		CacheTTL:               getEnvDuration("CACHE_TTL", time.Minute),
		SyncRatePerMinute:      getEnvInt("SYNC_RATE_PER_MINUTE", 6),
		TrustedProxies:         getEnvList("TRUSTED_PROXIES", nil),
		RequireTrustedIdentity: getEnvBool("REQUIRE_TRUSTED_IDENTITY", false),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	// Validate data backend
	if !slices.Contains(validBackends, c.DataBackend) {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	// Validate SQLite configuration if backend is sqlite
	if c.DataBackend == "sqlite" {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0o755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	// Validate aggregator: either a fixture or Plaid credentials
	if c.AggregatorFixture != "" {
		if _, err := os.Stat(c.AggregatorFixture); err != nil {
			errors = append(errors, fmt.Sprintf("aggregator fixture not readable: %s", c.AggregatorFixture))
		}
	} else {
		if c.PlaidClientID == "" || c.PlaidSecret == "" {
			errors = append(errors, "PLAID_CLIENT_ID and PLAID_SECRET are required unless AGGREGATOR_FIXTURE is set")
		}
		if plaid.BaseURL(c.PlaidEnv) == "" {
			errors = append(errors, fmt.Sprintf("invalid Plaid environment '%s': must be sandbox or production", c.PlaidEnv))
		}
	}

	if c.RulesFile != "" {
		if _, err := os.Stat(c.RulesFile); err != nil {
			errors = append(errors, fmt.Sprintf("rules file not readable: %s", c.RulesFile))
		}
	}

	// Validate sync configuration
	if c.SyncWindowDays < 1 || c.SyncWindowDays > 730 {
		errors = append(errors, fmt.Sprintf("invalid sync window %d days: must be between 1 and 730", c.SyncWindowDays))
	}
	if _, err := cron.ParseStandard(c.SyncSchedule); err != nil {
		errors = append(errors, fmt.Sprintf("invalid sync schedule '%s': %v", c.SyncSchedule, err))
	}
	if c.SyncConcurrency < 1 || c.SyncConcurrency > 64 {
		errors = append(errors, fmt.Sprintf("invalid sync concurrency %d: must be between 1 and 64", c.SyncConcurrency))
	}
	if c.SyncTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid sync timeout %v: must be at least 1 second", c.SyncTimeout))
	}
	if c.SyncMaxAge < 0 {
		errors = append(errors, fmt.Sprintf("invalid sync max age %v: must not be negative", c.SyncMaxAge))
	}

	// Validate logging
	if _, err := applog.ParseLevel(c.LogLevel); err != nil {
		errors = append(errors, err.Error())
	}
	if _, err := applog.ParseFormat(c.LogFormat); err != nil {
		errors = append(errors, err.Error())
	}

	// Validate HTTP hardening
	if c.CacheTTL <= 0 {
		errors = append(errors, fmt.Sprintf("invalid cache TTL %v: must be positive", c.CacheTTL))
	}
	if c.SyncRatePerMinute < 1 {
		errors = append(errors, fmt.Sprintf("invalid sync rate %d: must be at least 1 per minute", c.SyncRatePerMinute))
	}
	for _, cidr := range c.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			errors = append(errors, fmt.Sprintf("invalid trusted proxy CIDR '%s'", cidr))
		}
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// Addr is the listen address for Port.
func (c *Config) Addr() string {
	return ":" + c.Port
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated value, dropping blanks.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
