package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"

	"github.com/couchcryptid/nasa-access-etl/internal/domain"
)

// Default remote archives on NASA GES DISC.
const (
	DefaultTRMMBaseURL  = "https://disc2.gesdisc.eosdis.nasa.gov/data/TRMM_RT/TRMM_3B42RT_Daily.7/"
	DefaultIMERGBaseURL = "https://gpm1.gesdisc.eosdis.nasa.gov/data/GPM_L3/GPM_3IMERGDF.05/"
	DefaultGLDASBaseURL = "https://hydro1.gesdisc.eosdis.nasa.gov/data/GLDAS/GLDAS_NOAH025_3H.2.1/"
)

// DefaultNotifyTimeout bounds each completion step (ledger write, notice).
const DefaultNotifyTimeout = 5 * time.Second

// Config holds all service settings, populated from environment variables.
type Config struct {
	TRMMBaseURL  string
	IMERGBaseURL string
	GLDASBaseURL string

	EarthdataUsername string
	EarthdataPassword string

	ScratchRoot string
	OutputRoot  string
	Sentinel    float64

	PrecipCutover time.Time
	PrecipEpoch   time.Time
	TempEpoch     time.Time

	HTTPTimeout            time.Duration
	FTPTimeout             time.Duration
	ListingRetryMaxElapsed time.Duration
	ListingCacheSize       int
	ListingCacheTTL        time.Duration
	NotifyTimeout          time.Duration

	LedgerPath string

	KafkaEnabled       bool
	KafkaBrokers       []string
	KafkaRequestTopic  string
	KafkaNotifyTopic   string
	KafkaGroupID       string
	BatchFlushInterval time.Duration

	SMTPHost        string
	SMTPPort        int
	SMTPUsername    string
	SMTPPassword    string
	SMTPFrom        string
	DownloadPageURL string

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}
	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}

	httpTimeout, err := parsePositiveDuration("HTTP_TIMEOUT", "60s")
	if err != nil {
		return nil, err
	}
	ftpTimeout, err := parsePositiveDuration("FTP_TIMEOUT", "30s")
	if err != nil {
		return nil, err
	}
	notifyTimeout, err := parsePositiveDuration("NOTIFY_TIMEOUT", DefaultNotifyTimeout.String())
	if err != nil {
		return nil, err
	}
	cacheTTL, err := parsePositiveDuration("LISTING_CACHE_TTL", "10m")
	if err != nil {
		return nil, err
	}
	retryElapsed, err := time.ParseDuration(sharedcfg.EnvOrDefault("LISTING_RETRY_MAX_ELAPSED", "30s"))
	if err != nil || retryElapsed < 0 {
		return nil, errors.New("invalid LISTING_RETRY_MAX_ELAPSED")
	}

	cutover, err := parseDate("PRECIP_CUTOVER_DATE", "2014-03-12")
	if err != nil {
		return nil, err
	}
	precipEpoch, err := parseDate("PRECIP_EPOCH_DATE", "2000-03-01")
	if err != nil {
		return nil, err
	}
	tempEpoch, err := parseDate("TEMP_EPOCH_DATE", "2000-01-01")
	if err != nil {
		return nil, err
	}

	sentinel, err := strconv.ParseFloat(sharedcfg.EnvOrDefault("SENTINEL_VALUE", "-99"), 64)
	if err != nil {
		return nil, errors.New("invalid SENTINEL_VALUE")
	}
	smtpPort, err := strconv.Atoi(sharedcfg.EnvOrDefault("SMTP_PORT", "587"))
	if err != nil || smtpPort <= 0 {
		return nil, errors.New("invalid SMTP_PORT")
	}

	cfg := &Config{
		TRMMBaseURL:  sharedcfg.EnvOrDefault("TRMM_BASE_URL", DefaultTRMMBaseURL),
		IMERGBaseURL: sharedcfg.EnvOrDefault("IMERG_BASE_URL", DefaultIMERGBaseURL),
		GLDASBaseURL: sharedcfg.EnvOrDefault("GLDAS_BASE_URL", DefaultGLDASBaseURL),

		EarthdataUsername: os.Getenv("EARTHDATA_USERNAME"),
		EarthdataPassword: os.Getenv("EARTHDATA_PASSWORD"),

		ScratchRoot: sharedcfg.EnvOrDefault("SCRATCH_ROOT", os.TempDir()),
		OutputRoot:  sharedcfg.EnvOrDefault("OUTPUT_ROOT", "./output"),
		Sentinel:    sentinel,

		PrecipCutover: cutover,
		PrecipEpoch:   precipEpoch,
		TempEpoch:     tempEpoch,

		HTTPTimeout:            httpTimeout,
		FTPTimeout:             ftpTimeout,
		ListingRetryMaxElapsed: retryElapsed,
		ListingCacheSize:       parseListingCacheSize(),
		ListingCacheTTL:        cacheTTL,
		NotifyTimeout:          notifyTimeout,

		LedgerPath: os.Getenv("LEDGER_PATH"),

		KafkaEnabled:       os.Getenv("KAFKA_ENABLED") == "true",
		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaRequestTopic:  sharedcfg.EnvOrDefault("KAFKA_REQUEST_TOPIC", "nasaaccess-requests"),
		KafkaNotifyTopic:   sharedcfg.EnvOrDefault("KAFKA_NOTIFY_TOPIC", "nasaaccess-completions"),
		KafkaGroupID:       sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "nasaaccess-worker"),
		BatchFlushInterval: flushInterval,

		SMTPHost:        os.Getenv("SMTP_HOST"),
		SMTPPort:        smtpPort,
		SMTPUsername:    os.Getenv("SMTP_USERNAME"),
		SMTPPassword:    os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:        os.Getenv("SMTP_FROM"),
		DownloadPageURL: sharedcfg.EnvOrDefault("DOWNLOAD_PAGE_URL", "http://tethys-servir.adpc.net/apps/nasaaccess2"),

		HTTPAddr:        os.Getenv("HTTP_ADDR"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
	}
	if _, ok := os.LookupEnv("HTTP_ADDR"); !ok {
		cfg.HTTPAddr = ":8080"
	}

	if cfg.KafkaEnabled {
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("KAFKA_BROKERS is required")
		}
		if cfg.KafkaRequestTopic == "" {
			return nil, errors.New("KAFKA_REQUEST_TOPIC is required")
		}
		if cfg.KafkaNotifyTopic == "" {
			return nil, errors.New("KAFKA_NOTIFY_TOPIC is required")
		}
	}
	if cfg.SMTPHost != "" && cfg.SMTPFrom == "" {
		return nil, errors.New("SMTP_HOST is set but SMTP_FROM is not")
	}
	if !cfg.PrecipEpoch.Before(cfg.PrecipCutover) {
		return nil, errors.New("PRECIP_EPOCH_DATE must be before PRECIP_CUTOVER_DATE")
	}
	for key, u := range map[string]string{
		"TRMM_BASE_URL":  cfg.TRMMBaseURL,
		"IMERG_BASE_URL": cfg.IMERGBaseURL,
		"GLDAS_BASE_URL": cfg.GLDASBaseURL,
	} {
		if !strings.HasPrefix(u, "https://") && !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "ftp://") {
			return nil, fmt.Errorf("%s must be an http(s):// or ftp:// URL", key)
		}
	}

	return cfg, nil
}

// NotifyByEmail reports whether completion e-mails can be sent.
func (c *Config) NotifyByEmail() bool { return c.SMTPHost != "" }

// Catalog builds the product catalog from the configured archives and dates.
func (c *Config) Catalog() domain.Catalog {
	return domain.Catalog{
		Historical:  domain.TRMMProduct(c.TRMMBaseURL),
		Current:     domain.IMERGProduct(c.IMERGBaseURL),
		Temperature: domain.GLDASProduct(c.GLDASBaseURL),
		Cutover:     c.PrecipCutover,
		PrecipEpoch: c.PrecipEpoch,
		TempEpoch:   c.TempEpoch,
	}
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseDate(key, def string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, sharedcfg.EnvOrDefault(key, def))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s: %w", key, err)
	}
	return t, nil
}

func parseListingCacheSize() int {
	if s := os.Getenv("LISTING_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 64
}
