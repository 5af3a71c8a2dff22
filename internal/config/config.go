package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	envRefreshInterval     = "SW_REFRESH_INTERVAL"
	envProbeTimeout        = "SW_PROBE_TIMEOUT"
	envMaxConcurrency      = "SW_MAX_CONCURRENCY"
	envServicesFile        = "SW_SERVICES_FILE"
	envObservationsPath    = "SW_OBSERVATIONS_PATH"
	envHistoryLimit        = "SW_HISTORY_LIMIT"
	envFlapWindow          = "SW_FLAP_WINDOW"
	envFlapThreshold       = "SW_FLAP_THRESHOLD"
	envFlapTimestampsLimit = "SW_FLAP_TIMESTAMPS_LIMIT"
	envSlackWebhookURL     = "SW_SLACK_WEBHOOK_URL"
	envHTTPPort            = "SW_HTTP_PORT"
	envMetricsPort         = "SW_METRICS_PORT"
)

const (
	defaultRefreshInterval     = 30 * time.Second
	defaultProbeTimeout        = 4 * time.Second
	defaultMaxConcurrency      = 10
	defaultServicesFile        = "services.yaml"
	defaultObservationsPath    = "data/observations.json"
	defaultHistoryLimit        = 200
	defaultFlapWindow          = 10 * time.Minute
	defaultFlapThreshold       = 3
	defaultFlapTimestampsLimit = 20
	defaultHTTPPort            = 8080
)

// Config describes runtime configuration loaded from the environment.
type Config struct {
	RefreshInterval     time.Duration
	ProbeTimeout        time.Duration
	MaxConcurrency      int
	ServicesFile        string
	ObservationsPath    string
	HistoryLimit        int
	FlapWindow          time.Duration
	FlapThreshold       int
	FlapTimestampsLimit int
	SlackWebhookURL     string
	HTTPPort            int
	MetricsPort         int
}

// Load reads configuration from environment variables and a local .env file if present.
// Existing environment variables take precedence over values in .env.
func Load() (Config, error) {
	if err := loadDotEnvIfPresent(".env"); err != nil {
		return Config{}, err
	}

	cfg := Config{
		RefreshInterval:     defaultRefreshInterval,
		ProbeTimeout:        defaultProbeTimeout,
		MaxConcurrency:      defaultMaxConcurrency,
		ServicesFile:        defaultServicesFile,
		ObservationsPath:    defaultObservationsPath,
		HistoryLimit:        defaultHistoryLimit,
		FlapWindow:          defaultFlapWindow,
		FlapThreshold:       defaultFlapThreshold,
		FlapTimestampsLimit: defaultFlapTimestampsLimit,
		HTTPPort:            defaultHTTPPort,
	}

	if err := readDuration(envRefreshInterval, &cfg.RefreshInterval); err != nil {
		return Config{}, err
	}
	if err := readDuration(envProbeTimeout, &cfg.ProbeTimeout); err != nil {
		return Config{}, err
	}
	if err := readDuration(envFlapWindow, &cfg.FlapWindow); err != nil {
		return Config{}, err
	}
	if err := readPositiveInt(envMaxConcurrency, &cfg.MaxConcurrency); err != nil {
		return Config{}, err
	}
	if err := readPositiveInt(envHistoryLimit, &cfg.HistoryLimit); err != nil {
		return Config{}, err
	}
	if err := readPositiveInt(envFlapThreshold, &cfg.FlapThreshold); err != nil {
		return Config{}, err
	}
	if err := readPositiveInt(envFlapTimestampsLimit, &cfg.FlapTimestampsLimit); err != nil {
		return Config{}, err
	}
	if err := readPort(envHTTPPort, &cfg.HTTPPort); err != nil {
		return Config{}, err
	}
	if err := readPort(envMetricsPort, &cfg.MetricsPort); err != nil {
		return Config{}, err
	}

	if value, ok := lookupTrimmed(envServicesFile); ok {
		cfg.ServicesFile = value
	}
	if value, ok := lookupTrimmed(envObservationsPath); ok {
		cfg.ObservationsPath = value
	}
	if value, ok := lookupTrimmed(envSlackWebhookURL); ok {
		cfg.SlackWebhookURL = value
	}

	if cfg.ServicesFile == "" {
		return Config{}, errors.New("SW_SERVICES_FILE must not be empty")
	}
	if cfg.ObservationsPath == "" {
		return Config{}, errors.New("SW_OBSERVATIONS_PATH must not be empty")
	}
	if cfg.SlackWebhookURL != "" {
		if err := validateURL(cfg.SlackWebhookURL, envSlackWebhookURL); err != nil {
			return Config{}, err
		}
	}

	return cfg, nil
}

func readDuration(key string, target *time.Duration) error {
	value, ok := lookupTrimmed(key)
	if !ok {
		return nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	if parsed <= 0 {
		return fmt.Errorf("%s must be greater than zero", key)
	}
	*target = parsed
	return nil
}

func readPositiveInt(key string, target *int) error {
	value, ok := lookupTrimmed(key)
	if !ok {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	if parsed <= 0 {
		return fmt.Errorf("%s must be greater than zero", key)
	}
	*target = parsed
	return nil
}

func readPort(key string, target *int) error {
	value, ok := lookupTrimmed(key)
	if !ok {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	if parsed < 0 || parsed > 65535 {
		return fmt.Errorf("%s must be a valid port", key)
	}
	*target = parsed
	return nil
}

func lookupTrimmed(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(value), true
}

func loadDotEnvIfPresent(path string) error {
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) && errors.Is(pathErr.Err, os.ErrNotExist) {
		return nil
	}

	return err
}

func validateURL(value, name string) error {
	parsed, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid %s: must include scheme and host", name)
	}
	return nil
}
