// Package config loads the service configuration from the environment.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

func init() {
	// Auto-load .env file if present (don't override existing env vars)
	loadDotEnv(".env")
}

func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		if len(val) >= 2 && ((val[0] == '"' && val[len(val)-1] == '"') || (val[0] == '\'' && val[len(val)-1] == '\'')) {
			val = val[1 : len(val)-1]
		}
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

const (
	defaultPort        = "8080"
	defaultEnvironment = "development"

	defaultDueWeeks             = 8
	defaultResponseDeadlineDays = 21
	defaultCloserCutoffMonths   = 6
	defaultCloserBatchLimit     = 100

	defaultArchivalInterval    = 10 * time.Minute
	defaultPublicationInterval = 10 * time.Minute
	defaultExpiryInterval      = time.Hour
	defaultCloserInterval      = 24 * time.Hour
	defaultJobRunTimeout       = 5 * time.Minute
)

type AssessmentConfig struct {
	DueWeeks             int
	ResponseDeadlineDays int
}

type JobsConfig struct {
	Enabled             bool
	ArchivalInterval    time.Duration
	PublicationInterval time.Duration
	ExpiryInterval      time.Duration
	CloserInterval      time.Duration
	RunTimeout          time.Duration
	CloserCutoffMonths  int
	CloserBatchLimit    int
}

type ExternalConfig struct {
	RendererBaseURL string
	IdentityBaseURL string
	ArchiveBaseURL  string
	BusGatewayURL   string
	BusSecret       string
	ElectorURL      string
	// ArchiveRetryDisabled enables the poison-item escape hatch: a notice
	// whose submission keeps failing gets the sentinel archive id instead
	// of starving the queue. Non-production environments only.
	ArchiveRetryDisabled bool
}

type Config struct {
	Port          string
	DatabaseURL   string
	Environment   string
	WebhookSecret string
	Assessment    AssessmentConfig
	Jobs          JobsConfig
	External      ExternalConfig
}

func Load() (Config, error) {
	cfg := Config{
		Port:          firstNonEmpty(strings.TrimSpace(os.Getenv("PORT")), defaultPort),
		DatabaseURL:   strings.TrimSpace(os.Getenv("DATABASE_URL")),
		Environment:   resolveEnvironment(),
		WebhookSecret: strings.TrimSpace(os.Getenv("WEBHOOK_SECRET")),
		External: ExternalConfig{
			RendererBaseURL: strings.TrimSpace(os.Getenv("RENDERER_BASE_URL")),
			IdentityBaseURL: strings.TrimSpace(os.Getenv("IDENTITY_BASE_URL")),
			ArchiveBaseURL:  strings.TrimSpace(os.Getenv("ARCHIVE_BASE_URL")),
			BusGatewayURL:   strings.TrimSpace(os.Getenv("BUS_GATEWAY_URL")),
			BusSecret:       strings.TrimSpace(os.Getenv("BUS_SECRET")),
			ElectorURL:      strings.TrimSpace(os.Getenv("ELECTOR_URL")),
		},
	}

	var err error
	if cfg.Assessment.DueWeeks, err = parseInt("ASSESSMENT_DUE_WEEKS", defaultDueWeeks); err != nil {
		return Config{}, err
	}
	if cfg.Assessment.ResponseDeadlineDays, err = parseInt("RESPONSE_DEADLINE_DAYS", defaultResponseDeadlineDays); err != nil {
		return Config{}, err
	}

	if cfg.Jobs.Enabled, err = parseBool("JOBS_ENABLED", true); err != nil {
		return Config{}, err
	}
	if cfg.Jobs.ArchivalInterval, err = parseDuration("ARCHIVAL_INTERVAL", defaultArchivalInterval); err != nil {
		return Config{}, err
	}
	if cfg.Jobs.PublicationInterval, err = parseDuration("PUBLICATION_INTERVAL", defaultPublicationInterval); err != nil {
		return Config{}, err
	}
	if cfg.Jobs.ExpiryInterval, err = parseDuration("EXPIRY_INTERVAL", defaultExpiryInterval); err != nil {
		return Config{}, err
	}
	if cfg.Jobs.CloserInterval, err = parseDuration("CLOSER_INTERVAL", defaultCloserInterval); err != nil {
		return Config{}, err
	}
	if cfg.Jobs.RunTimeout, err = parseDuration("JOB_RUN_TIMEOUT", defaultJobRunTimeout); err != nil {
		return Config{}, err
	}
	if cfg.Jobs.CloserCutoffMonths, err = parseInt("CLOSER_CUTOFF_MONTHS", defaultCloserCutoffMonths); err != nil {
		return Config{}, err
	}
	if cfg.Jobs.CloserBatchLimit, err = parseInt("CLOSER_BATCH_LIMIT", defaultCloserBatchLimit); err != nil {
		return Config{}, err
	}

	if cfg.External.ArchiveRetryDisabled, err = parseBool("ARCHIVE_RETRY_DISABLED", false); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL must not be empty")
	}
	if c.Assessment.DueWeeks <= 0 {
		return fmt.Errorf("ASSESSMENT_DUE_WEEKS must be greater than zero")
	}
	if c.Assessment.ResponseDeadlineDays <= 0 {
		return fmt.Errorf("RESPONSE_DEADLINE_DAYS must be greater than zero")
	}
	if c.Jobs.CloserCutoffMonths <= 0 {
		return fmt.Errorf("CLOSER_CUTOFF_MONTHS must be greater than zero")
	}
	if c.Jobs.CloserBatchLimit <= 0 {
		return fmt.Errorf("CLOSER_BATCH_LIMIT must be greater than zero")
	}
	// The identity-change feed needs the registry even when jobs are off.
	if c.External.IdentityBaseURL == "" {
		return fmt.Errorf("IDENTITY_BASE_URL must not be empty")
	}

	if !c.Jobs.Enabled {
		return nil
	}

	if c.External.RendererBaseURL == "" {
		return fmt.Errorf("RENDERER_BASE_URL is required when jobs are enabled")
	}
	if c.External.ArchiveBaseURL == "" {
		return fmt.Errorf("ARCHIVE_BASE_URL is required when jobs are enabled")
	}
	if c.External.BusGatewayURL == "" {
		return fmt.Errorf("BUS_GATEWAY_URL is required when jobs are enabled")
	}

	if !isNonDevelopment(c.Environment) {
		return nil
	}

	if c.External.ElectorURL == "" {
		return fmt.Errorf("ELECTOR_URL is required in non-development environments")
	}
	if c.External.BusSecret == "" {
		return fmt.Errorf("BUS_SECRET is required in non-development environments")
	}
	if c.WebhookSecret == "" {
		return fmt.Errorf("WEBHOOK_SECRET is required in non-development environments")
	}
	if c.External.ArchiveRetryDisabled {
		return fmt.Errorf("ARCHIVE_RETRY_DISABLED must not be set in non-development environments")
	}

	return nil
}

func resolveEnvironment() string {
	return strings.ToLower(firstNonEmpty(
		strings.TrimSpace(os.Getenv("APP_ENV")),
		strings.TrimSpace(os.Getenv("ENVIRONMENT")),
		defaultEnvironment,
	))
}

func isNonDevelopment(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "", "dev", "development", "local", "test":
		return false
	default:
		return true
	}
}

func parseBool(name string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return defaultValue, nil
	}

	switch strings.ToLower(raw) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s must be a boolean value", name)
	}
}

func parseDuration(name string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return defaultValue, nil
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid duration: %w", name, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be greater than zero", name)
	}
	return parsed, nil
}

func parseInt(name string, defaultValue int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return defaultValue, nil
	}

	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid integer: %w", name, err)
	}
	return parsed, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
