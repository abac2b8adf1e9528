// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port      string
	DBPath    string
	LogLevel  string
	LogFormat string

	Intake     IntakeConfig
	Inbound    InboundConfig
	Transcript TranscriptConfig
	Timeout    TimeoutConfig

	BridgeToken    string
	OperatorToken  string
	GRPCHealthAddr string
	// SessionSweepInterval enables the idle session sweeper when > 0.
	SessionSweepInterval time.Duration
}

// IntakeConfig holds the dialogue policies.
type IntakeConfig struct {
	IdleThreshold       time.Duration
	PersistencePolicy   string
	ConfirmationMode    string
	RestartPolicy       string
	DocumentDigitPolicy string
	DocumentMinDigits   int
	DocumentMaxDigits   int
	BotName             string
	OrganizationName    string
	LabelUnion          string
	LabelHealthPlan     string
	LabelMutual         string
	LabelNone           string
}

// InboundConfig controls ingress throttling and the per-user inbox.
type InboundConfig struct {
	RatePerSec   float64
	Burst        int
	InboxWorkers int
	QueueSize    int
}

// TranscriptConfig controls NDJSON transcript logging.
type TranscriptConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// TimeoutConfig holds timeouts for server operations.
type TimeoutConfig struct {
	Shutdown    time.Duration
	HealthCheck time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:      getEnv("PORT", "8080"),
		DBPath:    getEnv("DB_PATH", "./data/intake.db"),
		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "json")),
		Intake: IntakeConfig{
			IdleThreshold:       getEnvDuration("IDLE_THRESHOLD", 2*time.Minute),
			PersistencePolicy:   getEnv("PERSISTENCE_POLICY", "incremental"),
			ConfirmationMode:    getEnv("CONFIRMATION_MODE", "reason"),
			RestartPolicy:       getEnv("RESTART_POLICY", "retain"),
			DocumentDigitPolicy: getEnv("DOCUMENT_DIGIT_POLICY", "reject"),
			DocumentMinDigits:   getEnvInt("DOCUMENT_MIN_DIGITS", 7),
			DocumentMaxDigits:   getEnvInt("DOCUMENT_MAX_DIGITS", 8),
			BotName:             getEnv("BOT_NAME", "Rocky"),
			OrganizationName:    getEnv("ORGANIZATION_NAME", "the organization"),
			LabelUnion:          getEnv("AFFILIATION_LABEL_UNION", "Union"),
			LabelHealthPlan:     getEnv("AFFILIATION_LABEL_HEALTH_PLAN", "Health Plan"),
			LabelMutual:         getEnv("AFFILIATION_LABEL_MUTUAL", "Mutual"),
			LabelNone:           getEnv("AFFILIATION_LABEL_NONE", "None"),
		},
		Inbound: InboundConfig{
			RatePerSec:   getEnvFloat("INBOUND_RATE_PER_SEC", 2),
			Burst:        getEnvInt("INBOUND_BURST", 5),
			InboxWorkers: getEnvInt("INBOX_WORKERS", 8),
			QueueSize:    getEnvInt("INBOX_QUEUE_SIZE", 16),
		},
		Transcript: TranscriptConfig{
			Enabled:       getEnvBool("TRANSCRIPT_LOG_ENABLED", false),
			Dir:           getEnv("TRANSCRIPT_LOG_DIR", "./data/logs/transcripts"),
			GlobalEnabled: getEnvBool("TRANSCRIPT_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("TRANSCRIPT_LOG_GLOBAL_PATH", "./data/logs/transcripts/all.ndjson"),
			QueueSize:     getEnvInt("TRANSCRIPT_LOG_QUEUE_SIZE", 1000),
		},
		Timeout: TimeoutConfig{
			Shutdown:    getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
			HealthCheck: getEnvDuration("HEALTH_CHECK_TIMEOUT", 5*time.Second),
		},
		BridgeToken:          getEnv("BRIDGE_TOKEN", ""),
		OperatorToken:        getEnv("OPERATOR_TOKEN", ""),
		GRPCHealthAddr:       getEnv("GRPC_HEALTH_ADDR", ""),
		SessionSweepInterval: getEnvDuration("SESSION_SWEEP_INTERVAL", 0),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
// Dialogue policy values are checked by the intake package.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat)
	}
	if c.Intake.IdleThreshold <= 0 {
		return fmt.Errorf("IDLE_THRESHOLD must be > 0")
	}
	if c.Inbound.RatePerSec <= 0 || c.Inbound.Burst <= 0 {
		return fmt.Errorf("INBOUND_RATE_PER_SEC and INBOUND_BURST must be > 0")
	}
	if c.Inbound.InboxWorkers <= 0 {
		return fmt.Errorf("INBOX_WORKERS must be > 0")
	}
	if c.Inbound.QueueSize <= 0 {
		return fmt.Errorf("INBOX_QUEUE_SIZE must be > 0")
	}
	if c.Transcript.Enabled {
		if c.Transcript.Dir == "" {
			return fmt.Errorf("TRANSCRIPT_LOG_DIR cannot be empty")
		}
		if c.Transcript.GlobalEnabled && c.Transcript.GlobalPath == "" {
			return fmt.Errorf("TRANSCRIPT_LOG_GLOBAL_PATH cannot be empty")
		}
		if c.Transcript.QueueSize <= 0 {
			return fmt.Errorf("TRANSCRIPT_LOG_QUEUE_SIZE must be > 0")
		}
	}
	if c.SessionSweepInterval < 0 {
		return fmt.Errorf("SESSION_SWEEP_INTERVAL must be >= 0")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvDuration accepts Go durations ("90s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
