// Package config loads runtime settings from .env files and PVEVIEW_*
// environment variables, and view presets from YAML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rcourtman/pveview/pkg/pve"
	"github.com/rs/zerolog/log"
)

const envPrefix = "PVEVIEW_"

// Config is the service configuration.
type Config struct {
	DataDir string

	// Cluster connection
	Host        string
	User        string
	Password    string
	TokenID     string
	TokenSecret string
	Fingerprint string
	VerifySSL   bool

	PollInterval        time.Duration
	TicketRenewInterval time.Duration
	ConnectionTimeout   time.Duration

	// Serving
	ListenAddr     string
	AllowedOrigins []string
	ViewFile       string

	LogLevel  string
	LogFormat string
}

// Load reads .env overrides from the data directory and the working
// directory, then the environment. Existing environment variables win over
// .env values.
func Load() (*Config, error) {
	dataDir := "/etc/pveview"
	if dir := os.Getenv(envPrefix + "DATA_DIR"); dir != "" {
		dataDir = dir
	}

	envFile := filepath.Join(dataDir, ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			log.Warn().Err(err).Str("file", envFile).Msg("Failed to load .env file")
		} else {
			log.Info().Str("file", envFile).Msg("Loaded .env file")
		}
	}
	if err := godotenv.Load(); err == nil {
		log.Info().Msg("Loaded configuration from .env in current directory")
	}

	cfg := &Config{
		DataDir:             dataDir,
		PollInterval:        3 * time.Second,
		TicketRenewInterval: 15 * time.Minute,
		ConnectionTimeout:   30 * time.Second,
		ListenAddr:          ":7660",
		LogLevel:            "info",
		LogFormat:           "auto",
	}

	cfg.Host = envString("HOST", cfg.Host)
	cfg.User = envString("USER", cfg.User)
	cfg.Password = envString("PASSWORD", cfg.Password)
	cfg.TokenID = envString("TOKEN_ID", cfg.TokenID)
	cfg.TokenSecret = envString("TOKEN_SECRET", cfg.TokenSecret)
	cfg.Fingerprint = envString("FINGERPRINT", cfg.Fingerprint)
	cfg.ListenAddr = envString("LISTEN_ADDR", cfg.ListenAddr)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = envString("LOG_FORMAT", cfg.LogFormat)
	cfg.ViewFile = envString("VIEW_FILE", cfg.ViewFile)

	var err error
	if cfg.VerifySSL, err = envBool("VERIFY_SSL", cfg.VerifySSL); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = envDuration("POLL_INTERVAL", cfg.PollInterval); err != nil {
		return nil, err
	}
	if cfg.TicketRenewInterval, err = envDuration("TICKET_RENEW_INTERVAL", cfg.TicketRenewInterval); err != nil {
		return nil, err
	}
	if cfg.ConnectionTimeout, err = envDuration("CONNECTION_TIMEOUT", cfg.ConnectionTimeout); err != nil {
		return nil, err
	}

	if origins := envString("ALLOWED_ORIGINS", ""); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}

	return cfg, nil
}

// Validate checks that the configuration can start the service.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return fmt.Errorf("%sHOST is required", envPrefix)
	}
	if (c.TokenID == "") != (c.TokenSecret == "") {
		return fmt.Errorf("%sTOKEN_ID and %sTOKEN_SECRET must be set together", envPrefix, envPrefix)
	}
	if c.TokenID == "" && (c.User == "" || c.Password == "") {
		return fmt.Errorf("either user and password or token authentication is required")
	}
	if c.PollInterval < time.Second {
		return fmt.Errorf("poll interval must be at least 1 second")
	}
	if c.ConnectionTimeout < time.Second {
		return fmt.Errorf("connection timeout must be at least 1 second")
	}
	if c.TicketRenewInterval <= 0 || c.TicketRenewInterval >= pve.TicketLifetime {
		return fmt.Errorf("ticket renew interval must be between 0 and %s", pve.TicketLifetime)
	}
	return nil
}

// ClientConfig returns the API client settings.
func (c *Config) ClientConfig() pve.ClientConfig {
	return pve.ClientConfig{
		Host:        c.Host,
		User:        c.User,
		Password:    c.Password,
		TokenID:     c.TokenID,
		TokenSecret: c.TokenSecret,
		Fingerprint: c.Fingerprint,
		VerifySSL:   c.VerifySSL,
		Timeout:     c.ConnectionTimeout,
	}
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		return strings.TrimSpace(v)
	}
	return def
}

func envBool(key string, def bool) (bool, error) {
	v := envString(key, "")
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("invalid %s%s %q: %w", envPrefix, key, v, err)
	}
	return b, nil
}

// envDuration accepts Go durations ("90s", "15m") or a bare number of
// seconds.
func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := envString(key, "")
	if v == "" {
		return def, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("invalid %s%s %q: %w", envPrefix, key, v, err)
	}
	return d, nil
}
