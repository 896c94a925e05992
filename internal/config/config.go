package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds all application configuration.
type Config struct {
	// HTTP
	ListenAddr string `koanf:"listen_addr"`

	// Credentials & signing
	AuthSecret        string `koanf:"auth_secret"`
	PasswordHash      string `koanf:"password_hash"`
	PasswordPlaintext string `koanf:"password_plaintext"`

	// Deployment environment: "development" or "production".
	// Selects the Secure cookie attribute.
	Environment string `koanf:"environment"`

	// Access log
	LogDir            string `koanf:"log_dir"`
	LogRotateMaxLines int    `koanf:"log_rotate_max_lines"`

	// Rate limiting
	RateLimitWindow      time.Duration `koanf:"ratelimit_window"`
	RateLimitMaxAttempts int           `koanf:"ratelimit_max_attempts"`

	// Tokens
	TokenTTL time.Duration `koanf:"token_ttl"`

	// Anti-timing delay applied to every credential check outcome
	AuthDelayMin time.Duration `koanf:"auth_delay_min"`
	AuthDelayMax time.Duration `koanf:"auth_delay_max"`

	// Operational
	LogLevel        string        `koanf:"log_level"`
	LogFormat       string        `koanf:"log_format"`
	MetricsEnabled  bool          `koanf:"metrics_enabled"`
	MetricsAddr     string        `koanf:"metrics_addr"`
	HealthAddr      string        `koanf:"health_addr"`
	JanitorInterval time.Duration `koanf:"janitor_interval"`
}

// Production reports whether the deployment should use hardened cookie
// attributes.
func (c *Config) Production() bool {
	return c.Environment == "production"
}

// sanitise removes a single layer of matching surrounding quotes from all
// string fields. This normalises values from Docker --env-file which does
// not strip shell quoting.
func (c *Config) sanitise() {
	c.ListenAddr = stripEnvQuotes(c.ListenAddr)
	c.AuthSecret = stripEnvQuotes(c.AuthSecret)
	c.PasswordHash = stripEnvQuotes(c.PasswordHash)
	c.PasswordPlaintext = stripEnvQuotes(c.PasswordPlaintext)
	c.Environment = stripEnvQuotes(c.Environment)
	c.LogDir = stripEnvQuotes(c.LogDir)
	c.LogLevel = stripEnvQuotes(c.LogLevel)
	c.LogFormat = stripEnvQuotes(c.LogFormat)
	c.MetricsAddr = stripEnvQuotes(c.MetricsAddr)
	c.HealthAddr = stripEnvQuotes(c.HealthAddr)
}

// defaults sets sensible default values.
func defaults() map[string]interface{} {
	return map[string]interface{}{
		"listen_addr":            ":8080",
		"environment":            "development",
		"log_dir":                "./logs",
		"log_rotate_max_lines":   10000,
		"ratelimit_window":       "15m",
		"ratelimit_max_attempts": 5,
		"token_ttl":              "1h",
		"auth_delay_min":         "100ms",
		"auth_delay_max":         "300ms",
		"log_level":              "info",
		"log_format":             "json",
		"metrics_enabled":        true,
		"metrics_addr":           ":9090",
		"health_addr":            ":8081",
		"janitor_interval":       "5m",
	}
}

// stripEnvQuotes removes a single layer of matching surrounding single or
// double quotes from s. Only symmetric pairs are stripped: 'x' → x, "x" → x.
// Unpaired or mismatched quotes are left as-is.
func stripEnvQuotes(s string) string {
	if len(s) < 2 {
		return s
	}
	if (s[0] == '\'' && s[len(s)-1] == '\'') ||
		(s[0] == '"' && s[len(s)-1] == '"') {
		return s[1 : len(s)-1]
	}
	return s
}

// Load reads configuration from environment variables, applying _FILE secret injection.
func Load() (*Config, error) {
	// Use "." as delimiter so that env vars with "_" in their names are
	// treated as flat keys, not nested paths. E.g. AUTH_SECRET → "auth_secret"
	// maps to struct tag koanf:"auth_secret" without any nesting.
	k := koanf.New(".")

	// Apply defaults first
	defs := defaults()
	if err := k.Load(&rawProvider{data: defs}, nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	// Load from environment — our env var names don't contain ".", so they
	// stay flat under the "." delimiter.
	if err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(s)
	}), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	// Inject _FILE secrets
	if err := injectFileSecrets(k); err != nil {
		return nil, fmt.Errorf("inject file secrets: %w", err)
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Strip Docker env-file quoting from all string values
	cfg.sanitise()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks semantic constraints. Credential material (AUTH_SECRET,
// PASSWORD_HASH, PASSWORD_PLAINTEXT) is deliberately not required here: the
// gateway answers login requests with a 500 and a server_misconfiguration
// audit entry when it is missing, so a misconfigured deploy still serves the
// login prompt and logout.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("LISTEN_ADDR must not be empty")
	}

	if c.Environment != "development" && c.Environment != "production" {
		return fmt.Errorf("ENVIRONMENT must be development or production; got %q", c.Environment)
	}

	if c.LogDir == "" {
		return fmt.Errorf("LOG_DIR must not be empty")
	}

	if c.LogRotateMaxLines < 1 {
		return fmt.Errorf("LOG_ROTATE_MAX_LINES must be >= 1; got %d", c.LogRotateMaxLines)
	}

	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATELIMIT_WINDOW must be > 0; got %s", c.RateLimitWindow)
	}

	if c.RateLimitMaxAttempts < 1 {
		return fmt.Errorf("RATELIMIT_MAX_ATTEMPTS must be >= 1; got %d", c.RateLimitMaxAttempts)
	}

	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be > 0; got %s", c.TokenTTL)
	}

	if c.AuthDelayMin < 0 {
		return fmt.Errorf("AUTH_DELAY_MIN must be >= 0; got %s", c.AuthDelayMin)
	}
	if c.AuthDelayMax < c.AuthDelayMin {
		return fmt.Errorf("AUTH_DELAY_MAX must be >= AUTH_DELAY_MIN; got %s < %s",
			c.AuthDelayMax, c.AuthDelayMin)
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of trace,debug,info,warn,error,fatal,panic; got %q", c.LogLevel)
	}

	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("LOG_FORMAT must be json or text; got %q", c.LogFormat)
	}

	if c.JanitorInterval <= 0 {
		return fmt.Errorf("JANITOR_INTERVAL must be > 0; got %s", c.JanitorInterval)
	}

	return nil
}

// injectFileSecrets reads _FILE env vars and injects their file contents.
var fileSecretKeys = []string{
	"auth_secret",
	"password_hash",
	"password_plaintext",
}

func injectFileSecrets(k *koanf.Koanf) error {
	for _, key := range fileSecretKeys {
		fileKey := key + "_file"
		filePath := k.String(fileKey)
		if filePath == "" {
			// Also check uppercased env var with _FILE suffix
			envKey := strings.ToUpper(key) + "_FILE"
			filePath = os.Getenv(envKey)
		}
		if filePath == "" {
			continue
		}
		// Strip quotes from file path in case it was quoted in Docker --env-file
		filePath = stripEnvQuotes(filePath)
		content, err := os.ReadFile(filePath)
		if err != nil {
			return fmt.Errorf("reading secret file for %s (%s): %w", key, filePath, err)
		}
		val := strings.TrimSpace(string(content))
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("setting %s from file: %w", key, err)
		}
	}
	return nil
}

// rawProvider implements koanf.Provider for a map[string]interface{}.
type rawProvider struct {
	data map[string]interface{}
}

// Read returns the config map directly (no Parser needed).
func (r *rawProvider) Read() (map[string]interface{}, error) {
	return r.data, nil
}

// ReadBytes is not used by rawProvider; koanf calls Read() when no Parser is given.
func (r *rawProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("rawProvider does not support ReadBytes")
}
