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
	Port          string
	FrontendURL   string
	DBPath        string
	OpenAIKey     string
	OpenAIBaseURL string
	Models        []string
	DefaultModel  string
	MaxTurns      int
	SessionTTL    time.Duration
	Auth          AuthConfig
}

// AuthConfig controls OIDC login and the email allow-list.
type AuthConfig struct {
	BaseURL          string
	ClientID         string
	ClientSecret     string
	RedirectURI      string
	AllowedEmails    []string
	EnforceMailCheck bool
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	maxTurns := getEnvInt("MAX_TURNS", 20)
	if maxTurns <= 0 {
		maxTurns = 20
	}

	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		FrontendURL:   getEnv("FRONTEND_URL", ""),
		DBPath:        getEnv("DB_PATH", "./data/doubleagent.db"),
		OpenAIKey:     getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),
		Models:        getEnvList("MODELS", []string{"gpt-4o", "gpt-4o-mini", "gpt-4.1", "gpt-5"}),
		DefaultModel:  getEnv("DEFAULT_MODEL", "gpt-4o-mini"),
		MaxTurns:      maxTurns,
		SessionTTL:    getEnvDuration("SESSION_TTL", 12*time.Hour),
		Auth: AuthConfig{
			BaseURL:          getEnv("OIDC_BASE_URL", ""),
			ClientID:         getEnv("OIDC_CLIENT_ID", ""),
			ClientSecret:     getEnv("OIDC_CLIENT_SECRET", ""),
			RedirectURI:      getEnv("OIDC_REDIRECT_URI", ""),
			AllowedEmails:    getEnvList("ALLOWED_EMAILS", nil),
			EnforceMailCheck: getEnvBool("ENFORCE_EMAIL_CHECK", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if len(c.Models) == 0 {
		return fmt.Errorf("MODELS cannot be empty")
	}
	if !c.ModelAllowed(c.DefaultModel) {
		return fmt.Errorf("DEFAULT_MODEL %q is not in MODELS", c.DefaultModel)
	}
	if c.MaxTurns < 1 {
		return fmt.Errorf("MAX_TURNS must be >= 1")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	return nil
}

// ModelAllowed reports whether model is in the configured allow-list.
func (c *Config) ModelAllowed(model string) bool {
	for _, m := range c.Models {
		if m == model {
			return true
		}
	}
	return false
}

// EmailAllowed reports whether email passes the allow-list. Matching is
// case-insensitive. With enforcement on and an empty list, everyone is
// denied.
func (c *Config) EmailAllowed(email string) bool {
	if !c.Auth.EnforceMailCheck {
		return true
	}
	email = strings.ToLower(strings.TrimSpace(email))
	for _, allowed := range c.Auth.AllowedEmails {
		if strings.ToLower(strings.TrimSpace(allowed)) == email {
			return true
		}
	}
	return false
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
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

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
