package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all process configuration loaded from environment variables.
// Bot behaviour (credentials, command, toggles) lives in the remote store, not here.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFile     string `envconfig:"LOG_FILE" default:"logs/bot.log"`

	// Remote desired-state store
	StoreURL   string `envconfig:"STORE_URL"`
	StoreKey   string `envconfig:"STORE_KEY"`
	StoreTable string `envconfig:"STORE_TABLE" default:"bots"`
	BotID      string `envconfig:"BOT_ID" default:"bot-alpha-1"`

	// Loop timing
	TickInterval       time.Duration `envconfig:"TICK_INTERVAL" default:"5s"`
	ConfigPollInterval time.Duration `envconfig:"CONFIG_POLL_INTERVAL" default:"5s"`
	AIGateProbability  float64       `envconfig:"AI_GATE_PROBABILITY" default:"0.2"`

	// Target platform
	LoginURL     string `envconfig:"LOGIN_URL" default:"https://secure.imvu.com/welcome/login/"`
	LogoutURL    string `envconfig:"LOGOUT_URL" default:"https://www.imvu.com/catalog/logoff.php"`
	LocatorsFile string `envconfig:"LOCATORS_FILE"` // YAML overrides for UI locators

	// Browser
	ChromeHeadless bool          `envconfig:"CHROME_HEADLESS" default:"false"`
	ChromePath     string        `envconfig:"CHROME_PATH"`
	ChromeCDPURL   string        `envconfig:"CHROME_CDP_URL"` // attach to a running browser instead of launching one
	BrowserTimeout time.Duration `envconfig:"BROWSER_TIMEOUT" default:"60s"`

	// Completion providers
	OpenAIBaseURL string `envconfig:"OPENAI_BASE_URL" default:"https://api.openai.com/v1"`
	GeminiBaseURL string `envconfig:"GEMINI_BASE_URL" default:"https://generativelanguage.googleapis.com/v1beta"`
	AIMaxTokens   int    `envconfig:"AI_MAX_TOKENS" default:"60"`

	// Bulk runner
	BulkSettingsFile string `envconfig:"BULK_SETTINGS_FILE" default:"config.yml"`
	UserAPIURL       string `envconfig:"USER_API_URL" default:"https://api.imvu.com"`

	// Ops server (health, readiness, metrics). Empty disables it.
	OpsListenAddr string `envconfig:"OPS_LISTEN_ADDR" default:":8090"`
}

// StoreEnabled returns true if the remote store is configured.
func (c *Config) StoreEnabled() bool {
	return c.StoreURL != "" && c.StoreKey != ""
}

// OpsEnabled returns true if the ops HTTP server should be started.
func (c *Config) OpsEnabled() bool {
	return strings.TrimSpace(c.OpsListenAddr) != ""
}

// Validate checks the settings the session engine cannot run without.
func (c *Config) Validate() error {
	if !c.StoreEnabled() {
		return fmt.Errorf("STORE_URL and STORE_KEY are required")
	}
	if strings.TrimSpace(c.BotID) == "" {
		return fmt.Errorf("BOT_ID must not be empty")
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("TICK_INTERVAL must be positive, got %s", c.TickInterval)
	}
	if c.AIGateProbability < 0 || c.AIGateProbability > 1 {
		return fmt.Errorf("AI_GATE_PROBABILITY must be within [0,1], got %v", c.AIGateProbability)
	}
	return nil
}

// KeyInfo describes the claims of a store API key.
type KeyInfo struct {
	Role      string
	ExpiresAt time.Time
}

// Expired reports whether the key carries an expiry in the past.
func (k KeyInfo) Expired(now time.Time) bool {
	return !k.ExpiresAt.IsZero() && now.After(k.ExpiresAt)
}

// InspectStoreKey decodes the store key's JWT claims without verifying the
// signature. Keys that are not JWTs return an error.
func (c *Config) InspectStoreKey() (KeyInfo, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(c.StoreKey, claims); err != nil {
		return KeyInfo{}, fmt.Errorf("parsing store key: %w", err)
	}
	var info KeyInfo
	if role, ok := claims["role"].(string); ok {
		info.Role = role
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		info.ExpiresAt = exp.Time
	}
	return info, nil
}

// Load reads configuration from environment variables. A .env file in the
// working directory is loaded first when present; real env vars win.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}

// LoadWithPrefix reads configuration with a prefix.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config with prefix %s: %w", prefix, err)
	}
	return &cfg, nil
}
