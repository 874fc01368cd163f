// Package config reads the bot's settings from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/cpunion/quote-bot/pkg/types"
)

// Environment variable names.
const (
	EnvBlueskyHandle      = "BLUESKY_HANDLE"
	EnvBlueskyAppPassword = "BLUESKY_APP_PASSWORD"
	EnvBlueskyHost        = "BLUESKY_PDS_HOST"
	EnvGeminiAPIKey       = "GEMINI_API_KEY"
	EnvGeminiModel        = "GEMINI_MODEL"

	EnvTwitterBearerToken  = "TWITTER_BEARER_TOKEN"
	EnvTwitterAPIKey       = "TWITTER_API_KEY"
	EnvTwitterAPISecret    = "TWITTER_API_SECRET"
	EnvTwitterAccessToken  = "TWITTER_ACCESS_TOKEN"
	EnvTwitterAccessSecret = "TWITTER_ACCESS_SECRET"
	EnvTwitterAPIURL       = "TWITTER_API_URL"
)

// Defaults.
const (
	DefaultGeminiModel    = "gemini-flash-latest"
	DefaultBlueskyHost    = "https://bsky.social"
	DefaultTwitterAPIURL  = "https://api.twitter.com"
	DefaultInterval       = time.Hour
	DefaultCachePath      = "recent_posts.json"
	DefaultCacheSize      = 100
	DefaultMaxAttempts    = 10
	DefaultRequestTimeout = 30 * time.Second
	DefaultHTTPRetries    = 2
	DefaultLogFile        = "larry_david_bot.log"
)

// RequiredVars lists the variables the bot cannot start without.
var RequiredVars = []string{EnvBlueskyHandle, EnvBlueskyAppPassword, EnvGeminiAPIKey}

// TwitterVars lists the optional Twitter credential set.
var TwitterVars = []string{
	EnvTwitterBearerToken,
	EnvTwitterAPIKey,
	EnvTwitterAPISecret,
	EnvTwitterAccessToken,
	EnvTwitterAccessSecret,
}

// BlueskyConfig holds Bluesky credentials.
type BlueskyConfig struct {
	Handle      string
	AppPassword string
	Host        string
}

// GeminiConfig holds generative API settings.
type GeminiConfig struct {
	APIKey string
	Model  string
}

// TwitterConfig holds the optional Twitter/X credential set.
type TwitterConfig struct {
	BearerToken  string
	APIKey       string
	APISecret    string
	AccessToken  string
	AccessSecret string
	APIURL       string
}

// TwitterStatus describes how much of the Twitter credential set is present.
type TwitterStatus string

const (
	TwitterNotConfigured TwitterStatus = "not configured"
	TwitterPartial       TwitterStatus = "partially configured"
	TwitterConfigured    TwitterStatus = "fully configured"
)

// Config is the complete bot configuration.
type Config struct {
	Bluesky BlueskyConfig
	Gemini  GeminiConfig
	Twitter TwitterConfig

	Interval    time.Duration
	PostOnStart bool

	CachePath string
	CacheSize int

	MaxAttempts   int
	MaxPostLength int
	PersonaFile   string

	RequestTimeout time.Duration
	HTTPRetries    int

	LogLevel  string
	LogFormat string
	LogFile   string

	EventLog string
	OpsAddr  string
}

// MissingError reports required settings that are not set.
type MissingError struct {
	Vars []string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("missing required environment variables: %s", strings.Join(e.Vars, ", "))
}

// FromEnv reads the configuration without validating it.
func FromEnv() *Config {
	return &Config{
		Bluesky: BlueskyConfig{
			Handle:      GetEnv(EnvBlueskyHandle, ""),
			AppPassword: GetEnv(EnvBlueskyAppPassword, ""),
			Host:        GetEnv(EnvBlueskyHost, DefaultBlueskyHost),
		},
		Gemini: GeminiConfig{
			APIKey: GetEnv(EnvGeminiAPIKey, ""),
			Model:  GetEnv(EnvGeminiModel, DefaultGeminiModel),
		},
		Twitter: TwitterConfig{
			BearerToken:  GetEnv(EnvTwitterBearerToken, ""),
			APIKey:       GetEnv(EnvTwitterAPIKey, ""),
			APISecret:    GetEnv(EnvTwitterAPISecret, ""),
			AccessToken:  GetEnv(EnvTwitterAccessToken, ""),
			AccessSecret: GetEnv(EnvTwitterAccessSecret, ""),
			APIURL:       GetEnv(EnvTwitterAPIURL, DefaultTwitterAPIURL),
		},
		Interval:       GetEnvDuration("POST_INTERVAL", DefaultInterval),
		PostOnStart:    GetEnvBool("POST_ON_START", true),
		CachePath:      GetEnv("CACHE_PATH", DefaultCachePath),
		CacheSize:      GetEnvInt("CACHE_SIZE", DefaultCacheSize),
		MaxAttempts:    GetEnvInt("MAX_ATTEMPTS", DefaultMaxAttempts),
		MaxPostLength:  GetEnvInt("MAX_POST_LENGTH", types.MaxPostLength),
		PersonaFile:    GetEnv("PERSONA_FILE", ""),
		RequestTimeout: GetEnvDuration("REQUEST_TIMEOUT", DefaultRequestTimeout),
		HTTPRetries:    GetEnvInt("HTTP_RETRIES", DefaultHTTPRetries),
		LogLevel:       GetEnv("LOG_LEVEL", "info"),
		LogFormat:      GetEnv("LOG_FORMAT", "text"),
		LogFile:        GetEnv("LOG_FILE", DefaultLogFile),
		EventLog:       GetEnv("EVENT_LOG", ""),
		OpsAddr:        GetEnv("OPS_ADDR", ""),
	}
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Missing returns the required variables that are empty.
func (c *Config) Missing() []string {
	values := map[string]string{
		EnvBlueskyHandle:      c.Bluesky.Handle,
		EnvBlueskyAppPassword: c.Bluesky.AppPassword,
		EnvGeminiAPIKey:       c.Gemini.APIKey,
	}
	var missing []string
	for _, name := range RequiredVars {
		if values[name] == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

// Validate checks required settings and normalizes out-of-range values.
func (c *Config) Validate() error {
	if missing := c.Missing(); len(missing) > 0 {
		return &MissingError{Vars: missing}
	}
	if c.Interval <= 0 {
		return fmt.Errorf("POST_INTERVAL must be positive, got %s", c.Interval)
	}
	c.Normalize()
	return nil
}

// Normalize replaces out-of-range numeric settings with their defaults.
func (c *Config) Normalize() {
	if c.CacheSize <= 0 {
		c.CacheSize = DefaultCacheSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.MaxPostLength <= 0 || c.MaxPostLength > types.MaxPostLength {
		c.MaxPostLength = types.MaxPostLength
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.HTTPRetries < 0 {
		c.HTTPRetries = 0
	}
}

// Status reports how much of the Twitter credential set is present.
func (t TwitterConfig) Status() TwitterStatus {
	if len(t.MissingVars()) == 0 {
		return TwitterConfigured
	}
	if t.BearerToken == "" && t.APIKey == "" && t.APISecret == "" &&
		t.AccessToken == "" && t.AccessSecret == "" {
		return TwitterNotConfigured
	}
	return TwitterPartial
}

// MissingVars lists the Twitter variables that are empty.
func (t TwitterConfig) MissingVars() []string {
	values := []string{t.BearerToken, t.APIKey, t.APISecret, t.AccessToken, t.AccessSecret}
	var missing []string
	for i, v := range values {
		if v == "" {
			missing = append(missing, TwitterVars[i])
		}
	}
	return missing
}

// CanPost reports whether the OAuth 1.0a user-context credentials needed to
// create tweets are all set. The bearer token is not required for posting.
func (t TwitterConfig) CanPost() bool {
	return t.APIKey != "" && t.APISecret != "" && t.AccessToken != "" && t.AccessSecret != ""
}
