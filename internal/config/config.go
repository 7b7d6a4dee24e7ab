// Package config provides YAML-based configuration loading for Switchboard.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config is the top-level Switchboard configuration, loaded from switchboard.yaml.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Carrier     CarrierConfig     `yaml:"carrier"`
	Stream      StreamConfig      `yaml:"stream"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`
	Compliance  ComplianceConfig  `yaml:"compliance"`
	Voice       VoiceConfig       `yaml:"voice"`
	Notify      NotifyConfig      `yaml:"notify"`
	Sweeper     SweeperConfig     `yaml:"sweeper"`
	Health      HealthConfig      `yaml:"health"`
	Log         LogConfig         `yaml:"log"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port int `yaml:"port"`
	// PublicBaseURL is the externally visible origin the carrier posts to. It is
	// used to rebuild signed URLs and to build action URLs in voice markup.
	PublicBaseURL     string `yaml:"public_base_url"`
	TrustProxyHeaders bool   `yaml:"trust_proxy_headers"`
}

// DatabaseConfig selects the shared store.
type DatabaseConfig struct {
	Driver      string `yaml:"driver"` // sqlite, mysql
	Path        string `yaml:"path"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	User        string `yaml:"user"`
	Password    string `yaml:"password"`
	PasswordEnv string `yaml:"password_env"`
	Name        string `yaml:"name"`
}

// CarrierConfig holds webhook authenticity settings.
type CarrierConfig struct {
	AuthTokens         []string `yaml:"auth_tokens"`
	AuthTokenEnv       string   `yaml:"auth_token_env"`
	ValidateSignatures *bool    `yaml:"validate_signatures"`
}

// StreamKey is one versioned HMAC secret for stream tokens.
type StreamKey struct {
	ID        string `yaml:"id"`
	Secret    string `yaml:"secret"`
	SecretEnv string `yaml:"secret_env"`
}

// StreamConfig configures stream token issuance and the media leg URL.
type StreamConfig struct {
	Keys      []StreamKey   `yaml:"keys"`
	ActiveKey string        `yaml:"active_key"`
	TTL       time.Duration `yaml:"ttl"`
	URL       string        `yaml:"url"`
}

// RedisConfig holds connection settings for the Redis rate-limit backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// EndpointLimit bounds one endpoint.
type EndpointLimit struct {
	Window time.Duration `yaml:"window"`
	Max    int           `yaml:"max"`
}

// RateLimitConfig configures the distributed limiter.
type RateLimitConfig struct {
	Backend   string                   `yaml:"backend"` // database, redis
	Redis     RedisConfig              `yaml:"redis"`
	Precision int                      `yaml:"precision"`
	Endpoints map[string]EndpointLimit `yaml:"endpoints"`
}

// IdempotencyConfig bounds idempotency record lifetimes.
type IdempotencyConfig struct {
	CompletedTTL      time.Duration `yaml:"completed_ttl"`
	FailedTTL         time.Duration `yaml:"failed_ttl"`
	ProcessingTimeout time.Duration `yaml:"processing_timeout"`
}

// QuietHoursConfig is the local-time window in which outbound contact is allowed.
type QuietHoursConfig struct {
	StartHour        int    `yaml:"start_hour"`
	EndHour          int    `yaml:"end_hour"`
	BusinessTimezone string `yaml:"business_timezone"`
	FallbackHour     int    `yaml:"fallback_hour"`
}

// ComplianceConfig holds policy knobs for the compliance middleware.
type ComplianceConfig struct {
	QuietHours         QuietHoursConfig `yaml:"quiet_hours"`
	SentimentThreshold *float64         `yaml:"sentiment_threshold"`
	EscalateCategories []string         `yaml:"escalate_categories"`
	RecordStreams      *bool            `yaml:"record_streams"`
	AbandonedAfter     time.Duration    `yaml:"abandoned_after"`
}

// VoiceConfig holds prompt and routing settings.
type VoiceConfig struct {
	BusinessName       string        `yaml:"business_name"`
	Voice              string        `yaml:"voice"`
	HandoffNumber      string        `yaml:"handoff_number"`
	VoicemailMaxLength time.Duration `yaml:"voicemail_max_length"`
}

// NotifyConfig holds handoff notification targets. Empty values disable a target.
type NotifyConfig struct {
	SlackWebhookURL     string `yaml:"slack_webhook_url"`
	DiscordWebhookID    string `yaml:"discord_webhook_id"`
	DiscordWebhookToken string `yaml:"discord_webhook_token"`
}

// SweeperConfig schedules garbage collection of expired coordination rows.
type SweeperConfig struct {
	Schedule         string        `yaml:"schedule"`
	CounterRetention time.Duration `yaml:"counter_retention"`
}

// HealthConfig tunes the health endpoint.
type HealthConfig struct {
	ActivityWindow time.Duration `yaml:"activity_window"`
	SlowDatabase   time.Duration `yaml:"slow_database"`
}

// LogConfig mirrors logger.Config.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.resolveEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// resolveEnv replaces *_env indirections with the referenced environment values.
func (c *Config) resolveEnv() {
	if c.Database.PasswordEnv != "" && c.Database.Password == "" {
		c.Database.Password = os.Getenv(c.Database.PasswordEnv)
	}
	if c.Carrier.AuthTokenEnv != "" {
		if v := os.Getenv(c.Carrier.AuthTokenEnv); v != "" {
			c.Carrier.AuthTokens = append([]string{v}, c.Carrier.AuthTokens...)
		}
	}
	for i := range c.Stream.Keys {
		k := &c.Stream.Keys[i]
		if k.SecretEnv != "" && k.Secret == "" {
			k.Secret = os.Getenv(k.SecretEnv)
		}
	}
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	c.Server.PublicBaseURL = strings.TrimRight(c.Server.PublicBaseURL, "/")

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "switchboard.db"
	}
	if c.Database.Driver == "mysql" {
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
		if c.Database.Name == "" {
			c.Database.Name = "switchboard"
		}
	}

	if c.Carrier.ValidateSignatures == nil {
		v := true
		c.Carrier.ValidateSignatures = &v
	}

	if c.Stream.ActiveKey == "" && len(c.Stream.Keys) > 0 {
		c.Stream.ActiveKey = c.Stream.Keys[0].ID
	}
	if c.Stream.TTL == 0 {
		c.Stream.TTL = 3 * time.Minute
	}
	if c.Stream.URL == "" && c.Server.PublicBaseURL != "" {
		c.Stream.URL = "wss://" + strings.TrimPrefix(strings.TrimPrefix(c.Server.PublicBaseURL, "https://"), "http://") + "/voice/stream"
	}

	if c.RateLimit.Backend == "" {
		c.RateLimit.Backend = "database"
	}
	if c.RateLimit.Precision == 0 {
		c.RateLimit.Precision = 6
	}
	if c.RateLimit.Endpoints == nil {
		c.RateLimit.Endpoints = map[string]EndpointLimit{}
	}
	for name, def := range DefaultEndpointLimits() {
		lim, ok := c.RateLimit.Endpoints[name]
		if !ok {
			c.RateLimit.Endpoints[name] = def
			continue
		}
		if lim.Window == 0 {
			lim.Window = def.Window
		}
		if lim.Max == 0 {
			lim.Max = def.Max
		}
		c.RateLimit.Endpoints[name] = lim
	}

	if c.Idempotency.CompletedTTL == 0 {
		c.Idempotency.CompletedTTL = 24 * time.Hour
	}
	if c.Idempotency.FailedTTL == 0 {
		c.Idempotency.FailedTTL = time.Hour
	}
	if c.Idempotency.ProcessingTimeout == 0 {
		c.Idempotency.ProcessingTimeout = 2 * time.Minute
	}

	qh := &c.Compliance.QuietHours
	if qh.StartHour == 0 && qh.EndHour == 0 {
		qh.StartHour, qh.EndHour = 8, 21
	}
	if qh.FallbackHour == 0 {
		qh.FallbackHour = 10
	}
	if qh.BusinessTimezone == "" {
		qh.BusinessTimezone = "America/New_York"
	}
	if c.Compliance.SentimentThreshold == nil {
		v := -0.4
		c.Compliance.SentimentThreshold = &v
	}
	if c.Compliance.EscalateCategories == nil {
		c.Compliance.EscalateCategories = []string{"urgent"}
	}
	if c.Compliance.RecordStreams == nil {
		v := true
		c.Compliance.RecordStreams = &v
	}
	if c.Compliance.AbandonedAfter == 0 {
		c.Compliance.AbandonedAfter = 5 * time.Second
	}

	if c.Voice.BusinessName == "" {
		c.Voice.BusinessName = "our office"
	}
	if c.Voice.Voice == "" {
		c.Voice.Voice = "Polly.Joanna"
	}
	if c.Voice.VoicemailMaxLength == 0 {
		c.Voice.VoicemailMaxLength = 180 * time.Second
	}

	if c.Sweeper.Schedule == "" {
		c.Sweeper.Schedule = "*/15 * * * *"
	}
	if c.Sweeper.CounterRetention == 0 {
		c.Sweeper.CounterRetention = time.Hour
	}

	if c.Health.ActivityWindow == 0 {
		c.Health.ActivityWindow = 24 * time.Hour
	}
	if c.Health.SlowDatabase == 0 {
		c.Health.SlowDatabase = time.Second
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// DefaultEndpointLimits returns the built-in per-endpoint limits.
func DefaultEndpointLimits() map[string]EndpointLimit {
	return map[string]EndpointLimit{
		"voice.inbound": {Window: time.Minute, Max: 10},
		"sms.inbound":   {Window: time.Minute, Max: 5},
		"contact":       {Window: time.Minute, Max: 3},
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Server.PublicBaseURL == "" {
		errs = append(errs, "server.public_base_url is required")
	}
	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q must be sqlite or mysql", c.Database.Driver))
	}
	if *c.Carrier.ValidateSignatures && len(c.Carrier.AuthTokens) == 0 {
		errs = append(errs, "carrier.auth_tokens is required when validate_signatures is on")
	}
	if len(c.Stream.Keys) == 0 {
		errs = append(errs, "stream.keys requires at least one key")
	}
	seen := map[string]bool{}
	for i, k := range c.Stream.Keys {
		if k.ID == "" {
			errs = append(errs, fmt.Sprintf("stream.keys[%d].id is required", i))
		}
		if k.Secret == "" {
			errs = append(errs, fmt.Sprintf("stream.keys[%d].secret is required", i))
		}
		if seen[k.ID] {
			errs = append(errs, fmt.Sprintf("stream.keys[%d].id %q is duplicated", i, k.ID))
		}
		seen[k.ID] = true
	}
	if len(c.Stream.Keys) > 0 && !seen[c.Stream.ActiveKey] {
		errs = append(errs, fmt.Sprintf("stream.active_key %q does not name a configured key", c.Stream.ActiveKey))
	}
	switch c.RateLimit.Backend {
	case "database":
	case "redis":
		if c.RateLimit.Redis.Addr == "" {
			errs = append(errs, "rate_limit.redis.addr is required for the redis backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("rate_limit.backend %q must be database or redis", c.RateLimit.Backend))
	}
	if c.RateLimit.Precision < 1 {
		errs = append(errs, "rate_limit.precision must be >= 1")
	}
	for name, lim := range c.RateLimit.Endpoints {
		if lim.Window < time.Second {
			errs = append(errs, fmt.Sprintf("rate_limit.endpoints.%s.window must be >= 1s", name))
		}
		if lim.Max < 1 {
			errs = append(errs, fmt.Sprintf("rate_limit.endpoints.%s.max must be >= 1", name))
		}
	}
	qh := c.Compliance.QuietHours
	if qh.StartHour < 0 || qh.EndHour > 24 || qh.StartHour >= qh.EndHour {
		errs = append(errs, "compliance.quiet_hours requires 0 <= start_hour < end_hour <= 24")
	}
	if qh.FallbackHour < 0 || qh.FallbackHour > 23 {
		errs = append(errs, "compliance.quiet_hours.fallback_hour must be 0-23")
	}
	if _, err := time.LoadLocation(qh.BusinessTimezone); err != nil {
		errs = append(errs, fmt.Sprintf("compliance.quiet_hours.business_timezone %q: %v", qh.BusinessTimezone, err))
	}
	if c.Voice.HandoffNumber != "" && !e164Pattern.MatchString(c.Voice.HandoffNumber) {
		errs = append(errs, "voice.handoff_number must be E.164")
	}
	if (c.Notify.DiscordWebhookID == "") != (c.Notify.DiscordWebhookToken == "") {
		errs = append(errs, "notify.discord_webhook_id and discord_webhook_token must be set together")
	}
	if _, err := cron.ParseStandard(c.Sweeper.Schedule); err != nil {
		errs = append(errs, fmt.Sprintf("sweeper.schedule %q: %v", c.Sweeper.Schedule, err))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q must be json or console", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Limit returns the configured limit for an endpoint name.
func (c *Config) Limit(endpoint string) (EndpointLimit, bool) {
	lim, ok := c.RateLimit.Endpoints[endpoint]
	return lim, ok
}
