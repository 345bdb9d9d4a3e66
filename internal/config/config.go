// Package config loads and validates the process configuration from the
// environment, with an optional TOML overlay for non-secret operational
// tunables.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

var (
	userPattern     = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	hostnamePattern = regexp.MustCompile(`^[A-Za-z0-9.-]+$`)
)

// Config holds every value spec.md §6 enumerates. All fields are loaded
// from the environment; Overlay additionally accepts a subset of the
// non-secret tunables from a TOML file.
type Config struct {
	MailUser   string `env:"MAIL_USER,required"`
	MailPass   string `env:"MAIL_PASS,required"`
	MailDomain string `env:"MAIL_DOMAIN,required"`

	UpstreamServer string `env:"UPSTREAM_SERVER,required"`
	UpstreamUser   string `env:"UPSTREAM_USER,required"`
	UpstreamPass   string `env:"UPSTREAM_PASS,required"`
	UpstreamPort   int    `env:"UPSTREAM_PORT" envDefault:"993"`

	FetchInterval      int `env:"FETCH_INTERVAL" envDefault:"300"`
	RateLimitPerMinute int `env:"RATE_LIMIT_PER_MINUTE" envDefault:"30"`
	MaxRetries         int `env:"MAX_RETRIES" envDefault:"20"`

	LMTPHost string `env:"LMTP_HOST" envDefault:"imap"`
	LMTPPort int    `env:"LMTP_PORT" envDefault:"24"`

	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY,required"`
	AnthropicModel  string `env:"ANTHROPIC_MODEL" envDefault:"claude-3-5-haiku-20241022"`
	AITimeout       int    `env:"AI_TIMEOUT" envDefault:"45"`

	BriefingHour int    `env:"BRIEFING_HOUR" envDefault:"8"`
	MaildirPath  string `env:"MAILDIR_PATH" envDefault:"/var/mail"`
	TZ           string `env:"TZ" envDefault:"US/Central"`
}

// overlay holds the subset of Config that may additionally be supplied by
// an optional TOML file. Secrets never appear here -- they are
// environment-only.
type overlay struct {
	FetchInterval      *int    `toml:"fetch_interval"`
	RateLimitPerMinute *int    `toml:"rate_limit_per_minute"`
	MaxRetries         *int    `toml:"max_retries"`
	AnthropicModel     *string `toml:"anthropic_model"`
}

// Load reads an optional `.env` file (best-effort, ignored if absent),
// then parses the process environment into a Config. Call Overlay
// afterwards if a TOML tunables file was given, then Validate.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parsing environment failed: %w", err)
	}
	return &cfg, nil
}

// Overlay applies non-secret tunables from a TOML file on top of cfg.
// Fields absent from the file are left untouched.
func (c *Config) Overlay(path string) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config overlay %q failed: %w", path, err)
	}

	var o overlay
	if err := toml.Unmarshal(buf, &o); err != nil {
		return fmt.Errorf("parsing config overlay %q failed: %w", path, err)
	}

	if o.FetchInterval != nil {
		c.FetchInterval = *o.FetchInterval
	}
	if o.RateLimitPerMinute != nil {
		c.RateLimitPerMinute = *o.RateLimitPerMinute
	}
	if o.MaxRetries != nil {
		c.MaxRetries = *o.MaxRetries
	}
	if o.AnthropicModel != nil {
		c.AnthropicModel = *o.AnthropicModel
	}

	return nil
}

// Validate checks every constraint from spec.md §6, rejecting on the
// first violation.
func (c *Config) Validate() error {
	if !userPattern.MatchString(c.MailUser) {
		return fmt.Errorf("mail_user %q must match %s", c.MailUser, userPattern)
	}
	if c.MailPass == "" {
		return fmt.Errorf("mail_pass must not be empty")
	}
	if !hostnamePattern.MatchString(c.MailDomain) {
		return fmt.Errorf("mail_domain %q must match %s", c.MailDomain, hostnamePattern)
	}
	if !hostnamePattern.MatchString(c.UpstreamServer) {
		return fmt.Errorf("upstream_server %q must match %s", c.UpstreamServer, hostnamePattern)
	}
	if c.UpstreamUser == "" {
		return fmt.Errorf("upstream_user must not be empty")
	}
	if c.UpstreamPass == "" {
		return fmt.Errorf("upstream_pass must not be empty")
	}
	if err := inRange("upstream_port", c.UpstreamPort, 1, 65535); err != nil {
		return err
	}
	if err := inRange("fetch_interval", c.FetchInterval, 10, 3600); err != nil {
		return err
	}
	if err := inRange("rate_limit_per_minute", c.RateLimitPerMinute, 1, 100); err != nil {
		return err
	}
	if err := inRange("max_retries", c.MaxRetries, 1, 100); err != nil {
		return err
	}
	if c.LMTPHost == "" {
		return fmt.Errorf("lmtp_host must not be empty")
	}
	if err := inRange("lmtp_port", c.LMTPPort, 1, 65535); err != nil {
		return err
	}
	if c.AnthropicAPIKey == "" {
		return fmt.Errorf("anthropic_api_key must not be empty")
	}
	if c.AnthropicModel == "" {
		return fmt.Errorf("anthropic_model must not be empty")
	}
	if err := inRange("ai_timeout", c.AITimeout, 10, 120); err != nil {
		return err
	}
	if err := inRange("briefing_hour", c.BriefingHour, 0, 23); err != nil {
		return err
	}
	if c.MaildirPath == "" {
		return fmt.Errorf("maildir_path must not be empty")
	}
	if c.TZ == "" {
		return fmt.Errorf("tz must not be empty")
	}

	return nil
}

func inRange(name string, v, lo, hi int) error {
	if v < lo || v > hi {
		return fmt.Errorf("%s must be between %d and %d, got %d", name, lo, hi, v)
	}
	return nil
}

// String renders a redacted configuration summary, hiding every secret
// behind a fixed placeholder.
func (c *Config) String() string {
	const hidden = "***"
	var sb strings.Builder

	printKv := func(k string, v any) {
		fmt.Fprintf(&sb, "%-30v%-50v\n", k+":", v)
	}

	sb.WriteString("Configuration:\n")
	printKv("Mail User", c.MailUser)
	printKv("Mail Password", redactedOrEmpty(c.MailPass, hidden))
	printKv("Mail Domain", c.MailDomain)
	printKv("Upstream Server", c.UpstreamServer)
	printKv("Upstream Port", c.UpstreamPort)
	printKv("Upstream User", c.UpstreamUser)
	printKv("Upstream Password", redactedOrEmpty(c.UpstreamPass, hidden))
	printKv("Fetch Interval (s)", c.FetchInterval)
	printKv("Rate Limit (per minute)", c.RateLimitPerMinute)
	printKv("Max Retries", c.MaxRetries)
	printKv("LMTP Host", c.LMTPHost)
	printKv("LMTP Port", c.LMTPPort)
	printKv("Anthropic API Key", redactedOrEmpty(c.AnthropicAPIKey, hidden))
	printKv("Anthropic Model", c.AnthropicModel)
	printKv("AI Timeout (s)", c.AITimeout)
	printKv("Briefing Hour", c.BriefingHour)
	printKv("Maildir Path", c.MaildirPath)
	printKv("Timezone", c.TZ)

	return sb.String()
}

func redactedOrEmpty(v, hidden string) string {
	if v == "" {
		return "UNSET"
	}
	return hidden
}
