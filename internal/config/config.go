package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// placeholderPassword is shipped in the sample .env and must not be used as a
// real credential.
const placeholderPassword = "your_app_password_here"

type Config struct {
	HTTPPort     int    `yaml:"http_port"`
	DatabasePath string `yaml:"database_path"`

	ResendAPIKey string `yaml:"resend_api_key"`
	EmailFrom    string `yaml:"email_from"`
	AdminEmail   string `yaml:"admin_email"`
	AdminURL     string `yaml:"admin_url"`

	SMTPHost     string        `yaml:"smtp_host"`
	SMTPPort     int           `yaml:"smtp_port"`
	SMTPUser     string        `yaml:"smtp_user"`
	SMTPPassword string        `yaml:"smtp_pass"`
	SMTPTimeout  time.Duration `yaml:"smtp_timeout"`
	SMTPStartTLS bool          `yaml:"smtp_starttls"`

	ForwardTemplate string `yaml:"forward_template"`
	InboundAddress  string `yaml:"inbound_address"`
	WebhookSecret   string `yaml:"webhook_secret"`

	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	DedupTTL      time.Duration `yaml:"dedup_ttl"`

	InboundSMTPPort     int    `yaml:"inbound_smtp_port"`
	InboundSMTPUsername string `yaml:"inbound_smtp_username"`
	InboundSMTPPassword string `yaml:"inbound_smtp_password"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

func Defaults() Config {
	return Config{
		HTTPPort:        4000,
		DatabasePath:    "hostpenny.db",
		EmailFrom:       "hello@hostpenny.co.uk",
		AdminEmail:      "hostpennyuk@gmail.com",
		AdminURL:        "http://localhost:5173/admin",
		SMTPHost:        "smtp.gmail.com",
		SMTPPort:        587,
		SMTPTimeout:     10 * time.Second,
		SMTPStartTLS:    true,
		ForwardTemplate: "detailed",
		InboundAddress:  "hello@hostpenny.co.uk",
		DedupTTL:        24 * time.Hour,
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

// Load reads configuration from the environment on top of the defaults.
func Load() Config {
	return applyEnv(Defaults())
}

// LoadFile reads a YAML file on top of the defaults and then applies the
// environment, which always wins.
func LoadFile(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) == "" {
		return applyEnv(cfg), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return applyEnv(cfg), nil
}

// RelayEnabled reports whether SMTP credentials are configured.
func (c Config) RelayEnabled() bool {
	return c.SMTPUser != "" && c.SMTPPassword != "" && c.SMTPPassword != placeholderPassword
}

// TransactionalEnabled reports whether the transactional provider is configured.
func (c Config) TransactionalEnabled() bool {
	return c.ResendAPIKey != ""
}

func (c Config) DedupEnabled() bool {
	return c.RedisAddr != ""
}

func applyEnv(cfg Config) Config {
	cfg.HTTPPort = getEnvInt("PORT", cfg.HTTPPort)
	cfg.DatabasePath = getEnvString("DATABASE_PATH", cfg.DatabasePath)
	cfg.ResendAPIKey = getEnvString("RESEND_API_KEY", cfg.ResendAPIKey)
	cfg.EmailFrom = getEnvString("EMAIL_FROM", cfg.EmailFrom)
	cfg.AdminEmail = getEnvString("ADMIN_EMAIL", cfg.AdminEmail)
	cfg.AdminURL = getEnvString("ADMIN_URL", cfg.AdminURL)
	cfg.SMTPHost = getEnvString("SMTP_HOST", cfg.SMTPHost)
	cfg.SMTPPort = getEnvInt("SMTP_PORT", cfg.SMTPPort)
	cfg.SMTPUser = getEnvString("SMTP_USER", cfg.SMTPUser)
	cfg.SMTPPassword = getEnvString("SMTP_PASS", cfg.SMTPPassword)
	cfg.SMTPTimeout = getEnvDuration("SMTP_TIMEOUT", cfg.SMTPTimeout)
	cfg.SMTPStartTLS = getEnvBool("SMTP_STARTTLS", cfg.SMTPStartTLS)
	cfg.ForwardTemplate = getEnvString("FORWARD_TEMPLATE", cfg.ForwardTemplate)
	cfg.InboundAddress = getEnvString("INBOUND_ADDRESS", cfg.InboundAddress)
	cfg.WebhookSecret = getEnvString("WEBHOOK_SECRET", cfg.WebhookSecret)
	cfg.RedisAddr = getEnvString("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getEnvString("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = getEnvInt("REDIS_DB", cfg.RedisDB)
	cfg.DedupTTL = getEnvDuration("DEDUP_TTL", cfg.DedupTTL)
	cfg.InboundSMTPPort = getEnvInt("INBOUND_SMTP_PORT", cfg.InboundSMTPPort)
	cfg.InboundSMTPUsername = getEnvString("INBOUND_SMTP_USERNAME", cfg.InboundSMTPUsername)
	cfg.InboundSMTPPassword = getEnvString("INBOUND_SMTP_PASSWORD", cfg.InboundSMTPPassword)
	cfg.LogLevel = getEnvString("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnvString("LOG_FORMAT", cfg.LogFormat)
	return cfg
}

func getEnvString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := time.ParseDuration(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}
