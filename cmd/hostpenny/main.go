package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/hostpennyuk/website/internal/config"
	"github.com/hostpennyuk/website/internal/inbound"
	"github.com/hostpennyuk/website/internal/mailer"
	"github.com/hostpennyuk/website/internal/sse"
	"github.com/hostpennyuk/website/internal/store"
)

var (
	logger     *slog.Logger
	configPath string
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:           "hostpenny",
		Short:         "HostPenny website backend",
		Long:          "Enquiry capture, newsletter subscribers and the inbound email inbox for the HostPenny admin dashboard.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file (default: $CONFIG_FILE)")

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(reforwardCmd())

	if err := root.Execute(); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// loadConfig reads .env, the optional YAML file and the environment, then
// rebuilds the logger from the configured level and format.
func loadConfig() (config.Config, error) {
	_ = godotenv.Load()
	path := configPath
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return config.Config{}, err
	}
	logger = newLogger(cfg)
	return cfg, nil
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func openStore(ctx context.Context, cfg config.Config) (*store.Store, error) {
	db, err := store.Open(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return db, nil
}

// services holds the process-wide clients, created once at startup.
type services struct {
	pipeline *inbound.Pipeline
	relay    mailer.Transport
	sender   mailer.Sender
	notifier *mailer.Notifier
	redis    *redis.Client
}

func (s *services) Close() {
	if s.redis != nil {
		_ = s.redis.Close()
	}
}

func buildServices(ctx context.Context, cfg config.Config, db *store.Store, hub *sse.Hub) *services {
	svc := &services{}

	if cfg.RelayEnabled() {
		svc.relay = mailer.NewRelay(mailer.RelayConfig{
			Host:            cfg.SMTPHost,
			Port:            cfg.SMTPPort,
			Username:        cfg.SMTPUser,
			Password:        cfg.SMTPPassword,
			Timeout:         cfg.SMTPTimeout,
			DisableStartTLS: !cfg.SMTPStartTLS,
		})
		logger.Info("smtp relay enabled", "host", cfg.SMTPHost, "port", cfg.SMTPPort, "user", cfg.SMTPUser, "starttls", cfg.SMTPStartTLS)
	} else {
		logger.Warn("SMTP_USER/SMTP_PASS not set; inbound mail will not be forwarded")
	}

	if cfg.TransactionalEnabled() {
		svc.sender = mailer.NewResend(cfg.ResendAPIKey, cfg.EmailFrom)
	} else {
		logger.Warn("RESEND_API_KEY not set; replies and direct sends are disabled")
	}
	svc.notifier = mailer.NewNotifier(svc.sender, svc.relay, mailer.NotifierConfig{
		From:       cfg.EmailFrom,
		AdminEmail: cfg.AdminEmail,
		AdminURL:   cfg.AdminURL,
	}, logger)

	opts := inbound.Options{
		ForwardTimeout: cfg.SMTPTimeout,
		Logger:         logger,
	}
	if svc.relay != nil {
		if !inbound.ValidTemplate(cfg.ForwardTemplate) {
			logger.Warn("unknown forward template; using detailed", "template", cfg.ForwardTemplate)
		}
		opts.Forwarder = inbound.NewForwarder(svc.relay, inbound.ForwarderConfig{
			AdminEmail:     cfg.AdminEmail,
			InboundAddress: cfg.InboundAddress,
			AdminURL:       cfg.AdminURL,
			Template:       cfg.ForwardTemplate,
		})
	}

	if cfg.DedupEnabled() {
		svc.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := svc.redis.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis unreachable; dedup will fail open", "addr", cfg.RedisAddr, "error", err)
		}
		cancel()
		opts.Deduper = inbound.NewRedisDeduper(svc.redis, cfg.DedupTTL, logger)
	}

	svc.pipeline = inbound.NewPipeline(db, hub, opts)
	return svc
}
