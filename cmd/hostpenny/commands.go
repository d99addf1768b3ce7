package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hostpennyuk/website/internal/api"
	"github.com/hostpennyuk/website/internal/auth"
	"github.com/hostpennyuk/website/internal/smtpserver"
	"github.com/hostpennyuk/website/internal/sse"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the optional inbound SMTP listener",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			db, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			verifier, err := auth.NewVerifier(cfg.WebhookSecret, 0)
			if err != nil {
				return err
			}
			if !verifier.Enabled() {
				logger.Warn("WEBHOOK_SECRET not set; webhook signatures are not verified")
			}

			hub := sse.NewHub()
			svc := buildServices(ctx, cfg, db, hub)
			defer svc.Close()

			apiServer := api.NewServer(cfg, api.Deps{
				Store:    db,
				Hub:      hub,
				Pipeline: svc.pipeline,
				Sender:   svc.sender,
				Notifier: svc.notifier,
				Verifier: verifier,
			}, logger)

			httpAddr := fmt.Sprintf(":%d", cfg.HTTPPort)
			httpSrv := &http.Server{
				Addr:              httpAddr,
				Handler:           apiServer,
				ReadHeaderTimeout: 10 * time.Second,
			}

			var smtpSrv *smtpserver.Server
			if cfg.InboundSMTPPort > 0 {
				smtpAuthCfg := smtpserver.AuthConfig{
					Enabled:  cfg.InboundSMTPUsername != "",
					Username: cfg.InboundSMTPUsername,
					Password: cfg.InboundSMTPPassword,
				}
				if !smtpAuthCfg.Enabled {
					logger.Warn("inbound smtp auth disabled; listener accepts unauthenticated connections")
				}
				smtpSrv = smtpserver.New(svc.pipeline, logger, fmt.Sprintf(":%d", cfg.InboundSMTPPort), smtpAuthCfg)
				go func() {
					if err := smtpSrv.ListenAndServe(); err != nil {
						logger.Error("smtp server stopped", "error", err)
					}
				}()
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("http server listening", "addr", httpAddr)
				if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case <-ctx.Done():
				logger.Info("shutting down")
			case err := <-errCh:
				return fmt.Errorf("http server: %w", err)
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				logger.Error("shutdown http", "error", err)
			}
			if smtpSrv != nil {
				if err := smtpSrv.Close(); err != nil {
					logger.Error("shutdown smtp", "error", err)
				}
			}
			apiServer.Wait()
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			logger.Info("schema ready", "database", cfg.DatabasePath)
			return nil
		},
	}
}

func reforwardCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "reforward",
		Short: "Retry forwarding stored inbound mail that was never relayed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			db, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			svc := buildServices(ctx, cfg, db, sse.NewHub())
			defer svc.Close()

			result, err := svc.pipeline.Reforward(ctx, limit)
			if err != nil {
				return fmt.Errorf("reforward: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "attempted=%d forwarded=%d failed=%d\n", result.Attempted, result.Forwarded, result.Failed)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of messages to retry")
	return cmd
}
