// File: cmd/serve.go
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/nkoudela/scout-cli/internal/consent"
	"github.com/nkoudela/scout-cli/internal/httpapi"
	"github.com/nkoudela/scout-cli/internal/monitor"
	"github.com/nkoudela/scout-cli/internal/observability"
	"github.com/nkoudela/scout-cli/internal/origin"
	"github.com/nkoudela/scout-cli/internal/store"
)

const serveShutdownTimeout = 15 * time.Second

// newServeCmd creates and configures the `serve` command.
func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Runs the consent and policy administration API",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlag("api.listen_addr", cmd.Flags().Lookup("listen")); err != nil {
				return err
			}
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			if addr := viper.GetString("api.listen_addr"); addr != "" {
				cfg.API.ListenAddr = addr
			}
			if cfg.API.JWTSecret == "" {
				return fmt.Errorf("api JWT secret is not configured (SCOUT_API_JWT_SECRET)")
			}

			// Optional alert history persistence.
			var alertStore *store.Store
			if cfg.Store.URL != "" {
				dbPool, err := pgxpool.New(ctx, cfg.Store.URL)
				if err != nil {
					return fmt.Errorf("failed to connect to database: %w", err)
				}
				defer dbPool.Close()

				alertStore, err = store.New(ctx, dbPool, logger)
				if err != nil {
					return fmt.Errorf("failed to initialize store: %w", err)
				}
			}

			consentManager := consent.NewManager(cfg.Consent, logger)
			consentManager.Start()
			defer consentManager.Stop()

			connMonitor := monitor.NewMonitor(cfg.Monitor, logger)
			connMonitor.Start()
			defer connMonitor.Stop()

			originGate := origin.NewValidator(cfg.Origin, logger)

			server := httpapi.NewServer(cfg.API, consentManager, originGate, connMonitor, logger)

			errCh := make(chan error, 1)
			go func() { errCh <- server.Start() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			logger.Info("Shutting down API server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), serveShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Warn("API server shutdown incomplete", zap.Error(err))
			}

			// Flush accumulated alert history before the monitor goes away.
			if alertStore != nil {
				if alerts := connMonitor.Alerts(true); len(alerts) > 0 {
					if err := alertStore.SaveAlerts(shutdownCtx, alerts); err != nil {
						logger.Warn("Failed to persist alert history", zap.Error(err))
					}
				}
			}
			return <-errCh
		},
	}

	serveCmd.Flags().StringP("listen", "l", "", "Listen address for the API server. (Overrides config/env)")
	return serveCmd
}
