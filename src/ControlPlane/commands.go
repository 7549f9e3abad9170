package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cleanova/cleanova/src/internal/api"
	"github.com/cleanova/cleanova/src/internal/auth"
	"github.com/cleanova/cleanova/src/internal/config"
	"github.com/cleanova/cleanova/src/internal/logging"
	"github.com/cleanova/cleanova/src/internal/services"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     config.ControlPlaneConfig
	configErr  error
}

func (c *commandContext) ensureConfig() (config.ControlPlaneConfig, error) {
	c.configOnce.Do(func() {
		if err := config.LoadDotEnv(); err != nil {
			c.configErr = fmt.Errorf("load .env: %w", err)
			return
		}
		c.config, c.configErr = config.LoadControlPlane(strings.TrimSpace(*c.configFlag))
		if c.configErr == nil {
			logging.Configure(logging.Config{Level: c.config.Log.Level, Service: "control-plane"})
		}
	})
	return c.config, c.configErr
}

func newRootCommand() *cobra.Command {
	var configFlag string
	ctx := &commandContext{configFlag: &configFlag}

	serve := newServeCommand(ctx)
	rootCmd := &cobra.Command{
		Use:           "controlplane",
		Short:         "Cleanova Control Plane",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: serve.RunE,
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path (YAML or JSON)")

	rootCmd.AddCommand(serve)
	rootCmd.AddCommand(newMigrateCommand(ctx))
	rootCmd.AddCommand(newScanCommand(ctx))
	rootCmd.AddCommand(newSubscribeCommand(ctx))
	return rootCmd
}

func newServeCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cc.ensureConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg config.ControlPlaneConfig) error {
	log := logging.WithComponent("control-plane")
	log.Info().Msg("starting Control Plane")

	app, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	if cfg.Storage.ScanOnStart {
		scanner := services.NewCatalogScanner(app.videos, app.categories, app.store, logging.WithComponent("scanner")).
			WithLocks(app.locks)
		if report, err := scanner.Scan(ctx); err != nil {
			log.Warn().Err(err).Msg("startup catalog scan failed")
		} else {
			log.Info().Int("imported", report.Imported).Int("existing", report.Existing).Msg("startup catalog scan done")
		}
	}

	var verifier auth.TokenVerifier
	if cfg.OIDC.ProviderURL == "" {
		log.Warn().Msg("OIDC provider URL not set, API requests will be rejected")
	} else if v, err := auth.NewOIDCVerifier(ctx, cfg.OIDC); err != nil {
		// Keep serving; authenticated routes answer 503 until restart.
		log.Error().Err(err).Msg("OIDC provider unavailable")
	} else {
		verifier = v
	}

	resolver := services.NewAssetResolver(app.store, app.cache,
		services.MatchPolicy(cfg.Storage.VideoMatch), cfg.Storage.SignedURLTTL.Std(),
		logging.WithComponent("resolver"))
	accounts := services.NewAccountService(app.users, logging.WithComponent("accounts"))
	writer := services.NewProgressWriter(app.progress, logging.WithComponent("progress"))
	sessions := services.NewSessionManager(app.videos, app.progress, resolver, writer, services.SessionConfig{
		BackstopInterval: cfg.Playback.BackstopInterval.Std(),
		IdleTimeout:      cfg.Playback.IdleTimeout.Std(),
	}, logging.WithComponent("sessions"))

	reaperCtx, stopReaper := context.WithCancel(ctx)
	defer stopReaper()
	go services.NewSessionReaper(sessions, cfg.Playback.ReapInterval.Std(), logging.WithComponent("reaper")).StartMonitoring(reaperCtx)

	router := api.NewRouter(api.Deps{
		Auth:            auth.NewMiddleware(verifier, accounts, logging.WithComponent("auth")),
		Accounts:        accounts,
		Catalog:         services.NewCatalogService(app.videos, app.categories, app.progress, resolver, logging.WithComponent("catalog")),
		Sessions:        sessions,
		Media:           app.media,
		EventsPerMinute: cfg.RateLimit.EventsPerMinute,
		Logger:          logging.WithComponent("http"),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", "http://0.0.0.0:"+cfg.Port).Msg("Control Plane listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	httpErr := srv.Shutdown(shutdownCtx)
	stopReaper()
	return errors.Join(httpErr, sessions.Shutdown(shutdownCtx))
}

func newMigrateCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cc.ensureConfig()
			if err != nil {
				return err
			}
			repos, err := openRepositories(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer repos.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "schema ready (%s)\n", cfg.Database.Driver)
			return nil
		},
	}
}

func newScanCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Import catalog entries from the object store listing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cc.ensureConfig()
			if err != nil {
				return err
			}
			app, err := openApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			scanner := services.NewCatalogScanner(app.videos, app.categories, app.store, logging.WithComponent("scanner")).
				WithLocks(app.locks)
			report, err := scanner.Scan(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}

func newSubscribeCommand(cc *commandContext) *cobra.Command {
	var revoke bool
	cmd := &cobra.Command{
		Use:   "subscribe <user-id>",
		Short: "Grant (or with --revoke, remove) a user's subscription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cc.ensureConfig()
			if err != nil {
				return err
			}
			repos, err := openRepositories(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer repos.Close()

			accounts := services.NewAccountService(repos.users, logging.WithComponent("accounts"))
			user, err := accounts.SetSubscription(cmd.Context(), args[0], !revoke)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s subscribed=%t\n", user.ID, user.IsSubscribed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&revoke, "revoke", false, "Remove the subscription instead")
	return cmd
}
