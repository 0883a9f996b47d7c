package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	httphandler "github.com/ericfisherdev/gitaccounts/internal/adapter/driving/http"
	"github.com/ericfisherdev/gitaccounts/internal/application"
)

// newServeCmd creates the serve command.
func (cli *CLI) newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the accounts over a local JSON API",
		Long: `Load the saved accounts, connect each of them with its stored credential
and serve the /api/v1 JSON API on GITACCOUNTS_LISTEN_ADDR until interrupted.

Accounts are reconnected every GITACCOUNTS_REFRESH_INTERVAL when set, and on
demand through POST /api/v1/refresh.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cli.serve(cmd.Context())
		},
	}
}

func (cli *CLI) serve(ctx context.Context) error {
	cfg, logger := cli.Config, cli.Logger
	logger.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"credential_backend", cfg.CredentialBackend,
		"account_store", cfg.AccountStore,
		"refresh_interval", cfg.RefreshInterval,
		"strict_tls", cfg.StrictTLS,
	)

	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	// The first refresh cycle connects every loaded account.
	refreshSvc := application.NewRefreshService(a.registry, cfg.RefreshInterval, logger)
	go refreshSvc.Start(ctx)

	handler := httphandler.NewServeMux(httphandler.NewHandler(a.registry, refreshSvc, logger), logger)
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// Connect with wait and refresh block on provider round trips.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	logger.Info("gitaccounts started", "accounts", len(a.registry.Accounts()))

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	if err := a.save(shutdownCtx); err != nil {
		logger.Error("failed to save accounts", "error", err)
	}

	logger.Info("gitaccounts stopped")
	return nil
}
