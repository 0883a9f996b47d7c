package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ericfisherdev/gitaccounts/internal/adapter/driven/beanstalk"
	"github.com/ericfisherdev/gitaccounts/internal/adapter/driven/bitbucket"
	"github.com/ericfisherdev/gitaccounts/internal/adapter/driven/github"
	"github.com/ericfisherdev/gitaccounts/internal/adapter/driven/gitlab"
	keyringadapter "github.com/ericfisherdev/gitaccounts/internal/adapter/driven/keyring"
	"github.com/ericfisherdev/gitaccounts/internal/adapter/driven/notify"
	"github.com/ericfisherdev/gitaccounts/internal/adapter/driven/restclient"
	sqliteadapter "github.com/ericfisherdev/gitaccounts/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/gitaccounts/internal/adapter/driven/yamlstore"
	"github.com/ericfisherdev/gitaccounts/internal/application"
	"github.com/ericfisherdev/gitaccounts/internal/config"
	"github.com/ericfisherdev/gitaccounts/internal/diaglog"
	"github.com/ericfisherdev/gitaccounts/internal/domain/model"
	"github.com/ericfisherdev/gitaccounts/internal/domain/port/driven"
	"github.com/ericfisherdev/gitaccounts/internal/tlsmaterial"
)

// app is the wired object graph shared by serve and the account commands.
type app struct {
	registry *application.Registry
	db       *sqliteadapter.DB
	logger   *slog.Logger
}

// openApp opens the stores selected by cfg, registers every provider and
// loads the saved accounts. The sqlite database is only opened when one of
// the stores lives in it.
func openApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{logger: logger}

	if cfg.CredentialBackend == config.CredentialBackendSQLite || cfg.AccountStore == config.AccountStoreSQLite {
		db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
		if err != nil {
			return nil, err
		}
		version, err := sqliteadapter.RunMigrations(db.Writer)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		a.db = db
		logger.Debug("database opened", "path", cfg.DBPath, "schema_version", version)
	}

	var credentials driven.CredentialStore
	switch cfg.CredentialBackend {
	case config.CredentialBackendSQLite:
		credentials = sqliteadapter.NewCredentialRepo(a.db, cfg.SecretKey)
	default:
		credentials = keyringadapter.New()
	}

	var store driven.AccountStore
	switch cfg.AccountStore {
	case config.AccountStoreYAML:
		store = yamlstore.New(cfg.AccountsFile)
	default:
		store = sqliteadapter.NewAccountRepo(a.db)
	}

	opts := []application.RegistryOption{
		application.WithLogger(logger),
		application.WithDiagLog(diaglog.New(cfg.DiagLog)),
		application.WithStrictTLS(cfg.StrictTLS),
		application.WithHTTPClient(func(identity *tlsmaterial.Identity) *http.Client {
			return restclient.NewHTTPClient(identity, logger)
		}),
	}
	if cfg.Notify {
		opts = append(opts, application.WithNotifier(notify.New()))
	}

	a.registry = application.NewRegistry(newClientProvider(cfg, logger), credentials, store, opts...)
	if err := a.registry.Load(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// newClientProvider registers a factory for every supported provider. Each
// account gets its own client instance.
func newClientProvider(cfg *config.Config, logger *slog.Logger) *application.ClientProvider {
	provider := application.NewClientProvider()
	provider.Register(model.KindGitHub, func() driven.HostClient {
		return github.NewClient(logger.With("provider", "github"),
			github.WithOAuthApp(cfg.GitHubClientID, cfg.GitHubClientSecret))
	})
	provider.Register(model.KindGitLab, func() driven.HostClient {
		return gitlab.NewClient(logger.With("provider", "gitlab"))
	})
	provider.Register(model.KindBitbucket, func() driven.HostClient {
		return bitbucket.NewClient(logger.With("provider", "bitbucket"))
	})
	provider.Register(model.KindBeanstalk, func() driven.HostClient {
		return beanstalk.NewClient(logger.With("provider", "beanstalk"))
	})
	return provider
}

// save persists the account list.
func (a *app) save(ctx context.Context) error {
	if err := a.registry.Save(ctx); err != nil {
		return fmt.Errorf("save accounts: %w", err)
	}
	return nil
}

// close discards in-flight attempts and closes the database.
func (a *app) close() {
	if a.registry != nil {
		a.registry.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("error closing database", "error", err)
		}
	}
}

// lookup resolves an account or reports which one is missing.
func (a *app) lookup(kindName, username string) (*application.Account, error) {
	kind, err := model.ParseKind(kindName)
	if err != nil {
		return nil, err
	}
	acc := a.registry.Lookup(username, kind)
	if acc == nil {
		return nil, fmt.Errorf("%w: %s/%s", application.ErrAccountNotFound, kind, username)
	}
	return acc, nil
}
