package application

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/ericfisherdev/gitaccounts/internal/diaglog"
	"github.com/ericfisherdev/gitaccounts/internal/domain/model"
	"github.com/ericfisherdev/gitaccounts/internal/domain/port/driven"
)

var (
	// ErrAccountExists is returned when (username, kind) is already registered.
	ErrAccountExists = errors.New("account already exists")
	// ErrAccountNotFound is returned when no account matches.
	ErrAccountNotFound = errors.New("account not found")
	// ErrUnknownKind is returned for a kind with no registered client.
	ErrUnknownKind = errors.New("unknown account kind")
)

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) { r.deps.logger = logger }
}

// WithDiagLog sets the diagnostic log used for TLS events.
func WithDiagLog(l *diaglog.Logger) RegistryOption {
	return func(r *Registry) { r.deps.diag = l }
}

// WithStrictTLS makes TLS decode failures fail the attempt.
func WithStrictTLS(strict bool) RegistryOption {
	return func(r *Registry) { r.deps.strictTLS = strict }
}

// WithNotifier sends a notification when an attempt completes.
func WithNotifier(n driven.Notifier) RegistryOption {
	return func(r *Registry) { r.deps.notifier = n }
}

// WithHTTPClient sets how per-attempt HTTP clients are built.
func WithHTTPClient(fn HTTPClientFunc) RegistryOption {
	return func(r *Registry) { r.deps.httpClient = fn }
}

// WithClock overrides time.Now for progress timestamps.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.deps.now = now }
}

// Registry owns every configured account. Exactly one Account exists per
// (username, kind) pair.
type Registry struct {
	clients     *ClientProvider
	credentials driven.CredentialStore
	store       driven.AccountStore
	deps        *accountDeps

	mu       sync.RWMutex
	accounts []*Account
	unsubs   map[*Account]func()

	listenersMu  sync.Mutex
	listeners    map[int]func(Event)
	nextListener int
}

// NewRegistry creates an empty registry. store may be nil for a registry
// that is never persisted.
func NewRegistry(clients *ClientProvider, credentials driven.CredentialStore, store driven.AccountStore, opts ...RegistryOption) *Registry {
	r := &Registry{
		clients:     clients,
		credentials: credentials,
		store:       store,
		deps: &accountDeps{
			credentials: credentials,
			logger:      slog.Default(),
			httpClient:  defaultHTTPClient,
			now:         time.Now,
		},
		unsubs:    make(map[*Account]func()),
		listeners: make(map[int]func(Event)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Kinds returns the provider kinds accounts can be created for.
func (r *Registry) Kinds() []model.Kind {
	return r.clients.Kinds()
}

// Lookup returns the account matching both username and kind, or nil.
func (r *Registry) Lookup(username string, kind model.Kind) *Account {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lookupLocked(username, kind)
}

func (r *Registry) lookupLocked(username string, kind model.Kind) *Account {
	a, _ := lo.Find(r.accounts, func(a *Account) bool {
		return a.kind == kind && a.username == username
	})
	return a
}

// Accounts returns the accounts in creation order.
func (r *Registry) Accounts() []*Account {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Account, len(r.accounts))
	copy(out, r.accounts)
	return out
}

// CreateAccount registers a new, unconnected account. url overrides the
// provider's base URL unless it is empty or equal to the default.
func (r *Registry) CreateAccount(kind model.Kind, username, url string) (*Account, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, errors.New("username is required")
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, int(kind))
	}

	client, err := r.clients.New(kind)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.lookupLocked(username, kind) != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s/%s", ErrAccountExists, kind, username)
	}
	a := newAccount(kind, username, client, r.deps)
	a.SetURL(url)
	r.accounts = append(r.accounts, a)
	r.unsubs[a] = a.OnEvent(r.emit)
	r.mu.Unlock()

	r.deps.logger.Info("account added", "kind", kind.String(), "username", username)
	r.emit(AccountAdded{eventBase{a}})
	return a, nil
}

// RemoveAccount unregisters a. An attempt still in flight is discarded when
// its reply arrives.
func (r *Registry) RemoveAccount(a *Account) error {
	r.mu.Lock()
	idx := lo.IndexOf(r.accounts, a)
	if idx < 0 {
		r.mu.Unlock()
		return ErrAccountNotFound
	}
	r.accounts = append(r.accounts[:idx], r.accounts[idx+1:]...)
	unsub := r.unsubs[a]
	delete(r.unsubs, a)
	r.mu.Unlock()

	a.markRemoved()
	r.deps.logger.Info("account removed", "kind", a.kind.String(), "username", a.username)
	r.emit(AccountRemoved{eventBase{a}})
	if unsub != nil {
		unsub()
	}
	return nil
}

// Replace removes any account with the same key and creates a fresh one with
// the given URL and TLS settings.
func (r *Registry) Replace(kind model.Kind, username, url string, tls model.TLSSettings) (*Account, error) {
	if existing := r.Lookup(username, kind); existing != nil {
		if err := r.RemoveAccount(existing); err != nil && !errors.Is(err, ErrAccountNotFound) {
			return nil, err
		}
	}

	a, err := r.CreateAccount(kind, username, url)
	if err != nil {
		return nil, err
	}
	a.SetTLS(tls)
	return a, nil
}

// ConnectAndStore connects a with an explicit secret and waits for the
// result. On success the secret, and the in-memory PKCS#12 passphrase if any,
// are written to the credential store. On failure the account is removed.
func (r *Registry) ConnectAndStore(ctx context.Context, a *Account, secret string) error {
	err := a.Connect(ctx, secret).Wait(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrSuperseded), errors.Is(err, ErrAccountRemoved), ctx.Err() != nil:
		return err
	default:
		if rmErr := r.RemoveAccount(a); rmErr != nil && !errors.Is(rmErr, ErrAccountNotFound) {
			r.deps.logger.Warn("remove failed account", "username", a.username, "error", rmErr)
		}
		return err
	}

	if r.credentials == nil {
		return nil
	}
	if secret != "" {
		if err := r.credentials.Put(ctx, a.ServiceURL(), a.username, secret); err != nil {
			return fmt.Errorf("store credential: %w", err)
		}
	}
	tls := a.TLS()
	if tls.PKCS12File.Active() && tls.PKCS12Passphrase.Active() {
		if err := r.credentials.Put(ctx, PKCS12Service(tls.PKCS12File.Value), a.username, tls.PKCS12Passphrase.Value); err != nil {
			return fmt.Errorf("store pkcs12 passphrase: %w", err)
		}
	}
	return nil
}

// ConnectAll starts an attempt on every account using stored credentials.
func (r *Registry) ConnectAll(ctx context.Context) []*Attempt {
	return lo.Map(r.Accounts(), func(a *Account, _ int) *Attempt {
		return a.Connect(ctx, "")
	})
}

// Load registers every stored account. Entries with unknown kinds or keys
// that are already registered are skipped.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}

	configs, err := r.store.LoadAccounts(ctx)
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}

	for _, cfg := range configs {
		a, err := r.CreateAccount(cfg.Kind, cfg.Username, "")
		if err != nil {
			r.deps.logger.Warn("skipping stored account", "kind", cfg.Kind.String(), "username", cfg.Username, "error", err)
			continue
		}
		a.applyConfig(cfg)
	}

	r.deps.logger.Info("accounts loaded", "count", len(configs))
	return nil
}

// Save writes the non-secret configuration of every account.
func (r *Registry) Save(ctx context.Context) error {
	if r.store == nil {
		return nil
	}

	configs := lo.Map(r.Accounts(), func(a *Account, _ int) model.AccountConfig {
		return a.Config()
	})
	if err := r.store.SaveAccounts(ctx, configs); err != nil {
		return fmt.Errorf("save accounts: %w", err)
	}
	r.deps.logger.Info("accounts saved", "count", len(configs))
	return nil
}

// Close discards every in-flight attempt.
func (r *Registry) Close() {
	for _, a := range r.Accounts() {
		a.stop()
	}
}

// SetCredential stores secret for a.
func (r *Registry) SetCredential(ctx context.Context, a *Account, secret string) error {
	if r.credentials == nil {
		return errors.New("no credential store configured")
	}
	return r.credentials.Put(ctx, a.ServiceURL(), a.username, secret)
}

// SetPKCS12Passphrase stores the passphrase for a's PKCS#12 bundle and
// enables its use. The passphrase is kept out of the account record.
func (r *Registry) SetPKCS12Passphrase(ctx context.Context, a *Account, passphrase string) error {
	tls := a.TLS()
	if !tls.PKCS12File.Active() {
		return errors.New("account has no PKCS#12 file")
	}
	if r.credentials == nil {
		return errors.New("no credential store configured")
	}
	if err := r.credentials.Put(ctx, PKCS12Service(tls.PKCS12File.Value), a.username, passphrase); err != nil {
		return fmt.Errorf("store pkcs12 passphrase: %w", err)
	}
	tls.PKCS12Passphrase = model.TLSSetting{Enabled: true}
	a.SetTLS(tls)
	return nil
}

// DeleteCredential removes the stored secret for a.
func (r *Registry) DeleteCredential(ctx context.Context, a *Account) error {
	if r.credentials == nil {
		return nil
	}
	return r.credentials.Delete(ctx, a.ServiceURL(), a.username)
}

// Credentials returns the stored credentials with their values cleared.
// Stores that cannot enumerate are probed for the secrets of the registered
// accounts instead.
func (r *Registry) Credentials(ctx context.Context) ([]model.Credential, error) {
	if r.credentials == nil {
		return []model.Credential{}, nil
	}

	if lister, ok := r.credentials.(driven.CredentialLister); ok {
		creds, err := lister.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("list credentials: %w", err)
		}
		return lo.Map(creds, func(c model.Credential, _ int) model.Credential {
			c.Value = ""
			return c
		}), nil
	}

	creds := []model.Credential{}
	for _, a := range r.Accounts() {
		services := []string{a.ServiceURL()}
		if tls := a.TLS(); tls.PKCS12File.Active() {
			services = append(services, PKCS12Service(tls.PKCS12File.Value))
		}
		for _, service := range services {
			secret, err := r.credentials.Get(ctx, service, a.username)
			if err != nil {
				return nil, fmt.Errorf("read credential %s@%s: %w", a.username, service, err)
			}
			if secret != "" {
				creds = append(creds, model.Credential{Service: service, Username: a.username})
			}
		}
	}
	slices.SortFunc(creds, func(x, y model.Credential) int {
		return cmp.Or(strings.Compare(x.Service, y.Service), strings.Compare(x.Username, y.Username))
	})
	return lo.UniqBy(creds, func(c model.Credential) string { return c.Service + "\x00" + c.Username }), nil
}

// OnEvent registers fn for registry events and for the events of every
// registered account.
func (r *Registry) OnEvent(fn func(Event)) (unsubscribe func()) {
	r.listenersMu.Lock()
	id := r.nextListener
	r.nextListener++
	r.listeners[id] = fn
	r.listenersMu.Unlock()

	return func() {
		r.listenersMu.Lock()
		delete(r.listeners, id)
		r.listenersMu.Unlock()
	}
}

func (r *Registry) emit(ev Event) {
	r.listenersMu.Lock()
	fns := make([]func(Event), 0, len(r.listeners))
	for i := 0; i < r.nextListener; i++ {
		if fn, ok := r.listeners[i]; ok {
			fns = append(fns, fn)
		}
	}
	r.listenersMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
