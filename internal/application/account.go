package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/ericfisherdev/gitaccounts/internal/diaglog"
	"github.com/ericfisherdev/gitaccounts/internal/domain/model"
	"github.com/ericfisherdev/gitaccounts/internal/domain/port/driven"
	"github.com/ericfisherdev/gitaccounts/internal/tlsmaterial"
)

// PKCS12Service returns the credential store service under which the
// passphrase for the PKCS#12 bundle at path is kept.
func PKCS12Service(path string) string {
	return "pkcs12:" + path
}

// HTTPClientFunc builds the HTTP client for one attempt. identity may be nil.
type HTTPClientFunc func(identity *tlsmaterial.Identity) *http.Client

func defaultHTTPClient(identity *tlsmaterial.Identity) *http.Client {
	base := http.DefaultTransport.(*http.Transport).Clone()
	base.TLSClientConfig = identity.TLSConfig()
	return &http.Client{Transport: base, Timeout: 30 * time.Second}
}

// accountDeps are the collaborators shared by every account of a registry.
type accountDeps struct {
	credentials driven.CredentialStore
	notifier    driven.Notifier
	logger      *slog.Logger
	diag        *diaglog.Logger
	httpClient  HTTPClientFunc
	strictTLS   bool
	now         func() time.Time
}

// Account is a configured identity on one Git hosting provider. Accounts are
// created by a Registry. Kind and username never change after construction.
type Account struct {
	kind     model.Kind
	username string
	client   driven.HostClient
	deps     *accountDeps
	logger   *slog.Logger

	// applyMu serializes attempt bookkeeping, result application and event
	// delivery. Network I/O never runs under it.
	applyMu sync.Mutex
	epoch   uint64
	cancel  context.CancelFunc
	current *Attempt
	removed bool

	mu       sync.RWMutex
	url      string
	tls      model.TLSSettings
	repos    []*model.Repository
	paths    map[string]string
	progress model.Progress
	lastErr  model.AccountError

	listenersMu  sync.Mutex
	listeners    map[int]func(Event)
	nextListener int
}

func newAccount(kind model.Kind, username string, client driven.HostClient, deps *accountDeps) *Account {
	return &Account{
		kind:      kind,
		username:  username,
		client:    client,
		deps:      deps,
		logger:    deps.logger.With("kind", kind.String(), "username", username),
		paths:     make(map[string]string),
		listeners: make(map[int]func(Event)),
	}
}

func (a *Account) Kind() model.Kind { return a.kind }

// Name is the provider display name.
func (a *Account) Name() string { return a.client.Name() }

func (a *Account) Username() string { return a.username }

// Host returns the web host of the account: the custom URL's host when one
// is set, otherwise the provider's public host.
func (a *Account) Host() string {
	a.mu.RLock()
	custom := a.url
	a.mu.RUnlock()

	if custom != "" {
		if u, err := url.Parse(custom); err == nil && u.Hostname() != "" {
			return u.Hostname()
		}
	}
	return a.client.Host()
}

// ServiceURL is the credential store service for the account's token.
func (a *Account) ServiceURL() string {
	return "https://" + a.Host()
}

// DefaultURL is the provider API base URL for this username.
func (a *Account) DefaultURL() string {
	return a.client.DefaultURL(a.username)
}

// URL returns the effective API base URL.
func (a *Account) URL() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.url != "" {
		return a.url
	}
	return a.client.DefaultURL(a.username)
}

// HasCustomURL reports whether the base URL is overridden.
func (a *Account) HasCustomURL() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.url != ""
}

// SetURL overrides the API base URL. An empty URL or the provider default
// clears the override.
func (a *Account) SetURL(u string) {
	if u == a.client.DefaultURL(a.username) {
		u = ""
	}
	a.mu.Lock()
	a.url = u
	a.mu.Unlock()
}

func (a *Account) TLS() model.TLSSettings {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.tls
}

func (a *Account) SetTLS(s model.TLSSettings) {
	a.mu.Lock()
	a.tls = s
	a.mu.Unlock()
}

func (a *Account) HasPKCS12File() bool       { return a.TLS().PKCS12File.Active() }
func (a *Account) HasPKCS12Passphrase() bool { return a.TLS().PKCS12Passphrase.Active() }
func (a *Account) HasCertFile() bool         { return a.TLS().CertFile.Active() }
func (a *Account) HasCertKeyFile() bool      { return a.TLS().CertKeyFile.Active() }
func (a *Account) HasCACertFile() bool       { return a.TLS().CACertFile.Active() }

// Progress returns the state of the most recent attempt.
func (a *Account) Progress() model.Progress {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.progress
}

// Error returns the failure of the most recent attempt, if any.
func (a *Account) Error() model.AccountError {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastErr
}

// Repositories returns a snapshot of the repository list in discovery order.
func (a *Account) Repositories() []*model.Repository {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*model.Repository, len(a.repos))
	copy(out, a.repos)
	return out
}

func (a *Account) RepositoryCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.repos)
}

// Repository returns the repository at index i, or nil when out of range.
func (a *Account) Repository(i int) *model.Repository {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if i < 0 || i >= len(a.repos) {
		return nil
	}
	return a.repos[i]
}

// IndexOf returns the position of fullName in the list, or -1.
func (a *Account) IndexOf(fullName string) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.indexOfLocked(fullName)
}

func (a *Account) indexOfLocked(fullName string) int {
	for i, r := range a.repos {
		if r.FullName == fullName {
			return i
		}
	}
	return -1
}

// RepositoryPath returns the local checkout path recorded for fullName.
func (a *Account) RepositoryPath(fullName string) string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.paths[fullName]
}

// SetRepositoryPath records the local checkout path for fullName. An empty
// path removes the mapping.
func (a *Account) SetRepositoryPath(fullName, path string) {
	a.applyMu.Lock()
	defer a.applyMu.Unlock()

	a.mu.Lock()
	if path == "" {
		delete(a.paths, fullName)
	} else {
		a.paths[fullName] = path
	}
	index := a.indexOfLocked(fullName)
	a.mu.Unlock()

	a.emit(RepositoryPathChanged{eventBase: eventBase{a}, Index: index, FullName: fullName, Path: path})
}

// Config returns the persistable configuration. Secrets are never included.
func (a *Account) Config() model.AccountConfig {
	a.mu.RLock()
	defer a.mu.RUnlock()

	tls := a.tls
	cfg := model.AccountConfig{
		Kind:           a.kind,
		Username:       a.username,
		URL:            a.url,
		PKCSKeyEnabled: tls.PKCS12Passphrase.Enabled,
	}
	tls.PKCS12Passphrase = model.TLSSetting{}
	cfg.TLS = tls

	if len(a.paths) > 0 {
		cfg.RepoPaths = make(map[string]string, len(a.paths))
		for k, v := range a.paths {
			cfg.RepoPaths[k] = v
		}
	}
	return cfg
}

func (a *Account) applyConfig(cfg model.AccountConfig) {
	a.SetURL(cfg.URL)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.tls = cfg.TLS
	a.tls.PKCS12Passphrase = model.TLSSetting{Enabled: cfg.PKCSKeyEnabled}
	for k, v := range cfg.RepoPaths {
		a.paths[k] = v
	}
}

// OnEvent registers fn for this account's events and returns a function
// that unregisters it.
func (a *Account) OnEvent(fn func(Event)) (unsubscribe func()) {
	a.listenersMu.Lock()
	id := a.nextListener
	a.nextListener++
	a.listeners[id] = fn
	a.listenersMu.Unlock()

	return func() {
		a.listenersMu.Lock()
		delete(a.listeners, id)
		a.listenersMu.Unlock()
	}
}

func (a *Account) emit(ev Event) {
	a.listenersMu.Lock()
	fns := make([]func(Event), 0, len(a.listeners))
	for i := 0; i < a.nextListener; i++ {
		if fn, ok := a.listeners[i]; ok {
			fns = append(fns, fn)
		}
	}
	a.listenersMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// AddRepository appends a repository and returns it.
func (a *Account) AddRepository(name, fullName string) *model.Repository {
	a.applyMu.Lock()
	defer a.applyMu.Unlock()
	return a.insertRepository(model.NewRepository(name, fullName))
}

// insertRepository requires applyMu.
func (a *Account) insertRepository(repo *model.Repository) *model.Repository {
	a.mu.RLock()
	index := len(a.repos)
	a.mu.RUnlock()

	a.emit(RepositoryAboutToBeAdded{eventBase: eventBase{a}, Index: index})

	a.mu.Lock()
	a.repos = append(a.repos, repo)
	a.mu.Unlock()

	a.emit(RepositoryAdded{eventBase: eventBase{a}, Index: index, Repository: repo})
	return repo
}

// Connect starts a new connection attempt and returns immediately. Any
// attempt still in flight is superseded: its result is discarded when it
// arrives. credential may be empty, in which case the stored secret for
// (ServiceURL, username) is used.
//
// Credential resolution and TLS decoding happen before Connect returns. When
// no credential can be resolved the attempt fails without a network call.
func (a *Account) Connect(ctx context.Context, credential string) *Attempt {
	a.applyMu.Lock()
	defer a.applyMu.Unlock()

	if a.removed {
		at := newAttempt(a.epoch)
		at.supersede(ErrAccountRemoved)
		return at
	}

	a.epoch++
	epoch := a.epoch
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.current != nil {
		a.current.supersede(ErrSuperseded)
	}
	at := newAttempt(epoch)
	a.current = at

	a.mu.Lock()
	hadRepos := len(a.repos) > 0
	a.repos = nil
	a.lastErr = model.AccountError{}
	a.progress = model.Progress{State: model.ProgressStarted, StartedAt: a.deps.now()}
	a.mu.Unlock()

	if hadRepos {
		a.emit(RepositoriesCleared{eventBase{a}})
	}
	a.emit(ProgressStarted{eventBase: eventBase{a}, Epoch: epoch})

	req, accErr := a.prepare(ctx, credential)
	if accErr.IsValid() {
		a.finishLocked(at, accErr)
		return at
	}

	attemptCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel

	a.logger.Debug("connecting", "url", req.BaseURL, "epoch", epoch)

	go func() {
		defer cancel()
		repos, err := a.client.ListRepositories(attemptCtx, req)
		a.complete(at, repos, err)
	}()

	return at
}

// prepare resolves the credential and TLS identity for a request.
func (a *Account) prepare(ctx context.Context, credential string) (driven.ConnectRequest, model.AccountError) {
	req := driven.ConnectRequest{
		BaseURL:  a.URL(),
		Username: a.username,
	}

	secret, accErr := a.resolveCredential(ctx, credential)
	if accErr.IsValid() {
		return req, accErr
	}
	req.Credential = secret

	identity, accErr := a.loadIdentity(ctx)
	if accErr.IsValid() {
		return req, accErr
	}

	a.deps.diag.Logf("Base URL: %s", req.BaseURL)
	req.HTTPClient = a.deps.httpClient(identity)
	return req, model.AccountError{}
}

// resolveCredential prefers the explicit value over the stored secret.
func (a *Account) resolveCredential(ctx context.Context, explicit string) (string, model.AccountError) {
	if explicit != "" {
		return explicit, model.AccountError{}
	}

	service := a.ServiceURL()
	if a.deps.credentials == nil {
		return "", authError(fmt.Sprintf("no credential for %s at %s", a.username, service))
	}

	secret, err := a.deps.credentials.Get(ctx, service, a.username)
	if err != nil {
		a.logger.Warn("credential lookup failed", "service", service, "error", err)
		return "", authError(fmt.Sprintf("credential lookup failed: %v", err))
	}
	if secret == "" {
		return "", authError(fmt.Sprintf("no credential for %s at %s", a.username, service))
	}
	return secret, model.AccountError{}
}

func authError(detail string) model.AccountError {
	return model.AccountError{Kind: model.ErrorAuthentication, Text: "Authentication failed", DetailedText: detail}
}

// loadIdentity decodes the configured TLS material. A decode failure is
// logged and the attempt proceeds with whatever did decode unless strict TLS
// is enabled.
func (a *Account) loadIdentity(ctx context.Context) (*tlsmaterial.Identity, model.AccountError) {
	settings := a.TLS()
	if settings.Empty() {
		return nil, model.AccountError{}
	}

	if settings.PKCS12File.Active() && settings.PKCS12Passphrase.Enabled && settings.PKCS12Passphrase.Value == "" {
		settings.PKCS12Passphrase.Value = a.storedPassphrase(ctx, settings.PKCS12File.Value)
	}

	identity, err := tlsmaterial.Load(settings)
	if err != nil {
		a.deps.diag.Logf("TLS import failed: %v", err)
		if a.deps.strictTLS {
			a.logger.Error("tls material rejected", "error", err)
			return nil, model.AccountError{Kind: model.ErrorTLSDecode, Text: "Invalid TLS material", DetailedText: err.Error()}
		}
		a.logger.Warn("tls material could not be fully decoded, continuing without it", "error", err,
			"client_identity", identity.HasCertificate())
	}

	switch {
	case !identity.HasCertificate():
	case settings.PKCS12File.Active():
		a.deps.diag.Logf("Imported PKCS#12 bundle: %s", settings.PKCS12File.Value)
	default:
		a.deps.diag.Logf("Imported certificate: %s, key: %s", settings.CertFile.Value, settings.CertKeyFile.Value)
	}
	if identity != nil && len(identity.CAs) > 0 {
		a.deps.diag.Logf("Imported CA certificates: %s", settings.CACertFile.Value)
	}
	if identity.HasCertificate() {
		a.deps.diag.Logf("Issuer: %s", identity.IssuerName())
	}
	return identity, model.AccountError{}
}

func (a *Account) storedPassphrase(ctx context.Context, path string) string {
	if a.deps.credentials == nil {
		return ""
	}
	pass, err := a.deps.credentials.Get(ctx, PKCS12Service(path), a.username)
	if err != nil {
		a.logger.Warn("pkcs12 passphrase lookup failed", "file", path, "error", err)
		return ""
	}
	return pass
}

// complete applies the result of attempt at unless it has been superseded or
// the account was removed.
func (a *Account) complete(at *Attempt, repos []model.Repository, err error) {
	a.applyMu.Lock()

	if a.removed || at.epoch != a.epoch {
		a.applyMu.Unlock()
		a.logger.Debug("discarding stale reply", "epoch", at.epoch)
		return
	}
	a.cancel = nil

	var accErr model.AccountError
	if err != nil {
		accErr = classify(err)
		a.logger.Warn("connection failed", "error", err)
	} else {
		for _, r := range repos {
			repo := model.NewRepository(r.Name, r.FullName)
			for p, u := range r.URLs {
				repo.SetURL(p, u)
			}
			a.insertRepository(repo)
		}
		a.logger.Info("connected", "repositories", len(repos))
	}

	count := a.finishLocked(at, accErr)
	a.applyMu.Unlock()

	a.notify(accErr, count)
}

// finishLocked records the outcome, emits ProgressFinished and releases
// waiters. It requires applyMu and returns the repository count.
func (a *Account) finishLocked(at *Attempt, accErr model.AccountError) int {
	a.mu.Lock()
	a.lastErr = accErr
	a.progress.State = model.ProgressFinished
	a.progress.FinishedAt = a.deps.now()
	count := len(a.repos)
	a.mu.Unlock()

	a.emit(ProgressFinished{eventBase: eventBase{a}, Epoch: at.epoch, Error: accErr, Repositories: count})

	if accErr.IsValid() {
		at.finish(accErr)
	} else {
		at.finish(nil)
	}
	if a.current == at {
		a.current = nil
	}
	return count
}

func (a *Account) notify(accErr model.AccountError, count int) {
	if a.deps.notifier == nil {
		return
	}
	title := a.username + "@" + a.client.Name()
	msg := fmt.Sprintf("%d repositories", count)
	if accErr.IsValid() {
		msg = accErr.Error()
	}
	if err := a.deps.notifier.Notify(title, msg); err != nil {
		a.logger.Debug("desktop notification failed", "error", err)
	}
}

// classify maps a provider error to the user-visible AccountError.
func classify(err error) model.AccountError {
	switch {
	case errors.Is(err, driven.ErrUnauthorized):
		return model.AccountError{Kind: model.ErrorAuthentication, Text: "Authentication failed", DetailedText: err.Error()}
	case errors.Is(err, driven.ErrParse):
		return model.AccountError{Kind: model.ErrorParse, Text: "Invalid response", DetailedText: err.Error()}
	default:
		return model.AccountError{Kind: model.ErrorTransport, Text: "Connection failed", DetailedText: err.Error()}
	}
}

// markRemoved discards any in-flight attempt. Later replies become no-ops.
func (a *Account) markRemoved() {
	a.applyMu.Lock()
	defer a.applyMu.Unlock()

	a.removed = true
	a.stopLocked(ErrAccountRemoved)
}

// stop cancels the in-flight attempt, if any, without removing the account.
// A cancelled attempt still gets its ProgressFinished, marked Stopped.
func (a *Account) stop() {
	a.applyMu.Lock()
	defer a.applyMu.Unlock()

	at := a.current
	a.epoch++
	a.stopLocked(ErrSuperseded)
	if at == nil {
		return
	}

	a.mu.Lock()
	a.progress.State = model.ProgressFinished
	a.progress.FinishedAt = a.deps.now()
	count := len(a.repos)
	a.mu.Unlock()

	a.emit(ProgressFinished{eventBase: eventBase{a}, Epoch: at.epoch, Repositories: count, Stopped: true})
}

func (a *Account) stopLocked(reason error) {
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.current != nil {
		a.current.supersede(reason)
		a.current = nil
	}
}

func (a *Account) isRemoved() bool {
	a.applyMu.Lock()
	defer a.applyMu.Unlock()
	return a.removed
}
