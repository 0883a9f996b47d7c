package httphandler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/samber/lo"

	"github.com/ericfisherdev/gitaccounts/internal/application"
	"github.com/ericfisherdev/gitaccounts/internal/domain/model"
)

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	registry *application.Registry
	refresh  *application.RefreshService
	logger   *slog.Logger
}

// NewHandler creates a Handler. refresh may be nil, in which case the refresh
// endpoints answer 503.
func NewHandler(registry *application.Registry, refresh *application.RefreshService, logger *slog.Logger) *Handler {
	return &Handler{
		registry: registry,
		refresh:  refresh,
		logger:   logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", h.Health)
	mux.HandleFunc("GET /api/v1/kinds", h.ListKinds)
	mux.HandleFunc("POST /api/v1/refresh", h.RefreshAll)

	mux.HandleFunc("GET /api/v1/accounts", h.ListAccounts)
	mux.HandleFunc("POST /api/v1/accounts", h.CreateAccount)
	mux.HandleFunc("GET /api/v1/accounts/{kind}/{username}", h.GetAccount)
	mux.HandleFunc("PATCH /api/v1/accounts/{kind}/{username}", h.UpdateAccount)
	mux.HandleFunc("DELETE /api/v1/accounts/{kind}/{username}", h.RemoveAccount)
	mux.HandleFunc("POST /api/v1/accounts/{kind}/{username}/connect", h.Connect)
	mux.HandleFunc("POST /api/v1/accounts/{kind}/{username}/refresh", h.RefreshAccount)
	mux.HandleFunc("POST /api/v1/accounts/{kind}/{username}/authorize", h.Authorize)
	mux.HandleFunc("GET /api/v1/accounts/{kind}/{username}/repos", h.ListRepositories)
	mux.HandleFunc("PUT /api/v1/accounts/{kind}/{username}/repos/path", h.SetRepositoryPath)
	mux.HandleFunc("PUT /api/v1/accounts/{kind}/{username}/credential", h.SetCredential)
	mux.HandleFunc("DELETE /api/v1/accounts/{kind}/{username}/credential", h.DeleteCredential)
	mux.HandleFunc("GET /api/v1/accounts/{kind}/{username}/forks", h.ForkParents)
	mux.HandleFunc("GET /api/v1/accounts/{kind}/{username}/comments", h.CommitComments)
	mux.HandleFunc("POST /api/v1/accounts/{kind}/{username}/pulls", h.CreatePullRequest)

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// Health returns service status and the number of registered accounts.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:   "ok",
		Time:     time.Now().UTC().Format(time.RFC3339),
		Accounts: len(h.registry.Accounts()),
	})
}

// ListKinds returns the provider kinds with a registered client.
func (h *Handler) ListKinds(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, lo.Map(h.registry.Kinds(), func(k model.Kind, _ int) KindResponse {
		return toKindResponse(k)
	}))
}

// ListAccounts returns every registered account in registration order.
func (h *Handler) ListAccounts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, lo.Map(h.registry.Accounts(), func(a *application.Account, _ int) AccountResponse {
		return toAccountResponse(a)
	}))
}

// CreateAccount registers a new, unconnected account.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, formatValidationError(err))
		return
	}

	kind, err := model.ParseKind(req.Kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var a *application.Account
	if req.Replace {
		a, err = h.registry.Replace(kind, req.Username, req.URL, req.TLS.toModel())
	} else {
		a, err = h.registry.CreateAccount(kind, req.Username, req.URL)
		if err == nil {
			a.SetTLS(req.TLS.toModel())
		}
	}
	if err != nil {
		h.writeRegistryError(w, err)
		return
	}

	h.persist(r.Context())
	writeJSON(w, http.StatusCreated, toAccountResponse(a))
}

// GetAccount returns a single account.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	a, ok := h.account(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toAccountResponse(a))
}

// UpdateAccount changes the base URL or TLS material of an account. The
// changes apply to the next connection attempt.
func (h *Handler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	a, ok := h.account(w, r)
	if !ok {
		return
	}

	var req UpdateAccountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, formatValidationError(err))
		return
	}

	if req.URL != nil {
		a.SetURL(*req.URL)
	}
	if req.TLS != nil {
		a.SetTLS(req.TLS.toModel())
	}

	h.persist(r.Context())
	writeJSON(w, http.StatusOK, toAccountResponse(a))
}

// RemoveAccount unregisters an account. With ?forget=true the stored
// credential is deleted as well.
func (h *Handler) RemoveAccount(w http.ResponseWriter, r *http.Request) {
	a, ok := h.account(w, r)
	if !ok {
		return
	}

	if r.URL.Query().Get("forget") == "true" {
		if err := h.registry.DeleteCredential(r.Context(), a); err != nil {
			h.logger.Error("failed to delete credential", "username", a.Username(), "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
	}

	if err := h.registry.RemoveAccount(a); err != nil {
		h.writeRegistryError(w, err)
		return
	}

	h.persist(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// Connect starts a connection attempt. Without wait the response is 202 with
// the account in its started state. With store the credential is saved on
// success and the account is removed on failure.
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	a, ok := h.account(w, r)
	if !ok {
		return
	}

	// The body is optional.
	var req ConnectRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, formatValidationError(err))
		return
	}

	if req.Store {
		if err := h.registry.ConnectAndStore(r.Context(), a, req.Credential); err != nil {
			h.writeAttemptError(w, err)
			return
		}
		h.persist(r.Context())
		writeJSON(w, http.StatusOK, toAccountResponse(a))
		return
	}

	at := a.Connect(r.Context(), req.Credential)
	if !req.Wait {
		writeJSON(w, http.StatusAccepted, toAccountResponse(a))
		return
	}

	// A failed attempt is reported through the account's error field.
	if err := at.Wait(r.Context()); err != nil && !isAccountError(err) {
		h.writeAttemptError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountResponse(a))
}

// Authorize runs the provider's browser authorization flow for an account.
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	a, ok := h.account(w, r)
	if !ok {
		return
	}

	supported, err := a.Authorize(r.Context())
	if !supported {
		writeError(w, http.StatusNotImplemented, a.Name()+" does not support authorization")
		return
	}
	if err != nil {
		h.logger.Warn("authorization failed", "username", a.Username(), "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListRepositories returns the repositories found by the last attempt.
func (h *Handler) ListRepositories(w http.ResponseWriter, r *http.Request) {
	a, ok := h.account(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(a.Repositories(), func(repo *model.Repository, _ int) RepositoryResponse {
		return toRepositoryResponse(a, repo)
	}))
}

// SetRepositoryPath records or clears the local checkout path of a repository.
func (h *Handler) SetRepositoryPath(w http.ResponseWriter, r *http.Request) {
	a, ok := h.account(w, r)
	if !ok {
		return
	}

	var req SetPathRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, formatValidationError(err))
		return
	}

	a.SetRepositoryPath(req.FullName, req.Path)
	h.persist(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// SetCredential stores an access token and/or PKCS#12 passphrase.
func (h *Handler) SetCredential(w http.ResponseWriter, r *http.Request) {
	a, ok := h.account(w, r)
	if !ok {
		return
	}

	var req CredentialRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, formatValidationError(err))
		return
	}

	if req.Token != "" {
		if err := h.registry.SetCredential(r.Context(), a, req.Token); err != nil {
			h.logger.Error("failed to store credential", "username", a.Username(), "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
	}
	if req.PKCS12Passphrase != "" {
		if err := h.registry.SetPKCS12Passphrase(r.Context(), a, req.PKCS12Passphrase); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.persist(r.Context())
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteCredential removes the stored access token of an account.
func (h *Handler) DeleteCredential(w http.ResponseWriter, r *http.Request) {
	a, ok := h.account(w, r)
	if !ok {
		return
	}
	if err := h.registry.DeleteCredential(r.Context(), a); err != nil {
		h.logger.Error("failed to delete credential", "username", a.Username(), "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ForkParents returns the parent and source clone URLs of ?repo=.
func (h *Handler) ForkParents(w http.ResponseWriter, r *http.Request) {
	a, repo, ok := h.repository(w, r, r.URL.Query().Get("repo"))
	if !ok {
		return
	}

	parents, err := a.RequestForkParents(r.Context(), repo)
	if err != nil {
		h.writeCapabilityError(w, err)
		return
	}
	if parents == nil {
		parents = map[string]string{}
	}
	writeJSON(w, http.StatusOK, ForkParentsResponse{Repository: repo.FullName, Parents: parents})
}

// CommitComments returns the comments on commit ?oid= of ?repo=.
func (h *Handler) CommitComments(w http.ResponseWriter, r *http.Request) {
	oid := r.URL.Query().Get("oid")
	if oid == "" {
		writeError(w, http.StatusBadRequest, "field 'oid' is required")
		return
	}

	a, repo, ok := h.repository(w, r, r.URL.Query().Get("repo"))
	if !ok {
		return
	}

	comments, err := a.RequestComments(r.Context(), repo, oid)
	if err != nil {
		h.writeCapabilityError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCommitCommentsResponse(repo.FullName, oid, comments))
}

// CreatePullRequest opens a pull request on the provider.
func (h *Handler) CreatePullRequest(w http.ResponseWriter, r *http.Request) {
	var req CreatePullRequestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, formatValidationError(err))
		return
	}

	a, repo, ok := h.repository(w, r, req.Repo)
	if !ok {
		return
	}

	htmlURL, err := a.CreatePullRequest(r.Context(), repo, model.PullRequest{
		OwnerRepo: req.OwnerRepo,
		Title:     req.Title,
		Body:      req.Body,
		Head:      req.Head,
		Base:      req.Base,
		CanModify: req.CanModify,
	})
	if err != nil {
		h.writeCapabilityError(w, err)
		return
	}
	if htmlURL == "" {
		writeError(w, http.StatusNotImplemented, a.Name()+" does not support pull requests")
		return
	}
	writeJSON(w, http.StatusCreated, PullRequestResponse{URL: htmlURL})
}

// RefreshAll reconnects every account and waits for the cycle to finish.
func (h *Handler) RefreshAll(w http.ResponseWriter, r *http.Request) {
	if h.refresh == nil {
		writeError(w, http.StatusServiceUnavailable, "refresh service not running")
		return
	}
	res, err := h.refresh.Refresh(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "refresh interrupted")
		return
	}
	writeJSON(w, http.StatusOK, toRefreshResponse(res))
}

// RefreshAccount reconnects a single account through the refresh loop.
func (h *Handler) RefreshAccount(w http.ResponseWriter, r *http.Request) {
	a, ok := h.account(w, r)
	if !ok {
		return
	}
	if h.refresh == nil {
		writeError(w, http.StatusServiceUnavailable, "refresh service not running")
		return
	}
	if _, err := h.refresh.RefreshAccount(r.Context(), a); err != nil {
		writeError(w, http.StatusServiceUnavailable, "refresh interrupted")
		return
	}
	writeJSON(w, http.StatusOK, toAccountResponse(a))
}

// account resolves the {kind}/{username} path values, writing 400 or 404
// when they do not name a registered account.
func (h *Handler) account(w http.ResponseWriter, r *http.Request) (*application.Account, bool) {
	kind, err := model.ParseKind(r.PathValue("kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	a := h.registry.Lookup(r.PathValue("username"), kind)
	if a == nil {
		writeError(w, http.StatusNotFound, "account not found")
		return nil, false
	}
	return a, true
}

// repository resolves the account and one of its discovered repositories.
func (h *Handler) repository(w http.ResponseWriter, r *http.Request, fullName string) (*application.Account, *model.Repository, bool) {
	a, ok := h.account(w, r)
	if !ok {
		return nil, nil, false
	}
	if fullName == "" {
		writeError(w, http.StatusBadRequest, "field 'repo' is required")
		return nil, nil, false
	}
	idx := a.IndexOf(fullName)
	if idx < 0 {
		writeError(w, http.StatusNotFound, "repository not found")
		return nil, nil, false
	}
	return a, a.Repository(idx), true
}

// persist saves the account list. Failures are logged; the in-memory state
// stays authoritative until the next successful save.
func (h *Handler) persist(ctx context.Context) {
	if err := h.registry.Save(ctx); err != nil {
		h.logger.Error("failed to save accounts", "error", err)
	}
}

func (h *Handler) writeRegistryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, application.ErrAccountExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, application.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func (h *Handler) writeAttemptError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, application.ErrSuperseded):
		writeError(w, http.StatusConflict, "superseded by a newer connection attempt")
	case errors.Is(err, application.ErrAccountRemoved):
		writeError(w, http.StatusGone, "account removed")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "connection attempt still running")
	case isAccountError(err):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		h.logger.Error("connection attempt failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (h *Handler) writeCapabilityError(w http.ResponseWriter, err error) {
	if errors.Is(err, application.ErrNotConnected) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeError(w, http.StatusBadGateway, err.Error())
}

func isAccountError(err error) bool {
	var accErr model.AccountError
	return errors.As(err, &accErr)
}
