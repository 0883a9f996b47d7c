package httphandler_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httphandler "github.com/ericfisherdev/gitaccounts/internal/adapter/driving/http"
	"github.com/ericfisherdev/gitaccounts/internal/application"
	"github.com/ericfisherdev/gitaccounts/internal/domain/model"
	"github.com/ericfisherdev/gitaccounts/internal/domain/port/driven"
)

// --- Mock implementations ---

type stubClient struct {
	kind    model.Kind
	repos   []model.Repository
	err     error
	release chan struct{}

	mu   sync.Mutex
	last driven.ConnectRequest
}

func (s *stubClient) Kind() model.Kind { return s.kind }
func (s *stubClient) Name() string     { return s.kind.DisplayName() }
func (s *stubClient) Host() string     { return s.kind.String() + ".example" }

func (s *stubClient) DefaultURL(username string) string {
	return "https://api." + s.kind.String() + ".example/" + username
}

func (s *stubClient) ListRepositories(ctx context.Context, req driven.ConnectRequest) ([]model.Repository, error) {
	s.mu.Lock()
	s.last = req
	s.mu.Unlock()
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.repos, s.err
}

func (s *stubClient) lastRequest() driven.ConnectRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// capableStub adds fork, pull request and comment support.
type capableStub struct {
	stubClient
	parents  map[string]string
	prURL    string
	prErr    error
	comments model.CommitComments
	lastPR   model.PullRequest
}

func (c *capableStub) ForkParents(_ context.Context, _ driven.ConnectRequest, _ model.Repository) (map[string]string, error) {
	return c.parents, nil
}

func (c *capableStub) CreatePullRequest(_ context.Context, _ driven.ConnectRequest, pr model.PullRequest) (string, error) {
	c.lastPR = pr
	return c.prURL, c.prErr
}

func (c *capableStub) CommitComments(_ context.Context, _ driven.ConnectRequest, _ model.Repository, _ string) (model.CommitComments, error) {
	return c.comments, nil
}

type memCredentials struct {
	mu      sync.Mutex
	secrets map[string]string
}

func (m *memCredentials) Get(_ context.Context, service, username string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.secrets[service+"|"+username], nil
}

func (m *memCredentials) Put(_ context.Context, service, username, secret string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[service+"|"+username] = secret
	return nil
}

func (m *memCredentials) Delete(_ context.Context, service, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.secrets, service+"|"+username)
	return nil
}

func (m *memCredentials) get(service, username string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.secrets[service+"|"+username]
}

type memAccountStore struct {
	mu    sync.Mutex
	saved []model.AccountConfig
}

func (m *memAccountStore) LoadAccounts(_ context.Context) ([]model.AccountConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saved, nil
}

func (m *memAccountStore) SaveAccounts(_ context.Context, accounts []model.AccountConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = accounts
	return nil
}

func (m *memAccountStore) snapshot() []model.AccountConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.AccountConfig(nil), m.saved...)
}

// --- Test helpers ---

type testEnv struct {
	mux      http.Handler
	registry *application.Registry
	creds    *memCredentials
	store    *memAccountStore
}

func setupEnv(t *testing.T, refresh bool, clients ...driven.HostClient) *testEnv {
	t.Helper()

	provider := application.NewClientProvider()
	for _, c := range clients {
		provider.Register(c.Kind(), func() driven.HostClient { return c })
	}

	env := &testEnv{
		creds: &memCredentials{secrets: make(map[string]string)},
		store: &memAccountStore{},
	}
	logger := slog.Default()
	env.registry = application.NewRegistry(provider, env.creds, env.store, application.WithLogger(logger))
	t.Cleanup(env.registry.Close)

	var svc *application.RefreshService
	if refresh {
		ctx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)
		svc = application.NewRefreshService(env.registry, 0, logger)
		go svc.Start(ctx)
	}

	env.mux = httphandler.NewServeMux(httphandler.NewHandler(env.registry, svc, logger), logger)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) addAccount(t *testing.T, kind model.Kind, username string) *application.Account {
	t.Helper()
	a, err := e.registry.CreateAccount(kind, username, "")
	require.NoError(t, err)
	return a
}

// connect runs a blocking attempt so the account holds repositories.
func (e *testEnv) connect(t *testing.T, a *application.Account) {
	t.Helper()
	require.NoError(t, a.Connect(context.Background(), "tok").Wait(context.Background()))
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	decodeJSON(t, rec, &body)
	return body["error"]
}

func repo(name, owner string) model.Repository {
	r := model.NewRepository(name, owner+"/"+name)
	r.SetURL(model.ProtocolHTTPS, "https://example.com/"+owner+"/"+name+".git")
	r.SetURL(model.ProtocolSSH, "git@example.com:"+owner+"/"+name+".git")
	return *r
}

// --- Tests ---

func TestHealth(t *testing.T) {
	env := setupEnv(t, false, &stubClient{kind: model.KindGitLab})
	env.addAccount(t, model.KindGitLab, "alice")

	rec := env.do(t, http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	var resp httphandler.HealthResponse
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Accounts)
	_, err := time.Parse(time.RFC3339, resp.Time)
	assert.NoError(t, err)
}

func TestRequestIDEchoed(t *testing.T) {
	env := setupEnv(t, false)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-Id", "abc-123")
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-Id"))
}

func TestListKinds(t *testing.T) {
	env := setupEnv(t, false, &stubClient{kind: model.KindGitLab}, &stubClient{kind: model.KindGitHub})

	rec := env.do(t, http.MethodGet, "/api/v1/kinds", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var kinds []httphandler.KindResponse
	decodeJSON(t, rec, &kinds)
	require.Len(t, kinds, 2)
	assert.Equal(t, "github", kinds[0].Kind)
	assert.Equal(t, "GitHub", kinds[0].Name)
	assert.NotEmpty(t, kinds[0].Help)
	assert.Equal(t, "gitlab", kinds[1].Kind)
}

func TestCreateAccount(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantError  string
	}{
		{
			name:       "created",
			body:       `{"kind":"gitlab","username":"alice"}`,
			wantStatus: http.StatusCreated,
		},
		{
			name:       "custom url",
			body:       `{"kind":"gitlab","username":"alice","url":"https://git.corp.example/api/v4"}`,
			wantStatus: http.StatusCreated,
		},
		{
			name:       "missing username",
			body:       `{"kind":"gitlab"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "field 'username' is required",
		},
		{
			name:       "invalid url",
			body:       `{"kind":"gitlab","username":"alice","url":"not a url"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "field 'url' must be a valid URL",
		},
		{
			name:       "unknown kind",
			body:       `{"kind":"sourceforge","username":"alice"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "unknown account kind",
		},
		{
			name:       "kind without client",
			body:       `{"kind":"bitbucket","username":"alice"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "unknown account kind",
		},
		{
			name:       "malformed json",
			body:       `{"kind":`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown field",
			body:       `{"kind":"gitlab","username":"alice","token":"secret"}`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupEnv(t, false, &stubClient{kind: model.KindGitLab})

			rec := env.do(t, http.MethodPost, "/api/v1/accounts", tt.body)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())

			if tt.wantStatus != http.StatusCreated {
				if tt.wantError != "" {
					assert.Contains(t, errorMessage(t, rec), tt.wantError)
				}
				assert.Empty(t, env.registry.Accounts())
				return
			}

			var resp httphandler.AccountResponse
			decodeJSON(t, rec, &resp)
			assert.Equal(t, "gitlab", resp.Kind)
			assert.Equal(t, "alice", resp.Username)
			assert.Equal(t, "inactive", resp.Progress.State)
			assert.Equal(t, -1, resp.Progress.Value)
			assert.Nil(t, resp.Error)
			assert.Len(t, env.store.snapshot(), 1, "account list persisted")
		})
	}
}

func TestCreateAccount_CustomURLChangesHost(t *testing.T) {
	env := setupEnv(t, false, &stubClient{kind: model.KindGitLab})

	rec := env.do(t, http.MethodPost, "/api/v1/accounts",
		`{"kind":"gitlab","username":"alice","url":"https://git.corp.example/api/v4"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp httphandler.AccountResponse
	decodeJSON(t, rec, &resp)
	assert.True(t, resp.CustomURL)
	assert.Equal(t, "git.corp.example", resp.Host)
	assert.Equal(t, "https://git.corp.example", resp.ServiceURL)
}

func TestCreateAccount_Duplicate(t *testing.T) {
	env := setupEnv(t, false, &stubClient{kind: model.KindGitLab})
	env.addAccount(t, model.KindGitLab, "alice")

	rec := env.do(t, http.MethodPost, "/api/v1/accounts", `{"kind":"gitlab","username":"alice"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateAccount_Replace(t *testing.T) {
	env := setupEnv(t, false, &stubClient{kind: model.KindGitLab})
	old := env.addAccount(t, model.KindGitLab, "alice")

	rec := env.do(t, http.MethodPost, "/api/v1/accounts",
		`{"kind":"gitlab","username":"alice","replace":true,"tls":{"ca_cert_file":{"value":"/etc/ca.pem","enabled":true}}}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	current := env.registry.Lookup("alice", model.KindGitLab)
	require.NotNil(t, current)
	assert.NotSame(t, old, current)
	assert.Equal(t, "/etc/ca.pem", current.TLS().CACertFile.Value)
}

func TestCreateAccount_TLSEnabledWithoutValue(t *testing.T) {
	env := setupEnv(t, false, &stubClient{kind: model.KindGitLab})

	rec := env.do(t, http.MethodPost, "/api/v1/accounts",
		`{"kind":"gitlab","username":"alice","tls":{"cert_file":{"enabled":true}}}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, errorMessage(t, rec), "'value'")
}

func TestGetAccount(t *testing.T) {
	env := setupEnv(t, false, &stubClient{kind: model.KindGitLab})
	env.addAccount(t, model.KindGitLab, "alice")

	t.Run("found", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/accounts/gitlab/alice", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp httphandler.AccountResponse
		decodeJSON(t, rec, &resp)
		assert.Equal(t, "GitLab", resp.Name)
		assert.Equal(t, "https://api.gitlab.example/alice", resp.URL)
		assert.False(t, resp.CustomURL)
	})

	t.Run("kind is case insensitive", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/accounts/GitLab/alice", "")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("unknown username", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/accounts/gitlab/bob", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("unknown kind", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/accounts/svn/alice", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestUpdateAccount(t *testing.T) {
	env := setupEnv(t, false, &stubClient{kind: model.KindGitLab})
	a := env.addAccount(t, model.KindGitLab, "alice")

	rec := env.do(t, http.MethodPatch, "/api/v1/accounts/gitlab/alice", `{"url":"https://git.corp.example/api/v4"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://git.corp.example/api/v4", a.URL())

	rec = env.do(t, http.MethodPatch, "/api/v1/accounts/gitlab/alice", `{"url":""}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, a.HasCustomURL(), "empty url clears the override")

	saved := env.store.snapshot()
	require.Len(t, saved, 1)
	assert.Empty(t, saved[0].URL)
}

func TestRemoveAccount(t *testing.T) {
	env := setupEnv(t, false, &stubClient{kind: model.KindGitLab})
	a := env.addAccount(t, model.KindGitLab, "alice")
	require.NoError(t, env.creds.Put(context.Background(), a.ServiceURL(), "alice", "tok"))

	rec := env.do(t, http.MethodDelete, "/api/v1/accounts/gitlab/alice", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Nil(t, env.registry.Lookup("alice", model.KindGitLab))
	assert.Equal(t, "tok", env.creds.get("https://gitlab.example", "alice"), "credential kept without forget")

	rec = env.do(t, http.MethodDelete, "/api/v1/accounts/gitlab/alice", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRemoveAccount_Forget(t *testing.T) {
	env := setupEnv(t, false, &stubClient{kind: model.KindGitLab})
	a := env.addAccount(t, model.KindGitLab, "alice")
	require.NoError(t, env.creds.Put(context.Background(), a.ServiceURL(), "alice", "tok"))

	rec := env.do(t, http.MethodDelete, "/api/v1/accounts/gitlab/alice?forget=true", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, env.creds.get("https://gitlab.example", "alice"))
}

func TestConnect_Wait(t *testing.T) {
	client := &stubClient{
		kind:  model.KindGitLab,
		repos: []model.Repository{repo("api", "team"), repo("web", "team")},
	}
	env := setupEnv(t, false, client)
	env.addAccount(t, model.KindGitLab, "alice")

	rec := env.do(t, http.MethodPost, "/api/v1/accounts/gitlab/alice/connect", `{"credential":"tok","wait":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp httphandler.AccountResponse
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "finished", resp.Progress.State)
	assert.Equal(t, 2, resp.RepositoryCount)
	assert.Nil(t, resp.Error)
	assert.NotEmpty(t, resp.Progress.FinishedAt)

	last := client.lastRequest()
	assert.Equal(t, "tok", last.Credential)
	assert.Equal(t, "https://api.gitlab.example/alice", last.BaseURL)
	assert.Empty(t, env.creds.get("https://gitlab.example", "alice"), "plain connect does not store the credential")
}

func TestConnect_WaitWithoutCredential(t *testing.T) {
	env := setupEnv(t, false, &stubClient{kind: model.KindGitLab})
	env.addAccount(t, model.KindGitLab, "alice")

	rec := env.do(t, http.MethodPost, "/api/v1/accounts/gitlab/alice/connect", `{"wait":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp httphandler.AccountResponse
	decodeJSON(t, rec, &resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "authentication", resp.Error.Kind)
	assert.Equal(t, "Authentication failed", resp.Error.Text)
}

func TestConnect_StoredCredentialWithoutBody(t *testing.T) {
	client := &stubClient{kind: model.KindGitLab, repos: []model.Repository{repo("api", "team")}}
	env := setupEnv(t, false, client)
	a := env.addAccount(t, model.KindGitLab, "alice")
	require.NoError(t, env.creds.Put(context.Background(), a.ServiceURL(), "alice", "stored"))

	rec := env.do(t, http.MethodPost, "/api/v1/accounts/gitlab/alice/connect", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		return a.Progress().State == model.ProgressFinished
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "stored", client.lastRequest().Credential)
	assert.Equal(t, 1, a.RepositoryCount())
}

func TestConnect_AsyncReportsStarted(t *testing.T) {
	client := &stubClient{kind: model.KindGitLab, release: make(chan struct{})}
	env := setupEnv(t, false, client)
	a := env.addAccount(t, model.KindGitLab, "alice")

	rec := env.do(t, http.MethodPost, "/api/v1/accounts/gitlab/alice/connect", `{"credential":"tok"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp httphandler.AccountResponse
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "started", resp.Progress.State)
	assert.Equal(t, 0, resp.Progress.Value)

	close(client.release)
	require.Eventually(t, func() bool {
		return a.Progress().State == model.ProgressFinished
	}, time.Second, 5*time.Millisecond)
}

func TestConnect_StoreSuccess(t *testing.T) {
	client := &stubClient{kind: model.KindGitLab, repos: []model.Repository{repo("api", "team")}}
	env := setupEnv(t, false, client)
	env.addAccount(t, model.KindGitLab, "alice")

	rec := env.do(t, http.MethodPost, "/api/v1/accounts/gitlab/alice/connect", `{"credential":"tok","store":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "tok", env.creds.get("https://gitlab.example", "alice"))
}

func TestConnect_StoreFailureRemovesAccount(t *testing.T) {
	client := &stubClient{kind: model.KindGitLab, err: fmt.Errorf("status 401: %w", driven.ErrUnauthorized)}
	env := setupEnv(t, false, client)
	env.addAccount(t, model.KindGitLab, "alice")

	rec := env.do(t, http.MethodPost, "/api/v1/accounts/gitlab/alice/connect", `{"credential":"bad","store":true}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, errorMessage(t, rec), "Authentication failed")
	assert.Nil(t, env.registry.Lookup("alice", model.KindGitLab))
	assert.Empty(t, env.creds.get("https://gitlab.example", "alice"))
}

func TestConnect_StoreRequiresCredential(t *testing.T) {
	env := setupEnv(t, false, &stubClient{kind: model.KindGitLab})
	env.addAccount(t, model.KindGitLab, "alice")

	rec := env.do(t, http.MethodPost, "/api/v1/accounts/gitlab/alice/connect", `{"store":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRepositories(t *testing.T) {
	client := &stubClient{
		kind:  model.KindGitLab,
		repos: []model.Repository{repo("api", "team"), repo("web", "team")},
	}
	env := setupEnv(t, false, client)
	a := env.addAccount(t, model.KindGitLab, "alice")
	env.connect(t, a)

	rec := env.do(t, http.MethodPut, "/api/v1/accounts/gitlab/alice/repos/path", `{"full_name":"team/web","path":"/src/web"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/accounts/gitlab/alice/repos", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var repos []httphandler.RepositoryResponse
	decodeJSON(t, rec, &repos)
	require.Len(t, repos, 2)
	assert.Equal(t, "team/api", repos[0].FullName, "provider order preserved")
	assert.Equal(t, "team", repos[0].Owner)
	assert.Equal(t, "https://example.com/team/api.git", repos[0].HTTPSURL)
	assert.Empty(t, repos[0].Path)
	assert.Equal(t, "/src/web", repos[1].Path)

	saved := env.store.snapshot()
	require.Len(t, saved, 1)
	assert.Equal(t, map[string]string{"team/web": "/src/web"}, saved[0].RepoPaths)
}

func TestSetRepositoryPath_RequiresFullName(t *testing.T) {
	env := setupEnv(t, false, &stubClient{kind: model.KindGitLab})
	env.addAccount(t, model.KindGitLab, "alice")

	rec := env.do(t, http.MethodPut, "/api/v1/accounts/gitlab/alice/repos/path", `{"path":"/src"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "field 'full_name' is required", errorMessage(t, rec))
}

func TestCredential(t *testing.T) {
	env := setupEnv(t, false, &stubClient{kind: model.KindGitLab})
	env.addAccount(t, model.KindGitLab, "alice")

	rec := env.do(t, http.MethodPut, "/api/v1/accounts/gitlab/alice/credential", `{"token":"tok"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "tok", env.creds.get("https://gitlab.example", "alice"))

	rec = env.do(t, http.MethodPut, "/api/v1/accounts/gitlab/alice/credential", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, errorMessage(t, rec), "'token'")

	rec = env.do(t, http.MethodDelete, "/api/v1/accounts/gitlab/alice/credential", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, env.creds.get("https://gitlab.example", "alice"))
}

func TestCredential_PKCS12Passphrase(t *testing.T) {
	env := setupEnv(t, false, &stubClient{kind: model.KindGitLab})
	a := env.addAccount(t, model.KindGitLab, "alice")

	rec := env.do(t, http.MethodPut, "/api/v1/accounts/gitlab/alice/credential", `{"pkcs12_passphrase":"hunter2"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code, "no PKCS#12 file configured")

	a.SetTLS(model.TLSSettings{PKCS12File: model.TLSSetting{Value: "/certs/me.p12", Enabled: true}})
	rec = env.do(t, http.MethodPut, "/api/v1/accounts/gitlab/alice/credential", `{"pkcs12_passphrase":"hunter2"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "hunter2", env.creds.get(application.PKCS12Service("/certs/me.p12"), "alice"))

	rec = env.do(t, http.MethodGet, "/api/v1/accounts/gitlab/alice", "")
	assert.NotContains(t, rec.Body.String(), "hunter2")
	var resp httphandler.AccountResponse
	decodeJSON(t, rec, &resp)
	assert.True(t, resp.TLS.PKCS12PassphraseEnabled)
}

func TestForkParents(t *testing.T) {
	client := &capableStub{
		stubClient: stubClient{kind: model.KindGitHub, repos: []model.Repository{repo("fork", "alice")}},
		parents: map[string]string{
			"team/fork":     "https://github.com/team/fork.git",
			"upstream/fork": "https://github.com/upstream/fork.git",
		},
	}
	env := setupEnv(t, false, client)
	a := env.addAccount(t, model.KindGitHub, "alice")
	require.NoError(t, env.creds.Put(context.Background(), a.ServiceURL(), "alice", "tok"))
	env.connect(t, a)

	rec := env.do(t, http.MethodGet, "/api/v1/accounts/github/alice/forks?repo=alice/fork", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp httphandler.ForkParentsResponse
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "alice/fork", resp.Repository)
	assert.Equal(t, client.parents, resp.Parents)

	rec = env.do(t, http.MethodGet, "/api/v1/accounts/github/alice/forks?repo=alice/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/accounts/github/alice/forks", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestForkParents_Unsupported(t *testing.T) {
	client := &stubClient{kind: model.KindGitLab, repos: []model.Repository{repo("api", "team")}}
	env := setupEnv(t, false, client)
	a := env.addAccount(t, model.KindGitLab, "alice")
	env.connect(t, a)

	rec := env.do(t, http.MethodGet, "/api/v1/accounts/gitlab/alice/forks?repo=team/api", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp httphandler.ForkParentsResponse
	decodeJSON(t, rec, &resp)
	assert.Empty(t, resp.Parents)
}

func TestForkParents_NotConnected(t *testing.T) {
	client := &capableStub{stubClient: stubClient{kind: model.KindGitHub, repos: []model.Repository{repo("fork", "alice")}}}
	env := setupEnv(t, false, client)
	a := env.addAccount(t, model.KindGitHub, "alice")
	env.connect(t, a)

	// The explicit credential used above was never stored.
	rec := env.do(t, http.MethodGet, "/api/v1/accounts/github/alice/forks?repo=alice/fork", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCommitComments(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var cc model.CommitComments
	cc.Add("", 0, model.Comment{Body: "**ship it**", Author: "bob", CreatedAt: created})
	cc.Add("main.go", 12, model.Comment{Body: "nit", Author: "carol", CreatedAt: created})
	cc.Add("main.go", 3, model.Comment{Body: "<script>x()</script>why?", Author: "carol", CreatedAt: created})
	cc.Add("go.mod", 1, model.Comment{Body: "bump", Author: "dave", CreatedAt: created})

	client := &capableStub{
		stubClient: stubClient{kind: model.KindGitHub, repos: []model.Repository{repo("api", "team")}},
		comments:   cc,
	}
	env := setupEnv(t, false, client)
	a := env.addAccount(t, model.KindGitHub, "alice")
	require.NoError(t, env.creds.Put(context.Background(), a.ServiceURL(), "alice", "tok"))
	env.connect(t, a)

	rec := env.do(t, http.MethodGet, "/api/v1/accounts/github/alice/comments?repo=team/api&oid=abc123", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp httphandler.CommitCommentsResponse
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "abc123", resp.OID)
	require.Len(t, resp.Comments, 1)
	assert.Contains(t, resp.Comments[0].BodyHTML, "<strong>ship it</strong>")
	assert.Equal(t, "2026-03-01T12:00:00Z", resp.Comments[0].CreatedAt)

	require.Len(t, resp.Files, 2)
	assert.Equal(t, "go.mod", resp.Files[0].Path)
	assert.Equal(t, "main.go", resp.Files[1].Path)
	require.Len(t, resp.Files[1].Lines, 2)
	assert.Equal(t, 3, resp.Files[1].Lines[0].Line)
	assert.Equal(t, 12, resp.Files[1].Lines[1].Line)
	assert.NotContains(t, resp.Files[1].Lines[0].Comments[0].BodyHTML, "<script>")

	rec = env.do(t, http.MethodGet, "/api/v1/accounts/github/alice/comments?repo=team/api", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreatePullRequest(t *testing.T) {
	client := &capableStub{
		stubClient: stubClient{kind: model.KindGitHub, repos: []model.Repository{repo("fork", "alice")}},
		prURL:      "https://github.com/team/fork/pull/7",
	}
	env := setupEnv(t, false, client)
	a := env.addAccount(t, model.KindGitHub, "alice")
	require.NoError(t, env.creds.Put(context.Background(), a.ServiceURL(), "alice", "tok"))
	env.connect(t, a)

	var events []application.Event
	unsub := a.OnEvent(func(ev application.Event) { events = append(events, ev) })
	defer unsub()

	rec := env.do(t, http.MethodPost, "/api/v1/accounts/github/alice/pulls",
		`{"repo":"alice/fork","owner_repo":"team/fork","title":"Fix","head":"alice:fix","base":"main","can_modify":true}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp httphandler.PullRequestResponse
	decodeJSON(t, rec, &resp)
	assert.Equal(t, client.prURL, resp.URL)
	assert.Equal(t, "team/fork", client.lastPR.OwnerRepo)
	assert.True(t, client.lastPR.CanModify)

	require.Len(t, events, 1)
	created, ok := events[0].(application.PullRequestCreated)
	require.True(t, ok)
	assert.Equal(t, "fork", created.Name)
}

func TestCreatePullRequest_ProviderError(t *testing.T) {
	client := &capableStub{
		stubClient: stubClient{kind: model.KindGitHub, repos: []model.Repository{repo("fork", "alice")}},
		prErr:      fmt.Errorf("A pull request already exists for alice:fix"),
	}
	env := setupEnv(t, false, client)
	a := env.addAccount(t, model.KindGitHub, "alice")
	require.NoError(t, env.creds.Put(context.Background(), a.ServiceURL(), "alice", "tok"))
	env.connect(t, a)

	rec := env.do(t, http.MethodPost, "/api/v1/accounts/github/alice/pulls",
		`{"repo":"alice/fork","title":"Fix","head":"fix","base":"main"}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, errorMessage(t, rec), "already exists")
}

func TestCreatePullRequest_Validation(t *testing.T) {
	env := setupEnv(t, false, &stubClient{kind: model.KindGitHub})
	env.addAccount(t, model.KindGitHub, "alice")

	rec := env.do(t, http.MethodPost, "/api/v1/accounts/github/alice/pulls", `{"repo":"alice/fork","head":"fix"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	msg := errorMessage(t, rec)
	assert.Contains(t, msg, "field 'title' is required")
	assert.Contains(t, msg, "field 'base' is required")
}

func TestCreatePullRequest_Unsupported(t *testing.T) {
	client := &stubClient{kind: model.KindGitLab, repos: []model.Repository{repo("api", "team")}}
	env := setupEnv(t, false, client)
	a := env.addAccount(t, model.KindGitLab, "alice")
	env.connect(t, a)

	rec := env.do(t, http.MethodPost, "/api/v1/accounts/gitlab/alice/pulls",
		`{"repo":"team/api","title":"Fix","head":"fix","base":"main"}`)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestAuthorize_Unsupported(t *testing.T) {
	env := setupEnv(t, false, &stubClient{kind: model.KindGitLab})
	env.addAccount(t, model.KindGitLab, "alice")

	rec := env.do(t, http.MethodPost, "/api/v1/accounts/gitlab/alice/authorize", "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestRefresh(t *testing.T) {
	t.Run("service not running", func(t *testing.T) {
		env := setupEnv(t, false)
		rec := env.do(t, http.MethodPost, "/api/v1/refresh", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("all accounts", func(t *testing.T) {
		client := &stubClient{kind: model.KindGitLab, repos: []model.Repository{repo("api", "team")}}
		env := setupEnv(t, true, client)
		ok := env.addAccount(t, model.KindGitLab, "alice")
		require.NoError(t, env.creds.Put(context.Background(), ok.ServiceURL(), "alice", "tok"))
		env.addAccount(t, model.KindGitLab, "bob")

		rec := env.do(t, http.MethodPost, "/api/v1/refresh", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp httphandler.RefreshResponse
		decodeJSON(t, rec, &resp)
		assert.Equal(t, 2, resp.Accounts)
		assert.Equal(t, 1, resp.Failed, "bob has no credential")
		assert.Equal(t, 1, ok.RepositoryCount())
	})

	t.Run("single account", func(t *testing.T) {
		client := &stubClient{kind: model.KindGitLab, repos: []model.Repository{repo("api", "team")}}
		env := setupEnv(t, true, client)
		a := env.addAccount(t, model.KindGitLab, "alice")
		require.NoError(t, env.creds.Put(context.Background(), a.ServiceURL(), "alice", "tok"))

		rec := env.do(t, http.MethodPost, "/api/v1/accounts/gitlab/alice/refresh", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp httphandler.AccountResponse
		decodeJSON(t, rec, &resp)
		assert.Equal(t, 1, resp.RepositoryCount)
	})
}
