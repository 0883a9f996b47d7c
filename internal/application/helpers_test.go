package application_test

import (
	"context"
	"sync"

	"github.com/ericfisherdev/gitaccounts/internal/application"
	"github.com/ericfisherdev/gitaccounts/internal/domain/model"
	"github.com/ericfisherdev/gitaccounts/internal/domain/port/driven"
)

// --- Mock implementations ---

type fakeClient struct {
	kind model.Kind
	list func(ctx context.Context, req driven.ConnectRequest) ([]model.Repository, error)

	mu    sync.Mutex
	calls []driven.ConnectRequest
}

func (f *fakeClient) Kind() model.Kind { return f.kind }
func (f *fakeClient) Name() string     { return "Fake" }
func (f *fakeClient) Host() string     { return "fake.example" }

func (f *fakeClient) DefaultURL(username string) string {
	return "https://api.fake.example/" + username
}

func (f *fakeClient) ListRepositories(ctx context.Context, req driven.ConnectRequest) ([]model.Repository, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.list == nil {
		return nil, nil
	}
	return f.list(ctx, req)
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeClient) lastCall() driven.ConnectRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

// capableClient adds every optional capability to fakeClient.
type capableClient struct {
	fakeClient
	parents  map[string]string
	prURL    string
	prErr    error
	comments model.CommitComments
	token    string
	lastPR   model.PullRequest
}

func (c *capableClient) ForkParents(_ context.Context, _ driven.ConnectRequest, _ model.Repository) (map[string]string, error) {
	return c.parents, nil
}

func (c *capableClient) CreatePullRequest(_ context.Context, _ driven.ConnectRequest, pr model.PullRequest) (string, error) {
	c.lastPR = pr
	return c.prURL, c.prErr
}

func (c *capableClient) CommitComments(_ context.Context, _ driven.ConnectRequest, _ model.Repository, _ string) (model.CommitComments, error) {
	return c.comments, nil
}

func (c *capableClient) AuthorizeSupported() bool { return c.token != "" }

func (c *capableClient) Authorize(_ context.Context, _ driven.ConnectRequest) (string, error) {
	return c.token, nil
}

type memCredentials struct {
	mu      sync.Mutex
	secrets map[string]string
}

func newMemCredentials() *memCredentials {
	return &memCredentials{secrets: make(map[string]string)}
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

type memAccountStore struct {
	saved []model.AccountConfig
}

func (m *memAccountStore) LoadAccounts(_ context.Context) ([]model.AccountConfig, error) {
	return m.saved, nil
}

func (m *memAccountStore) SaveAccounts(_ context.Context, accounts []model.AccountConfig) error {
	m.saved = accounts
	return nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(title, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, title+": "+message)
	return nil
}

func (n *recordingNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.messages...)
}

// eventLog records events delivered to a listener.
type eventLog struct {
	mu     sync.Mutex
	events []application.Event
}

func (l *eventLog) record(ev application.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) snapshot() []application.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]application.Event(nil), l.events...)
}

func (l *eventLog) finished() []application.ProgressFinished {
	var out []application.ProgressFinished
	for _, ev := range l.snapshot() {
		if pf, ok := ev.(application.ProgressFinished); ok {
			out = append(out, pf)
		}
	}
	return out
}

// newTestRegistry registers client for its kind and returns a registry using
// an in-memory credential store.
func newTestRegistry(client driven.HostClient, opts ...application.RegistryOption) (*application.Registry, *memCredentials) {
	provider := application.NewClientProvider()
	provider.Register(client.Kind(), func() driven.HostClient { return client })

	creds := newMemCredentials()
	return application.NewRegistry(provider, creds, nil, opts...), creds
}

func repo(name, owner string) model.Repository {
	r := model.NewRepository(name, owner+"/"+name)
	r.SetURL(model.ProtocolHTTPS, "https://fake.example/"+owner+"/"+name+".git")
	r.SetURL(model.ProtocolSSH, "git@fake.example:"+owner+"/"+name+".git")
	return *r
}
