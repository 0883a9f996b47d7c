package driven

import (
	"context"
	"errors"
	"net/http"

	"github.com/ericfisherdev/gitaccounts/internal/domain/model"
)

// Failure classes reported by provider clients. Adapter errors match these
// through errors.Is.
var (
	// ErrUnauthorized means the provider rejected the credential.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrTransport covers network failures and non-2xx responses.
	ErrTransport = errors.New("transport failure")
	// ErrParse means the response body was not the expected JSON shape.
	ErrParse = errors.New("invalid response")
)

// ConnectRequest carries everything a provider needs for one API call.
// HTTPClient already carries the account's TLS client identity, if any.
type ConnectRequest struct {
	BaseURL    string
	Username   string
	Credential string
	HTTPClient *http.Client
}

// HostClient is the driven port every Git hosting provider implements.
// One HostClient instance belongs to exactly one account.
type HostClient interface {
	Kind() model.Kind
	// Name is the display name of the provider.
	Name() string
	// Host is the provider's web host, used to derive the credential service URL.
	Host() string
	// DefaultURL is the API base URL used when the account has no override.
	DefaultURL(username string) string
	// ListRepositories returns the repositories visible to the account in the
	// order reported by the provider. Malformed entries are skipped.
	ListRepositories(ctx context.Context, req ConnectRequest) ([]model.Repository, error)
}

// ForkParentFinder is implemented by providers that can resolve fork parents.
// The result maps the full name of each ancestor to its HTTPS clone URL.
type ForkParentFinder interface {
	ForkParents(ctx context.Context, req ConnectRequest, repo model.Repository) (map[string]string, error)
}

// PullRequestCreator is implemented by providers that can open pull requests.
// It returns the web URL of the created pull request.
type PullRequestCreator interface {
	CreatePullRequest(ctx context.Context, req ConnectRequest, pr model.PullRequest) (string, error)
}

// CommentFetcher is implemented by providers that expose commit comments.
type CommentFetcher interface {
	CommitComments(ctx context.Context, req ConnectRequest, repo model.Repository, oid string) (model.CommitComments, error)
}

// Authorizer is implemented by providers with a browser-based authorization
// flow. Authorize blocks until the flow completes and returns an access token.
type Authorizer interface {
	AuthorizeSupported() bool
	Authorize(ctx context.Context, req ConnectRequest) (string, error)
}
