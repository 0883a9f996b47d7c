package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/ericfisherdev/gitaccounts/internal/domain/model"
	"github.com/ericfisherdev/gitaccounts/internal/domain/port/driven"
)

// ErrNotConnected is returned by capability calls when the account has no
// usable credential.
var ErrNotConnected = errors.New("account has no credential")

// request builds a ConnectRequest for a one-off capability call.
func (a *Account) request(ctx context.Context) (driven.ConnectRequest, error) {
	req, accErr := a.prepare(ctx, "")
	if accErr.IsValid() {
		return req, fmt.Errorf("%w: %s", ErrNotConnected, accErr.Error())
	}
	return req, nil
}

// emitIfPresent delivers ev unless the account was removed meanwhile.
func (a *Account) emitIfPresent(ev Event) {
	a.applyMu.Lock()
	defer a.applyMu.Unlock()
	if a.removed {
		return
	}
	a.emit(ev)
}

// RequestForkParents resolves the parent and source of repo and emits
// ForkParentsReady. Providers without fork support return (nil, nil).
func (a *Account) RequestForkParents(ctx context.Context, repo *model.Repository) (map[string]string, error) {
	finder, ok := a.client.(driven.ForkParentFinder)
	if !ok || repo == nil {
		return nil, nil
	}

	req, err := a.request(ctx)
	if err != nil {
		return nil, err
	}

	parents, err := finder.ForkParents(ctx, req, *repo)
	if err != nil {
		a.logger.Warn("fork parent lookup failed", "repo", repo.FullName, "error", err)
		return nil, fmt.Errorf("fork parents of %s: %w", repo.FullName, err)
	}

	a.emitIfPresent(ForkParentsReady{eventBase: eventBase{a}, Repository: repo.FullName, Parents: parents})
	return parents, nil
}

// CreatePullRequest opens a pull request from repo and emits
// PullRequestCreated, or PullRequestError on failure. Providers without pull
// request support return ("", nil).
func (a *Account) CreatePullRequest(ctx context.Context, repo *model.Repository, pr model.PullRequest) (string, error) {
	creator, ok := a.client.(driven.PullRequestCreator)
	if !ok || repo == nil {
		return "", nil
	}
	if pr.OwnerRepo == "" {
		pr.OwnerRepo = repo.FullName
	}

	req, err := a.request(ctx)
	if err != nil {
		a.emitIfPresent(PullRequestError{eventBase: eventBase{a}, Name: repo.Name, Message: err.Error()})
		return "", err
	}

	htmlURL, err := creator.CreatePullRequest(ctx, req, pr)
	if err != nil {
		a.logger.Warn("pull request creation failed", "repo", pr.OwnerRepo, "error", err)
		a.emitIfPresent(PullRequestError{eventBase: eventBase{a}, Name: repo.Name, Message: err.Error()})
		return "", fmt.Errorf("create pull request on %s: %w", pr.OwnerRepo, err)
	}

	a.logger.Info("pull request created", "repo", pr.OwnerRepo, "url", htmlURL)
	a.emitIfPresent(PullRequestCreated{eventBase: eventBase{a}, Name: repo.Name, URL: htmlURL})
	return htmlURL, nil
}

// RequestComments fetches the comments on commit oid of repo and emits
// CommentsReady. Providers without comment support return an empty result.
func (a *Account) RequestComments(ctx context.Context, repo *model.Repository, oid string) (model.CommitComments, error) {
	fetcher, ok := a.client.(driven.CommentFetcher)
	if !ok || repo == nil {
		return model.CommitComments{}, nil
	}

	req, err := a.request(ctx)
	if err != nil {
		return model.CommitComments{}, err
	}

	comments, err := fetcher.CommitComments(ctx, req, *repo, oid)
	if err != nil {
		a.logger.Warn("commit comments failed", "repo", repo.FullName, "oid", oid, "error", err)
		return model.CommitComments{}, fmt.Errorf("comments on %s@%s: %w", repo.FullName, oid, err)
	}

	a.emitIfPresent(CommentsReady{eventBase: eventBase{a}, Repository: repo.FullName, OID: oid, Comments: comments})
	return comments, nil
}

// IsAuthorizeSupported reports whether the provider offers a browser-based
// authorization flow.
func (a *Account) IsAuthorizeSupported() bool {
	auth, ok := a.client.(driven.Authorizer)
	return ok && auth.AuthorizeSupported()
}

// Authorize runs the provider's browser authorization flow and stores the
// resulting token for the account. It returns false when the provider does
// not support it.
func (a *Account) Authorize(ctx context.Context) (bool, error) {
	if !a.IsAuthorizeSupported() {
		return false, nil
	}
	auth := a.client.(driven.Authorizer)

	identity, accErr := a.loadIdentity(ctx)
	if accErr.IsValid() {
		return true, accErr
	}
	req := driven.ConnectRequest{
		BaseURL:    a.URL(),
		Username:   a.username,
		HTTPClient: a.deps.httpClient(identity),
	}

	token, err := auth.Authorize(ctx, req)
	if err != nil {
		return true, fmt.Errorf("authorize %s: %w", a.username, err)
	}

	if a.deps.credentials != nil {
		if err := a.deps.credentials.Put(ctx, a.ServiceURL(), a.username, token); err != nil {
			return true, fmt.Errorf("store token: %w", err)
		}
	}
	a.logger.Info("authorized")
	return true, nil
}
