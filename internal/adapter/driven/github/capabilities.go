package github

import (
	"context"
	"fmt"

	gh "github.com/google/go-github/v82/github"

	"github.com/ericfisherdev/gitaccounts/internal/domain/model"
	"github.com/ericfisherdev/gitaccounts/internal/domain/port/driven"
)

// ForkParents returns the direct parent and the root source of a fork,
// keyed by full name. A repository that is not a fork yields an empty map.
func (c *Client) ForkParents(ctx context.Context, req driven.ConnectRequest, repo model.Repository) (map[string]string, error) {
	owner, name, err := splitRepo(repo.FullName)
	if err != nil {
		return nil, err
	}

	client, err := c.api(req)
	if err != nil {
		return nil, err
	}

	r, _, err := client.Repositories.Get(ctx, owner, name)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", repo.FullName, mapError(err))
	}

	parents := make(map[string]string, 2)
	for _, p := range []*gh.Repository{r.GetParent(), r.GetSource()} {
		if p == nil || p.GetFullName() == "" {
			continue
		}
		parents[p.GetFullName()] = p.GetCloneURL()
	}
	return parents, nil
}

// CreatePullRequest opens a pull request on pr.OwnerRepo and returns its web URL.
// Validation failures carry the first field error reported by GitHub.
func (c *Client) CreatePullRequest(ctx context.Context, req driven.ConnectRequest, pr model.PullRequest) (string, error) {
	owner, name, err := splitRepo(pr.OwnerRepo)
	if err != nil {
		return "", err
	}

	client, err := c.api(req)
	if err != nil {
		return "", err
	}

	created, _, err := client.PullRequests.Create(ctx, owner, name, &gh.NewPullRequest{
		Title:               gh.Ptr(pr.Title),
		Body:                gh.Ptr(pr.Body),
		Head:                gh.Ptr(pr.Head),
		Base:                gh.Ptr(pr.Base),
		MaintainerCanModify: gh.Ptr(pr.CanModify),
	})
	if err != nil {
		return "", mapError(err)
	}

	c.logger.Info("pull request created", "repo", pr.OwnerRepo, "number", created.GetNumber())
	return created.GetHTMLURL(), nil
}

// CommitComments returns the comments on commit oid. Comments attached to a
// file are indexed by path and diff position.
func (c *Client) CommitComments(ctx context.Context, req driven.ConnectRequest, repo model.Repository, oid string) (model.CommitComments, error) {
	var result model.CommitComments

	owner, name, err := splitRepo(repo.FullName)
	if err != nil {
		return result, err
	}

	client, err := c.api(req)
	if err != nil {
		return result, err
	}

	opts := &gh.ListOptions{PerPage: perPage}
	for fetched := 1; ; fetched++ {
		comments, resp, err := client.Repositories.ListCommitComments(ctx, owner, name, oid, opts)
		if err != nil {
			return result, fmt.Errorf("listing comments for %s@%s (page %d): %w", repo.FullName, oid, opts.Page, mapError(err))
		}

		for _, cm := range comments {
			result.Add(cm.GetPath(), cm.GetPosition(), model.Comment{
				Body:      cm.GetBody(),
				Author:    cm.GetUser().GetLogin(),
				CreatedAt: cm.GetCreatedAt().Time,
			})
		}

		if resp.NextPage == 0 {
			break
		}
		if fetched >= maxPages {
			c.logger.Warn("commit comments truncated", "repository", repo.FullName, "oid", oid, "pages", fetched)
			break
		}
		opts.Page = resp.NextPage
	}

	return result, nil
}
