// Package gitlab implements the HostClient port for GitLab and self-managed
// GitLab instances via the v4 REST API.
package gitlab

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/ericfisherdev/gitaccounts/internal/adapter/driven/restclient"
	"github.com/ericfisherdev/gitaccounts/internal/domain/model"
	"github.com/ericfisherdev/gitaccounts/internal/domain/port/driven"
)

const (
	defaultURL = "https://gitlab.com/api/v4"
	host       = "gitlab.com"
	perPage    = 100
	// maxPages stops a misbehaving server from paginating forever.
	maxPages = 100
)

// Compile-time interface satisfaction check.
var _ driven.HostClient = (*Client)(nil)

// Client lists GitLab projects. The token travels in the private_token query
// parameter, which the request logger redacts.
type Client struct {
	logger *slog.Logger
}

// NewClient creates a GitLab client.
func NewClient(logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{logger: logger}
}

func (c *Client) Kind() model.Kind { return model.KindGitLab }

func (c *Client) Name() string { return model.KindGitLab.DisplayName() }

func (c *Client) Host() string { return host }

func (c *Client) DefaultURL(string) string { return defaultURL }

// ListRepositories returns the projects the user is a member of, following
// the Link header across pages.
func (c *Client) ListRepositories(ctx context.Context, req driven.ConnectRequest) ([]model.Repository, error) {
	base := req.BaseURL
	if base == "" {
		base = defaultURL
	}

	q := url.Values{}
	q.Set("membership", "true")
	q.Set("per_page", fmt.Sprint(perPage))
	q.Set("private_token", req.Credential)
	next := strings.TrimRight(base, "/") + "/projects?" + q.Encode()

	rc := restclient.New(req.HTTPClient)
	repos := []model.Repository{}

	for page := 1; next != "" && page <= maxPages; page++ {
		body, header, err := rc.Get(ctx, next, nil)
		if err != nil {
			return nil, err
		}

		entries, err := restclient.DecodeArray(body)
		if err != nil {
			return nil, err
		}
		for _, obj := range entries {
			repos = append(repos, mapProject(obj))
		}

		c.logger.Debug("gitlab api call", "page", page, "count", len(entries))

		next = withToken(restclient.NextLink(header.Get("Link")), req.Credential)
	}

	return repos, nil
}

// mapProject converts one project object; missing fields become "".
func mapProject(obj map[string]any) model.Repository {
	repo := model.NewRepository(
		restclient.String(obj, "path"),
		restclient.String(obj, "path_with_namespace"),
	)
	repo.SetURL(model.ProtocolHTTPS, restclient.String(obj, "http_url_to_repo"))
	repo.SetURL(model.ProtocolSSH, restclient.String(obj, "ssh_url_to_repo"))
	return *repo
}

// withToken makes sure a pagination link still carries the token.
func withToken(link, token string) string {
	if link == "" {
		return ""
	}
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	q := u.Query()
	if q.Get("private_token") == "" {
		q.Set("private_token", token)
		u.RawQuery = q.Encode()
	}
	return u.String()
}
