// Package github implements the HostClient port for GitHub and GitHub
// Enterprise using the go-github library.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"
	"golang.org/x/oauth2"

	"github.com/ericfisherdev/gitaccounts/internal/adapter/driven/restclient"
	"github.com/ericfisherdev/gitaccounts/internal/domain/model"
	"github.com/ericfisherdev/gitaccounts/internal/domain/port/driven"
)

const (
	defaultURL = "https://api.github.com"
	host       = "github.com"
	perPage    = 100
	// maxPages stops a misbehaving server from paginating forever.
	maxPages = 100
)

// Compile-time interface satisfaction checks.
var (
	_ driven.HostClient         = (*Client)(nil)
	_ driven.ForkParentFinder   = (*Client)(nil)
	_ driven.PullRequestCreator = (*Client)(nil)
	_ driven.CommentFetcher     = (*Client)(nil)
	_ driven.Authorizer         = (*Client)(nil)
)

// Client talks to the GitHub REST API on behalf of one account. Responses are
// cached per client so repeated listings become conditional requests.
type Client struct {
	cache       httpcache.Cache
	logger      *slog.Logger
	oauth       *oauth2.Config
	openBrowser func(url string) error
}

// Option configures a Client.
type Option func(*Client)

// WithOAuthApp enables browser authorization with the given OAuth app.
func WithOAuthApp(clientID, clientSecret string) Option {
	return func(c *Client) {
		if clientID == "" {
			return
		}
		c.oauth = &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     defaultEndpoint,
			Scopes:       []string{"repo"},
		}
	}
}

// WithOAuthEndpoint overrides the OAuth endpoint, e.g. for GitHub Enterprise.
func WithOAuthEndpoint(endpoint oauth2.Endpoint) Option {
	return func(c *Client) {
		if c.oauth != nil {
			c.oauth.Endpoint = endpoint
		}
	}
}

// WithBrowser replaces the function used to open the authorization page.
func WithBrowser(open func(url string) error) Option {
	return func(c *Client) { c.openBrowser = open }
}

// NewClient creates a GitHub client. Each API call uses the following transport stack:
//  1. the account's HTTP transport (TLS identity, request logging)
//  2. httpcache (ETag-based conditional request caching)
//  3. go-github-ratelimit (secondary rate limit middleware, sleeps on 429)
//  4. go-github (REST client with token auth)
func NewClient(logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		cache:       httpcache.NewMemoryCache(),
		logger:      logger,
		openBrowser: openSystemBrowser,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Kind() model.Kind { return model.KindGitHub }

func (c *Client) Name() string { return model.KindGitHub.DisplayName() }

func (c *Client) Host() string { return host }

func (c *Client) DefaultURL(string) string { return defaultURL }

// api builds a go-github client for one request.
func (c *Client) api(req driven.ConnectRequest) (*gh.Client, error) {
	var base http.RoundTripper = http.DefaultTransport
	timeout := restclient.DefaultTimeout
	if req.HTTPClient != nil {
		if req.HTTPClient.Transport != nil {
			base = req.HTTPClient.Transport
		}
		timeout = req.HTTPClient.Timeout
	}

	cacheTransport := &httpcache.Transport{Transport: base, Cache: c.cache, MarkCachedResponses: true}
	rateLimitClient := github_ratelimit.NewClient(cacheTransport)
	rateLimitClient.Timeout = timeout

	client := gh.NewClient(rateLimitClient)
	if req.Credential != "" {
		client = client.WithAuthToken(req.Credential)
	}

	if req.BaseURL != "" && strings.TrimRight(req.BaseURL, "/") != defaultURL {
		u, err := url.Parse(strings.TrimRight(req.BaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("parsing base URL: %w", err)
		}
		client.BaseURL = u
	}
	return client, nil
}

// ListRepositories returns every repository the authenticated user can access.
// Entries are decoded one at a time so a malformed element is skipped rather
// than failing the page.
func (c *Client) ListRepositories(ctx context.Context, req driven.ConnectRequest) ([]model.Repository, error) {
	client, err := c.api(req)
	if err != nil {
		return nil, err
	}

	repos := []model.Repository{}
	for page, fetched := 1, 0; ; {
		apiReq, err := client.NewRequest(http.MethodGet, fmt.Sprintf("user/repos?per_page=%d&page=%d", perPage, page), nil)
		if err != nil {
			return nil, fmt.Errorf("building repository request: %w", err)
		}

		var raw []json.RawMessage
		resp, err := client.Do(ctx, apiReq, &raw)
		if err != nil {
			return nil, mapError(err)
		}

		skipped := 0
		for _, entry := range raw {
			repo, ok := decodeRepository(entry)
			if !ok {
				skipped++
				continue
			}
			repos = append(repos, repo)
		}

		c.logPage(resp, page, len(raw), skipped)

		if resp.NextPage == 0 {
			break
		}
		if fetched++; fetched >= maxPages {
			c.logger.Warn("repository listing truncated", "pages", fetched, "next_page", resp.NextPage)
			break
		}
		page = resp.NextPage
	}

	return repos, nil
}

func decodeRepository(entry json.RawMessage) (model.Repository, bool) {
	if bytes.Equal(bytes.TrimSpace(entry), []byte("null")) {
		return model.Repository{}, false
	}
	var r gh.Repository
	if err := json.Unmarshal(entry, &r); err != nil {
		return model.Repository{}, false
	}
	return mapRepository(&r), true
}

// mapRepository converts a go-github Repository using the nil-safe getters.
func mapRepository(r *gh.Repository) model.Repository {
	repo := model.NewRepository(r.GetName(), r.GetFullName())
	repo.SetURL(model.ProtocolHTTPS, r.GetCloneURL())
	repo.SetURL(model.ProtocolSSH, r.GetSSHURL())
	return *repo
}

func (c *Client) logPage(resp *gh.Response, page, count, skipped int) {
	if resp == nil {
		return
	}

	c.logger.Debug("github api call",
		"endpoint", "user/repos",
		"page", page,
		"count", count,
		"skipped", skipped,
		"rate_remaining", resp.Rate.Remaining,
		"rate_limit", resp.Rate.Limit,
	)

	if resp.Rate.Limit > 0 && resp.Rate.Remaining < 100 {
		c.logger.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset_in", time.Until(resp.Rate.Reset.Time).Round(time.Second),
		)
	}
}

// mapError converts go-github errors into the shared transport and parse errors.
func mapError(err error) error {
	var rateErr *gh.RateLimitError
	if errors.As(err, &rateErr) && rateErr.Response != nil {
		return &restclient.TransportError{Status: rateErr.Response.StatusCode, Message: rateErr.Message, Err: err}
	}

	var ghErr *gh.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		msg := ghErr.Message
		if len(ghErr.Errors) > 0 && ghErr.Errors[0].Message != "" {
			msg = ghErr.Errors[0].Message
		}
		return &restclient.TransportError{Status: ghErr.Response.StatusCode, Message: msg, Err: err}
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return &restclient.ParseError{Err: err}
	}

	return &restclient.TransportError{Err: err}
}

// splitRepo splits "owner/repo" into its two parts.
func splitRepo(fullName string) (string, string, error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo name %q: expected owner/repo", fullName)
	}
	return parts[0], parts[1], nil
}
