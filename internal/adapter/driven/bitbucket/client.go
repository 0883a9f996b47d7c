// Package bitbucket implements the HostClient port for Bitbucket Cloud.
package bitbucket

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/ericfisherdev/gitaccounts/internal/adapter/driven/restclient"
	"github.com/ericfisherdev/gitaccounts/internal/domain/model"
	"github.com/ericfisherdev/gitaccounts/internal/domain/port/driven"
)

const (
	defaultURL = "https://api.bitbucket.org/2.0"
	host       = "bitbucket.org"
	maxPages   = 100
)

// Compile-time interface satisfaction check.
var _ driven.HostClient = (*Client)(nil)

// Client lists Bitbucket repositories with basic auth (username and app password).
type Client struct {
	logger *slog.Logger
}

// NewClient creates a Bitbucket client.
func NewClient(logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{logger: logger}
}

func (c *Client) Kind() model.Kind { return model.KindBitbucket }

func (c *Client) Name() string { return model.KindBitbucket.DisplayName() }

func (c *Client) Host() string { return host }

func (c *Client) DefaultURL(string) string { return defaultURL }

// ListRepositories walks the paginated repositories?role=member listing.
func (c *Client) ListRepositories(ctx context.Context, req driven.ConnectRequest) ([]model.Repository, error) {
	base := req.BaseURL
	if base == "" {
		base = defaultURL
	}

	header := http.Header{}
	header.Set("Authorization", basicAuth(req.Username, req.Credential))

	rc := restclient.New(req.HTTPClient)
	next := strings.TrimRight(base, "/") + "/repositories?role=member&pagelen=100"
	repos := []model.Repository{}

	for page := 1; next != "" && page <= maxPages; page++ {
		body, _, err := rc.Get(ctx, next, header)
		if err != nil {
			return nil, err
		}

		obj, err := restclient.DecodeObject(body)
		if err != nil {
			return nil, err
		}

		values := restclient.Objects(restclient.Array(obj, "values"))
		for _, v := range values {
			repos = append(repos, mapRepository(v))
		}

		c.logger.Debug("bitbucket api call", "page", page, "count", len(values))

		next = restclient.String(obj, "next")
		if next != "" && !sameHost(next, base) {
			c.logger.Warn("bitbucket pagination left the API host, stopping", "next", restclient.RedactURL(next))
			break
		}
	}

	return repos, nil
}

// mapRepository reads name, full_name and the links.clone array.
func mapRepository(obj map[string]any) model.Repository {
	repo := model.NewRepository(restclient.String(obj, "name"), restclient.String(obj, "full_name"))
	for _, link := range restclient.Objects(restclient.Array(restclient.Object(obj, "links"), "clone")) {
		switch restclient.String(link, "name") {
		case "https":
			repo.SetURL(model.ProtocolHTTPS, restclient.String(link, "href"))
		case "ssh":
			repo.SetURL(model.ProtocolSSH, restclient.String(link, "href"))
		}
	}
	return *repo
}

func basicAuth(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}

// sameHost keeps the credentials from being sent to a foreign host.
func sameHost(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	return strings.EqualFold(ua.Host, ub.Host)
}
