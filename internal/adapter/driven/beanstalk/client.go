// Package beanstalk implements the HostClient port for Beanstalk.
package beanstalk

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ericfisherdev/gitaccounts/internal/adapter/driven/restclient"
	"github.com/ericfisherdev/gitaccounts/internal/domain/model"
	"github.com/ericfisherdev/gitaccounts/internal/domain/port/driven"
)

const (
	host     = "beanstalkapp.com"
	perPage  = 50
	maxPages = 100
)

// Compile-time interface satisfaction check.
var _ driven.HostClient = (*Client)(nil)

// Client lists Beanstalk repositories. Every Beanstalk account lives on its
// own subdomain, so the default URL depends on the username.
type Client struct {
	logger *slog.Logger
}

// NewClient creates a Beanstalk client.
func NewClient(logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{logger: logger}
}

func (c *Client) Kind() model.Kind { return model.KindBeanstalk }

func (c *Client) Name() string { return model.KindBeanstalk.DisplayName() }

func (c *Client) Host() string { return host }

func (c *Client) DefaultURL(username string) string {
	return fmt.Sprintf("https://%s.%s/api", username, host)
}

// ListRepositories pages through repositories.json until a short page.
// Entries are wrapped as {"repository": {...}}.
func (c *Client) ListRepositories(ctx context.Context, req driven.ConnectRequest) ([]model.Repository, error) {
	base := req.BaseURL
	if base == "" {
		base = c.DefaultURL(req.Username)
	}
	base = strings.TrimRight(base, "/")

	header := http.Header{}
	header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(req.Username+":"+req.Credential)))

	rc := restclient.New(req.HTTPClient)
	repos := []model.Repository{}

	for page := 1; page <= maxPages; page++ {
		body, _, err := rc.Get(ctx, fmt.Sprintf("%s/repositories.json?page=%d&per_page=%d", base, page, perPage), header)
		if err != nil {
			return nil, err
		}

		entries, err := restclient.DecodeArray(body)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			obj := restclient.Object(entry, "repository")
			if obj == nil {
				continue
			}
			repos = append(repos, mapRepository(req.Username, obj))
		}

		c.logger.Debug("beanstalk api call", "page", page, "count", len(entries))

		if len(entries) < perPage {
			break
		}
	}

	return repos, nil
}

// mapRepository reads name, repository_url_https and repository_url (SSH).
func mapRepository(account string, obj map[string]any) model.Repository {
	name := restclient.String(obj, "name")
	fullName := ""
	if name != "" {
		fullName = account + "/" + name
	}

	repo := model.NewRepository(name, fullName)
	repo.SetURL(model.ProtocolHTTPS, restclient.String(obj, "repository_url_https"))
	repo.SetURL(model.ProtocolSSH, restclient.String(obj, "repository_url"))
	return *repo
}
