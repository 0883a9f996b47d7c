package github

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/cli/browser"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	oauthgithub "golang.org/x/oauth2/github"

	"github.com/ericfisherdev/gitaccounts/internal/domain/port/driven"
)

// ErrAuthorizeUnsupported is returned when no OAuth app is configured.
var ErrAuthorizeUnsupported = errors.New("github: browser authorization requires an OAuth client id")

var defaultEndpoint = oauthgithub.Endpoint

func openSystemBrowser(url string) error {
	return browser.OpenURL(url)
}

// AuthorizeSupported reports whether an OAuth app is configured.
func (c *Client) AuthorizeSupported() bool {
	return c.oauth != nil
}

type callbackResult struct {
	code string
	err  error
}

// Authorize runs the OAuth web flow: it serves a one-shot redirect listener
// on loopback, opens the authorization page and exchanges the returned code
// for an access token.
func (c *Client) Authorize(ctx context.Context, req driven.ConnectRequest) (string, error) {
	if c.oauth == nil {
		return "", ErrAuthorizeUnsupported
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("starting redirect listener: %w", err)
	}

	cfg := *c.oauth
	cfg.RedirectURL = "http://" + ln.Addr().String() + "/callback"
	state := uuid.NewString()

	results := make(chan callbackResult, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var res callbackResult
		switch {
		case q.Get("state") != state:
			res.err = errors.New("authorization state mismatch")
		case q.Get("error") != "":
			res.err = fmt.Errorf("authorization denied: %s", q.Get("error"))
		case q.Get("code") == "":
			res.err = errors.New("authorization response has no code")
		default:
			res.code = q.Get("code")
		}

		if res.err != nil {
			http.Error(w, res.err.Error(), http.StatusBadRequest)
		} else {
			_, _ = w.Write([]byte("Authorization complete. You can close this window."))
		}
		select {
		case results <- res:
		default:
		}
	})

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.Serve(ln) }()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	opts := []oauth2.AuthCodeOption{}
	if req.Username != "" {
		opts = append(opts, oauth2.SetAuthURLParam("login", req.Username))
	}
	authURL := cfg.AuthCodeURL(state, opts...)

	c.logger.Info("opening browser for github authorization", "redirect", cfg.RedirectURL)
	if err := c.openBrowser(authURL); err != nil {
		return "", fmt.Errorf("opening browser: %w", err)
	}

	var res callbackResult
	select {
	case res = <-results:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	if res.err != nil {
		return "", res.err
	}

	if req.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, req.HTTPClient)
	}
	tok, err := cfg.Exchange(ctx, res.code)
	if err != nil {
		return "", fmt.Errorf("exchanging authorization code: %w", err)
	}
	return tok.AccessToken, nil
}
