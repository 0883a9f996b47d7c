// Package restclient holds the HTTP plumbing shared by the provider adapters:
// a TLS-aware client, request logging with secret redaction, error mapping
// and lenient JSON decoding.
package restclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/ericfisherdev/gitaccounts/internal/tlsmaterial"
)

// DefaultTimeout bounds a single provider round trip.
const DefaultTimeout = 30 * time.Second

// maxBodySize caps how much of a response body is read.
const maxBodySize = 16 << 20

// NewHTTPClient builds an HTTP client presenting identity (which may be nil)
// and logging every request through logger.
func NewHTTPClient(identity *tlsmaterial.Identity, logger *slog.Logger) *http.Client {
	base := http.DefaultTransport.(*http.Transport).Clone()
	base.TLSClientConfig = identity.TLSConfig()

	return &http.Client{
		Transport: NewLoggingTransport(base, logger),
		Timeout:   DefaultTimeout,
	}
}

// Client issues JSON GET requests against a provider API.
type Client struct {
	http *http.Client
}

// New wraps httpClient. A nil httpClient falls back to a client without TLS identity.
func New(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient(nil, slog.Default())
	}
	return &Client{http: httpClient}
}

// Get performs a GET and returns the body and response headers. Network
// failures and non-2xx statuses are returned as *TransportError.
func (c *Client) Get(ctx context.Context, rawURL string, header http.Header) ([]byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("build request for %s: %w", RedactURL(rawURL), redactURLError(err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	for k, values := range header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, &TransportError{Err: redactURLError(err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, nil, &TransportError{Status: resp.StatusCode, Err: fmt.Errorf("read response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, &TransportError{
			Status:  resp.StatusCode,
			Message: ProviderMessage(body),
		}
	}

	return body, resp.Header, nil
}

// redactURLError strips credentials from the URL embedded in a *url.Error.
func redactURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return &url.Error{Op: ue.Op, URL: RedactURL(ue.URL), Err: ue.Err}
	}
	return err
}
