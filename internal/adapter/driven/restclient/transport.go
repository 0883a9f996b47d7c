package restclient

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// sensitiveParams are query parameters that carry credentials.
var sensitiveParams = []string{"private_token", "access_token", "token", "client_secret"}

// LoggingTransport wraps an http.RoundTripper and logs each round trip at
// debug level. Credentials never reach the log: headers are not logged and
// token query parameters are redacted.
type LoggingTransport struct {
	Transport http.RoundTripper
	logger    *slog.Logger
}

// NewLoggingTransport wraps transport, defaulting to http.DefaultTransport.
func NewLoggingTransport(transport http.RoundTripper, logger *slog.Logger) *LoggingTransport {
	if transport == nil {
		transport = http.DefaultTransport
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingTransport{Transport: transport, logger: logger}
}

// RoundTrip implements http.RoundTripper.
func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.Transport.RoundTrip(req)
	duration := time.Since(start).Round(time.Millisecond)

	if err != nil {
		t.logger.Debug("provider request failed",
			"method", req.Method,
			"url", RedactURL(req.URL.String()),
			"duration", duration,
			"error", redactURLError(err),
		)
		return nil, err
	}

	t.logger.Debug("provider request",
		"method", req.Method,
		"url", RedactURL(req.URL.String()),
		"status", resp.StatusCode,
		"duration", duration,
	)
	return resp, nil
}

// RedactURL replaces credential-bearing query parameters and userinfo
// passwords with "REDACTED".
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "REDACTED")
	}

	q := u.Query()
	changed := false
	for key := range q {
		for _, s := range sensitiveParams {
			if strings.EqualFold(key, s) {
				q.Set(key, "REDACTED")
				changed = true
			}
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return u.String()
}
