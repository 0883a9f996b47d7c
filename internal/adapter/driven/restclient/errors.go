package restclient

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ericfisherdev/gitaccounts/internal/domain/port/driven"
)

// TransportError is a network failure (Status == 0) or a non-2xx response.
type TransportError struct {
	Status  int
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	if e.Status == 0 {
		if e.Err != nil {
			return e.Err.Error()
		}
		return "request failed"
	}

	status := fmt.Sprintf("%d %s", e.Status, http.StatusText(e.Status))
	switch {
	case e.Message != "":
		return status + ": " + e.Message
	case e.Err != nil:
		return status + ": " + e.Err.Error()
	default:
		return status
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// Unauthorized reports whether the provider rejected the credential.
func (e *TransportError) Unauthorized() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

// Is matches driven.ErrTransport, and driven.ErrUnauthorized for 401/403.
func (e *TransportError) Is(target error) bool {
	switch target {
	case driven.ErrTransport:
		return true
	case driven.ErrUnauthorized:
		return e.Unauthorized()
	}
	return false
}

// ParseError reports a response body that is not the expected JSON shape.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return "invalid response: " + e.Err.Error()
}

func (e *ParseError) Unwrap() error { return e.Err }

// Is matches driven.ErrParse.
func (e *ParseError) Is(target error) bool {
	return target == driven.ErrParse
}

// ProviderMessage extracts a human-readable message from an error body.
// GitHub and GitLab use {"message": ...}, Bitbucket {"error": {"message": ...}},
// OAuth endpoints {"error_description": ...}.
func ProviderMessage(body []byte) string {
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return ""
	}

	if msg := String(obj, "message"); msg != "" {
		return msg
	}
	if msg := String(obj, "error_description"); msg != "" {
		return msg
	}
	if nested := Object(obj, "error"); nested != nil {
		return String(nested, "message")
	}
	if msg := String(obj, "error"); msg != "" {
		return msg
	}
	if errs := Array(obj, "errors"); len(errs) > 0 {
		parts := make([]string, 0, len(errs))
		for _, e := range errs {
			if s, ok := e.(string); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "; ")
	}
	return ""
}
