package httphandler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"github.com/ericfisherdev/gitaccounts/internal/domain/model"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON field names rather than Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// TLSSettingRequest is one optional TLS material reference.
type TLSSettingRequest struct {
	Value   string `json:"value" validate:"required_if=Enabled true"`
	Enabled bool   `json:"enabled"`
}

// TLSRequest carries TLS material references for an account. The PKCS#12
// passphrase is accepted here but only ever stored in the credential store.
type TLSRequest struct {
	PKCS12File       TLSSettingRequest `json:"pkcs12_file"`
	PKCS12Passphrase string            `json:"pkcs12_passphrase"`
	CertFile         TLSSettingRequest `json:"cert_file"`
	CertKeyFile      TLSSettingRequest `json:"cert_key_file"`
	CACertFile       TLSSettingRequest `json:"ca_cert_file"`
}

func (t *TLSRequest) toModel() model.TLSSettings {
	if t == nil {
		return model.TLSSettings{}
	}
	conv := func(s TLSSettingRequest) model.TLSSetting {
		return model.TLSSetting{Value: s.Value, Enabled: s.Enabled}
	}
	return model.TLSSettings{
		PKCS12File:       conv(t.PKCS12File),
		PKCS12Passphrase: model.TLSSetting{Value: t.PKCS12Passphrase, Enabled: t.PKCS12Passphrase != ""},
		CertFile:         conv(t.CertFile),
		CertKeyFile:      conv(t.CertKeyFile),
		CACertFile:       conv(t.CACertFile),
	}
}

// CreateAccountRequest is the JSON body for the create account endpoint.
// Replace removes an existing account with the same kind and username first.
type CreateAccountRequest struct {
	Kind     string      `json:"kind" validate:"required"`
	Username string      `json:"username" validate:"required,max=255"`
	URL      string      `json:"url" validate:"omitempty,url"`
	TLS      *TLSRequest `json:"tls"`
	Replace  bool        `json:"replace"`
}

// UpdateAccountRequest is the JSON body for the update account endpoint.
// Nil fields are left unchanged.
type UpdateAccountRequest struct {
	URL *string     `json:"url" validate:"omitempty,url"`
	TLS *TLSRequest `json:"tls"`
}

// ConnectRequest is the JSON body for the connect endpoint. Without a
// credential the stored secret is used. Store persists the credential once
// the attempt succeeds and implies Wait.
type ConnectRequest struct {
	Credential string `json:"credential"`
	Wait       bool   `json:"wait"`
	Store      bool   `json:"store" validate:"excluded_without=Credential"`
}

// SetPathRequest is the JSON body for the repository path endpoint.
type SetPathRequest struct {
	FullName string `json:"full_name" validate:"required"`
	Path     string `json:"path"`
}

// CredentialRequest is the JSON body for the credential endpoint.
type CredentialRequest struct {
	Token            string `json:"token" validate:"required_without=PKCS12Passphrase"`
	PKCS12Passphrase string `json:"pkcs12_passphrase"`
}

// CreatePullRequestRequest is the JSON body for the pull request endpoint.
// Repo is the full name of the account's repository the branch lives in;
// OwnerRepo is the target and defaults to Repo.
type CreatePullRequestRequest struct {
	Repo      string `json:"repo" validate:"required"`
	OwnerRepo string `json:"owner_repo"`
	Title     string `json:"title" validate:"required,max=256"`
	Body      string `json:"body"`
	Head      string `json:"head" validate:"required"`
	Base      string `json:"base" validate:"required"`
	CanModify bool   `json:"can_modify"`
}

// decodeJSON decodes and validates a request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	return validate.Struct(v)
}

// formatValidationError turns decode and validation errors into a message
// safe to return to the client.
func formatValidationError(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return strings.Join(lo.Map(verrs, func(e validator.FieldError, _ int) string {
			return formatFieldError(e)
		}), "; ")
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return fmt.Sprintf("field '%s' should be %s", typeErr.Field, typeErr.Type.String())
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return "invalid JSON format"
	}

	return "invalid request body"
}

func formatFieldError(e validator.FieldError) string {
	field := e.Field()

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("field '%s' is required", field)
	case "required_if":
		return fmt.Sprintf("field '%s' is required when enabled", field)
	case "required_without":
		return fmt.Sprintf("field '%s' is required unless %s is set", field, e.Param())
	case "excluded_without":
		return fmt.Sprintf("field '%s' needs %s", field, e.Param())
	case "max":
		return fmt.Sprintf("field '%s' must be at most %s characters", field, e.Param())
	case "url":
		return fmt.Sprintf("field '%s' must be a valid URL", field)
	default:
		return fmt.Sprintf("field '%s' validation failed on '%s' tag", field, e.Tag())
	}
}
