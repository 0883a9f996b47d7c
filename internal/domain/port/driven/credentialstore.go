package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/gitaccounts/internal/domain/model"
)

// ErrEncryptionKeyNotSet is returned by the encrypted credential store when
// GITACCOUNTS_SECRET_KEY has not been configured.
var ErrEncryptionKeyNotSet = errors.New("encryption key not configured: set GITACCOUNTS_SECRET_KEY")

// CredentialStore defines the driven port for secret persistence. Secrets are
// keyed by service URL ("https://gitlab.com") and username. Implementations
// must tolerate concurrent use.
type CredentialStore interface {
	// Get returns the secret, or ("", nil) if none is stored.
	Get(ctx context.Context, service, username string) (string, error)
	// Put stores or replaces the secret.
	Put(ctx context.Context, service, username, secret string) error
	// Delete removes the secret. Deleting a missing secret is not an error.
	Delete(ctx context.Context, service, username string) error
}

// CredentialLister is implemented by credential stores that can enumerate
// their entries. The OS keyring cannot.
type CredentialLister interface {
	List(ctx context.Context) ([]model.Credential, error)
}
