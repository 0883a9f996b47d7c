// Package keyring stores account secrets in the OS keyring.
package keyring

import (
	"context"
	"errors"
	"fmt"

	gokeyring "github.com/zalando/go-keyring"

	"github.com/ericfisherdev/gitaccounts/internal/domain/port/driven"
)

// ServicePrefix namespaces every keyring entry written by this store.
// Entries appear as "gitaccounts - <service>" in the OS credential manager.
const ServicePrefix = "gitaccounts"

// Compile-time interface satisfaction check.
var _ driven.CredentialStore = (*Store)(nil)

// Store implements driven.CredentialStore on top of zalando/go-keyring.
type Store struct{}

// New returns a keyring-backed credential store.
func New() *Store {
	return &Store{}
}

func serviceName(service string) string {
	return ServicePrefix + " - " + service
}

// Get returns the stored secret, or ("", nil) when none exists.
func (s *Store) Get(_ context.Context, service, username string) (string, error) {
	secret, err := gokeyring.Get(serviceName(service), username)
	if errors.Is(err, gokeyring.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("keyring get %s@%s: %w", username, service, err)
	}
	return secret, nil
}

// Put stores or replaces the secret for (service, username).
func (s *Store) Put(_ context.Context, service, username, secret string) error {
	if service == "" || username == "" {
		return errors.New("keyring put: service and username are required")
	}
	if err := gokeyring.Set(serviceName(service), username, secret); err != nil {
		return fmt.Errorf("keyring put %s@%s: %w", username, service, err)
	}
	return nil
}

// Delete removes the secret; a missing entry is not an error.
func (s *Store) Delete(_ context.Context, service, username string) error {
	err := gokeyring.Delete(serviceName(service), username)
	if err != nil && !errors.Is(err, gokeyring.ErrNotFound) {
		return fmt.Errorf("keyring delete %s@%s: %w", username, service, err)
	}
	return nil
}
