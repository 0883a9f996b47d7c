// Package yamlstore persists account configurations to a YAML file.
package yamlstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ericfisherdev/gitaccounts/internal/domain/model"
	"github.com/ericfisherdev/gitaccounts/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.AccountStore = (*Store)(nil)

// document is the on-disk layout of the accounts file.
type document struct {
	Version  int                   `yaml:"version"`
	Accounts []model.AccountConfig `yaml:"accounts"`
}

const currentVersion = 1

// Store reads and writes the accounts file at path.
type Store struct {
	mu   sync.Mutex
	path string
}

// New returns a Store for the given file path.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the accounts file location.
func (s *Store) Path() string {
	return s.path
}

// LoadAccounts reads the accounts file. A missing file yields no accounts.
func (s *Store) LoadAccounts(_ context.Context) ([]model.AccountConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// #nosec G304 -- path comes from operator configuration
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return []model.AccountConfig{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read accounts file: %w", err)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse accounts file %s: %w", s.path, err)
	}
	if doc.Version > currentVersion {
		return nil, fmt.Errorf("accounts file %s: unsupported version %d", s.path, doc.Version)
	}
	if doc.Accounts == nil {
		doc.Accounts = []model.AccountConfig{}
	}
	return doc.Accounts, nil
}

// SaveAccounts atomically replaces the accounts file.
func (s *Store) SaveAccounts(_ context.Context, accounts []model.AccountConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := yaml.Marshal(document{Version: currentVersion, Accounts: accounts})
	if err != nil {
		return fmt.Errorf("marshal accounts: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create accounts dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".accounts-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp accounts file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write accounts file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod accounts file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close accounts file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace accounts file: %w", err)
	}
	return nil
}
