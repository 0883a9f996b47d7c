package sqlite

import (
	"context"
	"fmt"

	"github.com/ericfisherdev/gitaccounts/internal/domain/model"
	"github.com/ericfisherdev/gitaccounts/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.AccountStore = (*AccountRepo)(nil)

// AccountRepo is the SQLite implementation of the AccountStore port.
type AccountRepo struct {
	db *DB
}

// NewAccountRepo creates an AccountRepo backed by db.
func NewAccountRepo(db *DB) *AccountRepo {
	return &AccountRepo{db: db}
}

// SaveAccounts replaces all stored accounts in a single transaction.
func (r *AccountRepo) SaveAccounts(ctx context.Context, accounts []model.AccountConfig) error {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save accounts: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// account_repo_paths rows go with their account via ON DELETE CASCADE.
	if _, err := tx.ExecContext(ctx, `DELETE FROM accounts`); err != nil {
		return fmt.Errorf("clear accounts: %w", err)
	}

	const insertAccount = `
		INSERT INTO accounts (
			position, kind, username, url,
			pkcs_file, pkcs_file_enabled, pkcs_key_enabled,
			cert_file, cert_file_enabled,
			cert_key_file, cert_key_file_enabled,
			ca_cert_file, ca_cert_file_enabled
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	const insertPath = `INSERT INTO account_repo_paths (account_id, full_name, path) VALUES (?, ?, ?)`

	for i, a := range accounts {
		res, err := tx.ExecContext(ctx, insertAccount,
			i, a.Kind.String(), a.Username, a.URL,
			a.TLS.PKCS12File.Value, a.TLS.PKCS12File.Enabled, a.PKCSKeyEnabled,
			a.TLS.CertFile.Value, a.TLS.CertFile.Enabled,
			a.TLS.CertKeyFile.Value, a.TLS.CertKeyFile.Enabled,
			a.TLS.CACertFile.Value, a.TLS.CACertFile.Enabled,
		)
		if err != nil {
			return fmt.Errorf("insert account %s/%s: %w", a.Kind, a.Username, err)
		}

		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("account id for %s/%s: %w", a.Kind, a.Username, err)
		}

		for fullName, path := range a.RepoPaths {
			if _, err := tx.ExecContext(ctx, insertPath, id, fullName, path); err != nil {
				return fmt.Errorf("insert repo path %s for %s/%s: %w", fullName, a.Kind, a.Username, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save accounts: %w", err)
	}
	return nil
}

// LoadAccounts returns the stored accounts in saved order.
func (r *AccountRepo) LoadAccounts(ctx context.Context) ([]model.AccountConfig, error) {
	const query = `
		SELECT id, kind, username, url,
			pkcs_file, pkcs_file_enabled, pkcs_key_enabled,
			cert_file, cert_file_enabled,
			cert_key_file, cert_key_file_enabled,
			ca_cert_file, ca_cert_file_enabled
		FROM accounts
		ORDER BY position
	`

	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	accounts := []model.AccountConfig{}
	ids := []int64{}
	for rows.Next() {
		a, id, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}

	paths, err := r.repoPaths(ctx)
	if err != nil {
		return nil, err
	}
	for i, id := range ids {
		accounts[i].RepoPaths = paths[id]
	}

	return accounts, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(s scanner) (model.AccountConfig, int64, error) {
	var (
		a    model.AccountConfig
		id   int64
		kind string
	)

	err := s.Scan(
		&id, &kind, &a.Username, &a.URL,
		&a.TLS.PKCS12File.Value, &a.TLS.PKCS12File.Enabled, &a.PKCSKeyEnabled,
		&a.TLS.CertFile.Value, &a.TLS.CertFile.Enabled,
		&a.TLS.CertKeyFile.Value, &a.TLS.CertKeyFile.Enabled,
		&a.TLS.CACertFile.Value, &a.TLS.CACertFile.Enabled,
	)
	if err != nil {
		return a, 0, fmt.Errorf("scan account: %w", err)
	}

	if a.Kind, err = model.ParseKind(kind); err != nil {
		return a, 0, fmt.Errorf("account %d: %w", id, err)
	}
	return a, id, nil
}

func (r *AccountRepo) repoPaths(ctx context.Context) (map[int64]map[string]string, error) {
	rows, err := r.db.Reader.QueryContext(ctx, `SELECT account_id, full_name, path FROM account_repo_paths`)
	if err != nil {
		return nil, fmt.Errorf("list repo paths: %w", err)
	}
	defer rows.Close()

	paths := make(map[int64]map[string]string)
	for rows.Next() {
		var (
			id             int64
			fullName, path string
		)
		if err := rows.Scan(&id, &fullName, &path); err != nil {
			return nil, fmt.Errorf("scan repo path: %w", err)
		}
		if paths[id] == nil {
			paths[id] = make(map[string]string)
		}
		paths[id][fullName] = path
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate repo paths: %w", err)
	}
	return paths, nil
}
