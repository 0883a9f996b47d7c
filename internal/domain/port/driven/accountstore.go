package driven

import (
	"context"

	"github.com/ericfisherdev/gitaccounts/internal/domain/model"
)

// AccountStore persists the non-secret configuration of every account.
type AccountStore interface {
	// LoadAccounts returns the saved accounts in their saved order.
	LoadAccounts(ctx context.Context) ([]model.AccountConfig, error)
	// SaveAccounts replaces the saved set with accounts.
	SaveAccounts(ctx context.Context, accounts []model.AccountConfig) error
}
