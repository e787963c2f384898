package wallets_repo

import (
	"context"

	"github.com/shopspring/decimal"

	"payments-core/internal/domain"
)

type WalletRepository interface {
	// EnsureTx inserts the wallet unless the user already has one.
	EnsureTx(ctx context.Context, querier domain.Querier, wallet *domain.Wallet) error
	GetByUserTx(ctx context.Context, querier domain.Querier, userID string) (*domain.Wallet, error)
	GetByUserForUpdateTx(ctx context.Context, querier domain.Querier, userID string) (*domain.Wallet, error)
	// UpdateBalanceTx applies delta and refuses to take the balance below zero.
	UpdateBalanceTx(ctx context.Context, querier domain.Querier, userID string, delta decimal.Decimal) error
}
