package wallets_repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"payments-core/internal/domain"
)

type walletRepository struct{}

func NewWalletRepository() *walletRepository {
	return &walletRepository{}
}

func (r *walletRepository) EnsureTx(ctx context.Context, querier domain.Querier, wallet *domain.Wallet) error {
	query := `
		INSERT INTO wallets (id, user_id, balance, currency, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO NOTHING
	`
	_, err := querier.ExecContext(ctx, query,
		wallet.ID, wallet.UserID, wallet.Balance, wallet.Currency, wallet.CreatedAt, wallet.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create wallet for user %s: %w", wallet.UserID, err)
	}
	return nil
}

func (r *walletRepository) GetByUserTx(ctx context.Context, querier domain.Querier, userID string) (*domain.Wallet, error) {
	return r.getByUser(ctx, querier, userID, "")
}

func (r *walletRepository) GetByUserForUpdateTx(ctx context.Context, querier domain.Querier, userID string) (*domain.Wallet, error) {
	return r.getByUser(ctx, querier, userID, "FOR UPDATE")
}

func (r *walletRepository) getByUser(ctx context.Context, querier domain.Querier, userID, lock string) (*domain.Wallet, error) {
	query := `
		SELECT id, user_id, balance, currency, created_at, updated_at
		FROM wallets
		WHERE user_id = $1
	` + lock
	wallet := &domain.Wallet{}
	err := querier.QueryRowContext(ctx, query, userID).Scan(
		&wallet.ID,
		&wallet.UserID,
		&wallet.Balance,
		&wallet.Currency,
		&wallet.CreatedAt,
		&wallet.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to get wallet for user %s: %w", userID, err)
	}
	return wallet, nil
}

func (r *walletRepository) UpdateBalanceTx(ctx context.Context, querier domain.Querier, userID string, delta decimal.Decimal) error {
	checkBalanceQuery := `SELECT balance FROM wallets WHERE user_id = $1 FOR UPDATE`
	var currentBalance decimal.Decimal
	err := querier.QueryRowContext(ctx, checkBalanceQuery, userID).Scan(&currentBalance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrWalletNotFound
		}
		return fmt.Errorf("failed to check current balance for user %s: %w", userID, err)
	}
	if currentBalance.Add(delta).IsNegative() {
		return domain.ErrInsufficientFunds
	}

	query := `
		UPDATE wallets
		SET balance = balance + $1, updated_at = $2
		WHERE user_id = $3
	`
	res, err := querier.ExecContext(ctx, query, delta, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to update wallet balance for user %s: %w", userID, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrWalletNotFound
	}
	return nil
}
