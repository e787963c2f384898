package memory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"payments-core/internal/domain"
)

type WalletRepository struct {
	store *Store
}

func (r *WalletRepository) EnsureTx(_ context.Context, _ domain.Querier, wallet *domain.Wallet) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, exists := r.store.wallets[wallet.UserID]; !exists {
		r.store.wallets[wallet.UserID] = *wallet
	}
	return nil
}

func (r *WalletRepository) GetByUserTx(_ context.Context, _ domain.Querier, userID string) (*domain.Wallet, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	wallet, ok := r.store.wallets[userID]
	if !ok {
		return nil, domain.ErrWalletNotFound
	}
	return &wallet, nil
}

func (r *WalletRepository) GetByUserForUpdateTx(ctx context.Context, querier domain.Querier, userID string) (*domain.Wallet, error) {
	return r.GetByUserTx(ctx, querier, userID)
}

func (r *WalletRepository) UpdateBalanceTx(_ context.Context, _ domain.Querier, userID string, delta decimal.Decimal) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	wallet, ok := r.store.wallets[userID]
	if !ok {
		return domain.ErrWalletNotFound
	}
	next := wallet.Balance.Add(delta)
	if next.IsNegative() {
		return domain.ErrInsufficientFunds
	}
	wallet.Balance = next
	wallet.UpdatedAt = time.Now().UTC()
	r.store.wallets[userID] = wallet
	return nil
}
