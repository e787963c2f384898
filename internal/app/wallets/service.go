package wallets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"payments-core/internal/domain"
	"payments-core/internal/repository/wallets_repo"
	"payments-core/internal/util"
)

type Service struct {
	tx     domain.TxManager
	repo   wallets_repo.WalletRepository
	logger *zap.Logger
}

func NewService(tx domain.TxManager, repo wallets_repo.WalletRepository, logger *zap.Logger) *Service {
	return &Service{tx: tx, repo: repo, logger: logger}
}

// Balance returns the user's wallet, opening an empty one on first use.
func (s *Service) Balance(ctx context.Context, userID string) (*domain.Wallet, error) {
	if userID == "" {
		return nil, domain.Validation("userId", "user id is required")
	}
	var wallet *domain.Wallet
	err := s.tx.WithinTx(ctx, func(ctx context.Context, q domain.Querier) error {
		w, err := s.ensureTx(ctx, q, userID)
		wallet = w
		return err
	})
	if err != nil {
		return nil, err
	}
	return wallet, nil
}

func (s *Service) HasBalance(ctx context.Context, userID string, amount decimal.Decimal) (bool, error) {
	if !amount.IsPositive() {
		return false, domain.Validation("amount", "amount must be greater than zero")
	}
	wallet, err := s.repo.GetByUserTx(ctx, s.tx.Reader(), userID)
	if errors.Is(err, domain.ErrWalletNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return wallet.Balance.GreaterThanOrEqual(amount), nil
}

// Withdraw debits the wallet in its own transaction. It reports false when
// the balance does not cover amount.
func (s *Service) Withdraw(ctx context.Context, userID string, amount decimal.Decimal) (bool, error) {
	var ok bool
	err := s.tx.WithinTx(ctx, func(ctx context.Context, q domain.Querier) error {
		var err error
		ok, err = s.WithdrawTx(ctx, q, userID, amount)
		return err
	})
	return ok, err
}

// WithdrawTx locks the wallet row, checks the balance and debits it. A
// missing wallet or a short balance fails closed with false.
func (s *Service) WithdrawTx(ctx context.Context, q domain.Querier, userID string, amount decimal.Decimal) (bool, error) {
	if !amount.IsPositive() {
		return false, domain.Validation("amount", "amount must be greater than zero")
	}
	wallet, err := s.repo.GetByUserForUpdateTx(ctx, q, userID)
	if errors.Is(err, domain.ErrWalletNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lock wallet: %w", err)
	}
	if wallet.Balance.LessThan(amount) {
		s.logger.Info("Недостаточно средств в кошельке",
			zap.String("user_id", userID),
			zap.String("balance", wallet.Balance.StringFixed(2)),
			zap.String("amount", amount.StringFixed(2)),
		)
		return false, nil
	}
	err = s.repo.UpdateBalanceTx(ctx, q, userID, amount.Neg())
	if errors.Is(err, domain.ErrInsufficientFunds) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("debit wallet: %w", err)
	}
	return true, nil
}

func (s *Service) Deposit(ctx context.Context, userID string, amount decimal.Decimal) (*domain.Wallet, error) {
	var wallet *domain.Wallet
	err := s.tx.WithinTx(ctx, func(ctx context.Context, q domain.Querier) error {
		var err error
		wallet, err = s.DepositTx(ctx, q, userID, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Кошелек пополнен", zap.String("user_id", userID), zap.String("amount", amount.StringFixed(2)))
	return wallet, nil
}

// DepositTx credits the wallet, opening it if needed.
func (s *Service) DepositTx(ctx context.Context, q domain.Querier, userID string, amount decimal.Decimal) (*domain.Wallet, error) {
	if !amount.IsPositive() {
		return nil, domain.Validation("amount", "amount must be greater than zero")
	}
	if userID == "" {
		return nil, domain.Validation("userId", "user id is required")
	}
	if _, err := s.ensureTx(ctx, q, userID); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateBalanceTx(ctx, q, userID, amount); err != nil {
		return nil, fmt.Errorf("credit wallet: %w", err)
	}
	return s.repo.GetByUserTx(ctx, q, userID)
}

func (s *Service) ensureTx(ctx context.Context, q domain.Querier, userID string) (*domain.Wallet, error) {
	now := time.Now().UTC()
	err := s.repo.EnsureTx(ctx, q, &domain.Wallet{
		ID:        util.GenerateUUID(),
		UserID:    userID,
		Balance:   decimal.Zero,
		Currency:  domain.DefaultCurrency,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("open wallet: %w", err)
	}
	return s.repo.GetByUserTx(ctx, q, userID)
}
