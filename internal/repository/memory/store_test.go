package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payments-core/internal/domain"
)

func payment(id, orderID, userID string, number int, created time.Time) *domain.Payment {
	return &domain.Payment{
		ID:            id,
		OrderID:       orderID,
		UserID:        userID,
		Amount:        decimal.NewFromInt(10),
		Status:        domain.PaymentStatusPending,
		Method:        domain.MethodCreditCard,
		PaymentNumber: number,
		CreatedAt:     created,
		UpdatedAt:     created,
	}
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	repo := store.Payments()

	boom := errors.New("boom")
	err := store.WithinTx(ctx, func(ctx context.Context, tx domain.Querier) error {
		require.NoError(t, repo.CreateTx(ctx, tx, payment("p-1", "o-1", "u-1", 1, time.Now())))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = repo.GetByIDTx(ctx, store.Reader(), "p-1")
	assert.ErrorIs(t, err, domain.ErrPaymentNotFound)
}

func TestWithinTxRollsBackOnPanic(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	wallets := store.Wallets()
	require.NoError(t, wallets.EnsureTx(ctx, store.Reader(), &domain.Wallet{UserID: "u-1", Balance: decimal.NewFromInt(5)}))

	assert.Panics(t, func() {
		_ = store.WithinTx(ctx, func(ctx context.Context, tx domain.Querier) error {
			require.NoError(t, wallets.UpdateBalanceTx(ctx, tx, "u-1", decimal.NewFromInt(10)))
			panic("kaboom")
		})
	})

	wallet, err := wallets.GetByUserTx(ctx, store.Reader(), "u-1")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(5).Equal(wallet.Balance))
}

func TestPaymentQueries(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	repo := store.Payments()
	q := store.Reader()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.CreateTx(ctx, q, payment("p-2", "o-1", "u-1", 2, base.Add(time.Minute))))
	require.NoError(t, repo.CreateTx(ctx, q, payment("p-1", "o-1", "u-1", 1, base)))
	require.NoError(t, repo.CreateTx(ctx, q, payment("p-3", "o-2", "u-1", 1, base.Add(2*time.Minute))))
	assert.ErrorIs(t, repo.CreateTx(ctx, q, payment("p-3", "o-2", "u-1", 1, base)), domain.ErrDuplicateEntity)

	byOrder, err := repo.ListByOrderTx(ctx, q, "o-1")
	require.NoError(t, err)
	require.Len(t, byOrder, 2)
	assert.Equal(t, "p-1", byOrder[0].ID)
	assert.Equal(t, "p-2", byOrder[1].ID)

	byUser, err := repo.ListByUserTx(ctx, q, "u-1")
	require.NoError(t, err)
	require.Len(t, byUser, 3)
	assert.Equal(t, []string{"p-3", "p-2", "p-1"}, []string{byUser[0].ID, byUser[1].ID, byUser[2].ID})

	page, err := repo.FindTx(ctx, q, domain.PaymentFilter{UserID: "u-1"}, 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "p-2", page[0].ID)

	empty, err := repo.FindTx(ctx, q, domain.PaymentFilter{UserID: "u-1"}, 10, 5)
	require.NoError(t, err)
	assert.Empty(t, empty)

	total, err := repo.CountTx(ctx, q, domain.PaymentFilter{UserID: "u-1", Status: domain.PaymentStatusPending})
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	p, err := repo.GetByIDTx(ctx, q, "p-1")
	require.NoError(t, err)
	require.NoError(t, p.Approve("CARD-1"))
	require.NoError(t, repo.UpdateTx(ctx, q, p))

	approved, err := repo.CountTx(ctx, q, domain.PaymentFilter{Status: domain.PaymentStatusApproved})
	require.NoError(t, err)
	assert.Equal(t, 1, approved)

	assert.ErrorIs(t, repo.UpdateTx(ctx, q, &domain.Payment{ID: "missing"}), domain.ErrPaymentNotFound)
}

func TestReturnedPaymentsAreCopies(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	repo := store.Payments()
	require.NoError(t, repo.CreateTx(ctx, store.Reader(), payment("p-1", "o-1", "u-1", 1, time.Now())))

	p, err := repo.GetByIDTx(ctx, store.Reader(), "p-1")
	require.NoError(t, err)
	p.Status = domain.PaymentStatusRefunded

	again, err := repo.GetByIDTx(ctx, store.Reader(), "p-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPending, again.Status)
}

func TestWalletUpdateBalanceNeverNegative(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	wallets := store.Wallets()
	q := store.Reader()

	assert.ErrorIs(t, wallets.UpdateBalanceTx(ctx, q, "u-1", decimal.NewFromInt(1)), domain.ErrWalletNotFound)

	require.NoError(t, wallets.EnsureTx(ctx, q, &domain.Wallet{UserID: "u-1", Balance: decimal.NewFromInt(10)}))
	require.NoError(t, wallets.EnsureTx(ctx, q, &domain.Wallet{UserID: "u-1", Balance: decimal.NewFromInt(99)}))
	assert.ErrorIs(t, wallets.UpdateBalanceTx(ctx, q, "u-1", decimal.NewFromInt(-11)), domain.ErrInsufficientFunds)

	wallet, err := wallets.GetByUserTx(ctx, q, "u-1")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(10).Equal(wallet.Balance))
}
