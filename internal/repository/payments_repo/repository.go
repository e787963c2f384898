package payments_repo

import (
	"context"

	"payments-core/internal/domain"
)

type PaymentRepository interface {
	CreateTx(ctx context.Context, querier domain.Querier, payment *domain.Payment) error
	GetByIDTx(ctx context.Context, querier domain.Querier, id string) (*domain.Payment, error)
	GetByIDForUpdateTx(ctx context.Context, querier domain.Querier, id string) (*domain.Payment, error)
	// ListByOrderTx returns the order's payments by ascending payment number.
	ListByOrderTx(ctx context.Context, querier domain.Querier, orderID string) ([]*domain.Payment, error)
	// ListByUserTx returns the user's payments newest first.
	ListByUserTx(ctx context.Context, querier domain.Querier, userID string) ([]*domain.Payment, error)
	FindTx(ctx context.Context, querier domain.Querier, filter domain.PaymentFilter, limit, offset int) ([]*domain.Payment, error)
	CountTx(ctx context.Context, querier domain.Querier, filter domain.PaymentFilter) (int, error)
	UpdateTx(ctx context.Context, querier domain.Querier, payment *domain.Payment) error
	// LockOrderTx serializes writers of one order until the transaction ends.
	LockOrderTx(ctx context.Context, querier domain.Querier, orderID string) error
}
