package preferred_repo

import (
	"context"

	"payments-core/internal/domain"
)

type PreferredMethodRepository interface {
	// UpsertTx replaces the user's record wholesale.
	UpsertTx(ctx context.Context, querier domain.Querier, preferred *domain.PreferredMethod) error
	GetByUserTx(ctx context.Context, querier domain.Querier, userID string) (*domain.PreferredMethod, error)
}
