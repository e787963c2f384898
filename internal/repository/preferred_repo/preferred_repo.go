package preferred_repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"payments-core/internal/domain"
)

type preferredMethodRepository struct{}

func NewPreferredMethodRepository() *preferredMethodRepository {
	return &preferredMethodRepository{}
}

func (r *preferredMethodRepository) UpsertTx(ctx context.Context, querier domain.Querier, preferred *domain.PreferredMethod) error {
	query := `
		INSERT INTO preferred_methods (user_id, method, last_used, success_count, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE
		SET method = EXCLUDED.method,
			last_used = EXCLUDED.last_used,
			success_count = EXCLUDED.success_count,
			updated_at = EXCLUDED.updated_at
	`
	_, err := querier.ExecContext(ctx, query,
		preferred.UserID,
		string(preferred.Method),
		preferred.LastUsed,
		preferred.SuccessCount,
		preferred.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert preferred method for user %s: %w", preferred.UserID, err)
	}
	return nil
}

func (r *preferredMethodRepository) GetByUserTx(ctx context.Context, querier domain.Querier, userID string) (*domain.PreferredMethod, error) {
	query := `
		SELECT user_id, method, last_used, success_count, updated_at
		FROM preferred_methods
		WHERE user_id = $1
	`
	preferred := &domain.PreferredMethod{}
	err := querier.QueryRowContext(ctx, query, userID).Scan(
		&preferred.UserID,
		&preferred.Method,
		&preferred.LastUsed,
		&preferred.SuccessCount,
		&preferred.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPreferredMethodNotFound
		}
		return nil, fmt.Errorf("failed to get preferred method for user %s: %w", userID, err)
	}
	return preferred, nil
}
