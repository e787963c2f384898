package memory

import (
	"context"

	"payments-core/internal/domain"
)

type PreferredMethodRepository struct {
	store *Store
}

func (r *PreferredMethodRepository) UpsertTx(_ context.Context, _ domain.Querier, preferred *domain.PreferredMethod) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.preferred[preferred.UserID] = *preferred
	return nil
}

func (r *PreferredMethodRepository) GetByUserTx(_ context.Context, _ domain.Querier, userID string) (*domain.PreferredMethod, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	preferred, ok := r.store.preferred[userID]
	if !ok {
		return nil, domain.ErrPreferredMethodNotFound
	}
	return &preferred, nil
}
