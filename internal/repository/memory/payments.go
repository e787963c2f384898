package memory

import (
	"context"
	"sort"

	"payments-core/internal/domain"
)

type PaymentRepository struct {
	store *Store
}

func (r *PaymentRepository) CreateTx(_ context.Context, _ domain.Querier, payment *domain.Payment) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, exists := r.store.payments[payment.ID]; exists {
		return domain.ErrDuplicateEntity
	}
	r.store.seq++
	r.store.payments[payment.ID] = paymentRecord{payment: *payment, seq: r.store.seq}
	return nil
}

func (r *PaymentRepository) GetByIDTx(_ context.Context, _ domain.Querier, id string) (*domain.Payment, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	rec, ok := r.store.payments[id]
	if !ok {
		return nil, domain.ErrPaymentNotFound
	}
	payment := rec.payment
	return &payment, nil
}

func (r *PaymentRepository) GetByIDForUpdateTx(ctx context.Context, querier domain.Querier, id string) (*domain.Payment, error) {
	return r.GetByIDTx(ctx, querier, id)
}

func (r *PaymentRepository) ListByOrderTx(_ context.Context, _ domain.Querier, orderID string) ([]*domain.Payment, error) {
	recs := r.match(domain.PaymentFilter{OrderID: orderID})
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].payment.PaymentNumber != recs[j].payment.PaymentNumber {
			return recs[i].payment.PaymentNumber < recs[j].payment.PaymentNumber
		}
		return recs[i].seq < recs[j].seq
	})
	return unwrap(recs), nil
}

func (r *PaymentRepository) ListByUserTx(_ context.Context, _ domain.Querier, userID string) ([]*domain.Payment, error) {
	recs := r.match(domain.PaymentFilter{UserID: userID})
	sortNewestFirst(recs)
	return unwrap(recs), nil
}

func (r *PaymentRepository) FindTx(_ context.Context, _ domain.Querier, filter domain.PaymentFilter, limit, offset int) ([]*domain.Payment, error) {
	recs := r.match(filter)
	sortNewestFirst(recs)
	if offset >= len(recs) {
		return nil, nil
	}
	recs = recs[offset:]
	if limit >= 0 && limit < len(recs) {
		recs = recs[:limit]
	}
	return unwrap(recs), nil
}

func (r *PaymentRepository) CountTx(_ context.Context, _ domain.Querier, filter domain.PaymentFilter) (int, error) {
	return len(r.match(filter)), nil
}

func (r *PaymentRepository) UpdateTx(_ context.Context, _ domain.Querier, payment *domain.Payment) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	rec, ok := r.store.payments[payment.ID]
	if !ok {
		return domain.ErrPaymentNotFound
	}
	rec.payment.Status = payment.Status
	rec.payment.TransactionID = payment.TransactionID
	rec.payment.ErrorMessage = payment.ErrorMessage
	rec.payment.ErrorCode = payment.ErrorCode
	rec.payment.UpdatedAt = payment.UpdatedAt
	r.store.payments[payment.ID] = rec
	return nil
}

// LockOrderTx is a no-op: WithinTx already serializes every transaction.
func (r *PaymentRepository) LockOrderTx(context.Context, domain.Querier, string) error {
	return nil
}

func (r *PaymentRepository) match(filter domain.PaymentFilter) []paymentRecord {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []paymentRecord
	for _, rec := range r.store.payments {
		p := rec.payment
		if filter.OrderID != "" && p.OrderID != filter.OrderID {
			continue
		}
		if filter.UserID != "" && p.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		if filter.Method != "" && p.Method != filter.Method {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func sortNewestFirst(recs []paymentRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i].payment.CreatedAt, recs[j].payment.CreatedAt
		if !a.Equal(b) {
			return a.After(b)
		}
		return recs[i].seq > recs[j].seq
	})
}

func unwrap(recs []paymentRecord) []*domain.Payment {
	out := make([]*domain.Payment, 0, len(recs))
	for _, rec := range recs {
		payment := rec.payment
		out = append(out, &payment)
	}
	return out
}
