package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"payments-core/internal/domain"
)

// Preferred returns the user's most successful payment method.
func (s *Service) Preferred(ctx context.Context, userID string) (*domain.PreferredMethod, error) {
	preferred, err := s.preferred.GetByUserTx(ctx, s.tx.Reader(), userID)
	if errors.Is(err, domain.ErrPreferredMethodNotFound) {
		return nil, domain.NewError(domain.CodeNotFound, domain.FieldError{
			Path:    "userId",
			Message: "no preferred payment method yet",
		}).Wrap(err)
	}
	if err != nil {
		return nil, err
	}
	return preferred, nil
}

// refreshPreference rebuilds the user's preference from the full approval
// history. Failures are logged only.
func (s *Service) refreshPreference(ctx context.Context, userID string) {
	var preferred *domain.PreferredMethod
	err := s.tx.WithinTx(ctx, func(ctx context.Context, q domain.Querier) error {
		history, err := s.payments.ListByUserTx(ctx, q, userID)
		if err != nil {
			return fmt.Errorf("failed to load payment history: %w", err)
		}
		chosen, ok := choosePreferred(userID, history, s.now())
		if !ok {
			return nil
		}
		if err := s.preferred.UpsertTx(ctx, q, chosen); err != nil {
			return fmt.Errorf("failed to upsert preferred method: %w", err)
		}
		preferred = chosen
		return nil
	})
	if err != nil {
		s.logger.Warn("Не удалось обновить предпочтительный метод оплаты", zap.String("user_id", userID), zap.Error(err))
		return
	}
	if preferred == nil {
		return
	}
	s.logger.Debug("Предпочтительный метод оплаты обновлен",
		zap.String("user_id", userID),
		zap.String("method", string(preferred.Method)),
		zap.Int("success_count", preferred.SuccessCount),
	)
}

type methodUsage struct {
	count    int
	lastUsed time.Time
}

// choosePreferred picks the method with the most approvals, then the most
// recent one. Method name breaks exact ties so the result is stable.
func choosePreferred(userID string, history []*domain.Payment, now time.Time) (*domain.PreferredMethod, bool) {
	usage := make(map[domain.PaymentMethod]*methodUsage)
	for _, p := range history {
		if p.Status != domain.PaymentStatusApproved {
			continue
		}
		u, ok := usage[p.Method]
		if !ok {
			u = &methodUsage{}
			usage[p.Method] = u
		}
		u.count++
		if p.UpdatedAt.After(u.lastUsed) {
			u.lastUsed = p.UpdatedAt
		}
	}

	var (
		best     domain.PaymentMethod
		bestSeen *methodUsage
	)
	for method, u := range usage {
		if bestSeen == nil || better(method, u, best, bestSeen) {
			best, bestSeen = method, u
		}
	}
	if bestSeen == nil {
		return nil, false
	}
	return &domain.PreferredMethod{
		UserID:       userID,
		Method:       best,
		LastUsed:     bestSeen.lastUsed,
		SuccessCount: bestSeen.count,
		UpdatedAt:    now,
	}, true
}

func better(method domain.PaymentMethod, u *methodUsage, best domain.PaymentMethod, b *methodUsage) bool {
	if u.count != b.count {
		return u.count > b.count
	}
	if !u.lastUsed.Equal(b.lastUsed) {
		return u.lastUsed.After(b.lastUsed)
	}
	return method < best
}
