package refunds

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"payments-core/internal/domain"
	"payments-core/internal/metrics"
)

const (
	DefaultBaseDelay = time.Second
	DefaultReason    = "Order canceled"
	maxAttempts      = 3
)

// Ledger is the slice of the payment ledger refunds work against.
type Ledger interface {
	ListApprovedByOrder(ctx context.Context, orderID string) ([]*domain.Payment, error)
	GetByID(ctx context.Context, paymentID string) (*domain.Payment, error)
	Refund(ctx context.Context, paymentID, reason string) (*domain.Payment, error)
}

// Cancellation is an order owner's notice that an order was canceled.
type Cancellation struct {
	OrderID    string
	UserID     string
	Reason     string
	CanceledAt time.Time
}

// Result tells which payments of the order ended where.
type Result struct {
	Refunded []string
	Skipped  []string
	Failed   []string
}

type Orchestrator struct {
	ledger    Ledger
	baseDelay time.Duration
	metrics   *metrics.Payments
	logger    *zap.Logger
}

func NewOrchestrator(ledger Ledger, baseDelay time.Duration, m *metrics.Payments, logger *zap.Logger) *Orchestrator {
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	return &Orchestrator{ledger: ledger, baseDelay: baseDelay, metrics: m, logger: logger}
}

// HandleCancellation refunds every approved payment of the order, one at a
// time. Only a failure to list the payments is returned; individual refund
// failures end up in Result.Failed.
func (o *Orchestrator) HandleCancellation(ctx context.Context, c Cancellation) (Result, error) {
	var result Result
	if c.OrderID == "" {
		return result, domain.Validation("orderId", "order id is required")
	}
	reason := c.Reason
	if reason == "" {
		reason = DefaultReason
	}

	approved, err := o.ledger.ListApprovedByOrder(ctx, c.OrderID)
	if err != nil {
		o.logger.Error("Не удалось получить одобренные платежи заказа", zap.String("order_id", c.OrderID), zap.Error(err))
		return result, err
	}
	if len(approved) == 0 {
		o.logger.Info("Нет одобренных платежей для возврата", zap.String("order_id", c.OrderID))
		return result, nil
	}

	o.logger.Info("Начат возврат платежей отмененного заказа",
		zap.String("order_id", c.OrderID),
		zap.Int("payments", len(approved)),
		zap.String("reason", reason),
	)
	for _, p := range approved {
		switch o.refundWithRetry(ctx, p.ID, reason) {
		case outcomeRefunded:
			result.Refunded = append(result.Refunded, p.ID)
		case outcomeSkipped:
			result.Skipped = append(result.Skipped, p.ID)
		default:
			result.Failed = append(result.Failed, p.ID)
		}
	}
	return result, nil
}

type outcome int

const (
	outcomeRefunded outcome = iota
	outcomeSkipped
	outcomeFailed
)

// refundWithRetry makes up to three attempts, waiting D and then 2D between
// them. Each attempt re-reads the payment first.
func (o *Orchestrator) refundWithRetry(ctx context.Context, paymentID, reason string) outcome {
	backoff := retry.WithMaxRetries(maxAttempts-1, retry.NewExponential(o.baseDelay))
	result := outcomeFailed
	attempt := 0

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		current, err := o.ledger.GetByID(ctx, paymentID)
		if errors.Is(err, domain.ErrPaymentNotFound) {
			result = outcomeSkipped
			return nil
		}
		if err != nil {
			return o.attemptFailed(paymentID, attempt, err)
		}
		if current.Status != domain.PaymentStatusApproved {
			o.logger.Info("Платеж больше не одобрен, возврат пропущен",
				zap.String("payment_id", paymentID),
				zap.String("status", string(current.Status)),
			)
			result = outcomeSkipped
			return nil
		}
		if _, err := o.ledger.Refund(ctx, paymentID, reason); err != nil {
			return o.attemptFailed(paymentID, attempt, err)
		}
		o.metrics.RefundAttempt("succeeded")
		o.logger.Info("Платеж возвращен", zap.String("payment_id", paymentID), zap.Int("attempt", attempt))
		result = outcomeRefunded
		return nil
	})
	if err != nil {
		o.metrics.ManualIntervention()
		o.logger.Error("Возврат не выполнен после всех попыток, требуется ручное вмешательство",
			zap.String("payment_id", paymentID),
			zap.Int("attempts", attempt),
			zap.Error(err),
		)
		return outcomeFailed
	}
	return result
}

func (o *Orchestrator) attemptFailed(paymentID string, attempt int, err error) error {
	o.metrics.RefundAttempt("failed")
	o.logger.Warn("Попытка возврата не удалась",
		zap.String("payment_id", paymentID),
		zap.Int("attempt", attempt),
		zap.Int("max_attempts", maxAttempts),
		zap.Error(err),
	)
	return retry.RetryableError(err)
}
