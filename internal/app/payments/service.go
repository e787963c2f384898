package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"payments-core/internal/domain"
	"payments-core/internal/metrics"
	"payments-core/internal/repository/payments_repo"
	"payments-core/internal/repository/preferred_repo"
	"payments-core/internal/util"
)

const DefaultBankSettlementDelay = 5 * time.Second

// WalletLedger is the part of the wallet service settlement and refunds need.
type WalletLedger interface {
	HasBalance(ctx context.Context, userID string, amount decimal.Decimal) (bool, error)
	WithdrawTx(ctx context.Context, q domain.Querier, userID string, amount decimal.Decimal) (bool, error)
	DepositTx(ctx context.Context, q domain.Querier, userID string, amount decimal.Decimal) (*domain.Wallet, error)
}

// EventPublisher is told about committed transitions. It never fails the caller.
type EventPublisher interface {
	PaymentApproved(ctx context.Context, payment *domain.Payment)
	PaymentFailed(ctx context.Context, payment *domain.Payment)
	PaymentRefunded(ctx context.Context, payment *domain.Payment, reason string)
}

// OrderValidator checks that an order accepts a payment of amount.
type OrderValidator interface {
	ValidateForPayment(ctx context.Context, orderID string, amount decimal.Decimal, credential string) (*domain.Order, error)
}

type Dependencies struct {
	Tx        domain.TxManager
	Payments  payments_repo.PaymentRepository
	Preferred preferred_repo.PreferredMethodRepository
	Wallets   WalletLedger
	Orders    OrderValidator
	Publisher EventPublisher
	Metrics   *metrics.Payments
}

// Service is the payment ledger together with its settlement policy.
type Service struct {
	tx        domain.TxManager
	payments  payments_repo.PaymentRepository
	preferred preferred_repo.PreferredMethodRepository
	wallets   WalletLedger
	orders    OrderValidator
	publisher EventPublisher
	metrics   *metrics.Payments
	logger    *zap.Logger

	bankDelay time.Duration
	random    func() float64
	now       func() time.Time

	// ctx outlives requests; deferred bank decisions run on it.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
	wg     sync.WaitGroup
}

func NewService(deps Dependencies, bankDelay time.Duration, logger *zap.Logger) *Service {
	if bankDelay <= 0 {
		bankDelay = DefaultBankSettlementDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		tx:        deps.Tx,
		payments:  deps.Payments,
		preferred: deps.Preferred,
		wallets:   deps.Wallets,
		orders:    deps.Orders,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		logger:    logger,
		bankDelay: bankDelay,
		random:    rand.Float64,
		now:       func() time.Time { return time.Now().UTC() },
		ctx:       ctx,
		cancel:    cancel,
		timers:    make(map[string]*time.Timer),
	}
}

type CreateParams struct {
	OrderID          string
	UserID           string
	Amount           decimal.Decimal
	Currency         string
	Method           domain.PaymentMethod
	InstrumentData   json.RawMessage
	TotalOrderAmount decimal.Decimal
	// PreviousApprovedTotal overrides the ledger's own sum of approved
	// payments when the order owner reports it.
	PreviousApprovedTotal *decimal.Decimal
}

func (p CreateParams) validate() error {
	var c domain.Collector
	if strings.TrimSpace(p.OrderID) == "" {
		c.Add("orderId", "order id is required")
	}
	if strings.TrimSpace(p.UserID) == "" {
		c.Add("userId", "user id is required")
	}
	if !p.Amount.IsPositive() {
		c.Add("amount", "amount must be greater than zero")
	}
	if !p.Method.Valid() {
		c.Add("method", fmt.Sprintf("unsupported payment method %q", p.Method))
	}
	if !p.TotalOrderAmount.IsPositive() {
		c.Add("totalOrderAmount", "order total must be greater than zero")
	}
	if p.PreviousApprovedTotal != nil && p.PreviousApprovedTotal.IsNegative() {
		c.Add("previousApprovedTotal", "previously approved total cannot be negative")
	}
	return c.Err()
}

// Create records a PENDING payment. Numbering and running totals are
// computed under the order lock so concurrent creates never share a number.
func (s *Service) Create(ctx context.Context, params CreateParams) (*domain.Payment, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	currency := strings.ToUpper(strings.TrimSpace(params.Currency))
	if currency == "" {
		currency = domain.DefaultCurrency
	}

	var created *domain.Payment
	err := s.tx.WithinTx(ctx, func(ctx context.Context, q domain.Querier) error {
		if err := s.payments.LockOrderTx(ctx, q, params.OrderID); err != nil {
			return err
		}
		existing, err := s.payments.ListByOrderTx(ctx, q, params.OrderID)
		if err != nil {
			return err
		}

		approvedSum := decimal.Zero
		lastNumber := 0
		for _, p := range existing {
			if p.Status == domain.PaymentStatusApproved {
				approvedSum = approvedSum.Add(p.Amount)
			}
			// Numbers only grow: rejected and refunded payments keep theirs.
			if p.PaymentNumber > lastNumber {
				lastNumber = p.PaymentNumber
			}
		}
		if params.PreviousApprovedTotal != nil {
			approvedSum = *params.PreviousApprovedTotal
		}
		paidSoFar := approvedSum.Add(params.Amount)

		now := s.now()
		created = &domain.Payment{
			ID:               util.GenerateUUID(),
			OrderID:          params.OrderID,
			UserID:           params.UserID,
			Amount:           params.Amount,
			Currency:         currency,
			Method:           params.Method,
			Status:           domain.PaymentStatusPending,
			InstrumentData:   params.InstrumentData,
			PartialPayment:   paidSoFar.LessThan(params.TotalOrderAmount),
			PaymentNumber:    lastNumber + 1,
			TotalOrderAmount: params.TotalOrderAmount,
			TotalPaidSoFar:   paidSoFar,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		return s.payments.CreateTx(ctx, q, created)
	})
	if err != nil {
		s.logger.Error("Не удалось создать платеж", zap.String("order_id", params.OrderID), zap.Error(err))
		return nil, err
	}

	s.logger.Info("Платеж создан",
		zap.String("payment_id", created.ID),
		zap.String("order_id", created.OrderID),
		zap.Int("payment_number", created.PaymentNumber),
		zap.Bool("partial", created.PartialPayment),
	)
	return created, nil
}

// Approve moves a PENDING payment to APPROVED and then, outside the
// transaction, refreshes the user's preference and emits the event.
func (s *Service) Approve(ctx context.Context, paymentID, transactionID string) (*domain.Payment, error) {
	payment, err := s.transition(ctx, paymentID, func(_ context.Context, _ domain.Querier, p *domain.Payment) (bool, error) {
		return true, p.Approve(transactionID)
	})
	if err != nil {
		return nil, err
	}
	s.afterApproved(ctx, payment)
	return payment, nil
}

// ManualApprove approves a PENDING payment on an operator's behalf.
func (s *Service) ManualApprove(ctx context.Context, paymentID, transactionID string) (*domain.Payment, error) {
	if strings.TrimSpace(transactionID) == "" {
		transactionID = util.TransactionID(util.TxPrefixManual, s.now())
	}
	return s.Approve(ctx, paymentID, transactionID)
}

func (s *Service) Reject(ctx context.Context, paymentID, message string, code domain.ErrorCode) (*domain.Payment, error) {
	payment, err := s.transition(ctx, paymentID, func(_ context.Context, _ domain.Querier, p *domain.Payment) (bool, error) {
		return true, p.Reject(message, code)
	})
	if err != nil {
		return nil, err
	}
	s.cancelSettlement(payment.ID)
	s.metrics.Settled(string(payment.Method), "rejected")
	s.logger.Info("Платеж отклонен",
		zap.String("payment_id", payment.ID),
		zap.String("error_code", string(code)),
		zap.String("error_message", message),
	)
	s.publisher.PaymentFailed(ctx, payment)
	return payment, nil
}

// Refund reverses an APPROVED payment. Refunding a REFUNDED payment returns
// it unchanged. Wallet payments are credited back in the same transaction.
func (s *Service) Refund(ctx context.Context, paymentID, reason string) (*domain.Payment, error) {
	changed := false
	payment, err := s.transition(ctx, paymentID, func(ctx context.Context, q domain.Querier, p *domain.Payment) (bool, error) {
		if p.Status == domain.PaymentStatusRefunded {
			return false, nil
		}
		if err := p.Refund(); err != nil {
			return false, err
		}
		if p.Method == domain.MethodWallet {
			if _, err := s.wallets.DepositTx(ctx, q, p.UserID, p.Amount); err != nil {
				return false, domain.Conflict("wallet", "could not credit the wallet, refund aborted").Wrap(err)
			}
		}
		changed = true
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		s.logger.Info("Платеж уже возвращен", zap.String("payment_id", payment.ID))
		return payment, nil
	}

	s.cancelSettlement(payment.ID)
	s.logger.Info("Платеж возвращен", zap.String("payment_id", payment.ID), zap.String("reason", reason))
	s.publisher.PaymentRefunded(ctx, payment, reason)
	return payment, nil
}

// transition locks the payment, applies fn and persists the result when fn
// reports a change.
func (s *Service) transition(
	ctx context.Context,
	paymentID string,
	fn func(ctx context.Context, q domain.Querier, p *domain.Payment) (bool, error),
) (*domain.Payment, error) {
	var result *domain.Payment
	err := s.tx.WithinTx(ctx, func(ctx context.Context, q domain.Querier) error {
		p, err := s.payments.GetByIDForUpdateTx(ctx, q, paymentID)
		if err != nil {
			return mapNotFound(err)
		}
		changed, err := fn(ctx, q, p)
		if err != nil {
			return err
		}
		result = p
		if !changed {
			return nil
		}
		return s.payments.UpdateTx(ctx, q, p)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) afterApproved(ctx context.Context, payment *domain.Payment) {
	s.cancelSettlement(payment.ID)
	s.metrics.Settled(string(payment.Method), "approved")
	s.logger.Info("Платеж одобрен",
		zap.String("payment_id", payment.ID),
		zap.String("order_id", payment.OrderID),
		zap.String("transaction_id", payment.TransactionID),
	)
	s.refreshPreference(ctx, payment.UserID)
	s.publisher.PaymentApproved(ctx, payment)
}

func (s *Service) GetByID(ctx context.Context, paymentID string) (*domain.Payment, error) {
	p, err := s.payments.GetByIDTx(ctx, s.tx.Reader(), paymentID)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return p, nil
}

// ListByOrder returns every payment of the order by ascending number.
func (s *Service) ListByOrder(ctx context.Context, orderID string) ([]*domain.Payment, error) {
	return s.payments.ListByOrderTx(ctx, s.tx.Reader(), orderID)
}

func (s *Service) ListApprovedByOrder(ctx context.Context, orderID string) ([]*domain.Payment, error) {
	all, err := s.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	approved := make([]*domain.Payment, 0, len(all))
	for _, p := range all {
		if p.Status == domain.PaymentStatusApproved {
			approved = append(approved, p)
		}
	}
	return approved, nil
}

// LatestByOrder returns the most recently created payment of the order.
func (s *Service) LatestByOrder(ctx context.Context, orderID string) (*domain.Payment, error) {
	found, err := s.payments.FindTx(ctx, s.tx.Reader(), domain.PaymentFilter{OrderID: orderID}, 1, 0)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, domain.NotFound("orderId", "no payments found for this order")
	}
	return found[0], nil
}

// ListByUser returns the user's payments newest first.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]*domain.Payment, error) {
	return s.payments.ListByUserTx(ctx, s.tx.Reader(), userID)
}

// Find returns one page of matching payments and the total match count.
func (s *Service) Find(ctx context.Context, filter domain.PaymentFilter, limit, offset int) ([]*domain.Payment, int, error) {
	if limit <= 0 {
		return nil, 0, domain.Validation("limit", "limit must be greater than zero")
	}
	if offset < 0 {
		return nil, 0, domain.Validation("offset", "offset cannot be negative")
	}
	reader := s.tx.Reader()
	items, err := s.payments.FindTx(ctx, reader, filter, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.payments.CountTx(ctx, reader, filter)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Close stops every pending bank decision and waits for running ones.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	for id, t := range s.timers {
		if t.Stop() {
			s.wg.Done()
		}
		delete(s.timers, id)
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

func mapNotFound(err error) error {
	if errors.Is(err, domain.ErrPaymentNotFound) {
		return domain.NotFound("paymentId", "payment not found")
	}
	return err
}
