package payments

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"payments-core/internal/domain"
	"payments-core/internal/domain/instrument"
	"payments-core/internal/util"
)

const (
	bankApprovalRate     = 0.9
	bankRejectedMessage  = "Transfer rejected by bank"
	walletShortMessage   = "Insufficient wallet balance"
	walletFailureMessage = "Wallet settlement failed"
	cardFailureMessage   = "Card settlement failed"
	resumePageSize       = 500
)

var errWithdrawRefused = errors.New("wallet withdraw refused")

// settle applies the method's settlement policy to a freshly created payment.
func (s *Service) settle(ctx context.Context, payment *domain.Payment, inst instrument.Instrument) (*domain.Payment, error) {
	switch inst.(type) {
	case instrument.Card:
		return s.settleCard(ctx, payment)
	case instrument.Wallet:
		return s.settleWallet(ctx, payment)
	case instrument.BankTransfer:
		s.scheduleBankDecision(payment.ID)
		return payment, nil
	default:
		return nil, domain.NewError(domain.CodeInternal).Wrap(errors.New("unknown instrument"))
	}
}

// settleCard approves at once. A failed approval is turned into a REJECTED
// payment so nothing is left PENDING without a decision scheduled.
func (s *Service) settleCard(ctx context.Context, payment *domain.Payment) (*domain.Payment, error) {
	approved, err := s.Approve(ctx, payment.ID, util.TransactionID(util.TxPrefixCard, s.now()))
	if err == nil {
		return approved, nil
	}
	s.logger.Error("Ошибка одобрения карточного платежа", zap.String("payment_id", payment.ID), zap.Error(err))
	if _, rejectErr := s.Reject(ctx, payment.ID, cardFailureMessage, domain.ErrorCodeProcessingError); rejectErr != nil {
		s.logger.Error("Не удалось отклонить карточный платеж", zap.String("payment_id", payment.ID), zap.Error(rejectErr))
	}
	return nil, err
}

// settleWallet debits the wallet and approves the payment in one
// transaction. A refused debit leaves the payment REJECTED.
func (s *Service) settleWallet(ctx context.Context, payment *domain.Payment) (*domain.Payment, error) {
	transactionID := util.TransactionID(util.TxPrefixWallet, s.now())

	var approved *domain.Payment
	err := s.tx.WithinTx(ctx, func(ctx context.Context, q domain.Querier) error {
		ok, err := s.wallets.WithdrawTx(ctx, q, payment.UserID, payment.Amount)
		if err != nil {
			return err
		}
		if !ok {
			return errWithdrawRefused
		}
		p, err := s.payments.GetByIDForUpdateTx(ctx, q, payment.ID)
		if err != nil {
			return mapNotFound(err)
		}
		if err := p.Approve(transactionID); err != nil {
			return err
		}
		approved = p
		return s.payments.UpdateTx(ctx, q, p)
	})

	switch {
	case err == nil:
		s.afterApproved(ctx, approved)
		return approved, nil
	case errors.Is(err, errWithdrawRefused):
		if _, rejectErr := s.Reject(ctx, payment.ID, walletShortMessage, domain.ErrorCodeInsufficientFunds); rejectErr != nil {
			s.logger.Error("Не удалось отклонить платеж из кошелька", zap.String("payment_id", payment.ID), zap.Error(rejectErr))
		}
		return nil, domain.Conflict("wallet", "insufficient wallet balance").Wrap(domain.ErrInsufficientFunds)
	default:
		s.logger.Error("Ошибка списания с кошелька", zap.String("payment_id", payment.ID), zap.Error(err))
		if _, rejectErr := s.Reject(ctx, payment.ID, walletFailureMessage, domain.ErrorCodeProcessingError); rejectErr != nil {
			s.logger.Error("Не удалось отклонить платеж из кошелька", zap.String("payment_id", payment.ID), zap.Error(rejectErr))
		}
		return nil, err
	}
}

// scheduleBankDecision arms a one-shot timer that settles the transfer on
// the service context after the bank delay.
func (s *Service) scheduleBankDecision(paymentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if _, exists := s.timers[paymentID]; exists {
		return
	}
	s.wg.Add(1)
	s.timers[paymentID] = time.AfterFunc(s.bankDelay, func() {
		defer s.wg.Done()
		s.mu.Lock()
		delete(s.timers, paymentID)
		s.mu.Unlock()
		s.decideBankTransfer(paymentID)
	})
	s.logger.Info("Решение банка запланировано", zap.String("payment_id", paymentID), zap.Duration("delay", s.bankDelay))
}

// cancelSettlement disarms a pending bank decision, if any.
func (s *Service) cancelSettlement(paymentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[paymentID]
	if !ok {
		return
	}
	delete(s.timers, paymentID)
	if t.Stop() {
		s.wg.Done()
		s.logger.Info("Решение банка отменено", zap.String("payment_id", paymentID))
	}
}

func (s *Service) decideBankTransfer(paymentID string) {
	ctx := s.ctx
	if ctx.Err() != nil {
		return
	}
	current, err := s.GetByID(ctx, paymentID)
	if err != nil {
		s.logger.Warn("Платеж для решения банка не найден", zap.String("payment_id", paymentID), zap.Error(err))
		return
	}
	if current.Status != domain.PaymentStatusPending {
		s.logger.Info("Платеж уже обработан, решение банка пропущено",
			zap.String("payment_id", paymentID),
			zap.String("status", string(current.Status)),
		)
		return
	}

	if s.random() < bankApprovalRate {
		_, err = s.Approve(ctx, paymentID, util.TransactionID(util.TxPrefixBank, s.now()))
	} else {
		_, err = s.Reject(ctx, paymentID, bankRejectedMessage, domain.ErrorCodeBankRejected)
	}
	if err != nil {
		if typed := domain.AsError(err); typed != nil && typed.Code() == domain.CodeStateConflict {
			s.logger.Info("Платеж изменен до решения банка", zap.String("payment_id", paymentID))
			return
		}
		s.logger.Error("Не удалось применить решение банка", zap.String("payment_id", paymentID), zap.Error(err))
	}
}

// ResumeBankSettlements re-arms decisions for bank transfers left PENDING by
// a previous process.
func (s *Service) ResumeBankSettlements(ctx context.Context) (int, error) {
	filter := domain.PaymentFilter{Status: domain.PaymentStatusPending, Method: domain.MethodBankTransfer}
	resumed := 0
	for offset := 0; ; offset += resumePageSize {
		page, err := s.payments.FindTx(ctx, s.tx.Reader(), filter, resumePageSize, offset)
		if err != nil {
			return resumed, err
		}
		for _, p := range page {
			s.scheduleBankDecision(p.ID)
			resumed++
		}
		if len(page) < resumePageSize {
			return resumed, nil
		}
	}
}
