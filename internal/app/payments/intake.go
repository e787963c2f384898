package payments

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"payments-core/internal/domain"
	"payments-core/internal/domain/instrument"
)

// SubmitParams is a caller's request to pay (part of) an order.
type SubmitParams struct {
	OrderID     string
	UserID      string
	Amount      decimal.Decimal
	Currency    string
	Method      domain.PaymentMethod
	PaymentData *instrument.Raw
	// Credential is forwarded to the order owner.
	Credential string
}

// Submit validates the order and the instrument, records the payment and
// settles it according to its method.
func (s *Service) Submit(ctx context.Context, params SubmitParams) (*domain.Payment, error) {
	var c domain.Collector
	if strings.TrimSpace(params.OrderID) == "" {
		c.Add("orderId", "order id is required")
	}
	if !params.Amount.IsPositive() {
		c.Add("amount", "amount must be greater than zero")
	}
	if !params.Method.Valid() {
		c.Add("method", fmt.Sprintf("unsupported payment method %q", params.Method))
	}
	if err := c.Err(); err != nil {
		return nil, err
	}

	order, err := s.orders.ValidateForPayment(ctx, params.OrderID, params.Amount, params.Credential)
	if err != nil {
		s.logger.Info("Заказ не прошел проверку", zap.String("order_id", params.OrderID), zap.Error(err))
		return nil, err
	}

	inst, err := instrument.Parse(params.Method, params.PaymentData, params.UserID)
	if err != nil {
		return nil, err
	}
	data, err := instrument.Marshal(inst)
	if err != nil {
		return nil, fmt.Errorf("marshal instrument: %w", err)
	}

	if _, isWallet := inst.(instrument.Wallet); isWallet {
		has, err := s.wallets.HasBalance(ctx, params.UserID, params.Amount)
		if err != nil {
			return nil, err
		}
		if !has {
			return nil, domain.Validation("wallet", "insufficient wallet balance")
		}
	}

	previous := order.TotalPayment
	payment, err := s.Create(ctx, CreateParams{
		OrderID:               params.OrderID,
		UserID:                params.UserID,
		Amount:                params.Amount,
		Currency:              params.Currency,
		Method:                params.Method,
		InstrumentData:        data,
		TotalOrderAmount:      order.TotalPrice,
		PreviousApprovedTotal: &previous,
	})
	if err != nil {
		return nil, err
	}
	return s.settle(ctx, payment, inst)
}
