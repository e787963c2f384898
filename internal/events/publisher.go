package events

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"payments-core/internal/domain"
	"payments-core/internal/domain/event"
	kafka_infra "payments-core/internal/infrastructure/kafka"
	"payments-core/internal/metrics"
)

const (
	DefaultExchange     = "payments_exchange"
	DefaultRefundReason = "Refund processed"
	routingKeyHeader    = "routing_key"
)

// Publisher emits ledger notifications after the state change is committed.
// Failures are logged and counted, never returned.
type Publisher struct {
	producer kafka_infra.Producer
	topic    string
	metrics  *metrics.Payments
	logger   *zap.Logger
	now      func() time.Time
}

func NewPublisher(producer kafka_infra.Producer, topic string, m *metrics.Payments, logger *zap.Logger) *Publisher {
	if topic == "" {
		topic = DefaultExchange
	}
	return &Publisher{
		producer: producer,
		topic:    topic,
		metrics:  m,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// PaymentApproved emits payment.partial while the order still has a balance
// and payment.success once it is covered.
func (p *Publisher) PaymentApproved(ctx context.Context, payment *domain.Payment) {
	if payment.TotalPaidSoFar.LessThan(payment.TotalOrderAmount) {
		p.publish(ctx, event.RoutingPaymentPartial, payment.OrderID, event.PaymentPartialEvent{
			PaymentID:        payment.ID,
			OrderID:          payment.OrderID,
			UserID:           payment.UserID,
			Amount:           payment.Amount.InexactFloat64(),
			Currency:         payment.Currency,
			Method:           string(payment.Method),
			TransactionID:    payment.TransactionID,
			PaymentNumber:    payment.PaymentNumber,
			TotalOrderAmount: payment.TotalOrderAmount.InexactFloat64(),
			TotalPaidSoFar:   payment.TotalPaidSoFar.InexactFloat64(),
			RemainingAmount:  payment.RemainingAmount().InexactFloat64(),
			Timestamp:        p.now(),
		})
		return
	}
	p.publish(ctx, event.RoutingPaymentSuccess, payment.OrderID, event.PaymentSuccessEvent{
		PaymentID:     payment.ID,
		OrderID:       payment.OrderID,
		UserID:        payment.UserID,
		Amount:        payment.Amount.InexactFloat64(),
		Currency:      payment.Currency,
		Method:        string(payment.Method),
		TransactionID: payment.TransactionID,
		Timestamp:     p.now(),
	})
}

func (p *Publisher) PaymentFailed(ctx context.Context, payment *domain.Payment) {
	p.publish(ctx, event.RoutingPaymentFailed, payment.OrderID, event.PaymentFailedEvent{
		PaymentID:    payment.ID,
		OrderID:      payment.OrderID,
		UserID:       payment.UserID,
		Amount:       payment.Amount.InexactFloat64(),
		Currency:     payment.Currency,
		Method:       string(payment.Method),
		ErrorCode:    string(payment.ErrorCode),
		ErrorMessage: payment.ErrorMessage,
		Timestamp:    p.now(),
	})
}

func (p *Publisher) PaymentRefunded(ctx context.Context, payment *domain.Payment, reason string) {
	if reason == "" {
		reason = DefaultRefundReason
	}
	p.publish(ctx, event.RoutingPaymentRefunded, payment.OrderID, event.PaymentRefundedEvent{
		PaymentID: payment.ID,
		OrderID:   payment.OrderID,
		UserID:    payment.UserID,
		Amount:    payment.Amount.InexactFloat64(),
		Currency:  payment.Currency,
		Method:    string(payment.Method),
		Reason:    reason,
		Timestamp: p.now(),
	})
}

func (p *Publisher) publish(ctx context.Context, routingKey, key string, message any) {
	value, err := json.Marshal(event.Envelope{
		Message:    message,
		Exchange:   p.topic,
		RoutingKey: routingKey,
	})
	if err != nil {
		p.logger.Error("Не удалось сериализовать событие", zap.String("routing_key", routingKey), zap.Error(err))
		p.metrics.PublishFailed(routingKey)
		return
	}

	err = p.producer.Produce(ctx, kafka_infra.Message{
		Topic:   p.topic,
		Key:     key,
		Value:   value,
		Headers: map[string]string{routingKeyHeader: routingKey},
	})
	if err != nil {
		p.logger.Error("Не удалось опубликовать событие",
			zap.String("routing_key", routingKey),
			zap.String("order_id", key),
			zap.Error(err),
		)
		p.metrics.PublishFailed(routingKey)
		return
	}
	p.logger.Info("Событие опубликовано", zap.String("routing_key", routingKey), zap.String("order_id", key))
}
