package kafka

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"payments-core/internal/app/refunds"
	"payments-core/internal/domain/event"
	kafka_infra "payments-core/internal/infrastructure/kafka"
)

type CancellationHandler interface {
	HandleCancellation(ctx context.Context, c refunds.Cancellation) (refunds.Result, error)
}

func OrderCanceledMessageHandler(handler CancellationHandler, logger *zap.Logger) kafka_infra.MessageHandler {
	return func(ctx context.Context, msg kafka.Message) error {
		logger.Info("Получено сообщение об отмене заказа",
			zap.String("topic", msg.Topic),
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.String("key", string(msg.Key)),
		)

		canceled, err := decodeOrderCanceled(msg.Value)
		if err != nil {
			logger.Error("Не удалось разобрать сообщение об отмене заказа, сообщение пропущено",
				zap.Error(err),
				zap.ByteString("value", msg.Value),
				zap.Int64("offset", msg.Offset),
			)
			return nil
		}

		cancellation := refunds.Cancellation{
			OrderID: canceled.OrderID,
			UserID:  canceled.UserID,
			Reason:  canceled.Reason,
		}
		if canceled.CanceledAt != "" {
			if at, err := time.Parse(time.RFC3339, canceled.CanceledAt); err == nil {
				cancellation.CanceledAt = at
			}
		}

		result, err := handler.HandleCancellation(ctx, cancellation)
		if err != nil {
			logger.Error("Не удалось обработать отмену заказа", zap.String("order_id", canceled.OrderID), zap.Error(err))
			return fmt.Errorf("failed to handle cancellation of order %s: %w", canceled.OrderID, err)
		}

		logger.Info("Отмена заказа обработана",
			zap.String("order_id", canceled.OrderID),
			zap.Int("refunded", len(result.Refunded)),
			zap.Int("skipped", len(result.Skipped)),
			zap.Int("failed", len(result.Failed)),
		)
		return nil
	}
}

// decodeOrderCanceled accepts the event bare or inside an envelope.
func decodeOrderCanceled(value []byte) (event.OrderCanceledEvent, error) {
	var wrapped struct {
		Message json.RawMessage `json:"message"`
	}
	body := value
	if err := json.Unmarshal(value, &wrapped); err == nil && len(wrapped.Message) > 0 && bytes.HasPrefix(bytes.TrimSpace(wrapped.Message), []byte("{")) {
		body = wrapped.Message
	}

	var canceled event.OrderCanceledEvent
	if err := json.Unmarshal(body, &canceled); err != nil {
		return canceled, err
	}
	if canceled.OrderID == "" {
		return canceled, fmt.Errorf("orderId is missing")
	}
	return canceled, nil
}
