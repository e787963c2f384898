package kafka

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"payments-core/internal/domain/event"
	kafka_infra "payments-core/internal/infrastructure/kafka"
)

const logoutType = "logout"

type TokenInvalidator interface {
	Invalidate(ctx context.Context, token string) error
}

// LogoutMessageHandler drops cached identities for revoked tokens. Failures
// are logged; the cache entry expires on its own.
func LogoutMessageHandler(cache TokenInvalidator, logger *zap.Logger) kafka_infra.MessageHandler {
	return func(ctx context.Context, msg kafka.Message) error {
		var logout event.LogoutEvent
		if err := json.Unmarshal(msg.Value, &logout); err != nil {
			logger.Error("Не удалось разобрать сообщение auth", zap.Error(err), zap.Int64("offset", msg.Offset))
			return nil
		}
		if logout.Type != logoutType || logout.Message == "" {
			return nil
		}
		if err := cache.Invalidate(ctx, logout.Message); err != nil {
			logger.Warn("Не удалось удалить токен из кэша", zap.Error(err))
			return nil
		}
		logger.Info("Токен удален из кэша после выхода")
		return nil
	}
}
