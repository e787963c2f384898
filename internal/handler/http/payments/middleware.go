package payments_http

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"payments-core/internal/clients/identity"
)

type Authenticator interface {
	CurrentUser(ctx context.Context, credential string) (*identity.User, error)
}

type ctxKey int

const (
	userKey ctxKey = iota
	credentialKey
)

// Authenticate resolves the bearer credential and rejects the request when
// it does not map to a user.
func Authenticate(auth Authenticator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			credential := r.Header.Get("Authorization")
			user, err := auth.CurrentUser(r.Context(), credential)
			if err != nil {
				logger.Info("Запрос отклонен: неверные учетные данные", zap.String("path", r.URL.Path), zap.Error(err))
				writeError(w, logger, err)
				return
			}
			ctx := context.WithValue(r.Context(), userKey, user)
			ctx = context.WithValue(ctx, credentialKey, credential)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func userFrom(ctx context.Context) *identity.User {
	user, _ := ctx.Value(userKey).(*identity.User)
	return user
}

func credentialFrom(ctx context.Context) string {
	credential, _ := ctx.Value(credentialKey).(string)
	return credential
}
