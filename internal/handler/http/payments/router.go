package payments_http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func RegisterRoutes(r chi.Router, p PaymentService, wallets WalletService, auth Authenticator, l *zap.Logger) {
	logger := l.With(zap.String("component", "PaymentHTTPHandler"))
	handler := NewPaymentHandler(p, wallets, logger)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Payments service is healthy!"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(Authenticate(auth, logger))

		r.Route("/payments", func(r chi.Router) {
			r.Post("/", handler.CreatePaymentHandler)
			r.Get("/history", handler.HistoryHandler)
			r.Get("/preferred", handler.PreferredHandler)
			r.Get("/order/{orderId}", handler.LatestByOrderHandler)
			r.Get("/order/{orderId}/all", handler.ListByOrderHandler)
			r.Get("/{id}", handler.GetPaymentHandler)
			r.Post("/{id}/refund", handler.RefundHandler)
			r.Put("/{id}/approve", handler.ApproveHandler)
		})

		r.Route("/wallet", func(r chi.Router) {
			r.Post("/deposit", handler.DepositHandler)
			r.Get("/balance", handler.BalanceHandler)
		})
	})
}
