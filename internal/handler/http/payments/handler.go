package payments_http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"payments-core/internal/app/payments"
	"payments-core/internal/domain"
	"payments-core/internal/domain/instrument"
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 100
)

type PaymentService interface {
	Submit(ctx context.Context, params payments.SubmitParams) (*domain.Payment, error)
	GetByID(ctx context.Context, paymentID string) (*domain.Payment, error)
	ListByOrder(ctx context.Context, orderID string) ([]*domain.Payment, error)
	LatestByOrder(ctx context.Context, orderID string) (*domain.Payment, error)
	Find(ctx context.Context, filter domain.PaymentFilter, limit, offset int) ([]*domain.Payment, int, error)
	Refund(ctx context.Context, paymentID, reason string) (*domain.Payment, error)
	ManualApprove(ctx context.Context, paymentID, transactionID string) (*domain.Payment, error)
	Preferred(ctx context.Context, userID string) (*domain.PreferredMethod, error)
}

type WalletService interface {
	Balance(ctx context.Context, userID string) (*domain.Wallet, error)
	Deposit(ctx context.Context, userID string, amount decimal.Decimal) (*domain.Wallet, error)
}

type PaymentHandler struct {
	payments PaymentService
	wallets  WalletService
	logger   *zap.Logger
}

func NewPaymentHandler(p PaymentService, w WalletService, l *zap.Logger) *PaymentHandler {
	return &PaymentHandler{payments: p, wallets: w, logger: l}
}

type CreatePaymentRequest struct {
	OrderID     string          `json:"orderId" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency" validate:"omitempty,len=3"`
	Method      string          `json:"method" validate:"required,oneof=credit_card debit_card bank_transfer wallet"`
	PaymentData *instrument.Raw `json:"paymentData"`
}

type RefundRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type ApproveRequest struct {
	TransactionID string `json:"transactionId" validate:"max=100"`
}

type DepositRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type PaymentResponse struct {
	ID               string          `json:"id"`
	OrderID          string          `json:"orderId"`
	UserID           string          `json:"userId"`
	Amount           float64         `json:"amount"`
	Currency         string          `json:"currency"`
	Method           string          `json:"method"`
	Status           string          `json:"status"`
	TransactionID    string          `json:"transactionId,omitempty"`
	ErrorMessage     string          `json:"errorMessage,omitempty"`
	ErrorCode        string          `json:"errorCode,omitempty"`
	PaymentData      json.RawMessage `json:"paymentData,omitempty"`
	PartialPayment   bool            `json:"partialPayment"`
	PaymentNumber    int             `json:"paymentNumber"`
	TotalOrderAmount float64         `json:"totalOrderAmount"`
	TotalPaidSoFar   float64         `json:"totalPaidSoFar"`
	RemainingAmount  float64         `json:"remainingAmount"`
	Created          time.Time       `json:"created"`
	Updated          time.Time       `json:"updated"`
	Message          string          `json:"message,omitempty"`
}

type HistoryResponse struct {
	Payments []PaymentResponse `json:"payments"`
	Total    int               `json:"total"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

type PreferredResponse struct {
	UserID       string    `json:"userId"`
	Method       string    `json:"method"`
	LastUsed     time.Time `json:"lastUsed"`
	SuccessCount int       `json:"successCount"`
}

type WalletResponse struct {
	UserID   string  `json:"userId"`
	Balance  float64 `json:"balance"`
	Currency string  `json:"currency"`
	Message  string  `json:"message,omitempty"`
}

func toPaymentResponse(p *domain.Payment) PaymentResponse {
	return PaymentResponse{
		ID:               p.ID,
		OrderID:          p.OrderID,
		UserID:           p.UserID,
		Amount:           p.Amount.InexactFloat64(),
		Currency:         p.Currency,
		Method:           string(p.Method),
		Status:           string(p.Status),
		TransactionID:    p.TransactionID,
		ErrorMessage:     p.ErrorMessage,
		ErrorCode:        string(p.ErrorCode),
		PaymentData:      p.InstrumentData,
		PartialPayment:   p.PartialPayment,
		PaymentNumber:    p.PaymentNumber,
		TotalOrderAmount: p.TotalOrderAmount.InexactFloat64(),
		TotalPaidSoFar:   p.TotalPaidSoFar.InexactFloat64(),
		RemainingAmount:  p.RemainingAmount().InexactFloat64(),
		Created:          p.CreatedAt,
		Updated:          p.UpdatedAt,
	}
}

func toPaymentResponses(list []*domain.Payment) []PaymentResponse {
	out := make([]PaymentResponse, 0, len(list))
	for _, p := range list {
		out = append(out, toPaymentResponse(p))
	}
	return out
}

func (h *PaymentHandler) CreatePaymentHandler(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentRequest
	if err := decodeJSONBody(r, &req, false); err != nil {
		writeError(w, h.logger, err)
		return
	}
	user := userFrom(r.Context())

	payment, err := h.payments.Submit(r.Context(), payments.SubmitParams{
		OrderID:     req.OrderID,
		UserID:      user.ID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Method:      domain.PaymentMethod(req.Method),
		PaymentData: req.PaymentData,
		Credential:  credentialFrom(r.Context()),
	})
	if err != nil {
		h.logger.Info("Платеж не создан", zap.String("order_id", req.OrderID), zap.String("user_id", user.ID), zap.Error(err))
		writeError(w, h.logger, err)
		return
	}

	resp := toPaymentResponse(payment)
	switch {
	case payment.Status == domain.PaymentStatusPending && payment.Method == domain.MethodBankTransfer:
		resp.Message = "Transfer awaiting bank confirmation"
	case payment.Status == domain.PaymentStatusApproved:
		resp.Message = "Payment approved"
	}
	writeJSON(w, h.logger, http.StatusCreated, resp)
}

func (h *PaymentHandler) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var c domain.Collector

	limit := defaultHistoryLimit
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxHistoryLimit {
			c.Add("limit", "limit must be between 1 and 100")
		} else {
			limit = parsed
		}
	}
	offset := 0
	if raw := query.Get("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.Add("offset", "offset must be greater than or equal to 0")
		} else {
			offset = parsed
		}
	}
	filter := domain.PaymentFilter{UserID: userFrom(r.Context()).ID}
	if raw := query.Get("status"); raw != "" {
		status := domain.PaymentStatus(raw)
		if !status.Valid() {
			c.Add("status", "status must be one of: pending, approved, rejected, refunded")
		}
		filter.Status = status
	}
	if err := c.Err(); err != nil {
		writeError(w, h.logger, err)
		return
	}

	list, total, err := h.payments.Find(r.Context(), filter, limit, offset)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, HistoryResponse{
		Payments: toPaymentResponses(list),
		Total:    total,
		Limit:    limit,
		Offset:   offset,
	})
}

func (h *PaymentHandler) PreferredHandler(w http.ResponseWriter, r *http.Request) {
	preferred, err := h.payments.Preferred(r.Context(), userFrom(r.Context()).ID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, PreferredResponse{
		UserID:       preferred.UserID,
		Method:       string(preferred.Method),
		LastUsed:     preferred.LastUsed,
		SuccessCount: preferred.SuccessCount,
	})
}

func (h *PaymentHandler) LatestByOrderHandler(w http.ResponseWriter, r *http.Request) {
	payment, err := h.payments.LatestByOrder(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, toPaymentResponse(payment))
}

func (h *PaymentHandler) ListByOrderHandler(w http.ResponseWriter, r *http.Request) {
	list, err := h.payments.ListByOrder(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, toPaymentResponses(list))
}

func (h *PaymentHandler) GetPaymentHandler(w http.ResponseWriter, r *http.Request) {
	payment, err := h.payments.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, toPaymentResponse(payment))
}

func (h *PaymentHandler) RefundHandler(w http.ResponseWriter, r *http.Request) {
	var req RefundRequest
	if err := decodeJSONBody(r, &req, true); err != nil {
		writeError(w, h.logger, err)
		return
	}
	id := chi.URLParam(r, "id")
	payment, err := h.payments.Refund(r.Context(), id, req.Reason)
	if err != nil {
		h.logger.Info("Возврат отклонен", zap.String("payment_id", id), zap.Error(err))
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, toPaymentResponse(payment))
}

func (h *PaymentHandler) ApproveHandler(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	if err := decodeJSONBody(r, &req, true); err != nil {
		writeError(w, h.logger, err)
		return
	}
	id := chi.URLParam(r, "id")
	payment, err := h.payments.ManualApprove(r.Context(), id, req.TransactionID)
	if err != nil {
		h.logger.Info("Ручное одобрение отклонено", zap.String("payment_id", id), zap.Error(err))
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, toPaymentResponse(payment))
}

func (h *PaymentHandler) DepositHandler(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := decodeJSONBody(r, &req, false); err != nil {
		writeError(w, h.logger, err)
		return
	}
	wallet, err := h.wallets.Deposit(r.Context(), userFrom(r.Context()).ID, req.Amount)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, WalletResponse{
		UserID:   wallet.UserID,
		Balance:  wallet.Balance.InexactFloat64(),
		Currency: wallet.Currency,
		Message:  "Deposited " + req.Amount.StringFixed(2) + " " + wallet.Currency,
	})
}

func (h *PaymentHandler) BalanceHandler(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.wallets.Balance(r.Context(), userFrom(r.Context()).ID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, WalletResponse{
		UserID:   wallet.UserID,
		Balance:  wallet.Balance.InexactFloat64(),
		Currency: wallet.Currency,
	})
}
