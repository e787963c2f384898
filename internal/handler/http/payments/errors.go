package payments_http

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"payments-core/internal/domain"
)

func statusFor(code domain.Code) int {
	switch code {
	case domain.CodeValidation, domain.CodeDuplicate:
		return http.StatusBadRequest
	case domain.CodeStateConflict:
		return http.StatusConflict
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as a list of {path, message}. Unclassified errors
// are logged and reported generically.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	if errors.Is(err, domain.ErrDuplicateEntity) {
		writeJSON(w, logger, http.StatusBadRequest, []domain.FieldError{{Path: "entity", Message: "duplicate entity"}})
		return
	}

	typed := domain.AsError(err)
	if typed == nil || typed.Code() == domain.CodeInternal {
		logger.Error("Внутренняя ошибка при обработке запроса", zap.Error(err))
		writeJSON(w, logger, http.StatusInternalServerError, []domain.FieldError{{Path: "server", Message: "internal server error"}})
		return
	}
	if typed.Code() == domain.CodeDuplicate {
		writeJSON(w, logger, http.StatusBadRequest, []domain.FieldError{{Path: "entity", Message: "duplicate entity"}})
		return
	}

	fields := typed.Fields()
	if len(fields) == 0 {
		fields = []domain.FieldError{{Path: "request", Message: string(typed.Code())}}
	}
	writeJSON(w, logger, statusFor(typed.Code()), fields)
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("Не удалось отправить JSON-ответ", zap.Error(err))
	}
}
