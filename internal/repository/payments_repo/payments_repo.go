package payments_repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"payments-core/internal/domain"
)

const paymentColumns = `id, order_id, user_id, amount, currency, method, status,
	transaction_id, error_message, error_code, instrument_data, partial_payment,
	payment_number, total_order_amount, total_paid_so_far, created_at, updated_at`

type paymentRepository struct{}

func NewPaymentRepository() *paymentRepository {
	return &paymentRepository{}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*domain.Payment, error) {
	payment := &domain.Payment{}
	var instrumentData []byte
	err := row.Scan(
		&payment.ID,
		&payment.OrderID,
		&payment.UserID,
		&payment.Amount,
		&payment.Currency,
		&payment.Method,
		&payment.Status,
		&payment.TransactionID,
		&payment.ErrorMessage,
		&payment.ErrorCode,
		&instrumentData,
		&payment.PartialPayment,
		&payment.PaymentNumber,
		&payment.TotalOrderAmount,
		&payment.TotalPaidSoFar,
		&payment.CreatedAt,
		&payment.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	payment.InstrumentData = instrumentData
	return payment, nil
}

func (r *paymentRepository) CreateTx(ctx context.Context, querier domain.Querier, payment *domain.Payment) error {
	query := `
		INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	instrumentData := "{}"
	if len(payment.InstrumentData) > 0 {
		instrumentData = string(payment.InstrumentData)
	}
	_, err := querier.ExecContext(ctx, query,
		payment.ID,
		payment.OrderID,
		payment.UserID,
		payment.Amount,
		payment.Currency,
		string(payment.Method),
		string(payment.Status),
		payment.TransactionID,
		payment.ErrorMessage,
		string(payment.ErrorCode),
		instrumentData,
		payment.PartialPayment,
		payment.PaymentNumber,
		payment.TotalOrderAmount,
		payment.TotalPaidSoFar,
		payment.CreatedAt,
		payment.UpdatedAt,
	)
	if err != nil {
		var pgErr *pq.Error
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrDuplicateEntity
		}
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (r *paymentRepository) GetByIDTx(ctx context.Context, querier domain.Querier, id string) (*domain.Payment, error) {
	return r.getByID(ctx, querier, id, "")
}

func (r *paymentRepository) GetByIDForUpdateTx(ctx context.Context, querier domain.Querier, id string) (*domain.Payment, error) {
	return r.getByID(ctx, querier, id, "FOR UPDATE")
}

func (r *paymentRepository) getByID(ctx context.Context, querier domain.Querier, id, lock string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1 ` + lock
	payment, err := scanPayment(querier.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to get payment by id %s: %w", id, err)
	}
	return payment, nil
}

func (r *paymentRepository) ListByOrderTx(ctx context.Context, querier domain.Querier, orderID string) ([]*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE order_id = $1 ORDER BY payment_number ASC, created_at ASC`
	return r.list(ctx, querier, query, orderID)
}

func (r *paymentRepository) ListByUserTx(ctx context.Context, querier domain.Querier, userID string) ([]*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE user_id = $1 ORDER BY created_at DESC`
	return r.list(ctx, querier, query, userID)
}

func (r *paymentRepository) FindTx(ctx context.Context, querier domain.Querier, filter domain.PaymentFilter, limit, offset int) ([]*domain.Payment, error) {
	where, args := filterClause(filter)
	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM payments %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		paymentColumns, where, len(args)-1, len(args))
	return r.list(ctx, querier, query, args...)
}

func (r *paymentRepository) CountTx(ctx context.Context, querier domain.Querier, filter domain.PaymentFilter) (int, error) {
	where, args := filterClause(filter)
	var total int
	if err := querier.QueryRowContext(ctx, `SELECT COUNT(*) FROM payments `+where, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count payments: %w", err)
	}
	return total, nil
}

func (r *paymentRepository) UpdateTx(ctx context.Context, querier domain.Querier, payment *domain.Payment) error {
	query := `
		UPDATE payments
		SET status = $1, transaction_id = $2, error_message = $3, error_code = $4, updated_at = $5
		WHERE id = $6
	`
	res, err := querier.ExecContext(ctx, query,
		string(payment.Status),
		payment.TransactionID,
		payment.ErrorMessage,
		string(payment.ErrorCode),
		payment.UpdatedAt,
		payment.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update payment %s: %w", payment.ID, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for payment update: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrPaymentNotFound
	}
	return nil
}

func (r *paymentRepository) LockOrderTx(ctx context.Context, querier domain.Querier, orderID string) error {
	if _, err := querier.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, orderID); err != nil {
		return fmt.Errorf("failed to lock order %s: %w", orderID, err)
	}
	return nil
}

func (r *paymentRepository) list(ctx context.Context, querier domain.Querier, query string, args ...any) ([]*domain.Payment, error) {
	rows, err := querier.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []*domain.Payment
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, payment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate payments: %w", err)
	}
	return payments, nil
}

func filterClause(filter domain.PaymentFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		conds = append(conds, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("order_id", filter.OrderID)
	add("user_id", filter.UserID)
	add("status", string(filter.Status))
	add("method", string(filter.Method))
	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}
