package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusApproved PaymentStatus = "approved"
	PaymentStatusRejected PaymentStatus = "rejected"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusApproved, PaymentStatusRejected, PaymentStatusRefunded:
		return true
	}
	return false
}

type PaymentMethod string

const (
	MethodCreditCard   PaymentMethod = "credit_card"
	MethodDebitCard    PaymentMethod = "debit_card"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodWallet       PaymentMethod = "wallet"
)

var PaymentMethods = []PaymentMethod{MethodCreditCard, MethodDebitCard, MethodBankTransfer, MethodWallet}

func (m PaymentMethod) Valid() bool {
	for _, known := range PaymentMethods {
		if m == known {
			return true
		}
	}
	return false
}

type ErrorCode string

const (
	ErrorCodeExpiredCard       ErrorCode = "EXPIRED_CARD"
	ErrorCodeInsufficientFunds ErrorCode = "INSUFFICIENT_FUNDS"
	ErrorCodeInvalidNumber     ErrorCode = "INVALID_NUMBER"
	ErrorCodeInvalidCVV        ErrorCode = "INVALID_CVV"
	ErrorCodeProcessingError   ErrorCode = "PROCESSING_ERROR"
	ErrorCodeInvalidCBU        ErrorCode = "INVALID_CBU"
	ErrorCodeBankRejected      ErrorCode = "BANK_REJECTED"
	ErrorCodeTimeout           ErrorCode = "TIMEOUT"
	ErrorCodeValidation        ErrorCode = "VALIDATION_ERROR"
)

type Payment struct {
	ID               string
	OrderID          string
	UserID           string
	Amount           decimal.Decimal
	Currency         string
	Method           PaymentMethod
	Status           PaymentStatus
	TransactionID    string
	ErrorMessage     string
	ErrorCode        ErrorCode
	InstrumentData   json.RawMessage
	PartialPayment   bool
	PaymentNumber    int
	TotalOrderAmount decimal.Decimal
	TotalPaidSoFar   decimal.Decimal
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// RemainingAmount is what is still owed on the order once this payment counts.
func (p *Payment) RemainingAmount() decimal.Decimal {
	return p.TotalOrderAmount.Sub(p.TotalPaidSoFar)
}

func (p *Payment) IsTerminal() bool {
	return p.Status == PaymentStatusRejected || p.Status == PaymentStatusRefunded
}

func (p *Payment) Approve(transactionID string) error {
	if p.Status != PaymentStatusPending {
		return transitionConflict("approve", p.Status)
	}
	p.Status = PaymentStatusApproved
	p.TransactionID = transactionID
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (p *Payment) Reject(message string, code ErrorCode) error {
	if p.Status != PaymentStatusPending {
		return transitionConflict("reject", p.Status)
	}
	p.Status = PaymentStatusRejected
	p.ErrorMessage = message
	p.ErrorCode = code
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (p *Payment) Refund() error {
	if p.Status != PaymentStatusApproved {
		return transitionConflict("refund", p.Status)
	}
	p.Status = PaymentStatusRefunded
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func transitionConflict(action string, current PaymentStatus) error {
	return Conflict("status", fmt.Sprintf("cannot %s a payment in status %s", action, current))
}

// PaymentFilter narrows ledger queries; empty fields match everything.
type PaymentFilter struct {
	OrderID string
	UserID  string
	Status  PaymentStatus
	Method  PaymentMethod
}
