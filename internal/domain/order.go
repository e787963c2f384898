package domain

import "github.com/shopspring/decimal"

const (
	OrderStatusInvalid  = "invalid"
	OrderStatusCanceled = "canceled"
)

// Order is the slice of an externally owned order that payment intake needs.
type Order struct {
	ID           string
	Status       string
	TotalPrice   decimal.Decimal
	TotalPayment decimal.Decimal
}

func (o *Order) Remaining() decimal.Decimal {
	return o.TotalPrice.Sub(o.TotalPayment)
}
