package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const DefaultCurrency = "ARS"

type Wallet struct {
	ID        string
	UserID    string
	Balance   decimal.Decimal
	Currency  string
	CreatedAt time.Time
	UpdatedAt time.Time
}
