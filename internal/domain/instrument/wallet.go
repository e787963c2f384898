package instrument

import (
	"strings"

	"payments-core/internal/domain"
)

// Wallet references the paying user's own wallet.
type Wallet struct {
	userID string
}

type walletStorage struct {
	WalletPayment bool   `json:"walletPayment"`
	UserID        string `json:"userId"`
}

func NewWallet(userID string) (Wallet, error) {
	if strings.TrimSpace(userID) == "" {
		return Wallet{}, domain.Validation("userId", "user id is required for wallet payments")
	}
	return Wallet{userID: userID}, nil
}

func (w Wallet) UserID() string { return w.userID }

func (w Wallet) Storage() any {
	return walletStorage{WalletPayment: true, UserID: w.userID}
}

func (Wallet) instrument() {}
