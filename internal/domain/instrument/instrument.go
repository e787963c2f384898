// Package instrument turns raw, untrusted payment details into immutable
// values that are safe to persist.
package instrument

import (
	"encoding/json"
	"fmt"
	"strings"

	"payments-core/internal/domain"
)

// Instrument is one of Card, BankTransfer or Wallet.
type Instrument interface {
	// Storage returns the persisted form; secrets never appear in it.
	Storage() any
	instrument()
}

// Raw is the untyped paymentData object a caller submits.
type Raw struct {
	CardNumber     string `json:"cardNumber"`
	ExpiryDate     string `json:"expiryDate"`
	CVV            string `json:"cvv"`
	CardHolderName string `json:"cardHolderName"`
	CBU            string `json:"cbu"`
	Alias          string `json:"alias"`
	BankName       string `json:"bankName"`
}

// Parse validates raw for the given method. userID backs wallet payments.
func Parse(method domain.PaymentMethod, raw *Raw, userID string) (Instrument, error) {
	switch method {
	case domain.MethodCreditCard, domain.MethodDebitCard:
		if raw == nil {
			return nil, domain.Validation("paymentData", "card details are required for this payment method")
		}
		return NewCard(raw.CardNumber, raw.ExpiryDate, raw.CVV, raw.CardHolderName)
	case domain.MethodBankTransfer:
		if raw == nil || raw.CBU == "" {
			return nil, domain.Validation("paymentData", "a CBU is required for bank transfers")
		}
		return NewBankTransfer(raw.CBU, raw.Alias, raw.BankName)
	case domain.MethodWallet:
		return NewWallet(userID)
	default:
		return nil, domain.Validation("method", fmt.Sprintf("invalid payment method, allowed values: %s", allowedMethods()))
	}
}

// Marshal encodes the storage form of i.
func Marshal(i Instrument) (json.RawMessage, error) {
	data, err := json.Marshal(i.Storage())
	if err != nil {
		return nil, fmt.Errorf("marshal instrument: %w", err)
	}
	return data, nil
}

func allowedMethods() string {
	names := make([]string, 0, len(domain.PaymentMethods))
	for _, m := range domain.PaymentMethods {
		names = append(names, string(m))
	}
	return strings.Join(names, ", ")
}

func stripSeparators(s string) string {
	return strings.NewReplacer(" ", "", "-", "", "\t", "").Replace(s)
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
