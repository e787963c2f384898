package instrument

import (
	"strings"

	"payments-core/internal/domain"
)

var (
	blockOneWeights = []int{7, 1, 3, 9, 7, 1, 3}
	blockTwoWeights = []int{3, 9, 7, 1, 3, 9, 7, 1, 3, 9, 7, 1, 3}
)

// BankTransfer holds a validated 22 digit CBU. The full number is persisted,
// so anything rendering it must use Masked.
type BankTransfer struct {
	cbu      string
	alias    string
	bankName string
}

type bankTransferStorage struct {
	CBU      string `json:"cbu"`
	Alias    string `json:"alias,omitempty"`
	BankName string `json:"bankName,omitempty"`
}

func NewBankTransfer(cbu, alias, bankName string) (BankTransfer, error) {
	cleaned := stripSeparators(cbu)
	if len(cleaned) != 22 || !allDigits(cleaned) {
		return BankTransfer{}, domain.Validation("cbu", "invalid CBU, it must contain exactly 22 digits")
	}
	if checkDigit(cleaned[0:7], blockOneWeights) != int(cleaned[7]-'0') {
		return BankTransfer{}, domain.Validation("cbu", "invalid CBU (first block check digit failed)")
	}
	if checkDigit(cleaned[8:21], blockTwoWeights) != int(cleaned[21]-'0') {
		return BankTransfer{}, domain.Validation("cbu", "invalid CBU (second block check digit failed)")
	}
	return BankTransfer{
		cbu:      cleaned,
		alias:    strings.ToUpper(alias),
		bankName: bankName,
	}, nil
}

// checkDigit computes the weighted modulo 10 digit for block.
func checkDigit(block string, weights []int) int {
	sum := 0
	for i := 0; i < len(block); i++ {
		sum += int(block[i]-'0') * weights[i]
	}
	if r := sum % 10; r != 0 {
		return 10 - r
	}
	return 0
}

func (b BankTransfer) CBU() string      { return b.cbu }
func (b BankTransfer) Alias() string    { return b.alias }
func (b BankTransfer) BankName() string { return b.bankName }

// Masked renders the CBU as "**** **** **** **** **1234".
func (b BankTransfer) Masked() string {
	return "**** **** **** **** **" + b.cbu[len(b.cbu)-4:]
}

func (b BankTransfer) Storage() any {
	return bankTransferStorage{CBU: b.cbu, Alias: b.alias, BankName: b.bankName}
}

func (BankTransfer) instrument() {}
