package util

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	TxPrefixCard   = "CARD"
	TxPrefixWallet = "WALLET"
	TxPrefixBank   = "BANK"
	TxPrefixManual = "MANUAL"
)

func GenerateUUID() string {
	return uuid.NewString()
}

// TransactionID builds "<PREFIX>-<unix millis>-<9 base36 chars>".
func TransactionID(prefix string, now time.Time) string {
	id := uuid.New()
	suffix := strings.ToUpper(new(big.Int).SetBytes(id[:]).Text(36))
	if len(suffix) < 9 {
		suffix = strings.Repeat("0", 9-len(suffix)) + suffix
	}
	return fmt.Sprintf("%s-%d-%s", prefix, now.UnixMilli(), suffix[len(suffix)-9:])
}
