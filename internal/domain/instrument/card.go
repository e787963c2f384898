package instrument

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"payments-core/internal/domain"
)

var holderPattern = regexp.MustCompile(`^[a-zA-ZáéíóúÁÉÍÓÚñÑüÜ\s]+$`)

// Card holds a validated credit or debit card. Only the last four digits
// leave the value.
type Card struct {
	lastFour string
	expiry   string
	holder   string
}

type cardStorage struct {
	LastFourDigits string `json:"lastFourDigits"`
	ExpiryDate     string `json:"expiryDate"`
	CardHolderName string `json:"cardHolderName"`
}

// NewCard reports every violated field at once.
func NewCard(number, expiry, cvv, holder string) (Card, error) {
	return newCard(number, expiry, cvv, holder, time.Now())
}

func newCard(number, expiry, cvv, holder string, now time.Time) (Card, error) {
	var c domain.Collector

	cleaned := stripSeparators(number)
	switch {
	case !allDigits(cleaned) || len(cleaned) < 13 || len(cleaned) > 19:
		c.Add("cardNumber", "invalid card number, it must contain between 13 and 19 digits")
	case !Luhn(cleaned):
		c.Add("cardNumber", "invalid card number (failed Luhn check)")
	}

	if msg := checkExpiry(expiry, now); msg != "" {
		c.Add("expiryDate", msg)
	}

	if len(cvv) < 3 || len(cvv) > 4 || !allDigits(cvv) {
		c.Add("cvv", "invalid CVV, it must contain 3 or 4 digits")
	}

	trimmed := strings.TrimSpace(holder)
	switch {
	case utf8.RuneCountInString(trimmed) < 3:
		c.Add("cardHolderName", "invalid card holder name, it must have at least 3 characters")
	case !holderPattern.MatchString(holder):
		c.Add("cardHolderName", "invalid card holder name, only letters and spaces are allowed")
	}

	if err := c.Err(); err != nil {
		return Card{}, err
	}
	return Card{
		lastFour: cleaned[len(cleaned)-4:],
		expiry:   expiry,
		holder:   strings.ToUpper(holder),
	}, nil
}

// Luhn reports whether digits passes the Luhn check. digits must be numeric.
func Luhn(digits string) bool {
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

func checkExpiry(expiry string, now time.Time) string {
	if len(expiry) != 5 || expiry[2] != '/' || !allDigits(expiry[:2]) || !allDigits(expiry[3:]) {
		return "invalid date format, use MM/YY (for example 12/25)"
	}
	month, _ := strconv.Atoi(expiry[:2])
	yy, _ := strconv.Atoi(expiry[3:])
	year := 2000 + yy

	if month < 1 || month > 12 {
		return "invalid month, it must be between 01 and 12"
	}
	currentYear, currentMonth := now.Year(), int(now.Month())
	if year < currentYear || (year == currentYear && month < currentMonth) {
		return "the card is expired"
	}
	if year > currentYear+10 {
		return "invalid expiry date (year too far in the future)"
	}
	return ""
}

func (c Card) LastFourDigits() string { return c.lastFour }
func (c Card) ExpiryDate() string     { return c.expiry }
func (c Card) HolderName() string     { return c.holder }

func (c Card) Storage() any {
	return cardStorage{LastFourDigits: c.lastFour, ExpiryDate: c.expiry, CardHolderName: c.holder}
}

func (Card) instrument() {}
