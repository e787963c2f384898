package domain

import "time"

// PreferredMethod is the instrument a user settles with most often. It is
// rebuilt from approval history, never patched in place.
type PreferredMethod struct {
	UserID       string
	Method       PaymentMethod
	LastUsed     time.Time
	SuccessCount int
	UpdatedAt    time.Time
}
