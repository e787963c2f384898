package event

import "time"

const (
	RoutingPaymentSuccess  = "payment.success"
	RoutingPaymentPartial  = "payment.partial"
	RoutingPaymentFailed   = "payment.failed"
	RoutingPaymentRefunded = "payment.refunded"
)

// Envelope is the wrapper downstream consumers unpack; the routing key is
// repeated here and in the message headers.
type Envelope struct {
	Message       any    `json:"message"`
	CorrelationID string `json:"correlation_id"`
	Exchange      string `json:"exchange"`
	RoutingKey    string `json:"routing_key"`
}

type PaymentSuccessEvent struct {
	PaymentID     string    `json:"paymentId"`
	OrderID       string    `json:"orderId"`
	UserID        string    `json:"userId"`
	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency"`
	Method        string    `json:"method"`
	TransactionID string    `json:"transactionId"`
	Timestamp     time.Time `json:"timestamp"`
}

type PaymentPartialEvent struct {
	PaymentID        string    `json:"paymentId"`
	OrderID          string    `json:"orderId"`
	UserID           string    `json:"userId"`
	Amount           float64   `json:"amount"`
	Currency         string    `json:"currency"`
	Method           string    `json:"method"`
	TransactionID    string    `json:"transactionId"`
	PaymentNumber    int       `json:"paymentNumber"`
	TotalOrderAmount float64   `json:"totalOrderAmount"`
	TotalPaidSoFar   float64   `json:"totalPaidSoFar"`
	RemainingAmount  float64   `json:"remainingAmount"`
	Timestamp        time.Time `json:"timestamp"`
}

type PaymentFailedEvent struct {
	PaymentID    string    `json:"paymentId"`
	OrderID      string    `json:"orderId"`
	UserID       string    `json:"userId"`
	Amount       float64   `json:"amount"`
	Currency     string    `json:"currency"`
	Method       string    `json:"method"`
	ErrorCode    string    `json:"errorCode"`
	ErrorMessage string    `json:"errorMessage"`
	Timestamp    time.Time `json:"timestamp"`
}

type PaymentRefundedEvent struct {
	PaymentID string    `json:"paymentId"`
	OrderID   string    `json:"orderId"`
	UserID    string    `json:"userId"`
	Amount    float64   `json:"amount"`
	Currency  string    `json:"currency"`
	Method    string    `json:"method"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCanceledEvent arrives from the orders service, bare or wrapped in an
// envelope's "message" field.
type OrderCanceledEvent struct {
	OrderID    string `json:"orderId"`
	UserID     string `json:"userId"`
	CanceledAt string `json:"canceledAt"`
	Reason     string `json:"reason"`
}

// LogoutEvent carries the full "Bearer ..." credential that was revoked.
type LogoutEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
