package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"payments-core/internal/domain"
)

const defaultTimeout = 5 * time.Second

type article struct {
	Quantity     decimal.Decimal `json:"quantity"`
	UnitaryPrice decimal.Decimal `json:"unitaryPrice"`
}

type orderPayment struct {
	Amount decimal.Decimal `json:"amount"`
	Status string          `json:"status"`
}

type orderResponse struct {
	ID           string              `json:"id"`
	OrderID      string              `json:"orderId"`
	Status       string              `json:"status"`
	TotalPrice   decimal.NullDecimal `json:"totalPrice"`
	TotalPayment decimal.NullDecimal `json:"totalPayment"`
	Articles     []article           `json:"articles"`
	Payments     []orderPayment      `json:"payments"`
}

// Client asks the orders service whether an order can take a payment.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	deriveTotals bool
	logger       *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithDerivedTotals controls whether missing totals are rebuilt from the
// order's articles and payments.
func WithDerivedTotals(enabled bool) Option {
	return func(c *Client) { c.deriveTotals = enabled }
}

func NewClient(baseURL string, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		httpClient:   &http.Client{Timeout: defaultTimeout},
		baseURL:      strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		deriveTotals: true,
		logger:       logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// ValidateForPayment fetches the order and refuses it when it cannot take
// amount: unpayable status or amount above what is still owed.
func (c *Client) ValidateForPayment(ctx context.Context, orderID string, amount decimal.Decimal, credential string) (*domain.Order, error) {
	order, err := c.Get(ctx, orderID, credential)
	if err != nil {
		return nil, err
	}

	switch order.Status {
	case domain.OrderStatusInvalid:
		return nil, domain.Conflict("orderId", fmt.Sprintf("order %s is invalid and cannot receive payments", orderID))
	case domain.OrderStatusCanceled:
		return nil, domain.Conflict("orderId", fmt.Sprintf("order %s was canceled and cannot receive payments", orderID))
	}

	remaining := order.Remaining()
	if amount.GreaterThan(remaining) {
		return nil, domain.Conflict("amount", fmt.Sprintf(
			"payment amount (%s) exceeds the remaining balance (%s)",
			amount.StringFixed(2), remaining.StringFixed(2),
		))
	}
	return order, nil
}

// Get loads the order with the caller's credential.
func (c *Client) Get(ctx context.Context, orderID, credential string) (*domain.Order, error) {
	endpoint := fmt.Sprintf("%s/orders/%s", c.baseURL, url.PathEscape(orderID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build order request: %w", err)
	}
	if credential != "" {
		req.Header.Set("Authorization", credential)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Сервис заказов недоступен", zap.String("order_id", orderID), zap.Error(err))
		return nil, domain.Validation("orderId", "orders service is unavailable").Wrap(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, domain.Validation("orderId", fmt.Sprintf("order %s not found", orderID))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, domain.Validation("orderId", "not authorized to access this order")
	case resp.StatusCode >= http.StatusMultipleChoices:
		return nil, domain.Validation("orderId", fmt.Sprintf("error validating order: %s", http.StatusText(resp.StatusCode)))
	}

	var body orderResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, domain.Validation("orderId", "orders service returned an unreadable order").Wrap(err)
	}
	return c.toOrder(orderID, body)
}

func (c *Client) toOrder(orderID string, body orderResponse) (*domain.Order, error) {
	order := &domain.Order{ID: orderID, Status: body.Status}

	switch {
	case body.TotalPrice.Valid && !body.TotalPrice.Decimal.IsZero():
		order.TotalPrice = body.TotalPrice.Decimal
	case c.deriveTotals && len(body.Articles) > 0:
		total := decimal.Zero
		for _, a := range body.Articles {
			total = total.Add(a.UnitaryPrice.Mul(a.Quantity))
		}
		order.TotalPrice = total
	default:
		return nil, domain.Validation("orderId", "orders service did not report the order total")
	}

	switch {
	case body.TotalPayment.Valid:
		order.TotalPayment = body.TotalPayment.Decimal
	case c.deriveTotals:
		paid := decimal.Zero
		for _, p := range body.Payments {
			if p.Status == string(domain.PaymentStatusApproved) {
				paid = paid.Add(p.Amount)
			}
		}
		order.TotalPayment = paid
	default:
		order.TotalPayment = decimal.Zero
	}
	return order, nil
}
