package refunds

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"payments-core/internal/domain"
	"payments-core/internal/metrics"
)

type fakeLedger struct {
	mu        sync.Mutex
	payments  map[string]*domain.Payment
	order     []string
	failures  map[string]int
	attempts  map[string][]time.Time
	reasons   map[string]string
	listError error
}

func newFakeLedger(ids ...string) *fakeLedger {
	l := &fakeLedger{
		payments: make(map[string]*domain.Payment),
		failures: make(map[string]int),
		attempts: make(map[string][]time.Time),
		reasons:  make(map[string]string),
	}
	for i, id := range ids {
		l.payments[id] = &domain.Payment{ID: id, OrderID: "o-1", PaymentNumber: i + 1, Status: domain.PaymentStatusApproved}
		l.order = append(l.order, id)
	}
	return l
}

func (l *fakeLedger) ListApprovedByOrder(_ context.Context, orderID string) ([]*domain.Payment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listError != nil {
		return nil, l.listError
	}
	var out []*domain.Payment
	for _, id := range l.order {
		p := *l.payments[id]
		if p.OrderID == orderID && p.Status == domain.PaymentStatusApproved {
			out = append(out, &p)
		}
	}
	return out, nil
}

func (l *fakeLedger) GetByID(_ context.Context, id string) (*domain.Payment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.payments[id]
	if !ok {
		return nil, domain.NotFound("paymentId", "payment not found")
	}
	cp := *p
	return &cp, nil
}

func (l *fakeLedger) Refund(_ context.Context, id, reason string) (*domain.Payment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts[id] = append(l.attempts[id], time.Now())
	if l.failures[id] > 0 {
		l.failures[id]--
		return nil, errors.New("transient store failure")
	}
	p := l.payments[id]
	if err := p.Refund(); err != nil {
		return nil, err
	}
	l.reasons[id] = reason
	cp := *p
	return &cp, nil
}

func newTestOrchestrator(ledger Ledger, delay time.Duration) (*Orchestrator, *metrics.Payments) {
	m := metrics.NewPayments(prometheus.NewRegistry())
	return NewOrchestrator(ledger, delay, m, zap.NewNop()), m
}

func TestRefundSucceedsOnThirdAttempt(t *testing.T) {
	const delay = 20 * time.Millisecond
	ledger := newFakeLedger("p-1")
	ledger.failures["p-1"] = 2
	o, m := newTestOrchestrator(ledger, delay)

	started := time.Now()
	result, err := o.HandleCancellation(context.Background(), Cancellation{OrderID: "o-1"})
	require.NoError(t, err)

	assert.Equal(t, []string{"p-1"}, result.Refunded)
	assert.Empty(t, result.Failed)
	require.Len(t, ledger.attempts["p-1"], 3)
	assert.GreaterOrEqual(t, ledger.attempts["p-1"][1].Sub(ledger.attempts["p-1"][0]), delay)
	assert.GreaterOrEqual(t, ledger.attempts["p-1"][2].Sub(ledger.attempts["p-1"][1]), 2*delay)
	assert.GreaterOrEqual(t, time.Since(started), 3*delay)
	assert.Equal(t, 0.0, m.ManualInterventions())
	assert.Equal(t, "Order canceled", ledger.reasons["p-1"])
}

func TestRefundExhaustionNeedsManualIntervention(t *testing.T) {
	ledger := newFakeLedger("p-1", "p-2")
	ledger.failures["p-1"] = 5
	o, m := newTestOrchestrator(ledger, time.Millisecond)

	result, err := o.HandleCancellation(context.Background(), Cancellation{OrderID: "o-1", Reason: "fraud"})
	require.NoError(t, err)

	assert.Equal(t, []string{"p-1"}, result.Failed)
	assert.Equal(t, []string{"p-2"}, result.Refunded)
	assert.Len(t, ledger.attempts["p-1"], 3)
	assert.Equal(t, 1.0, m.ManualInterventions())
	assert.Equal(t, "fraud", ledger.reasons["p-2"])

	p, err := ledger.GetByID(context.Background(), "p-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusApproved, p.Status)
}

// skipLedger reports the payment as approved when listing but hands back a
// different state when re-read.
type skipLedger struct {
	*fakeLedger
	reread map[string]*domain.Payment
}

func (l *skipLedger) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	if p, ok := l.reread[id]; ok {
		if p == nil {
			return nil, domain.NotFound("paymentId", "payment not found")
		}
		return p, nil
	}
	return l.fakeLedger.GetByID(ctx, id)
}

func TestRefundSkipsChangedOrMissingPayments(t *testing.T) {
	base := newFakeLedger("p-1", "p-2", "p-3")
	ledger := &skipLedger{
		fakeLedger: base,
		reread: map[string]*domain.Payment{
			"p-1": {ID: "p-1", Status: domain.PaymentStatusRefunded},
			"p-2": nil,
		},
	}
	o, m := newTestOrchestrator(ledger, time.Millisecond)

	result, err := o.HandleCancellation(context.Background(), Cancellation{OrderID: "o-1"})
	require.NoError(t, err)

	assert.Equal(t, []string{"p-1", "p-2"}, result.Skipped)
	assert.Equal(t, []string{"p-3"}, result.Refunded)
	assert.Empty(t, base.attempts["p-1"])
	assert.Empty(t, base.attempts["p-2"])
	assert.Equal(t, 0.0, m.ManualInterventions())
}

func TestDuplicateCancellationIsIdempotent(t *testing.T) {
	ledger := newFakeLedger("p-1")
	o, _ := newTestOrchestrator(ledger, time.Millisecond)

	_, err := o.HandleCancellation(context.Background(), Cancellation{OrderID: "o-1"})
	require.NoError(t, err)
	result, err := o.HandleCancellation(context.Background(), Cancellation{OrderID: "o-1"})
	require.NoError(t, err)

	assert.Empty(t, result.Refunded)
	assert.Empty(t, result.Failed)
	assert.Len(t, ledger.attempts["p-1"], 1)
}

func TestListFailureIsReturned(t *testing.T) {
	ledger := newFakeLedger()
	ledger.listError = errors.New("db down")
	o, _ := newTestOrchestrator(ledger, time.Millisecond)

	_, err := o.HandleCancellation(context.Background(), Cancellation{OrderID: "o-1"})
	assert.EqualError(t, err, "db down")

	_, err = o.HandleCancellation(context.Background(), Cancellation{})
	require.Error(t, err)
	assert.Equal(t, domain.CodeValidation, domain.AsError(err).Code())
}
