package payments

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payments-core/internal/domain"
	"payments-core/internal/domain/instrument"
)

const validCBU = "2850590940090418135201"

func submitBank(t *testing.T, f *fixture) *domain.Payment {
	t.Helper()
	p, err := f.svc.Submit(context.Background(), SubmitParams{
		OrderID:     "o-1",
		UserID:      "u-1",
		Amount:      decimal.NewFromInt(100),
		Method:      domain.MethodBankTransfer,
		PaymentData: &instrument.Raw{CBU: validCBU, Alias: "mi.alias"},
	})
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStatusPending, p.Status)
	return p
}

func pendingTimers(s *Service) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func statusOf(t *testing.T, f *fixture, id string) domain.PaymentStatus {
	t.Helper()
	p, err := f.svc.GetByID(context.Background(), id)
	require.NoError(t, err)
	return p.Status
}

func TestBankTransferApprovedAfterDelay(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond)
	f.svc.random = func() float64 { return 0.5 }

	p := submitBank(t, f)

	require.Eventually(t, func() bool {
		return statusOf(t, f, p.ID) == domain.PaymentStatusApproved
	}, 2*time.Second, 10*time.Millisecond)

	stored, err := f.svc.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Regexp(t, `^BANK-\d+-[0-9A-Z]{9}$`, stored.TransactionID)
	assert.Equal(t, 0, pendingTimers(f.svc))
	assert.Eventually(t, func() bool {
		return len(f.publisher.kinds()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"success"}, f.publisher.kinds())
}

func TestBankTransferRejectedAfterDelay(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond)
	f.svc.random = func() float64 { return 0.95 }

	p := submitBank(t, f)

	require.Eventually(t, func() bool {
		return statusOf(t, f, p.ID) == domain.PaymentStatusRejected
	}, 2*time.Second, 10*time.Millisecond)

	stored, err := f.svc.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ErrorCodeBankRejected, stored.ErrorCode)
	assert.Equal(t, "Transfer rejected by bank", stored.ErrorMessage)
}

func TestBankDecisionCanceledByManualReject(t *testing.T) {
	f := newFixture(t, time.Hour)

	p := submitBank(t, f)
	require.Equal(t, 1, pendingTimers(f.svc))

	_, err := f.svc.Reject(context.Background(), p.ID, "canceled by operator", domain.ErrorCodeProcessingError)
	require.NoError(t, err)
	assert.Equal(t, 0, pendingTimers(f.svc))
}

func TestLateBankDecisionIsNoOp(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.svc.random = func() float64 { return 0.5 }

	p := submitBank(t, f)
	_, err := f.svc.Reject(context.Background(), p.ID, "canceled by operator", domain.ErrorCodeProcessingError)
	require.NoError(t, err)

	f.svc.decideBankTransfer(p.ID)

	assert.Equal(t, domain.PaymentStatusRejected, statusOf(t, f, p.ID))
	assert.Equal(t, []string{"failed"}, f.publisher.kinds())
}

func TestCloseStopsPendingDecisions(t *testing.T) {
	f := newFixture(t, 30*time.Millisecond)

	p := submitBank(t, f)
	f.svc.Close()
	time.Sleep(80 * time.Millisecond)

	assert.Equal(t, domain.PaymentStatusPending, statusOf(t, f, p.ID))
	f.svc.scheduleBankDecision(p.ID)
	assert.Equal(t, 0, pendingTimers(f.svc))
}

func TestResumeBankSettlements(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	params := createParams("o-1", 10)
	params.Method = domain.MethodBankTransfer
	_, err := f.svc.Create(ctx, params)
	require.NoError(t, err)
	params.OrderID = "o-2"
	_, err = f.svc.Create(ctx, params)
	require.NoError(t, err)
	card := createParams("o-3", 10)
	_, err = f.svc.Create(ctx, card)
	require.NoError(t, err)

	resumed, err := f.svc.ResumeBankSettlements(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, resumed)
	assert.Equal(t, 2, pendingTimers(f.svc))
}
