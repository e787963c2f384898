package payments

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"payments-core/internal/app/wallets"
	"payments-core/internal/domain"
	"payments-core/internal/domain/instrument"
	"payments-core/internal/metrics"
	"payments-core/internal/repository/memory"
	"payments-core/internal/repository/payments_repo"
)

type publishedEvent struct {
	kind    string
	payment domain.Payment
	reason  string
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) record(kind string, payment *domain.Payment, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{kind: kind, payment: *payment, reason: reason})
}

func (p *recordingPublisher) PaymentApproved(_ context.Context, payment *domain.Payment) {
	kind := "success"
	if payment.TotalPaidSoFar.LessThan(payment.TotalOrderAmount) {
		kind = "partial"
	}
	p.record(kind, payment, "")
}

func (p *recordingPublisher) PaymentFailed(_ context.Context, payment *domain.Payment) {
	p.record("failed", payment, "")
}

func (p *recordingPublisher) PaymentRefunded(_ context.Context, payment *domain.Payment, reason string) {
	p.record("refunded", payment, reason)
}

func (p *recordingPublisher) kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.kind)
	}
	return out
}

type stubOrders struct {
	order *domain.Order
	err   error
}

func (o *stubOrders) ValidateForPayment(_ context.Context, orderID string, amount decimal.Decimal, _ string) (*domain.Order, error) {
	if o.err != nil {
		return nil, o.err
	}
	order := *o.order
	order.ID = orderID
	if amount.GreaterThan(order.Remaining()) {
		return nil, domain.Conflict("orderId", "amount exceeds the remaining balance")
	}
	return &order, nil
}

type fixture struct {
	svc       *Service
	store     *memory.Store
	wallets   *wallets.Service
	publisher *recordingPublisher
	orders    *stubOrders
	metrics   *metrics.Payments
}

func newFixture(t *testing.T, bankDelay time.Duration) *fixture {
	t.Helper()
	store := memory.NewStore()
	walletSvc := wallets.NewService(store, store.Wallets(), zap.NewNop())
	publisher := &recordingPublisher{}
	orders := &stubOrders{order: &domain.Order{Status: "pending", TotalPrice: decimal.NewFromInt(100)}}
	m := metrics.NewPayments(prometheus.NewRegistry())
	svc := NewService(Dependencies{
		Tx:        store,
		Payments:  store.Payments(),
		Preferred: store.PreferredMethods(),
		Wallets:   walletSvc,
		Orders:    orders,
		Publisher: publisher,
		Metrics:   m,
	}, bankDelay, zap.NewNop())
	t.Cleanup(svc.Close)
	return &fixture{svc: svc, store: store, wallets: walletSvc, publisher: publisher, orders: orders, metrics: m}
}

func createParams(orderID string, amount int64) CreateParams {
	return CreateParams{
		OrderID:          orderID,
		UserID:           "u-1",
		Amount:           decimal.NewFromInt(amount),
		Method:           domain.MethodCreditCard,
		TotalOrderAmount: decimal.NewFromInt(100),
	}
}

func validCard() *instrument.Raw {
	return &instrument.Raw{
		CardNumber:     "4532 0151 1283 0366",
		ExpiryDate:     time.Now().AddDate(2, 0, 0).Format("01/06"),
		CVV:            "123",
		CardHolderName: "Juan Perez",
	}
}

func TestCreatePartialPaymentAccounting(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	first, err := f.svc.Create(ctx, createParams("o-1", 60))
	require.NoError(t, err)
	assert.Equal(t, 1, first.PaymentNumber)
	assert.True(t, first.TotalPaidSoFar.Equal(decimal.NewFromInt(60)))
	assert.True(t, first.PartialPayment)
	assert.Equal(t, domain.PaymentStatusPending, first.Status)
	assert.Equal(t, "ARS", first.Currency)

	_, err = f.svc.Approve(ctx, first.ID, "CARD-1")
	require.NoError(t, err)

	second, err := f.svc.Create(ctx, createParams("o-1", 40))
	require.NoError(t, err)
	assert.Equal(t, 2, second.PaymentNumber)
	assert.True(t, second.TotalPaidSoFar.Equal(decimal.NewFromInt(100)))
	assert.False(t, second.PartialPayment)

	_, err = f.svc.Approve(ctx, second.ID, "CARD-2")
	require.NoError(t, err)
	assert.Equal(t, []string{"partial", "success"}, f.publisher.kinds())
}

func TestCreatePreviousApprovedTotalWins(t *testing.T) {
	f := newFixture(t, time.Hour)
	params := createParams("o-1", 30)
	previous := decimal.NewFromInt(70)
	params.PreviousApprovedTotal = &previous

	payment, err := f.svc.Create(context.Background(), params)
	require.NoError(t, err)
	assert.True(t, payment.TotalPaidSoFar.Equal(decimal.NewFromInt(100)))
	assert.False(t, payment.PartialPayment)
}

func TestCreateRejectedPaymentsKeepTheirNumber(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	first, err := f.svc.Create(ctx, createParams("o-1", 60))
	require.NoError(t, err)
	_, err = f.svc.Reject(ctx, first.ID, "declined", domain.ErrorCodeProcessingError)
	require.NoError(t, err)

	retry, err := f.svc.Create(ctx, createParams("o-1", 60))
	require.NoError(t, err)
	assert.Equal(t, 2, retry.PaymentNumber)
	assert.True(t, retry.TotalPaidSoFar.Equal(decimal.NewFromInt(60)))
}

func TestPaymentNumbersAreNeverReused(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	bankParams := createParams("o-1", 30)
	bankParams.Method = domain.MethodBankTransfer
	bank, err := f.svc.Create(ctx, bankParams)
	require.NoError(t, err)
	require.Equal(t, 1, bank.PaymentNumber)

	card, err := f.svc.Create(ctx, createParams("o-1", 30))
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, card.ID, "CARD-1")
	require.NoError(t, err)

	_, err = f.svc.Reject(ctx, bank.ID, bankRejectedMessage, domain.ErrorCodeBankRejected)
	require.NoError(t, err)

	next, err := f.svc.Create(ctx, createParams("o-1", 30))
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, next.ID, "CARD-2")
	require.NoError(t, err)
	assert.Equal(t, 3, next.PaymentNumber)

	_, err = f.svc.Refund(ctx, next.ID, "")
	require.NoError(t, err)
	last, err := f.svc.Create(ctx, createParams("o-1", 10))
	require.NoError(t, err)
	assert.Equal(t, 4, last.PaymentNumber)

	all, err := f.svc.ListByOrder(ctx, "o-1")
	require.NoError(t, err)
	seen := make(map[int]string)
	for _, p := range all {
		other, dup := seen[p.PaymentNumber]
		assert.False(t, dup, "payments %s and %s share number %d", other, p.ID, p.PaymentNumber)
		seen[p.PaymentNumber] = p.ID
	}
}

type failingApproveRepo struct {
	payments_repo.PaymentRepository
	failures int
}

func (r *failingApproveRepo) UpdateTx(ctx context.Context, q domain.Querier, p *domain.Payment) error {
	if p.Status == domain.PaymentStatusApproved && r.failures > 0 {
		r.failures--
		return errors.New("store unavailable")
	}
	return r.PaymentRepository.UpdateTx(ctx, q, p)
}

func TestCardApproveFailureRejectsPayment(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()
	p, err := f.svc.Create(ctx, createParams("o-1", 40))
	require.NoError(t, err)
	inst, err := instrument.Parse(domain.MethodCreditCard, validCard(), "u-1")
	require.NoError(t, err)

	f.svc.payments = &failingApproveRepo{PaymentRepository: f.store.Payments(), failures: 1}
	_, err = f.svc.settle(ctx, p, inst)
	require.Error(t, err)

	stored, err := f.svc.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusRejected, stored.Status)
	assert.Equal(t, domain.ErrorCodeProcessingError, stored.ErrorCode)
	assert.Equal(t, []string{"failed"}, f.publisher.kinds())
}

func TestCreateValidationAggregates(t *testing.T) {
	f := newFixture(t, time.Hour)

	_, err := f.svc.Create(context.Background(), CreateParams{Amount: decimal.NewFromInt(-1), Method: "cash"})
	require.Error(t, err)
	typed := domain.AsError(err)
	require.NotNil(t, typed)
	assert.Equal(t, domain.CodeValidation, typed.Code())

	var paths []string
	for _, field := range typed.Fields() {
		paths = append(paths, field.Path)
	}
	assert.ElementsMatch(t, []string{"orderId", "userId", "amount", "method", "totalOrderAmount"}, paths)
}

func TestConcurrentCreatesGetDistinctNumbers(t *testing.T) {
	f := newFixture(t, time.Hour)
	const n = 20

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers = make(map[int]bool)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := f.svc.Create(context.Background(), createParams("o-1", 1))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			numbers[p.PaymentNumber] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, numbers, n)
	for i := 1; i <= n; i++ {
		assert.True(t, numbers[i], "missing payment number %d", i)
	}
}

func TestStateMachineThroughLedger(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	rejected, err := f.svc.Create(ctx, createParams("o-1", 10))
	require.NoError(t, err)
	_, err = f.svc.Reject(ctx, rejected.ID, "declined", domain.ErrorCodeProcessingError)
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, rejected.ID, "CARD-1")
	require.Error(t, err)
	assert.Equal(t, domain.CodeStateConflict, domain.AsError(err).Code())

	pending, err := f.svc.Create(ctx, createParams("o-1", 10))
	require.NoError(t, err)
	_, err = f.svc.Refund(ctx, pending.ID, "")
	require.Error(t, err)
	assert.Equal(t, domain.CodeStateConflict, domain.AsError(err).Code())

	_, err = f.svc.Approve(ctx, pending.ID, "CARD-2")
	require.NoError(t, err)
	refunded, err := f.svc.Refund(ctx, pending.ID, "Order canceled")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusRefunded, refunded.Status)

	again, err := f.svc.Refund(ctx, pending.ID, "Order canceled")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusRefunded, again.Status)

	assert.Equal(t, []string{"failed", "partial", "refunded"}, f.publisher.kinds())
}

func TestUnknownPaymentIsNotFound(t *testing.T) {
	f := newFixture(t, time.Hour)

	_, err := f.svc.Approve(context.Background(), "missing", "CARD-1")
	require.Error(t, err)
	assert.Equal(t, domain.CodeNotFound, domain.AsError(err).Code())
	assert.True(t, errors.Is(err, domain.ErrPaymentNotFound))

	_, err = f.svc.GetByID(context.Background(), "missing")
	assert.True(t, errors.Is(err, domain.ErrPaymentNotFound))
}

func TestManualApproveDefaultsTransactionID(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	p, err := f.svc.Create(ctx, createParams("o-1", 10))
	require.NoError(t, err)

	approved, err := f.svc.ManualApprove(ctx, p.ID, "")
	require.NoError(t, err)
	assert.Regexp(t, `^MANUAL-\d+-[0-9A-Z]{9}$`, approved.TransactionID)

	other, err := f.svc.Create(ctx, createParams("o-2", 10))
	require.NoError(t, err)
	approved, err = f.svc.ManualApprove(ctx, other.ID, "OPS-42")
	require.NoError(t, err)
	assert.Equal(t, "OPS-42", approved.TransactionID)
}

func TestQueries(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		p, err := f.svc.Create(ctx, createParams("o-1", 10))
		require.NoError(t, err)
		ids = append(ids, p.ID)
	}
	_, err := f.svc.Approve(ctx, ids[0], "CARD-1")
	require.NoError(t, err)

	all, err := f.svc.ListByOrder(ctx, "o-1")
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i, p := range all {
		assert.Equal(t, i+1, p.PaymentNumber)
	}

	approved, err := f.svc.ListApprovedByOrder(ctx, "o-1")
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, ids[0], approved[0].ID)

	latest, err := f.svc.LatestByOrder(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, ids[2], latest.ID)

	_, err = f.svc.LatestByOrder(ctx, "o-none")
	assert.Equal(t, domain.CodeNotFound, domain.AsError(err).Code())

	byUser, err := f.svc.ListByUser(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, byUser, 3)
	assert.Equal(t, ids[2], byUser[0].ID)

	page, total, err := f.svc.Find(ctx, domain.PaymentFilter{UserID: "u-1", Status: domain.PaymentStatusPending}, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, page, 1)
	assert.Equal(t, ids[1], page[0].ID)

	_, _, err = f.svc.Find(ctx, domain.PaymentFilter{}, 0, 0)
	assert.Equal(t, domain.CodeValidation, domain.AsError(err).Code())
}

func TestSubmitCardApprovesImmediately(t *testing.T) {
	f := newFixture(t, time.Hour)

	p, err := f.svc.Submit(context.Background(), SubmitParams{
		OrderID:     "o-1",
		UserID:      "u-1",
		Amount:      decimal.NewFromInt(100),
		Method:      domain.MethodCreditCard,
		PaymentData: validCard(),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusApproved, p.Status)
	assert.Regexp(t, `^CARD-\d+-[0-9A-Z]{9}$`, p.TransactionID)
	assert.JSONEq(t,
		fmt.Sprintf(`{"lastFourDigits":"0366","expiryDate":%q,"cardHolderName":"JUAN PEREZ"}`, validCard().ExpiryDate),
		string(p.InstrumentData))
	assert.Equal(t, []string{"success"}, f.publisher.kinds())

	preferred, err := f.svc.Preferred(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, domain.MethodCreditCard, preferred.Method)
	assert.Equal(t, 1, preferred.SuccessCount)
}

func TestSubmitInvalidInstrumentCreatesNothing(t *testing.T) {
	f := newFixture(t, time.Hour)
	raw := validCard()
	raw.CardNumber = "4532015112830367"

	_, err := f.svc.Submit(context.Background(), SubmitParams{
		OrderID:     "o-1",
		UserID:      "u-1",
		Amount:      decimal.NewFromInt(10),
		Method:      domain.MethodDebitCard,
		PaymentData: raw,
	})
	require.Error(t, err)
	assert.Equal(t, domain.CodeValidation, domain.AsError(err).Code())

	all, err := f.svc.ListByOrder(context.Background(), "o-1")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSubmitOrderRejection(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.orders.order.TotalPayment = decimal.NewFromInt(80)

	_, err := f.svc.Submit(context.Background(), SubmitParams{
		OrderID:     "o-1",
		UserID:      "u-1",
		Amount:      decimal.NewFromInt(30),
		Method:      domain.MethodCreditCard,
		PaymentData: validCard(),
	})
	require.Error(t, err)
	assert.Equal(t, domain.CodeStateConflict, domain.AsError(err).Code())
}

func TestSubmitWalletWithoutBalance(t *testing.T) {
	f := newFixture(t, time.Hour)

	_, err := f.svc.Submit(context.Background(), SubmitParams{
		OrderID: "o-1",
		UserID:  "u-1",
		Amount:  decimal.NewFromInt(10),
		Method:  domain.MethodWallet,
	})
	require.Error(t, err)
	typed := domain.AsError(err)
	require.NotNil(t, typed)
	assert.Equal(t, domain.CodeValidation, typed.Code())
	assert.Equal(t, "wallet", typed.Fields()[0].Path)

	all, err := f.svc.ListByOrder(context.Background(), "o-1")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSubmitWalletDebitsAndRefundCredits(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()
	_, err := f.wallets.Deposit(ctx, "u-1", decimal.NewFromInt(100))
	require.NoError(t, err)

	p, err := f.svc.Submit(ctx, SubmitParams{
		OrderID: "o-1",
		UserID:  "u-1",
		Amount:  decimal.NewFromInt(60),
		Method:  domain.MethodWallet,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusApproved, p.Status)
	assert.Regexp(t, `^WALLET-`, p.TransactionID)

	wallet, err := f.wallets.Balance(ctx, "u-1")
	require.NoError(t, err)
	assert.True(t, wallet.Balance.Equal(decimal.NewFromInt(40)))

	_, err = f.svc.Refund(ctx, p.ID, "")
	require.NoError(t, err)
	wallet, err = f.wallets.Balance(ctx, "u-1")
	require.NoError(t, err)
	assert.True(t, wallet.Balance.Equal(decimal.NewFromInt(100)))
}

func TestWalletLostRaceRejectsPayment(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()
	_, err := f.wallets.Deposit(ctx, "u-1", decimal.NewFromInt(50))
	require.NoError(t, err)

	params := createParams("o-1", 50)
	params.Method = domain.MethodWallet
	p, err := f.svc.Create(ctx, params)
	require.NoError(t, err)

	// Another payment drains the wallet between the balance check and the debit.
	ok, err := f.wallets.Withdraw(ctx, "u-1", decimal.NewFromInt(50))
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.svc.settleWallet(ctx, p)
	require.Error(t, err)
	assert.Equal(t, domain.CodeStateConflict, domain.AsError(err).Code())
	assert.True(t, errors.Is(err, domain.ErrInsufficientFunds))

	stored, err := f.svc.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusRejected, stored.Status)
	assert.Equal(t, domain.ErrorCodeInsufficientFunds, stored.ErrorCode)

	wallet, err := f.wallets.Balance(ctx, "u-1")
	require.NoError(t, err)
	assert.True(t, wallet.Balance.IsZero())
	assert.Equal(t, []string{"failed"}, f.publisher.kinds())
}

type failingWallets struct{ WalletLedger }

func (failingWallets) DepositTx(context.Context, domain.Querier, string, decimal.Decimal) (*domain.Wallet, error) {
	return nil, errors.New("wallet store unavailable")
}

func TestWalletRefundCreditFailureKeepsApproved(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()
	params := createParams("o-1", 20)
	params.Method = domain.MethodWallet
	p, err := f.svc.Create(ctx, params)
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, p.ID, "WALLET-1")
	require.NoError(t, err)

	f.svc.wallets = failingWallets{f.wallets}
	_, err = f.svc.Refund(ctx, p.ID, "")
	require.Error(t, err)
	assert.Equal(t, domain.CodeStateConflict, domain.AsError(err).Code())

	stored, err := f.svc.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusApproved, stored.Status)
}
