package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tesseract-hub/contract-ledger-service/internal/models"
	"github.com/tesseract-hub/contract-ledger-service/internal/repository"
)

const (
	testTenant = "5f0c2d4e-8a1b-4c3d-9e7f-102030405060"
	testUser   = "user-42"
)

// recordingPublisher captures published events
type recordingPublisher struct {
	mu     sync.Mutex
	events []models.ContractEvent
}

func (p *recordingPublisher) PublishContractEvents(ctx context.Context, tenantID string, events []models.ContractEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
}

func (p *recordingPublisher) types() []models.ContractEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]models.ContractEventType, len(p.events))
	for i, e := range p.events {
		types[i] = e.Type
	}
	return types
}

// testClock is a settable service clock
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fixture struct {
	svc       *ContractService
	resolver  *repository.MemoryResolver
	store     *repository.MemoryStore
	publisher *recordingPublisher
	clock     *testClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	resolver := repository.NewMemoryResolver()
	publisher := &recordingPublisher{}
	clock := &testClock{now: date(2026, 1, 1)}

	svc := NewContractService(ContractServiceConfig{
		Stores:    resolver,
		Publisher: publisher,
		Logger:    logger,
		Clock:     clock.Now,
	})

	return &fixture{
		svc:       svc,
		resolver:  resolver,
		store:     resolver.Store(testTenant),
		publisher: publisher,
		clock:     clock,
	}
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertMoney(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.True(t, money(want).Equal(got), append([]interface{}{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

func (f *fixture) newPlot(t *testing.T) uuid.UUID {
	t.Helper()
	id := uuid.New()
	f.store.PutPlot(models.Plot{ID: id, PlotNumber: "A-" + id.String()[:4]})
	return id
}

func flatRate(plotID uuid.UUID, total string, term int) models.CreateContractRequest {
	return models.CreateContractRequest{
		PlotID:             plotID,
		ClientContactID:    uuid.New(),
		StartDate:          models.NewDate(date(2026, 1, 1)),
		TermMonths:         term,
		TotalContractValue: money(total),
		PurchasePlan:       models.PlanFlatRate,
	}
}

func (f *fixture) create(t *testing.T, req models.CreateContractRequest) uuid.UUID {
	t.Helper()
	id, err := f.svc.CreateContract(context.Background(), testTenant, req, testUser)
	require.NoError(t, err)
	return id
}

func (f *fixture) pay(t *testing.T, contractID uuid.UUID, amount string) uuid.UUID {
	t.Helper()
	id, err := f.svc.PostPayment(context.Background(), testTenant, contractID, models.PostPaymentRequest{Amount: money(amount)}, testUser)
	require.NoError(t, err)
	return id
}

func (f *fixture) installments(t *testing.T, contractID uuid.UUID) []models.ContractInstallment {
	t.Helper()
	rows, err := f.store.ListInstallments(context.Background(), contractID)
	require.NoError(t, err)
	return rows
}

func (f *fixture) contract(t *testing.T, contractID uuid.UUID) *models.PlotSaleContract {
	t.Helper()
	c, err := f.store.GetContract(context.Background(), contractID)
	require.NoError(t, err)
	return c
}

func (f *fixture) eventTypes(t *testing.T, contractID uuid.UUID) []models.ContractEventType {
	t.Helper()
	events, err := f.store.ListEvents(context.Background(), contractID)
	require.NoError(t, err)
	types := make([]models.ContractEventType, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}

func TestCreateContract_FlatRate(t *testing.T) {
	f := newFixture(t)
	plotID := f.newPlot(t)

	contractID := f.create(t, flatRate(plotID, "300000", 3))

	contract := f.contract(t, contractID)
	assert.Equal(t, models.ContractActive, contract.Status)
	assertMoney(t, "300000", contract.FinancedAmount)
	assert.Nil(t, contract.DownpaymentAmount)
	assert.Equal(t, testUser, contract.CreatedBy)

	rows := f.installments(t, contractID)
	require.Len(t, rows, 3)
	for i, row := range rows {
		assert.Equal(t, i+1, row.InstallmentNo)
		assertMoney(t, "100000", row.AmountDue)
		assertMoney(t, "0", row.AmountPaid)
		assert.Equal(t, models.InstallmentPending, row.Status)
	}
	assert.Equal(t, date(2026, 3, 1), rows[2].DueDate)

	plot, err := f.store.GetPlot(context.Background(), plotID)
	require.NoError(t, err)
	assert.Equal(t, models.PlotSold, plot.Availability)
	require.NotNil(t, plot.ActiveContractID)
	assert.Equal(t, contractID, *plot.ActiveContractID)

	assert.Equal(t, []models.ContractEventType{models.EventCreated}, f.eventTypes(t, contractID))
	assert.Equal(t, []models.ContractEventType{models.EventCreated}, f.publisher.types())
}

func TestCreateContract_Downpayment(t *testing.T) {
	f := newFixture(t)
	plotID := f.newPlot(t)

	pct := money("20")
	req := flatRate(plotID, "100000", 5)
	req.PurchasePlan = models.PlanDownpayment
	req.DownpaymentPercent = &pct

	contractID := f.create(t, req)

	contract := f.contract(t, contractID)
	require.NotNil(t, contract.DownpaymentAmount)
	assertMoney(t, "20000", *contract.DownpaymentAmount)
	assertMoney(t, "80000", contract.FinancedAmount)

	rows := f.installments(t, contractID)
	require.Len(t, rows, 5)
	assertMoney(t, "20000", rows[0].AmountDue)
	sum := decimal.Zero
	for _, row := range rows[1:] {
		assertMoney(t, "20000", row.AmountDue)
		sum = sum.Add(row.AmountDue)
	}
	assertMoney(t, "80000", sum)
}

func TestCreateContract_Rejections(t *testing.T) {
	f := newFixture(t)
	soldPlot := f.newPlot(t)
	f.create(t, flatRate(soldPlot, "1000", 2))

	pct := money("10")
	singleInstallmentDownpayment := flatRate(f.newPlot(t), "1000", 1)
	singleInstallmentDownpayment.PurchasePlan = models.PlanDownpayment
	singleInstallmentDownpayment.DownpaymentPercent = &pct

	tests := []struct {
		name string
		req  models.CreateContractRequest
		user string
		want ErrorKind
	}{
		{"term too long", flatRate(f.newPlot(t), "1000", 25), testUser, KindValidation},
		{"term zero", flatRate(f.newPlot(t), "1000", 0), testUser, KindValidation},
		{"non-positive total", flatRate(f.newPlot(t), "0", 3), testUser, KindValidation},
		{"sub-cent total", flatRate(f.newPlot(t), "10.005", 3), testUser, KindValidation},
		{"missing actor", flatRate(f.newPlot(t), "1000", 3), "", KindValidation},
		{"plot already sold", flatRate(soldPlot, "1000", 3), testUser, KindPlotNotSellable},
		{"unknown plot", flatRate(uuid.New(), "1000", 3), testUser, KindPlotNotSellable},
		{"downpayment on one installment", singleInstallmentDownpayment, testUser, KindInvalidSchedule},
		{"share below minor unit", flatRate(f.newPlot(t), "0.05", 12), testUser, KindInvalidSchedule},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := f.svc.CreateContract(context.Background(), testTenant, tt.req, tt.user)
			require.Error(t, err)
			assert.Equal(t, uuid.Nil, id)
			assert.Equal(t, tt.want, KindOf(err))
		})
	}
}

func TestCreateContract_ConcurrentClaimsOnePlot(t *testing.T) {
	f := newFixture(t)
	plotID := f.newPlot(t)

	const attempts = 10
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.CreateContract(context.Background(), testTenant, flatRate(plotID, "1200", 12), testUser)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.Equal(t, KindPlotNotSellable, KindOf(err))
		ledgerErr, ok := AsLedgerError(err)
		require.True(t, ok)
		assert.Equal(t, "This plot is no longer available", ledgerErr.Message)
	}
	assert.Equal(t, 1, succeeded)

	ids, err := f.store.ListContractIDsByStatus(context.Background(), models.ContractActive)
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestPostPayment_AllocatesOldestFirst(t *testing.T) {
	f := newFixture(t)
	contractID := f.create(t, flatRate(f.newPlot(t), "300", 3))

	f.pay(t, contractID, "100")
	f.pay(t, contractID, "150")

	rows := f.installments(t, contractID)
	assert.Equal(t, models.InstallmentPaid, rows[0].Status)
	assert.Equal(t, models.InstallmentPaid, rows[1].Status)
	assertMoney(t, "100", rows[1].AmountPaid)
	assert.NotNil(t, rows[1].PaidAt)
	assert.Equal(t, models.InstallmentPartial, rows[2].Status)
	assertMoney(t, "50", rows[2].AmountPaid)
	assert.Nil(t, rows[2].PaidAt)

	assert.Equal(t, models.ContractActive, f.contract(t, contractID).Status)
}

func TestPostPayment_OverpaymentStaysInCashLedger(t *testing.T) {
	f := newFixture(t)
	contractID := f.create(t, flatRate(f.newPlot(t), "300", 3))

	f.pay(t, contractID, "350")

	assert.Equal(t, models.ContractCompleted, f.contract(t, contractID).Status)

	payments, err := f.store.ListPayments(context.Background(), contractID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, models.PaymentIn, payments[0].Direction)
	assertMoney(t, "350", payments[0].Amount)

	summary, err := f.svc.GetContractSummary(context.Background(), testTenant, contractID)
	require.NoError(t, err)
	assertMoney(t, "300", summary.TotalPaid)
	assertMoney(t, "350", summary.TotalReceived)
	assertMoney(t, "50", summary.OverpaymentFloat)
	assertMoney(t, "0", summary.Outstanding)
	assert.Equal(t, 3, summary.PaidInstallments)
	assert.Nil(t, summary.NextDueDate)
}

func TestPostPayment_Rejections(t *testing.T) {
	f := newFixture(t)
	contractID := f.create(t, flatRate(f.newPlot(t), "300", 3))
	completedID := f.create(t, flatRate(f.newPlot(t), "300", 1))
	f.pay(t, completedID, "300")

	tests := []struct {
		name       string
		contractID uuid.UUID
		amount     string
		want       ErrorKind
	}{
		{"zero amount", contractID, "0", KindValidation},
		{"negative amount", contractID, "-5", KindValidation},
		{"sub-cent amount", contractID, "1.001", KindValidation},
		{"unknown contract", uuid.New(), "10", KindContractNotFound},
		{"completed contract", completedID, "10", KindContractClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.PostPayment(context.Background(), testTenant, tt.contractID, models.PostPaymentRequest{Amount: money(tt.amount)}, testUser)
			require.Error(t, err)
			assert.Equal(t, tt.want, KindOf(err))
		})
	}

	payments, err := f.store.ListPayments(context.Background(), completedID)
	require.NoError(t, err)
	assert.Len(t, payments, 1)
}

// Duplicate submissions are not deduplicated: each call is a new cash entry.
func TestPostPayment_DuplicateSubmissionIsPostedTwice(t *testing.T) {
	f := newFixture(t)
	contractID := f.create(t, flatRate(f.newPlot(t), "300", 3))

	req := models.PostPaymentRequest{Amount: money("100"), Method: "BANK_TRANSFER", Reference: "TRX-001"}
	first, err := f.svc.PostPayment(context.Background(), testTenant, contractID, req, testUser)
	require.NoError(t, err)
	second, err := f.svc.PostPayment(context.Background(), testTenant, contractID, req, testUser)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	payments, err := f.store.ListPayments(context.Background(), contractID)
	require.NoError(t, err)
	assert.Len(t, payments, 2)

	rows := f.installments(t, contractID)
	assert.Equal(t, models.InstallmentPaid, rows[1].Status)
}

func TestPostPayment_ConcurrentPaymentsDoNotDoubleApply(t *testing.T) {
	f := newFixture(t)
	contractID := f.create(t, flatRate(f.newPlot(t), "1000", 10))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.PostPayment(context.Background(), testTenant, contractID, models.PostPaymentRequest{Amount: money("100")}, testUser)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	for _, row := range f.installments(t, contractID) {
		assertMoney(t, "100", row.AmountPaid)
	}
	assert.Equal(t, models.ContractCompleted, f.contract(t, contractID).Status)
}

func TestEndToEnd_FlatRateCompletionKeepsPlotSold(t *testing.T) {
	f := newFixture(t)
	plotID := f.newPlot(t)
	contractID := f.create(t, flatRate(plotID, "300000", 3))

	f.pay(t, contractID, "100000")
	f.pay(t, contractID, "100000")
	assert.Equal(t, models.ContractActive, f.contract(t, contractID).Status)
	f.pay(t, contractID, "100000")

	assert.Equal(t, models.ContractCompleted, f.contract(t, contractID).Status)

	plot, err := f.store.GetPlot(context.Background(), plotID)
	require.NoError(t, err)
	assert.Equal(t, models.PlotSold, plot.Availability)
	require.NotNil(t, plot.ActiveContractID)
	assert.Equal(t, contractID, *plot.ActiveContractID)

	_, err = f.svc.CreateContract(context.Background(), testTenant, flatRate(plotID, "1000", 1), testUser)
	assert.Equal(t, KindPlotNotSellable, KindOf(err))

	_, err = f.svc.PostPayment(context.Background(), testTenant, contractID, models.PostPaymentRequest{Amount: money("1")}, testUser)
	assert.Equal(t, KindContractClosed, KindOf(err))

	assert.Equal(t, []models.ContractEventType{
		models.EventCreated,
		models.EventPaymentApplied,
		models.EventPaymentApplied,
		models.EventCompleted,
		models.EventPaymentApplied,
	}, f.eventTypes(t, contractID))
}

func delinquencyTerms(plotID uuid.UUID) models.CreateContractRequest {
	req := flatRate(plotID, "300", 3)
	req.GraceDays = 5
	req.DelinquentDaysThreshold = 10
	return req
}

func TestEvaluateDelinquency_ThresholdAndIdempotency(t *testing.T) {
	f := newFixture(t)
	contractID := f.create(t, delinquencyTerms(f.newPlot(t)))

	// Installment 1 is due Jan 1; grace ends Jan 6; 10 days beyond grace is Jan 16.
	flagged, err := f.svc.EvaluateDelinquency(context.Background(), testTenant, date(2026, 1, 16))
	require.NoError(t, err)
	assert.Equal(t, 0, flagged)
	assert.Equal(t, models.ContractActive, f.contract(t, contractID).Status)

	flagged, err = f.svc.EvaluateDelinquency(context.Background(), testTenant, date(2026, 1, 17))
	require.NoError(t, err)
	assert.Equal(t, 1, flagged)

	contract := f.contract(t, contractID)
	assert.Equal(t, models.ContractDelinquent, contract.Status)
	require.NotNil(t, contract.DelinquentSince)
	assert.Equal(t, date(2026, 1, 1), *contract.DelinquentSince)

	flagged, err = f.svc.EvaluateDelinquency(context.Background(), testTenant, date(2026, 1, 17))
	require.NoError(t, err)
	assert.Equal(t, 0, flagged)

	flagged, err = f.svc.EvaluateDelinquency(context.Background(), testTenant, date(2026, 4, 1))
	require.NoError(t, err)
	assert.Equal(t, 0, flagged)
	assert.Equal(t, date(2026, 1, 1), *f.contract(t, contractID).DelinquentSince)

	assert.Equal(t, []models.ContractEventType{
		models.EventCreated,
		models.EventDelinquentFlagged,
	}, f.eventTypes(t, contractID))
}

func TestEvaluateDelinquency_SkipsPaidAndClosedContracts(t *testing.T) {
	f := newFixture(t)
	current := f.create(t, delinquencyTerms(f.newPlot(t)))
	f.pay(t, current, "100")

	completed := f.create(t, delinquencyTerms(f.newPlot(t)))
	f.pay(t, completed, "300")

	cancelled := f.create(t, delinquencyTerms(f.newPlot(t)))
	_, err := f.svc.CancelContract(context.Background(), testTenant, cancelled, models.CancelContractRequest{Reason: "client withdrew"}, testUser)
	require.NoError(t, err)

	flagged, err := f.svc.EvaluateDelinquency(context.Background(), testTenant, date(2026, 1, 31))
	require.NoError(t, err)
	assert.Equal(t, 0, flagged)

	assert.Equal(t, models.ContractActive, f.contract(t, current).Status)
	assert.Equal(t, models.ContractCompleted, f.contract(t, completed).Status)
	assert.Equal(t, models.ContractCancelled, f.contract(t, cancelled).Status)
}

func TestPostPayment_CuresDelinquencyBackToActive(t *testing.T) {
	f := newFixture(t)
	req := flatRate(f.newPlot(t), "300", 3)
	contractID := f.create(t, req)

	flagged, err := f.svc.EvaluateDelinquency(context.Background(), testTenant, date(2026, 1, 20))
	require.NoError(t, err)
	require.Equal(t, 1, flagged)

	f.clock.Set(date(2026, 1, 20))
	f.pay(t, contractID, "100")

	contract := f.contract(t, contractID)
	assert.Equal(t, models.ContractActive, contract.Status)
	assert.Nil(t, contract.DelinquentSince)
	assert.Equal(t, []models.ContractEventType{
		models.EventCreated,
		models.EventDelinquentFlagged,
		models.EventCured,
		models.EventPaymentApplied,
	}, f.eventTypes(t, contractID))
}

func TestPostPayment_PartialPaymentLeavesContractDelinquent(t *testing.T) {
	f := newFixture(t)
	contractID := f.create(t, flatRate(f.newPlot(t), "300", 3))

	_, err := f.svc.EvaluateDelinquency(context.Background(), testTenant, date(2026, 2, 20))
	require.NoError(t, err)

	f.clock.Set(date(2026, 2, 20))
	f.pay(t, contractID, "150")

	contract := f.contract(t, contractID)
	assert.Equal(t, models.ContractDelinquent, contract.Status)
	assert.Equal(t, date(2026, 1, 1), *contract.DelinquentSince)
}

func TestEndToEnd_DelinquentContractCuredAndCompletedInOneCall(t *testing.T) {
	f := newFixture(t)
	contractID := f.create(t, delinquencyTerms(f.newPlot(t)))

	flagged, err := f.svc.EvaluateDelinquency(context.Background(), testTenant, date(2026, 3, 20))
	require.NoError(t, err)
	require.Equal(t, 1, flagged)

	f.clock.Set(date(2026, 3, 21))
	f.pay(t, contractID, "300")

	contract := f.contract(t, contractID)
	assert.Equal(t, models.ContractCompleted, contract.Status)
	assert.Nil(t, contract.DelinquentSince)
	assert.Equal(t, []models.ContractEventType{
		models.EventCreated,
		models.EventDelinquentFlagged,
		models.EventCured,
		models.EventCompleted,
		models.EventPaymentApplied,
	}, f.eventTypes(t, contractID))
}

func TestComputeSettlement(t *testing.T) {
	tests := []struct {
		name       string
		totalPaid  string
		feePercent string
		wantFee    string
		wantRefund string
	}{
		{"twenty percent", "500", "20", "100", "400"},
		{"fee above total clamps refund to zero", "1000", "150", "1000", "0"},
		{"nothing paid", "0", "50", "0", "0"},
		{"no fee", "750.50", "0", "0", "750.50"},
		{"rounded to minor unit", "333.33", "33.33", "111.10", "222.23"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeSettlement(money(tt.totalPaid), money(tt.feePercent))
			assertMoney(t, tt.wantFee, got.CancellationFeeAmount)
			assertMoney(t, tt.wantRefund, got.RefundAmount)
			assert.False(t, got.RefundAmount.IsNegative())
		})
	}
}

func TestCancelContract_SettlesAndReleasesPlot(t *testing.T) {
	f := newFixture(t)
	plotID := f.newPlot(t)
	req := flatRate(plotID, "1000", 2)
	req.CancellationFeePercent = money("20")
	contractID := f.create(t, req)
	f.pay(t, contractID, "500")

	settlement, err := f.svc.CancelContract(context.Background(), testTenant, contractID, models.CancelContractRequest{
		Reason:          "client relocated",
		RefundMethod:    "BANK_TRANSFER",
		RefundReference: "RF-9",
	}, testUser)
	require.NoError(t, err)
	assertMoney(t, "100", settlement.CancellationFeeAmount)
	assertMoney(t, "400", settlement.RefundAmount)

	contract := f.contract(t, contractID)
	assert.Equal(t, models.ContractCancelled, contract.Status)
	require.NotNil(t, contract.CancelledAt)
	assert.Equal(t, testUser, *contract.CancelledBy)
	assert.Equal(t, "client relocated", *contract.CancellationReason)
	assertMoney(t, "100", *contract.CancellationFeeAmount)
	assertMoney(t, "400", *contract.RefundAmount)

	payments, err := f.store.ListPayments(context.Background(), contractID)
	require.NoError(t, err)
	require.Len(t, payments, 2)
	refund := payments[1]
	assert.Equal(t, models.PaymentOut, refund.Direction)
	assertMoney(t, "400", refund.Amount)
	assert.Equal(t, "BANK_TRANSFER", refund.Method)
	assert.Equal(t, "RF-9", refund.Reference)

	plot, err := f.store.GetPlot(context.Background(), plotID)
	require.NoError(t, err)
	assert.Equal(t, models.PlotAvailable, plot.Availability)
	assert.Nil(t, plot.ActiveContractID)

	assert.Equal(t, models.EventCancelled, f.eventTypes(t, contractID)[2])

	// The released plot can be sold again.
	f.create(t, flatRate(plotID, "900", 3))
}

func TestCancelContract_DelinquentWithNothingPaidWritesNoRefund(t *testing.T) {
	f := newFixture(t)
	contractID := f.create(t, flatRate(f.newPlot(t), "1000", 2))

	_, err := f.svc.EvaluateDelinquency(context.Background(), testTenant, date(2026, 2, 1))
	require.NoError(t, err)
	require.Equal(t, models.ContractDelinquent, f.contract(t, contractID).Status)

	settlement, err := f.svc.CancelContract(context.Background(), testTenant, contractID, models.CancelContractRequest{Reason: "default"}, testUser)
	require.NoError(t, err)
	assertMoney(t, "0", settlement.RefundAmount)

	payments, err := f.store.ListPayments(context.Background(), contractID)
	require.NoError(t, err)
	assert.Empty(t, payments)
}

func TestCancelContract_Rejections(t *testing.T) {
	f := newFixture(t)
	completedID := f.create(t, flatRate(f.newPlot(t), "100", 1))
	f.pay(t, completedID, "100")

	cancelledID := f.create(t, flatRate(f.newPlot(t), "100", 1))
	_, err := f.svc.CancelContract(context.Background(), testTenant, cancelledID, models.CancelContractRequest{Reason: "first"}, testUser)
	require.NoError(t, err)

	activeID := f.create(t, flatRate(f.newPlot(t), "100", 1))

	tests := []struct {
		name       string
		contractID uuid.UUID
		reason     string
		want       ErrorKind
	}{
		{"missing reason", activeID, "  ", KindValidation},
		{"unknown contract", uuid.New(), "x", KindContractNotFound},
		{"completed contract", completedID, "x", KindContractNotCancellable},
		{"already cancelled", cancelledID, "again", KindContractNotCancellable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settlement, err := f.svc.CancelContract(context.Background(), testTenant, tt.contractID, models.CancelContractRequest{Reason: tt.reason}, testUser)
			require.Error(t, err)
			assert.Nil(t, settlement)
			assert.Equal(t, tt.want, KindOf(err))
		})
	}
}

func TestGetContract(t *testing.T) {
	f := newFixture(t)
	contractID := f.create(t, flatRate(f.newPlot(t), "300", 3))
	f.pay(t, contractID, "120")

	detail, err := f.svc.GetContract(context.Background(), testTenant, contractID)
	require.NoError(t, err)
	assert.Equal(t, contractID, detail.Contract.ID)
	assert.Len(t, detail.Installments, 3)
	assert.Len(t, detail.Payments, 1)
	assert.Len(t, detail.Events, 2)

	f.clock.Set(date(2026, 2, 10))
	summary, err := f.svc.GetContractSummary(context.Background(), testTenant, contractID)
	require.NoError(t, err)
	assertMoney(t, "300", summary.TotalDue)
	assertMoney(t, "120", summary.TotalPaid)
	assertMoney(t, "180", summary.Outstanding)
	assertMoney(t, "80", summary.OverdueAmount)
	assert.Equal(t, 1, summary.PaidInstallments)
	assert.Equal(t, 2, summary.OpenInstallments)
	require.NotNil(t, summary.NextDueDate)
	assert.Equal(t, date(2026, 2, 1), summary.NextDueDate.Time)

	_, err = f.svc.GetContract(context.Background(), testTenant, uuid.New())
	assert.Equal(t, KindContractNotFound, KindOf(err))
}

// panickingStore fails every transaction with a panic
type panickingStore struct {
	*repository.MemoryStore
}

func (s panickingStore) WithinTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	panic("driver exploded")
}

type staticResolver struct {
	store repository.Store
}

func (r staticResolver) StoreFor(ctx context.Context, tenantID string) (repository.Store, error) {
	return r.store, nil
}

func TestTransaction_PanicBecomesInfrastructureError(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	inner := repository.NewMemoryStore()
	plotID := uuid.New()
	inner.PutPlot(models.Plot{ID: plotID, PlotNumber: "P-1"})

	svc := NewContractService(ContractServiceConfig{
		Stores: staticResolver{store: panickingStore{MemoryStore: inner}},
		Logger: logger,
	})

	_, err := svc.CreateContract(context.Background(), testTenant, flatRate(plotID, "1000", 2), testUser)
	require.Error(t, err)
	assert.Equal(t, KindInfrastructure, KindOf(err))

	plot, err := inner.GetPlot(context.Background(), plotID)
	require.NoError(t, err)
	assert.True(t, plot.IsSellable())
}

func TestInfrastructureFailures(t *testing.T) {
	f := newFixture(t)
	f.resolver.Fail("broken-tenant", errors.New("connection refused"))

	_, err := f.svc.PostPayment(context.Background(), "broken-tenant", uuid.New(), models.PostPaymentRequest{Amount: money("10")}, testUser)
	assert.Equal(t, KindInfrastructure, KindOf(err))

	_, err = f.svc.EvaluateDelinquency(context.Background(), "broken-tenant", date(2026, 1, 1))
	assert.Equal(t, KindInfrastructure, KindOf(err))

	contractID := f.create(t, flatRate(f.newPlot(t), "300", 3))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.svc.PostPayment(ctx, testTenant, contractID, models.PostPaymentRequest{Amount: money("10")}, testUser)
	assert.Equal(t, KindInfrastructure, KindOf(err))

	for _, row := range f.installments(t, contractID) {
		assertMoney(t, "0", row.AmountPaid)
	}
}
