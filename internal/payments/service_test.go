package payments_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/evpool/evpool-backend/internal/contributions"
	"github.com/evpool/evpool-backend/internal/ledger"
	"github.com/evpool/evpool-backend/internal/payments"
	"github.com/evpool/evpool-backend/internal/testsupport"
	"github.com/evpool/evpool-backend/internal/totals"
	"github.com/evpool/evpool-backend/internal/users"
	"github.com/evpool/evpool-backend/pkg/db"
	"github.com/evpool/evpool-backend/pkg/db/models"
	"github.com/evpool/evpool-backend/pkg/enums"
	pkgerrors "github.com/evpool/evpool-backend/pkg/errors"
	"github.com/evpool/evpool-backend/pkg/outbox"
	"github.com/evpool/evpool-backend/pkg/outbox/payloads"
	pkgpagination "github.com/evpool/evpool-backend/pkg/pagination"
)

var t0 = time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)

type harness struct {
	client *db.Client
	ledger ledger.Repository
	svc    *payments.Service
}

type failingEmitter struct{}

func (failingEmitter) Emit(context.Context, *gorm.DB, outbox.DomainEvent) error {
	return errors.New("outbox down")
}

func newHarness(t *testing.T, emitter interface {
	Emit(context.Context, *gorm.DB, outbox.DomainEvent) error
}) harness {
	t.Helper()
	client := testsupport.NewDB(t)
	logg := testsupport.NewLogger()
	repo := ledger.NewRepository(client.DB())
	usersRepo := users.NewRepository(client.DB())

	contrib, err := contributions.NewService(repo, usersRepo, logg)
	require.NoError(t, err)
	tot, err := totals.NewService(repo, logg, nil)
	require.NoError(t, err)
	if emitter == nil {
		emitter = outbox.NewService(outbox.NewRepository(client.DB()), logg)
	}
	svc, err := payments.NewService(payments.ServiceParams{
		TxRunner:      client,
		Ledger:        repo,
		Users:         usersRepo,
		Contributions: contrib,
		Totals:        tot,
		Outbox:        emitter,
		Logger:        logg,
	})
	require.NoError(t, err)
	return harness{client: client, ledger: repo, svc: svc}
}

func (h harness) user(t *testing.T, role enums.UserRole) uuid.UUID {
	t.Helper()
	u := &models.User{Name: "u", Email: uuid.NewString() + "@evpool.test", Role: role}
	require.NoError(t, h.client.DB().Create(u).Error)
	return u.ID
}

func (h harness) latestTotal(t *testing.T) int64 {
	t.Helper()
	total, err := h.ledger.LatestTotal(context.Background(), false)
	require.NoError(t, err)
	if total == nil {
		return 0
	}
	return total.AmountCents
}

func (h harness) latestShares(t *testing.T) map[uuid.UUID]models.Contribution {
	t.Helper()
	rows, err := h.ledger.LatestContributions(context.Background())
	require.NoError(t, err)
	out := map[uuid.UUID]models.Contribution{}
	for _, row := range rows {
		out[row.UserID] = row
	}
	return out
}

func (h harness) outboxEvents(t *testing.T) []models.OutboxEvent {
	t.Helper()
	var rows []models.OutboxEvent
	require.NoError(t, h.client.DB().Order("created_at ASC").Find(&rows).Error)
	return rows
}

func at(offset time.Duration) *time.Time {
	ts := t0.Add(offset)
	return &ts
}

func TestRecordContributingPaymentAppliesEveryEffect(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.user(t, enums.UserRoleInvestor)
	b := h.user(t, enums.UserRoleInvestor)

	_, err := h.svc.RecordContributingPayment(ctx, payments.PaymentInput{
		UserID: a, Operation: enums.OperationFirst, AmountCents: 100000, Confirmed: true, At: at(0),
	})
	require.NoError(t, err)
	p, err := h.svc.RecordContributingPayment(ctx, payments.PaymentInput{
		UserID: b, Operation: enums.OperationContrib, AmountCents: 50000, Confirmed: true, At: at(time.Hour),
	})
	require.NoError(t, err)

	assert.EqualValues(t, 150000, h.latestTotal(t))
	shares := h.latestShares(t)
	assert.EqualValues(t, 666667, shares[a].Percents)
	assert.EqualValues(t, 333333, shares[b].Percents)
	assert.True(t, shares[b].CreatedAt.Equal(p.CreatedAt))

	events := h.outboxEvents(t)
	require.Len(t, events, 2)
	assert.Equal(t, enums.EventTotalChanged, events[1].EventType)
	var envelope outbox.PayloadEnvelope
	require.NoError(t, json.Unmarshal(events[1].Payload, &envelope))
	var data payloads.TotalChangedEvent
	require.NoError(t, json.Unmarshal(envelope.Data, &data))
	assert.EqualValues(t, 150000, data.NewTotalCents)
	assert.Equal(t, enums.CausePaymentConfirmed, data.Cause)
	assert.EqualValues(t, 50000, data.AmountCents)
}

func TestPendingPaymentWaitsForConfirmation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.user(t, enums.UserRoleInvestor)

	p, err := h.svc.RecordContributingPayment(ctx, payments.PaymentInput{
		UserID: a, Operation: enums.OperationFirst, AmountCents: 25000, At: at(0),
	})
	require.NoError(t, err)
	assert.Zero(t, h.latestTotal(t))
	assert.Empty(t, h.latestShares(t))

	confirmed, err := h.svc.ConfirmPayment(ctx, p.ID, at(time.Hour))
	require.NoError(t, err)
	assert.True(t, confirmed.Confirmed)
	assert.EqualValues(t, 25000, h.latestTotal(t))
	assert.EqualValues(t, 1000000, h.latestShares(t)[a].Percents)

	_, err = h.svc.ConfirmPayment(ctx, p.ID, nil)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	assert.EqualValues(t, 25000, h.latestTotal(t))

	_, err = h.svc.ConfirmPayment(ctx, 999, nil)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestConfirmCancelledPaymentIsAStateConflict(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.user(t, enums.UserRoleInvestor)

	p, err := h.svc.RecordContributingPayment(ctx, payments.PaymentInput{
		UserID: a, Operation: enums.OperationContrib, AmountCents: 500, At: at(0),
	})
	require.NoError(t, err)
	require.NoError(t, h.ledger.MarkPaymentsCancelled(ctx, []int64{p.ID}, t0, nil))

	_, err = h.svc.ConfirmPayment(ctx, p.ID, nil)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestBatchedPaymentsSkipRecalculation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.user(t, enums.UserRoleInvestor)
	b := h.user(t, enums.UserRoleInvestor)

	_, err := h.svc.RecordContributingPayment(ctx, payments.PaymentInput{UserID: a, Operation: enums.OperationFirst, AmountCents: 100000, Confirmed: true, At: at(0)})
	require.NoError(t, err)
	_, err = h.svc.RecordContributingPayment(ctx, payments.PaymentInput{UserID: b, Operation: enums.OperationFirst, AmountCents: 100000, Confirmed: true, At: at(time.Minute)})
	require.NoError(t, err)

	err = h.client.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := h.svc.RecordBatchedIncomePayment(ctx, tx, payments.PaymentInput{
			UserID: a, Operation: enums.OperationIncome, AmountCents: 100000, Confirmed: true, At: at(time.Hour),
		})
		return err
	})
	require.NoError(t, err)

	shares := h.latestShares(t)
	assert.EqualValues(t, 200000, shares[a].AmountCents)
	assert.EqualValues(t, 500000, shares[a].Percents)
	assert.EqualValues(t, 500000, shares[b].Percents)
	assert.EqualValues(t, 300000, h.latestTotal(t))
	assert.Len(t, h.outboxEvents(t), 2)
}

func TestRevenueAndPurchaseEffects(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	company := h.user(t, enums.UserRoleCompany)
	vehicle := uuid.New()

	_, err := h.svc.RecordContributingPayment(ctx, payments.PaymentInput{
		UserID: company, Operation: enums.OperationBuyCar, AmountCents: 500000, Confirmed: true, VehicleID: &vehicle, At: at(0),
	})
	require.NoError(t, err)
	assert.Zero(t, h.latestTotal(t))
	assert.Empty(t, h.latestShares(t))

	_, err = h.svc.RecordContributingPayment(ctx, payments.PaymentInput{
		UserID: company, Operation: enums.OperationRevenue, AmountCents: 50000, Confirmed: true, VehicleID: &vehicle, At: at(time.Hour),
	})
	require.NoError(t, err)
	assert.EqualValues(t, 50000, h.latestTotal(t))
	assert.Empty(t, h.latestShares(t))
}

func TestTotalMatchesConfirmedPoolPayments(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.user(t, enums.UserRoleInvestor)
	company := h.user(t, enums.UserRoleCompany)

	inputs := []payments.PaymentInput{
		{UserID: a, Operation: enums.OperationFirst, AmountCents: 80000, Confirmed: true},
		{UserID: a, Operation: enums.OperationContrib, AmountCents: 12000, Confirmed: false},
		{UserID: company, Operation: enums.OperationBuyCar, AmountCents: 70000, Confirmed: true},
		{UserID: a, Operation: enums.OperationWithdraw, AmountCents: -5000, Confirmed: true},
		{UserID: company, Operation: enums.OperationCompanyLeasing, AmountCents: 900, Confirmed: true},
		{UserID: a, Operation: enums.OperationInvestorLeasing, AmountCents: 900, Confirmed: true},
	}
	for i, in := range inputs {
		in.At = at(time.Duration(i) * time.Minute)
		_, err := h.svc.RecordContributingPayment(ctx, in)
		require.NoError(t, err)
	}

	all, err := h.svc.ListPayments(ctx, ledger.PaymentFilter{})
	require.NoError(t, err)
	var want int64
	for _, p := range all {
		if p.Confirmed && p.Operation.AffectsTotal() {
			want += p.AmountCents
		}
	}
	assert.Equal(t, want, h.latestTotal(t))
	assert.EqualValues(t, 76800, want)
}

func TestRecordCompensationFollowsOriginalOperation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.user(t, enums.UserRoleInvestor)
	company := h.user(t, enums.UserRoleCompany)

	income, err := h.svc.RecordContributingPayment(ctx, payments.PaymentInput{UserID: a, Operation: enums.OperationIncome, AmountCents: 3000, Confirmed: true, At: at(0)})
	require.NoError(t, err)
	revenue, err := h.svc.RecordContributingPayment(ctx, payments.PaymentInput{UserID: company, Operation: enums.OperationRevenue, AmountCents: 3000, Confirmed: true, At: at(time.Minute)})
	require.NoError(t, err)

	err = h.client.WithTx(ctx, func(tx *gorm.DB) error {
		for _, original := range []*models.Payment{income, revenue} {
			comp, err := h.svc.RecordCompensation(ctx, tx, original, t0.Add(time.Hour))
			if err != nil {
				return err
			}
			assert.Equal(t, enums.OperationRecalculation, comp.Operation)
			assert.Equal(t, -original.AmountCents, comp.AmountCents)
		}
		return nil
	})
	require.NoError(t, err)

	assert.Zero(t, h.latestTotal(t))
	shares := h.latestShares(t)
	assert.Zero(t, shares[a].AmountCents)
	assert.NotContains(t, shares, company)
}

func TestRecordPaymentValidation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.user(t, enums.UserRoleInvestor)

	cases := []payments.PaymentInput{
		{UserID: a, Operation: enums.OperationContrib, AmountCents: 0},
		{UserID: a, Operation: enums.OperationWithdraw, AmountCents: 10},
		{UserID: a, Operation: enums.OperationContrib, AmountCents: -10},
		{UserID: a, Operation: "GIFT", AmountCents: 10},
		{Operation: enums.OperationContrib, AmountCents: 10},
	}
	for _, in := range cases {
		_, err := h.svc.RecordContributingPayment(ctx, in)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "input %+v", in)
	}

	_, err := h.svc.RecordContributingPayment(ctx, payments.PaymentInput{UserID: uuid.New(), Operation: enums.OperationContrib, AmountCents: 10})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestWithdrawalCannotExceedBalance(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.user(t, enums.UserRoleInvestor)

	_, err := h.svc.RecordContributingPayment(ctx, payments.PaymentInput{UserID: a, Operation: enums.OperationFirst, AmountCents: 10000, Confirmed: true, At: at(0)})
	require.NoError(t, err)

	_, err = h.svc.RecordContributingPayment(ctx, payments.PaymentInput{UserID: a, Operation: enums.OperationWithdraw, AmountCents: -10001, Confirmed: true, At: at(time.Minute)})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.EqualValues(t, 10000, h.latestTotal(t))
	assert.EqualValues(t, 10000, h.latestShares(t)[a].AmountCents)

	pending, err := h.svc.RecordContributingPayment(ctx, payments.PaymentInput{UserID: a, Operation: enums.OperationWithdraw, AmountCents: -8000, At: at(2 * time.Minute)})
	require.NoError(t, err)
	_, err = h.svc.RecordContributingPayment(ctx, payments.PaymentInput{UserID: a, Operation: enums.OperationWithdraw, AmountCents: -5000, Confirmed: true, At: at(3 * time.Minute)})
	require.NoError(t, err)

	_, err = h.svc.ConfirmPayment(ctx, pending.ID, at(4*time.Minute))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	found, err := h.ledger.FindPayment(ctx, pending.ID, false)
	require.NoError(t, err)
	assert.False(t, found.Confirmed)

	_, err = h.svc.RecordContributingPayment(ctx, payments.PaymentInput{UserID: a, Operation: enums.OperationWithdraw, AmountCents: -5000, Confirmed: true, At: at(5 * time.Minute)})
	require.NoError(t, err)
	assert.Zero(t, h.latestShares(t)[a].AmountCents)
	assert.Zero(t, h.latestTotal(t))
}

func TestConfirmVehiclePaymentEmitsUnchangedTotal(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.user(t, enums.UserRoleInvestor)
	company := h.user(t, enums.UserRoleCompany)
	vehicle := uuid.New()

	_, err := h.svc.RecordContributingPayment(ctx, payments.PaymentInput{UserID: a, Operation: enums.OperationFirst, AmountCents: 40000, Confirmed: true, At: at(0)})
	require.NoError(t, err)
	buy, err := h.svc.RecordContributingPayment(ctx, payments.PaymentInput{UserID: company, Operation: enums.OperationBuyCar, AmountCents: 30000, VehicleID: &vehicle, At: at(time.Minute)})
	require.NoError(t, err)
	require.Len(t, h.outboxEvents(t), 1)

	_, err = h.svc.ConfirmPayment(ctx, buy.ID, at(time.Hour))
	require.NoError(t, err)

	events := h.outboxEvents(t)
	require.Len(t, events, 2)
	assert.Equal(t, enums.EventTotalChanged, events[1].EventType)
	env, err := outbox.DecodeEnvelope(events[1].Payload)
	require.NoError(t, err)
	var data payloads.TotalChangedEvent
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.EqualValues(t, 40000, data.NewTotalCents)
	assert.Zero(t, data.AmountCents)
	assert.Equal(t, enums.CausePaymentConfirmed, data.Cause)
	require.NotNil(t, data.PaymentID)
	assert.Equal(t, buy.ID, *data.PaymentID)
	assert.EqualValues(t, 40000, h.latestTotal(t))
}

func TestFailureRollsBackEverything(t *testing.T) {
	h := newHarness(t, failingEmitter{})
	ctx := context.Background()
	a := h.user(t, enums.UserRoleInvestor)

	_, err := h.svc.RecordContributingPayment(ctx, payments.PaymentInput{
		UserID: a, Operation: enums.OperationFirst, AmountCents: 100, Confirmed: true,
	})
	require.Error(t, err)

	all, err := h.svc.ListPayments(ctx, ledger.PaymentFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Zero(t, h.latestTotal(t))
	assert.Empty(t, h.latestShares(t))
}

func TestListPaymentsPageWalksCursor(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	investor := h.user(t, enums.UserRoleInvestor)
	other := h.user(t, enums.UserRoleInvestor)

	for i := 0; i < 5; i++ {
		_, err := h.svc.RecordContributingPayment(ctx, payments.PaymentInput{
			UserID: investor, Operation: enums.OperationContrib, AmountCents: int64(100 * (i + 1)), Confirmed: true, At: at(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}
	_, err := h.svc.RecordContributingPayment(ctx, payments.PaymentInput{
		UserID: other, Operation: enums.OperationFirst, AmountCents: 50, Confirmed: true, At: at(0),
	})
	require.NoError(t, err)

	var seen []int64
	cursor := ""
	for pages := 0; pages < 5; pages++ {
		page, err := h.svc.ListPaymentsPage(ctx, payments.ListParams{
			Filter: ledger.PaymentFilter{UserID: &investor},
			Params: pkgpagination.Params{Limit: 2, Cursor: cursor},
		})
		require.NoError(t, err)
		for _, item := range page.Items {
			assert.Equal(t, investor, item.UserID)
			seen = append(seen, item.AmountCents)
		}
		if page.Cursor == "" {
			break
		}
		cursor = page.Cursor
	}
	assert.Equal(t, []int64{100, 200, 300, 400, 500}, seen)

	_, err = h.svc.ListPaymentsPage(ctx, payments.ListParams{Params: pkgpagination.Params{Cursor: "%%%"}})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	_, err = h.svc.ListPaymentsPage(ctx, payments.ListParams{Filter: ledger.PaymentFilter{Operations: []enums.OperationType{"GIFT"}}})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}
