package totals_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/evpool/evpool-backend/internal/ledger"
	"github.com/evpool/evpool-backend/internal/testsupport"
	"github.com/evpool/evpool-backend/internal/totals"
	"github.com/evpool/evpool-backend/pkg/db/models"
	"github.com/evpool/evpool-backend/pkg/enums"
	pkgerrors "github.com/evpool/evpool-backend/pkg/errors"
	"github.com/evpool/evpool-backend/pkg/metrics"
)

func setup(t *testing.T) (*totals.Service, ledger.Repository, *gorm.DB, uuid.UUID) {
	t.Helper()
	client := testsupport.NewDB(t)
	repo := ledger.NewRepository(client.DB())
	svc, err := totals.NewService(repo, testsupport.NewLogger(), nil)
	require.NoError(t, err)
	u := &models.User{Name: "co", Email: "co@evpool.test", Role: enums.UserRoleCompany}
	require.NoError(t, client.DB().Create(u).Error)
	return svc, repo, client.DB(), u.ID
}

func newPayment(t *testing.T, repo ledger.Repository, userID uuid.UUID, op enums.OperationType, amount int64) *models.Payment {
	t.Helper()
	p := &models.Payment{
		UserID:      userID,
		Operation:   op,
		AmountCents: amount,
		Confirmed:   true,
		CreatedAt:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, repo.CreatePayment(context.Background(), p))
	return p
}

func TestTotalIsRunningSumOfPayments(t *testing.T) {
	svc, repo, db, user := setup(t)
	ctx := context.Background()

	current, err := svc.CurrentTotal(ctx, db)
	require.NoError(t, err)
	assert.Zero(t, current)

	amounts := []int64{100000, 50000, -20000, 33333}
	ops := []enums.OperationType{enums.OperationFirst, enums.OperationContrib, enums.OperationWithdraw, enums.OperationIncome}
	var want int64
	for i, amount := range amounts {
		p := newPayment(t, repo, user, ops[i], amount)
		total, err := svc.CreateTotal(ctx, db, p)
		require.NoError(t, err)
		want += amount
		assert.Equal(t, want, total.AmountCents)
		assert.Equal(t, p.ID, total.PaymentID)
	}

	current, err = svc.CurrentTotal(ctx, db)
	require.NoError(t, err)
	assert.EqualValues(t, 163333, current)
}

func TestCreateTotalIsIdempotentPerPayment(t *testing.T) {
	svc, repo, db, user := setup(t)
	ctx := context.Background()

	p := newPayment(t, repo, user, enums.OperationFirst, 70000)
	first, err := svc.CreateTotal(ctx, db, p)
	require.NoError(t, err)
	again, err := svc.CreateTotal(ctx, db, p)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.EqualValues(t, 70000, again.AmountCents)

	rows, err := repo.ListTotals(ctx, ledger.DateRange{})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestDuplicateTotalInsertIsAUniqueViolation(t *testing.T) {
	_, repo, _, user := setup(t)
	ctx := context.Background()

	p := newPayment(t, repo, user, enums.OperationFirst, 10)
	require.NoError(t, repo.CreateTotal(ctx, &models.Total{PaymentID: p.ID, AmountCents: 10}))
	err := repo.CreateTotal(ctx, &models.Total{PaymentID: p.ID, AmountCents: 20})
	require.Error(t, err)
}

func TestCreateTotalRejectsUnsavedPayment(t *testing.T) {
	svc, _, db, user := setup(t)
	_, err := svc.CreateTotal(context.Background(), db, &models.Payment{UserID: user, AmountCents: 5})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestCreateTotalPublishesGauge(t *testing.T) {
	client := testsupport.NewDB(t)
	repo := ledger.NewRepository(client.DB())
	reg := prometheus.NewRegistry()
	m := metrics.NewLedgerMetrics(reg)
	svc, err := totals.NewService(repo, testsupport.NewLogger(), m)
	require.NoError(t, err)

	u := &models.User{Name: "co", Email: "co@evpool.test", Role: enums.UserRoleCompany}
	require.NoError(t, client.DB().Create(u).Error)
	p := newPayment(t, repo, u.ID, enums.OperationFirst, 4200)
	_, err = svc.CreateTotal(context.Background(), client.DB(), p)
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(reg, "ledger_pool_total_cents")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
