package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/evpool/evpool-backend/pkg/db/models"
	"github.com/evpool/evpool-backend/pkg/enums"
)

// DailyTotals keeps the total with the highest id of each UTC day in rng,
// oldest day first.
func (r *repository) DailyTotals(ctx context.Context, rng DateRange) ([]DailyTotal, error) {
	totals, err := r.ListTotals(ctx, rng)
	if err != nil {
		return nil, err
	}
	latest := map[time.Time]models.Total{}
	for _, total := range totals {
		day := truncateDay(total.CreatedAt)
		if cur, ok := latest[day]; !ok || total.ID > cur.ID {
			latest[day] = total
		}
	}
	out := make([]DailyTotal, 0, len(latest))
	for day, total := range latest {
		out = append(out, DailyTotal{Day: day, AmountCents: total.AmountCents})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, nil
}

func (r *repository) DailyPaymentSums(ctx context.Context, rng DateRange, ops []enums.OperationType) ([]DailyPaymentSum, error) {
	confirmed, cancelled := true, false
	payments, err := r.ListPayments(ctx, PaymentFilter{
		Operations: ops,
		Range:      rng,
		Confirmed:  &confirmed,
		Cancelled:  &cancelled,
	})
	if err != nil {
		return nil, err
	}

	type key struct {
		day time.Time
		op  enums.OperationType
	}
	sums := map[key]*DailyPaymentSum{}
	for _, payment := range payments {
		k := key{day: truncateDay(payment.CreatedAt), op: payment.Operation}
		sum, ok := sums[k]
		if !ok {
			sum = &DailyPaymentSum{Day: k.day, Operation: k.op}
			sums[k] = sum
		}
		sum.AmountCents += payment.AmountCents
		sum.Count++
	}

	out := make([]DailyPaymentSum, 0, len(sums))
	for _, sum := range sums {
		out = append(out, *sum)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Day.Equal(out[j].Day) {
			return out[i].Day.Before(out[j].Day)
		}
		return out[i].Operation < out[j].Operation
	})
	return out, nil
}

func (r *repository) UserBalanceHistory(ctx context.Context, userID uuid.UUID, rng DateRange) ([]BalancePoint, error) {
	rows, err := r.ListContributions(ctx, userID, rng)
	if err != nil {
		return nil, err
	}
	points := make([]BalancePoint, 0, len(rows))
	for _, row := range rows {
		points = append(points, balancePoint(row))
	}
	return points, nil
}

func balancePoint(row models.Contribution) BalancePoint {
	return BalancePoint{
		At:          row.CreatedAt,
		AmountCents: row.AmountCents,
		Percents:    row.Percents,
		PaymentID:   row.PaymentID,
	}
}

func truncateDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
