package controllers

import (
	"context"
	"net/http"

	"github.com/evpool/evpool-backend/api/responses"
	"github.com/evpool/evpool-backend/internal/ledger"
	"github.com/evpool/evpool-backend/pkg/enums"
	"github.com/evpool/evpool-backend/pkg/logger"
)

type ledgerReader interface {
	CurrentTotal(ctx context.Context) (*ledger.PoolTotal, error)
	LatestShares(ctx context.Context) ([]ledger.ContributionDTO, error)
	DailyTotals(ctx context.Context, rng ledger.DateRange) ([]ledger.DailyTotal, error)
	DailyPaymentSums(ctx context.Context, rng ledger.DateRange, ops []enums.OperationType) ([]ledger.DailyPaymentSum, error)
}

func LedgerTotal(svc ledgerReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		total, err := svc.CurrentTotal(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, total)
	}
}

// LedgerLatestContributions lists every user's current balance and share.
func LedgerLatestContributions(svc ledgerReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shares, err := svc.LatestShares(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, shares)
	}
}

func ReportDailyTotals(svc ledgerReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rng, err := parseDateRange(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		totals, err := svc.DailyTotals(r.Context(), rng)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, totals)
	}
}

// ReportDailyPayments sums confirmed live payments per day and operation.
func ReportDailyPayments(svc ledgerReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rng, err := parseDateRange(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ops, err := parseOperations(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		sums, err := svc.DailyPaymentSums(r.Context(), rng, ops)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, sums)
	}
}
