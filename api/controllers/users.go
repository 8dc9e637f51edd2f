package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/evpool/evpool-backend/api/responses"
	"github.com/evpool/evpool-backend/api/validators"
	"github.com/evpool/evpool-backend/internal/ledger"
	"github.com/evpool/evpool-backend/internal/users"
	"github.com/evpool/evpool-backend/pkg/db/models"
	"github.com/evpool/evpool-backend/pkg/enums"
	pkgerrors "github.com/evpool/evpool-backend/pkg/errors"
	"github.com/evpool/evpool-backend/pkg/logger"
)

type userCreator interface {
	Create(ctx context.Context, dto users.CreateUserDTO) (*models.User, error)
}

type balanceHistoryReader interface {
	UserBalanceHistory(ctx context.Context, userID uuid.UUID, rng ledger.DateRange) ([]ledger.BalancePoint, error)
}

type userCreateRequest struct {
	Name  string `json:"name" validate:"required,max=120"`
	Email string `json:"email" validate:"required,email"`
	Role  string `json:"role" validate:"required"`
}

// UserCreate registers an investor, operator, admin or the company account.
func UserCreate(svc userCreator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req userCreateRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		role, err := enums.ParseUserRole(req.Role)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid role"))
			return
		}

		user, err := svc.Create(r.Context(), users.CreateUserDTO{
			Name:  validators.SanitizeString(req.Name, 120),
			Email: validators.NormalizeEmail(req.Email),
			Role:  role,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, users.FromModel(user))
	}
}

// UserContributions returns a user's balance and share history.
func UserContributions(svc balanceHistoryReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := validators.ParsePathUUID(r, "userId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rng, err := parseDateRange(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		points, err := svc.UserBalanceHistory(r.Context(), userID, rng)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, points)
	}
}

func parseDateRange(r *http.Request) (ledger.DateRange, error) {
	from, err := validators.ParseQueryTime(r, "from")
	if err != nil {
		return ledger.DateRange{}, err
	}
	to, err := validators.ParseQueryTime(r, "to")
	if err != nil {
		return ledger.DateRange{}, err
	}
	return ledger.DateRange{From: from, To: to}, nil
}
