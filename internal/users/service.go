package users

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/evpool/evpool-backend/pkg/db"
	"github.com/evpool/evpool-backend/pkg/db/models"
	"github.com/evpool/evpool-backend/pkg/enums"
	pkgerrors "github.com/evpool/evpool-backend/pkg/errors"
	"github.com/evpool/evpool-backend/pkg/logger"
)

// Service registers pool members and resolves the company account.
type Service struct {
	repo            *Repository
	logg            *logger.Logger
	companyOverride uuid.UUID
}

// NewService wires the users service. companyUserID may be uuid.Nil, in which
// case the oldest user with the company role is used.
func NewService(repo *Repository, logg *logger.Logger, companyUserID uuid.UUID) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("users repository required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{repo: repo, logg: logg, companyOverride: companyUserID}, nil
}

// Create validates and stores a new user.
func (s *Service) Create(ctx context.Context, dto CreateUserDTO) (*models.User, error) {
	if strings.TrimSpace(dto.Name) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "name is required")
	}
	if _, err := mail.ParseAddress(strings.TrimSpace(dto.Email)); err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "email is invalid")
	}
	if !dto.Role.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid role %q", dto.Role)
	}

	user, err := s.repo.Create(ctx, dto)
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "email already registered")
		}
		return nil, pkgerrors.WrapStore(err, "create user")
	}
	s.logg.Info(s.logg.WithUserID(ctx, user.ID.String()), "user created")
	return user, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.WrapStore(err, "user not found")
	}
	return user, nil
}

// CompanyUser resolves the account that receives sale commissions. tx may be
// nil outside a transaction.
func (s *Service) CompanyUser(ctx context.Context, tx *gorm.DB) (*models.User, error) {
	repo := s.repo.WithTx(tx)
	var (
		user *models.User
		err  error
	)
	if s.companyOverride != uuid.Nil {
		user, err = repo.FindByID(ctx, s.companyOverride)
	} else {
		user, err = repo.FindOldestByRole(ctx, enums.UserRoleCompany)
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "no company user configured")
	}
	if err != nil {
		return nil, pkgerrors.WrapStore(err, "load company user")
	}
	if user.Role != enums.UserRoleCompany {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "user %s is not a company account", user.ID)
	}
	return user, nil
}
