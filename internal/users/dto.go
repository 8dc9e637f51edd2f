package users

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/evpool/evpool-backend/pkg/db/models"
	"github.com/evpool/evpool-backend/pkg/enums"
)

// UserDTO is the transport shape of a pool member.
type UserDTO struct {
	ID                      uuid.UUID      `json:"id"`
	Name                    string         `json:"name"`
	Email                   string         `json:"email"`
	Role                    enums.UserRole `json:"role"`
	ActualContributionCents int64          `json:"actual_contribution_cents"`
	CreatedAt               time.Time      `json:"created_at"`
	UpdatedAt               time.Time      `json:"updated_at"`
}

// CreateUserDTO holds the data required by the repo to persist a new user.
type CreateUserDTO struct {
	ID        uuid.UUID
	Name      string
	Email     string
	Role      enums.UserRole
	CreatedAt *time.Time
}

func FromModel(u *models.User) *UserDTO {
	if u == nil {
		return nil
	}
	return &UserDTO{
		ID:                      u.ID,
		Name:                    u.Name,
		Email:                   u.Email,
		Role:                    u.Role,
		ActualContributionCents: u.ActualContributionCents,
		CreatedAt:               u.CreatedAt,
		UpdatedAt:               u.UpdatedAt,
	}
}

func (c CreateUserDTO) ToModel() *models.User {
	user := &models.User{
		ID:    c.ID,
		Name:  strings.TrimSpace(c.Name),
		Email: strings.ToLower(strings.TrimSpace(c.Email)),
		Role:  c.Role,
	}
	if c.CreatedAt != nil {
		user.CreatedAt = c.CreatedAt.UTC()
		user.UpdatedAt = user.CreatedAt
	}
	return user
}
