package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/evpool/evpool-backend/pkg/enums"
)

// User is an investor, the company account, or a back-office operator.
type User struct {
	ID                      uuid.UUID      `gorm:"column:id;type:uuid;primaryKey"`
	Name                    string         `gorm:"column:name;not null"`
	Email                   string         `gorm:"column:email;type:text;not null;uniqueIndex"`
	Role                    enums.UserRole `gorm:"column:role;type:varchar(16);not null"`
	ActualContributionCents int64          `gorm:"column:actual_contribution_cents;not null;default:0"`
	CreatedAt               time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt               time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

// BeforeCreate assigns an id when the caller did not.
func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
