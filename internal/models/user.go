package models

import (
	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// User is the slice of the storefront account the chat layer needs: a display
// name for sender summaries, roles for the admin console, and an optional
// Telegram chat for offline alerts.
type User struct {
	ID         string         `gorm:"primaryKey" json:"id"`
	Name       string         `json:"name"`
	Email      string         `gorm:"index" json:"email,omitempty"`
	Roles      pq.StringArray `gorm:"type:text[]" json:"roles,omitempty"`
	TelegramID string         `gorm:"index" json:"-"` // empty when alerts are not linked
	Language   string         `gorm:"default:en" json:"language,omitempty"`
}

// BeforeCreate generates a UUID for the user when the ID is not set yet.
func (u *User) BeforeCreate(tx *gorm.DB) (err error) {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return
}

// HasRole reports whether the user carries the given role.
func (u *User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}
