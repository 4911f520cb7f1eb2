package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Conversation is a user's assistant chat session.
// It is created lazily on the first join and touched after every assistant turn.
type Conversation struct {
	ID              string     `gorm:"primaryKey" json:"id"`
	UserID          string     `gorm:"type:text;not null;index:idx_user_active,priority:1" json:"userId"`
	Title           string     `json:"title,omitempty"`
	LastMessageAt   time.Time  `json:"lastMessageAt"`
	AssignedAgentID *string    `gorm:"index" json:"assignedAgentId,omitempty"`
	Active          bool       `gorm:"not null;default:true;index:idx_user_active,priority:2" json:"active"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	ClosedAt        *time.Time `json:"closedAt,omitempty"`
}

// BeforeCreate assigns a UUID and seeds LastMessageAt for new conversations.
func (c *Conversation) BeforeCreate(tx *gorm.DB) (err error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.LastMessageAt.IsZero() {
		c.LastMessageAt = time.Now()
	}
	return
}
