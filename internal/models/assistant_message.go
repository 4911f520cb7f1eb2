package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Role is the author kind of an assistant chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleAgent     Role = "agent"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleAgent, RoleSystem:
		return true
	}
	return false
}

// AssistantMessage is one stored turn of an assistant conversation.
// Assistant-role rows are written once, after the streamed text is complete.
type AssistantMessage struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `gorm:"index:idx_conv_msg,priority:2" json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	ConversationID string            `gorm:"type:text;not null;index:idx_conv_msg,priority:1" json:"conversationId"`
	UserID         *string           `gorm:"type:text" json:"userId"`
	Role           Role              `gorm:"type:text;not null" json:"role"`
	Text           string            `gorm:"type:text;not null" json:"text"`
	Metadata       datatypes.JSONMap `json:"metadata,omitempty"`
}

// AssistantMessageView is the wire shape of an AssistantMessage.
type AssistantMessageView struct {
	ID             uint           `json:"id"`
	ConversationID string         `json:"conversationId"`
	UserID         *string        `json:"userId"`
	Role           Role           `json:"role"`
	Text           string         `json:"text"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// View converts the stored row into its wire shape.
func (m AssistantMessage) View() AssistantMessageView {
	return AssistantMessageView{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		UserID:         m.UserID,
		Role:           m.Role,
		Text:           m.Text,
		Metadata:       m.Metadata,
		CreatedAt:      m.CreatedAt,
	}
}

// PromptMessage is one entry of the context handed to a text generator.
type PromptMessage struct {
	Role    Role
	Content string
}

// GenerationJob is one queued request for an assistant reply.
type GenerationJob struct {
	ConversationID string
	UserID         string
	SystemPrompt   string
	UserPrompt     string
	// Context holds the recent conversation turns, oldest first.
	Context    []PromptMessage
	SocketRoom string
	Meta       map[string]any
	EnqueuedAt time.Time
}

// Prompt returns the system prompt followed by the context window.
func (j GenerationJob) Prompt() []PromptMessage {
	out := make([]PromptMessage, 0, len(j.Context)+1)
	if j.SystemPrompt != "" {
		out = append(out, PromptMessage{Role: RoleSystem, Content: j.SystemPrompt})
	}
	out = append(out, j.Context...)
	if len(j.Context) == 0 && j.UserPrompt != "" {
		out = append(out, PromptMessage{Role: RoleUser, Content: j.UserPrompt})
	}
	return out
}
