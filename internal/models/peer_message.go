package models

import "time"

// PeerMessage is one human-to-human message in an admin chat thread.
// The ID is generated before the live broadcast and reused as the primary key,
// so the id clients render optimistically is the one stored.
type PeerMessage struct {
	// ID is the UUID assigned when the message enters the channel.
	ID string `gorm:"primaryKey" json:"id"`
	// ChatID identifies the peer conversation the message belongs to.
	ChatID string `gorm:"type:text;not null;index:idx_chat_msg,priority:1" json:"chatId"`
	// SenderID is the verified user id of the author.
	SenderID string `gorm:"type:text;not null" json:"senderId"`
	// Content is the message text.
	Content string `gorm:"type:text;not null" json:"content"`
	// Read is flipped by the storefront once a recipient opened the thread.
	Read bool `gorm:"not null;default:false" json:"read"`

	CreatedAt time.Time `gorm:"index:idx_chat_msg,priority:2" json:"createdAt"`
}

// SenderSummary is the author information attached to outbound peer messages.
type SenderSummary struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}
