package models

import (
	"encoding/json"
	"time"
)

// Envelope is the frame exchanged over both websocket namespaces.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload into an envelope for event.
func NewEnvelope(event string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Event: event}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: data}, nil
}

// Decode unmarshals the envelope data into v.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return json.Unmarshal([]byte("{}"), v)
	}
	return json.Unmarshal(e.Data, v)
}

// Peer (admin) namespace events.
const (
	EventChatJoined      = "chat_joined"
	EventChatLeaved      = "chat_leaved"
	EventOnlineUsers     = "online_users"
	EventNewMessage      = "new_message"
	EventNewMessageAlert = "new_message_alert"
	EventStartTyping     = "start_typing"
	EventStopTyping      = "stop_typing"
)

// Assistant namespace events.
const (
	EventJoin           = "join"
	EventConversation   = "conversation"
	EventRecentMessages = "recent_messages"
	EventUserMessage    = "user_message"
	EventMessage        = "message"
	EventAITyping       = "ai_typing"
	EventAIMessageChunk = "ai_message_chunk"
	EventAIMessageDone  = "ai_message_done"
	EventAIError        = "ai_error"
)

// EventError is sent to a single connection when its request is rejected.
const EventError = "error"

// PresencePayload is the body of chat_joined and chat_leaved.
type PresencePayload struct {
	UserID  string   `json:"userId"`
	Members []string `json:"members"`
}

// NewMessageRequest is the inbound new_message body.
type NewMessageRequest struct {
	ChatID  string   `json:"chatId"`
	Members []string `json:"members"`
	Message string   `json:"message"`
}

// OutboundPeerMessage is the new_message body delivered to room members.
type OutboundPeerMessage struct {
	ID        string        `json:"id"`
	ChatID    string        `json:"chatId"`
	Sender    SenderSummary `json:"sender"`
	Content   string        `json:"content"`
	CreatedAt time.Time     `json:"createdAt"`
}

// MessageAlertPayload is the lightweight new_message_alert body.
type MessageAlertPayload struct {
	ChatID string `json:"chatId"`
}

// TypingPayload is the start_typing / stop_typing body. UserID is filled by
// the server on relay.
type TypingPayload struct {
	ChatID  string   `json:"chatId"`
	Members []string `json:"members,omitempty"`
	UserID  string   `json:"userId,omitempty"`
}

// JoinRequest is the assistant join body.
type JoinRequest struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId,omitempty"`
}

// ConversationPayload announces the room a join resolved to.
type ConversationPayload struct {
	ConversationID string `json:"conversationId"`
	Title          string `json:"title,omitempty"`
}

// UserMessageRequest is the assistant user_message body.
type UserMessageRequest struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// AITypingPayload is the ai_typing body.
type AITypingPayload struct {
	ConversationID string `json:"conversationId"`
}

// AIChunkPayload is the ai_message_chunk body.
type AIChunkPayload struct {
	ConversationID string `json:"conversationId"`
	Chunk          string `json:"chunk"`
}

// AIDonePayload is the ai_message_done body.
type AIDonePayload struct {
	ConversationID string `json:"conversationId"`
	FinalText      string `json:"finalText"`
}

// AIErrorPayload is the terminal ai_error body of a failed turn.
type AIErrorPayload struct {
	ConversationID string `json:"conversationId"`
	Message        string `json:"message"`
}

// ErrorPayload is the error body.
type ErrorPayload struct {
	Message string `json:"message"`
}
