package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shopchat/backend/internal/models"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const (
	banKeyPrefix     = "ban:"
	onlineUsersKey   = "online_users"
	defaultPeerLimit = 50
)

var (
	// ErrConversationNotFound is returned when a conversation id does not exist.
	ErrConversationNotFound = errors.New("conversation not found")
)

// Storage is the durable side of the chat layer: an append-only message log,
// conversation metadata, and a few Redis-backed flags.
type Storage interface {
	SavePeerMessage(ctx context.Context, msg *models.PeerMessage) error
	GetPeerHistory(ctx context.Context, chatID string, limit int) ([]models.PeerMessage, error)

	FindOrCreateConversation(ctx context.Context, userID, conversationID string) (*models.Conversation, error)
	TouchConversation(ctx context.Context, conversationID string, at time.Time) error
	SaveAssistantMessage(ctx context.Context, msg *models.AssistantMessage) error
	GetRecentAssistantMessages(ctx context.Context, conversationID string, limit int) ([]models.AssistantMessage, error)

	GetUsersByIDs(ctx context.Context, ids []string) ([]models.User, error)
	IsUserBanned(ctx context.Context, userID string) (bool, error)
	SetUserOnline(ctx context.Context, userID string, online bool) error
}

// Service implements Storage on PostgreSQL (gorm) and Redis.
// Redis may be nil, in which case ban checks pass and presence is not mirrored.
type Service struct {
	DB    *gorm.DB
	Redis *redis.Client
}

// NewStorageService Constructor
func NewStorageService(db *gorm.DB, rdb *redis.Client) *Service {
	return &Service{
		DB:    db,
		Redis: rdb,
	}
}

// Migrate creates or updates the chat tables.
func (s *Service) Migrate() error {
	return s.DB.AutoMigrate(
		&models.User{},
		&models.PeerMessage{},
		&models.Conversation{},
		&models.AssistantMessage{},
	)
}

// SavePeerMessage appends a peer message. The message keeps the id it was broadcast with.
func (s *Service) SavePeerMessage(ctx context.Context, msg *models.PeerMessage) error {
	if err := s.DB.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("save peer message %s: %w", msg.ID, err)
	}
	return nil
}

// GetPeerHistory returns the latest limit messages of a peer chat, oldest first.
func (s *Service) GetPeerHistory(ctx context.Context, chatID string, limit int) ([]models.PeerMessage, error) {
	if limit <= 0 {
		limit = defaultPeerLimit
	}
	var history []models.PeerMessage
	err := s.DB.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at desc").
		Limit(limit).
		Find(&history).Error
	if err != nil {
		return nil, fmt.Errorf("get peer history for %s: %w", chatID, err)
	}
	reverse(history)
	return history, nil
}

// FindOrCreateConversation resolves the conversation a user joins: the requested
// id when it exists and belongs to the user, otherwise the user's latest active
// conversation, otherwise a fresh one.
func (s *Service) FindOrCreateConversation(ctx context.Context, userID, conversationID string) (*models.Conversation, error) {
	db := s.DB.WithContext(ctx)

	if conversationID != "" {
		var conv models.Conversation
		err := db.Where("id = ? AND user_id = ?", conversationID, userID).First(&conv).Error
		if err == nil {
			return &conv, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("find conversation %s: %w", conversationID, err)
		}
	}

	var conv models.Conversation
	err := db.Where("user_id = ? AND active = ?", userID, true).
		Order("last_message_at desc").
		First(&conv).Error
	if err == nil {
		return &conv, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("find active conversation for %s: %w", userID, err)
	}

	conv = models.Conversation{UserID: userID, Active: true}
	if err := db.Create(&conv).Error; err != nil {
		return nil, fmt.Errorf("create conversation for %s: %w", userID, err)
	}
	return &conv, nil
}

// TouchConversation sets lastMessageAt after an assistant turn.
func (s *Service) TouchConversation(ctx context.Context, conversationID string, at time.Time) error {
	res := s.DB.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", conversationID).
		Update("last_message_at", at)
	if res.Error != nil {
		return fmt.Errorf("touch conversation %s: %w", conversationID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// SaveAssistantMessage appends one assistant chat turn.
func (s *Service) SaveAssistantMessage(ctx context.Context, msg *models.AssistantMessage) error {
	if !msg.Role.Valid() {
		return fmt.Errorf("save assistant message: invalid role %q", msg.Role)
	}
	if err := s.DB.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("save assistant message for %s: %w", msg.ConversationID, err)
	}
	return nil
}

// GetRecentAssistantMessages returns at most limit of the newest messages, oldest first.
func (s *Service) GetRecentAssistantMessages(ctx context.Context, conversationID string, limit int) ([]models.AssistantMessage, error) {
	var msgs []models.AssistantMessage
	err := s.DB.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at desc").
		Order("id desc").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("get recent messages for %s: %w", conversationID, err)
	}
	reverse(msgs)
	return msgs, nil
}

// SaveUser upserts a user record.
func (s *Service) SaveUser(ctx context.Context, user *models.User) error {
	return s.DB.WithContext(ctx).Save(user).Error
}

// GetUsersByIDs loads the users with the given ids; unknown ids are skipped.
func (s *Service) GetUsersByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var users []models.User
	if err := s.DB.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("get users: %w", err)
	}
	return users, nil
}

// AssignAgent hands a conversation over to a human agent.
func (s *Service) AssignAgent(ctx context.Context, conversationID, agentID string) error {
	res := s.DB.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", conversationID).
		Update("assigned_agent_id", agentID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// CloseConversation deactivates a conversation so the next join starts a new one.
func (s *Service) CloseConversation(ctx context.Context, conversationID string) error {
	res := s.DB.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", conversationID).
		Updates(map[string]interface{}{
			"active":    false,
			"closed_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// IsUserBanned checks the ban flag in Redis.
func (s *Service) IsUserBanned(ctx context.Context, userID string) (bool, error) {
	if s.Redis == nil {
		return false, nil
	}
	status, err := s.Redis.Get(ctx, banKeyPrefix+userID).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return status != "", nil
}

// BanUser sets the ban flag. A zero duration bans until UnbanUser is called.
func (s *Service) BanUser(ctx context.Context, userID string, d time.Duration) error {
	if s.Redis == nil {
		return errors.New("redis is not configured")
	}
	return s.Redis.Set(ctx, banKeyPrefix+userID, "banned", d).Err()
}

// UnbanUser clears the ban flag.
func (s *Service) UnbanUser(ctx context.Context, userID string) error {
	if s.Redis == nil {
		return errors.New("redis is not configured")
	}
	return s.Redis.Del(ctx, banKeyPrefix+userID).Err()
}

// SetUserOnline mirrors presence changes into the online_users set.
func (s *Service) SetUserOnline(ctx context.Context, userID string, online bool) error {
	if s.Redis == nil {
		return nil
	}
	if online {
		return s.Redis.SAdd(ctx, onlineUsersKey, userID).Err()
	}
	return s.Redis.SRem(ctx, onlineUsersKey, userID).Err()
}

// GetOnlineUsers reads the mirrored presence set.
func (s *Service) GetOnlineUsers(ctx context.Context) ([]string, error) {
	if s.Redis == nil {
		return nil, errors.New("redis is not configured")
	}
	return s.Redis.SMembers(ctx, onlineUsersKey).Result()
}

func reverse[T any](msgs []T) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
