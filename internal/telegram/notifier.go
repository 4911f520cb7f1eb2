// Package telegram sends offline alerts through the Telegram Bot API to admin
// users whose account is linked to a Telegram chat.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"unicode/utf8"

	"shopchat/backend/internal/localization"
	"shopchat/backend/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

const previewLength = 200

// Sender is the part of tgbotapi.BotAPI the notifier uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// UserLookup resolves user records for alert routing.
type UserLookup interface {
	GetUsersByIDs(ctx context.Context, ids []string) ([]models.User, error)
}

// Notifier alerts peer chat members who were offline when a message arrived.
type Notifier struct {
	bot       Sender
	users     UserLookup
	localizer *localization.Localizer
	log       zerolog.Logger
}

// NewNotifier creates a Notifier on top of an existing bot client.
func NewNotifier(bot Sender, users UserLookup, localizer *localization.Localizer, log zerolog.Logger) *Notifier {
	return &Notifier{
		bot:       bot,
		users:     users,
		localizer: localizer,
		log:       log.With().Str("component", "telegram-notifier").Logger(),
	}
}

// NewBotNotifier authorizes against the Bot API with token.
func NewBotNotifier(token string, users UserLookup, localizer *localization.Localizer, log zerolog.Logger) (*Notifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("authorize telegram bot: %w", err)
	}
	bot.Debug = false
	log.Info().Str("account", bot.Self.UserName).Msg("telegram bot authorized")
	return NewNotifier(bot, users, localizer, log), nil
}

// NotifyOffline sends one alert per recipient with a linked Telegram chat.
// Recipients without one are skipped silently.
func (n *Notifier) NotifyOffline(ctx context.Context, userIDs []string, msg models.PeerMessage) error {
	if len(userIDs) == 0 {
		return nil
	}
	ids := append(append(make([]string, 0, len(userIDs)+1), userIDs...), msg.SenderID)
	users, err := n.users.GetUsersByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("load alert recipients: %w", err)
	}

	byID := make(map[string]models.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	var errs []error
	for _, id := range userIDs {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		user, ok := byID[id]
		if !ok || user.TelegramID == "" {
			continue
		}
		chatID, err := strconv.ParseInt(user.TelegramID, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("user %s: bad telegram id %q", id, user.TelegramID))
			continue
		}

		lang := user.Language
		if lang == "" {
			lang = localization.DefaultLanguage
		}
		sender := n.localizer.GetString(lang, "unknown_sender")
		if s, ok := byID[msg.SenderID]; ok && s.Name != "" {
			sender = s.Name
		}

		text := n.localizer.Format(lang, "offline_alert", sender, msg.ChatID, preview(msg.Content)) +
			"\n\n" + n.localizer.GetString(lang, "offline_alert_open")
		if _, err := n.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
			errs = append(errs, fmt.Errorf("alert %s: %w", id, err))
			continue
		}
		n.log.Debug().Str("user_id", id).Str("chat_id", msg.ChatID).Msg("offline alert sent")
	}
	return errors.Join(errs...)
}

func preview(s string) string {
	if utf8.RuneCountInString(s) <= previewLength {
		return s
	}
	return string([]rune(s)[:previewLength]) + "…"
}
