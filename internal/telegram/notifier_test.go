package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"

	"shopchat/backend/internal/localization"
	"shopchat/backend/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockUsers struct {
	mock.Mock
}

func (m *MockUsers) GetUsersByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.User), args.Error(1)
}

type recordingBot struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (b *recordingBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if b.err != nil {
		return tgbotapi.Message{}, b.err
	}
	b.sent = append(b.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func TestNotifyOffline_SendsLocalizedAlerts(t *testing.T) {
	users := new(MockUsers)
	users.On("GetUsersByIDs", mock.Anything, []string{"B", "C", "D", "A"}).Return([]models.User{
		{ID: "A", Name: "Olena"},
		{ID: "B", Name: "Taras", TelegramID: "1001", Language: "uk"},
		{ID: "C", Name: "Unlinked"},
		{ID: "D", Name: "Dana", TelegramID: "1003"},
	}, nil)
	bot := &recordingBot{}
	n := NewNotifier(bot, users, localization.Default(), zerolog.Nop())

	err := n.NotifyOffline(context.Background(), []string{"B", "C", "D"}, models.PeerMessage{
		ID: "m1", ChatID: "c1", SenderID: "A", Content: "refund for order 42?",
	})
	require.NoError(t, err)

	require.Len(t, bot.sent, 2)
	assert.Equal(t, int64(1001), bot.sent[0].ChatID)
	assert.Contains(t, bot.sent[0].Text, "Нове повідомлення від Olena")
	assert.Contains(t, bot.sent[0].Text, "refund for order 42?")
	assert.Equal(t, int64(1003), bot.sent[1].ChatID)
	assert.True(t, strings.HasPrefix(bot.sent[1].Text, "💬 New message from Olena"))
	users.AssertExpectations(t)
}

func TestNotifyOffline_Errors(t *testing.T) {
	users := new(MockUsers)
	users.On("GetUsersByIDs", mock.Anything, mock.Anything).Return([]models.User{
		{ID: "B", TelegramID: "not-a-number"},
		{ID: "C", TelegramID: "1002"},
	}, nil)
	bot := &recordingBot{err: errors.New("forbidden: bot was blocked by the user")}
	n := NewNotifier(bot, users, localization.Default(), zerolog.Nop())

	err := n.NotifyOffline(context.Background(), []string{"B", "C"}, models.PeerMessage{ChatID: "c1", SenderID: "A", Content: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad telegram id")
	assert.Contains(t, err.Error(), "blocked")
}

func TestNotifyOffline_NoRecipients(t *testing.T) {
	users := new(MockUsers)
	n := NewNotifier(&recordingBot{}, users, localization.Default(), zerolog.Nop())

	require.NoError(t, n.NotifyOffline(context.Background(), nil, models.PeerMessage{}))
	users.AssertNotCalled(t, "GetUsersByIDs", mock.Anything, mock.Anything)
}

func TestPreview(t *testing.T) {
	long := strings.Repeat("я", previewLength+10)
	got := preview(long)
	assert.Equal(t, previewLength+1, len([]rune(got)))
	assert.Equal(t, "short", preview("short"))
}
