package chathub_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"shopchat/backend/internal/chathub"
	"shopchat/backend/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func assistantOpts() chathub.AssistantOptions {
	opts := chathub.DefaultAssistantOptions()
	opts.ChunkSize = 4
	opts.ChunkDelay = 0
	opts.GenerationTimeout = time.Second
	return opts
}

func newAssistantHub(t *testing.T, gen chathub.Generator, opts chathub.AssistantOptions) (*chathub.ManagerService, *MockStorage) {
	t.Helper()
	store := new(MockStorage)
	hub := chathub.NewManagerService(store, gen, chathub.PeerOptions{}, opts, zerolog.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = hub.Shutdown(ctx)
	})
	return hub, store
}

// expectConversation wires the storage calls of a join and a normal turn.
func expectConversation(store *MockStorage, userID, convID string) {
	store.On("FindOrCreateConversation", mock.Anything, userID, mock.Anything).
		Return(&models.Conversation{ID: convID, UserID: userID, Title: "Support", Active: true}, nil)
	store.On("GetRecentAssistantMessages", mock.Anything, convID, mock.Anything).
		Return([]models.AssistantMessage{}, nil)
	store.On("TouchConversation", mock.Anything, convID, mock.Anything).Return(nil).Maybe()
}

func joinAssistant(t *testing.T, hub *chathub.ManagerService, userID string) *MockClient {
	t.Helper()
	c := newMockClient(userID)
	h := hub.AssistantHandler()
	h.HandleConnect(c)
	h.HandleEvent(context.Background(), c, envelope(t, models.EventJoin, models.JoinRequest{UserID: userID}))
	return c
}

func TestAssistant_JoinSendsConversationThenHistory(t *testing.T) {
	hub, store := newAssistantHub(t, &stubGenerator{reply: "x"}, assistantOpts())
	store.On("FindOrCreateConversation", mock.Anything, "u1", "").
		Return(&models.Conversation{ID: "conv1", UserID: "u1", Title: "Support"}, nil)
	uid := "u1"
	store.On("GetRecentAssistantMessages", mock.Anything, "conv1", 20).Return([]models.AssistantMessage{
		{ConversationID: "conv1", UserID: &uid, Role: models.RoleUser, Text: "hello"},
		{ConversationID: "conv1", Role: models.RoleAssistant, Text: "hi there"},
	}, nil)

	c := joinAssistant(t, hub, "u1")

	require.Equal(t, []string{models.EventConversation, models.EventRecentMessages}, c.Events())
	conv := decode[models.ConversationPayload](t, c.Envelopes()[0])
	assert.Equal(t, "conv1", conv.ConversationID)
	history := decode[[]models.AssistantMessageView](t, c.Envelopes()[1])
	require.Len(t, history, 2)
	assert.Equal(t, "hello", history[0].Text)
	assert.Equal(t, models.RoleAssistant, history[1].Role)

	assert.Equal(t, "conv1", c.GetRoomID())
	assert.Equal(t, 1, hub.Router.RoomSize("conv1"))
}

func TestAssistant_JoinRejectsForeignUserID(t *testing.T) {
	hub, store := newAssistantHub(t, &stubGenerator{reply: "x"}, assistantOpts())
	c := newMockClient("u1")

	hub.Assistant.HandleEvent(context.Background(), c, envelope(t, models.EventJoin, models.JoinRequest{UserID: "someone-else"}))

	assert.Equal(t, []string{models.EventError}, c.Events())
	assert.Empty(t, c.GetRoomID())
	store.AssertNotCalled(t, "FindOrCreateConversation", mock.Anything, mock.Anything, mock.Anything)
}

func TestAssistant_UserMessageBeforeJoin(t *testing.T) {
	hub, store := newAssistantHub(t, &stubGenerator{reply: "x"}, assistantOpts())
	c := newMockClient("u1")

	hub.Assistant.HandleEvent(context.Background(), c, envelope(t, models.EventUserMessage, models.UserMessageRequest{Text: "hi"}))

	assert.Equal(t, []string{models.EventError}, c.Events())
	store.AssertNotCalled(t, "SaveAssistantMessage", mock.Anything, mock.Anything)
}

func TestAssistant_StreamedTurn(t *testing.T) {
	reply := "Try the X200 headphones."
	gen := &stubGenerator{reply: reply}
	hub, store := newAssistantHub(t, gen, assistantOpts())
	expectConversation(store, "u1", "conv1")

	var saved []*models.AssistantMessage
	store.On("SaveAssistantMessage", mock.Anything, mock.AnythingOfType("*models.AssistantMessage")).
		Run(func(args mock.Arguments) {
			msg := args.Get(1).(*models.AssistantMessage)
			msg.ID = uint(len(saved) + 1)
			saved = append(saved, msg)
		}).
		Return(nil)

	c := joinAssistant(t, hub, "u1")
	watcher := newMockClient("u1")
	hub.Router.Join("conv1", watcher)

	hub.Assistant.HandleEvent(context.Background(), c, envelope(t, models.EventUserMessage, models.UserMessageRequest{
		Text: "headphones?", Metadata: map[string]any{"page": "/audio"},
	}))

	require.Eventually(t, func() bool { return c.has(models.EventAIMessageDone) }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, hub.Queue.Close(context.Background()))

	for _, client := range []*MockClient{c, watcher} {
		events := client.Events()
		start := indexOf(events, models.EventMessage)
		require.GreaterOrEqual(t, start, 0)
		assert.Equal(t, models.EventAITyping, events[start+1])
		assert.Equal(t, models.EventAIMessageDone, events[len(events)-1])

		var joined strings.Builder
		for _, env := range client.Of(models.EventAIMessageChunk) {
			chunk := decode[models.AIChunkPayload](t, env)
			assert.Equal(t, "conv1", chunk.ConversationID)
			joined.WriteString(chunk.Chunk)
		}
		done := decode[models.AIDonePayload](t, client.Of(models.EventAIMessageDone)[0])
		assert.Equal(t, reply, done.FinalText)
		assert.Equal(t, done.FinalText, joined.String())
	}

	require.Len(t, saved, 2)
	assert.Equal(t, models.RoleUser, saved[0].Role)
	assert.Equal(t, "headphones?", saved[0].Text)
	assert.Equal(t, "/audio", saved[0].Metadata["page"])
	assert.Equal(t, models.RoleAssistant, saved[1].Role)
	assert.Equal(t, reply, saved[1].Text)
	assert.Nil(t, saved[1].UserID)
	store.AssertCalled(t, "TouchConversation", mock.Anything, "conv1", mock.Anything)
	assert.EqualValues(t, 1, gen.calls.Load())
}

func TestAssistant_NativeStreamPassThrough(t *testing.T) {
	opts := assistantOpts()
	opts.Stream = true
	hub, store := newAssistantHub(t, &streamGenerator{deltas: []string{"Hel", "lo", "", "!"}}, opts)
	expectConversation(store, "u1", "conv1")
	store.On("SaveAssistantMessage", mock.Anything, mock.Anything).Return(nil)

	c := joinAssistant(t, hub, "u1")
	hub.Assistant.HandleEvent(context.Background(), c, envelope(t, models.EventUserMessage, models.UserMessageRequest{Text: "hi"}))

	require.Eventually(t, func() bool { return c.has(models.EventAIMessageDone) }, 2*time.Second, 5*time.Millisecond)

	var chunks []string
	for _, env := range c.Of(models.EventAIMessageChunk) {
		chunks = append(chunks, decode[models.AIChunkPayload](t, env).Chunk)
	}
	assert.Equal(t, []string{"Hel", "lo", "!"}, chunks)
	assert.Equal(t, "Hello!", decode[models.AIDonePayload](t, c.Of(models.EventAIMessageDone)[0]).FinalText)
}

func TestAssistant_GenerationFailureSendsAIError(t *testing.T) {
	hub, store := newAssistantHub(t, &stubGenerator{err: errors.New("model unavailable")}, assistantOpts())
	expectConversation(store, "u1", "conv1")
	store.On("SaveAssistantMessage", mock.Anything, mock.MatchedBy(func(m *models.AssistantMessage) bool {
		return m.Role == models.RoleUser
	})).Return(nil).Once()

	c := joinAssistant(t, hub, "u1")
	hub.Assistant.HandleEvent(context.Background(), c, envelope(t, models.EventUserMessage, models.UserMessageRequest{Text: "hi"}))

	require.Eventually(t, func() bool { return c.has(models.EventAIError) }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, hub.Queue.Close(context.Background()))

	assert.False(t, c.has(models.EventAIMessageChunk))
	assert.False(t, c.has(models.EventAIMessageDone))
	assert.Equal(t, "conv1", decode[models.AIErrorPayload](t, c.Of(models.EventAIError)[0]).ConversationID)
	store.AssertNumberOfCalls(t, "SaveAssistantMessage", 1)
	store.AssertNotCalled(t, "TouchConversation", mock.Anything, mock.Anything, mock.Anything)
}

func TestAssistant_EmptyCompletionIsAnError(t *testing.T) {
	hub, store := newAssistantHub(t, &stubGenerator{reply: "   "}, assistantOpts())
	expectConversation(store, "u1", "conv1")
	store.On("SaveAssistantMessage", mock.Anything, mock.Anything).Return(nil).Once()

	c := joinAssistant(t, hub, "u1")
	hub.Assistant.HandleEvent(context.Background(), c, envelope(t, models.EventUserMessage, models.UserMessageRequest{Text: "hi"}))

	require.Eventually(t, func() bool { return c.has(models.EventAIError) }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, c.has(models.EventAIMessageDone))
}

func TestAssistant_UserMessagePersistFailure(t *testing.T) {
	gen := &stubGenerator{reply: "x"}
	hub, store := newAssistantHub(t, gen, assistantOpts())
	expectConversation(store, "u1", "conv1")
	store.On("SaveAssistantMessage", mock.Anything, mock.Anything).Return(errors.New("db down"))

	c := joinAssistant(t, hub, "u1")
	hub.Assistant.HandleEvent(context.Background(), c, envelope(t, models.EventUserMessage, models.UserMessageRequest{Text: "hi"}))

	assert.True(t, c.has(models.EventError))
	assert.False(t, c.has(models.EventMessage))
	assert.Equal(t, 0, hub.Queue.Len())
	assert.False(t, hub.Queue.Running())
	assert.EqualValues(t, 0, gen.calls.Load())
}

func TestAssistant_GenerationsAreSerializedAcrossConversations(t *testing.T) {
	gen := newGatedGenerator()
	hub, store := newAssistantHub(t, gen, assistantOpts())
	expectConversation(store, "u1", "conv1")
	expectConversation(store, "u2", "conv2")
	store.On("SaveAssistantMessage", mock.Anything, mock.Anything).Return(nil)

	c1 := joinAssistant(t, hub, "u1")
	c2 := joinAssistant(t, hub, "u2")

	hub.Assistant.HandleEvent(context.Background(), c1, envelope(t, models.EventUserMessage, models.UserMessageRequest{Text: "first"}))
	hub.Assistant.HandleEvent(context.Background(), c2, envelope(t, models.EventUserMessage, models.UserMessageRequest{Text: "second"}))

	require.Eventually(t, func() bool { return gen.started() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, hub.Queue.Len())
	assert.False(t, c2.has(models.EventAITyping))

	gen.release <- struct{}{}
	require.Eventually(t, func() bool { return c1.has(models.EventAIMessageDone) }, time.Second, 5*time.Millisecond)

	gen.release <- struct{}{}
	require.Eventually(t, func() bool { return c2.has(models.EventAIMessageDone) }, time.Second, 5*time.Millisecond)

	gen.mu.Lock()
	defer gen.mu.Unlock()
	assert.Equal(t, 1, gen.maxInFlight)
	assert.Equal(t, []string{"first", "second"}, gen.prompts)
	assert.Equal(t, "reply to first", decode[models.AIDonePayload](t, c1.Of(models.EventAIMessageDone)[0]).FinalText)
	assert.Equal(t, "reply to second", decode[models.AIDonePayload](t, c2.Of(models.EventAIMessageDone)[0]).FinalText)
}

func TestAssistant_GenerationTimeout(t *testing.T) {
	opts := assistantOpts()
	opts.GenerationTimeout = 20 * time.Millisecond
	hub, store := newAssistantHub(t, newGatedGenerator(), opts)
	expectConversation(store, "u1", "conv1")
	store.On("SaveAssistantMessage", mock.Anything, mock.Anything).Return(nil).Once()

	c := joinAssistant(t, hub, "u1")
	hub.Assistant.HandleEvent(context.Background(), c, envelope(t, models.EventUserMessage, models.UserMessageRequest{Text: "hi"}))

	require.Eventually(t, func() bool { return c.has(models.EventAIError) }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return !hub.Queue.Running() }, time.Second, 5*time.Millisecond)
}

func TestAssistant_DisconnectLeavesRoom(t *testing.T) {
	hub, store := newAssistantHub(t, &stubGenerator{reply: "x"}, assistantOpts())
	expectConversation(store, "u1", "conv1")

	c := joinAssistant(t, hub, "u1")
	assert.Equal(t, 1, hub.Router.RoomSize("conv1"))
	assert.Equal(t, 1, hub.Connections())

	hub.AssistantHandler().HandleDisconnect(c)
	assert.Equal(t, 0, hub.Router.RoomSize("conv1"))
	assert.Equal(t, 0, hub.Connections())
}

func indexOf(events []string, event string) int {
	for i, e := range events {
		if e == event {
			return i
		}
	}
	return -1
}
