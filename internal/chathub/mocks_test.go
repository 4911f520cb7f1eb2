package chathub_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"shopchat/backend/internal/models"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockStorage is a testify mock of storage.Storage.
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) SavePeerMessage(ctx context.Context, msg *models.PeerMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockStorage) GetPeerHistory(ctx context.Context, chatID string, limit int) ([]models.PeerMessage, error) {
	args := m.Called(ctx, chatID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.PeerMessage), args.Error(1)
}

func (m *MockStorage) FindOrCreateConversation(ctx context.Context, userID, conversationID string) (*models.Conversation, error) {
	args := m.Called(ctx, userID, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Conversation), args.Error(1)
}

func (m *MockStorage) TouchConversation(ctx context.Context, conversationID string, at time.Time) error {
	args := m.Called(ctx, conversationID, at)
	return args.Error(0)
}

func (m *MockStorage) SaveAssistantMessage(ctx context.Context, msg *models.AssistantMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockStorage) GetRecentAssistantMessages(ctx context.Context, conversationID string, limit int) ([]models.AssistantMessage, error) {
	args := m.Called(ctx, conversationID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.AssistantMessage), args.Error(1)
}

func (m *MockStorage) GetUsersByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.User), args.Error(1)
}

func (m *MockStorage) IsUserBanned(ctx context.Context, userID string) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockStorage) SetUserOnline(ctx context.Context, userID string, online bool) error {
	args := m.Called(ctx, userID, online)
	return args.Error(0)
}

var connSeq atomic.Int64

// MockClient records every envelope it is sent.
type MockClient struct {
	id     string
	userID string
	name   string

	mu       sync.Mutex
	roomID   string
	received []models.Envelope
	closed   bool
	full     bool
}

func newMockClient(userID string) *MockClient {
	return &MockClient{
		id:     fmt.Sprintf("%s-conn-%d", userID, connSeq.Add(1)),
		userID: userID,
		name:   "Name " + userID,
	}
}

func (c *MockClient) GetID() string     { return c.id }
func (c *MockClient) GetUserID() string { return c.userID }
func (c *MockClient) GetName() string   { return c.name }

func (c *MockClient) GetRoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

func (c *MockClient) SetRoomID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomID = id
}

func (c *MockClient) Send(env models.Envelope) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.full {
		return false
	}
	c.received = append(c.received, env)
	return true
}

func (c *MockClient) Run() {}

func (c *MockClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *MockClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Envelopes returns a copy of everything received so far.
func (c *MockClient) Envelopes() []models.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Envelope(nil), c.received...)
}

// Events returns the received event names in order.
func (c *MockClient) Events() []string {
	envs := c.Envelopes()
	out := make([]string, 0, len(envs))
	for _, e := range envs {
		out = append(out, e.Event)
	}
	return out
}

// Of returns the received envelopes with the given event name.
func (c *MockClient) Of(event string) []models.Envelope {
	var out []models.Envelope
	for _, e := range c.Envelopes() {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func (c *MockClient) has(event string) bool {
	return len(c.Of(event)) > 0
}

func envelope(t *testing.T, event string, payload any) models.Envelope {
	t.Helper()
	env, err := models.NewEnvelope(event, payload)
	require.NoError(t, err)
	return env
}

func decode[T any](t *testing.T, env models.Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

// stubGenerator returns a fixed reply or error.
type stubGenerator struct {
	reply string
	err   error
	calls atomic.Int32
}

func (g *stubGenerator) GenerateText(ctx context.Context, _ []models.PromptMessage, _ int) (string, error) {
	g.calls.Add(1)
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

// streamGenerator emits fixed deltas through the streaming path.
type streamGenerator struct {
	deltas []string
}

func (g *streamGenerator) GenerateText(ctx context.Context, _ []models.PromptMessage, _ int) (string, error) {
	out := ""
	for _, d := range g.deltas {
		out += d
	}
	return out, nil
}

func (g *streamGenerator) StreamText(ctx context.Context, _ []models.PromptMessage, _ int, onDelta func(string) error) (string, error) {
	out := ""
	for _, d := range g.deltas {
		if err := onDelta(d); err != nil {
			return "", err
		}
		out += d
	}
	return out, nil
}

// gatedGenerator blocks each call until released and tracks concurrency.
type gatedGenerator struct {
	release chan struct{}

	mu          sync.Mutex
	inFlight    int
	maxInFlight int
	prompts     []string
}

func newGatedGenerator() *gatedGenerator {
	return &gatedGenerator{release: make(chan struct{}, 16)}
}

func (g *gatedGenerator) GenerateText(ctx context.Context, msgs []models.PromptMessage, _ int) (string, error) {
	g.mu.Lock()
	g.inFlight++
	if g.inFlight > g.maxInFlight {
		g.maxInFlight = g.inFlight
	}
	if len(msgs) > 0 {
		g.prompts = append(g.prompts, msgs[len(msgs)-1].Content)
	}
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.inFlight--
		g.mu.Unlock()
	}()

	select {
	case <-g.release:
		return "reply to " + msgs[len(msgs)-1].Content, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (g *gatedGenerator) started() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}
