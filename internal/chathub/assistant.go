package chathub

import (
	"context"
	"errors"
	"strings"
	"time"

	"shopchat/backend/internal/config"
	"shopchat/backend/internal/metrics"
	"shopchat/backend/internal/models"
	"shopchat/backend/internal/storage"

	"github.com/rs/zerolog"
)

// NamespaceAssistant is the storefront's AI chat surface.
const NamespaceAssistant = "assistant"

const aiErrorMessage = "The assistant could not answer right now. Please try again."

// AssistantOptions tunes the assistant channel.
type AssistantOptions struct {
	SystemPrompt      string
	RecentLimit       int
	ContextWindow     int
	MaxTokens         int
	ChunkSize         int
	ChunkDelay        time.Duration
	GenerationTimeout time.Duration
	PersistTimeout    time.Duration
	// Stream forwards backend deltas as they arrive when the generator can stream.
	Stream bool
}

// DefaultAssistantOptions returns the built-in assistant tuning.
func DefaultAssistantOptions() AssistantOptions {
	return AssistantOptions{
		SystemPrompt:      config.DefaultSystemPrompt,
		RecentLimit:       config.RecentMessagesLimit,
		ContextWindow:     config.ContextWindowSize,
		MaxTokens:         config.DefaultMaxTokens,
		ChunkSize:         config.DefaultChunkSize,
		ChunkDelay:        config.DefaultChunkDelay,
		GenerationTimeout: config.GenerationTimeout,
		PersistTimeout:    config.PersistTimeout,
	}
}

// AssistantOptionsFromConfig maps the runtime config onto AssistantOptions.
func AssistantOptionsFromConfig(cfg *config.Config) AssistantOptions {
	return AssistantOptions{
		SystemPrompt:      cfg.SystemPrompt,
		RecentLimit:       cfg.RecentMessagesLimit,
		ContextWindow:     cfg.ContextWindow,
		MaxTokens:         cfg.MaxTokens,
		ChunkSize:         cfg.ChunkSize,
		ChunkDelay:        cfg.ChunkDelay,
		GenerationTimeout: cfg.GenerationTimeout,
		PersistTimeout:    cfg.PersistTimeout,
		Stream:            cfg.OpenAIStream,
	}
}

// AssistantChannel handles the assistant namespace: conversation rooms, user
// turns and the streamed replies produced by the generation queue.
type AssistantChannel struct {
	router    *Router
	storage   storage.Storage
	queue     *GenerationQueue
	generator Generator
	opts      AssistantOptions
	log       zerolog.Logger
}

// NewAssistantChannel wires the channel and installs it as the queue consumer.
func NewAssistantChannel(router *Router, s storage.Storage, queue *GenerationQueue, gen Generator, opts AssistantOptions, log zerolog.Logger) *AssistantChannel {
	def := DefaultAssistantOptions()
	if opts.RecentLimit <= 0 {
		opts.RecentLimit = def.RecentLimit
	}
	if opts.ContextWindow <= 0 {
		opts.ContextWindow = def.ContextWindow
	}
	if opts.GenerationTimeout <= 0 {
		opts.GenerationTimeout = def.GenerationTimeout
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = def.PersistTimeout
	}
	if gen == nil {
		gen = CannedGenerator{}
	}

	a := &AssistantChannel{
		router:    router,
		storage:   s,
		queue:     queue,
		generator: gen,
		opts:      opts,
		log:       log.With().Str("component", "assistant-channel").Logger(),
	}
	queue.SetProcessFunc(a.Process)
	return a
}

// HandleConnect counts the connection. Rooms are joined through the join event.
func (a *AssistantChannel) HandleConnect(c Client) {
	metrics.RecordConnect(NamespaceAssistant)
}

// HandleDisconnect removes the connection from every room it joined.
func (a *AssistantChannel) HandleDisconnect(c Client) {
	a.router.LeaveAll(c)
	metrics.RecordDisconnect(NamespaceAssistant)
}

// HandleEvent dispatches one inbound event.
func (a *AssistantChannel) HandleEvent(ctx context.Context, c Client, env models.Envelope) {
	switch env.Event {
	case models.EventJoin:
		a.handleJoin(ctx, c, env)
	case models.EventUserMessage:
		a.handleUserMessage(ctx, c, env)
	default:
		replyError(a.router, c, "unknown event "+env.Event)
	}
}

func (a *AssistantChannel) handleJoin(ctx context.Context, c Client, env models.Envelope) {
	var req models.JoinRequest
	if err := env.Decode(&req); err != nil {
		replyError(a.router, c, "invalid join payload")
		return
	}
	userID := c.GetUserID()
	if req.UserID != "" && req.UserID != userID {
		replyError(a.router, c, "userId does not match the authenticated user")
		return
	}

	conv, err := a.storage.FindOrCreateConversation(ctx, userID, req.ConversationID)
	if err != nil {
		a.log.Error().Err(err).Str("user_id", userID).Msg("failed to resolve conversation")
		replyError(a.router, c, "could not open a conversation")
		return
	}

	if prev := c.GetRoomID(); prev != "" && prev != conv.ID {
		a.router.Leave(prev, c)
	}
	a.router.Join(conv.ID, c)
	c.SetRoomID(conv.ID)

	recent, err := a.storage.GetRecentAssistantMessages(ctx, conv.ID, a.opts.RecentLimit)
	if err != nil {
		a.log.Error().Err(err).Str("conversation_id", conv.ID).Msg("failed to load recent messages")
		recent = nil
	}
	views := make([]models.AssistantMessageView, 0, len(recent))
	for _, m := range recent {
		views = append(views, m.View())
	}

	self := []Client{c}
	a.router.Deliver(models.EventConversation, models.ConversationPayload{ConversationID: conv.ID, Title: conv.Title}, self)
	a.router.Deliver(models.EventRecentMessages, views, self)
}

func (a *AssistantChannel) handleUserMessage(ctx context.Context, c Client, env models.Envelope) {
	convID := c.GetRoomID()
	if convID == "" {
		replyError(a.router, c, "join a conversation first")
		return
	}
	var req models.UserMessageRequest
	if err := env.Decode(&req); err != nil {
		replyError(a.router, c, "invalid user_message payload")
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		replyError(a.router, c, "message is empty")
		return
	}

	userID := c.GetUserID()
	msg := &models.AssistantMessage{
		ConversationID: convID,
		UserID:         &userID,
		Role:           models.RoleUser,
		Text:           text,
		Metadata:       req.Metadata,
	}
	if err := a.save(ctx, msg); err != nil {
		replyError(a.router, c, "message could not be saved")
		return
	}
	a.router.Broadcast(convID, models.EventMessage, msg.View())

	window, err := a.storage.GetRecentAssistantMessages(ctx, convID, a.opts.ContextWindow)
	if err != nil {
		a.log.Warn().Err(err).Str("conversation_id", convID).Msg("context window unavailable, using the latest turn only")
		window = []models.AssistantMessage{*msg}
	}

	job := models.GenerationJob{
		ConversationID: convID,
		UserID:         userID,
		SystemPrompt:   a.opts.SystemPrompt,
		UserPrompt:     text,
		Context:        promptContext(window),
		SocketRoom:     convID,
		Meta:           req.Metadata,
	}
	if err := a.queue.Enqueue(job); err != nil {
		a.log.Warn().Err(err).Str("conversation_id", convID).Msg("generation not queued")
		a.router.Deliver(models.EventAIError, models.AIErrorPayload{ConversationID: convID, Message: aiErrorMessage}, []Client{c})
	}
}

// Process runs one generation job: it streams the reply into the job's room,
// then stores it. A failed generation ends the turn with ai_error and stores nothing.
func (a *AssistantChannel) Process(ctx context.Context, job models.GenerationJob) error {
	room := job.SocketRoom
	if room == "" {
		room = job.ConversationID
	}
	log := a.log.With().Str("conversation_id", job.ConversationID).Logger()

	a.router.Broadcast(room, models.EventAITyping, models.AITypingPayload{ConversationID: job.ConversationID})

	genCtx, cancel := context.WithTimeout(ctx, a.opts.GenerationTimeout)
	final, err := a.generate(genCtx, job, room)
	cancel()
	if err == nil && strings.TrimSpace(final) == "" {
		err = ErrEmptyCompletion
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warn().Dur("timeout", a.opts.GenerationTimeout).Msg("generation timed out")
		} else {
			log.Error().Err(err).Msg("generation failed")
		}
		a.router.Broadcast(room, models.EventAIError, models.AIErrorPayload{ConversationID: job.ConversationID, Message: aiErrorMessage})
		return err
	}

	a.router.Broadcast(room, models.EventAIMessageDone, models.AIDonePayload{ConversationID: job.ConversationID, FinalText: final})

	reply := &models.AssistantMessage{
		ConversationID: job.ConversationID,
		Role:           models.RoleAssistant,
		Text:           final,
	}
	if err := a.save(ctx, reply); err != nil {
		return err
	}

	touchCtx, cancelTouch := context.WithTimeout(context.WithoutCancel(ctx), a.opts.PersistTimeout)
	defer cancelTouch()
	if err := a.storage.TouchConversation(touchCtx, job.ConversationID, reply.CreatedAt); err != nil {
		log.Warn().Err(err).Msg("failed to update conversation activity")
	}
	return nil
}

// generate produces the reply, emitting ai_message_chunk events as it goes.
// The returned text is exactly the concatenation of the emitted chunks.
func (a *AssistantChannel) generate(ctx context.Context, job models.GenerationJob, room string) (string, error) {
	var out strings.Builder
	emit := func(chunk string) {
		out.WriteString(chunk)
		metrics.StreamedChunks.Inc()
		a.router.Broadcast(room, models.EventAIMessageChunk, models.AIChunkPayload{ConversationID: job.ConversationID, Chunk: chunk})
	}

	prompt := job.Prompt()
	if sg, ok := a.generator.(StreamGenerator); ok && a.opts.Stream {
		_, err := sg.StreamText(ctx, prompt, a.opts.MaxTokens, func(delta string) error {
			if delta != "" {
				emit(delta)
			}
			return nil
		})
		if err != nil {
			return "", err
		}
		return out.String(), nil
	}

	text, err := a.generator.GenerateText(ctx, prompt, a.opts.MaxTokens)
	if err != nil {
		return "", err
	}
	for i, chunk := range ChunkText(text, a.opts.ChunkSize) {
		if i > 0 && a.opts.ChunkDelay > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(a.opts.ChunkDelay):
			}
		}
		emit(chunk)
	}
	return out.String(), nil
}

func (a *AssistantChannel) save(ctx context.Context, msg *models.AssistantMessage) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.opts.PersistTimeout)
	defer cancel()
	if err := a.storage.SaveAssistantMessage(ctx, msg); err != nil {
		metrics.PersistFailures.WithLabelValues(NamespaceAssistant).Inc()
		a.log.Error().Err(err).Str("conversation_id", msg.ConversationID).Str("role", string(msg.Role)).Msg("failed to persist assistant message")
		return err
	}
	return nil
}

func promptContext(window []models.AssistantMessage) []models.PromptMessage {
	out := make([]models.PromptMessage, 0, len(window))
	for _, m := range window {
		role := m.Role
		// Human agents speak for the store, so the model sees them as itself.
		if role == models.RoleAgent {
			role = models.RoleAssistant
		}
		if !role.Valid() || role == models.RoleSystem {
			continue
		}
		out = append(out, models.PromptMessage{Role: role, Content: m.Text})
	}
	return out
}
