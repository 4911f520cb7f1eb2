package chathub

import (
	"context"
	"strings"
	"sync"
	"time"

	"shopchat/backend/internal/config"
	"shopchat/backend/internal/metrics"
	"shopchat/backend/internal/models"
	"shopchat/backend/internal/storage"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// NamespacePeer is the admin console's human-to-human chat surface.
const NamespacePeer = "admin"

// PeerOptions tunes the peer channel.
type PeerOptions struct {
	// PersistBeforeBroadcast stores a message before anyone sees it. When false
	// the live broadcast goes first and the write happens in the background.
	PersistBeforeBroadcast bool
	PersistTimeout         time.Duration
}

// OfflineNotifier is told about message recipients that had no live connection.
type OfflineNotifier interface {
	NotifyOffline(ctx context.Context, userIDs []string, msg models.PeerMessage) error
}

// PeerChannel handles the admin namespace: presence, messages and typing relays.
type PeerChannel struct {
	registry *Registry
	presence *Presence
	router   *Router
	storage  storage.Storage
	notifier OfflineNotifier
	opts     PeerOptions
	log      zerolog.Logger

	wg    sync.WaitGroup
	newID func() string
	now   func() time.Time
}

// NewPeerChannel wires the peer channel to its collaborators.
func NewPeerChannel(registry *Registry, presence *Presence, router *Router, s storage.Storage, opts PeerOptions, log zerolog.Logger) *PeerChannel {
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = config.PersistTimeout
	}
	return &PeerChannel{
		registry: registry,
		presence: presence,
		router:   router,
		storage:  s,
		opts:     opts,
		log:      log.With().Str("component", "peer-channel").Logger(),
		newID:    uuid.NewString,
		now:      time.Now,
	}
}

// SetNotifier installs the offline notifier. Nil disables alerts.
func (p *PeerChannel) SetNotifier(n OfflineNotifier) {
	p.notifier = n
}

// HandleConnect registers the connection under its user id and closes the
// connection it replaces.
func (p *PeerChannel) HandleConnect(c Client) {
	metrics.RecordConnect(NamespacePeer)
	if prev := p.registry.Register(c.GetUserID(), c); prev != nil && prev.GetID() != c.GetID() {
		p.log.Debug().Str("user_id", c.GetUserID()).Str("replaced_conn", prev.GetID()).Msg("connection superseded")
		prev.Close()
	}
}

// HandleEvent dispatches one inbound event.
func (p *PeerChannel) HandleEvent(ctx context.Context, c Client, env models.Envelope) {
	switch env.Event {
	case models.EventChatJoined:
		p.handlePresence(ctx, c, env, true)
	case models.EventChatLeaved:
		p.handlePresence(ctx, c, env, false)
	case models.EventNewMessage:
		p.handleNewMessage(ctx, c, env)
	case models.EventStartTyping, models.EventStopTyping:
		p.handleTyping(c, env)
	default:
		replyError(p.router, c, "unknown event "+env.Event)
	}
}

// HandleDisconnect drops the connection and announces the user as offline to
// every connected peer. A superseded connection closing late changes nothing.
func (p *PeerChannel) HandleDisconnect(c Client) {
	metrics.RecordDisconnect(NamespacePeer)
	userID := c.GetUserID()
	if !p.registry.UnregisterClient(userID, c) {
		return
	}
	snapshot := p.presence.Remove(userID)
	p.mirrorPresence(userID, false)
	p.router.Deliver(models.EventOnlineUsers, snapshot, p.registry.All())
}

func (p *PeerChannel) handlePresence(ctx context.Context, c Client, env models.Envelope, online bool) {
	var req models.PresencePayload
	if err := env.Decode(&req); err != nil {
		replyError(p.router, c, "invalid "+env.Event+" payload")
		return
	}
	userID := c.GetUserID()
	if req.UserID != "" && req.UserID != userID {
		p.log.Warn().Str("claimed", req.UserID).Str("user_id", userID).Msg("presence payload names another user")
	}

	var snapshot []string
	if online {
		snapshot = p.presence.Add(userID)
	} else {
		snapshot = p.presence.Remove(userID)
	}
	p.mirrorPresence(userID, online)
	p.router.Deliver(models.EventOnlineUsers, snapshot, p.registry.Resolve(MembersOf(req.Members)))
}

func (p *PeerChannel) handleNewMessage(ctx context.Context, c Client, env models.Envelope) {
	var req models.NewMessageRequest
	if err := env.Decode(&req); err != nil {
		replyError(p.router, c, "invalid new_message payload")
		return
	}
	if strings.TrimSpace(req.ChatID) == "" {
		replyError(p.router, c, "chatId is required")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		replyError(p.router, c, "message is empty")
		return
	}

	msg := models.PeerMessage{
		ID:        p.newID(),
		ChatID:    req.ChatID,
		SenderID:  c.GetUserID(),
		Content:   req.Message,
		CreatedAt: p.now(),
	}

	if p.opts.PersistBeforeBroadcast {
		if err := p.persist(ctx, msg); err != nil {
			replyError(p.router, c, "message could not be saved")
			return
		}
		p.broadcast(c, req.Members, msg)
		return
	}

	// The live broadcast is never retracted if the background write fails.
	p.broadcast(c, req.Members, msg)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		_ = p.persist(context.Background(), msg)
	}()
}

func (p *PeerChannel) broadcast(sender Client, members []string, msg models.PeerMessage) {
	recipients := MembersOf(members)
	conns := p.registry.Resolve(recipients)

	out := models.OutboundPeerMessage{
		ID:        msg.ID,
		ChatID:    msg.ChatID,
		Sender:    models.SenderSummary{ID: sender.GetUserID(), Name: sender.GetName()},
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
	}
	p.router.Deliver(models.EventNewMessage, out, conns)
	p.router.Deliver(models.EventNewMessageAlert, models.MessageAlertPayload{ChatID: msg.ChatID}, conns)
	metrics.PeerMessages.Inc()

	if p.notifier == nil {
		return
	}
	offline := offlineMembers(recipients, conns, sender.GetUserID())
	if len(offline) == 0 {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), p.opts.PersistTimeout)
		defer cancel()
		if err := p.notifier.NotifyOffline(ctx, offline, msg); err != nil {
			p.log.Warn().Err(err).Str("chat_id", msg.ChatID).Msg("offline notification failed")
		}
	}()
}

func (p *PeerChannel) persist(ctx context.Context, msg models.PeerMessage) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.PersistTimeout)
	defer cancel()

	if err := p.storage.SavePeerMessage(ctx, &msg); err != nil {
		metrics.PersistFailures.WithLabelValues(NamespacePeer).Inc()
		p.log.Error().Err(err).Str("chat_id", msg.ChatID).Str("message_id", msg.ID).Msg("failed to persist peer message")
		return err
	}
	return nil
}

func (p *PeerChannel) handleTyping(c Client, env models.Envelope) {
	var req models.TypingPayload
	if err := env.Decode(&req); err != nil || req.ChatID == "" {
		replyError(p.router, c, "invalid "+env.Event+" payload")
		return
	}
	userID := c.GetUserID()
	relay := models.TypingPayload{ChatID: req.ChatID, UserID: userID}
	p.router.Deliver(env.Event, relay, p.registry.Resolve(MembersOf(req.Members, userID)))
}

func (p *PeerChannel) mirrorPresence(userID string, online bool) {
	ctx, cancel := context.WithTimeout(context.Background(), p.opts.PersistTimeout)
	defer cancel()
	if err := p.storage.SetUserOnline(ctx, userID, online); err != nil {
		p.log.Warn().Err(err).Str("user_id", userID).Msg("failed to mirror presence")
	}
}

// Wait blocks until background writes and notifications have finished.
func (p *PeerChannel) Wait() {
	p.wg.Wait()
}

func offlineMembers(recipients []string, conns []Client, sender string) []string {
	live := make(map[string]struct{}, len(conns))
	for _, c := range conns {
		live[c.GetUserID()] = struct{}{}
	}
	var out []string
	for _, id := range recipients {
		if id == sender {
			continue
		}
		if _, ok := live[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

func replyError(r *Router, c Client, message string) {
	r.Deliver(models.EventError, models.ErrorPayload{Message: message}, []Client{c})
}
