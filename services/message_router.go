package services

import (
	"chat-relay/contract"
	"chat-relay/domain/chat"
	"chat-relay/errors"
	"chat-relay/moderation"
	"chat-relay/observability"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// AccountDeletedText is the confirmation text sent before the session ends.
const AccountDeletedText = "Account deleted"

// MessageRouter runs the message loop of an authenticated session.
// One router serves every session; per-session state lives in Session.
type MessageRouter struct {
	log       *slog.Logger
	gateway   contract.PersistenceGateway
	registry  contract.IRegistry
	moderator *moderation.Moderator
	stats     *observability.MonitoringManager
	now       func() time.Time
}

func NewMessageRouter(log *slog.Logger,
	gateway contract.PersistenceGateway,
	registry contract.IRegistry,
	moderator *moderation.Moderator,
	stats *observability.MonitoringManager) *MessageRouter {
	return &MessageRouter{
		log:       log,
		gateway:   gateway,
		registry:  registry,
		moderator: moderator,
		stats:     stats,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run reads envelopes until the channel ends or a disconnect or delete
// request is processed. Read failures are treated as a disconnect by the caller.
func (r *MessageRouter) Run(ctx context.Context, session Session) {
	log := r.log.With("username", session.Username)
	for {
		if ctx.Err() != nil {
			return
		}
		env, err := session.Channel.Receive()
		if err != nil {
			if stderrors.Is(err, errors.ErrMalformedEnvelope) {
				log.Warn("Ignoring malformed envelope", "error", err)
				continue
			}
			if !stderrors.Is(err, io.EOF) {
				log.Debug("Connection lost", "error", err)
			}
			return
		}

		msg, ok := env.(chat.ChatMessage)
		if !ok {
			log.Debug("Ignoring non message envelope", "type", fmt.Sprintf("%T", env))
			continue
		}
		if !r.Dispatch(ctx, session, msg) {
			return
		}
	}
}

// Dispatch handles one message and reports whether the loop should continue.
func (r *MessageRouter) Dispatch(ctx context.Context, session Session, msg chat.ChatMessage) bool {
	switch msg.Kind {
	case chat.KindText:
		r.handleText(session, msg)
	case chat.KindHistoryRequest:
		r.handleHistory(ctx, session, msg.Receiver)
	case chat.KindDeleteAccountRequest:
		return !r.handleDelete(session)
	case chat.KindDisconnectNotification:
		r.Leave(session)
		return false
	default:
		r.log.Debug("Ignoring message kind", "username", session.Username, "kind", msg.Kind)
	}
	return true
}

func (r *MessageRouter) handleText(session Session, msg chat.ChatMessage) {
	if msg.Receiver == "" {
		r.log.Debug("Ignoring text without receiver", "username", session.Username)
		return
	}

	text, censored := r.moderator.Censor(msg.Text)
	r.stats.AddCensoredWords(len(censored))
	// Clients cannot speak for someone else or pick the timestamp.
	outgoing := chat.NewText(session.Username, msg.Receiver, text, r.now())

	stored, err := r.gateway.StoreMessage(outgoing)
	if err != nil {
		r.log.Warn("Message not stored", "sender", outgoing.Sender, "receiver", outgoing.Receiver, "error", err)
		r.stats.IncrErrorCount()
		return
	}
	r.stats.IncrMessageStored()

	if r.registry.Route(stored.Receiver, stored) {
		r.stats.IncrMessageRouted()
		if err := r.gateway.MarkDelivered([]chat.ChatMessage{stored}); err != nil {
			r.log.Warn("Delivery not recorded", "id", stored.ID, "error", err)
		}
		return
	}
	// The receiver is offline: the sender still sees the message in its own view.
	if stored.Receiver != stored.Sender {
		if err := session.Channel.Send(stored); err != nil {
			r.log.Debug("Local echo failed", "username", session.Username, "error", err)
		}
	}
}

func (r *MessageRouter) handleHistory(ctx context.Context, session Session, peer string) {
	if peer == "" {
		r.log.Debug("Ignoring history request without peer", "username", session.Username)
		return
	}
	history, err := r.gateway.GetConversation(session.Username, peer)
	if err != nil {
		r.log.Warn("History unavailable", "username", session.Username, "peer", peer, "error", err)
		r.stats.IncrErrorCount()
		return
	}
	for _, msg := range history {
		if err := session.Channel.SendWait(ctx, msg.WithKind(chat.KindHistoryResponse)); err != nil {
			r.log.Debug("History interrupted", "username", session.Username, "error", err)
			return
		}
	}
}

// handleDelete removes the account with all its messages, then ends the session.
// On a storage failure nothing is confirmed and the session goes on.
func (r *MessageRouter) handleDelete(session Session) bool {
	if err := r.gateway.DeleteAccount(session.Username); err != nil {
		r.log.Error("Account deletion failed", "username", session.Username, "error", err)
		r.stats.IncrErrorCount()
		return false
	}

	confirmation := chat.NewSystem(AccountDeletedText, r.now()).WithKind(chat.KindDeleteAccountConfirmation)
	confirmation.Receiver = session.Username
	if err := session.Channel.Send(confirmation); err != nil {
		r.log.Debug("Deletion confirmation not sent", "username", session.Username, "error", err)
	}

	if r.registry.Release(session.Username, session.Channel) {
		r.stats.IncrAccountDeleted(session.Username)
		r.log.Info("Account deleted", "username", session.Username)
		r.announce(fmt.Sprintf("User %s has been deleted.", session.Username))
	}
	return true
}

// Leave ends the session of a user who disconnected, announcing it once.
// Calling it again, or after an account deletion, does nothing.
func (r *MessageRouter) Leave(session Session) {
	if !r.registry.Release(session.Username, session.Channel) {
		return
	}
	r.stats.IncrDisconnect(session.Username)
	r.log.Info("User left", "username", session.Username, "online", r.registry.Count())
	r.announce(fmt.Sprintf("User %s has disconnected.", session.Username))
}

func (r *MessageRouter) announce(text string) {
	r.registry.Broadcast(chat.NewSystem(text, r.now()))
	r.registry.Broadcast(chat.Presence(r.registry.OnlineUsernames()))
}

// FlushBacklog sends the messages stored while the user was offline, oldest first,
// then marks delivered those that made it into the channel.
func (r *MessageRouter) FlushBacklog(ctx context.Context, session Session) {
	backlog, err := r.gateway.GetUndelivered(session.Username)
	if err != nil {
		r.log.Error("Backlog unavailable", "username", session.Username, "error", err)
		r.stats.IncrErrorCount()
		return
	}
	if len(backlog) == 0 {
		return
	}

	sent := make([]chat.ChatMessage, 0, len(backlog))
	for _, msg := range backlog {
		if err := session.Channel.SendWait(ctx, msg.WithKind(chat.KindText)); err != nil {
			r.log.Warn("Backlog interrupted", "username", session.Username, "sent", len(sent), "error", err)
			break
		}
		sent = append(sent, msg)
	}
	if err := r.gateway.MarkDelivered(sent); err != nil {
		r.log.Error("Backlog delivery not recorded", "username", session.Username, "error", err)
		r.stats.IncrErrorCount()
		return
	}
	r.stats.AddBacklogDelivered(len(sent))
	r.log.Debug("Backlog flushed", "username", session.Username, "count", len(sent))
}
