package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain/chat"
	"log/slog"
	"slices"
	"sync"
)

type session struct {
	username string
	channel  contract.Channel
}

// Registry is the single source of truth for who is online.
// At most one channel is held per username.
// Sends happen outside the lock so a slow channel never stalls registration.
type Registry struct {
	mu       sync.RWMutex
	log      *slog.Logger
	sessions map[string]contract.Channel // username -> owning channel
	order    []string                    // usernames in registration order
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		log:      log,
		sessions: make(map[string]contract.Channel),
	}
}

// TryRegister binds username to ch unless someone already holds it.
// The check and the insert happen under the same lock, so of two
// concurrent logins for one username exactly one wins.
func (r *Registry) TryRegister(username string, ch contract.Channel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.sessions[username]; taken {
		return false
	}
	r.sessions[username] = ch
	r.order = append(r.order, username)
	return true
}

// Unregister removes username whatever channel holds it. Absent names are ignored.
func (r *Registry) Unregister(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remove(username)
}

// Release removes username only if ch is still the channel bound to it.
// A connection tearing down never evicts a newer session of the same user.
func (r *Registry) Release(username string, ch contract.Channel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.sessions[username]
	if !ok || current != ch {
		return false
	}
	r.remove(username)
	return true
}

func (r *Registry) remove(username string) {
	if _, ok := r.sessions[username]; !ok {
		return
	}
	delete(r.sessions, username)
	r.order = slices.DeleteFunc(r.order, func(u string) bool { return u == username })
}

func (r *Registry) IsOnline(username string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[username]
	return ok
}

// OnlineUsernames returns a snapshot in registration order.
func (r *Registry) OnlineUsernames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Route delivers env to the live session of username.
// It reports false when the user is offline or the send failed; the failure is
// logged and the session stays registered, its own connection cleans it up.
func (r *Registry) Route(username string, env chat.Envelope) bool {
	r.mu.RLock()
	ch, ok := r.sessions[username]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if err := ch.Send(env); err != nil {
		r.log.Warn("Route failed", "username", username, "error", err)
		return false
	}
	return true
}

// Broadcast sends env to every live session. A failing channel never stops the others.
func (r *Registry) Broadcast(env chat.Envelope) {
	for _, s := range r.snapshot() {
		if err := s.channel.Send(env); err != nil {
			r.log.Warn("Broadcast failed", "username", s.username, "error", err)
		}
	}
}

func (r *Registry) snapshot() []session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions := make([]session, 0, len(r.order))
	for _, username := range r.order {
		sessions = append(sessions, session{username: username, channel: r.sessions[username]})
	}
	return sessions
}
