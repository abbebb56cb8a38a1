package services

import (
	"chat-relay/auth"
	"chat-relay/contract"
	"chat-relay/domain/chat"
	"chat-relay/moderation"
	"chat-relay/observability"
	"chat-relay/repositories"
	"chat-relay/runtime"
	"chat-relay/transport"
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const receiveTimeout = 2 * time.Second

// cheapParams keeps Argon2 fast in tests.
var cheapParams = auth.Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 8, KeyLength: 16}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type relay struct {
	gateway    contract.PersistenceGateway
	registry   *runtime.Registry
	router     *MessageRouter
	auth       *AuthService
	supervisor *ConnectionSupervisor
	stats      *observability.MonitoringManager
}

type relayOption func(*relayConfig)

type relayConfig struct {
	gateway   contract.PersistenceGateway
	moderator *moderation.Moderator
}

func withGateway(gateway contract.PersistenceGateway) relayOption {
	return func(c *relayConfig) { c.gateway = gateway }
}

func withModerator(moderator *moderation.Moderator) relayOption {
	return func(c *relayConfig) { c.moderator = moderator }
}

// newRelay wires the whole server on an in-memory store.
func newRelay(t *testing.T, options ...relayOption) *relay {
	t.Helper()
	config := relayConfig{}
	for _, option := range options {
		option(&config)
	}
	if config.gateway == nil {
		gateway, err := repositories.OpenGateway(repositories.DriverBadger, "", "", discard)
		require.NoError(t, err)
		t.Cleanup(func() { _ = gateway.Close() })
		config.gateway = gateway
	}

	stats := observability.NewMonitoringManager(discard)
	registry := runtime.NewRegistry(discard)
	router := NewMessageRouter(discard, config.gateway, registry, config.moderator, stats)
	authService := NewAuthService(discard, config.gateway, auth.NewPasswordVerifier(cheapParams), registry, router, stats)
	return &relay{
		gateway:    config.gateway,
		registry:   registry,
		router:     router,
		auth:       authService,
		supervisor: NewConnectionSupervisor(discard, authService, router),
		stats:      stats,
	}
}

// connect opens a connection, sends the handshake and returns the client end.
func (r *relay) connect(t *testing.T, handshake chat.Envelope) *transport.MemoryChannel {
	t.Helper()
	server, client := transport.Pipe(64)
	go func() {
		defer server.Close()
		r.supervisor.Serve(context.Background(), server)
	}()
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Send(handshake))
	return client
}

// login connects username and waits until its own presence broadcast arrived,
// so the caller starts from a settled state.
func (r *relay) login(t *testing.T, username string) *transport.MemoryChannel {
	t.Helper()
	client := r.connect(t, chat.LoginRequest{Username: username, Password: "pw-" + username})
	expectKnownList(t, client)
	waitFor(t, client, func(env chat.Envelope) bool {
		snapshot, ok := env.(chat.UserListSnapshot)
		return ok && snapshot.Scope == chat.ScopeOnline
	})
	return client
}

func receive(t *testing.T, ch contract.Channel) (chat.Envelope, error) {
	t.Helper()
	type result struct {
		env chat.Envelope
		err error
	}
	results := make(chan result, 1)
	go func() {
		env, err := ch.Receive()
		results <- result{env, err}
	}()
	select {
	case res := <-results:
		return res.env, res.err
	case <-time.After(receiveTimeout):
		t.Fatalf("nothing received within %s", receiveTimeout)
		return nil, nil
	}
}

func next(t *testing.T, ch contract.Channel) chat.Envelope {
	t.Helper()
	env, err := receive(t, ch)
	require.NoError(t, err)
	return env
}

// waitFor skips envelopes until match accepts one, and returns it.
func waitFor(t *testing.T, ch contract.Channel, match func(chat.Envelope) bool) chat.Envelope {
	t.Helper()
	for {
		env := next(t, ch)
		if match(env) {
			return env
		}
	}
}

func expectNotice(t *testing.T, ch contract.Channel, text string) {
	t.Helper()
	require.Equal(t, chat.PlainTextNotice{Text: text}, next(t, ch))
}

func expectKnownList(t *testing.T, ch contract.Channel) []string {
	t.Helper()
	env := waitFor(t, ch, func(env chat.Envelope) bool {
		snapshot, ok := env.(chat.UserListSnapshot)
		return ok && snapshot.Scope == chat.ScopeKnown
	})
	return env.(chat.UserListSnapshot).Usernames
}

func expectClosed(t *testing.T, ch contract.Channel) {
	t.Helper()
	for {
		_, err := receive(t, ch)
		if err != nil {
			require.ErrorIs(t, err, io.EOF)
			return
		}
	}
}

func waitForSystem(t *testing.T, ch contract.Channel, text string) {
	t.Helper()
	waitFor(t, ch, func(env chat.Envelope) bool {
		msg, ok := env.(chat.ChatMessage)
		return ok && msg.Kind == chat.KindSystem && msg.Text == text
	})
}

func waitForPresence(t *testing.T, ch contract.Channel, usernames ...string) {
	t.Helper()
	waitFor(t, ch, func(env chat.Envelope) bool {
		snapshot, ok := env.(chat.UserListSnapshot)
		return ok && snapshot.Scope == chat.ScopeOnline && fmt.Sprint(snapshot.Usernames) == fmt.Sprint(usernames)
	})
}

func text(sender, receiver, body string) chat.ChatMessage {
	return chat.NewText(sender, receiver, body, time.Now().UTC())
}

func control(kind chat.MessageKind, sender, receiver string) chat.ChatMessage {
	return chat.ChatMessage{Sender: sender, Receiver: receiver, Kind: kind, Timestamp: time.Now().UTC()}
}
