package runtime

import (
	"chat-relay/domain/chat"
	"chat-relay/errors"
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeChannel records what it is sent and can be told to fail.
type fakeChannel struct {
	mu       sync.Mutex
	received []chat.Envelope
	fail     bool
	done     chan struct{}
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{done: make(chan struct{})}
}

func (c *fakeChannel) Send(env chat.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.ErrMailboxFull
	}
	c.received = append(c.received, env)
	return nil
}

func (c *fakeChannel) SendWait(_ context.Context, env chat.Envelope) error { return c.Send(env) }
func (c *fakeChannel) Receive() (chat.Envelope, error) { return nil, io.EOF }
func (c *fakeChannel) Close() error                    { return nil }
func (c *fakeChannel) Done() <-chan struct{}           { return c.done }

func (c *fakeChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.received)
}

func newTestRegistry() *Registry {
	return NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegistry_TryRegister_Rejects_Second_Channel(t *testing.T) {
	req := require.New(t)
	registry := newTestRegistry()
	first, second := newFakeChannel(), newFakeChannel()

	// Given alice is online
	req.True(registry.TryRegister("alice", first))

	// When another connection claims alice
	ok := registry.TryRegister("alice", second)

	// Then it is refused and the first channel still owns the name
	req.False(ok)
	req.True(registry.Route("alice", chat.PlainTextNotice{Text: "ping"}))
	req.Equal(1, first.count())
	req.Zero(second.count())
}

func TestRegistry_Concurrent_TryRegister_Exactly_One_Wins(t *testing.T) {
	req := require.New(t)
	registry := newTestRegistry()
	var wins atomic.Int32
	var wg sync.WaitGroup

	// When fifty connections race for the same username
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if registry.TryRegister("alice", newFakeChannel()) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	// Then only one of them is registered
	req.Equal(int32(1), wins.Load())
	req.Equal(1, registry.Count())
}

func TestRegistry_OnlineUsernames_Registration_Order(t *testing.T) {
	req := require.New(t)
	registry := newTestRegistry()

	for _, username := range []string{"carol", "alice", "bob"} {
		req.True(registry.TryRegister(username, newFakeChannel()))
	}
	registry.Unregister("alice")
	req.True(registry.TryRegister("alice", newFakeChannel()))

	req.Equal([]string{"carol", "bob", "alice"}, registry.OnlineUsernames())
	req.Equal(3, registry.Count())
}

func TestRegistry_Unregister_Absent_Is_Noop(t *testing.T) {
	req := require.New(t)
	registry := newTestRegistry()

	registry.Unregister("ghost")

	req.Zero(registry.Count())
	req.False(registry.IsOnline("ghost"))
}

func TestRegistry_Release_Only_Owner(t *testing.T) {
	req := require.New(t)
	registry := newTestRegistry()
	old, current := newFakeChannel(), newFakeChannel()

	// Given alice reconnected on a new channel
	req.True(registry.TryRegister("alice", old))
	registry.Unregister("alice")
	req.True(registry.TryRegister("alice", current))

	// When the old connection finally tears down
	released := registry.Release("alice", old)

	// Then the new session survives
	req.False(released)
	req.True(registry.IsOnline("alice"))

	// And the owner can release it exactly once
	req.True(registry.Release("alice", current))
	req.False(registry.Release("alice", current))
	req.False(registry.IsOnline("alice"))
}

func TestRegistry_Route_Offline_Or_Failing(t *testing.T) {
	req := require.New(t)
	registry := newTestRegistry()
	broken := newFakeChannel()
	broken.fail = true

	req.False(registry.Route("ghost", chat.PlainTextNotice{Text: "hi"}))

	// Given a session whose channel refuses sends
	req.True(registry.TryRegister("bob", broken))

	// When routing to it
	ok := registry.Route("bob", chat.PlainTextNotice{Text: "hi"})

	// Then the route fails but the session is kept
	req.False(ok)
	req.True(registry.IsOnline("bob"))
}

func TestRegistry_Broadcast_Survives_Failing_Channel(t *testing.T) {
	req := require.New(t)
	registry := newTestRegistry()
	alice, broken, carol := newFakeChannel(), newFakeChannel(), newFakeChannel()
	broken.fail = true
	req.True(registry.TryRegister("alice", alice))
	req.True(registry.TryRegister("bob", broken))
	req.True(registry.TryRegister("carol", carol))

	// When a presence update is broadcast
	registry.Broadcast(chat.Presence(registry.OnlineUsernames()))

	// Then everyone but the failing channel gets it
	req.Equal(1, alice.count())
	req.Equal(1, carol.count())
	snapshot, ok := carol.received[0].(chat.UserListSnapshot)
	req.True(ok)
	req.Equal(chat.ScopeOnline, snapshot.Scope)
	req.Equal([]string{"alice", "bob", "carol"}, snapshot.Usernames)
}
