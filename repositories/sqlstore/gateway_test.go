package sqlstore

import (
	"chat-relay/domain/chat"
	"chat-relay/errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func newTestGateway(t *testing.T, usernames ...string) *Gateway {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	// One named in-memory database per test so shared cache does not leak between tests.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := Open(DriverSqlite, dsn, log)
	require.NoError(t, err)
	gateway := NewGateway(db, log)
	t.Cleanup(func() { _ = gateway.Close() })
	for _, username := range usernames {
		require.NoError(t, gateway.CreateAccount(username, "hash-"+username))
	}
	return gateway
}

func texts(messages []chat.ChatMessage) []string {
	out := make([]string, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.Text)
	}
	return out
}

func TestSqlGateway_Accounts(t *testing.T) {
	req := require.New(t)
	gateway := newTestGateway(t, "bob", "alice")

	// When alice registers twice
	err := gateway.CreateAccount("alice", "again")

	// Then the duplicate is rejected
	req.ErrorIs(err, errors.ErrUserAlreadyExists)

	account, err := gateway.GetAccount("alice")
	req.NoError(err)
	req.Equal("hash-alice", account.CredentialHash)

	usernames, err := gateway.ListUsernames()
	req.NoError(err)
	req.Equal([]string{"alice", "bob"}, usernames)

	_, err = gateway.GetAccount("ghost")
	req.ErrorIs(err, errors.ErrAccountNotFound)
	req.ErrorIs(gateway.TouchLastLogin("ghost", time.Now()), errors.ErrAccountNotFound)
}

func TestSqlGateway_TouchLastLogin(t *testing.T) {
	req := require.New(t)
	gateway := newTestGateway(t, "alice")
	at := time.Date(2031, 5, 6, 7, 8, 9, 0, time.UTC)

	req.NoError(gateway.TouchLastLogin("alice", at))

	account, err := gateway.GetAccount("alice")
	req.NoError(err)
	req.True(at.Equal(account.LastLoginAt))
}

func TestSqlGateway_Backlog_And_History(t *testing.T) {
	req := require.New(t)
	gateway := newTestGateway(t, "alice", "bob")
	now := time.Now().UTC()

	// Given three messages exchanged while bob is offline for two of them
	first, err := gateway.StoreMessage(chat.NewText("alice", "bob", "m1", now))
	req.NoError(err)
	_, err = gateway.StoreMessage(chat.NewText("bob", "alice", "m2", now))
	req.NoError(err)
	_, err = gateway.StoreMessage(chat.NewText("alice", "bob", "m3", now))
	req.NoError(err)
	req.Positive(first.Seq)

	// When bob's backlog is read and acknowledged
	backlog, err := gateway.GetUndelivered("bob")
	req.NoError(err)
	req.Equal([]string{"m1", "m3"}, texts(backlog))
	req.NoError(gateway.MarkDelivered(backlog))

	// Then it is empty and the history is complete and ordered
	backlog, err = gateway.GetUndelivered("bob")
	req.NoError(err)
	req.Empty(backlog)

	history, err := gateway.GetConversation("bob", "alice")
	req.NoError(err)
	req.Equal([]string{"m1", "m2", "m3"}, texts(history))
	req.True(history[0].Delivered)
	req.False(history[1].Delivered)
}

func TestSqlGateway_StoreMessage_Rejects_Unknown_Receiver(t *testing.T) {
	req := require.New(t)
	gateway := newTestGateway(t, "alice")

	_, err := gateway.StoreMessage(chat.NewText("alice", "ghost", "anyone?", time.Now()))
	req.ErrorIs(err, errors.ErrAccountNotFound)

	_, err = gateway.StoreMessage(chat.NewText("alice", "", "all", time.Now()))
	req.ErrorIs(err, errors.ErrMissingReceiver)
}

func TestSqlGateway_DeleteAccount_Cascades(t *testing.T) {
	req := require.New(t)
	gateway := newTestGateway(t, "alice", "bob", "carol")
	now := time.Now().UTC()

	for _, message := range []chat.ChatMessage{
		chat.NewText("alice", "bob", "a->b", now),
		chat.NewText("bob", "carol", "b->c", now),
		chat.NewText("alice", "carol", "a->c", now),
	} {
		_, err := gateway.StoreMessage(message)
		req.NoError(err)
	}

	// When bob is deleted
	req.NoError(gateway.DeleteAccount("bob"))

	// Then only the conversation without him remains
	exists, err := gateway.AccountExists("bob")
	req.NoError(err)
	req.False(exists)

	carolInbox, err := gateway.GetUndelivered("carol")
	req.NoError(err)
	req.Equal([]string{"a->c"}, texts(carolInbox))

	req.ErrorIs(gateway.DeleteAccount("bob"), errors.ErrAccountNotFound)
}

func TestSqlGateway_Concurrent_Writers(t *testing.T) {
	req := require.New(t)
	const writers, rounds = 8, 50
	usernames := make([]string, 0, writers)
	for i := 0; i < writers; i++ {
		usernames = append(usernames, fmt.Sprintf("user%d", i))
	}
	gateway := newTestGateway(t, usernames...)

	// Given one goroutine per account storing messages and touching its login time
	var failed atomic.Int32
	var firstErr atomic.Value
	var wg sync.WaitGroup
	for i, sender := range usernames {
		wg.Add(1)
		go func(sender, receiver string) {
			defer wg.Done()
			for round := 0; round < rounds; round++ {
				_, err := gateway.StoreMessage(chat.NewText(sender, receiver, fmt.Sprintf("%d", round), time.Now()))
				if err == nil {
					err = gateway.TouchLastLogin(sender, time.Now())
				}
				if err != nil {
					failed.Add(1)
					firstErr.CompareAndSwap(nil, err.Error())
				}
			}
		}(sender, usernames[(i+1)%writers])
	}
	wg.Wait()

	// Then every write went through instead of failing on the database lock
	req.Zero(failed.Load(), "first error: %v", firstErr.Load())
	for i, receiver := range usernames {
		backlog, err := gateway.GetUndelivered(receiver)
		req.NoError(err)
		req.Len(backlog, rounds, "backlog of %s", receiver)
		sender := usernames[(i+writers-1)%writers]
		req.True(lo.EveryBy(backlog, func(m chat.ChatMessage) bool { return m.Sender == sender }))
	}
}

func TestSqliteDSN_Appends_Pragmas(t *testing.T) {
	req := require.New(t)

	req.Equal("file::memory:?cache=shared&"+sqlitePragmas, sqliteDSN(""))
	req.Equal("relay.db?"+sqlitePragmas, sqliteDSN("relay.db"))
	req.Equal("file:relay.db?mode=rwc&"+sqlitePragmas, sqliteDSN("file:relay.db?mode=rwc"))
}
