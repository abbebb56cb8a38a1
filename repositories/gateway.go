package repositories

import (
	"chat-relay/errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// Key layout:
//
//	user:{username}                    account record
//	conv:{low}:{high}:{seq}            message record, low/high are the two usernames sorted
//	inbox:{receiver}:{seq}             conv key of an undelivered message
//	peer:{username}:{other}            marker, one per direction, used by the cascade delete
//
// seq is the 20-digit zero-padded storage sequence so lexicographical order is arrival order.
// Usernames never contain ':' (see auth.ValidateCredentials).
const (
	userPrefix  = "user:"
	convPrefix  = "conv:"
	inboxPrefix = "inbox:"
	peerPrefix  = "peer:"
	sequenceKey = "seq:message"

	sequenceBandwidth = 100
	maxConflictRetry  = 5
)

// BadgerGateway is the BadgerDB backed PersistenceGateway.
type BadgerGateway struct {
	db       *badger.DB
	log      *slog.Logger
	sequence *badger.Sequence
	// cascade serializes account deletion against message writes so a message
	// can never be stored for a user whose cascade delete is in flight.
	cascade sync.RWMutex
}

func NewBadgerGateway(db *badger.DB, log *slog.Logger) (*BadgerGateway, error) {
	sequence, err := db.GetSequence([]byte(sequenceKey), sequenceBandwidth)
	if err != nil {
		return nil, fmt.Errorf("message sequence: %w", err)
	}
	return &BadgerGateway{db: db, log: log, sequence: sequence}, nil
}

// OpenBadger opens the store at path, or an in-memory store when path is empty.
func OpenBadger(path string, log *slog.Logger) (*badger.DB, error) {
	return badger.Open(badgerOptions(path, log))
}

func badgerOptions(path string, log *slog.Logger) badger.Options {
	options := badger.DefaultOptions(path).
		WithLogger(NewBadgerLogger(log)).
		WithLoggingLevel(badger.WARNING)
	if path == "" {
		options = options.WithInMemory(true)
	}
	return options
}

// Close releases the unused sequence range then closes the database.
func (g *BadgerGateway) Close() error {
	if err := g.sequence.Release(); err != nil {
		g.log.Warn("Failed to release message sequence", "error", err)
	}
	return g.db.Close()
}

// update runs fn in a read-write transaction, retrying on write conflicts.
func (g *BadgerGateway) update(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetry; attempt++ {
		err = g.db.Update(fn)
		if err != badger.ErrConflict {
			return err
		}
		g.log.Debug("Transaction conflict, retrying", "attempt", attempt+1)
	}
	return err
}

func userKey(username string) []byte {
	return []byte(userPrefix + username)
}

func conversationPrefix(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return fmt.Sprintf("%s%s:%s:", convPrefix, a, b)
}

func conversationKey(a, b string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", conversationPrefix(a, b), seq))
}

func inboxKey(receiver string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", inboxPrefix, receiver, seq))
}

func peerKey(username, other string) []byte {
	return []byte(peerPrefix + username + ":" + other)
}

// requireAccount fails with ErrAccountNotFound when username has no account.
// Reading the key inside txn also makes a concurrent change of that account a conflict.
func requireAccount(txn *badger.Txn, username string) error {
	_, err := txn.Get(userKey(username))
	if err == badger.ErrKeyNotFound {
		return fmt.Errorf("%w: %s", errors.ErrAccountNotFound, username)
	}
	return err
}

// keysWithPrefix collects the keys under prefix without fetching values.
func keysWithPrefix(txn *badger.Txn, prefix string) [][]byte {
	options := badger.DefaultIteratorOptions
	options.PrefetchValues = false
	options.Prefix = []byte(prefix)
	it := txn.NewIterator(options)
	defer it.Close()

	var keys [][]byte
	for it.Rewind(); it.ValidForPrefix(options.Prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys
}

// suffixAfter returns what follows prefix in key.
func suffixAfter(key []byte, prefix string) string {
	return strings.TrimPrefix(string(key), prefix)
}

// DeleteAccount removes every message username sent or received, then the account.
// The messages go in write batches that split themselves below the transaction
// limit. The account key goes last so an interrupted cascade can be run again.
func (g *BadgerGateway) DeleteAccount(username string) error {
	g.cascade.Lock()
	defer g.cascade.Unlock()

	err := g.db.View(func(txn *badger.Txn) error {
		return requireAccount(txn, username)
	})
	if err != nil {
		return err
	}
	if err := g.deleteMessagesOf(username); err != nil {
		return fmt.Errorf("cascade of %s: %w", username, err)
	}
	return g.update(func(txn *badger.Txn) error {
		if err := requireAccount(txn, username); err != nil {
			return err
		}
		return txn.Delete(userKey(username))
	})
}
