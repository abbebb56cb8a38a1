package repositories

import (
	"chat-relay/codec"
	"chat-relay/domain/chat"
	"chat-relay/errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// accountRecord is the stored form of an account.
type accountRecord struct {
	Username       string    `cbor:"username"`
	CredentialHash string    `cbor:"credential_hash"`
	CreatedAt      time.Time `cbor:"created_at"`
	LastLoginAt    time.Time `cbor:"last_login_at"`
}

// CreateAccount persists a new account.
// It fails with ErrUserAlreadyExists when the username is taken.
func (g *BadgerGateway) CreateAccount(username, credentialHash string) error {
	now := time.Now().UTC()
	data, err := codec.Marshal(accountRecord{
		Username:       username,
		CredentialHash: credentialHash,
		CreatedAt:      now,
		LastLoginAt:    now,
	})
	if err != nil {
		return fmt.Errorf("marshal failed: %w", err)
	}

	return g.update(func(txn *badger.Txn) error {
		key := userKey(username)
		if _, err := txn.Get(key); err == nil {
			return errors.ErrUserAlreadyExists
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Set(key, data)
	})
}

// GetAccount retrieves an account or ErrAccountNotFound.
func (g *BadgerGateway) GetAccount(username string) (chat.Account, error) {
	var record accountRecord
	err := g.db.View(func(txn *badger.Txn) error {
		var err error
		record, err = getAccountRecord(txn, username)
		return err
	})
	if err != nil {
		return chat.Account{}, err
	}
	return toAccount(record), nil
}

func (g *BadgerGateway) AccountExists(username string) (bool, error) {
	_, err := g.GetAccount(username)
	switch {
	case err == nil:
		return true, nil
	case isNotFound(err):
		return false, nil
	default:
		return false, err
	}
}

// TouchLastLogin records a successful login.
func (g *BadgerGateway) TouchLastLogin(username string, at time.Time) error {
	return g.update(func(txn *badger.Txn) error {
		record, err := getAccountRecord(txn, username)
		if err != nil {
			return err
		}
		record.LastLoginAt = at.UTC()
		data, err := codec.Marshal(record)
		if err != nil {
			return err
		}
		return txn.Set(userKey(username), data)
	})
}

// ListUsernames returns every registered username in lexicographical order.
func (g *BadgerGateway) ListUsernames() ([]string, error) {
	usernames := make([]string, 0)
	err := g.db.View(func(txn *badger.Txn) error {
		for _, key := range keysWithPrefix(txn, userPrefix) {
			usernames = append(usernames, suffixAfter(key, userPrefix))
		}
		return nil
	})
	return usernames, err
}

func getAccountRecord(txn *badger.Txn, username string) (accountRecord, error) {
	var record accountRecord
	item, err := txn.Get(userKey(username))
	if err == badger.ErrKeyNotFound {
		return record, fmt.Errorf("%w: %s", errors.ErrAccountNotFound, username)
	}
	if err != nil {
		return record, err
	}
	err = item.Value(func(val []byte) error {
		return codec.Unmarshal(val, &record)
	})
	return record, err
}

func toAccount(record accountRecord) chat.Account {
	return chat.Account{
		Username:       record.Username,
		CredentialHash: record.CredentialHash,
		LastLoginAt:    record.LastLoginAt,
	}
}
