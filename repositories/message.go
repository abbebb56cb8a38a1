package repositories

import (
	"chat-relay/codec"
	"chat-relay/domain/chat"
	"chat-relay/errors"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// messageRecord is the stored form of a ChatMessage.
type messageRecord struct {
	ID        string    `cbor:"id"`
	Seq       uint64    `cbor:"seq"`
	Sender    string    `cbor:"sender"`
	Receiver  string    `cbor:"receiver"`
	Text      string    `cbor:"text"`
	Timestamp time.Time `cbor:"timestamp"`
	Kind      string    `cbor:"kind"`
	Delivered bool      `cbor:"delivered"`
}

// StoreMessage persists msg as undelivered and returns it with its storage sequence.
// The receiver's account is checked in the same transaction as the write, and the
// cascade lock keeps a concurrent DeleteAccount from leaving an orphan behind.
func (g *BadgerGateway) StoreMessage(msg chat.ChatMessage) (chat.ChatMessage, error) {
	if msg.Receiver == "" {
		return msg, errors.ErrMissingReceiver
	}
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}

	g.cascade.RLock()
	defer g.cascade.RUnlock()

	next, err := g.sequence.Next()
	if err != nil {
		return msg, fmt.Errorf("message sequence: %w", err)
	}
	// Sequences start at zero, zero means not persisted.
	msg.Seq = next + 1
	msg.Delivered = false

	data, err := codec.Marshal(fromChatMessage(msg))
	if err != nil {
		return msg, fmt.Errorf("marshal failed: %w", err)
	}
	key := conversationKey(msg.Sender, msg.Receiver, msg.Seq)

	err = g.update(func(txn *badger.Txn) error {
		if err := requireAccount(txn, msg.Receiver); err != nil {
			return err
		}
		if err := requireAccount(txn, msg.Sender); err != nil {
			return err
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
		if err := txn.Set(inboxKey(msg.Receiver, msg.Seq), key); err != nil {
			return err
		}
		if err := txn.Set(peerKey(msg.Sender, msg.Receiver), nil); err != nil {
			return err
		}
		return txn.Set(peerKey(msg.Receiver, msg.Sender), nil)
	})
	if err != nil {
		return msg, err
	}
	return msg, nil
}

// GetUndelivered returns the messages waiting for receiver in storage order.
func (g *BadgerGateway) GetUndelivered(receiver string) ([]chat.ChatMessage, error) {
	messages := make([]chat.ChatMessage, 0)
	err := g.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.Prefix = []byte(inboxPrefix + receiver + ":")
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(options.Prefix); it.Next() {
			convKey, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			record, err := getMessageRecord(txn, convKey)
			if stderrors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			message, err := toChatMessage(record)
			if err != nil {
				return err
			}
			messages = append(messages, message)
		}
		return nil
	})
	return messages, err
}

// MarkDelivered flags the batch delivered in one transaction.
// Messages deleted in the meantime are skipped. The cascade lock keeps the
// rewrite from bringing back a message a running cascade already removed.
func (g *BadgerGateway) MarkDelivered(messages []chat.ChatMessage) error {
	if len(messages) == 0 {
		return nil
	}
	g.cascade.RLock()
	defer g.cascade.RUnlock()
	return g.update(func(txn *badger.Txn) error {
		for _, msg := range messages {
			key := conversationKey(msg.Sender, msg.Receiver, msg.Seq)
			record, err := getMessageRecord(txn, key)
			if stderrors.Is(err, badger.ErrKeyNotFound) {
				g.log.Debug("Message vanished before delivery mark", "id", msg.ID, "seq", msg.Seq)
				continue
			}
			if err != nil {
				return err
			}
			record.Delivered = true
			data, err := codec.Marshal(record)
			if err != nil {
				return err
			}
			if err := txn.Set(key, data); err != nil {
				return err
			}
			if err := txn.Delete(inboxKey(msg.Receiver, msg.Seq)); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetConversation returns every message exchanged between a and b, in either
// direction, in chronological (storage) order.
func (g *BadgerGateway) GetConversation(a, b string) ([]chat.ChatMessage, error) {
	messages := make([]chat.ChatMessage, 0)
	err := g.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.Prefix = []byte(conversationPrefix(a, b))
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(options.Prefix); it.Next() {
			var record messageRecord
			err := it.Item().Value(func(val []byte) error {
				return codec.Unmarshal(val, &record)
			})
			if err != nil {
				return err
			}
			message, err := toChatMessage(record)
			if err != nil {
				return err
			}
			messages = append(messages, message)
		}
		return nil
	})
	return messages, err
}

// DeleteMessagesByUser removes every message sent or received by username.
func (g *BadgerGateway) DeleteMessagesByUser(username string) error {
	g.cascade.Lock()
	defer g.cascade.Unlock()
	return g.deleteMessagesOf(username)
}

// deleteMessagesOf walks the peer markers of username and removes each conversation
// with the inbox entries on both sides, then the markers themselves.
// Callers hold the cascade lock so no message can be added meanwhile.
func (g *BadgerGateway) deleteMessagesOf(username string) error {
	prefix := peerPrefix + username + ":"
	var markers [][]byte
	err := g.db.View(func(txn *badger.Txn) error {
		markers = keysWithPrefix(txn, prefix)
		return nil
	})
	if err != nil {
		return err
	}

	for _, marker := range markers {
		other := suffixAfter(marker, prefix)
		keys, err := g.conversationKeys(username, other)
		if err != nil {
			return err
		}
		// Markers last, a partial run still finds this conversation next time.
		keys = append(keys, marker, peerKey(other, username))
		if err := g.deleteKeys(keys); err != nil {
			return err
		}
	}
	return nil
}

// conversationKeys lists the message keys between a and b with the inbox entries they own.
func (g *BadgerGateway) conversationKeys(a, b string) ([][]byte, error) {
	exchanged := conversationPrefix(a, b)
	var keys [][]byte
	err := g.db.View(func(txn *badger.Txn) error {
		for _, key := range keysWithPrefix(txn, exchanged) {
			var seq uint64
			if _, err := fmt.Sscanf(suffixAfter(key, exchanged), "%d", &seq); err != nil {
				return fmt.Errorf("corrupt message key %q: %w", key, err)
			}
			keys = append(keys, key)
			for _, receiver := range lo.Uniq([]string{a, b}) {
				keys = append(keys, inboxKey(receiver, seq))
			}
		}
		return nil
	})
	return keys, err
}

// deleteKeys removes keys through a write batch, which commits whenever a
// transaction would grow too big.
func (g *BadgerGateway) deleteKeys(keys [][]byte) error {
	batch := g.db.NewWriteBatch()
	defer batch.Cancel()
	for _, key := range keys {
		if err := batch.Delete(key); err != nil {
			return err
		}
	}
	return batch.Flush()
}

func getMessageRecord(txn *badger.Txn, key []byte) (messageRecord, error) {
	var record messageRecord
	item, err := txn.Get(key)
	if err != nil {
		return record, err
	}
	err = item.Value(func(val []byte) error {
		return codec.Unmarshal(val, &record)
	})
	return record, err
}

func fromChatMessage(msg chat.ChatMessage) messageRecord {
	return messageRecord{
		ID:        msg.ID.String(),
		Seq:       msg.Seq,
		Sender:    msg.Sender,
		Receiver:  msg.Receiver,
		Text:      msg.Text,
		Timestamp: msg.Timestamp.UTC(),
		Kind:      string(msg.Kind),
		Delivered: msg.Delivered,
	}
}

func toChatMessage(record messageRecord) (chat.ChatMessage, error) {
	id, err := uuid.Parse(record.ID)
	if err != nil {
		return chat.ChatMessage{}, err
	}
	return chat.ChatMessage{
		ID:        id,
		Seq:       record.Seq,
		Sender:    record.Sender,
		Receiver:  record.Receiver,
		Text:      record.Text,
		Timestamp: record.Timestamp,
		Kind:      chat.MessageKind(record.Kind),
		Delivered: record.Delivered,
	}, nil
}

func isNotFound(err error) bool {
	return stderrors.Is(err, errors.ErrAccountNotFound)
}

