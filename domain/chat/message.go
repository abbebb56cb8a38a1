// Package chat contains the core concepts of the messaging service.
// Accounts and messages are owned by the persistence layer, envelopes travel over a channel.
// No runtime, network, or storage logic should be added here.
package chat

import (
	"time"

	"github.com/google/uuid"
)

// SystemSender is the author of every server generated notice.
const SystemSender = "System"

// MessageKind tags the purpose of a ChatMessage.
type MessageKind string

const (
	KindText                      MessageKind = "TEXT"
	KindHistoryRequest            MessageKind = "HISTORY_REQUEST"
	KindHistoryResponse           MessageKind = "HISTORY_RESPONSE"
	KindDeleteAccountRequest      MessageKind = "DELETE_ACCOUNT_REQUEST"
	KindDeleteAccountConfirmation MessageKind = "DELETE_ACCOUNT_CONFIRMATION"
	KindSystem                    MessageKind = "SYSTEM"
	KindDisconnectNotification    MessageKind = "DISCONNECT_NOTIFICATION"
)

var kinds = map[MessageKind]struct{}{
	KindText:                      {},
	KindHistoryRequest:            {},
	KindHistoryResponse:           {},
	KindDeleteAccountRequest:      {},
	KindDeleteAccountConfirmation: {},
	KindSystem:                    {},
	KindDisconnectNotification:    {},
}

// Valid reports whether k is one of the known kinds.
func (k MessageKind) Valid() bool {
	_, ok := kinds[k]
	return ok
}

// ChatMessage is a direct message, a server notice or a control request.
// Receiver is empty for server broadcasts.
// Seq is the storage order assigned by the persistence layer, zero until persisted.
type ChatMessage struct {
	ID        uuid.UUID
	Seq       uint64
	Sender    string
	Receiver  string
	Text      string
	Timestamp time.Time
	Kind      MessageKind
	Delivered bool
}

// NewText builds a TEXT message stamped with the given server time.
func NewText(sender, receiver, text string, at time.Time) ChatMessage {
	return ChatMessage{
		ID:        uuid.New(),
		Sender:    sender,
		Receiver:  receiver,
		Text:      text,
		Timestamp: at,
		Kind:      KindText,
	}
}

// NewSystem builds a server notice addressed to everyone.
func NewSystem(text string, at time.Time) ChatMessage {
	return ChatMessage{
		ID:        uuid.New(),
		Sender:    SystemSender,
		Text:      text,
		Timestamp: at,
		Kind:      KindSystem,
	}
}

// WithKind returns a copy of m re-tagged with kind.
func (m ChatMessage) WithKind(kind MessageKind) ChatMessage {
	m.Kind = kind
	return m
}

// Involves reports whether username is the sender or the receiver of m.
func (m ChatMessage) Involves(username string) bool {
	return m.Sender == username || m.Receiver == username
}
