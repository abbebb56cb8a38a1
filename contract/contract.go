//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-relay/domain/chat"
	"context"
	"reflect"
	"time"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// Channel is one connection's ordered, bidirectional envelope stream.
// Send never blocks on the peer: it enqueues or fails.
// SendWait waits for room in the mailbox; only the session's own goroutine uses it.
// Receive blocks until the next envelope or the end of the stream.
type Channel interface {
	Send(env chat.Envelope) error
	SendWait(ctx context.Context, env chat.Envelope) error
	Receive() (chat.Envelope, error)
	Close() error
	Done() <-chan struct{}
}

type IRegistry interface {
	TryRegister(username string, ch Channel) bool
	Unregister(username string)
	Release(username string, ch Channel) bool
	IsOnline(username string) bool
	OnlineUsernames() []string
	Route(username string, env chat.Envelope) bool
	Broadcast(env chat.Envelope)
	Count() int
}

type IAccountRepository interface {
	GetAccount(username string) (chat.Account, error)
	AccountExists(username string) (bool, error)
	CreateAccount(username, credentialHash string) error
	TouchLastLogin(username string, at time.Time) error
	ListUsernames() ([]string, error)
	DeleteAccount(username string) error
}

type IMessageRepository interface {
	StoreMessage(msg chat.ChatMessage) (chat.ChatMessage, error)
	GetUndelivered(receiver string) ([]chat.ChatMessage, error)
	MarkDelivered(messages []chat.ChatMessage) error
	GetConversation(a, b string) ([]chat.ChatMessage, error)
	DeleteMessagesByUser(username string) error
}

// PersistenceGateway is the durable store for accounts and messages.
// Each call is atomic on its own.
type PersistenceGateway interface {
	IAccountRepository
	IMessageRepository
	Close() error
}

// CredentialVerifier derives and checks password credentials.
type CredentialVerifier interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) (bool, error)
}

// ConnectionHandler owns one accepted connection until it ends.
// Serve returns once the connection is finished with; the caller then closes ch.
type ConnectionHandler interface {
	Serve(ctx context.Context, ch Channel)
}
