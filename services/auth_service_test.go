package services

import (
	"chat-relay/domain/chat"
	"chat-relay/errors"
	"chat-relay/mocks"
	"chat-relay/runtime"
	"chat-relay/transport"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type mockedAuth struct {
	gateway  *mocks.MockPersistenceGateway
	verifier *mocks.MockCredentialVerifier
	registry *runtime.Registry
	service  *AuthService
}

func newMockedAuth(t *testing.T) mockedAuth {
	ctrl := gomock.NewController(t)
	gateway := mocks.NewMockPersistenceGateway(ctrl)
	verifier := mocks.NewMockCredentialVerifier(ctrl)
	registry := runtime.NewRegistry(discard)
	router := NewMessageRouter(discard, gateway, registry, nil, nil)
	return mockedAuth{
		gateway:  gateway,
		verifier: verifier,
		registry: registry,
		service:  NewAuthService(discard, gateway, verifier, registry, router, nil),
	}
}

func TestAuthService_Register(t *testing.T) {
	t.Run("should create the account with the hashed password", func(t *testing.T) {
		req := require.New(t)
		m := newMockedAuth(t)
		server, client := transport.Pipe(4)

		m.verifier.EXPECT().Hash("hunter2").Return("hashed", nil)
		m.gateway.EXPECT().CreateAccount("bob", "hashed").Return(nil)

		outcome := m.service.Handshake(context.Background(), chat.RegisterRequest{Username: "bob", Password: "hunter2"}, server)

		req.False(outcome.Accepted)
		expectNotice(t, client, ReplyRegistered)
	})

	t.Run("should not touch the store when credentials are malformed", func(t *testing.T) {
		m := newMockedAuth(t)
		server, client := transport.Pipe(4)

		m.gateway.EXPECT().CreateAccount(gomock.Any(), gomock.Any()).Times(0)

		m.service.Handshake(context.Background(), chat.RegisterRequest{Username: "bob", Password: ""}, server)

		expectNotice(t, client, ReplyRegisterFailed)
	})

	t.Run("should report a storage failure", func(t *testing.T) {
		m := newMockedAuth(t)
		server, client := transport.Pipe(4)

		m.verifier.EXPECT().Hash(gomock.Any()).Return("hashed", nil)
		m.gateway.EXPECT().CreateAccount("bob", "hashed").Return(fmt.Errorf("disk full"))

		m.service.Handshake(context.Background(), chat.RegisterRequest{Username: "bob", Password: "hunter2"}, server)

		expectNotice(t, client, ReplyRegisterFailed)
	})
}

func TestAuthService_Login_Lookup_Failure(t *testing.T) {
	req := require.New(t)
	m := newMockedAuth(t)
	server, client := transport.Pipe(4)

	// Given the store cannot be read
	m.gateway.EXPECT().GetAccount("alice").Return(chat.Account{}, fmt.Errorf("io error"))
	m.verifier.EXPECT().Verify(gomock.Any(), gomock.Any()).Times(0)

	// When alice logs in
	outcome := m.service.Handshake(context.Background(), chat.LoginRequest{Username: "alice", Password: "pw"}, server)

	// Then she is refused without being registered as online
	req.False(outcome.Accepted)
	req.False(m.registry.IsOnline("alice"))
	expectNotice(t, client, ReplyTemporaryFailure)
}

func TestAuthService_Login_Auto_Registration_Failure(t *testing.T) {
	req := require.New(t)
	m := newMockedAuth(t)
	server, client := transport.Pipe(4)

	m.gateway.EXPECT().GetAccount("alice").Return(chat.Account{}, errors.ErrAccountNotFound)
	m.verifier.EXPECT().Hash("pw").Return("hashed", nil)
	m.gateway.EXPECT().CreateAccount("alice", "hashed").Return(fmt.Errorf("disk full"))

	outcome := m.service.Handshake(context.Background(), chat.LoginRequest{Username: "alice", Password: "pw"}, server)

	req.False(outcome.Accepted)
	expectNotice(t, client, ReplyRegisterFailed)
}

func TestAuthService_Login_Registration_Race_Checks_Winner_Credential(t *testing.T) {
	req := require.New(t)
	m := newMockedAuth(t)
	server, client := transport.Pipe(8)

	// Given someone else creates alice between the lookup and the insert
	gomock.InOrder(
		m.gateway.EXPECT().GetAccount("alice").Return(chat.Account{}, errors.ErrAccountNotFound),
		m.gateway.EXPECT().CreateAccount("alice", gomock.Any()).Return(errors.ErrUserAlreadyExists),
		m.gateway.EXPECT().GetAccount("alice").Return(chat.Account{Username: "alice", CredentialHash: "theirs"}, nil),
	)
	m.verifier.EXPECT().Hash("pw").Return("mine", nil)

	// When the password does not match theirs
	m.verifier.EXPECT().Verify("pw", "theirs").Return(false, nil)

	outcome := m.service.Handshake(context.Background(), chat.LoginRequest{Username: "alice", Password: "pw"}, server)

	// Then the login is refused
	req.False(outcome.Accepted)
	expectNotice(t, client, ReplyInvalidCreds)
}

func TestAuthService_Login_Falls_Back_To_Online_List(t *testing.T) {
	req := require.New(t)
	m := newMockedAuth(t)
	server, client := transport.Pipe(8)

	m.gateway.EXPECT().GetAccount("alice").Return(chat.Account{Username: "alice", CredentialHash: "hashed"}, nil)
	m.verifier.EXPECT().Verify("pw", "hashed").Return(true, nil)
	m.gateway.EXPECT().TouchLastLogin("alice", gomock.Any()).Return(fmt.Errorf("read only"))
	m.gateway.EXPECT().GetUndelivered("alice").Return(nil, nil)
	m.gateway.EXPECT().ListUsernames().Return(nil, fmt.Errorf("io error"))

	outcome := m.service.Handshake(context.Background(), chat.LoginRequest{Username: "alice", Password: "pw"}, server)

	// Then the session opens even though the known list had to be replaced
	req.True(outcome.Accepted)
	req.Equal("alice", outcome.Session.Username)
	req.Equal(chat.UserListSnapshot{Scope: chat.ScopeKnown, Usernames: []string{"alice"}}, next(t, client))
}

func TestAuthService_Login_Verifier_Error_Is_Invalid(t *testing.T) {
	req := require.New(t)
	m := newMockedAuth(t)
	server, client := transport.Pipe(4)

	m.gateway.EXPECT().GetAccount("alice").Return(chat.Account{Username: "alice", CredentialHash: "garbage"}, nil)
	m.verifier.EXPECT().Verify("pw", "garbage").Return(false, errors.ErrInvalidHash)

	outcome := m.service.Handshake(context.Background(), chat.LoginRequest{Username: "alice", Password: "pw"}, server)

	req.False(outcome.Accepted)
	expectNotice(t, client, ReplyInvalidCreds)
}
