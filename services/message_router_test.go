package services

import (
	"chat-relay/domain/chat"
	"chat-relay/errors"
	"chat-relay/mocks"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type mockedRouter struct {
	gateway  *mocks.MockPersistenceGateway
	registry *mocks.MockIRegistry
	channel  *mocks.MockChannel
	router   *MessageRouter
	session  Session
}

func newMockedRouter(t *testing.T) mockedRouter {
	ctrl := gomock.NewController(t)
	gateway := mocks.NewMockPersistenceGateway(ctrl)
	registry := mocks.NewMockIRegistry(ctrl)
	channel := mocks.NewMockChannel(ctrl)
	return mockedRouter{
		gateway:  gateway,
		registry: registry,
		channel:  channel,
		router:   NewMessageRouter(discard, gateway, registry, nil, nil),
		session:  Session{Username: "alice", Channel: channel},
	}
}

func TestMessageRouter_Text_Not_Stored_Is_Not_Routed(t *testing.T) {
	req := require.New(t)
	m := newMockedRouter(t)

	m.gateway.EXPECT().StoreMessage(gomock.Any()).Return(chat.ChatMessage{}, errors.ErrAccountNotFound)
	m.registry.EXPECT().Route(gomock.Any(), gomock.Any()).Times(0)
	m.channel.EXPECT().Send(gomock.Any()).Times(0)

	req.True(m.router.Dispatch(context.Background(), m.session, text("alice", "ghost", "hi")))
}

func TestMessageRouter_Text_Offline_Receiver_Echoes_To_Sender(t *testing.T) {
	req := require.New(t)
	m := newMockedRouter(t)

	m.gateway.EXPECT().StoreMessage(gomock.Any()).DoAndReturn(func(msg chat.ChatMessage) (chat.ChatMessage, error) {
		msg.Seq = 1
		return msg, nil
	})
	m.registry.EXPECT().Route("bob", gomock.Any()).Return(false)
	m.gateway.EXPECT().MarkDelivered(gomock.Any()).Times(0)

	var echoed chat.Envelope
	m.channel.EXPECT().Send(gomock.Any()).DoAndReturn(func(env chat.Envelope) error {
		echoed = env
		return nil
	})

	req.True(m.router.Dispatch(context.Background(), m.session, text("alice", "bob", "hi")))

	msg, ok := echoed.(chat.ChatMessage)
	req.True(ok)
	req.Equal("bob", msg.Receiver)
	req.Equal(uint64(1), msg.Seq)
}

func TestMessageRouter_Text_To_Self_Offline_Has_No_Echo(t *testing.T) {
	req := require.New(t)
	m := newMockedRouter(t)

	m.gateway.EXPECT().StoreMessage(gomock.Any()).DoAndReturn(func(msg chat.ChatMessage) (chat.ChatMessage, error) {
		return msg, nil
	})
	m.registry.EXPECT().Route("alice", gomock.Any()).Return(false)
	m.channel.EXPECT().Send(gomock.Any()).Times(0)

	req.True(m.router.Dispatch(context.Background(), m.session, text("alice", "alice", "note")))
}

func TestMessageRouter_Delete_Failure_Keeps_Session(t *testing.T) {
	req := require.New(t)
	m := newMockedRouter(t)

	// Given the store refuses the deletion
	m.gateway.EXPECT().DeleteAccount("alice").Return(fmt.Errorf("io error"))

	// Then nothing is confirmed and the session stays registered
	m.channel.EXPECT().Send(gomock.Any()).Times(0)
	m.registry.EXPECT().Release(gomock.Any(), gomock.Any()).Times(0)

	keepGoing := m.router.Dispatch(context.Background(), m.session, control(chat.KindDeleteAccountRequest, "alice", ""))

	req.True(keepGoing)
}

func TestMessageRouter_Delete_Confirms_Before_Announcing(t *testing.T) {
	req := require.New(t)
	m := newMockedRouter(t)

	gomock.InOrder(
		m.gateway.EXPECT().DeleteAccount("alice").Return(nil),
		m.channel.EXPECT().Send(gomock.Any()).DoAndReturn(func(env chat.Envelope) error {
			msg := env.(chat.ChatMessage)
			req.Equal(chat.KindDeleteAccountConfirmation, msg.Kind)
			req.Equal("alice", msg.Receiver)
			return nil
		}),
		m.registry.EXPECT().Release("alice", m.channel).Return(true),
		m.registry.EXPECT().Broadcast(gomock.Any()),
		m.registry.EXPECT().OnlineUsernames().Return([]string{"bob"}),
		m.registry.EXPECT().Broadcast(chat.Presence([]string{"bob"})),
	)

	req.False(m.router.Dispatch(context.Background(), m.session, control(chat.KindDeleteAccountRequest, "alice", "")))
}

func TestMessageRouter_Leave_Announces_Once(t *testing.T) {
	m := newMockedRouter(t)

	gomock.InOrder(
		m.registry.EXPECT().Release("alice", m.channel).Return(true),
		m.registry.EXPECT().Count().Return(0),
		m.registry.EXPECT().Broadcast(gomock.Any()),
		m.registry.EXPECT().OnlineUsernames().Return(nil),
		m.registry.EXPECT().Broadcast(gomock.Any()),
		m.registry.EXPECT().Release("alice", m.channel).Return(false),
	)

	m.router.Leave(m.session)
	m.router.Leave(m.session)
}

func TestMessageRouter_FlushBacklog_Marks_Only_Sent(t *testing.T) {
	m := newMockedRouter(t)
	backlog := []chat.ChatMessage{text("bob", "alice", "one"), text("bob", "alice", "two")}

	// Given the channel closes after the first message
	m.gateway.EXPECT().GetUndelivered("alice").Return(backlog, nil)
	gomock.InOrder(
		m.channel.EXPECT().SendWait(gomock.Any(), gomock.Any()).Return(nil),
		m.channel.EXPECT().SendWait(gomock.Any(), gomock.Any()).Return(errors.ErrChannelClosed),
	)

	// Then only the first is marked delivered
	m.gateway.EXPECT().MarkDelivered(backlog[:1]).Return(nil)

	m.router.FlushBacklog(context.Background(), m.session)
}

func TestMessageRouter_History_Stops_On_Closed_Channel(t *testing.T) {
	m := newMockedRouter(t)
	history := []chat.ChatMessage{text("bob", "alice", "one"), text("alice", "bob", "two")}

	m.gateway.EXPECT().GetConversation("alice", "bob").Return(history, nil)
	m.channel.EXPECT().SendWait(gomock.Any(), gomock.Any()).Return(errors.ErrChannelClosed).Times(1)

	m.router.Dispatch(context.Background(), m.session, control(chat.KindHistoryRequest, "alice", "bob"))
}

func TestMessageRouter_Run_Skips_Malformed_And_Ends_On_Disconnect(t *testing.T) {
	m := newMockedRouter(t)

	gomock.InOrder(
		m.channel.EXPECT().Receive().Return(nil, errors.ErrMalformedEnvelope),
		m.channel.EXPECT().Receive().Return(chat.PlainTextNotice{Text: "noise"}, nil),
		m.channel.EXPECT().Receive().Return(control(chat.KindDisconnectNotification, "alice", ""), nil),
		m.registry.EXPECT().Release("alice", m.channel).Return(false),
	)

	m.router.Run(context.Background(), m.session)
}
