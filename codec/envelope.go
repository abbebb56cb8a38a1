package codec

import (
	"chat-relay/domain/chat"
	"chat-relay/errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Frame tags as they appear on the wire.
const (
	TypeLogin    = "login"
	TypeRegister = "register"
	TypeMessage  = "message"
	TypeUserList = "user_list"
	TypeNotice   = "notice"
)

type frame struct {
	Type    string     `cbor:"type"`
	Payload RawMessage `cbor:"payload"`
}

type credentialsFrame struct {
	Username string `cbor:"username"`
	Password string `cbor:"password"`
}

type messageFrame struct {
	ID        string    `cbor:"id,omitempty"`
	Sender    string    `cbor:"sender"`
	Receiver  string    `cbor:"receiver,omitempty"`
	Text      string    `cbor:"text"`
	Timestamp time.Time `cbor:"timestamp"`
	Kind      string    `cbor:"kind"`
}

type userListFrame struct {
	Scope     string   `cbor:"scope"`
	Usernames []string `cbor:"usernames"`
}

type noticeFrame struct {
	Text string `cbor:"text"`
}

// EncodeEnvelope serializes one envelope into a self-describing frame.
func EncodeEnvelope(env chat.Envelope) ([]byte, error) {
	var (
		tag     string
		payload any
	)
	switch e := env.(type) {
	case chat.LoginRequest:
		tag, payload = TypeLogin, credentialsFrame{Username: e.Username, Password: e.Password}
	case chat.RegisterRequest:
		tag, payload = TypeRegister, credentialsFrame{Username: e.Username, Password: e.Password}
	case chat.ChatMessage:
		tag, payload = TypeMessage, fromChatMessage(e)
	case chat.UserListSnapshot:
		tag, payload = TypeUserList, userListFrame{Scope: string(e.Scope), Usernames: e.Usernames}
	case chat.PlainTextNotice:
		tag, payload = TypeNotice, noticeFrame{Text: e.Text}
	default:
		return nil, fmt.Errorf("%w: %T", errors.ErrUnknownEnvelope, env)
	}

	raw, err := Marshal(payload)
	if err != nil {
		return nil, err
	}
	return Marshal(frame{Type: tag, Payload: raw})
}

// DecodeEnvelope parses a frame produced by EncodeEnvelope.
// Every failure wraps ErrMalformedEnvelope.
func DecodeEnvelope(data []byte) (chat.Envelope, error) {
	var f frame
	if err := Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrMalformedEnvelope, err)
	}

	switch f.Type {
	case TypeLogin, TypeRegister:
		var c credentialsFrame
		if err := Unmarshal(f.Payload, &c); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrMalformedEnvelope, err)
		}
		if f.Type == TypeLogin {
			return chat.LoginRequest{Username: c.Username, Password: c.Password}, nil
		}
		return chat.RegisterRequest{Username: c.Username, Password: c.Password}, nil
	case TypeMessage:
		var m messageFrame
		if err := Unmarshal(f.Payload, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrMalformedEnvelope, err)
		}
		return toChatMessage(m)
	case TypeUserList:
		var l userListFrame
		if err := Unmarshal(f.Payload, &l); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrMalformedEnvelope, err)
		}
		return chat.UserListSnapshot{Scope: chat.ListScope(l.Scope), Usernames: l.Usernames}, nil
	case TypeNotice:
		var n noticeFrame
		if err := Unmarshal(f.Payload, &n); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrMalformedEnvelope, err)
		}
		return chat.PlainTextNotice{Text: n.Text}, nil
	default:
		return nil, fmt.Errorf("%w: unknown frame type %q", errors.ErrMalformedEnvelope, f.Type)
	}
}

func fromChatMessage(m chat.ChatMessage) messageFrame {
	out := messageFrame{
		Sender:    m.Sender,
		Receiver:  m.Receiver,
		Text:      m.Text,
		Timestamp: m.Timestamp.UTC(),
		Kind:      string(m.Kind),
	}
	if m.ID != uuid.Nil {
		out.ID = m.ID.String()
	}
	return out
}

func toChatMessage(f messageFrame) (chat.ChatMessage, error) {
	kind := chat.MessageKind(f.Kind)
	if !kind.Valid() {
		return chat.ChatMessage{}, fmt.Errorf("%w: unknown message kind %q", errors.ErrMalformedEnvelope, f.Kind)
	}
	id := uuid.Nil
	if f.ID != "" {
		parsed, err := uuid.Parse(f.ID)
		if err != nil {
			return chat.ChatMessage{}, fmt.Errorf("%w: %v", errors.ErrMalformedEnvelope, err)
		}
		id = parsed
	}
	return chat.ChatMessage{
		ID:        id,
		Sender:    f.Sender,
		Receiver:  f.Receiver,
		Text:      f.Text,
		Timestamp: f.Timestamp.UTC(),
		Kind:      kind,
	}, nil
}
