package services

import (
	"chat-relay/auth"
	"chat-relay/contract"
	"chat-relay/domain/chat"
	"chat-relay/errors"
	"chat-relay/observability"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"
)

// Handshake replies. Clients match on the OK:/ERROR: prefix.
const (
	ReplyRegistered       = "OK: Registration successful."
	ReplyUserExists       = "ERROR: Username already exists."
	ReplyUsernameTaken    = "ERROR: Username already taken."
	ReplyRegisterFailed   = "ERROR: Failed to register new user."
	ReplyInvalidCreds     = "ERROR: Invalid credentials."
	ReplyExpectedLogin    = "ERROR: Expected login request."
	ReplyTemporaryFailure = "ERROR: Login failed, try again later."
)

// Session binds an authenticated username to the channel it logged in on.
type Session struct {
	Username string
	Channel  contract.Channel
}

// Outcome is the result of a handshake. Session is set only when Accepted.
type Outcome struct {
	Accepted bool
	Session  Session
}

type IAuthService interface {
	Handshake(ctx context.Context, env chat.Envelope, ch contract.Channel) Outcome
}

type AuthService struct {
	log      *slog.Logger
	gateway  contract.PersistenceGateway
	verifier contract.CredentialVerifier
	registry contract.IRegistry
	router   *MessageRouter
	stats    *observability.MonitoringManager
	now      func() time.Time
}

func NewAuthService(log *slog.Logger,
	gateway contract.PersistenceGateway,
	verifier contract.CredentialVerifier,
	registry contract.IRegistry,
	router *MessageRouter,
	stats *observability.MonitoringManager) *AuthService {
	return &AuthService{
		log:      log,
		gateway:  gateway,
		verifier: verifier,
		registry: registry,
		router:   router,
		stats:    stats,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Handshake decides what the first envelope of a connection opens.
// A registration never opens a session: the client has to log in afterward.
func (s *AuthService) Handshake(ctx context.Context, env chat.Envelope, ch contract.Channel) Outcome {
	switch e := env.(type) {
	case chat.RegisterRequest:
		s.reply(ch, s.register(e.Username, e.Password))
		return Outcome{}
	case chat.LoginRequest:
		session, rejection := s.login(ctx, e.Username, e.Password, ch)
		if rejection != "" {
			s.stats.IncrRejectedLogin(e.Username)
			s.reply(ch, rejection)
			return Outcome{}
		}
		return Outcome{Accepted: true, Session: session}
	default:
		s.log.Debug("Unexpected first envelope", "type", fmt.Sprintf("%T", env))
		s.reply(ch, ReplyExpectedLogin)
		return Outcome{}
	}
}

func (s *AuthService) register(username, password string) string {
	if err := auth.ValidateCredentials(username, password); err != nil {
		s.log.Debug("Registration refused", "username", username, "error", err)
		return ReplyRegisterFailed
	}
	if err := s.createAccount(username, password); err != nil {
		if stderrors.Is(err, errors.ErrUserAlreadyExists) {
			return ReplyUserExists
		}
		s.log.Error("Registration failed", "username", username, "error", err)
		s.stats.IncrErrorCount()
		return ReplyRegisterFailed
	}
	return ReplyRegistered
}

func (s *AuthService) createAccount(username, password string) error {
	hash, err := s.verifier.Hash(password)
	if err != nil {
		return fmt.Errorf("hashing failed: %w", err)
	}
	if err := s.gateway.CreateAccount(username, hash); err != nil {
		return err
	}
	s.stats.IncrRegistration(username)
	return nil
}

// login returns the accepted session, or the rejection to send back.
func (s *AuthService) login(ctx context.Context, username, password string, ch contract.Channel) (Session, string) {
	if err := auth.ValidateCredentials(username, password); err != nil {
		s.log.Debug("Login refused", "username", username, "error", err)
		return Session{}, ReplyInvalidCreds
	}
	if s.registry.IsOnline(username) {
		return Session{}, ReplyUsernameTaken
	}
	if rejection := s.authenticate(username, password); rejection != "" {
		return Session{}, rejection
	}

	if err := s.gateway.TouchLastLogin(username, s.now()); err != nil {
		s.log.Warn("Last login not recorded", "username", username, "error", err)
	}

	// Two logins may both pass the IsOnline check, only one wins here.
	if !s.registry.TryRegister(username, ch) {
		return Session{}, ReplyUsernameTaken
	}
	session := Session{Username: username, Channel: ch}

	s.router.FlushBacklog(ctx, session)

	known, err := s.gateway.ListUsernames()
	if err != nil {
		s.log.Error("Known users unavailable", "error", err)
		s.stats.IncrErrorCount()
		known = s.registry.OnlineUsernames()
	}
	s.send(ch, chat.UserListSnapshot{Scope: chat.ScopeKnown, Usernames: known})

	s.stats.IncrLogin(username)
	s.log.Info("User joined", "username", username, "online", s.registry.Count())
	s.registry.Broadcast(chat.NewSystem(fmt.Sprintf("User %s joined the chat.", username), s.now()))
	s.registry.Broadcast(chat.Presence(s.registry.OnlineUsernames()))
	return session, ""
}

// authenticate verifies the password, creating the account on first login.
func (s *AuthService) authenticate(username, password string) string {
	account, err := s.gateway.GetAccount(username)
	if stderrors.Is(err, errors.ErrAccountNotFound) {
		err = s.createAccount(username, password)
		if err == nil {
			return ""
		}
		if !stderrors.Is(err, errors.ErrUserAlreadyExists) {
			s.log.Error("Auto registration failed", "username", username, "error", err)
			s.stats.IncrErrorCount()
			return ReplyRegisterFailed
		}
		// Someone registered the name in between: check against their credential.
		account, err = s.gateway.GetAccount(username)
	}
	if err != nil {
		s.log.Error("Account lookup failed", "username", username, "error", err)
		s.stats.IncrErrorCount()
		return ReplyTemporaryFailure
	}

	ok, err := s.verifier.Verify(password, account.CredentialHash)
	if err != nil {
		s.log.Warn("Credential check failed", "username", username, "error", err)
		return ReplyInvalidCreds
	}
	if !ok {
		return ReplyInvalidCreds
	}
	return ""
}

func (s *AuthService) reply(ch contract.Channel, text string) {
	s.send(ch, chat.PlainTextNotice{Text: text})
}

func (s *AuthService) send(ch contract.Channel, env chat.Envelope) {
	if err := ch.Send(env); err != nil {
		s.log.Debug("Handshake reply not sent", "error", err)
	}
}
