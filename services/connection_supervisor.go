package services

import (
	"chat-relay/contract"
	"chat-relay/errors"
	"context"
	stderrors "errors"
	"io"
	"log/slog"
)

// ConnectionSupervisor owns one connection from its first envelope to its end:
// handshake, message loop, then session release. It implements contract.ConnectionHandler.
type ConnectionSupervisor struct {
	log    *slog.Logger
	auth   IAuthService
	router *MessageRouter
}

func NewConnectionSupervisor(log *slog.Logger, auth IAuthService, router *MessageRouter) *ConnectionSupervisor {
	return &ConnectionSupervisor{log: log, auth: auth, router: router}
}

// Serve returns when the connection is done with. The caller closes ch.
func (s *ConnectionSupervisor) Serve(ctx context.Context, ch contract.Channel) {
	env, err := ch.Receive()
	if err != nil {
		if !stderrors.Is(err, io.EOF) {
			s.log.Debug("No handshake received", "error", err)
		}
		if stderrors.Is(err, errors.ErrMalformedEnvelope) {
			s.auth.Handshake(ctx, nil, ch)
		}
		return
	}

	outcome := s.auth.Handshake(ctx, env, ch)
	if !outcome.Accepted {
		return
	}

	// Whatever ends the loop, the session is released once; Leave is a no-op
	// when a disconnect or delete request already did it.
	defer s.router.Leave(outcome.Session)
	s.router.Run(ctx, outcome.Session)
}
