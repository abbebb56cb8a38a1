package e2e

import (
	"chat-relay/domain/chat"
	"chat-relay/transport"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gookit/color"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

const receiveTimeout = 5 * time.Second

type BaseRelaySuite struct {
	suite.Suite
	Config Config
}

// SetupSuite loads the environment configuration and skips without a relay to talk to.
func (s *BaseRelaySuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)
	if s.Config.RelayURL == "" {
		s.T().Skip("RELAY_URL not set")
	}
}

func (s *BaseRelaySuite) step(t *testing.T, name string) {
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	t.Log(header)
}

// Username returns a fresh name so runs against a persistent store do not collide.
func (s *BaseRelaySuite) Username(prefix string) string {
	return prefix + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Dial opens a websocket to the relay.
func (s *BaseRelaySuite) Dial(name string) *transport.WebsocketChannel {
	s.step(s.T(), name)
	conn, _, err := websocket.DefaultDialer.Dial(s.Config.RelayURL, nil)
	s.Require().NoError(err, "Failed to connect to relay at "+s.Config.RelayURL)
	ch := transport.NewWebsocketChannel(conn, slog.New(slog.NewTextHandler(io.Discard, nil)), transport.DefaultOptions)
	s.T().Cleanup(func() { _ = ch.Close() })
	return ch
}

// Next waits for the next envelope matching match, skipping the others.
func (s *BaseRelaySuite) Next(ch *transport.WebsocketChannel, match func(chat.Envelope) bool) chat.Envelope {
	deadline := time.After(receiveTimeout)
	for {
		received := make(chan chat.Envelope, 1)
		go func() {
			env, err := ch.Receive()
			if err != nil {
				close(received)
				return
			}
			received <- env
		}()
		select {
		case env, ok := <-received:
			s.Require().True(ok, "connection closed while waiting")
			if match(env) {
				return env
			}
		case <-deadline:
			s.FailNow("nothing matching received")
			return nil
		}
	}
}

// AdminConn connects to the admin endpoint, logging every call.
func (s *BaseRelaySuite) AdminConn(t *testing.T, name string) *grpc.ClientConn {
	s.step(t, name)
	marshaler := protojson.MarshalOptions{
		UseProtoNames:   true,
		Multiline:       true,
		EmitUnpopulated: true,
	}
	conn, err := grpc.NewClient(s.Config.AdminAddr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
			start := time.Now()
			err := invoker(ctx, method, req, reply, cc, opts...)

			logBuilder := strings.Builder{}
			fmt.Fprintf(&logBuilder, "GRPC %s [%s] in %v", method, status.Code(err), time.Since(start))
			if s.Config.DebugJSON {
				fmt.Fprintln(&logBuilder, "\nREQUEST:")
				fmt.Fprintln(&logBuilder, marshaler.Format(req.(proto.Message)))
				if err == nil {
					fmt.Fprintln(&logBuilder, "RESPONSE:")
					fmt.Fprintln(&logBuilder, marshaler.Format(reply.(proto.Message)))
				}
			}
			t.Log(logBuilder.String())
			return err
		}),
	)
	s.Require().NoError(err, "Failed to connect to admin server at "+s.Config.AdminAddr)
	return conn
}
