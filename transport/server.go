package transport

import (
	"chat-relay/contract"
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Server accepts WebSocket connections on a single port and hands each one,
// on its own goroutine, to a ConnectionHandler.
type Server struct {
	log      *slog.Logger
	options  Options
	handler  contract.ConnectionHandler
	upgrader websocket.Upgrader
	http     *http.Server

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	channels map[*WebsocketChannel]struct{}
	wg       sync.WaitGroup

	accepted atomic.Int64
}

func NewServer(log *slog.Logger, handler contract.ConnectionHandler, options Options) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		log:     log,
		options: options,
		handler: handler,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Clients are native programs, not browsers.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		ctx:      ctx,
		cancel:   cancel,
		channels: make(map[*WebsocketChannel]struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.upgrade)
	s.http = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	return s
}

// Serve accepts connections on listener until Shutdown is called.
func (s *Server) Serve(listener net.Listener) error {
	s.log.Info("Accepting connections", "address", listener.Addr().String())
	err := s.http.Serve(listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Accepted is the number of connections upgraded since start.
func (s *Server) Accepted() int64 {
	return s.accepted.Load()
}

// Live is the number of connections currently open.
func (s *Server) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.channels)
}

// Shutdown stops accepting, closes every live channel and waits for their
// handlers to return or for ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	s.cancel()

	s.mu.Lock()
	live := make([]*WebsocketChannel, 0, len(s.channels))
	for ch := range s.channels {
		live = append(live, ch)
	}
	s.mu.Unlock()
	for _, ch := range live {
		_ = ch.Close()
	}

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		s.log.Info("All connections closed")
	case <-ctx.Done():
		s.log.Warn("Shutdown deadline reached with live connections", "live", s.Live())
		return ctx.Err()
	}
	return err
}

func (s *Server) upgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("Upgrade refused", "remote", r.RemoteAddr, "error", err)
		return
	}
	ch := NewWebsocketChannel(conn, s.log.With("remote", r.RemoteAddr), s.options)
	if !s.track(ch) {
		_ = ch.Close()
		return
	}
	s.accepted.Add(1)
	s.log.Debug("Connection accepted", "remote", r.RemoteAddr)

	go func() {
		defer s.wg.Done()
		defer s.untrack(ch)
		defer ch.Close()
		s.handler.Serve(s.ctx, ch)
	}()
}

// track refuses new channels once shutdown has begun.
func (s *Server) track(ch *WebsocketChannel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.channels[ch] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(ch *WebsocketChannel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.channels, ch)
}
