package transport

import (
	"chat-relay/codec"
	"chat-relay/domain/chat"
	"chat-relay/errors"
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Options bounds a channel's resources.
type Options struct {
	MailboxSize     int
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration // zero disables ping/pong
	MaxEnvelopeSize int64
}

var DefaultOptions = Options{
	MailboxSize:     256,
	WriteTimeout:    10 * time.Second,
	IdleTimeout:     60 * time.Second,
	MaxEnvelopeSize: 64 * 1024,
}

// WebsocketChannel carries one CBOR envelope per binary frame.
// Outbound frames go through a bounded mailbox drained by a single writer goroutine,
// so Send never waits on the network.
type WebsocketChannel struct {
	conn    *websocket.Conn
	log     *slog.Logger
	options Options
	mailbox chan []byte

	once       sync.Once
	flush      bool // set once, before done is closed
	done       chan struct{}
	writerDone chan struct{}
}

func NewWebsocketChannel(conn *websocket.Conn, log *slog.Logger, options Options) *WebsocketChannel {
	c := &WebsocketChannel{
		conn:       conn,
		log:        log,
		options:    options,
		mailbox:    make(chan []byte, options.MailboxSize),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	if options.MaxEnvelopeSize > 0 {
		conn.SetReadLimit(options.MaxEnvelopeSize)
	}
	if options.IdleTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(options.IdleTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(options.IdleTimeout))
		})
	}
	go c.writeLoop()
	return c
}

// Send encodes env and queues it. A full mailbox means the peer is not keeping up:
// the channel is torn down without flushing and ErrMailboxFull is returned.
func (c *WebsocketChannel) Send(env chat.Envelope) error {
	data, err := codec.EncodeEnvelope(env)
	if err != nil {
		return err
	}
	if c.isClosed() {
		return errors.ErrChannelClosed
	}
	select {
	case c.mailbox <- data:
		return nil
	default:
		c.shutdown(false)
		return errors.ErrMailboxFull
	}
}

// SendWait queues env, waiting for mailbox room instead of failing.
// Only the goroutine owning the session should use it.
func (c *WebsocketChannel) SendWait(ctx context.Context, env chat.Envelope) error {
	data, err := codec.EncodeEnvelope(env)
	if err != nil {
		return err
	}
	if c.isClosed() {
		return errors.ErrChannelClosed
	}
	select {
	case c.mailbox <- data:
		return nil
	case <-c.done:
		return errors.ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive blocks for the next envelope. A closed connection yields io.EOF.
// An undecodable frame yields ErrMalformedEnvelope and leaves the channel usable.
func (c *WebsocketChannel) Receive() (chat.Envelope, error) {
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.isClosed() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, err
		}
		if kind != websocket.BinaryMessage {
			c.log.Debug("Ignoring non binary frame", "type", kind)
			continue
		}
		if c.options.IdleTimeout > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.options.IdleTimeout))
		}
		return codec.DecodeEnvelope(data)
	}
}

// Close flushes what is already queued, sends a close frame and closes the socket.
// It is safe to call more than once.
func (c *WebsocketChannel) Close() error {
	c.shutdown(true)
	return nil
}

func (c *WebsocketChannel) Done() <-chan struct{} {
	return c.done
}

func (c *WebsocketChannel) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *WebsocketChannel) shutdown(flush bool) {
	first := false
	c.once.Do(func() {
		first = true
		c.flush = flush
		close(c.done)
	})
	if !first {
		return
	}
	if !flush {
		// The writer sees the socket fail and exits on its own.
		_ = c.conn.Close()
		return
	}
	<-c.writerDone
}

func (c *WebsocketChannel) writeLoop() {
	defer close(c.writerDone)
	defer c.conn.Close()

	var ping <-chan time.Time
	if c.options.IdleTimeout > 0 {
		ticker := time.NewTicker(c.options.IdleTimeout * 9 / 10)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case data := <-c.mailbox:
			if err := c.write(websocket.BinaryMessage, data); err != nil {
				c.drop(err)
				return
			}
		case <-ping:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.drop(err)
				return
			}
		case <-c.done:
			if c.flush {
				c.drain()
			}
			return
		}
	}
}

// drain writes whatever is still queued, then the close frame.
func (c *WebsocketChannel) drain() {
	for {
		select {
		case data := <-c.mailbox:
			if err := c.write(websocket.BinaryMessage, data); err != nil {
				c.log.Debug("Flush interrupted", "error", err)
				return
			}
		default:
			message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			if err := c.write(websocket.CloseMessage, message); err != nil && !stderrors.Is(err, websocket.ErrCloseSent) {
				c.log.Debug("Close frame not sent", "error", err)
			}
			return
		}
	}
}

func (c *WebsocketChannel) write(kind int, data []byte) error {
	if c.options.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.options.WriteTimeout))
	}
	return c.conn.WriteMessage(kind, data)
}

// drop ends a connection whose writes fail. Pending frames are discarded and the
// reader is unblocked by the socket close.
func (c *WebsocketChannel) drop(err error) {
	c.once.Do(func() {
		c.log.Debug("Write failed, dropping connection", "error", err)
		close(c.done)
	})
}
