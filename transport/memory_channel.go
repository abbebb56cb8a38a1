package transport

import (
	"chat-relay/domain/chat"
	"chat-relay/errors"
	"context"
	"io"
	"sync"
)

// MemoryChannel is an in-process Channel. Pipe returns two connected ends:
// what one side sends, the other receives. It follows the same mailbox rules
// as WebsocketChannel so services can be exercised without a network.
type MemoryChannel struct {
	inbox chan chat.Envelope
	peer  *MemoryChannel

	once sync.Once
	done chan struct{}
}

func Pipe(mailboxSize int) (*MemoryChannel, *MemoryChannel) {
	a := &MemoryChannel{inbox: make(chan chat.Envelope, mailboxSize), done: make(chan struct{})}
	b := &MemoryChannel{inbox: make(chan chat.Envelope, mailboxSize), done: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

func (c *MemoryChannel) Send(env chat.Envelope) error {
	select {
	case <-c.done:
		return errors.ErrChannelClosed
	case <-c.peer.done:
		return errors.ErrChannelClosed
	default:
	}
	select {
	case c.peer.inbox <- env:
		return nil
	default:
		_ = c.Close()
		return errors.ErrMailboxFull
	}
}

func (c *MemoryChannel) SendWait(ctx context.Context, env chat.Envelope) error {
	select {
	case <-c.done:
		return errors.ErrChannelClosed
	case <-c.peer.done:
		return errors.ErrChannelClosed
	default:
	}
	select {
	case c.peer.inbox <- env:
		return nil
	case <-c.done:
		return errors.ErrChannelClosed
	case <-c.peer.done:
		return errors.ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive returns queued envelopes first, then io.EOF once either end is closed.
func (c *MemoryChannel) Receive() (chat.Envelope, error) {
	select {
	case env := <-c.inbox:
		return env, nil
	case <-c.done:
	case <-c.peer.done:
	}
	select {
	case env := <-c.inbox:
		return env, nil
	default:
		return nil, io.EOF
	}
}

func (c *MemoryChannel) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *MemoryChannel) Done() <-chan struct{} {
	return c.done
}
