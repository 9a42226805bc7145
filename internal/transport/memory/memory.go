// Package memory is an in-process transport used by tests and local runs.
package memory

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/danmuck/bankwire/internal/transport"
)

const defaultDepth = 64

var ErrQueueFull = errors.New("transport.memory: peer queue full")

// Addr is a named in-process endpoint.
type Addr string

func (a Addr) Network() string { return "memory" }
func (a Addr) String() string  { return string(a) }

type endpoint struct {
	inbound chan []byte
}

type pipeState struct {
	once sync.Once
	done chan struct{}
}

// Conn is one side of an in-process pipe.
type Conn struct {
	local  Addr
	remote Addr
	self   *endpoint
	peer   *endpoint
	state  *pipeState

	mu      sync.Mutex
	pending [][]byte
}

var _ transport.Conn = (*Conn)(nil)

// Pipe returns two connected ends: a is addressed as aAddr, b as bAddr.
func Pipe(aAddr, bAddr string) (*Conn, *Conn) {
	ea := &endpoint{inbound: make(chan []byte, defaultDepth)}
	eb := &endpoint{inbound: make(chan []byte, defaultDepth)}
	state := &pipeState{done: make(chan struct{})}
	a := &Conn{local: Addr(aAddr), remote: Addr(bAddr), self: ea, peer: eb, state: state}
	b := &Conn{local: Addr(bAddr), remote: Addr(aAddr), self: eb, peer: ea, state: state}
	return a, b
}

func (c *Conn) LocalAddr() net.Addr  { return c.local }
func (c *Conn) RemoteAddr() net.Addr { return c.remote }

func (c *Conn) closed() bool {
	select {
	case <-c.state.done:
		return true
	default:
		return false
	}
}

func (c *Conn) Send(packet []byte) error {
	if c.closed() {
		return transport.ErrClosed
	}
	c.mu.Lock()
	c.pending = append(c.pending, append([]byte(nil), packet...))
	c.mu.Unlock()
	return nil
}

func (c *Conn) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.pending) > 0 {
		select {
		case c.peer.inbound <- c.pending[0]:
			c.pending[0] = nil
			c.pending = c.pending[1:]
		case <-c.state.done:
			return transport.ErrClosed
		}
	}
	return nil
}

func (c *Conn) TrySend(packet []byte) error {
	if c.closed() {
		return transport.ErrClosed
	}
	select {
	case c.peer.inbound <- append([]byte(nil), packet...):
		return nil
	default:
		return ErrQueueFull
	}
}

// Recv drains packets that arrived before Close, then reports ErrClosed.
func (c *Conn) Recv(ctx context.Context) ([]byte, error) {
	select {
	case packet := <-c.self.inbound:
		return packet, nil
	default:
	}
	select {
	case packet := <-c.self.inbound:
		return packet, nil
	case <-c.state.done:
		select {
		case packet := <-c.self.inbound:
			return packet, nil
		default:
			return nil, transport.ErrClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Conn) Close() error {
	c.state.once.Do(func() { close(c.state.done) })
	return nil
}

// Listener accepts pipes created by Dial.
type Listener struct {
	addr    Addr
	backlog chan *Conn
	once    sync.Once
	done    chan struct{}
}

var _ transport.Listener = (*Listener)(nil)

func Listen(addr string) *Listener {
	return &Listener{
		addr:    Addr(addr),
		backlog: make(chan *Conn, defaultDepth),
		done:    make(chan struct{}),
	}
}

func (l *Listener) Addr() net.Addr { return l.addr }

func (l *Listener) Accept(ctx context.Context) (transport.Conn, error) {
	select {
	case c := <-l.backlog:
		return c, nil
	case <-l.done:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Dial connects a client addressed as from and returns the client end.
func (l *Listener) Dial(ctx context.Context, from string) (*Conn, error) {
	client, server := Pipe(from, string(l.addr))
	select {
	case l.backlog <- server:
		return client, nil
	case <-l.done:
		return nil, fmt.Errorf("transport.memory: dial %s: %w", l.addr, transport.ErrClosed)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Listener) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}
