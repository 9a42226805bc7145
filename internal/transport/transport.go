// Package transport defines the session-oriented byte transport the server
// and client speak over: an ordered reliable path plus a best-effort path.
package transport

import (
	"context"
	"errors"
	"net"
)

// NextProto is the ALPN identifier negotiated on every connection.
const NextProto = "bankwire/0"

// DefaultMaxMessageBytes bounds one reliable inbound message.
const DefaultMaxMessageBytes = 64 << 10

var (
	ErrClosed           = errors.New("transport: connection closed")
	ErrDatagramTooLarge = errors.New("transport: datagram exceeds path mtu")
	ErrMessageTooLarge  = errors.New("transport: message exceeds limit")
)

// Conn is one established session.
//
// Send queues a packet on the reliable ordered path; it is not guaranteed to
// reach the wire until Flush. TrySend is one-shot and non-blocking: the packet
// is either handed to the network immediately or dropped with an error.
// Recv returns the next packet from either path.
type Conn interface {
	RemoteAddr() net.Addr
	Send(packet []byte) error
	Flush() error
	TrySend(packet []byte) error
	Recv(ctx context.Context) ([]byte, error)
	Close() error
}

type Listener interface {
	Accept(ctx context.Context) (Conn, error)
	Addr() net.Addr
	Close() error
}
