// Package quic adapts quic-go to transport.Conn. The reliable path is one
// bidirectional stream carrying u32 length-prefixed messages; the
// best-effort path is QUIC DATAGRAM frames.
package quic

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/bankwire/internal/transport"
	"github.com/quic-go/quic-go"
	"github.com/rs/zerolog/log"
)

const (
	lengthPrefix  = 4
	inboundDepth  = 64
	writeBufBytes = 16 << 10
	closeLinger   = 2 * time.Second

	codeNoError      quic.ApplicationErrorCode = 0
	codeMessageLimit quic.StreamErrorCode      = 1
)

type Config struct {
	MaxMessageBytes int
	MaxIdleTimeout  time.Duration
	KeepAlivePeriod time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxMessageBytes: transport.DefaultMaxMessageBytes,
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
	}
}

func (c Config) quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:        c.MaxIdleTimeout,
		KeepAlivePeriod:       c.KeepAlivePeriod,
		MaxIncomingStreams:    4,
		MaxIncomingUniStreams: -1,
		EnableDatagrams:       true,
	}
}

func (c Config) maxMessage() int {
	if c.MaxMessageBytes <= 0 {
		return transport.DefaultMaxMessageBytes
	}
	return c.MaxMessageBytes
}

type Listener struct {
	ql     *quic.Listener
	cfg    Config
	closed atomic.Bool
}

var _ transport.Listener = (*Listener)(nil)

func Listen(addr string, tlsConf *tls.Config, cfg Config) (*Listener, error) {
	ql, err := quic.ListenAddr(addr, tlsConf, cfg.quicConfig())
	if err != nil {
		return nil, fmt.Errorf("transport.quic: listen %s: %w", addr, err)
	}
	return &Listener{ql: ql, cfg: cfg}, nil
}

func (l *Listener) Accept(ctx context.Context) (transport.Conn, error) {
	qc, err := l.ql.Accept(ctx)
	if err != nil {
		if l.closed.Load() {
			return nil, transport.ErrClosed
		}
		return nil, err
	}
	c := newConn(qc, l.cfg)
	go c.acceptStream()
	return c, nil
}

func (l *Listener) Addr() net.Addr { return l.ql.Addr() }

func (l *Listener) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	return l.ql.Close()
}

// Dial connects to addr and opens the reliable stream.
func Dial(ctx context.Context, addr string, tlsConf *tls.Config, cfg Config) (*Conn, error) {
	qc, err := quic.DialAddr(ctx, addr, tlsConf, cfg.quicConfig())
	if err != nil {
		return nil, fmt.Errorf("transport.quic: dial %s: %w", addr, err)
	}
	stream, err := qc.OpenStreamSync(ctx)
	if err != nil {
		_ = qc.CloseWithError(codeNoError, "open stream failed")
		return nil, fmt.Errorf("transport.quic: open stream: %w", err)
	}
	c := newConn(qc, cfg)
	c.attach(stream, nil)

	// Streams are announced lazily; an empty message lets the server
	// accept ours before the first request.
	if err := c.Send(nil); err == nil {
		err = c.Flush()
	}
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

type Conn struct {
	qc         *quic.Conn
	maxMessage int

	ready    chan struct{}
	readyErr error
	stream   *quic.Stream

	wmu sync.Mutex
	w   *bufio.Writer

	inbound  chan []byte
	recvDone chan struct{}
	recvErr  error

	closeOnce sync.Once
}

var _ transport.Conn = (*Conn)(nil)

func newConn(qc *quic.Conn, cfg Config) *Conn {
	c := &Conn{
		qc:         qc,
		maxMessage: cfg.maxMessage(),
		ready:      make(chan struct{}),
		inbound:    make(chan []byte, inboundDepth),
		recvDone:   make(chan struct{}),
	}
	go c.datagramPump()
	return c
}

func (c *Conn) acceptStream() {
	stream, err := c.qc.AcceptStream(c.qc.Context())
	c.attach(stream, err)
}

func (c *Conn) attach(stream *quic.Stream, err error) {
	if err != nil {
		c.readyErr = err
		c.recvErr = err
		close(c.ready)
		close(c.recvDone)
		return
	}
	c.stream = stream
	c.w = bufio.NewWriterSize(stream, writeBufBytes)
	close(c.ready)
	go c.streamPump()
}

func (c *Conn) waitReady() error {
	select {
	case <-c.ready:
		return c.readyErr
	case <-c.qc.Context().Done():
		return transport.ErrClosed
	}
}

func (c *Conn) RemoteAddr() net.Addr { return c.qc.RemoteAddr() }

func (c *Conn) Send(packet []byte) error {
	if err := c.waitReady(); err != nil {
		return err
	}
	var prefix [lengthPrefix]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(packet)))

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.w.Write(prefix[:]); err != nil {
		return err
	}
	_, err := c.w.Write(packet)
	return err
}

func (c *Conn) Flush() error {
	if err := c.waitReady(); err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.w.Flush()
}

func (c *Conn) TrySend(packet []byte) error {
	err := c.qc.SendDatagram(packet)
	var tooLarge *quic.DatagramTooLargeError
	if errors.As(err, &tooLarge) {
		return fmt.Errorf("%w: %d > %d", transport.ErrDatagramTooLarge, len(packet), tooLarge.MaxDatagramPayloadSize)
	}
	return err
}

// Recv returns queued packets first; once the stream has failed every call
// reports that failure.
func (c *Conn) Recv(ctx context.Context) ([]byte, error) {
	select {
	case packet := <-c.inbound:
		return packet, nil
	default:
	}
	select {
	case packet := <-c.inbound:
		return packet, nil
	case <-c.recvDone:
		return nil, c.recvErr
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close half-closes the stream so flushed data drains, waits briefly for the
// peer to finish its side, then tears down the connection.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.attached() {
			_ = c.stream.Close()
			timer := time.NewTimer(closeLinger)
			select {
			case <-c.recvDone:
			case <-c.qc.Context().Done():
			case <-timer.C:
			}
			timer.Stop()
		}
		err = c.qc.CloseWithError(codeNoError, "closed")
	})
	return err
}

func (c *Conn) attached() bool {
	select {
	case <-c.ready:
		return c.readyErr == nil
	default:
		return false
	}
}

func (c *Conn) streamPump() {
	r := bufio.NewReader(c.stream)
	var prefix [lengthPrefix]byte
	for {
		if _, err := io.ReadFull(r, prefix[:]); err != nil {
			c.endRecv(err)
			return
		}
		n := int(binary.BigEndian.Uint32(prefix[:]))
		if n > c.maxMessage {
			c.stream.CancelRead(codeMessageLimit)
			c.endRecv(fmt.Errorf("%w: %d > %d", transport.ErrMessageTooLarge, n, c.maxMessage))
			return
		}
		if n == 0 {
			continue
		}
		packet := make([]byte, n)
		if _, err := io.ReadFull(r, packet); err != nil {
			c.endRecv(err)
			return
		}
		if !c.deliver(packet) {
			return
		}
	}
}

func (c *Conn) datagramPump() {
	ctx := c.qc.Context()
	for {
		packet, err := c.qc.ReceiveDatagram(ctx)
		if err != nil {
			return
		}
		if !c.deliver(packet) {
			return
		}
	}
}

func (c *Conn) deliver(packet []byte) bool {
	select {
	case c.inbound <- packet:
		return true
	case <-c.qc.Context().Done():
		return false
	}
}

func (c *Conn) endRecv(err error) {
	if errors.Is(err, io.EOF) || c.qc.Context().Err() != nil {
		err = fmt.Errorf("%w: %v", transport.ErrClosed, err)
	}
	log.Debug().Err(err).Str("remote", c.qc.RemoteAddr().String()).Msg("transport.quic stream ended")
	c.recvErr = err
	close(c.recvDone)
}
