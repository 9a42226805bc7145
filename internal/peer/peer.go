// Package peer runs one actor per transport connection. The actor owns the
// connection, feeds inbound packets to a Handler, and flushes the reliable
// outbox. It stops when its live flag is cleared, its context ends, the
// handler reports a fatal error, or consecutive transport errors exceed the
// configured threshold.
package peer

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/bankwire/internal/observability"
	"github.com/danmuck/bankwire/internal/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const DefaultErrorThreshold = 5

var ErrStopped = errors.New("peer: actor stopped")

// Sender is the outbound surface handed to a Handler.
type Sender interface {
	SendReliable(packet []byte) error
	SendBestEffort(packet []byte) error
}

// Handler processes one inbound packet. A non-nil error ends the actor.
type Handler interface {
	HandlePacket(ctx context.Context, out Sender, packet []byte) error
}

type HandlerFunc func(ctx context.Context, out Sender, packet []byte) error

func (f HandlerFunc) HandlePacket(ctx context.Context, out Sender, packet []byte) error {
	return f(ctx, out, packet)
}

type Config struct {
	ErrorThreshold int
	IdleTimeout    time.Duration
}

func DefaultConfig() Config {
	return Config{
		ErrorThreshold: DefaultErrorThreshold,
		IdleTimeout:    15 * time.Minute,
	}
}

type inbound struct {
	packet []byte
	err    error
}

type Peer struct {
	id          uuid.UUID
	conn        transport.Conn
	handler     Handler
	cfg         Config
	connectedAt time.Time
	logger      zerolog.Logger

	live atomic.Bool

	mu     sync.Mutex
	outbox [][]byte
	wake   chan struct{}

	done chan struct{}
}

var _ Sender = (*Peer)(nil)

func New(conn transport.Conn, handler Handler, cfg Config, logger zerolog.Logger) *Peer {
	if cfg.ErrorThreshold <= 0 {
		cfg.ErrorThreshold = DefaultErrorThreshold
	}
	id := uuid.New()
	p := &Peer{
		id:          id,
		conn:        conn,
		handler:     handler,
		cfg:         cfg,
		connectedAt: time.Now().UTC(),
		logger: logger.With().
			Str("session_id", id.String()).
			Str("remote", conn.RemoteAddr().String()).
			Logger(),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	p.live.Store(true)
	return p
}

func (p *Peer) ID() uuid.UUID          { return p.id }
func (p *Peer) RemoteAddr() net.Addr   { return p.conn.RemoteAddr() }
func (p *Peer) ConnectedAt() time.Time { return p.connectedAt }
func (p *Peer) Live() bool             { return p.live.Load() }
func (p *Peer) Done() <-chan struct{}  { return p.done }

// Stop clears the live flag. The actor notices at its next loop turn; an
// in-flight handler call is not interrupted.
func (p *Peer) Stop() {
	if p.live.Swap(false) {
		p.logger.Debug().Msg("peer stop requested")
	}
	p.nudge()
}

func (p *Peer) nudge() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// SendReliable queues packet for the next flush.
func (p *Peer) SendReliable(packet []byte) error {
	select {
	case <-p.done:
		return ErrStopped
	default:
	}
	p.mu.Lock()
	p.outbox = append(p.outbox, packet)
	p.mu.Unlock()
	p.nudge()
	return nil
}

// SendBestEffort hands packet to the transport once, without queueing.
func (p *Peer) SendBestEffort(packet []byte) error {
	if err := p.conn.TrySend(packet); err != nil {
		observability.RecordBestEffortDrop()
		p.logger.Debug().Err(err).Int("bytes", len(packet)).Msg("best-effort send dropped")
		return err
	}
	return nil
}

func (p *Peer) takeOutbox() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.outbox
	p.outbox = nil
	return out
}

// flush writes every queued packet and flushes the transport. It reports
// how many packets were written and whether the transport accepted them.
func (p *Peer) flush() (int, bool) {
	batch := p.takeOutbox()
	if len(batch) == 0 {
		return 0, true
	}
	for _, packet := range batch {
		if err := p.conn.Send(packet); err != nil {
			p.logger.Warn().Err(err).Msg("reliable send failed")
			observability.RecordTransportError("send")
			return 0, false
		}
	}
	if err := p.conn.Flush(); err != nil {
		p.logger.Warn().Err(err).Msg("reliable flush failed")
		observability.RecordTransportError("send")
		return 0, false
	}
	return len(batch), true
}

func (p *Peer) readLoop(ctx context.Context, out chan<- inbound) {
	for {
		packet, err := p.conn.Recv(ctx)
		select {
		case out <- inbound{packet: packet, err: err}:
		case <-p.done:
			return
		}
		if err != nil && (errors.Is(err, transport.ErrClosed) || ctx.Err() != nil) {
			return
		}
	}
}

// Run drives the actor until it stops, then drains the outbox, closes the
// connection and returns the reason.
func (p *Peer) Run(ctx context.Context) error {
	observability.SessionStarted()
	defer observability.SessionEnded()
	p.logger.Info().Msg("session started")

	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()
	in := make(chan inbound)
	go p.readLoop(readCtx, in)

	var idle <-chan time.Time
	var idleTimer *time.Timer
	if p.cfg.IdleTimeout > 0 {
		idleTimer = time.NewTimer(p.cfg.IdleTimeout)
		defer idleTimer.Stop()
		idle = idleTimer.C
	}

	reason := p.loop(ctx, in, idle, idleTimer)

	p.live.Store(false)
	if _, ok := p.flush(); !ok {
		p.logger.Debug().Msg("final flush failed")
	}
	cancelRead()
	close(p.done)
	if err := p.conn.Close(); err != nil {
		p.logger.Debug().Err(err).Msg("close connection")
	}

	event := p.logger.Info()
	if reason != nil && !errors.Is(reason, ErrStopped) && !errors.Is(reason, transport.ErrClosed) {
		event = p.logger.Warn().Err(reason)
	}
	event.Msg("session ended")
	return reason
}

func (p *Peer) loop(ctx context.Context, in <-chan inbound, idle <-chan time.Time, idleTimer *time.Timer) error {
	errs := 0
	for {
		if !p.live.Load() {
			return ErrStopped
		}
		if errs > p.cfg.ErrorThreshold {
			return errThreshold(errs)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-idle:
			return errIdle

		case <-p.wake:
			n, ok := p.flush()
			switch {
			case !ok:
				errs++
			case n > 0:
				errs = 0
			}

		case msg := <-in:
			if msg.err != nil {
				if errors.Is(msg.err, transport.ErrClosed) {
					return msg.err
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				errs++
				observability.RecordTransportError("recv")
				p.logger.Debug().Err(msg.err).Int("errs", errs).Msg("receive failed")
				continue
			}
			errs = 0
			if idleTimer != nil {
				resetTimer(idleTimer, p.cfg.IdleTimeout)
			}
			if err := p.handler.HandlePacket(ctx, p, msg.packet); err != nil {
				return err
			}
			if _, ok := p.flush(); !ok {
				errs++
			}
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// Info is a point-in-time view of one actor for operators.
type Info struct {
	SessionID   string    `json:"session_id"`
	Remote      string    `json:"remote"`
	AccountID   *uint32   `json:"account_id,omitempty"`
	Live        bool      `json:"live"`
	ConnectedAt time.Time `json:"connected_at"`
}

func (p *Peer) Info() Info {
	return Info{
		SessionID:   p.id.String(),
		Remote:      p.conn.RemoteAddr().String(),
		Live:        p.live.Load(),
		ConnectedAt: p.connectedAt,
	}
}
