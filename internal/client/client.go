// Package client speaks the bank protocol over any transport.Conn and
// dials the QUIC listener with retry.
package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/danmuck/bankwire/internal/protocol/message"
	"github.com/danmuck/bankwire/internal/transport"
	quictransport "github.com/danmuck/bankwire/internal/transport/quic"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const DefaultRequestTimeout = 15 * time.Second

type DialOptions struct {
	TLS            transport.ClientTLSOptions
	Transport      quictransport.Config
	Backoff        BackoffConfig
	MaxAttempts    int
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

func DefaultDialOptions() DialOptions {
	return DialOptions{
		Transport:      quictransport.DefaultConfig(),
		Backoff:        DefaultBackoff(),
		MaxAttempts:    5,
		ConnectTimeout: 5 * time.Second,
		RequestTimeout: DefaultRequestTimeout,
	}
}

// Dial connects to the server at addr, retrying failed attempts with
// exponential backoff until MaxAttempts is reached or ctx ends.
func Dial(ctx context.Context, addr string, opts DialOptions) (*Client, error) {
	tlsConf, err := transport.ClientTLSConfig(addr, opts.TLS)
	if err != nil {
		return nil, err
	}
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	logger := log.Logger.With().Str("component", "client").Str("addr", addr).Logger()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := NextBackoffDelay(opts.Backoff, attempt-1, rng)
			logger.Debug().Err(lastErr).Int("attempt", attempt).Dur("delay", delay).Msg("dial retry")
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
		dialCtx := ctx
		cancel := func() {}
		if opts.ConnectTimeout > 0 {
			dialCtx, cancel = context.WithTimeout(ctx, opts.ConnectTimeout)
		}
		conn, err := quictransport.Dial(dialCtx, addr, tlsConf, opts.Transport)
		cancel()
		if err == nil {
			logger.Debug().Int("attempt", attempt).Msg("connected")
			return New(conn, WithRequestTimeout(opts.RequestTimeout), WithLogger(logger)), nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("client: dial %s after %d attempts: %w", addr, attempts, lastErr)
}

// Client issues one request at a time and waits for its reply.
type Client struct {
	conn    transport.Conn
	timeout time.Duration
	logger  zerolog.Logger

	mu     sync.Mutex
	closed bool
}

type Option func(*Client)

func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func New(conn transport.Conn, opts ...Option) *Client {
	c := &Client{
		conn:    conn,
		timeout: DefaultRequestTimeout,
		logger:  log.Logger.With().Str("component", "client").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Register(ctx context.Context, id uint32, password, name, phone string) (message.AccountView, error) {
	return c.menu(ctx, message.Register{ID: id, PasswordHash: PasswordHash(password), Name: name, Phone: phone})
}

func (c *Client) Login(ctx context.Context, id uint32, password string) (message.AccountView, error) {
	return c.menu(ctx, message.Login{ID: id, PasswordHash: PasswordHash(password)})
}

func (c *Client) Deposit(ctx context.Context, amount uint32) (message.AccountView, error) {
	return c.menu(ctx, message.Deposit{Amount: amount})
}

func (c *Client) Withdraw(ctx context.Context, amount uint32) (message.AccountView, error) {
	return c.menu(ctx, message.Withdraw{Amount: amount})
}

func (c *Client) Transfer(ctx context.Context, target, amount uint32) (message.AccountView, error) {
	return c.menu(ctx, message.Transfer{Target: target, Amount: amount})
}

func (c *Client) History(ctx context.Context) (message.Info, error) {
	resp, err := c.Do(ctx, message.History{})
	if err != nil {
		return message.Info{}, err
	}
	info, ok := resp.(message.Info)
	if !ok {
		return message.Info{}, unexpected("info", resp)
	}
	return info, nil
}

func (c *Client) menu(ctx context.Context, req message.Request) (message.AccountView, error) {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return message.AccountView{}, err
	}
	m, ok := resp.(message.Menu)
	if !ok {
		return message.AccountView{}, unexpected("menu", resp)
	}
	return m.Account, nil
}

// Do sends req and returns the next response. A msgb reply is returned as
// *NoticeError and an errr reply as *FatalError, which also closes the
// client.
func (c *Client) Do(ctx context.Context, req message.Request) (message.Response, error) {
	packet, err := message.EncodeRequest(req)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if err := c.conn.Send(packet); err != nil {
		return nil, fmt.Errorf("client: send %s: %w", req.Kind(), err)
	}
	if err := c.conn.Flush(); err != nil {
		return nil, fmt.Errorf("client: send %s: %w", req.Kind(), err)
	}
	raw, err := c.conn.Recv(ctx)
	if err != nil {
		if errors.Is(err, transport.ErrClosed) {
			c.closeLocked()
		}
		return nil, fmt.Errorf("client: await %s reply: %w", req.Kind(), err)
	}
	resp, err := message.DecodeResponse(raw)
	if err != nil {
		return nil, fmt.Errorf("client: decode %s reply: %w", req.Kind(), err)
	}
	c.logger.Debug().Str("request", req.Kind().String()).Str("tag", resp.Tag()).Msg("reply")

	switch r := resp.(type) {
	case message.Notice:
		return nil, &NoticeError{Message: r.Message}
	case message.Fatal:
		c.closeLocked()
		return nil, &FatalError{Reason: r.Reason}
	}
	return resp, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}
