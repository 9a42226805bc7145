package session

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/danmuck/bankwire/internal/ledger"
	"github.com/danmuck/bankwire/internal/observability"
	"github.com/danmuck/bankwire/internal/protocol/frame"
	"github.com/danmuck/bankwire/internal/protocol/message"
	"github.com/rs/zerolog"
)

// Ledger is the subset of ledger.Ledger the state machine drives.
type Ledger interface {
	Authenticate(ctx context.Context, id uint32, credential int32) (ledger.Account, error)
	CreateAccount(ctx context.Context, id uint32, credential int32, name, phone string) (ledger.Account, error)
	FindAccount(ctx context.Context, id uint32) (ledger.Account, error)
	Deposit(ctx context.Context, id, amount uint32) (ledger.Account, error)
	Withdraw(ctx context.Context, id, amount uint32) (ledger.Account, error)
	Transfer(ctx context.Context, from, to, amount uint32) (ledger.Account, error)
	TradeHistory(ctx context.Context, id uint32) ([]ledger.TradeLogEntry, error)
}

var _ Ledger = (*ledger.Ledger)(nil)

// Responder delivers encoded responses on the reliable path.
type Responder interface {
	SendReliable(packet []byte) error
}

// Machine owns one connection's State. HandlePacket must be called from a
// single goroutine; AccountID is safe from any goroutine.
type Machine struct {
	ledger Ledger
	state  State
	bound  atomic.Uint64
	logger zerolog.Logger
}

func NewMachine(l Ledger, logger zerolog.Logger) *Machine {
	return &Machine{
		ledger: l,
		state:  Unauthenticated(),
		logger: logger,
	}
}

func (m *Machine) State() State { return m.state }

// AccountID reports the bound account, if any.
func (m *Machine) AccountID() (uint32, bool) {
	v := m.bound.Load()
	if v == 0 {
		return 0, false
	}
	return uint32(v - 1), true
}

// HandlePacket processes one inbound packet. User errors are answered with
// msgb and return nil. Any returned error is fatal: an errr response has
// already been queued and the caller must end the session.
func (m *Machine) HandlePacket(ctx context.Context, out Responder, packet []byte) error {
	start := time.Now()

	f, err := frame.Parse(packet)
	if err != nil {
		return m.fail(out, "invalid", start, protocolError(err))
	}
	req, err := message.DecodeRequest(m.state.Phase(), f.Body)
	if err != nil {
		return m.fail(out, "invalid", start, protocolError(err))
	}
	op := req.Kind().String()

	resp, next, err := m.dispatch(ctx, req)
	if err != nil {
		rc := contextOther
		if _, ok := req.(message.Login); ok {
			rc = contextLogin
		}
		if uerr, ok := asUserError(rc, err); ok {
			m.logger.Info().Str("op", op).Str("notice", uerr.Notice).Msg("request rejected")
			observability.RecordRequest(op, observability.OutcomeUserError, time.Since(start))
			return m.send(out, message.Notice{Message: uerr.Notice})
		}
		return m.fail(out, op, start, err)
	}

	m.setState(next)
	observability.RecordRequest(op, observability.OutcomeOK, time.Since(start))
	return m.send(out, resp)
}

func (m *Machine) dispatch(ctx context.Context, req message.Request) (message.Response, State, error) {
	switch r := req.(type) {
	case message.Login:
		acct, err := m.ledger.Authenticate(ctx, r.ID, r.PasswordHash)
		if err != nil {
			return nil, m.state, err
		}
		m.logger.Info().Uint32("account", acct.ID).Msg("login")
		return menu(acct), Authenticated(acct), nil

	case message.Register:
		acct, err := m.ledger.CreateAccount(ctx, r.ID, r.PasswordHash, r.Name, r.Phone)
		if err != nil {
			return nil, m.state, err
		}
		m.logger.Info().Uint32("account", acct.ID).Msg("register")
		return menu(acct), Authenticated(acct), nil
	}

	self, ok := m.state.Account()
	if !ok {
		return nil, m.state, &ProtocolError{Reason: fmt.Sprintf("%s requires login", req.Kind())}
	}

	switch r := req.(type) {
	case message.Deposit:
		acct, err := m.ledger.Deposit(ctx, self.ID, r.Amount)
		if err != nil {
			return nil, m.state, err
		}
		return menu(acct), m.state.Refresh(acct), nil

	case message.Withdraw:
		acct, err := m.ledger.Withdraw(ctx, self.ID, r.Amount)
		if err != nil {
			return nil, m.state, err
		}
		return menu(acct), m.state.Refresh(acct), nil

	case message.Transfer:
		acct, err := m.ledger.Transfer(ctx, self.ID, r.Target, r.Amount)
		if err != nil {
			return nil, m.state, err
		}
		return menu(acct), m.state.Refresh(acct), nil

	case message.History:
		acct, err := m.ledger.FindAccount(ctx, self.ID)
		if err != nil {
			return nil, m.state, err
		}
		entries, err := m.ledger.TradeHistory(ctx, self.ID)
		if err != nil {
			return nil, m.state, err
		}
		return info(acct, entries), m.state.Refresh(acct), nil

	default:
		return nil, m.state, &ProtocolError{Reason: fmt.Sprintf("unsupported request %s", req.Kind())}
	}
}

func (m *Machine) setState(next State) {
	m.state = next
	if acct, ok := next.Account(); ok {
		m.bound.Store(uint64(acct.ID) + 1)
	} else {
		m.bound.Store(0)
	}
}

func (m *Machine) send(out Responder, resp message.Response) error {
	packet, err := message.EncodeResponse(resp)
	if err != nil {
		return fmt.Errorf("session: encode %s: %w", resp.Tag(), err)
	}
	return out.SendReliable(packet)
}

func (m *Machine) fail(out Responder, op string, start time.Time, err error) error {
	outcome := observability.OutcomeInternalError
	if _, ok := err.(*ProtocolError); ok {
		outcome = observability.OutcomeProtocolError
	}
	observability.RecordRequest(op, outcome, time.Since(start))
	m.logger.Warn().Err(err).Str("op", op).Msg("session failed")

	if sendErr := m.send(out, message.Fatal{Reason: FatalReason(err)}); sendErr != nil {
		m.logger.Debug().Err(sendErr).Msg("errr not queued")
	}
	return err
}

func view(acct ledger.Account) message.AccountView {
	return message.AccountView{
		ID:      acct.ID,
		Name:    acct.Name,
		Balance: acct.Balance,
		Phone:   acct.Phone,
	}
}

func menu(acct ledger.Account) message.Menu {
	return message.Menu{Account: view(acct)}
}

func info(acct ledger.Account, entries []ledger.TradeLogEntry) message.Info {
	records := make([]message.Record, 0, len(entries))
	for _, e := range entries {
		records = append(records, message.Record{
			TID:      e.TID,
			Receiver: e.Receiver,
			Sender:   e.Sender,
			Time:     e.Time,
			Amount:   e.Amount,
		})
	}
	return message.Info{
		CurrentPage: 1,
		TotalPage:   1,
		Account:     view(acct),
		Records:     records,
	}
}
