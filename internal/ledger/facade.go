package ledger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

type Option func(*Ledger)

// WithBalanceCap overrides BalanceCap. Values of 0 are ignored.
func WithBalanceCap(cap uint32) Option {
	return func(l *Ledger) {
		if cap > 0 {
			l.cap = cap
		}
	}
}

// WithHashCost sets the bcrypt cost used for stored credentials.
func WithHashCost(cost int) Option {
	return func(l *Ledger) {
		l.cost = cost
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

// Ledger wraps a Store with credential handling and business rules.
type Ledger struct {
	store  Store
	cap    uint32
	cost   int
	logger zerolog.Logger
}

func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		cap:    BalanceCap,
		cost:   bcrypt.DefaultCost,
		logger: log.Logger.With().Str("component", "ledger").Logger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) Cap() uint32 { return l.cap }

func (l *Ledger) Close() error { return l.store.Close() }

func (l *Ledger) FindAccount(ctx context.Context, id uint32) (Account, error) {
	return l.store.FindAccount(ctx, id)
}

// Authenticate checks credential against the stored hash for id.
func (l *Ledger) Authenticate(ctx context.Context, id uint32, credential int32) (Account, error) {
	hash, err := l.store.AccountCredential(ctx, id)
	if err != nil {
		return Account{}, err
	}
	if err := bcrypt.CompareHashAndPassword(hash, credentialBytes(credential)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			l.logger.Debug().Uint32("account", id).Msg("ledger.Authenticate mismatch")
			return Account{}, ErrCredentialMismatch
		}
		return Account{}, fmt.Errorf("ledger: compare credential: %w", err)
	}
	return l.store.FindAccount(ctx, id)
}

// CreateAccount registers id with a zero balance.
func (l *Ledger) CreateAccount(ctx context.Context, id uint32, credential int32, name, phone string) (Account, error) {
	if len(name) > MaxNameBytes || len(phone) > MaxPhoneBytes {
		return Account{}, ErrFieldTooLong
	}
	hash, err := bcrypt.GenerateFromPassword(credentialBytes(credential), l.cost)
	if err != nil {
		return Account{}, fmt.Errorf("ledger: hash credential: %w", err)
	}
	acct, err := l.store.CreateAccount(ctx, Account{ID: id, Name: name, Phone: phone}, hash)
	if err != nil {
		return Account{}, err
	}
	l.logger.Info().Uint32("account", id).Msg("account created")
	return acct, nil
}

// AdjustBalance applies delta without checking the cap. Callers that need the
// cap/floor guarantee use Deposit, Withdraw or Transfer.
func (l *Ledger) AdjustBalance(ctx context.Context, id uint32, delta int64) (Account, error) {
	return l.store.AdjustBalance(ctx, id, delta)
}

func (l *Ledger) AppendTradeLog(ctx context.Context, receiver uint32, sender string, amount int32) (TradeLogEntry, error) {
	return l.store.AppendTradeLog(ctx, receiver, sender, amount)
}

// TradeHistory returns entries where id is the receiver or the stringified
// sender, in ascending tid order.
func (l *Ledger) TradeHistory(ctx context.Context, id uint32) ([]TradeLogEntry, error) {
	return l.store.TradeHistory(ctx, id)
}

func (l *Ledger) Deposit(ctx context.Context, id, amount uint32) (Account, error) {
	if amount == 0 {
		return Account{}, ErrInvalidAmount
	}
	if amount > l.cap {
		return Account{}, ErrCapExceeded
	}
	acct, err := l.store.ApplyDelta(ctx, id, int64(amount), l.cap, SenderDeposit)
	if err != nil {
		return Account{}, err
	}
	l.logger.Info().Uint32("account", id).Uint32("amount", amount).Uint32("balance", acct.Balance).Msg("deposit")
	return acct, nil
}

func (l *Ledger) Withdraw(ctx context.Context, id, amount uint32) (Account, error) {
	if amount == 0 {
		return Account{}, ErrInvalidAmount
	}
	// balances never exceed the cap
	if amount > l.cap {
		return Account{}, ErrInsufficientFunds
	}
	acct, err := l.store.ApplyDelta(ctx, id, -int64(amount), l.cap, SenderWithdraw)
	if err != nil {
		return Account{}, err
	}
	l.logger.Info().Uint32("account", id).Uint32("amount", amount).Uint32("balance", acct.Balance).Msg("withdraw")
	return acct, nil
}

// Transfer moves amount from -> to and returns the updated sender.
func (l *Ledger) Transfer(ctx context.Context, from, to, amount uint32) (Account, error) {
	if amount == 0 {
		return Account{}, ErrInvalidAmount
	}
	if from == to {
		return Account{}, ErrSelfTransfer
	}
	acct, err := l.store.Transfer(ctx, from, to, amount, l.cap)
	if err != nil {
		return Account{}, err
	}
	l.logger.Info().
		Uint32("account", from).
		Uint32("target", to).
		Uint32("amount", amount).
		Uint32("balance", acct.Balance).
		Msg("transfer")
	return acct, nil
}

func credentialBytes(credential int32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(credential))
	return b[:]
}
