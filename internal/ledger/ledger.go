// Package ledger owns accounts, balances and the trade log behind a small
// façade that the session layer drives.
package ledger

import (
	"context"
	"errors"
	"strconv"
	"time"
)

const (
	BalanceCap    uint32 = 10000
	MaxNameBytes         = 60
	MaxPhoneBytes        = 20

	SenderDeposit  = "deposit"
	SenderWithdraw = "withdraw"
)

var (
	ErrNotFound            = errors.New("ledger: account not found")
	ErrCredentialMismatch  = errors.New("ledger: credential mismatch")
	ErrAlreadyExists       = errors.New("ledger: account already exists")
	ErrFieldTooLong        = errors.New("ledger: field length exceeded")
	ErrCapExceeded         = errors.New("ledger: balance cap exceeded")
	ErrInsufficientFunds   = errors.New("ledger: insufficient balance")
	ErrReceiverCapExceeded = errors.New("ledger: receiver balance cap exceeded")
	ErrSelfTransfer        = errors.New("ledger: transfer to own account")
	ErrInvalidAmount       = errors.New("ledger: amount must be positive")
)

// Account is a snapshot of one account row.
type Account struct {
	ID        uint32
	Name      string
	Balance   uint32
	Phone     string
	CreatedAt time.Time
}

// TradeLogEntry documents one credit-side balance change.
type TradeLogEntry struct {
	TID      int32
	Receiver uint32
	Sender   string
	Time     time.Time
	Amount   int32
}

// Store is the persistence contract behind Ledger.
//
// ApplyDelta and Transfer must check the cap/floor and mutate in one
// atomic step, writing the trade log entry in the same transaction.
type Store interface {
	FindAccount(ctx context.Context, id uint32) (Account, error)
	AccountCredential(ctx context.Context, id uint32) ([]byte, error)
	CreateAccount(ctx context.Context, acct Account, credentialHash []byte) (Account, error)
	AdjustBalance(ctx context.Context, id uint32, delta int64) (Account, error)
	AppendTradeLog(ctx context.Context, receiver uint32, sender string, amount int32) (TradeLogEntry, error)
	TradeHistory(ctx context.Context, accountID uint32) ([]TradeLogEntry, error)

	// ApplyDelta adds delta to the balance of id if the result stays in
	// [0, cap], and logs (id, label, delta). A positive delta that would
	// overflow returns ErrCapExceeded; a negative one that would underflow
	// returns ErrInsufficientFunds.
	ApplyDelta(ctx context.Context, id uint32, delta int64, cap uint32, label string) (Account, error)

	// Transfer moves amount from -> to and logs only the credit leg with
	// the stringified sender id. It returns the updated sender.
	Transfer(ctx context.Context, from, to, amount, cap uint32) (Account, error)

	Close() error
}

// SenderLabel is the trade log sender value used for transfers out of id.
func SenderLabel(id uint32) string {
	return strconv.FormatUint(uint64(id), 10)
}
