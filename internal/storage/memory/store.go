// Package memory is an in-process ledger.Store guarded by a single mutex.
package memory

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/danmuck/bankwire/internal/ledger"
)

type record struct {
	account    ledger.Account
	credential []byte
}

type Store struct {
	mu       sync.Mutex
	accounts map[uint32]*record
	logs     []ledger.TradeLogEntry
	nextTID  int32
	now      func() time.Time
}

func New() *Store {
	return &Store{
		accounts: make(map[uint32]*record),
		nextTID:  1,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

var _ ledger.Store = (*Store)(nil)

func (s *Store) FindAccount(_ context.Context, id uint32) (ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.accounts[id]
	if !ok {
		return ledger.Account{}, ledger.ErrNotFound
	}
	return rec.account, nil
}

func (s *Store) AccountCredential(_ context.Context, id uint32) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.accounts[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return append([]byte(nil), rec.credential...), nil
}

func (s *Store) CreateAccount(_ context.Context, acct ledger.Account, credentialHash []byte) (ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[acct.ID]; ok {
		return ledger.Account{}, ledger.ErrAlreadyExists
	}
	acct.Balance = 0
	acct.CreatedAt = s.now()
	s.accounts[acct.ID] = &record{
		account:    acct,
		credential: append([]byte(nil), credentialHash...),
	}
	return acct, nil
}

func (s *Store) AdjustBalance(_ context.Context, id uint32, delta int64) (ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.accounts[id]
	if !ok {
		return ledger.Account{}, ledger.ErrNotFound
	}
	next := int64(rec.account.Balance) + delta
	if next < 0 {
		return ledger.Account{}, ledger.ErrInsufficientFunds
	}
	if next > math.MaxUint32 {
		return ledger.Account{}, ledger.ErrCapExceeded
	}
	rec.account.Balance = uint32(next)
	return rec.account, nil
}

func (s *Store) AppendTradeLog(_ context.Context, receiver uint32, sender string, amount int32) (ledger.TradeLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(receiver, sender, amount), nil
}

func (s *Store) appendLocked(receiver uint32, sender string, amount int32) ledger.TradeLogEntry {
	entry := ledger.TradeLogEntry{
		TID:      s.nextTID,
		Receiver: receiver,
		Sender:   sender,
		Time:     s.now(),
		Amount:   amount,
	}
	s.nextTID++
	s.logs = append(s.logs, entry)
	return entry
}

func (s *Store) TradeHistory(_ context.Context, accountID uint32) ([]ledger.TradeLogEntry, error) {
	label := ledger.SenderLabel(accountID)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ledger.TradeLogEntry, 0)
	for _, entry := range s.logs {
		if entry.Receiver == accountID || entry.Sender == label {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (s *Store) ApplyDelta(_ context.Context, id uint32, delta int64, cap uint32, label string) (ledger.Account, error) {
	switch {
	case delta > math.MaxInt32:
		return ledger.Account{}, ledger.ErrCapExceeded
	case delta < math.MinInt32:
		return ledger.Account{}, ledger.ErrInsufficientFunds
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.accounts[id]
	if !ok {
		return ledger.Account{}, ledger.ErrNotFound
	}
	next := int64(rec.account.Balance) + delta
	switch {
	case next > int64(cap):
		return ledger.Account{}, ledger.ErrCapExceeded
	case next < 0:
		return ledger.Account{}, ledger.ErrInsufficientFunds
	}
	rec.account.Balance = uint32(next)
	s.appendLocked(id, label, int32(delta))
	return rec.account, nil
}

func (s *Store) Transfer(_ context.Context, from, to, amount, cap uint32) (ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.accounts[from]
	if !ok {
		return ledger.Account{}, ledger.ErrNotFound
	}
	dst, ok := s.accounts[to]
	if !ok {
		return ledger.Account{}, ledger.ErrNotFound
	}
	if uint64(dst.account.Balance)+uint64(amount) > uint64(cap) {
		return ledger.Account{}, ledger.ErrReceiverCapExceeded
	}
	if src.account.Balance < amount {
		return ledger.Account{}, ledger.ErrInsufficientFunds
	}
	dst.account.Balance += amount
	src.account.Balance -= amount
	s.appendLocked(to, ledger.SenderLabel(from), int32(amount))
	return src.account, nil
}

func (s *Store) Close() error { return nil }
