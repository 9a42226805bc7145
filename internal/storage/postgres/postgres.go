// Package postgres is the durable ledger.Store backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/danmuck/bankwire/internal/ledger"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const pqCheckViolation = "23514"

type Storage struct {
	db     *sql.DB
	logger zerolog.Logger
}

var _ ledger.Store = (*Storage)(nil)

func New(ctx context.Context, dsn string) (*Storage, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage.postgres.New: open: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage.postgres.New: ping: %w", err)
	}
	return &Storage{
		db:     db,
		logger: log.Logger.With().Str("component", "storage.postgres").Logger(),
	}, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (ledger.Account, error) {
	var (
		acct    ledger.Account
		id      int64
		balance int64
	)
	if err := row.Scan(&id, &acct.Name, &balance, &acct.Phone, &acct.CreatedAt); err != nil {
		return ledger.Account{}, err
	}
	acct.ID = uint32(id)
	acct.Balance = uint32(balance)
	acct.CreatedAt = acct.CreatedAt.UTC()
	return acct, nil
}

func (s *Storage) FindAccount(ctx context.Context, id uint32) (ledger.Account, error) {
	const op = "storage.postgres.FindAccount"

	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, balance, phone, created_at FROM accounts WHERE id = $1`, int64(id))
	acct, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Account{}, ledger.ErrNotFound
		}
		return ledger.Account{}, fmt.Errorf("%s: %w", op, err)
	}
	return acct, nil
}

func (s *Storage) AccountCredential(ctx context.Context, id uint32) ([]byte, error) {
	const op = "storage.postgres.AccountCredential"

	var hash []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT credential_hash FROM accounts WHERE id = $1`, int64(id)).Scan(&hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return hash, nil
}

func (s *Storage) CreateAccount(ctx context.Context, acct ledger.Account, credentialHash []byte) (ledger.Account, error) {
	const op = "storage.postgres.CreateAccount"

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO accounts (id, credential_hash, balance, name, phone)
		VALUES ($1, $2, 0, $3, $4)
		ON CONFLICT (id) DO NOTHING
		RETURNING id, name, balance, phone, created_at`,
		int64(acct.ID), credentialHash, acct.Name, acct.Phone)
	created, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Account{}, ledger.ErrAlreadyExists
		}
		return ledger.Account{}, fmt.Errorf("%s: %w", op, err)
	}
	return created, nil
}

func (s *Storage) AdjustBalance(ctx context.Context, id uint32, delta int64) (ledger.Account, error) {
	const op = "storage.postgres.AdjustBalance"

	row := s.db.QueryRowContext(ctx, `
		UPDATE accounts SET balance = balance + $2 WHERE id = $1
		RETURNING id, name, balance, phone, created_at`,
		int64(id), delta)
	acct, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Account{}, ledger.ErrNotFound
		}
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqCheckViolation {
			return ledger.Account{}, ledger.ErrInsufficientFunds
		}
		return ledger.Account{}, fmt.Errorf("%s: %w", op, err)
	}
	return acct, nil
}

func (s *Storage) AppendTradeLog(ctx context.Context, receiver uint32, sender string, amount int32) (ledger.TradeLogEntry, error) {
	const op = "storage.postgres.AppendTradeLog"

	entry, err := insertTradeLog(ctx, s.db, receiver, sender, amount)
	if err != nil {
		return ledger.TradeLogEntry{}, fmt.Errorf("%s: %w", op, err)
	}
	return entry, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertTradeLog(ctx context.Context, q queryRower, receiver uint32, sender string, amount int32) (ledger.TradeLogEntry, error) {
	entry := ledger.TradeLogEntry{Receiver: receiver, Sender: sender, Amount: amount}
	err := q.QueryRowContext(ctx, `
		INSERT INTO trade_logs (receiver, sender, amount) VALUES ($1, $2, $3)
		RETURNING tid, time`,
		int64(receiver), sender, amount).Scan(&entry.TID, &entry.Time)
	entry.Time = entry.Time.UTC()
	return entry, err
}

func (s *Storage) TradeHistory(ctx context.Context, accountID uint32) ([]ledger.TradeLogEntry, error) {
	const op = "storage.postgres.TradeHistory"

	rows, err := s.db.QueryContext(ctx, `
		SELECT tid, receiver, sender, time, amount FROM trade_logs
		WHERE receiver = $1 OR sender = $2
		ORDER BY tid`,
		int64(accountID), ledger.SenderLabel(accountID))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := make([]ledger.TradeLogEntry, 0)
	for rows.Next() {
		var (
			entry    ledger.TradeLogEntry
			receiver int64
		)
		if err := rows.Scan(&entry.TID, &receiver, &entry.Sender, &entry.Time, &entry.Amount); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		entry.Receiver = uint32(receiver)
		entry.Time = entry.Time.UTC()
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

// ApplyDelta runs the guarded update and its log insert in one transaction.
func (s *Storage) ApplyDelta(ctx context.Context, id uint32, delta int64, cap uint32, label string) (ledger.Account, error) {
	const op = "storage.postgres.ApplyDelta"

	// No balance fits an i32 log entry beyond these bounds.
	switch {
	case delta > math.MaxInt32:
		return ledger.Account{}, ledger.ErrCapExceeded
	case delta < math.MinInt32:
		return ledger.Account{}, ledger.ErrInsufficientFunds
	}
	var acct ledger.Account
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			UPDATE accounts SET balance = balance + $2
			WHERE id = $1 AND balance + $2 BETWEEN 0 AND $3
			RETURNING id, name, balance, phone, created_at`,
			int64(id), delta, int64(cap))
		var err error
		acct, err = scanAccount(row)
		if errors.Is(err, sql.ErrNoRows) {
			return s.boundsError(ctx, tx, id, delta)
		}
		if err != nil {
			return err
		}
		_, err = insertTradeLog(ctx, tx, id, label, int32(delta))
		return err
	})
	if err != nil {
		if isLedgerError(err) {
			return ledger.Account{}, err
		}
		return ledger.Account{}, fmt.Errorf("%s: %w", op, err)
	}
	return acct, nil
}

// boundsError explains why a guarded update matched no row.
func (s *Storage) boundsError(ctx context.Context, tx *sql.Tx, id uint32, delta int64) error {
	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, int64(id)).Scan(&exists); err != nil {
		return err
	}
	switch {
	case !exists:
		return ledger.ErrNotFound
	case delta > 0:
		return ledger.ErrCapExceeded
	default:
		return ledger.ErrInsufficientFunds
	}
}

// Transfer locks both rows in id order, checks receiver cap then sender
// funds, and commits both updates with the credit-leg log entry.
func (s *Storage) Transfer(ctx context.Context, from, to, amount, cap uint32) (ledger.Account, error) {
	const op = "storage.postgres.Transfer"

	var acct ledger.Account
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id, balance FROM accounts
			WHERE id IN ($1, $2)
			ORDER BY id
			FOR UPDATE`,
			int64(from), int64(to))
		if err != nil {
			return err
		}
		balances := make(map[uint32]int64, 2)
		for rows.Next() {
			var id, balance int64
			if err := rows.Scan(&id, &balance); err != nil {
				rows.Close()
				return err
			}
			balances[uint32(id)] = balance
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		srcBalance, ok := balances[from]
		if !ok {
			return ledger.ErrNotFound
		}
		dstBalance, ok := balances[to]
		if !ok {
			return ledger.ErrNotFound
		}
		if dstBalance+int64(amount) > int64(cap) {
			return ledger.ErrReceiverCapExceeded
		}
		if srcBalance < int64(amount) {
			return ledger.ErrInsufficientFunds
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE accounts SET balance = balance + $2 WHERE id = $1`, int64(to), int64(amount)); err != nil {
			return err
		}
		row := tx.QueryRowContext(ctx, `
			UPDATE accounts SET balance = balance - $2 WHERE id = $1
			RETURNING id, name, balance, phone, created_at`,
			int64(from), int64(amount))
		if acct, err = scanAccount(row); err != nil {
			return err
		}
		_, err = insertTradeLog(ctx, tx, to, ledger.SenderLabel(from), int32(amount))
		return err
	})
	if err != nil {
		if isLedgerError(err) {
			return ledger.Account{}, err
		}
		return ledger.Account{}, fmt.Errorf("%s: %w", op, err)
	}
	return acct, nil
}

func (s *Storage) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Warn().Err(rbErr).Msg("storage.postgres rollback")
		}
		return err
	}
	return tx.Commit()
}

func isLedgerError(err error) bool {
	return errors.Is(err, ledger.ErrNotFound) ||
		errors.Is(err, ledger.ErrCapExceeded) ||
		errors.Is(err, ledger.ErrInsufficientFunds) ||
		errors.Is(err, ledger.ErrReceiverCapExceeded)
}
