package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/danmuck/bankwire/internal/ledger"
	"github.com/danmuck/bankwire/internal/testutil/testlog"
)

func seed(t *testing.T, s *Store, ids ...uint32) {
	t.Helper()
	for _, id := range ids {
		if _, err := s.CreateAccount(context.Background(), ledger.Account{ID: id, Name: "n", Phone: "p"}, []byte("h")); err != nil {
			t.Fatalf("create %d: %v", id, err)
		}
	}
}

func TestCreateAccountUnique(t *testing.T) {
	testlog.Start(t)
	s := New()
	seed(t, s, 7)
	_, err := s.CreateAccount(context.Background(), ledger.Account{ID: 7, Name: "other"}, nil)
	if !errors.Is(err, ledger.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	acct, err := s.FindAccount(context.Background(), 7)
	if err != nil || acct.Name != "n" {
		t.Fatalf("original account changed: %+v err=%v", acct, err)
	}
}

func TestApplyDeltaGuardsBounds(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	s := New()
	seed(t, s, 1)

	if _, err := s.ApplyDelta(ctx, 1, 101, 100, ledger.SenderDeposit); !errors.Is(err, ledger.ErrCapExceeded) {
		t.Fatalf("expected ErrCapExceeded, got %v", err)
	}
	if _, err := s.ApplyDelta(ctx, 1, -1, 100, ledger.SenderWithdraw); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if _, err := s.ApplyDelta(ctx, 2, 1, 100, ledger.SenderDeposit); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	acct, err := s.ApplyDelta(ctx, 1, 100, 100, ledger.SenderDeposit)
	if err != nil || acct.Balance != 100 {
		t.Fatalf("deposit to cap: %+v err=%v", acct, err)
	}
	hist, _ := s.TradeHistory(ctx, 1)
	if len(hist) != 1 || hist[0].Amount != 100 || hist[0].Sender != ledger.SenderDeposit {
		t.Fatalf("unexpected history: %+v", hist)
	}
}

func TestApplyDeltaOutsideInt32IsBoundsError(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	s := New()
	seed(t, s, 1)

	if _, err := s.ApplyDelta(ctx, 1, 3_000_000_000, 4_000_000_000, ledger.SenderDeposit); !errors.Is(err, ledger.ErrCapExceeded) {
		t.Fatalf("expected ErrCapExceeded, got %v", err)
	}
	if _, err := s.ApplyDelta(ctx, 1, -3_000_000_000, 100, ledger.SenderWithdraw); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if hist, _ := s.TradeHistory(ctx, 1); len(hist) != 0 {
		t.Fatalf("rejected deltas were logged: %+v", hist)
	}
}

func TestAdjustBalanceIgnoresCapButKeepsFloor(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	s := New()
	seed(t, s, 1)

	acct, err := s.AdjustBalance(ctx, 1, 20000)
	if err != nil || acct.Balance != 20000 {
		t.Fatalf("adjust up: %+v err=%v", acct, err)
	}
	if _, err := s.AdjustBalance(ctx, 1, -20001); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	acct, err = s.AdjustBalance(ctx, 1, -20000)
	if err != nil || acct.Balance != 0 {
		t.Fatalf("adjust to floor: %+v err=%v", acct, err)
	}
	if _, err := s.AdjustBalance(ctx, 9, 1); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if hist, _ := s.TradeHistory(ctx, 1); len(hist) != 0 {
		t.Fatalf("adjust must not log: %+v", hist)
	}
}

func TestAppendTradeLogAssignsIncreasingTIDs(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	s := New()

	first, err := s.AppendTradeLog(ctx, 5, ledger.SenderDeposit, 0)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	second, _ := s.AppendTradeLog(ctx, 6, ledger.SenderLabel(5), 30)
	if second.TID <= first.TID {
		t.Fatalf("tids not increasing: %d then %d", first.TID, second.TID)
	}
	if first.Amount != 0 || first.Receiver != 5 || first.Time.IsZero() {
		t.Fatalf("unexpected entry: %+v", first)
	}

	hist, _ := s.TradeHistory(ctx, 5)
	if len(hist) != 2 || hist[0].TID != first.TID || hist[1].Sender != "5" {
		t.Fatalf("unexpected history for 5: %+v", hist)
	}
	hist, _ = s.TradeHistory(ctx, 6)
	if len(hist) != 1 || hist[0].Amount != 30 {
		t.Fatalf("unexpected history for 6: %+v", hist)
	}
}

func TestTransferLogsCreditLegOnly(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	s := New()
	seed(t, s, 1, 2)
	if _, err := s.ApplyDelta(ctx, 1, 50, 100, ledger.SenderDeposit); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	acct, err := s.Transfer(ctx, 1, 2, 20, 100)
	if err != nil || acct.Balance != 30 {
		t.Fatalf("transfer: %+v err=%v", acct, err)
	}
	hist, _ := s.TradeHistory(ctx, 2)
	if len(hist) != 1 || hist[0].Receiver != 2 || hist[0].Sender != "1" || hist[0].Amount != 20 {
		t.Fatalf("unexpected receiver history: %+v", hist)
	}
	hist, _ = s.TradeHistory(ctx, 1)
	if len(hist) != 2 {
		t.Fatalf("sender history should include deposit and outgoing transfer: %+v", hist)
	}
	if hist[0].TID >= hist[1].TID {
		t.Fatalf("history not in tid order: %+v", hist)
	}
}

func TestTransferRejectionsLeaveBalances(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	s := New()
	seed(t, s, 1, 2)
	_, _ = s.ApplyDelta(ctx, 1, 50, 100, ledger.SenderDeposit)
	_, _ = s.ApplyDelta(ctx, 2, 90, 100, ledger.SenderDeposit)

	if _, err := s.Transfer(ctx, 1, 3, 10, 100); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Transfer(ctx, 1, 2, 11, 100); !errors.Is(err, ledger.ErrReceiverCapExceeded) {
		t.Fatalf("expected ErrReceiverCapExceeded, got %v", err)
	}
	if _, err := s.Transfer(ctx, 2, 1, 60, 100); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	a, _ := s.FindAccount(ctx, 1)
	b, _ := s.FindAccount(ctx, 2)
	if a.Balance != 50 || b.Balance != 90 {
		t.Fatalf("balances changed: a=%d b=%d", a.Balance, b.Balance)
	}
}
