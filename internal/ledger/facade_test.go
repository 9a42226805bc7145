package ledger_test

import (
	"context"
	"math/rand"
	"sync"
	"testing"

	"github.com/danmuck/bankwire/internal/ledger"
	"github.com/danmuck/bankwire/internal/storage/memory"
	"github.com/danmuck/bankwire/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	return ledger.New(memory.New(), ledger.WithHashCost(bcrypt.MinCost))
}

func TestAuthenticate(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	l := newLedger(t)

	_, err := l.CreateAccount(ctx, 1001, 555, "Alice", "123")
	require.NoError(t, err)

	acct, err := l.Authenticate(ctx, 1001, 555)
	require.NoError(t, err)
	require.Equal(t, "Alice", acct.Name)

	_, err = l.Authenticate(ctx, 1001, 556)
	require.ErrorIs(t, err, ledger.ErrCredentialMismatch)
	_, err = l.Authenticate(ctx, 9, 555)
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestCreateAccountValidation(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	l := newLedger(t)

	long := make([]byte, ledger.MaxNameBytes+1)
	for i := range long {
		long[i] = 'x'
	}
	_, err := l.CreateAccount(ctx, 1, 1, string(long), "1")
	require.ErrorIs(t, err, ledger.ErrFieldTooLong)
	_, err = l.CreateAccount(ctx, 1, 1, "ok", "012345678901234567890")
	require.ErrorIs(t, err, ledger.ErrFieldTooLong)

	_, err = l.CreateAccount(ctx, 1, 1, string(long[:ledger.MaxNameBytes]), "01234567890123456789")
	require.NoError(t, err)
	_, err = l.CreateAccount(ctx, 1, 2, "again", "")
	require.ErrorIs(t, err, ledger.ErrAlreadyExists)

	acct, err := l.Authenticate(ctx, 1, 1)
	require.NoError(t, err)
	require.Equal(t, uint32(0), acct.Balance)
}

func TestDepositWithdrawTransferScenario(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	l := newLedger(t)
	_, err := l.CreateAccount(ctx, 1001, 555, "Alice", "123")
	require.NoError(t, err)
	_, err = l.CreateAccount(ctx, 1002, 1, "Bob", "456")
	require.NoError(t, err)

	acct, err := l.Deposit(ctx, 1001, 500)
	require.NoError(t, err)
	require.Equal(t, uint32(500), acct.Balance)
	acct, err = l.Withdraw(ctx, 1001, 200)
	require.NoError(t, err)
	require.Equal(t, uint32(300), acct.Balance)
	acct, err = l.Transfer(ctx, 1001, 1002, 100)
	require.NoError(t, err)
	require.Equal(t, uint32(200), acct.Balance)

	bob, err := l.FindAccount(ctx, 1002)
	require.NoError(t, err)
	require.Equal(t, uint32(100), bob.Balance)

	hist, err := l.TradeHistory(ctx, 1001)
	require.NoError(t, err)
	require.Len(t, hist, 3)
	require.Equal(t, ledger.SenderDeposit, hist[0].Sender)
	require.Equal(t, int32(500), hist[0].Amount)
	require.Equal(t, ledger.SenderWithdraw, hist[1].Sender)
	require.Equal(t, int32(-200), hist[1].Amount)
	require.Equal(t, uint32(1002), hist[2].Receiver)
	require.Equal(t, "1001", hist[2].Sender)

	hist, err = l.TradeHistory(ctx, 1002)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	require.Equal(t, int32(100), hist[0].Amount)
}

func TestRejectionsDoNotMutate(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	l := newLedger(t)
	_, _ = l.CreateAccount(ctx, 1, 1, "a", "")
	_, _ = l.CreateAccount(ctx, 2, 2, "b", "")
	_, err := l.Deposit(ctx, 1, 9000)
	require.NoError(t, err)
	_, err = l.Deposit(ctx, 2, 9950)
	require.NoError(t, err)

	_, err = l.Deposit(ctx, 1, 1001)
	require.ErrorIs(t, err, ledger.ErrCapExceeded)
	_, err = l.Withdraw(ctx, 1, 9001)
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	_, err = l.Transfer(ctx, 1, 2, 51)
	require.ErrorIs(t, err, ledger.ErrReceiverCapExceeded)
	_, err = l.Transfer(ctx, 1, 1, 1)
	require.ErrorIs(t, err, ledger.ErrSelfTransfer)
	_, err = l.Deposit(ctx, 1, 0)
	require.ErrorIs(t, err, ledger.ErrInvalidAmount)
	_, err = l.Transfer(ctx, 1, 3, 1)
	require.ErrorIs(t, err, ledger.ErrNotFound)

	a, _ := l.FindAccount(ctx, 1)
	b, _ := l.FindAccount(ctx, 2)
	require.Equal(t, uint32(9000), a.Balance)
	require.Equal(t, uint32(9950), b.Balance)
	hist, _ := l.TradeHistory(ctx, 1)
	require.Len(t, hist, 1)
}

func TestBalanceStaysWithinBoundsUnderConcurrency(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	l := newLedger(t)
	ids := []uint32{1, 2, 3}
	for _, id := range ids {
		_, err := l.CreateAccount(ctx, id, 0, "x", "")
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 300; i++ {
				id := ids[rng.Intn(len(ids))]
				amount := uint32(rng.Intn(4000) + 1)
				switch rng.Intn(3) {
				case 0:
					_, _ = l.Deposit(ctx, id, amount)
				case 1:
					_, _ = l.Withdraw(ctx, id, amount)
				default:
					_, _ = l.Transfer(ctx, id, ids[rng.Intn(len(ids))], amount)
				}
			}
		}(int64(w))
	}
	wg.Wait()

	for _, id := range ids {
		acct, err := l.FindAccount(ctx, id)
		require.NoError(t, err)
		require.LessOrEqual(t, acct.Balance, ledger.BalanceCap)
	}
}

func TestWithBalanceCap(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	l := ledger.New(memory.New(), ledger.WithHashCost(bcrypt.MinCost), ledger.WithBalanceCap(50))
	require.Equal(t, uint32(50), l.Cap())
	_, _ = l.CreateAccount(ctx, 1, 1, "a", "")
	_, err := l.Deposit(ctx, 1, 51)
	require.ErrorIs(t, err, ledger.ErrCapExceeded)
}

func TestOversizedAmountsMapToBoundErrors(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	l := newLedger(t)
	_, err := l.CreateAccount(ctx, 1, 1, "a", "")
	require.NoError(t, err)

	_, err = l.Deposit(ctx, 1, 3_000_000_000)
	require.ErrorIs(t, err, ledger.ErrCapExceeded)
	_, err = l.Withdraw(ctx, 1, 3_000_000_000)
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	_, err = l.Withdraw(ctx, 1, ledger.BalanceCap+1)
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)
}

func TestPrimitiveAdjustAndLog(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	l := newLedger(t)
	_, err := l.CreateAccount(ctx, 1, 1, "a", "")
	require.NoError(t, err)

	acct, err := l.AdjustBalance(ctx, 1, 70)
	require.NoError(t, err)
	require.Equal(t, uint32(70), acct.Balance)
	_, err = l.AdjustBalance(ctx, 1, -71)
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	entry, err := l.AppendTradeLog(ctx, 1, ledger.SenderDeposit, 0)
	require.NoError(t, err)
	require.Equal(t, int32(0), entry.Amount)

	hist, err := l.TradeHistory(ctx, 1)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	require.Equal(t, entry.TID, hist[0].TID)

	acct, err = l.FindAccount(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, uint32(70), acct.Balance)
}
