package trader

import (
	"context"
	"sync"
	"testing"

	"stock-trader-go/internal/ledger"
	"stock-trader-go/internal/models"
	"stock-trader-go/internal/oracle"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// MockOracle is a mock implementation of the oracle.Oracle interface.
type MockOracle struct {
	mock.Mock
}

func (m *MockOracle) Lookup(ctx context.Context, symbol string) (decimal.Decimal, error) {
	args := m.Called(symbol)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

// setupCore creates a real store on an in-memory database plus a mock oracle.
func setupCore(t *testing.T) (*ledger.Store, *MockOracle) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// A single connection keeps every test goroutine on the same in-memory
	// database.
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&models.Holder{}, &models.TradeRecord{}))

	return ledger.NewStore(db, zap.NewNop()), new(MockOracle)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newHolder(t *testing.T, store *ledger.Store, cash string) uint {
	t.Helper()
	holder, err := store.CreateHolder("alice", "hash", dec(cash))
	require.NoError(t, err)
	return holder.ID
}

func assertKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	var rej *Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, kind, rej.Kind)
	assert.NotEmpty(t, rej.Reason)
}

func TestBuy_ValidationRejectsBeforeAnyLookup(t *testing.T) {
	store, mockOracle := setupCore(t)
	holderID := newHolder(t, store, "10000.00")
	executor := NewExecutor(zap.NewNop(), mockOracle, store)

	_, err := executor.Buy(context.Background(), holderID, "ACME", 0)
	assertKind(t, err, KindValidation)

	_, err = executor.Buy(context.Background(), holderID, "ACME", -5)
	assertKind(t, err, KindValidation)

	_, err = executor.Buy(context.Background(), holderID, "   ", 3)
	assertKind(t, err, KindValidation)

	// No oracle round trip may have happened for malformed input.
	mockOracle.AssertNotCalled(t, "Lookup", mock.Anything)
}

func TestBuy_NormalizesSymbol(t *testing.T) {
	store, mockOracle := setupCore(t)
	holderID := newHolder(t, store, "10000.00")
	executor := NewExecutor(zap.NewNop(), mockOracle, store)

	mockOracle.On("Lookup", "ACME").Return(dec("50.00"), nil)

	receipt, err := executor.Buy(context.Background(), holderID, "  acme ", 2)
	require.NoError(t, err)
	assert.Equal(t, "ACME", receipt.Trade.Symbol)
	mockOracle.AssertExpectations(t)
}

func TestBuy_InsufficientFunds(t *testing.T) {
	store, mockOracle := setupCore(t)
	holderID := newHolder(t, store, "100.00")
	executor := NewExecutor(zap.NewNop(), mockOracle, store)

	mockOracle.On("Lookup", "ACME").Return(dec("50.00"), nil)

	_, err := executor.Buy(context.Background(), holderID, "ACME", 3)
	assertKind(t, err, KindInsufficientFunds)

	// The rejection must leave no side effects.
	trades, err := store.Trades(holderID)
	require.NoError(t, err)
	assert.Empty(t, trades)

	cash, err := store.Cash(holderID)
	require.NoError(t, err)
	assert.True(t, cash.Equal(dec("100.00")))
}

func TestBuy_OracleFailuresSurfaceUnchanged(t *testing.T) {
	store, mockOracle := setupCore(t)
	holderID := newHolder(t, store, "10000.00")
	executor := NewExecutor(zap.NewNop(), mockOracle, store)

	mockOracle.On("Lookup", "NOSUCH").Return(decimal.Zero, &oracle.Error{Kind: oracle.KindNotFound, Symbol: "NOSUCH", Reason: "no quote"})
	mockOracle.On("Lookup", "THROTTLED").Return(decimal.Zero, &oracle.Error{Kind: oracle.KindRateLimited, Symbol: "THROTTLED", Reason: "slow down"})
	mockOracle.On("Lookup", "DOWN").Return(decimal.Zero, &oracle.Error{Kind: oracle.KindUnavailable, Symbol: "DOWN", Reason: "timeout"})

	_, err := executor.Buy(context.Background(), holderID, "NOSUCH", 1)
	assertKind(t, err, KindPriceNotFound)

	_, err = executor.Buy(context.Background(), holderID, "THROTTLED", 1)
	assertKind(t, err, KindRateLimited)

	_, err = executor.Buy(context.Background(), holderID, "DOWN", 1)
	assertKind(t, err, KindPriceUnavailable)

	// Price failures happen before any ledger mutation.
	trades, err := store.Trades(holderID)
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestBuy_UnknownHolder(t *testing.T) {
	store, mockOracle := setupCore(t)
	executor := NewExecutor(zap.NewNop(), mockOracle, store)

	mockOracle.On("Lookup", "ACME").Return(dec("50.00"), nil)

	_, err := executor.Buy(context.Background(), 999, "ACME", 1)
	assertKind(t, err, KindHolderNotFound)
}

func TestSell_InsufficientShares(t *testing.T) {
	store, mockOracle := setupCore(t)
	holderID := newHolder(t, store, "10000.00")
	executor := NewExecutor(zap.NewNop(), mockOracle, store)

	mockOracle.On("Lookup", "ACME").Return(dec("50.00"), nil)

	_, err := executor.Buy(context.Background(), holderID, "ACME", 5)
	require.NoError(t, err)

	_, err = executor.Sell(context.Background(), holderID, "ACME", 6)
	assertKind(t, err, KindInsufficientShares)

	// A rejected sell is not clamped and leaves state untouched.
	positions, err := store.PositionsFor(holderID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), positions["ACME"])
}

func TestSell_ChecksHoldingsBeforePrice(t *testing.T) {
	store, mockOracle := setupCore(t)
	holderID := newHolder(t, store, "10000.00")
	executor := NewExecutor(zap.NewNop(), mockOracle, store)

	// Selling something never held must not cost an oracle round trip.
	_, err := executor.Sell(context.Background(), holderID, "ACME", 1)
	assertKind(t, err, KindInsufficientShares)
	mockOracle.AssertNotCalled(t, "Lookup", mock.Anything)
}

// The concrete ledger walkthrough: 10000.00 start, buy 10 ACME at 50.00,
// sell 4 at 60.00, then an oversized sell that must change nothing.
func TestExecutor_LedgerScenario(t *testing.T) {
	store, mockOracle := setupCore(t)
	holderID := newHolder(t, store, "10000.00")
	executor := NewExecutor(zap.NewNop(), mockOracle, store)

	mockOracle.On("Lookup", "ACME").Return(dec("50.00"), nil).Once()
	receipt, err := executor.Buy(context.Background(), holderID, "ACME", 10)
	require.NoError(t, err)
	assert.True(t, receipt.Total.Equal(dec("500.00")))
	assert.True(t, receipt.NewCash.Equal(dec("9500.00")))

	positions, err := store.PositionsFor(holderID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), positions["ACME"])

	mockOracle.On("Lookup", "ACME").Return(dec("60.00"), nil).Once()
	receipt, err = executor.Sell(context.Background(), holderID, "ACME", 4)
	require.NoError(t, err)
	assert.True(t, receipt.Total.Equal(dec("240.00")))
	assert.True(t, receipt.NewCash.Equal(dec("9740.00")))

	positions, err = store.PositionsFor(holderID)
	require.NoError(t, err)
	assert.Equal(t, int64(6), positions["ACME"])

	_, err = executor.Sell(context.Background(), holderID, "ACME", 10)
	assertKind(t, err, KindInsufficientShares)

	cash, err := store.Cash(holderID)
	require.NoError(t, err)
	assert.True(t, cash.Equal(dec("9740.00")))
	positions, err = store.PositionsFor(holderID)
	require.NoError(t, err)
	assert.Equal(t, int64(6), positions["ACME"])
}

// Buying and immediately selling at the same price returns cash exactly to
// its pre-trade value; decimal arithmetic leaves no rounding residue.
func TestExecutor_RoundTrip(t *testing.T) {
	store, mockOracle := setupCore(t)
	holderID := newHolder(t, store, "10000.00")
	executor := NewExecutor(zap.NewNop(), mockOracle, store)

	mockOracle.On("Lookup", "ACME").Return(dec("33.33"), nil)

	_, err := executor.Buy(context.Background(), holderID, "ACME", 7)
	require.NoError(t, err)

	receipt, err := executor.Sell(context.Background(), holderID, "ACME", 7)
	require.NoError(t, err)
	assert.True(t, receipt.NewCash.Equal(dec("10000.00")))

	cash, err := store.Cash(holderID)
	require.NoError(t, err)
	assert.True(t, cash.Equal(dec("10000.00")))
}

// Two concurrent buys, each affordable alone but not together: exactly one
// commits, the other is rejected for funds, and the balance never goes
// negative.
func TestBuy_ConcurrentDoubleSpend(t *testing.T) {
	store, mockOracle := setupCore(t)
	holderID := newHolder(t, store, "100.00")
	executor := NewExecutor(zap.NewNop(), mockOracle, store)

	mockOracle.On("Lookup", "ACME").Return(dec("80.00"), nil)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := executor.Buy(context.Background(), holderID, "ACME", 1)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var successes, rejections int
	for err := range results {
		if err == nil {
			successes++
			continue
		}
		var rej *Rejection
		require.ErrorAs(t, err, &rej)
		assert.Equal(t, KindInsufficientFunds, rej.Kind)
		rejections++
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, rejections)

	cash, err := store.Cash(holderID)
	require.NoError(t, err)
	assert.True(t, cash.Equal(dec("20.00")))
	assert.False(t, cash.IsNegative())

	trades, err := store.Trades(holderID)
	require.NoError(t, err)
	assert.Len(t, trades, 1)
}

// Same race on the sell side: two sells of the same position, jointly larger
// than the holding, end in one commit and one InsufficientShares.
func TestSell_ConcurrentOverdraw(t *testing.T) {
	store, mockOracle := setupCore(t)
	holderID := newHolder(t, store, "10000.00")
	executor := NewExecutor(zap.NewNop(), mockOracle, store)

	mockOracle.On("Lookup", "ACME").Return(dec("50.00"), nil)

	_, err := executor.Buy(context.Background(), holderID, "ACME", 3)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := executor.Sell(context.Background(), holderID, "ACME", 2)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var successes, rejections int
	for err := range results {
		if err == nil {
			successes++
			continue
		}
		var rej *Rejection
		require.ErrorAs(t, err, &rej)
		assert.Equal(t, KindInsufficientShares, rej.Kind)
		rejections++
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, rejections)

	positions, err := store.PositionsFor(holderID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), positions["ACME"])
}

// Replay across the executor path: after a mixed sequence of trades the log
// folded over the initial balance matches the live cell.
func TestExecutor_ReplayConsistency(t *testing.T) {
	store, mockOracle := setupCore(t)
	holderID := newHolder(t, store, "10000.00")
	executor := NewExecutor(zap.NewNop(), mockOracle, store)

	mockOracle.On("Lookup", "ACME").Return(dec("50.00"), nil)
	mockOracle.On("Lookup", "GLOBEX").Return(dec("12.75"), nil)

	_, err := executor.Buy(context.Background(), holderID, "ACME", 10)
	require.NoError(t, err)
	_, err = executor.Buy(context.Background(), holderID, "GLOBEX", 8)
	require.NoError(t, err)
	_, err = executor.Sell(context.Background(), holderID, "ACME", 5)
	require.NoError(t, err)
	_, err = executor.Sell(context.Background(), holderID, "GLOBEX", 8)
	require.NoError(t, err)

	trades, err := store.Trades(holderID)
	require.NoError(t, err)

	replayed := dec("10000.00")
	for _, trade := range trades {
		replayed = replayed.Add(trade.CashDelta())
	}

	cash, err := store.Cash(holderID)
	require.NoError(t, err)
	assert.True(t, cash.Equal(replayed), "replayed %s, live cell %s", replayed, cash)
}
