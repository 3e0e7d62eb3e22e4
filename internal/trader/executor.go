package trader

import (
	"context"
	"errors"
	"strings"

	"stock-trader-go/internal/ledger"
	"stock-trader-go/internal/models"
	"stock-trader-go/internal/oracle"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Executor validates and atomically commits buy and sell orders. It is safe
// for concurrent use: per-holder serialization comes from the store's commit
// primitive, not from any lock held here.
type Executor struct {
	logger *zap.Logger
	oracle oracle.Oracle
	store  *ledger.Store
}

// NewExecutor creates a new trade executor.
func NewExecutor(logger *zap.Logger, o oracle.Oracle, store *ledger.Store) *Executor {
	return &Executor{
		logger: logger,
		oracle: o,
		store:  store,
	}
}

// Receipt describes a committed trade.
type Receipt struct {
	Trade   *models.TradeRecord
	Total   decimal.Decimal // price × shares
	NewCash decimal.Decimal
}

// normalizeSymbol uppercases and trims a symbol. The web layer already
// strips whitespace, but ranges and shape are re-checked here regardless.
func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func validateInput(symbol string, shares int64) (string, *Rejection) {
	sym := normalizeSymbol(symbol)
	if sym == "" {
		return "", reject(KindValidation, "must provide a symbol")
	}
	if shares <= 0 {
		return "", reject(KindValidation, "share count must be a positive integer")
	}
	return sym, nil
}

// Buy purchases shares of symbol at the oracle's current price. Input is
// validated before any external call; the price is resolved before the
// affordability check; the commit is the single atomic boundary. On a commit
// conflict the balance is re-read and re-validated for exactly one retry.
func (e *Executor) Buy(ctx context.Context, holderID uint, symbol string, shares int64) (*Receipt, error) {
	sym, rej := validateInput(symbol, shares)
	if rej != nil {
		return nil, rej
	}

	l := e.logger.With(
		zap.Uint("holder_id", holderID),
		zap.String("side", models.SideBuy),
		zap.String("symbol", sym),
		zap.Int64("shares", shares),
	)

	price, err := e.oracle.Lookup(ctx, sym)
	if err != nil {
		l.Warn("Price resolution failed", zap.Error(err))
		return nil, classify(err)
	}
	cost := price.Mul(decimal.NewFromInt(shares))

	for attempt := 0; ; attempt++ {
		state, err := e.store.State(holderID)
		if err != nil {
			return nil, classify(err)
		}
		if cost.GreaterThan(state.Cash) {
			l.Info("Buy rejected, insufficient funds",
				zap.String("cost", cost.String()),
				zap.String("cash", state.Cash.String()))
			return nil, reject(KindInsufficientFunds, "insufficient funds: need %s, have %s", cost, state.Cash)
		}

		rec := &models.TradeRecord{
			HolderID: holderID,
			Side:     models.SideBuy,
			Symbol:   sym,
			Price:    price,
			Shares:   shares,
		}
		committed, err := e.store.Commit(rec, cost.Neg(), state.Version)
		if err == nil {
			newCash := state.Cash.Sub(cost)
			l.Info("Buy committed",
				zap.Uint("trade_id", committed.ID),
				zap.String("total_cost", cost.String()),
				zap.String("new_cash", newCash.String()))
			return &Receipt{Trade: committed, Total: cost, NewCash: newCash}, nil
		}
		if errors.Is(err, ledger.ErrConflict) && attempt == 0 {
			// Balance moved under us; re-read and re-validate once.
			l.Warn("Commit conflict, revalidating")
			continue
		}
		rej := classify(err)
		if rej.Fault() {
			l.Error("Buy commit failed", zap.Error(err))
		}
		return nil, rej
	}
}

// Sell disposes of shares of symbol at the oracle's current price. Holdings
// are checked before the oracle round trip; on a commit conflict both
// holdings and balance are re-validated for exactly one retry, since a
// concurrent sell of the same position may have drained it.
func (e *Executor) Sell(ctx context.Context, holderID uint, symbol string, shares int64) (*Receipt, error) {
	sym, rej := validateInput(symbol, shares)
	if rej != nil {
		return nil, rej
	}

	l := e.logger.With(
		zap.Uint("holder_id", holderID),
		zap.String("side", models.SideSell),
		zap.String("symbol", sym),
		zap.Int64("shares", shares),
	)

	// The version token is read before the holdings check, so any trade that
	// lands between the check and the commit shows up as a commit conflict.
	state, err := e.store.State(holderID)
	if err != nil {
		return nil, classify(err)
	}
	if rej := e.checkHoldings(holderID, sym, shares, l); rej != nil {
		return nil, rej
	}

	price, err := e.oracle.Lookup(ctx, sym)
	if err != nil {
		l.Warn("Price resolution failed", zap.Error(err))
		return nil, classify(err)
	}
	proceeds := price.Mul(decimal.NewFromInt(shares))

	for attempt := 0; ; attempt++ {
		rec := &models.TradeRecord{
			HolderID: holderID,
			Side:     models.SideSell,
			Symbol:   sym,
			Price:    price,
			Shares:   shares,
		}
		committed, err := e.store.Commit(rec, proceeds, state.Version)
		if err == nil {
			newCash := state.Cash.Add(proceeds)
			l.Info("Sell committed",
				zap.Uint("trade_id", committed.ID),
				zap.String("proceeds", proceeds.String()),
				zap.String("new_cash", newCash.String()))
			return &Receipt{Trade: committed, Total: proceeds, NewCash: newCash}, nil
		}
		if errors.Is(err, ledger.ErrConflict) && attempt == 0 {
			// A concurrent commit moved the account; re-read holdings as
			// well as the balance, a parallel sell may have drained the
			// position.
			l.Warn("Commit conflict, revalidating")
			state, err = e.store.State(holderID)
			if err != nil {
				return nil, classify(err)
			}
			if rej := e.checkHoldings(holderID, sym, shares, l); rej != nil {
				return nil, rej
			}
			continue
		}
		rej := classify(err)
		if rej.Fault() {
			l.Error("Sell commit failed", zap.Error(err))
		}
		return nil, rej
	}
}

// checkHoldings verifies the holder owns at least shares of sym.
func (e *Executor) checkHoldings(holderID uint, sym string, shares int64, l *zap.Logger) *Rejection {
	positions, err := e.store.PositionsFor(holderID)
	if err != nil {
		rej := classify(err)
		if rej.Fault() {
			l.Error("Position aggregation failed", zap.Error(err))
		}
		return rej
	}
	if held := positions[sym]; shares > held {
		l.Info("Sell rejected, insufficient shares", zap.Int64("held", held))
		return reject(KindInsufficientShares, "insufficient shares: have %d of %s, tried to sell %d", held, sym, shares)
	}
	return nil
}
