package trader

import (
	"context"
	"sort"
	"sync"

	"stock-trader-go/internal/ledger"
	"stock-trader-go/internal/oracle"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Valuator produces read-only net-worth snapshots by combining the holder's
// aggregated positions with live prices and the cash cell.
type Valuator struct {
	logger *zap.Logger
	oracle oracle.Oracle
	store  *ledger.Store
}

// NewValuator creates a new portfolio valuator.
func NewValuator(logger *zap.Logger, o oracle.Oracle, store *ledger.Store) *Valuator {
	return &Valuator{
		logger: logger,
		oracle: o,
		store:  store,
	}
}

// PositionValue is one live-priced holding.
type PositionValue struct {
	Symbol string          `json:"symbol"`
	Shares int64           `json:"shares"`
	Price  decimal.Decimal `json:"price"`
	Value  decimal.Decimal `json:"value"`
}

// Valuation is a holder's net-worth snapshot. Partial is set when at least
// one symbol could not be priced; such symbols are listed in FailedSymbols
// and excluded from both Positions and GrandTotal.
type Valuation struct {
	Cash          decimal.Decimal `json:"cash"`
	Positions     []PositionValue `json:"positions"`
	GrandTotal    decimal.Decimal `json:"grand_total"`
	Partial       bool            `json:"partial"`
	FailedSymbols []string        `json:"failed_symbols,omitempty"`
}

// Valuate reads the ledger once, then fans out one price lookup per held
// symbol. The lookups share no mutable state, so they run concurrently; a
// failed lookup degrades the snapshot instead of failing it.
func (v *Valuator) Valuate(ctx context.Context, holderID uint) (*Valuation, error) {
	cash, err := v.store.Cash(holderID)
	if err != nil {
		return nil, classify(err)
	}
	positions, err := v.store.PositionsFor(holderID)
	if err != nil {
		rej := classify(err)
		if rej.Fault() {
			v.logger.Error("Position aggregation failed", zap.Uint("holder_id", holderID), zap.Error(err))
		}
		return nil, rej
	}

	type pricing struct {
		symbol string
		shares int64
		price  decimal.Decimal
		err    error
	}

	var wg sync.WaitGroup
	results := make(chan pricing, len(positions))

	for symbol, shares := range positions {
		wg.Add(1)
		go func(symbol string, shares int64) {
			defer wg.Done()
			price, err := v.oracle.Lookup(ctx, symbol)
			results <- pricing{symbol: symbol, shares: shares, price: price, err: err}
		}(symbol, shares)
	}

	// Wait for all goroutines to finish, then close the channel
	go func() {
		wg.Wait()
		close(results)
	}()

	valuation := &Valuation{Cash: cash, GrandTotal: cash}
	for r := range results {
		if r.err != nil {
			v.logger.Warn("Excluding unpriced symbol from valuation",
				zap.Uint("holder_id", holderID),
				zap.String("symbol", r.symbol),
				zap.Error(r.err))
			valuation.Partial = true
			valuation.FailedSymbols = append(valuation.FailedSymbols, r.symbol)
			continue
		}
		value := r.price.Mul(decimal.NewFromInt(r.shares))
		valuation.Positions = append(valuation.Positions, PositionValue{
			Symbol: r.symbol,
			Shares: r.shares,
			Price:  r.price,
			Value:  value,
		})
		valuation.GrandTotal = valuation.GrandTotal.Add(value)
	}

	sort.Slice(valuation.Positions, func(i, j int) bool {
		return valuation.Positions[i].Symbol < valuation.Positions[j].Symbol
	})
	sort.Strings(valuation.FailedSymbols)

	return valuation, nil
}
