package ledger

import (
	"fmt"
	"sort"

	"stock-trader-go/internal/models"

	"go.uber.org/zap"
)

// PositionsFor derives the holder's current holdings from the trade log:
// net shares per symbol, counting buys as positive and sells as negative
// deltas. Fully closed positions are omitted. A negative net count means the
// log itself is inconsistent; it is reported as corruption, never clamped.
func (s *Store) PositionsFor(holderID uint) (map[string]int64, error) {
	trades, err := s.Trades(holderID)
	if err != nil {
		return nil, err
	}

	positions := make(map[string]int64)
	for _, t := range trades {
		switch t.Side {
		case models.SideBuy:
			positions[t.Symbol] += t.Shares
		case models.SideSell:
			positions[t.Symbol] -= t.Shares
		default:
			return nil, fmt.Errorf("%w: trade %d has unknown side %q", ErrCorrupt, t.ID, t.Side)
		}
	}

	for symbol, shares := range positions {
		if shares < 0 {
			s.logger.Error("Trade log implies negative position",
				zap.Uint("holder_id", holderID),
				zap.String("symbol", symbol),
				zap.Int64("net_shares", shares))
			return nil, fmt.Errorf("%w: negative net shares for %s", ErrCorrupt, symbol)
		}
		if shares == 0 {
			delete(positions, symbol)
		}
	}

	return positions, nil
}

// Symbols returns the symbols the holder currently has an open position in,
// sorted for stable display. Used to restrict sell-side choices to symbols
// actually held.
func (s *Store) Symbols(holderID uint) ([]string, error) {
	positions, err := s.PositionsFor(holderID)
	if err != nil {
		return nil, err
	}

	symbols := make([]string, 0, len(positions))
	for symbol := range positions {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols, nil
}
