package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// TradeRecord is one executed buy or sell. The trade log is append-only:
// committed records are never updated or deleted, and per-holder insertion
// order is the replay order.
type TradeRecord struct {
	gorm.Model
	HolderID  uint            `json:"holder_id" gorm:"index;not null"`
	Side      string          `json:"side" gorm:"not null"`
	Symbol    string          `json:"symbol" gorm:"index;not null"`
	Price     decimal.Decimal `json:"price" gorm:"type:decimal(20,4);not null"`
	Shares    int64           `json:"shares" gorm:"not null"`
	Timestamp int64           `json:"timestamp" gorm:"not null"`
}

// CashDelta is the signed effect of this trade on the holder's cash cell:
// negative for a buy, positive for a sell.
func (t *TradeRecord) CashDelta() decimal.Decimal {
	total := t.Price.Mul(decimal.NewFromInt(t.Shares))
	if t.Side == SideBuy {
		return total.Neg()
	}
	return total
}
