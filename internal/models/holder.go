package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Holder represents a registered account with a cash balance and a trade history.
// The credential hash is opaque to the core; authentication lives in the web layer.
type Holder struct {
	gorm.Model
	Username string `gorm:"uniqueIndex;not null"`
	Hash     string `gorm:"not null"`
	// Cash is the live balance cell. It is derived state: replaying the
	// holder's trade records from InitialCash must always reproduce it.
	Cash        decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	InitialCash decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	// Version is the optimistic token guarding the cash cell. Every commit
	// that touches Cash increments it.
	Version uint64 `gorm:"not null;default:0"`
}
