package ledger

import (
	"errors"
	"fmt"
	"time"

	"stock-trader-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrNotFound means the holder does not exist.
	ErrNotFound = errors.New("holder not found")
	// ErrConflict means the holder's cash cell changed between the caller's
	// read and the commit.
	ErrConflict = errors.New("ledger commit conflict")
	// ErrCorrupt means the ledger implies an impossible state, such as a
	// negative balance or a negative net position.
	ErrCorrupt = errors.New("ledger corruption detected")
	// ErrDuplicate means the username is already registered.
	ErrDuplicate = errors.New("username already registered")
)

// Store is the system of record: an append-only trade log plus one mutable
// cash cell per holder. The cash cell must only ever be mutated through
// Commit or AddCash; no caller may read-then-write it on its own.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStore creates a ledger store on top of an opened database handle.
func NewStore(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// HolderState is a caller's view of the cash cell: the balance plus the
// version token that Commit uses to detect concurrent mutation.
type HolderState struct {
	ID      uint
	Cash    decimal.Decimal
	Version uint64
}

// CreateHolder registers a new holder with an opaque credential hash and the
// given starting balance.
func (s *Store) CreateHolder(username, hash string, initialCash decimal.Decimal) (*models.Holder, error) {
	if initialCash.IsNegative() {
		return nil, fmt.Errorf("initial cash must not be negative, got %s", initialCash)
	}

	holder := &models.Holder{
		Username:    username,
		Hash:        hash,
		Cash:        initialCash,
		InitialCash: initialCash,
	}
	if err := s.db.Create(holder).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("failed to create holder: %w", err)
	}

	s.logger.Info("Registered holder",
		zap.Uint("holder_id", holder.ID),
		zap.String("username", username),
		zap.String("initial_cash", initialCash.String()))
	return holder, nil
}

// State reads the holder's cash cell and its version token.
func (s *Store) State(holderID uint) (*HolderState, error) {
	var holder models.Holder
	if err := s.db.First(&holder, holderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read holder %d: %w", holderID, err)
	}
	return &HolderState{ID: holder.ID, Cash: holder.Cash, Version: holder.Version}, nil
}

// Cash returns the holder's live cash balance.
func (s *Store) Cash(holderID uint) (decimal.Decimal, error) {
	state, err := s.State(holderID)
	if err != nil {
		return decimal.Zero, err
	}
	return state.Cash, nil
}

// Commit atomically appends a trade record and applies cashDelta to the
// holder's cash cell: either both happen or neither does. expectedVersion
// must come from the State read the caller validated against; if the cell
// has moved on since, nothing is written and ErrConflict is returned so the
// caller can re-read and re-validate.
func (s *Store) Commit(rec *models.TradeRecord, cashDelta decimal.Decimal, expectedVersion uint64) (*models.TradeRecord, error) {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var holder models.Holder
		if err := tx.First(&holder, rec.HolderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to read holder %d: %w", rec.HolderID, err)
		}
		if holder.Version != expectedVersion {
			return ErrConflict
		}

		// The new balance is computed in decimal here, not via SQL
		// arithmetic, so SQLite's float math never touches money.
		newCash := holder.Cash.Add(cashDelta)
		if newCash.IsNegative() {
			// The caller validated against this same version, so the cell
			// and the caller's view cannot legitimately disagree.
			s.logger.Error("Commit would drive cash negative",
				zap.Uint("holder_id", holder.ID),
				zap.String("cash", holder.Cash.String()),
				zap.String("delta", cashDelta.String()))
			return fmt.Errorf("%w: cash would become %s", ErrCorrupt, newCash)
		}

		res := tx.Model(&models.Holder{}).
			Where("id = ? AND version = ?", holder.ID, expectedVersion).
			Updates(map[string]interface{}{
				"cash":    newCash,
				"version": expectedVersion + 1,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to update cash cell: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}

		if rec.Timestamp == 0 {
			rec.Timestamp = time.Now().Unix()
		}
		if err := tx.Create(rec).Error; err != nil {
			return fmt.Errorf("failed to append trade record: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// AddCash deposits amount into the holder's account. The deposit raises both
// the live cash cell and the recorded initial balance in one atomic update,
// so replaying the trade log from the initial balance still reproduces the
// cell exactly. Returns the new balance.
func (s *Store) AddCash(holderID uint, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("deposit amount must be positive, got %s", amount)
	}

	var newCash decimal.Decimal
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var holder models.Holder
		if err := tx.First(&holder, holderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to read holder %d: %w", holderID, err)
		}

		newCash = holder.Cash.Add(amount)
		res := tx.Model(&models.Holder{}).
			Where("id = ? AND version = ?", holder.ID, holder.Version).
			Updates(map[string]interface{}{
				"cash":         newCash,
				"initial_cash": holder.InitialCash.Add(amount),
				"version":      holder.Version + 1,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to deposit cash: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}

	s.logger.Info("Deposited cash",
		zap.Uint("holder_id", holderID),
		zap.String("amount", amount.String()),
		zap.String("new_cash", newCash.String()))
	return newCash, nil
}

// Trades lists the holder's committed trade records in insertion order.
// The result is a finite snapshot; calling again re-enumerates from scratch.
func (s *Store) Trades(holderID uint) ([]models.TradeRecord, error) {
	var trades []models.TradeRecord
	if err := s.db.Where("holder_id = ?", holderID).Order("id asc").Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("failed to list trades for holder %d: %w", holderID, err)
	}
	return trades, nil
}
