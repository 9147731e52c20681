package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrEntryNotFound     = errors.New("ledger_entry_not_found")
	ErrAmountNotPositive = errors.New("settle_amount_not_positive")
	ErrOverpayment       = errors.New("settle_overpayment")
)

type SettleRequest struct {
	EntryID     snowflake.ID `json:"-"`
	AmountCents int64        `json:"amount_cents"`
}

type Service interface {
	// GenerateForReceipt converts per-user net positions into persisted
	// entries inside the caller's transaction, so receipt finalization and
	// ledger creation commit or roll back together.
	GenerateForReceipt(ctx context.Context, tx *gorm.DB, receiptID snowflake.ID, positions map[snowflake.ID]int64) ([]LedgerEntry, error)
	// DeleteForReceipt removes the receipt's entire batch inside the
	// caller's transaction and reports how many entries went away.
	DeleteForReceipt(ctx context.Context, tx *gorm.DB, receiptID snowflake.ID) (int64, error)
	ListByReceipt(ctx context.Context, receiptID snowflake.ID) ([]LedgerEntry, error)
	Settle(ctx context.Context, req SettleRequest) (LedgerEntry, error)
}
