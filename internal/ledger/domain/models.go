// Package domain contains persistence models for the settlement ledger.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// EntryStatus is a pure function of settled versus owed amount, never set
// independently.
type EntryStatus string

const (
	EntryStatusPending          EntryStatus = "pending"
	EntryStatusPartiallySettled EntryStatus = "partially_settled"
	EntryStatusSettled          EntryStatus = "settled"
)

// StatusFor derives the entry status from its settled amount.
func StatusFor(settledCents, amountCents int64) EntryStatus {
	switch {
	case settledCents <= 0:
		return EntryStatusPending
	case settledCents >= amountCents:
		return EntryStatusSettled
	default:
		return EntryStatusPartiallySettled
	}
}

// LedgerEntry is one debt from debtor to creditor produced when a receipt is
// finalized. AmountCents is fixed at creation; only SettledAmountCents moves.
type LedgerEntry struct {
	ID                 snowflake.ID `gorm:"primaryKey" json:"id"`
	ReceiptID          snowflake.ID `gorm:"not null;index" json:"receipt_id"`
	DebtorID           snowflake.ID `gorm:"not null;index" json:"debtor_id"`
	CreditorID         snowflake.ID `gorm:"not null;index" json:"creditor_id"`
	AmountCents        int64        `gorm:"not null" json:"amount_cents"`
	SettledAmountCents int64        `gorm:"not null;default:0" json:"settled_amount_cents"`
	Status             EntryStatus  `gorm:"type:text;not null;default:'pending'" json:"status"`
	CreatedAt          time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt          time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (LedgerEntry) TableName() string { return "ledger_entries" }
