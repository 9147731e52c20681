// Package domain contains persistence models for shared receipts.
package domain

import (
	"math"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// ReceiptStatus represents receipt lifecycle states.
type ReceiptStatus string

const (
	ReceiptStatusDraft     ReceiptStatus = "draft"
	ReceiptStatusFinalized ReceiptStatus = "finalized"
)

// ParticipantRole distinguishes the receipt owner from invited members.
type ParticipantRole string

const (
	RoleOwner  ParticipantRole = "owner"
	RoleMember ParticipantRole = "member"
)

// Receipt is the aggregate root for a shared bill. Version starts at 1 and
// increments by exactly one on every accepted mutation; writers must present
// the version they read.
type Receipt struct {
	ID            snowflake.ID      `gorm:"primaryKey" json:"id"`
	OwnerID       snowflake.ID      `gorm:"not null;index" json:"owner_id"`
	FolderID      *snowflake.ID     `gorm:"index" json:"folder_id,omitempty"`
	Title         string            `gorm:"type:text;not null" json:"title"`
	Description   string            `gorm:"type:text" json:"description"`
	Status        ReceiptStatus     `gorm:"type:text;not null;default:'draft'" json:"status"`
	Currency      string            `gorm:"type:text;not null;default:'USD'" json:"currency"`
	TaxCents      int64             `gorm:"not null;default:0" json:"tax_cents"`
	TipCents      int64             `gorm:"not null;default:0" json:"tip_cents"`
	SubtotalCents int64             `gorm:"not null;default:0" json:"subtotal_cents"`
	TotalCents    int64             `gorm:"not null;default:0" json:"total_cents"`
	Version       int64             `gorm:"not null;default:1" json:"version"`
	SplitDetails  datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"split_details"`
	FinalizedAt   *time.Time        `gorm:"" json:"finalized_at,omitempty"`
	CreatedAt     time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt     time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`

	Items        []ReceiptItem        `gorm:"foreignKey:ReceiptID" json:"items,omitempty"`
	Participants []ReceiptParticipant `gorm:"foreignKey:ReceiptID" json:"participants,omitempty"`
	Payments     []ReceiptPayment     `gorm:"foreignKey:ReceiptID" json:"payments,omitempty"`
}

// TableName sets the database table name.
func (Receipt) TableName() string { return "receipts" }

// ReceiptItem is one line on a receipt. Quantity may be fractional for
// weighted goods; the line subtotal is always rounded to whole cents.
type ReceiptItem struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	ReceiptID      snowflake.ID `gorm:"not null;index" json:"receipt_id"`
	Position       int          `gorm:"not null" json:"position"`
	Name           string       `gorm:"type:text;not null" json:"name"`
	UnitPriceCents int64        `gorm:"not null" json:"unit_price_cents"`
	Quantity       float64      `gorm:"not null;default:1" json:"quantity"`
	Taxable        bool         `gorm:"not null;default:true" json:"taxable"`
	SubtotalCents  int64        `gorm:"not null" json:"subtotal_cents"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (ReceiptItem) TableName() string { return "receipt_items" }

// LineSubtotal rounds unit price times quantity to the nearest cent.
func LineSubtotal(unitPriceCents int64, quantity float64) int64 {
	return int64(math.Round(float64(unitPriceCents) * quantity))
}

// ReceiptParticipant records a user's membership on a receipt.
type ReceiptParticipant struct {
	ID        snowflake.ID    `gorm:"primaryKey" json:"id"`
	ReceiptID snowflake.ID    `gorm:"not null;index;uniqueIndex:ux_receipt_participant" json:"receipt_id"`
	UserID    snowflake.ID    `gorm:"not null;index;uniqueIndex:ux_receipt_participant" json:"user_id"`
	Role      ParticipantRole `gorm:"type:text;not null;default:'member'" json:"role"`
	JoinedAt  time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"joined_at"`
}

// TableName sets the database table name.
func (ReceiptParticipant) TableName() string { return "receipt_participants" }

// ReceiptPayment records what a participant actually paid toward the bill.
type ReceiptPayment struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	ReceiptID   snowflake.ID `gorm:"not null;index" json:"receipt_id"`
	UserID      snowflake.ID `gorm:"not null;index" json:"user_id"`
	AmountCents int64        `gorm:"not null" json:"amount_cents"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (ReceiptPayment) TableName() string { return "receipt_payments" }
