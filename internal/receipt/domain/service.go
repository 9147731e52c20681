package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"

	ledgerdomain "github.com/smallbiznis/tably/internal/ledger/domain"
	"github.com/smallbiznis/tably/pkg/db/pagination"
)

var (
	ErrReceiptNotFound     = errors.New("receipt_not_found")
	ErrReceiptNotDraft     = errors.New("receipt_not_draft")
	ErrReceiptNotFinalized = errors.New("receipt_not_finalized")
	ErrDuplicateMember     = errors.New("duplicate_member")
	ErrMemberNotFound      = errors.New("member_not_found")
	ErrOwnerNotRemovable   = errors.New("owner_not_removable")
	ErrMemberOwesOnReceipt = errors.New("member_has_unsettled_entries")
	ErrInvalidUser         = errors.New("invalid_user")
	ErrTooManyItems        = errors.New("too_many_items")
	ErrTooManyParticipants = errors.New("too_many_participants")
)

// ValidationError reports a malformed or inconsistent receipt payload. When
// the problem is item assignment coverage, Positions lists the offending
// item positions.
type ValidationError struct {
	Message   string
	Positions []int
}

func (e *ValidationError) Error() string {
	if len(e.Positions) > 0 {
		return fmt.Sprintf("%s: positions %v", e.Message, e.Positions)
	}
	return e.Message
}

// ItemInput describes one line item in a create or update payload.
type ItemInput struct {
	Name           string  `json:"name" binding:"required"`
	UnitPriceCents int64   `json:"unit_price_cents" binding:"min=0"`
	Quantity       float64 `json:"quantity" binding:"gt=0"`
	Taxable        *bool   `json:"taxable,omitempty"`
}

// PaymentInput describes one payment in an update payload.
type PaymentInput struct {
	UserID      snowflake.ID `json:"user_id" binding:"required"`
	AmountCents int64        `json:"amount_cents" binding:"min=0"`
}

// ReceiptPatch carries the fields an update may change. Nil slices and nil
// pointers leave the stored value untouched; empty slices replace with
// nothing.
type ReceiptPatch struct {
	Title        *string                   `json:"title,omitempty"`
	Description  *string                   `json:"description,omitempty"`
	TaxCents     *int64                    `json:"tax_cents,omitempty"`
	TipCents     *int64                    `json:"tip_cents,omitempty"`
	Items        []ItemInput               `json:"items,omitempty"`
	Payments     []PaymentInput            `json:"payments,omitempty"`
	SplitDetails map[string][]snowflake.ID `json:"split_details,omitempty"`
}

type CreateReceiptRequest struct {
	Title       string        `json:"title" binding:"required"`
	Description string        `json:"description"`
	Currency    string        `json:"currency"`
	FolderID    *snowflake.ID `json:"folder_id,omitempty"`
}

type UpdateReceiptRequest struct {
	ID              snowflake.ID `json:"-"`
	ExpectedVersion int64        `json:"expected_version" binding:"required,min=1"`
	Patch           ReceiptPatch `json:"patch"`
}

type ListReceiptRequest struct {
	pagination.Pagination
	Status ReceiptStatus `form:"status"`
}

type ListReceiptResponse struct {
	pagination.PageInfo
	Receipts []Receipt `json:"receipts"`
}

type FinalizeReceiptRequest struct {
	ID              snowflake.ID `json:"-"`
	ExpectedVersion int64        `json:"expected_version" binding:"required,min=1"`
}

type FinalizeReceiptResponse struct {
	Receipt Receipt                    `json:"receipt"`
	Entries []ledgerdomain.LedgerEntry `json:"ledger_entries"`
}

type UnfinalizeReceiptResponse struct {
	Receipt      Receipt `json:"receipt"`
	DeletedCount int64   `json:"deleted_count"`
}

type Service interface {
	Create(ctx context.Context, req CreateReceiptRequest) (Receipt, error)
	GetByID(ctx context.Context, id snowflake.ID) (Receipt, error)
	List(ctx context.Context, req ListReceiptRequest) (ListReceiptResponse, error)
	Update(ctx context.Context, req UpdateReceiptRequest) (Receipt, error)
	AddMember(ctx context.Context, receiptID, userID snowflake.ID) (Receipt, error)
	RemoveMember(ctx context.Context, receiptID, userID snowflake.ID) (Receipt, error)
	Finalize(ctx context.Context, req FinalizeReceiptRequest) (FinalizeReceiptResponse, error)
	Unfinalize(ctx context.Context, id snowflake.ID) (UnfinalizeReceiptResponse, error)
}
