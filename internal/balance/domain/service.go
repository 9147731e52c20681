// Package domain defines the read-side balance contract.
package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// UserBalance is a user's net position across all ledger entries, derived
// fresh on every read. Positive NetCents means the user is owed money.
type UserBalance struct {
	UserID      snowflake.ID `json:"user_id"`
	OwesCents   int64        `json:"owes_cents"`
	IsOwedCents int64        `json:"is_owed_cents"`
	NetCents    int64        `json:"net_cents"`
}

type Service interface {
	BalanceFor(ctx context.Context, userID snowflake.ID) (UserBalance, error)
}
