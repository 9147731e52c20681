// Package service computes per-user balances from the ledger.
package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/tably/internal/balance/domain"
	ledgerdomain "github.com/smallbiznis/tably/internal/ledger/domain"
)

type Params struct {
	fx.In
	DB  *gorm.DB
	Log *zap.Logger
}

type service struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewService(p Params) domain.Service {
	return &service{db: p.DB, log: p.Log.Named("balance.service")}
}

// BalanceFor folds the live entry set in the database. Nothing is cached, so
// settle, finalize and unfinalize are reflected on the next read with no
// invalidation protocol.
func (s *service) BalanceFor(ctx context.Context, userID snowflake.ID) (domain.UserBalance, error) {
	var owes, isOwed int64

	err := s.db.WithContext(ctx).
		Model(&ledgerdomain.LedgerEntry{}).
		Where("debtor_id = ?", userID).
		Select("COALESCE(SUM(amount_cents - settled_amount_cents), 0)").
		Scan(&owes).Error
	if err != nil {
		return domain.UserBalance{}, err
	}

	err = s.db.WithContext(ctx).
		Model(&ledgerdomain.LedgerEntry{}).
		Where("creditor_id = ?", userID).
		Select("COALESCE(SUM(amount_cents - settled_amount_cents), 0)").
		Scan(&isOwed).Error
	if err != nil {
		return domain.UserBalance{}, err
	}

	return domain.UserBalance{
		UserID:      userID,
		OwesCents:   owes,
		IsOwedCents: isOwed,
		NetCents:    isOwed - owes,
	}, nil
}
