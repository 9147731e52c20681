// Package service implements ledger generation and settlement.
package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/tably/internal/ledger/domain"
	"github.com/smallbiznis/tably/internal/metrics"
	"github.com/smallbiznis/tably/pkg/db/option"
	"github.com/smallbiznis/tably/pkg/repository"
)

type Params struct {
	fx.In
	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Metrics *metrics.Metrics
	Entries repository.Repository[domain.LedgerEntry]
}

type service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	metrics *metrics.Metrics
	entries repository.Repository[domain.LedgerEntry]
}

func NewService(p Params) domain.Service {
	return &service{
		db:      p.DB,
		log:     p.Log.Named("ledger.service"),
		genID:   p.GenID,
		metrics: p.Metrics,
		entries: p.Entries,
	}
}

func (s *service) GenerateForReceipt(ctx context.Context, tx *gorm.DB, receiptID snowflake.ID, positions map[snowflake.ID]int64) ([]domain.LedgerEntry, error) {
	transfers := domain.NetTransfers(positions)
	if len(transfers) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	rows := make([]*domain.LedgerEntry, 0, len(transfers))
	for _, transfer := range transfers {
		rows = append(rows, &domain.LedgerEntry{
			ID:          s.genID.Generate(),
			ReceiptID:   receiptID,
			DebtorID:    transfer.DebtorID,
			CreditorID:  transfer.CreditorID,
			AmountCents: transfer.AmountCents,
			Status:      domain.EntryStatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}

	if err := s.entries.WithTrx(tx).BatchCreate(ctx, rows); err != nil {
		return nil, err
	}

	entries := make([]domain.LedgerEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, *row)
	}

	s.metrics.LedgerEntriesGenerated.Add(float64(len(entries)))
	s.log.Info("ledger entries generated",
		zap.Int64("receipt_id", int64(receiptID)),
		zap.Int("entries", len(entries)),
	)
	return entries, nil
}

func (s *service) DeleteForReceipt(ctx context.Context, tx *gorm.DB, receiptID snowflake.ID) (int64, error) {
	// Raw delete instead of the generic store so the affected-row count is
	// reported back to the caller.
	result := tx.WithContext(ctx).
		Where("receipt_id = ?", receiptID).
		Delete(&domain.LedgerEntry{})
	if result.Error != nil {
		return 0, result.Error
	}

	s.metrics.LedgerEntriesDeleted.Add(float64(result.RowsAffected))
	s.log.Info("ledger entries deleted",
		zap.Int64("receipt_id", int64(receiptID)),
		zap.Int64("deleted", result.RowsAffected),
	)
	return result.RowsAffected, nil
}

func (s *service) ListByReceipt(ctx context.Context, receiptID snowflake.ID) ([]domain.LedgerEntry, error) {
	rows, err := s.entries.Find(ctx,
		&domain.LedgerEntry{ReceiptID: receiptID},
		option.WithOrder("created_at ASC, id ASC"),
	)
	if err != nil {
		return nil, err
	}

	entries := make([]domain.LedgerEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, *row)
	}
	return entries, nil
}

func (s *service) Settle(ctx context.Context, req domain.SettleRequest) (domain.LedgerEntry, error) {
	if req.AmountCents <= 0 {
		return domain.LedgerEntry{}, domain.ErrAmountNotPositive
	}

	// One guarded statement carries the whole transition. The WHERE clause
	// rejects overpayment and the CASE recomputes status from the same old
	// row values the increment reads, so concurrent settles on one entry
	// serialize without a separate lock.
	result := s.db.WithContext(ctx).
		Model(&domain.LedgerEntry{}).
		Where("id = ? AND settled_amount_cents + ? <= amount_cents", req.EntryID, req.AmountCents).
		Updates(map[string]interface{}{
			"settled_amount_cents": gorm.Expr("settled_amount_cents + ?", req.AmountCents),
			"status": gorm.Expr(
				"CASE WHEN settled_amount_cents + ? >= amount_cents THEN ? ELSE ? END",
				req.AmountCents, string(domain.EntryStatusSettled), string(domain.EntryStatusPartiallySettled),
			),
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return domain.LedgerEntry{}, result.Error
	}

	if result.RowsAffected == 0 {
		entry, err := s.entries.FindOne(ctx, &domain.LedgerEntry{ID: req.EntryID})
		if err != nil {
			return domain.LedgerEntry{}, err
		}
		if entry == nil {
			return domain.LedgerEntry{}, domain.ErrEntryNotFound
		}
		return domain.LedgerEntry{}, domain.ErrOverpayment
	}

	entry, err := s.entries.FindOne(ctx, &domain.LedgerEntry{ID: req.EntryID})
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	if entry == nil {
		return domain.LedgerEntry{}, domain.ErrEntryNotFound
	}

	s.metrics.Settlements.Inc()
	s.log.Info("ledger entry settled",
		zap.Int64("entry_id", int64(req.EntryID)),
		zap.Int64("amount_cents", req.AmountCents),
		zap.String("status", string(entry.Status)),
	)
	return *entry, nil
}
