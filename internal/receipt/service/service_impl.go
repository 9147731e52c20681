// Package service implements the receipt aggregate: versioned draft edits,
// membership, finalization into ledger entries, and unfinalization.
package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/smallbiznis/tably/internal/config"
	ledgerdomain "github.com/smallbiznis/tably/internal/ledger/domain"
	"github.com/smallbiznis/tably/internal/metrics"
	"github.com/smallbiznis/tably/internal/receipt/allocate"
	"github.com/smallbiznis/tably/internal/receipt/domain"
	"github.com/smallbiznis/tably/internal/usercontext"
	"github.com/smallbiznis/tably/pkg/db"
	"github.com/smallbiznis/tably/pkg/db/option"
	"github.com/smallbiznis/tably/pkg/db/pagination"
	"github.com/smallbiznis/tably/pkg/optimistic"
	"github.com/smallbiznis/tably/pkg/repository"
)

type Params struct {
	fx.In
	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Metrics  *metrics.Metrics
	Limits   *config.LimitsHolder
	Ledger   ledgerdomain.Service
	Receipts repository.Repository[domain.Receipt]
}

type service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	metrics  *metrics.Metrics
	limits   *config.LimitsHolder
	ledger   ledgerdomain.Service
	receipts repository.Repository[domain.Receipt]
}

func NewService(p Params) domain.Service {
	return &service{
		db:       p.DB,
		log:      p.Log.Named("receipt.service"),
		genID:    p.GenID,
		metrics:  p.Metrics,
		limits:   p.Limits,
		ledger:   p.Ledger,
		receipts: p.Receipts,
	}
}

func (s *service) Create(ctx context.Context, req domain.CreateReceiptRequest) (domain.Receipt, error) {
	ownerID, ok := usercontext.UserIDFromContext(ctx)
	if !ok {
		return domain.Receipt{}, domain.ErrInvalidUser
	}
	if strings.TrimSpace(req.Title) == "" {
		return domain.Receipt{}, &domain.ValidationError{Message: "title must not be empty"}
	}

	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}

	now := time.Now().UTC()
	receipt := domain.Receipt{
		ID:           s.genID.Generate(),
		OwnerID:      ownerID,
		FolderID:     req.FolderID,
		Title:        req.Title,
		Description:  req.Description,
		Status:       domain.ReceiptStatusDraft,
		Currency:     currency,
		Version:      1,
		SplitDetails: datatypes.JSONMap{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	owner := domain.ReceiptParticipant{
		ID:        s.genID.Generate(),
		ReceiptID: receipt.ID,
		UserID:    ownerID,
		Role:      domain.RoleOwner,
		JoinedAt:  now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&receipt).Error; err != nil {
			return err
		}
		return tx.Create(&owner).Error
	})
	if err != nil {
		return domain.Receipt{}, err
	}

	s.log.Info("receipt created",
		zap.Int64("receipt_id", int64(receipt.ID)),
		zap.Int64("owner_id", int64(ownerID)),
	)
	return s.load(ctx, receipt.ID)
}

func (s *service) GetByID(ctx context.Context, id snowflake.ID) (domain.Receipt, error) {
	return s.load(ctx, id)
}

func (s *service) List(ctx context.Context, req domain.ListReceiptRequest) (domain.ListReceiptResponse, error) {
	userID, ok := usercontext.UserIDFromContext(ctx)
	if !ok {
		return domain.ListReceiptResponse{}, domain.ErrInvalidUser
	}

	membership := s.db.Model(&domain.ReceiptParticipant{}).
		Select("receipt_id").
		Where("user_id = ?", userID)

	filter := &domain.Receipt{Status: req.Status}
	opts := []option.QueryOption{
		option.WithScope(func(q *gorm.DB) *gorm.DB {
			return q.Where("id IN (?)", membership)
		}),
		option.WithOrder("created_at DESC, id DESC"),
		option.ApplyPagination(req.Pagination),
	}

	rows, err := s.receipts.Find(ctx, filter, opts...)
	if err != nil {
		return domain.ListReceiptResponse{}, err
	}

	size := req.PageSize
	if size <= 0 {
		size = 20
	}
	if size > 250 {
		size = 250
	}
	rows, pageInfo := pagination.BuildCursorPageInfo(rows, size, func(row *domain.Receipt) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{
			ID:        row.ID.String(),
			CreatedAt: row.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		return token
	})

	receipts := make([]domain.Receipt, 0, len(rows))
	for _, row := range rows {
		receipts = append(receipts, *row)
	}
	return domain.ListReceiptResponse{PageInfo: *pageInfo, Receipts: receipts}, nil
}

func (s *service) Update(ctx context.Context, req domain.UpdateReceiptRequest) (domain.Receipt, error) {
	receipt, err := s.load(ctx, req.ID)
	if err != nil {
		return domain.Receipt{}, err
	}
	if receipt.Status != domain.ReceiptStatusDraft {
		return domain.Receipt{}, domain.ErrReceiptNotDraft
	}

	members := participantSet(receipt.Participants)
	updates, newItems, newPayments, err := s.buildPatch(&receipt, req.Patch, members)
	if err != nil {
		return domain.Receipt{}, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := optimistic.Update(ctx, tx, receipt.TableName(), receipt.ID, req.ExpectedVersion, updates, draftOnly()); err != nil {
			return err
		}
		if req.Patch.Items != nil {
			if err := tx.Where("receipt_id = ?", receipt.ID).Delete(&domain.ReceiptItem{}).Error; err != nil {
				return err
			}
			if len(newItems) > 0 {
				if err := tx.Create(&newItems).Error; err != nil {
					return err
				}
			}
		}
		if req.Patch.Payments != nil {
			if err := tx.Where("receipt_id = ?", receipt.ID).Delete(&domain.ReceiptPayment{}).Error; err != nil {
				return err
			}
			if len(newPayments) > 0 {
				if err := tx.Create(&newPayments).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		if conflict, ok := optimistic.AsConflict(err); ok {
			s.metrics.VersionConflicts.Inc()
			s.log.Warn("receipt update rejected on stale version",
				zap.Int64("receipt_id", int64(receipt.ID)),
				zap.Int64("expected", conflict.Expected),
				zap.Int64("actual", conflict.Actual),
			)
		}
		if errors.Is(err, optimistic.ErrPreconditionFailed) {
			return domain.Receipt{}, domain.ErrReceiptNotDraft
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Receipt{}, domain.ErrReceiptNotFound
		}
		return domain.Receipt{}, err
	}

	return s.load(ctx, receipt.ID)
}

// buildPatch validates the patch against the loaded aggregate and turns it
// into a column update map plus replacement child rows.
func (s *service) buildPatch(receipt *domain.Receipt, patch domain.ReceiptPatch, members map[snowflake.ID]bool) (map[string]any, []domain.ReceiptItem, []domain.ReceiptPayment, error) {
	limits := s.limits.Current()
	now := time.Now().UTC()
	updates := map[string]any{"updated_at": now}

	if patch.Title != nil {
		if strings.TrimSpace(*patch.Title) == "" {
			return nil, nil, nil, &domain.ValidationError{Message: "title must not be empty"}
		}
		updates["title"] = *patch.Title
	}
	if patch.Description != nil {
		updates["description"] = *patch.Description
	}

	tax := receipt.TaxCents
	if patch.TaxCents != nil {
		if *patch.TaxCents < 0 {
			return nil, nil, nil, &domain.ValidationError{Message: "tax_cents must not be negative"}
		}
		tax = *patch.TaxCents
		updates["tax_cents"] = tax
	}
	tip := receipt.TipCents
	if patch.TipCents != nil {
		if *patch.TipCents < 0 {
			return nil, nil, nil, &domain.ValidationError{Message: "tip_cents must not be negative"}
		}
		tip = *patch.TipCents
		updates["tip_cents"] = tip
	}

	subtotal := receipt.SubtotalCents
	itemCount := len(receipt.Items)
	var newItems []domain.ReceiptItem
	if patch.Items != nil {
		if len(patch.Items) > limits.MaxItemsPerReceipt {
			return nil, nil, nil, domain.ErrTooManyItems
		}
		subtotal = 0
		for position, input := range patch.Items {
			if strings.TrimSpace(input.Name) == "" {
				return nil, nil, nil, &domain.ValidationError{Message: "item name must not be empty", Positions: []int{position}}
			}
			if input.UnitPriceCents < 0 {
				return nil, nil, nil, &domain.ValidationError{Message: "unit_price_cents must not be negative", Positions: []int{position}}
			}
			if input.Quantity <= 0 {
				return nil, nil, nil, &domain.ValidationError{Message: "quantity must be positive", Positions: []int{position}}
			}
			taxable := true
			if input.Taxable != nil {
				taxable = *input.Taxable
			}
			lineSubtotal := domain.LineSubtotal(input.UnitPriceCents, input.Quantity)
			subtotal += lineSubtotal
			newItems = append(newItems, domain.ReceiptItem{
				ID:             s.genID.Generate(),
				ReceiptID:      receipt.ID,
				Position:       position,
				Name:           input.Name,
				UnitPriceCents: input.UnitPriceCents,
				Quantity:       input.Quantity,
				Taxable:        taxable,
				SubtotalCents:  lineSubtotal,
				CreatedAt:      now,
			})
		}
		itemCount = len(newItems)
		updates["subtotal_cents"] = subtotal
	}
	updates["total_cents"] = subtotal + tax + tip

	if patch.SplitDetails != nil {
		var outOfRange []int
		for key, users := range patch.SplitDetails {
			position, err := strconv.Atoi(key)
			if err != nil || position < 0 || position >= itemCount {
				if err == nil {
					outOfRange = append(outOfRange, position)
					continue
				}
				return nil, nil, nil, &domain.ValidationError{Message: "split positions must be item indexes"}
			}
			for _, userID := range users {
				if !members[userID] {
					return nil, nil, nil, &domain.ValidationError{Message: "split assignee is not a participant", Positions: []int{position}}
				}
			}
		}
		if len(outOfRange) > 0 {
			return nil, nil, nil, &domain.ValidationError{Message: "split positions exceed item count", Positions: outOfRange}
		}
		updates["split_details"] = domain.SplitDetailsJSON(patch.SplitDetails)
	} else if patch.Items != nil {
		// Item replacement shifts positions; keep only assignments that
		// still point at a real item.
		assignments, err := receipt.AssignmentsByPosition()
		if err != nil {
			return nil, nil, nil, err
		}
		pruned := make(map[string][]snowflake.ID)
		for position, users := range assignments {
			if position < itemCount {
				pruned[strconv.Itoa(position)] = users
			}
		}
		updates["split_details"] = domain.SplitDetailsJSON(pruned)
	}

	var newPayments []domain.ReceiptPayment
	if patch.Payments != nil {
		for _, input := range patch.Payments {
			if !members[input.UserID] {
				return nil, nil, nil, &domain.ValidationError{Message: "payer is not a participant"}
			}
			if input.AmountCents < 0 {
				return nil, nil, nil, &domain.ValidationError{Message: "amount_cents must not be negative"}
			}
			newPayments = append(newPayments, domain.ReceiptPayment{
				ID:          s.genID.Generate(),
				ReceiptID:   receipt.ID,
				UserID:      input.UserID,
				AmountCents: input.AmountCents,
				CreatedAt:   now,
			})
		}
	}

	return updates, newItems, newPayments, nil
}

func (s *service) AddMember(ctx context.Context, receiptID, userID snowflake.ID) (domain.Receipt, error) {
	receipt, err := s.load(ctx, receiptID)
	if err != nil {
		return domain.Receipt{}, err
	}
	if userID == 0 {
		return domain.Receipt{}, domain.ErrInvalidUser
	}
	if participantSet(receipt.Participants)[userID] {
		return domain.Receipt{}, domain.ErrDuplicateMember
	}
	if len(receipt.Participants) >= s.limits.Current().MaxParticipantsPerReceipt {
		return domain.Receipt{}, domain.ErrTooManyParticipants
	}

	now := time.Now().UTC()
	member := domain.ReceiptParticipant{
		ID:        s.genID.Generate(),
		ReceiptID: receiptID,
		UserID:    userID,
		Role:      domain.RoleMember,
		JoinedAt:  now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&member).Error; err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrDuplicateMember
			}
			return err
		}
		return optimistic.Bump(ctx, tx, receipt.TableName(), receiptID, map[string]any{"updated_at": now})
	})
	if err != nil {
		return domain.Receipt{}, err
	}

	s.log.Info("member added",
		zap.Int64("receipt_id", int64(receiptID)),
		zap.Int64("user_id", int64(userID)),
	)
	return s.load(ctx, receiptID)
}

func (s *service) RemoveMember(ctx context.Context, receiptID, userID snowflake.ID) (domain.Receipt, error) {
	receipt, err := s.load(ctx, receiptID)
	if err != nil {
		return domain.Receipt{}, err
	}
	if receipt.OwnerID == userID {
		return domain.Receipt{}, domain.ErrOwnerNotRemovable
	}
	if !participantSet(receipt.Participants)[userID] {
		return domain.Receipt{}, domain.ErrMemberNotFound
	}

	now := time.Now().UTC()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Counted inside the removal transaction so a finalize landing after
		// the snapshot read cannot slip unsettled entries past the guard.
		var unsettled int64
		if err := tx.Model(&ledgerdomain.LedgerEntry{}).
			Where("receipt_id = ? AND (debtor_id = ? OR creditor_id = ?) AND status <> ?",
				receiptID, userID, userID, ledgerdomain.EntryStatusSettled).
			Count(&unsettled).Error; err != nil {
			return err
		}
		if unsettled > 0 {
			return domain.ErrMemberOwesOnReceipt
		}

		if err := tx.Where("receipt_id = ? AND user_id = ?", receiptID, userID).
			Delete(&domain.ReceiptParticipant{}).Error; err != nil {
			return err
		}

		updates := map[string]any{"updated_at": now}
		if receipt.Status == domain.ReceiptStatusDraft {
			// Drafts stay internally consistent: the departing user loses
			// their item assignments and recorded payments. Finalized
			// receipts keep their frozen split for audit.
			assignments, err := receipt.AssignmentsByPosition()
			if err != nil {
				return err
			}
			stripped := make(map[string][]snowflake.ID, len(assignments))
			for position, users := range assignments {
				kept := users[:0]
				for _, id := range users {
					if id != userID {
						kept = append(kept, id)
					}
				}
				stripped[strconv.Itoa(position)] = kept
			}
			updates["split_details"] = domain.SplitDetailsJSON(stripped)

			if err := tx.Where("receipt_id = ? AND user_id = ?", receiptID, userID).
				Delete(&domain.ReceiptPayment{}).Error; err != nil {
				return err
			}
		}
		return optimistic.Bump(ctx, tx, receipt.TableName(), receiptID, updates)
	})
	if err != nil {
		return domain.Receipt{}, err
	}

	s.log.Info("member removed",
		zap.Int64("receipt_id", int64(receiptID)),
		zap.Int64("user_id", int64(userID)),
	)
	return s.load(ctx, receiptID)
}

func (s *service) Finalize(ctx context.Context, req domain.FinalizeReceiptRequest) (domain.FinalizeReceiptResponse, error) {
	receipt, err := s.load(ctx, req.ID)
	if err != nil {
		return domain.FinalizeReceiptResponse{}, err
	}
	if receipt.Status != domain.ReceiptStatusDraft {
		return domain.FinalizeReceiptResponse{}, domain.ErrReceiptNotDraft
	}

	assignments, err := receipt.AssignmentsByPosition()
	if err != nil {
		return domain.FinalizeReceiptResponse{}, &domain.ValidationError{Message: err.Error()}
	}
	members := participantSet(receipt.Participants)
	for position, users := range assignments {
		if position >= len(receipt.Items) {
			return domain.FinalizeReceiptResponse{}, &domain.ValidationError{
				Message:   "split positions exceed item count",
				Positions: []int{position},
			}
		}
		for _, userID := range users {
			if !members[userID] {
				return domain.FinalizeReceiptResponse{}, &domain.ValidationError{
					Message:   "split assignee is not a participant",
					Positions: []int{position},
				}
			}
		}
	}

	var subtotal int64
	lines := make([]allocate.Line, 0, len(receipt.Items))
	for _, item := range receipt.Items {
		subtotal += item.SubtotalCents
		lines = append(lines, allocate.Line{
			Position: item.Position,
			Amount:   item.SubtotalCents,
			Users:    assignments[item.Position],
		})
	}
	total := subtotal + receipt.TaxCents + receipt.TipCents

	breakdown := allocate.Compute(lines, receipt.TaxCents+receipt.TipCents)
	if len(breakdown.Unassigned) > 0 {
		return domain.FinalizeReceiptResponse{}, &domain.ValidationError{
			Message:   "items have no assigned users",
			Positions: breakdown.Unassigned,
		}
	}

	var paid int64
	positions := make(map[snowflake.ID]int64, len(breakdown.UserTotals))
	for userID, share := range breakdown.UserTotals {
		positions[userID] = share
	}
	for _, payment := range receipt.Payments {
		paid += payment.AmountCents
		positions[payment.UserID] -= payment.AmountCents
	}
	if paid != total {
		return domain.FinalizeReceiptResponse{}, &domain.ValidationError{
			Message: "recorded payments do not cover the receipt total",
		}
	}

	now := time.Now().UTC()
	var entries []ledgerdomain.LedgerEntry
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{
			"status":         domain.ReceiptStatusFinalized,
			"subtotal_cents": subtotal,
			"total_cents":    total,
			"finalized_at":   now,
			"updated_at":     now,
		}
		if err := optimistic.Update(ctx, tx, receipt.TableName(), receipt.ID, req.ExpectedVersion, updates, draftOnly()); err != nil {
			return err
		}

		entries, err = s.ledger.GenerateForReceipt(ctx, tx, receipt.ID, positions)
		return err
	})
	if err != nil {
		if optimistic.IsConflict(err) {
			s.metrics.VersionConflicts.Inc()
		}
		if errors.Is(err, optimistic.ErrPreconditionFailed) {
			return domain.FinalizeReceiptResponse{}, domain.ErrReceiptNotDraft
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.FinalizeReceiptResponse{}, domain.ErrReceiptNotFound
		}
		return domain.FinalizeReceiptResponse{}, err
	}

	finalized, err := s.load(ctx, receipt.ID)
	if err != nil {
		return domain.FinalizeReceiptResponse{}, err
	}

	s.log.Info("receipt finalized",
		zap.Int64("receipt_id", int64(receipt.ID)),
		zap.Int64("total_cents", total),
		zap.Int("ledger_entries", len(entries)),
	)
	return domain.FinalizeReceiptResponse{Receipt: finalized, Entries: entries}, nil
}

func (s *service) Unfinalize(ctx context.Context, id snowflake.ID) (domain.UnfinalizeReceiptResponse, error) {
	receipt, err := s.load(ctx, id)
	if err != nil {
		return domain.UnfinalizeReceiptResponse{}, err
	}
	if receipt.Status != domain.ReceiptStatusFinalized {
		return domain.UnfinalizeReceiptResponse{}, domain.ErrReceiptNotFinalized
	}

	now := time.Now().UTC()
	var deleted int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Guarding on status makes concurrent unfinalize calls race
		// safely: exactly one flips the receipt and deletes the batch.
		result := tx.Model(&domain.Receipt{}).
			Where("id = ? AND status = ?", id, domain.ReceiptStatusFinalized).
			Updates(map[string]any{
				"status":       domain.ReceiptStatusDraft,
				"finalized_at": nil,
				"version":      gorm.Expr("version + 1"),
				"updated_at":   now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrReceiptNotFinalized
		}

		deleted, err = s.ledger.DeleteForReceipt(ctx, tx, id)
		return err
	})
	if err != nil {
		return domain.UnfinalizeReceiptResponse{}, err
	}

	reopened, err := s.load(ctx, id)
	if err != nil {
		return domain.UnfinalizeReceiptResponse{}, err
	}

	s.log.Warn("receipt unfinalized, settlement progress discarded",
		zap.Int64("receipt_id", int64(id)),
		zap.Int64("deleted_entries", deleted),
	)
	return domain.UnfinalizeReceiptResponse{Receipt: reopened, DeletedCount: deleted}, nil
}

func (s *service) load(ctx context.Context, id snowflake.ID) (domain.Receipt, error) {
	var receipt domain.Receipt
	err := s.db.WithContext(ctx).
		Preload("Items", func(q *gorm.DB) *gorm.DB { return q.Order("position ASC") }).
		Preload("Participants", func(q *gorm.DB) *gorm.DB { return q.Order("joined_at ASC, id ASC") }).
		Preload("Payments", func(q *gorm.DB) *gorm.DB { return q.Order("created_at ASC, id ASC") }).
		First(&receipt, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Receipt{}, domain.ErrReceiptNotFound
		}
		return domain.Receipt{}, err
	}
	return receipt, nil
}

// draftOnly guards a CAS statement so it can only hit a draft row. The status
// check rides in the UPDATE itself rather than the pre-read snapshot, so a
// finalize committing between load and write cannot be edited over.
func draftOnly() optimistic.Cond {
	return optimistic.Cond{Query: "status = ?", Args: []any{domain.ReceiptStatusDraft}}
}

func participantSet(participants []domain.ReceiptParticipant) map[snowflake.ID]bool {
	set := make(map[snowflake.ID]bool, len(participants))
	for _, participant := range participants {
		set[participant.UserID] = true
	}
	return set
}
