package service

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/tably/internal/ledger/domain"
	"github.com/smallbiznis/tably/internal/metrics"
	"github.com/smallbiznis/tably/pkg/repository"
)

func newTestService(t *testing.T) (domain.Service, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.LedgerEntry{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(Params{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Metrics: metrics.New(prometheus.NewRegistry()),
		Entries: repository.ProvideStore[domain.LedgerEntry](db),
	})
	return svc, db
}

func generate(t *testing.T, svc domain.Service, db *gorm.DB, receiptID snowflake.ID, positions map[snowflake.ID]int64) []domain.LedgerEntry {
	t.Helper()

	var entries []domain.LedgerEntry
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		entries, err = svc.GenerateForReceipt(context.Background(), tx, receiptID, positions)
		return err
	})
	require.NoError(t, err)
	return entries
}

func TestGenerateForReceipt(t *testing.T) {
	svc, db := newTestService(t)

	entries := generate(t, svc, db, 500, map[snowflake.ID]int64{
		1: 925,
		2: -925,
	})
	require.Len(t, entries, 1)
	assert.Equal(t, snowflake.ID(1), entries[0].DebtorID)
	assert.Equal(t, snowflake.ID(2), entries[0].CreditorID)
	assert.Equal(t, int64(925), entries[0].AmountCents)
	assert.Equal(t, domain.EntryStatusPending, entries[0].Status)
	assert.Zero(t, entries[0].SettledAmountCents)

	listed, err := svc.ListByReceipt(context.Background(), 500)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, entries[0].ID, listed[0].ID)
}

func TestGenerateForReceipt_BalancedPositionsProduceNothing(t *testing.T) {
	svc, db := newTestService(t)

	entries := generate(t, svc, db, 500, map[snowflake.ID]int64{1: 0, 2: 0})
	assert.Empty(t, entries)
}

func TestGenerateForReceipt_RollsBackWithTransaction(t *testing.T) {
	svc, db := newTestService(t)

	boom := assert.AnError
	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := svc.GenerateForReceipt(context.Background(), tx, 600, map[snowflake.ID]int64{1: 100, 2: -100})
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	listed, err := svc.ListByReceipt(context.Background(), 600)
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestSettle_FullInOneCall(t *testing.T) {
	svc, db := newTestService(t)
	entries := generate(t, svc, db, 500, map[snowflake.ID]int64{1: 1000, 2: -1000})

	entry, err := svc.Settle(context.Background(), domain.SettleRequest{
		EntryID:     entries[0].ID,
		AmountCents: 1000,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.EntryStatusSettled, entry.Status)
	assert.Equal(t, int64(1000), entry.SettledAmountCents)
}

func TestSettle_AccumulatesAcrossCalls(t *testing.T) {
	svc, db := newTestService(t)
	entries := generate(t, svc, db, 500, map[snowflake.ID]int64{1: 1000, 2: -1000})
	id := entries[0].ID

	entry, err := svc.Settle(context.Background(), domain.SettleRequest{EntryID: id, AmountCents: 500})
	require.NoError(t, err)
	assert.Equal(t, domain.EntryStatusPartiallySettled, entry.Status)
	assert.Equal(t, int64(500), entry.SettledAmountCents)

	entry, err = svc.Settle(context.Background(), domain.SettleRequest{EntryID: id, AmountCents: 500})
	require.NoError(t, err)
	assert.Equal(t, domain.EntryStatusSettled, entry.Status)
	assert.Equal(t, int64(1000), entry.SettledAmountCents)

	_, err = svc.Settle(context.Background(), domain.SettleRequest{EntryID: id, AmountCents: 1})
	assert.ErrorIs(t, err, domain.ErrOverpayment)
}

func TestSettle_RejectsNonPositiveAmount(t *testing.T) {
	svc, db := newTestService(t)
	entries := generate(t, svc, db, 500, map[snowflake.ID]int64{1: 100, 2: -100})

	_, err := svc.Settle(context.Background(), domain.SettleRequest{EntryID: entries[0].ID, AmountCents: 0})
	assert.ErrorIs(t, err, domain.ErrAmountNotPositive)

	_, err = svc.Settle(context.Background(), domain.SettleRequest{EntryID: entries[0].ID, AmountCents: -5})
	assert.ErrorIs(t, err, domain.ErrAmountNotPositive)
}

func TestSettle_RejectsOverpayment(t *testing.T) {
	svc, db := newTestService(t)
	entries := generate(t, svc, db, 500, map[snowflake.ID]int64{1: 100, 2: -100})

	_, err := svc.Settle(context.Background(), domain.SettleRequest{EntryID: entries[0].ID, AmountCents: 101})
	assert.ErrorIs(t, err, domain.ErrOverpayment)

	listed, err := svc.ListByReceipt(context.Background(), 500)
	require.NoError(t, err)
	assert.Zero(t, listed[0].SettledAmountCents, "rejected settle must not move the amount")
}

func TestSettle_UnknownEntry(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Settle(context.Background(), domain.SettleRequest{EntryID: 42, AmountCents: 10})
	assert.ErrorIs(t, err, domain.ErrEntryNotFound)
}

func TestDeleteForReceipt(t *testing.T) {
	svc, db := newTestService(t)
	generate(t, svc, db, 500, map[snowflake.ID]int64{1: 300, 2: 200, 3: -500})
	generate(t, svc, db, 501, map[snowflake.ID]int64{1: 100, 2: -100})

	var deleted int64
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		deleted, err = svc.DeleteForReceipt(context.Background(), tx, 500)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	listed, err := svc.ListByReceipt(context.Background(), 500)
	require.NoError(t, err)
	assert.Empty(t, listed)

	other, err := svc.ListByReceipt(context.Background(), 501)
	require.NoError(t, err)
	assert.Len(t, other, 1, "other receipts keep their entries")
}
