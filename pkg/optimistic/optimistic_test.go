package optimistic

import (
	"context"
	"errors"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type versionedRow struct {
	ID      int64  `gorm:"primaryKey"`
	Title   string `gorm:"type:text"`
	Version int64  `gorm:"not null;default:1"`
}

func (versionedRow) TableName() string { return "versioned_rows" }

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&versionedRow{}))
	return db
}

func TestUpdate_AcceptedBumpsVersionByOne(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Create(&versionedRow{ID: 1, Title: "initial", Version: 1}).Error)

	err := Update(ctx, db, "versioned_rows", int64(1), 1, map[string]any{"title": "edited"})
	require.NoError(t, err)

	var row versionedRow
	require.NoError(t, db.First(&row, "id = ?", 1).Error)
	assert.Equal(t, "edited", row.Title)
	assert.Equal(t, int64(2), row.Version)
}

func TestUpdate_StaleVersionConflicts(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Create(&versionedRow{ID: 7, Title: "initial", Version: 1}).Error)

	// First writer wins.
	require.NoError(t, Update(ctx, db, "versioned_rows", int64(7), 1, map[string]any{"title": "first"}))

	// Second writer raced on the same prior version.
	err := Update(ctx, db, "versioned_rows", int64(7), 1, map[string]any{"title": "second"})
	conflict, ok := AsConflict(err)
	require.True(t, ok)
	assert.Equal(t, int64(1), conflict.Expected)
	assert.Equal(t, int64(2), conflict.Actual)

	// The losing write must not have touched the row.
	var row versionedRow
	require.NoError(t, db.First(&row, "id = ?", 7).Error)
	assert.Equal(t, "first", row.Title)
	assert.Equal(t, int64(2), row.Version)
}

func TestUpdate_SequentialEditsIncreaseStrictly(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Create(&versionedRow{ID: 3, Version: 1}).Error)

	for expected := int64(1); expected <= 5; expected++ {
		require.NoError(t, Update(ctx, db, "versioned_rows", int64(3), expected, map[string]any{"title": "edit"}))
	}

	var row versionedRow
	require.NoError(t, db.First(&row, "id = ?", 3).Error)
	assert.Equal(t, int64(6), row.Version)
}

func TestUpdate_ExtraCondHoldsWritesRow(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Create(&versionedRow{ID: 10, Title: "open", Version: 1}).Error)

	err := Update(ctx, db, "versioned_rows", int64(10), 1,
		map[string]any{"title": "edited"},
		Cond{Query: "title = ?", Args: []any{"open"}},
	)
	require.NoError(t, err)

	var row versionedRow
	require.NoError(t, db.First(&row, "id = ?", 10).Error)
	assert.Equal(t, "edited", row.Title)
	assert.Equal(t, int64(2), row.Version)
}

func TestUpdate_ExtraCondFailsWithMatchingVersion(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Create(&versionedRow{ID: 11, Title: "closed", Version: 3}).Error)

	// The version matches but the guard predicate does not, so the failure
	// must be a precondition error rather than a conflict.
	err := Update(ctx, db, "versioned_rows", int64(11), 3,
		map[string]any{"title": "edited"},
		Cond{Query: "title = ?", Args: []any{"open"}},
	)
	require.True(t, errors.Is(err, ErrPreconditionFailed))
	assert.False(t, IsConflict(err))

	var row versionedRow
	require.NoError(t, db.First(&row, "id = ?", 11).Error)
	assert.Equal(t, "closed", row.Title)
	assert.Equal(t, int64(3), row.Version)
}

func TestUpdate_StaleVersionBeatsExtraCond(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Create(&versionedRow{ID: 12, Title: "closed", Version: 4}).Error)

	err := Update(ctx, db, "versioned_rows", int64(12), 3,
		map[string]any{"title": "edited"},
		Cond{Query: "title = ?", Args: []any{"open"}},
	)
	conflict, ok := AsConflict(err)
	require.True(t, ok)
	assert.Equal(t, int64(3), conflict.Expected)
	assert.Equal(t, int64(4), conflict.Actual)
}

func TestUpdate_MissingRowIsNotFound(t *testing.T) {
	db := newTestDB(t)

	err := Update(context.Background(), db, "versioned_rows", int64(99), 1, map[string]any{"title": "x"})
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
	assert.False(t, IsConflict(err))
}

func TestBump_IncrementsWithoutGuard(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Create(&versionedRow{ID: 4, Version: 3}).Error)
	require.NoError(t, Bump(ctx, db, "versioned_rows", int64(4), map[string]any{"title": "bumped"}))

	var row versionedRow
	require.NoError(t, db.First(&row, "id = ?", 4).Error)
	assert.Equal(t, int64(4), row.Version)

	assert.True(t, errors.Is(Bump(ctx, db, "versioned_rows", int64(41), nil), gorm.ErrRecordNotFound))
}
