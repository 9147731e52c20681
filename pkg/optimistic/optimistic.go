// Package optimistic implements version-counter compare-and-swap updates for
// gorm-backed entities. Every guarded row carries an integer version column
// starting at 1; an accepted update increments it by exactly 1 in the same
// statement that writes the data, so no two writers can both succeed against
// the same prior version.
package optimistic

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ConflictError reports a stale expected version. The caller decides whether
// to refetch and retry or to surface the conflict.
type ConflictError struct {
	Expected int64
	Actual   int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict: expected %d, actual %d", e.Expected, e.Actual)
}

// IsConflict reports whether err is (or wraps) a version conflict.
func IsConflict(err error) bool {
	var conflict *ConflictError
	return errors.As(err, &conflict)
}

// AsConflict unwraps err into a ConflictError, if it is one.
func AsConflict(err error) (*ConflictError, bool) {
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return conflict, true
	}
	return nil, false
}

// ErrPreconditionFailed reports that the stored version matched expected but
// an extra guard predicate did not hold, so the update wrote nothing.
var ErrPreconditionFailed = errors.New("precondition_failed")

// Cond is an extra predicate ANDed into the CAS guard, evaluated in the same
// statement as the version check and the write.
type Cond struct {
	Query string
	Args  []any
}

// Update applies a CAS-guarded update: the row identified by id is written
// only when its stored version equals expected (and every extra cond holds),
// and the version is bumped to expected+1 atomically with the data write.
// When nothing matches, the stored row is re-read to decide the failure:
// a stale version yields a ConflictError carrying both versions, a matching
// version means an extra cond failed and yields ErrPreconditionFailed, and a
// missing row maps to gorm.ErrRecordNotFound.
func Update(ctx context.Context, tx *gorm.DB, table string, id any, expected int64, updates map[string]any, conds ...Cond) error {
	if updates == nil {
		updates = map[string]any{}
	}
	updates["version"] = expected + 1

	stmt := tx.WithContext(ctx).
		Table(table).
		Where("id = ? AND version = ?", id, expected)
	for _, cond := range conds {
		stmt = stmt.Where(cond.Query, cond.Args...)
	}

	result := stmt.Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	actual, err := currentVersion(ctx, tx, table, id)
	if err != nil {
		return err
	}
	if actual == expected {
		return ErrPreconditionFailed
	}
	return &ConflictError{Expected: expected, Actual: actual}
}

// Bump increments the version unconditionally (used by mutations that are not
// guarded by a caller-supplied expected version but must still advance the
// counter). Returns gorm.ErrRecordNotFound when the row is missing.
func Bump(ctx context.Context, tx *gorm.DB, table string, id any, updates map[string]any) error {
	if updates == nil {
		updates = map[string]any{}
	}
	updates["version"] = gorm.Expr("version + 1")

	result := tx.WithContext(ctx).
		Table(table).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func currentVersion(ctx context.Context, tx *gorm.DB, table string, id any) (int64, error) {
	var row struct {
		Version int64
	}
	err := tx.WithContext(ctx).
		Table(table).
		Select("version").
		Where("id = ?", id).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, gorm.ErrRecordNotFound
		}
		return 0, err
	}
	return row.Version, nil
}
