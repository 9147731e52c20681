// Package option provides composable gorm query modifiers used by the
// repository layer.
package option

import (
	"fmt"

	"github.com/smallbiznis/tably/pkg/db/pagination"
	"gorm.io/gorm"
)

// QueryOption mutates a gorm statement before execution.
type QueryOption interface {
	Apply(*gorm.DB) *gorm.DB
}

type optionFunc func(*gorm.DB) *gorm.DB

func (f optionFunc) Apply(stmt *gorm.DB) *gorm.DB { return f(stmt) }

type Operator string

const (
	EQ  Operator = "="
	GT  Operator = ">"
	GTE Operator = ">="
	LT  Operator = "<"
	LTE Operator = "<="
)

type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

// ApplyOperator adds a single comparison predicate.
func ApplyOperator(c Condition) QueryOption {
	return optionFunc(func(stmt *gorm.DB) *gorm.DB {
		return stmt.Where(fmt.Sprintf("%s %s ?", c.Field, c.Operator), c.Value)
	})
}

// WithScope applies an arbitrary statement modifier, for predicates the
// typed helpers cannot express.
func WithScope(fn func(*gorm.DB) *gorm.DB) QueryOption {
	return optionFunc(fn)
}

// WithOrder appends an ORDER BY clause.
func WithOrder(order string) QueryOption {
	return optionFunc(func(stmt *gorm.DB) *gorm.DB {
		return stmt.Order(order)
	})
}

// WithLimit caps the result set size.
func WithLimit(limit int) QueryOption {
	return optionFunc(func(stmt *gorm.DB) *gorm.DB {
		return stmt.Limit(limit)
	})
}

// ApplyPagination applies a cursor page: rows strictly older than the cursor,
// over-fetched by one so the caller can detect another page.
func ApplyPagination(page pagination.Pagination) QueryOption {
	return optionFunc(func(stmt *gorm.DB) *gorm.DB {
		size := page.PageSize
		if size <= 0 {
			size = 20
		}
		if size > 250 {
			size = 250
		}

		if page.PageToken != "" {
			cursor, err := pagination.DecodeCursor(page.PageToken)
			if err == nil && cursor.CreatedAt != "" {
				stmt = stmt.Where(
					"(created_at < ?) OR (created_at = ? AND id < ?)",
					cursor.CreatedAt, cursor.CreatedAt, cursor.ID,
				)
			}
		}

		return stmt.Limit(size + 1)
	})
}
