// Package allocate turns a receipt's line items into exact per-user amounts.
// All arithmetic is on integer cents; every split and distribution sums back
// to its input exactly, with leftover cents assigned deterministically.
package allocate

import (
	"sort"

	"github.com/bwmarrin/snowflake"
)

// Line is one receipt item with the users it is assigned to.
type Line struct {
	Position int
	Amount   int64
	Users    []snowflake.ID
}

// Breakdown is the result of allocating a receipt.
type Breakdown struct {
	// ItemShares maps item position to each user's share of that item.
	ItemShares map[int]map[snowflake.ID]int64
	// UserTotals is each user's item subtotal plus their portion of the
	// extra amount. The values sum to the item total plus the extra.
	UserTotals map[snowflake.ID]int64
	// Unassigned lists positions of items with no users, ascending.
	Unassigned []int
}

// Compute splits every line equally among its assigned users and then
// distributes extra (tax plus tip) across users in proportion to their item
// subtotals. Items without users are reported in Unassigned and excluded
// from the totals.
func Compute(lines []Line, extra int64) *Breakdown {
	b := &Breakdown{
		ItemShares: make(map[int]map[snowflake.ID]int64, len(lines)),
		UserTotals: make(map[snowflake.ID]int64),
	}

	subtotals := make(map[snowflake.ID]int64)
	for _, line := range lines {
		if len(line.Users) == 0 {
			b.Unassigned = append(b.Unassigned, line.Position)
			continue
		}
		shares := SplitEqual(line.Amount, line.Users)
		b.ItemShares[line.Position] = shares
		for userID, cents := range shares {
			subtotals[userID] += cents
		}
	}
	sort.Ints(b.Unassigned)

	for userID, cents := range subtotals {
		b.UserTotals[userID] = cents
	}
	for userID, cents := range DistributeProportional(extra, subtotals) {
		b.UserTotals[userID] += cents
	}
	return b
}

// SplitEqual divides amount evenly among users. When the amount does not
// divide cleanly, the leftover cents go one each to the numerically smallest
// user IDs, so repeated splits of the same input agree.
func SplitEqual(amount int64, users []snowflake.ID) map[snowflake.ID]int64 {
	ids := dedupSorted(users)
	if len(ids) == 0 {
		return nil
	}

	n := int64(len(ids))
	base := amount / n
	leftover := amount - base*n

	shares := make(map[snowflake.ID]int64, len(ids))
	for i, id := range ids {
		share := base
		if int64(i) < leftover {
			share++
		}
		shares[id] = share
	}
	return shares
}

// DistributeProportional splits total across users in proportion to their
// weights using largest-remainder rounding, so the shares sum to total
// exactly. Zero total yields no shares; a zero weight sum falls back to an
// equal split.
func DistributeProportional(total int64, weights map[snowflake.ID]int64) map[snowflake.ID]int64 {
	if total == 0 || len(weights) == 0 {
		return nil
	}

	ids := make([]snowflake.ID, 0, len(weights))
	var weightSum int64
	for id, w := range weights {
		ids = append(ids, id)
		weightSum += w
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if weightSum == 0 {
		return SplitEqual(total, ids)
	}

	type portion struct {
		id        snowflake.ID
		floor     int64
		remainder int64
	}

	portions := make([]portion, 0, len(ids))
	var assigned int64
	for _, id := range ids {
		scaled := total * weights[id]
		floor := scaled / weightSum
		portions = append(portions, portion{
			id:        id,
			floor:     floor,
			remainder: scaled - floor*weightSum,
		})
		assigned += floor
	}

	// Largest remainders win the leftover cents; ties break toward the
	// smaller user ID because the sort is stable over an ID-ordered slice.
	leftover := total - assigned
	sort.SliceStable(portions, func(i, j int) bool {
		return portions[i].remainder > portions[j].remainder
	})

	shares := make(map[snowflake.ID]int64, len(portions))
	for i, p := range portions {
		share := p.floor
		if int64(i) < leftover {
			share++
		}
		shares[p.id] = share
	}
	return shares
}

func dedupSorted(users []snowflake.ID) []snowflake.ID {
	ids := make([]snowflake.ID, 0, len(users))
	seen := make(map[snowflake.ID]struct{}, len(users))
	for _, id := range users {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
