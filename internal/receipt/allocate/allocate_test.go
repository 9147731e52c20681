package allocate

import (
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitEqual_Even(t *testing.T) {
	shares := SplitEqual(1850, []snowflake.ID{10, 20})
	assert.Equal(t, int64(925), shares[10])
	assert.Equal(t, int64(925), shares[20])
}

func TestSplitEqual_LeftoverToSmallestIDs(t *testing.T) {
	shares := SplitEqual(1000, []snowflake.ID{7, 3, 5})
	assert.Equal(t, int64(334), shares[3])
	assert.Equal(t, int64(333), shares[5])
	assert.Equal(t, int64(333), shares[7])

	shares = SplitEqual(1001, []snowflake.ID{7, 3, 5})
	assert.Equal(t, int64(334), shares[3])
	assert.Equal(t, int64(334), shares[5])
	assert.Equal(t, int64(333), shares[7])
}

func TestSplitEqual_DeduplicatesUsers(t *testing.T) {
	shares := SplitEqual(900, []snowflake.ID{4, 4, 8})
	require.Len(t, shares, 2)
	assert.Equal(t, int64(450), shares[4])
	assert.Equal(t, int64(450), shares[8])
}

func TestSplitEqual_SumExactness(t *testing.T) {
	users := []snowflake.ID{11, 22, 33, 44, 55, 66, 77}
	for amount := int64(0); amount < 500; amount++ {
		var sum int64
		for _, share := range SplitEqual(amount, users) {
			sum += share
		}
		require.Equal(t, amount, sum, "amount %d", amount)
	}
}

func TestDistributeProportional_Basic(t *testing.T) {
	shares := DistributeProportional(300, map[snowflake.ID]int64{
		1: 1000,
		2: 2000,
	})
	assert.Equal(t, int64(100), shares[1])
	assert.Equal(t, int64(200), shares[2])
}

func TestDistributeProportional_LargestRemainder(t *testing.T) {
	// 100 over weights 1:1:1 leaves one cent; the largest remainders tie,
	// so the smallest ID takes it.
	shares := DistributeProportional(100, map[snowflake.ID]int64{
		9: 1, 5: 1, 7: 1,
	})
	assert.Equal(t, int64(34), shares[5])
	assert.Equal(t, int64(33), shares[7])
	assert.Equal(t, int64(33), shares[9])
}

func TestDistributeProportional_ZeroWeightsFallsBackToEqual(t *testing.T) {
	shares := DistributeProportional(10, map[snowflake.ID]int64{
		2: 0, 4: 0,
	})
	assert.Equal(t, int64(5), shares[2])
	assert.Equal(t, int64(5), shares[4])
}

func TestDistributeProportional_SumExactness(t *testing.T) {
	weights := map[snowflake.ID]int64{1: 137, 2: 911, 3: 3, 4: 449}
	for total := int64(0); total < 1000; total += 7 {
		var sum int64
		for _, share := range DistributeProportional(total, weights) {
			sum += share
		}
		require.Equal(t, total, sum, "total %d", total)
	}
}

func TestCompute_PizzaForTwo(t *testing.T) {
	b := Compute([]Line{
		{Position: 0, Amount: 1850, Users: []snowflake.ID{100, 200}},
	}, 0)

	require.Empty(t, b.Unassigned)
	assert.Equal(t, int64(925), b.UserTotals[100])
	assert.Equal(t, int64(925), b.UserTotals[200])
}

func TestCompute_TaxAndTipFollowSubtotals(t *testing.T) {
	// User 1 ordered 3000 of 4000 in items, so takes 75% of the 400 extra.
	b := Compute([]Line{
		{Position: 0, Amount: 3000, Users: []snowflake.ID{1}},
		{Position: 1, Amount: 1000, Users: []snowflake.ID{2}},
	}, 400)

	assert.Equal(t, int64(3300), b.UserTotals[1])
	assert.Equal(t, int64(1100), b.UserTotals[2])
}

func TestCompute_ReportsUnassignedPositions(t *testing.T) {
	b := Compute([]Line{
		{Position: 2, Amount: 500},
		{Position: 0, Amount: 700, Users: []snowflake.ID{1}},
		{Position: 1, Amount: 300},
	}, 100)

	assert.Equal(t, []int{1, 2}, b.Unassigned)
	assert.Equal(t, int64(800), b.UserTotals[1])
}

func TestCompute_TotalsAlwaysReconcile(t *testing.T) {
	lines := []Line{
		{Position: 0, Amount: 1999, Users: []snowflake.ID{1, 2, 3}},
		{Position: 1, Amount: 750, Users: []snowflake.ID{2}},
		{Position: 2, Amount: 101, Users: []snowflake.ID{1, 3}},
		{Position: 3, Amount: 5, Users: []snowflake.ID{1, 2, 3}},
	}
	var itemTotal int64
	for _, l := range lines {
		itemTotal += l.Amount
	}

	for extra := int64(0); extra < 300; extra++ {
		b := Compute(lines, extra)
		var sum int64
		for _, total := range b.UserTotals {
			sum += total
		}
		require.Equal(t, itemTotal+extra, sum, "extra %d", extra)
	}
}
