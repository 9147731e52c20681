package domain

import (
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusFor(t *testing.T) {
	assert.Equal(t, EntryStatusPending, StatusFor(0, 1000))
	assert.Equal(t, EntryStatusPartiallySettled, StatusFor(1, 1000))
	assert.Equal(t, EntryStatusPartiallySettled, StatusFor(999, 1000))
	assert.Equal(t, EntryStatusSettled, StatusFor(1000, 1000))
}

func TestNetTransfers_SingleDebt(t *testing.T) {
	transfers := NetTransfers(map[snowflake.ID]int64{
		1: 500,
		2: -500,
	})
	require.Len(t, transfers, 1)
	assert.Equal(t, Transfer{DebtorID: 1, CreditorID: 2, AmountCents: 500}, transfers[0])
}

func TestNetTransfers_LargestPairsFirst(t *testing.T) {
	transfers := NetTransfers(map[snowflake.ID]int64{
		1: 700,  // owes most
		2: 300,  // owes less
		3: -600, // paid most
		4: -400,
	})
	require.Len(t, transfers, 3)
	assert.Equal(t, Transfer{DebtorID: 1, CreditorID: 3, AmountCents: 600}, transfers[0])
	assert.Equal(t, Transfer{DebtorID: 1, CreditorID: 4, AmountCents: 100}, transfers[1])
	assert.Equal(t, Transfer{DebtorID: 2, CreditorID: 4, AmountCents: 300}, transfers[2])
}

func TestNetTransfers_SettledUsersProduceNothing(t *testing.T) {
	transfers := NetTransfers(map[snowflake.ID]int64{
		1: 0,
		2: 0,
	})
	assert.Empty(t, transfers)
}

func TestNetTransfers_Invariants(t *testing.T) {
	cases := []map[snowflake.ID]int64{
		{1: 925, 2: -925},
		{1: 1000, 2: 1000, 3: -2000},
		{1: 1, 2: 2, 3: 3, 4: -6},
		{1: 3794, 2: -1897, 3: -1897},
		{10: 33, 11: 33, 12: 34, 20: -100},
	}
	for _, positions := range cases {
		transfers := NetTransfers(positions)

		net := make(map[snowflake.ID]int64)
		for _, tr := range transfers {
			require.NotEqual(t, tr.DebtorID, tr.CreditorID)
			require.Positive(t, tr.AmountCents)
			net[tr.DebtorID] += tr.AmountCents
			net[tr.CreditorID] -= tr.AmountCents
		}
		for userID, want := range positions {
			assert.Equal(t, want, net[userID], "user %d", userID)
		}
	}
}
