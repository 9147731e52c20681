package domain

import (
	"sort"

	"github.com/bwmarrin/snowflake"
)

// Transfer is one computed payment from debtor to creditor.
type Transfer struct {
	DebtorID    snowflake.ID
	CreditorID  snowflake.ID
	AmountCents int64
}

// NetTransfers turns per-user net positions (allocated share minus amount
// paid; positive means the user owes) into a minimal-ish set of transfers:
// repeatedly match the largest debtor against the largest creditor. The
// result nets to zero per user and contains no self-transfers. Positions
// that do not sum to zero indicate a caller bug; the residue is simply not
// payable and is left unmatched.
func NetTransfers(positions map[snowflake.ID]int64) []Transfer {
	type stake struct {
		userID snowflake.ID
		amount int64
	}

	var debtors, creditors []stake
	for userID, net := range positions {
		switch {
		case net > 0:
			debtors = append(debtors, stake{userID, net})
		case net < 0:
			creditors = append(creditors, stake{userID, -net})
		}
	}

	// Largest amount first, smallest ID breaking ties, so output order is
	// stable across runs.
	byAmount := func(s []stake) func(i, j int) bool {
		return func(i, j int) bool {
			if s[i].amount != s[j].amount {
				return s[i].amount > s[j].amount
			}
			return s[i].userID < s[j].userID
		}
	}
	sort.Slice(debtors, byAmount(debtors))
	sort.Slice(creditors, byAmount(creditors))

	var transfers []Transfer
	i, j := 0, 0
	for i < len(debtors) && j < len(creditors) {
		amount := debtors[i].amount
		if creditors[j].amount < amount {
			amount = creditors[j].amount
		}
		transfers = append(transfers, Transfer{
			DebtorID:    debtors[i].userID,
			CreditorID:  creditors[j].userID,
			AmountCents: amount,
		})
		debtors[i].amount -= amount
		creditors[j].amount -= amount
		if debtors[i].amount == 0 {
			i++
		}
		if creditors[j].amount == 0 {
			j++
		}
	}
	return transfers
}
