package ledger

// Balance is the position of one viewpoint user across the bills of a trip.
type Balance struct {
	UserID string

	// OwesOthers is the sum of every edge where the user is the debtor.
	OwesOthers float64

	// OthersOweMe is the sum of every edge where the user is the creditor.
	OthersOweMe float64
}

// Net is positive when the user is owed money overall.
func (b Balance) Net() float64 {
	return b.OthersOweMe - b.OwesOthers
}

// Aggregate sums the direct debt edges of all summaries for userID.
// Summaries are keyed creditor first, so summary[P][D] is what D owes the
// payer P: userID owes others along summary[*][userID] and is owed along
// summary[userID][*].
//
// Only direct edges are summed: if A owes B and B owes A on different bills
// both amounts are kept, nothing is netted or simplified. Self edges (the
// payer's own share of a bill they paid) count on neither side.
func Aggregate(userID string, summaries []Summary) Balance {
	bal := Balance{UserID: userID}
	for _, s := range summaries {
		for creditor, edges := range s {
			for debtor, amount := range edges {
				if debtor == creditor {
					continue
				}
				if debtor == userID {
					bal.OwesOthers += amount
				}
				if creditor == userID {
					bal.OthersOweMe += amount
				}
			}
		}
	}
	return bal
}
