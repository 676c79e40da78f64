package ledger

import (
	"fmt"

	"github.com/billbatista/acasinha-ledger/money"
	"github.com/shopspring/decimal"
)

// Balances maps debtor -> creditor -> amount the debtor owes the creditor.
// For every pair b[x][y] == -b[y][x]; a missing entry reads as zero.
type Balances map[string]map[string]decimal.Decimal

func (b Balances) Get(debtor, creditor string) decimal.Decimal {
	return b[debtor][creditor]
}

func (b Balances) Clone() Balances {
	c := make(Balances, len(b))
	for debtor, row := range b {
		r := make(map[string]decimal.Decimal, len(row))
		for creditor, amount := range row {
			r[creditor] = amount
		}
		c[debtor] = r
	}
	return c
}

// Equal compares values, treating missing entries as zero.
func (b Balances) Equal(other Balances) bool {
	return b.covers(other) && other.covers(b)
}

func (b Balances) covers(other Balances) bool {
	for debtor, row := range b {
		for creditor, amount := range row {
			if !amount.Equal(other.Get(debtor, creditor)) {
				return false
			}
		}
	}
	return true
}

// Sum adds every entry; it is zero for any anti-symmetric matrix.
func (b Balances) Sum() decimal.Decimal {
	total := decimal.Zero
	for _, row := range b {
		for _, amount := range row {
			total = total.Add(amount)
		}
	}
	return total
}

// move records that debtor owes creditor delta more, keeping both sides in step.
func (b Balances) move(debtor, creditor string, delta decimal.Decimal) {
	if b[debtor] == nil {
		b[debtor] = map[string]decimal.Decimal{}
	}
	if b[creditor] == nil {
		b[creditor] = map[string]decimal.Decimal{}
	}
	b[debtor][creditor] = b[debtor][creditor].Add(delta)
	b[creditor][debtor] = b[creditor][debtor].Sub(delta)
}

// ApplyPurchase charges every non-purchaser in the split their share of the
// cost, owed to the purchaser.
func ApplyPurchase(b Balances, p Purchase) Balances {
	return shiftPurchase(b, p, false)
}

// ReversePurchase undoes ApplyPurchase for the same purchase exactly.
func ReversePurchase(b Balances, p Purchase) Balances {
	return shiftPurchase(b, p, true)
}

// shiftPurchase trusts p: costs and percentages are checked with
// money.SplitAmount when the purchase is submitted, not here.
func shiftPurchase(b Balances, p Purchase, reverse bool) Balances {
	next := b.Clone()
	for member, pct := range p.Splits {
		if member == p.Purchaser {
			continue
		}
		owed := money.Share(p.Cost, pct)
		if reverse {
			owed = owed.Neg()
		}
		next.move(member, p.Purchaser, owed)
	}
	return next
}

// CheckSettlement rejects payments that are not positive or that exceed what
// payer currently owes receiver.
func CheckSettlement(b Balances, payer, receiver string, amount decimal.Decimal) error {
	owed := b.Get(payer, receiver)
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount %s is not positive", ErrOverpaymentRejected, amount.String())
	}
	if !owed.IsPositive() || amount.GreaterThan(owed) {
		return fmt.Errorf("%w: %s owes %s %s", ErrOverpaymentRejected, payer, receiver, money.Format(decimal.Max(owed, decimal.Zero)))
	}
	return nil
}

// ApplySettlement trusts its caller to have run CheckSettlement.
func ApplySettlement(b Balances, payer, receiver string, amount decimal.Decimal) Balances {
	next := b.Clone()
	next.move(payer, receiver, amount.Neg())
	return next
}

// NetZeroCleanup drops a settled pair from the matrix. Reads are unchanged
// because a missing entry is zero.
func NetZeroCleanup(b Balances, x, y string) Balances {
	if !b.Get(x, y).IsZero() || !b.Get(y, x).IsZero() {
		return b
	}
	next := b.Clone()
	if row, ok := next[x]; ok {
		delete(row, y)
	}
	if row, ok := next[y]; ok {
		delete(row, x)
	}
	return next
}

// Recompute derives the matrix from the purchase list and payment history,
// which are the authoritative record.
func Recompute(members []string, purchases []Purchase, payments []Payment) Balances {
	b := Balances{}
	for _, m := range members {
		b[m] = map[string]decimal.Decimal{}
	}
	for _, p := range purchases {
		b = ApplyPurchase(b, p)
	}
	for _, pay := range payments {
		b = ApplySettlement(b, pay.Payer, pay.Receiver, pay.Amount)
		b = NetZeroCleanup(b, pay.Payer, pay.Receiver)
	}
	return b
}
