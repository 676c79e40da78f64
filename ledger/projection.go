package ledger

import (
	"cmp"
	"slices"

	"github.com/billbatista/acasinha-ledger/money"
	"github.com/shopspring/decimal"
)

// Debt is one row of a member's "you owe" list. Name is only set when the
// group is known, as in Overview and Service.Debts.
type Debt struct {
	Member string          `json:"member"`
	Name   string          `json:"name,omitempty"`
	Amount decimal.Decimal `json:"amount"`
}

func (d Debt) Display() string {
	return money.Format(d.Amount)
}

// Project lists what viewer owes each other member, largest first. Only
// strictly positive amounts are listed; equal amounts are ordered by member id.
func Project(b Balances, viewer string) []Debt {
	debts := []Debt{}
	for other, amount := range b[viewer] {
		if other == viewer || !amount.IsPositive() {
			continue
		}
		debts = append(debts, Debt{Member: other, Amount: amount})
	}

	slices.SortFunc(debts, func(x, y Debt) int {
		if c := y.Amount.Cmp(x.Amount); c != 0 {
			return c
		}
		return cmp.Compare(x.Member, y.Member)
	})
	return debts
}

type MemberDebts struct {
	Member string `json:"member"`
	Name   string `json:"name"`
	Debts  []Debt `json:"debts"`
}

// Overview projects every member of the group, in membership order.
func Overview(g *GroupLedger) []MemberDebts {
	out := make([]MemberDebts, 0, len(g.Members))
	for _, m := range g.Members {
		out = append(out, MemberDebts{
			Member: m,
			Name:   g.DisplayName(m),
			Debts:  g.named(Project(g.Balances, m)),
		})
	}
	return out
}

func (g *GroupLedger) named(debts []Debt) []Debt {
	for i := range debts {
		debts[i].Name = g.DisplayName(debts[i].Member)
	}
	return debts
}
