package ledger

import (
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GroupLedger is the single shared record of a group: who is in it, what was
// bought, who owes whom and which payments settled those debts.
type GroupLedger struct {
	Code            string            `json:"code"`
	Name            string            `json:"name"`
	CreatorID       string            `json:"creator_id"`
	Members         []string          `json:"members"`
	MemberNames     map[string]string `json:"member_names,omitempty"`
	Purchases       []Purchase        `json:"purchases"`
	Balances        Balances          `json:"balances"`
	PaymentHistory  []Payment         `json:"payment_history"`
	PurchaseCounter int               `json:"purchase_counter"`
	Version         int64             `json:"version"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

type Purchase struct {
	ID          int                        `json:"id"`
	Purchaser   string                     `json:"purchaser"`
	Cost        decimal.Decimal            `json:"cost"`
	Description string                     `json:"description"`
	Splits      map[string]decimal.Decimal `json:"splits"`
	CreatedAt   time.Time                  `json:"created_at"`
}

type Payment struct {
	ID        uuid.UUID       `json:"id"`
	Payer     string          `json:"payer"`
	Receiver  string          `json:"receiver"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp time.Time       `json:"timestamp"`
}

var newPaymentID = uuid.New

var (
	ErrEmptyCode           = errors.New("group code can't be empty")
	ErrEmptyName           = errors.New("name can't be empty")
	ErrEmptyMember         = errors.New("member id can't be empty")
	ErrEmptyDescription    = errors.New("description can't be empty")
	ErrGroupNotFound       = errors.New("group not found")
	ErrGroupExists         = errors.New("group already exists")
	ErrPurchaseNotFound    = errors.New("purchase not found")
	ErrNotMember           = errors.New("not a member of the group")
	ErrOverpaymentRejected = errors.New("payment exceeds the amount owed")
	ErrConcurrentUpdate    = errors.New("group was updated concurrently")
	ErrStoreUnavailable    = errors.New("ledger store unavailable")
)

// NewGroupLedger returns an empty ledger whose only member is the creator.
func NewGroupLedger(code, name, creatorID, creatorName string, now time.Time) (*GroupLedger, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrEmptyCode
	}
	if strings.TrimSpace(name) == "" {
		return nil, ErrEmptyName
	}
	if creatorID == "" {
		return nil, ErrEmptyMember
	}

	g := &GroupLedger{
		Code:           code,
		Name:           name,
		CreatorID:      creatorID,
		Members:        []string{},
		MemberNames:    map[string]string{},
		Purchases:      []Purchase{},
		Balances:       Balances{},
		PaymentHistory: []Payment{},
		CreatedAt:      now.UTC(),
		UpdatedAt:      now.UTC(),
	}
	g.addMember(creatorID, creatorName)
	return g, nil
}

func (g *GroupLedger) IsMember(memberID string) bool {
	return slices.Contains(g.Members, memberID)
}

// addMember is a no-op for existing members. A new member starts with an
// empty balances row, which reads as zero against everyone.
func (g *GroupLedger) addMember(memberID, name string) bool {
	if g.IsMember(memberID) {
		return false
	}
	g.Members = append(g.Members, memberID)
	if g.MemberNames == nil {
		g.MemberNames = map[string]string{}
	}
	if name != "" {
		g.MemberNames[memberID] = name
	}
	if g.Balances == nil {
		g.Balances = Balances{}
	}
	if _, ok := g.Balances[memberID]; !ok {
		g.Balances[memberID] = map[string]decimal.Decimal{}
	}
	return true
}

// DisplayName falls back to the member id when no name was recorded.
func (g *GroupLedger) DisplayName(memberID string) string {
	if name, ok := g.MemberNames[memberID]; ok && name != "" {
		return name
	}
	return memberID
}

func (g *GroupLedger) findPurchase(id int) (int, bool) {
	idx := slices.IndexFunc(g.Purchases, func(p Purchase) bool { return p.ID == id })
	return idx, idx >= 0
}

// Clone returns a deep copy so a transaction callback can mutate freely.
func (g *GroupLedger) Clone() *GroupLedger {
	c := *g
	c.Members = slices.Clone(g.Members)
	c.MemberNames = make(map[string]string, len(g.MemberNames))
	for k, v := range g.MemberNames {
		c.MemberNames[k] = v
	}
	c.Purchases = make([]Purchase, len(g.Purchases))
	for i, p := range g.Purchases {
		c.Purchases[i] = p.clone()
	}
	c.Balances = g.Balances.Clone()
	c.PaymentHistory = slices.Clone(g.PaymentHistory)
	return &c
}

func (p Purchase) clone() Purchase {
	splits := make(map[string]decimal.Decimal, len(p.Splits))
	for k, v := range p.Splits {
		splits[k] = v
	}
	p.Splits = splits
	return p
}
